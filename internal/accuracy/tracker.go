// Package accuracy scores past forecasts against later observations and keeps
// the per-location calibration the ensemble applies to new forecasts.
package accuracy

import (
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/metrics"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/ring"
	"github.com/lox/dustwatch/internal/stats"
)

const (
	TargetAccuracy    = 97.0
	MinAccuracy       = 90.0
	RetrainThreshold  = 85.0
	EstimatedAccuracy = 92.5

	DefaultMatchWindow = 30 * time.Minute

	bufferCapacity  = 2000
	historyCapacity = 200
	overallWindow   = 48

	minFactor = 0.7
	maxFactor = 1.3
)

type ValidationReport struct {
	LocationID             string
	Matches                int
	Accuracy               float64
	MAE                    float64
	RMSE                   float64
	MAPE                   float64
	HighConfidenceAccuracy float64
	HorizonAccuracy        map[int]float64
	ModelMAE               map[string]float64
	Bias                   float64
	NeedsRetraining        bool
	MeetsTarget            bool
	CalibrationFactor      float64
	BiasCorrection         float64
	Timestamp              time.Time
	// Matched are the predictions scored by this pass. They have left the
	// buffer and will not be scored again.
	Matched []models.PredictionRecord
}

// Calibration is the correction applied to a location's raw forecast.
type Calibration struct {
	Factor float64
	Bias   float64
}

type locationState struct {
	mu            sync.Mutex
	predictions   *ring.Buffer[models.PredictionRecord]
	history       *ring.Buffer[float64]
	calibration   Calibration
	lastValidated time.Time
}

type Tracker struct {
	logger      *zap.Logger
	matchWindow time.Duration
	now         func() time.Time

	mu          sync.RWMutex
	locations   map[string]*locationState
	validations int
}

func NewTracker(logger *zap.Logger, matchWindow time.Duration) *Tracker {
	if matchWindow <= 0 {
		matchWindow = DefaultMatchWindow
	}
	return &Tracker{
		logger:      logger.Named("accuracy"),
		matchWindow: matchWindow,
		now:         time.Now,
		locations:   make(map[string]*locationState),
	}
}

func (t *Tracker) state(locationID string) *locationState {
	t.mu.RLock()
	st, ok := t.locations[locationID]
	t.mu.RUnlock()
	if ok {
		return st
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if st, ok := t.locations[locationID]; ok {
		return st
	}
	st = &locationState{
		predictions: ring.New[models.PredictionRecord](bufferCapacity),
		history:     ring.New[float64](historyCapacity),
		calibration: Calibration{Factor: 1},
	}
	t.locations[locationID] = st
	return st
}

func (t *Tracker) lookup(locationID string) (*locationState, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	st, ok := t.locations[locationID]
	return st, ok
}

// Record buffers a prediction until an observation near its target time
// arrives. The oldest predictions are evicted once the buffer is full.
func (t *Tracker) Record(p models.PredictionRecord) {
	st := t.state(p.LocationID)
	st.mu.Lock()
	st.predictions.Push(p)
	st.mu.Unlock()
}

// Pending returns the number of buffered predictions for a location.
func (t *Tracker) Pending(locationID string) int {
	st, ok := t.lookup(locationID)
	if !ok {
		return 0
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.predictions.Len()
}

// Apply corrects a raw forecast value with the location's calibration.
func (t *Tracker) Apply(locationID string, v float64) float64 {
	c := t.Calibration(locationID)
	return math.Max(0, v*c.Factor-0.5*c.Bias)
}

func (t *Tracker) Calibration(locationID string) Calibration {
	st, ok := t.lookup(locationID)
	if !ok {
		return Calibration{Factor: 1}
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.calibration
}

// Calibrations returns the calibration of every tracked location.
func (t *Tracker) Calibrations() map[string]Calibration {
	t.mu.RLock()
	ids := make([]string, 0, len(t.locations))
	for id := range t.locations {
		ids = append(ids, id)
	}
	t.mu.RUnlock()

	out := make(map[string]Calibration, len(ids))
	for _, id := range ids {
		out[id] = t.Calibration(id)
	}
	return out
}

// Restore seeds a location's calibration, typically from storage at startup.
func (t *Tracker) Restore(locationID string, factor, bias float64) {
	if math.IsNaN(factor) || math.IsNaN(bias) {
		return
	}
	st := t.state(locationID)
	st.mu.Lock()
	st.calibration = Calibration{Factor: stats.Clamp(factor, minFactor, maxFactor), Bias: bias}
	st.mu.Unlock()
	metrics.CalibrationFactor.WithLabelValues(locationID).Set(st.calibration.Factor)
}

type match struct {
	predicted  float64
	observed   float64
	confidence float64
	horizon    int
	breakdown  map[string]float64
}

// Validate matches buffered predictions against observed readings and updates
// the location's calibration. A prediction matches the first reading carrying
// dust whose timestamp is strictly within the match window of its target.
// Matched predictions leave the buffer. It reports false when nothing
// matched.
func (t *Tracker) Validate(locationID string, readings []models.Reading) (*ValidationReport, bool) {
	st, ok := t.lookup(locationID)
	if !ok {
		return nil, false
	}

	var observed []models.Reading
	for _, r := range readings {
		if r.Dust.Valid && !math.IsNaN(r.Dust.Float64) && !math.IsInf(r.Dust.Float64, 0) {
			observed = append(observed, r)
		}
	}
	if len(observed) == 0 {
		return nil, false
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	var matches []match
	var matched []models.PredictionRecord
	st.predictions.Retain(func(p models.PredictionRecord) bool {
		for _, r := range observed {
			if absDuration(p.TargetTime.Sub(r.Timestamp)) < t.matchWindow {
				matches = append(matches, match{
					predicted:  p.Value,
					observed:   r.Dust.Float64,
					confidence: p.Confidence,
					horizon:    p.HorizonHour,
					breakdown:  p.Breakdown,
				})
				matched = append(matched, p)
				return false
			}
		}
		return true
	})
	if len(matches) == 0 {
		return nil, false
	}

	report := score(matches)
	report.LocationID = locationID
	report.Timestamp = t.now()
	report.Matched = matched

	var predictedSum, observedSum float64
	for _, m := range matches {
		predictedSum += m.predicted
		observedSum += m.observed
	}
	c := st.calibration
	if predictedSum > 0 {
		ratio := stats.Clamp(observedSum/predictedSum, minFactor, maxFactor)
		c.Factor = 0.8*c.Factor + 0.2*ratio
	}
	c.Bias = 0.7*c.Bias + 0.3*report.Bias
	st.calibration = c
	st.history.Push(report.Accuracy)
	st.lastValidated = report.Timestamp

	report.CalibrationFactor = c.Factor
	report.BiasCorrection = c.Bias
	report.NeedsRetraining = report.Accuracy < RetrainThreshold
	report.MeetsTarget = report.Accuracy >= TargetAccuracy

	t.mu.Lock()
	t.validations += len(matches)
	t.mu.Unlock()

	metrics.ValidationAccuracy.WithLabelValues(locationID).Set(report.Accuracy)
	metrics.CalibrationFactor.WithLabelValues(locationID).Set(c.Factor)
	t.logger.Info("validated predictions",
		zap.String("location", locationID),
		zap.Int("matches", report.Matches),
		zap.Float64("accuracy", report.Accuracy),
		zap.Float64("mae", report.MAE),
		zap.Float64("calibration_factor", c.Factor),
		zap.Float64("bias_correction", c.Bias))

	return report, true
}

func accuracyFromMAPE(mape float64) float64 {
	return stats.Clamp(100-0.8*mape, 0, 100)
}

func score(matches []match) *ValidationReport {
	n := float64(len(matches))
	var absSum, sqSum, pctSum, biasSum float64
	var highConf []float64
	horizons := make(map[int][]float64)
	modelErrs := make(map[string][]float64)

	for _, m := range matches {
		diff := m.predicted - m.observed
		abs := math.Abs(diff)
		pct := abs / math.Max(m.observed, 1) * 100

		absSum += abs
		sqSum += abs * abs
		pctSum += pct
		biasSum += diff
		if m.confidence >= 80 {
			highConf = append(highConf, pct)
		}
		horizons[m.horizon] = append(horizons[m.horizon], pct)
		for model, v := range m.breakdown {
			modelErrs[model] = append(modelErrs[model], math.Abs(v-m.observed))
		}
	}

	mape := pctSum / n
	r := &ValidationReport{
		Matches:         len(matches),
		MAE:             absSum / n,
		RMSE:            math.Sqrt(sqSum / n),
		MAPE:            mape,
		Accuracy:        accuracyFromMAPE(mape),
		Bias:            biasSum / n,
		HorizonAccuracy: make(map[int]float64, len(horizons)),
		ModelMAE:        make(map[string]float64, len(modelErrs)),
	}
	r.HighConfidenceAccuracy = r.Accuracy
	if len(highConf) > 0 {
		r.HighConfidenceAccuracy = accuracyFromMAPE(stats.Mean(highConf))
	}
	for h, pcts := range horizons {
		r.HorizonAccuracy[h] = accuracyFromMAPE(stats.Mean(pcts))
	}
	for model, errs := range modelErrs {
		r.ModelMAE[model] = stats.Mean(errs)
	}
	return r
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
