// Package forecast projects a fused reading forward with a seven-model
// ensemble. Near-term output is smoothed with a per-location Kalman filter
// and corrected by the accuracy calibration before it is published.
package forecast

import (
	"database/sql"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/metrics"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/ring"
	"github.com/lox/dustwatch/internal/stats"
)

const (
	ModelVersion = "dustwatch-ensemble-7"

	DefaultMaxHorizon = 72
	MaxHorizonLimit   = 120

	historyCapacity    = 4032
	learnEvery         = 100
	minLearnSamples    = 200
	minCorrelationObs  = 50
	defaultWindCorr    = 0.3
	kalmanHorizon      = 24
	weightLearningRate = 0.05
)

// Recorder receives every hourly prediction for later validation.
type Recorder interface {
	Record(p models.PredictionRecord)
}

// Calibrator corrects a raw ensemble value for a location.
type Calibrator interface {
	Apply(locationID string, v float64) float64
}

// Snapshot is the fused state a forecast starts from.
type Snapshot struct {
	Reading      models.Reading
	SourcesUsed  int
	QualityScore float64
}

type Config struct {
	MaxHorizon int
	// Location is the zone used for diurnal and weekly factors.
	Location *time.Location
	// Locations restricts forecasts to known ids when non-empty.
	Locations  []models.Location
	Recorder   Recorder
	Calibrator Calibrator
}

type observation struct {
	at   time.Time
	dust sql.NullFloat64
	wind sql.NullFloat64
}

type locationState struct {
	mu       sync.Mutex
	history  *ring.Buffer[observation]
	appended int
	learned  *learnedPatterns
	kalman   *kalman
}

type Ensemble struct {
	logger     *zap.Logger
	loc        *time.Location
	maxHorizon int
	known      map[string]bool
	recorder   Recorder
	calibrator Calibrator
	now        func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	weightsMu sync.RWMutex
	weights   Weights

	mu        sync.RWMutex
	locations map[string]*locationState
}

func NewEnsemble(logger *zap.Logger, cfg Config) *Ensemble {
	if cfg.MaxHorizon <= 0 {
		cfg.MaxHorizon = DefaultMaxHorizon
	}
	if cfg.MaxHorizon > MaxHorizonLimit {
		cfg.MaxHorizon = MaxHorizonLimit
	}
	if cfg.Location == nil {
		cfg.Location = time.UTC
	}

	var known map[string]bool
	if len(cfg.Locations) > 0 {
		known = make(map[string]bool, len(cfg.Locations))
		for _, l := range cfg.Locations {
			known[l.ID] = true
		}
	}

	e := &Ensemble{
		logger:     logger.Named("forecast"),
		loc:        cfg.Location,
		maxHorizon: cfg.MaxHorizon,
		known:      known,
		recorder:   cfg.Recorder,
		calibrator: cfg.Calibrator,
		now:        time.Now,
		rand:       rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x656e73)),
		weights:    DefaultWeights(),
		locations:  make(map[string]*locationState),
	}
	e.publishWeights(e.weights)
	return e
}

func (e *Ensemble) MaxHorizon() int { return e.maxHorizon }

func (e *Ensemble) state(locationID string) *locationState {
	e.mu.RLock()
	st, ok := e.locations[locationID]
	e.mu.RUnlock()
	if ok {
		return st
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if st, ok := e.locations[locationID]; ok {
		return st
	}
	st = &locationState{
		history: ring.New[observation](historyCapacity),
		kalman:  newKalman(),
	}
	e.locations[locationID] = st
	return st
}

func (e *Ensemble) checkLocation(locationID string) error {
	if locationID == "" || (e.known != nil && !e.known[locationID]) {
		return fmt.Errorf("forecast %q: %w", locationID, models.ErrUnknownLocation)
	}
	return nil
}

// Observe appends a fused reading to the location's history. Learned
// patterns are refreshed every 100 observations once enough history exists.
func (e *Ensemble) Observe(locationID string, r models.Reading) {
	st := e.state(locationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	st.history.Push(observation{at: r.Timestamp, dust: r.Dust, wind: r.WindSpeed})
	st.appended++
	if st.appended%learnEvery == 0 && st.history.Len() >= minLearnSamples {
		st.learned = e.learn(st.history.Items())
		e.logger.Debug("updated learned patterns",
			zap.String("location", locationID),
			zap.Int("hours", len(st.learned.hourly)),
			zap.Float64("wind_correlation", st.learned.windCorrelation))
	}
}

func (e *Ensemble) learn(history []observation) *learnedPatterns {
	byHour := make(map[int][]float64)
	var dust, pairedDust, pairedWind []float64
	for _, o := range history {
		if !o.dust.Valid || o.dust.Float64 == 0 {
			continue
		}
		dust = append(dust, o.dust.Float64)
		if !o.at.IsZero() {
			h := o.at.In(e.loc).Hour()
			byHour[h] = append(byHour[h], o.dust.Float64)
		}
		if o.wind.Valid {
			pairedDust = append(pairedDust, o.dust.Float64)
			pairedWind = append(pairedWind, o.wind.Float64)
		}
	}

	lp := &learnedPatterns{
		hourly:          make(map[int]float64, len(byHour)),
		windCorrelation: defaultWindCorr,
		baseline:        baselineDust,
	}
	for h, vs := range byHour {
		lp.hourly[h] = stats.Mean(vs)
	}
	if len(pairedDust) > minCorrelationObs {
		lp.windCorrelation = stats.Pearson(pairedDust, pairedWind)
	}
	if len(dust) > 0 {
		lp.baseline = stats.Mean(dust)
	}
	return lp
}

func recentDust(history *ring.Buffer[observation]) []float64 {
	if history.Len() < 24 {
		return nil
	}
	var out []float64
	for _, o := range history.Last(24) {
		if o.dust.Valid && o.dust.Float64 != 0 {
			out = append(out, o.dust.Float64)
		}
	}
	return out
}

func (e *Ensemble) normal() float64 {
	e.randMu.Lock()
	defer e.randMu.Unlock()
	return e.rand.NormFloat64()
}

// Forecast produces an hourly forecast for the location starting now. hours
// is clamped to [1, MaxHorizon]. Every hourly value is handed to the
// recorder.
func (e *Ensemble) Forecast(locationID string, snap Snapshot, hours int) (*models.Forecast, error) {
	if err := e.checkLocation(locationID); err != nil {
		return nil, err
	}
	hours = min(max(hours, 1), e.maxHorizon)
	weights := e.Weights()

	st := e.state(locationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	now := e.now().In(e.loc)
	r := &run{
		now:     now,
		hours:   hours,
		cur:     conditionsFrom(snap.Reading),
		recent:  recentDust(st.history),
		learned: st.learned,
		normal:  e.normal,
	}
	preds := r.predictAll()

	priorAccuracy := 0.90
	if st.learned != nil {
		priorAccuracy = 0.92
	}

	fc := &models.Forecast{
		LocationID:   locationID,
		GeneratedAt:  now,
		ModelVersion: ModelVersion,
		Hourly:       make([]models.HourlyPrediction, hours),
		ModelWeights: weights.Map(),
		QualityScore: snap.QualityScore,
		SourcesUsed:  snap.SourcesUsed,
	}

	raw := make([]float64, NumModels)
	for i := 0; i < hours; i++ {
		breakdown := make(map[string]float64, NumModels)
		var combined float64
		for _, m := range Models {
			v := preds[m][i]
			raw[m] = v
			breakdown[m.String()] = v
			combined += v * weights[m]
		}
		if i < kalmanHorizon {
			combined = st.kalman.update(combined)
		}
		if e.calibrator != nil {
			combined = e.calibrator.Apply(locationID, combined)
		}

		mean, std := stats.MeanStd(raw)
		spread := (1.96 + 0.02*float64(i)) * std
		value := math.Max(0, combined)

		fc.Hourly[i] = models.HourlyPrediction{
			HourOffset:     i,
			Time:           r.at(i),
			Value:          value,
			Confidence:     hourConfidence(mean, std, i, snap.QualityScore, priorAccuracy),
			IntervalLower:  math.Max(0, combined-spread),
			IntervalUpper:  combined + spread,
			RiskLevel:      models.ClassifyRisk(value),
			Breakdown:      breakdown,
			ModelAgreement: 100 - 100*std/(mean+1),
		}
	}

	fc.RiskPeriods = riskPeriods(fc.Hourly)
	fc.Summary = summarize(fc.Hourly)

	if e.recorder != nil {
		for _, h := range fc.Hourly {
			e.recorder.Record(models.PredictionRecord{
				LocationID:  locationID,
				TargetTime:  h.Time,
				Value:       h.Value,
				Confidence:  h.Confidence,
				CreatedAt:   now,
				HorizonHour: h.HourOffset,
				Breakdown:   h.Breakdown,
			})
		}
		metrics.PredictionsRecorded.WithLabelValues(locationID).Add(float64(hours))
	}

	return fc, nil
}

// hourConfidence blends model agreement, horizon decay, input quality and a
// location prior into a 50-98 score.
func hourConfidence(mean, std float64, hour int, quality, prior float64) float64 {
	agreement := math.Max(0.65, 1-0.3*std/(mean+1))
	decay := math.Max(0.5, math.Exp(-float64(hour)*0.008))
	q := math.Max(0.75, quality/100)
	const base = 0.92
	c := 100 * (0.35*base + 0.25*agreement + 0.20*decay + 0.10*q + 0.10*prior)
	return stats.Clamp(c, 50, 98)
}

func (e *Ensemble) Weights() Weights {
	e.weightsMu.RLock()
	defer e.weightsMu.RUnlock()
	return e.weights
}

// UpdateWeights nudges the model weights toward the inverse of each model's
// recent error.
func (e *Ensemble) UpdateWeights(errs map[Model]float64) Weights {
	if len(errs) == 0 {
		return e.Weights()
	}
	e.weightsMu.Lock()
	e.weights = blend(e.weights, errs, weightLearningRate)
	w := e.weights
	e.weightsMu.Unlock()

	e.publishWeights(w)
	e.logger.Info("updated model weights", zap.Any("weights", w.Map()))
	return w
}

// SetWeight overrides one model's weight and renormalises.
func (e *Ensemble) SetWeight(m Model, w float64) error {
	if m < 0 || int(m) >= NumModels {
		return fmt.Errorf("set weight: unknown model %d", int(m))
	}
	if w < 0 || math.IsNaN(w) || math.IsInf(w, 0) {
		return fmt.Errorf("set weight %s: invalid weight %v", m, w)
	}

	e.weightsMu.Lock()
	next := e.weights
	next[m] = w
	if next.Sum() <= 0 {
		e.weightsMu.Unlock()
		return fmt.Errorf("set weight %s: weights would sum to zero", m)
	}
	e.weights = next.Normalized()
	out := e.weights
	e.weightsMu.Unlock()

	e.publishWeights(out)
	return nil
}

func (e *Ensemble) publishWeights(w Weights) {
	for _, m := range Models {
		metrics.ModelWeight.WithLabelValues(m.String()).Set(w[m])
	}
}

// HasLearnedPatterns reports whether the location has enough history for the
// learned pattern model.
func (e *Ensemble) HasLearnedPatterns(locationID string) bool {
	e.mu.RLock()
	st, ok := e.locations[locationID]
	e.mu.RUnlock()
	if !ok {
		return false
	}
	st.mu.Lock()
	defer st.mu.Unlock()
	return st.learned != nil
}
