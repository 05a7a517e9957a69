// Package quality scores readings before they are fused and forecast from.
//
// A score is built from per-field range checks, cross-field consistency,
// short-term temporal plausibility and per-location statistical baselines.
// Problems degrade the score and are reported as issues or warnings; they
// never block a reading from being used.
package quality

import (
	"fmt"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/ring"
	"github.com/lox/dustwatch/internal/stats"
)

type Level string

const (
	LevelExcellent  Level = "EXCELLENT"
	LevelGood       Level = "GOOD"
	LevelAcceptable Level = "ACCEPTABLE"
	LevelFair       Level = "FAIR"
	LevelPoor       Level = "POOR"
)

func levelFor(score float64) Level {
	switch {
	case score >= 95:
		return LevelExcellent
	case score >= 85:
		return LevelGood
	case score >= 70:
		return LevelAcceptable
	case score >= 50:
		return LevelFair
	default:
		return LevelPoor
	}
}

const (
	recentCapacity = 50
	scoreCapacity  = 100

	minBaselineSamples = 48
	minFieldSamples    = 24

	scoreInRange         = 1.0
	scoreUnusual         = 0.85
	scoreOutOfRange      = 0.3
	scoreInvalidType     = 0.0
	scoreInconsistent    = 0.7
	scoreTemporalWarning = 0.8
	scoreAnomaly         = 0.85

	issuePenaltyThreshold = 3
	issuePenalty          = 0.8
)

type Report struct {
	QualityScore float64
	QualityLevel Level
	Issues       []string
	Warnings     []string
	IsValid      bool
	IsReliable   bool
	Timestamp    time.Time
}

// FieldStats is the trimmed mean and standard deviation of one field.
type FieldStats struct {
	Mean float64
	Std  float64
}

type Baseline map[models.Field]FieldStats

type recentReading struct {
	at          time.Time
	dust        float64
	hasDust     bool
	temperature float64
}

type locationState struct {
	mu       sync.Mutex
	recent   *ring.Buffer[recentReading]
	scores   *ring.Buffer[float64]
	baseline Baseline
}

type Checker struct {
	logger *zap.Logger
	now    func() time.Time

	mu        sync.RWMutex
	locations map[string]*locationState
}

func NewChecker(logger *zap.Logger) *Checker {
	return &Checker{
		logger:    logger.Named("quality"),
		now:       time.Now,
		locations: make(map[string]*locationState),
	}
}

func (c *Checker) state(locationID string) *locationState {
	c.mu.RLock()
	st, ok := c.locations[locationID]
	c.mu.RUnlock()
	if ok {
		return st
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if st, ok := c.locations[locationID]; ok {
		return st
	}
	st = &locationState{
		recent: ring.New[recentReading](recentCapacity),
		scores: ring.New[float64](scoreCapacity),
	}
	c.locations[locationID] = st
	return st
}

// Validate scores a reading for a location and records it for later temporal
// checks.
func (c *Checker) Validate(locationID string, r models.Reading) Report {
	st := c.state(locationID)
	st.mu.Lock()
	defer st.mu.Unlock()

	var (
		issues   []string
		warnings []string
		scores   []float64
	)

	rangeScores, rangeIssues, rangeWarnings := checkRanges(r)
	scores = append(scores, rangeScores...)
	issues = append(issues, rangeIssues...)
	warnings = append(warnings, rangeWarnings...)

	if inconsistencies := checkConsistency(r); len(inconsistencies) > 0 {
		issues = append(issues, inconsistencies...)
		scores = append(scores, scoreInconsistent)
	}

	if temporal := checkTemporal(st.recent, r); len(temporal) > 0 {
		warnings = append(warnings, temporal...)
		scores = append(scores, scoreTemporalWarning)
	}

	if anomalies := detectAnomalies(st.baseline, r); len(anomalies) > 0 {
		warnings = append(warnings, anomalies...)
		scores = append(scores, scoreAnomaly)
	}

	score := 50.0
	if len(scores) > 0 {
		score = stats.Mean(scores) * 100
	}
	if len(issues) > issuePenaltyThreshold {
		score *= issuePenalty
	}

	now := c.now()
	st.scores.Push(score)
	st.recent.Push(recentReading{
		at:          now,
		dust:        r.Dust.Float64,
		hasDust:     r.Dust.Valid && isFinite(r.Dust.Float64),
		temperature: r.Temperature.Float64,
	})

	return Report{
		QualityScore: math.Round(score*10) / 10,
		QualityLevel: levelFor(score),
		Issues:       issues,
		Warnings:     warnings,
		IsValid:      score >= 50,
		IsReliable:   score >= 70,
		Timestamp:    now,
	}
}

type valueRange struct {
	min, max float64
}

func (vr valueRange) contains(v float64) bool {
	return v >= vr.min && v <= vr.max
}

var rangeChecks = []struct {
	field    models.Field
	valid    valueRange
	expected *valueRange
}{
	{models.FieldDust, valueRange{0, 2500}, &valueRange{5, 200}},
	{models.FieldPM10, valueRange{0, 3500}, &valueRange{10, 300}},
	{models.FieldPM25, valueRange{0, 1200}, &valueRange{5, 150}},
	{models.FieldTemperature, valueRange{-2, 55}, &valueRange{15, 50}},
	{models.FieldHumidity, valueRange{0, 100}, &valueRange{10, 90}},
	{models.FieldWindSpeed, valueRange{0, 120}, &valueRange{0, 50}},
	{models.FieldWindDirection, valueRange{0, 360}, nil},
	{models.FieldVisibility, valueRange{0, 100000}, &valueRange{1000, 50000}},
	{models.FieldAQI, valueRange{0, 500}, nil},
	{models.FieldPressure, valueRange{950, 1050}, nil},
}

func checkRanges(r models.Reading) (scores []float64, issues, warnings []string) {
	for _, rc := range rangeChecks {
		v := r.Get(rc.field)
		if !v.Valid {
			continue
		}
		switch {
		case !isFinite(v.Float64):
			issues = append(issues, fmt.Sprintf("%s: invalid value (%v)", rc.field, v.Float64))
			scores = append(scores, scoreInvalidType)
		case !rc.valid.contains(v.Float64):
			issues = append(issues, fmt.Sprintf("%s: out of valid range (%g)", rc.field, v.Float64))
			scores = append(scores, scoreOutOfRange)
		case rc.expected != nil && !rc.expected.contains(v.Float64):
			warnings = append(warnings, fmt.Sprintf("%s: unusual but valid (%g)", rc.field, v.Float64))
			scores = append(scores, scoreUnusual)
		default:
			scores = append(scores, scoreInRange)
		}
	}
	return scores, issues, warnings
}

func checkConsistency(r models.Reading) []string {
	var issues []string

	dust := models.ValueOr(r.Dust, 0)
	visibility := models.ValueOr(r.Visibility, 10000)
	if dust > 100 && visibility > 20000 {
		issues = append(issues, "inconsistent: high dust with high visibility")
	}

	humidity := models.ValueOr(r.Humidity, 50)
	if humidity > 90 && dust > 150 {
		issues = append(issues, "inconsistent: very high humidity with very high dust")
	}

	pm25 := models.ValueOr(r.PM25, 0)
	pm10 := models.ValueOr(r.PM10, 0)
	if pm10 > 0 && pm25 > pm10*1.2 {
		issues = append(issues, "inconsistent: pm2_5 higher than pm10")
	}

	return issues
}

func checkTemporal(recent *ring.Buffer[recentReading], r models.Reading) []string {
	if recent.Len() < 3 || !r.Dust.Valid {
		return nil
	}

	var dust []float64
	for _, rr := range recent.Last(5) {
		if rr.hasDust {
			dust = append(dust, rr.dust)
		}
	}
	if len(dust) == 0 {
		return nil
	}

	avg := stats.Mean(dust)
	current := r.Dust.Float64
	if current > avg*3 || (avg > 10 && current < avg*0.2) {
		return []string{fmt.Sprintf("rapid dust change: %.1f -> %.1f", avg, current)}
	}
	return nil
}

var anomalyFields = []models.Field{
	models.FieldDust, models.FieldPM10, models.FieldTemperature, models.FieldHumidity,
}

func detectAnomalies(baseline Baseline, r models.Reading) []string {
	if baseline == nil {
		return nil
	}

	var anomalies []string
	for _, f := range anomalyFields {
		v := r.Get(f)
		fs, ok := baseline[f]
		if !v.Valid || !ok || !isFinite(v.Float64) {
			continue
		}
		z := math.Abs(v.Float64-fs.Mean) / math.Max(fs.Std, 1)
		switch {
		case z > 3.5:
			anomalies = append(anomalies, fmt.Sprintf("%s: statistical anomaly (z=%.1f)", f, z))
		case z > 2.5:
			anomalies = append(anomalies, fmt.Sprintf("%s: unusual value (z=%.1f)", f, z))
		}
	}
	return anomalies
}

var baselineFields = []models.Field{
	models.FieldDust, models.FieldPM10, models.FieldPM25,
	models.FieldTemperature, models.FieldHumidity, models.FieldWindSpeed,
}

// UpdateBaselines recomputes the anomaly baseline for a location from
// historical readings. It reports false when there are too few samples.
func (c *Checker) UpdateBaselines(locationID string, readings []models.Reading) bool {
	if len(readings) < minBaselineSamples {
		return false
	}

	baseline := make(Baseline)
	for _, f := range baselineFields {
		var values []float64
		for _, r := range readings {
			if v := r.Get(f); v.Valid && isFinite(v.Float64) {
				values = append(values, v.Float64)
			}
		}
		if len(values) < minFieldSamples {
			continue
		}
		mean, std := stats.TrimmedMeanStd(values)
		baseline[f] = FieldStats{Mean: mean, Std: std}
	}

	st := c.state(locationID)
	st.mu.Lock()
	st.baseline = baseline
	st.mu.Unlock()

	c.logger.Info("updated baselines", zap.String("location", locationID), zap.Int("fields", len(baseline)))
	return true
}

// Baseline returns a copy of the location's baseline, or nil if none exists.
func (c *Checker) Baseline(locationID string) Baseline {
	c.mu.RLock()
	st, ok := c.locations[locationID]
	c.mu.RUnlock()
	if !ok {
		return nil
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if st.baseline == nil {
		return nil
	}
	out := make(Baseline, len(st.baseline))
	for k, v := range st.baseline {
		out[k] = v
	}
	return out
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
