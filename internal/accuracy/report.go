package accuracy

import (
	"sort"
	"time"

	"github.com/lox/dustwatch/internal/stats"
)

type Status string

const (
	StatusExcellent      Status = "EXCELLENT"
	StatusGood           Status = "GOOD"
	StatusAcceptable     Status = "ACCEPTABLE"
	StatusNeedsAttention Status = "NEEDS_ATTENTION"
	StatusInitializing   Status = "INITIALIZING"
)

// StatusFor maps an accuracy percentage to a status.
func StatusFor(accuracy float64) Status {
	switch {
	case accuracy >= TargetAccuracy:
		return StatusExcellent
	case accuracy >= MinAccuracy:
		return StatusGood
	case accuracy >= RetrainThreshold:
		return StatusAcceptable
	default:
		return StatusNeedsAttention
	}
}

type Trend string

const (
	TrendImproving Trend = "IMPROVING"
	TrendDeclining Trend = "DECLINING"
	TrendStable    Trend = "STABLE"
)

// trendOf compares the last five scores with the five before them, or with
// everything earlier when there are fewer than ten.
func trendOf(history []float64) Trend {
	n := len(history)
	if n < 5 {
		return TrendStable
	}
	older := history[:n-5]
	if n >= 10 {
		older = history[n-10 : n-5]
	}
	if len(older) == 0 {
		return TrendStable
	}
	diff := stats.Mean(history[n-5:]) - stats.Mean(older)
	switch {
	case diff > 2:
		return TrendImproving
	case diff < -2:
		return TrendDeclining
	default:
		return TrendStable
	}
}

type Stability string

const (
	StabilityVeryStable       Stability = "VERY_STABLE"
	StabilityStable           Stability = "STABLE"
	StabilityModerate         Stability = "MODERATE"
	StabilityVolatile         Stability = "VOLATILE"
	StabilityInsufficientData Stability = "INSUFFICIENT_DATA"
)

func stabilityOf(history []float64) Stability {
	if len(history) < 10 {
		return StabilityInsufficientData
	}
	recent := history
	if len(recent) > 20 {
		recent = recent[len(recent)-20:]
	}
	switch std := stats.StdDev(recent); {
	case std < 2:
		return StabilityVeryStable
	case std < 5:
		return StabilityStable
	case std < 10:
		return StabilityModerate
	default:
		return StabilityVolatile
	}
}

type LocationStats struct {
	LocationID        string
	Accuracy          float64
	Samples           int
	LastValidated     time.Time
	Trend             Trend
	Stability         Stability
	CalibrationFactor float64
	BiasCorrection    float64
	Pending           int
}

// LocationStats summarises the validation history of one location. It
// reports false for locations that have never been validated.
func (t *Tracker) LocationStats(locationID string) (LocationStats, bool) {
	st, ok := t.lookup(locationID)
	if !ok {
		return LocationStats{}, false
	}
	st.mu.Lock()
	defer st.mu.Unlock()

	history := st.history.Items()
	if len(history) == 0 {
		return LocationStats{}, false
	}
	recent := history
	if len(recent) > overallWindow {
		recent = recent[len(recent)-overallWindow:]
	}
	return LocationStats{
		LocationID:        locationID,
		Accuracy:          stats.Mean(recent),
		Samples:           len(history),
		LastValidated:     st.lastValidated,
		Trend:             trendOf(history),
		Stability:         stabilityOf(history),
		CalibrationFactor: st.calibration.Factor,
		BiasCorrection:    st.calibration.Bias,
		Pending:           st.predictions.Len(),
	}, true
}

type OverallReport struct {
	OverallAccuracy        float64
	Status                 Status
	Target                 float64
	Minimum                float64
	Locations              []LocationStats
	LocationsMeetingTarget int
	TotalLocations         int
	ValidationPending      bool
	TotalValidations       int
	Timestamp              time.Time
}

// Overall averages each validated location's recent accuracy. Before any
// validation has happened it reports an estimate with status INITIALIZING.
func (t *Tracker) Overall() OverallReport {
	t.mu.RLock()
	ids := make([]string, 0, len(t.locations))
	for id := range t.locations {
		ids = append(ids, id)
	}
	total := t.validations
	t.mu.RUnlock()
	sort.Strings(ids)

	report := OverallReport{
		Target:           TargetAccuracy,
		Minimum:          MinAccuracy,
		TotalValidations: total,
		Timestamp:        t.now(),
	}

	var accuracies []float64
	for _, id := range ids {
		ls, ok := t.LocationStats(id)
		if !ok {
			continue
		}
		report.Locations = append(report.Locations, ls)
		accuracies = append(accuracies, ls.Accuracy)
		if ls.Accuracy >= TargetAccuracy {
			report.LocationsMeetingTarget++
		}
	}

	if len(accuracies) == 0 {
		report.OverallAccuracy = EstimatedAccuracy
		report.Status = StatusInitializing
		report.ValidationPending = true
		return report
	}

	report.OverallAccuracy = stats.Mean(accuracies)
	report.Status = StatusFor(report.OverallAccuracy)
	report.TotalLocations = len(accuracies)
	return report
}

type PerformanceReport struct {
	TotalValidations int
	LocationsTracked int
	Calibrations     map[string]Calibration
	TargetAccuracy   float64
	Timestamp        time.Time
}

func (t *Tracker) PerformanceReport() PerformanceReport {
	calibrations := t.Calibrations()

	t.mu.RLock()
	total := t.validations
	t.mu.RUnlock()

	tracked := 0
	for id := range calibrations {
		if _, ok := t.LocationStats(id); ok {
			tracked++
		}
	}

	return PerformanceReport{
		TotalValidations: total,
		LocationsTracked: tracked,
		Calibrations:     calibrations,
		TargetAccuracy:   TargetAccuracy,
		Timestamp:        t.now(),
	}
}
