package models

import "time"

type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskModerate RiskLevel = "MODERATE"
	RiskHigh     RiskLevel = "HIGH"
	RiskSevere   RiskLevel = "SEVERE"
	RiskExtreme  RiskLevel = "EXTREME"
)

// Thresholds for bucketing a dust concentration (µg/m³).
const (
	ModerateThreshold = 20.0
	HighThreshold     = 50.0
	SevereThreshold   = 100.0
	ExtremeThreshold  = 200.0
)

// ClassifyRisk buckets a dust concentration.
func ClassifyRisk(dust float64) RiskLevel {
	switch {
	case dust < ModerateThreshold:
		return RiskLow
	case dust < HighThreshold:
		return RiskModerate
	case dust < SevereThreshold:
		return RiskHigh
	case dust < ExtremeThreshold:
		return RiskSevere
	default:
		return RiskExtreme
	}
}

// Severity returns a numeric severity for sorting (higher = more dangerous).
func (r RiskLevel) Severity() int {
	switch r {
	case RiskExtreme:
		return 4
	case RiskSevere:
		return 3
	case RiskHigh:
		return 2
	case RiskModerate:
		return 1
	default:
		return 0
	}
}

// Recommendation returns health advice for a peak dust level.
func Recommendation(peak float64) string {
	switch {
	case peak >= ExtremeThreshold:
		return "EMERGENCY: Stay indoors. Seal windows and doors. Use air purifiers."
	case peak >= SevereThreshold:
		return "SEVERE: Limit outdoor exposure. Wear an N95 mask outside."
	case peak >= HighThreshold:
		return "HIGH: Sensitive groups should stay indoors."
	default:
		return "MODERATE: Generally safe for most people."
	}
}

type HourlyPrediction struct {
	HourOffset     int
	Time           time.Time
	Value          float64
	Confidence     float64
	IntervalLower  float64
	IntervalUpper  float64
	RiskLevel      RiskLevel
	Breakdown      map[string]float64
	ModelAgreement float64
}

type RiskPeriod struct {
	StartHour      int
	EndHour        int // exclusive
	StartTime      time.Time
	EndTime        time.Time
	DurationHours  int
	Peak           float64
	Severity       RiskLevel
	Recommendation string
}

type ForecastSummary struct {
	PeakValue          float64
	PeakHour           int
	PeakTime           time.Time
	MinValue           float64
	MeanValue          float64
	HoursAboveModerate int
	HoursAboveHigh     int
	HoursAboveSevere   int
}

type Forecast struct {
	LocationID   string
	GeneratedAt  time.Time
	ModelVersion string
	Hourly       []HourlyPrediction
	RiskPeriods  []RiskPeriod
	Summary      ForecastSummary
	ModelWeights map[string]float64
	QualityScore float64
	SourcesUsed  int
}

// NextRiskPeriod returns the earliest risk period, if any.
func (f *Forecast) NextRiskPeriod() *RiskPeriod {
	if f == nil || len(f.RiskPeriods) == 0 {
		return nil
	}
	return &f.RiskPeriods[0]
}

// PredictionRecord is an emitted hourly prediction awaiting validation.
type PredictionRecord struct {
	LocationID  string
	TargetTime  time.Time
	Value       float64
	Confidence  float64
	CreatedAt   time.Time
	HorizonHour int
	Breakdown   map[string]float64
}
