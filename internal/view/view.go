// Package view holds the JSON shapes served over HTTP and pushed to
// subscribers.
package view

import (
	"math"
	"time"

	"github.com/lox/dustwatch/internal/fusion"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
)

type Reading struct {
	Timestamp     time.Time `json:"timestamp"`
	Dust          *float64  `json:"dust,omitempty"`
	PM10          *float64  `json:"pm10,omitempty"`
	PM25          *float64  `json:"pm2_5,omitempty"`
	AQI           *float64  `json:"aqi,omitempty"`
	Temperature   *float64  `json:"temperature,omitempty"`
	Humidity      *float64  `json:"humidity,omitempty"`
	WindSpeed     *float64  `json:"wind_speed,omitempty"`
	WindDirection *float64  `json:"wind_direction,omitempty"`
	Visibility    *float64  `json:"visibility,omitempty"`
	Pressure      *float64  `json:"pressure,omitempty"`
}

func ptr(v models.Reading, f models.Field) *float64 {
	n := v.Get(f)
	if !n.Valid || math.IsNaN(n.Float64) || math.IsInf(n.Float64, 0) {
		return nil
	}
	x := round(n.Float64, 2)
	return &x
}

func NewReading(r models.Reading) Reading {
	return Reading{
		Timestamp:     r.Timestamp,
		Dust:          ptr(r, models.FieldDust),
		PM10:          ptr(r, models.FieldPM10),
		PM25:          ptr(r, models.FieldPM25),
		AQI:           ptr(r, models.FieldAQI),
		Temperature:   ptr(r, models.FieldTemperature),
		Humidity:      ptr(r, models.FieldHumidity),
		WindSpeed:     ptr(r, models.FieldWindSpeed),
		WindDirection: ptr(r, models.FieldWindDirection),
		Visibility:    ptr(r, models.FieldVisibility),
		Pressure:      ptr(r, models.FieldPressure),
	}
}

type Quality struct {
	Score      float64   `json:"score"`
	Level      string    `json:"level"`
	Issues     []string  `json:"issues"`
	Warnings   []string  `json:"warnings"`
	IsValid    bool      `json:"is_valid"`
	IsReliable bool      `json:"is_reliable"`
	Timestamp  time.Time `json:"timestamp"`
}

func NewQuality(r quality.Report) Quality {
	q := Quality{
		Score:      round(r.QualityScore, 1),
		Level:      string(r.QualityLevel),
		Issues:     r.Issues,
		Warnings:   r.Warnings,
		IsValid:    r.IsValid,
		IsReliable: r.IsReliable,
		Timestamp:  r.Timestamp,
	}
	if q.Issues == nil {
		q.Issues = []string{}
	}
	if q.Warnings == nil {
		q.Warnings = []string{}
	}
	return q
}

type Current struct {
	LocationID  string   `json:"location_id"`
	Reading     Reading  `json:"reading"`
	Confidence  float64  `json:"confidence"`
	RiskLevel   string   `json:"risk_level"`
	RiskScore   int      `json:"risk_score"`
	SourcesUsed int      `json:"sources_used"`
	Sources     []string `json:"sources"`
	DataQuality string   `json:"data_quality"`
	Fallback    bool     `json:"fallback"`
	Trend       string   `json:"trend"`
	Quality     Quality  `json:"quality"`
}

func NewCurrent(res fusion.Result) Current {
	sources := res.Sources
	if sources == nil {
		sources = []string{}
	}
	return Current{
		LocationID:  res.Reading.LocationID,
		Reading:     NewReading(res.Reading),
		Confidence:  round(res.Confidence, 1),
		RiskLevel:   string(res.RiskLevel),
		RiskScore:   res.RiskScore,
		SourcesUsed: res.SourcesUsed,
		Sources:     sources,
		DataQuality: res.DataQuality,
		Fallback:    res.Fallback,
		Trend:       string(res.Trend),
		Quality:     NewQuality(res.Quality),
	}
}

type Hourly struct {
	Hour           int                `json:"hour"`
	Time           time.Time          `json:"time"`
	Value          float64            `json:"value"`
	Confidence     float64            `json:"confidence"`
	IntervalLower  float64            `json:"interval_lower"`
	IntervalUpper  float64            `json:"interval_upper"`
	RiskLevel      string             `json:"risk_level"`
	Models         map[string]float64 `json:"models,omitempty"`
	ModelAgreement float64            `json:"model_agreement"`
}

type RiskPeriod struct {
	StartHour      int       `json:"start_hour"`
	EndHour        int       `json:"end_hour"`
	StartTime      time.Time `json:"start_time"`
	EndTime        time.Time `json:"end_time"`
	DurationHours  int       `json:"duration_hours"`
	Peak           float64   `json:"peak"`
	Severity       string    `json:"severity"`
	Recommendation string    `json:"recommendation"`
}

type Summary struct {
	PeakValue          float64   `json:"peak_value"`
	PeakHour           int       `json:"peak_hour"`
	PeakTime           time.Time `json:"peak_time"`
	MinValue           float64   `json:"min_value"`
	MeanValue          float64   `json:"mean_value"`
	HoursAboveModerate int       `json:"hours_above_moderate"`
	HoursAboveHigh     int       `json:"hours_above_high"`
	HoursAboveSevere   int       `json:"hours_above_severe"`
}

type Forecast struct {
	LocationID   string             `json:"location_id"`
	GeneratedAt  time.Time          `json:"generated_at"`
	ModelVersion string             `json:"model_version"`
	Hours        int                `json:"hours"`
	Hourly       []Hourly           `json:"hourly"`
	RiskPeriods  []RiskPeriod       `json:"risk_periods"`
	Summary      Summary            `json:"summary"`
	ModelWeights map[string]float64 `json:"model_weights"`
	QualityScore float64            `json:"quality_score"`
	SourcesUsed  int                `json:"sources_used"`
}

func NewRiskPeriods(periods []models.RiskPeriod) []RiskPeriod {
	out := make([]RiskPeriod, len(periods))
	for i, p := range periods {
		out[i] = RiskPeriod{
			StartHour:      p.StartHour,
			EndHour:        p.EndHour,
			StartTime:      p.StartTime,
			EndTime:        p.EndTime,
			DurationHours:  p.DurationHours,
			Peak:           round(p.Peak, 1),
			Severity:       string(p.Severity),
			Recommendation: p.Recommendation,
		}
	}
	return out
}

// NewForecast converts a forecast. Per-model breakdowns are included only
// when withModels is set.
func NewForecast(f *models.Forecast, withModels bool) Forecast {
	out := Forecast{
		LocationID:   f.LocationID,
		GeneratedAt:  f.GeneratedAt,
		ModelVersion: f.ModelVersion,
		Hours:        len(f.Hourly),
		Hourly:       make([]Hourly, len(f.Hourly)),
		RiskPeriods:  NewRiskPeriods(f.RiskPeriods),
		Summary: Summary{
			PeakValue:          round(f.Summary.PeakValue, 1),
			PeakHour:           f.Summary.PeakHour,
			PeakTime:           f.Summary.PeakTime,
			MinValue:           round(f.Summary.MinValue, 1),
			MeanValue:          round(f.Summary.MeanValue, 1),
			HoursAboveModerate: f.Summary.HoursAboveModerate,
			HoursAboveHigh:     f.Summary.HoursAboveHigh,
			HoursAboveSevere:   f.Summary.HoursAboveSevere,
		},
		ModelWeights: f.ModelWeights,
		QualityScore: round(f.QualityScore, 1),
		SourcesUsed:  f.SourcesUsed,
	}
	for i, h := range f.Hourly {
		out.Hourly[i] = Hourly{
			Hour:           h.HourOffset,
			Time:           h.Time,
			Value:          round(h.Value, 1),
			Confidence:     round(h.Confidence, 1),
			IntervalLower:  round(h.IntervalLower, 1),
			IntervalUpper:  round(h.IntervalUpper, 1),
			RiskLevel:      string(h.RiskLevel),
			ModelAgreement: round(h.ModelAgreement, 1),
		}
		if withModels {
			out.Hourly[i].Models = h.Breakdown
		}
	}
	return out
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
