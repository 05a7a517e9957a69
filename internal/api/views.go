package api

import (
	"math"
	"sort"
	"time"

	"github.com/lox/dustwatch/internal/accuracy"
	"github.com/lox/dustwatch/internal/quality"
	"github.com/lox/dustwatch/internal/store"
	"github.com/lox/dustwatch/internal/view"
)

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

type locationStatsView struct {
	LocationID        string    `json:"location_id"`
	Accuracy          float64   `json:"accuracy"`
	Status            string    `json:"status"`
	Samples           int       `json:"samples"`
	LastValidated     time.Time `json:"last_validated"`
	Trend             string    `json:"trend"`
	Stability         string    `json:"stability"`
	CalibrationFactor float64   `json:"calibration_factor"`
	BiasCorrection    float64   `json:"bias_correction"`
	Pending           int       `json:"pending_predictions"`
}

func newLocationStatsView(ls accuracy.LocationStats) locationStatsView {
	return locationStatsView{
		LocationID:        ls.LocationID,
		Accuracy:          round1(ls.Accuracy),
		Status:            string(accuracy.StatusFor(ls.Accuracy)),
		Samples:           ls.Samples,
		LastValidated:     ls.LastValidated,
		Trend:             string(ls.Trend),
		Stability:         string(ls.Stability),
		CalibrationFactor: math.Round(ls.CalibrationFactor*1000) / 1000,
		BiasCorrection:    round1(ls.BiasCorrection),
		Pending:           ls.Pending,
	}
}

type overallView struct {
	OverallAccuracy        float64             `json:"overall_accuracy"`
	Status                 string              `json:"status"`
	Target                 float64             `json:"target"`
	Minimum                float64             `json:"minimum"`
	LocationsMeetingTarget int                 `json:"locations_meeting_target"`
	TotalLocations         int                 `json:"total_locations"`
	ValidationPending      bool                `json:"validation_pending"`
	TotalValidations       int                 `json:"total_validations"`
	Locations              []locationStatsView `json:"locations"`
	Timestamp              time.Time           `json:"timestamp"`
}

func newOverallView(r accuracy.OverallReport) overallView {
	out := overallView{
		OverallAccuracy:        round1(r.OverallAccuracy),
		Status:                 string(r.Status),
		Target:                 r.Target,
		Minimum:                r.Minimum,
		LocationsMeetingTarget: r.LocationsMeetingTarget,
		TotalLocations:         r.TotalLocations,
		ValidationPending:      r.ValidationPending,
		TotalValidations:       r.TotalValidations,
		Locations:              make([]locationStatsView, len(r.Locations)),
		Timestamp:              r.Timestamp,
	}
	for i, ls := range r.Locations {
		out.Locations[i] = newLocationStatsView(ls)
	}
	return out
}

type calibrationView struct {
	Factor float64 `json:"calibration_factor"`
	Bias   float64 `json:"bias_correction"`
}

type performanceView struct {
	TotalValidations int                        `json:"total_validations"`
	LocationsTracked int                        `json:"locations_tracked"`
	TargetAccuracy   float64                    `json:"target_accuracy"`
	Calibrations     map[string]calibrationView `json:"calibrations"`
	Timestamp        time.Time                  `json:"timestamp"`
}

func newPerformanceView(r accuracy.PerformanceReport) performanceView {
	out := performanceView{
		TotalValidations: r.TotalValidations,
		LocationsTracked: r.LocationsTracked,
		TargetAccuracy:   r.TargetAccuracy,
		Calibrations:     make(map[string]calibrationView, len(r.Calibrations)),
		Timestamp:        r.Timestamp,
	}
	for id, c := range r.Calibrations {
		out.Calibrations[id] = calibrationView{Factor: c.Factor, Bias: c.Bias}
	}
	return out
}

type locationQualityView struct {
	LocationID   string  `json:"location_id"`
	AverageScore float64 `json:"average_score"`
	MinScore     float64 `json:"min_score"`
	MaxScore     float64 `json:"max_score"`
	CurrentScore float64 `json:"current_score"`
	Samples      int     `json:"samples"`
	Trend        string  `json:"trend"`
	HasBaseline  bool    `json:"has_baseline"`
}

func newLocationQualityView(lq quality.LocationQuality) locationQualityView {
	return locationQualityView{
		LocationID:   lq.LocationID,
		AverageScore: lq.AverageScore,
		MinScore:     lq.MinScore,
		MaxScore:     lq.MaxScore,
		CurrentScore: lq.CurrentScore,
		Samples:      lq.Samples,
		Trend:        string(lq.Trend),
		HasBaseline:  lq.HasBaseline,
	}
}

type qualitySummaryView struct {
	LocationsWithBaselines int                   `json:"locations_with_baselines"`
	LocationsTracked       int                   `json:"locations_tracked"`
	Locations              []locationQualityView `json:"locations"`
	Timestamp              time.Time             `json:"timestamp"`
}

func newQualitySummaryView(s quality.Summary) qualitySummaryView {
	out := qualitySummaryView{
		LocationsWithBaselines: s.LocationsWithBaselines,
		LocationsTracked:       s.LocationsTracked,
		Locations:              make([]locationQualityView, len(s.Locations)),
		Timestamp:              s.Timestamp,
	}
	for i, lq := range s.Locations {
		out.Locations[i] = newLocationQualityView(lq)
	}
	return out
}

type fieldStatsView struct {
	Field string  `json:"field"`
	Mean  float64 `json:"mean"`
	Std   float64 `json:"std"`
}

func newBaselineView(b quality.Baseline) []fieldStatsView {
	out := make([]fieldStatsView, 0, len(b))
	for f, st := range b {
		out = append(out, fieldStatsView{Field: f.String(), Mean: round1(st.Mean), Std: round1(st.Std)})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Field < out[j].Field })
	return out
}

type validationView struct {
	ValidatedAt       time.Time `json:"validated_at"`
	Matches           int       `json:"matches"`
	Accuracy          float64   `json:"accuracy"`
	MAE               float64   `json:"mae"`
	RMSE              float64   `json:"rmse"`
	MAPE              float64   `json:"mape"`
	Bias              float64   `json:"bias"`
	CalibrationFactor float64   `json:"calibration_factor"`
	BiasCorrection    float64   `json:"bias_correction"`
}

func newValidationViews(records []store.ValidationRecord) []validationView {
	out := make([]validationView, len(records))
	for i, v := range records {
		out[i] = validationView{
			ValidatedAt:       v.ValidatedAt,
			Matches:           v.Matches,
			Accuracy:          round1(v.Accuracy),
			MAE:               round1(v.MAE),
			RMSE:              round1(v.RMSE),
			MAPE:              round1(v.MAPE),
			Bias:              round1(v.Bias),
			CalibrationFactor: math.Round(v.CalibrationFactor*1000) / 1000,
			BiasCorrection:    round1(v.BiasCorrection),
		}
	}
	return out
}

type locationAccuracyView struct {
	locationStatsView
	LearnedPatterns   bool             `json:"learned_patterns"`
	RecentValidations []validationView `json:"recent_validations"`
}

type historyView struct {
	view.Reading
	Confidence   float64 `json:"confidence"`
	SourcesUsed  int     `json:"sources_used"`
	QualityScore float64 `json:"quality_score"`
	DataQuality  string  `json:"data_quality,omitempty"`
	Fallback     bool    `json:"fallback"`
}

func newHistoryView(rec store.ReadingRecord) historyView {
	return historyView{
		Reading:      view.NewReading(rec.Reading),
		Confidence:   round1(rec.Confidence),
		SourcesUsed:  rec.SourcesUsed,
		QualityScore: round1(rec.QualityScore),
		DataQuality:  rec.DataQuality,
		Fallback:     rec.Fallback,
	}
}

type cycleRunView struct {
	ID            string     `json:"id"`
	StartedAt     time.Time  `json:"started_at"`
	FinishedAt    *time.Time `json:"finished_at,omitempty"`
	Success       bool       `json:"success"`
	SourcesOK     int64      `json:"sources_ok"`
	SourcesFailed int64      `json:"sources_failed"`
	Fallbacks     int64      `json:"fallbacks"`
	Error         string     `json:"error,omitempty"`
}

func newCycleRunViews(runs []store.CycleRun) []cycleRunView {
	out := make([]cycleRunView, len(runs))
	for i, r := range runs {
		out[i] = cycleRunView{
			ID:            r.ID,
			StartedAt:     r.StartedAt,
			Success:       r.Success,
			SourcesOK:     r.SourcesOK.Int64,
			SourcesFailed: r.SourcesFailed.Int64,
			Fallbacks:     r.Fallbacks.Int64,
			Error:         r.ErrorMessage.String,
		}
		if r.FinishedAt.Valid {
			finished := r.FinishedAt.Time
			out[i].FinishedAt = &finished
		}
	}
	return out
}
