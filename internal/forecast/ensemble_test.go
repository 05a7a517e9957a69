package forecast

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
)

var gst = time.FixedZone("GST", 4*60*60)

type recorderFunc func(models.PredictionRecord)

func (f recorderFunc) Record(p models.PredictionRecord) { f(p) }

type calibratorFunc func(string, float64) float64

func (f calibratorFunc) Apply(id string, v float64) float64 { return f(id, v) }

func newTestEnsemble(t *testing.T, cfg Config) *Ensemble {
	t.Helper()
	if cfg.Location == nil {
		cfg.Location = gst
	}
	e := NewEnsemble(zap.NewNop(), cfg)
	e.now = func() time.Time { return time.Date(2026, 6, 15, 9, 0, 0, 0, gst) }
	e.rand = rand.New(rand.NewPCG(1, 2))
	return e
}

func snapshot(dust, wind float64) Snapshot {
	return Snapshot{
		Reading: models.Reading{
			LocationID:    "dubai",
			Dust:          models.Float(dust),
			WindSpeed:     models.Float(wind),
			WindDirection: models.Float(230),
			Humidity:      models.Float(25),
			Temperature:   models.Float(41),
			Visibility:    models.Float(6000),
		},
		SourcesUsed:  3,
		QualityScore: 90,
	}
}

func TestDefaultWeights(t *testing.T) {
	w := DefaultWeights()
	if math.Abs(w.Sum()-1) > 1e-9 {
		t.Errorf("default weights sum = %v, want 1", w.Sum())
	}
	if w[ModelPattern] != 0.22 || w[ModelMetaEnsemble] != 0.09 {
		t.Errorf("unexpected defaults %v", w)
	}
}

func TestParseModel(t *testing.T) {
	for _, m := range Models {
		got, err := ParseModel(m.String())
		if err != nil || got != m {
			t.Errorf("ParseModel(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseModel("neural"); err == nil {
		t.Error("ParseModel should reject unknown names")
	}
}

func TestUpdateWeights(t *testing.T) {
	e := newTestEnsemble(t, Config{})
	before := e.Weights()

	after := e.UpdateWeights(map[Model]float64{
		ModelPattern:     20,
		ModelWeather:     1,
		ModelPersistence: 5,
	})
	if math.Abs(after.Sum()-1) > 1e-9 {
		t.Errorf("weights sum = %v, want 1", after.Sum())
	}
	if after[ModelWeather] <= before[ModelWeather] {
		t.Errorf("weather weight %v should grow from %v", after[ModelWeather], before[ModelWeather])
	}
	if after[ModelPattern] >= before[ModelPattern] {
		t.Errorf("pattern weight %v should shrink from %v", after[ModelPattern], before[ModelPattern])
	}

	if got := e.UpdateWeights(nil); got != after {
		t.Errorf("empty update changed weights: %v", got)
	}
}

func TestSetWeight(t *testing.T) {
	tests := []struct {
		name    string
		model   Model
		weight  float64
		wantErr bool
	}{
		{"valid", ModelClimatology, 0.5, false},
		{"zero", ModelMetaEnsemble, 0, false},
		{"negative", ModelWeather, -0.1, true},
		{"nan", ModelWeather, math.NaN(), true},
		{"unknown model", Model(9), 0.1, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnsemble(t, Config{})
			err := e.SetWeight(tt.model, tt.weight)
			if (err != nil) != tt.wantErr {
				t.Fatalf("SetWeight error = %v, wantErr %v", err, tt.wantErr)
			}
			if w := e.Weights(); math.Abs(w.Sum()-1) > 1e-9 {
				t.Errorf("weights sum = %v, want 1", w.Sum())
			}
		})
	}
}

func TestForecast(t *testing.T) {
	e := newTestEnsemble(t, Config{})
	fc, err := e.Forecast("dubai", snapshot(60, 25), 72)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(fc.Hourly) != 72 {
		t.Fatalf("got %d hours, want 72", len(fc.Hourly))
	}
	if fc.ModelVersion != ModelVersion || fc.SourcesUsed != 3 || fc.QualityScore != 90 {
		t.Errorf("unexpected metadata %+v", fc)
	}

	for _, h := range fc.Hourly {
		if h.Confidence < 50 || h.Confidence > 98 {
			t.Errorf("hour %d: confidence %v outside [50, 98]", h.HourOffset, h.Confidence)
		}
		if h.Value < 0 || h.IntervalLower > h.Value || h.IntervalUpper < h.Value {
			t.Errorf("hour %d: value %v outside interval [%v, %v]", h.HourOffset, h.Value, h.IntervalLower, h.IntervalUpper)
		}
		if h.RiskLevel != models.ClassifyRisk(h.Value) {
			t.Errorf("hour %d: risk %v for %v", h.HourOffset, h.RiskLevel, h.Value)
		}
		if len(h.Breakdown) != NumModels {
			t.Errorf("hour %d: breakdown has %d models", h.HourOffset, len(h.Breakdown))
		}
		if !h.Time.Equal(fc.GeneratedAt.Add(time.Duration(h.HourOffset) * time.Hour)) {
			t.Errorf("hour %d: time %v", h.HourOffset, h.Time)
		}
	}

	var early, late float64
	for i := 0; i < 24; i++ {
		early += fc.Hourly[i].Confidence
		late += fc.Hourly[len(fc.Hourly)-24+i].Confidence
	}
	if early < late {
		t.Errorf("mean confidence rose with horizon: first day %v, last day %v", early/24, late/24)
	}
}

func TestForecast_Horizon(t *testing.T) {
	tests := []struct {
		name       string
		maxHorizon int
		hours      int
		want       int
	}{
		{"clamped to default max", 0, 500, 72},
		{"raised max", 120, 96, 96},
		{"max limited", 400, 400, 120},
		{"at least one hour", 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnsemble(t, Config{MaxHorizon: tt.maxHorizon})
			fc, err := e.Forecast("dubai", snapshot(30, 10), tt.hours)
			if err != nil {
				t.Fatalf("Forecast: %v", err)
			}
			if len(fc.Hourly) != tt.want {
				t.Errorf("got %d hours, want %d", len(fc.Hourly), tt.want)
			}
		})
	}
}

func TestForecast_UnknownLocation(t *testing.T) {
	e := newTestEnsemble(t, Config{Locations: []models.Location{{ID: "dubai"}}})
	if _, err := e.Forecast("atlantis", snapshot(30, 10), 24); !errors.Is(err, models.ErrUnknownLocation) {
		t.Errorf("err = %v, want ErrUnknownLocation", err)
	}
	if _, err := e.Forecast("dubai", snapshot(30, 10), 24); err != nil {
		t.Errorf("known location: %v", err)
	}
}

func TestForecast_RecordsPredictions(t *testing.T) {
	var got []models.PredictionRecord
	e := newTestEnsemble(t, Config{
		Recorder: recorderFunc(func(p models.PredictionRecord) { got = append(got, p) }),
	})

	fc, err := e.Forecast("dubai", snapshot(45, 12), 12)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	if len(got) != 12 {
		t.Fatalf("recorded %d predictions, want 12", len(got))
	}
	for i, p := range got {
		if p.HorizonHour != i || p.Value != fc.Hourly[i].Value || !p.TargetTime.Equal(fc.Hourly[i].Time) {
			t.Errorf("record %d = %+v does not match hourly prediction", i, p)
		}
		if len(p.Breakdown) != NumModels {
			t.Errorf("record %d breakdown has %d models", i, len(p.Breakdown))
		}
	}
}

func TestForecast_Calibration(t *testing.T) {
	e := newTestEnsemble(t, Config{
		Calibrator: calibratorFunc(func(_ string, v float64) float64 { return v*0.5 - 100 }),
	})
	fc, err := e.Forecast("dubai", snapshot(120, 30), 24)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}
	for _, h := range fc.Hourly {
		if h.Value != 0 || h.IntervalLower != 0 {
			t.Errorf("hour %d: value %v lower %v, want floored at 0", h.HourOffset, h.Value, h.IntervalLower)
		}
	}
	if len(fc.RiskPeriods) != 0 {
		t.Errorf("got %d risk periods for an all-zero forecast", len(fc.RiskPeriods))
	}
}

func TestObserve_LearnsPatterns(t *testing.T) {
	e := newTestEnsemble(t, Config{})
	start := time.Date(2026, 6, 1, 0, 0, 0, 0, gst)
	for i := 0; i < 199; i++ {
		e.Observe("dubai", models.Reading{
			Timestamp: start.Add(time.Duration(i) * time.Hour),
			Dust:      models.Float(30 + float64(i%24)),
			WindSpeed: models.Float(10 + float64(i%24)/2),
		})
	}
	if e.HasLearnedPatterns("dubai") {
		t.Fatal("patterns learned before 200 observations")
	}

	e.Observe("dubai", models.Reading{Timestamp: start.Add(199 * time.Hour), Dust: models.Float(37), WindSpeed: models.Float(13.5)})
	if !e.HasLearnedPatterns("dubai") {
		t.Fatal("patterns not learned after 200 observations")
	}

	st := e.state("dubai")
	if got := st.learned.hourly[5]; got != 35 {
		t.Errorf("hour 5 average = %v, want 35", got)
	}
	if math.Abs(st.learned.windCorrelation-1) > 1e-9 {
		t.Errorf("wind correlation = %v, want 1", st.learned.windCorrelation)
	}
}

func TestMetaEnsemble(t *testing.T) {
	members := [][]float64{{10}, {11}, {12}, {13}, {14}, {100}}
	got := metaEnsemble(members, 1)
	if got[0] != 12 {
		t.Errorf("meta = %v, want 12", got[0])
	}
}

func TestPersistence(t *testing.T) {
	recent := make([]float64, 24)
	for i := range recent {
		recent[i] = 10 + float64(i)
	}
	r := &run{hours: 72, cur: conditions{dust: 33}, recent: recent}
	out := r.persistence()
	if out[0] != 33 {
		t.Errorf("hour 0 = %v, want current value", out[0])
	}
	if out[1] <= 33 {
		t.Errorf("hour 1 = %v, want a rising trend", out[1])
	}
	if math.Abs(out[71]-baselineDust) > 1 {
		t.Errorf("hour 71 = %v, want close to baseline", out[71])
	}
}

func TestDirectionFactor(t *testing.T) {
	tests := []struct {
		deg  float64
		want float64
	}{
		{230, 1.45},
		{200, 1.45},
		{266, 1.30},
		{185, 1.30},
		{300, 1.15},
		{160, 1.15},
		{0, 0.75},
		{359, 0.75},
		{360, 0.75},
		{90, 0.90},
	}
	for _, tt := range tests {
		if got := directionFactor(tt.deg); got != tt.want {
			t.Errorf("directionFactor(%v) = %v, want %v", tt.deg, got, tt.want)
		}
	}
}

func TestKalman(t *testing.T) {
	k := newKalman()
	if got := k.update(40); got != 40 {
		t.Errorf("first update = %v, want 40", got)
	}
	got := k.update(50)
	if got <= 40 || got >= 50 {
		t.Errorf("second update = %v, want between 40 and 50", got)
	}
}

func TestRiskPeriods(t *testing.T) {
	base := time.Date(2026, 6, 15, 0, 0, 0, 0, time.UTC)
	values := []float64{10, 60, 70, 40, 55, 120}
	hourly := make([]models.HourlyPrediction, len(values))
	for i, v := range values {
		hourly[i] = models.HourlyPrediction{HourOffset: i, Time: base.Add(time.Duration(i) * time.Hour), Value: v}
	}

	got := riskPeriods(hourly)
	want := []models.RiskPeriod{
		{StartHour: 1, EndHour: 3, DurationHours: 2, Peak: 70, Severity: models.RiskHigh},
		{StartHour: 4, EndHour: 6, DurationHours: 2, Peak: 120, Severity: models.RiskSevere},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d periods, want %d", len(got), len(want))
	}
	for i := range want {
		g, w := got[i], want[i]
		if g.StartHour != w.StartHour || g.EndHour != w.EndHour || g.DurationHours != w.DurationHours ||
			g.Peak != w.Peak || g.Severity != w.Severity {
			t.Errorf("period %d = %+v, want %+v", i, g, w)
		}
		if !g.EndTime.Equal(hourly[w.EndHour-1].Time) {
			t.Errorf("period %d end time = %v", i, g.EndTime)
		}
	}

	s := summarize(hourly)
	if s.PeakValue != 120 || s.PeakHour != 5 || s.MinValue != 10 {
		t.Errorf("summary = %+v", s)
	}
	if s.HoursAboveModerate != 5 || s.HoursAboveHigh != 4 || s.HoursAboveSevere != 1 {
		t.Errorf("summary counts = %+v", s)
	}
}

func TestTruncate(t *testing.T) {
	e := newTestEnsemble(t, Config{})
	fc, err := e.Forecast("dubai", snapshot(150, 30), 48)
	if err != nil {
		t.Fatalf("Forecast: %v", err)
	}

	short := Truncate(fc, 6)
	if len(short.Hourly) != 6 {
		t.Fatalf("len = %d, want 6", len(short.Hourly))
	}
	if len(fc.Hourly) != 48 {
		t.Errorf("original modified: len = %d", len(fc.Hourly))
	}
	for _, p := range short.RiskPeriods {
		if p.EndHour > 6 {
			t.Errorf("risk period ends at %d, beyond truncated horizon", p.EndHour)
		}
	}
	if short.Summary.PeakHour >= 6 {
		t.Errorf("PeakHour = %d, want < 6", short.Summary.PeakHour)
	}
	if got := Truncate(fc, 100); got != fc {
		t.Error("Truncate beyond length should return the forecast unchanged")
	}
}
