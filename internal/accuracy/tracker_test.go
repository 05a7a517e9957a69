package accuracy

import (
	"math"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
)

var base = time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)

func newTestTracker() *Tracker {
	tr := NewTracker(zap.NewNop(), 0)
	tr.now = func() time.Time { return base.Add(72 * time.Hour) }
	return tr
}

func prediction(loc string, target time.Time, value, confidence float64, horizon int) models.PredictionRecord {
	return models.PredictionRecord{
		LocationID:  loc,
		TargetTime:  target,
		Value:       value,
		Confidence:  confidence,
		CreatedAt:   base,
		HorizonHour: horizon,
	}
}

func observation(at time.Time, dust float64) models.Reading {
	return models.Reading{LocationID: "dubai", Timestamp: at, Dust: models.Float(dust)}
}

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestValidate_ErrorStats(t *testing.T) {
	tr := newTestTracker()
	t1 := base.Add(time.Hour)
	t2 := base.Add(2 * time.Hour)
	tr.Record(prediction("dubai", t1, 50, 90, 1))
	tr.Record(prediction("dubai", t2, 30, 60, 2))

	report, ok := tr.Validate("dubai", []models.Reading{
		observation(t1.Add(5*time.Minute), 40),
		observation(t2.Add(-10*time.Minute), 40),
	})
	if !ok {
		t.Fatal("Validate found no matches")
	}
	if report.Matches != 2 {
		t.Errorf("Matches = %d, want 2", report.Matches)
	}
	if !approx(report.MAE, 10) || !approx(report.RMSE, 10) || !approx(report.MAPE, 25) {
		t.Errorf("MAE/RMSE/MAPE = %v/%v/%v, want 10/10/25", report.MAE, report.RMSE, report.MAPE)
	}
	if !approx(report.Accuracy, 80) {
		t.Errorf("Accuracy = %v, want 80", report.Accuracy)
	}
	if !approx(report.Bias, 0) {
		t.Errorf("Bias = %v, want 0", report.Bias)
	}
	if !approx(report.HighConfidenceAccuracy, 80) {
		t.Errorf("HighConfidenceAccuracy = %v, want 80", report.HighConfidenceAccuracy)
	}
	if len(report.HorizonAccuracy) != 2 || !approx(report.HorizonAccuracy[1], 80) {
		t.Errorf("HorizonAccuracy = %v", report.HorizonAccuracy)
	}
	if !report.NeedsRetraining || report.MeetsTarget {
		t.Errorf("NeedsRetraining = %v, MeetsTarget = %v", report.NeedsRetraining, report.MeetsTarget)
	}
}

func TestValidate_MatchWindow(t *testing.T) {
	tests := []struct {
		name   string
		offset time.Duration
		want   bool
	}{
		{"exact", 0, true},
		{"inside window", 29 * time.Minute, true},
		{"inside window before", -29 * time.Minute, true},
		{"at window edge", 30 * time.Minute, false},
		{"outside window", 45 * time.Minute, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			target := base.Add(3 * time.Hour)
			tr.Record(prediction("dubai", target, 40, 90, 3))

			_, ok := tr.Validate("dubai", []models.Reading{observation(target.Add(tt.offset), 40)})
			if ok != tt.want {
				t.Errorf("matched = %v, want %v", ok, tt.want)
			}
		})
	}
}

func TestValidate_FirstMatchWins(t *testing.T) {
	tr := newTestTracker()
	target := base.Add(time.Hour)
	tr.Record(prediction("dubai", target, 40, 90, 1))

	report, ok := tr.Validate("dubai", []models.Reading{
		{LocationID: "dubai", Timestamp: target},
		observation(target.Add(20*time.Minute), 50),
		observation(target, 40),
	})
	if !ok {
		t.Fatal("no match")
	}
	if !approx(report.MAE, 10) {
		t.Errorf("MAE = %v, want 10 from the first reading carrying dust", report.MAE)
	}
}

func TestValidate_ConsumesMatches(t *testing.T) {
	tr := newTestTracker()
	t1 := base.Add(time.Hour)
	t2 := base.Add(5 * time.Hour)
	tr.Record(prediction("dubai", t1, 40, 90, 1))
	tr.Record(prediction("dubai", t2, 40, 90, 5))

	readings := []models.Reading{observation(t1, 42)}
	report, ok := tr.Validate("dubai", readings)
	if !ok {
		t.Fatal("first validation found no matches")
	}
	if len(report.Matched) != 1 || report.Matched[0].HorizonHour != 1 || !report.Matched[0].TargetTime.Equal(t1) {
		t.Errorf("Matched = %+v, want the horizon 1 prediction", report.Matched)
	}
	if got := tr.Pending("dubai"); got != 1 {
		t.Errorf("Pending = %d, want 1", got)
	}
	if _, ok := tr.Validate("dubai", readings); ok {
		t.Error("a prediction was scored twice")
	}
}

func TestValidate_NothingToDo(t *testing.T) {
	tr := newTestTracker()
	if _, ok := tr.Validate("dubai", []models.Reading{observation(base, 40)}); ok {
		t.Error("validation without predictions reported matches")
	}
	tr.Record(prediction("dubai", base, 40, 90, 0))
	if _, ok := tr.Validate("dubai", []models.Reading{{LocationID: "dubai", Timestamp: base}}); ok {
		t.Error("validation without dust reported matches")
	}
}

func TestValidate_PositiveBias(t *testing.T) {
	tr := newTestTracker()
	var factors, biases []float64

	for cycle := 0; cycle < 6; cycle++ {
		var readings []models.Reading
		for h := 0; h < 10; h++ {
			target := base.Add(time.Duration(cycle*24+h) * time.Hour)
			observed := 30 + float64(h)
			tr.Record(prediction("dubai", target, observed+10, 85, h))
			readings = append(readings, observation(target, observed))
		}
		report, ok := tr.Validate("dubai", readings)
		if !ok {
			t.Fatalf("cycle %d: no matches", cycle)
		}
		if !approx(report.Bias, 10) {
			t.Errorf("cycle %d: Bias = %v, want 10", cycle, report.Bias)
		}
		factors = append(factors, report.CalibrationFactor)
		biases = append(biases, report.BiasCorrection)
	}

	for i := range factors {
		if factors[i] >= 1 || factors[i] < minFactor {
			t.Errorf("cycle %d: factor %v, want in [0.7, 1)", i, factors[i])
		}
		if biases[i] <= 0 {
			t.Errorf("cycle %d: bias correction %v, want positive", i, biases[i])
		}
		if i > 0 && (factors[i] >= factors[i-1] || biases[i] <= biases[i-1]) {
			t.Errorf("cycle %d: factor %v -> %v, bias %v -> %v, want trending", i,
				factors[i-1], factors[i], biases[i-1], biases[i])
		}
	}
	if !approx(biases[0], 3) {
		t.Errorf("first bias correction = %v, want 3", biases[0])
	}

	c := tr.Calibration("dubai")
	if got, want := tr.Apply("dubai", 100), 100*c.Factor-0.5*c.Bias; !approx(got, want) {
		t.Errorf("Apply(100) = %v, want %v", got, want)
	}
	if got := tr.Apply("dubai", 1); got != 0 {
		t.Errorf("Apply(1) = %v, want floored at 0", got)
	}
}

func TestValidate_CalibrationClamped(t *testing.T) {
	tests := []struct {
		name      string
		predicted float64
		observed  float64
		limit     float64
	}{
		{"under forecast", 10, 100, maxFactor},
		{"over forecast", 100, 1, minFactor},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := newTestTracker()
			var factor float64
			for cycle := 0; cycle < 60; cycle++ {
				target := base.Add(time.Duration(cycle) * time.Hour)
				tr.Record(prediction("dubai", target, tt.predicted, 90, 0))
				report, ok := tr.Validate("dubai", []models.Reading{observation(target, tt.observed)})
				if !ok {
					t.Fatalf("cycle %d: no match", cycle)
				}
				factor = report.CalibrationFactor
				if factor < minFactor || factor > maxFactor {
					t.Fatalf("cycle %d: factor %v outside [0.7, 1.3]", cycle, factor)
				}
			}
			if math.Abs(factor-tt.limit) > 0.01 {
				t.Errorf("factor = %v, want close to %v", factor, tt.limit)
			}
		})
	}
}

func TestValidate_ModelMAE(t *testing.T) {
	tr := newTestTracker()
	p := prediction("dubai", base, 40, 90, 0)
	p.Breakdown = map[string]float64{"pattern": 50, "weather": 38}
	tr.Record(p)

	report, ok := tr.Validate("dubai", []models.Reading{observation(base, 40)})
	if !ok {
		t.Fatal("no match")
	}
	if report.ModelMAE["pattern"] != 10 || report.ModelMAE["weather"] != 2 {
		t.Errorf("ModelMAE = %v", report.ModelMAE)
	}
}

func TestRestore(t *testing.T) {
	tr := newTestTracker()
	tr.Restore("dubai", 2.5, 4)
	if c := tr.Calibration("dubai"); c.Factor != maxFactor || c.Bias != 4 {
		t.Errorf("Calibration = %+v, want factor clamped to 1.3", c)
	}
	if c := tr.Calibration("sharjah"); c.Factor != 1 || c.Bias != 0 {
		t.Errorf("untracked Calibration = %+v, want identity", c)
	}
}

func TestOverall(t *testing.T) {
	tr := newTestTracker()
	initial := tr.Overall()
	if initial.OverallAccuracy != EstimatedAccuracy || initial.Status != StatusInitializing || !initial.ValidationPending {
		t.Errorf("initial report = %+v", initial)
	}

	for _, loc := range []string{"dubai", "sharjah"} {
		tr.Record(prediction(loc, base, 40, 90, 0))
		r := observation(base, 40)
		r.LocationID = loc
		if _, ok := tr.Validate(loc, []models.Reading{r}); !ok {
			t.Fatalf("%s: no match", loc)
		}
	}

	report := tr.Overall()
	if report.OverallAccuracy != 100 || report.Status != StatusExcellent {
		t.Errorf("OverallAccuracy = %v, Status = %v", report.OverallAccuracy, report.Status)
	}
	if report.TotalLocations != 2 || report.LocationsMeetingTarget != 2 || report.ValidationPending {
		t.Errorf("report = %+v", report)
	}
	if report.TotalValidations != 2 {
		t.Errorf("TotalValidations = %d, want 2", report.TotalValidations)
	}

	perf := tr.PerformanceReport()
	if perf.LocationsTracked != 2 || perf.TotalValidations != 2 {
		t.Errorf("PerformanceReport = %+v", perf)
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		accuracy float64
		want     Status
	}{
		{99, StatusExcellent},
		{97, StatusExcellent},
		{92, StatusGood},
		{85, StatusAcceptable},
		{60, StatusNeedsAttention},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.accuracy); got != tt.want {
			t.Errorf("StatusFor(%v) = %v, want %v", tt.accuracy, got, tt.want)
		}
	}
}

func TestTrendOf(t *testing.T) {
	tests := []struct {
		name    string
		history []float64
		want    Trend
	}{
		{"too short", []float64{80, 90, 95, 99}, TrendStable},
		{"five samples", []float64{80, 80, 80, 80, 80}, TrendStable},
		{"improving against all earlier", []float64{80, 80, 90, 90, 90, 90, 90}, TrendImproving},
		{"declining", []float64{95, 95, 95, 95, 95, 90, 90, 90, 90, 90}, TrendDeclining},
		{"stable", []float64{90, 91, 90, 91, 90, 91, 90, 91, 90, 91}, TrendStable},
		{"only last ten count", []float64{10, 10, 10, 90, 90, 90, 90, 90, 91, 91, 91, 91, 91}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := trendOf(tt.history); got != tt.want {
				t.Errorf("trendOf = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestStabilityOf(t *testing.T) {
	repeat := func(vals ...float64) []float64 {
		var out []float64
		for i := 0; i < 5; i++ {
			out = append(out, vals...)
		}
		return out
	}
	tests := []struct {
		name    string
		history []float64
		want    Stability
	}{
		{"insufficient", []float64{90, 90, 90}, StabilityInsufficientData},
		{"very stable", repeat(90, 91), StabilityVeryStable},
		{"stable", repeat(87, 93), StabilityStable},
		{"moderate", repeat(83, 97), StabilityModerate},
		{"volatile", repeat(70, 100), StabilityVolatile},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := stabilityOf(tt.history); got != tt.want {
				t.Errorf("stabilityOf = %v, want %v", got, tt.want)
			}
		})
	}
}
