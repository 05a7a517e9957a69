package quality

import (
	"math"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
)

func newTestChecker() *Checker {
	c := NewChecker(zap.NewNop())
	c.now = func() time.Time { return time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC) }
	return c
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name         string
		reading      models.Reading
		wantScore    float64
		wantLevel    Level
		wantIssues   int
		wantWarnings int
		wantValid    bool
	}{
		{
			name: "typical reading",
			reading: models.Reading{
				Dust:        models.Float(50),
				PM10:        models.Float(60),
				Temperature: models.Float(35),
				Humidity:    models.Float(40),
				WindSpeed:   models.Float(15),
			},
			wantScore: 100,
			wantLevel: LevelExcellent,
			wantValid: true,
		},
		{
			name:       "negative dust",
			reading:    models.Reading{Dust: models.Float(-10)},
			wantScore:  30,
			wantLevel:  LevelPoor,
			wantIssues: 1,
			wantValid:  false,
		},
		{
			name:       "negative dust and extreme temperature",
			reading:    models.Reading{Dust: models.Float(-10), Temperature: models.Float(100)},
			wantScore:  30,
			wantLevel:  LevelPoor,
			wantIssues: 2,
		},
		{
			name:         "atypical but valid dust",
			reading:      models.Reading{Dust: models.Float(250)},
			wantScore:    85,
			wantLevel:    LevelGood,
			wantWarnings: 1,
			wantValid:    true,
		},
		{
			name:       "not a number",
			reading:    models.Reading{Dust: models.Float(math.NaN()), PM10: models.Float(60)},
			wantScore:  50,
			wantLevel:  LevelFair,
			wantIssues: 1,
			wantValid:  true,
		},
		{
			name:       "high dust with clear visibility",
			reading:    models.Reading{Dust: models.Float(150), Visibility: models.Float(30000)},
			wantScore:  90,
			wantLevel:  LevelGood,
			wantIssues: 1,
			wantValid:  true,
		},
		{
			name:       "pm2_5 above pm10",
			reading:    models.Reading{PM10: models.Float(20), PM25: models.Float(30)},
			wantScore:  90,
			wantLevel:  LevelGood,
			wantIssues: 1,
			wantValid:  true,
		},
		{
			name: "many issues are penalised",
			reading: models.Reading{
				Dust:        models.Float(-10),
				PM10:        models.Float(-1),
				PM25:        models.Float(-1),
				Temperature: models.Float(100),
			},
			wantScore:  24,
			wantLevel:  LevelPoor,
			wantIssues: 4,
		},
		{
			name:      "empty reading",
			reading:   models.Reading{},
			wantScore: 50,
			wantLevel: LevelFair,
			wantValid: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker()
			got := c.Validate("dubai", tt.reading)
			if math.Abs(got.QualityScore-tt.wantScore) > 0.05 {
				t.Errorf("QualityScore = %v, want %v", got.QualityScore, tt.wantScore)
			}
			if got.QualityLevel != tt.wantLevel {
				t.Errorf("QualityLevel = %v, want %v", got.QualityLevel, tt.wantLevel)
			}
			if len(got.Issues) != tt.wantIssues {
				t.Errorf("Issues = %v, want %d", got.Issues, tt.wantIssues)
			}
			if len(got.Warnings) != tt.wantWarnings {
				t.Errorf("Warnings = %v, want %d", got.Warnings, tt.wantWarnings)
			}
			if got.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v", got.IsValid, tt.wantValid)
			}
			if got.IsReliable != (got.QualityScore >= 70) {
				t.Errorf("IsReliable = %v for score %v", got.IsReliable, got.QualityScore)
			}
		})
	}
}

func TestValidate_TemporalJump(t *testing.T) {
	c := newTestChecker()
	for i := 0; i < 3; i++ {
		c.Validate("dubai", models.Reading{Dust: models.Float(20)})
	}

	got := c.Validate("dubai", models.Reading{Dust: models.Float(100)})
	if len(got.Issues) != 0 {
		t.Errorf("temporal jump should not raise issues, got %v", got.Issues)
	}
	if len(got.Warnings) != 1 || !strings.HasPrefix(got.Warnings[0], "rapid dust change") {
		t.Fatalf("Warnings = %v, want a rapid dust change warning", got.Warnings)
	}
	if got.QualityScore != 90 {
		t.Errorf("QualityScore = %v, want 90", got.QualityScore)
	}

	// Other locations keep their own history.
	other := c.Validate("abu_dhabi", models.Reading{Dust: models.Float(100)})
	if len(other.Warnings) != 0 {
		t.Errorf("abu_dhabi warnings = %v, want none", other.Warnings)
	}
}

func TestValidate_TemporalDrop(t *testing.T) {
	c := newTestChecker()
	for i := 0; i < 4; i++ {
		c.Validate("dubai", models.Reading{Dust: models.Float(100)})
	}
	got := c.Validate("dubai", models.Reading{Dust: models.Float(10)})
	if len(got.Warnings) != 1 {
		t.Errorf("Warnings = %v, want one rapid change warning", got.Warnings)
	}
}

func baselineReadings(n int, dust float64) []models.Reading {
	readings := make([]models.Reading, n)
	for i := range readings {
		offset := 2.0
		if i%2 == 0 {
			offset = -2.0
		}
		readings[i] = models.Reading{
			Dust:        models.Float(dust + offset),
			Temperature: models.Float(35),
		}
	}
	return readings
}

func TestUpdateBaselines(t *testing.T) {
	c := newTestChecker()

	if c.UpdateBaselines("dubai", baselineReadings(47, 30)) {
		t.Error("UpdateBaselines with 47 readings should be skipped")
	}
	if c.Baseline("dubai") != nil {
		t.Error("Baseline should be nil before an update")
	}

	if !c.UpdateBaselines("dubai", baselineReadings(48, 30)) {
		t.Fatal("UpdateBaselines with 48 readings should succeed")
	}
	b := c.Baseline("dubai")
	dust, ok := b[models.FieldDust]
	if !ok {
		t.Fatal("baseline missing dust")
	}
	if dust.Mean != 30 || dust.Std != 2 {
		t.Errorf("dust baseline = %+v, want mean 30 std 2", dust)
	}
	if _, ok := b[models.FieldPM10]; ok {
		t.Error("pm10 should be absent without enough samples")
	}
}

func TestValidate_Anomaly(t *testing.T) {
	tests := []struct {
		name string
		dust float64
		want string
	}{
		{"unusual", 36, "dust: unusual value"},
		{"statistical anomaly", 60, "dust: statistical anomaly"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestChecker()
			c.UpdateBaselines("dubai", baselineReadings(48, 30))

			got := c.Validate("dubai", models.Reading{Dust: models.Float(tt.dust)})
			if len(got.Warnings) != 1 || !strings.HasPrefix(got.Warnings[0], tt.want) {
				t.Errorf("Warnings = %v, want prefix %q", got.Warnings, tt.want)
			}
			if len(got.Issues) != 0 {
				t.Errorf("Issues = %v, want none", got.Issues)
			}
		})
	}
}

func TestValidateBatch(t *testing.T) {
	c := newTestChecker()
	report := c.ValidateBatch([]models.Reading{
		{LocationID: "dubai", Dust: models.Float(50)},
		{LocationID: "dubai", Dust: models.Float(-10)},
		{LocationID: "sharjah", Dust: models.Float(-5), Pressure: models.Float(800)},
		{LocationID: "sharjah", Dust: models.Float(40)},
	})

	if report.TotalReadings != 4 {
		t.Errorf("TotalReadings = %d, want 4", report.TotalReadings)
	}
	if report.ValidReadings != 2 || report.InvalidReadings != 2 {
		t.Errorf("Valid/Invalid = %d/%d, want 2/2", report.ValidReadings, report.InvalidReadings)
	}
	if report.PassRate != 50 {
		t.Errorf("PassRate = %v, want 50", report.PassRate)
	}
	if report.IssueSummary["dust"] != 2 || report.IssueSummary["pressure"] != 1 {
		t.Errorf("IssueSummary = %v", report.IssueSummary)
	}
}

func TestReport(t *testing.T) {
	c := newTestChecker()
	for i := 0; i < 5; i++ {
		c.Validate("dubai", models.Reading{Pressure: models.Float(800)})
	}
	for i := 0; i < 5; i++ {
		c.Validate("dubai", models.Reading{Dust: models.Float(50)})
	}
	c.Validate("sharjah", models.Reading{Dust: models.Float(50)})

	summary := c.Report()
	if summary.LocationsTracked != 2 {
		t.Fatalf("LocationsTracked = %d, want 2", summary.LocationsTracked)
	}
	dubai := summary.Locations[0]
	if dubai.LocationID != "dubai" {
		t.Fatalf("first location = %s, want dubai", dubai.LocationID)
	}
	if dubai.Trend != TrendImproving {
		t.Errorf("Trend = %v, want IMPROVING", dubai.Trend)
	}
	if dubai.MinScore != 30 || dubai.MaxScore != 100 || dubai.CurrentScore != 100 {
		t.Errorf("min/max/current = %v/%v/%v", dubai.MinScore, dubai.MaxScore, dubai.CurrentScore)
	}
	if summary.Locations[1].Trend != TrendInsufficientData {
		t.Errorf("sharjah Trend = %v, want INSUFFICIENT_DATA", summary.Locations[1].Trend)
	}
}
