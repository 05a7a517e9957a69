package view

import (
	"encoding/json"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/lox/dustwatch/internal/fusion"
	"github.com/lox/dustwatch/internal/models"
)

func TestNewReading_OmitsMissing(t *testing.T) {
	r := models.Reading{
		Timestamp: time.Date(2026, 6, 15, 5, 0, 0, 0, time.UTC),
		Dust:      models.Float(40.7272),
		PM10:      models.Float(math.NaN()),
	}
	v := NewReading(r)
	if v.Dust == nil || *v.Dust != 40.73 {
		t.Errorf("Dust = %v, want 40.73", v.Dust)
	}
	if v.PM10 != nil {
		t.Error("NaN PM10 should be omitted")
	}

	data, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	if strings.Contains(string(data), "pm10") {
		t.Errorf("json = %s, should not contain pm10", data)
	}
}

func TestNewCurrent_EmptySlices(t *testing.T) {
	c := NewCurrent(fusion.Result{Reading: models.Reading{LocationID: "dubai"}})
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	for _, want := range []string{`"sources":[]`, `"issues":[]`, `"location_id":"dubai"`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("json missing %s: %s", want, data)
		}
	}
}

func TestNewForecast(t *testing.T) {
	now := time.Date(2026, 6, 15, 5, 0, 0, 0, time.UTC)
	f := &models.Forecast{
		LocationID: "dubai",
		Hourly: []models.HourlyPrediction{
			{HourOffset: 0, Time: now, Value: 55.56, RiskLevel: models.RiskHigh, Breakdown: map[string]float64{"pattern": 50}},
			{HourOffset: 1, Time: now.Add(time.Hour), Value: 10, RiskLevel: models.RiskLow},
		},
		RiskPeriods: []models.RiskPeriod{{StartHour: 0, EndHour: 1, DurationHours: 1, Peak: 55.55, Severity: models.RiskHigh}},
	}

	v := NewForecast(f, false)
	if v.Hours != 2 || v.Hourly[0].Value != 55.6 {
		t.Errorf("hours = %d, value = %v", v.Hours, v.Hourly[0].Value)
	}
	if v.Hourly[0].Models != nil {
		t.Error("models should be omitted")
	}
	if len(v.RiskPeriods) != 1 || v.RiskPeriods[0].Severity != "HIGH" {
		t.Errorf("risk periods = %+v", v.RiskPeriods)
	}

	v = NewForecast(f, true)
	if v.Hourly[0].Models["pattern"] != 50 {
		t.Errorf("models = %v", v.Hourly[0].Models)
	}
}
