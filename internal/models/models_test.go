package models

import (
	"math"
	"testing"
)

func TestClassifyRisk(t *testing.T) {
	tests := []struct {
		dust float64
		want RiskLevel
	}{
		{0, RiskLow},
		{19.999, RiskLow},
		{20, RiskModerate},
		{49.99, RiskModerate},
		{50, RiskHigh},
		{99.9, RiskHigh},
		{100, RiskSevere},
		{199.99, RiskSevere},
		{200, RiskExtreme},
		{2500, RiskExtreme},
	}
	for _, tt := range tests {
		if got := ClassifyRisk(tt.dust); got != tt.want {
			t.Errorf("ClassifyRisk(%v) = %v, want %v", tt.dust, got, tt.want)
		}
	}
}

func TestReadingFields(t *testing.T) {
	var r Reading
	if r.HasData() {
		t.Error("empty reading reports data")
	}
	for i, f := range Fields {
		r.Set(f, Float(float64(i)))
	}
	for i, f := range Fields {
		if v := r.Get(f); !v.Valid || v.Float64 != float64(i) {
			t.Errorf("%s = %+v, want %d", f, v, i)
		}
	}
	if !r.HasData() {
		t.Error("populated reading reports no data")
	}
	if FieldPM25.String() != "pm2_5" {
		t.Errorf("FieldPM25 = %q", FieldPM25.String())
	}
}

func TestOptFloat(t *testing.T) {
	v := 12.5
	nan := math.NaN()
	inf := math.Inf(1)
	if got := OptFloat(&v); !got.Valid || got.Float64 != 12.5 {
		t.Errorf("OptFloat(12.5) = %+v", got)
	}
	for _, p := range []*float64{nil, &nan, &inf} {
		if OptFloat(p).Valid {
			t.Errorf("OptFloat(%v) should be invalid", p)
		}
	}
}
