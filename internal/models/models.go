package models

import (
	"database/sql"
	"math"
	"time"
)

type Location struct {
	ID         string   `yaml:"id"`
	Name       string   `yaml:"name"`
	Latitude   float64  `yaml:"lat"`
	Longitude  float64  `yaml:"lon"`
	Icon       string   `yaml:"icon"`
	Population int      `yaml:"population"`
	Airports   []string `yaml:"airports"`
}

// Reading is one snapshot of conditions at a location. Every measurement is
// independently optional. ForecastDust is only carried by sources that publish
// a forward hourly dust series.
type Reading struct {
	LocationID    string
	Timestamp     time.Time
	Dust          sql.NullFloat64
	PM10          sql.NullFloat64
	PM25          sql.NullFloat64
	AQI           sql.NullFloat64
	Temperature   sql.NullFloat64
	Humidity      sql.NullFloat64
	WindSpeed     sql.NullFloat64
	WindDirection sql.NullFloat64
	Visibility    sql.NullFloat64
	Pressure      sql.NullFloat64
	ForecastDust  []float64
}

// Field names a numeric measurement of a Reading.
type Field int

const (
	FieldDust Field = iota
	FieldPM10
	FieldPM25
	FieldAQI
	FieldTemperature
	FieldHumidity
	FieldWindSpeed
	FieldWindDirection
	FieldVisibility
	FieldPressure
)

// Fields lists every numeric field in a stable order.
var Fields = []Field{
	FieldDust, FieldPM10, FieldPM25, FieldAQI, FieldTemperature,
	FieldHumidity, FieldWindSpeed, FieldWindDirection, FieldVisibility, FieldPressure,
}

var fieldNames = [...]string{
	FieldDust:          "dust",
	FieldPM10:          "pm10",
	FieldPM25:          "pm2_5",
	FieldAQI:           "aqi",
	FieldTemperature:   "temperature",
	FieldHumidity:      "humidity",
	FieldWindSpeed:     "wind_speed",
	FieldWindDirection: "wind_direction",
	FieldVisibility:    "visibility",
	FieldPressure:      "pressure",
}

func (f Field) String() string {
	if int(f) < 0 || int(f) >= len(fieldNames) {
		return "unknown"
	}
	return fieldNames[f]
}

func (r *Reading) ptr(f Field) *sql.NullFloat64 {
	switch f {
	case FieldDust:
		return &r.Dust
	case FieldPM10:
		return &r.PM10
	case FieldPM25:
		return &r.PM25
	case FieldAQI:
		return &r.AQI
	case FieldTemperature:
		return &r.Temperature
	case FieldHumidity:
		return &r.Humidity
	case FieldWindSpeed:
		return &r.WindSpeed
	case FieldWindDirection:
		return &r.WindDirection
	case FieldVisibility:
		return &r.Visibility
	case FieldPressure:
		return &r.Pressure
	}
	return nil
}

// Get returns the value of a field.
func (r Reading) Get(f Field) sql.NullFloat64 {
	if p := r.ptr(f); p != nil {
		return *p
	}
	return sql.NullFloat64{}
}

// Set stores a value for a field.
func (r *Reading) Set(f Field, v sql.NullFloat64) {
	if p := r.ptr(f); p != nil {
		*p = v
	}
}

// Float wraps a value as a valid sql.NullFloat64.
func Float(v float64) sql.NullFloat64 {
	return sql.NullFloat64{Float64: v, Valid: true}
}

// OptFloat returns a valid sql.NullFloat64 for non-nil, finite pointers.
func OptFloat(v *float64) sql.NullFloat64 {
	if v == nil || math.IsNaN(*v) || math.IsInf(*v, 0) {
		return sql.NullFloat64{}
	}
	return Float(*v)
}

// ValueOr returns the field value or def when it is missing.
func ValueOr(v sql.NullFloat64, def float64) float64 {
	if !v.Valid {
		return def
	}
	return v.Float64
}

// HasData reports whether any measurement is present.
func (r Reading) HasData() bool {
	for _, f := range Fields {
		if r.Get(f).Valid {
			return true
		}
	}
	return len(r.ForecastDust) > 0
}

// SourceContribution is one source's reading in a fusion pass.
type SourceContribution struct {
	Source  string
	Weight  float64
	Reading Reading
}
