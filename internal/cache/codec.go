package cache

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/lox/dustwatch/internal/models"
)

// wireReading is the JSON form of a reading: missing measurements are
// omitted rather than encoded as sql.NullFloat64 structs.
type wireReading struct {
	LocationID   string             `json:"location_id"`
	Timestamp    time.Time          `json:"timestamp"`
	Values       map[string]float64 `json:"values"`
	ForecastDust []float64          `json:"forecast_dust,omitempty"`
}

// Encode serialises a reading for the cache and for push delivery.
func Encode(r models.Reading) ([]byte, error) {
	w := wireReading{
		LocationID:   r.LocationID,
		Timestamp:    r.Timestamp.UTC(),
		Values:       make(map[string]float64),
		ForecastDust: r.ForecastDust,
	}
	for _, f := range models.Fields {
		if v := r.Get(f); v.Valid {
			w.Values[f.String()] = v.Float64
		}
	}
	data, err := json.Marshal(w)
	if err != nil {
		return nil, fmt.Errorf("marshal reading: %w", err)
	}
	return data, nil
}

func Decode(data []byte) (models.Reading, error) {
	var w wireReading
	if err := json.Unmarshal(data, &w); err != nil {
		return models.Reading{}, fmt.Errorf("unmarshal reading: %w", err)
	}
	r := models.Reading{
		LocationID:   w.LocationID,
		Timestamp:    w.Timestamp,
		ForecastDust: w.ForecastDust,
	}
	for _, f := range models.Fields {
		if v, ok := w.Values[f.String()]; ok {
			r.Set(f, sql.NullFloat64{Float64: v, Valid: true})
		}
	}
	return r, nil
}
