package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/lox/dustwatch/internal/models"
)

const (
	AQICNName         = "AQICN"
	aqicnWeight       = 0.20
	DefaultAQICNURL   = "https://api.waqi.info"
	metresPerSecToKmh = 3.6
)

// AQICN reports the nearest station's composite AQI and weather. Its
// pollutant values are per-pollutant AQI sub-indices, not concentrations, so
// only the composite AQI is taken from it.
type AQICN struct {
	client  *http.Client
	token   string
	BaseURL string
	now     func() time.Time
}

func NewAQICN(client *http.Client, token string) *AQICN {
	return &AQICN{client: client, token: token, BaseURL: DefaultAQICNURL, now: time.Now}
}

func (a *AQICN) Name() string    { return AQICNName }
func (a *AQICN) Weight() float64 { return aqicnWeight }
func (a *AQICN) Enabled() bool   { return a.token != "" }

type aqicnResponse struct {
	Status string          `json:"status"`
	Data   json.RawMessage `json:"data"`
}

type aqicnValue struct {
	V *float64 `json:"v"`
}

type aqicnData struct {
	AQI  json.RawMessage `json:"aqi"`
	IAQI struct {
		T aqicnValue `json:"t"`
		H aqicnValue `json:"h"`
		W aqicnValue `json:"w"`
		P aqicnValue `json:"p"`
	} `json:"iaqi"`
	Time struct {
		ISO string `json:"iso"`
	} `json:"time"`
}

// flexFloat parses a number that may be encoded as a JSON number, a numeric
// string, or "-" for no data.
func flexFloat(raw json.RawMessage) *float64 {
	if len(raw) == 0 {
		return nil
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err == nil {
		return &f
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil
	}
	return &f
}

func (a *AQICN) Fetch(ctx context.Context, loc models.Location) (*models.Reading, error) {
	if !a.Enabled() {
		return nil, errors.New("aqicn: no token")
	}
	url := fmt.Sprintf("%s/feed/geo:%.4f;%.4f/?token=%s", a.BaseURL, loc.Latitude, loc.Longitude, a.token)

	var resp aqicnResponse
	if err := getJSON(ctx, a.client, url, &resp); err != nil {
		return nil, fmt.Errorf("aqicn: %w", err)
	}
	if resp.Status != "ok" {
		var msg string
		json.Unmarshal(resp.Data, &msg)
		return nil, fmt.Errorf("aqicn: status %q: %s", resp.Status, msg)
	}

	var data aqicnData
	if err := json.Unmarshal(resp.Data, &data); err != nil {
		return nil, fmt.Errorf("aqicn: unmarshal data: %w", err)
	}

	ts := a.now().UTC()
	if t, err := time.Parse(time.RFC3339, data.Time.ISO); err == nil {
		ts = t.UTC()
	}

	r := &models.Reading{
		LocationID:  loc.ID,
		Timestamp:   ts,
		AQI:         models.OptFloat(flexFloat(data.AQI)),
		Temperature: models.OptFloat(data.IAQI.T.V),
		Humidity:    models.OptFloat(data.IAQI.H.V),
		Pressure:    models.OptFloat(data.IAQI.P.V),
	}
	if w := data.IAQI.W.V; w != nil {
		r.WindSpeed = models.Float(*w * metresPerSecToKmh)
	}
	return r, nil
}
