package ingest

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/lox/dustwatch/internal/models"
)

const (
	WeatherAPIName       = "WeatherAPI"
	weatherAPIWeight     = 0.10
	DefaultWeatherAPIURL = "https://api.weatherapi.com/v1"
)

type WeatherAPI struct {
	client  *http.Client
	apiKey  string
	BaseURL string
}

func NewWeatherAPI(client *http.Client, apiKey string) *WeatherAPI {
	return &WeatherAPI{client: client, apiKey: apiKey, BaseURL: DefaultWeatherAPIURL}
}

func (w *WeatherAPI) Name() string    { return WeatherAPIName }
func (w *WeatherAPI) Weight() float64 { return weatherAPIWeight }
func (w *WeatherAPI) Enabled() bool   { return w.apiKey != "" }

type weatherAPIResponse struct {
	Current struct {
		LastUpdatedEpoch int64    `json:"last_updated_epoch"`
		TempC            *float64 `json:"temp_c"`
		Humidity         *float64 `json:"humidity"`
		WindKph          *float64 `json:"wind_kph"`
		WindDegree       *float64 `json:"wind_degree"`
		PressureMb       *float64 `json:"pressure_mb"`
		VisKm            *float64 `json:"vis_km"`
		AirQuality       struct {
			PM25 *float64 `json:"pm2_5"`
			PM10 *float64 `json:"pm10"`
		} `json:"air_quality"`
	} `json:"current"`
}

func (w *WeatherAPI) Fetch(ctx context.Context, loc models.Location) (*models.Reading, error) {
	if !w.Enabled() {
		return nil, errors.New("weatherapi: no api key")
	}
	url := fmt.Sprintf("%s/current.json?key=%s&q=%.4f,%.4f&aqi=yes", w.BaseURL, w.apiKey, loc.Latitude, loc.Longitude)

	var resp weatherAPIResponse
	if err := getJSON(ctx, w.client, url, &resp); err != nil {
		return nil, fmt.Errorf("weatherapi: %w", err)
	}

	c := resp.Current
	r := &models.Reading{
		LocationID:    loc.ID,
		Timestamp:     time.Now().UTC(),
		Temperature:   models.OptFloat(c.TempC),
		Humidity:      models.OptFloat(c.Humidity),
		WindSpeed:     models.OptFloat(c.WindKph),
		WindDirection: models.OptFloat(c.WindDegree),
		Pressure:      models.OptFloat(c.PressureMb),
		PM25:          models.OptFloat(c.AirQuality.PM25),
		PM10:          models.OptFloat(c.AirQuality.PM10),
		Dust:          models.OptFloat(coarse(c.AirQuality.PM10, c.AirQuality.PM25)),
	}
	if c.LastUpdatedEpoch > 0 {
		r.Timestamp = time.Unix(c.LastUpdatedEpoch, 0).UTC()
	}
	if c.VisKm != nil {
		r.Visibility = models.Float(*c.VisKm * 1000)
	}
	return r, nil
}
