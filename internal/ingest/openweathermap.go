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
	OpenWeatherMapName       = "OpenWeatherMap"
	openWeatherMapWeight     = 0.20
	DefaultOpenWeatherMapURL = "https://api.openweathermap.org"
)

type OpenWeatherMap struct {
	client  *http.Client
	apiKey  string
	BaseURL string
}

func NewOpenWeatherMap(client *http.Client, apiKey string) *OpenWeatherMap {
	return &OpenWeatherMap{client: client, apiKey: apiKey, BaseURL: DefaultOpenWeatherMapURL}
}

func (o *OpenWeatherMap) Name() string    { return OpenWeatherMapName }
func (o *OpenWeatherMap) Weight() float64 { return openWeatherMapWeight }
func (o *OpenWeatherMap) Enabled() bool   { return o.apiKey != "" }

type owmWeather struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     *float64 `json:"temp"`
		Humidity *float64 `json:"humidity"`
		Pressure *float64 `json:"pressure"`
	} `json:"main"`
	Wind struct {
		Speed *float64 `json:"speed"`
		Deg   *float64 `json:"deg"`
	} `json:"wind"`
	Visibility *float64 `json:"visibility"`
}

type owmAirPollution struct {
	List []struct {
		Dt         int64 `json:"dt"`
		Components struct {
			PM25 *float64 `json:"pm2_5"`
			PM10 *float64 `json:"pm10"`
		} `json:"components"`
	} `json:"list"`
}

func (o *OpenWeatherMap) Fetch(ctx context.Context, loc models.Location) (*models.Reading, error) {
	if !o.Enabled() {
		return nil, errors.New("openweathermap: no api key")
	}
	coords := fmt.Sprintf("lat=%.4f&lon=%.4f&appid=%s", loc.Latitude, loc.Longitude, o.apiKey)

	var wx owmWeather
	wxErr := getJSON(ctx, o.client, o.BaseURL+"/data/2.5/weather?units=metric&"+coords, &wx)

	var ap owmAirPollution
	apErr := getJSON(ctx, o.client, o.BaseURL+"/data/2.5/air_pollution?"+coords, &ap)

	if wxErr != nil && apErr != nil {
		return nil, fmt.Errorf("openweathermap: %w", wxErr)
	}

	r := &models.Reading{LocationID: loc.ID, Timestamp: time.Now().UTC()}
	if wxErr == nil {
		if wx.Dt > 0 {
			r.Timestamp = time.Unix(wx.Dt, 0).UTC()
		}
		r.Temperature = models.OptFloat(wx.Main.Temp)
		r.Humidity = models.OptFloat(wx.Main.Humidity)
		r.Pressure = models.OptFloat(wx.Main.Pressure)
		r.WindDirection = models.OptFloat(wx.Wind.Deg)
		r.Visibility = models.OptFloat(wx.Visibility)
		if s := wx.Wind.Speed; s != nil {
			r.WindSpeed = models.Float(*s * metresPerSecToKmh)
		}
	}
	if apErr == nil && len(ap.List) > 0 {
		c := ap.List[0].Components
		r.PM25 = models.OptFloat(c.PM25)
		r.PM10 = models.OptFloat(c.PM10)
		r.Dust = models.OptFloat(coarse(c.PM10, c.PM25))
	}
	return r, nil
}
