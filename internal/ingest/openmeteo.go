package ingest

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/lox/dustwatch/internal/models"
)

const (
	OpenMeteoName   = "Open-Meteo"
	openMeteoWeight = 0.35
	maxForwardHours = 120

	DefaultOpenMeteoAirQualityURL = "https://air-quality-api.open-meteo.com/v1/air-quality"
	DefaultOpenMeteoWeatherURL    = "https://api.open-meteo.com/v1/forecast"
)

// OpenMeteo is the primary source. It needs no key and is the only provider
// with a native dust series, including a forward hourly forecast.
type OpenMeteo struct {
	client        *http.Client
	AirQualityURL string
	WeatherURL    string
	now           func() time.Time
}

func NewOpenMeteo(client *http.Client) *OpenMeteo {
	return &OpenMeteo{
		client:        client,
		AirQualityURL: DefaultOpenMeteoAirQualityURL,
		WeatherURL:    DefaultOpenMeteoWeatherURL,
		now:           time.Now,
	}
}

func (o *OpenMeteo) Name() string    { return OpenMeteoName }
func (o *OpenMeteo) Weight() float64 { return openMeteoWeight }
func (o *OpenMeteo) Enabled() bool   { return true }

type openMeteoAirQuality struct {
	Current struct {
		Time  string   `json:"time"`
		PM10  *float64 `json:"pm10"`
		PM25  *float64 `json:"pm2_5"`
		Dust  *float64 `json:"dust"`
		USAQI *float64 `json:"us_aqi"`
	} `json:"current"`
	Hourly struct {
		Time []string   `json:"time"`
		Dust []*float64 `json:"dust"`
	} `json:"hourly"`
}

type openMeteoWeather struct {
	Current struct {
		Temperature   *float64 `json:"temperature_2m"`
		Humidity      *float64 `json:"relative_humidity_2m"`
		WindSpeed     *float64 `json:"wind_speed_10m"`
		WindDirection *float64 `json:"wind_direction_10m"`
		Pressure      *float64 `json:"surface_pressure"`
		Visibility    *float64 `json:"visibility"`
	} `json:"current"`
}

const openMeteoTimeLayout = "2006-01-02T15:04"

func (o *OpenMeteo) coords(loc models.Location) url.Values {
	q := url.Values{}
	q.Set("latitude", fmt.Sprintf("%.4f", loc.Latitude))
	q.Set("longitude", fmt.Sprintf("%.4f", loc.Longitude))
	q.Set("timezone", "GMT")
	return q
}

func (o *OpenMeteo) Fetch(ctx context.Context, loc models.Location) (*models.Reading, error) {
	aqQuery := o.coords(loc)
	aqQuery.Set("current", "pm10,pm2_5,dust,us_aqi")
	aqQuery.Set("hourly", "dust")
	aqQuery.Set("forecast_days", "5")

	var aq openMeteoAirQuality
	aqErr := getJSON(ctx, o.client, o.AirQualityURL+"?"+aqQuery.Encode(), &aq)

	wxQuery := o.coords(loc)
	wxQuery.Set("current", "temperature_2m,relative_humidity_2m,wind_speed_10m,wind_direction_10m,surface_pressure,visibility")

	var wx openMeteoWeather
	wxErr := getJSON(ctx, o.client, o.WeatherURL+"?"+wxQuery.Encode(), &wx)

	if aqErr != nil && wxErr != nil {
		return nil, fmt.Errorf("open-meteo air quality: %w", aqErr)
	}

	now := o.now().UTC()
	r := &models.Reading{LocationID: loc.ID, Timestamp: now}
	if aqErr == nil {
		r.Dust = models.OptFloat(aq.Current.Dust)
		r.PM10 = models.OptFloat(aq.Current.PM10)
		r.PM25 = models.OptFloat(aq.Current.PM25)
		r.AQI = models.OptFloat(aq.Current.USAQI)
		r.ForecastDust = forwardDust(aq.Hourly.Time, aq.Hourly.Dust, now)
	}
	if wxErr == nil {
		c := wx.Current
		r.Temperature = models.OptFloat(c.Temperature)
		r.Humidity = models.OptFloat(c.Humidity)
		r.WindSpeed = models.OptFloat(c.WindSpeed)
		r.WindDirection = models.OptFloat(c.WindDirection)
		r.Pressure = models.OptFloat(c.Pressure)
		r.Visibility = models.OptFloat(c.Visibility)
	}
	return r, nil
}

// forwardDust aligns the hourly dust series so that index 0 is the current
// hour. Gaps take the nearest earlier value, or the first known value when
// the series starts with a gap.
func forwardDust(times []string, values []*float64, now time.Time) []float64 {
	hour := now.Truncate(time.Hour)
	var aligned []*float64
	for i, ts := range times {
		if i >= len(values) || len(aligned) >= maxForwardHours {
			break
		}
		t, err := time.Parse(openMeteoTimeLayout, ts)
		if err != nil || t.Before(hour) {
			continue
		}
		aligned = append(aligned, values[i])
	}

	first := -1
	for i, v := range aligned {
		if v != nil {
			first = i
			break
		}
	}
	if first < 0 {
		return nil
	}
	out := make([]float64, len(aligned))
	prev := *aligned[first]
	for i, v := range aligned {
		if v != nil {
			prev = *v
		}
		out[i] = prev
	}
	return out
}
