package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/lox/dustwatch/internal/ingest"
	"github.com/lox/dustwatch/internal/models"
)

// Alert levels and the dust concentration (µg/m³) at which each starts.
const (
	alertHigh    = "HIGH"
	alertSevere  = "SEVERE"
	alertExtreme = "EXTREME"

	highThreshold    = 50.0
	severeThreshold  = 100.0
	extremeThreshold = 200.0
)

type alert struct {
	ID           string     `json:"id"`
	LocationID   string     `json:"location_id"`
	LocationName string     `json:"location_name"`
	Kind         string     `json:"kind"`
	Level        string     `json:"level"`
	Message      string     `json:"message"`
	DustLevel    float64    `json:"dust_level"`
	Timestamp    time.Time  `json:"timestamp"`
	StartsAt     *time.Time `json:"starts_at,omitempty"`
	ExpiresAt    *time.Time `json:"expires_at,omitempty"`
}

// alertLevel maps a dust concentration to an alert level, or "" below HIGH.
func alertLevel(dust float64) string {
	switch {
	case dust >= extremeThreshold:
		return alertExtreme
	case dust >= severeThreshold:
		return alertSevere
	case dust >= highThreshold:
		return alertHigh
	default:
		return ""
	}
}

func alertMessage(level, name string) string {
	switch level {
	case alertExtreme:
		return fmt.Sprintf("Extreme sandstorm conditions in %s. Stay indoors.", name)
	case alertSevere:
		return fmt.Sprintf("Severe dust storm warning for %s. Limit outdoor activities.", name)
	default:
		return fmt.Sprintf("High dust levels in %s. Sensitive groups should take precautions.", name)
	}
}

// alertsFor derives alerts from a location's latest status: one for the
// current reading and one for the first upcoming forecast risk period.
func alertsFor(st ingest.LocationStatus) []alert {
	var out []alert
	loc := st.Location

	if d := st.Current.Reading.Dust; d.Valid {
		if level := alertLevel(d.Float64); level != "" {
			out = append(out, alert{
				ID:           fmt.Sprintf("%s_current_%d", loc.ID, st.Current.Reading.Timestamp.Unix()),
				LocationID:   loc.ID,
				LocationName: loc.Name,
				Kind:         "current",
				Level:        level,
				Message:      alertMessage(level, loc.Name),
				DustLevel:    round1(d.Float64),
				Timestamp:    st.Current.Reading.Timestamp,
			})
		}
	}

	if p := upcomingRisk(st.Forecast); p != nil {
		if level := alertLevel(p.Peak); level != "" {
			start, end := p.StartTime, p.EndTime
			out = append(out, alert{
				ID:           fmt.Sprintf("%s_forecast_%d", loc.ID, start.Unix()),
				LocationID:   loc.ID,
				LocationName: loc.Name,
				Kind:         "forecast",
				Level:        level,
				Message:      alertMessage(level, loc.Name),
				DustLevel:    round1(p.Peak),
				Timestamp:    st.Forecast.GeneratedAt,
				StartsAt:     &start,
				ExpiresAt:    &end,
			})
		}
	}
	return out
}

// upcomingRisk returns the first risk period that has not started yet.
func upcomingRisk(fc *models.Forecast) *models.RiskPeriod {
	if fc == nil {
		return nil
	}
	for i := range fc.RiskPeriods {
		if fc.RiskPeriods[i].StartHour > 0 {
			return &fc.RiskPeriods[i]
		}
	}
	return nil
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	alerts := []alert{}
	for _, loc := range s.locations {
		st, ok := s.status.Latest(loc.ID)
		if !ok {
			continue
		}
		alerts = append(alerts, alertsFor(st)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"count":  len(alerts),
		"alerts": alerts,
	})
}

func (s *Server) handleLocationAlerts(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.location(w, r)
	if !ok {
		return
	}
	alerts := []alert{}
	if st, ok := s.status.Latest(loc.ID); ok {
		alerts = append(alerts, alertsFor(st)...)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location_id": loc.ID,
		"count":       len(alerts),
		"alerts":      alerts,
	})
}
