package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/forecast"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/view"
)

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	health := map[string]any{
		"status":         "ok",
		"service":        "dustwatch",
		"locations":      len(s.locations),
		"uptime_seconds": int(time.Since(s.started).Seconds()),
	}
	if cycle, ok := s.status.LastCycle(); ok {
		health["last_cycle"] = map[string]any{
			"started_at":     cycle.StartedAt,
			"duration_ms":    cycle.Duration.Milliseconds(),
			"sources_ok":     cycle.SourcesOK,
			"sources_failed": cycle.SourcesFailed,
			"fallbacks":      cycle.Fallbacks,
			"errors":         cycle.Errors,
		}
		if cycle.Errors == cycle.Locations && cycle.Locations > 0 {
			health["status"] = "degraded"
		}
	} else {
		health["status"] = "starting"
	}
	if s.history != nil {
		runs, err := s.history.RecentCycleRuns(recentCycles)
		if err != nil {
			s.logger.Warn("recent cycle runs", zap.Error(err))
		} else {
			health["recent_cycles"] = newCycleRunViews(runs)
		}
	}
	writeJSON(w, http.StatusOK, health)
}

type locationSummary struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Latitude   float64    `json:"lat"`
	Longitude  float64    `json:"lon"`
	Icon       string     `json:"icon,omitempty"`
	Population int        `json:"population,omitempty"`
	Airports   []string   `json:"airports,omitempty"`
	Dust       *float64   `json:"dust,omitempty"`
	RiskLevel  string     `json:"risk_level,omitempty"`
	Confidence float64    `json:"confidence,omitempty"`
	UpdatedAt  *time.Time `json:"updated_at,omitempty"`
}

func (s *Server) handleLocations(w http.ResponseWriter, r *http.Request) {
	out := make([]locationSummary, len(s.locations))
	for i, l := range s.locations {
		out[i] = locationSummary{
			ID:         l.ID,
			Name:       l.Name,
			Latitude:   l.Latitude,
			Longitude:  l.Longitude,
			Icon:       l.Icon,
			Population: l.Population,
			Airports:   l.Airports,
		}
		if st, ok := s.status.Latest(l.ID); ok {
			out[i].Dust = view.NewReading(st.Current.Reading).Dust
			out[i].RiskLevel = string(st.Current.RiskLevel)
			out[i].Confidence = st.Current.Confidence
			updated := st.UpdatedAt
			out[i].UpdatedAt = &updated
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"locations": out, "count": len(out)})
}

func (s *Server) handleCurrent(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.location(w, r)
	if !ok {
		return
	}
	st, ok := s.status.Latest(loc.ID)
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "no data yet for "+loc.ID)
		return
	}
	writeJSON(w, http.StatusOK, view.NewCurrent(st.Current))
}

const (
	recentCycles      = 5
	recentValidations = 10

	defaultHistoryHours = 24
	maxHistoryHours     = 30 * 24
)

// parseHours reads the hours query parameter, defaulting to def.
func parseHours(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("hours")
	if raw == "" {
		return def, nil
	}
	hours, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("hours must be an integer")
	}
	if hours < 1 || hours > max {
		return 0, fmt.Errorf("hours must be between 1 and %d", max)
	}
	return hours, nil
}

func (s *Server) latestForecast(w http.ResponseWriter, r *http.Request) (*models.Forecast, bool) {
	loc, ok := s.location(w, r)
	if !ok {
		return nil, false
	}
	st, ok := s.status.Latest(loc.ID)
	if !ok || st.Forecast == nil {
		writeError(w, http.StatusServiceUnavailable, "no forecast yet for "+loc.ID)
		return nil, false
	}
	return st.Forecast, true
}

func (s *Server) handleForecast(w http.ResponseWriter, r *http.Request) {
	hours, err := parseHours(r, s.ensemble.MaxHorizon(), s.ensemble.MaxHorizon())
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	fc, ok := s.latestForecast(w, r)
	if !ok {
		return
	}
	withModels := r.URL.Query().Get("models") == "true"
	writeJSON(w, http.StatusOK, view.NewForecast(forecast.Truncate(fc, hours), withModels))
}

func (s *Server) handleRiskPeriods(w http.ResponseWriter, r *http.Request) {
	fc, ok := s.latestForecast(w, r)
	if !ok {
		return
	}
	resp := map[string]any{
		"location_id":  fc.LocationID,
		"generated_at": fc.GeneratedAt,
		"risk_periods": view.NewRiskPeriods(fc.RiskPeriods),
	}
	if next := fc.NextRiskPeriod(); next != nil {
		resp["next"] = view.NewRiskPeriods([]models.RiskPeriod{*next})[0]
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.location(w, r)
	if !ok {
		return
	}
	hours, err := parseHours(r, defaultHistoryHours, maxHistoryHours)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if s.history == nil {
		writeError(w, http.StatusServiceUnavailable, "history unavailable")
		return
	}
	records, err := s.history.QueryRecords(loc.ID, time.Now().Add(-time.Duration(hours)*time.Hour))
	if err != nil {
		s.logger.Error("query history", zap.String("location", loc.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "could not load history")
		return
	}
	out := make([]historyView, len(records))
	for i, rec := range records {
		out[i] = newHistoryView(rec)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"location_id":   loc.ID,
		"location_name": loc.Name,
		"hours":         hours,
		"count":         len(out),
		"readings":      out,
	})
}

func (s *Server) handleAccuracy(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newOverallView(s.tracker.Overall()))
}

func (s *Server) handleLocationAccuracy(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.location(w, r)
	if !ok {
		return
	}
	var recent []validationView
	if s.history != nil {
		records, err := s.history.RecentValidations(loc.ID, recentValidations)
		if err != nil {
			s.logger.Warn("recent validations", zap.String("location", loc.ID), zap.Error(err))
		}
		recent = newValidationViews(records)
	}
	learned := s.ensemble.HasLearnedPatterns(loc.ID)

	ls, ok := s.tracker.LocationStats(loc.ID)
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"location_id":        loc.ID,
			"status":             "INITIALIZING",
			"validation_pending": true,
			"pending":            s.tracker.Pending(loc.ID),
			"learned_patterns":   learned,
			"recent_validations": recent,
		})
		return
	}
	writeJSON(w, http.StatusOK, locationAccuracyView{
		locationStatsView: newLocationStatsView(ls),
		LearnedPatterns:   learned,
		RecentValidations: recent,
	})
}

func (s *Server) handleCalibration(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newPerformanceView(s.tracker.PerformanceReport()))
}

func (s *Server) handleQuality(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, newQualitySummaryView(s.checker.Report()))
}

func (s *Server) handleLocationQuality(w http.ResponseWriter, r *http.Request) {
	loc, ok := s.location(w, r)
	if !ok {
		return
	}
	resp := map[string]any{"location_id": loc.ID}
	if lq, ok := s.checker.LocationQuality(loc.ID); ok {
		resp["history"] = newLocationQualityView(lq)
	}
	if b := s.checker.Baseline(loc.ID); len(b) > 0 {
		resp["baseline"] = newBaselineView(b)
	}
	if st, ok := s.status.Latest(loc.ID); ok {
		resp["current"] = view.NewQuality(st.Current.Quality)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleWeights(w http.ResponseWriter, r *http.Request) {
	weights := s.ensemble.Weights()
	writeJSON(w, http.StatusOK, map[string]any{
		"model_version": forecast.ModelVersion,
		"weights":       weights.Map(),
	})
}

func (s *Server) handleSetWeight(w http.ResponseWriter, r *http.Request) {
	m, err := forecast.ParseModel(mux.Vars(r)["model"])
	if err != nil {
		writeError(w, http.StatusNotFound, err.Error())
		return
	}
	var body struct {
		Weight *float64 `json:"weight"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Weight == nil {
		writeError(w, http.StatusBadRequest, "body must be {\"weight\": <number>}")
		return
	}
	if err := s.ensemble.SetWeight(m, *body.Weight); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.handleWeights(w, r)
}
