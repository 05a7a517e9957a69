// Package api serves the latest fused readings, forecasts, accuracy and
// quality reports as JSON.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/accuracy"
	"github.com/lox/dustwatch/internal/forecast"
	"github.com/lox/dustwatch/internal/ingest"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
	"github.com/lox/dustwatch/internal/store"
)

// StatusSource supplies the latest processed state per location.
type StatusSource interface {
	Latest(locationID string) (ingest.LocationStatus, bool)
	LastCycle() (ingest.CycleSummary, bool)
}

// History supplies persisted readings, validations and cycle runs.
type History interface {
	QueryRecords(locationID string, since time.Time) ([]store.ReadingRecord, error)
	RecentValidations(locationID string, limit int) ([]store.ValidationRecord, error)
	RecentCycleRuns(limit int) ([]store.CycleRun, error)
}

type Server struct {
	logger    *zap.Logger
	port      string
	locations []models.Location
	byID      map[string]models.Location
	status    StatusSource
	history   History
	ensemble  *forecast.Ensemble
	tracker   *accuracy.Tracker
	checker   *quality.Checker
	started   time.Time
}

// Deps are the services the API reads from. History may be nil, in which case
// the history endpoint answers 503.
type Deps struct {
	Locations []models.Location
	Status    StatusSource
	History   History
	Ensemble  *forecast.Ensemble
	Tracker   *accuracy.Tracker
	Checker   *quality.Checker
}

func NewServer(logger *zap.Logger, port string, deps Deps) *Server {
	byID := make(map[string]models.Location, len(deps.Locations))
	for _, l := range deps.Locations {
		byID[l.ID] = l
	}
	return &Server{
		logger:    logger.Named("api"),
		port:      port,
		locations: deps.Locations,
		byID:      byID,
		status:    deps.Status,
		history:   deps.History,
		ensemble:  deps.Ensemble,
		tracker:   deps.Tracker,
		checker:   deps.Checker,
		started:   time.Now(),
	}
}

func (s *Server) Handler() http.Handler {
	r := mux.NewRouter()
	r.Use(s.logRequests)

	r.HandleFunc("/health", s.handleHealth).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/locations", s.handleLocations).Methods("GET")
	api.HandleFunc("/locations/{id}/current", s.handleCurrent).Methods("GET")
	api.HandleFunc("/locations/{id}/forecast", s.handleForecast).Methods("GET")
	api.HandleFunc("/locations/{id}/risk-periods", s.handleRiskPeriods).Methods("GET")
	api.HandleFunc("/locations/{id}/history", s.handleHistory).Methods("GET")

	api.HandleFunc("/alerts", s.handleAlerts).Methods("GET")
	api.HandleFunc("/alerts/{id}", s.handleLocationAlerts).Methods("GET")

	api.HandleFunc("/accuracy", s.handleAccuracy).Methods("GET")
	api.HandleFunc("/accuracy/calibration", s.handleCalibration).Methods("GET")
	api.HandleFunc("/accuracy/{id}", s.handleLocationAccuracy).Methods("GET")

	api.HandleFunc("/quality", s.handleQuality).Methods("GET")
	api.HandleFunc("/quality/{id}", s.handleLocationQuality).Methods("GET")

	api.HandleFunc("/model/weights", s.handleWeights).Methods("GET")
	api.HandleFunc("/model/weights/{model}", s.handleSetWeight).Methods("PUT")

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "not found")
	})
	return r
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              ":" + s.port,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	s.logger.Info("listening", zap.String("addr", server.Addr))
	if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debug("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", time.Since(start)))
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// location resolves the {id} path variable, writing a 404 for unknown ids.
func (s *Server) location(w http.ResponseWriter, r *http.Request) (models.Location, bool) {
	id := mux.Vars(r)["id"]
	loc, ok := s.byID[id]
	if !ok {
		writeError(w, http.StatusNotFound, models.ErrUnknownLocation.Error()+": "+id)
	}
	return loc, ok
}
