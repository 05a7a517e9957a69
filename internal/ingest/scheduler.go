package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/accuracy"
	"github.com/lox/dustwatch/internal/delivery"
	"github.com/lox/dustwatch/internal/forecast"
	"github.com/lox/dustwatch/internal/fusion"
	"github.com/lox/dustwatch/internal/metrics"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
	"github.com/lox/dustwatch/internal/store"
	"github.com/lox/dustwatch/internal/view"
)

const (
	DefaultInterval           = 5 * time.Minute
	DefaultValidationInterval = time.Hour
	DefaultRetention          = 30 * 24 * time.Hour

	baselineWindow = 7 * 24 * time.Hour
	historyWindow  = 14 * 24 * time.Hour
)

type Config struct {
	Locations          []models.Location
	Interval           time.Duration
	ValidationInterval time.Duration
	Retention          time.Duration
}

// Services are the collaborators a cycle drives. Store may be nil, in which
// case nothing is persisted. Publisher defaults to delivery.Nop.
type Services struct {
	Collector   *Collector
	Engine      *fusion.Engine
	Checker     *quality.Checker
	Ensemble    *forecast.Ensemble
	Tracker     *accuracy.Tracker
	Predictions *PredictionBuffer
	Store       *store.Store
	Publisher   delivery.Publisher
}

// LocationStatus is the latest processed state of one location.
type LocationStatus struct {
	Location   models.Location
	Current    fusion.Result
	Forecast   *models.Forecast
	Validation *accuracy.ValidationReport
	UpdatedAt  time.Time
}

type CycleSummary struct {
	RunID         string
	StartedAt     time.Time
	Duration      time.Duration
	Locations     int
	SourcesOK     int
	SourcesFailed int
	Fallbacks     int
	Errors        int
}

type Scheduler struct {
	logger *zap.Logger
	cfg    Config
	svc    Services
	now    func() time.Time

	cycleMu sync.Mutex

	mu        sync.RWMutex
	latest    map[string]LocationStatus
	lastCycle *CycleSummary
}

func NewScheduler(logger *zap.Logger, cfg Config, svc Services) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ValidationInterval <= 0 {
		cfg.ValidationInterval = DefaultValidationInterval
	}
	if cfg.Retention <= 0 {
		cfg.Retention = DefaultRetention
	}
	if svc.Publisher == nil {
		svc.Publisher = delivery.Nop{}
	}
	return &Scheduler{
		logger: logger.Named("scheduler"),
		cfg:    cfg,
		svc:    svc,
		now:    time.Now,
		latest: make(map[string]LocationStatus),
	}
}

// Run restores persisted state, runs a cycle immediately and then one per
// interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) {
	if err := s.Restore(); err != nil {
		s.logger.Warn("restore state", zap.Error(err))
	}
	s.runCycle(ctx)

	cycleTicker := time.NewTicker(s.cfg.Interval)
	validationTicker := time.NewTicker(s.cfg.ValidationInterval)
	defer cycleTicker.Stop()
	defer validationTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("shutting down")
			return
		case <-cycleTicker.C:
			s.runCycle(ctx)
		case <-validationTicker.C:
			s.RunMaintenance()
		}
	}
}

func (s *Scheduler) runCycle(ctx context.Context) {
	if _, err := s.RunCycle(ctx); err != nil {
		s.logger.Error("cycle failed", zap.Error(err))
	}
}

// RunCycle collects, fuses, validates and forecasts every location once.
// Per-location failures are logged and counted; the cycle carries on.
func (s *Scheduler) RunCycle(ctx context.Context) (CycleSummary, error) {
	s.cycleMu.Lock()
	defer s.cycleMu.Unlock()

	start := s.now()
	summary := CycleSummary{StartedAt: start, Locations: len(s.cfg.Locations)}

	var run *store.CycleRun
	if s.svc.Store != nil {
		var err error
		if run, err = s.svc.Store.StartCycleRun(); err != nil {
			s.logger.Warn("start cycle run", zap.Error(err))
		} else {
			summary.RunID = run.ID
		}
	}

	contributions, stats := s.svc.Collector.Collect(ctx, s.cfg.Locations)
	summary.SourcesOK = stats.OK
	summary.SourcesFailed = stats.Failed

	for _, loc := range s.cfg.Locations {
		if ctx.Err() != nil {
			break
		}
		fallback, err := s.processLocation(ctx, loc, contributions[loc.ID])
		if fallback {
			summary.Fallbacks++
		}
		if err != nil {
			summary.Errors++
			s.logger.Error("process location", zap.String("location", loc.ID), zap.Error(err))
		}
	}

	summary.Duration = s.now().Sub(start)
	metrics.CycleDuration.Observe(summary.Duration.Seconds())

	s.mu.Lock()
	s.lastCycle = &summary
	s.mu.Unlock()

	var cycleErr error
	if err := ctx.Err(); err != nil {
		cycleErr = fmt.Errorf("cycle interrupted: %w", err)
	} else if summary.Errors > 0 && summary.Errors == summary.Locations {
		cycleErr = fmt.Errorf("all %d locations failed", summary.Errors)
	}

	if run != nil {
		run.Locations = sql.NullInt64{Int64: int64(summary.Locations), Valid: true}
		run.SourcesOK = sql.NullInt64{Int64: int64(summary.SourcesOK), Valid: true}
		run.SourcesFailed = sql.NullInt64{Int64: int64(summary.SourcesFailed), Valid: true}
		run.Fallbacks = sql.NullInt64{Int64: int64(summary.Fallbacks), Valid: true}
		run.Success = cycleErr == nil
		if cycleErr != nil {
			run.ErrorMessage = sql.NullString{String: cycleErr.Error(), Valid: true}
		}
		if err := s.svc.Store.CompleteCycleRun(run); err != nil {
			s.logger.Warn("complete cycle run", zap.Error(err))
		}
	}

	s.logger.Info("cycle complete",
		zap.Int("locations", summary.Locations),
		zap.Int("sources_ok", summary.SourcesOK),
		zap.Int("sources_failed", summary.SourcesFailed),
		zap.Int("fallbacks", summary.Fallbacks),
		zap.Int("errors", summary.Errors),
		zap.Duration("duration", summary.Duration))

	return summary, cycleErr
}

func (s *Scheduler) processLocation(ctx context.Context, loc models.Location, contributions []models.SourceContribution) (fallback bool, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic: %v", p)
		}
	}()

	res := s.svc.Engine.Fuse(ctx, loc, contributions)
	fallback = res.Fallback
	status := LocationStatus{Location: loc, Current: res, UpdatedAt: s.now()}

	dust := models.ValueOr(res.Reading.Dust, 0)
	metrics.FusedDust.WithLabelValues(loc.ID).Set(dust)
	metrics.FusionConfidence.WithLabelValues(loc.ID).Set(res.Confidence)
	metrics.QualityScore.WithLabelValues(loc.ID).Set(res.Quality.QualityScore)

	if !res.Fallback {
		if report, ok := s.svc.Tracker.Validate(loc.ID, []models.Reading{res.Reading}); ok {
			s.applyValidation(report)
			status.Validation = report
		}
		s.svc.Ensemble.Observe(loc.ID, res.Reading)
	}

	if s.svc.Store != nil {
		rec := store.ReadingRecord{
			Reading:      res.Reading,
			Confidence:   res.Confidence,
			SourcesUsed:  res.SourcesUsed,
			QualityScore: res.Quality.QualityScore,
			DataQuality:  res.DataQuality,
			Fallback:     res.Fallback,
		}
		if err := s.svc.Store.AppendReading(rec); err != nil {
			s.logger.Warn("store reading", zap.String("location", loc.ID), zap.Error(err))
		} else {
			metrics.ReadingsStored.WithLabelValues(loc.ID).Inc()
		}
	}

	fc, err := s.svc.Ensemble.Forecast(loc.ID, forecast.Snapshot{
		Reading:      res.Reading,
		SourcesUsed:  res.SourcesUsed,
		QualityScore: res.Quality.QualityScore,
	}, s.svc.Ensemble.MaxHorizon())
	if err != nil {
		s.storeStatus(status)
		return fallback, fmt.Errorf("forecast: %w", err)
	}
	status.Forecast = fc

	if s.svc.Predictions != nil {
		preds := s.svc.Predictions.Drain(loc.ID)
		if s.svc.Store != nil {
			if err := s.svc.Store.InsertPredictions(preds); err != nil {
				s.logger.Warn("store predictions", zap.String("location", loc.ID), zap.Error(err))
			}
		}
	}

	s.storeStatus(status)
	s.publish(ctx, status)
	return fallback, nil
}

// applyValidation feeds a validation pass back into the ensemble weights and
// persists it.
func (s *Scheduler) applyValidation(report *accuracy.ValidationReport) {
	errs := make(map[forecast.Model]float64, len(report.ModelMAE))
	for name, mae := range report.ModelMAE {
		m, err := forecast.ParseModel(name)
		if err != nil {
			continue
		}
		errs[m] = mae
	}
	s.svc.Ensemble.UpdateWeights(errs)

	if s.svc.Store == nil {
		return
	}
	if err := s.svc.Store.InsertValidation(store.ValidationRecord{
		LocationID:        report.LocationID,
		ValidatedAt:       report.Timestamp,
		Matches:           report.Matches,
		Accuracy:          report.Accuracy,
		MAE:               report.MAE,
		RMSE:              report.RMSE,
		MAPE:              report.MAPE,
		Bias:              report.Bias,
		CalibrationFactor: report.CalibrationFactor,
		BiasCorrection:    report.BiasCorrection,
	}); err != nil {
		s.logger.Warn("store validation", zap.String("location", report.LocationID), zap.Error(err))
	}
	if err := s.svc.Store.MarkValidated(report.Matched, report.Timestamp); err != nil {
		s.logger.Warn("mark predictions validated", zap.String("location", report.LocationID), zap.Error(err))
	}
	if err := s.svc.Store.SaveCalibration(report.LocationID, report.CalibrationFactor, report.BiasCorrection); err != nil {
		s.logger.Warn("store calibration", zap.String("location", report.LocationID), zap.Error(err))
	}
}

func (s *Scheduler) storeStatus(status LocationStatus) {
	s.mu.Lock()
	s.latest[status.Location.ID] = status
	s.mu.Unlock()
}

func (s *Scheduler) publish(ctx context.Context, status LocationStatus) {
	id := status.Location.ID
	reading := delivery.Update{
		Kind:       delivery.KindReading,
		LocationID: id,
		Timestamp:  status.Current.Reading.Timestamp,
		Data:       view.NewCurrent(status.Current),
	}
	if err := s.svc.Publisher.Publish(ctx, reading); err != nil {
		s.logger.Warn("publish reading", zap.String("location", id), zap.Error(err))
	}
	if status.Forecast == nil {
		return
	}
	fc := delivery.Update{
		Kind:       delivery.KindForecast,
		LocationID: id,
		Timestamp:  status.Forecast.GeneratedAt,
		Data:       view.NewForecast(status.Forecast, false),
	}
	if err := s.svc.Publisher.Publish(ctx, fc); err != nil {
		s.logger.Warn("publish forecast", zap.String("location", id), zap.Error(err))
	}
}

// Latest returns the most recent status of a location.
func (s *Scheduler) Latest(locationID string) (LocationStatus, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.latest[locationID]
	return st, ok
}

// LastCycle returns the summary of the most recent cycle, if any.
func (s *Scheduler) LastCycle() (CycleSummary, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.lastCycle == nil {
		return CycleSummary{}, false
	}
	return *s.lastCycle, true
}

func (s *Scheduler) Locations() []models.Location {
	return s.cfg.Locations
}
