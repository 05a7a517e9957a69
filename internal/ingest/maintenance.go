package ingest

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Restore seeds the in-memory services from storage: calibration, predictions
// not yet validated, forecast history and quality state. Only live readings
// are replayed.
func (s *Scheduler) Restore() error {
	st := s.svc.Store
	if st == nil {
		return nil
	}
	now := s.now()

	calibrations, err := st.LoadCalibrations()
	if err != nil {
		return fmt.Errorf("load calibrations: %w", err)
	}
	for id, c := range calibrations {
		s.svc.Tracker.Restore(id, c.Factor, c.Bias)
	}

	var errs []error
	for _, loc := range s.cfg.Locations {
		preds, err := st.PendingPredictions(loc.ID, now.Add(-accuracyLookback))
		if err != nil {
			errs = append(errs, fmt.Errorf("pending predictions %s: %w", loc.ID, err))
			continue
		}
		for _, p := range preds {
			s.svc.Tracker.Record(p)
		}

		readings, err := st.QueryReadings(loc.ID, now.Add(-historyWindow))
		if err != nil {
			errs = append(errs, fmt.Errorf("readings %s: %w", loc.ID, err))
			continue
		}
		for _, r := range readings {
			s.svc.Ensemble.Observe(loc.ID, r)
		}
		s.svc.Checker.UpdateBaselines(loc.ID, since(readings, now.Add(-baselineWindow)))

		// Replaying the newest readings refills the checker's temporal window.
		replay := readings
		if len(replay) > qualityReplay {
			replay = replay[len(replay)-qualityReplay:]
		}
		batch := s.svc.Checker.ValidateBatch(replay)

		s.logger.Info("restored location",
			zap.String("location", loc.ID),
			zap.Int("predictions", len(preds)),
			zap.Int("readings", len(readings)),
			zap.Float64("quality_pass_rate", batch.PassRate))
	}
	s.logger.Info("restored calibration", zap.Int("locations", len(calibrations)))
	return errors.Join(errs...)
}

const (
	// accuracyLookback bounds how far back stored predictions and readings
	// are matched during maintenance.
	accuracyLookback = 2 * time.Hour
	qualityReplay    = 50
)

// RunMaintenance refreshes quality baselines, validates outstanding
// predictions against stored live readings and prunes old rows.
func (s *Scheduler) RunMaintenance() {
	st := s.svc.Store
	if st == nil {
		return
	}
	now := s.now()

	for _, loc := range s.cfg.Locations {
		readings, err := st.QueryReadings(loc.ID, now.Add(-baselineWindow))
		if err != nil {
			s.logger.Warn("query readings", zap.String("location", loc.ID), zap.Error(err))
			continue
		}
		if s.svc.Checker.UpdateBaselines(loc.ID, readings) {
			s.logger.Debug("updated quality baseline", zap.String("location", loc.ID))
		}

		if report, ok := s.svc.Tracker.Validate(loc.ID, since(readings, now.Add(-accuracyLookback))); ok {
			s.applyValidation(report)
		}
	}

	n, err := st.PruneBefore(now.Add(-s.cfg.Retention))
	if err != nil {
		s.logger.Warn("prune", zap.Error(err))
		return
	}
	if n > 0 {
		s.logger.Info("pruned old rows", zap.Int64("rows", n))
	}
}
