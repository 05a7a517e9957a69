package fusion

import (
	"context"
	"math"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/metrics"
	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
)

func (e *Engine) fallback(ctx context.Context, loc models.Location) Result {
	now := e.now()

	cached, ok, err := e.lastKnown.Load(ctx, loc.ID)
	if err != nil {
		e.logger.Warn("load last known reading", zap.String("location", loc.ID), zap.Error(err))
	}
	if ok && now.Sub(cached.Timestamp) <= e.maxAge {
		metrics.FallbackTotal.WithLabelValues(loc.ID, QualityCached).Inc()
		e.logger.Info("no sources, serving last known reading",
			zap.String("location", loc.ID), zap.Duration("age", now.Sub(cached.Timestamp)))

		cached.Timestamp = now
		return e.fallbackResult(cached, cachedConfidence, QualityCached)
	}

	metrics.FallbackTotal.WithLabelValues(loc.ID, QualityFallback).Inc()
	e.logger.Warn("synthesising reading", zap.String("location", loc.ID), zap.Error(models.ErrNoSources))
	return e.fallbackResult(e.synthetic(loc), fallbackConfidence, QualityFallback)
}

func (e *Engine) fallbackResult(r models.Reading, confidence float64, label string) Result {
	return Result{
		Reading:     r,
		Confidence:  confidence,
		RiskLevel:   models.ClassifyRisk(models.ValueOr(r.Dust, 0)),
		RiskScore:   riskScore(r),
		Quality:     unscored(r),
		DataQuality: label,
		Fallback:    true,
		Trend:       TrendStable,
	}
}

// unscored is the report attached to fallback readings, which are never fed
// through the quality gate.
func unscored(r models.Reading) quality.Report {
	return quality.Report{
		QualityScore: 50,
		QualityLevel: quality.LevelFair,
		Warnings:     []string{"reading not scored: no live sources"},
		IsValid:      true,
		Timestamp:    r.Timestamp,
	}
}

func (e *Engine) synthetic(loc models.Location) models.Reading {
	e.randMu.Lock()
	defer e.randMu.Unlock()

	uniform := func(lo, hi float64) float64 {
		return lo + e.rand.Float64()*(hi-lo)
	}

	dust := round(uniform(15, 45), 2)
	return models.Reading{
		LocationID:    loc.ID,
		Timestamp:     e.now(),
		Dust:          models.Float(dust),
		PM10:          models.Float(round(dust*1.2, 2)),
		PM25:          models.Float(round(dust*0.4, 2)),
		AQI:           models.Float(math.Trunc(dust * 2)),
		Temperature:   models.Float(round(uniform(28, 42), 1)),
		Humidity:      models.Float(round(uniform(20, 60), 1)),
		WindSpeed:     models.Float(round(uniform(5, 25), 1)),
		WindDirection: models.Float(math.Round(uniform(0, 360))),
		Visibility:    models.Float(math.Round(uniform(5000, 15000))),
	}
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
