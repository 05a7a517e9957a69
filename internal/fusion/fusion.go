// Package fusion reconciles readings from several weighted sources into one
// consensus reading per location.
package fusion

import (
	"context"
	"database/sql"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
	"github.com/lox/dustwatch/internal/quality"
	"github.com/lox/dustwatch/internal/stats"
)

const (
	DefaultOutlierSigma   = 2.0
	DefaultFallbackMaxAge = 5 * time.Minute
	DefaultPrimary        = "Open-Meteo"

	cachedConfidence   = 40.0
	fallbackConfidence = 25.0
	maxConfidence      = 98.0
)

type Trend string

const (
	TrendRising  Trend = "rising"
	TrendFalling Trend = "falling"
	TrendStable  Trend = "stable"
)

const (
	QualityExcellent = "excellent"
	QualityGood      = "good"
	QualityFair      = "fair"
	QualityLimited   = "limited"
	QualityCached    = "cached"
	QualityFallback  = "fallback"
)

type Config struct {
	// OutlierSigma is the distance, in standard deviations, beyond which a
	// value is excluded once three or more sources report a field.
	OutlierSigma float64
	// FallbackMaxAge bounds how old a last-known reading may be before the
	// engine synthesises one instead.
	FallbackMaxAge time.Duration
	// Primary names the source whose forward dust series is passed through.
	Primary   string
	LastKnown LastKnown
}

type Result struct {
	Reading     models.Reading
	Confidence  float64
	RiskLevel   models.RiskLevel
	RiskScore   int
	SourcesUsed int
	Sources     []string
	Quality     quality.Report
	DataQuality string
	Fallback    bool
	Trend       Trend
}

type Engine struct {
	logger    *zap.Logger
	checker   *quality.Checker
	lastKnown LastKnown
	sigma     float64
	maxAge    time.Duration
	primary   string
	now       func() time.Time

	randMu sync.Mutex
	rand   *rand.Rand

	mu       sync.Mutex
	lastDust map[string]float64
}

func NewEngine(logger *zap.Logger, checker *quality.Checker, cfg Config) *Engine {
	if cfg.OutlierSigma <= 0 {
		cfg.OutlierSigma = DefaultOutlierSigma
	}
	if cfg.FallbackMaxAge <= 0 {
		cfg.FallbackMaxAge = DefaultFallbackMaxAge
	}
	if cfg.Primary == "" {
		cfg.Primary = DefaultPrimary
	}
	if cfg.LastKnown == nil {
		cfg.LastKnown = NewMemoryLastKnown()
	}
	return &Engine{
		logger:    logger.Named("fusion"),
		checker:   checker,
		lastKnown: cfg.LastKnown,
		sigma:     cfg.OutlierSigma,
		maxAge:    cfg.FallbackMaxAge,
		primary:   cfg.Primary,
		now:       time.Now,
		rand:      rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0x64757374)),
		lastDust:  make(map[string]float64),
	}
}

// Fuse combines source contributions into a single reading for loc. With no
// usable contributions it falls back to the last known reading, or to a
// synthetic one.
func (e *Engine) Fuse(ctx context.Context, loc models.Location, contributions []models.SourceContribution) Result {
	var usable []models.SourceContribution
	for _, c := range contributions {
		if c.Weight > 0 && c.Reading.HasData() {
			usable = append(usable, c)
		}
	}
	if len(usable) == 0 {
		return e.fallback(ctx, loc)
	}

	now := e.now()
	fused := models.Reading{LocationID: loc.ID, Timestamp: now}
	for _, f := range models.Fields {
		fused.Set(f, e.fuseField(usable, f))
	}
	for _, c := range usable {
		if c.Source == e.primary {
			fused.ForecastDust = append([]float64(nil), c.Reading.ForecastDust...)
			break
		}
	}
	if !fused.AQI.Valid {
		fused.AQI = deriveAQI(fused)
	}

	sources := make([]string, len(usable))
	for i, c := range usable {
		sources[i] = c.Source
	}

	res := Result{
		Reading:     fused,
		Confidence:  confidence(usable),
		RiskLevel:   models.ClassifyRisk(models.ValueOr(fused.Dust, 0)),
		RiskScore:   riskScore(fused),
		SourcesUsed: len(usable),
		Sources:     sources,
		Quality:     e.checker.Validate(loc.ID, fused),
		DataQuality: dataQuality(len(usable)),
		Trend:       e.trend(loc.ID, models.ValueOr(fused.Dust, 0)),
	}

	if err := e.lastKnown.Store(ctx, fused); err != nil {
		e.logger.Warn("store last known reading", zap.String("location", loc.ID), zap.Error(err))
	}
	return res
}

type weighted struct {
	value  float64
	weight float64
}

func (e *Engine) fuseField(contributions []models.SourceContribution, f models.Field) sql.NullFloat64 {
	var vals []weighted
	for _, c := range contributions {
		v := c.Reading.Get(f)
		if !v.Valid || math.IsNaN(v.Float64) || math.IsInf(v.Float64, 0) {
			continue
		}
		vals = append(vals, weighted{v.Float64, c.Weight})
	}
	vals = rejectOutliers(vals, e.sigma)
	if len(vals) == 0 {
		return sql.NullFloat64{}
	}

	var sum, total float64
	for _, v := range vals {
		sum += v.value * v.weight
		total += v.weight
	}
	return models.Float(sum / total)
}

// rejectOutliers drops values farther than sigma standard deviations from the
// mean. Nothing is filtered below three values or when every value agrees.
//
// With exactly three values no point can sit more than about 1.15 standard
// deviations out, so there a value is instead dropped when it sits sigma
// spreads from the mean of the other two, the spread being the larger of
// theirs and the full sample's.
func rejectOutliers(vals []weighted, sigma float64) []weighted {
	if len(vals) < 3 {
		return vals
	}

	values := make([]float64, len(vals))
	for i, v := range vals {
		values[i] = v.value
	}
	mean, std := stats.MeanStd(values)
	if std == 0 {
		return vals
	}

	kept := make([]weighted, 0, len(vals))
	others := make([]float64, 0, len(vals)-1)
	for i, v := range vals {
		if math.Abs(v.value-mean) > sigma*std {
			continue
		}
		if len(vals) == 3 {
			others = others[:0]
			others = append(others, values[:i]...)
			others = append(others, values[i+1:]...)
			m, s := stats.MeanStd(others)
			if math.Abs(v.value-m) > sigma*math.Max(s, std) {
				continue
			}
		}
		kept = append(kept, v)
	}
	if len(kept) == 0 {
		return vals
	}
	return kept
}

func deriveAQI(r models.Reading) sql.NullFloat64 {
	if !r.PM25.Valid && !r.PM10.Valid {
		return sql.NullFloat64{}
	}
	pm25 := math.Min(500, math.Trunc(models.ValueOr(r.PM25, 0)*4.17))
	pm10 := math.Min(500, math.Trunc(models.ValueOr(r.PM10, 0)*2))
	return models.Float(math.Max(pm25, pm10))
}

// confidence is 50, plus 5 per source up to 30, plus up to 15 for agreement
// between the dust values reported.
func confidence(contributions []models.SourceContribution) float64 {
	c := 50 + math.Min(30, 5*float64(len(contributions)))

	var dust []float64
	for _, sc := range contributions {
		if v := sc.Reading.Dust; v.Valid && !math.IsNaN(v.Float64) && !math.IsInf(v.Float64, 0) {
			dust = append(dust, v.Float64)
		}
	}
	if len(dust) >= 2 {
		mean, std := stats.MeanStd(dust)
		if mean > 0 {
			c += math.Max(0, 15-30*std/mean)
		} else {
			c += 10
		}
	}
	return math.Min(maxConfidence, c)
}

func riskScore(r models.Reading) int {
	dust := models.ValueOr(r.Dust, 0)
	wind := models.ValueOr(r.WindSpeed, 0)
	vis := models.ValueOr(r.Visibility, 10000)
	hum := models.ValueOr(r.Humidity, 50)
	score := math.Min(50, dust/4) + math.Min(20, wind/2) +
		math.Max(0, 20-vis/500) + math.Max(0, 10-hum/10)
	return int(score)
}

func dataQuality(sources int) string {
	switch {
	case sources >= 5:
		return QualityExcellent
	case sources >= 3:
		return QualityGood
	case sources >= 2:
		return QualityFair
	default:
		return QualityLimited
	}
}

func (e *Engine) trend(locationID string, dust float64) Trend {
	e.mu.Lock()
	defer e.mu.Unlock()
	last, ok := e.lastDust[locationID]
	e.lastDust[locationID] = dust
	if !ok {
		return TrendStable
	}
	switch diff := dust - last; {
	case diff > 5:
		return TrendRising
	case diff < -5:
		return TrendFalling
	default:
		return TrendStable
	}
}
