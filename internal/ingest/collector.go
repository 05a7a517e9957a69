package ingest

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/lox/dustwatch/internal/metrics"
	"github.com/lox/dustwatch/internal/models"
)

const (
	DefaultFetchTimeout = 20 * time.Second
	defaultConcurrency  = 16
)

// Collector fetches every enabled source for every location concurrently.
// A failing source contributes nothing; its error is logged and counted.
type Collector struct {
	sources     []Source
	timeout     time.Duration
	concurrency int
	logger      *zap.Logger
}

func NewCollector(logger *zap.Logger, sources []Source, timeout time.Duration) *Collector {
	if timeout <= 0 {
		timeout = DefaultFetchTimeout
	}
	var enabled []Source
	for _, s := range sources {
		if s.Enabled() {
			enabled = append(enabled, s)
		}
	}
	return &Collector{
		sources:     enabled,
		timeout:     timeout,
		concurrency: defaultConcurrency,
		logger:      logger.Named("collector"),
	}
}

// Sources returns the names of the enabled sources.
func (c *Collector) Sources() []string {
	names := make([]string, len(c.sources))
	for i, s := range c.sources {
		names[i] = s.Name()
	}
	return names
}

type CollectStats struct {
	OK     int
	Failed int
}

// Collect returns the contributions gathered for each location, in source
// order, plus fetch counts.
func (c *Collector) Collect(ctx context.Context, locations []models.Location) (map[string][]models.SourceContribution, CollectStats) {
	type slot struct {
		loc    int
		source int
	}
	results := make(map[slot]*models.Reading)
	var mu sync.Mutex
	var stats CollectStats

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)
	for li, loc := range locations {
		for si, src := range c.sources {
			g.Go(func() error {
				r := c.fetch(gctx, src, loc)
				mu.Lock()
				defer mu.Unlock()
				if r == nil {
					stats.Failed++
					return nil
				}
				stats.OK++
				results[slot{li, si}] = r
				return nil
			})
		}
	}
	g.Wait()

	out := make(map[string][]models.SourceContribution, len(locations))
	for li, loc := range locations {
		var contributions []models.SourceContribution
		for si, src := range c.sources {
			if r, ok := results[slot{li, si}]; ok {
				contributions = append(contributions, models.SourceContribution{
					Source:  src.Name(),
					Weight:  src.Weight(),
					Reading: *r,
				})
			}
		}
		out[loc.ID] = contributions
	}
	return out, stats
}

func (c *Collector) fetch(ctx context.Context, src Source, loc models.Location) (r *models.Reading) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	defer func() {
		if p := recover(); p != nil {
			metrics.SourceFetchTotal.WithLabelValues(src.Name(), "error").Inc()
			c.logger.Error("source panicked",
				zap.String("source", src.Name()),
				zap.String("location", loc.ID),
				zap.Any("panic", p))
			r = nil
		}
	}()

	start := time.Now()
	r, err := src.Fetch(ctx, loc)
	metrics.SourceFetchLatency.WithLabelValues(src.Name()).Observe(time.Since(start).Seconds())

	switch {
	case err != nil:
		metrics.SourceFetchTotal.WithLabelValues(src.Name(), "error").Inc()
		c.logger.Debug("source fetch failed",
			zap.String("source", src.Name()),
			zap.String("location", loc.ID),
			zap.Error(err))
		return nil
	case r == nil || !r.HasData():
		metrics.SourceFetchTotal.WithLabelValues(src.Name(), "empty").Inc()
		return nil
	}

	metrics.SourceFetchTotal.WithLabelValues(src.Name(), "ok").Inc()
	r.LocationID = loc.ID
	return r
}
