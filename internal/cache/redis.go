// Package cache keeps the latest fused reading per location in Redis so a
// restarted or sibling process can fall back to it.
package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lox/dustwatch/internal/models"
)

const DefaultTTL = 30 * time.Minute

type LastKnown struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
	logger *zap.Logger
}

func NewLastKnown(client *redis.Client, prefix string, ttl time.Duration, logger *zap.Logger) *LastKnown {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	if prefix == "" {
		prefix = "dustwatch"
	}
	return &LastKnown{client: client, prefix: prefix, ttl: ttl, logger: logger.Named("cache")}
}

func (c *LastKnown) key(locationID string) string {
	return fmt.Sprintf("%s:current:%s", c.prefix, locationID)
}

func (c *LastKnown) Load(ctx context.Context, locationID string) (models.Reading, bool, error) {
	data, err := c.client.Get(ctx, c.key(locationID)).Bytes()
	if err == redis.Nil {
		return models.Reading{}, false, nil
	}
	if err != nil {
		return models.Reading{}, false, fmt.Errorf("get current %s: %w", locationID, err)
	}

	r, err := Decode(data)
	if err != nil {
		return models.Reading{}, false, err
	}
	c.logger.Debug("cache hit", zap.String("location", locationID))
	return r, true, nil
}

func (c *LastKnown) Store(ctx context.Context, r models.Reading) error {
	data, err := Encode(r)
	if err != nil {
		return err
	}
	if err := c.client.Set(ctx, c.key(r.LocationID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("set current %s: %w", r.LocationID, err)
	}
	return nil
}
