// Package delivery pushes fused readings and forecasts to subscribers.
package delivery

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Kind string

const (
	KindReading  Kind = "reading"
	KindForecast Kind = "forecast"
)

// Update is one pushed message. Data is JSON-encoded as is.
type Update struct {
	Kind       Kind      `json:"kind"`
	LocationID string    `json:"location_id"`
	Timestamp  time.Time `json:"timestamp"`
	Data       any       `json:"data"`
}

type Publisher interface {
	Publish(ctx context.Context, u Update) error
}

// Nop discards every update.
type Nop struct{}

func (Nop) Publish(context.Context, Update) error { return nil }

// RedisPublisher publishes updates on a Redis pub/sub channel.
type RedisPublisher struct {
	client  *redis.Client
	channel string
	logger  *zap.Logger
}

func NewRedisPublisher(client *redis.Client, channel string, logger *zap.Logger) *RedisPublisher {
	if channel == "" {
		channel = "dustwatch:updates"
	}
	return &RedisPublisher{client: client, channel: channel, logger: logger.Named("delivery")}
}

func (p *RedisPublisher) Publish(ctx context.Context, u Update) error {
	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("marshal update: %w", err)
	}
	receivers, err := p.client.Publish(ctx, p.channel, data).Result()
	if err != nil {
		return fmt.Errorf("publish %s update for %s: %w", u.Kind, u.LocationID, err)
	}
	p.logger.Debug("published update",
		zap.String("kind", string(u.Kind)),
		zap.String("location", u.LocationID),
		zap.Int64("receivers", receivers))
	return nil
}

// Recorder keeps published updates in memory.
type Recorder struct {
	mu      sync.Mutex
	updates []Update
}

func (r *Recorder) Publish(_ context.Context, u Update) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, u)
	return nil
}

func (r *Recorder) Updates() []Update {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Update(nil), r.updates...)
}
