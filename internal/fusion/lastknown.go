package fusion

import (
	"context"
	"sync"

	"github.com/lox/dustwatch/internal/models"
)

// LastKnown holds the most recent fused reading per location. The engine
// writes every fused reading to it and reads from it when a cycle yields no
// sources.
type LastKnown interface {
	Load(ctx context.Context, locationID string) (models.Reading, bool, error)
	Store(ctx context.Context, r models.Reading) error
}

// MemoryLastKnown is an in-process LastKnown.
type MemoryLastKnown struct {
	mu       sync.RWMutex
	readings map[string]models.Reading
}

func NewMemoryLastKnown() *MemoryLastKnown {
	return &MemoryLastKnown{readings: make(map[string]models.Reading)}
}

func (m *MemoryLastKnown) Load(_ context.Context, locationID string) (models.Reading, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.readings[locationID]
	return r, ok, nil
}

func (m *MemoryLastKnown) Store(_ context.Context, r models.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.readings[r.LocationID] = r
	return nil
}
