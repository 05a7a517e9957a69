package ingest

import (
	"sync"
	"time"

	"github.com/lox/dustwatch/internal/models"
)

// PredictionBuffer hands every emitted prediction to the accuracy tracker and
// holds a copy until the scheduler drains it into storage.
type PredictionBuffer struct {
	next    interface{ Record(models.PredictionRecord) }
	mu      sync.Mutex
	pending map[string][]models.PredictionRecord
}

func NewPredictionBuffer(next interface{ Record(models.PredictionRecord) }) *PredictionBuffer {
	return &PredictionBuffer{next: next, pending: make(map[string][]models.PredictionRecord)}
}

func (b *PredictionBuffer) Record(p models.PredictionRecord) {
	if b.next != nil {
		b.next.Record(p)
	}
	b.mu.Lock()
	b.pending[p.LocationID] = append(b.pending[p.LocationID], p)
	b.mu.Unlock()
}

// Drain returns and clears the held predictions for a location.
func (b *PredictionBuffer) Drain(locationID string) []models.PredictionRecord {
	b.mu.Lock()
	defer b.mu.Unlock()
	preds := b.pending[locationID]
	delete(b.pending, locationID)
	return preds
}

func since(readings []models.Reading, cutoff time.Time) []models.Reading {
	for i, r := range readings {
		if !r.Timestamp.Before(cutoff) {
			return readings[i:]
		}
	}
	return nil
}
