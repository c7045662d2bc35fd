package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// EquityCurveStore is an in-memory implementation of storage.EquityCurveStore.
type EquityCurveStore struct {
	mu     sync.RWMutex
	points []*domain.EquityPoint
}

// NewEquityCurveStore creates a new in-memory equity curve store.
func NewEquityCurveStore() *EquityCurveStore {
	return &EquityCurveStore{}
}

// Insert appends one sample.
func (s *EquityCurveStore) Insert(_ context.Context, p *domain.EquityPoint) error {
	if p == nil {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	copy := *p
	s.points = append(s.points, &copy)
	return nil
}

// InsertBulk appends multiple samples.
func (s *EquityCurveStore) InsertBulk(_ context.Context, points []*domain.EquityPoint) error {
	if len(points) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range points {
		if p == nil {
			return storage.ErrInvalidInput
		}
		copy := *p
		s.points = append(s.points, &copy)
	}
	return nil
}

// GetRange retrieves samples within [start, end] inclusive, time ASC.
func (s *EquityCurveStore) GetRange(_ context.Context, start, end time.Time) ([]*domain.EquityPoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.EquityPoint
	for _, p := range s.points {
		if p.At.Before(start) || p.At.After(end) {
			continue
		}
		copy := *p
		result = append(result, &copy)
	}

	sort.Slice(result, func(i, j int) bool {
		return result[i].At.Before(result[j].At)
	})
	return result, nil
}

var _ storage.EquityCurveStore = (*EquityCurveStore)(nil)
