package memory

import (
	"context"
	"strings"
	"sync"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// FlowOutcomeStore is an in-memory implementation of storage.FlowOutcomeStore.
type FlowOutcomeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FlowOutcome // keyed by id
}

// NewFlowOutcomeStore creates a new in-memory flow outcome store.
func NewFlowOutcomeStore() *FlowOutcomeStore {
	return &FlowOutcomeStore{
		data: make(map[string]*domain.FlowOutcome),
	}
}

// Insert adds a new outcome. Returns ErrDuplicateKey if the id exists.
func (s *FlowOutcomeStore) Insert(_ context.Context, o *domain.FlowOutcome) error {
	if o == nil || o.ID == "" || !o.FlowType.Valid() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[o.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *o
	s.data[o.ID] = &copy
	return nil
}

// Resolve marks an outcome resolved and records the resolution price.
func (s *FlowOutcomeStore) Resolve(_ context.Context, id string, resolvedAt time.Time, priceAtResolution float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, exists := s.data[id]
	if !exists {
		return storage.ErrNotFound
	}

	o.Resolved = true
	o.ResolvedAt = resolvedAt
	o.PriceAtResolution = priceAtResolution
	o.TimeToResolveSec = resolvedAt.Sub(o.DetectedAt).Seconds()
	if o.PriceAtDetection > 0 {
		o.ImpactPct = (priceAtResolution - o.PriceAtDetection) / o.PriceAtDetection * 100
	}
	return nil
}

// GetByID retrieves one outcome. Returns ErrNotFound if not exists.
func (s *FlowOutcomeStore) GetByID(_ context.Context, id string) (*domain.FlowOutcome, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *o
	return &copy, nil
}

// Aggregate rolls up outcomes matching venue and flow type with amount in
// [minAmount, maxAmount] detected at or after since.
func (s *FlowOutcomeStore) Aggregate(_ context.Context, venue string, flowType domain.FlowType, minAmount, maxAmount float64, since time.Time) (*domain.FlowAggregate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := &domain.FlowAggregate{}
	var sumTime, sumImpact float64

	for _, o := range s.data {
		if !strings.EqualFold(o.Venue, venue) || o.FlowType != flowType {
			continue
		}
		if o.AmountBTC < minAmount || o.AmountBTC > maxAmount {
			continue
		}
		if o.DetectedAt.Before(since) {
			continue
		}
		agg.Total++
		if o.Resolved {
			agg.Resolved++
			sumTime += o.TimeToResolveSec
			sumImpact += o.ImpactPct
		}
	}

	if agg.Resolved > 0 {
		agg.AvgTimeToResolveSec = sumTime / float64(agg.Resolved)
		agg.AvgImpactPct = sumImpact / float64(agg.Resolved)
	}
	return agg, nil
}

var _ storage.FlowOutcomeStore = (*FlowOutcomeStore)(nil)
