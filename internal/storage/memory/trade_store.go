package memory

import (
	"context"
	"sort"
	"strings"
	"sync"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/storage"
)

// TradeStore is an in-memory implementation of storage.TradeStore.
type TradeStore struct {
	mu   sync.RWMutex
	data map[string]*domain.Position // keyed by id
}

// NewTradeStore creates a new in-memory trade store.
func NewTradeStore() *TradeStore {
	return &TradeStore{
		data: make(map[string]*domain.Position),
	}
}

// Insert adds a newly opened position. Returns ErrDuplicateKey if the id exists.
func (s *TradeStore) Insert(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" || p.Venue == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; exists {
		return storage.ErrDuplicateKey
	}

	copy := *p
	s.data[p.ID] = &copy
	return nil
}

// MarkClosed records the close of a position. Returns ErrNotFound if the id
// does not exist.
func (s *TradeStore) MarkClosed(_ context.Context, p *domain.Position) error {
	if p == nil || p.ID == "" {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[p.ID]; !exists {
		return storage.ErrNotFound
	}

	copy := *p
	copy.Status = domain.PositionClosed
	s.data[p.ID] = &copy
	return nil
}

// GetByID retrieves one position. Returns ErrNotFound if not exists.
func (s *TradeStore) GetByID(_ context.Context, id string) (*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}

	copy := *p
	return &copy, nil
}

// GetByVenue retrieves all positions for a venue, opened ASC.
func (s *TradeStore) GetByVenue(_ context.Context, venue string) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if strings.EqualFold(p.Venue, venue) {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortByOpened(result)
	return result, nil
}

// GetOpen retrieves all open positions, opened ASC.
func (s *TradeStore) GetOpen(_ context.Context) ([]*domain.Position, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*domain.Position
	for _, p := range s.data {
		if p.Status == domain.PositionOpen {
			copy := *p
			result = append(result, &copy)
		}
	}

	sortByOpened(result)
	return result, nil
}

// Summary rolls up closed positions into session totals.
func (s *TradeStore) Summary(_ context.Context) (*storage.TradeSummary, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sum := &storage.TradeSummary{PnLByVenue: make(map[string]float64)}
	for _, p := range s.data {
		if p.Status != domain.PositionClosed {
			continue
		}
		sum.Trades++
		if p.PnLUSD > 0 {
			sum.Wins++
		}
		if p.SignalCorrect {
			sum.SignalCorrect++
		}
		sum.TotalPnLUSD += p.PnLUSD
		sum.PnLByVenue[strings.ToLower(p.Venue)] += p.PnLUSD
	}
	return sum, nil
}

func sortByOpened(positions []*domain.Position) {
	sort.Slice(positions, func(i, j int) bool {
		if !positions[i].OpenedAt.Equal(positions[j].OpenedAt) {
			return positions[i].OpenedAt.Before(positions[j].OpenedAt)
		}
		return positions[i].ID < positions[j].ID
	})
}

var _ storage.TradeStore = (*TradeStore)(nil)
