// Package stub simulates order execution for paper trading and tests.
package stub

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"bitcoin-flow-trader/internal/execution"
)

// Simulator fills every order at the request's reference price. It keeps
// the order log so tests can assert what was routed.
type Simulator struct {
	mu             sync.Mutex
	balances       map[string]float64
	defaultBalance float64
	orders         []execution.OrderRequest
	failNext       error
}

// NewSimulator creates a Simulator reporting the given free balance on
// every venue until overridden.
func NewSimulator(balance float64) *Simulator {
	return &Simulator{
		balances:       make(map[string]float64),
		defaultBalance: balance,
	}
}

// FailNext makes the next PlaceOrder call fail with err.
func (s *Simulator) FailNext(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failNext = err
}

// PlaceOrder fills at the reference price, or fails if armed.
func (s *Simulator) PlaceOrder(_ context.Context, req execution.OrderRequest) (*execution.OrderResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.failNext != nil {
		err := s.failNext
		s.failNext = nil
		return nil, fmt.Errorf("%w: %v", execution.ErrExecutionFailed, err)
	}
	if req.SizeUSD <= 0 || req.Price <= 0 {
		return nil, fmt.Errorf("%w: bad order %+v", execution.ErrExecutionFailed, req)
	}

	s.orders = append(s.orders, req)
	return &execution.OrderResult{
		OrderID:     uuid.NewString(),
		FilledPrice: req.Price,
		FilledUSD:   req.SizeUSD,
		Status:      execution.StatusFilled,
		PlacedAt:    time.Now(),
	}, nil
}

// FetchBalance returns the simulated venue balance.
func (s *Simulator) FetchBalance(_ context.Context, venue string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b, ok := s.balances[venue]; ok {
		return b, nil
	}
	return s.defaultBalance, nil
}

// SetBalance overrides the balance for one venue.
func (s *Simulator) SetBalance(venue string, balance float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balances[venue] = balance
}

// Orders returns a copy of the order log.
func (s *Simulator) Orders() []execution.OrderRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]execution.OrderRequest, len(s.orders))
	copy(out, s.orders)
	return out
}

var _ execution.Executor = (*Simulator)(nil)
