// Package stub provides in-memory marketdata implementations for paper
// trading and tests. Every stub counts its calls so tests can assert what
// the pipeline actually touched.
package stub

import (
	"context"
	"sync"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/marketdata"
)

// BookProvider serves canned depth snapshots.
type BookProvider struct {
	mu         sync.Mutex
	books      map[string]*domain.OrderBook
	prices     map[string]float64
	err        error
	bookCalls  int
	priceCalls int
}

// NewBookProvider creates an empty stub.
func NewBookProvider() *BookProvider {
	return &BookProvider{
		books:  make(map[string]*domain.OrderBook),
		prices: make(map[string]float64),
	}
}

// SetBook installs the snapshot served for venue.
func (s *BookProvider) SetBook(venue string, book *domain.OrderBook) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.books[venue] = book
}

// SetPrice installs the price served for venue.
func (s *BookProvider) SetPrice(venue string, price float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.prices[venue] = price
}

// Fail makes every subsequent call return err.
func (s *BookProvider) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// FetchBook returns the canned snapshot, refreshed to now.
func (s *BookProvider) FetchBook(_ context.Context, venue string, _ int) (*domain.OrderBook, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bookCalls++
	if s.err != nil {
		return nil, s.err
	}
	book, ok := s.books[venue]
	if !ok {
		return nil, marketdata.ErrNoData
	}
	cp := *book
	if cp.FetchedAt.IsZero() {
		cp.FetchedAt = time.Now()
	}
	return &cp, nil
}

// FetchPrice returns the canned price, or the book mid when unset.
func (s *BookProvider) FetchPrice(_ context.Context, venue string) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.priceCalls++
	if s.err != nil {
		return 0, s.err
	}
	if p, ok := s.prices[venue]; ok {
		return p, nil
	}
	if book, ok := s.books[venue]; ok {
		return book.MidPrice(), nil
	}
	return 0, marketdata.ErrNoData
}

// BookCalls returns how many FetchBook calls were made.
func (s *BookProvider) BookCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.bookCalls
}

// PriceCalls returns how many FetchPrice calls were made.
func (s *BookProvider) PriceCalls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.priceCalls
}

// Confirmer serves canned confirmation snapshots.
type Confirmer struct {
	mu    sync.Mutex
	confs map[string]*domain.MarketConfirmation
	err   error
	calls int
}

// NewConfirmer creates an empty stub.
func NewConfirmer() *Confirmer {
	return &Confirmer{confs: make(map[string]*domain.MarketConfirmation)}
}

// SetConfirmation installs the snapshot served for venue.
func (s *Confirmer) SetConfirmation(venue string, c *domain.MarketConfirmation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.confs[venue] = c
}

// Fail makes every subsequent call return err.
func (s *Confirmer) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Confirm returns the canned snapshot for venue, stamped with the
// instrument the caller asked about.
func (s *Confirmer) Confirm(_ context.Context, venue string, inst domain.Instrument) (*domain.MarketConfirmation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return nil, s.err
	}
	c, ok := s.confs[venue]
	if !ok {
		return nil, marketdata.ErrNoData
	}
	cp := *c
	cp.Instrument = inst
	return &cp, nil
}

// Calls returns how many Confirm calls were made.
func (s *Confirmer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

// SafetyGate approves everything unless told to block.
type SafetyGate struct {
	mu     sync.Mutex
	block  bool
	reason string
	err    error
	calls  int
}

// NewSafetyGate creates a gate that approves everything.
func NewSafetyGate() *SafetyGate {
	return &SafetyGate{}
}

// Block makes every subsequent check veto with reason.
func (s *SafetyGate) Block(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.block = true
	s.reason = reason
}

// Fail makes every subsequent check return err.
func (s *SafetyGate) Fail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

// Check implements marketdata.SafetyGate.
func (s *SafetyGate) Check(_ context.Context, _ marketdata.SafetyInput) (bool, string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.err != nil {
		return false, "", s.err
	}
	if s.block {
		return false, s.reason, nil
	}
	return true, "", nil
}

// Calls returns how many Check calls were made.
func (s *SafetyGate) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

var (
	_ marketdata.BookProvider = (*BookProvider)(nil)
	_ marketdata.Confirmer    = (*Confirmer)(nil)
	_ marketdata.SafetyGate   = (*SafetyGate)(nil)
)
