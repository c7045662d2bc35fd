package marketdata

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/time/rate"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/observability"
)

// GuardOptions configures the resilience wrapper around venue data calls.
type GuardOptions struct {
	// CallTimeout bounds every upstream call. Defaults to 3s.
	CallTimeout time.Duration

	// RequestsPerSecond throttles upstream calls. Defaults to 10.
	RequestsPerSecond float64

	// Burst for the limiter. Defaults to 5.
	Burst int

	// BreakerOpenAfter is the consecutive failure count that opens the
	// circuit. Defaults to 5.
	BreakerOpenAfter uint32

	// BreakerCooldown is how long the circuit stays open. Defaults to 30s.
	BreakerCooldown time.Duration

	// Logger for breaker state changes. Defaults to log.Default().
	Logger *log.Logger
}

func (o *GuardOptions) fill() {
	if o.CallTimeout <= 0 {
		o.CallTimeout = 3 * time.Second
	}
	if o.RequestsPerSecond <= 0 {
		o.RequestsPerSecond = 10
	}
	if o.Burst <= 0 {
		o.Burst = 5
	}
	if o.BreakerOpenAfter == 0 {
		o.BreakerOpenAfter = 5
	}
	if o.BreakerCooldown <= 0 {
		o.BreakerCooldown = 30 * time.Second
	}
	if o.Logger == nil {
		o.Logger = log.Default()
	}
}

func newBreaker[T any](name string, opts GuardOptions) *gobreaker.CircuitBreaker[T] {
	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:    name,
		Timeout: opts.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.BreakerOpenAfter
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			opts.Logger.Printf("[guard] breaker %s: %s -> %s", name, from, to)
			observability.RecordBreakerChange(name, to.String())
		},
	})
}

// GuardedBookProvider wraps a BookProvider with a per-call timeout, a rate
// limiter, and a circuit breaker.
type GuardedBookProvider struct {
	inner   BookProvider
	opts    GuardOptions
	limiter *rate.Limiter
	bookCB  *gobreaker.CircuitBreaker[*domain.OrderBook]
	priceCB *gobreaker.CircuitBreaker[float64]
}

// NewGuardedBookProvider wraps inner with the guard stack.
func NewGuardedBookProvider(inner BookProvider, opts GuardOptions) *GuardedBookProvider {
	opts.fill()
	return &GuardedBookProvider{
		inner:   inner,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		bookCB:  newBreaker[*domain.OrderBook]("book", opts),
		priceCB: newBreaker[float64]("price", opts),
	}
}

// FetchBook applies limiter, breaker and timeout before delegating.
func (g *GuardedBookProvider) FetchBook(ctx context.Context, venue string, depth int) (*domain.OrderBook, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("fetch book %s: %w", venue, err)
	}
	start := time.Now()
	book, err := g.bookCB.Execute(func() (*domain.OrderBook, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
		return g.inner.FetchBook(callCtx, venue, depth)
	})
	observability.RecordFetch(venue, "book", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("fetch book %s: %w", venue, err)
	}
	return book, nil
}

// FetchPrice applies limiter, breaker and timeout before delegating.
func (g *GuardedBookProvider) FetchPrice(ctx context.Context, venue string) (float64, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", venue, err)
	}
	start := time.Now()
	price, err := g.priceCB.Execute(func() (float64, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
		return g.inner.FetchPrice(callCtx, venue)
	})
	observability.RecordFetch(venue, "price", time.Since(start).Seconds(), err)
	if err != nil {
		return 0, fmt.Errorf("fetch price %s: %w", venue, err)
	}
	return price, nil
}

// GuardedConfirmer wraps a Confirmer the same way.
type GuardedConfirmer struct {
	inner   Confirmer
	opts    GuardOptions
	limiter *rate.Limiter
	cb      *gobreaker.CircuitBreaker[*domain.MarketConfirmation]
}

// NewGuardedConfirmer wraps inner with the guard stack.
func NewGuardedConfirmer(inner Confirmer, opts GuardOptions) *GuardedConfirmer {
	opts.fill()
	return &GuardedConfirmer{
		inner:   inner,
		opts:    opts,
		limiter: rate.NewLimiter(rate.Limit(opts.RequestsPerSecond), opts.Burst),
		cb:      newBreaker[*domain.MarketConfirmation]("confirm", opts),
	}
}

// Confirm applies limiter, breaker and timeout before delegating.
func (g *GuardedConfirmer) Confirm(ctx context.Context, venue string, inst domain.Instrument) (*domain.MarketConfirmation, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("confirm %s: %w", venue, err)
	}
	start := time.Now()
	conf, err := g.cb.Execute(func() (*domain.MarketConfirmation, error) {
		callCtx, cancel := context.WithTimeout(ctx, g.opts.CallTimeout)
		defer cancel()
		return g.inner.Confirm(callCtx, venue, inst)
	})
	observability.RecordFetch(venue, "confirm", time.Since(start).Seconds(), err)
	if err != nil {
		return nil, fmt.Errorf("confirm %s: %w", venue, err)
	}
	return conf, nil
}

var (
	_ BookProvider = (*GuardedBookProvider)(nil)
	_ Confirmer    = (*GuardedConfirmer)(nil)
)
