// Package prediction reads the historical flow ledger and answers how flows
// like the current one tended to resolve. With no usable history it falls
// back to static per-venue priors at reduced confidence.
package prediction

import (
	"context"
	"fmt"
	"log"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/idhash"
	"bitcoin-flow-trader/internal/storage"
)

const (
	// lookback window for similar flows
	historyWindow = 30 * 24 * time.Hour

	// confidence saturates at this many samples
	fullConfidenceSamples = 50

	// defaults carry this confidence until history accumulates
	defaultConfidence = 0.50
)

// Predictor answers FlowPrediction queries over a FlowOutcomeStore.
type Predictor struct {
	store  storage.FlowOutcomeStore
	logger *log.Logger
	now    func() time.Time
}

// Options configures Predictor construction.
type Options struct {
	// Store holds recorded flow outcomes. Nil disables history entirely;
	// every prediction then comes from the default table.
	Store storage.FlowOutcomeStore

	// Logger for fallback events. Defaults to log.Default().
	Logger *log.Logger

	// Now overrides the clock, for tests. Defaults to time.Now.
	Now func() time.Time
}

// New creates a Predictor.
func New(opts Options) *Predictor {
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Predictor{store: opts.Store, logger: logger, now: now}
}

// Predict rolls up outcomes for the same venue and flow type with amounts
// between half and double the current one, detected inside the lookback
// window. Store errors and empty aggregates both fall back to the default
// table; the returned Source field says which path produced the numbers.
func (p *Predictor) Predict(ctx context.Context, venue string, amountBTC float64, flowType domain.FlowType) domain.FlowPrediction {
	if p.store == nil {
		return p.defaults(venue, flowType)
	}

	since := p.now().Add(-historyWindow)
	agg, err := p.store.Aggregate(ctx, venue, flowType, amountBTC*0.5, amountBTC*2.0, since)
	if err != nil {
		p.logger.Printf("[predictor] aggregate failed for %s, using defaults: %v", venue, err)
		return p.defaults(venue, flowType)
	}
	if agg.Total == 0 {
		return p.defaults(venue, flowType)
	}

	rate := float64(agg.Resolved) / float64(agg.Total)
	avgTime := agg.AvgTimeToResolveSec
	if avgTime == 0 {
		avgTime = genericDefault.AvgTime
	}
	avgImpact := agg.AvgImpactPct
	if avgImpact == 0 {
		avgImpact = genericDefault.AvgImpact
	}

	confidence := float64(agg.Total) / fullConfidenceSamples
	if confidence > 1 {
		confidence = 1
	}

	return domain.FlowPrediction{
		Venue:               venue,
		FlowType:            flowType,
		ResolutionRate:      rate,
		AvgTimeToResolveSec: avgTime,
		AvgImpactPct:        avgImpact,
		SampleCount:         agg.Total,
		Confidence:          confidence,
		Source:              domain.PredictionSourceHistory,
	}
}

// RecordDetection stores a freshly detected flow so future predictions can
// learn from it. Returns the deterministic outcome id.
func (p *Predictor) RecordDetection(ctx context.Context, e domain.FlowEvent, priceAtDetection float64) (string, error) {
	if p.store == nil {
		return "", nil
	}

	id := idhash.ComputeFlowID(e.TxHash, e.PrimaryVenue(), e.FlowType, e.AmountBTC)
	o := &domain.FlowOutcome{
		ID:               id,
		TxHash:           e.TxHash,
		Venue:            e.PrimaryVenue(),
		FlowType:         e.FlowType,
		AmountBTC:        e.AmountBTC,
		PriceAtDetection: priceAtDetection,
		DetectedAt:       e.DetectedAt,
	}
	if err := p.store.Insert(ctx, o); err != nil {
		return id, fmt.Errorf("record detection: %w", err)
	}
	return id, nil
}

// ResolveOutcome marks a previously recorded flow as resolved at the given
// price. Impact and time-to-resolve derive from the stored detection.
func (p *Predictor) ResolveOutcome(ctx context.Context, id string, price float64) error {
	if p.store == nil || id == "" {
		return nil
	}
	if err := p.store.Resolve(ctx, id, p.now(), price); err != nil {
		return fmt.Errorf("resolve outcome %s: %w", id, err)
	}
	return nil
}

func (p *Predictor) defaults(venue string, flowType domain.FlowType) domain.FlowPrediction {
	d := defaultFor(venue)
	return domain.FlowPrediction{
		Venue:               venue,
		FlowType:            flowType,
		ResolutionRate:      d.SellRate,
		AvgTimeToResolveSec: d.AvgTime,
		AvgImpactPct:        d.AvgImpact,
		SampleCount:         0,
		Confidence:          defaultConfidence,
		Source:              domain.PredictionSourceDefaults,
	}
}
