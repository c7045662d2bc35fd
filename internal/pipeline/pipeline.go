// Package pipeline turns a detected on-chain flow into a trade decision by
// running it through ordered gates: detection, historical prediction, order
// book impact, market confirmation, and a final safety veto. Every gate
// verdict is recorded so a decision can be audited after the fact.
package pipeline

import (
	"context"
	"fmt"
	"log"
	"time"

	"bitcoin-flow-trader/internal/domain"
	"bitcoin-flow-trader/internal/impact"
	"bitcoin-flow-trader/internal/instrument"
	"bitcoin-flow-trader/internal/marketdata"
	"bitcoin-flow-trader/internal/prediction"
)

// minHistorySamples is the sample floor below which the historical gate
// trusts venue defaults instead of rejecting on thin data.
const minHistorySamples = 10

// Config holds the pipeline thresholds.
type Config struct {
	MinFlowBTC        float64       // detection floor
	FeePct            float64       // taker fee % per side
	MinImpactMultiple float64       // impact must exceed fees x this
	TakeProfitRatio   float64       // fraction of the impact captured as target
	BookDepth         int           // levels fetched per side
	DefaultLeverage   int           // capped per instrument at intent build
	MaxBookAge        time.Duration // snapshots older than this are rejected
}

// DefaultConfig mirrors the standard paper setup.
func DefaultConfig() Config {
	return Config{
		MinFlowBTC:        5.0,
		FeePct:            0.05,
		MinImpactMultiple: 2.0,
		TakeProfitRatio:   0.8,
		BookDepth:         50,
		DefaultLeverage:   20,
		MaxBookAge:        30 * time.Second,
	}
}

// Pipeline evaluates flow events into decisions.
type Pipeline struct {
	cfg       Config
	catalog   *instrument.Catalog
	predictor *prediction.Predictor
	books     marketdata.BookProvider
	confirmer marketdata.Confirmer
	safety    marketdata.SafetyGate
	tradeable func(venue string) bool
	logger    *log.Logger
	now       func() time.Time
}

// Options configures Pipeline construction. Catalog, Predictor, and Books
// are required; Confirmer and Safety are optional and their gates pass by
// fallback when absent.
type Options struct {
	Config    Config
	Catalog   *instrument.Catalog
	Predictor *prediction.Predictor
	Books     marketdata.BookProvider
	Confirmer marketdata.Confirmer
	Safety    marketdata.SafetyGate

	// Tradeable restricts which venues may produce intents. Nil allows
	// every venue the catalog knows.
	Tradeable func(venue string) bool

	// Logger defaults to log.Default().
	Logger *log.Logger

	// Now overrides the clock, for tests.
	Now func() time.Time
}

// New creates a Pipeline.
func New(opts Options) (*Pipeline, error) {
	if opts.Catalog == nil {
		return nil, fmt.Errorf("pipeline: catalog is required")
	}
	if opts.Predictor == nil {
		return nil, fmt.Errorf("pipeline: predictor is required")
	}
	if opts.Books == nil {
		return nil, fmt.Errorf("pipeline: book provider is required")
	}
	cfg := opts.Config
	if cfg.MinImpactMultiple <= 0 {
		cfg = DefaultConfig()
	}
	if cfg.MaxBookAge <= 0 {
		cfg.MaxBookAge = DefaultConfig().MaxBookAge
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Default()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	p := &Pipeline{
		cfg:       cfg,
		catalog:   opts.Catalog,
		predictor: opts.Predictor,
		books:     opts.Books,
		confirmer: opts.Confirmer,
		safety:    opts.Safety,
		tradeable: opts.Tradeable,
		logger:    logger,
		now:       now,
	}
	if p.tradeable == nil {
		p.tradeable = p.catalog.Known
	}
	return p, nil
}

// Evaluate runs one flow event through every gate in order. Gates
// short-circuit: once a gate rejects, later gates never run and never
// touch their external data sources.
func (p *Pipeline) Evaluate(ctx context.Context, flow domain.FlowEvent) *domain.Decision {
	d := &domain.Decision{FlowID: flow.ID}
	defer func() { d.DecidedAt = p.now() }()

	dir := flow.FlowType.SignalDirection()

	// detection
	venue, res := p.detectionGate(flow)
	d.Gates = append(d.Gates, res)
	if !res.Pass {
		d.Status = domain.DecisionRejected
		return d
	}

	// historical
	pred := p.predictor.Predict(ctx, venue, flow.AmountBTC, flow.FlowType)
	res = historicalGate(pred)
	d.Gates = append(d.Gates, res)
	if !res.Pass {
		d.Status = domain.DecisionRejected
		return d
	}

	// impact
	inst := p.catalog.BestVariant(venue)
	imp, entryPrice, res := p.impactGate(ctx, flow, venue, inst, dir)
	d.Gates = append(d.Gates, res)
	if !res.Pass {
		d.Status = domain.DecisionRejected
		return d
	}

	// confirmation
	conf, res := p.confirmationGate(ctx, venue, inst, dir)
	d.Gates = append(d.Gates, res)
	if !res.Pass {
		d.Status = domain.DecisionRejected
		return d
	}

	intent := p.buildIntent(flow, venue, inst, dir, entryPrice, imp, pred)

	// safety
	res = p.safetyGate(ctx, intent, conf)
	d.Gates = append(d.Gates, res)
	if !res.Pass {
		d.Status = domain.DecisionSafetyBlocked
		return d
	}

	d.Status = domain.DecisionAccepted
	d.Intent = intent
	p.logger.Printf("[pipeline] accepted %s: %s %s %s entry=%.2f target=%.2f profit=%.4f%%",
		flow.ID, intent.Venue, intent.Instrument, intent.Direction,
		intent.EntryPrice, intent.ExitTarget, intent.ExpectedProfitPct)
	return d
}

// detectionGate validates the flow itself and picks the venue: the first
// tradeable candidate, else the primary.
func (p *Pipeline) detectionGate(flow domain.FlowEvent) (string, domain.GateResult) {
	res := domain.GateResult{Gate: domain.GateDetection}

	if !flow.FlowType.Valid() {
		res.Reason = fmt.Sprintf("unknown flow type %q", flow.FlowType)
		return "", res
	}
	if flow.AmountBTC < p.cfg.MinFlowBTC {
		res.Reason = fmt.Sprintf("%.2f BTC below %.2f BTC minimum", flow.AmountBTC, p.cfg.MinFlowBTC)
		return "", res
	}

	venue := ""
	candidates := flow.Candidates
	if flow.Venue != "" {
		candidates = append([]string{flow.Venue}, candidates...)
	}
	for _, c := range candidates {
		if p.tradeable(c) {
			venue = c
			break
		}
	}
	if venue == "" {
		venue = flow.PrimaryVenue()
	}
	if venue == "" {
		res.Reason = "no venue attributed"
		return "", res
	}

	res.Pass = true
	res.Reason = fmt.Sprintf("%.2f BTC %s at %s", flow.AmountBTC, flow.FlowType, venue)
	return venue, res
}

// historicalGate rejects only when enough history exists and that history
// says flows like this one rarely resolve. Thin history passes on venue
// defaults.
func historicalGate(pred domain.FlowPrediction) domain.GateResult {
	res := domain.GateResult{Gate: domain.GateHistorical}

	if pred.SampleCount >= minHistorySamples && !pred.IsConfirmed() {
		res.Reason = fmt.Sprintf("resolution rate %.0f%% over %d samples too low",
			pred.ResolutionRate*100, pred.SampleCount)
		return res
	}

	res.Pass = true
	if pred.SampleCount < minHistorySamples {
		res.Fallback = true
		res.Reason = fmt.Sprintf("venue defaults (%d samples, need %d)", pred.SampleCount, minHistorySamples)
	} else {
		res.Reason = fmt.Sprintf("resolution rate %.0f%% over %d samples, confidence %.2f",
			pred.ResolutionRate*100, pred.SampleCount, pred.Confidence)
	}
	return res
}

// impactGate walks the depth on the signal side and requires the projected
// move to clear the fee multiple.
func (p *Pipeline) impactGate(ctx context.Context, flow domain.FlowEvent, venue string, inst domain.Instrument, dir domain.Direction) (domain.PriceImpact, float64, domain.GateResult) {
	res := domain.GateResult{Gate: domain.GateImpact}

	book, err := p.books.FetchBook(ctx, venue, p.cfg.BookDepth)
	if err != nil {
		res.Reason = fmt.Sprintf("order book unavailable: %v", err)
		return domain.PriceImpact{}, 0, res
	}
	if age := book.Age(p.now()); !book.FetchedAt.IsZero() && age > p.cfg.MaxBookAge {
		res.Reason = fmt.Sprintf("order book stale by %s", age)
		return domain.PriceImpact{}, 0, res
	}
	levels := book.SideFor(dir)
	if len(levels) == 0 {
		res.Reason = "order book side empty"
		return domain.PriceImpact{}, 0, res
	}

	imp := impact.Compute(flow.AmountBTC, levels, dir, inst, impact.Params{
		Leverage: instrument.MaxLeverage(inst),
	})

	if !imp.IsProfitable(p.cfg.FeePct, p.cfg.MinImpactMultiple) {
		res.Reason = fmt.Sprintf("impact %.4f%% below required %.4f%%",
			imp.EffectiveImpact(), p.cfg.FeePct*p.cfg.MinImpactMultiple)
		return imp, 0, res
	}

	entryPrice, err := p.books.FetchPrice(ctx, venue)
	if err != nil || entryPrice <= 0 {
		res.Reason = fmt.Sprintf("no price for %s: %v", venue, err)
		return imp, 0, res
	}

	res.Pass = true
	res.Reason = fmt.Sprintf("%s impact %.4f%% across %d levels", inst, imp.EffectiveImpact(), imp.LevelsEaten)
	return imp, entryPrice, res
}

// confirmationGate cross-checks the signal against live market state. A
// failed fetch passes by fallback since the book and history already
// agree; a fetched snapshot that disagrees rejects unless its trade bias
// still leans the signal's way.
func (p *Pipeline) confirmationGate(ctx context.Context, venue string, inst domain.Instrument, dir domain.Direction) (*domain.MarketConfirmation, domain.GateResult) {
	res := domain.GateResult{Gate: domain.GateConfirmation}

	if p.confirmer == nil {
		res.Pass = true
		res.Fallback = true
		res.Reason = "no confirmation source configured"
		return nil, res
	}

	conf, err := p.confirmer.Confirm(ctx, venue, inst)
	if err != nil || conf == nil {
		res.Pass = true
		res.Fallback = true
		res.Reason = fmt.Sprintf("confirmation fetch failed: %v", err)
		return nil, res
	}

	switch {
	case conf.Confirms(dir):
		res.Pass = true
		res.Reason = fmt.Sprintf("all indicators confirm %s", dir)
	case conf.BiasAgrees(dir):
		res.Pass = true
		res.Fallback = true
		res.Reason = fmt.Sprintf("trade bias %+.2f leans %s", conf.Bias, dir)
	default:
		res.Reason = fmt.Sprintf("market state contradicts %s (bias %+.2f)", dir, conf.Bias)
	}
	return conf, res
}

// safetyGate gets the final veto. A gate error blocks the trade; the veto
// exists to stop trades, not to wave them through on missing data.
func (p *Pipeline) safetyGate(ctx context.Context, intent *domain.TradeIntent, conf *domain.MarketConfirmation) domain.GateResult {
	res := domain.GateResult{Gate: domain.GateSafety}

	if p.safety == nil {
		res.Pass = true
		res.Fallback = true
		res.Reason = "no safety gate configured"
		return res
	}

	in := marketdata.SafetyInput{
		Venue:             intent.Venue,
		Instrument:        intent.Instrument,
		Direction:         intent.Direction,
		Leverage:          p.leverageFor(intent.Instrument),
		BookPrice:         intent.EntryPrice,
		ExpectedProfitPct: intent.ExpectedProfitPct,
		Now:               p.now(),
	}
	if conf != nil {
		in.MarkPrice = conf.MarkPrice
		in.FundingRate = conf.FundingRate
		in.BorrowRateHourlyPct = conf.BorrowRateHourlyPct
	}

	ok, reason, err := p.safety.Check(ctx, in)
	if err != nil {
		res.Reason = fmt.Sprintf("safety check failed: %v", err)
		return res
	}
	res.Pass = ok
	res.Reason = reason
	return res
}

func (p *Pipeline) buildIntent(flow domain.FlowEvent, venue string, inst domain.Instrument, dir domain.Direction, entryPrice float64, imp domain.PriceImpact, pred domain.FlowPrediction) *domain.TradeIntent {
	return &domain.TradeIntent{
		FlowID:            flow.ID,
		Venue:             venue,
		Instrument:        inst,
		Direction:         dir,
		EntryPrice:        entryPrice,
		ExitTarget:        impact.ExitPrice(entryPrice, imp, dir, p.cfg.TakeProfitRatio),
		ExpectedProfitPct: imp.ExpectedProfitPct(p.cfg.FeePct),
		Impact:            imp,
		Prediction:        pred,
		CreatedAt:         p.now(),
	}
}

func (p *Pipeline) leverageFor(inst domain.Instrument) int {
	lev := p.cfg.DefaultLeverage
	if maxLev := instrument.MaxLeverage(inst); lev > maxLev {
		lev = maxLev
	}
	if lev < 1 {
		lev = 1
	}
	return lev
}
