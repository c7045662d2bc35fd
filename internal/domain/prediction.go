package domain

import "time"

// Prediction sources.
const (
	PredictionSourceHistory  = "history"
	PredictionSourceDefaults = "defaults"
)

// FlowPrediction is the historical read on how flows like this one resolved.
type FlowPrediction struct {
	Venue               string
	FlowType            FlowType
	ResolutionRate      float64 // fraction of similar flows that moved price
	AvgTimeToResolveSec float64
	AvgImpactPct        float64 // signed, matching DropPct convention
	SampleCount         int
	Confidence          float64 // min(1, samples/50); 0.50 for defaults
	Source              string  // "history" or "defaults"
}

// IsConfirmed reports whether history is strong enough to trade on.
func (p FlowPrediction) IsConfirmed() bool {
	return p.ResolutionRate >= 0.90 && p.SampleCount >= 10 && p.Confidence >= 0.80
}

// FlowOutcome is one recorded flow and how it resolved, the unit the
// predictor learns from.
type FlowOutcome struct {
	ID                string // deterministic hash
	TxHash            string
	Venue             string
	FlowType          FlowType
	AmountBTC         float64
	PriceAtDetection  float64
	DetectedAt        time.Time
	Resolved          bool
	ResolvedAt        time.Time // zero until resolved
	PriceAtResolution float64
	ImpactPct         float64 // signed move between detection and resolution
	TimeToResolveSec  float64
}

// FlowAggregate is the predictor's roll-up over matching outcomes.
type FlowAggregate struct {
	Total               int
	Resolved            int
	AvgTimeToResolveSec float64
	AvgImpactPct        float64
}
