package signals

import "time"

// SignalType classifies the rule family that produced a signal.
type SignalType string

const (
	TypeReversal   SignalType = "REVERSAL"
	TypeTrend      SignalType = "TREND"
	TypeDivergence SignalType = "DIVERGENCE"
)

// Bias is the directional lean of a signal.
type Bias string

const (
	BiasLong  Bias = "LONG"
	BiasShort Bias = "SHORT"
)

// MomentumLabel is the qualitative classification of momentum.
type MomentumLabel string

const (
	LabelExhaustion MomentumLabel = "Exhaustion"
	LabelExpansion  MomentumLabel = "Expansion"
)

// Funding-bias labels describe one-sided positioning inferred from funding.
const (
	LongOvercrowded  = "LONG Overcrowded"
	ShortOvercrowded = "SHORT Overcrowded"
)

// Context carries everything a single evaluation needs. It is built
// transiently per evaluation and never shared. Funding values are in
// percent; RSI and Momentum are nil when the price history is too short.
type Context struct {
	Symbol       string
	FundingRate  float64
	FundingDelta float64
	RSI          *float64
	Momentum     *float64
	Price        float64
	Volume24h    float64

	// Optional cross-market context.
	BTCPrice   *float64
	BTCFunding *float64
}

// Movement is the display-only expected move derived from momentum.
type Movement struct {
	UpPercent   float64 `json:"up_percent"`
	DownPercent float64 `json:"down_percent"`
}

// Signal is a scored candidate produced by the rule evaluator.
type Signal struct {
	ID            string        `json:"id"`
	Symbol        string        `json:"symbol"`
	Type          SignalType    `json:"type"`
	Bias          Bias          `json:"bias"`
	FundingRate   float64       `json:"funding_rate"`
	FundingDelta  float64       `json:"funding_delta"`
	RSI           *float64      `json:"rsi,omitempty"`
	Score         float64       `json:"score"`
	Price         float64       `json:"price"`
	Volume24h     float64       `json:"volume_24h"`
	Timeframe     string        `json:"timeframe"`
	Context       string        `json:"context"`
	MomentumLabel MomentumLabel `json:"momentum_label"`
	FundingBias   string        `json:"funding_bias"`
	Movement      Movement      `json:"movement"`
	CreatedAt     time.Time     `json:"created_at"`
}
