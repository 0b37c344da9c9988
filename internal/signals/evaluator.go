package signals

import (
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"

	"bybit-funding-bot/internal/bybit"
	"bybit-funding-bot/internal/indicators"
)

// Rule thresholds, in funding percent.
const (
	fundingNeutralBand   = 0.01
	overextensionFunding = 0.04
	trendFundingMin      = 0.005
	trendFundingMax      = 0.02
	divergenceFunding    = 0.005

	rsiExtremeHigh = 75.0
	rsiExtremeLow  = 25.0

	// Minimum close-price history before any evaluation.
	minHistory = 20

	btcSymbol = "BTCUSDT"

	// All signals are evaluated on the one-minute series.
	timeframeTag = "1m"
)

// MarketReader is the subset of the market store the evaluator reads.
type MarketReader interface {
	Market(symbol string) (bybit.PriceData, bool)
	FundingRate(symbol string) (bybit.Funding, bool)
	PriceHistory(symbol string) []float64
	FundingDelta(symbol string) float64
}

// Evaluator builds per-symbol contexts and applies the ordered rule set.
type Evaluator struct {
	store            MarketReader
	enableBTCContext bool
}

// NewEvaluator creates an evaluator over the given store.
func NewEvaluator(store MarketReader, enableBTCContext bool) *Evaluator {
	return &Evaluator{store: store, enableBTCContext: enableBTCContext}
}

// BuildContext assembles a SignalContext for a symbol, applying the
// early-exit gate. Returns nil when the symbol cannot produce a signal:
// missing state, short history, or neutral funding without an extreme RSI.
func (e *Evaluator) BuildContext(symbol string) *Context {
	ticker, ok := e.store.Market(symbol)
	if !ok {
		return nil
	}
	funding, ok := e.store.FundingRate(symbol)
	if !ok {
		return nil
	}
	history := e.store.PriceHistory(symbol)
	if len(history) < minHistory {
		return nil
	}

	rsi := indicators.RSI(history, indicators.DefaultRSIPeriod)

	// Neutral funding is only interesting when RSI is already extreme.
	if math.Abs(funding.Rate) < fundingNeutralBand {
		if rsi == nil || (*rsi <= rsiExtremeHigh && *rsi >= rsiExtremeLow) {
			return nil
		}
	}

	ctx := &Context{
		Symbol:       symbol,
		FundingRate:  funding.Rate,
		FundingDelta: e.store.FundingDelta(symbol),
		RSI:          rsi,
		Momentum:     indicators.Momentum(history, indicators.DefaultMomentumPeriod),
		Price:        ticker.LastPrice,
		Volume24h:    ticker.Turnover24h,
	}

	if e.enableBTCContext && symbol != btcSymbol {
		if btcTicker, ok := e.store.Market(btcSymbol); ok {
			price := btcTicker.LastPrice
			ctx.BTCPrice = &price
		}
		if btcFunding, ok := e.store.FundingRate(btcSymbol); ok {
			rate := btcFunding.Rate
			ctx.BTCFunding = &rate
		}
	}

	return ctx
}

// Evaluate applies the ordered rule set to a context and yields at most one
// candidate signal. The first matching rule wins. Deterministic in every
// field except ID and CreatedAt.
func Evaluate(c *Context) *Signal {
	if c == nil {
		return nil
	}

	if sig := ruleRSIConfluence(c); sig != nil {
		return sig
	}
	if sig := ruleOverextension(c); sig != nil {
		return sig
	}
	if sig := ruleTrendConfirmation(c); sig != nil {
		return sig
	}
	return ruleDivergence(c)
}

// ruleRSIConfluence: extreme RSI against non-neutral funding of the same
// lean; fade the crowd.
func ruleRSIConfluence(c *Context) *Signal {
	if c.RSI == nil {
		return nil
	}
	switch {
	case *c.RSI < 30 && c.FundingRate < -fundingNeutralBand:
		return newSignal(c, TypeReversal, BiasLong, ShortOvercrowded,
			fmt.Sprintf("RSI %.1f oversold with funding %.4f%% — shorts paying to stay in", *c.RSI, c.FundingRate))
	case *c.RSI > 75 && c.FundingRate > fundingNeutralBand:
		return newSignal(c, TypeReversal, BiasShort, LongOvercrowded,
			fmt.Sprintf("RSI %.1f overbought with funding +%.4f%% — longs paying to stay in", *c.RSI, c.FundingRate))
	}
	return nil
}

// ruleOverextension: extreme funding plus stretched RSI and momentum, with
// funding still accelerating in the crowded direction.
func ruleOverextension(c *Context) *Signal {
	if c.RSI == nil || c.Momentum == nil {
		return nil
	}
	switch {
	case c.FundingRate <= -overextensionFunding && *c.RSI <= 30 && *c.Momentum < -1.0 && c.FundingDelta < 0:
		return newSignal(c, TypeReversal, BiasLong, ShortOvercrowded,
			fmt.Sprintf("Funding %.4f%% deeply negative and falling with RSI %.1f — short squeeze setup", c.FundingRate, *c.RSI))
	case c.FundingRate >= overextensionFunding && *c.RSI >= 70 && *c.Momentum > 1.0 && c.FundingDelta > 0:
		return newSignal(c, TypeReversal, BiasShort, LongOvercrowded,
			fmt.Sprintf("Funding +%.4f%% deeply positive and rising with RSI %.1f — long squeeze setup", c.FundingRate, *c.RSI))
	}
	return nil
}

// ruleTrendConfirmation: moderate funding building in the direction of
// momentum; ride with the crowd.
func ruleTrendConfirmation(c *Context) *Signal {
	if c.Momentum == nil {
		return nil
	}
	switch {
	case c.FundingRate >= trendFundingMin && c.FundingRate <= trendFundingMax &&
		c.FundingDelta > 0 && *c.Momentum > 0:
		return newSignal(c, TypeTrend, BiasLong, LongOvercrowded,
			fmt.Sprintf("Funding +%.4f%% building with positive momentum %.2f%% — trend intact", c.FundingRate, *c.Momentum))
	case c.FundingRate <= -trendFundingMin && c.FundingRate >= -trendFundingMax &&
		c.FundingDelta < 0 && *c.Momentum < 0:
		return newSignal(c, TypeTrend, BiasShort, ShortOvercrowded,
			fmt.Sprintf("Funding %.4f%% building with negative momentum %.2f%% — trend intact", c.FundingRate, *c.Momentum))
	}
	return nil
}

// ruleDivergence: price momentum moving against the paying side.
func ruleDivergence(c *Context) *Signal {
	if c.Momentum == nil {
		return nil
	}
	switch {
	case *c.Momentum < -1.0 && c.FundingRate > divergenceFunding:
		return newSignal(c, TypeDivergence, BiasLong, LongOvercrowded,
			fmt.Sprintf("Price falling %.2f%% while longs pay +%.4f%% — crowded longs trapped", *c.Momentum, c.FundingRate))
	case *c.Momentum > 1.0 && c.FundingRate < -divergenceFunding:
		return newSignal(c, TypeDivergence, BiasShort, ShortOvercrowded,
			fmt.Sprintf("Price rising %.2f%% while shorts pay %.4f%% — crowded shorts trapped", *c.Momentum, c.FundingRate))
	}
	return nil
}

func newSignal(c *Context, sigType SignalType, bias Bias, fundingBias, context string) *Signal {
	momentum := 0.0
	if c.Momentum != nil {
		momentum = *c.Momentum
	}

	label := LabelExpansion
	if c.RSI != nil && c.Momentum != nil && indicators.IsExhaustion(*c.RSI, *c.Momentum) {
		label = LabelExhaustion
	}

	return &Signal{
		ID:            uuid.New().String(),
		Symbol:        c.Symbol,
		Type:          sigType,
		Bias:          bias,
		FundingRate:   c.FundingRate,
		FundingDelta:  c.FundingDelta,
		RSI:           c.RSI,
		Price:         c.Price,
		Volume24h:     c.Volume24h,
		Timeframe:     timeframeTag,
		Context:       context,
		MomentumLabel: label,
		FundingBias:   fundingBias,
		Movement: Movement{
			UpPercent:   math.Max(momentum, 2.0),
			DownPercent: math.Max(-momentum, 2.0),
		},
		CreatedAt: time.Now(),
	}
}
