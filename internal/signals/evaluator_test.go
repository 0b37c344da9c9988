package signals

import (
	"testing"

	"bybit-funding-bot/internal/bybit"
)

// fakeReader serves canned per-symbol state
type fakeReader struct {
	tickers map[string]bybit.PriceData
	funding map[string]bybit.Funding
	closes  map[string][]float64
	deltas  map[string]float64
}

func (f *fakeReader) Market(symbol string) (bybit.PriceData, bool) {
	t, ok := f.tickers[symbol]
	return t, ok
}

func (f *fakeReader) FundingRate(symbol string) (bybit.Funding, bool) {
	fr, ok := f.funding[symbol]
	return fr, ok
}

func (f *fakeReader) PriceHistory(symbol string) []float64 { return f.closes[symbol] }

func (f *fakeReader) FundingDelta(symbol string) float64 { return f.deltas[symbol] }

func newFakeReader() *fakeReader {
	return &fakeReader{
		tickers: make(map[string]bybit.PriceData),
		funding: make(map[string]bybit.Funding),
		closes:  make(map[string][]float64),
		deltas:  make(map[string]float64),
	}
}

func risingCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	return closes
}

func flatCloses(n int) []float64 {
	closes := make([]float64, n)
	for i := range closes {
		// Alternate small up/down moves so RSI lands mid-range.
		closes[i] = 100 + float64(i%2)
	}
	return closes
}

func ptr(v float64) *float64 { return &v }

// TestBuildContextMissingState verifies nil for unknown or incomplete symbols
func TestBuildContextMissingState(t *testing.T) {
	reader := newFakeReader()
	ev := NewEvaluator(reader, false)

	if ev.BuildContext("NOPEUSDT") != nil {
		t.Error("Unknown symbol should yield nil context")
	}

	reader.tickers["AUSDT"] = bybit.PriceData{Symbol: "AUSDT", LastPrice: 1}
	if ev.BuildContext("AUSDT") != nil {
		t.Error("Missing funding should yield nil context")
	}

	reader.funding["AUSDT"] = bybit.Funding{Symbol: "AUSDT", Rate: 0.05}
	reader.closes["AUSDT"] = risingCloses(10)
	if ev.BuildContext("AUSDT") != nil {
		t.Error("Short history should yield nil context")
	}
}

// TestBuildContextNeutralFundingGate verifies the early exit and its RSI escape hatch
func TestBuildContextNeutralFundingGate(t *testing.T) {
	reader := newFakeReader()
	ev := NewEvaluator(reader, false)

	// Neutral funding, mid-range RSI: gated out.
	reader.tickers["BUSDT"] = bybit.PriceData{Symbol: "BUSDT", LastPrice: 100}
	reader.funding["BUSDT"] = bybit.Funding{Symbol: "BUSDT", Rate: 0.005}
	reader.closes["BUSDT"] = flatCloses(30)
	if ev.BuildContext("BUSDT") != nil {
		t.Error("Neutral funding with mid-range RSI should be gated out")
	}

	// Neutral funding, extreme RSI: passes the gate.
	reader.closes["BUSDT"] = risingCloses(30) // monotonic gains, RSI 100
	ctx := ev.BuildContext("BUSDT")
	if ctx == nil {
		t.Fatal("Neutral funding with extreme RSI should build a context")
	}
	if ctx.RSI == nil || *ctx.RSI != 100 {
		t.Errorf("Expected RSI 100, got %v", ctx.RSI)
	}
}

// TestBuildContextBTCContext verifies cross-market fields
func TestBuildContextBTCContext(t *testing.T) {
	reader := newFakeReader()
	reader.tickers["CUSDT"] = bybit.PriceData{Symbol: "CUSDT", LastPrice: 5, Turnover24h: 2e6}
	reader.funding["CUSDT"] = bybit.Funding{Symbol: "CUSDT", Rate: 0.03}
	reader.closes["CUSDT"] = risingCloses(30)
	reader.tickers["BTCUSDT"] = bybit.PriceData{Symbol: "BTCUSDT", LastPrice: 60000}
	reader.funding["BTCUSDT"] = bybit.Funding{Symbol: "BTCUSDT", Rate: 0.012}

	ctx := NewEvaluator(reader, true).BuildContext("CUSDT")
	if ctx == nil {
		t.Fatal("Expected context")
	}
	if ctx.BTCPrice == nil || *ctx.BTCPrice != 60000 {
		t.Errorf("Expected BTC price 60000, got %v", ctx.BTCPrice)
	}
	if ctx.BTCFunding == nil || *ctx.BTCFunding != 0.012 {
		t.Errorf("Expected BTC funding 0.012, got %v", ctx.BTCFunding)
	}

	// Disabled BTC context leaves the fields nil.
	ctx = NewEvaluator(reader, false).BuildContext("CUSDT")
	if ctx == nil || ctx.BTCPrice != nil || ctx.BTCFunding != nil {
		t.Error("BTC context fields should be nil when disabled")
	}
}

// TestRuleRSIConfluence covers both directions of the first rule
func TestRuleRSIConfluence(t *testing.T) {
	sig := Evaluate(&Context{Symbol: "XUSDT", FundingRate: -0.02, RSI: ptr(25), Momentum: ptr(-0.5)})
	if sig == nil {
		t.Fatal("Oversold RSI with negative funding should signal")
	}
	if sig.Type != TypeReversal || sig.Bias != BiasLong || sig.FundingBias != ShortOvercrowded {
		t.Errorf("Expected REVERSAL/LONG/%s, got %s/%s/%s", ShortOvercrowded, sig.Type, sig.Bias, sig.FundingBias)
	}

	sig = Evaluate(&Context{Symbol: "XUSDT", FundingRate: 0.02, RSI: ptr(80), Momentum: ptr(0.5)})
	if sig == nil {
		t.Fatal("Overbought RSI with positive funding should signal")
	}
	if sig.Type != TypeReversal || sig.Bias != BiasShort || sig.FundingBias != LongOvercrowded {
		t.Errorf("Expected REVERSAL/SHORT/%s, got %s/%s/%s", LongOvercrowded, sig.Type, sig.Bias, sig.FundingBias)
	}
}

// TestRuleOverextension isolates the second rule with RSI exactly 30
func TestRuleOverextension(t *testing.T) {
	// RSI 30 misses the strict <30 of confluence but satisfies <=30 here.
	sig := Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: -0.05, FundingDelta: -0.01,
		RSI: ptr(30), Momentum: ptr(-1.5),
	})
	if sig == nil {
		t.Fatal("Deep negative funding with stretched RSI should signal")
	}
	if sig.Type != TypeReversal || sig.Bias != BiasLong {
		t.Errorf("Expected REVERSAL/LONG, got %s/%s", sig.Type, sig.Bias)
	}

	// Funding no longer accelerating: no signal from this rule, and the
	// divergence rule does not apply to negative funding with falling price.
	sig = Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: -0.05, FundingDelta: 0.001,
		RSI: ptr(30), Momentum: ptr(-1.5),
	})
	if sig != nil {
		t.Errorf("Decelerating funding should not signal, got %s", sig.Type)
	}
}

// TestRuleTrendConfirmation covers the with-the-crowd rule
func TestRuleTrendConfirmation(t *testing.T) {
	sig := Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: 0.01, FundingDelta: 0.001,
		RSI: ptr(55), Momentum: ptr(0.5),
	})
	if sig == nil {
		t.Fatal("Building funding with positive momentum should signal")
	}
	if sig.Type != TypeTrend || sig.Bias != BiasLong || sig.FundingBias != LongOvercrowded {
		t.Errorf("Expected TREND/LONG/%s, got %s/%s/%s", LongOvercrowded, sig.Type, sig.Bias, sig.FundingBias)
	}

	sig = Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: -0.01, FundingDelta: -0.001,
		RSI: ptr(45), Momentum: ptr(-0.5),
	})
	if sig == nil || sig.Type != TypeTrend || sig.Bias != BiasShort {
		t.Fatalf("Expected TREND/SHORT, got %+v", sig)
	}
}

// TestRuleDivergence covers price moving against the paying side
func TestRuleDivergence(t *testing.T) {
	sig := Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: 0.02, FundingDelta: 0,
		RSI: ptr(55), Momentum: ptr(-1.5),
	})
	if sig == nil {
		t.Fatal("Falling price with longs paying should signal")
	}
	if sig.Type != TypeDivergence || sig.Bias != BiasLong || sig.FundingBias != LongOvercrowded {
		t.Errorf("Expected DIVERGENCE/LONG/%s, got %s/%s/%s", LongOvercrowded, sig.Type, sig.Bias, sig.FundingBias)
	}

	sig = Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: -0.02, FundingDelta: 0,
		RSI: ptr(55), Momentum: ptr(1.5),
	})
	if sig == nil || sig.Type != TypeDivergence || sig.Bias != BiasShort {
		t.Fatalf("Expected DIVERGENCE/SHORT, got %+v", sig)
	}
}

// TestRulePriority verifies the first matching rule wins
func TestRulePriority(t *testing.T) {
	// Satisfies both RSI confluence (RSI 80, funding > 0.01) and
	// divergence (momentum < -1, funding > 0.005).
	sig := Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: 0.02, RSI: ptr(80), Momentum: ptr(-1.5),
	})
	if sig == nil || sig.Type != TypeReversal {
		t.Fatalf("RSI confluence should win over divergence, got %+v", sig)
	}
}

// TestEvaluateNoMatch verifies quiet markets produce nothing
func TestEvaluateNoMatch(t *testing.T) {
	sig := Evaluate(&Context{
		Symbol: "XUSDT", FundingRate: 0.001, RSI: ptr(50), Momentum: ptr(0.2),
	})
	if sig != nil {
		t.Errorf("Quiet market should not signal, got %s", sig.Type)
	}
	if Evaluate(nil) != nil {
		t.Error("Nil context should not signal")
	}
}

// TestEvaluateDeterministic verifies repeat evaluation matches except ID and timestamp
func TestEvaluateDeterministic(t *testing.T) {
	ctx := &Context{Symbol: "XUSDT", FundingRate: -0.02, RSI: ptr(25), Momentum: ptr(-0.5)}

	a := Evaluate(ctx)
	b := Evaluate(ctx)
	if a == nil || b == nil {
		t.Fatal("Expected signals")
	}
	if a.ID == b.ID {
		t.Error("IDs should be unique")
	}
	if a.Type != b.Type || a.Bias != b.Bias || a.Context != b.Context ||
		a.FundingBias != b.FundingBias || a.Movement != b.Movement {
		t.Error("Signal fields should be deterministic across evaluations")
	}
}

// TestMovementFloor verifies the 2 percent display floor
func TestMovementFloor(t *testing.T) {
	sig := Evaluate(&Context{Symbol: "XUSDT", FundingRate: 0.01, FundingDelta: 0.001, RSI: ptr(55), Momentum: ptr(0.5)})
	if sig == nil {
		t.Fatal("Expected signal")
	}
	if sig.Movement.UpPercent != 2.0 || sig.Movement.DownPercent != 2.0 {
		t.Errorf("Weak momentum should floor movement at 2.0, got %+v", sig.Movement)
	}

	sig = Evaluate(&Context{Symbol: "XUSDT", FundingRate: 0.02, FundingDelta: 0, RSI: ptr(55), Momentum: ptr(-3.0)})
	if sig == nil {
		t.Fatal("Expected signal")
	}
	if sig.Movement.DownPercent != 3.0 || sig.Movement.UpPercent != 2.0 {
		t.Errorf("Expected down 3.0 / up 2.0, got %+v", sig.Movement)
	}
}

// TestMomentumLabel verifies exhaustion vs expansion classification
func TestMomentumLabel(t *testing.T) {
	sig := Evaluate(&Context{Symbol: "XUSDT", FundingRate: 0.02, RSI: ptr(80), Momentum: ptr(3.0)})
	if sig == nil || sig.MomentumLabel != LabelExhaustion {
		t.Fatalf("Extreme RSI with strong momentum should label Exhaustion, got %+v", sig)
	}

	sig = Evaluate(&Context{Symbol: "XUSDT", FundingRate: 0.02, RSI: ptr(55), Momentum: ptr(-1.5)})
	if sig == nil || sig.MomentumLabel != LabelExpansion {
		t.Fatalf("Mid-range RSI should label Expansion, got %+v", sig)
	}
}
