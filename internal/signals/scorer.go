package signals

import "math"

// Scoring weights, summing to 100.
const (
	weightFunding     = 40
	weightDelta       = 20
	weightRSIMomentum = 20
	weightVolume      = 10
	weightBTC         = 10
)

// DefaultScoreThreshold is the dispatch cutoff when none is configured.
const DefaultScoreThreshold = 75.0

// Score computes the weighted 0-100 composite for a context. Each sub-score
// is itself bounded to [0,100]; the result is rounded to two decimals.
func Score(c *Context) float64 {
	total := float64(weightFunding)*fundingScore(c.FundingRate) +
		float64(weightDelta)*deltaScore(c.FundingDelta, c.FundingRate) +
		float64(weightRSIMomentum)*rsiMomentumScore(c.RSI, c.Momentum) +
		float64(weightVolume)*volumeScore(c.Volume24h) +
		float64(weightBTC)*btcScore(c.BTCFunding)

	return math.Round(total) / 100
}

// MeetsThreshold reports whether a score qualifies for dispatch.
func MeetsThreshold(score, threshold float64) bool {
	return score >= threshold
}

// fundingScore is a step function of funding extremity.
func fundingScore(funding float64) float64 {
	abs := math.Abs(funding)
	switch {
	case abs >= 0.04:
		return 100
	case abs >= 0.03:
		return 90
	case abs >= 0.02:
		return 75
	case abs >= 0.015:
		return 60
	case abs >= 0.01:
		return 45
	case abs >= 0.005:
		return 30
	case abs >= 0.002:
		return 15
	default:
		return 0
	}
}

// deltaScore rewards funding acceleration; small deltas score by whether
// they move with or against the prevailing funding sign.
func deltaScore(delta, funding float64) float64 {
	if delta == 0 {
		return 50
	}
	abs := math.Abs(delta)
	switch {
	case abs >= 0.01:
		return 100
	case abs >= 0.005:
		return 85
	case abs >= 0.002:
		return 70
	case abs >= 0.001:
		return 55
	}
	if sameSign(delta, funding) {
		return math.Min(100, 60+abs*10000)
	}
	return 40
}

// rsiMomentumScore rewards directional agreement between RSI regime and
// momentum. Missing inputs score neutral.
func rsiMomentumScore(rsi, momentum *float64) float64 {
	if rsi == nil || momentum == nil {
		return 50
	}
	r, m := *rsi, *momentum
	switch {
	case (r >= 70 && m > 0) || (r <= 30 && m < 0):
		return 100
	case math.Abs(m) > 2 && r >= 40 && r <= 60:
		return 85
	case (r >= 60 && m > 1) || (r <= 40 && m < -1):
		return 70
	case math.Abs(m) > 0.5:
		return 50
	default:
		return 30
	}
}

// volumeScore is a placeholder pending a real volume-spike factor: a flat 60
// whenever volume is known.
func volumeScore(volume24h float64) float64 {
	if volume24h <= 0 {
		return 50
	}
	return 60
}

// btcScore folds in cross-market stress via the BTC funding rate.
func btcScore(btcFunding *float64) float64 {
	if btcFunding == nil {
		return 50
	}
	abs := math.Abs(*btcFunding)
	switch {
	case abs >= 0.02:
		return 80
	case abs >= 0.01:
		return 65
	case abs >= 0.005:
		return 55
	default:
		return 50
	}
}

func sameSign(a, b float64) bool {
	return (a > 0 && b > 0) || (a < 0 && b < 0)
}
