// Package indicators provides pure technical-indicator math over close-price
// series. All functions are deterministic and allocation-light; callers hold
// whatever locks protect the input slice.
package indicators

import "math"

const (
	// DefaultRSIPeriod is the Wilder RSI lookback.
	DefaultRSIPeriod = 14
	// DefaultMomentumPeriod is the momentum lookback.
	DefaultMomentumPeriod = 10

	rsiOverbought = 70.0
	rsiOversold   = 30.0
)

// RSI computes the Wilder-smoothed Relative Strength Index over the series.
// Returns nil when fewer than period+1 closes are available. A zero average
// loss yields 100. The result is rounded to two decimals.
func RSI(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}

	var avgGain, avgLoss float64
	for i := 1; i <= period; i++ {
		change := closes[i] - closes[i-1]
		if change > 0 {
			avgGain += change
		} else {
			avgLoss -= change
		}
	}
	avgGain /= float64(period)
	avgLoss /= float64(period)

	// Wilder smoothing for the remainder of the series.
	alpha := 1.0 / float64(period)
	for i := period + 1; i < len(closes); i++ {
		change := closes[i] - closes[i-1]
		gain, loss := 0.0, 0.0
		if change > 0 {
			gain = change
		} else {
			loss = -change
		}
		avgGain = avgGain*(1-alpha) + gain*alpha
		avgLoss = avgLoss*(1-alpha) + loss*alpha
	}

	if avgLoss == 0 {
		v := 100.0
		return &v
	}

	rs := avgGain / avgLoss
	v := round2(100.0 - 100.0/(1.0+rs))
	return &v
}

// Momentum computes the percent price change over the trailing period:
// (last - closes[last-period]) / closes[last-period] * 100. Returns nil when
// the series is too short or the base price is zero. Two-decimal rounding.
func Momentum(closes []float64, period int) *float64 {
	if period <= 0 || len(closes) < period+1 {
		return nil
	}
	base := closes[len(closes)-1-period]
	if base == 0 {
		return nil
	}
	v := round2((closes[len(closes)-1] - base) / base * 100)
	return &v
}

// IsExhaustion reports an extreme RSI paired with strong momentum.
func IsExhaustion(rsi, momentum float64) bool {
	return (rsi >= rsiOverbought || rsi <= rsiOversold) && math.Abs(momentum) > 2.0
}

// IsExpansion reports mid-range RSI paired with meaningful momentum.
func IsExpansion(rsi, momentum float64) bool {
	return rsi >= 40 && rsi <= 60 && math.Abs(momentum) > 1.5
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
