// Package indicators computes the technical indicators fed to the signal evaluator.
// Every function reports ok=false when there is not enough history instead of returning 0.
package indicators

// SMA calculates the simple moving average for the last period values.
func SMA(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period {
		return 0, false
	}
	sum := 0.0
	for i := len(values) - period; i < len(values); i++ {
		sum += values[i]
	}
	return sum / float64(period), true
}

// EMA seeds with the SMA of the first period values and smooths over the rest.
func EMA(values []float64, period int) (float64, bool) {
	seed, ok := SMA(values[:min(period, len(values))], period)
	if !ok {
		return 0, false
	}
	k := 2.0 / float64(period+1)
	ema := seed
	for _, v := range values[period:] {
		ema = v*k + ema*(1-k)
	}
	return ema, true
}

// RSI uses Wilder smoothing over the whole series.
func RSI(values []float64, period int) (float64, bool) {
	if period <= 0 || len(values) < period+1 {
		return 0, false
	}

	var gain, loss float64
	for i := 1; i <= period; i++ {
		change := values[i] - values[i-1]
		if change > 0 {
			gain += change
		} else {
			loss -= change
		}
	}
	avgGain := gain / float64(period)
	avgLoss := loss / float64(period)

	for i := period + 1; i < len(values); i++ {
		change := values[i] - values[i-1]
		var g, l float64
		if change > 0 {
			g = change
		} else {
			l = -change
		}
		avgGain = (avgGain*float64(period-1) + g) / float64(period)
		avgLoss = (avgLoss*float64(period-1) + l) / float64(period)
	}

	if avgLoss == 0 {
		return 100, true
	}
	rs := avgGain / avgLoss
	return 100 - (100 / (1 + rs)), true
}

// ATR is the Wilder-smoothed average true range. highs, lows and closes must have equal length.
func ATR(highs, lows, closes []float64, period int) (float64, bool) {
	n := len(closes)
	if period <= 0 || n < period+1 || len(highs) != n || len(lows) != n {
		return 0, false
	}

	tr := func(i int) float64 {
		hl := highs[i] - lows[i]
		hc := abs(highs[i] - closes[i-1])
		lc := abs(lows[i] - closes[i-1])
		return max(hl, hc, lc)
	}

	sum := 0.0
	for i := 1; i <= period; i++ {
		sum += tr(i)
	}
	atr := sum / float64(period)
	for i := period + 1; i < n; i++ {
		atr = (atr*float64(period-1) + tr(i)) / float64(period)
	}
	return atr, true
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
