package indicator

import (
	"math"

	"github.com/markcheno/go-talib"

	"mtfsignal/internal/market"
)

// Series values use NaN for "not enough history yet".

func nanSeries(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = math.NaN()
	}
	return out
}

func isValid(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

// ATR is Wilder's average true range. Entries before index period are NaN.
func ATR(candles []market.Candle, period int) []float64 {
	out := nanSeries(len(candles))
	if period <= 0 || len(candles) <= period {
		return out
	}
	cs := market.Candles(candles)
	raw := talib.Atr(cs.Highs(), cs.Lows(), cs.Closes(), period)
	for i := period; i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// RSI is Wilder's relative strength index. Entries before index period are NaN.
func RSI(closes []float64, period int) []float64 {
	out := nanSeries(len(closes))
	if period < 2 || len(closes) <= period {
		return out
	}
	raw := talib.Rsi(closes, period)
	for i := period; i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// SMA smooths a series that may start with NaN padding. The result is NaN
// until period valid inputs are available.
func SMA(values []float64, period int) []float64 {
	out := nanSeries(len(values))
	if period <= 0 {
		return out
	}
	start := firstValid(values)
	if start < 0 || len(values)-start < period {
		return out
	}
	tail := values[start:]
	if period == 1 {
		copy(out[start:], tail)
		return out
	}
	raw := talib.Sma(tail, period)
	for i := period - 1; i < len(raw); i++ {
		out[start+i] = raw[i]
	}
	return out
}

func firstValid(values []float64) int {
	for i, v := range values {
		if isValid(v) {
			return i
		}
	}
	return -1
}

func lastValid(series []float64) float64 {
	for i := len(series) - 1; i >= 0; i-- {
		if isValid(series[i]) {
			return series[i]
		}
	}
	return math.NaN()
}

// At returns series[i] when it is a real value.
func At(series []float64, i int) (float64, bool) {
	if i < 0 || i >= len(series) {
		return 0, false
	}
	v := series[i]
	return v, isValid(v)
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
