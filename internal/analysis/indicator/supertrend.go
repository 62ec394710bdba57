package indicator

import (
	"math"

	"mtfsignal/internal/market"
)

type SupertrendSettings struct {
	Period     int     `toml:"period" json:"period"`
	Multiplier float64 `toml:"multiplier" json:"multiplier"`
}

// SupertrendResult is aligned 1:1 with the input candles. Direction is +1 or
// -1, and 0 where there is not enough history; Value is NaN there.
type SupertrendResult struct {
	Value     []float64
	Direction []int
	Upper     []float64
	Lower     []float64
}

// Supertrend computes ATR bands around hl2. The final upper band only moves
// down (and the lower band only up) unless the previous close broke through
// it. Direction turns up when the close exceeds the previous upper band and
// down when it falls under the previous lower band.
func Supertrend(candles []market.Candle, s SupertrendSettings) SupertrendResult {
	n := len(candles)
	res := SupertrendResult{
		Value:     nanSeries(n),
		Direction: make([]int, n),
		Upper:     nanSeries(n),
		Lower:     nanSeries(n),
	}
	if s.Period <= 0 || s.Multiplier <= 0 {
		return res
	}
	atr := ATR(candles, s.Period)
	start := firstValid(atr)
	if start < 0 {
		return res
	}
	for i := start; i < n; i++ {
		c := candles[i]
		mid := c.HL2()
		basicU := mid + s.Multiplier*atr[i]
		basicL := mid - s.Multiplier*atr[i]
		if i == start {
			res.Upper[i], res.Lower[i] = basicU, basicL
			if c.Close > mid {
				res.Direction[i] = 1
			} else {
				res.Direction[i] = -1
			}
		} else {
			prevU, prevL := res.Upper[i-1], res.Lower[i-1]
			prevClose := candles[i-1].Close
			res.Upper[i] = prevU
			if basicU < prevU || prevClose > prevU {
				res.Upper[i] = basicU
			}
			res.Lower[i] = prevL
			if basicL > prevL || prevClose < prevL {
				res.Lower[i] = basicL
			}
			dir := res.Direction[i-1]
			switch {
			case dir < 0 && c.Close > prevU:
				dir = 1
			case dir > 0 && c.Close < prevL:
				dir = -1
			}
			res.Direction[i] = dir
		}
		if res.Direction[i] > 0 {
			res.Value[i] = res.Lower[i]
		} else {
			res.Value[i] = res.Upper[i]
		}
	}
	return res
}

// At reports the trend line and direction at i, false while undefined.
func (r SupertrendResult) At(i int) (float64, int, bool) {
	if i < 0 || i >= len(r.Direction) || r.Direction[i] == 0 {
		return math.NaN(), 0, false
	}
	return r.Value[i], r.Direction[i], true
}

// Flip is +1 when the trend turned up at i, -1 when it turned down, else 0.
func (r SupertrendResult) Flip(i int) int {
	if i <= 0 || i >= len(r.Direction) {
		return 0
	}
	prev, cur := r.Direction[i-1], r.Direction[i]
	if prev == 0 || prev == cur {
		return 0
	}
	return cur
}
