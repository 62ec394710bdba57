package indicator

import (
	"math"

	"mtfsignal/internal/market"
)

type StochRSISettings struct {
	RSIPeriod   int     `toml:"rsi_period" json:"rsi_period"`
	StochPeriod int     `toml:"stoch_period" json:"stoch_period"`
	KSmooth     int     `toml:"k_smooth" json:"k_smooth"`
	DSmooth     int     `toml:"d_smooth" json:"d_smooth"`
	Oversold    float64 `toml:"oversold" json:"oversold"`
	Overbought  float64 `toml:"overbought" json:"overbought"`
}

// StochRSIResult holds %K/%D in [0,100] (NaN while undefined) and the
// threshold flags derived from %K.
type StochRSIResult struct {
	K          []float64
	D          []float64
	Oversold   []bool
	Overbought []bool
	CrossUp    []bool
	CrossDown  []bool
}

// StochRSI normalises Wilder RSI over StochPeriod bars, then smooths with
// SMA(KSmooth) for %K and SMA(DSmooth) of %K for %D. A flat RSI window maps
// to 50. Crosses are edge triggered: the previous %K at or beyond the
// threshold and the current one back inside.
func StochRSI(candles []market.Candle, s StochRSISettings) StochRSIResult {
	n := len(candles)
	res := StochRSIResult{
		K:          nanSeries(n),
		D:          nanSeries(n),
		Oversold:   make([]bool, n),
		Overbought: make([]bool, n),
		CrossUp:    make([]bool, n),
		CrossDown:  make([]bool, n),
	}
	if s.RSIPeriod < 2 || s.StochPeriod <= 0 || s.KSmooth <= 0 || s.DSmooth <= 0 {
		return res
	}
	rsi := RSI(market.Candles(candles).Closes(), s.RSIPeriod)
	stoch := nanSeries(n)
	for i := range rsi {
		lo, hi, ok := windowRange(rsi, i, s.StochPeriod)
		if !ok {
			continue
		}
		if hi-lo <= 1e-12 {
			stoch[i] = 50
			continue
		}
		stoch[i] = (rsi[i] - lo) / (hi - lo) * 100
	}
	k := SMA(stoch, s.KSmooth)
	d := SMA(k, s.DSmooth)
	for i := 0; i < n; i++ {
		if isValid(k[i]) {
			res.K[i] = clamp(k[i], 0, 100)
		}
		if isValid(d[i]) {
			res.D[i] = clamp(d[i], 0, 100)
		}
		cur := res.K[i]
		if !isValid(cur) {
			continue
		}
		res.Oversold[i] = cur < s.Oversold
		res.Overbought[i] = cur > s.Overbought
		if i == 0 || !isValid(res.K[i-1]) {
			continue
		}
		prev := res.K[i-1]
		res.CrossUp[i] = prev <= s.Oversold && cur > s.Oversold
		res.CrossDown[i] = prev >= s.Overbought && cur < s.Overbought
	}
	return res
}

// windowRange returns min/max of the period values ending at i, requiring
// all of them to be valid.
func windowRange(values []float64, i, period int) (float64, float64, bool) {
	if i-period+1 < 0 {
		return 0, 0, false
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	for j := i - period + 1; j <= i; j++ {
		v := values[j]
		if !isValid(v) {
			return 0, 0, false
		}
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	return lo, hi, true
}
