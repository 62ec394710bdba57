package resample

import "mtfsignal/internal/market"

// AlignIndex maps each lower-timeframe bar to the newest higher-timeframe bar
// that closed before the lower bar opened, or -1 when none has. The bar whose
// window contains the lower bar is never visible to it.
func AlignIndex(ltf, htf []market.Candle) []int {
	idx := make([]int, len(ltf))
	cursor := 0
	for i, c := range ltf {
		for cursor < len(htf) && htf[cursor].CloseTime < c.OpenTime {
			cursor++
		}
		idx[i] = cursor - 1
	}
	return idx
}

// Series is a lower-timeframe series with its aligned higher timeframe.
type Series struct {
	LTF      market.Candles
	HTF      market.Candles
	HTFIndex []int
}

// NewSeries builds the higher timeframe by resampling ltf by factor.
func NewSeries(ltf market.Candles, factor int) (Series, error) {
	htf, err := Resample(ltf, factor)
	if err != nil {
		return Series{}, err
	}
	return Join(ltf, htf), nil
}

// NewAlignedSeries resamples on the clock grid of htfTF.
func NewAlignedSeries(ltf market.Candles, ltfTF, htfTF market.Timeframe) (Series, error) {
	htf, err := ResampleAligned(ltf, ltfTF, htfTF)
	if err != nil {
		return Series{}, err
	}
	return Join(ltf, htf), nil
}

// Join aligns an externally sourced higher timeframe onto ltf.
func Join(ltf, htf market.Candles) Series {
	return Series{LTF: ltf, HTF: htf, HTFIndex: AlignIndex(ltf, htf)}
}

// HTFAt returns the index of the higher bar visible at lower bar i.
func (s Series) HTFAt(i int) (int, bool) {
	if i < 0 || i >= len(s.HTFIndex) {
		return -1, false
	}
	j := s.HTFIndex[i]
	return j, j >= 0
}

// Value projects a per-HTF-bar slice onto lower bar i.
func Value[T any](s Series, values []T, i int) (T, bool) {
	var zero T
	j, ok := s.HTFAt(i)
	if !ok || j >= len(values) {
		return zero, false
	}
	return values[j], true
}
