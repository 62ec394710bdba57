package strategy

import (
	"fmt"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/market"
	"mtfsignal/internal/resample"
)

// Frame is one evaluation window: the lower-timeframe candles, the derived
// higher timeframe, and every indicator aligned to the lower index.
type Frame struct {
	TF       market.Timeframe
	HTF      market.Timeframe
	Series   resample.Series
	Trend    indicator.SupertrendResult
	Report   indicator.Report
	Settings indicator.Settings
}

// BuildFrame resamples candles into the higher timeframe and computes all
// indicators. A positive factor groups by count; otherwise bars are bucketed
// on the higher timeframe's clock grid.
func BuildFrame(candles market.Candles, tf, htf market.Timeframe, factor int, s indicator.Settings) (*Frame, error) {
	var (
		series resample.Series
		err    error
	)
	if factor > 0 {
		series, err = resample.NewSeries(candles, factor)
	} else {
		series, err = resample.NewAlignedSeries(candles, tf, htf)
	}
	if err != nil {
		return nil, fmt.Errorf("resample %s->%s: %w", tf, htf, err)
	}
	return &Frame{
		TF:       tf,
		HTF:      htf,
		Series:   series,
		Trend:    indicator.Supertrend(series.HTF, s.Supertrend),
		Report:   indicator.Compute(series.LTF, s),
		Settings: s,
	}, nil
}

func (f *Frame) Len() int { return len(f.Series.LTF) }

// TrendAt is the direction of the newest closed higher bar visible at i.
func (f *Frame) TrendAt(i int) int {
	dir, ok := resample.Value(f.Series, f.Trend.Direction, i)
	if !ok {
		return 0
	}
	return dir
}

func (f *Frame) Bar(i int) Bar {
	c := f.Series.LTF[i]
	b := Bar{
		Index: i,
		Time:  c.OpenAt(),
		Close: c.Close,
		High:  c.High,
		Low:   c.Low,
		Trend: f.TrendAt(i),
		FVG:   f.Report.FVG.Bars[i],
		VP:    f.Report.Profile[i],
	}
	b.ATR, b.ATRValid = indicator.At(f.Report.ATR, i)
	b.K, b.KValid = indicator.At(f.Report.StochRSI.K, i)
	return b
}

// Last is the newest bar of the frame.
func (f *Frame) Last() (Bar, bool) {
	if f.Len() == 0 {
		return Bar{}, false
	}
	return f.Bar(f.Len() - 1), true
}

// Recent returns up to n candles ending at i inclusive.
func (f *Frame) Recent(i, n int) []market.Candle {
	if i < 0 || i >= f.Len() {
		return nil
	}
	from := i + 1 - n
	if from < 0 {
		from = 0
	}
	return f.Series.LTF[from : i+1]
}

// FVGAt rebuilds the gap zones as they stood after bar i, so stop placement
// never sees zones formed or mitigated later.
func (f *Frame) FVGAt(i int) indicator.FVGResult {
	if i < 0 || i >= f.Len() {
		return indicator.FVGResult{}
	}
	if i == f.Len()-1 {
		return f.Report.FVG
	}
	return indicator.DetectFVG(f.Series.LTF[:i+1], f.Report.ATR[:i+1], f.Settings.FVG)
}
