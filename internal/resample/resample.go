// Package resample aggregates lower-timeframe candles into higher-timeframe
// bars and joins them back without look-ahead.
package resample

import (
	"fmt"

	"mtfsignal/internal/market"
)

// Resample groups every factor consecutive candles into one bar. When the
// series length is not a multiple of factor, the oldest leftover candles are
// dropped so that no truncated bar is emitted.
func Resample(candles []market.Candle, factor int) ([]market.Candle, error) {
	if factor <= 0 {
		return nil, fmt.Errorf("resample factor must be positive, got %d", factor)
	}
	if factor == 1 {
		return append([]market.Candle(nil), candles...), nil
	}
	skip := len(candles) % factor
	out := make([]market.Candle, 0, len(candles)/factor)
	for start := skip; start+factor <= len(candles); start += factor {
		out = append(out, merge(candles[start:start+factor]))
	}
	return out, nil
}

// ResampleAligned buckets candles on the higher timeframe's clock grid
// (e.g. 4h bars starting at 00:00, 04:00 ...). Buckets may have gaps, but a
// leading bucket that starts mid-period and a trailing bucket whose period
// has not finished are dropped.
func ResampleAligned(candles []market.Candle, ltf, htf market.Timeframe) ([]market.Candle, error) {
	if _, err := ltf.Factor(htf); err != nil {
		return nil, err
	}
	if len(candles) == 0 {
		return nil, nil
	}
	step := htf.Millis()
	var out []market.Candle
	i := 0
	for i < len(candles) {
		bucket := market.AlignDown(candles[i].OpenTime, step)
		j := i
		for j < len(candles) && market.AlignDown(candles[j].OpenTime, step) == bucket {
			j++
		}
		group := candles[i:j]
		leadingPartial := i == 0 && group[0].OpenTime != bucket
		lastClose := group[len(group)-1].OpenTime + ltf.Millis()
		trailingPartial := j == len(candles) && lastClose < bucket+step
		if !leadingPartial && !trailingPartial {
			c := merge(group)
			c.OpenTime = bucket
			c.CloseTime = bucket + step - 1
			out = append(out, c)
		}
		i = j
	}
	return out, nil
}

func merge(group []market.Candle) market.Candle {
	first, last := group[0], group[len(group)-1]
	c := market.Candle{
		OpenTime:  first.OpenTime,
		CloseTime: last.CloseTime,
		Open:      first.Open,
		High:      first.High,
		Low:       first.Low,
		Close:     last.Close,
	}
	for _, g := range group {
		if g.High > c.High {
			c.High = g.High
		}
		if g.Low < c.Low {
			c.Low = g.Low
		}
		c.Volume += g.Volume
		c.Trades += g.Trades
	}
	return c
}
