package strategy

import (
	"math"
	"testing"
	"time"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func hourly(n int, price func(i int) float64) market.Candles {
	out := make(market.Candles, n)
	prev := price(0)
	for i := range out {
		ot := base.Add(time.Duration(i) * time.Hour).UnixMilli()
		c := price(i)
		out[i] = market.Candle{
			OpenTime: ot, CloseTime: ot + time.Hour.Milliseconds() - 1,
			Open: prev, High: math.Max(prev, c), Low: math.Min(prev, c), Close: c, Volume: 100,
		}
		prev = c
	}
	return out
}

func mustTF(t *testing.T, key string) market.Timeframe {
	tf, err := market.ParseTimeframe(key)
	require.NoError(t, err)
	return tf
}

func TestFrameFlatMarketProducesNoSignals(t *testing.T) {
	candles := hourly(400, func(int) float64 { return 1.1 })
	frame, err := BuildFrame(candles, mustTF(t, "1h"), mustTF(t, "4h"), 4, indicator.DefaultSettings())
	require.NoError(t, err)

	g := NewGenerator("EUR_USD", DefaultParams())
	for i := 0; i < frame.Len(); i++ {
		sig, err := g.Evaluate(frame.Bar(i))
		require.NoError(t, err)
		assert.False(t, sig.IsEntry(), "bar %d: %s", i, sig)
	}
}

func TestFrameTrendLagsOneHigherBar(t *testing.T) {
	candles := hourly(48, func(i int) float64 { return 1 + float64(i)*0.01 })
	frame, err := BuildFrame(candles, mustTF(t, "1h"), mustTF(t, "4h"), 0, indicator.DefaultSettings())
	require.NoError(t, err)
	require.Equal(t, 12, len(frame.Series.HTF))
	for i := 0; i < 4; i++ {
		assert.Equal(t, 0, frame.TrendAt(i), "no higher bar has closed at %d", i)
	}
	j, ok := frame.Series.HTFAt(4)
	require.True(t, ok)
	assert.Equal(t, 0, j)
	last, ok := frame.Last()
	require.True(t, ok)
	assert.Equal(t, 47, last.Index)
}
