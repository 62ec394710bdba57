package strategy

import (
	"testing"
	"time"

	"mtfsignal/internal/analysis/indicator"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Monday 2024-01-08 08:00 UTC, inside the London session.
var base = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)

func uptrendBar(i int, k float64) Bar {
	return Bar{
		Index:    i,
		Time:     base.Add(time.Duration(i) * time.Hour),
		Close:    1.1 + float64(i)*0.001,
		ATR:      0.002,
		ATRValid: true,
		Trend:    1,
		K:        k,
		KValid:   true,
		VP:       indicator.VPBar{Valid: true, NearPOC: true},
	}
}

func runBars(g *Generator, bars []Bar) []Signal {
	var out []Signal
	for _, b := range bars {
		sig, err := g.Evaluate(b)
		if err != nil {
			panic(err)
		}
		if sig.IsEntry() {
			out = append(out, sig)
		}
	}
	return out
}

func TestGeneratorSingleLongAtOversoldBounce(t *testing.T) {
	var bars []Bar
	for i := 0; i < 40; i++ {
		k := 75.0
		switch {
		case i == 28 || i == 29:
			k = 12
		case i == 30:
			k = 27
		}
		bars = append(bars, uptrendBar(i, k))
	}
	g := NewGenerator("EUR_USD", DefaultParams())
	signals := runBars(g, bars)
	require.Len(t, signals, 1)
	sig := signals[0]
	assert.Equal(t, DirectionLong, sig.Direction)
	assert.Equal(t, 30, sig.Index)
	assert.InDelta(t, sig.EntryPrice-2*0.002, sig.StopLoss, 1e-12)
	assert.InDelta(t, sig.EntryPrice+4*0.002, sig.TakeProfit, 1e-12)
	assert.Equal(t, 0.75, sig.Strength)
	assert.Equal(t, "HTF Supertrend uptrend", sig.Reasons[0])
	assert.Contains(t, sig.Reasons, "Near VP support")
}

func TestGeneratorNullTrendSuppresses(t *testing.T) {
	g := NewGenerator("EUR_USD", DefaultParams())
	b := uptrendBar(0, 12)
	b.Trend = 0
	_, err := g.Evaluate(b)
	require.NoError(t, err)
	b = uptrendBar(1, 30)
	b.Trend = 0
	sig, err := g.Evaluate(b)
	require.NoError(t, err)
	assert.False(t, sig.IsEntry())
	assert.Equal(t, "higher timeframe trend unavailable", sig.Blocker)
}

func TestGeneratorLVNAndConfluence(t *testing.T) {
	g := NewGenerator("EUR_USD", DefaultParams())
	b := uptrendBar(0, 45)
	b.VP.InLVN = true
	sig, _ := g.Evaluate(b)
	assert.Equal(t, "price inside LVN", sig.Blocker)

	b = uptrendBar(5, 45)
	b.VP = indicator.VPBar{Valid: true}
	sig, _ = g.Evaluate(b)
	assert.Equal(t, "no bullish confluence", sig.Blocker)

	b = uptrendBar(10, 45)
	b.VP = indicator.VPBar{}
	b.FVG = indicator.FVGBar{InBullish: true, BullishBounce: true}
	sig, _ = g.Evaluate(b)
	require.True(t, sig.IsEntry())
	assert.Equal(t, []string{"HTF Supertrend uptrend", "StochRSI recovering (45.0 < 60)", "Bullish FVG confluence"}, sig.Reasons)
}

func TestGeneratorShortMirror(t *testing.T) {
	g := NewGenerator("EUR_USD", DefaultParams())
	mkShort := func(i int, k float64) Bar {
		b := uptrendBar(i, k)
		b.Trend = -1
		b.VP = indicator.VPBar{Valid: true, NearVAH: true}
		return b
	}
	_, _ = g.Evaluate(mkShort(0, 85))
	sig, _ := g.Evaluate(mkShort(1, 78))
	require.Equal(t, DirectionShort, sig.Direction)
	assert.Greater(t, sig.StopLoss, sig.EntryPrice)
	assert.Less(t, sig.TakeProfit, sig.EntryPrice)
	assert.Contains(t, sig.Reasons, "Near VP resistance")
}

func TestGeneratorSpacing(t *testing.T) {
	p := DefaultParams()
	p.MinCandlesBetweenTrades = 3
	g := NewGenerator("EUR_USD", p)
	var bars []Bar
	for i := 0; i < 6; i++ {
		bars = append(bars, uptrendBar(i, 45))
	}
	signals := runBars(g, bars)
	require.Len(t, signals, 2)
	assert.Equal(t, 0, signals[0].Index)
	assert.Equal(t, 3, signals[1].Index)
}

func TestGeneratorSpacingByDuration(t *testing.T) {
	p := DefaultParams()
	p.BarDuration = time.Hour
	g := NewGenerator("EUR_USD", p)
	first, _ := g.Evaluate(uptrendBar(0, 45))
	require.True(t, first.IsEntry())
	// Index jumps back (new window) but time says one bar elapsed.
	b := uptrendBar(1, 45)
	b.Index = 0
	sig, _ := g.Evaluate(b)
	assert.Equal(t, "too soon after previous signal", sig.Blocker)
}

func TestGeneratorRejectsStaleBars(t *testing.T) {
	g := NewGenerator("EUR_USD", DefaultParams())
	_, err := g.Evaluate(uptrendBar(3, 50))
	require.NoError(t, err)
	_, err = g.Evaluate(uptrendBar(3, 50))
	assert.ErrorIs(t, err, ErrStaleBar)
	_, err = g.Evaluate(uptrendBar(2, 50))
	assert.ErrorIs(t, err, ErrStaleBar)
}

func TestGeneratorStrictVariantNeedsCross(t *testing.T) {
	strict, err := BuiltinVariants().Get("strict")
	require.NoError(t, err)
	g := NewGenerator("EUR_USD", strict.Apply(DefaultParams()))
	var bars []Bar
	for i := 0; i < 10; i++ {
		bars = append(bars, uptrendBar(i, 45))
	}
	assert.Empty(t, runBars(g, bars))
}

func TestGeneratorSessionFilter(t *testing.T) {
	p := DefaultParams()
	p.Session = SessionFilter{ExcludedDays: []time.Weekday{time.Saturday, time.Sunday}}
	g := NewGenerator("EUR_USD", p)
	b := uptrendBar(0, 45)
	b.Time = time.Date(2024, 1, 6, 10, 0, 0, 0, time.UTC) // Saturday
	sig, _ := g.Evaluate(b)
	assert.Equal(t, "outside trading session", sig.Blocker)
}

func TestCheckExit(t *testing.T) {
	g := NewGenerator("EUR_USD", DefaultParams())
	b := uptrendBar(0, 95)
	ex := g.CheckExit(b, DirectionLong)
	assert.True(t, ex.Triggered)
	assert.Equal(t, []string{"StochRSI extreme overbought"}, ex.Reasons)

	b.Trend = -1
	b.K = 50
	ex = g.CheckExit(b, DirectionLong)
	assert.Equal(t, []string{"Supertrend reversal"}, ex.Reasons)

	b.Trend = 0
	b.K = 5
	assert.False(t, g.CheckExit(b, DirectionLong).Triggered)
	ex = g.CheckExit(b, DirectionShort)
	assert.Equal(t, []string{"StochRSI extreme oversold"}, ex.Reasons)
}

func TestGeneratorSnapshotRestore(t *testing.T) {
	p := DefaultParams()
	p.BarDuration = time.Hour
	g := NewGenerator("EUR_USD", p)
	_, _ = g.Evaluate(uptrendBar(0, 10))
	snap := g.Snapshot()

	restored := NewGenerator("EUR_USD", p)
	restored.Restore(snap)
	sig, err := restored.Evaluate(uptrendBar(1, 25))
	require.NoError(t, err)
	assert.Contains(t, sig.Reasons[1], "crossed above")
	_, err = restored.Evaluate(uptrendBar(1, 25))
	assert.ErrorIs(t, err, ErrStaleBar)
}
