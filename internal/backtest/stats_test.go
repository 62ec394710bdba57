package backtest

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func curve(values ...float64) []EquityPoint {
	out := make([]EquityPoint, len(values))
	for i, v := range values {
		out[i] = EquityPoint{Time: t0.Add(time.Duration(i) * time.Hour), Equity: v}
	}
	return out
}

func TestComputeStatsFromTrades(t *testing.T) {
	trades := []Trade{
		{PnL: 300, EntryIndex: 0, ExitIndex: 4, ExitReason: ExitTakeProfit},
		{PnL: -100, EntryIndex: 5, ExitIndex: 7, ExitReason: ExitStopLoss},
		{PnL: -50, EntryIndex: 8, ExitIndex: 9, ExitReason: ExitStopLoss},
		{PnL: 100, EntryIndex: 10, ExitIndex: 16, ExitReason: ExitSignalReversal},
	}
	st := ComputeStats(trades, curve(10000, 10300, 10200, 10150, 10250), 10000, 8760)
	assert.Equal(t, 4, st.Trades)
	assert.Equal(t, 2, st.Wins)
	assert.Equal(t, 2, st.Losses)
	assert.InDelta(t, 0.5, st.WinRate, 1e-12)
	assert.InDelta(t, 400.0/150.0, st.ProfitFactor, 1e-12)
	assert.InDelta(t, 200, st.AvgWin, 1e-12)
	assert.InDelta(t, -75, st.AvgLoss, 1e-12)
	assert.InDelta(t, 300, st.LargestWin, 1e-12)
	assert.InDelta(t, -100, st.LargestLoss, 1e-12)
	assert.InDelta(t, 62.5, st.Expectancy, 1e-12)
	assert.InDelta(t, 3.25, st.AvgBarsHeld, 1e-12)
	assert.InDelta(t, 10250, st.FinalBalance, 1e-12)
	assert.InDelta(t, 150.0/10300.0, st.MaxDrawdownPct, 1e-12)
	assert.InDelta(t, 10300, st.EquityPeak, 1e-12)
	assert.Equal(t, 2, st.ExitReasons[ExitStopLoss])
}

func TestComputeStatsEdgeCases(t *testing.T) {
	st := ComputeStats(nil, nil, 10000, 252)
	assert.Zero(t, st.WinRate)
	assert.Zero(t, st.ProfitFactor)
	assert.Zero(t, st.Sharpe)
	assert.InDelta(t, 10000, st.FinalBalance, 0)

	onlyWins := ComputeStats([]Trade{{PnL: 10}}, curve(10000, 10000, 10000), 10000, 252)
	assert.Zero(t, onlyWins.ProfitFactor)
	assert.Zero(t, onlyWins.Sharpe, "flat equity has no variance")
}

func TestSharpeSign(t *testing.T) {
	up := sharpe(curve(100, 101, 101.5, 103, 103.2, 104), 8760)
	down := sharpe(curve(100, 99, 98.7, 97, 96.5, 95), 8760)
	assert.Greater(t, up, 0.0)
	assert.Less(t, down, 0.0)
}
