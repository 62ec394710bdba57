package risk

import (
	"testing"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStopLossATR(t *testing.T) {
	c := DefaultConfig()
	lv, err := c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.002})
	require.NoError(t, err)
	assert.InDelta(t, 1.096, lv.StopLoss, 1e-12)
	assert.InDelta(t, 1.108, lv.TakeProfit, 1e-12)
	assert.Equal(t, StopATR, lv.Method)

	lv, err = c.StopLoss(StopInput{Entry: 1.1, Side: market.SideShort, ATR: 0.002})
	require.NoError(t, err)
	assert.InDelta(t, 1.104, lv.StopLoss, 1e-12)
	assert.InDelta(t, 1.092, lv.TakeProfit, 1e-12)
}

func TestStopLossClamps(t *testing.T) {
	c := DefaultConfig()
	c.MinStopPips, c.MaxStopPips = 10, 50
	lv, err := c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.0001})
	require.NoError(t, err)
	assert.InDelta(t, 0.001, lv.Distance(1.1), 1e-12)
	assert.InDelta(t, 1.1+0.002, lv.TakeProfit, 1e-12)

	lv, err = c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.01})
	require.NoError(t, err)
	assert.InDelta(t, 0.005, lv.Distance(1.1), 1e-12)
}

func TestStopLossPercent(t *testing.T) {
	c := DefaultConfig()
	c.StopMethod, c.StopPct = StopPercent, 0.01
	lv, err := c.StopLoss(StopInput{Entry: 200, Side: market.SideLong})
	require.NoError(t, err)
	assert.InDelta(t, 198, lv.StopLoss, 1e-9)
	assert.InDelta(t, 204, lv.TakeProfit, 1e-9)
}

func TestStopLossStructure(t *testing.T) {
	c := DefaultConfig()
	c.StopMethod, c.StructureLookback, c.StopBufferPips = StopStructure, 3, 5
	recent := []market.Candle{
		{Low: 1.0900, High: 1.0950},
		{Low: 1.0950, High: 1.1000},
		{Low: 1.0970, High: 1.1010},
		{Low: 1.0980, High: 1.1020},
	}
	lv, err := c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.002, Recent: recent})
	require.NoError(t, err)
	assert.InDelta(t, 1.0945, lv.StopLoss, 1e-12)
	assert.Equal(t, StopStructure, lv.Method)

	lv, err = c.StopLoss(StopInput{Entry: 1.1, Side: market.SideShort, ATR: 0.002, Recent: recent})
	require.NoError(t, err)
	assert.InDelta(t, 1.1025, lv.StopLoss, 1e-12)
}

func TestStopLossFVGFallsBackToATR(t *testing.T) {
	c := DefaultConfig()
	c.StopMethod = StopFVG
	lv, err := c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.002, FVG: &indicator.FVGResult{}})
	require.NoError(t, err)
	assert.Equal(t, StopATR, lv.Method)

	fvg := &indicator.FVGResult{Active: []indicator.Zone{{Kind: indicator.ZoneBullish, Low: 1.095, High: 1.097}}}
	lv, err = c.StopLoss(StopInput{Entry: 1.1, Side: market.SideLong, ATR: 0.002, FVG: fvg})
	require.NoError(t, err)
	assert.Equal(t, StopFVG, lv.Method)
	assert.InDelta(t, 1.0945, lv.StopLoss, 1e-12)
}

func TestStopLossDegenerate(t *testing.T) {
	_, err := DefaultConfig().StopLoss(StopInput{Entry: 1.1, Side: market.SideLong})
	assert.ErrorIs(t, err, ErrDegenerateStop)
}
