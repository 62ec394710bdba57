package risk

import (
	"testing"
	"time"

	"mtfsignal/internal/market"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2024, 1, 8, 8, 0, 0, 0, time.UTC)

func longReq(symbol string, balance float64) Request {
	return Request{Symbol: symbol, Side: market.SideLong, Entry: 1.1, StopLoss: 1.096, TakeProfit: 1.108, Balance: balance, At: t0}
}

func TestManagerRejectsAfterDrawdown(t *testing.T) {
	m := NewManager(DefaultConfig(), 10000)
	assert.True(t, m.Evaluate(longReq("EUR_USD", 10000)).Allowed)
	m.UpdateEquity(8400)
	d := m.Evaluate(longReq("EUR_USD", 8400))
	assert.False(t, d.Allowed)
	assert.ErrorIs(t, d.Err, ErrBreakerOpen)
	assert.True(t, IsRejection(d.Err))
	assert.Equal(t, "breaker", RejectionKind(d.Err))
}

func TestManagerMinRewardRisk(t *testing.T) {
	m := NewManager(DefaultConfig(), 10000)
	req := longReq("EUR_USD", 10000)
	req.TakeProfit = 1.105
	d := m.Evaluate(req)
	assert.ErrorIs(t, d.Err, ErrRiskReward)
	assert.InDelta(t, 1.25, d.RewardRisk, 1e-9)
}

func TestManagerExposureCaps(t *testing.T) {
	cfg := DefaultConfig()
	cfg.MaxPositionPct = 100
	cfg.MaxOpenPositions = 2
	m := NewManager(cfg, 10000)

	p1, d := m.Open(longReq("EUR_USD", 10000))
	require.True(t, d.Allowed, d.Reason())
	assert.InDelta(t, 200, d.Risk, 0.01)

	_, d = m.Open(longReq("EUR_USD", 10000))
	assert.ErrorIs(t, d.Err, ErrPositionLimit)

	_, d = m.Open(longReq("GBP_USD", 10000))
	require.True(t, d.Allowed)

	_, d = m.Open(longReq("AUD_USD", 10000))
	assert.ErrorIs(t, d.Err, ErrPositionLimit)

	m.Close(p1, 1.108, t0.Add(time.Hour), "take_profit", 0)
	assert.Equal(t, StatusClosed, p1.Status)
	assert.InDelta(t, 0.008*p1.Size, p1.PnL, 1e-9)
	assert.Equal(t, 1, m.Exposure().Count())
}

func TestExposureTotalRisk(t *testing.T) {
	e := NewExposure(0.06, 0, 0)
	for i := 0; i < 3; i++ {
		p := NewPosition("X", market.SideLong, 100, 10, 8, 14, t0)
		require.NoError(t, e.Reserve(p, 10000))
	}
	assert.InDelta(t, 600, e.TotalRisk(), 1e-9)
	err := e.Check("Y", 1, 10000)
	assert.ErrorIs(t, err, ErrExposureLimit)
	assert.Len(t, e.Open(), 3)
}
