package backtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"math"
	"math/rand"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/market"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

const hour = int64(time.Hour / time.Millisecond)

func barAt(i int, o, h, l, c float64) market.Candle {
	open := t0.UnixMilli() + int64(i)*hour
	return market.Candle{OpenTime: open, CloseTime: open + hour - 1, Open: o, High: h, Low: l, Close: c, Volume: 1}
}

func flat(n int, price float64) market.Candles {
	out := make(market.Candles, n)
	for i := range out {
		out[i] = barAt(i, price, price, price, price)
	}
	return out
}

func mustTF(t *testing.T, key string) market.Timeframe {
	t.Helper()
	tf, err := market.ParseTimeframe(key)
	require.NoError(t, err)
	return tf
}

func buildFrame(t *testing.T, cs market.Candles) *strategy.Frame {
	t.Helper()
	f, err := strategy.BuildFrame(cs, mustTF(t, "1h"), mustTF(t, "4h"), 4, indicator.DefaultSettings())
	require.NoError(t, err)
	return f
}

// scripted fires the configured entries and exits by bar index.
type scripted struct {
	entries map[int]scriptedEntry
	exits   map[int]bool
	calls   int
}

type scriptedEntry struct {
	dir strategy.Direction
	atr float64
}

func (s *scripted) Evaluate(bar strategy.Bar) (strategy.Signal, error) {
	s.calls++
	e, ok := s.entries[bar.Index]
	if !ok {
		return strategy.Signal{Direction: strategy.DirectionNone, Timestamp: bar.Time, Index: bar.Index}, nil
	}
	return strategy.Signal{
		Symbol:     "EUR_USD",
		Timestamp:  bar.Time,
		Index:      bar.Index,
		Direction:  e.dir,
		Strength:   0.75,
		EntryPrice: bar.Close,
		ATR:        e.atr,
		Reasons:    []string{"scripted"},
	}, nil
}

func (s *scripted) CheckExit(bar strategy.Bar, dir strategy.Direction) strategy.Exit {
	if s.exits[bar.Index] {
		return strategy.Exit{Triggered: true, Reasons: []string{"scripted exit"}}
	}
	return strategy.Exit{}
}

type recordingNotifier struct{ texts []string }

func (n *recordingNotifier) SendText(text string) error {
	n.texts = append(n.texts, text)
	return nil
}

func testRisk() risk.Config {
	cfg := risk.DefaultConfig()
	cfg.RiskPerTrade = 0.01
	cfg.MaxPositionPct = 1
	cfg.LotStep = 100
	cfg.BreakevenTriggerPct = 0
	return cfg
}

func newExecutor(t *testing.T, cfg Config, d Decider, n Notifier) *Executor {
	t.Helper()
	if cfg.Symbol == "" {
		cfg.Symbol = "EUR_USD"
	}
	ex, err := NewExecutor(cfg, d, n)
	require.NoError(t, err)
	return ex
}

func TestRunOneWinOneLoss(t *testing.T) {
	cs := flat(100, 100)
	cs[12] = barAt(12, 100, 102.5, 100, 102)
	cs[31] = barAt(31, 100, 100, 98.5, 99.5)
	d := &scripted{entries: map[int]scriptedEntry{
		10: {dir: strategy.DirectionLong, atr: 0.5},
		30: {dir: strategy.DirectionLong, atr: 0.5},
	}}
	n := &recordingNotifier{}
	ex := newExecutor(t, Config{InitialBalance: 10000, Risk: testRisk()}, d, n)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	win, loss := res.Trades[0], res.Trades[1]
	assert.Equal(t, ExitTakeProfit, win.ExitReason)
	assert.InDelta(t, 200, win.PnL, 1e-6)
	assert.Equal(t, 2, win.BarsHeld())
	assert.Equal(t, ExitStopLoss, loss.ExitReason)
	assert.InDelta(t, -100, loss.PnL, 1e-6)

	st := res.Stats
	assert.Equal(t, 2, st.Trades)
	assert.InDelta(t, 0.5, st.WinRate, 1e-9)
	assert.InDelta(t, 2.0, st.ProfitFactor, 1e-9)
	assert.InDelta(t, 10100, st.FinalBalance, 1e-6)
	assert.InDelta(t, 0.01, st.ReturnPct, 1e-9)
	assert.Equal(t, map[string]int{ExitTakeProfit: 1, ExitStopLoss: 1}, st.ExitReasons)

	assert.Len(t, res.Equity, 100)
	assert.Equal(t, 100, d.calls)
	assert.Equal(t, 2, res.Signals)
	assert.Len(t, res.Orders, 4)
	assert.NotEmpty(t, res.RunID)
	require.Len(t, n.texts, 1)
	assert.Contains(t, n.texts[0], "Backtest finished")
}

func TestRunBreakerBlocksEntriesAfterDrawdown(t *testing.T) {
	cs := flat(80, 100)
	cs[11] = barAt(11, 100, 100, 94, 96)
	cs[31] = barAt(31, 100, 100, 94, 96)
	d := &scripted{entries: map[int]scriptedEntry{
		10: {dir: strategy.DirectionLong, atr: 2.5},
		30: {dir: strategy.DirectionLong, atr: 2.5},
		50: {dir: strategy.DirectionLong, atr: 2.5},
	}}
	cfg := testRisk()
	cfg.RiskPerTrade = 0.08
	cfg.MaxPositionPct = 5
	cfg.LotStep = 1
	cfg.MaxTotalExposure = 0
	ex := newExecutor(t, Config{InitialBalance: 10000, Risk: cfg}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.InDelta(t, -800, res.Trades[0].PnL, 1e-6)
	assert.InDelta(t, -735, res.Trades[1].PnL, 1e-6)
	assert.InDelta(t, 8465, res.Stats.FinalBalance, 1e-6)
	assert.Equal(t, 1, res.Rejected["breaker"])
	assert.Equal(t, 3, res.Signals)
	assert.GreaterOrEqual(t, res.Stats.MaxDrawdownPct, 0.15)
}

func TestRunStopWinsWhenBothTouched(t *testing.T) {
	cs := flat(40, 100)
	cs[11] = barAt(11, 100, 103, 98, 101)
	d := &scripted{entries: map[int]scriptedEntry{10: {dir: strategy.DirectionLong, atr: 0.5}}}
	ex := newExecutor(t, Config{Risk: testRisk()}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.Equal(t, ExitStopLoss, res.Trades[0].ExitReason)
	assert.InDelta(t, 99, res.Trades[0].ExitPrice, 1e-9)
}

func TestRunStopGapFillsAtOpen(t *testing.T) {
	cs := flat(40, 100)
	cs[11] = barAt(11, 98, 98.2, 97.5, 98)
	d := &scripted{entries: map[int]scriptedEntry{10: {dir: strategy.DirectionLong, atr: 0.5}}}
	ex := newExecutor(t, Config{Risk: testRisk()}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	assert.InDelta(t, 98, res.Trades[0].ExitPrice, 1e-9)
	assert.InDelta(t, -200, res.Trades[0].PnL, 1e-6)
}

func TestRunShortTakeProfit(t *testing.T) {
	cs := flat(40, 100)
	cs[13] = barAt(13, 100, 100, 97.5, 98)
	d := &scripted{entries: map[int]scriptedEntry{10: {dir: strategy.DirectionShort, atr: 0.5}}}
	ex := newExecutor(t, Config{Risk: testRisk()}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, market.SideShort, tr.Direction)
	assert.Equal(t, ExitTakeProfit, tr.ExitReason)
	assert.InDelta(t, 98, tr.ExitPrice, 1e-9)
	assert.InDelta(t, 200, tr.PnL, 1e-6)
}

func TestRunForceClosesAtEndWithSpread(t *testing.T) {
	cs := flat(100, 100)
	d := &scripted{entries: map[int]scriptedEntry{95: {dir: strategy.DirectionLong, atr: 0.5}}}
	cfg := testRisk()
	cfg.LotStep = 1
	ex := newExecutor(t, Config{Spread: 0.02, Risk: cfg}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitTimeExit, tr.ExitReason)
	assert.InDelta(t, 100, tr.RequestedEntry, 1e-9)
	assert.InDelta(t, 100.01, tr.EntryPrice, 1e-9)
	assert.InDelta(t, 99.99, tr.ExitPrice, 1e-9)
	assert.Equal(t, 99, tr.ExitIndex)
	assert.InDelta(t, -0.02*tr.Size, tr.PnL, 1e-6)

	last := res.Equity[len(res.Equity)-1]
	assert.Equal(t, StateWaiting, last.State)
	assert.InDelta(t, res.Stats.FinalBalance, last.Equity, 1e-6)
}

func TestRunCommissionChargedBothSides(t *testing.T) {
	cs := flat(30, 100)
	d := &scripted{
		entries: map[int]scriptedEntry{10: {dir: strategy.DirectionLong, atr: 0.5}},
		exits:   map[int]bool{15: true},
	}
	ex := newExecutor(t, Config{CommissionPct: 0.001, Risk: testRisk()}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	require.Len(t, res.Trades, 1)
	tr := res.Trades[0]
	assert.Equal(t, ExitSignalReversal, tr.ExitReason)
	assert.Contains(t, tr.Reasons, "scripted exit")
	assert.InDelta(t, 20, tr.Fees, 1e-9)
	assert.InDelta(t, -20, tr.PnL, 1e-9)
}

func TestRunWarmupBeforeStart(t *testing.T) {
	cs := flat(60, 100)
	d := &scripted{entries: map[int]scriptedEntry{10: {dir: strategy.DirectionLong, atr: 0.5}}}
	ex := newExecutor(t, Config{Risk: testRisk(), Start: cs[20].OpenAt(), End: cs[49].OpenAt()}, d, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
	assert.Len(t, res.Equity, 30)
	assert.Equal(t, 50, d.calls)
	assert.Equal(t, cs[20].OpenAt(), res.Config.Start)
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	ex := newExecutor(t, Config{Risk: testRisk()}, &scripted{}, nil)
	_, err := ex.Run(ctx, buildFrame(t, flat(20, 100)))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewExecutorValidates(t *testing.T) {
	_, err := NewExecutor(Config{Symbol: "EUR_USD", Risk: testRisk()}, nil, nil)
	assert.Error(t, err)
	_, err = NewExecutor(Config{Risk: testRisk()}, &scripted{}, nil)
	assert.Error(t, err)
	_, err = NewExecutor(Config{Symbol: "EUR_USD", Spread: -1, Risk: testRisk()}, &scripted{}, nil)
	assert.Error(t, err)
	ex, err := NewExecutor(Config{Symbol: "EUR_USD", Risk: testRisk()}, &scripted{}, nil)
	require.NoError(t, err)
	assert.Equal(t, float64(DefaultInitialBalance), ex.Config().InitialBalance)
}

func randomWalk(n int, seed int64) market.Candles {
	rng := rand.New(rand.NewSource(seed))
	out := make(market.Candles, n)
	price := 1.1
	for i := range out {
		open := price
		price *= 1 + rng.NormFloat64()*0.002
		hi := math.Max(open, price) * (1 + rng.Float64()*0.001)
		lo := math.Min(open, price) * (1 - rng.Float64()*0.001)
		c := barAt(i, open, hi, lo, price)
		c.Volume = 100 + rng.Float64()*900
		out[i] = c
	}
	return out
}

func TestRunWithGeneratorKeepsInvariants(t *testing.T) {
	cs := randomWalk(1500, 7)
	gen := strategy.NewGenerator("EUR_USD", strategy.DefaultParams())
	cfg := risk.DefaultConfig()
	cfg.LotStep = 1000
	ex := newExecutor(t, Config{Spread: 0.00015, Risk: cfg}, gen, nil)

	res, err := ex.Run(context.Background(), buildFrame(t, cs))
	require.NoError(t, err)
	assert.Len(t, res.Equity, len(cs))
	prevExit := -1
	sum := 0.0
	for _, tr := range res.Trades {
		assert.Greater(t, tr.EntryIndex, prevExit-1, "trades overlap")
		assert.GreaterOrEqual(t, tr.ExitIndex, tr.EntryIndex)
		assert.Contains(t, []string{ExitStopLoss, ExitTakeProfit, ExitSignalReversal, ExitTrailingStop, ExitTimeExit}, tr.ExitReason)
		prevExit = tr.ExitIndex
		sum += tr.PnL
	}
	st := res.Stats
	assert.Equal(t, st.Trades, len(res.Trades))
	assert.LessOrEqual(t, st.Wins+st.Losses, st.Trades)
	assert.InDelta(t, 10000+sum, st.FinalBalance, 1e-6)
	assert.GreaterOrEqual(t, st.MaxDrawdownPct, 0.0)
	assert.False(t, math.IsNaN(st.Sharpe))
}

func TestTradesCSV(t *testing.T) {
	trades := []Trade{{
		Direction:  market.SideLong,
		Size:       1000,
		EntryPrice: 1.1,
		ExitPrice:  1.102,
		EntryTime:  t0,
		ExitTime:   t0.Add(3 * time.Hour),
		PnL:        2,
		ExitReason: ExitTakeProfit,
	}}
	var buf bytes.Buffer
	require.NoError(t, WriteTradesCSV(&buf, trades))
	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, []string{"entry_time", "exit_time", "direction", "size", "entry_price", "exit_price", "pnl", "exit_reason"}, rows[0])
	assert.Equal(t, []string{"2024-01-01T00:00:00Z", "2024-01-01T03:00:00Z", "long", "1000", "1.1", "1.102", "2.00", "take_profit"}, rows[1])
}

func TestWriteReport(t *testing.T) {
	cs := flat(60, 100)
	cs[12] = barAt(12, 100, 102.5, 100, 102)
	d := &scripted{entries: map[int]scriptedEntry{10: {dir: strategy.DirectionLong, atr: 0.5}}}
	ex := newExecutor(t, Config{Risk: testRisk()}, d, nil)
	frame := buildFrame(t, cs)
	res, err := ex.Run(context.Background(), frame)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, WriteReport(&buf, frame, res))
	html := buf.String()
	assert.True(t, strings.Contains(html, "<html"))
	assert.Contains(t, html, "Equity")
	assert.Contains(t, html, "EUR_USD")
}
