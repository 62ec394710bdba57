package live

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/backtest"
	"mtfsignal/internal/market"
	"mtfsignal/internal/metrics"
	"mtfsignal/internal/pkg/retry"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/store/state"
	"mtfsignal/internal/strategy"
)

var t0 = time.Date(2024, 1, 8, 0, 0, 0, 0, time.UTC)

type fakeBroker struct {
	mu           sync.Mutex
	candles      []market.Candle
	quote        market.Quote
	summary      market.AccountSummary
	fill         float64
	orders       []market.OrderRequest
	accountCalls int
	entered      chan struct{}
	release      chan struct{}
	onCandles    func()
}

func (f *fakeBroker) Name() string { return "fake" }

func (f *fakeBroker) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	if f.entered != nil {
		f.entered <- struct{}{}
		<-f.release
	}
	if f.onCandles != nil {
		f.onCandles()
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]market.Candle(nil), f.candles...), nil
}

func (f *fakeBroker) GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	return f.quote, nil
}

func (f *fakeBroker) PlaceOrder(ctx context.Context, req market.OrderRequest) (market.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.orders = append(f.orders, req)
	return market.OrderResult{OrderID: "1", Symbol: req.Symbol, Side: req.Side, Size: req.Size, FillPrice: f.fill, Status: "FILLED"}, nil
}

func (f *fakeBroker) GetAccountSummary(ctx context.Context) (market.AccountSummary, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.accountCalls++
	return f.summary, nil
}

func flat(n int, price float64) []market.Candle {
	out := make([]market.Candle, n)
	for i := range out {
		ot := t0.Add(time.Duration(i) * time.Hour).UnixMilli()
		out[i] = market.Candle{OpenTime: ot, CloseTime: ot + 3600_000 - 1, Open: price, High: price, Low: price, Close: price, Volume: 100}
	}
	return out
}

func tf(t *testing.T, key string) market.Timeframe {
	out, err := market.ParseTimeframe(key)
	require.NoError(t, err)
	return out
}

type harness struct {
	broker  *fakeBroker
	store   *state.Store
	mgr     *risk.Manager
	log     *backtest.OrderLog
	metrics *metrics.Metrics
	cfg     PipelineConfig
}

func newHarness(t *testing.T, broker *fakeBroker) *harness {
	store, err := state.NewStore(filepath.Join(t.TempDir(), "state.json"))
	require.NoError(t, err)
	rc := risk.DefaultConfig()
	return &harness{
		broker:  broker,
		store:   store,
		mgr:     risk.NewManager(rc, 10000),
		log:     backtest.NewOrderLog(0),
		metrics: metrics.New(),
		cfg: PipelineConfig{
			Symbol:     "EUR_USD",
			TF:         tf(t, "1h"),
			HTF:        tf(t, "4h"),
			Factor:     4,
			Indicators: indicator.DefaultSettings(),
			Risk:       rc,
			Retry:      retry.Policy{Attempts: 1},
		},
	}
}

func (h *harness) pipeline(t *testing.T) *Pipeline {
	params := strategy.DefaultParams()
	params.BarDuration = time.Hour
	p, err := NewPipeline(h.cfg, Deps{
		Broker:    h.broker,
		Generator: strategy.NewGenerator(h.cfg.Symbol, params),
		Risk:      h.mgr,
		Store:     h.store,
		Recorder:  h.log,
		Metrics:   h.metrics,
	})
	require.NoError(t, err)
	return p
}

func seedPosition(t *testing.T, h *harness, pos *risk.Position) {
	require.NoError(t, h.store.Update(func(d *state.Document) error {
		st := d.Symbol(h.cfg.Symbol)
		st.SetPosition(pos)
		d.Symbols[h.cfg.Symbol] = st
		d.Account.Balance = 10000
		d.Account.PeakEquity = 10000
		return nil
	}))
}

func TestCycleEvaluatesEachBarOnce(t *testing.T) {
	broker := &fakeBroker{candles: flat(200, 100), summary: market.AccountSummary{Balance: 10000, Equity: 10000}}
	h := newHarness(t, broker)
	p := h.pipeline(t)

	require.NoError(t, p.Cycle(t.Context()))
	require.NoError(t, p.Cycle(t.Context()))
	assert.Equal(t, 1, broker.accountCalls, "second cycle sees no new closed bar")

	doc, err := h.store.Load()
	require.NoError(t, err)
	st := doc.Symbol("EUR_USD")
	assert.True(t, flat(200, 100)[199].OpenAt().Equal(st.Generator.LastTime))
	assert.Equal(t, strategy.DirectionNone, st.Direction)
	assert.Equal(t, 10000.0, doc.Account.Balance)

	// a restarted pipeline resumes after the persisted bar
	again := h.pipeline(t)
	broker.candles = flat(201, 100)
	require.NoError(t, again.Cycle(t.Context()))
	assert.Equal(t, 2, broker.accountCalls)
	assert.Empty(t, again.Status().LastError)
}

func TestCycleBusyGuard(t *testing.T) {
	broker := &fakeBroker{
		candles: flat(200, 100),
		summary: market.AccountSummary{Balance: 10000},
		entered: make(chan struct{}),
		release: make(chan struct{}),
	}
	h := newHarness(t, broker)
	p := h.pipeline(t)

	done := make(chan error, 1)
	go func() { done <- p.Cycle(t.Context()) }()
	<-broker.entered
	assert.True(t, p.Status().Busy)
	assert.ErrorIs(t, p.Cycle(t.Context()), ErrBusy)
	close(broker.release)
	require.NoError(t, <-done)
	assert.False(t, p.Status().Busy)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.CyclesSkipped.WithLabelValues("EUR_USD")))
}

func TestStopHitClosesThroughBroker(t *testing.T) {
	candles := flat(200, 100)
	candles[199].Low = 96
	broker := &fakeBroker{
		candles: candles,
		fill:    96.9,
		summary: market.AccountSummary{Balance: 10000, OpenPositions: []market.OpenPosition{
			{Symbol: "EUR/USD", Side: market.SideLong, Size: 10, EntryPrice: 100},
		}},
	}
	h := newHarness(t, broker)
	seedPosition(t, h, risk.NewPosition("EUR_USD", market.SideLong, 10, 100, 97, 110, t0))
	p := h.pipeline(t)
	require.NotNil(t, p.Status().Position)

	require.NoError(t, p.Cycle(t.Context()))
	require.NotEmpty(t, broker.orders)
	closeReq := broker.orders[0]
	assert.True(t, closeReq.ReduceOnly)
	assert.Equal(t, market.SideShort, closeReq.Side)
	assert.Equal(t, 10.0, closeReq.Size)

	orders := h.log.Orders()
	require.NotEmpty(t, orders)
	assert.Equal(t, "close_long", orders[0].Action)
	assert.Equal(t, ExitStopLoss, orders[0].Reason)
	assert.Equal(t, 96.9, orders[0].Price)

	doc, err := h.store.Load()
	require.NoError(t, err)
	if len(broker.orders) == 1 {
		assert.Nil(t, doc.Symbol("EUR_USD").Position)
	}
	assert.InDelta(t, 10000+(96.9-100)*10, doc.Account.Balance, 1e-9)
}

func TestBrokerClosedPositionIsReconciled(t *testing.T) {
	candles := flat(200, 100)
	candles[199].High = 111
	broker := &fakeBroker{candles: candles, summary: market.AccountSummary{Balance: 10100}}
	h := newHarness(t, broker)
	seedPosition(t, h, risk.NewPosition("EUR_USD", market.SideLong, 10, 100, 97, 110, t0))
	p := h.pipeline(t)

	require.NoError(t, p.Cycle(t.Context()))
	orders := h.log.Orders()
	require.NotEmpty(t, orders)
	assert.Equal(t, ExitTakeProfit, orders[0].Reason)
	assert.Equal(t, 110.0, orders[0].Price)
	for _, req := range broker.orders {
		assert.False(t, req.ReduceOnly, "broker already closed the position")
	}

	doc, err := h.store.Load()
	require.NoError(t, err)
	assert.Equal(t, 10100.0, doc.Account.Balance)
}

func TestEnterPlacesBracketOrder(t *testing.T) {
	broker := &fakeBroker{
		candles: flat(200, 100),
		quote:   market.Quote{Bid: 99.99, Ask: 100.01},
		fill:    100.02,
	}
	h := newHarness(t, broker)
	p := h.pipeline(t)
	p.balance = 10000
	frame, err := strategy.BuildFrame(broker.candles, h.cfg.TF, h.cfg.HTF, h.cfg.Factor, h.cfg.Indicators)
	require.NoError(t, err)

	sig := strategy.Signal{Symbol: "EUR_USD", Direction: strategy.DirectionLong, EntryPrice: 100, ATR: 1, Reasons: []string{"test"}}
	require.NoError(t, p.enter(t.Context(), frame, frame.Len()-1, sig))

	require.Len(t, broker.orders, 1)
	req := broker.orders[0]
	assert.False(t, req.ReduceOnly)
	assert.Equal(t, market.SideLong, req.Side)
	assert.InDelta(t, 98, req.StopLoss, 1e-9)
	assert.InDelta(t, 104, req.TakeProfit, 1e-9)
	assert.InDelta(t, 100.01, req.Price, 1e-9)
	assert.Positive(t, req.Size)

	require.NotNil(t, p.position)
	assert.Equal(t, 100.02, p.position.EntryPrice)
	assert.Equal(t, req.ClientID, p.position.ID)
	assert.Equal(t, 1, h.mgr.Exposure().Count())
	assert.Equal(t, "open_long", h.log.Orders()[0].Action)
}

func TestEnterRejectsWideSpread(t *testing.T) {
	broker := &fakeBroker{candles: flat(200, 100), quote: market.Quote{Bid: 99.75, Ask: 100.25}}
	h := newHarness(t, broker)
	h.cfg.SpreadFilter = strategy.SpreadFilter{MaxSpreadATRRatio: 0.1}
	p := h.pipeline(t)
	p.balance = 10000
	frame, err := strategy.BuildFrame(broker.candles, h.cfg.TF, h.cfg.HTF, h.cfg.Factor, h.cfg.Indicators)
	require.NoError(t, err)

	sig := strategy.Signal{Symbol: "EUR_USD", Direction: strategy.DirectionShort, EntryPrice: 100, ATR: 1}
	require.NoError(t, p.enter(t.Context(), frame, frame.Len()-1, sig))
	assert.Empty(t, broker.orders)
	assert.Nil(t, p.position)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.Rejections.WithLabelValues("EUR_USD", "spread")))
}

func TestNewPipelineValidates(t *testing.T) {
	h := newHarness(t, &fakeBroker{})
	_, err := NewPipeline(PipelineConfig{}, Deps{})
	assert.Error(t, err)
	cfg := h.cfg
	cfg.Risk.RiskPerTrade = -1
	_, err = NewPipeline(cfg, Deps{Broker: h.broker, Generator: strategy.NewGenerator("x", strategy.DefaultParams()), Risk: h.mgr, Store: h.store})
	assert.Error(t, err)
}

func frameOf(t *testing.T, h *harness, candles []market.Candle) *strategy.Frame {
	frame, err := strategy.BuildFrame(candles, h.cfg.TF, h.cfg.HTF, h.cfg.Factor, h.cfg.Indicators)
	require.NoError(t, err)
	return frame
}

func TestManageFindsStopOnEarlierBarOfCycle(t *testing.T) {
	candles := flat(200, 100)
	candles[193].Low = 96
	broker := &fakeBroker{candles: candles, fill: 99.5}
	h := newHarness(t, broker)
	seedPosition(t, h, risk.NewPosition("EUR_USD", market.SideLong, 10, 100, 97, 110, t0))
	p := h.pipeline(t)
	p.balance = 10000

	summary := market.AccountSummary{Balance: 10000, OpenPositions: []market.OpenPosition{
		{Symbol: "EUR/USD", Side: market.SideLong, Size: 10, EntryPrice: 100},
	}}
	require.NoError(t, p.manage(t.Context(), frameOf(t, h, candles), 190, 199, summary))

	require.Len(t, broker.orders, 1)
	assert.True(t, broker.orders[0].ReduceOnly)
	orders := h.log.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, ExitStopLoss, orders[0].Reason)
	assert.Nil(t, p.position)
}

func TestReconcileUsesFirstTouchedLevelSinceLastCycle(t *testing.T) {
	candles := flat(200, 100)
	candles[185].High = 111 // seen by an earlier cycle
	candles[193].Low = 96
	broker := &fakeBroker{candles: candles}
	h := newHarness(t, broker)
	seedPosition(t, h, risk.NewPosition("EUR_USD", market.SideLong, 10, 100, 97, 110, t0))
	p := h.pipeline(t)

	require.NoError(t, p.manage(t.Context(), frameOf(t, h, candles), 190, 199, market.AccountSummary{Balance: 9970}))
	assert.Empty(t, broker.orders)
	orders := h.log.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, ExitStopLoss, orders[0].Reason)
	assert.Equal(t, 97.0, orders[0].Price)
}

type amendingBroker struct {
	*fakeBroker
	stops []float64
}

func (a *amendingBroker) AmendStop(ctx context.Context, symbol string, side market.Side, stop float64) error {
	a.stops = append(a.stops, stop)
	return nil
}

func TestTightenedStopIsSentToBroker(t *testing.T) {
	candles := flat(196, 100)
	candles[195].Low = 98.5
	broker := &amendingBroker{fakeBroker: &fakeBroker{candles: candles}}
	h := newHarness(t, broker.fakeBroker)
	seedPosition(t, h, risk.NewPosition("EUR_USD", market.SideShort, 10, 100, 103, 90, t0))
	params := strategy.DefaultParams()
	params.BarDuration = time.Hour
	params.ExitShortK = 0
	p, err := NewPipeline(h.cfg, Deps{
		Broker:    broker,
		Generator: strategy.NewGenerator(h.cfg.Symbol, params),
		Risk:      h.mgr,
		Store:     h.store,
		Recorder:  h.log,
		Metrics:   h.metrics,
	})
	require.NoError(t, err)

	summary := market.AccountSummary{Balance: 10000, OpenPositions: []market.OpenPosition{
		{Symbol: "EUR_USD", Side: market.SideShort, Size: 10, EntryPrice: 100},
	}}
	require.NoError(t, p.manage(t.Context(), frameOf(t, h, candles), 190, 195, summary))

	require.NotNil(t, p.position, "break-even is not an exit")
	assert.Less(t, p.position.StopLoss, 100.0+1e-9)
	require.Len(t, broker.stops, 1)
	assert.Equal(t, p.position.StopLoss, broker.stops[0])
	assert.Empty(t, broker.orders)
}
