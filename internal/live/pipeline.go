// Package live runs the signal pipeline against a broker on the candle
// clock, one pipeline per symbol.
package live

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/gateway/notifier"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/metrics"
	"mtfsignal/internal/pkg/retry"
	symbolpkg "mtfsignal/internal/pkg/symbol"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/scheduler"
	"mtfsignal/internal/store/state"
	"mtfsignal/internal/strategy"
)

// ErrBusy is returned when a cycle is requested while one is still running.
var ErrBusy = errors.New("previous cycle still running")

const (
	ExitStopLoss       = "stop_loss"
	ExitTakeProfit     = "take_profit"
	ExitSignalReversal = "signal_reversal"
	ExitTrailingStop   = "trailing_stop"
	ExitBroker         = "broker_closed"

	DefaultLookback = 500
)

// PipelineConfig is immutable for the life of a pipeline.
type PipelineConfig struct {
	Symbol       string
	TF           market.Timeframe
	HTF          market.Timeframe
	Factor       int
	Lookback     int
	Indicators   indicator.Settings
	Risk         risk.Config
	SpreadFilter strategy.SpreadFilter
	Retry        retry.Policy
	// CycleTimeout bounds one cycle, which keeps running after shutdown is
	// requested so state is never left half-written.
	CycleTimeout time.Duration
}

func (c PipelineConfig) withDefaults() PipelineConfig {
	if c.Lookback <= 0 {
		c.Lookback = DefaultLookback
	}
	if c.Retry.Attempts <= 0 {
		c.Retry = retry.DefaultPolicy()
	}
	if c.CycleTimeout <= 0 {
		c.CycleTimeout = 2 * time.Minute
	}
	return c
}

// Deps are the collaborators a pipeline drives. Risk may be shared between
// pipelines of one account; Recorder, Notifier and Metrics are optional.
type Deps struct {
	Broker    market.Broker
	Generator *strategy.Generator
	Risk      *risk.Manager
	Store     *state.Store
	Recorder  market.Recorder
	Notifier  notifier.TextNotifier
	Metrics   *metrics.Metrics
}

// SymbolStatus is a point-in-time view of one pipeline.
type SymbolStatus struct {
	Symbol     string           `json:"symbol"`
	LastCycle  time.Time        `json:"last_cycle"`
	LastBar    time.Time        `json:"last_bar"`
	LastSignal *strategy.Signal `json:"last_signal,omitempty"`
	Position   *risk.Position   `json:"position,omitempty"`
	LastError  string           `json:"last_error,omitempty"`
	Busy       bool             `json:"busy"`
}

// Pipeline fetches closed candles, evaluates the generator, manages the open
// position and places orders for one symbol. Cycles never overlap: a cycle
// requested while another runs returns ErrBusy.
type Pipeline struct {
	cfg  PipelineConfig
	deps Deps
	busy atomic.Bool

	// owned by the running cycle
	position *risk.Position
	balance  float64

	mu     sync.Mutex
	status SymbolStatus
}

func NewPipeline(cfg PipelineConfig, deps Deps) (*Pipeline, error) {
	cfg = cfg.withDefaults()
	switch {
	case strings.TrimSpace(cfg.Symbol) == "":
		return nil, fmt.Errorf("symbol is required")
	case cfg.TF.IsZero() || cfg.HTF.IsZero():
		return nil, fmt.Errorf("%s: timeframes are required", cfg.Symbol)
	case deps.Broker == nil || deps.Generator == nil || deps.Risk == nil || deps.Store == nil:
		return nil, fmt.Errorf("%s: broker, generator, risk manager and store are required", cfg.Symbol)
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("%s: risk config: %w", cfg.Symbol, err)
	}
	p := &Pipeline{cfg: cfg, deps: deps, status: SymbolStatus{Symbol: cfg.Symbol}}
	if err := p.restore(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Pipeline) Symbol() string { return p.cfg.Symbol }

func (p *Pipeline) restore() error {
	doc, err := p.deps.Store.Load()
	if err != nil {
		return fmt.Errorf("%s: load state: %w", p.cfg.Symbol, err)
	}
	st := doc.Symbol(p.cfg.Symbol)
	p.deps.Generator.Restore(st.Generator)
	p.balance = doc.Account.Balance
	if st.Position != nil {
		p.position = st.Position
		p.deps.Risk.Track(st.Position)
		logger.Infof("[live] %s restored %s position size=%.4f entry=%.5f stop=%.5f",
			p.cfg.Symbol, st.Position.Side, st.Position.Size, st.Position.EntryPrice, st.Position.StopLoss)
	}
	p.status.LastCycle = st.LastCycle
	p.status.Position = clonePosition(p.position)
	return nil
}

// Status is safe to call while a cycle runs.
func (p *Pipeline) Status() SymbolStatus {
	p.mu.Lock()
	defer p.mu.Unlock()
	st := p.status
	st.Busy = p.busy.Load()
	return st
}

// Cycle runs one evaluation. Cancelling ctx does not abort a started cycle;
// it runs to completion within CycleTimeout and persists its state.
func (p *Pipeline) Cycle(ctx context.Context) error {
	if !p.busy.CompareAndSwap(false, true) {
		p.deps.Metrics.Skipped(p.cfg.Symbol)
		logger.Warnf("[live] %s %v, skipping", p.cfg.Symbol, ErrBusy)
		return ErrBusy
	}
	defer p.busy.Store(false)

	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.cfg.CycleTimeout)
	defer cancel()
	started := time.Now()
	err := p.cycle(runCtx)
	p.deps.Metrics.Cycle(p.cfg.Symbol, time.Since(started), err)

	p.mu.Lock()
	p.status.LastCycle = started.UTC()
	p.status.LastError = ""
	if err != nil {
		p.status.LastError = err.Error()
	}
	p.status.Position = clonePosition(p.position)
	p.mu.Unlock()
	return err
}

func (p *Pipeline) cycle(ctx context.Context) error {
	sym := p.cfg.Symbol
	candles, err := retry.Value(ctx, p.cfg.Retry, sym+" candles", func(ctx context.Context) ([]market.Candle, error) {
		return p.deps.Broker.GetCandles(ctx, sym, p.cfg.TF, p.cfg.Lookback)
	})
	if err != nil {
		return fmt.Errorf("fetch candles: %w", err)
	}
	candles = scheduler.DropUnclosed(candles, p.cfg.TF.Duration)
	if len(candles) == 0 {
		return fmt.Errorf("fetch candles: broker returned no closed candles")
	}
	frame, err := strategy.BuildFrame(candles, p.cfg.TF, p.cfg.HTF, p.cfg.Factor, p.cfg.Indicators)
	if err != nil {
		return fmt.Errorf("compute indicators: %w", err)
	}

	last := frame.Len() - 1
	from := p.firstUnseen(frame)
	if from > last {
		logger.Debugf("[live] %s no new closed bar", sym)
		return nil
	}
	// bars missed since the last cycle only advance the generator
	var sig strategy.Signal
	for i := from; i <= last; i++ {
		s, err := p.deps.Generator.Evaluate(frame.Bar(i))
		if err != nil {
			return fmt.Errorf("evaluate: %w", err)
		}
		if i == last {
			sig = s
		}
	}
	bar := frame.Bar(last)
	p.mu.Lock()
	p.status.LastBar = bar.Time
	p.mu.Unlock()

	summary, err := retry.Value(ctx, p.cfg.Retry, sym+" account", p.deps.Broker.GetAccountSummary)
	if err != nil {
		return fmt.Errorf("account: %w", err)
	}
	p.balance = summary.Balance
	p.deps.Risk.UpdateEquity(summary.Balance)
	brk := p.deps.Risk.Breaker()
	p.deps.Metrics.Account(summary.Balance, brk.Drawdown(), !brk.Allow())

	if p.position != nil {
		if err := p.manage(ctx, frame, from, last, summary); err != nil {
			logger.Errorf("[live] %s manage position: %v", sym, err)
		}
	}
	if sig.IsEntry() {
		p.deps.Metrics.Signal(sym, string(sig.Direction))
		s := sig
		p.mu.Lock()
		p.status.LastSignal = &s
		p.mu.Unlock()
		logger.Infof("[live] %s signal %s", sym, sig)
		if p.position == nil {
			if err := p.enter(ctx, frame, last, sig); err != nil {
				logger.Errorf("[live] %s entry: %v", sym, err)
			}
		}
	}
	p.deps.Metrics.Position(sym, p.position != nil)
	return p.persist(bar.Time)
}

func (p *Pipeline) firstUnseen(frame *strategy.Frame) int {
	seen := p.deps.Generator.Snapshot().LastTime
	if seen.IsZero() {
		return 0
	}
	for i := frame.Len() - 1; i >= 0; i-- {
		if !frame.Bar(i).Time.After(seen) {
			return i + 1
		}
	}
	return 0
}

// manage reconciles with the broker, then replays the protective exits over
// every bar closed since the last cycle in the backtest's order: stop,
// target, stop protection. The exit signal is read from the newest bar only.
// Tightened stops are pushed to brokers that can amend them; elsewhere the
// pipeline enforces them itself when a bar touches them.
func (p *Pipeline) manage(ctx context.Context, frame *strategy.Frame, from, last int, summary market.AccountSummary) error {
	pos := p.position
	bars := frame.Series.LTF
	latest := bars[last]
	for from <= last && !bars[from].CloseAt().After(pos.OpenTime) {
		from++
	}
	if !holds(summary, pos) {
		// a broker-side bracket fired between cycles
		price, reason := latest.Close, ExitBroker
		for i := from; i <= last; i++ {
			c := bars[i]
			if risk.StopHit(pos.Side, c.Low, c.High, pos.StopLoss) {
				price, reason = pos.StopLoss, stopReason(pos)
				break
			}
			if pos.TakeProfit > 0 && risk.TargetHit(pos.Side, c.Low, c.High, pos.TakeProfit) {
				price, reason = pos.TakeProfit, ExitTakeProfit
				break
			}
		}
		// the account balance read this cycle already includes the result
		p.closed(ctx, pos, price, reason, frame.Bar(last).Time, true)
		return nil
	}
	moved := false
	for i := from; i <= last; i++ {
		c := bars[i]
		switch {
		case risk.StopHit(pos.Side, c.Low, c.High, pos.StopLoss):
			return p.close(ctx, pos, stopReason(pos), latest)
		case pos.TakeProfit > 0 && risk.TargetHit(pos.Side, c.Low, c.High, pos.TakeProfit):
			return p.close(ctx, pos, ExitTakeProfit, latest)
		}
		extreme := c.High
		if pos.Side == market.SideShort {
			extreme = c.Low
		}
		if upd := p.cfg.Risk.Protect(pos, extreme, frame.Bar(i).ATR); upd.Moved {
			moved = true
			logger.Infof("[live] %s %s stop %s %.5f -> %.5f", p.cfg.Symbol, pos.Side, upd.Kind, upd.From, upd.To)
		}
	}
	dir := strategy.DirectionLong
	if pos.Side == market.SideShort {
		dir = strategy.DirectionShort
	}
	if ex := p.deps.Generator.CheckExit(frame.Bar(last), dir); ex.Triggered {
		logger.Infof("[live] %s exit signal: %s", p.cfg.Symbol, strings.Join(ex.Reasons, "; "))
		return p.close(ctx, pos, ExitSignalReversal, latest)
	}
	if moved {
		p.amendStop(ctx, pos)
	}
	return nil
}

// amendStop moves the broker-side stop when the broker supports it.
func (p *Pipeline) amendStop(ctx context.Context, pos *risk.Position) {
	amender, ok := p.deps.Broker.(market.StopAmender)
	if !ok {
		return
	}
	err := retry.Do(ctx, p.cfg.Retry, p.cfg.Symbol+" amend stop", func(ctx context.Context) error {
		return amender.AmendStop(ctx, p.cfg.Symbol, pos.Side, pos.StopLoss)
	})
	if err != nil {
		logger.Warnf("[live] %s broker stop still at the old level, enforcing %.5f locally: %v", p.cfg.Symbol, pos.StopLoss, err)
	}
}

func (p *Pipeline) enter(ctx context.Context, frame *strategy.Frame, i int, sig strategy.Signal) error {
	sym := p.cfg.Symbol
	side, ok := sig.Direction.Side()
	if !ok {
		return nil
	}
	quote, err := retry.Value(ctx, p.cfg.Retry, sym+" quote", func(ctx context.Context) (market.Quote, error) {
		return p.deps.Broker.GetCurrentPrice(ctx, sym)
	})
	if err != nil {
		return fmt.Errorf("quote: %w", err)
	}
	spread := quote.Spread()
	if err := p.cfg.SpreadFilter.Check(spread, sig.ATR); err != nil {
		p.deps.Metrics.Rejected(sym, "spread")
		logger.Infof("[live] %s skip %s: %v", sym, sig.Direction, err)
		return nil
	}
	in := risk.StopInput{
		Entry:  sig.EntryPrice,
		Side:   side,
		ATR:    sig.ATR,
		Recent: frame.Recent(i, p.cfg.Risk.StructureLookback),
	}
	if p.cfg.Risk.StopMethod == risk.StopFVG {
		fvg := frame.FVGAt(i)
		in.FVG = &fvg
	}
	levels, err := p.cfg.Risk.StopLoss(in)
	if err != nil {
		p.deps.Metrics.Rejected(sym, risk.RejectionKind(err))
		logger.Infof("[live] %s skip %s: %v", sym, sig.Direction, err)
		return nil
	}
	expected := strategy.AdjustedEntry(sig.EntryPrice, spread, sig.Direction)
	pos, d := p.deps.Risk.Open(risk.Request{
		Symbol:     sym,
		Side:       side,
		Entry:      expected,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		Balance:    p.balance,
		At:         time.Now().UTC(),
	})
	if !d.Allowed {
		p.deps.Metrics.Rejected(sym, risk.RejectionKind(d.Err))
		return nil
	}
	res, err := p.deps.Broker.PlaceOrder(ctx, market.OrderRequest{
		ClientID:   pos.ID,
		Symbol:     sym,
		Side:       side,
		Size:       pos.Size,
		Price:      expected,
		StopLoss:   pos.StopLoss,
		TakeProfit: pos.TakeProfit,
	})
	if err != nil && res.OrderID == "" {
		p.deps.Risk.Exposure().Release(pos.ID)
		return fmt.Errorf("place order: %w", err)
	}
	if err != nil {
		logger.Warnf("[live] %s filled without full bracket: %v", sym, err)
		p.notify(fmt.Sprintf("⚠️ %s %s filled but bracket placement failed: %v", sym, side, err))
	}
	if res.FillPrice > 0 {
		pos.EntryPrice = res.FillPrice
		pos.PeakPrice = res.FillPrice
	}
	if res.Size > 0 {
		pos.Size = res.Size
	}
	if !res.ExecutedAt.IsZero() {
		pos.OpenTime = res.ExecutedAt
	}
	p.position = pos
	p.record(ctx, &market.Order{
		Symbol:     sym,
		Action:     "open_" + string(side),
		Side:       side,
		Price:      pos.EntryPrice,
		Requested:  sig.EntryPrice,
		Quantity:   pos.Size,
		Timeframe:  p.cfg.TF.String(),
		ExecutedAt: pos.OpenTime,
		TakeProfit: pos.TakeProfit,
		StopLoss:   pos.StopLoss,
		ExpectedRR: d.RewardRisk,
		Reason:     strings.Join(sig.Reasons, "; "),
	})
	p.deps.Metrics.Order(sym, "open_"+string(side))
	logger.Infof("[live] %s open %s size=%.4f @%.5f sl=%.5f tp=%.5f",
		sym, side, pos.Size, pos.EntryPrice, pos.StopLoss, pos.TakeProfit)
	p.notify(notifier.PositionOpened(pos, sig.Reasons).RenderMarkdown())
	return nil
}

// close sends a reduce-only market order and realises the position at the
// broker's fill, or at the bar close when the broker reports no price.
func (p *Pipeline) close(ctx context.Context, pos *risk.Position, reason string, c market.Candle) error {
	res, err := p.deps.Broker.PlaceOrder(ctx, market.OrderRequest{
		Symbol:     p.cfg.Symbol,
		Side:       pos.Side.Opposite(),
		Size:       pos.Size,
		ReduceOnly: true,
	})
	if err != nil {
		return fmt.Errorf("close %s (%s): %w", pos.Side, reason, err)
	}
	price, at := res.FillPrice, res.ExecutedAt
	if price <= 0 {
		price = c.Close
	}
	if at.IsZero() {
		at = time.Now().UTC()
	}
	p.closed(ctx, pos, price, reason, at, false)
	return nil
}

func (p *Pipeline) closed(ctx context.Context, pos *risk.Position, price float64, reason string, at time.Time, settled bool) {
	pnl := p.deps.Risk.Close(pos, price, at, reason, 0)
	if !settled {
		p.balance += pnl
		p.deps.Risk.UpdateEquity(p.balance)
	}
	p.position = nil
	p.record(ctx, &market.Order{
		Symbol:     pos.Symbol,
		Action:     "close_" + string(pos.Side),
		Side:       pos.Side.Opposite(),
		Price:      price,
		Quantity:   pos.Size,
		Timeframe:  p.cfg.TF.String(),
		ExecutedAt: at,
		Reason:     reason,
	})
	p.deps.Metrics.Order(pos.Symbol, "close_"+string(pos.Side))
	logger.Infof("[live] %s close %s @%.5f %s pnl=%.2f", pos.Symbol, pos.Side, price, reason, pnl)
	p.notify(notifier.PositionClosed(pos, p.balance).RenderMarkdown())
}

func (p *Pipeline) persist(lastBar time.Time) error {
	snap := p.deps.Generator.Snapshot()
	peak := p.deps.Risk.Breaker().Peak()
	err := p.deps.Store.Update(func(d *state.Document) error {
		st := d.Symbol(p.cfg.Symbol)
		st.SetPosition(p.position)
		st.Generator = snap
		st.LastCycle = time.Now().UTC()
		d.Symbols[p.cfg.Symbol] = st
		d.Account.Balance = p.balance
		// the breaker owns the peak; a manual reset lowers it
		d.Account.PeakEquity = peak
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist state after %s: %w", lastBar.Format(time.RFC3339), err)
	}
	return nil
}

func (p *Pipeline) record(ctx context.Context, o *market.Order) {
	if p.deps.Recorder == nil {
		return
	}
	if err := p.deps.Recorder.RecordOrder(ctx, o); err != nil {
		logger.Warnf("[live] %s record order failed: %v", p.cfg.Symbol, err)
	}
}

func (p *Pipeline) notify(text string) {
	if p.deps.Notifier == nil {
		return
	}
	if err := p.deps.Notifier.SendText(text); err != nil {
		logger.Warnf("[live] %s notify failed: %v", p.cfg.Symbol, err)
	}
}

// holds reports whether the broker still carries pos.
func holds(summary market.AccountSummary, pos *risk.Position) bool {
	want := keyOf(pos.Symbol)
	for _, op := range summary.OpenPositions {
		if op.Side == pos.Side && op.Size > 0 && keyOf(op.Symbol) == want {
			return true
		}
	}
	return false
}

func keyOf(symbol string) string {
	if k := symbolpkg.Normalize(symbol); k != "" {
		return k
	}
	return strings.ToUpper(strings.TrimSpace(symbol))
}

func stopReason(pos *risk.Position) string {
	if pos.StopKind == risk.StopTrailing {
		return ExitTrailingStop
	}
	return ExitStopLoss
}

func clonePosition(p *risk.Position) *risk.Position {
	if p == nil {
		return nil
	}
	cp := *p
	return &cp
}
