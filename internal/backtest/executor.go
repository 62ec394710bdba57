package backtest

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

// Notifier receives the completion summary (Telegram etc.).
type Notifier interface {
	SendText(text string) error
}

// Decider produces entry and exit signals bar by bar. *strategy.Generator
// implements it.
type Decider interface {
	Evaluate(bar strategy.Bar) (strategy.Signal, error)
	CheckExit(bar strategy.Bar, dir strategy.Direction) strategy.Exit
}

// Config controls one replay. Spread is in price units and applied half on
// each fill; CommissionPct is charged on notional per side. Bars before
// Start only warm up the decider; bars after End are ignored.
type Config struct {
	Symbol         string
	InitialBalance float64
	Spread         float64
	CommissionPct  float64
	Risk           risk.Config
	SpreadFilter   strategy.SpreadFilter
	Variant        string
	Start          time.Time
	End            time.Time
}

const DefaultInitialBalance = 10000

func (c Config) withDefaults() Config {
	if c.InitialBalance <= 0 {
		c.InitialBalance = DefaultInitialBalance
	}
	return c
}

// Executor replays a frame through a decider and the risk manager. One
// executor runs one replay at a time; it keeps no state between runs other
// than what the decider itself holds.
type Executor struct {
	cfg      Config
	decider  Decider
	notifier Notifier
}

func NewExecutor(cfg Config, decider Decider, notifier Notifier) (*Executor, error) {
	if decider == nil {
		return nil, fmt.Errorf("decider is required")
	}
	if strings.TrimSpace(cfg.Symbol) == "" {
		return nil, fmt.Errorf("symbol is required")
	}
	if cfg.Spread < 0 || cfg.CommissionPct < 0 {
		return nil, fmt.Errorf("spread and commission must be >= 0")
	}
	if err := cfg.Risk.Validate(); err != nil {
		return nil, fmt.Errorf("risk config: %w", err)
	}
	return &Executor{cfg: cfg.withDefaults(), decider: decider, notifier: notifier}, nil
}

func (e *Executor) Config() Config { return e.cfg }

// RunCandles builds the multi-timeframe frame and replays it.
func (e *Executor) RunCandles(ctx context.Context, candles market.Candles, tf, htf market.Timeframe, factor int, s indicator.Settings) (*Result, error) {
	frame, err := strategy.BuildFrame(candles, tf, htf, factor, s)
	if err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}
	return e.Run(ctx, frame)
}

// Run replays every bar of frame in order. Each bar first manages the open
// position (stop, then target, then exit signal, then stop protection), then
// evaluates the decider and opens a position when flat. A position still
// open after the last bar is closed at that bar's close as time_exit.
func (e *Executor) Run(ctx context.Context, frame *strategy.Frame) (*Result, error) {
	if frame == nil || frame.Len() == 0 {
		return nil, fmt.Errorf("execute: no candles")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	r := &replay{
		cfg:     e.cfg,
		decider: e.decider,
		frame:   frame,
		runID:   uuid.NewString(),
		mgr:     risk.NewManager(e.cfg.Risk, e.cfg.InitialBalance),
		orders:  NewOrderLog(0),
		state: portfolioState{
			balance:    e.cfg.InitialBalance,
			peakEquity: e.cfg.InitialBalance,
		},
		rejected: make(map[string]int),
	}
	logger.Infof("[backtest] run %s %s %s/%s bars=%d balance=%.2f",
		r.runID, e.cfg.Symbol, frame.TF, frame.HTF, frame.Len(), e.cfg.InitialBalance)
	if err := r.loop(ctx); err != nil {
		return nil, err
	}
	res := r.result()
	logger.Infof("[backtest] run %s done trades=%d winrate=%.1f%% pf=%.2f return=%.2f%% maxDD=%.2f%%",
		r.runID, res.Stats.Trades, res.Stats.WinRate*100, res.Stats.ProfitFactor,
		res.Stats.ReturnPct*100, res.Stats.MaxDrawdownPct*100)
	e.notify(res)
	return res, nil
}

func (e *Executor) notify(res *Result) {
	if e.notifier == nil || res == nil {
		return
	}
	st := res.Stats
	msg := fmt.Sprintf("*Backtest finished*\n```\nid      : %s\nsymbol  : %s\npnl     : %.2f (%.2f%%)\nwinrate : %.2f%% (%d/%d)\npf      : %.2f\nmaxDD   : %.2f%%\nfinal   : %.2f\n```\n",
		res.RunID, res.Config.Symbol, st.Profit, st.ReturnPct*100,
		st.WinRate*100, st.Wins, st.Trades, st.ProfitFactor, st.MaxDrawdownPct*100, st.FinalBalance)
	if err := e.notifier.SendText(msg); err != nil {
		logger.Warnf("[backtest] notify failed: %v", err)
	}
}

type portfolioState struct {
	balance    float64
	peakEquity float64
	position   *risk.Position
	entryIndex int
	entryFee   float64
	requested  float64
	reasons    []string
}

func (p *portfolioState) equity(price float64) float64 {
	if p.position == nil {
		return p.balance
	}
	return p.balance + p.position.UnrealizedPnL(price)
}

func (p *portfolioState) machine() State {
	if p.position != nil {
		return StateInPosition
	}
	return StateWaiting
}

type replay struct {
	cfg     Config
	decider Decider
	frame   *strategy.Frame
	runID   string
	mgr     *risk.Manager
	orders  *OrderLog
	state   portfolioState

	trades   []Trade
	equity   []EquityPoint
	signals  int
	rejected map[string]int
	first    int
	last     int
}

func (r *replay) loop(ctx context.Context) error {
	r.first, r.last = -1, -1
	for i := 0; i < r.frame.Len(); i++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		bar := r.frame.Bar(i)
		if !r.cfg.End.IsZero() && bar.Time.After(r.cfg.End) {
			break
		}
		sig, err := r.decider.Evaluate(bar)
		if err != nil {
			return fmt.Errorf("execute: bar %d: %w", i, err)
		}
		if !r.cfg.Start.IsZero() && bar.Time.Before(r.cfg.Start) {
			continue
		}
		if r.first < 0 {
			r.first = i
		}
		r.last = i
		candle := r.frame.Series.LTF[i]
		if r.state.position != nil {
			r.manage(ctx, i, bar, candle)
		}
		if sig.IsEntry() {
			r.signals++
			if r.state.position == nil {
				r.enter(ctx, i, bar, sig)
			}
		}
		r.mark(candle)
	}
	if r.last < 0 {
		return fmt.Errorf("execute: no bars inside the requested window")
	}
	if r.state.position != nil {
		candle := r.frame.Series.LTF[r.last]
		r.exit(ctx, r.last, candle, candle.Close, ExitTimeExit, nil)
		if n := len(r.equity); n > 0 {
			r.equity[n-1].Equity = r.state.balance
			r.equity[n-1].Balance = r.state.balance
			r.equity[n-1].State = StateWaiting
		}
	}
	return nil
}

// manage checks protective exits against the bar range. The stop wins when
// both stop and target were touched in the same bar.
func (r *replay) manage(ctx context.Context, i int, bar strategy.Bar, c market.Candle) {
	p := r.state.position
	if risk.StopHit(p.Side, c.Low, c.High, p.StopLoss) {
		reason := ExitStopLoss
		if p.StopKind == risk.StopTrailing {
			reason = ExitTrailingStop
		}
		r.exit(ctx, i, c, gapFill(p.Side, c.Open, p.StopLoss, true), reason, nil)
		return
	}
	if p.TakeProfit > 0 && risk.TargetHit(p.Side, c.Low, c.High, p.TakeProfit) {
		r.exit(ctx, i, c, gapFill(p.Side, c.Open, p.TakeProfit, false), ExitTakeProfit, nil)
		return
	}
	if ex := r.decider.CheckExit(bar, directionOf(p.Side)); ex.Triggered {
		r.exit(ctx, i, c, c.Close, ExitSignalReversal, ex.Reasons)
		return
	}
	extreme := c.High
	if p.Side == market.SideShort {
		extreme = c.Low
	}
	if upd := r.cfg.Risk.Protect(p, extreme, bar.ATR); upd.Moved {
		logger.Debugf("[backtest] %s %s stop %s %.5f -> %.5f", r.cfg.Symbol, p.Side, upd.Kind, upd.From, upd.To)
	}
}

func (r *replay) enter(ctx context.Context, i int, bar strategy.Bar, sig strategy.Signal) {
	side, ok := sig.Direction.Side()
	if !ok {
		return
	}
	if err := r.cfg.SpreadFilter.Check(r.cfg.Spread, sig.ATR); err != nil {
		r.rejected["spread"]++
		logger.Debugf("[backtest] %s skip %s: %v", r.cfg.Symbol, sig.Direction, err)
		return
	}
	in := risk.StopInput{
		Entry:  sig.EntryPrice,
		Side:   side,
		ATR:    sig.ATR,
		Recent: r.frame.Recent(i, r.cfg.Risk.StructureLookback),
	}
	if r.cfg.Risk.StopMethod == risk.StopFVG {
		fvg := r.frame.FVGAt(i)
		in.FVG = &fvg
	}
	levels, err := r.cfg.Risk.StopLoss(in)
	if err != nil {
		r.rejected[risk.RejectionKind(err)]++
		logger.Debugf("[backtest] %s skip %s: %v", r.cfg.Symbol, sig.Direction, err)
		return
	}
	fill := strategy.AdjustedEntry(sig.EntryPrice, r.cfg.Spread, sig.Direction)
	pos, d := r.mgr.Open(risk.Request{
		Symbol:     r.cfg.Symbol,
		Side:       side,
		Entry:      fill,
		StopLoss:   levels.StopLoss,
		TakeProfit: levels.TakeProfit,
		Balance:    r.state.balance,
		At:         bar.Time,
	})
	if !d.Allowed {
		r.rejected[risk.RejectionKind(d.Err)]++
		return
	}
	fee := fill * pos.Size * r.cfg.CommissionPct
	r.state.position = pos
	r.state.entryIndex = i
	r.state.entryFee = fee
	r.state.requested = sig.EntryPrice
	r.state.reasons = append([]string(nil), sig.Reasons...)
	r.record(ctx, &market.Order{
		RunID:      r.runID,
		Symbol:     r.cfg.Symbol,
		Action:     "open_" + string(side),
		Side:       side,
		Price:      fill,
		Requested:  sig.EntryPrice,
		Quantity:   pos.Size,
		Fee:        fee,
		Timeframe:  r.frame.TF.String(),
		ExecutedAt: bar.Time,
		TakeProfit: pos.TakeProfit,
		StopLoss:   pos.StopLoss,
		ExpectedRR: d.RewardRisk,
		Reason:     strings.Join(sig.Reasons, "; "),
	})
	logger.Infof("[backtest] %s open %s size=%.4f @%.5f (req %.5f) sl=%.5f tp=%.5f",
		r.cfg.Symbol, side, pos.Size, fill, sig.EntryPrice, pos.StopLoss, pos.TakeProfit)
}

func (r *replay) exit(ctx context.Context, i int, c market.Candle, price float64, reason string, why []string) {
	p := r.state.position
	if p == nil {
		return
	}
	fill := price - p.Side.Sign()*r.cfg.Spread/2
	exitFee := fill * p.Size * r.cfg.CommissionPct
	fees := r.state.entryFee + exitFee
	at := c.OpenAt()
	pnl := r.mgr.Close(p, fill, at, reason, fees)
	r.state.balance += pnl
	r.mgr.UpdateEquity(r.state.balance)

	reasons := r.state.reasons
	if len(why) > 0 {
		reasons = append(append([]string(nil), reasons...), why...)
	}
	r.trades = append(r.trades, Trade{
		ID:             p.ID,
		Symbol:         p.Symbol,
		Direction:      p.Side,
		Size:           p.Size,
		RequestedEntry: r.state.requested,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      fill,
		StopLoss:       p.StopLoss,
		TakeProfit:     p.TakeProfit,
		EntryTime:      p.OpenTime,
		ExitTime:       at,
		EntryIndex:     r.state.entryIndex,
		ExitIndex:      i,
		Fees:           fees,
		PnL:            pnl,
		ExitReason:     reason,
		Reasons:        reasons,
	})
	r.record(ctx, &market.Order{
		RunID:      r.runID,
		Symbol:     p.Symbol,
		Action:     "close_" + string(p.Side),
		Side:       p.Side.Opposite(),
		Price:      fill,
		Requested:  price,
		Quantity:   p.Size,
		Fee:        exitFee,
		Timeframe:  r.frame.TF.String(),
		ExecutedAt: at,
		Reason:     reason,
	})
	logger.Infof("[backtest] %s close %s @%.5f %s pnl=%.2f balance=%.2f",
		p.Symbol, p.Side, fill, reason, pnl, r.state.balance)
	r.state.position = nil
	r.state.entryFee = 0
	r.state.reasons = nil
}

func (r *replay) mark(c market.Candle) {
	eq := r.state.equity(c.Close)
	if eq > r.state.peakEquity {
		r.state.peakEquity = eq
	}
	dd := 0.0
	if r.state.peakEquity > 0 {
		dd = (r.state.peakEquity - eq) / r.state.peakEquity
	}
	r.equity = append(r.equity, EquityPoint{
		Time:     c.OpenAt(),
		Equity:   eq,
		Balance:  r.state.balance,
		Drawdown: dd,
		State:    r.state.machine(),
	})
}

func (r *replay) record(ctx context.Context, o *market.Order) {
	if err := r.orders.RecordOrder(ctx, o); err != nil {
		logger.Warnf("[backtest] run %s record order failed: %v", r.runID, err)
	}
}

func (r *replay) result() *Result {
	stats := ComputeStats(r.trades, r.equity, r.cfg.InitialBalance, r.frame.TF.BarsPerYear())
	stats.FinishedAt = time.Now().UTC()
	rc := RunConfig{
		Symbol:         r.cfg.Symbol,
		Timeframe:      r.frame.TF.String(),
		HTF:            r.frame.HTF.String(),
		InitialBalance: r.cfg.InitialBalance,
		Spread:         r.cfg.Spread,
		CommissionPct:  r.cfg.CommissionPct,
		Variant:        r.cfg.Variant,
	}
	if r.first >= 0 {
		rc.Start = r.frame.Series.LTF[r.first].OpenAt()
		rc.End = r.frame.Series.LTF[r.last].OpenAt()
	}
	return &Result{
		RunID:    r.runID,
		Config:   rc,
		Trades:   r.trades,
		Equity:   r.equity,
		Orders:   r.orders.Orders(),
		Stats:    stats,
		Signals:  r.signals,
		Rejected: r.rejected,
	}
}

// gapFill is the price a resting stop or target fills at when the bar opens
// beyond it: stops fill at the worse open, targets at the better open.
func gapFill(side market.Side, open, level float64, stop bool) float64 {
	if open <= 0 {
		return level
	}
	past := (open - level) * side.Sign()
	if stop && past < 0 {
		return open
	}
	if !stop && past > 0 {
		return open
	}
	return level
}

func directionOf(side market.Side) strategy.Direction {
	if side == market.SideShort {
		return strategy.DirectionShort
	}
	return strategy.DirectionLong
}
