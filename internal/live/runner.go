package live

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"golang.org/x/sync/errgroup"

	"mtfsignal/internal/gateway/notifier"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/scheduler"
	"mtfsignal/internal/store/state"
)

// ErrUnknownSymbol is returned by Trigger for a symbol with no pipeline.
var ErrUnknownSymbol = errors.New("no pipeline for symbol")

type RunnerConfig struct {
	Mode   string
	Broker string
	// Interval is the candle period the schedule aligns to; Offset delays
	// each wake-up past the close. A positive Every polls on that cadence
	// instead of once per candle.
	Interval       time.Duration
	Offset         time.Duration
	Every          time.Duration
	RunImmediately bool
}

// Status is the runner-wide view served on /api/status.
type Status struct {
	Mode     string         `json:"mode"`
	Broker   string         `json:"broker"`
	Started  time.Time      `json:"started"`
	Balance  float64        `json:"balance"`
	Peak     float64        `json:"peak_equity"`
	Drawdown float64        `json:"drawdown"`
	Breaker  string         `json:"breaker"`
	Symbols  []SymbolStatus `json:"symbols"`
}

// Runner drives one pipeline per symbol, each on its own aligned schedule.
// All pipelines share the risk manager, so exposure caps and the drawdown
// breaker apply account-wide.
type Runner struct {
	cfg       RunnerConfig
	risk      *risk.Manager
	store     *state.Store
	notify    notifier.TextNotifier
	pipelines map[string]*Pipeline
	order     []string
	started   time.Time
}

func NewRunner(cfg RunnerConfig, mgr *risk.Manager, store *state.Store, notify notifier.TextNotifier, pipelines ...*Pipeline) (*Runner, error) {
	if mgr == nil || store == nil {
		return nil, fmt.Errorf("runner: risk manager and store are required")
	}
	if len(pipelines) == 0 {
		return nil, fmt.Errorf("runner: at least one pipeline is required")
	}
	if cfg.Interval <= 0 {
		return nil, fmt.Errorf("runner: interval must be > 0")
	}
	r := &Runner{cfg: cfg, risk: mgr, store: store, notify: notify, pipelines: make(map[string]*Pipeline), started: time.Now().UTC()}
	for _, p := range pipelines {
		if _, dup := r.pipelines[p.Symbol()]; dup {
			return nil, fmt.Errorf("runner: duplicate symbol %s", p.Symbol())
		}
		r.pipelines[p.Symbol()] = p
		r.order = append(r.order, p.Symbol())
	}
	sort.Strings(r.order)

	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("runner: load state: %w", err)
	}
	if doc.Account.Balance > 0 {
		mgr.Breaker().Restore(doc.Account.PeakEquity, doc.Account.Balance)
	}
	mgr.Breaker().SetStateChangeHandler(r.onBreaker)
	return r, nil
}

func (r *Runner) onBreaker(name string, from, to risk.BreakerState, drawdown float64) {
	logger.Warnf("[live] breaker %s %s -> %s drawdown=%.2f%%", name, from, to, drawdown*100)
	if r.notify == nil {
		return
	}
	msg := notifier.BreakerChanged(name, from, to, drawdown, time.Now().UTC()).RenderMarkdown()
	if err := r.notify.SendText(msg); err != nil {
		logger.Warnf("[live] breaker notify failed: %v", err)
	}
}

// Run blocks until ctx is cancelled. In-flight cycles finish and persist
// before Run returns.
func (r *Runner) Run(ctx context.Context) error {
	logger.Infof("[live] %s runner started broker=%s symbols=%v interval=%s offset=%s",
		r.cfg.Mode, r.cfg.Broker, r.order, r.cfg.Interval, r.cfg.Offset)
	g, gctx := errgroup.WithContext(ctx)
	for _, sym := range r.order {
		p := r.pipelines[sym]
		g.Go(func() error {
			sched := scheduler.NewAlignedScheduler(p.Symbol(), r.cfg.Interval, r.cfg.Offset)
			sched.Every = r.cfg.Every
			sched.RunImmediately = r.cfg.RunImmediately
			sched.Start(gctx, func(ctx context.Context) {
				if err := p.Cycle(ctx); err != nil && !errors.Is(err, ErrBusy) {
					logger.Errorf("[live] %s cycle failed: %v", p.Symbol(), err)
				}
			})
			return nil
		})
	}
	err := g.Wait()
	logger.Infof("[live] runner stopped")
	return err
}

// Trigger runs one cycle for symbol now. It returns ErrBusy when that
// symbol's scheduled cycle is still running.
func (r *Runner) Trigger(ctx context.Context, symbol string) error {
	p, ok := r.pipelines[symbol]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSymbol, symbol)
	}
	return p.Cycle(ctx)
}

// ResetBreaker closes the drawdown breaker, re-bases its peak on the current
// equity and persists that peak so a restart does not trip it again.
func (r *Runner) ResetBreaker(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	brk := r.risk.Breaker()
	from, dd := brk.State(), brk.Drawdown()
	brk.Reset()
	peak := brk.Peak()
	err := r.store.Update(func(d *state.Document) error {
		d.Account.PeakEquity = peak
		return nil
	})
	if err != nil {
		return fmt.Errorf("persist breaker reset: %w", err)
	}
	logger.Warnf("[live] breaker reset by operator: was %s drawdown=%.2f%%, new peak=%.2f", from, dd*100, peak)
	return nil
}

func (r *Runner) Symbols() []string {
	return append([]string(nil), r.order...)
}

func (r *Runner) Status() Status {
	brk := r.risk.Breaker()
	st := Status{
		Mode:     r.cfg.Mode,
		Broker:   r.cfg.Broker,
		Started:  r.started,
		Peak:     brk.Peak(),
		Drawdown: brk.Drawdown(),
		Breaker:  brk.State().String(),
	}
	if doc, err := r.store.Load(); err == nil {
		st.Balance = doc.Account.Balance
	}
	for _, sym := range r.order {
		st.Symbols = append(st.Symbols, r.pipelines[sym].Status())
	}
	return st
}
