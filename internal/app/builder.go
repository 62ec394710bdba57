package app

import (
	"context"
	"fmt"

	"mtfsignal/internal/backtest"
	"mtfsignal/internal/config"
	"mtfsignal/internal/gateway/notifier"
	"mtfsignal/internal/live"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/metrics"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/store/state"
	"mtfsignal/internal/strategy"
)

// orderLogLimit bounds the in-memory order history a runner keeps.
const orderLogLimit = 1000

type AppBuilder struct {
	cfg  *config.Config
	mode Mode

	brokerFn   func(cfg *config.Config, mode Mode, persistedBalance float64) (market.Broker, error)
	notifierFn func(config.NotifyConfig) notifier.TextNotifier
}

type AppBuilderOption func(*AppBuilder)

// WithBroker replaces the broker factory, e.g. with a fake in tests.
func WithBroker(fn func(cfg *config.Config, mode Mode, persistedBalance float64) (market.Broker, error)) AppBuilderOption {
	return func(b *AppBuilder) { b.brokerFn = fn }
}

func WithNotifier(n notifier.TextNotifier) AppBuilderOption {
	return func(b *AppBuilder) {
		b.notifierFn = func(config.NotifyConfig) notifier.TextNotifier { return n }
	}
}

func NewAppBuilder(cfg *config.Config, mode Mode, opts ...AppBuilderOption) *AppBuilder {
	b := &AppBuilder{
		cfg:        cfg,
		mode:       mode,
		brokerFn:   buildBroker,
		notifierFn: newTelegram,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Build assembles one pipeline per instrument around a shared drawdown
// breaker and exposure book, the runner that schedules them and the status
// server.
func (b *AppBuilder) Build(ctx context.Context) (*App, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg := b.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if b.mode != ModePaper && b.mode != ModeLive {
		return nil, fmt.Errorf("app runs paper or live mode, not %q", b.mode)
	}
	// Paper credentials belong to the feed; the broker factory checks them.
	if b.mode == ModeLive {
		if err := cfg.RequireCredentials(string(b.mode)); err != nil {
			return nil, err
		}
	}
	tf, htf, factor, err := cfg.Timeframes()
	if err != nil {
		return nil, err
	}
	params, err := cfg.StrategyParams()
	if err != nil {
		return nil, err
	}

	store, err := state.NewStore(cfg.State.Path)
	if err != nil {
		return nil, fmt.Errorf("open state: %w", err)
	}
	doc, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("load state: %w", err)
	}
	broker, err := b.brokerFn(cfg, b.mode, doc.Account.Balance)
	if err != nil {
		return nil, fmt.Errorf("connect broker: %w", err)
	}
	logger.Infof("[app] %s mode via %s", b.mode, broker.Name())

	equity := startingEquity(ctx, broker, cfg.Paper.InitialBalance)
	breaker := risk.NewDrawdownBreaker("account", cfg.Risk.MaxDrawdownPct, equity)
	exposure := risk.NewExposure(cfg.Risk.MaxTotalExposure, cfg.Risk.MaxPositionsPerSymbol, cfg.Risk.MaxOpenPositions)
	account := risk.NewManagerWith(cfg.Risk, breaker, exposure)

	m := metrics.New()
	notify := b.notifierFn(cfg.Notify)
	orders := backtest.NewOrderLog(orderLogLimit)

	pipelines := make([]*live.Pipeline, 0, len(cfg.Trading.Instruments))
	for _, sym := range cfg.Trading.Instruments {
		rc := cfg.RiskFor(sym)
		p, err := live.NewPipeline(live.PipelineConfig{
			Symbol:       sym,
			TF:           tf,
			HTF:          htf,
			Factor:       factor,
			Lookback:     cfg.Trading.Lookback,
			Indicators:   cfg.Indicators,
			Risk:         rc,
			SpreadFilter: cfg.SpreadFilter(sym),
			CycleTimeout: cfg.Trading.CycleTimeout,
		}, live.Deps{
			Broker:    broker,
			Generator: strategy.NewGenerator(sym, params),
			Risk:      risk.NewManagerWith(rc, breaker, exposure),
			Store:     store,
			Recorder:  orders,
			Notifier:  notify,
			Metrics:   m,
		})
		if err != nil {
			return nil, err
		}
		pipelines = append(pipelines, p)
	}

	runner, err := live.NewRunner(live.RunnerConfig{
		Mode:           string(b.mode),
		Broker:         broker.Name(),
		Interval:       tf.Duration,
		Offset:         cfg.Trading.PollOffset,
		Every:          cfg.Trading.PollInterval,
		RunImmediately: cfg.Trading.RunImmediately,
	}, account, store, notify, pipelines...)
	if err != nil {
		return nil, err
	}
	status, err := buildStatusServer(cfg.App, runner, m.Handler())
	if err != nil {
		return nil, err
	}
	return &App{
		cfg:    cfg,
		mode:   b.mode,
		runner: runner,
		status: status,
		Summary: &StartupSummary{
			Mode:        string(b.mode),
			Broker:      broker.Name(),
			Instruments: cfg.Trading.Instruments,
			Timeframe:   tf.Key,
			HTF:         fmt.Sprintf("%s (x%d)", htf.Key, factor),
			Variant:     cfg.Trading.Variant,
			Equity:      equity,
			Risk:        cfg.Risk,
			StatePath:   store.Path(),
			HTTPAddr:    statusAddr(status),
			Alerts:      notify != nil,
		},
	}, nil
}
