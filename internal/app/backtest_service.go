package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"mtfsignal/internal/backtest"
	"mtfsignal/internal/config"
	"mtfsignal/internal/gateway/notifier"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/symbol"
	"mtfsignal/internal/strategy"
)

// BacktestRequest describes one replay. Zero Balance uses
// backtest.initial_capital; empty output paths fall back to the backtest
// section, and "-" disables that output.
type BacktestRequest struct {
	Instrument string
	Start      time.Time
	End        time.Time
	Balance    float64
	CSVPath    string
	TradesPath string
	ReportPath string
}

// BacktestOutcome is the replay result plus the files written for it.
type BacktestOutcome struct {
	Result     *backtest.Result
	TradesPath string
	ReportPath string
}

// BacktestService runs replays from a CSV file or from the configured
// broker's history.
type BacktestService struct {
	cfg      *config.Config
	notify   notifier.TextNotifier
	sourceFn func(*config.Config) (market.Broker, error)
}

func NewBacktestService(cfg *config.Config, notify notifier.TextNotifier) *BacktestService {
	return &BacktestService{cfg: cfg, notify: notify, sourceFn: buildExchange}
}

func (s *BacktestService) Run(ctx context.Context, req BacktestRequest) (*BacktestOutcome, error) {
	cfg := s.cfg
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	sym := symbol.Normalize(req.Instrument)
	if sym == "" {
		return nil, fmt.Errorf("cannot parse instrument %q", req.Instrument)
	}
	if !req.Start.IsZero() && !req.End.IsZero() && !req.End.After(req.Start) {
		return nil, fmt.Errorf("end %s is not after start %s", req.End.Format(time.DateOnly), req.Start.Format(time.DateOnly))
	}
	tf, htf, factor, err := cfg.Timeframes()
	if err != nil {
		return nil, err
	}
	params, err := cfg.StrategyParams()
	if err != nil {
		return nil, err
	}

	candles, err := s.load(ctx, sym, tf, req)
	if err != nil {
		return nil, err
	}
	balance := req.Balance
	if balance <= 0 {
		balance = cfg.Backtest.InitialCapital
	}
	exec, err := backtest.NewExecutor(backtest.Config{
		Symbol:         sym,
		InitialBalance: balance,
		Spread:         cfg.Backtest.Spread,
		CommissionPct:  cfg.Backtest.CommissionPct,
		Risk:           cfg.RiskFor(sym),
		SpreadFilter:   cfg.SpreadFilter(sym),
		Variant:        cfg.Trading.Variant,
		Start:          req.Start,
		End:            req.End,
	}, strategy.NewGenerator(sym, params), s.notify)
	if err != nil {
		return nil, err
	}
	frame, err := strategy.BuildFrame(candles, tf, htf, factor, cfg.Indicators)
	if err != nil {
		return nil, fmt.Errorf("compute indicators: %w", err)
	}
	res, err := exec.Run(ctx, frame)
	if err != nil {
		return nil, err
	}

	out := &BacktestOutcome{Result: res}
	if path := outputPath(req.TradesPath, cfg.Backtest.TradesPath); path != "" {
		if err := backtest.WriteTradesFile(path, res.Trades); err != nil {
			return out, fmt.Errorf("write trades: %w", err)
		}
		out.TradesPath = path
	}
	if path := outputPath(req.ReportPath, cfg.Backtest.ReportPath); path != "" {
		if err := backtest.WriteReportFile(path, frame, res); err != nil {
			return out, fmt.Errorf("write report: %w", err)
		}
		out.ReportPath = path
	}
	return out, nil
}

// load reads the CSV when given, otherwise backfills from the broker,
// starting trading.lookback bars early so indicators are warm at Start.
func (s *BacktestService) load(ctx context.Context, sym string, tf market.Timeframe, req BacktestRequest) (market.Candles, error) {
	if req.CSVPath != "" {
		candles, err := market.LoadCSVFile(req.CSVPath, market.LoadOptions{Timeframe: tf})
		if err != nil {
			return nil, fmt.Errorf("load data: %w", err)
		}
		logger.Infof("[backtest] loaded %d candles from %s", len(candles), req.CSVPath)
		return candles, nil
	}
	if req.Start.IsZero() || req.End.IsZero() {
		return nil, fmt.Errorf("load data: -start and -end are required without -csv")
	}
	broker, err := s.sourceFn(s.cfg)
	if err != nil {
		return nil, fmt.Errorf("load data: %w", err)
	}
	source, ok := broker.(market.RangeSource)
	if !ok {
		return nil, fmt.Errorf("load data: %s cannot backfill history", broker.Name())
	}
	loader, err := backtest.NewLoader(broker.Name(), source, backtest.LoaderConfig{
		RatePerSec: s.cfg.Backtest.RatePerSec,
		MaxBatch:   s.cfg.Backtest.MaxBatch,
	})
	if err != nil {
		return nil, err
	}
	warm := time.Duration(s.cfg.Trading.Lookback) * tf.Duration
	return loader.Load(ctx, sym, tf, req.Start.Add(-warm), req.End)
}

func outputPath(requested, configured string) string {
	requested = strings.TrimSpace(requested)
	if requested == "-" {
		return ""
	}
	if requested != "" {
		return requested
	}
	return strings.TrimSpace(configured)
}
