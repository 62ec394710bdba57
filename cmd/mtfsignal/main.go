package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"mtfsignal/internal/app"
	"mtfsignal/internal/backtest"
	"mtfsignal/internal/config"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/pkg/symbol"
)

const (
	exitOK      = 0
	exitFailure = 1
	exitUsage   = 2
)

const usageText = `usage:
  mtfsignal [-config path] backtest -instrument EUR_USD [-start 2024-01-01 -end 2024-06-30] [-balance 10000] [-csv file] [-out trades.csv] [-report report.html]
  mtfsignal [-config path] paper [-instrument EUR_USD,GBP_USD]
  mtfsignal [-config path] live [-instrument BTCUSDT]
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	logger.Sync()
	os.Exit(code)
}

// usageError marks failures that exit with status 2.
type usageError struct{ err error }

func (e usageError) Error() string { return e.err.Error() }
func (e usageError) Unwrap() error { return e.err }

func usagef(format string, args ...any) error {
	return usageError{fmt.Errorf(format, args...)}
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	global := flag.NewFlagSet("mtfsignal", flag.ContinueOnError)
	global.SetOutput(stderr)
	cfgPath := global.String("config", envOr("MTFSIGNAL_CONFIG", "configs/config.yaml"), "configuration file")
	global.Usage = func() { fmt.Fprint(stderr, usageText) }
	if err := global.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}
	rest := global.Args()
	if len(rest) == 0 {
		global.Usage()
		return exitUsage
	}
	mode, err := app.ParseMode(rest[0])
	if err != nil {
		fmt.Fprintf(stderr, "%v\n%s", err, usageText)
		return exitUsage
	}

	switch mode {
	case app.ModeBacktest:
		err = runBacktest(ctx, *cfgPath, rest[1:], stdout, stderr)
	default:
		err = runTrader(ctx, mode, *cfgPath, rest[1:], stderr)
	}
	switch {
	case err == nil:
		return exitOK
	case errors.Is(err, flag.ErrHelp):
		return exitOK
	case isUsage(err):
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitUsage
	default:
		fmt.Fprintf(stderr, "error: %v\n", err)
		return exitFailure
	}
}

func isUsage(err error) bool {
	var ue usageError
	return errors.As(err, &ue) || errors.Is(err, config.ErrInvalid) || errors.Is(err, config.ErrMissingCredentials)
}

func runBacktest(ctx context.Context, cfgPath string, args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("backtest", flag.ContinueOnError)
	fs.SetOutput(stderr)
	instrument := fs.String("instrument", "", "instrument to replay, e.g. EUR_USD")
	startRaw := fs.String("start", "", "first bar date, YYYY-MM-DD or RFC3339")
	endRaw := fs.String("end", "", "last bar date (inclusive), YYYY-MM-DD or RFC3339")
	balance := fs.Float64("balance", 0, "initial balance (default backtest.initial_capital)")
	csvPath := fs.String("csv", "", "read candles from this CSV instead of the broker")
	out := fs.String("out", "", "trades CSV path, '-' to skip")
	report := fs.String("report", "", "HTML report path, '-' to skip")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}

	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	inst := strings.TrimSpace(*instrument)
	if inst == "" && len(cfg.Trading.Instruments) > 0 {
		inst = cfg.Trading.Instruments[0]
	}
	if !symbol.IsValid(inst) {
		return usagef("backtest: -instrument %q is not a valid instrument", inst)
	}
	start, err := parseDate(*startRaw, false)
	if err != nil {
		return usagef("backtest: -start: %v", err)
	}
	end, err := parseDate(*endRaw, true)
	if err != nil {
		return usagef("backtest: -end: %v", err)
	}
	if *csvPath == "" {
		if start.IsZero() || end.IsZero() {
			return usagef("backtest: -start and -end are required without -csv")
		}
		if err := cfg.RequireCredentials(string(app.ModeBacktest)); err != nil {
			return err
		}
	}
	if *balance < 0 {
		return usagef("backtest: -balance must be >= 0")
	}
	closeLogs, err := setupLogs(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()

	res, err := app.NewBacktest(cfg).Run(ctx, app.BacktestRequest{
		Instrument: inst,
		Start:      start,
		End:        end,
		Balance:    *balance,
		CSVPath:    *csvPath,
		TradesPath: *out,
		ReportPath: *report,
	})
	if err != nil {
		return err
	}
	printStats(stdout, res.Result)
	if res.TradesPath != "" {
		fmt.Fprintf(stdout, "trades  : %s\n", res.TradesPath)
	}
	if res.ReportPath != "" {
		fmt.Fprintf(stdout, "report  : %s\n", res.ReportPath)
	}
	return nil
}

func runTrader(ctx context.Context, mode app.Mode, cfgPath string, args []string, stderr io.Writer) error {
	fs := flag.NewFlagSet(string(mode), flag.ContinueOnError)
	fs.SetOutput(stderr)
	instruments := fs.String("instrument", "", "comma separated instruments, overriding trading.instruments")
	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return err
		}
		return usageError{err}
	}
	cfg, err := loadConfig(cfgPath)
	if err != nil {
		return err
	}
	if raw := strings.TrimSpace(*instruments); raw != "" {
		list := symbol.NormalizeList(strings.Split(raw, ","))
		for _, inst := range list {
			if !symbol.IsValid(inst) {
				return usagef("%s: -instrument %q is not a valid instrument", mode, inst)
			}
		}
		cfg.Trading.Instruments = list
	}
	closeLogs, err := setupLogs(cfg)
	if err != nil {
		return err
	}
	defer closeLogs()
	logger.Infof("config loaded env=%s path=%s", cfg.App.Env, cfg.Path())

	a, err := app.NewApp(ctx, cfg, mode)
	if err != nil {
		return err
	}
	return a.Run(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, usageError{fmt.Errorf("load config: %w", err)}
	}
	return cfg, nil
}

// parseDate accepts a date or an RFC3339 time. A bare date used as an end
// bound covers that whole day.
func parseDate(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.DateOnly, raw); err == nil {
		if endOfDay {
			t = t.Add(24*time.Hour - time.Millisecond)
		}
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("want YYYY-MM-DD or RFC3339, got %q", raw)
	}
	return t.UTC(), nil
}

// setupLogs tees the log to app.log_path and opens the signal journal.
func setupLogs(cfg *config.Config) (func(), error) {
	var files []*os.File
	closeAll := func() {
		for _, f := range files {
			_ = f.Close()
		}
	}
	logger.SetLevel(cfg.App.LogLevel)
	if path := strings.TrimSpace(cfg.App.LogPath); path != "" {
		f, err := openAppend(path)
		if err != nil {
			return closeAll, fmt.Errorf("open log file: %w", err)
		}
		files = append(files, f)
		mw := io.MultiWriter(os.Stdout, f)
		log.SetOutput(mw)
		logger.SetOutput(mw)
	}
	if path := strings.TrimSpace(cfg.App.JournalPath); path != "" {
		f, err := openAppend(path)
		if err != nil {
			closeAll()
			return func() {}, fmt.Errorf("open journal: %w", err)
		}
		files = append(files, f)
		logger.SetJournalWriter(f)
	}
	return func() {
		logger.SetJournalWriter(nil)
		logger.Sync()
		closeAll()
	}, nil
}

func openAppend(path string) (*os.File, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
}

func printStats(w io.Writer, res *backtest.Result) {
	st := res.Stats
	rc := res.Config
	fmt.Fprintf(w, "run     : %s\n", res.RunID)
	fmt.Fprintf(w, "symbol  : %s %s/%s\n", rc.Symbol, rc.Timeframe, rc.HTF)
	if !rc.Start.IsZero() {
		fmt.Fprintf(w, "period  : %s .. %s\n", rc.Start.Format(time.DateTime), rc.End.Format(time.DateTime))
	}
	fmt.Fprintf(w, "balance : %.2f -> %.2f (%+.2f%%)\n", st.InitialBalance, st.FinalBalance, st.ReturnPct*100)
	fmt.Fprintf(w, "trades  : %d (win %d / loss %d, %.1f%%)\n", st.Trades, st.Wins, st.Losses, st.WinRate*100)
	fmt.Fprintf(w, "pf      : %.2f  expectancy %.2f  avg bars %.1f\n", st.ProfitFactor, st.Expectancy, st.AvgBarsHeld)
	fmt.Fprintf(w, "max dd  : %.2f%%  sharpe %.2f\n", st.MaxDrawdownPct*100, st.Sharpe)
	if len(st.ExitReasons) > 0 {
		reasons := make([]string, 0, len(st.ExitReasons))
		for r, n := range st.ExitReasons {
			reasons = append(reasons, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(reasons)
		fmt.Fprintf(w, "exits   : %s\n", strings.Join(reasons, " "))
	}
	if len(res.Rejected) > 0 {
		rejected := make([]string, 0, len(res.Rejected))
		for r, n := range res.Rejected {
			rejected = append(rejected, fmt.Sprintf("%s=%d", r, n))
		}
		sort.Strings(rejected)
		fmt.Fprintf(w, "rejected: %s\n", strings.Join(rejected, " "))
	}
}

func envOr(key, def string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return def
}
