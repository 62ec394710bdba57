package config

import (
	"errors"
	"fmt"
	"strings"

	"mtfsignal/internal/pkg/symbol"
	"mtfsignal/internal/strategy"
)

var (
	// ErrInvalid wraps every validation failure.
	ErrInvalid = errors.New("invalid config")
	// ErrMissingCredentials is returned by RequireCredentials.
	ErrMissingCredentials = errors.New("missing credentials")
)

func validate(c *Config) error {
	checks := []func() error{
		c.App.validate,
		c.Trading.validate,
		func() error { _, _, _, err := c.Timeframes(); return err },
		func() error { return wrapSection("strategy", c.Strategy.Validate()) },
		func() error { return wrapSection("indicators", c.Indicators.Validate()) },
		func() error { return wrapSection("risk", c.Risk.Validate()) },
		c.Filters.validate,
		c.Backtest.validate,
		c.Paper.validate,
		c.Notify.validate,
		func() error {
			if strings.TrimSpace(c.State.Path) == "" {
				return fmt.Errorf("state.path is required")
			}
			return nil
		},
	}
	for _, check := range checks {
		if err := check(); err != nil {
			if errors.Is(err, ErrInvalid) {
				return err
			}
			return fmt.Errorf("%w: %v", ErrInvalid, err)
		}
	}
	return nil
}

func wrapSection(section string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", section, err)
}

func (a *AppConfig) validate() error {
	switch a.LogLevel {
	case "debug", "info", "warn", "error":
		return nil
	}
	return fmt.Errorf("app.log_level must be one of debug, info, warn, error (got %q)", a.LogLevel)
}

func (t *TradingConfig) validate() error {
	if len(t.Instruments) == 0 {
		return fmt.Errorf("trading.instruments requires at least one instrument")
	}
	for _, inst := range t.Instruments {
		if !symbol.IsValid(inst) {
			return fmt.Errorf("trading.instruments: cannot parse %q", inst)
		}
	}
	switch t.Broker {
	case BrokerBinance, BrokerOANDA:
	default:
		return fmt.Errorf("trading.broker must be %s or %s (got %q)", BrokerBinance, BrokerOANDA, t.Broker)
	}
	switch {
	case t.MinCandlesBetweenTrades < 0:
		return fmt.Errorf("trading.min_candles_between_trades must be >= 0")
	case t.Lookback < 50:
		return fmt.Errorf("trading.lookback must be >= 50")
	case t.PollInterval < 0 || t.PollOffset < 0:
		return fmt.Errorf("trading poll durations must be >= 0")
	case t.CycleTimeout <= 0:
		return fmt.Errorf("trading.cycle_timeout must be > 0")
	}
	return nil
}

func (f *FiltersConfig) validate() error {
	if _, err := strategy.NewSessionFilter(f.Session.Sessions, f.Session.ExcludedDays, f.Session.ExcludedHours); err != nil {
		return fmt.Errorf("filters.session: %w", err)
	}
	if f.Spread.MaxSpreadPips < 0 || f.Spread.MaxSpreadATRRatio < 0 {
		return fmt.Errorf("filters.spread limits must be >= 0")
	}
	return nil
}

func (b *BacktestConfig) validate() error {
	switch {
	case b.InitialCapital <= 0:
		return fmt.Errorf("backtest.initial_capital must be > 0")
	case b.Spread < 0:
		return fmt.Errorf("backtest.spread must be >= 0")
	case b.CommissionPct < 0 || b.CommissionPct >= 1:
		return fmt.Errorf("backtest.commission_pct must be in [0,1)")
	case b.RatePerSec <= 0 || b.MaxBatch <= 0:
		return fmt.Errorf("backtest.rate_per_sec and backtest.max_batch must be > 0")
	}
	return nil
}

func (p *PaperConfig) validate() error {
	switch {
	case p.InitialBalance <= 0:
		return fmt.Errorf("paper.initial_balance must be > 0")
	case p.Spread < 0 || p.CommissionPct < 0 || p.CommissionPct >= 1:
		return fmt.Errorf("paper.spread must be >= 0 and paper.commission_pct in [0,1)")
	}
	return nil
}

func (n *NotifyConfig) validate() error {
	tg := n.Telegram
	if !tg.Enabled {
		return nil
	}
	if strings.TrimSpace(tg.BotToken) == "" || strings.TrimSpace(tg.ChatID) == "" {
		return fmt.Errorf("notify.telegram enabled without bot token and chat id (set %s/%s)", EnvTelegramBotToken, EnvTelegramChatID)
	}
	return nil
}
