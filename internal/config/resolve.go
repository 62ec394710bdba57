package config

import (
	"fmt"

	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/symbol"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

// Timeframes parses the trading and trend timeframes. The factor is
// trading.htf_factor when set, otherwise derived from the two durations.
func (c *Config) Timeframes() (tf, htf market.Timeframe, factor int, err error) {
	if tf, err = market.ParseTimeframe(c.Trading.Timeframe); err != nil {
		return tf, htf, 0, fmt.Errorf("trading.timeframe: %w", err)
	}
	if htf, err = market.ParseTimeframe(c.Trading.HTF); err != nil {
		return tf, htf, 0, fmt.Errorf("trading.htf: %w", err)
	}
	factor = c.Trading.HTFFactor
	if factor <= 0 {
		if factor, err = tf.Factor(htf); err != nil {
			return tf, htf, 0, fmt.Errorf("trading.htf: %w", err)
		}
	}
	if factor < 2 {
		return tf, htf, 0, fmt.Errorf("trading.htf_factor must be >= 2, got %d", factor)
	}
	return tf, htf, factor, nil
}

// StrategyParams returns the generator parameters with the session filter
// and bar duration filled in.
func (c *Config) StrategyParams() (strategy.Params, error) {
	p := c.Strategy
	session, err := strategy.NewSessionFilter(c.Filters.Session.Sessions, c.Filters.Session.ExcludedDays, c.Filters.Session.ExcludedHours)
	if err != nil {
		return p, fmt.Errorf("filters.session: %w", err)
	}
	p.Session = session
	if tf, err := market.ParseTimeframe(c.Trading.Timeframe); err == nil {
		p.BarDuration = tf.Duration
	}
	return p, nil
}

// RiskFor adapts the risk section to one instrument: pip size follows the
// instrument unless risk.pip_size is set, and crypto trades in 0.001 lots
// unless risk.lot_step is set.
func (c *Config) RiskFor(instrument string) risk.Config {
	rc := c.Risk
	sym := symbol.Parse(instrument)
	if !c.IsSet("risk.pip_size") && sym.Base != "" {
		rc.PipSize = sym.PipSize()
	}
	if !c.IsSet("risk.lot_step") && sym.Base != "" && !sym.IsForex() {
		rc.LotStep = 0.001
	}
	return rc
}

func (c *Config) SpreadFilter(instrument string) strategy.SpreadFilter {
	return strategy.SpreadFilter{
		PipSize:           c.RiskFor(instrument).PipSize,
		MaxSpreadPips:     c.Filters.Spread.MaxSpreadPips,
		MaxSpreadATRRatio: c.Filters.Spread.MaxSpreadATRRatio,
	}
}
