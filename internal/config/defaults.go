package config

import (
	"strings"
	"time"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

const (
	defaultAppEnv            = "dev"
	defaultAppLogLevel       = "info"
	defaultAppHTTPAddr       = ":9991"
	defaultAppEnvFile        = ".env"
	defaultTimeframe         = "1h"
	defaultHTF               = "4h"
	defaultBroker            = BrokerOANDA
	defaultVariant           = "vrvp"
	defaultMinCandles        = 2
	defaultLookback          = 500
	defaultPollOffset        = 5 * time.Second
	defaultCycleTimeout      = 2 * time.Minute
	defaultMaxSpreadPips     = 3
	defaultMaxSpreadATRRatio = 0.2
	defaultInitialCapital    = 10000
	defaultTradesPath        = "backtest_trades.csv"
	defaultRatePerSec        = 5
	defaultMaxBatch          = 500
	defaultStatePath         = "data/state.json"
	defaultBinanceREST       = "https://fapi.binance.com"
	defaultBinanceQuote      = "USDT"
	defaultHTTPTimeout       = 15 * time.Second
)

// seedDomainDefaults fills the sections owned by other packages before the
// files are decoded over them, so any key the files set wins, zero included.
func (c *Config) seedDomainDefaults() {
	c.Strategy = strategy.DefaultParams()
	c.Indicators = indicator.DefaultSettings()
	c.Risk = risk.DefaultConfig()
}

func (c *Config) applyDefaults(keys keySet) {
	c.App.applyDefaults(keys)
	c.Trading.applyDefaults(keys)
	c.Filters.applyDefaults(keys)
	c.Backtest.applyDefaults(keys)
	c.Paper.applyDefaults(keys, c.Backtest)
	c.State.applyDefaults(keys)
	c.Binance.applyDefaults(keys)
	c.OANDA.applyDefaults(keys)
}

func (a *AppConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("app.env", &a.Env, defaultAppEnv),
		stringFieldDefault("app.log_level", &a.LogLevel, defaultAppLogLevel),
		stringFieldDefault("app.http_addr", &a.HTTPAddr, defaultAppHTTPAddr),
		stringFieldDefault("app.env_file", &a.EnvFile, defaultAppEnvFile),
	)
	a.LogLevel = strings.ToLower(strings.TrimSpace(a.LogLevel))
}

func (t *TradingConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("trading.timeframe", &t.Timeframe, defaultTimeframe),
		stringFieldDefault("trading.htf", &t.HTF, defaultHTF),
		stringFieldDefault("trading.broker", &t.Broker, defaultBroker),
		stringFieldDefault("trading.variant", &t.Variant, defaultVariant),
		intFieldDefault("trading.min_candles_between_trades", &t.MinCandlesBetweenTrades, defaultMinCandles),
		intFieldDefault("trading.lookback", &t.Lookback, defaultLookback),
		durationFieldDefault("trading.poll_offset", &t.PollOffset, defaultPollOffset),
		durationFieldDefault("trading.cycle_timeout", &t.CycleTimeout, defaultCycleTimeout),
		boolFieldDefault("trading.run_immediately", &t.RunImmediately, true),
	)
	t.Broker = strings.ToLower(strings.TrimSpace(t.Broker))
	t.Variant = strings.ToLower(strings.TrimSpace(t.Variant))
}

func (f *FiltersConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("filters.spread.max_spread_pips", &f.Spread.MaxSpreadPips, defaultMaxSpreadPips),
		floatFieldDefault("filters.spread.max_spread_atr_ratio", &f.Spread.MaxSpreadATRRatio, defaultMaxSpreadATRRatio),
	)
	if !keys.isSet("filters.session.excluded_days") {
		f.Session.ExcludedDays = []string{"saturday", "sunday"}
	}
}

func (b *BacktestConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		floatFieldDefault("backtest.initial_capital", &b.InitialCapital, defaultInitialCapital),
		stringFieldDefault("backtest.trades_path", &b.TradesPath, defaultTradesPath),
		floatFieldDefault("backtest.rate_per_sec", &b.RatePerSec, defaultRatePerSec),
		intFieldDefault("backtest.max_batch", &b.MaxBatch, defaultMaxBatch),
	)
}

// Paper trading falls back to the backtest cost model.
func (p *PaperConfig) applyDefaults(keys keySet, bt BacktestConfig) {
	applyFieldDefaults(keys,
		floatFieldDefault("paper.initial_balance", &p.InitialBalance, bt.InitialCapital),
		floatFieldDefault("paper.spread", &p.Spread, bt.Spread),
		floatFieldDefault("paper.commission_pct", &p.CommissionPct, bt.CommissionPct),
	)
}

func (s *StateConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys, stringFieldDefault("state.path", &s.Path, defaultStatePath))
}

func (b *BinanceConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		stringFieldDefault("binance.rest_base_url", &b.RESTBaseURL, defaultBinanceREST),
		stringFieldDefault("binance.quote_asset", &b.QuoteAsset, defaultBinanceQuote),
		durationFieldDefault("binance.http_timeout", &b.HTTPTimeout, defaultHTTPTimeout),
	)
}

func (o *OANDAConfig) applyDefaults(keys keySet) {
	applyFieldDefaults(keys,
		boolFieldDefault("oanda.practice", &o.Practice, true),
		durationFieldDefault("oanda.http_timeout", &o.HTTPTimeout, defaultHTTPTimeout),
	)
}

// applyVariant layers the named preset under the strategy section: a preset
// field is applied only when the files did not set the matching key.
func (c *Config) applyVariant(v strategy.Variant, keys keySet) {
	if keys.isSet("strategy.min_candles_between_trades") && !keys.isSet("trading.min_candles_between_trades") {
		keys.mark("trading.min_candles_between_trades")
		c.Trading.MinCandlesBetweenTrades = c.Strategy.MinCandlesBetweenTrades
	}
	if v.Oversold != nil && !keys.isSet("strategy.oversold") {
		c.Strategy.Oversold = *v.Oversold
	}
	if v.Overbought != nil && !keys.isSet("strategy.overbought") {
		c.Strategy.Overbought = *v.Overbought
	}
	if v.RelaxedLongK != nil && !keys.isSet("strategy.relaxed_long_k") {
		c.Strategy.RelaxedLongK = *v.RelaxedLongK
	}
	if v.RelaxedShortK != nil && !keys.isSet("strategy.relaxed_short_k") {
		c.Strategy.RelaxedShortK = *v.RelaxedShortK
	}
	if v.MinCandlesBetweenTrades != nil && !keys.isSet("trading.min_candles_between_trades") {
		c.Trading.MinCandlesBetweenTrades = *v.MinCandlesBetweenTrades
	}
	c.Strategy.MinCandlesBetweenTrades = c.Trading.MinCandlesBetweenTrades
	// Signal levels and indicator flags follow the risk and strategy sections.
	c.Strategy.StopLossATRMult = c.Risk.StopLossATRMult
	c.Strategy.TakeProfitATRMult = c.Risk.TakeProfitATRMult
	c.Indicators.StochRSI.Oversold = c.Strategy.Oversold
	c.Indicators.StochRSI.Overbought = c.Strategy.Overbought
}

func applyFieldDefaults(keys keySet, defs ...fieldDefault) {
	for _, def := range defs {
		if def.apply == nil {
			continue
		}
		if def.key != "" && keys.isSet(def.key) {
			continue
		}
		if def.need != nil && !def.need() {
			continue
		}
		def.apply()
	}
}

func stringFieldDefault(key string, target *string, def string) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return strings.TrimSpace(*target) == "" },
		apply: func() { *target = def },
	}
}

func intFieldDefault(key string, target *int, def int) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func floatFieldDefault(key string, target *float64, def float64) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func durationFieldDefault(key string, target *time.Duration, def time.Duration) fieldDefault {
	return fieldDefault{
		key:   key,
		need:  func() bool { return *target == 0 },
		apply: func() { *target = def },
	}
}

func boolFieldDefault(key string, target *bool, def bool) fieldDefault {
	return fieldDefault{
		key:   key,
		apply: func() { *target = def },
	}
}
