package config

import (
	"strings"
	"time"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/risk"
	"mtfsignal/internal/strategy"
)

// Config is the whole runtime configuration. Domain sections decode straight
// into the types that consume them.
type Config struct {
	App        AppConfig          `toml:"app"`
	Trading    TradingConfig      `toml:"trading"`
	Strategy   strategy.Params    `toml:"strategy"`
	Indicators indicator.Settings `toml:"indicators"`
	Filters    FiltersConfig      `toml:"filters"`
	Risk       risk.Config        `toml:"risk"`
	Backtest   BacktestConfig     `toml:"backtest"`
	Paper      PaperConfig        `toml:"paper"`
	State      StateConfig        `toml:"state"`
	Notify     NotifyConfig       `toml:"notify"`
	Binance    BinanceConfig      `toml:"binance"`
	OANDA      OANDAConfig        `toml:"oanda"`

	Credentials Credentials `toml:"-"`

	path string
	keys keySet
}

type AppConfig struct {
	Env         string `toml:"env"`
	LogLevel    string `toml:"log_level"`
	LogPath     string `toml:"log_path"`
	JournalPath string `toml:"journal_path"`
	HTTPAddr    string `toml:"http_addr"`
	EnvFile     string `toml:"env_file"`
}

// TradingConfig selects what is traded and how often. HTFFactor overrides the
// factor derived from Timeframe and HTF.
type TradingConfig struct {
	Instruments             []string      `toml:"instruments"`
	Timeframe               string        `toml:"timeframe"`
	HTF                     string        `toml:"htf"`
	HTFFactor               int           `toml:"htf_factor"`
	Broker                  string        `toml:"broker"`
	Variant                 string        `toml:"variant"`
	VariantsPath            string        `toml:"variants_path"`
	MinCandlesBetweenTrades int           `toml:"min_candles_between_trades"`
	Lookback                int           `toml:"lookback"`
	PollInterval            time.Duration `toml:"poll_interval"`
	PollOffset              time.Duration `toml:"poll_offset"`
	RunImmediately          bool          `toml:"run_immediately"`
	CycleTimeout            time.Duration `toml:"cycle_timeout"`
}

type FiltersConfig struct {
	Session SessionConfig `toml:"session"`
	Spread  SpreadConfig  `toml:"spread"`
}

// SessionConfig names trading sessions (tokyo, london, new_york). Empty
// Sessions allows every hour.
type SessionConfig struct {
	Sessions      []string `toml:"sessions"`
	ExcludedDays  []string `toml:"excluded_days"`
	ExcludedHours []int    `toml:"excluded_hours"`
}

type SpreadConfig struct {
	MaxSpreadPips     float64 `toml:"max_spread_pips"`
	MaxSpreadATRRatio float64 `toml:"max_spread_atr_ratio"`
}

// BacktestConfig: Spread is in price units, CommissionPct a fraction per side.
type BacktestConfig struct {
	InitialCapital float64 `toml:"initial_capital"`
	Spread         float64 `toml:"spread"`
	CommissionPct  float64 `toml:"commission_pct"`
	TradesPath     string  `toml:"trades_path"`
	ReportPath     string  `toml:"report_path"`
	RatePerSec     float64 `toml:"rate_per_sec"`
	MaxBatch       int     `toml:"max_batch"`
}

type PaperConfig struct {
	InitialBalance float64 `toml:"initial_balance"`
	Spread         float64 `toml:"spread"`
	CommissionPct  float64 `toml:"commission_pct"`
}

type StateConfig struct {
	Path string `toml:"path"`
}

type NotifyConfig struct {
	Telegram TelegramConfig `toml:"telegram"`
}

type TelegramConfig struct {
	Enabled  bool   `toml:"enabled"`
	BotToken string `toml:"bot_token"`
	ChatID   string `toml:"chat_id"`
}

type BinanceConfig struct {
	RESTBaseURL  string        `toml:"rest_base_url"`
	QuoteAsset   string        `toml:"quote_asset"`
	HTTPTimeout  time.Duration `toml:"http_timeout"`
	ProxyEnabled bool          `toml:"proxy_enabled"`
	RESTProxyURL string        `toml:"rest_proxy_url"`
}

type OANDAConfig struct {
	Practice    bool          `toml:"practice"`
	BaseURL     string        `toml:"base_url"`
	HTTPTimeout time.Duration `toml:"http_timeout"`
}

// Credentials never come from the YAML file; see loadCredentials.
type Credentials struct {
	BinanceAPIKey    string
	BinanceAPISecret string
	OANDAAccessToken string
	OANDAAccountID   string
	TelegramBotToken string
	TelegramChatID   string
}

const (
	BrokerBinance = "binance"
	BrokerOANDA   = "oanda"
	BrokerPaper   = "paper"
)

// Path is the file the config was loaded from.
func (c *Config) Path() string { return c.path }

// IsSet reports whether key (dotted, lower-case) was present in the files.
func (c *Config) IsSet(key string) bool { return c.keys.isSet(key) }

type keySet map[string]struct{}

func (k keySet) mark(path string) {
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return
	}
	k[path] = struct{}{}
}

func (k keySet) isSet(path string) bool {
	if len(k) == 0 {
		return false
	}
	path = strings.ToLower(strings.TrimSpace(path))
	if path == "" {
		return false
	}
	_, ok := k[path]
	return ok
}

type fieldDefault struct {
	key   string
	need  func() bool
	apply func()
}
