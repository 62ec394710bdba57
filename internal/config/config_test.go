package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtfsignal/internal/logger"
)

func writeFile(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func clearCredentialEnv(t *testing.T) {
	for _, k := range []string{EnvBinanceAPIKey, EnvBinanceAPISecret, EnvOANDAAccessToken, EnvOANDAAccountID, EnvTelegramBotToken, EnvTelegramChatID} {
		t.Setenv(k, "")
	}
}

const minimal = `
trading:
  instruments: [EUR_USD]
`

func TestLoadAppliesDefaults(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	cfg, err := Load(writeFile(t, dir, "config.yaml", minimal))
	require.NoError(t, err)

	assert.Equal(t, "info", cfg.App.LogLevel)
	assert.Equal(t, ":9991", cfg.App.HTTPAddr)
	assert.Equal(t, []string{"EUR/USD"}, cfg.Trading.Instruments)
	assert.Equal(t, BrokerOANDA, cfg.Trading.Broker)
	assert.Equal(t, 5*time.Second, cfg.Trading.PollOffset)
	assert.True(t, cfg.Trading.RunImmediately)
	assert.InDelta(t, 0.02, cfg.Risk.RiskPerTrade, 1e-12)
	assert.InDelta(t, 0.06, cfg.Risk.MaxTotalExposure, 1e-12)
	assert.Equal(t, 14, cfg.Indicators.ATRPeriod)
	assert.InDelta(t, 10000, cfg.Backtest.InitialCapital, 1e-9)
	assert.InDelta(t, 10000, cfg.Paper.InitialBalance, 1e-9)
	assert.Equal(t, []string{"saturday", "sunday"}, cfg.Filters.Session.ExcludedDays)

	tf, htf, factor, err := cfg.Timeframes()
	require.NoError(t, err)
	assert.Equal(t, "1h", tf.Key)
	assert.Equal(t, "4h", htf.Key)
	assert.Equal(t, 4, factor)
}

func TestExplicitZeroIsKept(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", `
risk:
  max_total_exposure: 0
filters:
  spread:
    max_spread_pips: 0
  session:
    excluded_days: []
trading:
  instruments: [EUR_USD]
  run_immediately: false
`))
	require.NoError(t, err)
	assert.Zero(t, cfg.Risk.MaxTotalExposure)
	assert.Zero(t, cfg.Filters.Spread.MaxSpreadPips)
	assert.Empty(t, cfg.Filters.Session.ExcludedDays)
	assert.False(t, cfg.Trading.RunImmediately)
}

func TestIncludesMergeInOrder(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, "base.yaml", `
app:
  log_level: debug
trading:
  instruments: [GBP_USD]
  timeframe: 15m
  htf: 1h
`)
	path := writeFile(t, dir, "config.yaml", `
include: [base.yaml]
trading:
  instruments: [EUR_USD, BTCUSDT]
`)
	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "debug", cfg.App.LogLevel)
	assert.Equal(t, []string{"EUR/USD", "BTC/USDT"}, cfg.Trading.Instruments)
	assert.Equal(t, "15m", cfg.Trading.Timeframe)
	assert.Equal(t, path, cfg.Path())
}

func TestIncludeCycleIsRejected(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.yaml", "include: [b.yaml]\n")
	writeFile(t, dir, "b.yaml", "include: [a.yaml]\n")
	_, err := Load(filepath.Join(dir, "a.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include cycle")
}

func TestVariantYieldsToExplicitKeys(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", `
trading:
  instruments: [EUR_USD]
  variant: forex_mtf
strategy:
  oversold: 25
`))
	require.NoError(t, err)
	assert.InDelta(t, 25, cfg.Strategy.Oversold, 1e-9)
	assert.InDelta(t, 70, cfg.Strategy.Overbought, 1e-9)
	assert.Zero(t, cfg.Strategy.RelaxedLongK)
	assert.InDelta(t, 25, cfg.Indicators.StochRSI.Oversold, 1e-9)

	params, err := cfg.StrategyParams()
	require.NoError(t, err)
	assert.Equal(t, time.Hour, params.BarDuration)
	assert.Equal(t, 2, params.MinCandlesBetweenTrades)
}

func TestStrictVariantSpacing(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", `
trading:
  instruments: [EUR_USD]
  variant: strict
`))
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Trading.MinCandlesBetweenTrades)
	assert.Equal(t, 3, cfg.Strategy.MinCandlesBetweenTrades)
}

func TestValidationFailures(t *testing.T) {
	cases := map[string]string{
		"no instruments": "trading:\n  timeframe: 1h\n",
		"bad level":      minimal + "app:\n  log_level: loud\n",
		"bad broker":     "trading:\n  instruments: [EUR_USD]\n  broker: ftx\n",
		"bad variant":    "trading:\n  instruments: [EUR_USD]\n  variant: nope\n",
		"htf not higher": "trading:\n  instruments: [EUR_USD]\n  timeframe: 4h\n  htf: 1h\n",
		"bad risk":       minimal + "risk:\n  risk_per_trade: 2\n",
		"bad session":    minimal + "filters:\n  session:\n    sessions: [sydney_night]\n",
		"telegram":       minimal + "notify:\n  telegram:\n    enabled: true\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			clearCredentialEnv(t)
			_, err := Load(writeFile(t, t.TempDir(), "config.yaml", body))
			require.Error(t, err)
			assert.ErrorIs(t, err, ErrInvalid)
		})
	}
}

func TestCredentialsFromEnvFileAndEnvironment(t *testing.T) {
	clearCredentialEnv(t)
	dir := t.TempDir()
	writeFile(t, dir, ".env", "OANDA_ACCESS_TOKEN=file-token\nOANDA_ACCOUNT_ID=101-001\nTELEGRAM_BOT_TOKEN=bot\nTELEGRAM_CHAT_ID=42\n")
	t.Setenv(EnvOANDAAccountID, "env-account")

	cfg, err := Load(writeFile(t, dir, "config.yaml", minimal+"notify:\n  telegram:\n    enabled: true\n"))
	require.NoError(t, err)
	assert.Equal(t, "file-token", cfg.Credentials.OANDAAccessToken)
	assert.Equal(t, "env-account", cfg.Credentials.OANDAAccountID)
	assert.Equal(t, "bot", cfg.Notify.Telegram.BotToken)
	assert.Equal(t, "42", cfg.Notify.Telegram.ChatID)
	assert.NoError(t, cfg.RequireCredentials("live"))
}

func TestRequireCredentials(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", "trading:\n  instruments: [BTCUSDT]\n  broker: binance\n"))
	require.NoError(t, err)

	assert.NoError(t, cfg.RequireCredentials("paper"))
	err = cfg.RequireCredentials("live")
	require.ErrorIs(t, err, ErrMissingCredentials)
	assert.Contains(t, err.Error(), EnvBinanceAPIKey)

	cfg.Trading.Broker = BrokerOANDA
	assert.ErrorIs(t, cfg.RequireCredentials("backtest"), ErrMissingCredentials)
}

func TestRiskForInstrument(t *testing.T) {
	clearCredentialEnv(t)
	cfg, err := Load(writeFile(t, t.TempDir(), "config.yaml", minimal))
	require.NoError(t, err)

	assert.InDelta(t, 0.0001, cfg.RiskFor("EUR/USD").PipSize, 1e-12)
	assert.InDelta(t, 0.01, cfg.RiskFor("USD/JPY").PipSize, 1e-12)
	assert.InDelta(t, 0.001, cfg.RiskFor("BTC/USDT").LotStep, 1e-12)
	assert.InDelta(t, 1, cfg.RiskFor("EUR/USD").LotStep, 1e-12)
	assert.InDelta(t, 0.01, cfg.SpreadFilter("USD/JPY").PipSize, 1e-12)
}

func TestWatchAppliesReload(t *testing.T) {
	clearCredentialEnv(t)
	prev := logger.Level()
	t.Cleanup(func() { logger.SetLevel(prev) })

	dir := t.TempDir()
	path := writeFile(t, dir, "config.yaml", minimal)
	levels := make(chan string, 16)
	require.NoError(t, Watch(path, func(cfg *Config) {
		select {
		case levels <- cfg.App.LogLevel:
		default:
		}
	}))

	writeFile(t, dir, "config.yaml", minimal+"app:\n  log_level: error\n")
	deadline := time.After(5 * time.Second)
	for {
		select {
		case lvl := <-levels:
			if lvl == "error" {
				return
			}
		case <-deadline:
			t.Fatal("config change not observed")
		}
	}
}
