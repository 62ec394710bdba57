package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"
)

const (
	EnvBinanceAPIKey    = "BINANCE_API_KEY"
	EnvBinanceAPISecret = "BINANCE_API_SECRET"
	EnvOANDAAccessToken = "OANDA_ACCESS_TOKEN"
	EnvOANDAAccountID   = "OANDA_ACCOUNT_ID"
	EnvTelegramBotToken = "TELEGRAM_BOT_TOKEN"
	EnvTelegramChatID   = "TELEGRAM_CHAT_ID"
)

// loadCredentials reads the process environment, falling back to the dotenv
// file for variables that are unset or empty. A missing file is not an error.
// The process environment itself is never modified.
func loadCredentials(envFile string) (Credentials, error) {
	file := map[string]string{}
	if envFile != "" {
		vals, err := godotenv.Read(envFile)
		switch {
		case err == nil:
			file = vals
		case errors.Is(err, fs.ErrNotExist):
		default:
			return Credentials{}, fmt.Errorf("read env file %s: %w", envFile, err)
		}
	}
	get := func(key string) string {
		if v := strings.TrimSpace(os.Getenv(key)); v != "" {
			return v
		}
		return strings.TrimSpace(file[key])
	}
	return Credentials{
		BinanceAPIKey:    get(EnvBinanceAPIKey),
		BinanceAPISecret: get(EnvBinanceAPISecret),
		OANDAAccessToken: get(EnvOANDAAccessToken),
		OANDAAccountID:   get(EnvOANDAAccountID),
		TelegramBotToken: get(EnvTelegramBotToken),
		TelegramChatID:   get(EnvTelegramChatID),
	}, nil
}

// RequireCredentials checks the credentials the selected broker needs in
// mode. Live trading needs full account access; paper and backtest only need
// what the broker requires to serve candles and prices.
func (c *Config) RequireCredentials(mode string) error {
	var missing []string
	need := func(val, name string) {
		if strings.TrimSpace(val) == "" {
			missing = append(missing, name)
		}
	}
	live := strings.EqualFold(mode, "live")
	switch c.Trading.Broker {
	case BrokerBinance:
		if live {
			need(c.Credentials.BinanceAPIKey, EnvBinanceAPIKey)
			need(c.Credentials.BinanceAPISecret, EnvBinanceAPISecret)
		}
	case BrokerOANDA:
		need(c.Credentials.OANDAAccessToken, EnvOANDAAccessToken)
		if live {
			need(c.Credentials.OANDAAccountID, EnvOANDAAccountID)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w for %s %s mode: %s", ErrMissingCredentials, c.Trading.Broker, mode, strings.Join(missing, ", "))
	}
	return nil
}
