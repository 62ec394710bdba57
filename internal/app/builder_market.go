package app

import (
	"context"
	"fmt"

	"mtfsignal/internal/config"
	"mtfsignal/internal/gateway/binance"
	"mtfsignal/internal/gateway/oanda"
	"mtfsignal/internal/gateway/paper"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
)

// buildExchange connects the configured broker. It serves candles in every
// mode and orders in live mode.
func buildExchange(cfg *config.Config) (market.Broker, error) {
	creds := cfg.Credentials
	switch cfg.Trading.Broker {
	case config.BrokerBinance:
		b, err := binance.New(binance.Config{
			APIKey:       creds.BinanceAPIKey,
			APISecret:    creds.BinanceAPISecret,
			RESTBaseURL:  cfg.Binance.RESTBaseURL,
			HTTPTimeout:  cfg.Binance.HTTPTimeout,
			QuoteAsset:   cfg.Binance.QuoteAsset,
			ProxyEnabled: cfg.Binance.ProxyEnabled,
			RESTProxyURL: cfg.Binance.RESTProxyURL,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	case config.BrokerOANDA:
		b, err := oanda.New(oanda.Config{
			AccessToken: creds.OANDAAccessToken,
			AccountID:   creds.OANDAAccountID,
			BaseURL:     cfg.OANDA.BaseURL,
			Practice:    cfg.OANDA.Practice,
			HTTPTimeout: cfg.OANDA.HTTPTimeout,
		})
		if err != nil {
			return nil, err
		}
		return b, nil
	}
	return nil, fmt.Errorf("unsupported broker %q", cfg.Trading.Broker)
}

// buildBroker returns the broker a runner trades through. Paper mode keeps
// the exchange as the candle and price feed and simulates the account,
// continuing from the persisted balance when there is one.
func buildBroker(cfg *config.Config, mode Mode, persistedBalance float64) (market.Broker, error) {
	if err := cfg.RequireCredentials(string(mode)); err != nil {
		return nil, err
	}
	exchange, err := buildExchange(cfg)
	if err != nil {
		return nil, err
	}
	if mode != ModePaper {
		return exchange, nil
	}
	balance := cfg.Paper.InitialBalance
	if persistedBalance > 0 {
		balance = persistedBalance
	}
	sim, err := paper.New(paper.Config{
		InitialBalance: balance,
		Spread:         cfg.Paper.Spread,
		CommissionPct:  cfg.Paper.CommissionPct,
	}, exchange, exchange)
	if err != nil {
		return nil, err
	}
	return sim, nil
}

// startingEquity seeds the drawdown breaker before the first cycle.
func startingEquity(ctx context.Context, broker market.AccountReader, fallback float64) float64 {
	summary, err := retry.Value(ctx, retry.DefaultPolicy(), "account summary", func(ctx context.Context) (market.AccountSummary, error) {
		return broker.GetAccountSummary(ctx)
	})
	if err != nil || summary.Balance <= 0 {
		if err != nil {
			logger.Warnf("[app] account summary unavailable, using %.2f: %v", fallback, err)
		}
		return fallback
	}
	return summary.Balance
}
