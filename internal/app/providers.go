package app

import (
	"context"

	"mtfsignal/internal/config"
	"mtfsignal/internal/gateway/notifier"
)

func provideAppBuilder(cfg *config.Config, mode Mode) *AppBuilder {
	return NewAppBuilder(cfg, mode)
}

func provideAppFromBuilder(ctx context.Context, b *AppBuilder) (*App, error) {
	return b.Build(ctx)
}

func provideNotifier(cfg *config.Config) notifier.TextNotifier {
	return newTelegram(cfg.Notify)
}

// NewBacktest returns a backtest service for cfg with alerts wired in.
func NewBacktest(cfg *config.Config) *BacktestService {
	return buildBacktestServiceWithWire(cfg)
}
