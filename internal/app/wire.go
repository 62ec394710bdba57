//go:build wireinject

package app

import (
	"context"

	"github.com/google/wire"

	"mtfsignal/internal/config"
)

func buildAppWithWire(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	wire.Build(provideAppBuilder, provideAppFromBuilder)
	return nil, nil
}

func buildBacktestServiceWithWire(cfg *config.Config) *BacktestService {
	wire.Build(provideNotifier, NewBacktestService)
	return nil
}
