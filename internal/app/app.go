// Package app wires configuration into runnable services: the live or paper
// runner with its status server, and one-shot backtests.
package app

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"mtfsignal/internal/config"
	"mtfsignal/internal/live"
	"mtfsignal/internal/logger"
	statushttp "mtfsignal/internal/transport/http/status"
)

type Mode string

const (
	ModeBacktest Mode = "backtest"
	ModePaper    Mode = "paper"
	ModeLive     Mode = "live"
)

func ParseMode(raw string) (Mode, error) {
	switch m := Mode(raw); m {
	case ModeBacktest, ModePaper, ModeLive:
		return m, nil
	}
	return "", fmt.Errorf("unknown mode %q", raw)
}

// App runs the live or paper runner next to the status server.
type App struct {
	cfg     *config.Config
	mode    Mode
	runner  *live.Runner
	status  *statushttp.Server
	Summary *StartupSummary
}

// NewApp builds the application without starting it.
func NewApp(ctx context.Context, cfg *config.Config, mode Mode) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)
	return buildAppWithWire(ctx, cfg, mode)
}

// Run blocks until ctx is cancelled or a service fails. The runner finishes
// its in-flight cycles before Run returns.
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.runner == nil {
		return fmt.Errorf("app not initialized")
	}
	if a.Summary != nil {
		a.Summary.Print()
	}
	if path := a.cfg.Path(); path != "" {
		if err := config.Watch(path, config.ApplyLogLevel); err != nil {
			logger.Warnf("[app] config watch disabled: %v", err)
		}
	}

	group, gctx := errgroup.WithContext(ctx)
	if a.status != nil {
		group.Go(func() error {
			if err := a.status.Start(gctx); err != nil {
				return fmt.Errorf("status server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		return a.runner.Run(gctx)
	})
	return group.Wait()
}

// Runner exposes the runner for harnesses and tests.
func (a *App) Runner() *live.Runner {
	if a == nil {
		return nil
	}
	return a.runner
}

func (a *App) Mode() Mode { return a.mode }
