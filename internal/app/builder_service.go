package app

import (
	"net/http"
	"strings"

	"mtfsignal/internal/config"
	"mtfsignal/internal/gateway/notifier"
	"mtfsignal/internal/live"
	statushttp "mtfsignal/internal/transport/http/status"
)

// newTelegram returns nil when alerts are disabled, so callers can skip
// notification entirely.
func newTelegram(cfg config.NotifyConfig) notifier.TextNotifier {
	if !cfg.Telegram.Enabled {
		return nil
	}
	tg := notifier.NewTelegram(cfg.Telegram.BotToken, cfg.Telegram.ChatID)
	if !tg.Enabled() {
		return nil
	}
	return tg
}

// buildStatusServer is skipped when app.http_addr is "off".
func buildStatusServer(cfg config.AppConfig, runner *live.Runner, metrics http.Handler) (*statushttp.Server, error) {
	if strings.EqualFold(strings.TrimSpace(cfg.HTTPAddr), "off") {
		return nil, nil
	}
	return statushttp.NewServer(statushttp.ServerConfig{
		Addr:    cfg.HTTPAddr,
		Runner:  runner,
		Metrics: metrics,
	})
}
