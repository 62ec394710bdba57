package notifier

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
	"mtfsignal/internal/risk"
)

func fastPolicy() retry.Policy {
	return retry.Policy{Attempts: 3, Min: time.Millisecond, Max: 2 * time.Millisecond, Factor: 2}
}

func TestTelegramRetriesServerErrors(t *testing.T) {
	var calls atomic.Int32
	var got map[string]any
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.Retry = fastPolicy()
	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(3), calls.Load())
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "Markdown", got["parse_mode"])
}

func TestTelegramClientErrorIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	tg := NewTelegram("TOKEN", "42")
	tg.BaseURL = srv.URL
	tg.Retry = fastPolicy()
	assert.Error(t, tg.SendText("hello"))
	assert.Equal(t, int32(1), calls.Load())
}

func TestTelegramRequiresConfig(t *testing.T) {
	tg := NewTelegram("", "")
	assert.False(t, tg.Enabled())
	assert.Error(t, tg.SendText("x"))
}

func TestMessages(t *testing.T) {
	at := time.Date(2024, 1, 8, 10, 0, 0, 0, time.UTC)
	p := risk.NewPosition("EUR_USD", market.SideLong, 10000, 1.1, 1.098, 1.104, at)
	open := PositionOpened(p, []string{"htf trend up", "stochrsi oversold bounce"}).RenderMarkdown()
	assert.Contains(t, open, "EUR_USD LONG opened")
	assert.Contains(t, open, "- entry : 1.10000")
	assert.Contains(t, open, "stochrsi oversold bounce")
	assert.Contains(t, open, "time: 2024-01-08 10:00:00 UTC")

	p.Close(1.104, at.Add(time.Hour), "take_profit", 0)
	closed := PositionClosed(p, 10040).RenderMarkdown()
	assert.Contains(t, closed, "(take_profit)")
	assert.Contains(t, closed, "balance: 10040.00")

	trip := BreakerChanged("account", risk.BreakerClosed, risk.BreakerOpen, 0.11, at).RenderMarkdown()
	assert.Contains(t, trip, "11.00%")
	assert.True(t, strings.Contains(trip, "blocked"))
}

func TestRenderTruncates(t *testing.T) {
	msg := StructuredMessage{Title: "x", Sections: []MessageSection{{Lines: []string{strings.Repeat("a", 5000)}}}}
	assert.LessOrEqual(t, len(msg.RenderMarkdown()), maxStructuredMessageLen+3)
}
