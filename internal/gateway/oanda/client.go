// Package oanda talks to the OANDA v20 REST API.
package oanda

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/tidwall/gjson"

	"mtfsignal/internal/pkg/retry"
)

const (
	PracticeURL = "https://api-fxpractice.oanda.com"
	LiveURL     = "https://api-fxtrade.oanda.com"

	maxCandlesPerRequest = 5000
)

type Config struct {
	AccessToken string
	AccountID   string
	BaseURL     string
	Practice    bool
	HTTPTimeout time.Duration
}

func (c *Config) withDefaults() Config {
	out := *c
	out.AccessToken = strings.TrimSpace(out.AccessToken)
	out.AccountID = strings.TrimSpace(out.AccountID)
	out.BaseURL = strings.TrimRight(strings.TrimSpace(out.BaseURL), "/")
	if out.BaseURL == "" {
		out.BaseURL = LiveURL
		if out.Practice {
			out.BaseURL = PracticeURL
		}
	}
	if out.HTTPTimeout <= 0 {
		out.HTTPTimeout = 15 * time.Second
	}
	return out
}

// Broker implements market.Broker for one OANDA account.
type Broker struct {
	cfg  Config
	http *http.Client
}

func New(cfg Config) (*Broker, error) {
	final := cfg.withDefaults()
	if final.AccessToken == "" {
		return nil, fmt.Errorf("oanda: access token is required")
	}
	return &Broker{cfg: final, http: &http.Client{Timeout: final.HTTPTimeout}}, nil
}

func (b *Broker) Name() string { return "oanda" }

// do sends one request and returns the parsed body. 4xx responses other than
// 429 are permanent; 5xx, 429 and transport failures are retryable.
func (b *Broker) do(ctx context.Context, method, path string, query map[string]string, body any) (gjson.Result, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return gjson.Result{}, retry.Permanent(fmt.Errorf("oanda: encode body: %w", err))
		}
		reader = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, b.cfg.BaseURL+path, reader)
	if err != nil {
		return gjson.Result{}, retry.Permanent(err)
	}
	if len(query) > 0 {
		q := req.URL.Query()
		for k, v := range query {
			q.Set(k, v)
		}
		req.URL.RawQuery = q.Encode()
	}
	req.Header.Set("Authorization", "Bearer "+b.cfg.AccessToken)
	req.Header.Set("Accept-Datetime-Format", "RFC3339")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := b.http.Do(req)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("oanda %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return gjson.Result{}, fmt.Errorf("oanda %s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode >= http.StatusBadRequest {
		msg := gjson.GetBytes(data, "errorMessage").String()
		if msg == "" {
			msg = strings.TrimSpace(string(data))
		}
		err := fmt.Errorf("oanda %s %s: status %d: %s", method, path, resp.StatusCode, msg)
		if resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
			return gjson.Result{}, retry.Permanent(err)
		}
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("oanda %s %s: invalid json", method, path)
	}
	return gjson.ParseBytes(data), nil
}

func (b *Broker) accountPath(suffix string) (string, error) {
	if b.cfg.AccountID == "" {
		return "", retry.Permanent(fmt.Errorf("oanda: account id is required"))
	}
	return "/v3/accounts/" + b.cfg.AccountID + suffix, nil
}
