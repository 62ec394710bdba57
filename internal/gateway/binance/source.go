package binance

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"strings"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
	symbolpkg "mtfsignal/internal/pkg/symbol"
	"mtfsignal/internal/scheduler"
)

const maxHistoryLimit = 1500

// Broker implements market.Broker over the go-binance futures client.
type Broker struct {
	cfg    Config
	client *futures.Client
}

func New(cfg Config) (*Broker, error) {
	final := cfg.withDefaults()
	client := futures.NewClient(strings.TrimSpace(final.APIKey), strings.TrimSpace(final.APISecret))
	client.BaseURL = final.RESTBaseURL
	httpClient := &http.Client{Timeout: final.HTTPTimeout}
	if final.ProxyEnabled && final.RESTProxyURL != "" {
		proxyURL, err := url.Parse(final.RESTProxyURL)
		if err != nil {
			return nil, fmt.Errorf("invalid REST proxy url: %w", err)
		}
		baseTransport, ok := http.DefaultTransport.(*http.Transport)
		if !ok || baseTransport == nil {
			return nil, fmt.Errorf("http DefaultTransport is not *http.Transport")
		}
		transport := baseTransport.Clone()
		transport.Proxy = http.ProxyURL(proxyURL)
		httpClient.Transport = transport
	}
	client.HTTPClient = httpClient
	return &Broker{cfg: final, client: client}, nil
}

func (b *Broker) Name() string { return "binance" }

// GetCandles returns up to count closed candles, oldest first. The forming
// candle Binance appends is dropped.
func (b *Broker) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	if count <= 0 {
		count = 100
	}
	limit := count + 1
	if limit > maxHistoryLimit {
		limit = maxHistoryLimit
	}
	sym, interval, err := b.request(symbol, tf)
	if err != nil {
		return nil, err
	}
	kls, err := b.client.NewKlinesService().Symbol(sym).Interval(interval).Limit(limit).Do(ctx)
	if err != nil {
		return nil, classify(fmt.Errorf("binance klines %s: %w", sym, err))
	}
	out := scheduler.DropUnclosed(convertKlines(kls), tf.Duration)
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

// FetchRange pages through [start, end] (unix ms) in maxHistoryLimit chunks.
func (b *Broker) FetchRange(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range: end before start")
	}
	sym, interval, err := b.request(symbol, tf)
	if err != nil {
		return nil, err
	}
	step := tf.Millis()
	var out []market.Candle
	for cursor := start; cursor <= end; {
		kls, err := b.client.NewKlinesService().Symbol(sym).Interval(interval).
			StartTime(cursor).EndTime(end).Limit(maxHistoryLimit).Do(ctx)
		if err != nil {
			return nil, classify(fmt.Errorf("binance klines %s: %w", sym, err))
		}
		batch := convertKlines(kls)
		if len(batch) == 0 {
			break
		}
		out = append(out, batch...)
		next := batch[len(batch)-1].OpenTime + step
		if next <= cursor || len(batch) < maxHistoryLimit {
			break
		}
		cursor = next
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	return out, nil
}

func (b *Broker) GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	sym := symbolpkg.Binance.ToExchange(symbol)
	if sym == "" {
		return market.Quote{}, fmt.Errorf("symbol is required")
	}
	tickers, err := b.client.NewListBookTickersService().Symbol(sym).Do(ctx)
	if err != nil {
		return market.Quote{}, classify(fmt.Errorf("binance book ticker %s: %w", sym, err))
	}
	for _, t := range tickers {
		if t == nil || !strings.EqualFold(t.Symbol, sym) {
			continue
		}
		return market.Quote{
			Symbol: symbol,
			Bid:    parseFloat(t.BidPrice),
			Ask:    parseFloat(t.AskPrice),
		}, nil
	}
	return market.Quote{}, fmt.Errorf("binance book ticker %s: no quote returned", sym)
}

func (b *Broker) request(symbol string, tf market.Timeframe) (string, string, error) {
	sym := symbolpkg.Binance.ToExchange(symbol)
	if sym == "" {
		return "", "", fmt.Errorf("symbol is required")
	}
	if tf.IsZero() || tf.SourceInterval == "" {
		return "", "", fmt.Errorf("interval is required")
	}
	return sym, tf.SourceInterval, nil
}

func convertKlines(kls []*futures.Kline) []market.Candle {
	out := make([]market.Candle, 0, len(kls))
	for _, kl := range kls {
		if kl == nil {
			continue
		}
		out = append(out, market.Candle{
			OpenTime:  kl.OpenTime,
			CloseTime: kl.CloseTime,
			Open:      parseFloat(kl.Open),
			High:      parseFloat(kl.High),
			Low:       parseFloat(kl.Low),
			Close:     parseFloat(kl.Close),
			Volume:    parseFloat(kl.Volume),
			Trades:    kl.TradeNum,
		})
	}
	return out
}

// classify marks exchange rejections as permanent; rate limiting (-1003) and
// transport failures stay retryable.
func classify(err error) error {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code != -1003 && apiErr.Code != -1001 {
		return retry.Permanent(err)
	}
	return err
}

func parseFloat(v string) float64 {
	f, _ := strconv.ParseFloat(strings.TrimSpace(v), 64)
	return f
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
