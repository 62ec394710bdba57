package oanda

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/tidwall/gjson"

	"mtfsignal/internal/market"
	symbolpkg "mtfsignal/internal/pkg/symbol"
)

// GetCandles returns the last count complete mid-price candles.
func (b *Broker) GetCandles(ctx context.Context, symbol string, tf market.Timeframe, count int) ([]market.Candle, error) {
	if count <= 0 {
		count = 100
	}
	if count > maxCandlesPerRequest-1 {
		count = maxCandlesPerRequest - 1
	}
	inst, err := instrument(symbol, tf)
	if err != nil {
		return nil, err
	}
	// one extra for the forming candle, which is filtered below
	res, err := b.do(ctx, "GET", "/v3/instruments/"+inst+"/candles", map[string]string{
		"granularity": tf.Granularity,
		"price":       "M",
		"count":       strconv.Itoa(count + 1),
	}, nil)
	if err != nil {
		return nil, err
	}
	out := parseCandles(res, tf)
	if len(out) > count {
		out = out[len(out)-count:]
	}
	return out, nil
}

// FetchRange returns complete candles whose open time lies in [start, end].
func (b *Broker) FetchRange(ctx context.Context, symbol string, tf market.Timeframe, start, end int64) ([]market.Candle, error) {
	if end < start {
		return nil, fmt.Errorf("invalid range: end before start")
	}
	inst, err := instrument(symbol, tf)
	if err != nil {
		return nil, err
	}
	var out []market.Candle
	step := tf.Millis()
	for cursor := start; cursor <= end; {
		res, err := b.do(ctx, "GET", "/v3/instruments/"+inst+"/candles", map[string]string{
			"granularity": tf.Granularity,
			"price":       "M",
			"from":        time.UnixMilli(cursor).UTC().Format(time.RFC3339),
			"count":       strconv.Itoa(maxCandlesPerRequest),
		}, nil)
		if err != nil {
			return nil, err
		}
		batch := parseCandles(res, tf)
		if len(batch) == 0 {
			break
		}
		for _, c := range batch {
			if c.OpenTime >= start && c.OpenTime <= end {
				out = append(out, c)
			}
		}
		next := batch[len(batch)-1].OpenTime + step
		if next <= cursor || len(batch) < maxCandlesPerRequest {
			break
		}
		cursor = next
	}
	return out, nil
}

func (b *Broker) GetCurrentPrice(ctx context.Context, symbol string) (market.Quote, error) {
	path, err := b.accountPath("/pricing")
	if err != nil {
		return market.Quote{}, err
	}
	inst := symbolpkg.OANDA.ToExchange(symbol)
	res, err := b.do(ctx, "GET", path, map[string]string{"instruments": inst}, nil)
	if err != nil {
		return market.Quote{}, err
	}
	price := res.Get("prices.0")
	if !price.Exists() {
		return market.Quote{}, fmt.Errorf("oanda pricing %s: no price returned", inst)
	}
	q := market.Quote{
		Symbol: symbol,
		Bid:    price.Get("bids.0.price").Float(),
		Ask:    price.Get("asks.0.price").Float(),
	}
	if ts, err := time.Parse(time.RFC3339Nano, price.Get("time").String()); err == nil {
		q.Time = ts.UnixMilli()
	}
	return q, nil
}

func instrument(symbol string, tf market.Timeframe) (string, error) {
	inst := symbolpkg.OANDA.ToExchange(symbol)
	if inst == "" {
		return "", fmt.Errorf("symbol is required")
	}
	if tf.IsZero() || tf.Granularity == "" {
		return "", fmt.Errorf("granularity is required")
	}
	return inst, nil
}

// parseCandles keeps complete candles only. OANDA volume is the tick count.
func parseCandles(res gjson.Result, tf market.Timeframe) []market.Candle {
	items := res.Get("candles").Array()
	out := make([]market.Candle, 0, len(items))
	for _, item := range items {
		if !item.Get("complete").Bool() {
			continue
		}
		ts, err := time.Parse(time.RFC3339Nano, item.Get("time").String())
		if err != nil {
			continue
		}
		open := ts.UnixMilli()
		mid := item.Get("mid")
		out = append(out, market.Candle{
			OpenTime:  open,
			CloseTime: open + tf.Millis() - 1,
			Open:      mid.Get("o").Float(),
			High:      mid.Get("h").Float(),
			Low:       mid.Get("l").Float(),
			Close:     mid.Get("c").Float(),
			Volume:    item.Get("volume").Float(),
			Trades:    item.Get("volume").Int(),
		})
	}
	return out
}
