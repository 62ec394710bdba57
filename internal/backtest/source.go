package backtest

import (
	"context"
	"fmt"
	"sort"
	"time"

	"golang.org/x/time/rate"

	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
	"mtfsignal/internal/pkg/retry"
)

// Loader backfills a time range from a broker page by page. Requests are
// throttled and each page is retried on transient errors.
type Loader struct {
	source   market.RangeSource
	name     string
	limiter  *rate.Limiter
	policy   retry.Policy
	maxBatch int
}

type LoaderConfig struct {
	RatePerSec float64
	MaxBatch   int
	Retry      retry.Policy
}

func NewLoader(name string, source market.RangeSource, cfg LoaderConfig) (*Loader, error) {
	if source == nil {
		return nil, fmt.Errorf("range source is required")
	}
	if cfg.RatePerSec <= 0 {
		cfg.RatePerSec = 5
	}
	if cfg.MaxBatch <= 0 {
		cfg.MaxBatch = 500
	}
	if cfg.Retry.Attempts <= 0 {
		cfg.Retry = retry.DefaultPolicy()
	}
	return &Loader{
		source:   source,
		name:     name,
		limiter:  rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1),
		policy:   cfg.Retry,
		maxBatch: cfg.MaxBatch,
	}, nil
}

// Load returns the candles whose open time lies in [start, end], sorted and
// de-duplicated.
func (l *Loader) Load(ctx context.Context, symbol string, tf market.Timeframe, start, end time.Time) (market.Candles, error) {
	if tf.IsZero() {
		return nil, fmt.Errorf("load data: timeframe required")
	}
	if !end.After(start) {
		return nil, fmt.Errorf("load data: end %s not after start %s", end, start)
	}
	step := tf.Millis()
	from, to := tf.AlignRange(start.UnixMilli(), end.UnixMilli())
	byOpen := make(map[int64]market.Candle)
	cursor := from
	for cursor <= to {
		if err := l.limiter.Wait(ctx); err != nil {
			return nil, err
		}
		pageEnd := cursor + int64(l.maxBatch-1)*step
		if pageEnd > to {
			pageEnd = to
		}
		data, err := retry.Value(ctx, l.policy, l.name+" candles", func(ctx context.Context) ([]market.Candle, error) {
			return l.source.FetchRange(ctx, symbol, tf, cursor, pageEnd)
		})
		if err != nil {
			return nil, fmt.Errorf("load data: %s %s [%d,%d]: %w", symbol, tf, cursor, pageEnd, err)
		}
		if len(data) == 0 {
			logger.Warnf("[backtest] %s returned no candles for %s %s [%d,%d]", l.name, symbol, tf, cursor, pageEnd)
			cursor = pageEnd + step
			continue
		}
		last := cursor
		for _, c := range data {
			if c.OpenTime < from || c.OpenTime > to {
				continue
			}
			byOpen[c.OpenTime] = c
			if c.OpenTime > last {
				last = c.OpenTime
			}
		}
		next := last + step
		if next <= cursor {
			next = pageEnd + step
		}
		cursor = next
	}
	out := make(market.Candles, 0, len(byOpen))
	for _, c := range byOpen {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime < out[j].OpenTime })
	logger.Infof("[backtest] loaded %d %s %s candles from %s", len(out), symbol, tf, l.name)
	return out, nil
}
