package market

import (
	"context"
	"errors"
)

var ErrNotSupported = errors.New("operation not supported by broker")

// Quote is the top of book for one instrument.
type Quote struct {
	Symbol string  `json:"symbol"`
	Bid    float64 `json:"bid"`
	Ask    float64 `json:"ask"`
	Time   int64   `json:"time"`
}

func (q Quote) Mid() float64 {
	return (q.Bid + q.Ask) / 2
}

func (q Quote) Spread() float64 {
	if q.Ask <= 0 || q.Bid <= 0 {
		return 0
	}
	return q.Ask - q.Bid
}

// CandleSource fetches the most recent count candles for a granularity key
// such as "1h" or "4h".
type CandleSource interface {
	Name() string
	GetCandles(ctx context.Context, symbol string, tf Timeframe, count int) ([]Candle, error)
}

// RangeSource can backfill an explicit time range (unix ms).
type RangeSource interface {
	FetchRange(ctx context.Context, symbol string, tf Timeframe, start, end int64) ([]Candle, error)
}

type PriceSource interface {
	GetCurrentPrice(ctx context.Context, symbol string) (Quote, error)
}

type OrderExecutor interface {
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
}

type AccountReader interface {
	GetAccountSummary(ctx context.Context) (AccountSummary, error)
}

// Broker bundles every capability a live runner needs.
type Broker interface {
	CandleSource
	PriceSource
	OrderExecutor
	AccountReader
}

// StopAmender is implemented by brokers that can move the protective stop of
// an open position in place.
type StopAmender interface {
	AmendStop(ctx context.Context, symbol string, side Side, stop float64) error
}
