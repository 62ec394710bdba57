package market

import (
	"context"
	"time"
)

type Side string

const (
	SideLong  Side = "long"
	SideShort Side = "short"
)

func (s Side) Opposite() Side {
	if s == SideLong {
		return SideShort
	}
	return SideLong
}

// Sign is +1 for long and -1 for short.
func (s Side) Sign() float64 {
	if s == SideShort {
		return -1
	}
	return 1
}

// OrderRequest is a market order with an attached bracket. Price is the
// reference price the decision was made at; brokers fill at market.
type OrderRequest struct {
	ClientID   string  `json:"client_id"`
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	Price      float64 `json:"price"`
	StopLoss   float64 `json:"stop_loss,omitempty"`
	TakeProfit float64 `json:"take_profit,omitempty"`
	ReduceOnly bool    `json:"reduce_only,omitempty"`
}

type OrderResult struct {
	OrderID    string    `json:"order_id"`
	Symbol     string    `json:"symbol"`
	Side       Side      `json:"side"`
	Size       float64   `json:"size"`
	FillPrice  float64   `json:"fill_price"`
	Status     string    `json:"status"`
	ExecutedAt time.Time `json:"executed_at"`
}

type OpenPosition struct {
	Symbol     string  `json:"symbol"`
	Side       Side    `json:"side"`
	Size       float64 `json:"size"`
	EntryPrice float64 `json:"entry_price"`
}

type AccountSummary struct {
	Balance       float64        `json:"balance"`
	Equity        float64        `json:"equity"`
	OpenPositions []OpenPosition `json:"open_positions"`
}

// Order is one execution record, shared by the backtest and live runners.
type Order struct {
	RunID      string    `json:"run_id,omitempty"`
	Symbol     string    `json:"symbol"`
	Action     string    `json:"action"`
	Side       Side      `json:"side"`
	Price      float64   `json:"price"`
	Requested  float64   `json:"requested_price"`
	Quantity   float64   `json:"quantity"`
	Fee        float64   `json:"fee"`
	Timeframe  string    `json:"timeframe"`
	ExecutedAt time.Time `json:"executed_at"`
	TakeProfit float64   `json:"take_profit,omitempty"`
	StopLoss   float64   `json:"stop_loss,omitempty"`
	ExpectedRR float64   `json:"expected_rr,omitempty"`
	Reason     string    `json:"reason,omitempty"`
}

// Recorder persists execution records.
type Recorder interface {
	RecordOrder(ctx context.Context, order *Order) error
}
