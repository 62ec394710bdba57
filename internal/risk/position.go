package risk

import (
	"time"

	"github.com/google/uuid"

	"mtfsignal/internal/market"
)

type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// Position is one open or closed trade. PeakPrice is the most favourable
// price seen since entry and drives the trailing stop.
type Position struct {
	ID         string         `json:"id"`
	Symbol     string         `json:"symbol"`
	Side       market.Side    `json:"side"`
	Size       float64        `json:"size"`
	EntryPrice float64        `json:"entry_price"`
	StopLoss   float64        `json:"stop_loss"`
	TakeProfit float64        `json:"take_profit"`
	OpenTime   time.Time      `json:"open_time"`
	Status     PositionStatus `json:"status"`
	RiskAmount float64        `json:"risk_amount"`

	PeakPrice      float64 `json:"peak_price"`
	StopKind       string  `json:"stop_kind"`
	BreakevenMoved bool    `json:"breakeven_moved"`
	TrailingActive bool    `json:"trailing_active"`

	ExitPrice  float64   `json:"exit_price,omitempty"`
	ExitTime   time.Time `json:"exit_time,omitempty"`
	ExitReason string    `json:"exit_reason,omitempty"`
	PnL        float64   `json:"pnl,omitempty"`
}

// NewPosition opens a position with a fresh id.
func NewPosition(symbol string, side market.Side, size, entry, stop, tp float64, at time.Time) *Position {
	return &Position{
		ID:         uuid.NewString(),
		Symbol:     symbol,
		Side:       side,
		Size:       size,
		EntryPrice: entry,
		StopLoss:   stop,
		TakeProfit: tp,
		OpenTime:   at,
		Status:     StatusOpen,
		RiskAmount: size * absf(entry-stop),
		PeakPrice:  entry,
		StopKind:   StopInitial,
	}
}

// UnrealizedPnL marks the position to price.
func (p *Position) UnrealizedPnL(price float64) float64 {
	return (price - p.EntryPrice) * p.Size * p.Side.Sign()
}

// Close realises the position at price. Fees are subtracted from PnL.
func (p *Position) Close(price float64, at time.Time, reason string, fees float64) float64 {
	p.ExitPrice = price
	p.ExitTime = at
	p.ExitReason = reason
	p.Status = StatusClosed
	p.PnL = p.UnrealizedPnL(price) - fees
	return p.PnL
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
