package strategy

import (
	"fmt"
	"strings"
	"time"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/market"
)

type Direction string

const (
	DirectionNone  Direction = "none"
	DirectionLong  Direction = "long"
	DirectionShort Direction = "short"
)

// Side maps an entry direction to an order side.
func (d Direction) Side() (market.Side, bool) {
	switch d {
	case DirectionLong:
		return market.SideLong, true
	case DirectionShort:
		return market.SideShort, true
	}
	return "", false
}

// Signal is the decision for one bar. Reasons lists the sub-conditions that
// passed, in evaluation order; Blocker names the first one that did not.
type Signal struct {
	Symbol     string    `json:"symbol"`
	Timestamp  time.Time `json:"timestamp"`
	Index      int       `json:"index"`
	Direction  Direction `json:"direction"`
	Strength   float64   `json:"strength"`
	EntryPrice float64   `json:"entry_price"`
	StopLoss   float64   `json:"stop_loss"`
	TakeProfit float64   `json:"take_profit"`
	ATR        float64   `json:"atr"`
	Reasons    []string  `json:"reasons"`
	Blocker    string    `json:"blocker,omitempty"`
}

func (s Signal) IsEntry() bool {
	return s.Direction == DirectionLong || s.Direction == DirectionShort
}

func (s Signal) String() string {
	if !s.IsEntry() {
		if s.Blocker != "" {
			return fmt.Sprintf("none (%s)", s.Blocker)
		}
		return "none"
	}
	return fmt.Sprintf("%s @%.5f sl=%.5f tp=%.5f strength=%.2f [%s]",
		s.Direction, s.EntryPrice, s.StopLoss, s.TakeProfit, s.Strength, strings.Join(s.Reasons, "; "))
}

// Bar is the aligned indicator state the generator sees for one
// lower-timeframe bar. Trend is the higher-timeframe Supertrend direction
// and is 0 while no higher bar has closed.
type Bar struct {
	Index    int
	Time     time.Time
	Close    float64
	High     float64
	Low      float64
	ATR      float64
	ATRValid bool
	Trend    int
	K        float64
	KValid   bool
	FVG      indicator.FVGBar
	VP       indicator.VPBar
}

// Exit is an exit-on-signal decision for an open position.
type Exit struct {
	Triggered bool
	Reasons   []string
}
