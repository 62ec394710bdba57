package backtest

import (
	"time"

	"mtfsignal/internal/market"
)

const (
	ExitStopLoss       = "stop_loss"
	ExitTakeProfit     = "take_profit"
	ExitSignalReversal = "signal_reversal"
	ExitTrailingStop   = "trailing_stop"
	ExitTimeExit       = "time_exit"
	ExitManual         = "manual"
)

// State is the replay state machine position.
type State string

const (
	StateWaiting    State = "WAITING_FOR_SIGNAL"
	StateInPosition State = "IN_POSITION"
)

// RunConfig is the parameter snapshot of one replay, kept with the result so
// a run can be repeated.
type RunConfig struct {
	Symbol         string    `json:"symbol"`
	Timeframe      string    `json:"timeframe"`
	HTF            string    `json:"htf"`
	Start          time.Time `json:"start"`
	End            time.Time `json:"end"`
	InitialBalance float64   `json:"initial_balance"`
	Spread         float64   `json:"spread"`
	CommissionPct  float64   `json:"commission_pct"`
	Variant        string    `json:"variant,omitempty"`
}

// Trade is one closed round trip. RequestedEntry is the signal price;
// EntryPrice is the simulated fill after spread.
type Trade struct {
	ID             string      `json:"id"`
	Symbol         string      `json:"symbol"`
	Direction      market.Side `json:"direction"`
	Size           float64     `json:"size"`
	RequestedEntry float64     `json:"requested_entry"`
	EntryPrice     float64     `json:"entry_price"`
	ExitPrice      float64     `json:"exit_price"`
	StopLoss       float64     `json:"stop_loss"`
	TakeProfit     float64     `json:"take_profit"`
	EntryTime      time.Time   `json:"entry_time"`
	ExitTime       time.Time   `json:"exit_time"`
	EntryIndex     int         `json:"entry_index"`
	ExitIndex      int         `json:"exit_index"`
	Fees           float64     `json:"fees"`
	PnL            float64     `json:"pnl"`
	ExitReason     string      `json:"exit_reason"`
	Reasons        []string    `json:"reasons,omitempty"`
}

// BarsHeld counts bars from the entry bar to the exit bar.
func (t Trade) BarsHeld() int {
	return t.ExitIndex - t.EntryIndex
}

func (t Trade) Won() bool { return t.PnL > 0 }

// EquityPoint is the mark-to-market account value after one bar.
type EquityPoint struct {
	Time     time.Time `json:"time"`
	Equity   float64   `json:"equity"`
	Balance  float64   `json:"balance"`
	Drawdown float64   `json:"drawdown"`
	State    State     `json:"state"`
}

// Result is everything a replay produced.
type Result struct {
	RunID    string         `json:"run_id"`
	Config   RunConfig      `json:"config"`
	Trades   []Trade        `json:"trades"`
	Equity   []EquityPoint  `json:"equity"`
	Orders   []market.Order `json:"orders"`
	Stats    RunStats       `json:"stats"`
	Signals  int            `json:"signals"`
	Rejected map[string]int `json:"rejected"`
}
