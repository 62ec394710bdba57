package backtest

import (
	"math"
	"time"
)

// RunStats summarises a replay. Ratios are fractions, not percentages.
type RunStats struct {
	InitialBalance float64        `json:"initial_balance"`
	FinalBalance   float64        `json:"final_balance"`
	Profit         float64        `json:"profit"`
	ReturnPct      float64        `json:"return_pct"`
	Trades         int            `json:"trades"`
	Wins           int            `json:"wins"`
	Losses         int            `json:"losses"`
	WinRate        float64        `json:"win_rate"`
	GrossProfit    float64        `json:"gross_profit"`
	GrossLoss      float64        `json:"gross_loss"`
	ProfitFactor   float64        `json:"profit_factor"`
	AvgWin         float64        `json:"avg_win"`
	AvgLoss        float64        `json:"avg_loss"`
	LargestWin     float64        `json:"largest_win"`
	LargestLoss    float64        `json:"largest_loss"`
	Expectancy     float64        `json:"expectancy"`
	AvgBarsHeld    float64        `json:"avg_bars_held"`
	MaxDrawdownPct float64        `json:"max_drawdown_pct"`
	Sharpe         float64        `json:"sharpe"`
	EquityPeak     float64        `json:"equity_peak"`
	EquityValley   float64        `json:"equity_valley"`
	ExitReasons    map[string]int `json:"exit_reasons"`
	FinishedAt     time.Time      `json:"finished_at"`
}

// ComputeStats derives the summary from the trade list and the per-bar
// equity curve. Profit factor is 0 when there are no losing trades.
func ComputeStats(trades []Trade, equity []EquityPoint, initial, barsPerYear float64) RunStats {
	st := RunStats{
		InitialBalance: initial,
		FinalBalance:   initial,
		Trades:         len(trades),
		ExitReasons:    make(map[string]int),
	}
	held := 0
	for _, t := range trades {
		st.Profit += t.PnL
		held += t.BarsHeld()
		st.ExitReasons[t.ExitReason]++
		switch {
		case t.PnL > 0:
			st.Wins++
			st.GrossProfit += t.PnL
			st.LargestWin = math.Max(st.LargestWin, t.PnL)
		case t.PnL < 0:
			st.Losses++
			st.GrossLoss += -t.PnL
			st.LargestLoss = math.Min(st.LargestLoss, t.PnL)
		}
	}
	st.FinalBalance = initial + st.Profit
	if initial > 0 {
		st.ReturnPct = st.Profit / initial
	}
	if st.Trades > 0 {
		st.WinRate = float64(st.Wins) / float64(st.Trades)
		st.Expectancy = st.Profit / float64(st.Trades)
		st.AvgBarsHeld = float64(held) / float64(st.Trades)
	}
	if st.Wins > 0 {
		st.AvgWin = st.GrossProfit / float64(st.Wins)
	}
	if st.Losses > 0 {
		st.AvgLoss = -st.GrossLoss / float64(st.Losses)
	}
	if st.GrossLoss > 0 {
		st.ProfitFactor = st.GrossProfit / st.GrossLoss
	}
	st.MaxDrawdownPct, st.EquityPeak, st.EquityValley = drawdownOf(equity, initial)
	st.Sharpe = sharpe(equity, barsPerYear)
	return st
}

func drawdownOf(equity []EquityPoint, initial float64) (maxDD, peak, valley float64) {
	peak, valley = initial, initial
	for _, p := range equity {
		if p.Equity > peak {
			peak = p.Equity
		}
		if p.Equity < valley {
			valley = p.Equity
		}
		if peak > 0 {
			if dd := (peak - p.Equity) / peak; dd > maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD, peak, valley
}

// sharpe annualises the mean/std of per-bar equity returns.
func sharpe(equity []EquityPoint, barsPerYear float64) float64 {
	if len(equity) < 3 {
		return 0
	}
	returns := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Equity
		if prev <= 0 {
			continue
		}
		returns = append(returns, equity[i].Equity/prev-1)
	}
	if len(returns) < 2 {
		return 0
	}
	mean := 0.0
	for _, r := range returns {
		mean += r
	}
	mean /= float64(len(returns))
	variance := 0.0
	for _, r := range returns {
		variance += (r - mean) * (r - mean)
	}
	std := math.Sqrt(variance / float64(len(returns)-1))
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	if barsPerYear <= 0 {
		barsPerYear = 252
	}
	return mean / std * math.Sqrt(barsPerYear)
}
