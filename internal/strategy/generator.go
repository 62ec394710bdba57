package strategy

import (
	"errors"
	"fmt"
	"time"

	"mtfsignal/internal/logger"
)

// ErrStaleBar is returned when a bar is not newer than the last evaluated one.
var ErrStaleBar = errors.New("bar is not newer than the last evaluated bar")

// Params drive entry and exit decisions. A zero RelaxedLongK/RelaxedShortK
// restricts momentum to the edge cross; a zero ExitLongK/ExitShortK disables
// that extreme-momentum exit.
type Params struct {
	Oversold                float64       `toml:"oversold" json:"oversold"`
	Overbought              float64       `toml:"overbought" json:"overbought"`
	RelaxedLongK            float64       `toml:"relaxed_long_k" json:"relaxed_long_k"`
	RelaxedShortK           float64       `toml:"relaxed_short_k" json:"relaxed_short_k"`
	MinCandlesBetweenTrades int           `toml:"min_candles_between_trades" json:"min_candles_between_trades"`
	StopLossATRMult         float64       `toml:"stop_loss_atr_mult" json:"stop_loss_atr_mult"`
	TakeProfitATRMult       float64       `toml:"take_profit_atr_mult" json:"take_profit_atr_mult"`
	ExitLongK               float64       `toml:"exit_long_k" json:"exit_long_k"`
	ExitShortK              float64       `toml:"exit_short_k" json:"exit_short_k"`
	BarDuration             time.Duration `toml:"-" json:"-"`
	Session                 SessionFilter `toml:"-" json:"-"`
}

func DefaultParams() Params {
	return Params{
		Oversold:                20,
		Overbought:              80,
		RelaxedLongK:            60,
		RelaxedShortK:           40,
		MinCandlesBetweenTrades: 2,
		StopLossATRMult:         2,
		TakeProfitATRMult:       4,
		ExitLongK:               90,
		ExitShortK:              10,
	}
}

func (p Params) Validate() error {
	switch {
	case p.Oversold < 0 || p.Overbought > 100 || p.Oversold >= p.Overbought:
		return fmt.Errorf("oversold/overbought must satisfy 0 <= oversold < overbought <= 100")
	case p.RelaxedLongK < 0 || p.RelaxedLongK > 100 || p.RelaxedShortK < 0 || p.RelaxedShortK > 100:
		return fmt.Errorf("relaxed k thresholds must be within [0,100]")
	case p.MinCandlesBetweenTrades < 0:
		return fmt.Errorf("min_candles_between_trades must be >= 0")
	case p.StopLossATRMult <= 0 || p.TakeProfitATRMult <= 0:
		return fmt.Errorf("stop/take profit atr multipliers must be > 0")
	}
	return nil
}

// Generator evaluates one symbol's bars in strictly increasing time order.
// It keeps the previous bar's %K for edge detection and the time of the last
// emitted entry for the trade spacing rule. A Generator is not safe for
// concurrent use; run one per symbol.
type Generator struct {
	symbol string
	p      Params

	evaluated  bool
	lastTime   time.Time
	lastIndex  int
	prevK      float64
	prevKValid bool

	signalled       bool
	lastSignalTime  time.Time
	lastSignalIndex int
}

func NewGenerator(symbol string, p Params) *Generator {
	return &Generator{symbol: symbol, p: p}
}

func (g *Generator) Symbol() string { return g.symbol }

func (g *Generator) Params() Params { return g.p }

// Reset forgets all carried state.
func (g *Generator) Reset() {
	*g = Generator{symbol: g.symbol, p: g.p}
}

// Evaluate decides the entry for bar. The carried %K always advances, even
// when the bar is filtered out, so a cross is never reported twice.
func (g *Generator) Evaluate(bar Bar) (Signal, error) {
	if g.evaluated && !bar.Time.After(g.lastTime) {
		return Signal{}, fmt.Errorf("%s at %s: %w", g.symbol, bar.Time.Format(time.RFC3339), ErrStaleBar)
	}
	prevK, prevValid := g.prevK, g.prevKValid
	g.evaluated = true
	g.lastTime, g.lastIndex = bar.Time, bar.Index
	g.prevK, g.prevKValid = bar.K, bar.KValid

	sig := g.decide(bar, prevK, prevValid)
	if sig.IsEntry() {
		g.signalled = true
		g.lastSignalTime, g.lastSignalIndex = bar.Time, bar.Index
		logger.Debugf("[signal] %s %s %s", g.symbol, bar.Time.Format(time.RFC3339), sig)
	}
	return sig, nil
}

func (g *Generator) decide(bar Bar, prevK float64, prevValid bool) Signal {
	sig := Signal{Symbol: g.symbol, Timestamp: bar.Time, Index: bar.Index, Direction: DirectionNone, EntryPrice: bar.Close}
	if g.signalled && g.barsSinceSignal(bar) < g.p.MinCandlesBetweenTrades {
		sig.Blocker = "too soon after previous signal"
		return sig
	}
	if bar.Trend == 0 {
		sig.Blocker = "higher timeframe trend unavailable"
		return sig
	}
	if !bar.KValid {
		sig.Blocker = "stochrsi undefined"
		return sig
	}
	if !bar.ATRValid || bar.ATR <= 0 {
		sig.Blocker = "atr undefined"
		return sig
	}
	if !g.p.Session.Allows(bar.Time) {
		sig.Blocker = "outside trading session"
		return sig
	}
	if bar.Trend > 0 {
		return g.long(sig, bar, prevK, prevValid)
	}
	return g.short(sig, bar, prevK, prevValid)
}

func (g *Generator) long(sig Signal, bar Bar, prevK float64, prevValid bool) Signal {
	sig.Reasons = append(sig.Reasons, "HTF Supertrend uptrend")
	crossUp := prevValid && prevK <= g.p.Oversold && bar.K > g.p.Oversold
	relaxed := g.p.RelaxedLongK > 0 && bar.K < g.p.RelaxedLongK && bar.K > g.p.Oversold
	switch {
	case crossUp:
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("StochRSI crossed above %.0f (%.1f)", g.p.Oversold, bar.K))
	case relaxed:
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("StochRSI recovering (%.1f < %.0f)", bar.K, g.p.RelaxedLongK))
	default:
		sig.Blocker = "no bullish momentum"
		return sig
	}
	if bar.VP.InLVN {
		sig.Blocker = "price inside LVN"
		return sig
	}
	strength := 0.5
	confluence := false
	if bar.FVG.InBullish || bar.FVG.BullishBounce {
		sig.Reasons = append(sig.Reasons, "Bullish FVG confluence")
		strength += 0.25
		confluence = true
	}
	if bar.VP.NearPOC || bar.VP.NearVAL {
		sig.Reasons = append(sig.Reasons, "Near VP support")
		strength += 0.25
		confluence = true
	}
	if !confluence {
		sig.Blocker = "no bullish confluence"
		return sig
	}
	sig.Direction = DirectionLong
	sig.Strength = min(strength, 1)
	sig.ATR = bar.ATR
	sig.StopLoss = bar.Close - bar.ATR*g.p.StopLossATRMult
	sig.TakeProfit = bar.Close + bar.ATR*g.p.TakeProfitATRMult
	return sig
}

func (g *Generator) short(sig Signal, bar Bar, prevK float64, prevValid bool) Signal {
	sig.Reasons = append(sig.Reasons, "HTF Supertrend downtrend")
	crossDown := prevValid && prevK >= g.p.Overbought && bar.K < g.p.Overbought
	relaxed := g.p.RelaxedShortK > 0 && bar.K > g.p.RelaxedShortK && bar.K < g.p.Overbought
	switch {
	case crossDown:
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("StochRSI crossed below %.0f (%.1f)", g.p.Overbought, bar.K))
	case relaxed:
		sig.Reasons = append(sig.Reasons, fmt.Sprintf("StochRSI fading (%.1f > %.0f)", bar.K, g.p.RelaxedShortK))
	default:
		sig.Blocker = "no bearish momentum"
		return sig
	}
	if bar.VP.InLVN {
		sig.Blocker = "price inside LVN"
		return sig
	}
	strength := 0.5
	confluence := false
	if bar.FVG.InBearish || bar.FVG.BearishBounce {
		sig.Reasons = append(sig.Reasons, "Bearish FVG confluence")
		strength += 0.25
		confluence = true
	}
	if bar.VP.NearPOC || bar.VP.NearVAH {
		sig.Reasons = append(sig.Reasons, "Near VP resistance")
		strength += 0.25
		confluence = true
	}
	if !confluence {
		sig.Blocker = "no bearish confluence"
		return sig
	}
	sig.Direction = DirectionShort
	sig.Strength = min(strength, 1)
	sig.ATR = bar.ATR
	sig.StopLoss = bar.Close + bar.ATR*g.p.StopLossATRMult
	sig.TakeProfit = bar.Close - bar.ATR*g.p.TakeProfitATRMult
	return sig
}

func (g *Generator) barsSinceSignal(bar Bar) int {
	if g.p.BarDuration > 0 {
		return int(bar.Time.Sub(g.lastSignalTime) / g.p.BarDuration)
	}
	return bar.Index - g.lastSignalIndex
}

// CheckExit reports whether an open position should be closed on signal:
// the higher timeframe turned against it, or %K reached the extreme on the
// position's side. An unavailable trend never triggers a reversal exit.
func (g *Generator) CheckExit(bar Bar, dir Direction) Exit {
	var out Exit
	switch dir {
	case DirectionLong:
		if bar.Trend < 0 {
			out.Reasons = append(out.Reasons, "Supertrend reversal")
		}
		if g.p.ExitLongK > 0 && bar.KValid && bar.K > g.p.ExitLongK {
			out.Reasons = append(out.Reasons, "StochRSI extreme overbought")
		}
	case DirectionShort:
		if bar.Trend > 0 {
			out.Reasons = append(out.Reasons, "Supertrend reversal")
		}
		if g.p.ExitShortK > 0 && bar.KValid && bar.K < g.p.ExitShortK {
			out.Reasons = append(out.Reasons, "StochRSI extreme oversold")
		}
	}
	out.Triggered = len(out.Reasons) > 0
	return out
}

// Snapshot is the carried generator state, persisted by live runners.
type Snapshot struct {
	LastTime       time.Time `json:"last_time"`
	PrevK          *float64  `json:"prev_k,omitempty"`
	LastSignalTime time.Time `json:"last_signal_time,omitempty"`
}

func (g *Generator) Snapshot() Snapshot {
	s := Snapshot{LastTime: g.lastTime}
	if g.prevKValid {
		k := g.prevK
		s.PrevK = &k
	}
	if g.signalled {
		s.LastSignalTime = g.lastSignalTime
	}
	return s
}

// Restore loads a snapshot taken by Snapshot. Index-based spacing is not
// restored, so set Params.BarDuration for runners that restart.
func (g *Generator) Restore(s Snapshot) {
	g.Reset()
	if s.LastTime.IsZero() {
		return
	}
	g.evaluated = true
	g.lastTime = s.LastTime
	if s.PrevK != nil {
		g.prevK, g.prevKValid = *s.PrevK, true
	}
	if !s.LastSignalTime.IsZero() {
		g.signalled = true
		g.lastSignalTime = s.LastSignalTime
	}
}
