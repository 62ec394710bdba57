package risk

import (
	"math"

	"github.com/shopspring/decimal"

	"mtfsignal/internal/market"
)

const (
	StopInitial   = "initial"
	StopBreakeven = "breakeven"
	StopTrailing  = "trailing"
)

var (
	decOne     = decimal.NewFromInt(1)
	decimalEps = decimal.NewFromFloat(1e-8)
)

// StopUpdate describes a stop move made by Protect.
type StopUpdate struct {
	Moved bool
	Kind  string
	From  float64
	To    float64
}

// Protect advances the position's protective stop for a new favourable
// extreme (bar high for longs, bar low for shorts). Once profit reaches
// BreakevenTriggerPct the stop moves to entry plus BreakevenBufferATR*ATR;
// with TrailingPct set and the activation reached, the stop trails the peak
// by TrailingPct. Stops only ever tighten.
func (c Config) Protect(p *Position, extreme, atr float64) StopUpdate {
	if p == nil || p.Status != StatusOpen || extreme <= 0 {
		return StopUpdate{}
	}
	if shouldUpdateAnchor(p.Side, extreme, p.PeakPrice) {
		p.PeakPrice = extreme
	}
	upd := StopUpdate{From: p.StopLoss}

	if c.BreakevenTriggerPct > 0 && !p.BreakevenMoved &&
		activationHit(p.Side, p.PeakPrice, relativeTarget(p.EntryPrice, c.BreakevenTriggerPct, p.Side)) {
		buffer := 0.0
		if atr > 0 && !math.IsNaN(atr) {
			buffer = atr * c.BreakevenBufferATR
		}
		candidate := decToFloat(decFromFloat(p.EntryPrice).Add(decFromFloat(buffer * p.Side.Sign())))
		p.BreakevenMoved = true
		if shouldUpdateStop(p.Side, candidate, p.StopLoss) {
			p.StopLoss = candidate
			upd.Moved, upd.Kind = true, StopBreakeven
		}
	}

	if c.TrailingPct > 0 {
		if !p.TrailingActive {
			activation := p.EntryPrice
			if c.TrailingActivationPct > 0 {
				activation = relativeTarget(p.EntryPrice, c.TrailingActivationPct, p.Side)
			}
			p.TrailingActive = activationHit(p.Side, p.PeakPrice, activation)
		}
		if p.TrailingActive {
			candidate := trailingStopFor(p.Side, p.PeakPrice, c.TrailingPct)
			if shouldUpdateStop(p.Side, candidate, p.StopLoss) {
				p.StopLoss = candidate
				upd.Moved, upd.Kind = true, StopTrailing
			}
		}
	}
	upd.To = p.StopLoss
	if upd.Moved {
		p.StopKind = upd.Kind
	}
	return upd
}

// StopHit reports whether a bar spanning [low, high] touched the stop.
func StopHit(side market.Side, low, high, stop float64) bool {
	if side == market.SideShort {
		return priceBreachedStop(side, high, stop)
	}
	return priceBreachedStop(side, low, stop)
}

// TargetHit reports whether a bar spanning [low, high] reached the target.
func TargetHit(side market.Side, low, high, target float64) bool {
	if target <= 0 {
		return false
	}
	if side == market.SideShort {
		return decimalLTE(low, target)
	}
	return decimalGTE(high, target)
}

func decFromFloat(val float64) decimal.Decimal {
	if math.IsNaN(val) || math.IsInf(val, 0) {
		return decimal.Zero
	}
	return decimal.NewFromFloat(val)
}

func decToFloat(val decimal.Decimal) float64 {
	f, _ := val.Float64()
	return f
}

func decimalCompare(a, b float64) int {
	return decFromFloat(a).Cmp(decFromFloat(b))
}

func decimalLTE(a, b float64) bool { return decimalCompare(a, b) <= 0 }
func decimalGTE(a, b float64) bool { return decimalCompare(a, b) >= 0 }

func relativeTarget(entry, pct float64, side market.Side) float64 {
	if entry <= 0 {
		return 0
	}
	factor := decOne.Add(decFromFloat(pct))
	if side == market.SideShort {
		factor = decOne.Sub(decFromFloat(pct))
	}
	return decToFloat(decFromFloat(entry).Mul(factor))
}

func activationHit(side market.Side, price, activation float64) bool {
	if price <= 0 || activation <= 0 {
		return false
	}
	if side == market.SideShort {
		return decimalLTE(price, activation)
	}
	return decimalGTE(price, activation)
}

func shouldUpdateAnchor(side market.Side, price, anchor float64) bool {
	if price <= 0 {
		return false
	}
	if anchor <= 0 {
		return true
	}
	if side == market.SideShort {
		return decimalCompare(price, anchor) < 0
	}
	return decimalCompare(price, anchor) > 0
}

func trailingStopFor(side market.Side, anchor, pct float64) float64 {
	if anchor <= 0 || pct <= 0 {
		return 0
	}
	factor := decOne.Sub(decFromFloat(pct))
	if side == market.SideShort {
		factor = decOne.Add(decFromFloat(pct))
	}
	return decToFloat(decFromFloat(anchor).Mul(factor))
}

func shouldUpdateStop(side market.Side, candidate, current float64) bool {
	if candidate <= 0 {
		return false
	}
	if current <= 0 {
		return true
	}
	cand := decFromFloat(candidate)
	curr := decFromFloat(current)
	if side == market.SideShort {
		return cand.Cmp(curr.Sub(decimalEps)) < 0
	}
	return cand.Cmp(curr.Add(decimalEps)) > 0
}

func priceBreachedStop(side market.Side, price, stop float64) bool {
	if stop <= 0 || price <= 0 {
		return false
	}
	if side == market.SideShort {
		return decimalGTE(price, stop)
	}
	return decimalLTE(price, stop)
}
