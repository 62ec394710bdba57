package risk

import (
	"fmt"
	"math"

	"mtfsignal/internal/analysis/indicator"
	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
)

// StopInput is what a stop method may look at. Recent holds the bars up to
// and including the entry bar; FVG is optional.
type StopInput struct {
	Entry  float64
	Side   market.Side
	ATR    float64
	Recent []market.Candle
	FVG    *indicator.FVGResult
}

type Levels struct {
	StopLoss   float64    `json:"stop_loss"`
	TakeProfit float64    `json:"take_profit"`
	Method     StopMethod `json:"method"`
}

// Distance is the absolute entry-to-stop distance.
func (l Levels) Distance(entry float64) float64 {
	return math.Abs(entry - l.StopLoss)
}

// StopLoss places the stop with the configured method, then clamps its
// distance to [MinStopPips, MaxStopPips]. The ATR method takes profit at
// TakeProfitATRMult*ATR; the others and any clamped stop use
// RiskRewardRatio times the stop distance. Structure and FVG stops fall back
// to ATR when no level is usable.
func (c Config) StopLoss(in StopInput) (Levels, error) {
	if in.Entry <= 0 {
		return Levels{}, ErrInvalidBalance
	}
	if in.Side != market.SideLong && in.Side != market.SideShort {
		return Levels{}, fmt.Errorf("unknown side %q", in.Side)
	}
	method := c.StopMethod
	if method == "" {
		method = StopATR
	}
	var (
		dist float64
		ok   bool
	)
	switch method {
	case StopATR:
		dist, ok = c.atrDistance(in)
	case StopPercent:
		dist, ok = in.Entry*c.StopPct, c.StopPct > 0
	case StopStructure:
		dist, ok = c.structureDistance(in)
	case StopFVG:
		dist, ok = c.fvgDistance(in)
	default:
		return Levels{}, fmt.Errorf("unknown stop method %q", method)
	}
	if !ok && method != StopATR {
		logger.Debugf("[risk] %s stop unavailable, falling back to atr", method)
		method = StopATR
		dist, ok = c.atrDistance(in)
	}
	if !ok || dist <= 0 {
		return Levels{}, ErrDegenerateStop
	}
	clamped := c.clamp(dist)
	if method == StopStructure && c.MaxStopPips > 0 && dist > c.MaxStopPips*c.PipSize {
		if atrDist, atrOK := c.atrDistance(in); atrOK {
			method, dist, clamped = StopATR, atrDist, c.clamp(atrDist)
		}
	}
	reward := clamped * c.RiskRewardRatio
	if method == StopATR && clamped == dist {
		reward = in.ATR * c.TakeProfitATRMult
	}
	sign := in.Side.Sign()
	return Levels{
		StopLoss:   in.Entry - sign*clamped,
		TakeProfit: in.Entry + sign*reward,
		Method:     method,
	}, nil
}

func (c Config) atrDistance(in StopInput) (float64, bool) {
	if in.ATR <= 0 || math.IsNaN(in.ATR) {
		return 0, false
	}
	return in.ATR * c.StopLossATRMult, true
}

func (c Config) structureDistance(in StopInput) (float64, bool) {
	lookback := c.StructureLookback
	if lookback <= 0 || len(in.Recent) == 0 {
		return 0, false
	}
	window := in.Recent
	if len(window) > lookback {
		window = window[len(window)-lookback:]
	}
	buffer := c.StopBufferPips * c.PipSize
	if in.Side == market.SideLong {
		low := math.Inf(1)
		for _, k := range window {
			low = math.Min(low, k.Low)
		}
		stop := low - buffer
		return in.Entry - stop, stop < in.Entry
	}
	high := math.Inf(-1)
	for _, k := range window {
		high = math.Max(high, k.High)
	}
	stop := high + buffer
	return stop - in.Entry, stop > in.Entry
}

func (c Config) fvgDistance(in StopInput) (float64, bool) {
	if in.FVG == nil {
		return 0, false
	}
	buffer := c.StopBufferPips * c.PipSize
	if in.Side == market.SideLong {
		edge, ok := in.FVG.NearestEdge(indicator.ZoneBullish, in.Entry)
		if !ok {
			return 0, false
		}
		return in.Entry - (edge - buffer), true
	}
	edge, ok := in.FVG.NearestEdge(indicator.ZoneBearish, in.Entry)
	if !ok {
		return 0, false
	}
	return edge + buffer - in.Entry, true
}

func (c Config) clamp(dist float64) float64 {
	if c.MinStopPips > 0 {
		dist = math.Max(dist, c.MinStopPips*c.PipSize)
	}
	if c.MaxStopPips > 0 {
		dist = math.Min(dist, c.MaxStopPips*c.PipSize)
	}
	return dist
}
