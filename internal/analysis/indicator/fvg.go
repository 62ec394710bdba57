package indicator

import (
	"mtfsignal/internal/market"
)

type ZoneKind string

const (
	ZoneBullish ZoneKind = "bullish"
	ZoneBearish ZoneKind = "bearish"
)

type FVGSettings struct {
	MinGapATRMult float64 `toml:"min_gap_atr_mult" json:"min_gap_atr_mult"`
	MaxZones      int     `toml:"max_zones" json:"max_zones"`
}

// Zone is a three-bar imbalance. Low/High bound the gap; CreatedAt is the
// open time of the third bar.
type Zone struct {
	Kind        ZoneKind `json:"kind"`
	Low         float64  `json:"low"`
	High        float64  `json:"high"`
	CreatedAt   int64    `json:"created_at"`
	Index       int      `json:"index"`
	Mitigated   bool     `json:"mitigated"`
	MitigatedAt int64    `json:"mitigated_at,omitempty"`
}

// FVGBar is the interaction of bar i with zones that existed before it.
type FVGBar struct {
	InBullish     bool
	BullishBounce bool
	InBearish     bool
	BearishBounce bool
	Active        int
}

type FVGResult struct {
	Bars []FVGBar
	// Active holds the unmitigated zones still retained after the last bar,
	// oldest first.
	Active []Zone
	// Mitigated lists zones in the order they were mitigated.
	Mitigated []Zone
}

// DetectFVG scans bars in order. For each bar it first evaluates the zones
// that existed before it, then mitigates zones the close went through, then
// records a new gap formed by bars i-2..i if it is at least
// MinGapATRMult*ATR wide. Only the MaxZones newest unmitigated zones are
// kept. A bar without a valid ATR yet cannot create a zone.
func DetectFVG(candles []market.Candle, atr []float64, s FVGSettings) FVGResult {
	res := FVGResult{Bars: make([]FVGBar, len(candles))}
	maxZones := s.MaxZones
	if maxZones <= 0 {
		maxZones = 20
	}
	var active []Zone
	for i, c := range candles {
		res.Bars[i] = interact(c, active)

		kept := active[:0]
		for _, z := range active {
			if mitigatedBy(z, c.Close) {
				z.Mitigated = true
				z.MitigatedAt = c.OpenTime
				res.Mitigated = append(res.Mitigated, z)
				continue
			}
			kept = append(kept, z)
		}
		active = kept

		if i >= 2 {
			if z, ok := gapAt(candles, i, atr, s.MinGapATRMult); ok {
				active = append(active, z)
				if len(active) > maxZones {
					active = append([]Zone(nil), active[len(active)-maxZones:]...)
				}
			}
		}
		res.Bars[i].Active = len(active)
	}
	res.Active = active
	return res
}

func gapAt(candles []market.Candle, i int, atr []float64, mult float64) (Zone, bool) {
	a, ok := At(atr, i)
	if !ok {
		return Zone{}, false
	}
	minGap := mult * a
	first, third := candles[i-2], candles[i]
	switch {
	case third.Low > first.High && third.Low-first.High >= minGap:
		return Zone{Kind: ZoneBullish, Low: first.High, High: third.Low, CreatedAt: third.OpenTime, Index: i}, true
	case third.High < first.Low && first.Low-third.High >= minGap:
		return Zone{Kind: ZoneBearish, Low: third.High, High: first.Low, CreatedAt: third.OpenTime, Index: i}, true
	}
	return Zone{}, false
}

// A bullish zone is mitigated by a close below its low, a bearish one by a
// close above its high.
func mitigatedBy(z Zone, close float64) bool {
	if z.Kind == ZoneBullish {
		return close < z.Low
	}
	return close > z.High
}

// interact checks the newest zones first.
func interact(c market.Candle, zones []Zone) FVGBar {
	var bar FVGBar
	for k := len(zones) - 1; k >= 0; k-- {
		z := zones[k]
		switch z.Kind {
		case ZoneBullish:
			if !bar.InBullish && c.Low >= z.Low && c.Low <= z.High {
				bar.InBullish = true
				bar.BullishBounce = c.Close > z.High
			}
		case ZoneBearish:
			if !bar.InBearish && c.High >= z.Low && c.High <= z.High {
				bar.InBearish = true
				bar.BearishBounce = c.Close < z.Low
			}
		}
	}
	return bar
}

// NearestEdge returns the far edge of the newest active zone of kind that
// lies on the protective side of price, for zone-based stops.
func (r FVGResult) NearestEdge(kind ZoneKind, price float64) (float64, bool) {
	for k := len(r.Active) - 1; k >= 0; k-- {
		z := r.Active[k]
		if z.Kind != kind {
			continue
		}
		if kind == ZoneBullish && z.Low < price {
			return z.Low, true
		}
		if kind == ZoneBearish && z.High > price {
			return z.High, true
		}
	}
	return 0, false
}
