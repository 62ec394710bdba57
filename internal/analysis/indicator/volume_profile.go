package indicator

import (
	"math"

	"mtfsignal/internal/market"
)

type VolumeProfileSettings struct {
	Lookback     int     `toml:"lookback" json:"lookback"`
	NumBins      int     `toml:"num_bins" json:"num_bins"`
	ValueAreaPct float64 `toml:"value_area_pct" json:"value_area_pct"`
	LVNThreshold float64 `toml:"lvn_threshold" json:"lvn_threshold"`
	// Stride recomputes the profile every N bars (1 = every bar).
	Stride int `toml:"stride" json:"stride"`
	// ProximityATRMult is the distance, in ATRs, that counts as "near"
	// POC/VAL/VAH. LVNExclusionATRMult does the same for LVN levels.
	ProximityATRMult    float64 `toml:"proximity_atr_mult" json:"proximity_atr_mult"`
	LVNExclusionATRMult float64 `toml:"lvn_exclusion_atr_mult" json:"lvn_exclusion_atr_mult"`
}

// Profile is the volume distribution over one window. POC is the centre of
// the heaviest bin; VAL/VAH are the outer edges of the value area bins.
type Profile struct {
	Low      float64   `json:"low"`
	High     float64   `json:"high"`
	BinSize  float64   `json:"bin_size"`
	Bins     []float64 `json:"bins"`
	POC      float64   `json:"poc"`
	VAL      float64   `json:"val"`
	VAH      float64   `json:"vah"`
	HVN      []float64 `json:"hvn"`
	LVN      []float64 `json:"lvn"`
	POCIndex int       `json:"poc_index"`
	VALIndex int       `json:"val_index"`
	VAHIndex int       `json:"vah_index"`
}

// BuildProfile spreads each bar's volume evenly over the bins its range
// touches. The value area grows from the POC one bin at a time toward the
// heavier neighbour, preferring the lower side on ties, until it holds
// ValueAreaPct of the volume. It returns false for an empty window or one
// with no volume.
func BuildProfile(window []market.Candle, s VolumeProfileSettings) (Profile, bool) {
	if len(window) == 0 {
		return Profile{}, false
	}
	bins := s.NumBins
	if bins <= 0 {
		bins = 50
	}
	lo, hi := math.Inf(1), math.Inf(-1)
	total := 0.0
	for _, c := range window {
		lo = math.Min(lo, c.Low)
		hi = math.Max(hi, c.High)
		total += c.Volume
	}
	if total <= 0 {
		return Profile{}, false
	}
	if hi-lo <= 0 {
		return Profile{
			Low: lo, High: hi, Bins: []float64{total},
			POC: lo, VAL: lo, VAH: lo, HVN: []float64{lo},
		}, true
	}
	p := Profile{Low: lo, High: hi, BinSize: (hi - lo) / float64(bins), Bins: make([]float64, bins)}
	for _, c := range window {
		lb := p.binOf(c.Low)
		hb := p.binOf(c.High)
		share := c.Volume / float64(hb-lb+1)
		for b := lb; b <= hb; b++ {
			p.Bins[b] += share
		}
	}
	maxVol := 0.0
	for b, v := range p.Bins {
		if v > maxVol {
			maxVol = v
			p.POCIndex = b
		}
	}
	p.POC = p.center(p.POCIndex)

	target := total * s.ValueAreaPct
	acc := p.Bins[p.POCIndex]
	low, high := p.POCIndex, p.POCIndex
	for acc < target && (low > 0 || high < bins-1) {
		lowVol, highVol := -1.0, -1.0
		if low > 0 {
			lowVol = p.Bins[low-1]
		}
		if high < bins-1 {
			highVol = p.Bins[high+1]
		}
		if lowVol >= highVol {
			low--
			acc += p.Bins[low]
		} else {
			high++
			acc += p.Bins[high]
		}
	}
	p.VALIndex, p.VAHIndex = low, high
	p.VAL = p.Low + float64(low)*p.BinSize
	p.VAH = p.Low + float64(high+1)*p.BinSize

	for b, v := range p.Bins {
		if v >= (1-s.LVNThreshold)*maxVol {
			p.HVN = append(p.HVN, p.center(b))
		}
		if v <= s.LVNThreshold*maxVol {
			p.LVN = append(p.LVN, p.center(b))
		}
	}
	return p, true
}

func (p Profile) binOf(price float64) int {
	b := int((price - p.Low) / p.BinSize)
	if b < 0 {
		return 0
	}
	if b >= len(p.Bins) {
		return len(p.Bins) - 1
	}
	return b
}

func (p Profile) center(b int) float64 {
	return p.Low + (float64(b)+0.5)*p.BinSize
}

// ValueAreaVolume sums the bins inside the value area.
func (p Profile) ValueAreaVolume() float64 {
	sum := 0.0
	for b := p.VALIndex; b <= p.VAHIndex && b < len(p.Bins); b++ {
		sum += p.Bins[b]
	}
	return sum
}

func (p Profile) TotalVolume() float64 {
	sum := 0.0
	for _, v := range p.Bins {
		sum += v
	}
	return sum
}

// VPBar is the profile visible at bar i and the proximity flags for its close.
type VPBar struct {
	Valid   bool
	Profile *Profile
	NearPOC bool
	NearVAL bool
	NearVAH bool
	InLVN   bool
}

// VolumeProfileSeries builds a profile over the trailing Lookback bars
// (inclusive of bar i) and evaluates the close of bar i against it. Bars
// with fewer than Lookback bars of history, or no valid ATR, are not valid.
func VolumeProfileSeries(candles []market.Candle, atr []float64, s VolumeProfileSettings) []VPBar {
	out := make([]VPBar, len(candles))
	lookback := s.Lookback
	if lookback <= 0 {
		lookback = 100
	}
	stride := s.Stride
	if stride <= 0 {
		stride = 1
	}
	var current *Profile
	lastBuilt := -stride
	for i := range candles {
		if i+1 < lookback {
			continue
		}
		if current == nil || i-lastBuilt >= stride {
			p, ok := BuildProfile(candles[i+1-lookback:i+1], s)
			if ok {
				current = &p
			} else {
				current = nil
			}
			lastBuilt = i
		}
		a, ok := At(atr, i)
		if current == nil || !ok {
			continue
		}
		out[i] = evaluate(current, candles[i].Close, a, s)
	}
	return out
}

func evaluate(p *Profile, close, atr float64, s VolumeProfileSettings) VPBar {
	near := s.ProximityATRMult * atr
	lvnBand := s.LVNExclusionATRMult * atr
	bar := VPBar{
		Valid:   true,
		Profile: p,
		NearPOC: math.Abs(close-p.POC) <= near,
		NearVAL: math.Abs(close-p.VAL) <= near,
		NearVAH: math.Abs(close-p.VAH) <= near,
	}
	for _, lvn := range p.LVN {
		if math.Abs(close-lvn) <= lvnBand {
			bar.InLVN = true
			break
		}
	}
	return bar
}
