// Package indicator holds the stateless indicator transforms. Every result
// is aligned 1:1 with the candles it was computed from.
package indicator

import (
	"fmt"

	"mtfsignal/internal/market"
)

type Settings struct {
	ATRPeriod     int                   `toml:"atr_period" json:"atr_period"`
	Supertrend    SupertrendSettings    `toml:"supertrend" json:"supertrend"`
	StochRSI      StochRSISettings      `toml:"stochrsi" json:"stochrsi"`
	FVG           FVGSettings           `toml:"fvg" json:"fvg"`
	VolumeProfile VolumeProfileSettings `toml:"volume_profile" json:"volume_profile"`
}

func DefaultSettings() Settings {
	return Settings{
		ATRPeriod:  14,
		Supertrend: SupertrendSettings{Period: 10, Multiplier: 3},
		StochRSI: StochRSISettings{
			RSIPeriod: 14, StochPeriod: 14, KSmooth: 3, DSmooth: 3,
			Oversold: 20, Overbought: 80,
		},
		FVG: FVGSettings{MinGapATRMult: 0.1, MaxZones: 20},
		VolumeProfile: VolumeProfileSettings{
			Lookback: 100, NumBins: 50, ValueAreaPct: 0.70, LVNThreshold: 0.3,
			Stride: 1, ProximityATRMult: 1.0, LVNExclusionATRMult: 0.5,
		},
	}
}

func (s Settings) Validate() error {
	switch {
	case s.ATRPeriod <= 0:
		return fmt.Errorf("atr_period must be > 0")
	case s.Supertrend.Period <= 0 || s.Supertrend.Multiplier <= 0:
		return fmt.Errorf("supertrend period and multiplier must be > 0")
	case s.StochRSI.RSIPeriod < 2 || s.StochRSI.StochPeriod <= 0 || s.StochRSI.KSmooth <= 0 || s.StochRSI.DSmooth <= 0:
		return fmt.Errorf("stochrsi periods must be positive (rsi_period >= 2)")
	case s.StochRSI.Oversold < 0 || s.StochRSI.Overbought > 100 || s.StochRSI.Oversold >= s.StochRSI.Overbought:
		return fmt.Errorf("stochrsi thresholds must satisfy 0 <= oversold < overbought <= 100")
	case s.FVG.MinGapATRMult < 0 || s.FVG.MaxZones <= 0:
		return fmt.Errorf("fvg min_gap_atr_mult must be >= 0 and max_zones > 0")
	case s.VolumeProfile.Lookback <= 0 || s.VolumeProfile.NumBins <= 0:
		return fmt.Errorf("volume_profile lookback and num_bins must be > 0")
	case s.VolumeProfile.ValueAreaPct <= 0 || s.VolumeProfile.ValueAreaPct > 1:
		return fmt.Errorf("volume_profile value_area_pct must be in (0,1]")
	case s.VolumeProfile.LVNThreshold < 0 || s.VolumeProfile.LVNThreshold >= 1:
		return fmt.Errorf("volume_profile lvn_threshold must be in [0,1)")
	}
	return nil
}

// Report bundles the lower-timeframe indicators for one candle window.
type Report struct {
	Count    int
	ATR      []float64
	StochRSI StochRSIResult
	FVG      FVGResult
	Profile  []VPBar
}

// Compute runs every lower-timeframe indicator over candles. Short windows
// are not an error; the affected entries are simply undefined.
func Compute(candles []market.Candle, s Settings) Report {
	atr := ATR(candles, s.ATRPeriod)
	return Report{
		Count:    len(candles),
		ATR:      atr,
		StochRSI: StochRSI(candles, s.StochRSI),
		FVG:      DetectFVG(candles, atr, s.FVG),
		Profile:  VolumeProfileSeries(candles, atr, s.VolumeProfile),
	}
}

// LatestATR returns the last defined ATR, or NaN.
func (r Report) LatestATR() float64 {
	return lastValid(r.ATR)
}
