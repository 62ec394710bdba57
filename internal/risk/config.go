// Package risk turns signals into bounded positions and guards the account
// with exposure caps and a drawdown breaker.
package risk

import (
	"fmt"
	"strings"
)

type StopMethod string

const (
	StopATR       StopMethod = "atr"
	StopPercent   StopMethod = "percent"
	StopStructure StopMethod = "structure"
	StopFVG       StopMethod = "fvg"
)

func ParseStopMethod(raw string) (StopMethod, error) {
	switch m := StopMethod(strings.ToLower(strings.TrimSpace(raw))); m {
	case StopATR, StopPercent, StopStructure, StopFVG:
		return m, nil
	case "":
		return StopATR, nil
	}
	return "", fmt.Errorf("unknown stop method %q", raw)
}

// Config holds every sizing and protection knob. Percentages are fractions
// (0.02 = 2%).
type Config struct {
	RiskPerTrade          float64 `toml:"risk_per_trade" json:"risk_per_trade"`
	MaxPositionPct        float64 `toml:"max_position_pct" json:"max_position_pct"`
	MaxDrawdownPct        float64 `toml:"max_drawdown_pct" json:"max_drawdown_pct"`
	MaxTotalExposure      float64 `toml:"max_total_exposure" json:"max_total_exposure"`
	MaxPositionsPerSymbol int     `toml:"max_positions_per_symbol" json:"max_positions_per_symbol"`
	MaxOpenPositions      int     `toml:"max_open_positions" json:"max_open_positions"`
	LotStep               float64 `toml:"lot_step" json:"lot_step"`
	PipSize               float64 `toml:"pip_size" json:"pip_size"`

	StopMethod        StopMethod `toml:"stop_method" json:"stop_method"`
	StopLossATRMult   float64    `toml:"stop_loss_atr_mult" json:"stop_loss_atr_mult"`
	TakeProfitATRMult float64    `toml:"take_profit_atr_mult" json:"take_profit_atr_mult"`
	StopPct           float64    `toml:"stop_pct" json:"stop_pct"`
	StructureLookback int        `toml:"structure_lookback" json:"structure_lookback"`
	StopBufferPips    float64    `toml:"stop_buffer_pips" json:"stop_buffer_pips"`
	MinStopPips       float64    `toml:"min_stop_pips" json:"min_stop_pips"`
	MaxStopPips       float64    `toml:"max_stop_pips" json:"max_stop_pips"`
	RiskRewardRatio   float64    `toml:"risk_reward_ratio" json:"risk_reward_ratio"`
	MinRiskReward     float64    `toml:"min_risk_reward" json:"min_risk_reward"`

	BreakevenTriggerPct   float64 `toml:"breakeven_trigger_pct" json:"breakeven_trigger_pct"`
	BreakevenBufferATR    float64 `toml:"breakeven_buffer_atr" json:"breakeven_buffer_atr"`
	TrailingPct           float64 `toml:"trailing_pct" json:"trailing_pct"`
	TrailingActivationPct float64 `toml:"trailing_activation_pct" json:"trailing_activation_pct"`
}

func DefaultConfig() Config {
	return Config{
		RiskPerTrade:          0.02,
		MaxPositionPct:        0.10,
		MaxDrawdownPct:        0.15,
		MaxTotalExposure:      0.06,
		MaxPositionsPerSymbol: 1,
		MaxOpenPositions:      5,
		LotStep:               1,
		PipSize:               0.0001,
		StopMethod:            StopATR,
		StopLossATRMult:       2,
		TakeProfitATRMult:     4,
		StopPct:               0.005,
		StructureLookback:     20,
		StopBufferPips:        5,
		RiskRewardRatio:       2,
		MinRiskReward:         1.5,
		BreakevenTriggerPct:   0.01,
		BreakevenBufferATR:    0.1,
	}
}

func (c Config) Validate() error {
	switch {
	case c.RiskPerTrade <= 0 || c.RiskPerTrade > 1:
		return fmt.Errorf("risk_per_trade must be in (0,1]")
	case c.MaxPositionPct <= 0:
		return fmt.Errorf("max_position_pct must be > 0")
	case c.MaxDrawdownPct <= 0 || c.MaxDrawdownPct >= 1:
		return fmt.Errorf("max_drawdown_pct must be in (0,1)")
	case c.MaxTotalExposure < 0:
		return fmt.Errorf("max_total_exposure must be >= 0")
	case c.MaxPositionsPerSymbol < 0 || c.MaxOpenPositions < 0:
		return fmt.Errorf("position caps must be >= 0")
	case c.LotStep <= 0:
		return fmt.Errorf("lot_step must be > 0")
	case c.PipSize <= 0:
		return fmt.Errorf("pip_size must be > 0")
	case c.StopLossATRMult <= 0 || c.TakeProfitATRMult <= 0:
		return fmt.Errorf("atr multipliers must be > 0")
	case c.StopPct <= 0 || c.StopPct >= 1:
		return fmt.Errorf("stop_pct must be in (0,1)")
	case c.MaxStopPips > 0 && c.MinStopPips > c.MaxStopPips:
		return fmt.Errorf("min_stop_pips must not exceed max_stop_pips")
	case c.RiskRewardRatio <= 0:
		return fmt.Errorf("risk_reward_ratio must be > 0")
	case c.TrailingPct < 0 || c.TrailingPct >= 1:
		return fmt.Errorf("trailing_pct must be in [0,1)")
	}
	if _, err := ParseStopMethod(string(c.StopMethod)); err != nil {
		return err
	}
	return nil
}
