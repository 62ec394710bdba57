package risk

import (
	"errors"
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

var (
	ErrDegenerateStop = errors.New("stop distance must be positive")
	ErrInvalidBalance = errors.New("balance and entry must be positive")
	ErrRiskReward     = errors.New("reward/risk below minimum")
	ErrExposureLimit  = errors.New("exposure limit reached")
	ErrPositionLimit  = errors.New("position count limit reached")
	ErrBreakerOpen    = errors.New("drawdown circuit breaker open")
)

// PositionSize sizes a trade so that hitting the stop loses at most
// balance*riskPct, capped at balance*maxPositionPct of notional. The result
// is floored to lotStep; when the floor would be zero the minimum lot is
// returned instead.
func PositionSize(balance, entry, stop, riskPct, maxPositionPct, lotStep float64) (float64, error) {
	if !finite(balance, entry, stop, riskPct, maxPositionPct, lotStep) || balance <= 0 || entry <= 0 {
		return 0, ErrInvalidBalance
	}
	perUnit := math.Abs(entry - stop)
	if perUnit <= 0 {
		return 0, ErrDegenerateStop
	}
	if riskPct <= 0 || lotStep <= 0 {
		return 0, fmt.Errorf("risk pct and lot step must be positive")
	}
	bal := decimal.NewFromFloat(balance)
	raw := bal.Mul(decimal.NewFromFloat(riskPct)).Div(decimal.NewFromFloat(perUnit))
	if maxPositionPct > 0 {
		capped := bal.Mul(decimal.NewFromFloat(maxPositionPct)).Div(decimal.NewFromFloat(entry))
		if capped.LessThan(raw) {
			raw = capped
		}
	}
	step := decimal.NewFromFloat(lotStep)
	size := raw.Div(step).Floor().Mul(step)
	if !size.IsPositive() {
		size = step
	}
	out, _ := size.Float64()
	return out, nil
}

// Size applies PositionSize with the configured limits.
func (c Config) Size(balance, entry, stop float64) (float64, error) {
	return PositionSize(balance, entry, stop, c.RiskPerTrade, c.MaxPositionPct, c.LotStep)
}

// RewardRisk is |tp-entry| / |entry-stop|, or 0 for a degenerate stop.
func RewardRisk(entry, stop, tp float64) float64 {
	risk := math.Abs(entry - stop)
	if risk <= 0 {
		return 0
	}
	return math.Abs(tp-entry) / risk
}

func finite(vals ...float64) bool {
	for _, v := range vals {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}
