package risk

import (
	"errors"
	"fmt"
	"time"

	"mtfsignal/internal/logger"
	"mtfsignal/internal/market"
)

// Request is a candidate entry produced by the signal generator.
type Request struct {
	Symbol     string
	Side       market.Side
	Entry      float64
	StopLoss   float64
	TakeProfit float64
	Balance    float64
	At         time.Time
}

// Decision is the outcome of the risk checks. A rejection is a normal
// result: Allowed is false and Err carries the classified reason.
type Decision struct {
	Allowed    bool
	Err        error
	Size       float64
	Risk       float64
	RewardRisk float64
}

func (d Decision) Reason() string {
	if d.Err == nil {
		return ""
	}
	return d.Err.Error()
}

// Manager applies sizing, reward/risk, exposure and drawdown rules. Several
// managers may share one Exposure and one DrawdownBreaker when symbols trade
// from the same account.
type Manager struct {
	cfg      Config
	breaker  *DrawdownBreaker
	exposure *Exposure
}

func NewManager(cfg Config, equity float64) *Manager {
	return NewManagerWith(cfg,
		NewDrawdownBreaker("account", cfg.MaxDrawdownPct, equity),
		NewExposure(cfg.MaxTotalExposure, cfg.MaxPositionsPerSymbol, cfg.MaxOpenPositions))
}

func NewManagerWith(cfg Config, breaker *DrawdownBreaker, exposure *Exposure) *Manager {
	return &Manager{cfg: cfg, breaker: breaker, exposure: exposure}
}

func (m *Manager) Config() Config            { return m.cfg }
func (m *Manager) Breaker() *DrawdownBreaker { return m.breaker }
func (m *Manager) Exposure() *Exposure       { return m.exposure }

// Evaluate runs every check without reserving exposure.
func (m *Manager) Evaluate(req Request) Decision {
	if !m.breaker.Allow() {
		return Decision{Err: fmt.Errorf("%w: drawdown %.2f%%", ErrBreakerOpen, m.breaker.Drawdown()*100)}
	}
	rr := RewardRisk(req.Entry, req.StopLoss, req.TakeProfit)
	if m.cfg.MinRiskReward > 0 && rr+1e-9 < m.cfg.MinRiskReward {
		return Decision{RewardRisk: rr, Err: fmt.Errorf("%w: %.2f < %.2f", ErrRiskReward, rr, m.cfg.MinRiskReward)}
	}
	size, err := m.cfg.Size(req.Balance, req.Entry, req.StopLoss)
	if err != nil {
		return Decision{RewardRisk: rr, Err: err}
	}
	risk := size * absf(req.Entry-req.StopLoss)
	if err := m.exposure.Check(req.Symbol, risk, req.Balance); err != nil {
		return Decision{Size: size, Risk: risk, RewardRisk: rr, Err: err}
	}
	return Decision{Allowed: true, Size: size, Risk: risk, RewardRisk: rr}
}

// Open evaluates req and, when allowed, reserves a new position.
func (m *Manager) Open(req Request) (*Position, Decision) {
	d := m.Evaluate(req)
	if !d.Allowed {
		logger.Infof("[risk] rejected %s %s @%.5f: %s", req.Symbol, req.Side, req.Entry, d.Reason())
		return nil, d
	}
	pos := NewPosition(req.Symbol, req.Side, d.Size, req.Entry, req.StopLoss, req.TakeProfit, req.At)
	if err := m.exposure.Reserve(pos, req.Balance); err != nil {
		d.Allowed, d.Err = false, err
		logger.Infof("[risk] rejected %s %s @%.5f: %s", req.Symbol, req.Side, req.Entry, d.Reason())
		return nil, d
	}
	return pos, d
}

// Close realises the position and releases its exposure.
func (m *Manager) Close(p *Position, price float64, at time.Time, reason string, fees float64) float64 {
	pnl := p.Close(price, at, reason, fees)
	m.exposure.Release(p.ID)
	return pnl
}

// Track adopts an already open position, e.g. one restored from state.
func (m *Manager) Track(p *Position) {
	m.exposure.Adopt(p)
}

// UpdateEquity feeds the breaker.
func (m *Manager) UpdateEquity(equity float64) BreakerState {
	return m.breaker.Update(equity)
}

// IsRejection reports whether err is an ordinary risk rejection.
func IsRejection(err error) bool {
	return errors.Is(err, ErrBreakerOpen) || errors.Is(err, ErrExposureLimit) ||
		errors.Is(err, ErrPositionLimit) || errors.Is(err, ErrRiskReward) ||
		errors.Is(err, ErrDegenerateStop)
}

// RejectionKind is a short label for metrics.
func RejectionKind(err error) string {
	switch {
	case errors.Is(err, ErrBreakerOpen):
		return "breaker"
	case errors.Is(err, ErrExposureLimit):
		return "exposure"
	case errors.Is(err, ErrPositionLimit):
		return "position_limit"
	case errors.Is(err, ErrRiskReward):
		return "risk_reward"
	case errors.Is(err, ErrDegenerateStop):
		return "degenerate_stop"
	default:
		return "other"
	}
}
