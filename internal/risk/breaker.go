package risk

import (
	"sync"

	"mtfsignal/internal/logger"
)

type BreakerState int

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "CLOSED"
	case BreakerOpen:
		return "OPEN"
	default:
		return "UNKNOWN"
	}
}

// DrawdownBreaker opens when equity falls MaxDrawdown below its running peak
// and closes again once drawdown recovers below the threshold. Reset re-bases
// the peak on the current equity.
type DrawdownBreaker struct {
	mu            sync.Mutex
	name          string
	threshold     float64
	peak          float64
	equity        float64
	maxDrawdown   float64
	state         BreakerState
	trips         int
	onStateChange func(name string, from, to BreakerState, drawdown float64)
}

func NewDrawdownBreaker(name string, threshold, equity float64) *DrawdownBreaker {
	return &DrawdownBreaker{name: name, threshold: threshold, peak: equity, equity: equity}
}

func (b *DrawdownBreaker) SetStateChangeHandler(handler func(name string, from, to BreakerState, drawdown float64)) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.onStateChange = handler
}

// Update records the latest equity and returns the resulting state.
func (b *DrawdownBreaker) Update(equity float64) BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.equity = equity
	if equity > b.peak {
		b.peak = equity
	}
	dd := b.drawdownLocked()
	if dd > b.maxDrawdown {
		b.maxDrawdown = dd
	}
	switch {
	case b.state == BreakerClosed && dd >= b.threshold:
		b.trips++
		b.transition(BreakerOpen, dd)
	case b.state == BreakerOpen && dd < b.threshold:
		b.transition(BreakerClosed, dd)
	}
	return b.state
}

// Allow reports whether new entries may be opened.
func (b *DrawdownBreaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state == BreakerClosed
}

func (b *DrawdownBreaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Drawdown is (peak-equity)/peak as a fraction.
func (b *DrawdownBreaker) Drawdown() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.drawdownLocked()
}

func (b *DrawdownBreaker) MaxDrawdown() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.maxDrawdown
}

func (b *DrawdownBreaker) Peak() float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.peak
}

func (b *DrawdownBreaker) Trips() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.trips
}

// Reset closes the breaker and treats the current equity as the new peak.
func (b *DrawdownBreaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.peak = b.equity
	if b.state != BreakerClosed {
		b.transition(BreakerClosed, 0)
	}
}

// Restore seeds peak and equity, e.g. from persisted state.
func (b *DrawdownBreaker) Restore(peak, equity float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if peak < equity {
		peak = equity
	}
	b.peak, b.equity = peak, equity
	if b.drawdownLocked() >= b.threshold {
		b.state = BreakerOpen
	} else {
		b.state = BreakerClosed
	}
}

func (b *DrawdownBreaker) drawdownLocked() float64 {
	if b.peak <= 0 {
		return 0
	}
	return (b.peak - b.equity) / b.peak
}

func (b *DrawdownBreaker) transition(to BreakerState, dd float64) {
	from := b.state
	b.state = to
	if b.onStateChange != nil {
		go b.onStateChange(b.name, from, to, dd)
		return
	}
	logger.Warnf("[risk] breaker %s state change: %s -> %s (drawdown=%.2f%%, threshold=%.2f%%, peak=%.2f, equity=%.2f)",
		b.name, from, to, dd*100, b.threshold*100, b.peak, b.equity)
}
