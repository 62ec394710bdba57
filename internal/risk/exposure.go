package risk

import (
	"fmt"
	"sort"
	"sync"
)

// Exposure tracks open risk across every symbol that shares one account. It
// is safe for concurrent use by per-symbol pipelines.
type Exposure struct {
	mu        sync.Mutex
	maxTotal  float64
	perSymbol int
	maxOpen   int
	positions map[string]*Position
}

func NewExposure(maxTotal float64, perSymbol, maxOpen int) *Exposure {
	return &Exposure{
		maxTotal:  maxTotal,
		perSymbol: perSymbol,
		maxOpen:   maxOpen,
		positions: make(map[string]*Position),
	}
}

// Check rejects a new position whose risk would push total open risk over
// maxTotal*balance, or that would exceed the per-symbol or overall caps.
// Zero limits are disabled.
func (e *Exposure) Check(symbol string, risk, balance float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.checkLocked(symbol, risk, balance)
}

func (e *Exposure) checkLocked(symbol string, risk, balance float64) error {
	if e.maxOpen > 0 && len(e.positions) >= e.maxOpen {
		return fmt.Errorf("%w: %d open positions", ErrPositionLimit, len(e.positions))
	}
	if e.perSymbol > 0 {
		n := 0
		for _, p := range e.positions {
			if p.Symbol == symbol {
				n++
			}
		}
		if n >= e.perSymbol {
			return fmt.Errorf("%w: %d open on %s", ErrPositionLimit, n, symbol)
		}
	}
	if e.maxTotal > 0 {
		if balance <= 0 {
			return fmt.Errorf("%w: no balance", ErrExposureLimit)
		}
		total := e.totalLocked() + risk
		if total/balance > e.maxTotal+1e-12 {
			return fmt.Errorf("%w: %.2f%% of balance at risk", ErrExposureLimit, total/balance*100)
		}
	}
	return nil
}

// Reserve checks and adds the position atomically.
func (e *Exposure) Reserve(p *Position, balance float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err := e.checkLocked(p.Symbol, p.RiskAmount, balance); err != nil {
		return err
	}
	e.positions[p.ID] = p
	return nil
}

// Adopt adds a position without checking limits.
func (e *Exposure) Adopt(p *Position) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.positions[p.ID] = p
}

func (e *Exposure) Release(id string) (*Position, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	p, ok := e.positions[id]
	delete(e.positions, id)
	return p, ok
}

// TotalRisk is the summed risk amount of open positions.
func (e *Exposure) TotalRisk() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.totalLocked()
}

func (e *Exposure) totalLocked() float64 {
	sum := 0.0
	for _, p := range e.positions {
		sum += p.RiskAmount
	}
	return sum
}

// Open returns the open positions sorted by open time.
func (e *Exposure) Open() []Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]Position, 0, len(e.positions))
	for _, p := range e.positions {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OpenTime.Before(out[j].OpenTime) })
	return out
}

func (e *Exposure) Count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.positions)
}
