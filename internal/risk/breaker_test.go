package risk

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDrawdownBreakerSyntheticCurve(t *testing.T) {
	b := NewDrawdownBreaker("test", 0.15, 10000)
	curve := []float64{10000, 10400, 10200, 9500, 8800, 8830, 9000, 9300}
	var states []BreakerState
	for _, eq := range curve {
		states = append(states, b.Update(eq))
	}
	// peak 10400: 8800 and 8830 are past 15% down, 9000 is 13.5% down.
	assert.Equal(t, []BreakerState{BreakerClosed, BreakerClosed, BreakerClosed, BreakerClosed, BreakerOpen, BreakerOpen, BreakerClosed, BreakerClosed}, states)
	assert.Equal(t, 1, b.Trips())
	assert.InDelta(t, 1600.0/10400, b.MaxDrawdown(), 1e-12)
	assert.Equal(t, 10400.0, b.Peak())
}

func TestDrawdownBreakerReset(t *testing.T) {
	b := NewDrawdownBreaker("test", 0.15, 10000)
	b.Update(8000)
	assert.False(t, b.Allow())
	b.Reset()
	assert.True(t, b.Allow())
	assert.Equal(t, 8000.0, b.Peak())
	assert.Zero(t, b.Drawdown())
}

func TestDrawdownBreakerRestore(t *testing.T) {
	b := NewDrawdownBreaker("test", 0.15, 10000)
	b.Restore(12000, 10000)
	assert.False(t, b.Allow())
	assert.Equal(t, "OPEN", b.State().String())
}
