package risk

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPositionSizeRiskBound(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 500; i++ {
		balance := 1000 + rng.Float64()*100000
		entry := 0.5 + rng.Float64()*200
		stop := entry * (1 - (0.001 + rng.Float64()*0.05))
		step := []float64{1, 0.01, 0.001, 1000}[i%4]
		size, err := PositionSize(balance, entry, stop, 0.02, 0.10, step)
		require.NoError(t, err)
		assert.Greater(t, size, 0.0)
		risk := size * (entry - stop)
		assert.LessOrEqual(t, risk, 0.02*balance+step*(entry-stop)+1e-6)
		if size > step {
			assert.LessOrEqual(t, size*entry, 0.10*balance+1e-6)
		}
	}
}

func TestPositionSizeExample(t *testing.T) {
	// risk 200 over 0.002 per unit = 100000 units, capped by 10% notional.
	size, err := PositionSize(10000, 1.1, 1.098, 0.02, 0.10, 1)
	require.NoError(t, err)
	assert.Equal(t, math.Floor(1000/1.1), size)

	size, err = PositionSize(10000, 100, 95, 0.02, 1, 0.5)
	require.NoError(t, err)
	assert.Equal(t, 40.0, size)
}

func TestPositionSizeRejectsDegenerate(t *testing.T) {
	_, err := PositionSize(10000, 1.1, 1.1, 0.02, 0.1, 1)
	assert.ErrorIs(t, err, ErrDegenerateStop)
	_, err = PositionSize(0, 1.1, 1.0, 0.02, 0.1, 1)
	assert.ErrorIs(t, err, ErrInvalidBalance)
	_, err = PositionSize(1000, math.NaN(), 1.0, 0.02, 0.1, 1)
	assert.ErrorIs(t, err, ErrInvalidBalance)
}

func TestPositionSizeMinimumLot(t *testing.T) {
	size, err := PositionSize(100, 50000, 49000, 0.01, 0.1, 0.001)
	require.NoError(t, err)
	assert.Equal(t, 0.001, size)
}

func TestRewardRisk(t *testing.T) {
	assert.InDelta(t, 2.0, RewardRisk(100, 98, 104), 1e-12)
	assert.Zero(t, RewardRisk(100, 100, 104))
}
