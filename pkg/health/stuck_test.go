package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeDerivatives_Stuck(t *testing.T) {
	// d0 == 0
	d := ComputeDerivatives(0, 5, 3)
	assert.True(t, d.Stuck())

	// delta1 == 0 (d0 == d1)
	d = ComputeDerivatives(5, 5, 3)
	assert.True(t, d.Stuck())

	// delta2 == 0: delta1 == (d1-d2), i.e. d0-d1 == d1-d2
	d = ComputeDerivatives(7, 5, 3) // delta1=2, d1-d2=2 -> delta2=0
	assert.True(t, d.Stuck())
}

func TestComputeDerivatives_NotStuck(t *testing.T) {
	d := ComputeDerivatives(9, 5, 2) // delta1=4, d1-d2=3, delta2=1
	assert.False(t, d.Stuck())
	assert.Equal(t, uint64(9), d.D0)
	assert.Equal(t, uint64(4), d.Delta1)
	assert.Equal(t, uint64(1), d.Delta2)
}

func TestDeltaHistory_FirstObserveIsWarmup(t *testing.T) {
	var h DeltaHistory
	_, ok := h.Observe(100, 1)
	assert.False(t, ok)
}

func TestDeltaHistory_NormalizesByGCD(t *testing.T) {
	var h DeltaHistory
	h.Observe(0, 5)
	d, ok := h.Observe(10, 5)
	require.True(t, ok)
	assert.Equal(t, uint64(2), d.D0) // (10-0)/5
}

func TestDeltaHistory_ZeroGCDTreatedAsOne(t *testing.T) {
	var h DeltaHistory
	h.Observe(0, 0)
	d, ok := h.Observe(7, 0)
	require.True(t, ok)
	assert.Equal(t, uint64(7), d.D0)
}

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "warning", StatusWarning.String())
	assert.Equal(t, "failed", StatusFailed.String())
	assert.Equal(t, "unknown", Status(99).String())
}
