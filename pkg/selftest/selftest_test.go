package selftest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/jent/pkg/timer"
)

// pseudoStep returns a small pseudo-random, strictly-positive step size for
// index i, mixed well enough that consecutive steps rarely repeat (a
// repeating step would make the second derivative collapse to zero and
// register as a stuck sample).
func pseudoStep(i int) uint64 {
	x := uint64(i+1) * 2654435761
	x ^= x >> 15
	x *= 0x9e3779b97f4a7c15
	return 50 + x%101 // [50, 150]
}

// replaySequence builds n+1 cumulative timestamps from pseudoStep, so that
// n consecutive Source.Now() differences equal pseudoStep(0..n-1).
func replaySequence(n int) []uint64 {
	ts := make([]uint64, n+1)
	for i := 1; i <= n; i++ {
		ts[i] = ts[i-1] + pseudoStep(i-1)
	}
	return ts
}

func TestRun_ScenarioOne_AllZeroDeltasFailsCoarseTime(t *testing.T) {
	// spec.md §8 concrete scenario 1: replayed timer returns all zeros.
	src := timer.NewReplay(make([]uint64, 301))
	_, err := Run(src, nil, false)
	assert.ErrorIs(t, err, ErrCoarseTime)
}

func TestRun_NilSourceFailsNoTime(t *testing.T) {
	_, err := Run(nil, nil, false)
	assert.ErrorIs(t, err, ErrNoTime)
}

func TestRun_SucceedsOnWellVaryingReplay(t *testing.T) {
	src := timer.NewReplay(replaySequence(3000))
	res, err := Run(src, nil, false)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, res.GCD, uint64(1))
	assert.NotEmpty(t, res.TraceChecksum)
}

func TestRun_NonMonotonicReplayFails(t *testing.T) {
	// A "delta" with the top bit set is indistinguishable from the clock
	// going backward. The resolution/monotonicity checks only see the
	// first 300 raw deltas, so the corrupted timestamp must land there.
	seq := replaySequence(1200)
	seq[150] = 1 // timestamp smaller than its predecessor
	src := timer.NewReplay(seq)
	_, err := Run(src, nil, false)
	assert.ErrorIs(t, err, ErrNoMonotonic)
}

func TestRun_IsDeterministicGivenIdenticalReplay(t *testing.T) {
	seq := replaySequence(3000)
	r1, err1 := Run(timer.NewReplay(seq), nil, false)
	r2, err2 := Run(timer.NewReplay(seq), nil, false)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, r1.GCD, r2.GCD)
	assert.Equal(t, r1.TraceChecksum, r2.TraceChecksum)
}
