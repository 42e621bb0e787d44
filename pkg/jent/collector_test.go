package jent

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/jent/pkg/conditioner"
	"github.com/ja7ad/jent/pkg/health"
	"github.com/ja7ad/jent/pkg/timer"
	"github.com/ja7ad/jent/pkg/workload"
)

// newTestCollector builds a Collector around a scripted timer, bypassing
// Alloc's process-wide global-state dependency so these tests can run
// without ever calling Init. wl may be nil (memory access disabled).
func newTestCollector(cfg Config, src timer.Source, gcd uint64, wl *workload.Workload) *Collector {
	rctCutoff := health.RCTCutoffFIPS
	if !cfg.FIPSEnabled {
		rctCutoff = health.RCTCutoffFIPS / 2
	}
	return &Collector{
		cfg:    cfg,
		gcd:    gcd,
		src:    src,
		wl:     wl,
		sponge: conditioner.New(),
		rate:   newEMA(0.3),
		rct:    health.NewRCT(rctCutoff, 0),
		apt:    health.NewAPT(health.APTWindowSize, health.ComputeAPTCutoff(health.APTWindowSize, cfg.OSR)),
		lag:    health.NewLag(health.ComputeLagCutoffs(cfg.OSR)),
	}
}

// pseudoJitterStep returns a well-varying, strictly-positive step over
// [1, 1024], mixed so consecutive steps rarely collide (spec.md §8
// concrete scenario 3's "derivatives all nonzero, uniform over [1,1024]").
func pseudoJitterStep(i int) uint64 {
	x := uint64(i+797) * 2654435761
	x ^= x >> 13
	x *= 0x9e3779b97f4a7c15
	return 1 + x%1024
}

// replayTimestamps builds n+1 cumulative absolute timestamps from
// pseudoJitterStep, for feeding timer.Replay.
func replayTimestamps(n int) []uint64 {
	ts := make([]uint64, n+1)
	for i := 1; i <= n; i++ {
		ts[i] = ts[i-1] + pseudoJitterStep(i-1)
	}
	return ts
}

// constantStepTimestamps builds n+1 absolute timestamps spaced by a fixed
// step: every raw delta is therefore identical, which collapses delta1 to
// zero from the third sample onward (the second is compared against the
// zero-valued history; spec.md §4.3's stuck-sample rule).
func constantStepTimestamps(n int, step uint64) []uint64 {
	ts := make([]uint64, n+1)
	for i := 1; i <= n; i++ {
		ts[i] = ts[i-1] + step
	}
	return ts
}

func TestCollector_ReadSucceedsOnWellVaryingSource(t *testing.T) {
	cfg := configFromFlags(3, FlagDisableMemoryAccess)
	rounds := cfg.OSR * safetyFactorBytes
	src := timer.NewReplay(replayTimestamps(rounds + 8))
	c := newTestCollector(cfg, src, 1, nil)

	buf := make([]byte, conditioner.Size)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, conditioner.Size, n)
	assert.Equal(t, health.FailureMask(0), c.mask)
}

func TestCollector_ReadFailsAndStaysFailedOnDegenerateSource(t *testing.T) {
	// spec.md §8 concrete scenario 5: a run of consecutive stuck deltas
	// long enough to trip the Repetition Count Test's permanent cutoff.
	cfg := configFromFlags(1, FlagDisableMemoryAccess|FlagFIPSMode)
	rounds := cfg.OSR * safetyFactorBytes
	src := timer.NewReplay(constantStepTimestamps(rounds+2, 100))
	c := newTestCollector(cfg, src, 1, nil)

	buf := make([]byte, conditioner.Size)
	_, err := c.Read(buf)

	var hf *HealthFailureError
	require.ErrorAs(t, err, &hf)
	assert.NotZero(t, hf.Mask&health.FailureRCT)
	assert.NotZero(t, c.mask&health.FailureRCT)

	// The failure is sticky: a second Read call must fail immediately
	// without running any more measurement rounds.
	n2, err2 := c.Read(buf)
	assert.Zero(t, n2)
	require.ErrorAs(t, err2, &hf)
	assert.Equal(t, c.mask, hf.Mask)
}

func TestCollector_ReadReturnsErrClosedAfterClose(t *testing.T) {
	cfg := configFromFlags(3, FlagDisableMemoryAccess)
	src := timer.NewReplay(replayTimestamps(cfg.OSR*safetyFactorBytes + 8))
	c := newTestCollector(cfg, src, 1, nil)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Close(), ErrClosed)

	_, err := c.Read(make([]byte, conditioner.Size))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestCollector_ReadRejectsZeroLengthBuffer(t *testing.T) {
	cfg := configFromFlags(3, FlagDisableMemoryAccess)
	src := timer.NewReplay(replayTimestamps(cfg.OSR*safetyFactorBytes + 8))
	c := newTestCollector(cfg, src, 1, nil)

	_, err := c.Read(nil)
	assert.ErrorIs(t, err, ErrProgrammingError)
}

func TestCollector_CallbackFiresOnceOnPermanentFailure(t *testing.T) {
	cfg := configFromFlags(1, FlagDisableMemoryAccess|FlagFIPSMode)
	rounds := cfg.OSR * safetyFactorBytes
	src := timer.NewReplay(constantStepTimestamps(rounds+2, 100))
	c := newTestCollector(cfg, src, 1, nil)

	var calls int
	var gotMask health.FailureMask
	c.callback = func(_ *Collector, mask health.FailureMask) {
		calls++
		gotMask = mask
	}

	buf := make([]byte, conditioner.Size)
	_, _ = c.Read(buf)
	_, _ = c.Read(buf)
	_, _ = c.Read(buf)

	assert.Equal(t, 1, calls, "the callback must fire exactly once, not once per Read")
	assert.NotZero(t, gotMask&health.FailureRCT)
}

func TestCollector_ReadSucceedsWithMemoryWorkloadEnabled(t *testing.T) {
	// Default flags (no FlagDisableMemoryAccess): exercises the real
	// random-memaccess workload driving the real conditioner.Sponge's
	// FoldToBits, not a disabled wl or a hand-rolled fold stand-in.
	cfg := configFromFlags(3, 0)
	rounds := cfg.OSR * safetyFactorBytes
	src := timer.NewReplay(replayTimestamps(rounds + 8))
	wl := newWorkload(cfg)
	require.NotZero(t, wl.Size())
	c := newTestCollector(cfg, src, 1, wl)

	buf := make([]byte, conditioner.Size)
	n, err := c.Read(buf)
	require.NoError(t, err)
	assert.Equal(t, conditioner.Size, n)
	assert.Equal(t, health.FailureMask(0), c.mask)
}
