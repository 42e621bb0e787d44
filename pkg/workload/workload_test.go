package workload

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ja7ad/jent/pkg/conditioner"
)

func TestNew_SizeMatchesRequestedPowerOfTwo(t *testing.T) {
	w := New(1024, 8)
	assert.Equal(t, 1024, w.Size())
}

func TestRun_MutatesBuffer(t *testing.T) {
	w := New(256, 32)
	before := make([]byte, 256)
	copy(before, w.mem)

	var counter uint64
	w.Run(func(bits uint) uint64 { counter++; return counter }, counter)

	assert.NotEqual(t, before, w.mem, "at least one byte should have flipped after a run")
}

func TestRun_WithRealSpongeVisitsMultipleIndices(t *testing.T) {
	// The fold is a real conditioner.Sponge.FoldToBits, called
	// repeatedly with no Absorb in between, exactly as Run drives it. A
	// sponge whose Squeeze doesn't advance state would fold to the same
	// index every loop, touching exactly one byte no matter how many
	// loops ran; a real one spreads writes across the buffer.
	w := New(4096, 64)
	s := conditioner.New()
	s.Absorb(7)

	var counter uint64
	w.Run(func(bits uint) uint64 { return s.FoldToBits(bits) }, counter)

	touched := make(map[int]bool)
	for i, b := range w.mem {
		if b != 0 {
			touched[i] = true
		}
	}
	assert.Greater(t, len(touched), 1, "a true-sponge fold should scatter writes across more than one index")
}

func TestRun_NilWorkloadIsNoop(t *testing.T) {
	var w *Workload
	require.NotPanics(t, func() {
		w.Run(func(bits uint) uint64 { return 0 }, 0)
	})
	assert.Equal(t, 0, w.Size())
}

func TestNewBlock_WalksSequentially(t *testing.T) {
	w := NewBlock(4, 64, 16)
	assert.Equal(t, 4*64, w.Size())

	var counter uint64
	w.Run(func(bits uint) uint64 { return 0 }, counter)
	// block mode must not panic or require fold to be called meaningfully
	assert.Equal(t, 4*64, w.Size())
	assert.Equal(t, 16, w.memlocation, "16 loops advance the block walk by one byte each")
}

func TestBitsFor(t *testing.T) {
	assert.Equal(t, uint(0), bitsFor(1))
	assert.Equal(t, uint(10), bitsFor(1024))
	assert.Equal(t, uint(14), bitsFor(1<<14))
}
