// Package conditioner binds the Keccak sponge used to condition raw
// timing measurements into uniformly distributed output. The sponge is
// SHAKE256 from golang.org/x/crypto/sha3, not SHA3-256: its output is not
// a SHA3-256 digest of the absorbed data. SelfTest checks SHA3-256.
package conditioner

import (
	"encoding/binary"

	"golang.org/x/crypto/sha3"
)

// Size is the digest size squeezed per conditioner.Squeeze call, in bytes.
const Size = 32

// Sponge absorbs successive raw measurements and squeezes digest-sized
// blocks without resetting in between. It is not safe for concurrent use.
//
// It is built on sha3.ShakeHash (a true extendable-output function) rather
// than the fixed-output sha3.New256: ShakeHash.Read continues permuting the
// Keccak state and advancing the output stream on every call, so successive
// Squeeze calls with no intervening Absorb still return fresh bytes. A
// hash.Hash's Sum does not mutate state and would make every Squeeze until
// the next Absorb byte-identical.
type Sponge struct {
	h sha3.ShakeHash
}

// New returns a fresh, empty Sponge. It does not run SelfTest.
func New() *Sponge {
	return &Sponge{h: sha3.NewShake256()}
}

// Absorb folds a raw 64-bit measurement into the sponge state. The value is
// written big-endian so that its most-significant (least jittery) bits
// dominate byte 0, keeping the sponge's internal mixing independent of host
// endianness.
func (s *Sponge) Absorb(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	_, _ = s.h.Write(b[:])
}

// AbsorbBytes folds arbitrary bytes into the sponge. Nothing in this module
// calls it; the memory workload picks its indices through FoldToBits.
func (s *Sponge) AbsorbBytes(p []byte) {
	_, _ = s.h.Write(p)
}

// Squeeze returns Size bytes of sponge output, continuing the output stream
// from wherever the last Squeeze/FoldToBits call left off. The sponge state
// is preserved across the call: a later Absorb/Squeeze pair keeps mixing
// from here rather than starting over, making the conditioner forward-secure
// across an unbounded number of reads.
func (s *Sponge) Squeeze() [Size]byte {
	var out [Size]byte
	_, _ = s.h.Read(out[:])
	return out
}

// FoldToBits returns the low n bits (n <= 64) of the next squeeze, used by
// the random-memaccess workload to pick its next index. Each call advances
// the sponge's output stream exactly like Squeeze, so back-to-back calls
// (as the workload makes, once per inner-round loop) walk to a fresh index
// every time rather than repeating the same one.
func (s *Sponge) FoldToBits(n uint) uint64 {
	d := s.Squeeze()
	v := binary.BigEndian.Uint64(d[:8])
	if n >= 64 {
		return v
	}
	return v & ((uint64(1) << n) - 1)
}

// Reset restores the sponge to its initial, unkeyed state. Used only when
// an EC is discarded and its hash state must be wiped before the memory is
// released (spec.md §5 "Resource discipline").
func (s *Sponge) Reset() {
	s.h.Reset()
}

// SelfTest verifies the SHA3-256 implementation against a known test
// vector, satisfying the startup self-test's EHASH check (spec.md §4.8).
func SelfTest() bool {
	const msg = "abc"
	want := [32]byte{
		0x3a, 0x98, 0x5d, 0xa7, 0x4f, 0xe2, 0x25, 0xb2,
		0x04, 0x5c, 0x17, 0x2d, 0x6b, 0xd3, 0x90, 0xbd,
		0x85, 0x5f, 0x08, 0x6e, 0x3e, 0x9d, 0x52, 0x5b,
		0x46, 0xbf, 0xe2, 0x45, 0x11, 0x43, 0x15, 0x32,
	}
	got := sha3.Sum256([]byte(msg))
	return got == want
}
