// Package timer provides the monotonic counter sources consumed by the
// entropy collector: a hardware timer backed by the Go runtime's monotonic
// clock, and a software free-running counter used when the hardware timer
// is too coarse.
package timer

// Source is a monotonically non-decreasing counter, sampled once per
// measurement round (spec.md §4.1).
type Source interface {
	// Now returns the current counter value. Implementations must never
	// block, allocate on the steady-state path, or take locks.
	Now() uint64
}

// ThreadOps is the four-function table an external caller may supply to
// replace the default OS-thread-backed software timer (spec.md §6). It
// must be installed with jent.SwitchNotimeImpl before Init; installing it afterward
// fails with ErrInUse (spec.md §4.7's EPROGERR, tested by scenario #6 in
// spec.md §8).
type ThreadOps struct {
	Init  func() (ctx any, err error)
	Fini  func(ctx any)
	Start func(ctx any, routine func(stop <-chan struct{})) error
	Stop  func(ctx any)
}

// Capabilities reports CPU features detected on the host. Nothing in the
// self-test's pass/fail decision depends on it (spec.md §4.8's criteria are
// unchanged); the entropy collector uses CacheLineSize when sizing its
// memory workload, and the other fields are informational only.
type Capabilities struct {
	VendorID      string
	Family        int
	HasAVX2       bool
	HasRDTSCP     bool
	CacheLineSize int
}
