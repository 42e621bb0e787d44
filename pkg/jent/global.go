package jent

import (
	"sync"

	"github.com/ja7ad/jent/pkg/health"
	"github.com/ja7ad/jent/pkg/selftest"
	"github.com/ja7ad/jent/pkg/timer"
	"github.com/ja7ad/jent/pkg/workload"
)

// version is the packed library version (spec.md §4.7's version()),
// major<<16 | minor<<8 | patch.
const version uint32 = 0x00010000

// FailureCallback is the process-wide callback (spec.md §6's FIPS
// callback), invoked once per Collector, the first time that Collector
// hits a permanent health failure. It must not call back into the RNG
// (spec.md §6).
type FailureCallback func(c *Collector, mask health.FailureMask)

// globalState is the process-wide "OnceInit" spec.md §9 describes: the
// timer-backend vtable, the FIPS callback, and the one-shot
// initialization latch, all behind a single mutex rather than three
// independent globals, so SwitchNotimeImpl vs. Init ordering is easy to
// enforce correctly.
type globalState struct {
	mu sync.Mutex

	initialized bool
	useSW       bool
	gcd         uint64
	capabilities timer.Capabilities

	threadOps *timer.ThreadOps
	callback  FailureCallback
}

var global globalState

// Version returns the packed library version (spec.md §4.7).
func Version() uint32 { return version }

// SwitchNotimeImpl installs a caller-supplied software-timer thread
// backend (spec.md §6's four-function table). It must be called before
// Init; calling it afterward fails with ErrInUse and leaves all state
// unchanged (spec.md §8 scenario 6).
func SwitchNotimeImpl(ops timer.ThreadOps) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialized {
		return ErrInUse
	}
	global.threadOps = &ops
	return nil
}

// SetFIPSFailureCallback registers the process-wide callback invoked when
// a Collector's health test permanently fails (spec.md §6).
func SetFIPSFailureCallback(cb FailureCallback) {
	global.mu.Lock()
	defer global.mu.Unlock()
	global.callback = cb
}

// Init runs the process-wide startup self-test (spec.md §4.8) exactly
// once per process lifetime: on a prior success it is a no-op that
// returns nil again, matching the "one-shot initialization latch" of
// spec.md §9. osr and flags steer which timer is probed and which RCT
// cutoff the warm-up health checks use; the resulting timer choice and
// GCD are cached for every subsequent Alloc.
func Init(osr int, flags Flags) error {
	global.mu.Lock()
	defer global.mu.Unlock()
	if global.initialized {
		return nil
	}

	cfg := configFromFlags(osr, flags)
	if err := cfg.validate(); err != nil {
		return err
	}

	useSW := cfg.ForceInternalTimer
	var src timer.Source
	var sw swSource
	if useSW {
		sw = newSWSource(global.threadOps)
		if err := sw.Start(); err != nil {
			return err
		}
		defer sw.Stop()
		src = sw
	} else {
		src = timer.NewHW()
	}

	res, err := runSelfTest(src, cfg)
	if err != nil {
		if cfg.DisableInternalTimer && !useSW && err == selftest.ErrCoarseTime {
			return selftest.ErrNoTime
		}
		if cfg.DisableInternalTimer || useSW {
			return err
		}
		// Hardware timer failed its self-test: fall back to the software
		// timer (spec.md §4.1's selection rule (a)).
		useSW = true
		sw = newSWSource(global.threadOps)
		if serr := sw.Start(); serr != nil {
			return serr
		}
		res, err = runSelfTest(sw, cfg)
		sw.Stop()
		if err != nil {
			return err
		}
	}

	global.initialized = true
	global.useSW = useSW
	global.gcd = res.GCD
	global.capabilities = res.Capabilities
	return nil
}

// Initialized reports whether Init has completed successfully.
func Initialized() bool {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.initialized
}

func snapshotGlobal() (useSW bool, gcd uint64, ops *timer.ThreadOps, cb FailureCallback, ok bool) {
	global.mu.Lock()
	defer global.mu.Unlock()
	return global.useSW, global.gcd, global.threadOps, global.callback, global.initialized
}

// runSelfTest wires selftest.Run with a throwaway memory workload matching
// cfg, so Init's acceptance checks see workload-induced jitter like a real
// Read would.
func runSelfTest(src timer.Source, cfg Config) (selftest.Result, error) {
	wl := newWorkload(cfg)
	return selftest.Run(src, wl, cfg.FIPSEnabled)
}

// newWorkload builds the memory-access workload for cfg, or nil when
// memory access is disabled (spec.md §4.2).
func newWorkload(cfg Config) *workload.Workload {
	if cfg.DisableMemoryAccess || cfg.MemSize <= 0 {
		return nil
	}
	size := nextPowerOfTwo(cfg.MemSize)
	caps := timer.DetectCapabilities()
	if caps.CacheLineSize > 0 {
		size = roundUpToMultiple(size, caps.CacheLineSize)
		size = nextPowerOfTwo(size)
	}
	return workload.New(size, workload.DefaultAccessLoops)
}

func nextPowerOfTwo(n int) int {
	if n <= 1 {
		return 1
	}
	p := 1
	for p < n {
		p <<= 1
	}
	return p
}

func roundUpToMultiple(n, m int) int {
	if m <= 0 {
		return n
	}
	if n%m == 0 {
		return n
	}
	return n + (m - n%m)
}
