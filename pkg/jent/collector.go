package jent

import (
	"errors"
	"sync"
	"time"

	"github.com/ja7ad/jent/pkg/conditioner"
	"github.com/ja7ad/jent/pkg/health"
	"github.com/ja7ad/jent/pkg/timer"
	"github.com/ja7ad/jent/pkg/workload"
)

// readClock reports wall-clock seconds for Stats' diagnostic rate
// computation. It is independent of the jitter timer source (spec.md §1
// disclaims any production-rate bound; this never feeds the conditioner).
func readClock() float64 {
	return float64(time.Now().UnixNano()) / 1e9
}

// entropySafetyFactor is the extra absorbed-entropy margin, in bits, spec.md
// §4.7 requires beyond each 256-bit output chunk.
const entropySafetyFactor = 64

// safetyFactorBytes is N's per-byte multiplier: each output byte's worth of
// measurement rounds must cover the digest size plus the safety margin,
// spread over the 8 bits per byte (spec.md §4.7 step 2): (256+64)/8 = 40.
const safetyFactorBytes = (conditioner.Size*8 + entropySafetyFactor) / 8

// swSource is the subset of timer.Source a Collector can Start/Stop around
// each Read burst (spec.md §4.7 steps 1 and 5): the default OS-goroutine
// backend and the caller-supplied ThreadOps adapter both satisfy it.
type swSource interface {
	timer.Source
	Start() error
	Stop()
}

// swAdapter makes *timer.SW satisfy swSource; SW.Start returns nothing
// because the default backend cannot fail, but the interface still wants an
// error so External's fallible Init/Start can share the same call site.
type swAdapter struct{ *timer.SW }

func (a swAdapter) Start() error { a.SW.Start(); return nil }

// newSWSource picks the caller-installed ThreadOps backend when present
// (spec.md §6's SwitchNotimeImpl), falling back to the default
// OS-goroutine counter otherwise. Init and Alloc both go through this so
// the exact same backend is self-tested and later read from.
func newSWSource(ops *timer.ThreadOps) swSource {
	if ops != nil {
		return timer.NewExternal(ops)
	}
	return swAdapter{timer.NewSW()}
}

// Collector is an entropy collector (EC): one SHAKE256 sponge, one timer
// source, and the health-test state that must pass before any of the
// sponge's output is trusted (spec.md §3, §4.7). A Collector is not safe for
// concurrent use (spec.md §5 "Ordering").
type Collector struct {
	mu sync.Mutex

	cfg   Config
	flags Flags

	useSW bool
	sw    swSource
	src   timer.Source
	gcd   uint64

	wl     *workload.Workload
	sponge *conditioner.Sponge

	hist health.DeltaHistory
	rct  *health.RCT
	apt  *health.APT
	lag  *health.Lag

	mask     health.FailureMask
	notified bool

	callback FailureCallback

	stats Stats
	rate  *ema

	closed bool
}

// Alloc constructs a new Collector (spec.md §4.7's alloc(osr, flags)). Init
// must have completed successfully first; Alloc inherits its timer choice
// and GCD, and reuses the process-wide ThreadOps vtable and FIPS callback
// installed via SwitchNotimeImpl/SetFIPSFailureCallback.
func Alloc(osr int, flags Flags) (*Collector, error) {
	useSW, gcd, ops, cb, ok := snapshotGlobal()
	if !ok {
		return nil, ErrProgrammingError
	}

	cfg := configFromFlags(osr, flags)
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if cfg.ForceInternalTimer {
		useSW = true
	}

	c := &Collector{
		cfg:      cfg,
		flags:    flags,
		useSW:    useSW,
		gcd:      gcd,
		wl:       newWorkload(cfg),
		sponge:   conditioner.New(),
		callback: cb,
		rate:     newEMA(0.3),
	}

	if useSW {
		c.sw = newSWSource(ops)
		c.src = c.sw
	} else {
		c.src = timer.NewHW()
	}

	rctCutoff := health.RCTCutoffFIPS
	if !cfg.FIPSEnabled {
		rctCutoff = health.RCTCutoffFIPS / 2
	}
	c.rct = health.NewRCT(rctCutoff, 0)
	c.apt = health.NewAPT(health.APTWindowSize, health.ComputeAPTCutoff(health.APTWindowSize, cfg.OSR))
	c.lag = health.NewLag(health.ComputeLagCutoffs(cfg.OSR))

	return c, nil
}

// Read fills p with conditioned output, one digest-sized chunk at a time
// (spec.md §4.7's read algorithm). It returns as soon as p is full, a
// health test trips permanently, or p has zero length.
func (c *Collector) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return 0, ErrClosed
	}
	if len(p) == 0 {
		return 0, ErrProgrammingError
	}
	if c.mask != 0 {
		return 0, &HealthFailureError{Mask: c.mask}
	}

	if c.useSW {
		if err := c.sw.Start(); err != nil {
			return 0, err
		}
		defer c.sw.Stop()
	}

	start := readClock()
	written := 0
	for written < len(p) {
		if err := c.fillChunk(); err != nil {
			return written, err
		}
		out := c.sponge.Squeeze()
		written += copy(p[written:], out[:])
	}
	elapsed := readClock() - start

	c.stats.TotalBytes += uint64(written)
	c.stats.TotalReads++
	if elapsed > 0 {
		c.stats.BytesPerSecEMA = c.rate.next(float64(written) / elapsed)
	}
	return written, nil
}

// fillChunk runs N = osr*safetyFactorBytes measurement rounds (spec.md
// §4.7 step 2) and absorbs every non-stuck normalized delta into the
// sponge. It returns a *HealthFailureError the first time any health test's
// permanent cutoff is reached; the failure mask is sticky afterward (spec.md
// §3 "Health stickiness").
func (c *Collector) fillChunk() error {
	rounds := c.cfg.OSR * safetyFactorBytes
	var counter uint64
	for i := 0; i < rounds; i++ {
		if c.wl != nil {
			c.wl.Run(c.sponge.FoldToBits, counter)
		}
		counter++

		t := c.src.Now()
		d, ok := c.hist.Observe(t, c.gcd)
		if !ok {
			continue
		}

		stuck := d.Stuck()
		c.rct.Feed(stuck)
		c.apt.Feed(d.D0)
		c.lag.Feed(d.D0)
		if !stuck {
			c.sponge.Absorb(d.D0)
		}
	}

	if c.rct.Failed() {
		c.mask |= health.FailureRCT
	}
	if c.apt.Failed() {
		c.mask |= health.FailureAPT
	}
	if c.lag.Failed() {
		c.mask |= health.FailureLag
	}
	if c.mask == 0 {
		return nil
	}

	if !c.notified {
		c.notified = true
		if c.callback != nil {
			c.callback(c, c.mask)
		}
	}
	return &HealthFailureError{Mask: c.mask}
}

// Stats returns a snapshot of this Collector's diagnostic production-rate
// counters (spec.md §1 disclaims any bound on rate; this is observational
// only).
func (c *Collector) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}

// Close wipes the Collector's sensitive state and releases its memory
// workload buffer (spec.md §5 "Resource discipline"). Calling Close twice,
// or calling Read after Close, returns ErrClosed; Stats after Close still
// returns the last snapshot.
func (c *Collector) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.closed = true
	if c.useSW {
		c.sw.Stop()
	}
	c.sponge.Reset()
	c.sponge = nil
	c.wl = nil
	c.hist = health.DeltaHistory{}
	c.gcd = 0
	return nil
}

// ReadSafe is read_safe (spec.md §4.7): it reads into p using *c, and on a
// permanent health failure closes *c, reallocates a fresh Collector with the
// same osr/flags, retries once, and only then surfaces the error. *c must be
// non-nil on entry.
func ReadSafe(c **Collector, p []byte) (int, error) {
	if c == nil || *c == nil {
		return 0, ErrProgrammingError
	}

	n, err := (*c).Read(p)
	if err == nil {
		return n, nil
	}

	var hf *HealthFailureError
	if !errors.As(err, &hf) {
		return n, err
	}

	osr, flags := (*c).cfg.OSR, (*c).flags
	_ = (*c).Close()

	nc, allocErr := Alloc(osr, flags)
	if allocErr != nil {
		return n, allocErr
	}
	*c = nc
	return nc.Read(p)
}
