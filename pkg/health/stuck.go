// Package health implements the on-line noise-source health tests derived
// from NIST SP 800-90B: the stuck-sample detector, the Repetition Count
// Test, the Adaptive Proportion Test, and an optional Lag Predictor
// (spec.md §4.3-§4.6). Each test's state shape follows
// other_examples/494979da_writerslogic-witnessd__internal-hardware-entropy_health.go.go's
// Feed/Status/Reset/FailureCount convention, trimmed to the states and
// fields this spec actually needs.
package health

// FailureMask is the sticky bitmask of health-test failures (spec.md §3's
// health_failure field, §6's error-code encoding).
type FailureMask uint8

const (
	// FailureRCT marks a permanent Repetition Count Test failure.
	FailureRCT FailureMask = 1 << iota
	// FailureAPT marks a permanent Adaptive Proportion Test failure.
	FailureAPT
	// FailureLag marks a permanent Lag Predictor failure.
	FailureLag
)

// Status is a diagnostic three-value health report. Only Failed sets a bit
// in FailureMask; spec.md §3's invariant that health_failure is never
// cleared rules out any "recovered" state once Failed is reached.
type Status int

const (
	StatusHealthy Status = iota
	StatusWarning
	StatusFailed
)

func (s Status) String() string {
	switch s {
	case StatusHealthy:
		return "healthy"
	case StatusWarning:
		return "warning"
	case StatusFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Derivatives computes the three timing derivatives spec.md §4.3 defines
// over the current raw delta d0 and the prior two raw deltas d1, d2:
//
//	delta1 = d0 - d1
//	delta2 = delta1 - (d1 - d2)
//
// All three are computed in the two's-complement arithmetic of uint64
// subtraction, which is exactly what the spec requires: only whether each
// result is zero matters, not its sign.
type Derivatives struct {
	D0, Delta1, Delta2 uint64
}

// ComputeDerivatives returns the derivatives for the current delta d0
// given the previous two deltas d1 (one sample back) and d2 (two samples
// back).
func ComputeDerivatives(d0, d1, d2 uint64) Derivatives {
	delta1 := d0 - d1
	delta2 := delta1 - (d1 - d2)
	return Derivatives{D0: d0, Delta1: delta1, Delta2: delta2}
}

// Stuck reports whether the sample is stuck: any of d0, delta1, delta2 is
// zero (spec.md §4.3). A stuck sample must not be absorbed into the
// conditioner, but must still be fed to RCT, APT, and the Lag predictor.
func (d Derivatives) Stuck() bool {
	return d.D0 == 0 || d.Delta1 == 0 || d.Delta2 == 0
}

// DeltaHistory tracks the last two raw deltas needed to compute the next
// sample's derivatives, and the raw timer reading they were derived from.
type DeltaHistory struct {
	havePrevTime bool
	prevTime     uint64
	d1, d2       uint64
}

// Observe folds in a new raw timer reading and returns the derivatives for
// it, or ok=false on the first call, where no delta exists yet. The next
// two calls compute their derivatives against zero-valued earlier deltas.
func (h *DeltaHistory) Observe(t, gcd uint64) (d Derivatives, ok bool) {
	if gcd == 0 {
		gcd = 1
	}
	if !h.havePrevTime {
		h.havePrevTime = true
		h.prevTime = t
		return Derivatives{}, false
	}
	raw := t - h.prevTime
	h.prevTime = t
	d0 := raw / gcd
	d = ComputeDerivatives(d0, h.d1, h.d2)
	h.d2 = h.d1
	h.d1 = d0
	return d, true
}
