package health

import "math"

// APTWindowSize is the fixed Adaptive Proportion Test window (spec.md
// §4.5): W = 512.
const APTWindowSize = 512

// APT implements the Adaptive Proportion Test (SP 800-90B §4.4.2, spec.md
// §4.5). For the first observation in a window it records the base value;
// each later observation that repeats the base increments a counter. At
// the window boundary, if the counter reaches the cutoff, APT fails
// permanently.
type APT struct {
	window int
	cutoff int

	baseSet      bool
	base         uint64
	count        int
	observations int
	failed       bool
}

// NewAPT returns an APT test with the given window size (spec.md fixes
// this at 512) and cutoff (see ComputeAPTCutoff).
func NewAPT(window, cutoff int) *APT {
	if window <= 0 {
		window = APTWindowSize
	}
	return &APT{window: window, cutoff: cutoff}
}

// Feed processes one sample's normalized delta. It must be called for
// every sample, stuck or not (spec.md §4.3).
func (a *APT) Feed(v uint64) {
	if a.failed {
		return
	}
	if !a.baseSet {
		a.base = v
		a.baseSet = true
		a.count = 1
		a.observations = 1
		return
	}
	a.observations++
	if v == a.base {
		a.count++
	}
	if a.observations >= a.window {
		if a.count >= a.cutoff {
			a.failed = true
		}
		a.baseSet = false
		a.count = 0
		a.observations = 0
	}
}

// Failed reports whether the permanent cutoff has been reached within some
// completed window. Once true it never reverts (spec.md §3).
func (a *APT) Failed() bool { return a.failed }

// Status reports a diagnostic view: StatusWarning once the running count
// within the current (incomplete) window has already reached the cutoff,
// even before the window boundary is reached — useful for early operator
// visibility, but the permanent-failure decision itself is made only at
// the window boundary, exactly as spec.md §4.5 specifies.
func (a *APT) Status() Status {
	switch {
	case a.failed:
		return StatusFailed
	case a.baseSet && a.count >= a.cutoff:
		return StatusWarning
	default:
		return StatusHealthy
	}
}

// Observations returns the number of samples folded into the current,
// not-yet-closed window.
func (a *APT) Observations() int { return a.observations }

// Count returns the current in-window repeat count of the base value.
func (a *APT) Count() int { return a.count }

// ComputeAPTCutoff derives the APT cutoff for a window of size w and an
// oversampling rate osr, targeting false-positive rate alpha = 2^-30
// (spec.md §4.5). It assumes each raw sample carries 1/osr bits of
// min-entropy (the osr compensation spec.md's GLOSSARY describes), so the
// probability of two samples colliding under the null hypothesis of
// maximal bias is p = 2^(-1/osr). The cutoff is the smallest C such that,
// for X ~ Binomial(w-1, p), P(X >= C-1) <= alpha — the "-1" trials and "C-1"
// shift account for the base sample itself not being a free trial, per SP
// 800-90B §4.4.2's formula structure (one sample is consumed to establish
// the base, the remaining w-1 are the Bernoulli trials being counted).
func ComputeAPTCutoff(w, osr int) int {
	if w <= 1 {
		w = APTWindowSize
	}
	if osr <= 0 {
		osr = 1
	}
	const alpha = 1.0 / (1 << 30)
	p := math.Exp2(-1.0 / float64(osr))
	trials := w - 1

	// Smallest C with P(X >= C-1) <= alpha, X ~ Binomial(trials, p): c is
	// the largest repeat count whose tail still exceeds alpha, so C-1 = c+1.
	// Computed via the upper-tail sum in log space for numerical stability.
	for c := trials; c >= 1; c-- {
		if binomialUpperTail(trials, c, p) > alpha {
			cutoff := c + 2
			if cutoff > w {
				cutoff = w
			}
			return cutoff
		}
	}
	return 2
}

// binomialUpperTail returns P(X >= c) for X ~ Binomial(n, p), summed in
// log space to avoid overflow/underflow for n in the low hundreds.
func binomialUpperTail(n, c int, p float64) float64 {
	if c <= 0 {
		return 1
	}
	if c > n {
		return 0
	}
	logP := math.Log(p)
	logQ := math.Log(1 - p)
	var sum float64
	for k := c; k <= n; k++ {
		logPMF := lgammaChoose(n, k) + float64(k)*logP + float64(n-k)*logQ
		sum += math.Exp(logPMF)
	}
	return sum
}

// lgammaChoose returns log(C(n, k)).
func lgammaChoose(n, k int) float64 {
	ln1, _ := math.Lgamma(float64(n + 1))
	lk1, _ := math.Lgamma(float64(k + 1))
	lnk1, _ := math.Lgamma(float64(n - k + 1))
	return ln1 - lk1 - lnk1
}
