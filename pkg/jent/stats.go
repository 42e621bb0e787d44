package jent

// ema is an exponential moving average, adapted field-for-field from the
// teacher's pkg/system/util.EMA: the first sample sets the initial state
// exactly (no blending against a zero-value prev), and every later sample
// blends via alpha*v + (1-alpha)*prev.
type ema struct {
	alpha, prev float64
	ok          bool
}

func newEMA(alpha float64) *ema { return &ema{alpha: alpha} }

func (e *ema) next(v float64) float64 {
	if !e.ok {
		e.prev, e.ok = v, true
		return v
	}
	e.prev = e.alpha*v + (1-e.alpha)*e.prev
	return e.prev
}

// Stats is a diagnostic, non-authoritative snapshot of a Collector's
// recent production rate (spec.md §1 disclaims bounding entropy
// *production rate*; Stats only reports it). Never consulted by Read's
// pass/fail logic.
type Stats struct {
	// BytesPerSecEMA is an exponentially smoothed bytes/second estimate,
	// updated once per Read call from that call's wall-clock duration.
	BytesPerSecEMA float64

	// TotalBytes is the cumulative number of bytes ever returned by Read.
	TotalBytes uint64

	// TotalReads is the number of completed Read calls.
	TotalReads uint64
}
