// Package jent implements a non-physical true random number generator
// seeded by CPU execution-time jitter: the sub-instruction-level timing
// noise produced by cache misses, branch mispredictions, DRAM refresh, and
// interrupts, which is not reproducible even on identical hardware running
// identical code.
//
// # Overview
//
//   - Init(osr, flags) runs the process-wide startup self-test once
//     (pkg/selftest): it measures the chosen timer's resolution,
//     monotonicity, variation, and stuck-rate, derives the common timer
//     GCD, and picks between the hardware timer and the software
//     free-running counter.
//   - Alloc(osr, flags) returns a *Collector bound to the timer and GCD
//     Init selected.
//   - (*Collector).Read fills a buffer with SHAKE256-conditioned output,
//     one 32-byte chunk at a time, running the health tests (pkg/health)
//     on every measurement round.
//   - ReadSafe wraps Read with the auto-reinit behavior spec.md §4.7
//     describes: on a permanent health failure it discards the Collector,
//     allocates a replacement with the same parameters, and retries once.
//
// # Health failures are permanent
//
// Once the Repetition Count Test, Adaptive Proportion Test, or Lag
// Predictor trips, every later Read on that Collector fails the same way;
// there is no recovery short of ReadSafe's reallocation. A single
// process-wide FailureCallback, set with SetFIPSFailureCallback, is invoked
// once per Collector, the first time that Collector hits this state.
//
// # Example
//
//	if err := jent.Init(0, jent.FlagFIPSMode); err != nil {
//		log.Fatal(err)
//	}
//	ec, err := jent.Alloc(0, jent.FlagFIPSMode)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer ec.Close()
//
//	var seed [32]byte
//	if _, err := ec.Read(seed[:]); err != nil {
//		log.Fatal(err)
//	}
package jent
