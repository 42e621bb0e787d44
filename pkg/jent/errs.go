package jent

import (
	"errors"
	"fmt"

	"github.com/ja7ad/jent/pkg/health"
)

// Programming errors (spec.md §7's EPROGERR class): null arguments, zero
// length, use-after-free, or misordered calls. Mirrors
// pkg/system/proc/errs.go's single var(...) block of sentinel errors.
var (
	// ErrProgrammingError is returned for null pointers, zero len,
	// use-after-free, or any other caller-contract violation (spec.md §7).
	ErrProgrammingError = errors.New("jent: programming error")

	// ErrInUse is returned by SwitchNotimeImpl when called after Init
	// (spec.md §6, §8 scenario 6).
	ErrInUse = errors.New("jent: notime implementation already in use")

	// ErrClosed is returned by Read/ReadSafe on a Collector that has
	// already been Closed (spec.md §7's "use after free").
	ErrClosed = errors.New("jent: collector already closed")
)

// HealthFailureError is returned by Read/ReadSafe once a permanent health
// test failure has doomed the Collector (spec.md §4.7 "Failure
// semantics"). Its value encodes which test(s) tripped (spec.md §6).
type HealthFailureError struct {
	Mask health.FailureMask
}

func (e *HealthFailureError) Error() string {
	return fmt.Sprintf("jent: permanent health failure (mask=%d)", e.Mask)
}

// Is lets callers use errors.Is(err, ErrHealthFailure) without caring
// about the specific mask, matching the teacher's errors.Is-oriented style
// in cmd/consumption/main.go.
func (e *HealthFailureError) Is(target error) bool {
	_, ok := target.(*HealthFailureError)
	return ok
}

// ErrHealthFailure is a zero-mask sentinel usable with errors.Is; compare
// against an actual returned error's concrete *HealthFailureError.Mask for
// the failing test(s).
var ErrHealthFailure = &HealthFailureError{}
