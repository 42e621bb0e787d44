package timer

import (
	"time"

	"github.com/klauspost/cpuid/v2"
	"golang.org/x/sys/cpu"
)

// HW reads the Go runtime's monotonic clock. Go gives no portable way to
// read a raw cycle counter without cgo or assembly, and this retrieval
// pack contains no such dependency, so the monotonic wall clock is the
// idiomatic stand-in for "a platform cycle counter" (spec.md §4.1):
// time.Now() on every supported Go platform is backed by a monotonic,
// sub-microsecond-resolution source.
type HW struct{}

// NewHW returns a hardware timer source.
func NewHW() HW { return HW{} }

// Now implements Source.
func (HW) Now() uint64 {
	return uint64(time.Now().UnixNano())
}

// DetectCapabilities reports CPU features (see SPEC_FULL.md's DOMAIN STACK
// section); CacheLineSize also feeds the memory workload's sizing. cpu.CacheLinePadSize is not
// exported by golang.org/x/sys/cpu, so cache line size is taken from the
// klauspost/cpuid package, which both reports it directly and adds a
// human-readable vendor/family string that x/sys/cpu does not provide.
func DetectCapabilities() Capabilities {
	return Capabilities{
		VendorID:      cpuid.CPU.VendorString,
		Family:        cpuid.CPU.Family,
		HasAVX2:       cpu.X86.HasAVX2,
		HasRDTSCP:     cpu.X86.HasRDTSCP,
		CacheLineSize: cpuid.CPU.CacheLine,
	}
}
