package timer

import "sync/atomic"

// External adapts a caller-supplied ThreadOps vtable (spec.md §6's "thread
// interface") into a Source, so SwitchNotimeImpl can replace the default
// OS-goroutine SW timer without the rest of the package knowing the
// difference. The counting routine itself is still the package's own tight
// increment loop; ThreadOps only controls how that routine's goroutine (or
// thread, if the caller bridges to a real OS thread) is created and torn
// down.
type External struct {
	ops     *ThreadOps
	ctx     any
	counter atomic.Uint64
}

// NewExternal returns a stopped External timer bound to ops. ops must not be
// nil; callers are responsible for validating that before installing it.
func NewExternal(ops *ThreadOps) *External {
	return &External{ops: ops}
}

// Start runs ops.Init then ops.Start, handing the routine a stop channel that
// the counting loop watches cooperatively (spec.md §5 "Cancellation").
func (e *External) Start() error {
	ctx, err := e.ops.Init()
	if err != nil {
		return err
	}
	e.ctx = ctx
	return e.ops.Start(ctx, func(stop <-chan struct{}) {
		for {
			select {
			case <-stop:
				return
			default:
				e.counter.Add(1)
			}
		}
	})
}

// Stop runs ops.Stop followed by ops.Fini, both best-effort (spec.md §5).
func (e *External) Stop() {
	if e.ops.Stop != nil {
		e.ops.Stop(e.ctx)
	}
	if e.ops.Fini != nil {
		e.ops.Fini(e.ctx)
	}
}

// Now implements Source.
func (e *External) Now() uint64 {
	return e.counter.Load()
}
