// Package fiber implements the cooperative execution context described for
// this toolkit's coroutine layer (spec.md §4.2), realized as a goroutine
// parked on a rendezvous channel pair rather than a swapped machine context:
// spec.md §9 explicitly sanctions this substitution ("In a target that lacks
// user contexts, replace with ... native green-thread primitives"), and Go's
// goroutines are exactly the native green-thread primitive it has in mind.
//
// The contract preserved from the original design is: a fiber's callback
// runs until it either calls Sched (suspending, control returns to the
// caller of Go) or returns/panics (Dead, permanently). Exactly one of
// {caller, fiber} is ever actively running Go code at a time, matching the
// "one Running, one Waiting per thread" invariant of spec.md §3.
package fiber

import (
	"sync/atomic"

	"github.com/kestrelnet/concur/internal/errs"
	"github.com/kestrelnet/concur/internal/xlog"
)

// State mirrors spec.md §3's fiber state machine.
type State int32

const (
	Idle State = iota
	Runnable
	Running
	Waiting
	Dead
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Runnable:
		return "runnable"
	case Running:
		return "running"
	case Waiting:
		return "waiting"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

var idGen atomic.Uint64

// Fiber is a single-use cooperative execution context. Construct with New,
// start it with Go, and let the callback suspend itself via the
// package-level Sched function (called from inside the callback, on the
// fiber's own goroutine).
type Fiber struct {
	id    uint64
	state atomic.Int32

	cb func()

	resume  chan struct{}
	yield   chan struct{}
	started bool
}

// New creates an Idle fiber wrapping cb. cb is not run until the first call
// to Go.
func New(cb func()) *Fiber {
	return &Fiber{
		id:     idGen.Add(1),
		cb:     cb,
		resume: make(chan struct{}),
		yield:  make(chan struct{}),
	}
}

// ID returns the fiber's monotonically increasing identifier.
func (f *Fiber) ID() uint64 { return f.id }

// State returns the fiber's current state.
func (f *Fiber) State() State { return State(f.state.Load()) }

// Go starts (on first call) or resumes (on subsequent calls, after the
// fiber called Sched) the fiber, and blocks the caller until the fiber
// either calls Sched again or finishes (Dead). Precondition: the fiber must
// currently be Idle (never started) or Runnable (suspended by Sched); Go
// panics otherwise, e.g. on a Dead fiber (an InvariantViolation per spec.md
// §7).
func (f *Fiber) Go() {
	if f.State() != Idle && f.State() != Runnable {
		panic("fiber: Go called on a fiber that is not Runnable")
	}
	f.state.Store(int32(Running))

	if !f.started {
		f.started = true
		go f.trampoline()
	} else {
		f.resume <- struct{}{}
	}

	<-f.yield
}

// trampoline runs the user callback inside a recovered frame, so a panic
// inside cb is swallowed at this boundary rather than crashing the worker
// goroutine that called Go — matching spec.md §4.2's "any exception thrown
// inside a user callback is swallowed at the trampoline boundary".
func (f *Fiber) trampoline() {
	setCurrent(f)
	defer func() {
		if r := recover(); r != nil {
			if xlog.Enabled() {
				xlog.Warn(xlog.CategoryFiber).
					Uint64("fiber", f.id).
					Interface("panic", r).
					Msg("fiber callback panicked, swallowed at trampoline")
			}
		}
		f.state.Store(int32(Dead))
		clearCurrent()
		f.yield <- struct{}{}
	}()
	f.cb()
}

// Sched suspends the currently running fiber on this goroutine: the fiber
// transitions to Runnable, control returns to whoever called Go, and the
// fiber's goroutine blocks until the next Go call resumes it. Sched must be
// called from inside a callback running on its own fiber's goroutine;
// calling it from any other goroutine returns errs.ErrNotOnWorker (a no-op,
// matching spec.md §4.2's "No-op if called on main").
func Sched() error {
	f := current()
	if f == nil {
		return errs.ErrNotOnWorker
	}
	f.state.Store(int32(Runnable))
	f.yield <- struct{}{}
	<-f.resume
	f.state.Store(int32(Running))
	return nil
}

// goroutine-local fiber identity.
//
// Go exposes no addressable thread/goroutine-local storage, so unlike the
// original C++ toolkit's GetThis()/GetMain() (valid from anywhere on the
// owning OS thread), this substitute is scoped to the fiber's own dedicated
// goroutine via a small id-keyed map guarded by a mutex, keyed on the
// goroutine id internal/gid recovers, with the fiber's own trampoline
// registering/unregistering itself. Callers outside of a running fiber's
// callback (e.g. plain worker code) have no current fiber and must track
// their own state explicitly — a documented deviation, see SPEC_FULL.md
// REDESIGN FLAGS #2.
var registry = newFiberRegistry()

func setCurrent(f *Fiber) { registry.set(f) }
func clearCurrent()       { registry.clear() }
func current() *Fiber     { return registry.get() }

// Current returns the Fiber running on the calling goroutine, or nil if the
// calling goroutine is not inside a fiber's callback. This is the Go-native
// equivalent of the original toolkit's GetThis(); there is no equivalent of
// GetMain() in this design because the "main fiber" is simply whichever
// goroutine called Go and is not itself represented as a Fiber value (see
// SPEC_FULL.md REDESIGN FLAGS #2).
func Current() *Fiber { return current() }
