// Package errs collects the sentinel errors shared across concur's
// subsystems, grouped by the taxonomy of kinds (not Go types) described for
// this toolkit: resource exhaustion, shutdown, and invariant violations are
// handled differently by design, so callers should match on these sentinels
// with errors.Is rather than assume any single error type.
package errs

import "errors"

var (
	// ErrClosed is returned by any blocking or non-blocking operation on a
	// channel, pool, or server that has already been closed or shut down.
	ErrClosed = errors.New("concur: closed")

	// ErrFull is returned by a non-blocking write that would exceed capacity.
	ErrFull = errors.New("concur: full")

	// ErrEmpty is returned by a non-blocking read that finds nothing to read.
	ErrEmpty = errors.New("concur: empty")

	// ErrNotOnWorker is returned by fiber.Sched when called outside of a
	// fiber started by a worker's Go.
	ErrNotOnWorker = errors.New("concur: sched called outside a running fiber")

	// ErrAlreadyServing is returned by a second call to Server.Serve while a
	// prior call is still running.
	ErrAlreadyServing = errors.New("concur: server is already serving")

	// ErrFDOutOfRange is returned by the reactor's poller when asked to
	// register an fd beyond its direct-indexed range.
	ErrFDOutOfRange = errors.New("concur: fd out of range")

	// ErrFDAlreadyRegistered is returned when registering an fd the poller
	// already has an active registration for.
	ErrFDAlreadyRegistered = errors.New("concur: fd already registered")

	// ErrFDNotRegistered is returned by ModifyFD/UnregisterFD for an fd with
	// no active registration.
	ErrFDNotRegistered = errors.New("concur: fd not registered")
)
