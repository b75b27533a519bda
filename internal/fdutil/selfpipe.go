package fdutil

import (
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
)

// SelfPipe bridges asynchronous wakeups — SIGINT/SIGTERM and explicit
// Wake() calls from other goroutines — into a single fd the reactor's
// poller can register for EventRead, exactly as spec.md's self-pipe
// component. The underlying fd is an eventfd on Linux
// (createWakeFd/drainWakeUpPipe in eventloop/wakeup_linux.go) or a pipe(2)
// pair elsewhere; both are opaque behind ReadFD/Drain/Wake/Close.
type SelfPipe struct {
	readFD, writeFD int

	sigCh chan os.Signal
	done  chan struct{}

	// signaled is set by relay when the wake was caused by a delivered
	// SIGINT/SIGTERM, as distinct from a plain Wake() call, so a reader of
	// ReadFD (the reactor's poll loop) can tell the two apart and honor
	// spec.md §4.5's "if any byte equals SIGINT or SIGTERM, return from
	// serve" without needing the caller's own context to carry the signal.
	signaled atomic.Bool

	closeOnce sync.Once
}

// NewSelfPipe creates the wakeup fd, installs SIGINT/SIGTERM notification,
// and starts the goroutine translating received signals into pipe writes.
func NewSelfPipe() (*SelfPipe, error) {
	r, w, err := createWakeFd()
	if err != nil {
		return nil, err
	}
	sp := &SelfPipe{
		readFD:  r,
		writeFD: w,
		sigCh:   make(chan os.Signal, 1),
		done:    make(chan struct{}),
	}
	signal.Notify(sp.sigCh, syscall.SIGINT, syscall.SIGTERM)
	go sp.relay()
	return sp, nil
}

func (sp *SelfPipe) relay() {
	for {
		select {
		case <-sp.sigCh:
			sp.signaled.Store(true)
			sp.Wake()
		case <-sp.done:
			return
		}
	}
}

// ReadFD is the descriptor to register with the poller for EventRead.
func (sp *SelfPipe) ReadFD() int { return sp.readFD }

// Signaled reports whether a SIGINT/SIGTERM has been delivered since the
// last ResetSignaled. Later plain Wake() calls do not clear it; only
// ResetSignaled does.
func (sp *SelfPipe) Signaled() bool { return sp.signaled.Load() }

// ResetSignaled clears the signaled flag, for a server that wants to Serve
// again after a prior signal-triggered shutdown.
func (sp *SelfPipe) ResetSignaled() { sp.signaled.Store(false) }

// Wake performs a single non-blocking write that makes ReadFD become
// readable, for waking the poll loop from any goroutine (shutdown
// requests, a write becoming available on a connection the poll loop
// isn't currently watching for writability, etc).
func (sp *SelfPipe) Wake() {
	writeWakeFd(sp.writeFD)
}

// Drain consumes all pending wakeups on ReadFD, so the next PollIO call
// doesn't immediately spin on a still-readable self-pipe fd.
func (sp *SelfPipe) Drain() {
	drainWakeFd(sp.readFD)
}

// Close stops signal relaying and closes both ends of the pipe.
func (sp *SelfPipe) Close() error {
	var err error
	sp.closeOnce.Do(func() {
		signal.Stop(sp.sigCh)
		close(sp.done)
		err = closeWakeFd(sp.readFD, sp.writeFD)
	})
	return err
}
