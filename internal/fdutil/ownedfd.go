// Package fdutil provides the small file-descriptor plumbing the reactor
// needs: a once-guarded owned fd, and a self-pipe that turns asynchronous
// wakeups (shutdown requests, signals) into a pollable fd. Grounded on
// eventloop/fd_unix.go's Unix fd helpers and eventloop/wakeup_linux.go's
// eventfd-based wakeup.
package fdutil

import (
	"sync"

	"golang.org/x/sys/unix"
)

// OwnedFD wraps a raw file descriptor with a Close guarded by sync.Once,
// so a connection or listener fd tolerates being closed more than once —
// spec.md's "guarded by a once-flag to tolerate double-destroy" — without
// double-closing the underlying descriptor (which on Unix can silently
// close an unrelated fd reused by the kernel in between).
type OwnedFD struct {
	fd   int
	once sync.Once
	err  error
}

// NewOwnedFD wraps fd.
func NewOwnedFD(fd int) *OwnedFD {
	return &OwnedFD{fd: fd}
}

// FD returns the underlying descriptor. Valid to call even after Close.
func (o *OwnedFD) FD() int { return o.fd }

// Close closes the descriptor exactly once; subsequent calls return the
// same result as the first.
func (o *OwnedFD) Close() error {
	o.once.Do(func() {
		o.err = unix.Close(o.fd)
	})
	return o.err
}

// Read and Write are thin pass-throughs, grounded on eventloop/fd_unix.go's
// readFD/writeFD.
func (o *OwnedFD) Read(buf []byte) (int, error)  { return unix.Read(o.fd, buf) }
func (o *OwnedFD) Write(buf []byte) (int, error) { return unix.Write(o.fd, buf) }
