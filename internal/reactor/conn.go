package reactor

import (
	"bytes"
	"sync"

	"github.com/kestrelnet/concur/internal/fdutil"
)

// conn is one accepted client connection, matching spec.md §4.5's
// connection lifecycle (Accepted -> Readable* -> Writable* -> Closed).
type conn struct {
	fd *fdutil.OwnedFD

	mu       sync.Mutex
	readBuf  bytes.Buffer
	writeBuf bytes.Buffer
	closed   bool
}

func newConn(fd int, readBufCap int) *conn {
	c := &conn{fd: fdutil.NewOwnedFD(fd)}
	c.readBuf.Grow(readBufCap)
	return c
}

func (c *conn) close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closeLocked()
}

// closeLocked must be called with c.mu held.
func (c *conn) closeLocked() error {
	if c.closed {
		return nil
	}
	c.closed = true
	return c.fd.Close()
}
