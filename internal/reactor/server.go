package reactor

import (
	"bytes"
	"context"
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sys/unix"

	"github.com/kestrelnet/concur/internal/errs"
	"github.com/kestrelnet/concur/internal/fdutil"
	"github.com/kestrelnet/concur/internal/pool"
	"github.com/kestrelnet/concur/internal/syncmap"
	"github.com/kestrelnet/concur/internal/xlog"
)

// RequestHandler is the request handler: it receives one fully-delivered request
// buffer and returns the response to write back, matching spec.md §6's
// init(port, callback, ...) signature.
type RequestHandler func(req []byte) []byte

// Server is the reactor: one poller, one listen socket, a self-pipe, a
// worker pool it dispatches callback invocations onto, and a
// *syncmap.Map[int, *conn] fd->connection registry — C4's first concrete
// consumer, per SPEC_FULL.md §5.
type Server struct {
	opts *options

	listenFD *fdutil.OwnedFD
	poller   poller
	selfPipe *fdutil.SelfPipe
	conns    *syncmap.Map[int, *conn]
	pool     *pool.Pool
	handler  RequestHandler

	// sem is the "semaphore gate" of spec.md §4.5: the poll loop acquires
	// it before submitting a read-dispatch task, and the task releases it
	// as its first action (right after capturing the *conn from the
	// registry), so the poll loop resumes as soon as the hand-off is safe
	// rather than waiting for the whole task to finish.
	sem *semaphore.Weighted

	serving     atomic.Bool
	sigShutdown atomic.Bool
	ownPool     bool
}

// New constructs a Server listening on port. It does not start accepting
// connections until Serve is called.
func New(port int, handler RequestHandler, opts ...Option) (*Server, error) {
	o := resolveOptions(opts)

	listenFD, err := listenTCP(port)
	if err != nil {
		return nil, err
	}
	selfPipe, err := fdutil.NewSelfPipe()
	if err != nil {
		_ = listenFD.Close()
		return nil, err
	}
	p := newPoller()
	if err := p.Init(); err != nil {
		_ = listenFD.Close()
		_ = selfPipe.Close()
		return nil, err
	}

	s := &Server{
		opts:     o,
		listenFD: listenFD,
		poller:   p,
		selfPipe: selfPipe,
		conns:    &syncmap.Map[int, *conn]{},
		pool:     pool.New(pool.WithWorkers(o.threads), pool.WithQueueSize(o.maxRequest)),
		handler:  handler,
		sem:      semaphore.NewWeighted(1),
		ownPool:  true,
	}
	return s, nil
}

// Serve runs the reactor's event loop (spec.md §4.5) until ctx is
// cancelled, a SIGINT/SIGTERM is delivered, or an unrecoverable poller
// error occurs. A delivered signal is detected through the self-pipe
// (spec.md §6's serve() contract: "blocks until SIGINT/SIGTERM or fatal
// error") independent of whatever ctx the caller passed in, so calling
// Serve with a bare context.Background() is already a complete,
// signal-terminated server loop. Only one Serve call may be active at a
// time; a concurrent second call returns errs.ErrAlreadyServing, matching
// the open-question decision recorded in SPEC_FULL.md §12.
func (s *Server) Serve(ctx context.Context) error {
	if !s.serving.CompareAndSwap(false, true) {
		return errs.ErrAlreadyServing
	}
	defer s.serving.Store(false)

	s.sigShutdown.Store(false)
	s.selfPipe.ResetSignaled()

	if err := s.poller.RegisterFD(s.listenFD.FD(), EventRead, s.onAcceptable); err != nil {
		return err
	}
	defer s.poller.UnregisterFD(s.listenFD.FD())

	if err := s.poller.RegisterFD(s.selfPipe.ReadFD(), EventRead, s.onWake); err != nil {
		return err
	}
	defer s.poller.UnregisterFD(s.selfPipe.ReadFD())

	stopWatch := make(chan struct{})
	defer close(stopWatch)
	go func() {
		select {
		case <-ctx.Done():
			s.selfPipe.Wake()
		case <-stopWatch:
		}
	}()

	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.sigShutdown.Load() {
			return nil
		}
		if _, err := s.poller.PollIO(-1); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if s.sigShutdown.Load() {
			return nil
		}
	}
}

// Addr returns the port the listen socket is bound to — useful when New
// was called with port 0 to let the kernel pick an ephemeral port.
func (s *Server) Addr() (int, error) {
	sa, err := unix.Getsockname(s.listenFD.FD())
	if err != nil {
		return 0, err
	}
	switch a := sa.(type) {
	case *unix.SockaddrInet4:
		return a.Port, nil
	default:
		return 0, errors.New("reactor: unexpected sockaddr type")
	}
}

// Close shuts down the server: closes every tracked connection, the
// listen socket, the self-pipe, the poller, and (if this Server owns it)
// the backing pool.
func (s *Server) Close() error {
	s.conns.Range(func(fd int, c *conn) bool {
		_ = c.close()
		return true
	})
	_ = s.listenFD.Close()
	_ = s.selfPipe.Close()
	err := s.poller.Close()
	if s.ownPool {
		s.pool.Close()
	}
	return err
}

// onWake handles both plain cross-goroutine wakeups (Serve's own ctx.Done()
// watcher) and OS-signal-triggered wakeups. A signaled wake sets
// sigShutdown rather than re-arming: Serve's loop checks that flag
// independent of ctx, so a delivered SIGINT/SIGTERM ends Serve even when
// the caller passed context.Background() (spec.md §4.5's "Signal pipe
// readable: ... if any byte equals SIGINT or SIGTERM, return from serve").
func (s *Server) onWake(Events) {
	s.selfPipe.Drain()
	if s.selfPipe.Signaled() {
		s.sigShutdown.Store(true)
		return
	}
	_ = s.poller.ModifyFD(s.selfPipe.ReadFD(), EventRead)
}

// onAcceptable drains the listen socket's accept backlog (edge-triggered:
// must loop until EAGAIN), registering each new connection for read
// events.
func (s *Server) onAcceptable(Events) {
	for {
		nfd, err := acceptNonblock(s.listenFD.FD())
		if err != nil {
			break // EAGAIN/EWOULDBLOCK: backlog drained for this edge
		}
		c := newConn(nfd, s.opts.readBuf)
		s.conns.Store(nfd, c)
		if err := s.poller.RegisterFD(nfd, EventRead, s.eventCallback(nfd)); err != nil {
			if xlog.Enabled() {
				xlog.Warn(xlog.CategoryConn).Int("fd", nfd).Err(err).Msg("register accepted fd failed")
			}
			s.retire(nfd, c)
		}
	}
	_ = s.poller.ModifyFD(s.listenFD.FD(), EventRead)
}

// eventCallback is the single callback a connection's fd is registered
// with for its whole lifetime; ModifyFD only ever changes which Events it
// is armed for (read-interest while awaiting a request, write-interest
// while flushing a response), not the callback itself.
func (s *Server) eventCallback(fd int) Callback {
	return func(ev Events) {
		if ev&(EventError|EventHangup) != 0 {
			if c, ok := s.conns.Load(fd); ok {
				s.retire(fd, c)
			}
			return
		}
		if ev&EventWrite != 0 {
			s.dispatchWrite(fd)
			return
		}
		s.dispatchRead(fd)
	}
}

// dispatchRead acquires the semaphore gate, then submits a task that
// captures the connection from the registry and releases the gate as its
// first action, letting Serve's poll loop continue without waiting for the
// rest of the task (the read, callback invocation, and re-arm for
// write-interest).
func (s *Server) dispatchRead(fd int) {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	submitted := s.pool.Submit(func() {
		c, found := s.conns.Load(fd)
		s.sem.Release(1)
		if !found {
			return
		}
		s.handleReadable(fd, c)
	}, false)
	if !submitted {
		s.sem.Release(1)
	}
}

// handleReadable accumulates one full request and hands the response off
// to the write side. It never writes the socket itself: spec.md §3 and
// §4.5 both describe a two-phase pipeline — a readable connection is
// re-armed for write-interest once a response is ready, and it is the
// write side (handleWritable) that flushes the response and retires the
// connection, matching _examples/original_source/server/server.cpp's
// processRead/processWrite split.
func (s *Server) handleReadable(fd int, c *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	buf := make([]byte, s.opts.readBuf)
	for {
		n, err := c.fd.Read(buf)
		if n > 0 {
			c.readBuf.Write(buf[:n])
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK || err == unix.EINTR {
				break
			}
			s.retireLocked(fd, c)
			return
		}
		if n == 0 {
			s.retireLocked(fd, c)
			return
		}
	}

	if c.readBuf.Len() == 0 {
		_ = s.poller.ModifyFD(fd, EventRead)
		return
	}

	req := bytes.Clone(c.readBuf.Bytes())
	c.readBuf.Reset()
	resp := s.handler(req)
	if len(resp) == 0 {
		// Nothing to flush: this connection's one request/response cycle
		// is already complete, so retire it now rather than arming for a
		// write that will never come.
		s.retireLocked(fd, c)
		return
	}

	c.writeBuf.Reset()
	c.writeBuf.Write(resp)
	_ = s.poller.ModifyFD(fd, EventWrite)
}

// dispatchWrite mirrors dispatchRead's semaphore-gated hand-off, for the
// write side of the pipeline.
func (s *Server) dispatchWrite(fd int) {
	if err := s.sem.Acquire(context.Background(), 1); err != nil {
		return
	}
	submitted := s.pool.Submit(func() {
		c, found := s.conns.Load(fd)
		s.sem.Release(1)
		if !found {
			return
		}
		s.handleWritable(fd, c)
	}, false)
	if !submitted {
		s.sem.Release(1)
	}
}

// handleWritable flushes c.writeBuf via writev-style successive writes and
// retires the connection once it is fully flushed, matching spec.md
// §4.5's "Connection writable: submit a task that writes the write buffer
// ... and then retires the connection" and
// _examples/original_source/io/conn.cpp's writeFd/freeConn pairing.
func (s *Server) handleWritable(fd int, c *conn) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	for c.writeBuf.Len() > 0 {
		n, err := c.fd.Write(c.writeBuf.Bytes())
		if n > 0 {
			c.writeBuf.Next(n)
		}
		if err != nil {
			if err == unix.EAGAIN || err == unix.EWOULDBLOCK {
				_ = s.poller.ModifyFD(fd, EventWrite)
				return
			}
			s.retireLocked(fd, c)
			return
		}
		if n == 0 {
			_ = s.poller.ModifyFD(fd, EventWrite)
			return
		}
	}

	s.retireLocked(fd, c)
}

func (s *Server) retire(fd int, c *conn) {
	c.mu.Lock()
	s.retireLocked(fd, c)
	c.mu.Unlock()
}

// retireLocked must be called with c.mu held.
func (s *Server) retireLocked(fd int, c *conn) {
	_ = s.poller.UnregisterFD(fd)
	s.conns.Evict(fd)
	_ = c.closeLocked()
}
