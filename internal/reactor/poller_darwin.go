//go:build darwin

package reactor

import (
	"sync"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/kestrelnet/concur/internal/errs"
)

// maxFDLimit bounds the dynamic growth of the fds slice, mirroring
// eventloop/poller_darwin.go's MaxFDLimit.
const maxFDLimit = 100_000_000

type dfdInfo struct {
	cb     Callback
	events Events
	active bool
}

// kqueuePoller is the Darwin kqueue backing for poller, grounded on
// eventloop/poller_darwin.go's FastPoller: a dynamically grown fds slice
// (kqueue has no natural small upper bound the way epoll's fd space does
// in this toolkit's target environment) guarded by an RWMutex, and inline
// callback dispatch under RLock.
//
// Registrations carry EV_CLEAR (edge-triggered) and EV_ONESHOT (auto-
// disarm after firing once), matching the same edge-triggered/one-shot
// re-arm discipline the Linux poller gets from EPOLLET|EPOLLONESHOT.
type kqueuePoller struct {
	kq       int32
	eventBuf [256]unix.Kevent_t
	fds      []dfdInfo
	fdMu     sync.RWMutex
	closed   atomic.Bool
}

func newPoller() poller {
	return &kqueuePoller{}
}

func (p *kqueuePoller) Init() error {
	if p.closed.Load() {
		return errs.ErrClosed
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return err
	}
	unix.CloseOnExec(kq)
	p.kq = int32(kq)
	p.fds = make([]dfdInfo, 4096)
	return nil
}

func (p *kqueuePoller) Close() error {
	p.closed.Store(true)
	if p.kq > 0 {
		return unix.Close(int(p.kq))
	}
	return nil
}

func (p *kqueuePoller) RegisterFD(fd int, ev Events, cb Callback) error {
	if p.closed.Load() {
		return errs.ErrClosed
	}
	if fd < 0 || fd >= maxFDLimit {
		return errs.ErrFDOutOfRange
	}

	p.fdMu.Lock()
	p.growLocked(fd)
	if p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.ErrFDAlreadyRegistered
	}
	p.fds[fd] = dfdInfo{cb: cb, events: ev, active: true}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, ev, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR|unix.EV_ONESHOT)
	if len(kevents) > 0 {
		if _, err := unix.Kevent(int(p.kq), kevents, nil, nil); err != nil {
			p.fdMu.Lock()
			p.fds[fd] = dfdInfo{}
			p.fdMu.Unlock()
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) growLocked(fd int) {
	if fd < len(p.fds) {
		return
	}
	newSize := fd*2 + 1
	if newSize > maxFDLimit {
		newSize = maxFDLimit + 1
	}
	newFds := make([]dfdInfo, newSize)
	copy(newFds, p.fds)
	p.fds = newFds
}

func (p *kqueuePoller) UnregisterFD(fd int) error {
	if fd < 0 {
		return errs.ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.ErrFDNotRegistered
	}
	events := p.fds[fd].events
	p.fds[fd] = dfdInfo{}
	p.fdMu.Unlock()

	kevents := eventsToKevents(fd, events, unix.EV_DELETE)
	if len(kevents) > 0 {
		_, _ = unix.Kevent(int(p.kq), kevents, nil, nil) // best-effort; fd may already be closed
	}
	return nil
}

// ModifyFD re-arms fd's interest. Since every registration is EV_ONESHOT,
// the common case (re-arm after handling an event) is simply re-adding the
// same filter, which kqueue treats as idempotent.
func (p *kqueuePoller) ModifyFD(fd int, ev Events) error {
	if fd < 0 {
		return errs.ErrFDOutOfRange
	}
	p.fdMu.Lock()
	if fd >= len(p.fds) || !p.fds[fd].active {
		p.fdMu.Unlock()
		return errs.ErrFDNotRegistered
	}
	old := p.fds[fd].events
	p.fds[fd].events = ev
	p.fdMu.Unlock()

	if old&^ev != 0 {
		if del := eventsToKevents(fd, old&^ev, unix.EV_DELETE); len(del) > 0 {
			_, _ = unix.Kevent(int(p.kq), del, nil, nil)
		}
	}
	add := eventsToKevents(fd, ev, unix.EV_ADD|unix.EV_ENABLE|unix.EV_CLEAR|unix.EV_ONESHOT)
	if len(add) > 0 {
		if _, err := unix.Kevent(int(p.kq), add, nil, nil); err != nil {
			return err
		}
	}
	return nil
}

func (p *kqueuePoller) PollIO(timeoutMs int) (int, error) {
	if p.closed.Load() {
		return 0, errs.ErrClosed
	}
	var ts *unix.Timespec
	if timeoutMs >= 0 {
		ts = &unix.Timespec{
			Sec:  int64(timeoutMs / 1000),
			Nsec: int64((timeoutMs % 1000) * 1_000_000),
		}
	}

	n, err := unix.Kevent(int(p.kq), nil, p.eventBuf[:], ts)
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, err
	}
	p.dispatch(n)
	return n, nil
}

func (p *kqueuePoller) dispatch(n int) {
	for i := 0; i < n; i++ {
		fd := int(p.eventBuf[i].Ident)
		if fd < 0 {
			continue
		}
		p.fdMu.RLock()
		var info dfdInfo
		if fd < len(p.fds) {
			info = p.fds[fd]
		}
		p.fdMu.RUnlock()

		if info.active && info.cb != nil {
			info.cb(keventToEvents(&p.eventBuf[i]))
		}
	}
}

func eventsToKevents(fd int, ev Events, flags uint16) []unix.Kevent_t {
	var kevents []unix.Kevent_t
	if ev&EventRead != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_READ, Flags: flags})
	}
	if ev&EventWrite != 0 {
		kevents = append(kevents, unix.Kevent_t{Ident: uint64(fd), Filter: unix.EVFILT_WRITE, Flags: flags})
	}
	return kevents
}

func keventToEvents(kev *unix.Kevent_t) Events {
	var ev Events
	switch kev.Filter {
	case unix.EVFILT_READ:
		ev |= EventRead
	case unix.EVFILT_WRITE:
		ev |= EventWrite
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		ev |= EventError
	}
	if kev.Flags&unix.EV_EOF != 0 {
		ev |= EventHangup
	}
	return ev
}
