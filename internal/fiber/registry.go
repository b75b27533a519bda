package fiber

import (
	"sync"

	"github.com/kestrelnet/concur/internal/gid"
)

// fiberRegistry maps the calling goroutine's runtime id to the Fiber
// currently executing on it. This is concur's substitute for the original
// toolkit's thread-local GetThis(): Go exposes no public goroutine-local
// storage API, so identity is recovered via internal/gid instead.
type fiberRegistry struct {
	mu sync.RWMutex
	m  map[int64]*Fiber
}

func newFiberRegistry() *fiberRegistry {
	return &fiberRegistry{m: make(map[int64]*Fiber)}
}

func (r *fiberRegistry) set(f *Fiber) {
	id := gid.Current()
	r.mu.Lock()
	r.m[id] = f
	r.mu.Unlock()
}

func (r *fiberRegistry) clear() {
	id := gid.Current()
	r.mu.Lock()
	delete(r.m, id)
	r.mu.Unlock()
}

func (r *fiberRegistry) get() *Fiber {
	id := gid.Current()
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.m[id]
}
