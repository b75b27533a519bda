// Package objpool implements the sharded instance pool of spec.md §4.6: a
// per-shard private slot (fast path, spin-CAS guarded) plus a shared FIFO
// (slow path), with generational eviction recycling idle instances after
// roughly two sweep intervals.
package objpool

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/kestrelnet/concur/internal/gid"
	"github.com/kestrelnet/concur/internal/xlog"
)

// defaultShards matches spec.md §4.6's default level count.
const defaultShards = 8

// shard holds one private (spin-CAS guarded, single-slot) fast path and
// one shared FIFO (mutex guarded) slow path for a subset of callers,
// reducing contention versus a single pool-wide lock.
type shard[T any] struct {
	privLocked atomic.Bool // test-and-set spinlock guarding privVal
	privVal    *T
	privSet    bool

	mu     sync.Mutex
	local  []*T // current generation, appended to by Put
	victim []*T // previous generation, drained by Get, never appended to by Put
}

func (s *shard[T]) lockPriv() {
	for !s.privLocked.CompareAndSwap(false, true) {
		// spin: the private slot is only ever held for a few instructions
		// (a load/compare or a store), same rationale the teacher's
		// FastPoller gives for avoiding heavier locks on its hot path.
	}
}

func (s *shard[T]) unlockPriv() {
	s.privLocked.Store(false)
}

// Pool recycles *T instances across goroutines via sharded private/shared
// slots, with a factory used when nothing is available to reuse.
type Pool[T any] struct {
	shards  []*shard[T]
	factory func() *T
	reset   func(*T)

	expiry time.Duration
	ticker *time.Ticker
	done   chan struct{}
	wg     sync.WaitGroup
}

// New constructs a Pool. factory creates a new *T when nothing is
// available to recycle; reset (optional, may be nil) is called on a
// instance before it is returned to the pool by Put.
func New[T any](factory func() *T, reset func(*T), opts ...Option) *Pool[T] {
	o := resolveOptions(opts)

	p := &Pool[T]{
		shards:  make([]*shard[T], o.shards),
		factory: factory,
		reset:   reset,
		expiry:  o.expiry,
		done:    make(chan struct{}),
	}
	for i := range p.shards {
		p.shards[i] = &shard[T]{}
	}

	if o.expiry > 0 {
		p.ticker = time.NewTicker(o.expiry / 2)
		p.wg.Add(1)
		go p.evictLoop()
	}
	return p
}

// pick returns the shard affine to the calling goroutine, so a Get
// followed shortly after by a Put from the same goroutine (the usual
// acquire/use/release pattern) lands on the same private slot instead of
// a uniformly random one — a plain round-robin counter would decorrelate
// Get and Put entirely and defeat the private slot's purpose.
func (p *Pool[T]) pick() *shard[T] {
	id := gid.Current()
	return p.shards[uint64(id)%uint64(len(p.shards))]
}

// Get returns a recycled instance if one is available (checking this
// goroutine's shard's private slot, then its shared FIFO, then every other
// shard's shared FIFO), or a freshly constructed one from factory.
func (p *Pool[T]) Get() *T {
	s := p.pick()

	s.lockPriv()
	if s.privSet {
		v := s.privVal
		s.privVal = nil
		s.privSet = false
		s.unlockPriv()
		return v
	}
	s.unlockPriv()

	if v := s.popShared(); v != nil {
		return v
	}

	for _, other := range p.shards {
		if other == s {
			continue
		}
		if v := other.popShared(); v != nil {
			return v
		}
	}

	if xlog.Enabled() {
		xlog.Debug(xlog.CategoryObjPool).Msg("pool miss, constructing new instance")
	}
	return p.factory()
}

func (s *shard[T]) popShared() *T {
	s.mu.Lock()
	defer s.mu.Unlock()
	// oldest first: the previous generation, then the current one.
	if len(s.victim) > 0 {
		v := s.victim[0]
		s.victim[0] = nil
		s.victim = s.victim[1:]
		return v
	}
	if len(s.local) > 0 {
		v := s.local[0]
		s.local[0] = nil
		s.local = s.local[1:]
		return v
	}
	return nil
}

// Put returns v to the pool for future reuse, after calling reset (if
// configured). It tries this goroutine's shard's private slot first, then
// falls back to its shared FIFO.
func (p *Pool[T]) Put(v *T) {
	if v == nil {
		return
	}
	if p.reset != nil {
		p.reset(v)
	}

	s := p.pick()
	s.lockPriv()
	if !s.privSet {
		s.privVal = v
		s.privSet = true
		s.unlockPriv()
		return
	}
	s.unlockPriv()

	s.mu.Lock()
	s.local = append(s.local, v)
	s.mu.Unlock()
}

// evictLoop rotates each shard's two-generation shared cache, dropping
// whatever survived a full generation untouched — spec.md §4.6's
// generational eviction ("semaphore posted by the eviction thread"),
// realized here as a background goroutine joined via a WaitGroup. Every
// tick rotates victim := local (plus the private slot's instance, if any),
// local := fresh, private slot := empty; an instance therefore
// survives at most one full expiry interval (two ticks at expiry/2) after
// its last Put before being dropped for GC.
func (p *Pool[T]) evictLoop() {
	defer p.wg.Done()
	for {
		select {
		case <-p.ticker.C:
			p.rotateOnce()
		case <-p.done:
			return
		}
	}
}

func (p *Pool[T]) rotateOnce() {
	for _, s := range p.shards {
		s.lockPriv()
		priv, hadPriv := s.privVal, s.privSet
		s.privVal, s.privSet = nil, false
		s.unlockPriv()

		s.mu.Lock()
		dropped := len(s.victim)
		s.victim = s.local
		if hadPriv {
			s.victim = append(s.victim, priv)
		}
		s.local = nil
		s.mu.Unlock()
		if dropped > 0 && xlog.Enabled() {
			xlog.Debug(xlog.CategoryObjPool).Int("dropped", dropped).Msg("generational eviction dropped stale victim cache")
		}
	}
}

// Close stops the background eviction goroutine (a no-op if eviction was
// disabled) and waits for it to exit.
func (p *Pool[T]) Close() {
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.done)
	p.wg.Wait()
}
