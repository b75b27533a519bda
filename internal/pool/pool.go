// Package pool implements the work-stealing worker pool scheduler of
// spec.md §4.3: a fixed set of goroutines, each owning a bounded local task
// queue and a thread-local runnable-fiber queue, with round-robin
// submission and random-victim work stealing guarded by a per-worker
// rwlock.
//
// The lifecycle shape (a CAS-guarded one-time shutdown flag, closing each
// worker's queue, a WaitGroup joined by Close) is modeled on
// microbatch.Batcher's Submit/Shutdown/Close/run, generalized from a single
// background goroutine to N worker goroutines each running their own copy
// of the same loop.
package pool

import (
	"math/rand"
	"sync"
	"sync/atomic"

	"github.com/kestrelnet/concur/internal/chanq"
	"github.com/kestrelnet/concur/internal/fiber"
	"github.com/kestrelnet/concur/internal/xlog"
)

// Task is an opaque callable submitted to the pool, matching spec.md §3's
// "opaque callable with no parameters and no return value".
type Task = func()

// localBurstLimit bounds how many fresh local tasks a worker executes
// before checking its schedq, guaranteeing a yielded fiber is resumed
// within a bounded number of fresh task executions (spec.md §4.3
// "anti-starvation").
const localBurstLimit = 10

// worker is a single pool worker: an index, a bounded local task queue, a
// thread-local schedq of yielded fibers, and the rwlock spec.md §4.3
// prescribes to interlock submission (shared) against stealing into this
// worker's queue (exclusive).
type worker struct {
	index int
	queue *chanq.Chan[Task]
	mu    sync.RWMutex // shared on submit, exclusive on steal-into-self

	schedq []*fiber.Fiber // thread-local, touched only by this worker's goroutine
}

// Pool is a fixed set of worker goroutines implementing spec.md §4.3.
type Pool struct {
	workers []*worker
	counter atomic.Uint64
	closed  atomic.Bool
	wg      sync.WaitGroup
}

// New constructs and starts a Pool. Workers begin running immediately.
func New(opts ...Option) *Pool {
	o := resolveOptions(opts)

	p := &Pool{
		workers: make([]*worker, o.workers),
	}
	for i := range p.workers {
		p.workers[i] = &worker{
			index: i,
			queue: chanq.New[Task](o.queueSize),
		}
	}

	p.wg.Add(len(p.workers))
	for _, w := range p.workers {
		w := w
		go func() {
			defer p.wg.Done()
			w.run(p)
		}()
	}
	return p
}

// Submit enqueues task onto a round-robin-selected worker. Returns false if
// the pool is closed, or (in nonblock mode) if the target worker's queue is
// full.
func (p *Pool) Submit(task Task, nonblock bool) bool {
	if p.closed.Load() {
		return false
	}
	idx := p.counter.Add(1) % uint64(len(p.workers))
	w := p.workers[idx]

	// Submission is a shared reader of "there is room in this queue" —
	// stealing (exclusive) temporarily widens the destination queue's size
	// and must exclude concurrent submission to avoid racing a blocking
	// submit against a steal that fills the queue out from under it
	// (spec.md §4.3 "why the rwlock").
	w.mu.RLock()
	defer w.mu.RUnlock()

	err := w.queue.Write(task, nonblock)
	return err == nil
}

// Close closes every worker's local task queue (waking any blocked reader)
// and waits for all worker goroutines to exit. In-flight tasks run to
// completion; spec.md's shutdown is cooperative, not preemptive.
func (p *Pool) Close() {
	if !p.closed.CompareAndSwap(false, true) {
		return
	}
	for _, w := range p.workers {
		w.queue.Close()
	}
	p.wg.Wait()
}

// Sched suspends the fiber currently running on the calling goroutine,
// returning control to the worker loop until it is resumed. It is only
// valid when called from inside a task's callback, which always runs on a
// fiber started by worker.run. Returns errs.ErrNotOnWorker if called
// elsewhere, matching spec.md §4.2's "No-op if called on main".
func Sched() error {
	return fiber.Sched()
}

// run implements spec.md §4.3's worker main loop, steps 1-6.
func (w *worker) run(p *Pool) {
	for {
		// step 1: exit once the pool is closed and nothing is left to drain.
		if p.closed.Load() && w.queue.Len() == 0 && len(w.schedq) == 0 {
			return
		}

		// step 2: local task burst.
		gotLocal := false
		for i := 0; i < localBurstLimit; i++ {
			t, err := w.queue.Read(true)
			if err != nil {
				break
			}
			gotLocal = true
			w.runFiber(t)
		}

		// step 3: one schedq drain step, then continue the outer loop.
		if len(w.schedq) > 0 {
			f := w.schedq[0]
			w.schedq = w.schedq[1:]
			w.resumeFiber(f)
			continue
		}

		// step 4: local queue was non-empty — loop without stealing.
		if gotLocal {
			continue
		}

		// step 5: work stealing.
		if w.trySteal(p) {
			continue
		}

		// step 6: block for the next task.
		t, err := w.queue.Read(false)
		if err != nil {
			if p.closed.Load() {
				continue // re-enter the loop; step 1 will observe drained+closed and exit.
			}
			continue
		}
		w.runFiber(t)
	}
}

func (w *worker) runFiber(t Task) {
	f := fiber.New(t)
	w.resumeFiber(f)
}

func (w *worker) resumeFiber(f *fiber.Fiber) {
	f.Go()
	if f.State() != fiber.Dead {
		w.schedq = append(w.schedq, f)
	}
}

// trySteal attempts to steal roughly half of a random victim's local task
// queue into this worker's own queue, per spec.md §4.3 step 5. It acquires
// this worker's rwlock exclusively for the duration, since the destination
// (not the victim) is the one whose invariant ("room for S more tasks") is
// being temporarily widened.
func (w *worker) trySteal(p *Pool) bool {
	n := len(p.workers)
	if n < 2 {
		return false
	}
	victim := p.workers[randomOtherIndex(w.index, n)]

	s := victim.queue.Len() / 2
	if s <= 0 {
		return false
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.queue.Cap()-w.queue.Len() < s {
		return false // insufficient capacity at the destination: abort silently
	}

	buf := make([]Task, s)
	if err := victim.queue.ReadNNonblock(buf); err != nil {
		return false // victim's queue shrank or closed between check and read
	}
	if err := w.queue.WriteN(buf, true); err != nil {
		// should not happen given the capacity check above under our own
		// exclusive lock, but fail safe rather than drop tasks silently.
		if xlog.Enabled() {
			xlog.Warn(xlog.CategorySteal).Err(err).Msg("steal write-back failed after capacity check")
		}
		return false
	}
	return true
}

func randomOtherIndex(self, n int) int {
	if n < 2 {
		return self
	}
	for {
		i := rand.Intn(n)
		if i != self {
			return i
		}
	}
}
