package pool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPool_submitRunsEveryTask(t *testing.T) {
	p := New(WithWorkers(4), WithQueueSize(64))
	defer p.Close()

	const n = 10_000
	var counter atomic.Int64
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.True(t, p.Submit(func() {
			counter.Add(1)
			wg.Done()
		}, false))
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("not every submitted task ran within the deadline")
	}
	assert.EqualValues(t, n, counter.Load())
}

func TestPool_freshPoolHasSubmittedNothing(t *testing.T) {
	p := New(WithWorkers(8), WithQueueSize(256))
	defer p.Close()

	idx := p.counter.Load()
	assert.EqualValues(t, 0, idx) // sanity: fresh pool hasn't submitted yet
}

func TestPool_closeStopsAcceptingWork(t *testing.T) {
	p := New(WithWorkers(2), WithQueueSize(8))
	p.Close()
	assert.False(t, p.Submit(func() {}, false))
}

func TestPool_closeWaitsForInFlightWorkersToDrain(t *testing.T) {
	p := New(WithWorkers(4), WithQueueSize(16))

	var ran atomic.Bool
	require.True(t, p.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		ran.Store(true)
	}, false))

	p.Close()
	assert.True(t, ran.Load(), "Close must wait for in-flight tasks to finish")
}

func TestPool_schedOutsideTaskReturnsError(t *testing.T) {
	assert.Error(t, Sched())
}

func TestPool_schedInsideTaskSuspendsAndResumes(t *testing.T) {
	p := New(WithWorkers(1), WithQueueSize(4))
	defer p.Close()

	var steps []string
	var mu sync.Mutex
	done := make(chan struct{})

	require.True(t, p.Submit(func() {
		mu.Lock()
		steps = append(steps, "before")
		mu.Unlock()
		require.NoError(t, Sched())
		mu.Lock()
		steps = append(steps, "after")
		mu.Unlock()
		close(done)
	}, false))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("task never completed after Sched")
	}

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"before", "after"}, steps)
}

func TestPool_workStealingMovesWorkOffABusyWorker(t *testing.T) {
	p := New(WithWorkers(2), WithQueueSize(256))
	defer p.Close()

	// Block worker 1 (the first Submit target) on a task that blocks until
	// released, then flood the pool; round-robin puts half of the flood
	// behind the blocked task. Worker 0 runs its own share and then steals
	// half of worker 1's queue at a time, which leaves exactly one task
	// behind: a victim queue of length 1 is never stolen from.
	release := make(chan struct{})
	require.True(t, p.Submit(func() {
		<-release
	}, false))

	var counter atomic.Int64
	const n = 200
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		require.True(t, p.Submit(func() {
			counter.Add(1)
			wg.Done()
		}, false))
	}

	deadline := time.After(5 * time.Second)
	for counter.Load() < n-1 {
		select {
		case <-deadline:
			t.Fatal("worker 0 never drained stolen work while worker 1 was blocked")
		case <-time.After(time.Millisecond):
		}
	}
	close(release)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("the task left behind the blocked worker never ran after release")
	}
	assert.EqualValues(t, n, counter.Load())
}
