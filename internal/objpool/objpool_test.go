package objpool

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type widget struct {
	n int
}

func TestPool_getConstructsWhenEmpty(t *testing.T) {
	var constructed int
	p := New(func() *widget {
		constructed++
		return &widget{}
	}, nil)
	defer p.Close()

	w := p.Get()
	require.NotNil(t, w)
	assert.Equal(t, 1, constructed)
}

func TestPool_putThenGetRecyclesInstance(t *testing.T) {
	p := New(func() *widget { return &widget{} }, func(w *widget) { w.n = 0 })
	defer p.Close()

	w1 := p.Get()
	w1.n = 42
	p.Put(w1)

	w2 := p.Get()
	assert.Same(t, w1, w2)
	assert.Equal(t, 0, w2.n, "reset must run before the instance is handed back out")
}

func TestPool_concurrentGetPut(t *testing.T) {
	var constructed int
	var mu sync.Mutex
	p := New(func() *widget {
		mu.Lock()
		constructed++
		mu.Unlock()
		return &widget{}
	}, func(w *widget) { w.n = 0 })
	defer p.Close()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				w := p.Get()
				w.n = j
				p.Put(w)
			}
		}()
	}
	wg.Wait()
}

func TestPool_generationalEvictionDropsIdleInstances(t *testing.T) {
	var constructed int
	var mu sync.Mutex
	p := New(func() *widget {
		mu.Lock()
		constructed++
		mu.Unlock()
		return &widget{}
	}, nil, WithExpiry(20*time.Millisecond))
	defer p.Close()

	w := p.Get() // constructed == 1
	p.Put(w)

	// two rotations (expiry/2 each) must elapse for an un-reclaimed instance
	// to fall out of both generations, forcing the next Get to construct.
	time.Sleep(120 * time.Millisecond)

	_ = p.Get()
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 2, constructed, "instance put before two rotations should have been evicted")
}

func TestPool_closeWithoutExpiryIsNoop(t *testing.T) {
	p := New(func() *widget { return &widget{} }, nil)
	assert.NotPanics(t, p.Close)
}
