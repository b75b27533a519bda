package fiber

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/concur/internal/errs"
)

func TestFiber_runsToCompletion(t *testing.T) {
	ran := false
	f := New(func() { ran = true })
	assert.Equal(t, Idle, f.State())

	f.Go()
	assert.True(t, ran)
	assert.Equal(t, Dead, f.State())
}

func TestFiber_schedSuspendsAndResumes(t *testing.T) {
	var steps []string
	f := New(func() {
		steps = append(steps, "a")
		require.NoError(t, Sched())
		steps = append(steps, "b")
	})

	f.Go()
	assert.Equal(t, []string{"a"}, steps)
	assert.Equal(t, Runnable, f.State())

	f.Go()
	assert.Equal(t, []string{"a", "b"}, steps)
	assert.Equal(t, Dead, f.State())
}

func TestFiber_goOnDeadFiberPanics(t *testing.T) {
	f := New(func() {})
	f.Go()
	assert.Panics(t, func() { f.Go() })
}

func TestSched_outsideFiberReturnsErrNotOnWorker(t *testing.T) {
	assert.ErrorIs(t, Sched(), errs.ErrNotOnWorker)
}

func TestFiber_panicInCallbackIsSwallowed(t *testing.T) {
	f := New(func() { panic("boom") })
	assert.NotPanics(t, func() { f.Go() })
	assert.Equal(t, Dead, f.State())
}

func TestCurrent_reflectsRunningFiberOnItsOwnGoroutine(t *testing.T) {
	var seen *Fiber
	var f *Fiber
	f = New(func() {
		seen = Current()
	})
	f.Go()
	assert.Same(t, f, seen)
	assert.Nil(t, Current(), "the test goroutine itself is not inside a fiber")
}
