package chanq

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrelnet/concur/internal/errs"
)

func TestNew_invalidCapacityPanics(t *testing.T) {
	assert.Panics(t, func() { New[int](0) })
	assert.Panics(t, func() { New[int](-1) })
}

func TestWriteRead_roundTrip(t *testing.T) {
	c := New[int](4)
	require.NoError(t, c.Write(1, false))
	require.NoError(t, c.Write(2, false))
	assert.Equal(t, 2, c.Len())

	v, err := c.Read(false)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	v, err = c.Read(false)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}

func TestWrite_nonblockFullReturnsErrFull(t *testing.T) {
	c := New[int](2)
	require.NoError(t, c.Write(1, true))
	require.NoError(t, c.Write(2, true))
	assert.ErrorIs(t, c.Write(3, true), errs.ErrFull)
}

func TestRead_nonblockEmptyReturnsErrEmpty(t *testing.T) {
	c := New[int](2)
	_, err := c.Read(true)
	assert.ErrorIs(t, err, errs.ErrEmpty)
}

func TestWrite_blocksUntilSpaceThenSucceeds(t *testing.T) {
	c := New[int](1)
	require.NoError(t, c.Write(1, true))

	done := make(chan error, 1)
	go func() { done <- c.Write(2, false) }()

	select {
	case <-done:
		t.Fatal("Write should have blocked with the queue full")
	case <-time.After(20 * time.Millisecond):
	}

	v, err := c.Read(false)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("blocked Write never unblocked after a Read freed space")
	}
}

func TestWriteNReadN_allOrNothing(t *testing.T) {
	c := New[int](4)
	require.NoError(t, c.WriteN([]int{1, 2, 3}, false))
	assert.Equal(t, 3, c.Len())

	dst := make([]int, 2)
	require.NoError(t, c.ReadNNonblock(dst))
	assert.Equal(t, []int{1, 2}, dst)

	// only one item left; a non-blocking ReadN of 2 must fail without
	// consuming the remaining item.
	dst2 := make([]int, 2)
	assert.ErrorIs(t, c.ReadNNonblock(dst2), errs.ErrEmpty)
	assert.Equal(t, 1, c.Len())
}

func TestWriteN_exceedsCapacityReturnsErrFull(t *testing.T) {
	c := New[int](2)
	assert.ErrorIs(t, c.WriteN([]int{1, 2, 3}, true), errs.ErrFull)
}

func TestClose_wakesBlockedReadersAndWriters(t *testing.T) {
	c := New[int](1)
	require.NoError(t, c.Write(1, true)) // fill it

	var wg sync.WaitGroup
	wg.Add(2)
	results := make(chan error, 3)

	go func() {
		defer wg.Done()
		_, err := c.Read(false) // drains the buffered item
		results <- err
		_, err = c.Read(false) // receives the writer's item
		results <- err
		_, err = c.Read(false) // then blocks until Close
		results <- err
	}()
	go func() {
		defer wg.Done()
		results <- c.Write(2, false) // blocks until the reader frees the slot
	}()

	time.Sleep(20 * time.Millisecond)
	c.Close()
	wg.Wait()
	close(results)

	sawClosedErr := false
	for err := range results {
		if err == errs.ErrClosed {
			sawClosedErr = true
		}
	}
	assert.True(t, sawClosedErr, "at least one blocked caller should observe ErrClosed")

	_, err := c.Read(true)
	assert.ErrorIs(t, err, errs.ErrClosed)
	assert.ErrorIs(t, c.Write(3, true), errs.ErrClosed)
}

func TestClose_idempotent(t *testing.T) {
	c := New[int](1)
	c.Close()
	c.Close() // must not block or panic
}
