package gpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// TestPoolBoundsConcurrency verifies that no more than size workers run at
// the same time even when many more are queued.
func TestPoolBoundsConcurrency(t *testing.T) {
	const size = 3
	const workers = 20

	pool := New(size)

	var running int32
	var peak int32
	var mu sync.Mutex

	for i := 0; i < workers; i++ {
		pool.Add(1)
		go func() {
			defer pool.Done()

			n := atomic.AddInt32(&running, 1)
			mu.Lock()
			if n > peak {
				peak = n
			}
			mu.Unlock()

			time.Sleep(5 * time.Millisecond)
			atomic.AddInt32(&running, -1)
		}()
	}

	pool.Wait()

	assert.LessOrEqual(t, peak, int32(size), "pool should never exceed its size")
	assert.Equal(t, int32(0), atomic.LoadInt32(&running))
}

// TestPoolWaitReturnsAfterAllDone verifies Wait does not return while a
// worker still holds a slot.
func TestPoolWaitReturnsAfterAllDone(t *testing.T) {
	pool := New(1)

	var finished int32
	pool.Add(1)
	go func() {
		defer pool.Done()
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&finished, 1)
	}()

	pool.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&finished))
}

// TestPoolMinimumSize verifies a non-positive size still yields a usable pool.
func TestPoolMinimumSize(t *testing.T) {
	pool := New(0)
	pool.Add(1)
	done := make(chan struct{})
	go func() {
		defer pool.Done()
		close(done)
	}()
	<-done
	pool.Wait()
}
