// Package gpool provides a bounded goroutine pool with WaitGroup semantics.
package gpool

import "sync"

// Pool limits the number of concurrently running workers. Add blocks once
// the pool is full, so callers naturally throttle themselves.
type Pool struct {
	slots chan struct{}
	wg    sync.WaitGroup
}

// New creates a pool allowing at most size concurrent workers.
func New(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{slots: make(chan struct{}, size)}
}

// Add reserves delta slots in the pool, blocking while the pool is full.
func (p *Pool) Add(delta int) {
	for i := 0; i < delta; i++ {
		p.slots <- struct{}{}
	}
	p.wg.Add(delta)
}

// Done releases one slot.
func (p *Pool) Done() {
	<-p.slots
	p.wg.Done()
}

// Wait blocks until every reserved slot has been released.
func (p *Pool) Wait() {
	p.wg.Wait()
}
