package upload

import (
	"context"

	"golang.org/x/sync/semaphore"
)

// Pool caps the number of uploads in flight across every deployment in the
// process.
type Pool struct {
	sem  *semaphore.Weighted
	size int
}

// NewPool creates a pool with size slots. Sizes below 1 mean 1.
func NewPool(size int) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: size}
}

// Acquire blocks until a slot is free or ctx ends.
func (p *Pool) Acquire(ctx context.Context) error {
	return p.sem.Acquire(ctx, 1)
}

// Release frees a slot taken by Acquire.
func (p *Pool) Release() {
	p.sem.Release(1)
}

// Size returns the slot count.
func (p *Pool) Size() int {
	return p.size
}
