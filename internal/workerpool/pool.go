// Package workerpool bounds how many blocking calls (model inference, report
// inserts) run at once. Callers wait for a free slot and then for the result,
// but can give up at any time through their context.
package workerpool

import (
	"context"
	"fmt"

	"golang.org/x/sync/semaphore"
)

// DefaultSize is used when a pool is created with a non-positive size.
const DefaultSize = 256

// Pool is a bounded set of worker slots.
type Pool struct {
	sem  *semaphore.Weighted
	size int64
}

// New creates a pool that runs at most size tasks concurrently.
func New(size int) *Pool {
	if size <= 0 {
		size = DefaultSize
	}
	return &Pool{sem: semaphore.NewWeighted(int64(size)), size: int64(size)}
}

// Size returns the maximum number of concurrent tasks.
func (p *Pool) Size() int {
	return int(p.size)
}

// Run executes fn on a worker and waits for its result. If ctx ends first,
// Run returns ctx.Err() and fn's result is discarded when it eventually
// arrives; fn itself keeps its slot until it returns. A panic in fn is
// returned as an error.
func Run[T any](ctx context.Context, p *Pool, fn func(ctx context.Context) T) (T, error) {
	var zero T
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return zero, err
	}

	type result struct {
		val T
		err error
	}
	done := make(chan result, 1)

	go func() {
		defer p.sem.Release(1)
		defer func() {
			if r := recover(); r != nil {
				done <- result{err: fmt.Errorf("workerpool: task panicked: %v", r)}
			}
		}()
		done <- result{val: fn(ctx)}
	}()

	select {
	case res := <-done:
		return res.val, res.err
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// Do is Run for tasks that only return an error.
func (p *Pool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	err, runErr := Run(ctx, p, fn)
	if runErr != nil {
		return runErr
	}
	return err
}
