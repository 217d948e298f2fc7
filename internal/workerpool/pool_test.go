package workerpool

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRun_ReturnsResult(t *testing.T) {
	p := New(2)
	v, err := Run(context.Background(), p, func(context.Context) int { return 42 })
	require.NoError(t, err)
	assert.Equal(t, 42, v)
}

func TestNew_DefaultSize(t *testing.T) {
	assert.Equal(t, DefaultSize, New(0).Size())
	assert.Equal(t, 3, New(3).Size())
}

func TestRun_BoundsConcurrency(t *testing.T) {
	p := New(3)
	var running, peak int32
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := Run(context.Background(), p, func(context.Context) struct{} {
				n := atomic.AddInt32(&running, 1)
				for {
					old := atomic.LoadInt32(&peak)
					if n <= old || atomic.CompareAndSwapInt32(&peak, old, n) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				atomic.AddInt32(&running, -1)
				return struct{}{}
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(3))
}

func TestRun_CancelDiscardsResult(t *testing.T) {
	p := New(1)
	ctx, cancel := context.WithCancel(context.Background())
	started := make(chan struct{})
	release := make(chan struct{})
	finished := make(chan struct{})

	go func() {
		<-started
		cancel()
	}()

	v, err := Run(ctx, p, func(context.Context) string {
		close(started)
		<-release
		close(finished)
		return "late"
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, "", v)

	close(release)
	<-finished

	// The slot is returned once the abandoned task completes.
	v, err = Run(context.Background(), p, func(context.Context) string { return "next" })
	require.NoError(t, err)
	assert.Equal(t, "next", v)
}

func TestRun_CancelWhileWaitingForSlot(t *testing.T) {
	p := New(1)
	block := make(chan struct{})
	defer close(block)

	started := make(chan struct{})
	go Run(context.Background(), p, func(context.Context) bool { close(started); <-block; return true })
	<-started

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	var called int32
	_, err := Run(ctx, p, func(context.Context) bool { atomic.StoreInt32(&called, 1); return true })
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, atomic.LoadInt32(&called))
}

func TestRun_PanicBecomesError(t *testing.T) {
	p := New(1)
	_, err := Run(context.Background(), p, func(context.Context) int { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	// Slot released after the panic.
	_, err = Run(context.Background(), p, func(context.Context) int { return 1 })
	assert.NoError(t, err)
}

func TestDo(t *testing.T) {
	p := New(1)
	want := errors.New("insert failed")
	assert.ErrorIs(t, p.Do(context.Background(), func(context.Context) error { return want }), want)
	assert.NoError(t, p.Do(context.Background(), func(context.Context) error { return nil }))
}
