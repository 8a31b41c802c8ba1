package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerPool_RunsSubmittedTasks(t *testing.T) {
	p := New(Config{MaxWorkers: 4, QueueSize: 16})
	defer p.Close()

	var done atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 20; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			done.Add(1)
			return nil
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.Equal(t, int64(20), done.Load())
	assert.Equal(t, int64(20), p.Stats().Submitted)
}

func TestWorkerPool_BoundsConcurrency(t *testing.T) {
	const limit = 3
	p := New(Config{MaxWorkers: limit, QueueSize: 64})
	defer p.Close()

	var inFlight, maxSeen atomic.Int64
	var wg sync.WaitGroup

	for i := 0; i < 30; i++ {
		wg.Add(1)
		err := p.Submit(context.Background(), func(ctx context.Context) error {
			defer wg.Done()
			cur := inFlight.Add(1)
			for {
				prev := maxSeen.Load()
				if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			inFlight.Add(-1)
			return nil
		})
		require.NoError(t, err)
	}

	wg.Wait()
	assert.LessOrEqual(t, maxSeen.Load(), int64(limit))
}

func TestWorkerPool_RejectsWhenFull(t *testing.T) {
	p := New(Config{MaxWorkers: 1, QueueSize: 1})
	defer p.Close()

	release := make(chan struct{})
	var wg sync.WaitGroup

	block := func(ctx context.Context) error {
		defer wg.Done()
		<-release
		return nil
	}

	// One running, one queued. Everything beyond that is rejected.
	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), block))

	assert.Eventually(t, func() bool {
		return p.Stats().Active == 1
	}, time.Second, 5*time.Millisecond)

	wg.Add(1)
	require.NoError(t, p.Submit(context.Background(), block))

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, int64(1), p.Stats().Rejected)

	close(release)
	wg.Wait()
}

func TestWorkerPool_SubmitAfterClose(t *testing.T) {
	p := New(Config{MaxWorkers: 2, QueueSize: 4})
	p.Close()

	err := p.Submit(context.Background(), func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, err, ErrClosed)

	// Closing twice is a no-op.
	p.Close()
}

func TestWorkerPool_RecoversFromPanic(t *testing.T) {
	var recovered atomic.Value

	p := New(Config{
		MaxWorkers: 2,
		QueueSize:  4,
		PanicHandler: func(v any) {
			recovered.Store(v)
		},
	})
	defer p.Close()

	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		panic("boom")
	}))

	assert.Eventually(t, func() bool {
		return recovered.Load() == "boom" && p.Stats().Failed == 1
	}, time.Second, 5*time.Millisecond)

	// The worker survives and keeps serving.
	done := make(chan struct{})
	require.NoError(t, p.Submit(context.Background(), func(ctx context.Context) error {
		close(done)
		return nil
	}))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stopped serving after a panic")
	}
}

func TestNew_AppliesDefaults(t *testing.T) {
	p := New(Config{})
	defer p.Close()

	def := DefaultConfig()
	assert.Equal(t, def.MaxWorkers, p.maxWorkers)
	assert.Equal(t, def.QueueSize, cap(p.queue))
	assert.Equal(t, def.IdleTimeout, p.idleTimeout)
}
