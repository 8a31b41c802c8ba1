package limiter

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/types"
)

// ---------------------------------------------------------------------------
// Construction
// ---------------------------------------------------------------------------

func TestNewLimiter(t *testing.T) {
	l := NewLimiter(nil, nil)
	require.NotNil(t, l)
	assert.Equal(t, 2*time.Second, l.cfg.AcquireTimeout)

	l = NewLimiter(&Config{AcquireTimeout: -1}, zap.NewNop())
	assert.Equal(t, 2*time.Second, l.cfg.AcquireTimeout)

	l = NewLimiter(&Config{AcquireTimeout: 50 * time.Millisecond}, zap.NewNop())
	assert.Equal(t, 50*time.Millisecond, l.cfg.AcquireTimeout)
}

func TestLimiter_AcquireUnknownBackend(t *testing.T) {
	l := NewLimiter(nil, zap.NewNop())
	_, err := l.Acquire(context.Background(), "ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendNotFound, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// Concurrency limit under parallel load
// ---------------------------------------------------------------------------

func TestLimiter_NeverExceedsConcurrencyLimit(t *testing.T) {
	const limit = 3
	const workers = 40

	l := NewLimiter(&Config{AcquireTimeout: 2 * time.Second}, zap.NewNop())
	l.Register("b1", limit, 0, 0)

	var wg sync.WaitGroup
	var maxSeen atomic.Int64

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			lease, err := l.Acquire(context.Background(), "b1")
			if err != nil {
				return
			}
			cur := l.InFlight("b1")
			for {
				prev := maxSeen.Load()
				if cur <= prev || maxSeen.CompareAndSwap(prev, cur) {
					break
				}
			}
			time.Sleep(2 * time.Millisecond)
			lease.Release()
		}()
	}
	wg.Wait()

	assert.LessOrEqual(t, maxSeen.Load(), int64(limit))
	assert.Equal(t, int64(0), l.InFlight("b1"))
}

// ---------------------------------------------------------------------------
// Idempotent release
// ---------------------------------------------------------------------------

func TestLease_DoubleReleaseDoesNotOverFree(t *testing.T) {
	l := NewLimiter(&Config{AcquireTimeout: 60 * time.Millisecond}, zap.NewNop())
	l.Register("b1", 2, 0, 0)

	a, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	b, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	require.Equal(t, int64(2), l.InFlight("b1"))

	// Release the same lease twice: only one slot comes back.
	a.Release()
	a.Release()
	assert.Equal(t, int64(1), l.InFlight("b1"))

	c, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)

	// A fourth acquire beyond the limit still times out.
	_, err = l.Acquire(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrLimiterTimeout, types.GetErrorCode(err))

	b.Release()
	c.Release()
	assert.Equal(t, int64(0), l.InFlight("b1"))
}

func TestLease_ReleaseNilSafe(t *testing.T) {
	var lease *Lease
	lease.Release()

	l := NewLimiter(nil, zap.NewNop())
	l.Register("b1", 1, 0, 0)
	got, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	l.Release(got)
	l.Release(got)
	assert.Equal(t, int64(0), l.InFlight("b1"))
}

// ---------------------------------------------------------------------------
// limit=1 serializes concurrent acquirers
// ---------------------------------------------------------------------------

func TestLimiter_LimitOneSerializes(t *testing.T) {
	l := NewLimiter(&Config{AcquireTimeout: 2 * time.Second}, zap.NewNop())
	l.Register("b1", 1, 0, 0)

	first, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)

	second := make(chan error, 1)
	go func() {
		lease, err := l.Acquire(context.Background(), "b1")
		if err == nil {
			lease.Release()
		}
		second <- err
	}()

	// The second acquire must stay blocked while the first lease is held.
	select {
	case <-second:
		t.Fatal("second acquire completed while first lease was held")
	case <-time.After(100 * time.Millisecond):
	}

	first.Release()

	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("second acquire did not complete after release")
	}
}

// ---------------------------------------------------------------------------
// Rate dimension
// ---------------------------------------------------------------------------

func TestLimiter_RateTimeoutReturnsSlot(t *testing.T) {
	// 2 tokens/sec with burst 1: after the first acquire the next token is
	// 500ms away, beyond the 100ms acquire budget.
	l := NewLimiter(&Config{AcquireTimeout: 100 * time.Millisecond}, zap.NewNop())
	l.Register("b1", 1, 2, 1)

	first, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	first.Release()

	_, err = l.Acquire(context.Background(), "b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrLimiterTimeout, types.GetErrorCode(err))
	assert.Equal(t, int64(0), l.InFlight("b1"))

	// The failed acquire must have returned its concurrency slot: once the
	// bucket refills, acquiring succeeds instead of timing out on the
	// semaphore.
	time.Sleep(600 * time.Millisecond)
	lease, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	lease.Release()
}

func TestLimiter_AcquireHonorsCallerContext(t *testing.T) {
	l := NewLimiter(&Config{AcquireTimeout: 5 * time.Second}, zap.NewNop())
	l.Register("b1", 1, 0, 0)

	held, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	defer held.Release()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = l.Acquire(ctx, "b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrLimiterTimeout, types.GetErrorCode(err))
	assert.Less(t, time.Since(start), time.Second)
}

// ---------------------------------------------------------------------------
// Wait accounting
// ---------------------------------------------------------------------------

func TestLease_RecordsWait(t *testing.T) {
	l := NewLimiter(&Config{AcquireTimeout: 2 * time.Second}, zap.NewNop())
	l.Register("b1", 1, 0, 0)

	first, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)

	go func() {
		time.Sleep(80 * time.Millisecond)
		first.Release()
	}()

	second, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)
	defer second.Release()

	assert.GreaterOrEqual(t, second.Wait, 50*time.Millisecond)
	assert.NotEmpty(t, second.ID)
	assert.Equal(t, "b1", second.BackendID)
}

func TestLimiter_OnWaitObservesGrantedAcquires(t *testing.T) {
	var (
		mu       sync.Mutex
		observed []string
	)
	cfg := &Config{
		AcquireTimeout: 100 * time.Millisecond,
		OnWait: func(backendID string, wait time.Duration) {
			mu.Lock()
			observed = append(observed, backendID)
			mu.Unlock()
		},
	}
	l := NewLimiter(cfg, zap.NewNop())
	l.Register("b1", 1, 0, 0)

	lease, err := l.Acquire(context.Background(), "b1")
	require.NoError(t, err)

	// A timed-out acquire grants nothing and must not be observed.
	_, err = l.Acquire(context.Background(), "b1")
	require.Error(t, err)
	lease.Release()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"b1"}, observed)
}
