package backend

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/types"
)

// fakeCaller is a scriptable Caller for registry and prober tests.
type fakeCaller struct {
	pingErr atomic.Value // error
}

func (f *fakeCaller) Invoke(ctx context.Context, task *types.Task) (*types.Completion, error) {
	return &types.Completion{Content: "ok"}, nil
}

func (f *fakeCaller) Ping(ctx context.Context) error {
	if v := f.pingErr.Load(); v != nil {
		if err, ok := v.(error); ok {
			return err
		}
	}
	return nil
}

func newBackend(id string) *Backend {
	return &Backend{ID: id, Caller: &fakeCaller{}, MaxConcurrent: 4, RequestsPerSec: 10}
}

// registryWithClock builds a registry whose clock the test controls.
func registryWithClock(cfg *Config, clk *time.Time) *Registry {
	r := NewRegistry(cfg, zap.NewNop())
	r.now = func() time.Time { return *clk }
	return r
}

// ---------------------------------------------------------------------------
// DefaultConfig
// ---------------------------------------------------------------------------

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 5, cfg.FailureThreshold)
	assert.Equal(t, 2, cfg.TripThreshold)
	assert.Equal(t, 30*time.Second, cfg.CoolDown)
	assert.Equal(t, 3, cfg.RecoverySuccesses)
	assert.Equal(t, 2, cfg.ProbationConcurrent)
	assert.Nil(t, cfg.OnStateChange)
}

// ---------------------------------------------------------------------------
// NewRegistry
// ---------------------------------------------------------------------------

func TestNewRegistry(t *testing.T) {
	tests := []struct {
		name          string
		cfg           *Config
		wantFailure   int
		wantTrip      int
		wantCoolDown  time.Duration
		wantRecovery  int
		wantProbation int
	}{
		{
			name:          "nil config uses defaults",
			cfg:           nil,
			wantFailure:   5,
			wantTrip:      2,
			wantCoolDown:  30 * time.Second,
			wantRecovery:  3,
			wantProbation: 2,
		},
		{
			name: "zero values corrected to defaults",
			cfg: &Config{
				FailureThreshold:    0,
				TripThreshold:       -1,
				CoolDown:            0,
				RecoverySuccesses:   0,
				ProbationConcurrent: -2,
			},
			wantFailure:   5,
			wantTrip:      2,
			wantCoolDown:  30 * time.Second,
			wantRecovery:  3,
			wantProbation: 2,
		},
		{
			name: "custom values preserved",
			cfg: &Config{
				FailureThreshold:    2,
				TripThreshold:       1,
				CoolDown:            time.Second,
				RecoverySuccesses:   1,
				ProbationConcurrent: 1,
			},
			wantFailure:   2,
			wantTrip:      1,
			wantCoolDown:  time.Second,
			wantRecovery:  1,
			wantProbation: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry(tt.cfg, zap.NewNop())
			require.NotNil(t, r)
			assert.Equal(t, tt.wantFailure, r.cfg.FailureThreshold)
			assert.Equal(t, tt.wantTrip, r.cfg.TripThreshold)
			assert.Equal(t, tt.wantCoolDown, r.cfg.CoolDown)
			assert.Equal(t, tt.wantRecovery, r.cfg.RecoverySuccesses)
			assert.Equal(t, tt.wantProbation, r.cfg.ProbationConcurrent)
		})
	}
}

// ---------------------------------------------------------------------------
// Status.String()
// ---------------------------------------------------------------------------

func TestStatus_String(t *testing.T) {
	assert.Equal(t, "healthy", StatusHealthy.String())
	assert.Equal(t, "degraded", StatusDegraded.String())
	assert.Equal(t, "unavailable", StatusUnavailable.String())
	assert.Equal(t, "unknown", Status(99).String())
}

// ---------------------------------------------------------------------------
// Register / duplicate / list ordering
// ---------------------------------------------------------------------------

func TestRegistry_RegisterDuplicate(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())

	require.NoError(t, r.Register(newBackend("builder")))
	err := r.Register(newBackend("builder"))
	require.Error(t, err)
	assert.Equal(t, types.ErrDuplicateBackend, types.GetErrorCode(err))
	assert.Equal(t, 1, r.Len())
}

func TestRegistry_RegisterValidation(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())

	assert.Error(t, r.Register(nil))
	assert.Error(t, r.Register(&Backend{ID: ""}))
	assert.Error(t, r.Register(&Backend{ID: "noop"}))

	// Limits are clamped, not rejected.
	b := &Backend{ID: "clamped", Caller: &fakeCaller{}, MaxConcurrent: 0}
	require.NoError(t, r.Register(b))
	assert.Equal(t, int64(1), b.MaxConcurrent)
	assert.Equal(t, 1, b.Burst)
}

func TestRegistry_ListOrderAndPredicate(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, r.Register(newBackend(id)))
	}

	snaps := r.List(nil)
	require.Len(t, snaps, 3)
	// Registration order, not lexical order.
	assert.Equal(t, "c", snaps[0].ID)
	assert.Equal(t, "a", snaps[1].ID)
	assert.Equal(t, "b", snaps[2].ID)

	require.NoError(t, r.MarkHealth("a", StatusUnavailable))
	eligible := r.List(func(s Snapshot) bool { return s.Status != StatusUnavailable })
	require.Len(t, eligible, 2)
	assert.Equal(t, "c", eligible[0].ID)
	assert.Equal(t, "b", eligible[1].ID)
}

func TestRegistry_Unregister(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	require.NoError(t, r.Register(newBackend("a")))
	require.NoError(t, r.Register(newBackend("b")))

	r.Unregister("a")
	assert.Equal(t, 1, r.Len())
	_, ok := r.Get("a")
	assert.False(t, ok)

	snaps := r.Snapshot()
	require.Len(t, snaps, 1)
	assert.Equal(t, "b", snaps[0].ID)

	// Unregistering an unknown id is a no-op.
	r.Unregister("a")
	assert.Equal(t, 1, r.Len())
}

// ---------------------------------------------------------------------------
// healthy -> degraded -> unavailable (failure thresholds)
// ---------------------------------------------------------------------------

func TestRegistry_FailureTransitions(t *testing.T) {
	clk := time.Now()
	r := registryWithClock(&Config{
		FailureThreshold:  3,
		TripThreshold:     2,
		CoolDown:          time.Minute,
		RecoverySuccesses: 2,
	}, &clk)
	require.NoError(t, r.Register(newBackend("b1")))

	// Two failures: still healthy.
	r.RecordFailure("b1")
	r.RecordFailure("b1")
	st, err := r.Health("b1")
	require.NoError(t, err)
	assert.Equal(t, StatusHealthy, st)

	// Third failure degrades.
	r.RecordFailure("b1")
	st, _ = r.Health("b1")
	assert.Equal(t, StatusDegraded, st)

	// Two more failures trip to unavailable.
	r.RecordFailure("b1")
	r.RecordFailure("b1")
	st, _ = r.Health("b1")
	assert.Equal(t, StatusUnavailable, st)
}

// ---------------------------------------------------------------------------
// Cool-down: unavailable is not eligible until the timer elapses
// ---------------------------------------------------------------------------

func TestRegistry_CoolDownGatesEligibility(t *testing.T) {
	clk := time.Now()
	cfg := &Config{
		FailureThreshold:  1,
		TripThreshold:     1,
		CoolDown:          30 * time.Second,
		RecoverySuccesses: 1,
	}
	r := registryWithClock(cfg, &clk)
	require.NoError(t, r.Register(newBackend("b1")))

	// Trip to unavailable.
	r.RecordFailure("b1")
	r.RecordFailure("b1")
	st, _ := r.Health("b1")
	require.Equal(t, StatusUnavailable, st)

	// Before the cool-down elapses every admit is rejected.
	err := r.Admit("b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendUnavailable, types.GetErrorCode(err))

	clk = clk.Add(29 * time.Second)
	err = r.Admit("b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendUnavailable, types.GetErrorCode(err))

	snap := r.Snapshot()[0]
	assert.Equal(t, StatusUnavailable, snap.Status)
	assert.Greater(t, snap.CoolDownRemaining, time.Duration(0))

	// Once the cool-down elapses the backend re-enters probation.
	clk = clk.Add(2 * time.Second)
	require.NoError(t, r.Admit("b1"))
	st, _ = r.Health("b1")
	assert.Equal(t, StatusDegraded, st)
}

// ---------------------------------------------------------------------------
// degraded -> healthy (recovery successes)
// ---------------------------------------------------------------------------

func TestRegistry_RecoveryAfterProbation(t *testing.T) {
	clk := time.Now()
	r := registryWithClock(&Config{
		FailureThreshold:  1,
		TripThreshold:     1,
		CoolDown:          time.Second,
		RecoverySuccesses: 3,
	}, &clk)
	require.NoError(t, r.Register(newBackend("b1")))

	require.NoError(t, r.MarkHealth("b1", StatusDegraded))

	r.RecordSuccess("b1")
	r.RecordSuccess("b1")
	st, _ := r.Health("b1")
	assert.Equal(t, StatusDegraded, st)

	r.RecordSuccess("b1")
	st, _ = r.Health("b1")
	assert.Equal(t, StatusHealthy, st)
}

func TestRegistry_SuccessResetsFailureStreak(t *testing.T) {
	r := NewRegistry(&Config{FailureThreshold: 3, TripThreshold: 2}, zap.NewNop())
	require.NoError(t, r.Register(newBackend("b1")))

	r.RecordFailure("b1")
	r.RecordFailure("b1")
	r.RecordSuccess("b1")
	r.RecordFailure("b1")
	r.RecordFailure("b1")

	st, _ := r.Health("b1")
	assert.Equal(t, StatusHealthy, st)
}

// ---------------------------------------------------------------------------
// Probation failure re-trips with a fresh cool-down
// ---------------------------------------------------------------------------

func TestRegistry_ProbationFailureReTrips(t *testing.T) {
	clk := time.Now()
	r := registryWithClock(&Config{
		FailureThreshold:  1,
		TripThreshold:     1,
		CoolDown:          time.Minute,
		RecoverySuccesses: 1,
	}, &clk)
	require.NoError(t, r.Register(newBackend("b1")))

	// healthy -> degraded -> unavailable
	r.RecordFailure("b1")
	r.RecordFailure("b1")
	st, _ := r.Health("b1")
	require.Equal(t, StatusUnavailable, st)

	// Cool-down elapses, probation begins.
	clk = clk.Add(time.Minute + time.Second)
	st, _ = r.Health("b1")
	require.Equal(t, StatusDegraded, st)

	// One probation failure trips again; eligibility needs another full
	// cool-down.
	r.RecordFailure("b1")
	st, _ = r.Health("b1")
	require.Equal(t, StatusUnavailable, st)

	clk = clk.Add(30 * time.Second)
	err := r.Admit("b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendUnavailable, types.GetErrorCode(err))

	clk = clk.Add(31 * time.Second)
	require.NoError(t, r.Admit("b1"))
}

// ---------------------------------------------------------------------------
// Admit: probation concurrency cap
// ---------------------------------------------------------------------------

func TestRegistry_AdmitProbationCap(t *testing.T) {
	r := NewRegistry(&Config{ProbationConcurrent: 2, RecoverySuccesses: 10}, zap.NewNop())
	require.NoError(t, r.Register(newBackend("b1")))
	require.NoError(t, r.MarkHealth("b1", StatusDegraded))

	require.NoError(t, r.Admit("b1"))
	require.NoError(t, r.Admit("b1"))

	err := r.Admit("b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendSaturated, types.GetErrorCode(err))

	// Finishing a call frees a probation slot.
	r.Done("b1", true)
	assert.NoError(t, r.Admit("b1"))
}

func TestRegistry_AdmitHealthyUnbounded(t *testing.T) {
	r := NewRegistry(&Config{ProbationConcurrent: 1}, zap.NewNop())
	require.NoError(t, r.Register(newBackend("b1")))

	for i := 0; i < 10; i++ {
		require.NoError(t, r.Admit("b1"))
	}
}

func TestRegistry_AdmitUnknownBackend(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	err := r.Admit("ghost")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendNotFound, types.GetErrorCode(err))
}

// ---------------------------------------------------------------------------
// MarkHealth
// ---------------------------------------------------------------------------

func TestRegistry_MarkHealth(t *testing.T) {
	clk := time.Now()
	r := registryWithClock(&Config{CoolDown: time.Minute}, &clk)
	require.NoError(t, r.Register(newBackend("b1")))

	require.Error(t, r.MarkHealth("ghost", StatusDegraded))

	require.NoError(t, r.MarkHealth("b1", StatusUnavailable))
	err := r.Admit("b1")
	require.Error(t, err)
	assert.Equal(t, types.ErrBackendUnavailable, types.GetErrorCode(err))

	// The administrative mark starts a cool-down like a trip does.
	clk = clk.Add(61 * time.Second)
	require.NoError(t, r.Admit("b1"))
}

// ---------------------------------------------------------------------------
// OnStateChange callback
// ---------------------------------------------------------------------------

func TestRegistry_OnStateChange(t *testing.T) {
	var mu sync.Mutex
	var transitions []struct{ from, to Status }

	cfg := &Config{
		FailureThreshold: 1,
		TripThreshold:    1,
		OnStateChange: func(id string, from, to Status) {
			mu.Lock()
			transitions = append(transitions, struct{ from, to Status }{from, to})
			mu.Unlock()
		},
	}
	r := NewRegistry(cfg, zap.NewNop())
	require.NoError(t, r.Register(newBackend("b1")))

	r.RecordFailure("b1")
	r.RecordFailure("b1")

	// Callbacks fire asynchronously.
	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(transitions) == 2
	}, time.Second, 10*time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, StatusHealthy, transitions[0].from)
	assert.Equal(t, StatusDegraded, transitions[0].to)
	assert.Equal(t, StatusDegraded, transitions[1].from)
	assert.Equal(t, StatusUnavailable, transitions[1].to)
}

// ---------------------------------------------------------------------------
// Concurrent safety
// ---------------------------------------------------------------------------

func TestRegistry_ConcurrentAdmitDone(t *testing.T) {
	r := NewRegistry(&Config{FailureThreshold: 1000}, zap.NewNop())
	require.NoError(t, r.Register(newBackend("b1")))

	var wg sync.WaitGroup
	var admitted atomic.Int64

	for i := 0; i < 64; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if err := r.Admit("b1"); err == nil {
				admitted.Add(1)
				r.Done("b1", i%2 == 0)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int64(64), admitted.Load())
	st, _ := r.Health("b1")
	assert.Equal(t, StatusHealthy, st)
}

// ---------------------------------------------------------------------------
// Prober
// ---------------------------------------------------------------------------

func TestProber_FeedsHealthMachine(t *testing.T) {
	r := NewRegistry(&Config{FailureThreshold: 2, TripThreshold: 10}, zap.NewNop())

	failing := &fakeCaller{}
	failing.pingErr.Store(errors.New("connection refused"))
	require.NoError(t, r.Register(&Backend{ID: "sick", Caller: failing, MaxConcurrent: 1}))
	require.NoError(t, r.Register(newBackend("fine")))

	p := NewProber(r, ProberConfig{Interval: 10 * time.Millisecond, Timeout: time.Second}, zap.NewNop())
	p.Start()
	defer p.Stop()

	assert.Eventually(t, func() bool {
		st, _ := r.Health("sick")
		return st == StatusDegraded
	}, 2*time.Second, 10*time.Millisecond)

	st, _ := r.Health("fine")
	assert.Equal(t, StatusHealthy, st)
}

func TestProber_StartStopIdempotent(t *testing.T) {
	r := NewRegistry(nil, zap.NewNop())
	p := NewProber(r, DefaultProberConfig(), zap.NewNop())

	p.Start()
	p.Start()
	p.Stop()
	p.Stop()
}
