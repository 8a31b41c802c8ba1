// Package mocks provides scripted fakes for swarm tests.
//
// MockCaller is a backend.Caller with builder-style configuration: fixed
// completions, error injection by call position, artificial latency, and
// concurrency tracking for limiter assertions.
//
//	caller := mocks.NewMockCaller().WithCompletion("ok").WithFailFirst(2)
//	completion, err := caller.Invoke(ctx, task)
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/types"
)

// MockCaller is a scripted backend.Caller.
type MockCaller struct {
	mu sync.Mutex

	// Response configuration
	content          string
	model            string
	promptTokens     int
	completionTokens int
	err              error
	pingErr          error

	// Behavior control
	delay      time.Duration
	failFirst  int // first N calls fail
	failAfter  int // calls after the Nth fail (0 = never)
	invokeFunc func(ctx context.Context, task *types.Task) (*types.Completion, error)

	// Call accounting
	calls       int
	inFlight    int
	maxInFlight int
}

var _ backend.Caller = (*MockCaller)(nil)

// NewMockCaller creates a caller that succeeds with a fixed completion.
func NewMockCaller() *MockCaller {
	return &MockCaller{
		content:          "mock completion",
		model:            "mock-model",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithCompletion sets the completion content returned on success.
func (m *MockCaller) WithCompletion(content string) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.content = content
	return m
}

// WithModel sets the model name reported in completions.
func (m *MockCaller) WithModel(model string) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.model = model
	return m
}

// WithUsage sets the token usage reported in completions.
func (m *MockCaller) WithUsage(prompt, completion int) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithError makes failing calls return err instead of the default scripted
// upstream error. When neither WithFailFirst nor WithFailAfter is set, every
// call fails.
func (m *MockCaller) WithError(err error) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.err = err
	return m
}

// WithPingError makes Ping return err.
func (m *MockCaller) WithPingError(err error) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr = err
	return m
}

// WithDelay makes each Invoke block for d (or until ctx is done).
func (m *MockCaller) WithDelay(d time.Duration) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// WithFailFirst makes the first n calls fail, then succeed. Useful for
// retry-then-recover scripts.
func (m *MockCaller) WithFailFirst(n int) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFirst = n
	return m
}

// WithFailAfter makes calls after the nth fail. Useful for driving a healthy
// backend into degradation mid-test.
func (m *MockCaller) WithFailAfter(n int) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failAfter = n
	return m
}

// WithInvokeFunc replaces the scripted behavior entirely. Call accounting
// still applies.
func (m *MockCaller) WithInvokeFunc(fn func(ctx context.Context, task *types.Task) (*types.Completion, error)) *MockCaller {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invokeFunc = fn
	return m
}

// Invoke implements backend.Caller.
func (m *MockCaller) Invoke(ctx context.Context, task *types.Task) (*types.Completion, error) {
	m.mu.Lock()
	m.calls++
	callIdx := m.calls
	m.inFlight++
	if m.inFlight > m.maxInFlight {
		m.maxInFlight = m.inFlight
	}
	delay := m.delay
	fn := m.invokeFunc
	content, model := m.content, m.model
	usage := types.TokenUsage{
		PromptTokens:     m.promptTokens,
		CompletionTokens: m.completionTokens,
		TotalTokens:      m.promptTokens + m.completionTokens,
	}
	fail, failErr := m.shouldFailLocked(callIdx)
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.inFlight--
		m.mu.Unlock()
	}()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, types.NewUpstreamTimeoutError("mock call canceled").WithCause(ctx.Err())
		}
	}

	if fn != nil {
		return fn(ctx, task)
	}

	if fail {
		return nil, failErr
	}

	return &types.Completion{Content: content, Model: model, Usage: usage}, nil
}

// Ping implements backend.Caller.
func (m *MockCaller) Ping(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pingErr
}

// Calls reports how many times Invoke has been entered.
func (m *MockCaller) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// InFlight reports the number of Invoke calls currently running.
func (m *MockCaller) InFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inFlight
}

// MaxInFlight reports the highest concurrency observed across the caller's
// lifetime. Limiter tests assert on it.
func (m *MockCaller) MaxInFlight() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.maxInFlight
}

// shouldFailLocked decides the outcome of call number callIdx. Callers hold
// the mutex.
func (m *MockCaller) shouldFailLocked(callIdx int) (bool, error) {
	scripted := m.err
	if scripted == nil {
		scripted = types.NewUpstreamError("scripted failure")
	}

	switch {
	case m.failFirst > 0:
		return callIdx <= m.failFirst, scripted
	case m.failAfter > 0:
		return callIdx > m.failAfter, scripted
	case m.err != nil:
		return true, scripted
	default:
		return false, nil
	}
}
