// Package council runs the decide pipeline: a roster of advisors answers a
// question in parallel, optionally argues a second adversarial round against
// each other's positions, and a monarch pass synthesizes the final call.
package council

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/neocore-ai/swarm/types"
)

// Batcher fans a set of tasks out and returns index-aligned results.
type Batcher interface {
	Submit(ctx context.Context, batch []*types.Task) ([]*types.Result, error)
}

// Dispatcher routes one task to a terminal result.
type Dispatcher interface {
	Dispatch(ctx context.Context, task *types.Task, candidates []string) *types.Result
}

// Config tunes the pipeline.
type Config struct {
	// Advisors is the council roster. Empty means DefaultRoster.
	Advisors []Advisor

	// AdversarialPass enables the revision round where each advisor sees
	// its peers' positions before the monarch rules.
	AdversarialPass bool

	// AdvisorMaxTokens bounds each advisor completion.
	AdvisorMaxTokens int

	// MonarchMaxTokens bounds the synthesis completion.
	MonarchMaxTokens int
}

// DefaultConfig returns the default pipeline configuration.
func DefaultConfig() *Config {
	return &Config{
		Advisors:         DefaultRoster(),
		AdversarialPass:  true,
		AdvisorMaxTokens: 600,
		MonarchMaxTokens: 800,
	}
}

// DecideInput is one question put before the council.
type DecideInput struct {
	Question string `json:"question"`
	ThreadID string `json:"thread_id,omitempty"`
}

// AdvisorOutput is one advisor's final position.
type AdvisorOutput struct {
	Name           string       `json:"name"`
	Backend        string       `json:"backend,omitempty"`
	Summary        string       `json:"summary,omitempty"`
	Risks          []string     `json:"risks,omitempty"`
	Recommendation string       `json:"recommendation,omitempty"`
	Err            *types.Error `json:"error,omitempty"`
	LatencyMS      int64        `json:"latency_ms"`
	RetryCount     int          `json:"retry_count"`
}

// Monarch is the synthesized ruling.
type Monarch struct {
	Decision       string       `json:"decision,omitempty"`
	Rationale      string       `json:"rationale,omitempty"`
	DissentSummary string       `json:"dissent_summary,omitempty"`
	NextActions    []string     `json:"next_actions,omitempty"`
	Backend        string       `json:"backend,omitempty"`
	Err            *types.Error `json:"error,omitempty"`
}

// Decision statuses.
const (
	StatusOK      = "ok"
	StatusPartial = "partial"
	StatusFailed  = "failed"
)

// Decision is the full outcome of one decide call.
type Decision struct {
	Status    string          `json:"status"`
	RequestID string          `json:"request_id"`
	ThreadID  string          `json:"thread_id,omitempty"`
	TimingMS  int64           `json:"timing_ms"`
	Advisors  []AdvisorOutput `json:"advisors"`
	Monarch   *Monarch        `json:"monarch,omitempty"`
}

// Service wires the council onto the swarm core.
type Service struct {
	cfg        *Config
	batcher    Batcher
	dispatcher Dispatcher
	logger     *zap.Logger
}

// NewService creates the council service.
func NewService(b Batcher, d Dispatcher, cfg *Config, logger *zap.Logger) *Service {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if len(cfg.Advisors) == 0 {
		cfg.Advisors = DefaultRoster()
	}
	if cfg.AdvisorMaxTokens <= 0 {
		cfg.AdvisorMaxTokens = 600
	}
	if cfg.MonarchMaxTokens <= 0 {
		cfg.MonarchMaxTokens = 800
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Service{
		cfg:        cfg,
		batcher:    b,
		dispatcher: d,
		logger:     logger.With(zap.String("component", "council")),
	}
}

// Decide runs the full pipeline. Individual advisor failures never abort the
// decide; the returned error is reserved for invalid input and whole-batch
// conditions.
func (s *Service) Decide(ctx context.Context, in DecideInput) (*Decision, error) {
	if in.Question == "" {
		return nil, types.NewInvalidRequestError("question is required")
	}

	start := time.Now()
	decision := &Decision{
		RequestID: uuid.NewString(),
		ThreadID:  in.ThreadID,
	}

	outputs, err := s.initialPositions(ctx, in.Question)
	if err != nil {
		return nil, err
	}

	if s.cfg.AdversarialPass {
		outputs = s.revisePositions(ctx, in.Question, outputs)
	}
	decision.Advisors = outputs

	succeeded := 0
	for _, o := range outputs {
		if o.Err == nil {
			succeeded++
		}
	}

	if succeeded == 0 {
		decision.Status = StatusFailed
		decision.TimingMS = time.Since(start).Milliseconds()
		s.logger.Warn("decide failed, no advisor answered",
			zap.String("request_id", decision.RequestID))
		return decision, nil
	}

	decision.Monarch = s.synthesize(ctx, in.Question, outputs)

	switch {
	case decision.Monarch.Err != nil:
		decision.Status = StatusFailed
	case succeeded < len(outputs):
		decision.Status = StatusPartial
	default:
		decision.Status = StatusOK
	}
	decision.TimingMS = time.Since(start).Milliseconds()

	s.logger.Info("decide completed",
		zap.String("request_id", decision.RequestID),
		zap.String("status", decision.Status),
		zap.Int("advisors_ok", succeeded),
		zap.Int64("timing_ms", decision.TimingMS))

	return decision, nil
}

// initialPositions runs the first advisor round as one batch.
func (s *Service) initialPositions(ctx context.Context, question string) ([]AdvisorOutput, error) {
	tasks := make([]*types.Task, len(s.cfg.Advisors))
	for i, a := range s.cfg.Advisors {
		tasks[i] = types.NewTask("advisor:"+a.Name, types.Prompt{
			System:    advisorSystem(a),
			User:      question,
			MaxTokens: s.cfg.AdvisorMaxTokens,
		})
	}

	results, err := s.batcher.Submit(ctx, tasks)
	if err != nil && results == nil {
		return nil, err
	}

	outputs := make([]AdvisorOutput, len(s.cfg.Advisors))
	for i, a := range s.cfg.Advisors {
		outputs[i] = toAdvisorOutput(a.Name, results[i])
	}
	return outputs, nil
}

// revisePositions runs the adversarial round: every advisor that answered
// re-argues its position against the peers' summaries. A failed revision
// keeps the initial position.
func (s *Service) revisePositions(ctx context.Context, question string, outputs []AdvisorOutput) []AdvisorOutput {
	var idxs []int
	var tasks []*types.Task

	for i, o := range outputs {
		if o.Err != nil {
			continue
		}
		peers := make([]peerPosition, 0, len(outputs)-1)
		for j, p := range outputs {
			if j == i || p.Err != nil {
				continue
			}
			peers = append(peers, peerPosition{
				Name:           p.Name,
				Summary:        p.Summary,
				Recommendation: p.Recommendation,
			})
		}
		if len(peers) == 0 {
			continue
		}

		a := Advisor{Name: o.Name, Style: revisionStyle}
		idxs = append(idxs, i)
		tasks = append(tasks, types.NewTask("advisor:"+o.Name+":revise", types.Prompt{
			System:    advisorSystem(a),
			User:      revisionUser(question, peers),
			MaxTokens: s.cfg.AdvisorMaxTokens,
		}))
	}

	if len(tasks) == 0 {
		return outputs
	}

	results, err := s.batcher.Submit(ctx, tasks)
	if err != nil && results == nil {
		s.logger.Warn("revision round failed, keeping initial positions", zap.Error(err))
		return outputs
	}

	for k, i := range idxs {
		res := results[k]
		if res == nil || !res.Succeeded() {
			continue
		}
		revised := parseAdvisor(res.Completion.Content)
		if revised.Summary != "" {
			outputs[i].Summary = revised.Summary
		}
		if len(revised.Risks) > 0 {
			outputs[i].Risks = revised.Risks
		}
		if revised.Recommendation != "" {
			outputs[i].Recommendation = revised.Recommendation
		}
		outputs[i].Backend = res.Backend
		outputs[i].LatencyMS += res.Latency.Milliseconds()
		outputs[i].RetryCount += res.RetryCount
	}
	return outputs
}

// synthesize issues the monarch pass over the surviving advisor positions.
func (s *Service) synthesize(ctx context.Context, question string, outputs []AdvisorOutput) *Monarch {
	task := types.NewTask("monarch", types.Prompt{
		System:    monarchSystem,
		User:      monarchUser(question, outputs),
		MaxTokens: s.cfg.MonarchMaxTokens,
	})

	res := s.dispatcher.Dispatch(ctx, task, nil)
	if !res.Succeeded() {
		return &Monarch{Backend: res.Backend, Err: res.Err}
	}

	parsed := parseMonarch(res.Completion.Content)
	return &Monarch{
		Decision:       parsed.Decision,
		Rationale:      parsed.Rationale,
		DissentSummary: parsed.DissentSummary,
		NextActions:    parsed.NextActions,
		Backend:        res.Backend,
	}
}

func toAdvisorOutput(name string, res *types.Result) AdvisorOutput {
	out := AdvisorOutput{
		Name:       name,
		Backend:    res.Backend,
		LatencyMS:  res.Latency.Milliseconds(),
		RetryCount: res.RetryCount,
	}
	if !res.Succeeded() {
		out.Err = res.Err
		return out
	}

	parsed := parseAdvisor(res.Completion.Content)
	out.Summary = parsed.Summary
	out.Risks = parsed.Risks
	out.Recommendation = parsed.Recommendation
	return out
}
