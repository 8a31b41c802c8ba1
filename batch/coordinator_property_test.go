package batch

import (
	"context"
	"fmt"
	"testing"
	"time"

	"go.uber.org/zap"
	"pgregory.net/rapid"

	"github.com/neocore-ai/swarm/backend"
	"github.com/neocore-ai/swarm/types"
)

// Results must come back index-aligned with the input batch regardless of
// batch size, worker count, or completion order.
func TestCoordinator_OrderPreservationProperty(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(0, 40).Draw(rt, "batch_size")
		workers := rapid.IntRange(1, 8).Draw(rt, "workers")

		reg := backend.NewRegistry(nil, zap.NewNop())
		if err := reg.Register(&backend.Backend{ID: "seed", Caller: okCaller{}, MaxConcurrent: 8}); err != nil {
			rt.Fatalf("register: %v", err)
		}

		// Later tasks finish earlier so completion order inverts input order.
		d := dispatcherFunc(func(ctx context.Context, task *types.Task, candidates []string) *types.Result {
			time.Sleep(time.Duration(len(task.Prompt.User)%5) * time.Millisecond)
			task.Status = types.TaskSucceeded
			return types.NewSuccessResult(task.ID, "seed", &types.Completion{Content: task.Prompt.User}, 0, 0)
		})

		c := NewCoordinator(reg, d, &Config{Workers: workers}, zap.NewNop())
		defer c.Close()

		tasks := make([]*types.Task, n)
		for i := range tasks {
			tasks[i] = types.NewTask("worker", types.Prompt{User: fmt.Sprintf("payload-%d", i)})
		}

		results, err := c.Submit(context.Background(), tasks)
		if err != nil {
			rt.Fatalf("submit failed: %v", err)
		}
		if len(results) != n {
			rt.Fatalf("got %d results for %d tasks", len(results), n)
		}
		for i, res := range results {
			if res == nil {
				rt.Fatalf("nil result at index %d", i)
			}
			if res.TaskID != tasks[i].ID {
				rt.Fatalf("result %d carries task %s, want %s", i, res.TaskID, tasks[i].ID)
			}
			if res.Completion == nil || res.Completion.Content != tasks[i].Prompt.User {
				rt.Fatalf("result %d payload mismatch", i)
			}
		}
	})
}
