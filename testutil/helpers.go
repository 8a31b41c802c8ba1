package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/neocore-ai/swarm/types"
)

// TestContext returns a context bounded to 30s and canceled on cleanup.
func TestContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MakeTasks builds n pending tasks with distinct user prompts.
func MakeTasks(n int) []*types.Task {
	tasks := make([]*types.Task, n)
	for i := range tasks {
		tasks[i] = types.NewTask("", types.Prompt{User: fmt.Sprintf("task %d", i)})
	}
	return tasks
}

// AssertResultsAligned verifies the batch ordering contract: one result per
// task, result[i].TaskID == tasks[i].ID.
func AssertResultsAligned(t *testing.T, tasks []*types.Task, results []*types.Result) {
	t.Helper()

	if len(tasks) != len(results) {
		t.Fatalf("result count mismatch: %d tasks, %d results", len(tasks), len(results))
	}
	for i := range tasks {
		if results[i] == nil {
			t.Errorf("result[%d] is nil", i)
			continue
		}
		if results[i].TaskID != tasks[i].ID {
			t.Errorf("result[%d] task id mismatch: expected %q, got %q", i, tasks[i].ID, results[i].TaskID)
		}
	}
}
