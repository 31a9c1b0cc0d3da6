// Package oracle defines the reasoning boundary the scheduler drives:
// goal decomposition, incremental task discovery, and single-task execution,
// backed by an LLM. Implementations own their latency bounds; every call
// takes a context and must return promptly once it is cancelled.
package oracle

import (
	"context"
	"errors"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/tasks"
)

// ErrUnavailable indicates a call could not be completed at the oracle level:
// spawn failure, timeout, non-zero exit, or an unusable response. Callers
// decide severity — initial planning treats it as fatal, replanning and
// execution recover from it.
var ErrUnavailable = errors.New("oracle unavailable")

// Oracle generates and executes tasks for a single goal.
type Oracle interface {
	// GenerateInitialTasks decomposes the goal into a first batch of tasks.
	// 5-7 tasks is the guidance given to the model; any non-negative count
	// is a legal return.
	GenerateInitialTasks(ctx context.Context, goal string) ([]tasks.Task, error)

	// GenerateAdditionalTasks proposes follow-up work given everything
	// executed so far, in execution order. An empty result is a normal
	// outcome, not an error.
	GenerateAdditionalTasks(ctx context.Context, goal string, records []ledger.ExecutionRecord) ([]tasks.Task, error)

	// Execute runs one task with the accumulated records as context and
	// returns a result summary. An error marks the task failed; it never
	// signals anything about other tasks.
	Execute(ctx context.Context, task tasks.Task, records []ledger.ExecutionRecord) (string, error)
}
