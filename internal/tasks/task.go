// Package tasks defines the task entity and the priority queue that feeds
// the scheduler. Tasks are generated by the reasoning oracle, executed once,
// and never re-queued; a retry is a brand-new task with its own ID.
package tasks

import (
	"strings"

	"github.com/google/uuid"
)

// Priority bounds. Out-of-range values are clamped at creation so a single
// misbehaving oracle response cannot poison queue ordering.
const (
	MinPriority = 1
	MaxPriority = 10
)

// Effort bounds. Effort is informational only and never affects ordering.
const (
	MinEffort = 1
	MaxEffort = 5
)

// Task is a single unit of work produced by the oracle.
type Task struct {
	ID              string `json:"id"`
	Description     string `json:"description"`
	Priority        int    `json:"priority"`         // 1-10, 10 = most urgent
	EstimatedEffort int    `json:"estimated_effort"` // 1-5, informational
	OriginIteration int    `json:"origin_iteration"` // 0 for the initial batch
}

// New creates a task with a fresh ID, clamping priority and effort into
// their legal ranges. originIteration records the loop iteration the task
// was generated at (0 for the initial planning batch).
func New(description string, priority, effort, originIteration int) Task {
	return Task{
		ID:              uuid.NewString(),
		Description:     strings.TrimSpace(description),
		Priority:        ClampPriority(priority),
		EstimatedEffort: ClampEffort(effort),
		OriginIteration: originIteration,
	}
}

// ClampPriority forces p into [MinPriority, MaxPriority].
func ClampPriority(p int) int {
	if p < MinPriority {
		return MinPriority
	}
	if p > MaxPriority {
		return MaxPriority
	}
	return p
}

// ClampEffort forces e into [MinEffort, MaxEffort].
func ClampEffort(e int) int {
	if e < MinEffort {
		return MinEffort
	}
	if e > MaxEffort {
		return MaxEffort
	}
	return e
}
