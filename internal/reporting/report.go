// Package reporting renders run outcomes for taskmill.
// Reports are produced as markdown for humans and JSON for machines.
package reporting

import (
	"bytes"
	"fmt"

	"github.com/marcus/taskmill/internal/ledger"
)

// TerminationReason enumerates why the scheduler loop exited.
type TerminationReason string

const (
	// ReasonQueueDrained: every queued task was executed before the
	// iteration cap.
	ReasonQueueDrained TerminationReason = "queue_drained"
	// ReasonIterationCapReached: the cap was hit with work still queued.
	ReasonIterationCapReached TerminationReason = "iteration_cap_reached"
	// ReasonCancelled: the caller aborted the run.
	ReasonCancelled TerminationReason = "cancelled"
)

// TaskResult is one executed task in a report.
type TaskResult struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Success     bool   `json:"success"`
	Summary     string `json:"summary"`
	Iteration   int    `json:"iteration"`
}

// Report is the final outcome of one run.
type Report struct {
	Goal              string            `json:"goal"`
	TasksCompleted    int               `json:"tasks_completed"`
	TasksRemaining    int               `json:"tasks_remaining"`
	IterationsUsed    int               `json:"iterations_used"`
	MaxIterations     int               `json:"max_iterations"`
	TerminationReason TerminationReason `json:"termination_reason"`
	GoalFullyAchieved bool              `json:"goal_fully_achieved"`
	PerTaskResults    []TaskResult      `json:"per_task_results"`
}

// Build assembles a report from the run's ledger and termination state.
// Pure and deterministic: the same inputs always yield the same report.
// TasksCompleted counts every executed task, failed ones included.
func Build(goal string, records []ledger.ExecutionRecord, reason TerminationReason, iterationsUsed, maxIterations, tasksRemaining int) *Report {
	report := &Report{
		Goal:              goal,
		TasksCompleted:    len(records),
		TasksRemaining:    tasksRemaining,
		IterationsUsed:    iterationsUsed,
		MaxIterations:     maxIterations,
		TerminationReason: reason,
		GoalFullyAchieved: reason == ReasonQueueDrained,
		PerTaskResults:    make([]TaskResult, 0, len(records)),
	}
	for _, rec := range records {
		report.PerTaskResults = append(report.PerTaskResults, TaskResult{
			Description: rec.Task.Description,
			Priority:    rec.Task.Priority,
			Success:     rec.Success,
			Summary:     rec.Summary,
			Iteration:   rec.Iteration,
		})
	}
	return report
}

// RenderMarkdown renders a report as a markdown document.
func RenderMarkdown(r *Report) (string, error) {
	if r == nil {
		return "", fmt.Errorf("report cannot be nil")
	}

	var succeeded, failed []TaskResult
	for _, task := range r.PerTaskResults {
		if task.Success {
			succeeded = append(succeeded, task)
		} else {
			failed = append(failed, task)
		}
	}

	var buf bytes.Buffer
	fmt.Fprintf(&buf, "# Taskmill Run - %s\n\n", r.Goal)

	buf.WriteString("## Summary\n")
	fmt.Fprintf(&buf, "- Outcome: %s\n", describeReason(r.TerminationReason))
	fmt.Fprintf(&buf, "- Goal fully achieved: %s\n", yesNo(r.GoalFullyAchieved))
	fmt.Fprintf(&buf, "- Iterations: %d of %d\n", r.IterationsUsed, r.MaxIterations)
	fmt.Fprintf(&buf, "- Tasks: %d executed (%d succeeded, %d failed), %d remaining\n",
		r.TasksCompleted, len(succeeded), len(failed), r.TasksRemaining)
	buf.WriteString("\n")

	writeTaskSection(&buf, "Tasks Succeeded", succeeded)
	writeTaskSection(&buf, "Tasks Failed", failed)

	return buf.String(), nil
}

func writeTaskSection(buf *bytes.Buffer, title string, results []TaskResult) {
	if len(results) == 0 {
		return
	}
	buf.WriteString("## " + title + "\n")
	for _, task := range results {
		fmt.Fprintf(buf, "- [%d] (p%d) %s: %s\n", task.Iteration, task.Priority, task.Description, task.Summary)
	}
	buf.WriteString("\n")
}

func describeReason(reason TerminationReason) string {
	switch reason {
	case ReasonQueueDrained:
		return "queue drained"
	case ReasonIterationCapReached:
		return "iteration cap reached"
	case ReasonCancelled:
		return "cancelled"
	default:
		return string(reason)
	}
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}
