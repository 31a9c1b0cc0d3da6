package reporting

import (
	"reflect"
	"strings"
	"testing"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/tasks"
)

func sampleRecords() []ledger.ExecutionRecord {
	return []ledger.ExecutionRecord{
		{
			Task:      tasks.New("Research the market", 9, 2, 0),
			Summary:   "Found three competitors",
			Success:   true,
			Iteration: 1,
		},
		{
			Task:      tasks.New("Draft an outline", 5, 1, 0),
			Summary:   "execution failed: docs unreachable",
			Success:   false,
			Iteration: 2,
		},
	}
}

func TestBuild_CountsAndFlags(t *testing.T) {
	report := Build("launch a newsletter", sampleRecords(), ReasonIterationCapReached, 2, 2, 1)

	if report.Goal != "launch a newsletter" {
		t.Errorf("Goal = %q", report.Goal)
	}
	if report.TasksCompleted != 2 {
		t.Errorf("TasksCompleted = %d, want 2 (failed tasks count too)", report.TasksCompleted)
	}
	if report.TasksRemaining != 1 {
		t.Errorf("TasksRemaining = %d, want 1", report.TasksRemaining)
	}
	if report.IterationsUsed != 2 || report.MaxIterations != 2 {
		t.Errorf("iterations = %d/%d, want 2/2", report.IterationsUsed, report.MaxIterations)
	}
	if report.GoalFullyAchieved {
		t.Error("GoalFullyAchieved = true, want false for cap reached")
	}

	if len(report.PerTaskResults) != 2 {
		t.Fatalf("len(PerTaskResults) = %d, want 2", len(report.PerTaskResults))
	}
	first := report.PerTaskResults[0]
	if first.Description != "Research the market" || first.Priority != 9 || !first.Success || first.Iteration != 1 {
		t.Errorf("PerTaskResults[0] = %+v", first)
	}
	second := report.PerTaskResults[1]
	if second.Success || second.Summary != "execution failed: docs unreachable" {
		t.Errorf("PerTaskResults[1] = %+v", second)
	}
}

func TestBuild_QueueDrainedMeansAchieved(t *testing.T) {
	report := Build("goal", sampleRecords(), ReasonQueueDrained, 2, 20, 0)
	if !report.GoalFullyAchieved {
		t.Error("GoalFullyAchieved = false, want true for drained queue")
	}

	for _, reason := range []TerminationReason{ReasonIterationCapReached, ReasonCancelled} {
		report := Build("goal", sampleRecords(), reason, 2, 20, 3)
		if report.GoalFullyAchieved {
			t.Errorf("GoalFullyAchieved = true for %s, want false", reason)
		}
	}
}

func TestBuild_Deterministic(t *testing.T) {
	records := sampleRecords()

	first := Build("goal", records, ReasonQueueDrained, 2, 20, 0)
	second := Build("goal", records, ReasonQueueDrained, 2, 20, 0)

	if !reflect.DeepEqual(first, second) {
		t.Error("two builds from the same inputs differ")
	}
}

func TestBuild_DoesNotAliasInput(t *testing.T) {
	records := sampleRecords()
	report := Build("goal", records, ReasonQueueDrained, 2, 20, 0)

	records[0].Summary = "mutated"
	if report.PerTaskResults[0].Summary == "mutated" {
		t.Error("report aliases the input records")
	}
}

func TestBuild_EmptyLedger(t *testing.T) {
	report := Build("goal", nil, ReasonQueueDrained, 0, 20, 0)

	if report.TasksCompleted != 0 {
		t.Errorf("TasksCompleted = %d, want 0", report.TasksCompleted)
	}
	if report.PerTaskResults == nil {
		t.Error("PerTaskResults should be empty, not nil")
	}
	if !report.GoalFullyAchieved {
		t.Error("an empty drained run still counts as achieved")
	}
}

func TestRenderMarkdown(t *testing.T) {
	report := Build("launch a newsletter", sampleRecords(), ReasonIterationCapReached, 2, 2, 1)

	content, err := RenderMarkdown(report)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}

	for _, want := range []string{
		"# Taskmill Run - launch a newsletter",
		"- Outcome: iteration cap reached",
		"- Goal fully achieved: no",
		"- Iterations: 2 of 2",
		"- Tasks: 2 executed (1 succeeded, 1 failed), 1 remaining",
		"## Tasks Succeeded",
		"## Tasks Failed",
		"Research the market",
		"docs unreachable",
	} {
		if !strings.Contains(content, want) {
			t.Errorf("markdown missing %q:\n%s", want, content)
		}
	}
}

func TestRenderMarkdown_NoFailures(t *testing.T) {
	records := sampleRecords()[:1]
	report := Build("goal", records, ReasonQueueDrained, 1, 20, 0)

	content, err := RenderMarkdown(report)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if strings.Contains(content, "## Tasks Failed") {
		t.Error("failed section should be omitted when nothing failed")
	}
	if !strings.Contains(content, "- Goal fully achieved: yes") {
		t.Error("expected achieved line")
	}
}

func TestRenderMarkdown_NilReport(t *testing.T) {
	if _, err := RenderMarkdown(nil); err == nil {
		t.Error("expected error for nil report")
	}
}

func TestRenderMarkdown_Idempotent(t *testing.T) {
	report := Build("goal", sampleRecords(), ReasonCancelled, 2, 20, 3)

	first, err := RenderMarkdown(report)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	second, err := RenderMarkdown(report)
	if err != nil {
		t.Fatalf("RenderMarkdown: %v", err)
	}
	if first != second {
		t.Error("two renders of the same report differ")
	}
}
