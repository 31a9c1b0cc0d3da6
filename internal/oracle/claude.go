// claude.go implements Oracle on top of the Claude Code CLI.
package oracle

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/marcus/taskmill/internal/ledger"
	"github.com/marcus/taskmill/internal/tasks"
)

// DefaultTimeout bounds a single oracle call when config does not say.
const DefaultTimeout = 10 * time.Minute

// defaultBinary is resolved from PATH unless WithBinaryPath overrides it.
const defaultBinary = "claude"

// ClaudeOracle spawns the claude CLI in print mode for each call. The full
// prompt goes over stdin; with a long run the ledger context can outgrow
// argv limits.
type ClaudeOracle struct {
	binaryPath string        // name or path handed to exec
	timeout    time.Duration // budget for one call
	workDir    string        // CLI working directory, empty inherits ours
	runner     CommandRunner // replaced with a fake in tests
}

// ClaudeOption configures a ClaudeOracle.
type ClaudeOption func(*ClaudeOracle)

// WithBinaryPath points the oracle at a specific executable instead of
// resolving the default name from PATH.
func WithBinaryPath(path string) ClaudeOption {
	return func(o *ClaudeOracle) {
		o.binaryPath = path
	}
}

// WithTimeout sets the per-call timeout.
func WithTimeout(d time.Duration) ClaudeOption {
	return func(o *ClaudeOracle) {
		o.timeout = d
	}
}

// WithWorkDir sets the working directory for spawned calls.
func WithWorkDir(dir string) ClaudeOption {
	return func(o *ClaudeOracle) {
		o.workDir = dir
	}
}

// WithRunner swaps the process launcher. Tests inject a fake so nothing
// real gets spawned.
func WithRunner(r CommandRunner) ClaudeOption {
	return func(o *ClaudeOracle) {
		o.runner = r
	}
}

// NewClaudeOracle builds an oracle with stock settings, then applies options.
func NewClaudeOracle(opts ...ClaudeOption) *ClaudeOracle {
	o := &ClaudeOracle{
		binaryPath: defaultBinary,
		timeout:    DefaultTimeout,
		runner:     &ExecRunner{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// GenerateInitialTasks asks the model to decompose the goal into a first batch.
func (o *ClaudeOracle) GenerateInitialTasks(ctx context.Context, goal string) ([]tasks.Task, error) {
	out, err := o.invoke(ctx, initialPrompt(goal))
	if err != nil {
		return nil, err
	}
	return parseTaskList(out, 0)
}

// GenerateAdditionalTasks asks the model for follow-up tasks given everything
// executed so far.
func (o *ClaudeOracle) GenerateAdditionalTasks(ctx context.Context, goal string, records []ledger.ExecutionRecord) ([]tasks.Task, error) {
	out, err := o.invoke(ctx, additionalPrompt(goal, records))
	if err != nil {
		return nil, err
	}
	return parseTaskList(out, len(records))
}

// Execute runs one task and returns the model's result summary.
func (o *ClaudeOracle) Execute(ctx context.Context, task tasks.Task, records []ledger.ExecutionRecord) (string, error) {
	out, err := o.invoke(ctx, executePrompt(task, records))
	if err != nil {
		return "", err
	}
	summary := strings.TrimSpace(out)
	if summary == "" {
		return "", errors.New("task execution produced no output")
	}
	return summary, nil
}

// invoke runs one CLI call with the per-call timeout and maps failures onto
// ErrUnavailable. Caller cancellation passes through untouched.
func (o *ClaudeOracle) invoke(ctx context.Context, prompt string) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	stdout, stderr, exitCode, err := o.runner.Run(callCtx, o.binaryPath, []string{"--print"}, o.workDir, prompt)

	if callCtx.Err() == context.DeadlineExceeded && ctx.Err() == nil {
		return "", fmt.Errorf("call timed out after %v: %w", o.timeout, ErrUnavailable)
	}
	if ctx.Err() != nil {
		return "", ctx.Err()
	}
	if err != nil && exitCode == 0 {
		// Process never ran: binary missing, permission denied.
		return "", fmt.Errorf("spawn %s: %v: %w", o.binaryPath, err, ErrUnavailable)
	}
	if exitCode != 0 {
		return "", fmt.Errorf("%s exited %d: %s: %w", o.binaryPath, exitCode, firstLine(stderr), ErrUnavailable)
	}
	return stdout, nil
}

// Available reports whether the configured binary resolves in PATH.
func (o *ClaudeOracle) Available() bool {
	_, err := exec.LookPath(o.binaryPath)
	return err == nil
}

// Version asks the CLI for its version string.
func (o *ClaudeOracle) Version() (string, error) {
	out, err := exec.Command(o.binaryPath, "--version").Output()
	if err != nil {
		return "", fmt.Errorf("query %s version: %w", o.binaryPath, err)
	}
	return strings.TrimSpace(string(out)), nil
}

// proposal is the JSON shape the model is asked to emit for each new task.
type proposal struct {
	Description string `json:"description"`
	Priority    int    `json:"priority"`
	Effort      int    `json:"effort"`
}

// parseTaskList extracts the JSON task list from model output and converts it
// into tasks. Blank descriptions are dropped; priorities and efforts are
// clamped into range at creation.
func parseTaskList(output string, originIteration int) ([]tasks.Task, error) {
	raw := firstJSONValue([]byte(output))
	if raw == nil {
		return nil, fmt.Errorf("no JSON task list in response: %w", ErrUnavailable)
	}

	var proposals []proposal
	if err := json.Unmarshal(raw, &proposals); err != nil {
		// The model sometimes wraps the list in an object: {"tasks": [...]}.
		var wrapped struct {
			Tasks []proposal `json:"tasks"`
		}
		if err2 := json.Unmarshal(raw, &wrapped); err2 != nil || wrapped.Tasks == nil {
			return nil, fmt.Errorf("parse task list: %v: %w", err, ErrUnavailable)
		}
		proposals = wrapped.Tasks
	}

	batch := make([]tasks.Task, 0, len(proposals))
	for _, p := range proposals {
		if strings.TrimSpace(p.Description) == "" {
			continue
		}
		batch = append(batch, tasks.New(p.Description, p.Priority, p.Effort, originIteration))
	}
	return batch, nil
}

// firstJSONValue pulls the first complete JSON object or array out of text
// that may surround it with prose or markdown fences. Returns nil when
// nothing parses.
func firstJSONValue(out []byte) []byte {
	if json.Valid(out) {
		return out
	}

	start := bytes.IndexAny(out, "{[")
	if start < 0 {
		return nil
	}
	open := out[start]
	match := byte('}')
	if open == '[' {
		match = ']'
	}

	// Walk forward balancing brackets until the opener closes. Brackets
	// inside string values skew the count, but json.Valid rejects any
	// mis-slice that produces.
	depth := 0
	for i := start; i < len(out); i++ {
		switch out[i] {
		case open:
			depth++
		case match:
			depth--
			if depth == 0 {
				cand := out[start : i+1]
				if !json.Valid(cand) {
					return nil
				}
				return cand
			}
		}
	}
	return nil
}

// firstLine trims stderr down to its first non-empty line for error messages.
func firstLine(s string) string {
	for _, line := range strings.Split(s, "\n") {
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			return trimmed
		}
	}
	return "(no stderr)"
}

// Prompt builders

func initialPrompt(goal string) string {
	var sb strings.Builder
	sb.WriteString("You are a planning agent. Decompose the following goal into 5-7 concrete subtasks.\n\n")
	fmt.Fprintf(&sb, "## Goal\n%s\n\n", goal)
	sb.WriteString(`## Instructions
1. Each subtask must be a single self-contained unit of work.
2. Assign each subtask a priority from 1 to 10 (10 = most urgent) and an effort estimate from 1 to 5.
3. Output only valid JSON (no markdown, no extra text). The output is read by a machine. Use this schema:

[
  {"description": "what to do", "priority": 7, "effort": 2},
  ...
]
`)
	return sb.String()
}

func additionalPrompt(goal string, records []ledger.ExecutionRecord) string {
	var sb strings.Builder
	sb.WriteString("You are a planning agent tracking progress toward a goal.\n\n")
	fmt.Fprintf(&sb, "## Goal\n%s\n\n", goal)
	fmt.Fprintf(&sb, "## Completed so far (in order)\n%s\n", ledgerContext(records))
	if n := len(records); n > 0 {
		fmt.Fprintf(&sb, "## Most recent result\n%s\n\n", records[n-1].Summary)
	}
	sb.WriteString(`## Instructions
1. Propose only NEW subtasks that are still needed to reach the goal. Do not repeat completed work.
2. Assign each subtask a priority from 1 to 10 (10 = most urgent) and an effort estimate from 1 to 5.
3. If nothing more is needed, respond with an empty array.
4. Output only valid JSON (no markdown, no extra text), using this schema:

[
  {"description": "what to do", "priority": 7, "effort": 2},
  ...
]
`)
	return sb.String()
}

func executePrompt(task tasks.Task, records []ledger.ExecutionRecord) string {
	var sb strings.Builder
	sb.WriteString("You are an execution agent performing one task toward a larger objective.\n\n")
	fmt.Fprintf(&sb, "## Work completed before this task (in order)\n%s\n", ledgerContext(records))
	fmt.Fprintf(&sb, "## Your task\n%s\n\n", task.Description)
	sb.WriteString(`## Instructions
1. Perform the task, taking the prior work above into account.
2. Respond with a concise summary of the result: what was done, what was found, or why it could not be done.
`)
	return sb.String()
}

// ledgerContext renders executed records for inclusion in a prompt,
// preserving execution order.
func ledgerContext(records []ledger.ExecutionRecord) string {
	if len(records) == 0 {
		return "Nothing has been executed yet.\n"
	}
	var sb strings.Builder
	for _, rec := range records {
		status := "done"
		if !rec.Success {
			status = "FAILED"
		}
		fmt.Fprintf(&sb, "%d. [%s] %s: %s\n", rec.Iteration, status, rec.Task.Description, rec.Summary)
	}
	return sb.String()
}
