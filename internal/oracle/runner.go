package oracle

import (
	"bytes"
	"context"
	"os/exec"
	"strings"
)

// CommandRunner is the seam between the oracle and the operating system.
// The real implementation shells out; tests substitute a canned one.
type CommandRunner interface {
	Run(ctx context.Context, name string, args []string, dir string, stdin string) (stdout, stderr string, exitCode int, err error)
}

// ExecRunner runs commands through os/exec.
type ExecRunner struct{}

// Run spawns name with args, feeding stdin and collecting both output
// streams. When the process never started the exit code is 0 and err
// carries the spawn failure.
func (r *ExecRunner) Run(ctx context.Context, name string, args []string, dir string, stdin string) (string, string, int, error) {
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Dir = dir
	if stdin != "" {
		cmd.Stdin = strings.NewReader(stdin)
	}

	var out, errOut bytes.Buffer
	cmd.Stdout = &out
	cmd.Stderr = &errOut

	runErr := cmd.Run()
	code := 0
	if state := cmd.ProcessState; state != nil {
		code = state.ExitCode()
	}
	return out.String(), errOut.String(), code, runErr
}
