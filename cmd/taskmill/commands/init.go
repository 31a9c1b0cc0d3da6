package commands

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/marcus/taskmill/internal/config"
	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter config file",
	Long: `Write a commented starter configuration.

Without flags the file lands at ./taskmill.yaml and covers this
directory only. With --global it goes to ~/.config/taskmill/taskmill.yaml
and applies everywhere a project config does not override it.`,
	RunE: runInit,
}

func init() {
	initCmd.Flags().Bool("global", false, "Write the global config instead of a project one")
	initCmd.Flags().BoolP("force", "f", false, "Replace an existing config without asking")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	global, _ := cmd.Flags().GetBool("global")
	force, _ := cmd.Flags().GetBool("force")

	path, scope, err := initTarget(global)
	if err != nil {
		return err
	}

	if _, err := os.Stat(path); err == nil && !force {
		if !confirmOverwrite(path) {
			fmt.Println("Keeping the existing file.")
			return nil
		}
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(configTemplate(global)), 0644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}

	printInitSummary(scope, path, global)
	return nil
}

// initTarget resolves where the new config goes.
func initTarget(global bool) (path, scope string, err error) {
	if global {
		return config.GlobalConfigPath(), "global", nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("get working directory: %w", err)
	}
	return filepath.Join(cwd, config.ConfigFileName), "project", nil
}

// confirmOverwrite asks on stdin before clobbering an existing config.
func confirmOverwrite(path string) bool {
	s := newPalette()
	fmt.Printf("%s %s\n", s.Warn.Render("A config already lives at"), s.Value.Render(path))
	fmt.Print("Replace it? [y/N]: ")

	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes"
}

func printInitSummary(scope, path string, global bool) {
	s := newPalette()

	fmt.Println()
	fmt.Printf("%s %s\n", s.Good.Render(scope+" config written:"), s.Value.Render(path))
	fmt.Println()

	steps := []string{
		"Tune the scheduler limits for this project",
		"Check it with 'taskmill config validate'",
		"Preview with 'taskmill run --dry-run \"<goal>\"'",
	}
	if global {
		steps = []string{
			"Set the oracle binary and, if you want scheduled runs, a goal",
			"Check it with 'taskmill config validate'",
			"Preview with 'taskmill run --dry-run \"<goal>\"'",
			"Enable scheduled runs with 'taskmill daemon start'",
		}
	}

	fmt.Println(s.Mark.Render("Next steps:"))
	for i, step := range steps {
		fmt.Printf("  %s %s\n", s.Dim.Render(fmt.Sprintf("%d.", i+1)), s.Value.Render(step))
	}
	fmt.Println()
}

func configTemplate(global bool) string {
	if global {
		return globalConfigTemplate()
	}
	return projectConfigTemplate()
}

func globalConfigTemplate() string {
	return `# Taskmill global configuration
# Location: ~/.config/taskmill/taskmill.yaml
#
# Defaults for every run on this machine. A taskmill.yaml in the
# working directory wins over anything set here.

# Run loop limits
scheduler:
  max_iterations: 20             # Hard cap on task executions per run
  generation_cutoff_window: 5    # Final iterations that skip replanning

# Reasoning oracle (the CLI that plans and executes tasks)
oracle:
  binary: claude                 # CLI on PATH, or an absolute path
  timeout: 10m                   # Per-call timeout
  # work_dir: ~/code/myproject   # Working directory for oracle calls
  retry_max_elapsed: 2m          # Total retry budget for planning calls
  failure_threshold: 3           # Consecutive failures before the breaker opens
  breaker_cooldown: 30s          # How long an open breaker stays open

# Scheduled runs (daemon mode)
# Give cron or interval, never both. A goal is required either way.
# schedule:
#   goal: "triage the support inbox and draft replies"
#   cron: "0 2 * * *"            # 02:00 every night
#   # interval: 4h               # or a fixed gap instead of cron
#   window:                      # only fire inside these hours
#     start: "22:00"
#     end: "06:00"
#     timezone: "Europe/Amsterdam"

# Run archive (sqlite)
history:
  enabled: true
  path: ~/.local/share/taskmill/history.db

# Report files
reports:
  dir: ~/.local/share/taskmill/reports

# Logging
logging:
  level: info                    # debug, info, warn, error
  path: ~/.local/share/taskmill/logs
  format: json                   # json or text
  retention_days: 7              # Log files older than this are removed
`
}

func projectConfigTemplate() string {
	return `# Taskmill project configuration
# Location: taskmill.yaml (project root)
#
# Applies when taskmill runs from this directory and overrides the
# global file at ~/.config/taskmill/taskmill.yaml.

# Run loop limits for this project
scheduler:
  max_iterations: 20             # Hard cap on task executions per run
  generation_cutoff_window: 5    # Final iterations that skip replanning

# Oracle overrides for this project
# oracle:
#   binary: claude
#   timeout: 10m
#   work_dir: .                  # Run the oracle inside this project

# A standing goal, used when 'taskmill run' gets no argument
# schedule:
#   goal: "keep the changelog and docs in sync with the code"
`
}
