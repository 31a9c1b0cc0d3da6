// Package commands wires up the taskmill command tree.
package commands

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	// Version is overridden at release time via -ldflags.
	Version = "0.1.0"
)

var (
	configFlag  string
	verboseFlag bool
)

var rootCmd = &cobra.Command{
	Use:   "taskmill",
	Short: "Autonomous goal-driven task runner",
	Long: `Taskmill takes a high-level goal, asks a reasoning CLI to break it
into prioritized tasks, then works through the queue one task at a time.
Tasks discovered along the way are folded back into the queue until it
drains or the iteration cap is hit, and every run ends with a report.

Run a goal once with 'taskmill run', or set a schedule in taskmill.yaml
and let 'taskmill daemon' fire it on its own.`,
	Version: Version,
}

// Execute runs the CLI, exiting nonzero on error.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFlag, "config", "", "Path to a config file (skips normal discovery)")
	rootCmd.PersistentFlags().BoolVar(&verboseFlag, "verbose", false, "Enable verbose output")
}
