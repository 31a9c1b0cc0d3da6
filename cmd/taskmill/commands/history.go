package commands

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskmill/internal/history"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show archived runs",
	Long: `Display past taskmill runs from the local archive.

Shows the last N runs (default: 5). Use 'taskmill report --run <id>' to
see the full report for one of them, or --prune to trim the archive.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		last, _ := cmd.Flags().GetInt("last")
		prune, _ := cmd.Flags().GetInt("prune")

		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		if !cfg.History.Enabled {
			fmt.Println("History is disabled in config (history.enabled: false).")
			return nil
		}

		db, err := history.Open(cfg.History.Path)
		if err != nil {
			return fmt.Errorf("open history: %w", err)
		}
		defer func() { _ = db.Close() }()

		if prune > 0 {
			removed, err := db.Prune(prune)
			if err != nil {
				return fmt.Errorf("prune history: %w", err)
			}
			fmt.Printf("Pruned %d run(s), keeping the %d most recent.\n", removed, prune)
			return nil
		}

		return showRecentRuns(db, last)
	},
}

func init() {
	historyCmd.Flags().IntP("last", "n", 5, "Show last N runs")
	historyCmd.Flags().Int("prune", 0, "Delete all but the N most recent runs")
	rootCmd.AddCommand(historyCmd)
}

func showRecentRuns(db *history.DB, n int) error {
	runs, err := db.Recent(n)
	if err != nil {
		return fmt.Errorf("read history: %w", err)
	}

	if len(runs) == 0 {
		fmt.Println("No archived runs found.")
		return nil
	}

	fmt.Printf("Last %d run(s):\n\n", len(runs))

	for _, run := range runs {
		printRunSummary(run)
		fmt.Println()
	}

	return nil
}

func printRunSummary(run history.RunSummary) {
	fmt.Printf("[%s] %s\n", run.StartedAt.Format("2006-01-02 15:04"), strings.ToUpper(reasonLabel(run.Reason)))

	fmt.Printf("  Goal:     %s\n", run.Goal)
	if run.Oracle != "" {
		fmt.Printf("  Oracle:   %s\n", run.Oracle)
	}
	fmt.Printf("  Tasks:    %d executed, %d remaining\n", run.TasksCompleted, run.TasksRemaining)
	fmt.Printf("  Iterations: %d of %d\n", run.IterationsUsed, run.MaxIterations)

	if !run.FinishedAt.IsZero() && run.FinishedAt.After(run.StartedAt) {
		fmt.Printf("  Duration: %s\n", formatDuration(run.FinishedAt.Sub(run.StartedAt)))
	}

	fmt.Printf("  Achieved: %s\n", yesNo(run.GoalAchieved))
	fmt.Printf("  ID:       %s\n", run.ID)
}

func formatDuration(d time.Duration) string {
	total := int(d.Seconds())
	h, m, s := total/3600, total%3600/60, total%60
	switch {
	case h > 0:
		return fmt.Sprintf("%dh %dm", h, m)
	case m > 0:
		return fmt.Sprintf("%dm %ds", m, s)
	default:
		return fmt.Sprintf("%ds", s)
	}
}
