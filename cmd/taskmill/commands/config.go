package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/marcus/taskmill/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect and validate configuration",
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show effective configuration",
	Long: `Show the effective configuration after merging the global file, the
project file, and TASKMILL_* environment overrides.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		displayConfigSources(os.Stdout)
		displayConfig(os.Stdout, cfg)
		return nil
	},
}

var configValidateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			fmt.Printf("Config invalid: %v\n", err)
			return err
		}
		// Load already validates; loading without error means valid.
		fmt.Println("Config OK")
		if cfg.Schedule.Cron != "" || cfg.Schedule.Interval != "" {
			fmt.Printf("Scheduled goal: %s\n", cfg.Schedule.Goal)
		}
		return nil
	},
}

func init() {
	configCmd.AddCommand(configShowCmd)
	configCmd.AddCommand(configValidateCmd)
	rootCmd.AddCommand(configCmd)
}

// displayConfigSources lists where config was read from.
func displayConfigSources(w io.Writer) {
	fmt.Fprintln(w, "Sources:")
	if configFlag != "" {
		fmt.Fprintf(w, "  --config: %s\n", configFlag)
		fmt.Fprintln(w)
		return
	}

	globalPath := config.GlobalConfigPath()
	fmt.Fprintf(w, "  global:  %s (%s)\n", globalPath, presence(globalPath))

	if wd, err := os.Getwd(); err == nil {
		projectPath := filepath.Join(wd, config.ConfigFileName)
		fmt.Fprintf(w, "  project: %s (%s)\n", projectPath, presence(projectPath))
	}
	fmt.Fprintln(w, "  env:     TASKMILL_* overrides")
	fmt.Fprintln(w)
}

func presence(path string) string {
	if _, err := os.Stat(path); err == nil {
		return "present"
	}
	return "absent"
}

// displayConfig renders the effective config values.
func displayConfig(w io.Writer, cfg *config.Config) {
	fmt.Fprintln(w, "Scheduler:")
	fmt.Fprintf(w, "  max_iterations: %d\n", cfg.Scheduler.MaxIterations)
	fmt.Fprintf(w, "  generation_cutoff_window: %d\n", cfg.Scheduler.GenerationCutoffWindow)

	fmt.Fprintln(w, "Oracle:")
	fmt.Fprintf(w, "  binary: %s\n", cfg.Oracle.Binary)
	fmt.Fprintf(w, "  timeout: %s\n", cfg.Oracle.Timeout)
	if cfg.Oracle.WorkDir != "" {
		fmt.Fprintf(w, "  work_dir: %s\n", cfg.Oracle.WorkDir)
	}
	fmt.Fprintf(w, "  retry_max_elapsed: %s\n", cfg.Oracle.RetryMaxElapsed)
	fmt.Fprintf(w, "  failure_threshold: %d\n", cfg.Oracle.FailureThreshold)
	fmt.Fprintf(w, "  breaker_cooldown: %s\n", cfg.Oracle.BreakerCooldown)

	fmt.Fprintln(w, "Schedule:")
	if cfg.Schedule.Cron == "" && cfg.Schedule.Interval == "" {
		fmt.Fprintln(w, "  (none configured)")
	} else {
		fmt.Fprintf(w, "  goal: %s\n", cfg.Schedule.Goal)
		if cfg.Schedule.Cron != "" {
			fmt.Fprintf(w, "  cron: %s\n", cfg.Schedule.Cron)
		} else {
			fmt.Fprintf(w, "  interval: %s\n", cfg.Schedule.Interval)
		}
		if cfg.Schedule.Window != nil {
			fmt.Fprintf(w, "  window: %s - %s", cfg.Schedule.Window.Start, cfg.Schedule.Window.End)
			if cfg.Schedule.Window.Timezone != "" {
				fmt.Fprintf(w, " (%s)", cfg.Schedule.Window.Timezone)
			}
			fmt.Fprintln(w)
		}
	}

	fmt.Fprintln(w, "History:")
	fmt.Fprintf(w, "  enabled: %s\n", yesNo(cfg.History.Enabled))
	if cfg.History.Enabled {
		fmt.Fprintf(w, "  path: %s\n", cfg.History.Path)
	}

	fmt.Fprintln(w, "Reports:")
	if cfg.Reports.Dir != "" {
		fmt.Fprintf(w, "  dir: %s\n", cfg.Reports.Dir)
	} else {
		fmt.Fprintln(w, "  dir: (default)")
	}

	fmt.Fprintln(w, "Logging:")
	fmt.Fprintf(w, "  level: %s\n", cfg.Logging.Level)
	fmt.Fprintf(w, "  format: %s\n", cfg.Logging.Format)
	if cfg.Logging.Path != "" {
		fmt.Fprintf(w, "  path: %s\n", cfg.Logging.Path)
	}
	fmt.Fprintf(w, "  retention_days: %d\n", cfg.Logging.RetentionDays)
}
