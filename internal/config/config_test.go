package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

// writeConfig drops a YAML file named name into dir and returns its path.
func writeConfig(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
	return path
}

func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		cfg     Config
		wantErr error  // sentinel match
		wantIn  string // substring match on the error text
	}{
		{
			name:    "cron and interval together",
			cfg:     Config{Schedule: ScheduleConfig{Goal: "g", Cron: "15 3 * * *", Interval: "2h"}},
			wantErr: ErrCronAndInterval,
		},
		{
			name:    "unknown log level",
			cfg:     Config{Logging: LoggingConfig{Level: "chatty"}},
			wantErr: ErrInvalidLogLevel,
		},
		{
			name:    "unknown log format",
			cfg:     Config{Logging: LoggingConfig{Format: "csv"}},
			wantErr: ErrInvalidLogFormat,
		},
		{
			name:   "negative iteration cap",
			cfg:    Config{Scheduler: SchedulerConfig{MaxIterations: -1}},
			wantIn: "scheduler.max_iterations",
		},
		{
			name:   "negative cutoff window",
			cfg:    Config{Scheduler: SchedulerConfig{GenerationCutoffWindow: -2}},
			wantIn: "scheduler.generation_cutoff_window",
		},
		{
			name:   "cutoff window wider than the run",
			cfg:    Config{Scheduler: SchedulerConfig{MaxIterations: 4, GenerationCutoffWindow: 9}},
			wantIn: "scheduler.generation_cutoff_window",
		},
		{
			name:   "unparsable oracle timeout",
			cfg:    Config{Oracle: OracleConfig{Timeout: "soonish"}},
			wantIn: `oracle.timeout: invalid duration "soonish"`,
		},
		{
			name:   "negative failure threshold",
			cfg:    Config{Oracle: OracleConfig{FailureThreshold: -3}},
			wantIn: "oracle.failure_threshold",
		},
		{
			name:   "negative log retention",
			cfg:    Config{Logging: LoggingConfig{RetentionDays: -7}},
			wantIn: "logging.retention_days",
		},
		{
			name:   "unparsable schedule interval",
			cfg:    Config{Schedule: ScheduleConfig{Goal: "g", Interval: "hourly"}},
			wantIn: "schedule.interval",
		},
		{
			name:   "schedule with no goal",
			cfg:    Config{Schedule: ScheduleConfig{Cron: "15 3 * * *"}},
			wantIn: "schedule.goal",
		},
		{
			name: "fully populated",
			cfg: Config{
				Scheduler: SchedulerConfig{MaxIterations: 20, GenerationCutoffWindow: 5},
				Oracle: OracleConfig{
					Binary:           "claude",
					Timeout:          "10m",
					RetryMaxElapsed:  "90s",
					FailureThreshold: 3,
					BreakerCooldown:  "45s",
				},
				Logging:  LoggingConfig{Level: "debug", Format: "text", RetentionDays: 14},
				Schedule: ScheduleConfig{Goal: "groom the tracker", Interval: "6h"},
			},
		},
		{
			name: "zero value passes",
			cfg:  Config{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := Validate(&tc.cfg)
			switch {
			case tc.wantErr != nil:
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("Validate() = %v, want %v", err, tc.wantErr)
				}
			case tc.wantIn != "":
				if err == nil || !strings.Contains(err.Error(), tc.wantIn) {
					t.Fatalf("Validate() = %v, want error containing %q", err, tc.wantIn)
				}
			default:
				if err != nil {
					t.Fatalf("Validate() = %v, want nil", err)
				}
			}
		})
	}
}

func TestExpandPath(t *testing.T) {
	home, _ := os.UserHomeDir()
	cases := map[string]string{
		"~/notes/todo.md":   filepath.Join(home, "notes", "todo.md"),
		"/var/log/taskmill": "/var/log/taskmill",
		"cache/runs":        "cache/runs",
		"~":                 "~", // only the ~/ prefix expands
		"":                  "",
	}
	for in, want := range cases {
		if got := expandPath(in); got != want {
			t.Errorf("expandPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestDurationGetters(t *testing.T) {
	o := OracleConfig{Timeout: "90s", RetryMaxElapsed: "2m", BreakerCooldown: "30s"}
	if got := o.TimeoutDuration(); got != 90*time.Second {
		t.Errorf("TimeoutDuration() = %v, want 90s", got)
	}
	if got := o.RetryMaxElapsedDuration(); got != 2*time.Minute {
		t.Errorf("RetryMaxElapsedDuration() = %v, want 2m", got)
	}
	if got := o.BreakerCooldownDuration(); got != 30*time.Second {
		t.Errorf("BreakerCooldownDuration() = %v, want 30s", got)
	}

	if got := (OracleConfig{}).TimeoutDuration(); got != 0 {
		t.Errorf("empty TimeoutDuration() = %v, want 0", got)
	}
	if got := (OracleConfig{Timeout: "bogus"}).TimeoutDuration(); got != 0 {
		t.Errorf("invalid TimeoutDuration() = %v, want 0", got)
	}
	if got := (ScheduleConfig{Interval: "1h"}).IntervalDuration(); got != time.Hour {
		t.Errorf("IntervalDuration() = %v, want 1h", got)
	}
}

func TestLoadFromPaths_ReadsProjectFile(t *testing.T) {
	projectDir := t.TempDir()
	writeConfig(t, projectDir, ConfigFileName, `
scheduler:
  max_iterations: 12
  generation_cutoff_window: 3
oracle:
  binary: claude-beta
logging:
  level: warn
schedule:
  goal: groom the issue tracker
  cron: "30 1 * * *"
  window:
    start: "23:30"
    end: "05:30"
    timezone: America/New_York
`)

	cfg, err := LoadFromPaths(projectDir, filepath.Join(projectDir, "no-such-global.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if cfg.Scheduler.MaxIterations != 12 || cfg.Scheduler.GenerationCutoffWindow != 3 {
		t.Errorf("scheduler = %+v, want 12/3", cfg.Scheduler)
	}
	if cfg.Oracle.Binary != "claude-beta" {
		t.Errorf("Oracle.Binary = %q, want claude-beta", cfg.Oracle.Binary)
	}
	if cfg.Logging.Level != "warn" {
		t.Errorf("Logging.Level = %q, want warn", cfg.Logging.Level)
	}
	if cfg.Schedule.Goal != "groom the issue tracker" || cfg.Schedule.Cron != "30 1 * * *" {
		t.Errorf("schedule = %+v", cfg.Schedule)
	}
	w := cfg.Schedule.Window
	if w == nil || w.Start != "23:30" || w.End != "05:30" || w.Timezone != "America/New_York" {
		t.Errorf("Schedule.Window = %+v, want 23:30-05:30 America/New_York", w)
	}

	// Keys the file never mentions stay at their defaults.
	if cfg.Oracle.Timeout != DefaultOracleTimeout {
		t.Errorf("Oracle.Timeout = %q, want default %q", cfg.Oracle.Timeout, DefaultOracleTimeout)
	}
	if cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("Logging.Format = %q, want default %q", cfg.Logging.Format, DefaultLogFormat)
	}
}

func TestLoadFromPaths_ProjectOverridesGlobal(t *testing.T) {
	globalPath := writeConfig(t, t.TempDir(), "global.yaml", `
scheduler:
  max_iterations: 40
oracle:
  binary: claude
logging:
  level: warn
`)
	projectDir := t.TempDir()
	writeConfig(t, projectDir, ConfigFileName, `
oracle:
  binary: claude-dev
logging:
  level: debug
`)

	cfg, err := LoadFromPaths(projectDir, globalPath)
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if cfg.Oracle.Binary != "claude-dev" {
		t.Errorf("Oracle.Binary = %q, want the project value", cfg.Oracle.Binary)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("Logging.Level = %q, want the project value", cfg.Logging.Level)
	}
	if cfg.Scheduler.MaxIterations != 40 {
		t.Errorf("Scheduler.MaxIterations = %d, want the global value 40", cfg.Scheduler.MaxIterations)
	}
}

func TestLoadFromPaths_Defaults(t *testing.T) {
	dir := t.TempDir()
	cfg, err := LoadFromPaths(dir, filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	if cfg.Scheduler.MaxIterations != 20 || cfg.Scheduler.GenerationCutoffWindow != 5 {
		t.Errorf("scheduler defaults = %+v, want 20/5", cfg.Scheduler)
	}
	if cfg.Oracle.Binary != DefaultOracleBinary || cfg.Oracle.Timeout != DefaultOracleTimeout {
		t.Errorf("oracle defaults = %+v", cfg.Oracle)
	}
	if cfg.Logging.Level != DefaultLogLevel || cfg.Logging.Format != DefaultLogFormat {
		t.Errorf("logging defaults = %+v", cfg.Logging)
	}
	if cfg.Logging.RetentionDays != DefaultLogRetentionDays {
		t.Errorf("Logging.RetentionDays = %d, want %d", cfg.Logging.RetentionDays, DefaultLogRetentionDays)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true by default")
	}
	if !strings.HasSuffix(cfg.History.Path, filepath.Join("taskmill", "history.db")) {
		t.Errorf("History.Path = %q, want the taskmill data dir", cfg.History.Path)
	}
}

func TestLoadFromPaths_RejectsInvalid(t *testing.T) {
	dir := t.TempDir()
	writeConfig(t, dir, ConfigFileName, "logging:\n  level: chatty\n")

	if _, err := LoadFromPaths(dir, filepath.Join(dir, "absent.yaml")); !errors.Is(err, ErrInvalidLogLevel) {
		t.Errorf("LoadFromPaths = %v, want ErrInvalidLogLevel", err)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfig(t, t.TempDir(), "anywhere.yaml", "scheduler:\n  max_iterations: 7\n")

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile: %v", err)
	}
	if cfg.Scheduler.MaxIterations != 7 {
		t.Errorf("Scheduler.MaxIterations = %d, want 7", cfg.Scheduler.MaxIterations)
	}
}

func TestLoadFile_Missing(t *testing.T) {
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("LoadFile succeeded on a path that does not exist")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("TASKMILL_SCHEDULER_MAX_ITERATIONS", "42")
	t.Setenv("TASKMILL_ORACLE_BINARY", "claude-nightly")

	dir := t.TempDir()
	writeConfig(t, dir, ConfigFileName, "scheduler:\n  max_iterations: 12\n")

	cfg, err := LoadFromPaths(dir, filepath.Join(dir, "absent.yaml"))
	if err != nil {
		t.Fatalf("LoadFromPaths: %v", err)
	}

	// Environment wins over the file.
	if cfg.Scheduler.MaxIterations != 42 {
		t.Errorf("Scheduler.MaxIterations = %d, want the env value 42", cfg.Scheduler.MaxIterations)
	}
	if cfg.Oracle.Binary != "claude-nightly" {
		t.Errorf("Oracle.Binary = %q, want the env value", cfg.Oracle.Binary)
	}
}

func TestGlobalConfigPath(t *testing.T) {
	got := GlobalConfigPath()
	if !strings.HasSuffix(got, filepath.Join(".config", "taskmill", ConfigFileName)) {
		t.Errorf("GlobalConfigPath() = %q", got)
	}
}
