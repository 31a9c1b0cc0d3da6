// Package config layers taskmill settings from YAML files and the
// environment. A project-level taskmill.yaml overrides the global file
// under ~/.config, and TASKMILL_* variables override both.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/marcus/taskmill/internal/scheduler"
)

// ConfigFileName is the per-directory config file picked up from the
// working directory, overriding the global file.
const ConfigFileName = "taskmill.yaml"

// Defaults applied when a field is absent from every config source.
const (
	DefaultOracleBinary     = "claude"
	DefaultOracleTimeout    = "10m"
	DefaultRetryMaxElapsed  = "2m"
	DefaultFailureThreshold = 3
	DefaultBreakerCooldown  = "30s"
	DefaultLogLevel         = "info"
	DefaultLogFormat        = "json"
	DefaultLogRetentionDays = 7
)

// Validation sentinels for violations callers branch on.
var (
	ErrCronAndInterval  = errors.New("schedule: cron and interval are mutually exclusive")
	ErrInvalidLogLevel  = errors.New("logging.level: must be one of debug, info, warn, error")
	ErrInvalidLogFormat = errors.New("logging.format: must be json or text")
)

// Config is the merged view of every configuration source.
type Config struct {
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Oracle    OracleConfig    `mapstructure:"oracle"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	History   HistoryConfig   `mapstructure:"history"`
	Reports   ReportsConfig   `mapstructure:"reports"`
	Schedule  ScheduleConfig  `mapstructure:"schedule"`
}

// SchedulerConfig bounds the goal loop. Zero values mean "use the default".
type SchedulerConfig struct {
	MaxIterations          int `mapstructure:"max_iterations"`
	GenerationCutoffWindow int `mapstructure:"generation_cutoff_window"`
}

// OracleConfig selects and tunes the reasoning oracle. Durations are
// strings ("90s", "10m") validated at load time.
type OracleConfig struct {
	Binary           string `mapstructure:"binary"`
	Timeout          string `mapstructure:"timeout"`
	WorkDir          string `mapstructure:"work_dir"`
	RetryMaxElapsed  string `mapstructure:"retry_max_elapsed"`
	FailureThreshold int    `mapstructure:"failure_threshold"`
	BreakerCooldown  string `mapstructure:"breaker_cooldown"`
}

// LoggingConfig mirrors the logging package's settings.
type LoggingConfig struct {
	Level         string `mapstructure:"level"`
	Format        string `mapstructure:"format"`
	Path          string `mapstructure:"path"`
	RetentionDays int    `mapstructure:"retention_days"`
}

// HistoryConfig controls the sqlite run archive.
type HistoryConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Path    string `mapstructure:"path"`
}

// ReportsConfig controls where run reports are written. An empty Dir means
// the reporting package's default location.
type ReportsConfig struct {
	Dir string `mapstructure:"dir"`
}

// ScheduleConfig drives the daemon's recurring runs. Exactly one of Cron or
// Interval may be set.
type ScheduleConfig struct {
	Goal     string        `mapstructure:"goal"`
	Cron     string        `mapstructure:"cron"`
	Interval string        `mapstructure:"interval"`
	Window   *WindowConfig `mapstructure:"window"`
}

// WindowConfig restricts scheduled runs to a time-of-day window.
type WindowConfig struct {
	Start    string `mapstructure:"start"`
	End      string `mapstructure:"end"`
	Timezone string `mapstructure:"timezone"`
}

// TimeoutDuration returns the per-call oracle timeout, 0 when unset or
// unparsable.
func (o OracleConfig) TimeoutDuration() time.Duration {
	return parseDuration(o.Timeout)
}

// RetryMaxElapsedDuration returns the retry budget for generation calls.
func (o OracleConfig) RetryMaxElapsedDuration() time.Duration {
	return parseDuration(o.RetryMaxElapsed)
}

// BreakerCooldownDuration returns how long an open circuit stays open.
func (o OracleConfig) BreakerCooldownDuration() time.Duration {
	return parseDuration(o.BreakerCooldown)
}

// IntervalDuration returns the schedule interval, 0 when unset or unparsable.
func (s ScheduleConfig) IntervalDuration() time.Duration {
	return parseDuration(s.Interval)
}

func parseDuration(s string) time.Duration {
	if s == "" {
		return 0
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0
	}
	return d
}

// GlobalConfigPath returns the path of the user-level config file.
func GlobalConfigPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "taskmill", ConfigFileName)
}

// DefaultHistoryPath returns the default location of the run archive.
func DefaultHistoryPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskmill", "history.db")
}

// Load reads configuration for the current working directory: defaults,
// then the global file, then a local taskmill.yaml, then TASKMILL_*
// environment variables.
func Load() (*Config, error) {
	wd, err := os.Getwd()
	if err != nil {
		wd = "."
	}
	return LoadFromPaths(wd, GlobalConfigPath())
}

// LoadFile reads configuration from one explicit file, skipping the layered
// lookup. Used by the --config flag.
func LoadFile(path string) (*Config, error) {
	v := newViper()
	v.SetConfigFile(expandPath(path))
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	return finish(v)
}

// LoadFromPaths reads the global config file, then merges a project-level
// taskmill.yaml from projectDir over it. Missing files are not an error.
func LoadFromPaths(projectDir, globalPath string) (*Config, error) {
	v := newViper()

	if _, err := os.Stat(globalPath); err == nil {
		v.SetConfigFile(globalPath)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read global config: %w", err)
		}
	}

	projectPath := filepath.Join(projectDir, ConfigFileName)
	if _, err := os.Stat(projectPath); err == nil {
		v.SetConfigFile(projectPath)
		if err := v.MergeInConfig(); err != nil {
			return nil, fmt.Errorf("read project config: %w", err)
		}
	}

	return finish(v)
}

func newViper() *viper.Viper {
	v := viper.New()
	v.SetConfigType("yaml")
	setDefaults(v)
	v.SetEnvPrefix("TASKMILL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	return v
}

// setDefaults registers every key so environment overrides resolve even
// when no config file mentions them.
func setDefaults(v *viper.Viper) {
	v.SetDefault("scheduler.max_iterations", scheduler.DefaultMaxIterations)
	v.SetDefault("scheduler.generation_cutoff_window", scheduler.DefaultGenerationCutoffWindow)
	v.SetDefault("oracle.binary", DefaultOracleBinary)
	v.SetDefault("oracle.timeout", DefaultOracleTimeout)
	v.SetDefault("oracle.work_dir", "")
	v.SetDefault("oracle.retry_max_elapsed", DefaultRetryMaxElapsed)
	v.SetDefault("oracle.failure_threshold", DefaultFailureThreshold)
	v.SetDefault("oracle.breaker_cooldown", DefaultBreakerCooldown)
	v.SetDefault("logging.level", DefaultLogLevel)
	v.SetDefault("logging.format", DefaultLogFormat)
	v.SetDefault("logging.path", "")
	v.SetDefault("logging.retention_days", DefaultLogRetentionDays)
	v.SetDefault("history.enabled", true)
	v.SetDefault("history.path", DefaultHistoryPath())
	v.SetDefault("reports.dir", "")
	v.SetDefault("schedule.goal", "")
	v.SetDefault("schedule.cron", "")
	v.SetDefault("schedule.interval", "")
}

func finish(v *viper.Viper) (*Config, error) {
	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Logging.Path = expandPath(cfg.Logging.Path)
	cfg.History.Path = expandPath(cfg.History.Path)
	cfg.Reports.Dir = expandPath(cfg.Reports.Dir)
	cfg.Oracle.WorkDir = expandPath(cfg.Oracle.WorkDir)
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks cross-field rules and value ranges. Zero values count as
// unset and pass; errors name the offending config key.
func Validate(cfg *Config) error {
	if cfg.Scheduler.MaxIterations < 0 {
		return fmt.Errorf("scheduler.max_iterations: must not be negative, got %d", cfg.Scheduler.MaxIterations)
	}
	if cfg.Scheduler.GenerationCutoffWindow < 0 {
		return fmt.Errorf("scheduler.generation_cutoff_window: must not be negative, got %d", cfg.Scheduler.GenerationCutoffWindow)
	}
	if cfg.Scheduler.MaxIterations > 0 && cfg.Scheduler.GenerationCutoffWindow > cfg.Scheduler.MaxIterations {
		return fmt.Errorf("scheduler.generation_cutoff_window: %d exceeds scheduler.max_iterations %d",
			cfg.Scheduler.GenerationCutoffWindow, cfg.Scheduler.MaxIterations)
	}

	if err := checkDuration("oracle.timeout", cfg.Oracle.Timeout); err != nil {
		return err
	}
	if err := checkDuration("oracle.retry_max_elapsed", cfg.Oracle.RetryMaxElapsed); err != nil {
		return err
	}
	if err := checkDuration("oracle.breaker_cooldown", cfg.Oracle.BreakerCooldown); err != nil {
		return err
	}
	if cfg.Oracle.FailureThreshold < 0 {
		return fmt.Errorf("oracle.failure_threshold: must not be negative, got %d", cfg.Oracle.FailureThreshold)
	}

	switch cfg.Logging.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return ErrInvalidLogLevel
	}
	switch cfg.Logging.Format {
	case "", "json", "text":
	default:
		return ErrInvalidLogFormat
	}
	if cfg.Logging.RetentionDays < 0 {
		return fmt.Errorf("logging.retention_days: must not be negative, got %d", cfg.Logging.RetentionDays)
	}

	if cfg.Schedule.Cron != "" && cfg.Schedule.Interval != "" {
		return ErrCronAndInterval
	}
	if err := checkDuration("schedule.interval", cfg.Schedule.Interval); err != nil {
		return err
	}
	if (cfg.Schedule.Cron != "" || cfg.Schedule.Interval != "") && cfg.Schedule.Goal == "" {
		return errors.New("schedule.goal: required when a schedule is configured")
	}

	return nil
}

func checkDuration(key, value string) error {
	if value == "" {
		return nil
	}
	if _, err := time.ParseDuration(value); err != nil {
		return fmt.Errorf("%s: invalid duration %q", key, value)
	}
	return nil
}

func expandPath(path string) string {
	if strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
