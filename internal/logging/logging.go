// Package logging writes taskmill's structured run logs. Output goes to
// date-stamped files (taskmill-2006-01-02.log) under a configurable
// directory, JSON by default, with files older than the retention window
// swept on startup.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

const (
	logFilePrefix = "taskmill-"
	dateLayout    = "2006-01-02"
)

// Config controls log destination, verbosity, and retention.
type Config struct {
	Level         string // debug, info, warn, error
	Path          string // log directory; empty logs to stderr
	Format        string // json or text
	RetentionDays int    // days of log files to keep
}

// DefaultConfig returns info-level JSON logging under
// ~/.local/share/taskmill/logs with seven days of retention.
func DefaultConfig() Config {
	home, _ := os.UserHomeDir()
	return Config{
		Level:         "info",
		Path:          filepath.Join(home, ".local", "share", "taskmill", "logs"),
		Format:        "json",
		RetentionDays: 7,
	}
}

func (c Config) withDefaults() Config {
	if c.Level == "" {
		c.Level = "info"
	}
	if c.Format == "" {
		c.Format = "json"
	}
	if c.RetentionDays <= 0 {
		c.RetentionDays = 7
	}
	return c
}

// Logger is a zerolog-backed structured logger.
type Logger struct {
	zl   zerolog.Logger
	dir  string
	file *os.File
}

// New builds a logger from cfg. With a Path set it appends to the current
// day's file and sweeps expired files in the background; without one it
// writes to stderr.
func New(cfg Config) (*Logger, error) {
	cfg = cfg.withDefaults()

	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", cfg.Level, err)
	}

	l := &Logger{}
	out := io.Writer(os.Stderr)
	if cfg.Path != "" {
		l.dir = expandPath(cfg.Path)
		f, err := openDayFile(l.dir)
		if err != nil {
			return nil, err
		}
		l.file = f
		out = f
		go sweepExpired(l.dir, cfg.RetentionDays)
	}

	if cfg.Format == "text" {
		out = zerolog.ConsoleWriter{
			Out:        out,
			TimeFormat: time.RFC3339,
			NoColor:    true,
		}
	}

	l.zl = zerolog.New(out).Level(level).With().Timestamp().Logger()
	return l, nil
}

// Disabled returns a logger that drops everything. Components that must
// run without a logger attached use it in place of nil.
func Disabled() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// WithComponent returns a copy of l that tags every line with a
// component field.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{
		zl:   l.zl.With().Str("component", component).Logger(),
		dir:  l.dir,
		file: l.file,
	}
}

// Close releases the log file handle, if any.
func (l *Logger) Close() error {
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// Debug logs msg at debug level.
func (l *Logger) Debug(msg string) {
	l.zl.Debug().Msg(msg)
}

// Info logs msg at info level.
func (l *Logger) Info(msg string) {
	l.zl.Info().Msg(msg)
}

// Warn logs msg at warn level.
func (l *Logger) Warn(msg string) {
	l.zl.Warn().Msg(msg)
}

// Error logs msg at error level.
func (l *Logger) Error(msg string) {
	l.zl.Error().Msg(msg)
}

// Debugf logs a formatted message at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	l.zl.Debug().Msgf(format, args...)
}

// Infof logs a formatted message at info level.
func (l *Logger) Infof(format string, args ...any) {
	l.zl.Info().Msgf(format, args...)
}

// Warnf logs a formatted message at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	l.zl.Warn().Msgf(format, args...)
}

// Errorf logs a formatted message at error level.
func (l *Logger) Errorf(format string, args ...any) {
	l.zl.Error().Msgf(format, args...)
}

// DebugCtx logs msg at debug level with extra structured fields.
func (l *Logger) DebugCtx(msg string, fields map[string]any) {
	l.zl.Debug().Fields(fields).Msg(msg)
}

// InfoCtx logs msg at info level with extra structured fields.
func (l *Logger) InfoCtx(msg string, fields map[string]any) {
	l.zl.Info().Fields(fields).Msg(msg)
}

// WarnCtx logs msg at warn level with extra structured fields.
func (l *Logger) WarnCtx(msg string, fields map[string]any) {
	l.zl.Warn().Fields(fields).Msg(msg)
}

// ErrorCtx logs msg at error level with extra structured fields.
func (l *Logger) ErrorCtx(msg string, fields map[string]any) {
	l.zl.Error().Fields(fields).Msg(msg)
}

var (
	mu     sync.RWMutex
	active *Logger
)

// Init replaces the process-wide logger, closing the previous log file.
func Init(cfg Config) error {
	l, err := New(cfg)
	if err != nil {
		return err
	}

	mu.Lock()
	defer mu.Unlock()
	if active != nil {
		_ = active.Close()
	}
	active = l
	return nil
}

// Get returns the process-wide logger. Before Init it logs to stderr so
// early failures are never silent.
func Get() *Logger {
	mu.RLock()
	defer mu.RUnlock()
	if active == nil {
		return &Logger{zl: zerolog.New(os.Stderr).With().Timestamp().Logger()}
	}
	return active
}

// Component returns the process-wide logger tagged with a component name.
func Component(name string) *Logger {
	return Get().WithComponent(name)
}

// openDayFile opens the log file for the current date, creating the
// directory as needed.
func openDayFile(dir string) (*os.File, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	name := logFilePrefix + time.Now().Format(dateLayout) + ".log"
	f, err := os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	return f, nil
}

// sweepExpired deletes log files whose date stamp falls outside the
// retention window. Unparseable names are left alone.
func sweepExpired(dir string, retentionDays int) {
	matches, err := filepath.Glob(filepath.Join(dir, logFilePrefix+"*.log"))
	if err != nil {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -retentionDays)
	for _, path := range matches {
		day, ok := fileDate(filepath.Base(path))
		if ok && day.Before(cutoff) {
			_ = os.Remove(path)
		}
	}
}

// fileDate extracts the date stamp from a log file name such as
// taskmill-2026-08-25.log.
func fileDate(name string) (time.Time, bool) {
	stamp := strings.TrimSuffix(strings.TrimPrefix(name, logFilePrefix), ".log")
	day, err := time.Parse(dateLayout, stamp)
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// expandPath expands a leading ~/ to the user's home directory.
func expandPath(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}
