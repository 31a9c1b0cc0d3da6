package commands

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/taskmill/internal/config"
)

// Generated configs must load and validate cleanly.

func TestGenerateGlobalConfig_Loads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskmill.yaml")
	if err := os.WriteFile(path, []byte(globalConfigTemplate()), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("generated global config does not load: %v", err)
	}

	if cfg.Scheduler.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Scheduler.MaxIterations)
	}
	if cfg.Scheduler.GenerationCutoffWindow != 5 {
		t.Errorf("GenerationCutoffWindow = %d, want 5", cfg.Scheduler.GenerationCutoffWindow)
	}
	if cfg.Oracle.Binary != "claude" {
		t.Errorf("Oracle.Binary = %q, want claude", cfg.Oracle.Binary)
	}
	if cfg.Oracle.Timeout != "10m" {
		t.Errorf("Oracle.Timeout = %q, want 10m", cfg.Oracle.Timeout)
	}
	if cfg.Oracle.FailureThreshold != 3 {
		t.Errorf("Oracle.FailureThreshold = %d, want 3", cfg.Oracle.FailureThreshold)
	}
	if !cfg.History.Enabled {
		t.Error("History.Enabled = false, want true")
	}
	if cfg.Logging.Level != "info" {
		t.Errorf("Logging.Level = %q, want info", cfg.Logging.Level)
	}
	if cfg.Logging.RetentionDays != 7 {
		t.Errorf("Logging.RetentionDays = %d, want 7", cfg.Logging.RetentionDays)
	}
	// The schedule block ships commented out.
	if cfg.Schedule.Cron != "" || cfg.Schedule.Interval != "" {
		t.Errorf("schedule should be inactive by default, got cron=%q interval=%q",
			cfg.Schedule.Cron, cfg.Schedule.Interval)
	}
}

func TestGenerateProjectConfig_Loads(t *testing.T) {
	path := filepath.Join(t.TempDir(), "taskmill.yaml")
	if err := os.WriteFile(path, []byte(projectConfigTemplate()), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := config.LoadFile(path)
	if err != nil {
		t.Fatalf("generated project config does not load: %v", err)
	}
	if cfg.Scheduler.MaxIterations != 20 {
		t.Errorf("MaxIterations = %d, want 20", cfg.Scheduler.MaxIterations)
	}
}

func TestRunInit_CreatesProjectConfig(t *testing.T) {
	tmp := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	_ = captureStdout(t, func() {
		if err := runInit(initCmd, nil); err != nil {
			t.Errorf("runInit: %v", err)
		}
	})

	content, err := os.ReadFile(filepath.Join(tmp, config.ConfigFileName))
	if err != nil {
		t.Fatalf("config not created: %v", err)
	}
	if !strings.Contains(string(content), "Taskmill project configuration") {
		t.Error("created file missing project config header")
	}
}

func TestRunInit_RefusesOverwriteOnN(t *testing.T) {
	tmp := t.TempDir()
	origWd, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	if err := os.Chdir(tmp); err != nil {
		t.Fatalf("chdir: %v", err)
	}
	defer func() { _ = os.Chdir(origWd) }()

	existing := filepath.Join(tmp, config.ConfigFileName)
	if err := os.WriteFile(existing, []byte("# keep me\n"), 0644); err != nil {
		t.Fatalf("write existing: %v", err)
	}

	origStdin := os.Stdin
	defer func() { os.Stdin = origStdin }()
	r, w, _ := os.Pipe()
	os.Stdin = r
	_, _ = w.WriteString("n\n")
	_ = w.Close()

	output := captureStdout(t, func() {
		if err := runInit(initCmd, nil); err != nil {
			t.Errorf("runInit: %v", err)
		}
	})

	if !strings.Contains(output, "Keeping the existing file.") {
		t.Errorf("declined overwrite should say so\nGot:\n%s", output)
	}
	content, _ := os.ReadFile(existing)
	if string(content) != "# keep me\n" {
		t.Error("existing config was overwritten")
	}
}
