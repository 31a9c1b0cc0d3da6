package commands

import (
	"path/filepath"
	"strings"
	"testing"

	"github.com/marcus/taskmill/internal/config"
)

func mustFind(t *testing.T, rep *doctorReport, name string) probe {
	t.Helper()
	p, ok := rep.find(name)
	if !ok {
		t.Fatalf("probe %q not found in %+v", name, rep.probes)
	}
	return p
}

func TestDoctorReport_TracksFailure(t *testing.T) {
	rep := &doctorReport{}
	rep.ok("a", "fine")
	rep.warn("b", "meh")
	if rep.failed {
		t.Error("failed = true before any failure")
	}
	rep.fail("c", "broken")
	if !rep.failed {
		t.Error("failed = false after a failure")
	}
	if len(rep.probes) != 3 {
		t.Errorf("probes = %d, want 3", len(rep.probes))
	}
}

func TestCheckSchedule_NotConfigured(t *testing.T) {
	rep := &doctorReport{}
	checkSchedule(&config.Config{}, rep)

	p := mustFind(t, rep, "schedule")
	if p.state != probeWarn {
		t.Errorf("state = %s, want WARN", p.state.label())
	}
	if !strings.Contains(p.detail, "neither cron nor interval") {
		t.Errorf("detail = %q, want no-schedule message", p.detail)
	}
}

func TestCheckSchedule_Cron(t *testing.T) {
	cfg := &config.Config{}
	cfg.Schedule.Cron = "0 * * * *"

	rep := &doctorReport{}
	checkSchedule(cfg, rep)

	p := mustFind(t, rep, "schedule")
	if p.state != probeOK {
		t.Errorf("state = %s, want OK (detail: %s)", p.state.label(), p.detail)
	}
	if !strings.Contains(p.detail, "next run") {
		t.Errorf("detail = %q, want next-run preview", p.detail)
	}
}

func TestCheckSchedule_BadCron(t *testing.T) {
	cfg := &config.Config{}
	cfg.Schedule.Cron = "not a cron"

	rep := &doctorReport{}
	checkSchedule(cfg, rep)

	if p := mustFind(t, rep, "schedule"); p.state != probeFail {
		t.Errorf("state = %s, want FAIL", p.state.label())
	}
}

func TestCheckOracle_Missing(t *testing.T) {
	t.Setenv("PATH", t.TempDir())

	rep := &doctorReport{}
	checkOracle(&config.Config{}, rep)

	p := mustFind(t, rep, "oracle.cli")
	if p.state != probeFail {
		t.Errorf("state = %s, want FAIL", p.state.label())
	}
	if !strings.Contains(p.detail, "not on PATH") {
		t.Errorf("detail = %q, want not-found message", p.detail)
	}
	if !rep.failed {
		t.Error("report should record the failure")
	}
}

func TestCheckOracle_Found(t *testing.T) {
	tmp := t.TempDir()
	stubBinary(t, tmp, "claude")
	t.Setenv("PATH", tmp)

	rep := &doctorReport{}
	checkOracle(&config.Config{}, rep)

	if p := mustFind(t, rep, "oracle.cli"); p.state != probeOK {
		t.Errorf("oracle.cli state = %s, want OK", p.state.label())
	}
	// The stub prints nothing for --version.
	if p := mustFind(t, rep, "oracle.version"); p.state != probeWarn {
		t.Errorf("oracle.version state = %s, want WARN", p.state.label())
	}
}

func TestCheckHistory_Disabled(t *testing.T) {
	rep := &doctorReport{}
	checkHistory(&config.Config{}, rep)

	p := mustFind(t, rep, "history")
	if p.state != probeOK || p.detail != "disabled" {
		t.Errorf("probe = %+v, want OK/disabled", p)
	}
}

func TestCheckHistory_EmptyArchive(t *testing.T) {
	cfg := &config.Config{}
	cfg.History.Enabled = true
	cfg.History.Path = filepath.Join(t.TempDir(), "history.db")

	rep := &doctorReport{}
	checkHistory(cfg, rep)

	p := mustFind(t, rep, "history")
	if p.state != probeWarn {
		t.Errorf("state = %s, want WARN (detail: %s)", p.state.label(), p.detail)
	}
	if !strings.Contains(p.detail, "no runs archived") {
		t.Errorf("detail = %q, want empty-archive message", p.detail)
	}
}

func TestCheckDaemon_NoPidFile(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	rep := &doctorReport{}
	checkDaemon(rep)

	if p := mustFind(t, rep, "daemon"); p.state != probeWarn {
		t.Errorf("state = %s, want WARN", p.state.label())
	}
}

func TestDoctorReport_Print(t *testing.T) {
	rep := &doctorReport{}
	rep.ok("config", "loaded")
	rep.fail("oracle.cli", `"claude" is not on PATH`)

	output := captureStdout(t, func() {
		rep.print()
	})

	mustContain(t, output,
		"Taskmill doctor",
		"[OK]",
		"config",
		"[FAIL]",
		`"claude" is not on PATH`,
	)
}
