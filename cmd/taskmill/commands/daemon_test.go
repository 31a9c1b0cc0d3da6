package commands

import (
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
)

func TestPidFileRoundTrip(t *testing.T) {
	pf := pidFile(filepath.Join(t.TempDir(), "sub", pidFileName))

	if err := pf.write(); err != nil {
		t.Fatalf("write: %v", err)
	}

	pid, err := pf.read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != os.Getpid() {
		t.Errorf("pid = %d, want %d", pid, os.Getpid())
	}

	if err := pf.remove(); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := pf.read(); err == nil {
		t.Error("read should fail after removal")
	}
}

func TestPidFileReadTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), pidFileName)
	if err := os.WriteFile(path, []byte("1234\n"), 0644); err != nil {
		t.Fatal(err)
	}

	pid, err := pidFile(path).read()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if pid != 1234 {
		t.Errorf("pid = %d, want 1234", pid)
	}
}

func TestProcessAlive_Self(t *testing.T) {
	if !processAlive(os.Getpid()) {
		t.Error("own process should be alive")
	}
}

func TestProcessAlive_Reaped(t *testing.T) {
	cmd := exec.Command("true")
	if err := cmd.Run(); err != nil {
		t.Skipf("running 'true': %v", err)
	}
	if processAlive(cmd.Process.Pid) {
		t.Error("reaped child should not count as alive")
	}
}

func TestPidFileStatus_NoFile(t *testing.T) {
	pf := pidFile(filepath.Join(t.TempDir(), pidFileName))

	pid, alive := pf.status()
	if alive {
		t.Error("alive = true, want false without a pid file")
	}
	if pid != 0 {
		t.Errorf("pid = %d, want 0", pid)
	}
}

func TestPidFileStatus_StalePid(t *testing.T) {
	path := filepath.Join(t.TempDir(), pidFileName)
	if err := os.WriteFile(path, []byte("999999999"), 0644); err != nil {
		t.Fatalf("write stale pid: %v", err)
	}

	pid, alive := pidFile(path).status()
	if alive {
		t.Error("alive = true, want false for a dead pid")
	}
	if pid != 999999999 {
		t.Errorf("pid = %d, want the recorded value for stale detection", pid)
	}
}

func TestDaemonStart_RequiresSchedule(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	writeTestConfig(t, "schedule:\n  goal: nightly cleanup\n")

	err := runDaemonStart(nil, nil)
	if err == nil {
		t.Fatal("expected error without a cron or interval schedule")
	}
	if !strings.Contains(err.Error(), "no schedule configured") {
		t.Errorf("error = %q, want it to mention the missing schedule", err.Error())
	}
}

func TestDaemonStart_RequiresGoal(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	// Config validation rejects a schedule without a goal at load time.
	writeTestConfig(t, "schedule:\n  cron: \"0 * * * *\"\n")

	err := runDaemonStart(nil, nil)
	if err == nil {
		t.Fatal("expected error for a schedule with no goal")
	}
	if !strings.Contains(err.Error(), "goal") {
		t.Errorf("error = %q, want it to mention the goal", err.Error())
	}
}
