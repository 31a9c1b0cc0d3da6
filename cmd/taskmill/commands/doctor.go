package commands

import (
	"errors"
	"fmt"
	"os"
	"os/exec"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/taskmill/internal/config"
	"github.com/marcus/taskmill/internal/history"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/schedule"
)

var doctorCmd = &cobra.Command{
	Use:   "doctor",
	Short: "Check taskmill configuration and environment",
	Long: `Run diagnostics to detect configuration and environment issues.

Checks config, the oracle CLI, log and report directories, the run
archive, scheduling, and daemon state.`,
	RunE: runDoctor,
}

func init() {
	rootCmd.AddCommand(doctorCmd)
}

type probeState int

const (
	probeOK probeState = iota
	probeWarn
	probeFail
)

func (s probeState) label() string {
	switch s {
	case probeWarn:
		return "WARN"
	case probeFail:
		return "FAIL"
	default:
		return "OK"
	}
}

type probe struct {
	name   string
	state  probeState
	detail string
}

// doctorReport accumulates probe outcomes and remembers whether any failed.
type doctorReport struct {
	probes []probe
	failed bool
}

func (d *doctorReport) ok(name, detail string)   { d.record(name, probeOK, detail) }
func (d *doctorReport) warn(name, detail string) { d.record(name, probeWarn, detail) }
func (d *doctorReport) fail(name, detail string) { d.record(name, probeFail, detail) }

func (d *doctorReport) record(name string, state probeState, detail string) {
	if state == probeFail {
		d.failed = true
	}
	d.probes = append(d.probes, probe{name: name, state: state, detail: detail})
}

func (d *doctorReport) find(name string) (probe, bool) {
	for _, p := range d.probes {
		if p.name == name {
			return p, true
		}
	}
	return probe{}, false
}

func (d *doctorReport) print() {
	s := newPalette()
	fmt.Println(s.Title.Render("Taskmill doctor"))
	for _, p := range d.probes {
		tag := s.Good
		switch p.state {
		case probeWarn:
			tag = s.Warn
		case probeFail:
			tag = s.Fail
		}
		fmt.Printf("%s %-16s %s\n", tag.Render(fmt.Sprintf("[%s]", p.state.label())), p.name, p.detail)
	}
	fmt.Println()
}

func runDoctor(cmd *cobra.Command, args []string) error {
	// The oracle lookup must see the same PATH a real run would.
	ensurePATH()

	rep := &doctorReport{}

	cfg, err := loadConfig()
	if err != nil {
		rep.fail("config", err.Error())
		rep.print()
		return fmt.Errorf("config load failed")
	}
	rep.ok("config", "loaded")

	checkOracle(cfg, rep)
	checkLogs(cfg, rep)
	checkHistory(cfg, rep)
	checkReports(cfg, rep)
	checkSchedule(cfg, rep)
	checkDaemon(rep)

	rep.print()

	if rep.failed {
		return fmt.Errorf("doctor found failures")
	}
	return nil
}

func checkOracle(cfg *config.Config, rep *doctorReport) {
	binary := cfg.Oracle.Binary
	if binary == "" {
		binary = config.DefaultOracleBinary
	}

	path, err := exec.LookPath(binary)
	if err != nil {
		rep.fail("oracle.cli", fmt.Sprintf("%q is not on PATH", binary))
		return
	}
	rep.ok("oracle.cli", path)

	_, cli := buildOracle(cfg)
	switch v, err := cli.Version(); {
	case err != nil:
		rep.warn("oracle.version", err.Error())
	case v == "":
		rep.warn("oracle.version", "no version reported")
	default:
		rep.ok("oracle.version", v)
	}

	if cfg.Oracle.WorkDir != "" {
		if info, err := os.Stat(cfg.Oracle.WorkDir); err != nil || !info.IsDir() {
			rep.fail("oracle.work_dir", fmt.Sprintf("missing %s", cfg.Oracle.WorkDir))
		} else {
			rep.ok("oracle.work_dir", cfg.Oracle.WorkDir)
		}
	}
}

func checkLogs(cfg *config.Config, rep *doctorReport) {
	dir := cfg.Logging.Path
	if dir == "" {
		dir = logging.DefaultConfig().Path
	}

	info, err := os.Stat(dir)
	switch {
	case err == nil && info.IsDir():
		rep.ok("logs", dir)
	case os.IsNotExist(err):
		rep.warn("logs", fmt.Sprintf("%s will be created on first run", dir))
	default:
		rep.fail("logs", fmt.Sprintf("%s not usable", dir))
	}
}

func checkHistory(cfg *config.Config, rep *doctorReport) {
	if !cfg.History.Enabled {
		rep.ok("history", "disabled")
		return
	}

	db, err := history.Open(cfg.History.Path)
	if err != nil {
		rep.fail("history", err.Error())
		return
	}
	defer func() { _ = db.Close() }()

	runs, err := db.Recent(1)
	if err != nil {
		rep.fail("history", err.Error())
		return
	}
	if len(runs) == 0 {
		rep.warn("history", fmt.Sprintf("no runs archived yet (%s)", db.Path()))
		return
	}
	age := time.Since(runs[0].StartedAt)
	rep.ok("history", fmt.Sprintf("last run %s ago", age.Truncate(time.Minute)))
}

func checkReports(cfg *config.Config, rep *doctorReport) {
	dir := cfg.Reports.Dir
	if dir == "" {
		dir = reporting.DefaultReportsDir()
	}

	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		rep.ok("reports", dir)
	} else {
		rep.warn("reports", fmt.Sprintf("%s will be created on first report", dir))
	}
}

func checkSchedule(cfg *config.Config, rep *doctorReport) {
	sched, err := schedule.NewFromConfig(&cfg.Schedule)
	if err != nil {
		if errors.Is(err, schedule.ErrNoSchedule) {
			rep.warn("schedule", "neither cron nor interval is set")
			return
		}
		rep.fail("schedule", err.Error())
		return
	}
	nextRuns, err := sched.NextRuns(1)
	if err != nil || len(nextRuns) == 0 {
		rep.warn("schedule", "could not project the next trigger")
		return
	}
	rep.ok("schedule", fmt.Sprintf("next run %s", nextRuns[0].Format("2006-01-02 15:04")))
}

func checkDaemon(rep *doctorReport) {
	pid, alive := daemonPidFile().status()
	switch {
	case alive:
		rep.ok("daemon", fmt.Sprintf("running (pid %d)", pid))
	case pid != 0:
		rep.warn("daemon", "stale pid file, process is gone")
	default:
		rep.warn("daemon", "not running")
	}
}
