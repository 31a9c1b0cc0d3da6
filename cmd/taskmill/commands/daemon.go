package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/marcus/taskmill/internal/config"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/marcus/taskmill/internal/schedule"
	"github.com/marcus/taskmill/internal/scheduler"
	"github.com/spf13/cobra"
)

const pidFileName = "taskmill.pid"

var daemonCmd = &cobra.Command{
	Use:   "daemon",
	Short: "Run scheduled goals in the background",
	Long: `Control the taskmill daemon, which triggers goal runs on a cron or
interval schedule without anyone at the keyboard.`,
}

var daemonStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Launch the daemon",
	Long: `Detach a taskmill daemon and keep it running until stopped.

Each schedule trigger plans, executes, and archives a run of schedule.goal,
exactly as 'taskmill run' would. Time windows under schedule.window gate
when triggers fire.`,
	RunE: runDaemonStart,
}

var daemonStopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop a running daemon",
	Long:  `Signal the daemon to shut down and wait for it to exit.`,
	RunE:  runDaemonStop,
}

var daemonStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show daemon state and next trigger",
	Long:  `Report whether a daemon is running, its pid, and when the schedule fires next.`,
	RunE:  runDaemonStatus,
}

var daemonForegroundFlag bool

func init() {
	daemonStartCmd.Flags().BoolVarP(&daemonForegroundFlag, "foreground", "f", false, "Stay attached instead of forking a background process")
	daemonCmd.AddCommand(daemonStartCmd)
	daemonCmd.AddCommand(daemonStopCmd)
	daemonCmd.AddCommand(daemonStatusCmd)
	rootCmd.AddCommand(daemonCmd)
}

// pidFile records the daemon's process id on disk.
type pidFile string

func daemonPidFile() pidFile {
	home, _ := os.UserHomeDir()
	return pidFile(filepath.Join(home, ".local", "share", "taskmill", pidFileName))
}

func (p pidFile) write() error {
	if err := os.MkdirAll(filepath.Dir(string(p)), 0755); err != nil {
		return fmt.Errorf("create pid dir: %w", err)
	}
	return os.WriteFile(string(p), []byte(strconv.Itoa(os.Getpid())), 0644)
}

func (p pidFile) read() (int, error) {
	data, err := os.ReadFile(string(p))
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(strings.TrimSpace(string(data)))
}

func (p pidFile) remove() error {
	return os.Remove(string(p))
}

// status reports the recorded pid and whether that process is alive.
// A missing or unreadable file yields pid 0.
func (p pidFile) status() (pid int, alive bool) {
	pid, err := p.read()
	if err != nil {
		return 0, false
	}
	return pid, processAlive(pid)
}

// processAlive probes a pid with signal 0.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	return proc.Signal(syscall.Signal(0)) == nil
}

func runDaemonStart(cmd *cobra.Command, args []string) error {
	pf := daemonPidFile()
	if pid, alive := pf.status(); alive {
		return fmt.Errorf("daemon already running as pid %d", pid)
	}

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if cfg.Schedule.Cron == "" && cfg.Schedule.Interval == "" {
		return fmt.Errorf("no schedule configured (set schedule.cron or schedule.interval in config)")
	}
	if cfg.Schedule.Goal == "" {
		return fmt.Errorf("no goal configured (set schedule.goal in config)")
	}

	if daemonForegroundFlag {
		return runDaemonLoop(cfg, pf)
	}
	return spawnDetached()
}

// spawnDetached re-execs the binary with --foreground in its own session,
// carrying the flags that change which config the child sees.
func spawnDetached() error {
	executable, err := os.Executable()
	if err != nil {
		return fmt.Errorf("resolve executable: %w", err)
	}

	childArgs := []string{"daemon", "start", "--foreground"}
	if configFlag != "" {
		childArgs = append(childArgs, "--config", configFlag)
	}
	if verboseFlag {
		childArgs = append(childArgs, "--verbose")
	}

	child := exec.Command(executable, childArgs...)
	child.Stdin = nil
	child.Stdout = nil
	child.Stderr = nil
	child.SysProcAttr = &syscall.SysProcAttr{Setsid: true}

	if err := child.Start(); err != nil {
		return fmt.Errorf("spawn daemon: %w", err)
	}

	fmt.Printf("daemon detached (pid %d)\n", child.Process.Pid)
	return nil
}

func runDaemonLoop(cfg *config.Config, pf pidFile) error {
	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("daemon")

	if err := pf.write(); err != nil {
		return fmt.Errorf("record pid: %w", err)
	}
	defer func() { _ = pf.remove() }()

	log.InfoCtx("daemon starting", map[string]any{"pid": os.Getpid()})

	// Systemd and launchd hand the daemon a minimal PATH; the oracle CLI
	// usually lives outside it.
	ensurePATH()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	sched, err := schedule.NewFromConfig(&cfg.Schedule)
	if err != nil {
		return fmt.Errorf("init schedule: %w", err)
	}

	sched.AddJob(func(jobCtx context.Context) error {
		return runScheduledGoal(jobCtx, cfg, log)
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start schedule: %w", err)
	}

	log.InfoCtx("schedule armed", map[string]any{
		"goal":         cfg.Schedule.Goal,
		"next_trigger": sched.NextRun().Format(time.RFC3339),
	})

	<-ctx.Done()
	log.Info("shutdown signal received")

	if err := sched.Stop(); err != nil && !errors.Is(err, schedule.ErrNotRunning) {
		log.Errorf("stop schedule: %v", err)
	}

	log.Info("daemon exiting")
	return nil
}

// runScheduledGoal executes one full goal run on a schedule trigger. A
// cancelled run still yields a report, which gets archived like any other.
func runScheduledGoal(ctx context.Context, cfg *config.Config, log *logging.Logger) error {
	goal := cfg.Schedule.Goal
	if goal == "" {
		return fmt.Errorf("schedule.goal not configured")
	}

	log.InfoCtx("scheduled run starting", map[string]any{"goal": goal})
	started := time.Now()

	resilient, _ := buildOracle(cfg)
	sched := scheduler.New(
		scheduler.WithOracle(resilient),
		scheduler.WithConfig(schedulerConfig(cfg)),
		scheduler.WithLogger(logging.Component("scheduler")),
	)

	report, err := sched.Run(ctx, goal)
	if err != nil {
		log.Errorf("scheduled run failed: %v", err)
		return err
	}
	finished := time.Now()

	log.InfoCtx("scheduled run finished", map[string]any{
		"duration":   finished.Sub(started).String(),
		"reason":     string(report.TerminationReason),
		"iterations": report.IterationsUsed,
		"completed":  report.TasksCompleted,
		"remaining":  report.TasksRemaining,
	})

	persistRun(cfg, log, report, started, finished)
	return nil
}

func runDaemonStop(cmd *cobra.Command, args []string) error {
	pf := daemonPidFile()
	pid, alive := pf.status()
	if !alive {
		if pid != 0 {
			_ = pf.remove()
			fmt.Println("no daemon running; removed stale pid file")
		} else {
			fmt.Println("no daemon running")
		}
		return nil
	}

	if err := stopDaemonProcess(pid); err != nil {
		return err
	}
	_ = pf.remove()
	return nil
}

// stopDaemonProcess sends SIGTERM and waits up to ten seconds before
// escalating to SIGKILL.
func stopDaemonProcess(pid int) error {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return fmt.Errorf("find process: %w", err)
	}
	if err := proc.Signal(syscall.SIGTERM); err != nil {
		return fmt.Errorf("signal pid %d: %w", pid, err)
	}

	fmt.Printf("sent SIGTERM to pid %d, waiting for exit...\n", pid)

	if waitForExit(pid, 10*time.Second) {
		fmt.Println("daemon shut down cleanly")
		return nil
	}

	fmt.Println("daemon still alive, escalating to SIGKILL")
	_ = proc.Signal(syscall.SIGKILL)
	return nil
}

// waitForExit polls until the process disappears or the grace period runs out.
func waitForExit(pid int, grace time.Duration) bool {
	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if !processAlive(pid) {
			return true
		}
		time.Sleep(200 * time.Millisecond)
	}
	return !processAlive(pid)
}

func runDaemonStatus(cmd *cobra.Command, args []string) error {
	pf := daemonPidFile()
	pid, alive := pf.status()
	if !alive {
		fmt.Println("daemon: not running")
		return nil
	}

	fmt.Printf("daemon: running (pid %d)\n", pid)

	cfg, err := loadConfig()
	if err == nil && (cfg.Schedule.Cron != "" || cfg.Schedule.Interval != "") {
		fmt.Printf("goal: %s\n", cfg.Schedule.Goal)
		if cfg.Schedule.Cron != "" {
			fmt.Printf("schedule: cron %q\n", cfg.Schedule.Cron)
		} else {
			fmt.Printf("schedule: every %s\n", cfg.Schedule.Interval)
		}
		if w := cfg.Schedule.Window; w != nil {
			tz := ""
			if w.Timezone != "" {
				tz = " (" + w.Timezone + ")"
			}
			fmt.Printf("window: %s to %s%s\n", w.Start, w.End, tz)
		}
		if sched, err := schedule.NewFromConfig(&cfg.Schedule); err == nil {
			if runs, err := sched.NextRuns(1); err == nil && len(runs) == 1 {
				fmt.Printf("next trigger: %s\n", runs[0].Format(time.RFC3339))
			}
		}
	}

	fmt.Printf("pid file: %s\n", pf)
	return nil
}
