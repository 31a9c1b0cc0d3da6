package commands

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/taskmill/internal/config"
	"github.com/marcus/taskmill/internal/history"
	"github.com/marcus/taskmill/internal/logging"
	"github.com/marcus/taskmill/internal/oracle"
	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/scheduler"
	"github.com/marcus/taskmill/internal/ui"
	"github.com/mattn/go-isatty"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// isInteractive is swapped out by tests; the real check asks whether stdout
// is a terminal.
var isInteractive = func() bool {
	return isatty.IsTerminal(os.Stdout.Fd()) || isatty.IsCygwinTerminal(os.Stdout.Fd())
}

// confirmRun decides whether execution may start. Dry runs never proceed,
// --yes always does, and piped invocations proceed without a prompt since
// nobody is there to answer one.
func confirmRun(p runParams) (bool, error) {
	if p.dryRun {
		return false, nil
	}
	if p.yes {
		return true, nil
	}
	if !isInteractive() {
		p.log.Info("stdout is not a terminal, skipping confirmation")
		return true, nil
	}

	fmt.Print("Start the run? [y/N] ")
	scanner := bufio.NewScanner(os.Stdin)
	reply := ""
	if scanner.Scan() {
		reply = strings.ToLower(strings.TrimSpace(scanner.Text()))
	}
	if err := scanner.Err(); err != nil {
		return false, fmt.Errorf("read stdin: %w", err)
	}
	switch reply {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

var runCmd = &cobra.Command{
	Use:   "run [goal]",
	Short: "Work a goal to completion",
	Long: `Plan a goal into prioritized tasks and execute them one at a time.

The goal is taken from the command line; when omitted, schedule.goal
from the config is used. The reasoning CLI first breaks the goal into
tasks, then each iteration executes the highest-priority task and asks
for follow-up tasks discovered by that work. The run stops when the
queue drains, the iteration cap is reached, or it is interrupted, and
always finishes with a report.

A preflight overview (goal, oracle CLI, iteration limits) is printed
before anything executes. Interactive terminals then get a confirmation
prompt, which --yes answers in advance; piped and scheduled invocations
(cron, daemon, CI) never prompt. --dry-run stops right after the
overview.

Examples:
  taskmill run "organize a product launch"   # Interactive: preflight + prompt
  taskmill run --yes "triage open tickets"   # No confirmation prompt
  taskmill run --dry-run "migrate the wiki"  # Preview only, no execution
  taskmill run --max-iterations 10 "..."     # Tighter iteration cap
  taskmill run --tui "..."                   # Full-screen live dashboard`,
	RunE: runRun,
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Show the preflight summary and exit without executing")
	runCmd.Flags().BoolP("yes", "y", false, "Answer the confirmation prompt in advance")
	runCmd.Flags().Bool("tui", false, "Show a full-screen dashboard during the run")
	runCmd.Flags().Int("max-iterations", 0, "Cap on task executions for this run (0 = config value)")
	runCmd.Flags().Int("cutoff-window", -1, "Final iterations that skip replanning (-1 = config value)")
	runCmd.Flags().String("oracle", "", "Reasoning CLI binary to use (overrides config)")
	runCmd.Flags().String("workdir", "", "Working directory for oracle calls")
	runCmd.Flags().Bool("no-color", false, "Plain output without ANSI colors")
	rootCmd.AddCommand(runCmd)
}

func runRun(cmd *cobra.Command, args []string) error {
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	yes, _ := cmd.Flags().GetBool("yes")
	useTUI, _ := cmd.Flags().GetBool("tui")
	maxIterations, _ := cmd.Flags().GetInt("max-iterations")
	cutoffWindow, _ := cmd.Flags().GetInt("cutoff-window")
	oracleBinary, _ := cmd.Flags().GetString("oracle")
	workDir, _ := cmd.Flags().GetString("workdir")

	noColor, _ := cmd.Flags().GetBool("no-color")
	if noColor || os.Getenv("NO_COLOR") != "" {
		lipgloss.SetColorProfile(termenv.Ascii)
	}

	ensurePATH()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(interrupts)
	go func() {
		<-interrupts
		fmt.Println("\ninterrupted, winding down...")
		cancel()
	}()

	cfg, err := loadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	applyRunOverrides(cfg, maxIterations, cutoffWindow, oracleBinary, workDir)

	if err := initLogging(cfg); err != nil {
		return fmt.Errorf("init logging: %w", err)
	}
	log := logging.Component("run")

	goal, err := resolveGoal(args, cfg)
	if err != nil {
		return err
	}
	log.InfoCtx("starting taskmill run", map[string]any{"goal": goal})

	params := runParams{
		cfg:    cfg,
		goal:   goal,
		dryRun: dryRun,
		yes:    yes,
		tui:    useTUI,
		log:    log,
	}
	return executeGoal(ctx, params)
}

type runParams struct {
	cfg    *config.Config
	goal   string
	dryRun bool
	yes    bool
	tui    bool
	log    *logging.Logger
}

// resolveGoal takes the goal from the command line, falling back to
// schedule.goal from the config.
func resolveGoal(args []string, cfg *config.Config) (string, error) {
	if goal := strings.TrimSpace(strings.Join(args, " ")); goal != "" {
		return goal, nil
	}
	if cfg.Schedule.Goal != "" {
		return cfg.Schedule.Goal, nil
	}
	return "", fmt.Errorf("no goal given (pass one as an argument or set schedule.goal in config)")
}

// applyRunOverrides folds command-line flags into the loaded config.
func applyRunOverrides(cfg *config.Config, maxIterations, cutoffWindow int, oracleBinary, workDir string) {
	if maxIterations > 0 {
		cfg.Scheduler.MaxIterations = maxIterations
	}
	if cutoffWindow >= 0 {
		cfg.Scheduler.GenerationCutoffWindow = cutoffWindow
	}
	if oracleBinary != "" {
		cfg.Oracle.Binary = oracleBinary
	}
	if workDir != "" {
		cfg.Oracle.WorkDir = expandPath(workDir)
	}
}

// buildOracle assembles the resilient oracle stack from config. The bare
// CLI oracle is returned alongside for availability probes.
func buildOracle(cfg *config.Config) (*oracle.Resilient, *oracle.ClaudeOracle) {
	var opts []oracle.ClaudeOption
	if cfg.Oracle.Binary != "" {
		opts = append(opts, oracle.WithBinaryPath(cfg.Oracle.Binary))
	}
	if d := cfg.Oracle.TimeoutDuration(); d > 0 {
		opts = append(opts, oracle.WithTimeout(d))
	}
	if cfg.Oracle.WorkDir != "" {
		opts = append(opts, oracle.WithWorkDir(expandPath(cfg.Oracle.WorkDir)))
	}
	cli := oracle.NewClaudeOracle(opts...)

	retry := oracle.DefaultRetryConfig()
	if d := cfg.Oracle.RetryMaxElapsedDuration(); d > 0 {
		retry.MaxElapsedTime = d
	}
	breaker := oracle.DefaultBreakerConfig()
	if cfg.Oracle.FailureThreshold > 0 {
		breaker.FailureThreshold = uint32(cfg.Oracle.FailureThreshold)
	}
	if d := cfg.Oracle.BreakerCooldownDuration(); d > 0 {
		breaker.OpenTimeout = d
	}

	return oracle.NewResilient(cli, retry, breaker, logging.Component("oracle")), cli
}

// schedulerConfig maps config values onto the run engine's knobs.
func schedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		MaxIterations:          cfg.Scheduler.MaxIterations,
		GenerationCutoffWindow: cfg.Scheduler.GenerationCutoffWindow,
	}
}

// preflight collects everything shown before execution starts.
type preflight struct {
	goal          string
	oracleBinary  string
	oraclePath    string // resolved path, empty when not found
	oracleVersion string
	available     bool
	maxIterations int
	cutoff        int
	workDir       string
	reportsDir    string
	historyPath   string // empty when history is disabled
}

// buildPreflight probes the oracle CLI and resolves the run limits
// without starting the run. Shown before confirmation and by --dry-run.
func buildPreflight(p runParams, cli *oracle.ClaudeOracle) preflight {
	pf := preflight{
		goal:         p.goal,
		oracleBinary: p.cfg.Oracle.Binary,
		workDir:      p.cfg.Oracle.WorkDir,
		reportsDir:   p.cfg.Reports.Dir,
	}
	if pf.oracleBinary == "" {
		pf.oracleBinary = config.DefaultOracleBinary
	}
	if pf.reportsDir == "" {
		pf.reportsDir = reporting.DefaultReportsDir()
	}
	if p.cfg.History.Enabled {
		pf.historyPath = p.cfg.History.Path
		if pf.historyPath == "" {
			pf.historyPath = history.DefaultPath()
		}
	}

	if path, err := exec.LookPath(pf.oracleBinary); err == nil {
		pf.available = true
		pf.oraclePath = path
		if v, err := cli.Version(); err == nil {
			pf.oracleVersion = v
		}
	}

	// New normalizes the bounds, so the preflight shows what the run will
	// actually use.
	resolved := scheduler.New(scheduler.WithConfig(schedulerConfig(p.cfg))).Config()
	pf.maxIterations = resolved.MaxIterations
	pf.cutoff = resolved.GenerationCutoff()

	return pf
}

// displayPreflight writes the pre-run overview as plain text.
func displayPreflight(w io.Writer, pf preflight) {
	fmt.Fprintf(w, "\n=== Preflight ===\n")
	fmt.Fprintf(w, "Goal: %s\n", pf.goal)

	switch {
	case pf.available && pf.oracleVersion != "":
		fmt.Fprintf(w, "Oracle: %s (%s)\n", pf.oracleBinary, pf.oracleVersion)
	case pf.available:
		fmt.Fprintf(w, "Oracle: %s (%s)\n", pf.oracleBinary, pf.oraclePath)
	default:
		fmt.Fprintf(w, "Oracle: %s (not found in PATH)\n", pf.oracleBinary)
	}
	if pf.workDir != "" {
		fmt.Fprintf(w, "Workdir: %s\n", pf.workDir)
	}

	fmt.Fprintf(w, "Iterations: up to %d, replanning through iteration %d\n", pf.maxIterations, pf.cutoff)
	fmt.Fprintf(w, "Reports: %s\n", pf.reportsDir)
	if pf.historyPath != "" {
		fmt.Fprintf(w, "History: %s\n", pf.historyPath)
	} else {
		fmt.Fprintf(w, "History: disabled\n")
	}

	if !pf.available {
		fmt.Fprintf(w, "\nWarnings:\n")
		fmt.Fprintf(w, "  - oracle CLI %q not found in PATH; the run will fail at planning\n", pf.oracleBinary)
	}

	fmt.Fprintln(w)
}

func executeGoal(ctx context.Context, p runParams) error {
	resilient, cli := buildOracle(p.cfg)

	pf := buildPreflight(p, cli)
	if isInteractive() {
		displayPreflightStyled(pf)
	} else {
		displayPreflight(os.Stdout, pf)
	}

	if p.dryRun {
		fmt.Println("[dry-run] Nothing executed.")
		return nil
	}

	proceed, err := confirmRun(p)
	if err != nil {
		return err
	}
	if !proceed {
		fmt.Println("declined, nothing executed")
		return nil
	}

	schedOpts := []scheduler.Option{
		scheduler.WithOracle(resilient),
		scheduler.WithConfig(schedulerConfig(p.cfg)),
		scheduler.WithLogger(logging.Component("scheduler")),
	}

	started := time.Now()
	var report *reporting.Report
	var runErr error

	if p.tui && isInteractive() {
		report, runErr = runWithTUI(ctx, p, schedOpts)
	} else {
		if isInteractive() {
			renderer := newTTYRenderer()
			defer renderer.finish()
			schedOpts = append(schedOpts, scheduler.WithEventHandler(renderer.HandleEvent))
		} else {
			schedOpts = append(schedOpts, scheduler.WithEventHandler(printEvent))
		}
		sched := scheduler.New(schedOpts...)
		report, runErr = sched.Run(ctx, p.goal)
	}
	finished := time.Now()

	if runErr != nil {
		// Initial planning failed outright; there is nothing to report.
		p.log.Errorf("run failed: %v", runErr)
		return runErr
	}

	duration := finished.Sub(started)
	if isInteractive() {
		displayRunSummaryStyled(report, duration)
	} else {
		displayRunSummary(os.Stdout, report, duration)
	}

	p.log.InfoCtx("run complete", map[string]any{
		"duration":   duration.String(),
		"reason":     string(report.TerminationReason),
		"iterations": report.IterationsUsed,
		"completed":  report.TasksCompleted,
		"remaining":  report.TasksRemaining,
	})

	persistRun(p.cfg, p.log, report, started, finished)
	return nil
}

// runWithTUI drives the run behind a full-screen dashboard. The dashboard
// stays up after the run finishes so the outcome can be read; quitting it
// early cancels the run.
func runWithTUI(ctx context.Context, p runParams, opts []scheduler.Option) (*reporting.Report, error) {
	program := ui.New(p.goal).Start()

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	opts = append(opts, scheduler.WithEventHandler(func(e scheduler.Event) {
		program.Send(ui.EventMsg{Event: e})
	}))
	sched := scheduler.New(opts...)

	var (
		report *reporting.Report
		runErr error
	)
	done := make(chan struct{})
	go func() {
		defer close(done)
		report, runErr = sched.Run(runCtx, p.goal)
	}()

	program.Wait()

	select {
	case <-done:
	default:
		// Dashboard closed mid-run; cancel and collect the partial report.
		cancel()
		<-done
	}
	return report, runErr
}

// printEvent renders run progress as plain lines for non-TTY output.
func printEvent(e scheduler.Event) {
	switch e.Type {
	case scheduler.EventPlanningStart:
		fmt.Printf("planning tasks for goal: %s\n", e.Goal)
	case scheduler.EventTasksGenerated:
		fmt.Printf("%d task(s) queued, %d pending\n", e.BatchSize, e.QueueDepth)
		for _, t := range e.Batch {
			fmt.Printf("  + p%d %s\n", t.Priority, t.Description)
		}
	case scheduler.EventTaskStart:
		fmt.Printf("\n--- [%d/%d] %s (p%d) ---\n", e.Iteration, e.MaxIter, e.TaskDesc, e.Priority)
	case scheduler.EventTaskEnd:
		if e.Success {
			fmt.Printf("  COMPLETED (%s): %s\n", e.Duration.Round(time.Second), e.Summary)
		} else {
			fmt.Printf("  FAILED (%s): %s\n", e.Duration.Round(time.Second), e.Summary)
		}
	case scheduler.EventRunEnd:
		fmt.Println()
	}
}

// displayRunSummary writes the end-of-run accounting as plain text.
func displayRunSummary(w io.Writer, r *reporting.Report, duration time.Duration) {
	succeeded := 0
	for _, t := range r.PerTaskResults {
		if t.Success {
			succeeded++
		}
	}
	failed := len(r.PerTaskResults) - succeeded

	fmt.Fprintf(w, "\n=== Run Finished ===\n")
	fmt.Fprintf(w, "Outcome: %s\n", reasonLabel(r.TerminationReason))
	fmt.Fprintf(w, "Goal fully achieved: %s\n", yesNo(r.GoalFullyAchieved))
	fmt.Fprintf(w, "Duration: %s\n", duration.Round(time.Second))
	fmt.Fprintf(w, "Iterations: %d of %d\n", r.IterationsUsed, r.MaxIterations)
	fmt.Fprintf(w, "Tasks: %d executed (%d succeeded, %d failed), %d remaining\n",
		len(r.PerTaskResults), succeeded, failed, r.TasksRemaining)

	if failed > 0 {
		fmt.Fprintf(w, "\nFailed tasks:\n")
		for _, t := range r.PerTaskResults {
			if t.Success {
				continue
			}
			fmt.Fprintf(w, "  - [%d] %s: %s\n", t.Iteration, t.Description, t.Summary)
		}
	}
}

// persistRun saves the report to disk and archives the run in history.
// Failures are logged, never fatal; the run itself already finished.
func persistRun(cfg *config.Config, log *logging.Logger, r *reporting.Report, started, finished time.Time) {
	mdPath := reporting.DefaultReportPath(finished)
	jsonPath := reporting.DefaultResultsPath(finished)
	if cfg.Reports.Dir != "" {
		mdPath = filepath.Join(cfg.Reports.Dir, filepath.Base(mdPath))
		jsonPath = filepath.Join(cfg.Reports.Dir, filepath.Base(jsonPath))
	}

	if err := reporting.SaveMarkdown(r, mdPath); err != nil {
		log.Warnf("save report: %v", err)
	} else {
		fmt.Printf("Report: %s\n", mdPath)
	}
	if err := reporting.SaveJSON(r, jsonPath); err != nil {
		log.Warnf("save results: %v", err)
	}

	if !cfg.History.Enabled {
		return
	}
	db, err := history.Open(cfg.History.Path)
	if err != nil {
		log.Warnf("open history: %v", err)
		return
	}
	defer func() { _ = db.Close() }()

	id, err := db.Record(history.Entry{
		StartedAt:  started,
		FinishedAt: finished,
		Oracle:     cfg.Oracle.Binary,
		Report:     r,
	})
	if err != nil {
		log.Warnf("archive run: %v", err)
		return
	}
	log.InfoCtx("run archived", map[string]any{"run_id": id})
}

// reasonLabel renders a termination reason for humans.
func reasonLabel(reason reporting.TerminationReason) string {
	switch reason {
	case reporting.ReasonQueueDrained:
		return "queue drained"
	case reporting.ReasonIterationCapReached:
		return "iteration cap reached"
	case reporting.ReasonCancelled:
		return "cancelled"
	default:
		return string(reason)
	}
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

// loadConfig loads configuration, honoring the persistent --config flag.
func loadConfig() (*config.Config, error) {
	if configFlag != "" {
		return config.LoadFile(configFlag)
	}
	return config.Load()
}

// initLogging wires the log sink from config, with --verbose forcing debug.
func initLogging(cfg *config.Config) error {
	level := cfg.Logging.Level
	if verboseFlag {
		level = "debug"
	}
	return logging.Init(logging.Config{
		Level:         level,
		Path:          cfg.Logging.Path,
		Format:        cfg.Logging.Format,
		RetentionDays: cfg.Logging.RetentionDays,
	})
}

// expandPath resolves a leading ~ against the home directory.
func expandPath(path string) string {
	if len(path) > 0 && path[0] == '~' {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, path[1:])
	}
	return path
}

// ensurePATH widens PATH with the usual per-user and package-manager bin
// directories. Launchd, systemd, and cron start us with a minimal PATH
// that rarely covers wherever the oracle CLI was installed.
func ensurePATH() {
	home, err := os.UserHomeDir()
	if err != nil {
		return
	}

	// The native installer drops the CLI under ~/.local/bin; npm-managed
	// installs land in the configured prefix or under ~/bin symlinks.
	candidates := []string{"/usr/local/bin", "/opt/homebrew/bin"}
	for _, rel := range []string{".local/bin", ".npm-global/bin", "bin"} {
		candidates = append(candidates, filepath.Join(home, filepath.FromSlash(rel)))
	}
	if prefix := os.Getenv("NPM_CONFIG_PREFIX"); prefix != "" {
		candidates = append(candidates, filepath.Join(prefix, "bin"))
	}

	sep := string(os.PathListSeparator)
	orig := os.Getenv("PATH")
	onPath := make(map[string]bool)
	for _, p := range strings.Split(orig, sep) {
		onPath[p] = true
	}

	path := orig
	for _, dir := range candidates {
		if onPath[dir] {
			continue
		}
		if info, err := os.Stat(dir); err != nil || !info.IsDir() {
			continue
		}
		path += sep + dir
	}
	if path != orig {
		os.Setenv("PATH", path)
	}
}
