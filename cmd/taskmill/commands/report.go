package commands

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/taskmill/internal/history"
	"github.com/marcus/taskmill/internal/reporting"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"
)

// reportEntry is one run's report plus where it came from.
type reportEntry struct {
	report   *reporting.Report
	started  time.Time
	finished time.Time
	id       string // archive ID when loaded from history
	path     string // file path when loaded from the reports dir
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Inspect reports from completed runs",
	Long: `View the report from past runs.

By default, shows the most recent archived run. Use --run to select a
run by ID (see 'taskmill history'), -n to include several recent runs,
or --file to read a saved report JSON directly. When history is
disabled, reports are read from the reports directory instead.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		runID, _ := cmd.Flags().GetString("run")
		file, _ := cmd.Flags().GetString("file")
		count, _ := cmd.Flags().GetInt("runs")
		format, _ := cmd.Flags().GetString("format")
		noColor, _ := cmd.Flags().GetBool("no-color")
		maxItems, _ := cmd.Flags().GetInt("max-items")

		if noColor || format == "plain" || os.Getenv("NO_COLOR") != "" {
			lipgloss.SetColorProfile(termenv.Ascii)
		}

		entries, err := resolveReportEntries(runID, file, count)
		if err != nil {
			return err
		}
		if len(entries) == 0 {
			fmt.Println("No run reports found.")
			return nil
		}

		switch format {
		case "json":
			return renderReportJSON(entries)
		case "markdown":
			return renderReportMarkdown(entries)
		case "fancy", "plain":
			return renderReportFancy(entries, maxItems)
		default:
			return fmt.Errorf("unknown format %q", format)
		}
	},
}

func init() {
	reportCmd.Flags().StringP("run", "r", "", "Show the archived run with this ID")
	reportCmd.Flags().String("file", "", "Read a report JSON file directly")
	reportCmd.Flags().IntP("runs", "n", 1, "Max recent runs to include (0 = all)")
	reportCmd.Flags().String("format", "fancy", "Output format (fancy, plain, markdown, or json)")
	reportCmd.Flags().Bool("no-color", false, "Strip ANSI colors from output")
	reportCmd.Flags().Int("max-items", 5, "Max task lines per run (0 = all)")
	rootCmd.AddCommand(reportCmd)
}

// resolveReportEntries picks the report source: an explicit file, the run
// archive, or saved report files, in that order.
func resolveReportEntries(runID, file string, count int) ([]reportEntry, error) {
	if file != "" {
		r, err := reporting.LoadJSON(file)
		if err != nil {
			return nil, err
		}
		return []reportEntry{{report: r, path: file}}, nil
	}

	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.History.Enabled {
		entries, err := loadFromHistory(cfg.History.Path, runID, count)
		if err == nil || !errors.Is(err, history.ErrNotFound) {
			return entries, err
		}
		// Empty archive; fall through to report files.
	} else if runID != "" {
		return nil, errors.New("--run needs history enabled (history.enabled: false)")
	}

	dir := cfg.Reports.Dir
	if dir == "" {
		dir = reporting.DefaultReportsDir()
	}
	return loadFromReportFiles(dir, count)
}

func loadFromHistory(path, runID string, count int) ([]reportEntry, error) {
	db, err := history.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open history: %w", err)
	}
	defer func() { _ = db.Close() }()

	if runID != "" {
		r, err := db.Get(runID)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				return nil, fmt.Errorf("run %q not found (see 'taskmill history')", runID)
			}
			return nil, err
		}
		return []reportEntry{{report: r, id: runID}}, nil
	}

	summaries, err := db.Recent(count)
	if err != nil {
		return nil, err
	}
	if len(summaries) == 0 {
		return nil, history.ErrNotFound
	}

	entries := make([]reportEntry, 0, len(summaries))
	for _, s := range summaries {
		r, err := db.Get(s.ID)
		if err != nil {
			return nil, err
		}
		entries = append(entries, reportEntry{
			report:   r,
			started:  s.StartedAt,
			finished: s.FinishedAt,
			id:       s.ID,
		})
	}
	return entries, nil
}

// loadFromReportFiles scans the reports dir for run-*.json files, newest
// first.
func loadFromReportFiles(dir string, count int) ([]reportEntry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, fmt.Errorf("read reports dir: %w", err)
	}

	type reportFile struct {
		when time.Time
		path string
	}
	var found []reportFile
	for _, entry := range files {
		name := entry.Name()
		if entry.IsDir() || filepath.Ext(name) != ".json" {
			continue
		}
		when, err := runFileTime(strings.TrimSuffix(name, ".json"))
		if err != nil {
			continue
		}
		found = append(found, reportFile{when: when, path: filepath.Join(dir, name)})
	}

	sort.Slice(found, func(i, j int) bool {
		return found[i].when.After(found[j].when)
	})
	if count > 0 && len(found) > count {
		found = found[:count]
	}

	entries := make([]reportEntry, 0, len(found))
	for _, rf := range found {
		r, err := reporting.LoadJSON(rf.path)
		if err != nil {
			return nil, err
		}
		entries = append(entries, reportEntry{
			report:   r,
			finished: rf.when,
			path:     rf.path,
		})
	}
	return entries, nil
}

// runFileTime recovers the timestamp baked into a report filename, e.g.
// run-2026-08-25-091500. Names in any other shape fail to parse.
func runFileTime(base string) (time.Time, error) {
	return time.ParseInLocation("run-2006-01-02-150405", base, time.Local)
}

func renderReportJSON(entries []reportEntry) error {
	out := struct {
		Runs []*reporting.Report `json:"runs"`
	}{Runs: make([]*reporting.Report, 0, len(entries))}
	for _, e := range entries {
		out.Runs = append(out.Runs, e.report)
	}
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

func renderReportMarkdown(entries []reportEntry) error {
	for i, e := range entries {
		if i > 0 {
			fmt.Print("\n---\n\n")
		}
		content, err := reporting.RenderMarkdown(e.report)
		if err != nil {
			return err
		}
		fmt.Print(content)
	}
	return nil
}

// cardBox frames the per-run summary block.
func cardBox() lipgloss.Style {
	return lipgloss.NewStyle().
		Border(lipgloss.RoundedBorder()).
		BorderForeground(lipgloss.Color("240")).
		Padding(0, 1)
}

func renderReportFancy(entries []reportEntry, maxItems int) error {
	pal := newPalette()
	card := cardBox()
	var b strings.Builder

	b.WriteString(pal.Title.Render("Taskmill Report"))
	b.WriteString("\n")
	b.WriteString(pal.Dim.Render(fmt.Sprintf("Runs: %d", len(entries))))
	b.WriteString("\n\n")

	for i, e := range entries {
		r := e.report

		b.WriteString(pal.Stage.Render(fmt.Sprintf("Run %d", i+1)))
		b.WriteString(" ")
		b.WriteString(pal.Dim.Render(runSpan(e)))
		b.WriteString("\n")

		succeeded := 0
		for _, t := range r.PerTaskResults {
			if t.Success {
				succeeded++
			}
		}
		failed := len(r.PerTaskResults) - succeeded

		outcomeStyle := pal.Good
		switch r.TerminationReason {
		case reporting.ReasonIterationCapReached:
			outcomeStyle = pal.Warn
		case reporting.ReasonCancelled:
			outcomeStyle = pal.Fail
		}

		cardLines := []string{
			fmt.Sprintf("%s %s", pal.Label.Render("Goal:"), pal.Value.Render(r.Goal)),
			fmt.Sprintf("%s %s", pal.Label.Render("Outcome:"), outcomeStyle.Render(reasonLabel(r.TerminationReason))),
			fmt.Sprintf("%s %s", pal.Label.Render("Achieved:"), pal.Value.Render(yesNo(r.GoalFullyAchieved))),
			fmt.Sprintf("%s %d of %d", pal.Label.Render("Iterations:"), r.IterationsUsed, r.MaxIterations),
			fmt.Sprintf("%s %d executed (%d succeeded, %d failed), %d remaining",
				pal.Label.Render("Tasks:"), len(r.PerTaskResults), succeeded, failed, r.TasksRemaining),
		}
		b.WriteString(card.Render(strings.Join(cardLines, "\n")))
		b.WriteString("\n")

		if len(r.PerTaskResults) > 0 {
			b.WriteString(pal.Stage.Render("Tasks"))
			b.WriteString("\n")
			shown := r.PerTaskResults
			if maxItems > 0 && len(shown) > maxItems {
				shown = shown[:maxItems]
			}
			for _, t := range shown {
				status := pal.Good.Render("OK")
				if !t.Success {
					status = pal.Fail.Render("FAIL")
				}
				b.WriteString(fmt.Sprintf("  %s %s %s\n",
					status,
					pal.Value.Render(fmt.Sprintf("[%d] %s", t.Iteration, t.Description)),
					pal.Dim.Render(fmt.Sprintf("(p%d) %s", t.Priority, firstLine(t.Summary)))))
			}
			if len(shown) < len(r.PerTaskResults) {
				b.WriteString("  ")
				b.WriteString(pal.Dim.Render(fmt.Sprintf("...and %d more", len(r.PerTaskResults)-len(shown))))
				b.WriteString("\n")
			}
		}

		if e.id != "" {
			b.WriteString(pal.Dim.Render(fmt.Sprintf("ID: %s", e.id)))
			b.WriteString("\n")
		}
		if e.path != "" {
			b.WriteString(pal.Dim.Render(fmt.Sprintf("File: %s", e.path)))
			b.WriteString("\n")
		}

		if i < len(entries)-1 {
			b.WriteString("\n")
		}
	}

	fmt.Print(b.String())
	return nil
}

// runSpan describes when a run happened, as compactly as the recorded
// timestamps allow.
func runSpan(e reportEntry) string {
	switch {
	case !e.started.IsZero() && !e.finished.IsZero() && e.finished.After(e.started):
		return fmt.Sprintf("%s to %s, %s",
			e.started.Format("2006-01-02 15:04"),
			e.finished.Format("15:04"),
			formatDuration(e.finished.Sub(e.started)))
	case !e.started.IsZero():
		return e.started.Format("2006-01-02 15:04")
	case !e.finished.IsZero():
		return e.finished.Format("2006-01-02 15:04")
	default:
		return "timing not recorded"
	}
}
