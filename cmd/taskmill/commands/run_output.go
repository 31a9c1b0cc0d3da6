package commands

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/scheduler"
)

func fg(color string) lipgloss.Style {
	return lipgloss.NewStyle().Foreground(lipgloss.Color(color))
}

func boldFg(color string) lipgloss.Style {
	return fg(color).Bold(true)
}

// palette groups the styles used by colored run output.
type palette struct {
	Title lipgloss.Style
	Stage lipgloss.Style
	Label lipgloss.Style
	Value lipgloss.Style
	Dim   lipgloss.Style
	Warn  lipgloss.Style
	Fail  lipgloss.Style
	Good  lipgloss.Style
	Mark  lipgloss.Style
}

func newPalette() palette {
	return palette{
		Title: boldFg("75"),
		Stage: boldFg("80"),
		Label: fg("246"),
		Value: fg("253"),
		Dim:   fg("240"),
		Warn:  fg("215"),
		Fail:  boldFg("203"),
		Good:  boldFg("41"),
		Mark:  boldFg("80"),
	}
}

// row prints one indented label/value line.
func (p palette) row(label string, st lipgloss.Style, val string) {
	fmt.Printf("  %s %s\n", p.Label.Render(label), st.Render(val))
}

var spinGlyphs = []rune("⠋⠙⠹⠸⠼⠴⠦⠧⠇⠏")

// lineSpinner animates a glyph next to a label on the current line.
// halt clears the line; it is nil-safe and idempotent.
type lineSpinner struct {
	quit chan struct{}
	done chan struct{}
	once sync.Once
}

func startSpinner(label string) *lineSpinner {
	s := &lineSpinner{
		quit: make(chan struct{}),
		done: make(chan struct{}),
	}
	go func() {
		defer close(s.done)
		fmt.Printf("\r  %c %s", spinGlyphs[0], label)
		ticker := time.NewTicker(80 * time.Millisecond)
		defer ticker.Stop()
		for i := 1; ; i++ {
			select {
			case <-s.quit:
				fmt.Print("\r\033[2K")
				return
			case <-ticker.C:
				fmt.Printf("\r  %c %s", spinGlyphs[i%len(spinGlyphs)], label)
			}
		}
	}()
	return s
}

func (s *lineSpinner) halt() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.quit)
		<-s.done
	})
}

// ttyRenderer prints run progress with color as events arrive. Events
// come in on one goroutine, so there is no locking beyond the spinner's.
type ttyRenderer struct {
	pal  palette
	spin *lineSpinner
}

func newTTYRenderer() *ttyRenderer {
	return &ttyRenderer{pal: newPalette()}
}

// finish clears any spinner left on screen before the summary prints.
func (r *ttyRenderer) finish() {
	r.spin.halt()
}

// HandleEvent renders one run event. Installed only when stdout is a
// terminal and colors are enabled.
func (r *ttyRenderer) HandleEvent(e scheduler.Event) {
	switch e.Type {
	case scheduler.EventPlanningStart:
		fmt.Printf("\n%s %s\n", r.pal.Stage.Render("GOAL"), r.pal.Title.Render(e.Goal))
		r.spin = startSpinner(r.pal.Stage.Render("PLANNING"))

	case scheduler.EventTasksGenerated:
		r.spin.halt()
		if e.Iteration == 0 {
			fmt.Printf("  %s %s\n", r.pal.Stage.Render("PLANNED"),
				r.pal.Dim.Render(fmt.Sprintf("(%d task(s) queued)", e.BatchSize)))
		} else {
			fmt.Printf("  %s %s\n", r.pal.Stage.Render("DISCOVERED"),
				r.pal.Dim.Render(fmt.Sprintf("(+%d task(s), %d pending)", e.BatchSize, e.QueueDepth)))
		}

	case scheduler.EventTaskStart:
		r.spin.halt()
		fmt.Printf("\n%s %s %s\n",
			r.pal.Mark.Render(fmt.Sprintf("[%d/%d]", e.Iteration, e.MaxIter)),
			r.pal.Title.Render(e.TaskDesc),
			r.pal.Dim.Render(fmt.Sprintf("(p%d)", e.Priority)))
		r.spin = startSpinner(r.pal.Stage.Render("EXECUTING"))

	case scheduler.EventTaskEnd:
		r.spin.halt()
		verdict, style := "COMPLETED", r.pal.Good
		if !e.Success {
			verdict, style = "FAILED", r.pal.Fail
		}
		fmt.Printf("  %s %s\n", style.Render(verdict),
			r.pal.Dim.Render(fmt.Sprintf("(%s)", e.Duration.Round(time.Second))))
		if e.Summary != "" {
			fmt.Printf("    %s\n", r.pal.Dim.Render(firstLine(e.Summary)))
		}

	case scheduler.EventRunEnd:
		r.spin.halt()
	}
}

// firstLine returns the first line of s, capped at 120 runes.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[:i]
	}
	runes := []rune(s)
	if len(runes) > 120 {
		return string(runes[:117]) + "..."
	}
	return s
}

// displayPreflightStyled is the colored twin of displayPreflight.
func displayPreflightStyled(pf preflight) {
	p := newPalette()
	rule := p.Dim.Render(strings.Repeat("─", 44))

	fmt.Println()
	fmt.Println(p.Title.Render("Preflight"))
	fmt.Println(rule)

	p.row("Goal:", p.Value, pf.goal)

	switch {
	case pf.available && pf.oracleVersion != "":
		p.row("Oracle:", p.Value, fmt.Sprintf("%s (%s)", pf.oracleBinary, pf.oracleVersion))
	case pf.available:
		p.row("Oracle:", p.Value, fmt.Sprintf("%s (%s)", pf.oracleBinary, pf.oraclePath))
	default:
		p.row("Oracle:", p.Fail, pf.oracleBinary+" (not found in PATH)")
	}
	if pf.workDir != "" {
		p.row("Workdir:", p.Value, pf.workDir)
	}

	p.row("Iterations:", p.Value,
		fmt.Sprintf("up to %d, replanning through iteration %d", pf.maxIterations, pf.cutoff))
	p.row("Reports:", p.Value, pf.reportsDir)
	if pf.historyPath != "" {
		p.row("History:", p.Value, pf.historyPath)
	} else {
		p.row("History:", p.Dim, "disabled")
	}

	if !pf.available {
		fmt.Printf("\n  %s\n", p.Warn.Render(
			fmt.Sprintf("! oracle CLI %q is not on PATH; planning will fail", pf.oracleBinary)))
	}

	fmt.Println(rule)
	fmt.Println()
}

// displayRunSummaryStyled is the colored twin of displayRunSummary.
func displayRunSummaryStyled(r *reporting.Report, elapsed time.Duration) {
	p := newPalette()
	rule := p.Dim.Render(strings.Repeat("─", 44))

	succeeded := 0
	for _, t := range r.PerTaskResults {
		if t.Success {
			succeeded++
		}
	}
	failed := len(r.PerTaskResults) - succeeded

	outcome := p.Good
	switch r.TerminationReason {
	case reporting.ReasonIterationCapReached:
		outcome = p.Warn
	case reporting.ReasonCancelled:
		outcome = p.Fail
	}

	fmt.Println()
	fmt.Println(rule)
	fmt.Println(p.Title.Render("Run Finished"))
	p.row("Outcome:", outcome, reasonLabel(r.TerminationReason))

	achieved := p.Good
	if !r.GoalFullyAchieved {
		achieved = p.Warn
	}
	p.row("Achieved:", achieved, yesNo(r.GoalFullyAchieved))
	p.row("Duration:", p.Value, elapsed.Round(time.Second).String())
	p.row("Iterations:", p.Value, fmt.Sprintf("%d of %d", r.IterationsUsed, r.MaxIterations))

	taskStyle := p.Good
	switch {
	case failed > 0 && succeeded == 0:
		taskStyle = p.Fail
	case failed > 0:
		taskStyle = p.Warn
	}
	p.row("Tasks:", taskStyle,
		fmt.Sprintf("%d executed (%d succeeded, %d failed), %d remaining",
			len(r.PerTaskResults), succeeded, failed, r.TasksRemaining))

	if failed > 0 {
		fmt.Printf("\n  %s\n", p.Warn.Render("Failed tasks:"))
		for _, t := range r.PerTaskResults {
			if t.Success {
				continue
			}
			fmt.Printf("    %s %s\n", p.Fail.Render("x"), p.Value.Render(t.Description))
			if t.Summary != "" {
				fmt.Printf("      %s\n", p.Dim.Render(firstLine(t.Summary)))
			}
		}
	}
	fmt.Println()
}
