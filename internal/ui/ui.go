// Package ui renders a live dashboard for taskmill runs. A Bubbletea
// model folds scheduler events into three regions: run status, the task
// queue (executed and pending), and an event timeline.
package ui

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/charmbracelet/lipgloss"

	"github.com/marcus/taskmill/internal/reporting"
	"github.com/marcus/taskmill/internal/scheduler"
)

// EventMsg carries a scheduler event into the update loop. Senders on
// other goroutines must deliver it via tea.Program.Send.
type EventMsg struct {
	Event scheduler.Event
}

type runPhase int

const (
	phaseIdle runPhase = iota
	phasePlanning
	phaseExecuting
	phaseDone
)

func (p runPhase) String() string {
	switch p {
	case phasePlanning:
		return "Planning"
	case phaseExecuting:
		return "Executing"
	case phaseDone:
		return "Done"
	default:
		return "Idle"
	}
}

type rowState int

const (
	rowQueued rowState = iota
	rowRunning
	rowDone
	rowFailed
)

func (s rowState) String() string {
	switch s {
	case rowRunning:
		return "running"
	case rowDone:
		return "done"
	case rowFailed:
		return "failed"
	default:
		return "queued"
	}
}

// taskRow is one line in the task panel.
type taskRow struct {
	id    string
	desc  string
	pri   int
	iter  int
	state rowState
}

// logLine is one line in the event timeline.
type logLine struct {
	at    time.Time
	level string
	text  string
}

type theme struct {
	title  lipgloss.Style
	border lipgloss.Style
	label  lipgloss.Style
	value  lipgloss.Style
	muted  lipgloss.Style
	run    lipgloss.Style
	ok     lipgloss.Style
	warn   lipgloss.Style
	fail   lipgloss.Style
	keycap lipgloss.Style
}

func defaultTheme() theme {
	return theme{
		title:  lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
		border: lipgloss.NewStyle().Border(lipgloss.RoundedBorder()).BorderForeground(lipgloss.Color("240")),
		label:  lipgloss.NewStyle().Foreground(lipgloss.Color("246")),
		value:  lipgloss.NewStyle().Foreground(lipgloss.Color("253")),
		muted:  lipgloss.NewStyle().Foreground(lipgloss.Color("240")),
		run:    lipgloss.NewStyle().Foreground(lipgloss.Color("80")),
		ok:     lipgloss.NewStyle().Foreground(lipgloss.Color("41")),
		warn:   lipgloss.NewStyle().Foreground(lipgloss.Color("215")),
		fail:   lipgloss.NewStyle().Foreground(lipgloss.Color("203")),
		keycap: lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("75")),
	}
}

// Dashboard is the Bubbletea model for the run monitor.
type Dashboard struct {
	width  int
	height int

	goal      string
	phase     runPhase
	iteration int
	maxIter   int
	cutoff    int
	depth     int
	reason    string
	startedAt time.Time

	done    []taskRow // executed rows, chronological
	pending []taskRow // queued rows, priority order

	events []logLine
	offset int // scroll distance from the timeline tail; 0 follows live

	tick     int
	quitting bool
	th       theme
}

// New creates a dashboard for a run pursuing goal.
func New(goal string) Dashboard {
	return Dashboard{
		width:  80,
		height: 24,
		goal:   goal,
		th:     defaultTheme(),
	}
}

// Start launches the dashboard on the alternate screen and returns the
// running program. Deliver scheduler events with program.Send; the call
// returns immediately.
func (d Dashboard) Start() *tea.Program {
	p := tea.NewProgram(d, tea.WithAltScreen())
	go func() {
		_, _ = p.Run()
	}()
	return p
}

type tickMsg time.Time

func tickCmd() tea.Cmd {
	return tea.Tick(250*time.Millisecond, func(t time.Time) tea.Msg {
		return tickMsg(t)
	})
}

// Init implements tea.Model.
func (d Dashboard) Init() tea.Cmd {
	return tickCmd()
}

// Update implements tea.Model.
func (d Dashboard) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.WindowSizeMsg:
		d.width = msg.Width
		d.height = msg.Height

	case tea.KeyMsg:
		return d.key(msg)

	case EventMsg:
		d = d.fold(msg.Event)

	case tickMsg:
		d.tick++
		return d, tickCmd()
	}

	return d, nil
}

func (d Dashboard) key(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	switch msg.String() {
	case "q", "ctrl+c":
		d.quitting = true
		return d, tea.Quit
	case "up", "k":
		if d.offset < len(d.events)-1 {
			d.offset++
		}
	case "down", "j":
		if d.offset > 0 {
			d.offset--
		}
	case "home", "g":
		if len(d.events) > 0 {
			d.offset = len(d.events) - 1
		}
	case "end", "G":
		d.offset = 0
	}
	return d, nil
}

// fold applies one scheduler event to the model.
func (d Dashboard) fold(e scheduler.Event) Dashboard {
	switch e.Type {
	case scheduler.EventPlanningStart:
		d.phase = phasePlanning
		d.goal = e.Goal
		d.maxIter = e.MaxIter
		d.cutoff = e.Cutoff
		d.startedAt = e.Time
		d = d.log("info", "planning initial tasks")

	case scheduler.EventTasksGenerated:
		d.depth = e.QueueDepth
		if d.phase == phasePlanning {
			d.phase = phaseExecuting
		}
		for _, t := range e.Batch {
			d.pending = append(d.pending, taskRow{id: t.ID, desc: t.Description, pri: t.Priority})
		}
		sort.SliceStable(d.pending, func(i, j int) bool {
			return d.pending[i].pri > d.pending[j].pri
		})
		if e.Iteration == 0 {
			d = d.log("info", fmt.Sprintf("planned %d initial tasks", e.BatchSize))
		} else {
			d = d.log("info", fmt.Sprintf("replanning added %d tasks (queue %d)", e.BatchSize, e.QueueDepth))
		}

	case scheduler.EventTaskStart:
		d.phase = phaseExecuting
		d.iteration = e.Iteration
		d.depth = e.QueueDepth
		d.pending = dropRow(d.pending, e.TaskID)
		d.done = append(d.done, taskRow{
			id:    e.TaskID,
			desc:  e.TaskDesc,
			pri:   e.Priority,
			iter:  e.Iteration,
			state: rowRunning,
		})
		d = d.log("info", fmt.Sprintf("[%d] started: %s", e.Iteration, e.TaskDesc))

	case scheduler.EventTaskEnd:
		state, level := rowDone, "info"
		if !e.Success {
			state, level = rowFailed, "error"
		}
		markRow(d.done, e.TaskID, state)
		d = d.log(level, fmt.Sprintf("[%d] %s: %s", e.Iteration, state, firstLine(e.Summary)))

	case scheduler.EventRunEnd:
		d.phase = phaseDone
		d.iteration = e.Iteration
		d.depth = e.QueueDepth
		d.reason = reasonText(e.Reason)
		d = d.log("info", "run finished: "+d.reason)
	}

	return d
}

func (d Dashboard) log(level, text string) Dashboard {
	d.events = append(d.events, logLine{at: time.Now(), level: level, text: text})
	return d
}

// dropRow removes the row with the given id, preserving order. The
// original backing array is left untouched.
func dropRow(rows []taskRow, id string) []taskRow {
	for i := range rows {
		if rows[i].id == id {
			out := make([]taskRow, 0, len(rows)-1)
			out = append(out, rows[:i]...)
			return append(out, rows[i+1:]...)
		}
	}
	return rows
}

func markRow(rows []taskRow, id string, state rowState) {
	for i := len(rows) - 1; i >= 0; i-- {
		if rows[i].id == id {
			rows[i].state = state
			return
		}
	}
}

// View implements tea.Model.
func (d Dashboard) View() string {
	if d.quitting {
		return ""
	}

	topH := d.height / 2
	botH := d.height - topH - 2
	leftW := d.width / 2
	rightW := d.width - leftW

	status := d.th.border.Width(leftW - 2).Height(topH - 2).Render(d.statusView())
	tasks := d.th.border.Width(rightW - 2).Height(topH - 2).Render(d.tasksView(topH - 4))
	events := d.th.border.Width(d.width - 2).Height(botH - 2).Render(d.eventsView(botH - 4))

	top := lipgloss.JoinHorizontal(lipgloss.Top, status, tasks)
	return lipgloss.JoinVertical(lipgloss.Left, top, events, d.helpView())
}

func (d Dashboard) statusView() string {
	var b strings.Builder

	b.WriteString(d.th.title.Render("Taskmill Run"))
	b.WriteString("\n\n")

	b.WriteString(d.th.label.Render("Goal       "))
	if d.goal != "" {
		b.WriteString(d.th.value.Render(d.goal))
	} else {
		b.WriteString(d.th.muted.Render("none"))
	}
	b.WriteString("\n")

	b.WriteString(d.th.label.Render("Phase      "))
	b.WriteString(d.phaseStyle().Render(d.phase.String()))
	b.WriteString("\n\n")

	b.WriteString(d.th.label.Render("Iteration  "))
	b.WriteString(d.th.value.Render(fmt.Sprintf("%d of %d", d.iteration, d.maxIter)))
	b.WriteString("\n")
	b.WriteString(d.bar(28))
	b.WriteString("\n\n")

	b.WriteString(d.th.label.Render("Queued     "))
	b.WriteString(d.th.value.Render(strconv.Itoa(d.depth)))
	b.WriteString("\n")

	b.WriteString(d.th.label.Render("Replanning "))
	if d.cutoff >= 1 && d.iteration <= d.cutoff {
		b.WriteString(d.th.ok.Render(fmt.Sprintf("open through iteration %d", d.cutoff)))
	} else {
		b.WriteString(d.th.muted.Render("closed"))
	}
	b.WriteString("\n")

	b.WriteString(d.th.label.Render("Elapsed    "))
	if !d.startedAt.IsZero() {
		b.WriteString(d.th.value.Render(formatElapsed(time.Since(d.startedAt))))
	} else {
		b.WriteString(d.th.muted.Render("-"))
	}

	if d.phase == phaseDone && d.reason != "" {
		b.WriteString("\n\n")
		b.WriteString(d.th.label.Render("Outcome    "))
		b.WriteString(d.th.ok.Render(d.reason))
	}

	return b.String()
}

// bar renders iteration progress as a filled block bar.
func (d Dashboard) bar(width int) string {
	if d.maxIter <= 0 {
		return ""
	}
	if width < 10 {
		width = 10
	}
	filled := width * d.iteration / d.maxIter
	if filled > width {
		filled = width
	}
	style := d.th.run
	if d.phase == phaseDone {
		style = d.th.ok
	}
	return style.Render(strings.Repeat("█", filled)) + d.th.muted.Render(strings.Repeat("░", width-filled))
}

// tasksView lists executed rows (newest kept visible) followed by the
// pending queue in priority order. visible is the line budget for rows.
func (d Dashboard) tasksView(visible int) string {
	var b strings.Builder

	b.WriteString(d.th.title.Render("Tasks"))
	b.WriteString("\n\n")

	if len(d.done) == 0 && len(d.pending) == 0 {
		b.WriteString(d.th.muted.Render("no tasks yet"))
		return b.String()
	}
	if visible < 2 {
		visible = 2
	}

	// Split the budget: pending gets up to half, executed the rest, and
	// slack flows back to whichever side has more rows.
	pendShow := len(d.pending)
	if pendShow > visible/2 {
		pendShow = visible / 2
	}
	execShow := visible - pendShow
	if execShow > len(d.done) {
		slack := execShow - len(d.done)
		execShow = len(d.done)
		if pendShow+slack < len(d.pending) {
			pendShow += slack
		} else {
			pendShow = len(d.pending)
		}
	}

	if skipped := len(d.done) - execShow; skipped > 0 {
		b.WriteString(d.th.muted.Render(fmt.Sprintf(" … %d earlier", skipped)))
		b.WriteString("\n")
	}
	for _, r := range d.done[len(d.done)-execShow:] {
		b.WriteString(d.taskLine(r))
		b.WriteString("\n")
	}
	for _, r := range d.pending[:pendShow] {
		b.WriteString(d.taskLine(r))
		b.WriteString("\n")
	}
	if rest := len(d.pending) - pendShow; rest > 0 {
		b.WriteString(d.th.muted.Render(fmt.Sprintf(" … %d more queued", rest)))
	}

	return b.String()
}

func (d Dashboard) taskLine(r taskRow) string {
	switch r.state {
	case rowRunning:
		return fmt.Sprintf(" %s [%d] p%d %s", d.th.run.Render(d.spin()), r.iter, r.pri, r.desc)
	case rowDone:
		return fmt.Sprintf(" %s [%d] p%d %s", d.th.ok.Render("✓"), r.iter, r.pri, r.desc)
	case rowFailed:
		return fmt.Sprintf(" %s [%d] p%d %s", d.th.fail.Render("✗"), r.iter, r.pri, r.desc)
	default:
		return d.th.muted.Render(fmt.Sprintf(" · p%d %s", r.pri, r.desc))
	}
}

var spinFrames = []string{"⠋", "⠙", "⠹", "⠸", "⠼", "⠴", "⠦", "⠧", "⠇", "⠏"}

func (d Dashboard) spin() string {
	return spinFrames[d.tick%len(spinFrames)]
}

// eventsView renders the timeline tail, or an older window while the
// user has scrolled up.
func (d Dashboard) eventsView(visible int) string {
	var b strings.Builder

	b.WriteString(d.th.title.Render("Events"))
	b.WriteString("\n\n")

	if len(d.events) == 0 {
		b.WriteString(d.th.muted.Render("no events yet"))
		return b.String()
	}
	if visible < 1 {
		visible = 1
	}

	start := len(d.events) - visible - d.offset
	if start < 0 {
		start = 0
	}
	end := start + visible
	if end > len(d.events) {
		end = len(d.events)
	}

	for _, ln := range d.events[start:end] {
		b.WriteString(d.eventLine(ln))
		b.WriteString("\n")
	}
	if d.offset > 0 {
		b.WriteString(d.th.muted.Render(fmt.Sprintf("viewing %d-%d of %d (G follows live)", start+1, end, len(d.events))))
	}

	return b.String()
}

func (d Dashboard) eventLine(ln logLine) string {
	style := d.th.value
	switch ln.level {
	case "warn":
		style = d.th.warn
	case "error":
		style = d.th.fail
	}
	return d.th.muted.Render(ln.at.Format("15:04:05")) + " " + style.Render(ln.text)
}

func (d Dashboard) helpView() string {
	sep := d.th.muted.Render("  ·  ")
	items := []string{
		d.th.keycap.Render("j/k") + d.th.muted.Render(" scroll events"),
		d.th.keycap.Render("G") + d.th.muted.Render(" follow"),
		d.th.keycap.Render("q") + d.th.muted.Render(" quit"),
	}
	return " " + strings.Join(items, sep)
}

func (d Dashboard) phaseStyle() lipgloss.Style {
	switch d.phase {
	case phasePlanning:
		return d.th.warn
	case phaseExecuting:
		return d.th.run
	case phaseDone:
		return d.th.ok
	default:
		return d.th.muted
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Round(time.Second)
	h := int(d / time.Hour)
	m := int(d % time.Hour / time.Minute)
	s := int(d % time.Minute / time.Second)
	if h > 0 {
		return fmt.Sprintf("%dh %dm", h, m)
	}
	if m > 0 {
		return fmt.Sprintf("%dm %ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func reasonText(reason reporting.TerminationReason) string {
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
