package history

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/marcus/taskmill/internal/reporting"
)

// ErrNotFound indicates no archived run matched the query.
var ErrNotFound = errors.New("run not found")

// Entry describes one run to archive.
type Entry struct {
	ID         string
	StartedAt  time.Time
	FinishedAt time.Time
	Oracle     string
	Report     *reporting.Report
}

// RunSummary is one row of the run archive, without per-task detail.
type RunSummary struct {
	ID             string
	Goal           string
	StartedAt      time.Time
	FinishedAt     time.Time
	Oracle         string
	Reason         reporting.TerminationReason
	IterationsUsed int
	MaxIterations  int
	TasksCompleted int
	TasksRemaining int
	GoalAchieved   bool
}

// Record archives a completed run and returns its ID.
// An empty Entry.ID gets a generated one.
func (d *DB) Record(entry Entry) (string, error) {
	if d == nil || d.conn == nil {
		return "", errors.New("db is nil")
	}
	if entry.Report == nil {
		return "", errors.New("report is nil")
	}

	id := entry.ID
	if id == "" {
		id = uuid.NewString()
	}

	reportJSON, err := json.Marshal(entry.Report)
	if err != nil {
		return "", fmt.Errorf("marshal report for run %s: %w", id, err)
	}

	var finishedAt sql.NullTime
	if !entry.FinishedAt.IsZero() {
		finishedAt = sql.NullTime{Time: entry.FinishedAt, Valid: true}
	}

	tx, err := d.conn.Begin()
	if err != nil {
		return "", fmt.Errorf("begin record run: %w", err)
	}

	report := entry.Report
	if _, err := tx.Exec(
		`INSERT INTO runs (id, goal, started_at, finished_at, reason, iterations_used, max_iterations, tasks_completed, tasks_remaining, goal_achieved, oracle, report)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		id, report.Goal, entry.StartedAt, finishedAt, string(report.TerminationReason),
		report.IterationsUsed, report.MaxIterations, report.TasksCompleted, report.TasksRemaining,
		report.GoalFullyAchieved, entry.Oracle, string(reportJSON),
	); err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("insert run %s: %w", id, err)
	}

	taskStmt, err := tx.Prepare(`INSERT INTO run_tasks (run_id, iteration, description, priority, success, summary) VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return "", fmt.Errorf("prepare run_tasks insert: %w", err)
	}
	defer func() { _ = taskStmt.Close() }()

	for _, task := range report.PerTaskResults {
		if _, err := taskStmt.Exec(id, task.Iteration, task.Description, task.Priority, task.Success, task.Summary); err != nil {
			_ = tx.Rollback()
			return "", fmt.Errorf("insert run task %s/%d: %w", id, task.Iteration, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return "", fmt.Errorf("commit record run: %w", err)
	}

	return id, nil
}

// Recent returns the most recent runs, newest first.
// A non-positive n returns all runs.
func (d *DB) Recent(n int) ([]RunSummary, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db is nil")
	}
	if n <= 0 {
		n = -1 // SQLite: LIMIT -1 means no limit
	}

	// Timestamps scan as strings because the modernc SQLite driver
	// returns DATETIME columns as text.
	rows, err := d.conn.Query(
		`SELECT id, goal, CAST(started_at AS TEXT), COALESCE(CAST(finished_at AS TEXT), ''), oracle, reason, iterations_used, max_iterations, tasks_completed, tasks_remaining, goal_achieved
		 FROM runs
		 ORDER BY started_at DESC
		 LIMIT ?`,
		n,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var summaries []RunSummary
	for rows.Next() {
		var (
			s           RunSummary
			startedRaw  string
			finishedRaw string
			reason      string
		)
		if err := rows.Scan(&s.ID, &s.Goal, &startedRaw, &finishedRaw, &s.Oracle, &reason,
			&s.IterationsUsed, &s.MaxIterations, &s.TasksCompleted, &s.TasksRemaining, &s.GoalAchieved); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		s.Reason = reporting.TerminationReason(reason)
		if t, ok := parseTimestamp(startedRaw); ok {
			s.StartedAt = t
		}
		if t, ok := parseTimestamp(finishedRaw); ok {
			s.FinishedAt = t
		}
		summaries = append(summaries, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("runs rows: %w", err)
	}

	return summaries, nil
}

// Get returns the archived report for a run ID.
func (d *DB) Get(id string) (*reporting.Report, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db is nil")
	}

	row := d.conn.QueryRow(`SELECT report FROM runs WHERE id = ?`, id)
	return scanReport(row)
}

// Latest returns the most recently started run's report.
func (d *DB) Latest() (*reporting.Report, error) {
	if d == nil || d.conn == nil {
		return nil, errors.New("db is nil")
	}

	row := d.conn.QueryRow(`SELECT report FROM runs ORDER BY started_at DESC LIMIT 1`)
	return scanReport(row)
}

// Prune deletes all but the newest keep runs and returns how many were removed.
// Task rows cascade with their run.
func (d *DB) Prune(keep int) (int, error) {
	if d == nil || d.conn == nil {
		return 0, errors.New("db is nil")
	}
	if keep < 0 {
		keep = 0
	}

	result, err := d.conn.Exec(
		`DELETE FROM runs WHERE id NOT IN (SELECT id FROM runs ORDER BY started_at DESC LIMIT ?)`,
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("prune runs: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune rows affected: %w", err)
	}
	return int(removed), nil
}

func scanReport(row *sql.Row) (*reporting.Report, error) {
	var reportJSON string
	if err := row.Scan(&reportJSON); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan report: %w", err)
	}

	var report reporting.Report
	if err := json.Unmarshal([]byte(reportJSON), &report); err != nil {
		return nil, fmt.Errorf("decode archived report: %w", err)
	}
	return &report, nil
}

// parseTimestamp decodes the text forms SQLite hands back for our
// DATETIME columns. time.Time parameters round-trip in Go's default
// format, monotonic clock suffix included.
func parseTimestamp(raw string) (time.Time, bool) {
	clean, _, _ := strings.Cut(strings.TrimSpace(raw), " m=+")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return time.Time{}, false
	}

	// Fractional seconds are optional in each layout, so the short
	// variants parse against the same entries.
	for _, layout := range []string{
		time.RFC3339Nano,
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		"2006-01-02 15:04:05.999999999",
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, clean); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}
