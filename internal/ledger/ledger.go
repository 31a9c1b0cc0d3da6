// Package ledger records executed tasks in execution order. The ledger is
// the context fed back into the oracle for replanning and the raw material
// for the final report.
package ledger

import "github.com/marcus/taskmill/internal/tasks"

// ExecutionRecord is one executed task and its outcome. Record order is
// execution order (priority order at time of dequeue), which is the only
// ordering downstream consumers may rely on.
type ExecutionRecord struct {
	Task      tasks.Task `json:"task"`
	Summary   string     `json:"summary"`
	Success   bool       `json:"success"`
	Iteration int        `json:"iteration"` // 1-based dequeue-execute cycle
}

// Ledger is an append-only sequence of execution records.
type Ledger struct {
	records []ExecutionRecord
}

// New creates an empty ledger.
func New() *Ledger {
	return &Ledger{}
}

// Append adds a record. Records are never updated or removed.
func (l *Ledger) Append(rec ExecutionRecord) {
	l.records = append(l.records, rec)
}

// Len returns the number of executed tasks.
func (l *Ledger) Len() int {
	return len(l.records)
}

// Snapshot returns a copy of the records in execution order. Callers may
// hold the copy across later appends without seeing them.
func (l *Ledger) Snapshot() []ExecutionRecord {
	out := make([]ExecutionRecord, len(l.records))
	copy(out, l.records)
	return out
}

// Last returns the most recent record, ok=false when the ledger is empty.
func (l *Ledger) Last() (ExecutionRecord, bool) {
	if len(l.records) == 0 {
		return ExecutionRecord{}, false
	}
	return l.records[len(l.records)-1], true
}
