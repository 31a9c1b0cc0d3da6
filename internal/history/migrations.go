package history

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/marcus/taskmill/internal/logging"
)

type migration struct {
	version int
	label   string
	stmts   string
}

var schemaMigrations = []migration{
	{version: 1, label: "runs and run_tasks tables", stmts: schemaV1},
	{version: 2, label: "oracle column on runs", stmts: schemaV2},
}

const schemaV1 = `
CREATE TABLE runs (
    id              TEXT PRIMARY KEY,
    goal            TEXT NOT NULL,
    started_at      DATETIME NOT NULL,
    finished_at     DATETIME,
    reason          TEXT NOT NULL,
    iterations_used INTEGER NOT NULL DEFAULT 0,
    max_iterations  INTEGER NOT NULL DEFAULT 0,
    tasks_completed INTEGER NOT NULL DEFAULT 0,
    tasks_remaining INTEGER NOT NULL DEFAULT 0,
    goal_achieved   INTEGER NOT NULL DEFAULT 0,
    report          TEXT NOT NULL
);

CREATE TABLE run_tasks (
    run_id      TEXT NOT NULL REFERENCES runs(id) ON DELETE CASCADE,
    iteration   INTEGER NOT NULL,
    description TEXT NOT NULL,
    priority    INTEGER NOT NULL,
    success     INTEGER NOT NULL DEFAULT 0,
    summary     TEXT,
    PRIMARY KEY (run_id, iteration)
);

CREATE INDEX idx_runs_started ON runs(started_at DESC);
`

const schemaV2 = `
ALTER TABLE runs ADD COLUMN oracle TEXT NOT NULL DEFAULT '';
`

const versionTable = `
CREATE TABLE IF NOT EXISTS schema_version (
    version    INTEGER PRIMARY KEY,
    applied_at DATETIME
)`

// Migrate brings the schema up to the latest version. Each pending
// migration runs in its own transaction and is recorded in
// schema_version.
func Migrate(db *sql.DB) error {
	if db == nil {
		return errors.New("db is nil")
	}

	if _, err := db.Exec(versionTable); err != nil {
		return fmt.Errorf("create schema_version: %w", err)
	}

	current, err := schemaVersion(db)
	if err != nil {
		return err
	}

	log := logging.Get().WithComponent("history")
	for _, m := range schemaMigrations {
		if m.version <= current {
			continue
		}
		if err := apply(db, m); err != nil {
			return err
		}
		log.Infof("applied migration %d: %s", m.version, m.label)
		current = m.version
	}

	return nil
}

func apply(db *sql.DB, m migration) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("begin migration %d: %w", m.version, err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.Exec(m.stmts); err != nil {
		return fmt.Errorf("apply migration %d: %w", m.version, err)
	}
	record := `INSERT INTO schema_version (version, applied_at) VALUES (?, CURRENT_TIMESTAMP)`
	if _, err := tx.Exec(record, m.version); err != nil {
		return fmt.Errorf("record migration %d: %w", m.version, err)
	}
	return tx.Commit()
}

// schemaVersion reports the highest applied migration, 0 on a fresh
// database.
func schemaVersion(db *sql.DB) (int, error) {
	if db == nil {
		return 0, errors.New("db is nil")
	}

	var v int
	err := db.QueryRow(`SELECT IFNULL(MAX(version), 0) FROM schema_version`).Scan(&v)
	if err != nil {
		return 0, fmt.Errorf("query schema_version: %w", err)
	}
	return v, nil
}
