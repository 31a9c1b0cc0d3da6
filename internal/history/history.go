// Package history archives completed taskmill runs in SQLite.
// Each run is stored with its full report so past outcomes can be
// listed and re-rendered without the original report files.
package history

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "modernc.org/sqlite"
)

// DB is the run archive, a single SQLite file.
type DB struct {
	conn *sql.DB
	path string
}

// DefaultPath is where the archive lives unless config says otherwise.
func DefaultPath() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".local", "share", "taskmill", "history.db")
}

// Open opens or creates the database at dbPath and brings the schema up
// to date. An empty path selects DefaultPath.
func Open(dbPath string) (*DB, error) {
	if dbPath == "" {
		dbPath = DefaultPath()
	}

	resolved := expandPath(dbPath)
	if err := os.MkdirAll(filepath.Dir(resolved), 0755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}

	conn, err := sql.Open("sqlite", historyDSN(resolved))
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	if err := conn.Ping(); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping history db: %w", err)
	}
	if err := Migrate(conn); err != nil {
		_ = conn.Close()
		return nil, err
	}

	return &DB{conn: conn, path: resolved}, nil
}

// historyDSN builds the driver connection string. Pragmas ride along so
// every connection in the pool gets WAL mode, a busy timeout, and
// enforced foreign keys.
func historyDSN(path string) string {
	return "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
}

// Close releases the underlying connection. Safe on a nil receiver.
func (d *DB) Close() error {
	if d == nil || d.conn == nil {
		return nil
	}
	return d.conn.Close()
}

// SQL exposes the raw handle, mostly for migrations and tests.
func (d *DB) SQL() *sql.DB {
	if d == nil {
		return nil
	}
	return d.conn
}

// Path returns the resolved database file path.
func (d *DB) Path() string {
	if d == nil {
		return ""
	}
	return d.path
}

// expandPath resolves a leading ~ against the home directory. Forms like
// ~otheruser are passed through untouched.
func expandPath(path string) string {
	switch {
	case path == "~":
		if home, err := os.UserHomeDir(); err == nil {
			return home
		}
	case strings.HasPrefix(path, "~/"):
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[2:])
		}
	}
	return path
}
