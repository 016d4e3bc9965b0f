// Package audit is a supplemental, non-protocol feature (SPEC_FULL.md §9):
// an append-only sqlite log of every dispatched command line, readable
// later via `dshell history <pid>`. It has no bearing on the wire
// protocol or any invariant in spec.md — detaching or deleting it changes
// nothing about the core system's observable behavior.
package audit

import (
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Log is a handle to the invocation-audit database. Adapted from the
// teacher's internal/store.Store: a single embedded-migration sqlite
// handle guarded only by sqlite's own locking.
type Log struct {
	db *sql.DB
}

// Open opens (creating if necessary) the sqlite database at dsn and
// applies any pending migrations.
func Open(dsn string) (*Log, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open db: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: set WAL mode: %w", err)
	}
	l := &Log{db: db}
	if err := l.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("audit: migrate: %w", err)
	}
	return l, nil
}

// Close closes the underlying database handle.
func (l *Log) Close() error { return l.db.Close() }

func (l *Log) migrate() error {
	if _, err := l.db.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version TEXT PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.HasSuffix(e.Name(), ".sql") {
			files = append(files, e.Name())
		}
	}
	sort.Strings(files)

	for _, f := range files {
		var applied int
		if err := l.db.QueryRow("SELECT COUNT(*) FROM schema_migrations WHERE version = ?", f).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", f, err)
		}
		if applied > 0 {
			continue
		}
		content, err := migrationsFS.ReadFile("migrations/" + f)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", f, err)
		}
		tx, err := l.db.Begin()
		if err != nil {
			return fmt.Errorf("begin tx for %s: %w", f, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("apply migration %s: %w", f, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_migrations (version) VALUES (?)", f); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %s: %w", f, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", f, err)
		}
	}
	return nil
}

// Entry is one recorded dispatch.
type Entry struct {
	ID       int64
	PID      int
	Line     string
	Error    string
	Duration time.Duration
	At       time.Time
}

// Record appends one dispatch event. dispatchErr may be nil. Failures to
// write the audit log are swallowed (best-effort, non-protocol) rather
// than surfaced to the dispatcher — losing an audit row must never affect
// command dispatch.
func (l *Log) Record(pid int, line string, dispatchErr error, d time.Duration) {
	errText := ""
	if dispatchErr != nil {
		errText = dispatchErr.Error()
	}
	l.db.Exec(
		`INSERT INTO dispatch_log (pid, line, error, duration_ms) VALUES (?, ?, ?, ?)`,
		pid, line, errText, d.Milliseconds(),
	)
}

// ListByPID returns the recorded dispatches for pid, oldest first.
func (l *Log) ListByPID(pid int) ([]Entry, error) {
	rows, err := l.db.Query(
		`SELECT id, pid, line, error, duration_ms, at FROM dispatch_log WHERE pid = ? ORDER BY at`,
		pid,
	)
	if err != nil {
		return nil, fmt.Errorf("audit: list by pid: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var durationMS int64
		if err := rows.Scan(&e.ID, &e.PID, &e.Line, &e.Error, &durationMS, &e.At); err != nil {
			return nil, fmt.Errorf("audit: scan entry: %w", err)
		}
		e.Duration = time.Duration(durationMS) * time.Millisecond
		out = append(out, e)
	}
	return out, rows.Err()
}
