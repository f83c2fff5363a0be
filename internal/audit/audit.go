// Package audit persists every proposed command to a local sqlite log,
// whether or not it was allowed to run. The log is the record of what the
// model asked for and what actually happened.
package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// Entry is one row of the command log. ExitCode and DurationMS stay nil
// for commands that were rejected or never finished.
type Entry struct {
	ID         int64
	Time       time.Time
	Session    string
	Command    string
	Allowed    bool
	Reason     string
	ExitCode   *int
	DurationMS *int64
}

type Recorder struct {
	db   *sql.DB
	path string
}

func Open(path string) (*Recorder, error) {
	if path == "" {
		return nil, errors.New("audit log path must be set")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("prepare audit log dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_busy_timeout=5000&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	if _, err := db.ExecContext(context.Background(), `
CREATE TABLE IF NOT EXISTS command_log (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	ts TIMESTAMP NOT NULL,
	session TEXT NOT NULL,
	command TEXT NOT NULL,
	allowed INTEGER NOT NULL,
	reason TEXT NOT NULL,
	exit_code INTEGER,
	duration_ms INTEGER
)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init audit schema: %w", err)
	}
	return &Recorder{db: db, path: path}, nil
}

func (r *Recorder) Path() string {
	return r.path
}

func (r *Recorder) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// RecordProposal logs a command the moment it is vetted and returns the row
// id so the outcome can be attached once the command finishes.
func (r *Recorder) RecordProposal(session, command string, allowed bool, reason string) (int64, error) {
	res, err := r.db.ExecContext(context.Background(), `
INSERT INTO command_log (ts, session, command, allowed, reason)
VALUES(?,?,?,?,?)`,
		time.Now().UTC(), session, command, boolToInt(allowed), reason)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (r *Recorder) RecordResult(id int64, exitCode int, duration time.Duration) error {
	_, err := r.db.ExecContext(context.Background(),
		`UPDATE command_log SET exit_code=?, duration_ms=? WHERE id=?`,
		exitCode, duration.Milliseconds(), id)
	return err
}

// Recent returns the newest entries first.
func (r *Recorder) Recent(limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := r.db.QueryContext(context.Background(), `
SELECT id, ts, session, command, allowed, reason, exit_code, duration_ms
FROM command_log
ORDER BY id DESC
LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var entry Entry
		var allowed int
		var exitCode, durationMS sql.NullInt64
		if err := rows.Scan(&entry.ID, &entry.Time, &entry.Session, &entry.Command, &allowed, &entry.Reason, &exitCode, &durationMS); err != nil {
			return nil, err
		}
		entry.Allowed = allowed == 1
		if exitCode.Valid {
			code := int(exitCode.Int64)
			entry.ExitCode = &code
		}
		if durationMS.Valid {
			ms := durationMS.Int64
			entry.DurationMS = &ms
		}
		entries = append(entries, entry)
	}
	return entries, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
