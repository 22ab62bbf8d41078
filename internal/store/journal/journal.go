// Package journal is an append-only audit trail of lifecycle events,
// kept in its own SQLite file so the operational database can be rotated
// or inspected without touching the audit history.
package journal

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const schema = `
CREATE TABLE IF NOT EXISTS journal_events (
    id         TEXT PRIMARY KEY,
    event_type TEXT NOT NULL,
    subject    TEXT NOT NULL,
    detail     TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_subject ON journal_events(subject);
CREATE INDEX IF NOT EXISTS idx_journal_created ON journal_events(created_at);
`

// Entry is one immutable journal row.
type Entry struct {
	ID        string
	EventType string
	Subject   string // e.g. "proposal:42", "breaker:3"
	Detail    json.RawMessage
	CreatedAt time.Time
}

// Journal appends lifecycle events to a dedicated SQLite file.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal database at path.
func Open(path string) (*Journal, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, fmt.Errorf("journal: db path cannot be empty")
	}
	if dir := filepath.Dir(path); dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("journal open: %w", err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("journal migrate: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the journal database.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	return j.db.Close()
}

// Append writes one event. detail may be any JSON-marshalable value; nil
// records an empty object.
func (j *Journal) Append(ctx context.Context, eventType, subject string, detail interface{}) error {
	payload := []byte("{}")
	if detail != nil {
		b, err := json.Marshal(detail)
		if err != nil {
			return fmt.Errorf("journal marshal %s: %w", eventType, err)
		}
		payload = b
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO journal_events (id, event_type, subject, detail, created_at) VALUES (?, ?, ?, ?, ?)`,
		uuid.NewString(), eventType, subject, string(payload), time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal append %s: %w", eventType, err)
	}
	return nil
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_type, subject, detail, created_at
		   FROM journal_events ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("journal recent: %w", err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

// BySubject returns all entries for one subject, oldest first.
func (j *Journal) BySubject(ctx context.Context, subject string) ([]Entry, error) {
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, event_type, subject, detail, created_at
		   FROM journal_events WHERE subject = ? ORDER BY created_at ASC`, subject)
	if err != nil {
		return nil, fmt.Errorf("journal by subject %s: %w", subject, err)
	}
	defer rows.Close()
	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]Entry, error) {
	var out []Entry
	for rows.Next() {
		var e Entry
		var detail string
		if err := rows.Scan(&e.ID, &e.EventType, &e.Subject, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("journal scan: %w", err)
		}
		e.Detail = json.RawMessage(detail)
		out = append(out, e)
	}
	return out, rows.Err()
}
