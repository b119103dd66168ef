// Package journal keeps a local append-only audit log of submissions,
// timer persistence and recovery events in SQLite. It exists so admins
// can reconstruct what the bot did when the remote ledger and the chat
// history disagree; failures here never block a domain operation.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// Entry kinds.
const (
	KindSubmission       = "submission"
	KindSubmissionFailed = "submission_failed"
	KindThreadOpened     = "thread_opened"
	KindThreadCancelled  = "thread_cancelled"
	KindTimerSaved       = "timer_saved"
	KindTimerRecovered   = "timer_recovered"
	KindTimerCancelled   = "timer_cancelled"
	KindTimerReset       = "timer_reset"
)

// Entry is one audit row.
type Entry struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Event      string    `json:"event"`
	Occurrence string    `json:"occurrence,omitempty"`
	Detail     string    `json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

// Journal is a SQLite-backed audit log.
type Journal struct {
	db  *sql.DB
	now func() time.Time
}

const schema = `
CREATE TABLE IF NOT EXISTS journal (
    id TEXT PRIMARY KEY,
    kind TEXT NOT NULL,
    event TEXT NOT NULL,
    occurrence TEXT,
    detail TEXT,
    created_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind);
CREATE INDEX IF NOT EXISTS idx_journal_created_at ON journal(created_at);
`

// Open opens (creating if needed) the journal database at path.
// Use ":memory:" for tests.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("init journal schema: %w", err)
	}
	return &Journal{db: db, now: time.Now}, nil
}

// Log appends one entry.
func (j *Journal) Log(ctx context.Context, kind, eventName, occurrence, detail string) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO journal (id, kind, event, occurrence, detail, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		uuid.NewString(), kind, eventName, occurrence, detail, j.now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("journal %s for %s: %w", kind, eventName, err)
	}
	return nil
}

// Recent returns up to limit entries, newest first.
func (j *Journal) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, kind, event, occurrence, detail, created_at FROM journal ORDER BY created_at DESC, id LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list journal: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var occurrence, detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Kind, &e.Event, &occurrence, &detail, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan journal row: %w", err)
		}
		e.Occurrence = occurrence.String
		e.Detail = detail.String
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate journal rows: %w", err)
	}
	return entries, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
