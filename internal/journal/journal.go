// Package journal keeps an append-only SQLite log of index events.
//
// The journal survives restarts, which the in-memory status tracker does
// not, and backs the /events.json endpoint.
package journal

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite driver

	"github.com/sweeney/busencoders/internal/encoder"
)

const (
	dirPermissions    = 0750
	filePermissions   = 0600
	busyTimeoutMs     = 5000
	connectionTimeout = 5 * time.Second
)

// ErrClosed is returned by operations on a closed journal.
var ErrClosed = errors.New("journal closed")

const schema = `
CREATE TABLE IF NOT EXISTS events (
	id      INTEGER PRIMARY KEY AUTOINCREMENT,
	ts      INTEGER NOT NULL,
	encoder INTEGER NOT NULL,
	name    TEXT    NOT NULL DEFAULT '',
	signal  TEXT    NOT NULL,
	mode    INTEGER NOT NULL,
	idx     INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_events_encoder ON events(encoder);
`

// Journal is an open event journal.
type Journal struct {
	db   *sql.DB
	path string
}

// Count is the number of journalled events per signal for one encoder.
type Count struct {
	Encoder int
	CW      int
	CCW     int
	Switch  int
}

// Open opens (creating if needed) the journal at path and applies the schema.
func Open(path string) (*Journal, error) {
	if err := os.MkdirAll(filepath.Dir(path), dirPermissions); err != nil {
		return nil, fmt.Errorf("creating journal directory: %w", err)
	}

	connStr := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_synchronous=NORMAL",
		path, busyTimeoutMs)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("opening journal: %w", err)
	}
	// One writer: the run loop. Readers are the web handlers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	ctx, cancel := context.WithTimeout(context.Background(), connectionTimeout)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("verifying journal connection: %w", err)
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("applying journal schema: %w", err)
	}

	_ = os.Chmod(path, filePermissions)

	return &Journal{db: db, path: path}, nil
}

// Path returns the filesystem path of the journal.
func (j *Journal) Path() string {
	return j.path
}

// Append records one event.
func (j *Journal) Append(ctx context.Context, ev encoder.Event) error {
	if j.db == nil {
		return ErrClosed
	}
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO events (ts, encoder, name, signal, mode, idx) VALUES (?, ?, ?, ?, ?, ?)`,
		ev.Time.UnixNano(), ev.Encoder, ev.Name, ev.Signal.String(), ev.Mode, ev.Index)
	if err != nil {
		return fmt.Errorf("appending event: %w", err)
	}
	return nil
}

// Recent returns up to n events, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]encoder.Event, error) {
	if j.db == nil {
		return nil, ErrClosed
	}
	if n <= 0 {
		return nil, nil
	}

	rows, err := j.db.QueryContext(ctx,
		`SELECT ts, encoder, name, signal, mode, idx FROM events ORDER BY id DESC LIMIT ?`, n)
	if err != nil {
		return nil, fmt.Errorf("querying events: %w", err)
	}
	defer rows.Close()

	var out []encoder.Event
	for rows.Next() {
		var (
			ts  int64
			sig string
			ev  encoder.Event
		)
		if err := rows.Scan(&ts, &ev.Encoder, &ev.Name, &sig, &ev.Mode, &ev.Index); err != nil {
			return nil, fmt.Errorf("scanning event: %w", err)
		}
		if ev.Signal, err = encoder.ParseSignal(sig); err != nil {
			return nil, fmt.Errorf("event %d: %w", ts, err)
		}
		ev.Time = time.Unix(0, ts).UTC()
		out = append(out, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading events: %w", err)
	}
	return out, nil
}

// Counts returns per-signal totals for every encoder that has journalled
// events, in encoder order.
func (j *Journal) Counts(ctx context.Context) ([]Count, error) {
	if j.db == nil {
		return nil, ErrClosed
	}

	rows, err := j.db.QueryContext(ctx, `
		SELECT encoder,
			SUM(CASE WHEN signal = 'CW' THEN 1 ELSE 0 END),
			SUM(CASE WHEN signal = 'CCW' THEN 1 ELSE 0 END),
			SUM(CASE WHEN signal = 'SWITCH' THEN 1 ELSE 0 END)
		FROM events GROUP BY encoder ORDER BY encoder`)
	if err != nil {
		return nil, fmt.Errorf("counting events: %w", err)
	}
	defer rows.Close()

	var out []Count
	for rows.Next() {
		var c Count
		if err := rows.Scan(&c.Encoder, &c.CW, &c.CCW, &c.Switch); err != nil {
			return nil, fmt.Errorf("scanning count: %w", err)
		}
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading counts: %w", err)
	}
	return out, nil
}

// Close closes the journal. It is safe to call more than once.
func (j *Journal) Close() error {
	if j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	if err != nil {
		return fmt.Errorf("closing journal: %w", err)
	}
	return nil
}
