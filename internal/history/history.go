// Package history stores a record of every pipeline and rule run in SQLite.
package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/tracyhatemice/mailrulez/internal/triage"
	_ "modernc.org/sqlite"
)

// ModeApply marks entries written for a rule apply run.
const ModeApply = "apply"

// Entry is one recorded run.
type Entry struct {
	ID           int64           `json:"id"`
	Mode         string          `json:"mode"`
	Account      string          `json:"account"`
	Folder       string          `json:"folder"`
	StartedAt    time.Time       `json:"started_at"`
	FinishedAt   time.Time       `json:"finished_at"`
	Fetched      int             `json:"fetched"`
	Whitelisted  int             `json:"whitelisted"`
	Blacklisted  int             `json:"blacklisted"`
	Vendor       int             `json:"vendor"`
	Pending      int             `json:"pending"`
	Matched      int             `json:"matched"`
	MoveFailures int             `json:"move_failures"`
	Detail       json.RawMessage `json:"detail,omitempty"`
}

// FromDisposition summarises a triage run.
func FromDisposition(log *triage.DispositionLog) Entry {
	detail, _ := json.Marshal(log)
	return Entry{
		Mode:         log.Process,
		Account:      log.Account,
		Folder:       log.Folder,
		StartedAt:    log.StartedAt,
		FinishedAt:   log.FinishedAt,
		Fetched:      log.Fetched,
		Whitelisted:  len(log.Whitelisted),
		Blacklisted:  len(log.Blacklisted),
		Vendor:       len(log.Vendor),
		Pending:      len(log.Pending),
		MoveFailures: log.MoveFailures(),
		Detail:       detail,
	}
}

// Totals aggregates every recorded run.
type Totals struct {
	Runs        int `json:"runs"`
	Fetched     int `json:"fetched"`
	Whitelisted int `json:"whitelisted"`
	Blacklisted int `json:"blacklisted"`
	Vendor      int `json:"vendor"`
	Pending     int `json:"pending"`
	Matched     int `json:"matched"`
}

// Store is a SQLite-backed run history.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the history database at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create history dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history database: %w", err)
	}
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	schema := `
CREATE TABLE IF NOT EXISTS runs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    mode TEXT NOT NULL,
    account TEXT NOT NULL,
    folder TEXT NOT NULL,
    started_at INTEGER NOT NULL,
    finished_at INTEGER NOT NULL,
    fetched INTEGER NOT NULL DEFAULT 0,
    whitelisted INTEGER NOT NULL DEFAULT 0,
    blacklisted INTEGER NOT NULL DEFAULT 0,
    vendor INTEGER NOT NULL DEFAULT 0,
    pending INTEGER NOT NULL DEFAULT 0,
    matched INTEGER NOT NULL DEFAULT 0,
    move_failures INTEGER NOT NULL DEFAULT 0,
    detail TEXT
);
CREATE INDEX IF NOT EXISTS idx_runs_started_at ON runs(started_at);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create history schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Record inserts e and returns its id.
func (s *Store) Record(ctx context.Context, e Entry) (int64, error) {
	var detail sql.NullString
	if len(e.Detail) > 0 {
		detail = sql.NullString{String: string(e.Detail), Valid: true}
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO runs
         (mode, account, folder, started_at, finished_at, fetched, whitelisted, blacklisted, vendor, pending, matched, move_failures, detail)
         VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Mode, e.Account, e.Folder, e.StartedAt.UnixMilli(), e.FinishedAt.UnixMilli(),
		e.Fetched, e.Whitelisted, e.Blacklisted, e.Vendor, e.Pending, e.Matched, e.MoveFailures, detail,
	)
	if err != nil {
		return 0, fmt.Errorf("record run: %w", err)
	}
	return res.LastInsertId()
}

// Recent returns up to limit entries, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, mode, account, folder, started_at, finished_at, fetched, whitelisted, blacklisted, vendor, pending, matched, move_failures, detail
         FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	entries := []Entry{}
	for rows.Next() {
		var e Entry
		var started, finished int64
		var detail sql.NullString
		if err := rows.Scan(&e.ID, &e.Mode, &e.Account, &e.Folder, &started, &finished,
			&e.Fetched, &e.Whitelisted, &e.Blacklisted, &e.Vendor, &e.Pending, &e.Matched, &e.MoveFailures, &detail); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		e.StartedAt = time.UnixMilli(started).UTC()
		e.FinishedAt = time.UnixMilli(finished).UTC()
		if detail.Valid {
			e.Detail = json.RawMessage(detail.String)
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return entries, nil
}

// Totals sums every recorded run.
func (s *Store) Totals(ctx context.Context) (Totals, error) {
	var t Totals
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(fetched), 0), COALESCE(SUM(whitelisted), 0), COALESCE(SUM(blacklisted), 0),
                COALESCE(SUM(vendor), 0), COALESCE(SUM(pending), 0), COALESCE(SUM(matched), 0)
         FROM runs`,
	).Scan(&t.Runs, &t.Fetched, &t.Whitelisted, &t.Blacklisted, &t.Vendor, &t.Pending, &t.Matched)
	if err != nil {
		return Totals{}, fmt.Errorf("query totals: %w", err)
	}
	return t, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}
