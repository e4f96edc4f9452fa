package rules

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

// Store persists the whole rule collection in order.
type Store interface {
	Load() ([]EmailRule, error)
	Save(rules []EmailRule) error
}

// FileStore keeps rules as a JSON array in one file.
type FileStore struct {
	path string
}

// NewFileStore returns a store backed by path. The file is created on first save.
func NewFileStore(path string) *FileStore {
	return &FileStore{path: path}
}

func (s *FileStore) Load() ([]EmailRule, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("read rules file: %w", err)
	}

	var rules []EmailRule
	if err := json.Unmarshal(data, &rules); err != nil {
		return nil, fmt.Errorf("parse rules file: %w", err)
	}
	return rules, nil
}

// Save writes the collection to a temporary file and renames it into place.
func (s *FileStore) Save(rules []EmailRule) error {
	if rules == nil {
		rules = []EmailRule{}
	}
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("encode rules: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create rules dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".rules-*.json")
	if err != nil {
		return fmt.Errorf("create temp rules file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write rules: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync rules: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close rules: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace rules file: %w", err)
	}
	return nil
}

// SQLiteStore keeps one row per rule, ordered by position.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (or creates) a rule database at path.
func OpenSQLiteStore(path string) (*SQLiteStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create rules dir: %w", err)
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open rules database: %w", err)
	}
	db.SetMaxOpenConns(1)

	db.Exec("PRAGMA journal_mode=WAL;")
	db.Exec("PRAGMA busy_timeout = 5000;")

	schema := `
CREATE TABLE IF NOT EXISTS rules (
    id TEXT PRIMARY KEY,
    position INTEGER NOT NULL,
    body TEXT NOT NULL
);
`
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create rules schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Load() ([]EmailRule, error) {
	rows, err := s.db.Query(`SELECT body FROM rules ORDER BY position`)
	if err != nil {
		return nil, fmt.Errorf("query rules: %w", err)
	}
	defer rows.Close()

	var rules []EmailRule
	for rows.Next() {
		var body string
		if err := rows.Scan(&body); err != nil {
			return nil, fmt.Errorf("scan rule: %w", err)
		}
		var rule EmailRule
		if err := json.Unmarshal([]byte(body), &rule); err != nil {
			return nil, fmt.Errorf("decode rule: %w", err)
		}
		rules = append(rules, rule)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rules: %w", err)
	}
	return rules, nil
}

// Save replaces the stored collection in one transaction.
func (s *SQLiteStore) Save(rules []EmailRule) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin rules transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM rules`); err != nil {
		return fmt.Errorf("clear rules: %w", err)
	}
	for i, rule := range rules {
		body, err := json.Marshal(rule)
		if err != nil {
			return fmt.Errorf("encode rule %s: %w", rule.ID, err)
		}
		if _, err := tx.Exec(`INSERT INTO rules (id, position, body) VALUES (?, ?, ?)`, rule.ID, i, string(body)); err != nil {
			return fmt.Errorf("insert rule %s: %w", rule.ID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit rules: %w", err)
	}
	return nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
