// Package storage persists module state documents in sqlite. Each stateful
// component serializes itself to one JSON doc keyed by module name; the
// Persister coalesces dirty marks into debounced writes.
package storage

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// Store is the sqlite-backed state document store.
type Store struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open creates the database file (and parent directory) if needed and
// prepares the state_docs table.
func Open(dbPath string, logger *zap.Logger) (*Store, error) {
	if strings.TrimSpace(dbPath) == "" {
		return nil, fmt.Errorf("db path is required")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0o755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite3", dbPath+"?_loc=Local")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL;",
		"PRAGMA busy_timeout=3000;",
		"PRAGMA synchronous=NORMAL;",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma %s: %w", p, err)
		}
	}

	s := &Store{db: db, logger: logger.Named("storage")}
	if err := s.initTable(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) initTable() error {
	query := `
	CREATE TABLE IF NOT EXISTS state_docs (
		module TEXT PRIMARY KEY,
		doc TEXT NOT NULL,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);`
	if _, err := s.db.Exec(query); err != nil {
		return fmt.Errorf("create state_docs table: %w", err)
	}
	return nil
}

// Save upserts one module's state document.
func (s *Store) Save(module string, doc []byte) error {
	_, err := s.db.Exec(`
		INSERT INTO state_docs (module, doc, updated_at)
		VALUES (?, ?, CURRENT_TIMESTAMP)
		ON CONFLICT(module) DO UPDATE SET doc = excluded.doc, updated_at = CURRENT_TIMESTAMP
	`, module, string(doc))
	if err != nil {
		return fmt.Errorf("save state for %s: %w", module, err)
	}
	return nil
}

// Load returns the stored document for a module, or (nil, nil) if the
// module has never been persisted.
func (s *Store) Load(module string) ([]byte, error) {
	var doc string
	err := s.db.QueryRow(`SELECT doc FROM state_docs WHERE module = ?`, module).Scan(&doc)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load state for %s: %w", module, err)
	}
	return []byte(doc), nil
}

// Modules lists every persisted module name.
func (s *Store) Modules() ([]string, error) {
	rows, err := s.db.Query(`SELECT module FROM state_docs ORDER BY module`)
	if err != nil {
		return nil, fmt.Errorf("list modules: %w", err)
	}
	defer rows.Close()

	var modules []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, err
		}
		modules = append(modules, m)
	}
	return modules, rows.Err()
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
