package feedback

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLiteStore persists feedback to an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the feedback database at path.
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return nil, fmt.Errorf("sqlite: create directory %s: %w", dir, err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", path, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: enable WAL: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: set busy_timeout: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// EnsureSchema creates the feedback table if it does not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS module_feedback (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			module_id  TEXT NOT NULL,
			score      REAL NOT NULL,
			comment    TEXT NOT NULL DEFAULT '',
			model      TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("sqlite: create module_feedback table: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`CREATE INDEX IF NOT EXISTS idx_module_feedback_module ON module_feedback(module_id)`)
	if err != nil {
		return fmt.Errorf("sqlite: create module_feedback index: %w", err)
	}
	return nil
}

// Insert appends one feedback row.
func (s *SQLiteStore) Insert(ctx context.Context, entry Entry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO module_feedback (module_id, score, comment, model, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		entry.ModuleID, entry.Score, entry.Comment, entry.Model, entry.CreatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: insert feedback: %w", err)
	}
	return nil
}

// Averages returns the mean score per module id.
func (s *SQLiteStore) Averages(ctx context.Context) (map[string]float64, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT module_id, AVG(score) FROM module_feedback GROUP BY module_id`)
	if err != nil {
		return nil, fmt.Errorf("sqlite: query averages: %w", err)
	}
	defer rows.Close()

	averages := map[string]float64{}
	for rows.Next() {
		var moduleID string
		var avg float64
		if err := rows.Scan(&moduleID, &avg); err != nil {
			return nil, fmt.Errorf("sqlite: scan average: %w", err)
		}
		averages[moduleID] = avg
	}
	return averages, rows.Err()
}

// Delete removes all feedback rows for the module.
func (s *SQLiteStore) Delete(ctx context.Context, moduleID string) error {
	if _, err := s.db.ExecContext(ctx,
		`DELETE FROM module_feedback WHERE module_id = ?`, moduleID); err != nil {
		return fmt.Errorf("sqlite: delete feedback: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
