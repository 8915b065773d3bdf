package profile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver registration
)

// SQLiteStore persists profiles to an embedded SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore opens (creating if needed) the profile database at path.
// The database uses WAL mode and a single connection; SQLite serialises
// writes anyway. The caller owns closing the store.
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

// EnsureSchema creates the profiles table if it does not exist.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS profiles (
			user_id    TEXT PRIMARY KEY,
			attributes TEXT NOT NULL,
			history    TEXT NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`)
	if err != nil {
		return fmt.Errorf("sqlite: create profiles table: %w", err)
	}
	return nil
}

// Load reads the profile for userID.
func (s *SQLiteStore) Load(ctx context.Context, userID string) (Profile, bool, error) {
	var (
		attributesJSON string
		historyJSON    string
		updatedAt      time.Time
	)
	row := s.db.QueryRowContext(ctx,
		`SELECT attributes, history, updated_at FROM profiles WHERE user_id = ?`, userID)
	if err := row.Scan(&attributesJSON, &historyJSON, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return Profile{}, false, nil
		}
		return Profile{}, false, fmt.Errorf("sqlite: load profile: %w", err)
	}

	profile := Profile{ID: userID, UpdatedAt: updatedAt}
	if err := json.Unmarshal([]byte(attributesJSON), &profile.Attributes); err != nil {
		return Profile{}, false, fmt.Errorf("sqlite: decode attributes: %w", err)
	}
	if err := json.Unmarshal([]byte(historyJSON), &profile.History); err != nil {
		return Profile{}, false, fmt.Errorf("sqlite: decode history: %w", err)
	}
	return profile, true, nil
}

// Save upserts the profile.
func (s *SQLiteStore) Save(ctx context.Context, profile Profile) error {
	attributesJSON, err := json.Marshal(profile.Attributes)
	if err != nil {
		return fmt.Errorf("sqlite: encode attributes: %w", err)
	}
	historyJSON, err := json.Marshal(profile.History)
	if err != nil {
		return fmt.Errorf("sqlite: encode history: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO profiles (user_id, attributes, history, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			attributes = excluded.attributes,
			history    = excluded.history,
			updated_at = excluded.updated_at`,
		profile.ID, string(attributesJSON), string(historyJSON), profile.UpdatedAt)
	if err != nil {
		return fmt.Errorf("sqlite: save profile: %w", err)
	}
	return nil
}

// Delete removes the user's profile row.
func (s *SQLiteStore) Delete(ctx context.Context, userID string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM profiles WHERE user_id = ?`, userID); err != nil {
		return fmt.Errorf("sqlite: delete profile: %w", err)
	}
	return nil
}

// Close releases the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
