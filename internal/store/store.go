// Package store persists per-directory lifecycle records and owns every
// state transition. All invariants (pin atomicity, signature drift resets,
// the transition graph) are enforced here, not by callers.
package store

import (
	"database/sql"
	"fmt"
	"os"
	"sync"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	_ "modernc.org/sqlite" // SQLite driver
)

const (
	currentSchemaVersion = 2
)

// Store is the durable, SQLite-backed Repository implementation.
// A single serializing writer connection makes it safe for multiple
// goroutines within one process; a second process opening the same file is
// rejected via the flock sidecar and process marker.
type Store struct {
	db      *sql.DB
	mu      sync.Mutex
	lock    *flock.Flock
	ownerID string
}

// Open opens or creates the state database at the given path.
// Fails fast when the on-disk schema is newer than this binary supports, or
// when another process already holds the store open.
func Open(path string) (*Store, error) {
	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("failed to acquire store lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("state store %s is already open in another process", path)
	}

	// Plain path, not a file: URI. URI parsing would treat '#' and '?' in
	// the path as fragment and query separators and silently open a
	// different file.
	db, err := sql.Open("sqlite", path)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// SQLite works best with a single writer
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := applyPragmas(db); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	s := &Store{db: db, lock: lock, ownerID: uuid.NewString()}

	if err := s.migrate(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, fmt.Errorf("migration failed: %w", err)
	}

	if err := s.claimProcessMarker(); err != nil {
		db.Close()
		lock.Unlock()
		return nil, err
	}

	return s, nil
}

// applyPragmas enables WAL and a busy timeout. The driver does not honor
// these as DSN parameters, so they are issued as statements.
func applyPragmas(db *sql.DB) error {
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	} {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to apply %s: %w", pragma, err)
		}
	}
	return nil
}

// Close releases the process marker, the sidecar lock, and the connection
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// Best effort: a crashed process leaves a stale marker, which the next
	// opener replaces once it holds the flock.
	s.db.Exec("DELETE FROM process_marker WHERE owner_id = ?", s.ownerID)

	err := s.db.Close()
	if s.lock != nil {
		s.lock.Unlock()
	}
	return err
}

// DB returns the underlying database connection for custom queries
func (s *Store) DB() *sql.DB {
	return s.db
}

// claimProcessMarker records this process as the store's single active owner.
// The flock is the live-process gate; the marker row identifies the owner for
// diagnostics and lets us detect a marker left behind by a crash.
func (s *Store) claimProcessMarker() error {
	hostname, _ := os.Hostname()

	var existing string
	err := s.db.QueryRow("SELECT owner_id FROM process_marker WHERE id = 1").Scan(&existing)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("failed to read process marker: %w", err)
	}
	// We hold the flock, so any existing marker belongs to a dead process.

	_, err = s.db.Exec(`
		INSERT INTO process_marker (id, owner_id, hostname, pid)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
		  owner_id = excluded.owner_id,
		  hostname = excluded.hostname,
		  pid = excluded.pid,
		  started_at = CURRENT_TIMESTAMP
	`, s.ownerID, hostname, os.Getpid())
	if err != nil {
		return fmt.Errorf("failed to claim process marker: %w", err)
	}
	return nil
}

// migrate applies forward migrations, preserving existing rows.
// Opening a store written by a newer schema fails instead of guessing.
func (s *Store) migrate() error {
	version, err := s.getSchemaVersion()
	if err != nil {
		return err
	}

	if version > currentSchemaVersion {
		return fmt.Errorf("store schema version %d is newer than supported version %d; upgrade mcur",
			version, currentSchemaVersion)
	}
	if version == currentSchemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if version < 1 {
		if _, err := tx.Exec(schemaV1); err != nil {
			return fmt.Errorf("failed to apply schema v1: %w", err)
		}
		if err := s.setSchemaVersion(tx, 1); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	if version < 2 {
		if _, err := tx.Exec(schemaV2); err != nil {
			return fmt.Errorf("failed to apply schema v2: %w", err)
		}
		if err := s.setSchemaVersion(tx, 2); err != nil {
			return fmt.Errorf("failed to set schema version: %w", err)
		}
	}

	// Future migrations would go here:
	// if version < 3 { ... }

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit migration: %w", err)
	}

	return nil
}

// getSchemaVersion returns the current schema version
func (s *Store) getSchemaVersion() (int, error) {
	var exists int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM sqlite_master
		WHERE type='table' AND name='schema_version'
	`).Scan(&exists)
	if err != nil {
		return 0, err
	}

	if exists == 0 {
		return 0, nil
	}

	var version int
	err = s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version)
	if err != nil {
		return 0, err
	}

	return version, nil
}

// setSchemaVersion records a schema version in a transaction
func (s *Store) setSchemaVersion(tx *sql.Tx, version int) error {
	_, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version)
	return err
}
