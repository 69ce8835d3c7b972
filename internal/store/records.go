package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/franz/music-curator/internal/util"
)

// GetOrCreate returns the record for dirID, creating it when unseen.
// Detecting a signature hash or version change here unconditionally resets
// the record to NEW and clears the pin: content drift invalidates any prior
// decision regardless of how far the lifecycle had progressed. A path-only
// change never alters state or pin.
func (s *Store) GetOrCreate(dirID, path, signatureHash string, signatureVersion int) (*DirectoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(dirID)
	if err != nil && err != sql.ErrNoRows {
		return nil, fmt.Errorf("failed to query directory %s: %w", dirID, err)
	}

	if err == sql.ErrNoRows {
		_, err := s.db.Exec(`
			INSERT INTO directories (dir_id, last_seen_path, signature_hash, signature_version, state)
			VALUES (?, ?, ?, ?, ?)
		`, dirID, path, signatureHash, signatureVersion, string(StateNew))
		if err != nil {
			return nil, fmt.Errorf("failed to create directory record %s: %w", dirID, err)
		}
		return s.get(dirID)
	}

	if rec.SignatureHash != signatureHash || rec.SignatureVersion != signatureVersion {
		util.DebugLog("Signature drift for %s: resetting to NEW", dirID)
		_, err := s.db.Exec(`
			UPDATE directories
			SET last_seen_path = ?, signature_hash = ?, signature_version = ?,
			    state = ?, pinned_provider = NULL, pinned_release_id = NULL,
			    pinned_confidence = NULL, note = NULL, updated_at = CURRENT_TIMESTAMP
			WHERE dir_id = ?
		`, path, signatureHash, signatureVersion, string(StateNew), dirID)
		if err != nil {
			return nil, fmt.Errorf("failed to reset directory record %s: %w", dirID, err)
		}
		return s.get(dirID)
	}

	if rec.LastSeenPath != path {
		_, err := s.db.Exec(`
			UPDATE directories SET last_seen_path = ?, updated_at = CURRENT_TIMESTAMP
			WHERE dir_id = ?
		`, path, dirID)
		if err != nil {
			return nil, fmt.Errorf("failed to update path for %s: %w", dirID, err)
		}
		return s.get(dirID)
	}

	return rec, nil
}

// Get returns the record for dirID
func (s *Store) Get(dirID string) (*DirectoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(dirID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query directory %s: %w", dirID, err)
	}
	return rec, nil
}

func (s *Store) get(dirID string) (*DirectoryRecord, error) {
	row := s.db.QueryRow(`
		SELECT dir_id, last_seen_path, signature_hash, signature_version, state,
		       COALESCE(pinned_provider, ''), COALESCE(pinned_release_id, ''),
		       COALESCE(pinned_confidence, 0), COALESCE(note, ''),
		       COALESCE(last_apply_status, ''), last_apply_at,
		       created_at, updated_at
		FROM directories WHERE dir_id = ?
	`, dirID)
	return scanRecord(row)
}

func scanRecord(row *sql.Row) (*DirectoryRecord, error) {
	var rec DirectoryRecord
	var state string
	var lastApplyAt sql.NullTime
	err := row.Scan(
		&rec.DirID, &rec.LastSeenPath, &rec.SignatureHash, &rec.SignatureVersion,
		&state, &rec.PinnedProvider, &rec.PinnedReleaseID, &rec.PinnedConfidence,
		&rec.Note, &rec.LastApplyStatus, &lastApplyAt,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.State = State(state)
	if lastApplyAt.Valid {
		rec.LastApplyAt = lastApplyAt.Time
	}
	return &rec, nil
}

// SetState transitions a record through the lifecycle graph.
// The read-modify-write happens under the store mutex on the single writer
// connection, so two concurrent transitions cannot both observe the same
// starting state.
func (s *Store) SetState(dirID string, to State, pin *Pin, note string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(dirID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query directory %s: %w", dirID, err)
	}

	if err := validateTransition(rec.State, to, pin); err != nil {
		return err
	}

	if pin != nil {
		_, err = s.db.Exec(`
			UPDATE directories
			SET state = ?, pinned_provider = ?, pinned_release_id = ?,
			    pinned_confidence = ?, note = ?, updated_at = CURRENT_TIMESTAMP
			WHERE dir_id = ?
		`, string(to), pin.Provider, pin.ReleaseID, pin.Confidence, nullIfEmpty(note), dirID)
	} else {
		_, err = s.db.Exec(`
			UPDATE directories
			SET state = ?, note = ?, updated_at = CURRENT_TIMESTAMP
			WHERE dir_id = ?
		`, string(to), nullIfEmpty(note), dirID)
	}
	if err != nil {
		return fmt.Errorf("failed to transition %s to %s: %w", dirID, to, err)
	}
	return nil
}

// Unjail returns a JAILED record to NEW and clears the pin.
// The only way out of jail; automated processing never does this.
func (s *Store) Unjail(dirID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.get(dirID)
	if err == sql.ErrNoRows {
		return fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to query directory %s: %w", dirID, err)
	}

	if rec.State != StateJailed {
		return fmt.Errorf("%w: directory %s is %s, not JAILED", util.ErrValidation, dirID, rec.State)
	}

	_, err = s.db.Exec(`
		UPDATE directories
		SET state = ?, pinned_provider = NULL, pinned_release_id = NULL,
		    pinned_confidence = NULL, note = NULL, updated_at = CURRENT_TIMESTAMP
		WHERE dir_id = ?
	`, string(StateNew), dirID)
	if err != nil {
		return fmt.Errorf("failed to unjail %s: %w", dirID, err)
	}
	return nil
}

// ListByState returns all records in a state, ordered by dir_id for
// deterministic iteration
func (s *Store) ListByState(state State) ([]*DirectoryRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(`
		SELECT dir_id, last_seen_path, signature_hash, signature_version, state,
		       COALESCE(pinned_provider, ''), COALESCE(pinned_release_id, ''),
		       COALESCE(pinned_confidence, 0), COALESCE(note, ''),
		       COALESCE(last_apply_status, ''), last_apply_at,
		       created_at, updated_at
		FROM directories WHERE state = ? ORDER BY dir_id
	`, string(state))
	if err != nil {
		return nil, fmt.Errorf("failed to list directories by state: %w", err)
	}
	defer rows.Close()

	var records []*DirectoryRecord
	for rows.Next() {
		var rec DirectoryRecord
		var st string
		var lastApplyAt sql.NullTime
		err := rows.Scan(
			&rec.DirID, &rec.LastSeenPath, &rec.SignatureHash, &rec.SignatureVersion,
			&st, &rec.PinnedProvider, &rec.PinnedReleaseID, &rec.PinnedConfidence,
			&rec.Note, &rec.LastApplyStatus, &lastApplyAt,
			&rec.CreatedAt, &rec.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan directory record: %w", err)
		}
		rec.State = State(st)
		if lastApplyAt.Valid {
			rec.LastApplyAt = lastApplyAt.Time
		}
		records = append(records, &rec)
	}
	return records, rows.Err()
}

// RecordApply stores the apply outcome on the record for audit
func (s *Store) RecordApply(dirID, status string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		UPDATE directories
		SET last_apply_status = ?, last_apply_at = ?, updated_at = CURRENT_TIMESTAMP
		WHERE dir_id = ?
	`, status, at, dirID)
	if err != nil {
		return fmt.Errorf("failed to record apply outcome for %s: %w", dirID, err)
	}
	return nil
}

func nullIfEmpty(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}
