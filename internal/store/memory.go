package store

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/franz/music-curator/internal/util"
)

// MemRepository is an in-memory Repository for tests. It enforces the same
// transition graph and pin invariants as the SQLite store.
type MemRepository struct {
	mu      sync.Mutex
	records map[string]*DirectoryRecord
}

// NewMemRepository creates an empty in-memory repository
func NewMemRepository() *MemRepository {
	return &MemRepository{records: make(map[string]*DirectoryRecord)}
}

func (m *MemRepository) GetOrCreate(dirID, path, signatureHash string, signatureVersion int) (*DirectoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[dirID]
	if !ok {
		now := time.Now()
		rec = &DirectoryRecord{
			DirID:            dirID,
			LastSeenPath:     path,
			SignatureHash:    signatureHash,
			SignatureVersion: signatureVersion,
			State:            StateNew,
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		m.records[dirID] = rec
		return copyRecord(rec), nil
	}

	if rec.SignatureHash != signatureHash || rec.SignatureVersion != signatureVersion {
		rec.LastSeenPath = path
		rec.SignatureHash = signatureHash
		rec.SignatureVersion = signatureVersion
		rec.State = StateNew
		rec.PinnedProvider = ""
		rec.PinnedReleaseID = ""
		rec.PinnedConfidence = 0
		rec.Note = ""
		rec.UpdatedAt = time.Now()
		return copyRecord(rec), nil
	}

	if rec.LastSeenPath != path {
		rec.LastSeenPath = path
		rec.UpdatedAt = time.Now()
	}
	return copyRecord(rec), nil
}

func (m *MemRepository) Get(dirID string) (*DirectoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[dirID]
	if !ok {
		return nil, fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	return copyRecord(rec), nil
}

func (m *MemRepository) SetState(dirID string, to State, pin *Pin, note string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[dirID]
	if !ok {
		return fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}

	if err := validateTransition(rec.State, to, pin); err != nil {
		return err
	}

	rec.State = to
	if pin != nil {
		rec.PinnedProvider = pin.Provider
		rec.PinnedReleaseID = pin.ReleaseID
		rec.PinnedConfidence = pin.Confidence
	}
	rec.Note = note
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemRepository) Unjail(dirID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[dirID]
	if !ok {
		return fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	if rec.State != StateJailed {
		return fmt.Errorf("%w: directory %s is %s, not JAILED", util.ErrValidation, dirID, rec.State)
	}

	rec.State = StateNew
	rec.PinnedProvider = ""
	rec.PinnedReleaseID = ""
	rec.PinnedConfidence = 0
	rec.Note = ""
	rec.UpdatedAt = time.Now()
	return nil
}

func (m *MemRepository) ListByState(state State) ([]*DirectoryRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []string
	for id, rec := range m.records {
		if rec.State == state {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)

	out := make([]*DirectoryRecord, 0, len(ids))
	for _, id := range ids {
		out = append(out, copyRecord(m.records[id]))
	}
	return out, nil
}

func (m *MemRepository) RecordApply(dirID, status string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[dirID]
	if !ok {
		return fmt.Errorf("directory %s: %w", dirID, util.ErrNotFound)
	}
	rec.LastApplyStatus = status
	rec.LastApplyAt = at
	rec.UpdatedAt = time.Now()
	return nil
}

func copyRecord(rec *DirectoryRecord) *DirectoryRecord {
	c := *rec
	return &c
}
