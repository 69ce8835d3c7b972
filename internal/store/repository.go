package store

import (
	"fmt"
	"time"

	"github.com/franz/music-curator/internal/util"
)

// State is the lifecycle state of a directory record
type State string

const (
	StateNew          State = "NEW"
	StateQueuedPrompt State = "QUEUED_PROMPT"
	StateJailed       State = "JAILED"
	StateResolvedAuto State = "RESOLVED_AUTO"
	StateResolvedUser State = "RESOLVED_USER"
	StatePlanned      State = "PLANNED"
	StateApplied      State = "APPLIED"
	StateFailed       State = "FAILED"
)

// IsResolved reports whether the state carries a pinned decision
func (s State) IsResolved() bool {
	return s == StateResolvedAuto || s == StateResolvedUser
}

// Pin binds a directory to a provider release. Both fields are set together
// or not at all.
type Pin struct {
	Provider   string
	ReleaseID  string
	Confidence float64
}

// DirectoryRecord is the persisted lifecycle state of one directory.
// Identity (DirID, SignatureHash) is content-derived; the path is advisory.
type DirectoryRecord struct {
	DirID            string
	LastSeenPath     string
	SignatureHash    string
	SignatureVersion int
	State            State
	PinnedProvider   string
	PinnedReleaseID  string
	PinnedConfidence float64
	Note             string
	LastApplyStatus  string
	LastApplyAt      time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Repository is the state store contract. Every mutation is a read-modify-write
// under the implementation's single writer lock; callers never compose their
// own transitions.
type Repository interface {
	// GetOrCreate returns the record for dirID, creating it in NEW when
	// unseen. A signature hash or version change on an existing record
	// force-resets it to NEW and clears the pin; a path-only change updates
	// LastSeenPath and nothing else.
	GetOrCreate(dirID, path, signatureHash string, signatureVersion int) (*DirectoryRecord, error)

	// Get returns the record for dirID, or util.ErrNotFound
	Get(dirID string) (*DirectoryRecord, error)

	// SetState transitions a record. RESOLVED_* targets require a pin with
	// both provider and release id; invalid transitions are rejected.
	SetState(dirID string, to State, pin *Pin, note string) error

	// Unjail returns a JAILED record to NEW, clearing the pin
	Unjail(dirID string) error

	// ListByState returns all records in the given state, ordered by dir_id
	ListByState(state State) ([]*DirectoryRecord, error)

	// RecordApply stores the apply outcome as audit fields on the record
	RecordApply(dirID, status string, at time.Time) error
}

// transitions is the allowed state graph. JAILED -> NEW is deliberately
// absent: it only happens through Unjail.
var transitions = map[State][]State{
	StateNew:          {StateQueuedPrompt, StateResolvedAuto, StateJailed},
	StateQueuedPrompt: {StateResolvedUser, StateJailed},
	StateResolvedAuto: {StatePlanned},
	StateResolvedUser: {StatePlanned},
	StatePlanned:      {StateApplied, StateFailed},
	StateJailed:       {},
	StateApplied:      {},
	StateFailed:       {},
}

// validateTransition checks the graph and the all-or-nothing pin invariant.
// Shared by the SQLite store and the in-memory double so both enforce the
// same rules.
func validateTransition(from, to State, pin *Pin) error {
	allowed := false
	for _, t := range transitions[from] {
		if t == to {
			allowed = true
			break
		}
	}
	if !allowed {
		return fmt.Errorf("%w: transition %s -> %s is not allowed", util.ErrValidation, from, to)
	}

	if to.IsResolved() {
		if pin == nil || pin.Provider == "" || pin.ReleaseID == "" {
			return fmt.Errorf("%w: transition to %s requires both pinned provider and release id", util.ErrValidation, to)
		}
	}

	return nil
}
