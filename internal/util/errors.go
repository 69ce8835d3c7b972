package util

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds for the resolve/plan/apply engine. Callers branch on kind via
// errors.Is, never on message text.
var (
	// ErrValidation indicates a malformed artifact or failed precondition.
	// No side effects have occurred when this is returned.
	ErrValidation = errors.New("validation failed")

	// ErrIOFailure indicates a filesystem error during a move or write
	ErrIOFailure = errors.New("io failure")

	// ErrRuntime is the catch-all for operational failures
	ErrRuntime = errors.New("runtime failure")

	// ErrNetworkRequired is returned by the offline cache client on a miss,
	// before any network attempt is made
	ErrNetworkRequired = errors.New("requires network (offline mode, cache miss)")

	// ErrPartialCompletion indicates some but not all expected destinations
	// already exist; signals manual inspection, not blind retry
	ErrPartialCompletion = errors.New("partial completion detected")

	// ErrTagWrite indicates a tag write failed after file moves succeeded
	ErrTagWrite = errors.New("tag write failed")

	// ErrRollback indicates a best-effort rollback could not fully restore
	// the original source layout
	ErrRollback = errors.New("rollback incomplete")

	// ErrNotFound indicates a required record or resource was not found
	ErrNotFound = errors.New("not found")

	// ErrConflict indicates a destination file conflict
	ErrConflict = errors.New("destination conflict")
)

// ValidationErrors accumulates preflight failures so they can be reported
// together instead of aborting on the first one.
type ValidationErrors struct {
	Problems []string
}

// Add records a validation problem
func (v *ValidationErrors) Add(format string, args ...interface{}) {
	v.Problems = append(v.Problems, fmt.Sprintf(format, args...))
}

// Empty reports whether no problems were recorded
func (v *ValidationErrors) Empty() bool {
	return len(v.Problems) == 0
}

// Err returns nil when empty, otherwise a single error wrapping ErrValidation
// with every accumulated problem in order
func (v *ValidationErrors) Err() error {
	if v.Empty() {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrValidation, strings.Join(v.Problems, "; "))
}
