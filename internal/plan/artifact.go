package plan

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/franz/music-curator/internal/util"
)

// PlanVersion changes whenever the artifact layout changes; the applier
// rejects plans from other versions.
const PlanVersion = 1

// NonAudioPolicy controls what happens to sidecar files (covers, logs, cues)
// after all audio moves succeed
type NonAudioPolicy string

const (
	NonAudioMoveWithAlbum NonAudioPolicy = "MOVE_WITH_ALBUM"
	NonAudioLeaveInPlace  NonAudioPolicy = "LEAVE_IN_PLACE"
	NonAudioDelete        NonAudioPolicy = "DELETE"
)

// ConflictPolicy controls handling of a pre-existing destination file
type ConflictPolicy string

const (
	ConflictFail   ConflictPolicy = "FAIL"
	ConflictSkip   ConflictPolicy = "SKIP"
	ConflictRename ConflictPolicy = "RENAME"
)

// FileOp is one planned file move, ordered by (disc, track position)
type FileOp struct {
	Disc            int    `json:"disc"`
	TrackPosition   int    `json:"track_position"`
	SourcePath      string `json:"source_path"`
	DestinationPath string `json:"destination_path"`
	Title           string `json:"title"`
}

// Plan is the frozen, deterministic description of a directory
// reorganization. It snapshots the signature hash it was built from; the
// applier re-verifies the live directory still matches before touching
// anything.
type Plan struct {
	DirID             string         `json:"dir_id"`
	SourcePath        string         `json:"source_path"`
	SignatureHash     string         `json:"signature_hash"`
	Provider          string         `json:"provider"`
	ReleaseID         string         `json:"release_id"`
	DestinationPath   string         `json:"destination_path"`
	Operations        []FileOp       `json:"operations"`
	NonAudioPolicy    NonAudioPolicy `json:"non_audio_policy"`
	ConflictPolicy    ConflictPolicy `json:"conflict_policy"`
	PlanVersion       int            `json:"plan_version"`
	IsCompilation     bool           `json:"is_compilation"`
	CompilationReason string         `json:"compilation_reason,omitempty"`
	IsClassical       bool           `json:"is_classical"`
}

var (
	dirIDPattern     = regexp.MustCompile(`^d-[0-9a-f]{16}$`)
	signaturePattern = regexp.MustCompile(`^[0-9a-f]{64}$`)
)

// ValidDirID reports whether s is a well-formed dir id
func ValidDirID(s string) bool { return dirIDPattern.MatchString(s) }

// ValidSignatureHash reports whether s is a well-formed signature hash
func ValidSignatureHash(s string) bool { return signaturePattern.MatchString(s) }

// Canonical returns the plan's canonical JSON serialization.
// Byte-identical for identical plans.
func (p *Plan) Canonical() ([]byte, error) {
	return MarshalCanonical(p)
}

// Hash returns the SHA-256 hex digest of the canonical serialization.
// This digest is the idempotency and audit anchor written into provenance
// tags.
func (p *Plan) Hash() (string, error) {
	canonical, err := p.Canonical()
	if err != nil {
		return "", fmt.Errorf("failed to serialize plan: %w", err)
	}
	return fmt.Sprintf("%x", sha256.Sum256(canonical)), nil
}

// Validate checks id formats and path safety. The same checks run for
// in-memory construction and for artifacts loaded from disk.
func (p *Plan) Validate() error {
	var v util.ValidationErrors

	if !ValidDirID(p.DirID) {
		v.Add("invalid dir_id %q", p.DirID)
	}
	if !ValidSignatureHash(p.SignatureHash) {
		v.Add("invalid signature_hash %q", p.SignatureHash)
	}
	if p.Provider == "" {
		v.Add("provider is empty")
	}
	if p.ReleaseID == "" {
		v.Add("release_id is empty")
	}
	if p.PlanVersion != PlanVersion {
		v.Add("plan_version %d is not supported (want %d)", p.PlanVersion, PlanVersion)
	}
	if p.SourcePath == "" || !filepath.IsAbs(p.SourcePath) {
		v.Add("source_path %q must be absolute", p.SourcePath)
	}
	if p.DestinationPath == "" || !filepath.IsAbs(p.DestinationPath) {
		v.Add("destination_path %q must be absolute", p.DestinationPath)
	}
	if len(p.Operations) == 0 {
		v.Add("plan has no operations")
	}

	switch p.ConflictPolicy {
	case ConflictFail, ConflictSkip, ConflictRename:
	default:
		v.Add("unknown conflict_policy %q", p.ConflictPolicy)
	}
	switch p.NonAudioPolicy {
	case NonAudioMoveWithAlbum, NonAudioLeaveInPlace, NonAudioDelete:
	default:
		v.Add("unknown non_audio_policy %q", p.NonAudioPolicy)
	}

	for i, op := range p.Operations {
		if HasDotDot(op.SourcePath) || HasDotDot(op.DestinationPath) {
			v.Add("operation %d contains '..' path component", i)
			continue
		}
		if !strings.HasPrefix(op.SourcePath, p.SourcePath+string(filepath.Separator)) {
			v.Add("operation %d source %q escapes source_path", i, op.SourcePath)
		}
		if !strings.HasPrefix(op.DestinationPath, p.DestinationPath+string(filepath.Separator)) {
			v.Add("operation %d destination %q escapes destination_path", i, op.DestinationPath)
		}
	}

	return v.Err()
}

// HasDotDot reports whether any path component is ".." - rejected before
// any resolution happens
func HasDotDot(path string) bool {
	for _, part := range strings.Split(path, string(filepath.Separator)) {
		if part == ".." {
			return true
		}
	}
	return false
}

// Save writes the plan's canonical form to path
func (p *Plan) Save(path string) error {
	if err := p.Validate(); err != nil {
		return err
	}
	data, err := p.Canonical()
	if err != nil {
		return fmt.Errorf("failed to serialize plan: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write plan artifact: %w", err)
	}
	return nil
}

// Load reads a plan artifact and re-validates it exactly as in-memory
// construction would
func Load(path string) (*Plan, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read plan artifact: %w", err)
	}
	var p Plan
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, fmt.Errorf("failed to parse plan artifact: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}
