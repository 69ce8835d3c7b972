// Package enrich builds deterministic TagPatch artifacts for planned
// directories. Like planning, enrichment is pure: the apply timestamp is an
// input, not a clock read.
package enrich

import (
	"fmt"
	"strconv"
	"time"

	"github.com/franz/music-curator/internal/plan"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

const (
	// TagPatchVersion changes whenever the artifact layout changes
	TagPatchVersion = 1

	// ToolName and ToolVersion are written into provenance tags
	ToolName    = "music-curator"
	ToolVersion = "1.0.0"
)

// Refusal reason codes. A refusal is a well-formed TagPatch with
// Allowed=false, never an error.
const (
	ReasonNotResolved       = "not_resolved"
	ReasonUserOptInRequired = "user_resolved_optin_required"
)

// TrackPatch is the tag changes for one planned track
type TrackPatch struct {
	TrackPosition int               `json:"track_position"`
	Path          string            `json:"path"`
	SetTags       map[string]string `json:"set_tags"`
}

// TagPatch describes the metadata changes accompanying a Plan
type TagPatch struct {
	DirID           string            `json:"dir_id"`
	Provider        string            `json:"provider"`
	ReleaseID       string            `json:"release_id"`
	Version         int               `json:"version"`
	Allowed         bool              `json:"allowed"`
	Reason          string            `json:"reason,omitempty"`
	AlbumPatch      map[string]string `json:"album_patch,omitempty"`
	TrackPatches    []TrackPatch      `json:"track_patches,omitempty"`
	ProvenanceTags  map[string]string `json:"provenance_tags,omitempty"`
	AllowOverwrite  bool              `json:"allow_overwrite"`
	OverwriteFields []string          `json:"overwrite_fields,omitempty"`
}

// Options controls enrichment behavior
type Options struct {
	// AllowUserResolved must be set explicitly to enrich RESOLVED_USER
	// directories
	AllowUserResolved bool

	AllowOverwrite  bool
	OverwriteFields []string

	// AppliedAt stamps provenance; callers pass the apply time so that the
	// function stays pure
	AppliedAt time.Time
}

// BuildTagPatch computes the TagPatch for a plan.
//
// Refusal (state not RESOLVED_*, or RESOLVED_USER without opt-in) returns an
// Allowed=false patch with a reason code. A release that lacks track data
// for any planned position is a hard error - tracks are never silently
// skipped.
func BuildTagPatch(p *plan.Plan, rel *provider.Release, state store.State, opts Options) (*TagPatch, error) {
	patch := &TagPatch{
		DirID:           p.DirID,
		Provider:        p.Provider,
		ReleaseID:       p.ReleaseID,
		Version:         TagPatchVersion,
		AllowOverwrite:  opts.AllowOverwrite,
		OverwriteFields: opts.OverwriteFields,
	}

	if !state.IsResolved() {
		patch.Reason = ReasonNotResolved
		return patch, nil
	}
	if state == store.StateResolvedUser && !opts.AllowUserResolved {
		patch.Reason = ReasonUserOptInRequired
		return patch, nil
	}

	byPosition := make(map[[2]int]provider.ReleaseTrack, len(rel.Tracks))
	for _, rt := range rel.Tracks {
		byPosition[[2]int{rt.Disc, rt.Position}] = rt
	}

	patch.AlbumPatch = map[string]string{
		"album":       rel.Title,
		"albumartist": rel.Artist,
		fmt.Sprintf("%s_albumid", rel.Provider): rel.ID,
	}
	if rel.Year != "" {
		patch.AlbumPatch["date"] = rel.Year
	}

	for _, op := range p.Operations {
		rt, ok := byPosition[[2]int{op.Disc, op.TrackPosition}]
		if !ok {
			return nil, fmt.Errorf("%w: release %s has no track data for disc %d position %d",
				util.ErrValidation, rel.ID, op.Disc, op.TrackPosition)
		}

		set := map[string]string{
			"title":       rt.Title,
			"tracknumber": strconv.Itoa(rt.Position),
		}
		if rt.Disc > 0 {
			set["discnumber"] = strconv.Itoa(rt.Disc)
		}
		if rt.RecordingID != "" {
			set[fmt.Sprintf("%s_recordingid", rel.Provider)] = rt.RecordingID
		}

		patch.TrackPatches = append(patch.TrackPatches, TrackPatch{
			TrackPosition: op.TrackPosition,
			Path:          op.DestinationPath,
			SetTags:       set,
		})
	}

	planHash, err := p.Hash()
	if err != nil {
		return nil, err
	}

	appliedAt := opts.AppliedAt
	if appliedAt.IsZero() {
		appliedAt = time.Now()
	}

	patch.ProvenanceTags = map[string]string{
		"tool.prov.version":           strconv.Itoa(TagPatchVersion),
		"tool.prov.tool":              ToolName,
		"tool.prov.tool_version":      ToolVersion,
		"tool.prov.dir_id":            p.DirID,
		"tool.prov.plan_hash":         planHash,
		"tool.prov.pinned_provider":   p.Provider,
		"tool.prov.pinned_release_id": p.ReleaseID,
		"tool.prov.applied_at_utc":    appliedAt.UTC().Format("2006-01-02T15:04:05Z"),
	}

	patch.Allowed = true
	return patch, nil
}

// Canonical returns the patch's canonical JSON serialization
func (t *TagPatch) Canonical() ([]byte, error) {
	return plan.MarshalCanonical(t)
}
