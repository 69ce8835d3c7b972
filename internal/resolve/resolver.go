// Package resolve decides which provider release a directory belongs to.
//
// Fingerprint evidence is tried first, metadata text second. A candidate is
// auto-accepted only when its score clears a floor and leads the runner-up
// by a margin; anything ambiguous goes to the prompt queue instead.
package resolve

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

// Confidence tiers for candidate classification
const (
	TierHigh   = "HIGH"
	TierMedium = "MEDIUM"
	TierLow    = "LOW"
)

// Scoring weights and acceptance thresholds
const (
	weightCoverage   = 0.5
	weightTrackCount = 0.3
	weightDuration   = 0.2

	// DefaultAutoAcceptFloor is the minimum score for automatic resolution
	DefaultAutoAcceptFloor = 0.85
	// DefaultAutoAcceptMargin is the minimum lead over the runner-up.
	// A tie or narrow gap never auto-resolves.
	DefaultAutoAcceptMargin = 0.10

	tierHighFloor   = 0.85
	tierMediumFloor = 0.60
)

// Candidate is a scored release
type Candidate struct {
	Release provider.Release
	Score   float64
	Tier    string
}

// Resolution is the outcome of resolving one directory
type Resolution struct {
	DirID    string
	Outcome  store.State
	Top      *Candidate
	Reason   string
	Requeued bool // true when the record was already resolved and left alone
}

// Resolver consumes directory evidence and decides NEW directories into
// RESOLVED_AUTO, QUEUED_PROMPT or JAILED.
type Resolver struct {
	repo   store.Repository
	client provider.Client
	floor  float64
	margin float64
}

// Config holds resolver configuration
type Config struct {
	Repo   store.Repository
	Client provider.Client
	Floor  float64 // 0 = DefaultAutoAcceptFloor
	Margin float64 // 0 = DefaultAutoAcceptMargin
}

// New creates a Resolver
func New(cfg *Config) *Resolver {
	floor := cfg.Floor
	if floor == 0 {
		floor = DefaultAutoAcceptFloor
	}
	margin := cfg.Margin
	if margin == 0 {
		margin = DefaultAutoAcceptMargin
	}
	return &Resolver{
		repo:   cfg.Repo,
		client: cfg.Client,
		floor:  floor,
		margin: margin,
	}
}

// ResolveDirectory resolves one directory from its evidence.
//
// If the record is already RESOLVED_* with an unchanged signature, neither
// the cache nor the provider is queried - zero calls, as an invariant, not
// an optimization. Signature drift is handled before this point by
// Repository.GetOrCreate resetting the record to NEW.
func (r *Resolver) ResolveDirectory(ctx context.Context, rec *store.DirectoryRecord, tracks []identity.TrackEvidence) (*Resolution, error) {
	if rec.State.IsResolved() {
		return &Resolution{DirID: rec.DirID, Outcome: rec.State, Requeued: true,
			Reason: "already resolved, signature unchanged"}, nil
	}
	if rec.State != store.StateNew {
		return &Resolution{DirID: rec.DirID, Outcome: rec.State, Requeued: true,
			Reason: fmt.Sprintf("not eligible in state %s", rec.State)}, nil
	}

	candidates, err := r.gatherCandidates(ctx, tracks)
	if err != nil {
		return nil, err
	}

	if len(candidates) == 0 {
		reason := "no provider candidates for available evidence"
		if err := r.repo.SetState(rec.DirID, store.StateJailed, nil, reason); err != nil {
			return nil, err
		}
		util.DebugLog("Jailed %s: %s", rec.DirID, reason)
		return &Resolution{DirID: rec.DirID, Outcome: store.StateJailed, Reason: reason}, nil
	}

	scored := scoreCandidates(candidates, tracks)
	top := scored[0]

	lead := top.Score
	if len(scored) > 1 {
		lead = top.Score - scored[1].Score
	}

	if top.Score >= r.floor && lead >= r.margin {
		pin := &store.Pin{
			Provider:   top.Release.Provider,
			ReleaseID:  top.Release.ID,
			Confidence: top.Score,
		}
		if err := r.repo.SetState(rec.DirID, store.StateResolvedAuto, pin, ""); err != nil {
			return nil, err
		}
		util.DebugLog("Auto-resolved %s -> %s/%s (score %.2f, lead %.2f)",
			rec.DirID, pin.Provider, pin.ReleaseID, top.Score, lead)
		return &Resolution{DirID: rec.DirID, Outcome: store.StateResolvedAuto, Top: &top}, nil
	}

	reason := fmt.Sprintf("ambiguous: top %.2f (%s), lead %.2f", top.Score, top.Tier, lead)
	if err := r.repo.SetState(rec.DirID, store.StateQueuedPrompt, nil, reason); err != nil {
		return nil, err
	}
	util.DebugLog("Queued %s for prompt: %s", rec.DirID, reason)
	return &Resolution{DirID: rec.DirID, Outcome: store.StateQueuedPrompt, Top: &top, Reason: reason}, nil
}

// ResolveUser pins a QUEUED_PROMPT directory to a human-confirmed release
func (r *Resolver) ResolveUser(dirID, providerName, releaseID string) error {
	pin := &store.Pin{Provider: providerName, ReleaseID: releaseID, Confidence: 1.0}
	return r.repo.SetState(dirID, store.StateResolvedUser, pin, "")
}

// gatherCandidates runs the fingerprint search, falling back to metadata
// when fingerprints are absent or yield nothing
func (r *Resolver) gatherCandidates(ctx context.Context, tracks []identity.TrackEvidence) ([]provider.Release, error) {
	var fids []string
	for _, t := range tracks {
		if t.FingerprintID != "" {
			fids = append(fids, t.FingerprintID)
		}
	}

	if len(fids) > 0 {
		releases, err := r.client.SearchByFingerprints(ctx, fids)
		if err != nil {
			return nil, fmt.Errorf("fingerprint search failed: %w", err)
		}
		if len(releases) > 0 {
			return releases, nil
		}
	}

	artist, album := majorityTags(tracks)
	if artist == "" && album == "" {
		return nil, nil
	}

	releases, err := r.client.SearchByMetadata(ctx, artist, album, len(tracks))
	if err != nil {
		return nil, fmt.Errorf("metadata search failed: %w", err)
	}
	return releases, nil
}

// majorityTags returns the most common artist and album tag values
func majorityTags(tracks []identity.TrackEvidence) (artist, album string) {
	artists := make(map[string]int)
	albums := make(map[string]int)
	for _, t := range tracks {
		if v := strings.TrimSpace(t.TagArtist); v != "" {
			artists[v]++
		}
		if v := strings.TrimSpace(t.TagAlbum); v != "" {
			albums[v]++
		}
	}
	return topCount(artists), topCount(albums)
}

func topCount(m map[string]int) string {
	best := ""
	bestN := 0
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys) // deterministic tie-break
	for _, k := range keys {
		if m[k] > bestN {
			best = k
			bestN = m[k]
		}
	}
	return best
}

// scoreCandidates scores every candidate and returns them best-first.
// Ties sort by provider release id so output order is stable.
func scoreCandidates(releases []provider.Release, tracks []identity.TrackEvidence) []Candidate {
	scored := make([]Candidate, 0, len(releases))
	for _, rel := range releases {
		s := scoreRelease(rel, tracks)
		scored = append(scored, Candidate{Release: rel, Score: s, Tier: tierFor(s)})
	}
	sort.Slice(scored, func(i, j int) bool {
		if scored[i].Score != scored[j].Score {
			return scored[i].Score > scored[j].Score
		}
		return scored[i].Release.ID < scored[j].Release.ID
	})
	return scored
}

// scoreRelease combines fingerprint coverage, track-count match and
// duration fit into a single score in [0, 1]
func scoreRelease(rel provider.Release, tracks []identity.TrackEvidence) float64 {
	coverage := fingerprintCoverage(rel, tracks)
	countFit := trackCountFit(len(rel.Tracks), len(tracks))
	durFit := durationFit(rel, tracks)

	return weightCoverage*coverage + weightTrackCount*countFit + weightDuration*durFit
}

func fingerprintCoverage(rel provider.Release, tracks []identity.TrackEvidence) float64 {
	want := make(map[string]bool)
	for _, t := range tracks {
		if t.FingerprintID != "" {
			want[t.FingerprintID] = true
		}
	}
	if len(want) == 0 {
		return 0
	}

	have := make(map[string]bool)
	for _, rt := range rel.Tracks {
		if rt.FingerprintID != "" {
			have[rt.FingerprintID] = true
		}
		if rt.RecordingID != "" {
			have[rt.RecordingID] = true
		}
	}

	matched := 0
	for id := range want {
		if have[id] {
			matched++
		}
	}
	return float64(matched) / float64(len(want))
}

func trackCountFit(releaseTracks, evidenceTracks int) float64 {
	if releaseTracks == 0 || evidenceTracks == 0 {
		return 0
	}
	diff := releaseTracks - evidenceTracks
	if diff < 0 {
		diff = -diff
	}
	max := releaseTracks
	if evidenceTracks > max {
		max = evidenceTracks
	}
	return 1 - float64(diff)/float64(max)
}

// durationFit compares total durations; per-track alignment is not attempted
func durationFit(rel provider.Release, tracks []identity.TrackEvidence) float64 {
	var relTotal, evTotal int
	for _, rt := range rel.Tracks {
		relTotal += rt.DurationMS
	}
	for _, t := range tracks {
		evTotal += t.DurationMS
	}
	if relTotal == 0 || evTotal == 0 {
		return 0.5 // unknown durations neither help nor hurt
	}

	diff := relTotal - evTotal
	if diff < 0 {
		diff = -diff
	}
	max := relTotal
	if evTotal > max {
		max = evTotal
	}
	fit := 1 - float64(diff)/float64(max)
	if fit < 0 {
		return 0
	}
	return fit
}

func tierFor(score float64) string {
	switch {
	case score >= tierHighFloor:
		return TierHigh
	case score >= tierMediumFloor:
		return TierMedium
	default:
		return TierLow
	}
}
