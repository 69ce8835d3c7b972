// Package plan builds deterministic reorganization plans for resolved
// directories. Planning is pure: no I/O, no clock, no randomness - the same
// record, release and canonicalizer always produce a byte-identical
// artifact.
package plan

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/franz/music-curator/internal/canon"
	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/provider"
	"github.com/franz/music-curator/internal/store"
	"github.com/franz/music-curator/internal/util"
)

// compilationTokens is the fixed allow-list of release artist tokens that
// mark a compilation. Matched lower-cased with punctuation stripped.
var compilationTokens = map[string]bool{
	"various artists": true,
	"various":         true,
	"va":              true,
	"varios artistas": true,
	"sampler":         true,
}

// Request carries the planner inputs
type Request struct {
	Record        *store.DirectoryRecord
	Release       *provider.Release
	Tracks        []identity.TrackEvidence
	Canonicalizer canon.Canonicalizer
	DestRoot      string

	NonAudioPolicy NonAudioPolicy // default MOVE_WITH_ALBUM
	ConflictPolicy ConflictPolicy // default FAIL
}

// PlanDirectory computes the Plan for a resolved directory.
//
// Precondition: the record is RESOLVED_AUTO or RESOLVED_USER. Any other
// state is a hard error, never a silent no-op - callers must not invoke the
// planner until the directory is resolvable.
func PlanDirectory(req *Request) (*Plan, error) {
	rec := req.Record
	rel := req.Release

	if !rec.State.IsResolved() {
		return nil, fmt.Errorf("%w: cannot plan directory %s in state %s", util.ErrValidation, rec.DirID, rec.State)
	}
	if rec.PinnedProvider == "" || rec.PinnedReleaseID == "" {
		return nil, fmt.Errorf("%w: directory %s is resolved but has no pin", util.ErrValidation, rec.DirID)
	}
	if rel.Provider != rec.PinnedProvider || rel.ID != rec.PinnedReleaseID {
		return nil, fmt.Errorf("%w: release %s/%s does not match pin %s/%s",
			util.ErrValidation, rel.Provider, rel.ID, rec.PinnedProvider, rec.PinnedReleaseID)
	}
	if len(req.Tracks) != len(rel.Tracks) {
		return nil, fmt.Errorf("%w: directory has %d tracks but release %s has %d",
			util.ErrValidation, len(req.Tracks), rel.ID, len(rel.Tracks))
	}

	isCompilation, compilationReason := detectCompilation(rel)

	destDir, err := destinationDir(rel, isCompilation, req.Canonicalizer)
	if err != nil {
		return nil, err
	}
	destPath := filepath.Join(req.DestRoot, destDir)

	ops, err := buildOperations(rec.LastSeenPath, destPath, rel, req.Tracks, req.Canonicalizer)
	if err != nil {
		return nil, err
	}

	nonAudio := req.NonAudioPolicy
	if nonAudio == "" {
		nonAudio = NonAudioMoveWithAlbum
	}
	conflict := req.ConflictPolicy
	if conflict == "" {
		conflict = ConflictFail
	}

	p := &Plan{
		DirID:             rec.DirID,
		SourcePath:        rec.LastSeenPath,
		SignatureHash:     rec.SignatureHash,
		Provider:          rel.Provider,
		ReleaseID:         rel.ID,
		DestinationPath:   destPath,
		Operations:        ops,
		NonAudioPolicy:    nonAudio,
		ConflictPolicy:    conflict,
		PlanVersion:       PlanVersion,
		IsCompilation:     isCompilation,
		CompilationReason: compilationReason,
		IsClassical:       rel.IsClassical,
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}
	return p, nil
}

// detectCompilation matches the release artist token against the fixed
// allow-list
func detectCompilation(rel *provider.Release) (bool, string) {
	token := normalizeArtistToken(rel.Artist)
	if compilationTokens[token] {
		return true, fmt.Sprintf("release artist token %q", token)
	}
	return false, ""
}

// normalizeArtistToken lower-cases and strips punctuation, so "V.A." and
// "va" compare equal
func normalizeArtistToken(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(strings.TrimSpace(s)) {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == ' ':
			b.WriteRune(r)
		}
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// destinationDir implements the layout rules, in priority order:
//
//  1. classical, single composer, composer+album+performer -> Composer/Album/Performer
//  2. classical, single composer, no performer -> Composer/Album (Composer alone if no album)
//  3. classical, no single composer, performer known -> Performer/Album
//  4. classical, nothing but album -> Various Artists/Album
//  5. non-classical, artist+album -> Artist/Album
//  6. otherwise cannot plan
func destinationDir(rel *provider.Release, isCompilation bool, c canon.Canonicalizer) (string, error) {
	album := c.CanonicalizeDisplay(rel.Title, canon.CategoryAlbum)

	if rel.IsClassical {
		composer := c.CanonicalizeDisplay(rel.Composer, canon.CategoryComposer)
		performer := c.CanonicalizeDisplay(rel.Performer, canon.CategoryPerformer)

		if rel.Composer != "" && !isCompilation {
			if rel.Performer != "" && rel.Title != "" {
				return filepath.Join(composer, album, performer), nil
			}
			if rel.Title != "" {
				return filepath.Join(composer, album), nil
			}
			return composer, nil
		}
		if rel.Performer != "" && rel.Title != "" {
			return filepath.Join(performer, album), nil
		}
		if rel.Title != "" {
			return filepath.Join("Various Artists", album), nil
		}
		return "", fmt.Errorf("%w: classical release %s has neither composer, performer nor album", util.ErrValidation, rel.ID)
	}

	if isCompilation && rel.Title != "" {
		return filepath.Join("Various Artists", album), nil
	}
	if rel.Artist != "" && rel.Title != "" {
		artist := c.CanonicalizeDisplay(rel.Artist, canon.CategoryArtist)
		return filepath.Join(artist, album), nil
	}

	return "", fmt.Errorf("%w: release %s lacks artist or album, cannot plan", util.ErrValidation, rel.ID)
}

// buildOperations maps evidence files to release tracks and emits moves
// ordered by (disc, track position) with deterministically zero-padded
// filenames
func buildOperations(sourceDir, destDir string, rel *provider.Release, tracks []identity.TrackEvidence, c canon.Canonicalizer) ([]FileOp, error) {
	relTracks := make([]provider.ReleaseTrack, len(rel.Tracks))
	copy(relTracks, rel.Tracks)
	sort.Slice(relTracks, func(i, j int) bool {
		if relTracks[i].Disc != relTracks[j].Disc {
			return relTracks[i].Disc < relTracks[j].Disc
		}
		return relTracks[i].Position < relTracks[j].Position
	})

	assignment, err := assignTracks(relTracks, tracks)
	if err != nil {
		return nil, err
	}

	multiDisc := relTracks[len(relTracks)-1].Disc > 1
	padWidth := 2
	for _, rt := range relTracks {
		if rt.Position >= 100 {
			padWidth = 3
		}
	}

	ops := make([]FileOp, 0, len(relTracks))
	for i, rt := range relTracks {
		ev := assignment[i]

		title := c.CanonicalizeDisplay(rt.Title, canon.CategoryTitle)
		if title == "" {
			base := filepath.Base(ev.Path)
			title = canon.SanitizePathComponent(strings.TrimSuffix(base, filepath.Ext(base)))
		}
		ext := strings.ToLower(filepath.Ext(ev.Path))
		filename := fmt.Sprintf("%0*d - %s%s", padWidth, rt.Position, title, ext)

		dest := destDir
		if multiDisc {
			dest = filepath.Join(dest, fmt.Sprintf("Disc %02d", rt.Disc))
		}

		ops = append(ops, FileOp{
			Disc:            rt.Disc,
			TrackPosition:   rt.Position,
			SourcePath:      ev.Path,
			DestinationPath: filepath.Join(dest, filename),
			Title:           rt.Title,
		})
	}
	return ops, nil
}

// assignTracks pairs each release track with one evidence file.
// Matching is layered: fingerprint/recording id first, then tag track
// number, then sorted path order for whatever remains. Every layer is
// deterministic.
func assignTracks(relTracks []provider.ReleaseTrack, tracks []identity.TrackEvidence) ([]identity.TrackEvidence, error) {
	assignment := make([]identity.TrackEvidence, len(relTracks))
	assigned := make([]bool, len(relTracks))
	used := make([]bool, len(tracks))

	evidence := make([]identity.TrackEvidence, len(tracks))
	copy(evidence, tracks)
	sort.Slice(evidence, func(i, j int) bool { return evidence[i].Path < evidence[j].Path })

	// Layer 1: fingerprint / recording id
	for i, rt := range relTracks {
		if rt.FingerprintID == "" && rt.RecordingID == "" {
			continue
		}
		for j, ev := range evidence {
			if used[j] || ev.FingerprintID == "" {
				continue
			}
			if ev.FingerprintID == rt.FingerprintID || ev.FingerprintID == rt.RecordingID {
				assignment[i] = ev
				assigned[i] = true
				used[j] = true
				break
			}
		}
	}

	// Layer 2: tag track number
	for i, rt := range relTracks {
		if assigned[i] {
			continue
		}
		for j, ev := range evidence {
			if used[j] || ev.TagTrack == 0 {
				continue
			}
			if ev.TagTrack == rt.Position {
				assignment[i] = ev
				assigned[i] = true
				used[j] = true
				break
			}
		}
	}

	// Layer 3: sorted path order
	next := 0
	for i := range relTracks {
		if assigned[i] {
			continue
		}
		for next < len(evidence) && used[next] {
			next++
		}
		if next >= len(evidence) {
			return nil, fmt.Errorf("%w: could not assign a source file to every release track", util.ErrValidation)
		}
		assignment[i] = evidence[next]
		used[next] = true
	}

	return assignment, nil
}
