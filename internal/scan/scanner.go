// Package scan collects per-directory track evidence: file sizes, existing
// tags and any embedded fingerprint or recording ids. The acoustic
// fingerprinting algorithm itself is external; the scanner only picks up
// identifiers already present in the files.
package scan

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/dhowden/tag"

	"github.com/franz/music-curator/internal/identity"
	"github.com/franz/music-curator/internal/tags"
	"github.com/franz/music-curator/internal/util"
)

// Fingerprint tag keys recognized in raw metadata, checked in order
var fingerprintTagKeys = []string{
	"ACOUSTID_ID",
	"Acoustid Id",
	"MUSICBRAINZ_TRACKID",
	"MusicBrainz Track Id",
}

// ScanDirectory reads every audio file directly inside dir and returns its
// track evidence, sorted by path for determinism. Subdirectories are not
// descended into; one directory is one release candidate.
func ScanDirectory(dir string) ([]identity.TrackEvidence, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("failed to read directory %s: %w", dir, err)
	}

	var evidence []identity.TrackEvidence
	for _, entry := range entries {
		if entry.IsDir() || !tags.IsAudioFile(entry.Name()) {
			continue
		}
		path := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			return nil, fmt.Errorf("failed to stat %s: %w", path, err)
		}

		ev := identity.TrackEvidence{
			Path:      path,
			SizeBytes: info.Size(),
		}
		readFileTags(path, &ev)
		evidence = append(evidence, ev)
	}

	if len(evidence) == 0 {
		return nil, fmt.Errorf("no audio files in %s", dir)
	}

	sort.Slice(evidence, func(i, j int) bool { return evidence[i].Path < evidence[j].Path })
	return evidence, nil
}

// readFileTags fills tag-derived evidence fields. A file with unreadable
// tags still counts as evidence - size alone participates in the signature.
func readFileTags(path string, ev *identity.TrackEvidence) {
	f, err := os.Open(path)
	if err != nil {
		util.DebugLog("Cannot open %s for tag reading: %v", path, err)
		return
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		util.DebugLog("Cannot read tags from %s: %v", path, err)
		return
	}

	ev.TagArtist = m.Artist()
	ev.TagAlbum = m.Album()
	ev.TagTitle = m.Title()
	ev.TagTrack, _ = m.Track()
	ev.FingerprintID = extractFingerprintID(m.Raw())
}

// extractFingerprintID pulls an embedded acoustic fingerprint or recording
// id out of the raw tag map
func extractFingerprintID(raw map[string]interface{}) string {
	for _, key := range fingerprintTagKeys {
		for rawKey, rawVal := range raw {
			if !strings.EqualFold(rawKey, key) {
				continue
			}
			if s, ok := rawVal.(string); ok && s != "" {
				return s
			}
		}
	}
	return ""
}
