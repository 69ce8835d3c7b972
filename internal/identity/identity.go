// Package identity computes content-derived directory identities.
//
// A directory's identity is derived from its audio content only: the sorted
// set of per-track fingerprint ids and file sizes. Renaming the directory,
// moving it, or editing display tags does not change the identity; changing
// the audio content does.
package identity

import (
	"crypto/sha256"
	"fmt"
	"sort"
)

// SignatureVersion changes whenever the signature input format changes.
// A version bump invalidates every prior directory decision.
const SignatureVersion = 1

// TrackEvidence is the per-track input to identity hashing and resolution
type TrackEvidence struct {
	FingerprintID string // Acoustic fingerprint id (may be empty)
	SizeBytes     int64
	DurationMS    int
	Path          string // Informational only, never hashed

	// Existing tag values, used as resolution fallback evidence
	TagArtist string
	TagAlbum  string
	TagTitle  string
	TagTrack  int
}

// ComputeSignature returns the stable (dirID, signatureHash) pair for a set of
// tracks. Both are derived from the same SHA-256 digest over the sorted
// (fingerprint_id, size) pairs; paths and display tags are excluded.
func ComputeSignature(tracks []TrackEvidence) (dirID string, signatureHash string) {
	keys := make([]string, 0, len(tracks))
	for _, t := range tracks {
		keys = append(keys, fmt.Sprintf("%s:%d", t.FingerprintID, t.SizeBytes))
	}
	sort.Strings(keys)

	h := sha256.New()
	fmt.Fprintf(h, "v%d\n", SignatureVersion)
	for _, k := range keys {
		fmt.Fprintf(h, "%s\n", k)
	}
	digest := fmt.Sprintf("%x", h.Sum(nil))

	return "d-" + digest[:16], digest
}
