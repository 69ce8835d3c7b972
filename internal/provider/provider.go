// Package provider defines the metadata provider contract and the versioned
// cache that makes resolution deterministic and replayable offline.
package provider

import "context"

// Client is the metadata provider contract consumed by the resolver.
// Implementations may block on the network; the cached client in this
// package is the only thing the engine talks to directly.
type Client interface {
	// SearchByFingerprints looks up candidate releases by acoustic
	// fingerprint ids
	SearchByFingerprints(ctx context.Context, fingerprintIDs []string) ([]Release, error)

	// SearchByMetadata looks up candidate releases by artist/album text and
	// track count. Artist and album may be empty.
	SearchByMetadata(ctx context.Context, artist, album string, trackCount int) ([]Release, error)

	// Name identifies the provider (e.g. "musicbrainz")
	Name() string

	// Version identifies the client implementation; bumping it invalidates
	// prior cache entries
	Version() string
}

// Release is a candidate release returned by a provider
type Release struct {
	Provider    string         `json:"provider"`
	ID          string         `json:"id"`
	Title       string         `json:"title"`
	Artist      string         `json:"artist"`
	Year        string         `json:"year,omitempty"`
	IsClassical bool           `json:"is_classical,omitempty"`
	Composer    string         `json:"composer,omitempty"`
	Performer   string         `json:"performer,omitempty"`
	Tracks      []ReleaseTrack `json:"tracks"`
}

// ReleaseTrack is one track of a candidate release
type ReleaseTrack struct {
	Disc          int    `json:"disc"`
	Position      int    `json:"position"`
	Title         string `json:"title"`
	RecordingID   string `json:"recording_id,omitempty"`
	FingerprintID string `json:"fingerprint_id,omitempty"`
	DurationMS    int    `json:"duration_ms,omitempty"`
}
