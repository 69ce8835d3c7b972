// Package canon is the display-name canonicalization boundary consumed by
// the planner. The canonicalization algorithm itself is an external
// capability; the default implementation here only normalizes Unicode form
// and strips characters that cannot appear in path components.
package canon

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// Category of a display name being canonicalized
type Category string

const (
	CategoryArtist    Category = "artist"
	CategoryAlbum     Category = "album"
	CategoryComposer  Category = "composer"
	CategoryPerformer Category = "performer"
	CategoryTitle     Category = "title"
)

// Canonicalizer maps raw provider names to display names used in paths.
// Implementations must be pure: same input, same output.
type Canonicalizer interface {
	CanonicalizeDisplay(raw string, category Category) string
}

// Default is the built-in canonicalizer: NFC normalization followed by
// filesystem sanitization.
type Default struct{}

// CanonicalizeDisplay implements Canonicalizer
func (Default) CanonicalizeDisplay(raw string, category Category) string {
	return SanitizePathComponent(norm.NFC.String(raw))
}

// SanitizePathComponent removes characters that are illegal or troublesome
// in path components. Ampersands are preserved (artists like "&ME"); other
// punctuation that breaks sorting or portability becomes an underscore.
func SanitizePathComponent(s string) string {
	if s == "" {
		return ""
	}

	illegal := []string{"/", "\\", ":", "*", "?", "\"", "<", ">", "|"}
	for _, char := range illegal {
		s = strings.ReplaceAll(s, char, "_")
	}

	s = strings.ReplaceAll(s, "!", "_")
	s = strings.ReplaceAll(s, "#", "_")
	s = strings.ReplaceAll(s, "@", "_")

	for strings.Contains(s, "__") {
		s = strings.ReplaceAll(s, "__", "_")
	}

	s = strings.TrimLeft(s, "_")
	s = strings.TrimSpace(s)
	s = strings.Trim(s, ".")
	s = strings.TrimRight(s, "_")

	if s == "" {
		return "Unknown"
	}

	// Filesystem component length limit
	if len(s) > 200 {
		s = s[:200]
		s = strings.TrimRight(s, " _.")
	}

	return s
}
