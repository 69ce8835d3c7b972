// Package tags is the tag-codec boundary. The binary formats (ID3, Vorbis
// comments, MP4 atoms) stay behind the Writer interface; reading goes
// through dhowden/tag and writing shells out to ffmpeg, the same way the
// files were tagged in the first place.
package tags

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ApplyResult reports which tags a patch actually changed
type ApplyResult struct {
	TagsSet     []string
	TagsSkipped []string
}

// Writer reads and writes audio metadata tags
type Writer interface {
	// ReadTags returns the file's current tags as a flat key/value map
	ReadTags(path string) (map[string]string, error)

	// ApplyPatch sets tags, skipping keys that already have a value unless
	// allowOverwrite is set
	ApplyPatch(path string, set map[string]string, allowOverwrite bool) (*ApplyResult, error)

	// WriteTagsExact replaces the file's tags with exactly the given set
	WriteTagsExact(path string, tags map[string]string) error
}

// CanWriteTags reports whether the file format supports tag writing
func CanWriteTags(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))

	supported := map[string]bool{
		".mp3":  true,
		".m4a":  true,
		".flac": true,
		".ogg":  true,
		".opus": true,
		".wma":  true,
		".wav":  true,
		".aiff": true,
	}
	return supported[ext]
}

// IsAudioFile reports whether the file looks like an audio track
func IsAudioFile(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	audio := map[string]bool{
		".mp3": true, ".m4a": true, ".flac": true, ".ogg": true,
		".opus": true, ".wma": true, ".wav": true, ".aiff": true,
		".ape": true, ".wv": true,
	}
	return audio[ext]
}

// MemWriter is an in-memory Writer for tests. It tracks tag state per path
// and can be primed to fail, which the applier's rollback tests rely on.
type MemWriter struct {
	Files     map[string]map[string]string
	FailPaths map[string]bool // ApplyPatch/WriteTagsExact fail for these paths
}

// NewMemWriter creates an empty in-memory tag writer
func NewMemWriter() *MemWriter {
	return &MemWriter{
		Files:     make(map[string]map[string]string),
		FailPaths: make(map[string]bool),
	}
}

func (m *MemWriter) ReadTags(path string) (map[string]string, error) {
	existing, ok := m.Files[path]
	if !ok {
		if _, err := os.Stat(path); err != nil {
			return nil, fmt.Errorf("failed to read tags: %w", err)
		}
		return map[string]string{}, nil
	}
	out := make(map[string]string, len(existing))
	for k, v := range existing {
		out[k] = v
	}
	return out, nil
}

func (m *MemWriter) ApplyPatch(path string, set map[string]string, allowOverwrite bool) (*ApplyResult, error) {
	if m.FailPaths[path] {
		return nil, fmt.Errorf("simulated tag write failure for %s", path)
	}

	existing, ok := m.Files[path]
	if !ok {
		existing = make(map[string]string)
		m.Files[path] = existing
	}

	result := &ApplyResult{}
	for k, v := range set {
		if _, has := existing[k]; has && !allowOverwrite {
			result.TagsSkipped = append(result.TagsSkipped, k)
			continue
		}
		existing[k] = v
		result.TagsSet = append(result.TagsSet, k)
	}
	return result, nil
}

func (m *MemWriter) WriteTagsExact(path string, tags map[string]string) error {
	if m.FailPaths[path] {
		return fmt.Errorf("simulated tag write failure for %s", path)
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	m.Files[path] = out
	return nil
}
