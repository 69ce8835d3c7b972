package tags

import (
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/dhowden/tag"

	"github.com/franz/music-curator/internal/util"
)

// FFmpegWriter is the production Writer: dhowden/tag for reads, ffmpeg
// stream-copy for writes.
type FFmpegWriter struct{}

// NewFFmpegWriter creates the ffmpeg-backed writer
func NewFFmpegWriter() *FFmpegWriter {
	return &FFmpegWriter{}
}

// ValidateFFmpeg checks that ffmpeg is available
func ValidateFFmpeg() error {
	cmd := exec.Command("ffmpeg", "-version")
	if err := cmd.Run(); err != nil {
		return fmt.Errorf("ffmpeg not found or not executable: %w", err)
	}
	return nil
}

// ReadTags returns the file's current tags as a flat key/value map
func (w *FFmpegWriter) ReadTags(path string) (map[string]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	m, err := tag.ReadFrom(f)
	if err != nil {
		return nil, fmt.Errorf("failed to read tags from %s: %w", path, err)
	}

	out := map[string]string{
		"title":       m.Title(),
		"artist":      m.Artist(),
		"album":       m.Album(),
		"albumartist": m.AlbumArtist(),
		"composer":    m.Composer(),
		"genre":       m.Genre(),
	}
	if y := m.Year(); y > 0 {
		out["date"] = fmt.Sprintf("%d", y)
	}
	if track, _ := m.Track(); track > 0 {
		out["tracknumber"] = fmt.Sprintf("%d", track)
	}
	if disc, _ := m.Disc(); disc > 0 {
		out["discnumber"] = fmt.Sprintf("%d", disc)
	}
	for k, v := range out {
		if v == "" {
			delete(out, k)
		}
	}
	return out, nil
}

// ApplyPatch sets tags, preserving existing values unless allowOverwrite
func (w *FFmpegWriter) ApplyPatch(path string, set map[string]string, allowOverwrite bool) (*ApplyResult, error) {
	existing, err := w.ReadTags(path)
	if err != nil {
		return nil, err
	}

	result := &ApplyResult{}
	toWrite := make(map[string]string)
	for k, v := range set {
		if _, has := existing[k]; has && !allowOverwrite {
			result.TagsSkipped = append(result.TagsSkipped, k)
			continue
		}
		toWrite[k] = v
		result.TagsSet = append(result.TagsSet, k)
	}
	sort.Strings(result.TagsSet)
	sort.Strings(result.TagsSkipped)

	if len(toWrite) == 0 {
		return result, nil
	}
	if err := w.writeWithFFmpeg(path, toWrite); err != nil {
		return nil, err
	}
	return result, nil
}

// WriteTagsExact replaces the file's tags with exactly the given set
func (w *FFmpegWriter) WriteTagsExact(path string, tags map[string]string) error {
	return w.writeWithFFmpeg(path, tags)
}

// writeWithFFmpeg rewrites the file in place via a stream-copied temp file
func (w *FFmpegWriter) writeWithFFmpeg(path string, set map[string]string) error {
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("file does not exist: %w", err)
	}
	if !CanWriteTags(path) {
		return fmt.Errorf("unsupported format for tag writing: %s", path)
	}

	tempPath := path + ".tagged"

	args := []string{"-i", path}
	keys := make([]string, 0, len(set))
	for k := range set {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		args = append(args, "-metadata", fmt.Sprintf("%s=%s", k, set[k]))
	}
	args = append(args,
		"-c", "copy", // copy streams, never re-encode
		"-y",
		tempPath,
	)

	cmd := exec.Command("ffmpeg", args...)
	output, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("ffmpeg failed: %w (output: %s)", err, truncateOutput(string(output)))
	}

	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to replace tagged file: %w", err)
	}

	util.DebugLog("Wrote %d tags to %s", len(set), path)
	return nil
}

func truncateOutput(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 400 {
		return s[len(s)-400:]
	}
	return s
}
