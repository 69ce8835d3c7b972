package report

import (
	"bufio"
	"encoding/json"
	"os"
	"testing"
)

func TestEventLoggerWritesJSONL(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelInfo)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogResolve("d-0123456789abcdef", "RESOLVED_AUTO", "musicbrainz", "rel-1", 0.91, "")
	logger.LogApply("d-0123456789abcdef", "/in/a.flac", "/out/01 - A.flac", "move", "")
	if err := logger.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}

	f, err := os.Open(logger.Path())
	if err != nil {
		t.Fatalf("open log failed: %v", err)
	}
	defer f.Close()

	lines := 0
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var ev Event
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line %d is not valid JSON: %v", lines+1, err)
		}
		if ev.Timestamp.IsZero() {
			t.Errorf("line %d has no timestamp", lines+1)
		}
		lines++
	}
	if lines != 2 {
		t.Errorf("expected 2 events, got %d", lines)
	}
}

func TestEventLoggerLevelFilter(t *testing.T) {
	logger, err := NewEventLogger(t.TempDir(), LevelError)
	if err != nil {
		t.Fatalf("NewEventLogger failed: %v", err)
	}

	logger.LogResolve("d-0123456789abcdef", "RESOLVED_AUTO", "musicbrainz", "rel-1", 0.91, "")
	logger.Close()

	data, err := os.ReadFile(logger.Path())
	if err != nil {
		t.Fatalf("read log failed: %v", err)
	}
	if len(data) != 0 {
		t.Errorf("info event survived error-level filter: %s", data)
	}
}

func TestNullLoggerIsSafe(t *testing.T) {
	logger := NullLogger()
	logger.LogResolve("d-0123456789abcdef", "JAILED", "", "", 0, "no candidates")
	logger.LogRollback("d-0123456789abcdef", "/out/a.flac", "/in/a.flac", "")
	if err := logger.Close(); err != nil {
		t.Errorf("Close on null logger: %v", err)
	}
	if logger.Path() != "" {
		t.Errorf("null logger has a path: %s", logger.Path())
	}
}
