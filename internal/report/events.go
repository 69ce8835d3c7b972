// Package report writes a JSONL audit trail of resolve decisions, plan
// emissions and apply operations under artifacts/.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// EventType identifies the pipeline stage an event came from
type EventType string

const (
	EventResolve  EventType = "resolve"
	EventPlan     EventType = "plan"
	EventApply    EventType = "apply"
	EventRollback EventType = "rollback"
	EventError    EventType = "error"
)

// EventLevel represents the severity level
type EventLevel string

const (
	LevelDebug   EventLevel = "debug"
	LevelInfo    EventLevel = "info"
	LevelWarning EventLevel = "warning"
	LevelError   EventLevel = "error"
)

var levelPriority = map[EventLevel]int{
	LevelDebug:   0,
	LevelInfo:    1,
	LevelWarning: 2,
	LevelError:   3,
}

// Event is one audit record
type Event struct {
	Timestamp time.Time  `json:"ts"`
	Level     EventLevel `json:"level"`
	Event     EventType  `json:"event"`
	DirID     string     `json:"dir_id,omitempty"`
	SrcPath   string     `json:"src_path,omitempty"`
	DestPath  string     `json:"dest_path,omitempty"`
	Provider  string     `json:"provider,omitempty"`
	ReleaseID string     `json:"release_id,omitempty"`
	Outcome   string     `json:"outcome,omitempty"`
	Action    string     `json:"action,omitempty"`
	Score     float64    `json:"score,omitempty"`
	Reason    string     `json:"reason,omitempty"`
	Error     string     `json:"error,omitempty"`
}

// EventLogger writes events to a timestamped JSONL file
type EventLogger struct {
	file     *os.File
	encoder  *json.Encoder
	mu       sync.Mutex
	path     string
	minLevel EventLevel
}

// NewEventLogger creates an event logger writing under outputDir
func NewEventLogger(outputDir string, minLevel EventLevel) (*EventLogger, error) {
	if err := os.MkdirAll(outputDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create output directory: %w", err)
	}

	timestamp := time.Now().Format("20060102-150405")
	path := filepath.Join(outputDir, fmt.Sprintf("events-%s.jsonl", timestamp))

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("failed to create event log: %w", err)
	}

	return &EventLogger{
		file:     file,
		encoder:  json.NewEncoder(file),
		path:     path,
		minLevel: minLevel,
	}, nil
}

// NullLogger returns a logger that drops everything
func NullLogger() *EventLogger {
	return &EventLogger{}
}

// Path returns the log file path, or "" for the null logger
func (l *EventLogger) Path() string {
	if l == nil {
		return ""
	}
	return l.path
}

// Close flushes and closes the log file
func (l *EventLogger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Log writes an event, dropping anything below the minimum level
func (l *EventLogger) Log(event *Event) error {
	if l == nil || l.file == nil {
		return nil
	}
	if levelPriority[event.Level] < levelPriority[l.minLevel] {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if event.Timestamp.IsZero() {
		event.Timestamp = time.Now()
	}
	if err := l.encoder.Encode(event); err != nil {
		return fmt.Errorf("failed to encode event: %w", err)
	}
	return nil
}

// LogResolve records a resolution decision
func (l *EventLogger) LogResolve(dirID, outcome, providerName, releaseID string, score float64, reason string) {
	l.Log(&Event{
		Level: LevelInfo, Event: EventResolve,
		DirID: dirID, Outcome: outcome,
		Provider: providerName, ReleaseID: releaseID,
		Score: score, Reason: reason,
	})
}

// LogPlan records a plan emission
func (l *EventLogger) LogPlan(dirID, srcPath, destPath, providerName, releaseID string) {
	l.Log(&Event{
		Level: LevelInfo, Event: EventPlan,
		DirID: dirID, SrcPath: srcPath, DestPath: destPath,
		Provider: providerName, ReleaseID: releaseID,
	})
}

// LogApply records one apply file operation
func (l *EventLogger) LogApply(dirID, srcPath, destPath, action, errStr string) {
	level := LevelInfo
	eventType := EventApply
	if errStr != "" {
		level = LevelError
	}
	l.Log(&Event{
		Level: level, Event: eventType,
		DirID: dirID, SrcPath: srcPath, DestPath: destPath,
		Action: action, Error: errStr,
	})
}

// LogRollback records a rollback step
func (l *EventLogger) LogRollback(dirID, destPath, srcPath, errStr string) {
	level := LevelWarning
	if errStr != "" {
		level = LevelError
	}
	l.Log(&Event{
		Level: level, Event: EventRollback,
		DirID: dirID, SrcPath: srcPath, DestPath: destPath, Error: errStr,
	})
}
