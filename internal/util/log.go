package util

import (
	"fmt"
	"os"
	"time"
)

// LogLevel is the severity floor for stderr output
type LogLevel int

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

var (
	minLevel  = LevelInfo
	useColors = true
)

// SetVerbose lowers the floor to debug
func SetVerbose(verbose bool) {
	if verbose {
		minLevel = LevelDebug
	}
}

// SetQuiet raises the floor to errors only
func SetQuiet(quiet bool) {
	if quiet {
		minLevel = LevelError
	}
}

// SetColors enables or disables ANSI colors on stderr
func SetColors(enabled bool) {
	useColors = enabled
}

func emit(level LogLevel, color, tag, format string, args ...any) {
	if level < minLevel {
		return
	}
	stamp := time.Now().Format("15:04:05")
	if useColors {
		stamp = color + stamp + "\033[0m"
	}
	fmt.Fprintf(os.Stderr, "%s %s %s\n", stamp, tag, fmt.Sprintf(format, args...))
}

// DebugLog logs debug messages
func DebugLog(format string, args ...any) {
	emit(LevelDebug, "\033[90m", "[DEBUG]", format, args...)
}

// InfoLog logs informational messages
func InfoLog(format string, args ...any) {
	emit(LevelInfo, "\033[36m", "[INFO] ", format, args...)
}

// WarnLog logs warning messages
func WarnLog(format string, args ...any) {
	emit(LevelWarn, "\033[33m", "[WARN] ", format, args...)
}

// ErrorLog logs error messages
func ErrorLog(format string, args ...any) {
	emit(LevelError, "\033[31m", "[ERROR]", format, args...)
}

// SuccessLog logs completed-operation messages, suppressed in quiet mode
func SuccessLog(format string, args ...any) {
	emit(LevelInfo, "\033[32m", "[OK]   ", format, args...)
}
