package util

import "golang.org/x/term"

// IsTerminal reports whether fd is attached to a terminal. Color output
// is keyed off stderr, progress bars off stdout.
func IsTerminal(fd uintptr) bool {
	return term.IsTerminal(int(fd))
}
