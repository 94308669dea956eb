// Package connlog is the shared timestamped logger for the state
// machines in this module (pkg/connection, pkg/player, pkg/uploader):
// messages are timestamped and pushed onto a bounded channel a TUI or
// CLI can drain, with no blocking on a full channel.
package connlog

import (
	"fmt"
	"time"
)

// Logger timestamps and buffers log lines for later draining. The
// zero value is not usable; construct with New.
type Logger struct {
	ch chan string
}

// New builds a Logger with room for capacity buffered lines. A nil
// *Logger is valid and every method on it is a no-op, so callers can
// pass nil when logging isn't wanted.
func New(capacity int) *Logger {
	return &Logger{ch: make(chan string, capacity)}
}

// Lines returns the channel log lines are pushed onto.
func (l *Logger) Lines() <-chan string {
	if l == nil {
		return nil
	}
	return l.ch
}

// Logf formats and timestamps a line, dropping it if the channel is
// full rather than blocking the caller's state machine.
func (l *Logger) Logf(format string, args ...any) {
	if l == nil {
		return
	}
	msg := fmt.Sprintf("[%s] %s", time.Now().Format("15:04:05.000"), fmt.Sprintf(format, args...))
	select {
	case l.ch <- msg:
	default:
	}
}
