// Package sink holds the read side the presentation layer consumes: the ordered message log
// of the current pairing and the single-slot notification banner.
package sink

import (
	"sync"

	"github.com/NicolasHaas/randchat/pkg/model"
)

// Log is an append-only message log. Clear empties it atomically with respect to readers.
type Log struct {
	mu   sync.RWMutex
	msgs []model.Message
}

// NewLog creates an empty log.
func NewLog() *Log {
	return &Log{}
}

// Append adds m at the end. Receipt order is preserved; nothing is reordered.
func (l *Log) Append(m model.Message) {
	l.mu.Lock()
	l.msgs = append(l.msgs, m)
	l.mu.Unlock()
}

// Clear drops every message.
func (l *Log) Clear() {
	l.mu.Lock()
	l.msgs = nil
	l.mu.Unlock()
}

// Len returns the number of messages.
func (l *Log) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.msgs)
}

// Snapshot returns a copy of the log.
func (l *Log) Snapshot() []model.Message {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}
