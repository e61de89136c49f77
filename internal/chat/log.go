// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package chat

import (
	"sync"

	"github.com/parley-chat/parley/internal/wire"
)

// Log is the message log for the currently open conversation. Append is
// idempotent on Message.ID so an optimistic local append and a later broker
// echo of the same message land only once.
type Log struct {
	mu      sync.Mutex
	partner string
	msgs    []wire.Message
	seen    map[string]struct{}
}

// NewLog creates an empty log with no selected partner.
func NewLog() *Log {
	return &Log{seen: make(map[string]struct{})}
}

// Replace swaps in a fetched history for the given partner, discarding all
// prior state. No merge: the fetched history is the whole log.
func (l *Log) Replace(partner string, msgs []wire.Message) {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.partner = partner
	l.msgs = make([]wire.Message, len(msgs))
	copy(l.msgs, msgs)
	l.seen = make(map[string]struct{}, len(msgs))
	for _, m := range msgs {
		if m.ID != "" {
			l.seen[m.ID] = struct{}{}
		}
	}
}

// Append adds a message if it belongs to the open conversation and has not
// been appended before. Messages for other partners are not buffered.
// Returns true when the message was added.
func (l *Log) Append(m wire.Message) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.partner == "" {
		return false
	}
	if m.Sender != l.partner && m.Recipient != l.partner {
		return false
	}
	if m.ID != "" {
		if _, dup := l.seen[m.ID]; dup {
			return false
		}
		l.seen[m.ID] = struct{}{}
	}
	l.msgs = append(l.msgs, m)
	return true
}

// Partner returns the currently selected conversation partner, or "".
func (l *Log) Partner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.partner
}

// Messages returns a copy of the log.
func (l *Log) Messages() []wire.Message {
	l.mu.Lock()
	defer l.mu.Unlock()

	out := make([]wire.Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// Clear drops the partner selection and all messages.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.partner = ""
	l.msgs = nil
	l.seen = make(map[string]struct{})
}
