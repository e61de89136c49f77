// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package presence maintains the online-contact set and turns routed
// notifications into UI-facing notices and alerts.
package presence

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/parley-chat/parley/internal/wire"
)

// DefaultDwell is how long a transient notice stays visible.
const DefaultDwell = 5 * time.Second

// Options configures a Tracker. All callbacks are optional.
type Options struct {
	// Dwell overrides DefaultDwell when positive.
	Dwell time.Duration

	// OnNotice receives transient notice text; it is called with "" when
	// the dwell elapses and the notice clears.
	OnNotice func(text string)

	// OnAlert receives persistent alert text (PING). Alerts do not
	// auto-dismiss.
	OnAlert func(text string)

	// OpenPartner reports the currently open conversation partner, or "".
	// MESSAGE notices from the open partner are suppressed.
	OpenPartner func() string

	// Refresh triggers a reconciling fetch of the authoritative presence
	// snapshot. Called after an ONLINE event, which is only an early
	// signal that may race with REST-fetched state.
	Refresh func()
}

// Tracker is the presence and notification state machine for one local user.
// The PresenceSet it maintains never contains the local user, and push
// events are treated as advisory deltas: Reconcile with a directory snapshot
// is the authority of record.
type Tracker struct {
	localUser string
	opts      Options

	mu        sync.Mutex
	online    map[string]struct{}
	notice    string
	noticeGen uint64
	timer     *time.Timer
}

// NewTracker creates a tracker for the local user.
func NewTracker(localUser string, opts Options) *Tracker {
	if opts.Dwell <= 0 {
		opts.Dwell = DefaultDwell
	}
	return &Tracker{
		localUser: localUser,
		opts:      opts,
		online:    make(map[string]struct{}),
	}
}

// Apply consumes one routed notification. Dispatch is exhaustive over the
// closed notification type set.
func (t *Tracker) Apply(n wire.Notification) {
	switch n.Type {
	case wire.NotificationOnline:
		t.setOnline(n.Sender, true)
		t.setNotice(n.Sender + " " + n.Content)
		if t.opts.Refresh != nil {
			// The event is only an early signal; the directory snapshot
			// is authoritative.
			t.opts.Refresh()
		}

	case wire.NotificationOffline:
		t.setOnline(n.Sender, false)
		t.setNotice(n.Sender + " is offline.")

	case wire.NotificationMessage:
		// The message body arrives over the message channel; this is a
		// notice-only signal, pointless for a conversation already in view.
		if t.opts.OpenPartner != nil && t.opts.OpenPartner() == n.Sender {
			return
		}
		t.setNotice(n.Sender + " " + n.Content)

	case wire.NotificationPing:
		t.alert(n.Sender + " " + n.Content)

	default:
		slog.Warn("ignoring notification of unknown type",
			"type", n.Type.String(),
			"sender", n.Sender,
		)
	}
}

// setOnline applies an advisory presence delta.
func (t *Tracker) setOnline(user string, online bool) {
	if user == t.localUser {
		// PresenceSet never contains the local user.
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if online {
		t.online[user] = struct{}{}
	} else {
		delete(t.online, user)
	}
}

// Reconcile replaces the presence set wholesale with the authoritative
// directory snapshot.
func (t *Tracker) Reconcile(active []string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.online = make(map[string]struct{}, len(active))
	for _, user := range active {
		if user == t.localUser {
			continue
		}
		t.online[user] = struct{}{}
	}
}

// IsOnline reports whether a contact is currently believed online.
func (t *Tracker) IsOnline(user string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.online[user]
	return ok
}

// Online returns the sorted set of online contacts.
func (t *Tracker) Online() []string {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]string, 0, len(t.online))
	for user := range t.online {
		out = append(out, user)
	}
	sort.Strings(out)
	return out
}

// Notice returns the currently visible transient notice, or "".
func (t *Tracker) Notice() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.notice
}

// suppressed guards against echoes of the local user's own broadcasts: a
// notice naming the local user never surfaces.
func (t *Tracker) suppressed(text string) bool {
	return strings.Contains(text, t.localUser)
}

// setNotice shows a transient notice and (re)starts the dwell timer. A
// superseding notice restarts the timer; at most one notice is visible.
func (t *Tracker) setNotice(text string) {
	if t.suppressed(text) {
		slog.Debug("suppressing self-referential notice", "text", text)
		return
	}

	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
	}
	t.notice = text
	t.noticeGen++
	gen := t.noticeGen
	t.timer = time.AfterFunc(t.opts.Dwell, func() { t.expire(gen) })
	onNotice := t.opts.OnNotice
	t.mu.Unlock()

	if onNotice != nil {
		onNotice(text)
	}
}

// expire clears the notice set under the given generation. A timer that lost
// the race to a superseding notice finds a newer generation and does nothing.
func (t *Tracker) expire(gen uint64) {
	t.mu.Lock()
	if gen != t.noticeGen || t.notice == "" {
		t.mu.Unlock()
		return
	}
	t.notice = ""
	onNotice := t.opts.OnNotice
	t.mu.Unlock()

	if onNotice != nil {
		onNotice("")
	}
}

// alert surfaces a persistent alert. Self-suppression applies here too.
func (t *Tracker) alert(text string) {
	if t.suppressed(text) {
		slog.Debug("suppressing self-referential alert", "text", text)
		return
	}
	if t.opts.OnAlert != nil {
		t.opts.OnAlert(text)
	}
}

// Stop cancels the pending dwell timer, if any.
func (t *Tracker) Stop() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.noticeGen++
}
