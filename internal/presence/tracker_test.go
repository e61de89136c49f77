// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package presence

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parley-chat/parley/internal/wire"
)

// noticeSink records OnNotice callbacks safely across goroutines (the dwell
// timer fires on its own goroutine).
type noticeSink struct {
	mu      sync.Mutex
	notices []string
}

func (s *noticeSink) record(text string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.notices = append(s.notices, text)
}

func (s *noticeSink) all() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.notices))
	copy(out, s.notices)
	return out
}

func online(sender, content string) wire.Notification {
	return wire.Notification{Type: wire.NotificationOnline, Sender: sender, Content: content}
}

func offline(sender string) wire.Notification {
	return wire.Notification{Type: wire.NotificationOffline, Sender: sender, Content: "is offline."}
}

func TestTracker_OnlineAddsAndNotifies(t *testing.T) {
	sink := &noticeSink{}
	refreshed := 0
	tr := NewTracker("alice", Options{
		OnNotice: sink.record,
		Refresh:  func() { refreshed++ },
	})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))

	assert.True(t, tr.IsOnline("bob"))
	assert.Equal(t, []string{"bob"}, tr.Online())
	assert.Equal(t, "bob is online", tr.Notice())
	assert.Equal(t, []string{"bob is online"}, sink.all())
	assert.Equal(t, 1, refreshed, "ONLINE triggers a reconciling refresh")
}

func TestTracker_OnlineThenOffline(t *testing.T) {
	tr := NewTracker("alice", Options{})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))
	tr.Apply(offline("bob"))

	assert.False(t, tr.IsOnline("bob"))
	assert.Empty(t, tr.Online())
}

func TestTracker_OfflineAbsentMemberIsNoop(t *testing.T) {
	tr := NewTracker("alice", Options{})
	defer tr.Stop()

	assert.NotPanics(t, func() { tr.Apply(offline("bob")) })
	assert.Empty(t, tr.Online())
}

func TestTracker_NeverContainsLocalUser(t *testing.T) {
	tr := NewTracker("alice", Options{})
	defer tr.Stop()

	tr.Apply(online("alice", "is online"))
	assert.Empty(t, tr.Online())

	tr.Reconcile([]string{"alice", "bob"})
	assert.Equal(t, []string{"bob"}, tr.Online())
}

func TestTracker_SelfNoticeSuppressed(t *testing.T) {
	sink := &noticeSink{}
	tr := NewTracker("alice", Options{OnNotice: sink.record})
	defer tr.Stop()

	tr.Apply(online("alice", "is online"))

	assert.Empty(t, tr.Notice())
	assert.Empty(t, sink.all(), "a notice naming the local user never surfaces")
}

func TestTracker_NoticeExpiresAfterDwell(t *testing.T) {
	sink := &noticeSink{}
	tr := NewTracker("alice", Options{Dwell: 20 * time.Millisecond, OnNotice: sink.record})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))
	require.Equal(t, "bob is online", tr.Notice())

	assert.Eventually(t, func() bool { return tr.Notice() == "" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bob is online", ""}, sink.all())
}

func TestTracker_SupersedingNoticeRestartsDwell(t *testing.T) {
	tr := NewTracker("alice", Options{Dwell: 60 * time.Millisecond})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))
	time.Sleep(40 * time.Millisecond)
	tr.Apply(online("carol", "is online"))

	// The first dwell would have elapsed by now; the superseding notice
	// restarted the timer.
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, "carol is online", tr.Notice())

	assert.Eventually(t, func() bool { return tr.Notice() == "" },
		time.Second, 5*time.Millisecond)
}

func TestTracker_MessageFromOpenPartnerSuppressed(t *testing.T) {
	sink := &noticeSink{}
	partner := "bob"
	tr := NewTracker("alice", Options{
		OnNotice:    sink.record,
		OpenPartner: func() string { return partner },
	})
	defer tr.Stop()

	tr.Apply(wire.Notification{
		Type: wire.NotificationMessage, Sender: "bob", Content: "sent you a message.",
	})
	assert.Empty(t, sink.all(), "no notice for the conversation already in view")

	tr.Apply(wire.Notification{
		Type: wire.NotificationMessage, Sender: "carol", Content: "sent you a message.",
	})
	assert.Equal(t, []string{"carol sent you a message."}, sink.all())
}

func TestTracker_PingRaisesPersistentAlert(t *testing.T) {
	sink := &noticeSink{}
	var alerts []string
	tr := NewTracker("alice", Options{
		Dwell:    10 * time.Millisecond,
		OnNotice: sink.record,
		OnAlert:  func(text string) { alerts = append(alerts, text) },
	})
	defer tr.Stop()

	tr.Apply(wire.Notification{Type: wire.NotificationPing, Sender: "bob", Content: "pinged you!"})

	assert.Equal(t, []string{"bob pinged you!"}, alerts)
	assert.Empty(t, sink.all(), "PING uses the alert surface, not the transient notice")
	assert.Empty(t, tr.Online(), "PING does not touch the presence set")

	// Alerts do not auto-dismiss.
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, []string{"bob pinged you!"}, alerts)
}

func TestTracker_ReconcileIsAuthoritative(t *testing.T) {
	tr := NewTracker("alice", Options{})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))
	tr.Apply(online("carol", "is online"))

	// Snapshot says only dave is online; advisory deltas are overruled.
	tr.Reconcile([]string{"dave"})
	assert.Equal(t, []string{"dave"}, tr.Online())
}

func TestTracker_ScenarioOnlineNoticeClears(t *testing.T) {
	// activate(user="alice"), receive ONLINE{sender:"bob"} -> presence {bob},
	// notice "bob is online"; after the dwell elapses the notice clears.
	tr := NewTracker("alice", Options{Dwell: 25 * time.Millisecond})
	defer tr.Stop()

	tr.Apply(online("bob", "is online"))
	assert.Equal(t, []string{"bob"}, tr.Online())
	assert.Equal(t, "bob is online", tr.Notice())

	assert.Eventually(t, func() bool { return tr.Notice() == "" },
		time.Second, 5*time.Millisecond)
	assert.Equal(t, []string{"bob"}, tr.Online(), "presence outlives the notice")
}
