// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package session

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/parley-chat/parley/internal/stomp"
	"github.com/parley-chat/parley/internal/wire"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		// httptest keeps idle connections around briefly after Close.
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

// testBroker is an in-process STOMP-over-WebSocket broker good enough for
// exercising the client side of the protocol.
type testBroker struct {
	t   *testing.T
	srv *httptest.Server

	rejectConnect bool

	mu   sync.Mutex
	conn *websocket.Conn

	subscribes chan *stomp.Frame
	sends      chan *stomp.Frame
}

func newTestBroker(t *testing.T) *testBroker {
	t.Helper()
	b := &testBroker{
		t:          t,
		subscribes: make(chan *stomp.Frame, 16),
		sends:      make(chan *stomp.Frame, 16),
	}
	upgrader := websocket.Upgrader{}
	b.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		b.mu.Lock()
		b.conn = conn
		b.mu.Unlock()
		b.serve(conn)
	}))
	t.Cleanup(b.close)
	return b
}

func (b *testBroker) close() {
	b.mu.Lock()
	if b.conn != nil {
		_ = b.conn.Close()
	}
	b.mu.Unlock()
	b.srv.Close()
}

func (b *testBroker) url() string {
	return "ws" + strings.TrimPrefix(b.srv.URL, "http")
}

func (b *testBroker) serve(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		frame, err := stomp.Parse(data)
		if err != nil || frame == nil {
			continue
		}
		switch frame.Command {
		case stomp.CmdConnect:
			reply := &stomp.Frame{Command: stomp.CmdConnected, Headers: map[string]string{"version": "1.2"}}
			if b.rejectConnect {
				reply = &stomp.Frame{Command: stomp.CmdError, Headers: map[string]string{stomp.HdrMessage: "not today"}}
			}
			_ = conn.WriteMessage(websocket.TextMessage, reply.Marshal())
		case stomp.CmdSubscribe:
			b.subscribes <- frame
		case stomp.CmdSend:
			b.sends <- frame
		case stomp.CmdDisconnect:
			_ = conn.Close()
			return
		}
	}
}

// push delivers a MESSAGE frame for the given subscription id.
func (b *testBroker) push(subID, destination string, body []byte) {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	require.NotNil(b.t, conn, "no client connected")

	frame := &stomp.Frame{
		Command: stomp.CmdMessage,
		Headers: map[string]string{
			stomp.HdrSubscription: subID,
			stomp.HdrDestination:  destination,
		},
		Body: body,
	}
	require.NoError(b.t, conn.WriteMessage(websocket.TextMessage, frame.Marshal()))
}

func waitSubscribes(t *testing.T, b *testBroker, n int) map[string]string {
	t.Helper()
	subs := make(map[string]string, n)
	for range n {
		select {
		case f := <-b.subscribes:
			subs[f.Header(stomp.HdrID)] = f.Header(stomp.HdrDestination)
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d SUBSCRIBE frames, got %d", n, len(subs))
		}
	}
	return subs
}

func TestManager_ActivateRegistersSubscriptions(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())
	defer m.Deactivate()

	m.Activate(context.Background(), "alice", Handlers{})

	subs := waitSubscribes(t, b, 3)
	assert.Equal(t, map[string]string{
		"sub-0": "/user/alice/messages",
		"sub-1": "/user/alice/notifications",
		"sub-2": "/public/notifications",
	}, subs)

	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, StateConnected, m.State())
	assert.Equal(t, "alice", m.User())
}

func TestManager_RoutesInboundFrames(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())
	defer m.Deactivate()

	messages := make(chan wire.Message, 1)
	notifications := make(chan wire.Notification, 1)
	m.Activate(context.Background(), "alice", Handlers{
		OnMessage:      func(msg wire.Message) { messages <- msg },
		OnNotification: func(n wire.Notification) { notifications <- n },
	})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	b.push("sub-0", "/user/alice/messages",
		[]byte(`{"sender":"bob","recipient":"alice","content":"hi"}`))
	select {
	case msg := <-messages:
		assert.Equal(t, "bob", msg.Sender)
		assert.Equal(t, "hi", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}

	b.push("sub-2", "/public/notifications",
		[]byte(`{"type":"ONLINE","sender":"bob","content":"is online"}`))
	select {
	case n := <-notifications:
		assert.Equal(t, wire.NotificationOnline, n.Type)
		assert.Equal(t, "bob", n.Sender)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for notification")
	}
}

func TestManager_MalformedFrameDoesNotKillSubscription(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())
	defer m.Deactivate()

	messages := make(chan wire.Message, 1)
	errs := make(chan error, 1)
	m.Activate(context.Background(), "alice", Handlers{
		OnMessage: func(msg wire.Message) { messages <- msg },
		OnError:   func(err error) { errs <- err },
	})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	b.push("sub-0", "/user/alice/messages", []byte(`{garbage`))
	select {
	case <-errs:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for deserialization error")
	}

	b.push("sub-0", "/user/alice/messages",
		[]byte(`{"sender":"bob","recipient":"alice","content":"still alive"}`))
	select {
	case msg := <-messages:
		assert.Equal(t, "still alive", msg.Content)
	case <-time.After(2 * time.Second):
		t.Fatal("subscription died after a malformed frame")
	}
}

func TestManager_Publish(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())
	defer m.Deactivate()

	m.Activate(context.Background(), "alice", Handlers{})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, m.Publish(wire.ChatDestination, []byte(`{"content":"hi"}`)))

	select {
	case f := <-b.sends:
		assert.Equal(t, wire.ChatDestination, f.Header(stomp.HdrDestination))
		assert.Equal(t, `{"content":"hi"}`, string(f.Body))
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for SEND frame")
	}
}

func TestManager_PublishWhileDisconnected(t *testing.T) {
	m := NewManager("ws://localhost:1/ws")
	err := m.Publish(wire.ChatDestination, []byte(`{}`))
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestManager_DialFailureSurfacesAsync(t *testing.T) {
	// Nothing listens here; the dial fails asynchronously via OnError.
	m := NewManager("ws://127.0.0.1:1/ws")
	defer m.Deactivate()

	errs := make(chan error, 1)
	m.Activate(context.Background(), "alice", Handlers{
		OnError: func(err error) { errs <- err },
	})

	select {
	case err := <-errs:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("dial failure never surfaced")
	}
	assert.Equal(t, StateDisconnected, m.State())
}

func TestManager_BrokerRejectsConnect(t *testing.T) {
	b := newTestBroker(t)
	b.rejectConnect = true
	m := NewManager(b.url())
	defer m.Deactivate()

	errs := make(chan error, 1)
	m.Activate(context.Background(), "alice", Handlers{
		OnError: func(err error) { errs <- err },
	})

	select {
	case err := <-errs:
		assert.Contains(t, err.Error(), "broker rejected connect")
	case <-time.After(5 * time.Second):
		t.Fatal("rejection never surfaced")
	}
}

func TestManager_DeactivateIdempotent(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())

	// Deactivating with no session is a no-op, not an error.
	assert.NotPanics(t, m.Deactivate)

	m.Activate(context.Background(), "alice", Handlers{})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	m.Deactivate()
	assert.Equal(t, StateDisconnected, m.State())
	assert.NotPanics(t, m.Deactivate)
}

func TestManager_ActivateReplacesSession(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())
	defer m.Deactivate()

	m.Activate(context.Background(), "alice", Handlers{})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	// Concurrent activation replaces, never layers.
	m.Activate(context.Background(), "carol", Handlers{})
	subs := waitSubscribes(t, b, 3)
	assert.Equal(t, "/user/carol/messages", subs["sub-0"])

	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)
	assert.Equal(t, "carol", m.User())
}

func TestManager_NoHandlerCallsAfterDeactivate(t *testing.T) {
	b := newTestBroker(t)
	m := NewManager(b.url())

	var calls sync.Map
	m.Activate(context.Background(), "alice", Handlers{
		OnMessage: func(msg wire.Message) { calls.Store(msg.Content, true) },
		OnError:   func(error) {},
	})
	waitSubscribes(t, b, 3)
	require.Eventually(t, m.Connected, 2*time.Second, 10*time.Millisecond)

	m.Deactivate()

	// The socket is closed, so this write may fail; if it does get through,
	// the stale generation must drop it before the handler.
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn != nil {
		frame := &stomp.Frame{
			Command: stomp.CmdMessage,
			Headers: map[string]string{stomp.HdrSubscription: "sub-0"},
			Body:    []byte(`{"sender":"bob","recipient":"alice","content":"late"}`),
		}
		_ = conn.WriteMessage(websocket.TextMessage, frame.Marshal())
	}

	time.Sleep(50 * time.Millisecond)
	_, seen := calls.Load("late")
	assert.False(t, seen, "frames arriving after deactivation must be dropped")
}
