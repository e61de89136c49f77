// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package session owns the lifecycle of the one broker connection per active
// user: dialing, the STOMP handshake, subscription registration, and the
// inbound read loop.
package session

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/samber/oops"

	"github.com/parley-chat/parley/internal/router"
	"github.com/parley-chat/parley/internal/stomp"
	"github.com/parley-chat/parley/internal/wire"
)

// ErrNotConnected is returned by Publish while the session is not Connected.
// The outbound delivery queue treats it as retryable.
var ErrNotConnected = errors.New("session not connected")

// handshakeTimeout bounds the wait for the broker's CONNECTED frame.
const handshakeTimeout = 10 * time.Second

// State is the session lifecycle state.
type State uint8

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// Handlers receive the session's routed inbound traffic and its errors. All
// broker-side errors funnel through OnError; the caller decides what is
// fatal.
type Handlers struct {
	OnMessage      func(wire.Message)
	OnNotification func(wire.Notification)
	OnError        func(error)
}

// Subscription ids, fixed per connect. Re-registered on every transition
// into Connected; ids from a previous connect are never reused against a new
// socket.
const (
	subMessages          = "sub-0"
	subUserNotifications = "sub-1"
	subBroadcast         = "sub-2"
)

// Manager owns at most one broker connection. Activating while a session is
// up replaces it (deactivate, then activate), never layers a second one.
type Manager struct {
	url    string
	dialer *websocket.Dialer

	mu     sync.Mutex
	state  State
	conn   *websocket.Conn
	user   string
	subs   map[string]router.Channel
	cancel context.CancelFunc
	// gen is bumped on every activate/deactivate; goroutines from a prior
	// generation discard their results instead of touching fresh state.
	gen uint64

	// writeMu serializes frame writes: gorilla/websocket allows only one
	// concurrent writer.
	writeMu sync.Mutex
}

// NewManager creates a manager for the given WebSocket broker URL.
func NewManager(brokerURL string) *Manager {
	return &Manager{
		url:    brokerURL,
		dialer: websocket.DefaultDialer,
	}
}

// Activate opens a session for user. It returns immediately; connection
// establishment continues in the background and transport failures surface
// asynchronously through h.OnError, never as a synchronous error.
func (m *Manager) Activate(ctx context.Context, user string, h Handlers) {
	m.Deactivate()

	ctx, cancel := context.WithCancel(ctx)

	m.mu.Lock()
	m.state = StateConnecting
	m.user = user
	m.cancel = cancel
	m.gen++
	gen := m.gen
	m.mu.Unlock()

	slog.Info("activating session", "user", user, "broker_url", m.url)
	go m.run(ctx, gen, user, h)
}

// Deactivate tears down the session and clears all subscriptions. Idempotent:
// calling it with no active session is a no-op. Frames already in flight are
// discarded, not queued.
func (m *Manager) Deactivate() {
	m.mu.Lock()
	conn := m.conn
	user := m.user
	wasActive := m.state != StateDisconnected
	m.conn = nil
	m.subs = nil
	m.state = StateDisconnected
	if m.cancel != nil {
		m.cancel()
		m.cancel = nil
	}
	m.gen++
	m.mu.Unlock()

	if conn != nil {
		m.writeMu.Lock()
		_ = conn.WriteMessage(websocket.TextMessage, stomp.NewDisconnect().Marshal())
		m.writeMu.Unlock()
		_ = conn.Close()
	}
	if wasActive {
		slog.Info("session deactivated", "user", user)
	}
}

// State returns the current session state.
func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Connected reports whether the session is ready to publish.
func (m *Manager) Connected() bool {
	return m.State() == StateConnected
}

// User returns the identity that owns the current session, or "".
func (m *Manager) User() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.user
}

// Publish sends a SEND frame to a broker destination. Returns
// ErrNotConnected while the session is not ready.
func (m *Manager) Publish(destination string, body []byte) error {
	m.mu.Lock()
	if m.state != StateConnected || m.conn == nil {
		m.mu.Unlock()
		return ErrNotConnected
	}
	conn := m.conn
	m.mu.Unlock()

	m.writeMu.Lock()
	defer m.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, stomp.NewSend(destination, body).Marshal()); err != nil {
		return oops.Code("TRANSPORT_ERROR").
			With("destination", destination).
			Wrapf(err, "failed to publish")
	}
	return nil
}

// run dials, handshakes, subscribes, and then pumps inbound frames until the
// connection drops or the session is replaced.
func (m *Manager) run(ctx context.Context, gen uint64, user string, h Handlers) {
	r := router.New(h.OnMessage, h.OnNotification, h.OnError)

	conn, resp, err := m.dialer.DialContext(ctx, m.url, nil)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		m.fail(gen, h, oops.Code("TRANSPORT_ERROR").
			With("broker_url", m.url).
			Wrapf(err, "failed to dial broker"))
		return
	}

	if err := m.handshake(conn); err != nil {
		_ = conn.Close()
		m.fail(gen, h, err)
		return
	}

	subs, err := m.subscribe(conn, user)
	if err != nil {
		_ = conn.Close()
		m.fail(gen, h, err)
		return
	}

	m.mu.Lock()
	if gen != m.gen {
		// Replaced or deactivated while connecting.
		m.mu.Unlock()
		_ = conn.Close()
		return
	}
	m.conn = conn
	m.subs = subs
	m.state = StateConnected
	m.mu.Unlock()

	ConnectsTotal.Inc()
	slog.Info("session connected", "user", user)

	m.readPump(gen, conn, r, h)
}

// handshake performs the CONNECT/CONNECTED exchange.
func (m *Manager) handshake(conn *websocket.Conn) error {
	if err := conn.WriteMessage(websocket.TextMessage, stomp.NewConnect(hostOf(m.url)).Marshal()); err != nil {
		return oops.Code("TRANSPORT_ERROR").Wrapf(err, "failed to send CONNECT")
	}

	_ = conn.SetReadDeadline(time.Now().Add(handshakeTimeout))
	defer func() { _ = conn.SetReadDeadline(time.Time{}) }()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			return oops.Code("TRANSPORT_ERROR").Wrapf(err, "handshake failed")
		}
		frame, err := stomp.Parse(data)
		if err != nil {
			return oops.Code("TRANSPORT_ERROR").Wrapf(err, "handshake failed")
		}
		if frame == nil {
			continue // heart-beat
		}
		switch frame.Command {
		case stomp.CmdConnected:
			return nil
		case stomp.CmdError:
			return oops.Code("TRANSPORT_ERROR").
				With("message", frame.Header(stomp.HdrMessage)).
				Errorf("broker rejected connect")
		default:
			return oops.Code("TRANSPORT_ERROR").
				With("command", frame.Command).
				Errorf("unexpected handshake frame")
		}
	}
}

// subscribe registers the three identity-scoped subscriptions and returns
// the id-to-channel routing table for this connect.
func (m *Manager) subscribe(conn *websocket.Conn, user string) (map[string]router.Channel, error) {
	targets := []struct {
		id          string
		destination string
		channel     router.Channel
	}{
		{subMessages, wire.MessageQueue(user), router.ChannelMessages},
		{subUserNotifications, wire.NotificationQueue(user), router.ChannelUserNotifications},
		{subBroadcast, wire.BroadcastTopic, router.ChannelBroadcast},
	}

	subs := make(map[string]router.Channel, len(targets))
	for _, t := range targets {
		if err := conn.WriteMessage(websocket.TextMessage, stomp.NewSubscribe(t.id, t.destination).Marshal()); err != nil {
			return nil, oops.Code("TRANSPORT_ERROR").
				With("destination", t.destination).
				Wrapf(err, "failed to subscribe")
		}
		subs[t.id] = t.channel
	}
	return subs, nil
}

// readPump delivers inbound frames in transport order until the connection
// drops or the session generation moves on.
func (m *Manager) readPump(gen uint64, conn *websocket.Conn, r *router.Router, h Handlers) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if m.stale(gen) {
				return // deactivated; the read error is our own Close
			}
			m.fail(gen, h, oops.Code("TRANSPORT_ERROR").Wrapf(err, "connection lost"))
			return
		}

		frame, perr := stomp.Parse(data)
		if perr != nil {
			if !m.stale(gen) {
				h.OnError(perr)
			}
			continue
		}
		if frame == nil {
			continue // heart-beat
		}

		switch frame.Command {
		case stomp.CmdMessage:
			ch, ok := m.channelFor(gen, frame.Header(stomp.HdrSubscription))
			if !ok {
				continue // stale generation or unknown subscription
			}
			FramesReceived.WithLabelValues(ch.String()).Inc()
			r.Dispatch(ch, frame.Body)
		case stomp.CmdError:
			if !m.stale(gen) {
				h.OnError(oops.Code("TRANSPORT_ERROR").
					With("message", frame.Header(stomp.HdrMessage)).
					Errorf("broker error frame"))
			}
		default:
			slog.Debug("ignoring frame", "command", frame.Command)
		}
	}
}

// channelFor resolves a subscription id against the current generation's
// routing table. Frames from a superseded session resolve to nothing.
func (m *Manager) channelFor(gen uint64, subID string) (router.Channel, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return 0, false
	}
	ch, ok := m.subs[subID]
	return ch, ok
}

// stale reports whether gen has been superseded by a newer activate or
// deactivate.
func (m *Manager) stale(gen uint64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return gen != m.gen
}

// fail moves a still-current session to Disconnected and surfaces the error.
// Stale failures from replaced sessions are swallowed.
func (m *Manager) fail(gen uint64, h Handlers, err error) {
	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	m.conn = nil
	m.subs = nil
	m.mu.Unlock()

	slog.Error("session failed", "error", err)
	if h.OnError != nil {
		h.OnError(err)
	}
}

// hostOf extracts the host for the CONNECT frame's host header.
func hostOf(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return u.Hostname()
}
