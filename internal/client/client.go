// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package client assembles the session, outbox, presence tracker, and
// conversation into one messaging engine for a single local user.
package client

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/samber/oops"

	"github.com/parley-chat/parley/internal/chat"
	"github.com/parley-chat/parley/internal/outbox"
	"github.com/parley-chat/parley/internal/presence"
	"github.com/parley-chat/parley/internal/rest"
	"github.com/parley-chat/parley/internal/session"
	"github.com/parley-chat/parley/internal/wire"
)

// ErrNotActive is returned by operations that require an activated client.
var ErrNotActive = errors.New("client not active")

// ErrNoConversation is returned by Send before a partner has been selected.
var ErrNoConversation = errors.New("no conversation selected")

// refreshTimeout bounds the background presence reconciliation fetch.
const refreshTimeout = 5 * time.Second

// Directory is the REST collaborator: contact listing, the authoritative
// presence snapshot, and conversation history.
type Directory interface {
	Contacts(ctx context.Context) ([]rest.Contact, error)
	ActiveContacts(ctx context.Context) ([]string, error)
	Messages(ctx context.Context, roomID string) ([]wire.Message, error)
}

// Options configures a Client. BrokerURL and Directory are required; the
// callbacks are optional UI hooks.
type Options struct {
	BrokerURL string
	Directory Directory

	// NoticeDwell overrides the default transient-notice lifetime.
	NoticeDwell time.Duration
	// RetryInterval overrides the default outbound retry interval.
	RetryInterval time.Duration

	// OnNotice receives transient notice text, and "" when it clears.
	OnNotice func(text string)
	// OnAlert receives persistent alert text.
	OnAlert func(text string)
	// OnMessage receives every inbound message addressed to the local user.
	OnMessage func(msg wire.Message)
	// OnError receives asynchronous session errors.
	OnError func(err error)
}

// Client is the messaging engine. At most one identity is active at a time;
// Activate for a new identity replaces the previous session wholesale.
type Client struct {
	opts    Options
	session *session.Manager

	mu       sync.Mutex
	user     string
	tracker  *presence.Tracker
	conv     *chat.Conversation
	queue    *outbox.Queue
	contacts []rest.Contact
}

// New creates an inactive client.
func New(opts Options) *Client {
	return &Client{
		opts:    opts,
		session: session.NewManager(opts.BrokerURL),
	}
}

// Activate brings the engine up for user: broker session, presence tracker,
// outbound queue, and an initial contact fetch. It returns once local state
// is wired; the connection itself establishes in the background. Activating
// over a live session replaces it.
func (c *Client) Activate(ctx context.Context, user string) error {
	c.Deactivate()

	tracker := presence.NewTracker(user, presence.Options{
		Dwell:       c.opts.NoticeDwell,
		OnNotice:    c.opts.OnNotice,
		OnAlert:     c.opts.OnAlert,
		OpenPartner: c.Partner,
		Refresh:     c.refreshAsync,
	})
	conv := chat.NewConversation(user, c.opts.Directory)
	queue := outbox.New(c.session, outbox.Options{RetryInterval: c.opts.RetryInterval})

	c.mu.Lock()
	c.user = user
	c.tracker = tracker
	c.conv = conv
	c.queue = queue
	c.contacts = nil
	c.mu.Unlock()

	c.session.Activate(ctx, user, session.Handlers{
		OnMessage:      c.handleInbound,
		OnNotification: tracker.Apply,
		OnError:        c.handleError,
	})

	if err := c.RefreshContacts(ctx); err != nil {
		// The roster fills in on the next refresh; the session is already up.
		slog.Warn("initial contact fetch failed", "error", err)
	}
	return nil
}

// Deactivate tears the engine down: session, queue, tracker, and open
// conversation. Pending outbound payloads are discarded. Idempotent.
func (c *Client) Deactivate() {
	c.mu.Lock()
	tracker := c.tracker
	queue := c.queue
	conv := c.conv
	c.user = ""
	c.tracker = nil
	c.queue = nil
	c.conv = nil
	c.contacts = nil
	c.mu.Unlock()

	c.session.Deactivate()
	if queue != nil {
		queue.Stop()
	}
	if tracker != nil {
		tracker.Stop()
	}
	if conv != nil {
		conv.Close()
	}
}

// Active reports whether an identity is activated (connected or not).
func (c *Client) Active() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user != ""
}

// Connected reports whether the broker session is ready.
func (c *Client) Connected() bool {
	return c.session.Connected()
}

// User returns the active identity, or "".
func (c *Client) User() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.user
}

// SelectPartner opens the conversation with partner, fetching its history.
// On fetch failure the previously open conversation is untouched.
func (c *Client) SelectPartner(ctx context.Context, partner string) error {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return ErrNotActive
	}
	return conv.SelectPartner(ctx, partner)
}

// Partner returns the open conversation partner, or "".
func (c *Client) Partner() string {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return ""
	}
	return conv.Partner()
}

// Messages returns the open conversation's messages in order.
func (c *Client) Messages() []wire.Message {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv == nil {
		return nil
	}
	return conv.Messages()
}

// Send delivers content to the open conversation partner. The message is
// appended locally right away and queued for the broker along with a
// notification nudge for the recipient; both survive disconnected spells.
func (c *Client) Send(content string) error {
	c.mu.Lock()
	user := c.user
	conv := c.conv
	queue := c.queue
	c.mu.Unlock()

	if user == "" || conv == nil || queue == nil {
		return ErrNotActive
	}
	partner := conv.Partner()
	if partner == "" {
		return ErrNoConversation
	}

	msg := wire.NewMessage(user, partner, content)
	conv.AppendLocal(msg)

	if err := queue.Send(wire.ChatDestination, msg); err != nil {
		return oops.With("recipient", partner).Wrapf(err, "failed to queue message")
	}
	notice := wire.Notification{
		Type:      wire.NotificationMessage,
		Sender:    user,
		Recipient: partner,
		Content:   "sent you a message.",
	}
	if err := queue.Send(wire.NotificationDestination, notice); err != nil {
		return oops.With("recipient", partner).Wrapf(err, "failed to queue notification")
	}
	return nil
}

// Ping nudges recipient with a persistent alert on their side. No
// conversation needs to be open.
func (c *Client) Ping(recipient string) error {
	c.mu.Lock()
	user := c.user
	queue := c.queue
	c.mu.Unlock()

	if user == "" || queue == nil {
		return ErrNotActive
	}
	return queue.Send(wire.NotificationDestination, wire.Notification{
		Type:      wire.NotificationPing,
		Sender:    user,
		Recipient: recipient,
		Content:   "pinged you!",
	})
}

// RefreshContacts refetches the roster and the authoritative presence
// snapshot. The local user never appears in either.
func (c *Client) RefreshContacts(ctx context.Context) error {
	c.mu.Lock()
	user := c.user
	tracker := c.tracker
	c.mu.Unlock()
	if user == "" {
		return ErrNotActive
	}

	all, err := c.opts.Directory.Contacts(ctx)
	if err != nil {
		return err
	}
	contacts := make([]rest.Contact, 0, len(all))
	for _, contact := range all {
		if contact.Username == user {
			continue
		}
		contacts = append(contacts, contact)
	}
	sort.Slice(contacts, func(i, j int) bool {
		return contacts[i].Username < contacts[j].Username
	})

	active, err := c.opts.Directory.ActiveContacts(ctx)
	if err != nil {
		return err
	}

	c.mu.Lock()
	if c.user == user && c.tracker == tracker {
		c.contacts = contacts
	}
	c.mu.Unlock()
	tracker.Reconcile(active)
	return nil
}

// Contacts returns the roster from the last successful refresh, sorted by
// username.
func (c *Client) Contacts() []rest.Contact {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]rest.Contact, len(c.contacts))
	copy(out, c.contacts)
	return out
}

// Online returns the contacts currently believed online.
func (c *Client) Online() []string {
	c.mu.Lock()
	tracker := c.tracker
	c.mu.Unlock()
	if tracker == nil {
		return nil
	}
	return tracker.Online()
}

// Notice returns the currently visible transient notice, or "".
func (c *Client) Notice() string {
	c.mu.Lock()
	tracker := c.tracker
	c.mu.Unlock()
	if tracker == nil {
		return ""
	}
	return tracker.Notice()
}

// handleInbound feeds a routed message into the open conversation and the
// UI hook.
func (c *Client) handleInbound(msg wire.Message) {
	c.mu.Lock()
	conv := c.conv
	c.mu.Unlock()
	if conv != nil {
		conv.HandleInbound(msg)
	}
	if c.opts.OnMessage != nil {
		c.opts.OnMessage(msg)
	}
}

func (c *Client) handleError(err error) {
	if c.opts.OnError != nil {
		c.opts.OnError(err)
		return
	}
	slog.Error("session error", "error", err)
}

// refreshAsync reconciles presence in the background. Push events are only
// early signals; the directory snapshot wins.
func (c *Client) refreshAsync() {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), refreshTimeout)
		defer cancel()
		if err := c.RefreshContacts(ctx); err != nil && !errors.Is(err, ErrNotActive) {
			slog.Warn("presence reconciliation failed", "error", err)
		}
	}()
}
