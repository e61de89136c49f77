// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package router classifies inbound broker frames and dispatches them to
// typed handlers.
package router

import (
	"log/slog"

	"github.com/samber/oops"

	"github.com/parley-chat/parley/internal/wire"
)

// Channel identifies which subscription delivered a frame, which in turn
// decides the expected payload shape.
type Channel uint8

const (
	// ChannelMessages is the per-user direct message queue.
	ChannelMessages Channel = iota
	// ChannelUserNotifications is the per-user notification queue.
	ChannelUserNotifications
	// ChannelBroadcast is the global notification topic.
	ChannelBroadcast
)

func (c Channel) String() string {
	switch c {
	case ChannelMessages:
		return "messages"
	case ChannelUserNotifications:
		return "user-notifications"
	case ChannelBroadcast:
		return "broadcast"
	default:
		return "unknown"
	}
}

// Router dispatches each frame to exactly one handler. A frame that fails to
// deserialize is dropped and reported; it never stops the subscription.
type Router struct {
	onMessage      func(wire.Message)
	onNotification func(wire.Notification)
	onError        func(error)
}

// New creates a router. Nil handlers are replaced with no-ops so a partially
// wired caller cannot panic the read loop.
func New(onMessage func(wire.Message), onNotification func(wire.Notification), onError func(error)) *Router {
	if onMessage == nil {
		onMessage = func(wire.Message) {}
	}
	if onNotification == nil {
		onNotification = func(wire.Notification) {}
	}
	if onError == nil {
		onError = func(error) {}
	}
	return &Router{
		onMessage:      onMessage,
		onNotification: onNotification,
		onError:        onError,
	}
}

// Dispatch decodes body according to the channel that delivered it and
// invokes the matching handler.
func (r *Router) Dispatch(ch Channel, body []byte) {
	switch ch {
	case ChannelMessages:
		m, err := wire.DecodeMessage(body)
		if err != nil {
			r.drop(ch, body, err)
			return
		}
		r.onMessage(m)
	case ChannelUserNotifications, ChannelBroadcast:
		n, err := wire.DecodeNotification(body)
		if err != nil {
			r.drop(ch, body, err)
			return
		}
		r.onNotification(n)
	default:
		r.drop(ch, body, oops.Errorf("frame from unknown channel %d", ch))
	}
}

func (r *Router) drop(ch Channel, body []byte, err error) {
	slog.Warn("dropping malformed frame",
		"channel", ch.String(),
		"bytes", len(body),
		"error", err,
	)
	r.onError(err)
}
