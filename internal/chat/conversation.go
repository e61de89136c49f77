// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package chat

import (
	"context"

	"github.com/samber/oops"

	"github.com/parley-chat/parley/internal/wire"
)

// HistoryFetcher retrieves the stored messages for a conversation room.
type HistoryFetcher interface {
	Messages(ctx context.Context, roomID string) ([]wire.Message, error)
}

// Conversation correlates fetched history with live inbound messages for one
// local user.
type Conversation struct {
	localUser string
	history   HistoryFetcher
	log       *Log
}

// NewConversation creates a conversation handler for the local user.
func NewConversation(localUser string, history HistoryFetcher) *Conversation {
	return &Conversation{
		localUser: localUser,
		history:   history,
		log:       NewLog(),
	}
}

// SelectPartner opens the conversation with partner: fetches the room's
// history and replaces the log with it. On fetch failure the previous log is
// left untouched.
func (c *Conversation) SelectPartner(ctx context.Context, partner string) error {
	roomID := RoomID(c.localUser, partner)
	msgs, err := c.history.Messages(ctx, roomID)
	if err != nil {
		return oops.With("room_id", roomID).Wrapf(err, "failed to fetch history")
	}
	c.log.Replace(partner, msgs)
	return nil
}

// HandleInbound routes a live inbound message into the log. Returns true if
// the message belongs to the open conversation and was appended.
func (c *Conversation) HandleInbound(m wire.Message) bool {
	return c.log.Append(m)
}

// AppendLocal optimistically appends a locally originated message before the
// broker echoes it back. The log's ID-based de-duplication absorbs the echo.
func (c *Conversation) AppendLocal(m wire.Message) bool {
	return c.log.Append(m)
}

// Partner returns the currently open conversation partner, or "".
func (c *Conversation) Partner() string {
	return c.log.Partner()
}

// Messages returns a copy of the open conversation's log.
func (c *Conversation) Messages() []wire.Message {
	return c.log.Messages()
}

// Close drops the open conversation.
func (c *Conversation) Close() {
	c.log.Clear()
}
