// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package wire defines the envelope shapes exchanged with the broker.
package wire

import "time"

// Message is a direct message between two users. Immutable once constructed;
// it is correlated to a conversation via chat.RoomID, never via its own
// identity.
type Message struct {
	// ID is a client-generated ULID used for idempotent append. History
	// responses from older backends may omit it.
	ID        string    `json:"id,omitempty"`
	Sender    string    `json:"sender"`
	Recipient string    `json:"recipient"`
	Content   string    `json:"content"`
	SentAt    time.Time `json:"sentAt,omitzero"`
}

// NewMessage constructs a Message with a fresh client-generated ID.
func NewMessage(sender, recipient, content string) Message {
	return Message{
		ID:        NewULID().String(),
		Sender:    sender,
		Recipient: recipient,
		Content:   content,
		SentAt:    time.Now().UTC(),
	}
}
