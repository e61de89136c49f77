// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package wire

import (
	"encoding/json"

	"github.com/samber/oops"
)

// NotificationType identifies the kind of notification. The set is closed;
// dispatch is via exhaustive switch rather than string comparison.
type NotificationType uint8

const (
	NotificationOnline NotificationType = iota
	NotificationOffline
	NotificationMessage
	NotificationPing
)

// wireNames maps each type to its JSON wire representation.
var wireNames = map[NotificationType]string{
	NotificationOnline:  "ONLINE",
	NotificationOffline: "OFFLINE",
	NotificationMessage: "MESSAGE",
	NotificationPing:    "PING",
}

func (t NotificationType) String() string {
	if name, ok := wireNames[t]; ok {
		return name
	}
	return "unknown"
}

// MarshalJSON encodes the type as its wire string.
func (t NotificationType) MarshalJSON() ([]byte, error) {
	name, ok := wireNames[t]
	if !ok {
		return nil, oops.Code("ENCODE_NOTIFICATION").
			With("type", uint8(t)).
			Errorf("unknown notification type %d", t)
	}
	return json.Marshal(name)
}

// UnmarshalJSON decodes a wire string into a NotificationType.
func (t *NotificationType) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return oops.Code("DECODE_NOTIFICATION").Wrap(err)
	}
	for typ, wire := range wireNames {
		if wire == name {
			*t = typ
			return nil
		}
	}
	return oops.Code("DECODE_NOTIFICATION").
		With("type", name).
		Errorf("unknown notification type %q", name)
}

// Notification is an asynchronous signal delivered over a notification
// channel. Recipient is empty for broadcast notifications.
type Notification struct {
	Type      NotificationType `json:"type"`
	Sender    string           `json:"sender"`
	Recipient string           `json:"recipient,omitempty"`
	Content   string           `json:"content"`
}
