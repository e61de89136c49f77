// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package wire

import (
	"encoding/json"

	"github.com/samber/oops"
)

// DecodeMessage deserializes a frame body into a Message.
func DecodeMessage(body []byte) (Message, error) {
	var m Message
	if err := json.Unmarshal(body, &m); err != nil {
		return Message{}, oops.Code("DESERIALIZATION_ERROR").
			With("shape", "message").
			Wrap(err)
	}
	return m, nil
}

// DecodeNotification deserializes a frame body into a Notification.
func DecodeNotification(body []byte) (Notification, error) {
	var n Notification
	if err := json.Unmarshal(body, &n); err != nil {
		return Notification{}, oops.Code("DESERIALIZATION_ERROR").
			With("shape", "notification").
			Wrap(err)
	}
	return n, nil
}
