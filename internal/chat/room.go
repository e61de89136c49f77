// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package chat derives conversation identity and maintains the in-memory
// message log for the currently open conversation.
package chat

// roomSeparator joins the two usernames of a conversation key.
const roomSeparator = "_"

// RoomID derives the canonical room identifier for a pair of users: the
// lexicographically sorted pair joined by the separator. Pure and
// commutative, so two independently-initiated clients agree on the same key
// without coordination.
func RoomID(a, b string) string {
	if a > b {
		a, b = b, a
	}
	return a + roomSeparator + b
}
