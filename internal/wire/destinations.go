// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

package wire

// Publish targets on the broker.
const (
	ChatDestination         = "/app/chat"
	NotificationDestination = "/app/notifications"
)

// BroadcastTopic is the global notification topic every client subscribes to.
const BroadcastTopic = "/public/notifications"

// MessageQueue returns the per-user direct message queue.
func MessageQueue(user string) string {
	return "/user/" + user + "/messages"
}

// NotificationQueue returns the per-user notification queue.
func NotificationQueue(user string) string {
	return "/user/" + user + "/notifications"
}
