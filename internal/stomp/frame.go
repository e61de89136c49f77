// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package stomp implements the client side of STOMP 1.2 framing as carried
// over a WebSocket. Only the subset the broker contract needs is covered:
// CONNECT/CONNECTED, SUBSCRIBE, SEND, MESSAGE, ERROR, and DISCONNECT.
package stomp

import (
	"bytes"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Frame commands used by this client.
const (
	CmdConnect    = "CONNECT"
	CmdConnected  = "CONNECTED"
	CmdSubscribe  = "SUBSCRIBE"
	CmdSend       = "SEND"
	CmdMessage    = "MESSAGE"
	CmdError      = "ERROR"
	CmdDisconnect = "DISCONNECT"
)

// Well-known header names.
const (
	HdrAcceptVersion = "accept-version"
	HdrHost          = "host"
	HdrHeartBeat     = "heart-beat"
	HdrDestination   = "destination"
	HdrID            = "id"
	HdrSubscription  = "subscription"
	HdrContentType   = "content-type"
	HdrMessage       = "message"
)

// Frame is one STOMP frame: a command, a header block, and an optional body.
type Frame struct {
	Command string
	Headers map[string]string
	Body    []byte
}

// Header returns the named header value, or "" when absent.
func (f *Frame) Header(name string) string {
	return f.Headers[name]
}

// escapeHeader applies STOMP 1.2 header value escaping.
func escapeHeader(v string) string {
	r := strings.NewReplacer(`\`, `\\`, "\r", `\r`, "\n", `\n`, ":", `\c`)
	return r.Replace(v)
}

// unescapeHeader reverses escapeHeader. An undefined escape sequence is a
// fatal protocol error per the STOMP spec.
func unescapeHeader(v string) (string, error) {
	var b strings.Builder
	for i := 0; i < len(v); i++ {
		c := v[i]
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		i++
		if i >= len(v) {
			return "", oops.Code("FRAME_PARSE").Errorf("dangling escape in header value")
		}
		switch v[i] {
		case '\\':
			b.WriteByte('\\')
		case 'r':
			b.WriteByte('\r')
		case 'n':
			b.WriteByte('\n')
		case 'c':
			b.WriteByte(':')
		default:
			return "", oops.Code("FRAME_PARSE").Errorf("undefined escape sequence %q", `\`+string(v[i]))
		}
	}
	return b.String(), nil
}

// Marshal serializes the frame, NUL terminated. Headers are written in sorted
// order so output is deterministic.
func (f *Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteString(f.Command)
	buf.WriteByte('\n')

	names := make([]string, 0, len(f.Headers))
	for name := range f.Headers {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		buf.WriteString(escapeHeader(name))
		buf.WriteByte(':')
		buf.WriteString(escapeHeader(f.Headers[name]))
		buf.WriteByte('\n')
	}
	buf.WriteByte('\n')
	buf.Write(f.Body)
	buf.WriteByte(0)
	return buf.Bytes()
}

// nextLine splits off one EOL-terminated line (LF or CRLF).
func nextLine(data []byte) (line, rest []byte, ok bool) {
	idx := bytes.IndexByte(data, '\n')
	if idx < 0 {
		return nil, data, false
	}
	return bytes.TrimSuffix(data[:idx], []byte{'\r'}), data[idx+1:], true
}

// Parse deserializes one frame. Returns nil for a heart-beat (an EOL with no
// frame content), which callers should skip.
func Parse(data []byte) (*Frame, error) {
	data = bytes.TrimSuffix(data, []byte{0})
	if len(bytes.Trim(data, "\r\n")) == 0 {
		return nil, nil
	}

	command, rest, ok := nextLine(data)
	if !ok || len(command) == 0 {
		return nil, oops.Code("FRAME_PARSE").Errorf("missing frame command")
	}

	headers := make(map[string]string)
	for {
		var line []byte
		line, rest, ok = nextLine(rest)
		if !ok {
			return nil, oops.Code("FRAME_PARSE").Errorf("missing header terminator")
		}
		if len(line) == 0 {
			break
		}
		name, value, found := strings.Cut(string(line), ":")
		if !found {
			return nil, oops.Code("FRAME_PARSE").
				With("line", string(line)).
				Errorf("malformed header line")
		}
		key, err := unescapeHeader(name)
		if err != nil {
			return nil, err
		}
		val, err := unescapeHeader(value)
		if err != nil {
			return nil, err
		}
		// Per STOMP 1.2, the first occurrence of a repeated header wins.
		if _, exists := headers[key]; !exists {
			headers[key] = val
		}
	}

	return &Frame{Command: string(command), Headers: headers, Body: rest}, nil
}

// NewConnect builds a CONNECT frame for the given virtual host. Heart-beating
// is disabled; liveness is the WebSocket layer's concern.
func NewConnect(host string) *Frame {
	return &Frame{
		Command: CmdConnect,
		Headers: map[string]string{
			HdrAcceptVersion: "1.2",
			HdrHost:          host,
			HdrHeartBeat:     "0,0",
		},
	}
}

// NewSubscribe builds a SUBSCRIBE frame with the given subscription id.
func NewSubscribe(id, destination string) *Frame {
	return &Frame{
		Command: CmdSubscribe,
		Headers: map[string]string{
			HdrID:          id,
			HdrDestination: destination,
		},
	}
}

// NewSend builds a SEND frame carrying a JSON body.
func NewSend(destination string, body []byte) *Frame {
	return &Frame{
		Command: CmdSend,
		Headers: map[string]string{
			HdrDestination: destination,
			HdrContentType: "application/json;charset=utf-8",
		},
		Body: body,
	}
}

// NewDisconnect builds a DISCONNECT frame.
func NewDisconnect() *Frame {
	return &Frame{Command: CmdDisconnect, Headers: map[string]string{}}
}
