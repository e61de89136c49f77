// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Parley Contributors

// Package rest is the HTTP client for the external collaborators: the auth
// endpoint, the contact directory, and conversation history.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"time"

	"github.com/samber/oops"

	"github.com/parley-chat/parley/internal/wire"
)

// Contact is one entry in the contact directory.
type Contact struct {
	Username  string `json:"username"`
	FirstName string `json:"firstName"`
	LastName  string `json:"lastName"`
}

// Client talks to the REST collaborators. The session cookie issued by login
// lives in the client's cookie jar; Logout drops it.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// NewClient creates a REST client for the given base URL.
func NewClient(baseURL string) (*Client, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}
	return &Client{
		baseURL: baseURL,
		httpc: &http.Client{
			Jar:     jar,
			Timeout: 10 * time.Second,
		},
	}, nil
}

// loginRequest is the credential payload for the auth collaborator.
type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

// loginResponse carries the identity confirmed by the auth collaborator.
type loginResponse struct {
	Username string `json:"username"`
}

// Login validates credentials with the auth collaborator and stores the
// session cookie. Returns the confirmed username.
func (c *Client) Login(ctx context.Context, username, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Username: username, Password: password})
	if err != nil {
		return "", fmt.Errorf("failed to marshal login request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/login", bytes.NewReader(body))
	if err != nil {
		return "", oops.Code("LOGIN_FAILED").Wrap(err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return "", oops.Code("LOGIN_FAILED").Wrap(err)
	}
	defer drainAndClose(resp.Body)

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusBadRequest, http.StatusUnauthorized:
		return "", oops.Code("INVALID_CREDENTIALS").
			With("status", resp.StatusCode).
			Errorf("invalid username or password")
	default:
		return "", oops.Code("LOGIN_FAILED").
			With("status", resp.StatusCode).
			Errorf("login returned status %d", resp.StatusCode)
	}

	var lr loginResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return "", oops.Code("LOGIN_FAILED").Wrap(err)
	}
	return lr.Username, nil
}

// Logout discards the stored session cookie. The identity itself is owned by
// the auth collaborator; the core only clears its local copy.
func (c *Client) Logout() error {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return fmt.Errorf("failed to reset cookie jar: %w", err)
	}
	c.httpc.Jar = jar
	return nil
}

// Contacts returns the full contact directory.
func (c *Client) Contacts(ctx context.Context) ([]Contact, error) {
	var contacts []Contact
	if err := c.getJSON(ctx, "/api/contacts", &contacts); err != nil {
		return nil, oops.Code("DIRECTORY_FETCH_ERROR").Wrap(err)
	}
	return contacts, nil
}

// ActiveContacts returns the authoritative snapshot of online usernames.
func (c *Client) ActiveContacts(ctx context.Context) ([]string, error) {
	var active []string
	if err := c.getJSON(ctx, "/api/active-contacts", &active); err != nil {
		return nil, oops.Code("DIRECTORY_FETCH_ERROR").Wrap(err)
	}
	return active, nil
}

// Messages returns the ordered history for a conversation room.
func (c *Client) Messages(ctx context.Context, roomID string) ([]wire.Message, error) {
	var msgs []wire.Message
	if err := c.getJSON(ctx, "/api/messages/"+url.PathEscape(roomID), &msgs); err != nil {
		return nil, oops.Code("HISTORY_FETCH_ERROR").
			With("room_id", roomID).
			Wrap(err)
	}
	return msgs, nil
}

// getJSON performs a GET and decodes the JSON response body into out.
func (c *Client) getJSON(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer drainAndClose(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d for %s", resp.StatusCode, path)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

// drainAndClose consumes the rest of a response body so the underlying
// connection can be reused.
func drainAndClose(body io.ReadCloser) {
	_, _ = io.Copy(io.Discard, body)
	_ = body.Close()
}
