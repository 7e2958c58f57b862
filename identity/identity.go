// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package identity queries the external identity service that knows which
// session ids belong to real users.
package identity

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

// ErrNotFound means the identity service does not recognize the session.
// Transport failures are returned as distinct errors but callers treat
// every lookup error the same way: the session is not trusted.
var ErrNotFound = errors.New("user not found")

// lookupTimeout bounds the identity call so a dead identity service cannot
// pin a pending connection forever.
const lookupTimeout = 8 * time.Second

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// User is the hydrated identity of a validated session. Zero values are
// permitted everywhere; the presence layer applies display fallbacks.
type User struct {
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Avatar           string `json:"avatar"`
	Wins             int    `json:"wins"`
	Losses           int    `json:"losses"`
	RemainingMatches int    `json:"remaining_matches"`
}

type meResponse struct {
	User

	// Either of these in the body means the lookup failed even on a 2xx.
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

// Client looks up sessions against GET {base}/api/me?session_id={id}.
type Client struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

func NewClient(baseURL string, log zerolog.Logger) *Client {
	return &Client{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		http:    &http.Client{Timeout: lookupTimeout},
		log:     log.With().Str("component", "identity").Logger(),
	}
}

// Lookup validates a session id and hydrates its user. Returns ErrNotFound
// for unknown/expired sessions and error-shaped bodies; any other error is
// a transport or decode failure.
func (c *Client) Lookup(ctx context.Context, sessionID string) (User, error) {
	endpoint := fmt.Sprintf("%s/api/me?session_id=%s", c.baseURL, url.QueryEscape(sessionID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return User{}, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return User{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		c.log.Debug().Int("status", resp.StatusCode).Str("session", sessionID).Msg("lookup rejected")
		return User{}, ErrNotFound
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return User{}, err
	}
	if emptyBody(body) {
		return User{}, ErrNotFound
	}

	var me meResponse
	if err := json.Unmarshal(body, &me); err != nil {
		return User{}, err
	}
	if me.Detail != "" || me.Error != "" {
		return User{}, ErrNotFound
	}
	return me.User, nil
}

func emptyBody(body []byte) bool {
	trimmed := bytes.TrimSpace(body)
	switch string(trimmed) {
	case "", "null", "{}":
		return true
	}
	return false
}
