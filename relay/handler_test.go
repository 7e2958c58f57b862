// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"waitroom/identity"
	"waitroom/presence"
)

func TestSessionFromPath(t *testing.T) {
	cases := []struct {
		path    string
		session string
		ok      bool
	}{
		{"/ws/waitingroom/abc123", "abc123", true},
		{"/ws/waitingroom/abc123/", "abc123", true},
		{"/ws/waitingroom/", "", false},
		{"/ws/waitingroom", "", false},
		{"/ws/waitingroom/a/b", "", false},
		{"/ws/other/abc", "", false},
		{"/", "", false},
	}
	for _, c := range cases {
		session, ok := sessionFromPath(c.path)
		assert.Equal(t, c.ok, ok, "path %q", c.path)
		assert.Equal(t, c.session, session, "path %q", c.path)
	}
}

func TestServeSocketRejectsNonGet(t *testing.T) {
	hub := NewHub(Config{Log: zerolog.Nop()})

	req := httptest.NewRequest(http.MethodPost, PathPrefix+"abc", nil)
	w := httptest.NewRecorder()
	hub.ServeSocket(w, req)
	assert.Equal(t, http.StatusUpgradeRequired, w.Code)
}

func TestServeSocketRejectsBadPath(t *testing.T) {
	hub := NewHub(Config{Log: zerolog.Nop()})

	for _, path := range []string{"/ws/waitingroom/", "/ws/waitingroom/a/b", "/other"} {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		w := httptest.NewRecorder()
		hub.ServeSocket(w, req)
		assert.Equal(t, http.StatusNotFound, w.Code, "path %q", path)
	}
}

// The request-handler adapter must construct exactly one process-wide hub
// and keep reusing it across invocations.
func TestHandlerSingleton(t *testing.T) {
	identityServer := newIdentityServer()
	defer identityServer.Close()

	logger := zerolog.Nop()
	cfg := Config{
		Presence: presence.NewStore(presence.NewMemoryCache(), logger),
		Identity: identity.NewClient(identityServer.URL, logger),
		Log:      logger,
	}

	server := httptest.NewServer(Handler(cfg))
	defer server.Close()

	url := "ws" + strings.TrimPrefix(server.URL, "http") + PathPrefix + "h1"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	assert.NoError(t, err)
	defer conn.Close()

	send(t, conn, `{"type":"init"}`)
	recvKind(t, conn, "me")
	recvKind(t, conn, "user_list")

	first := globalHub
	assert.NotNil(t, first)

	// A second handler, even with its own config, reuses the same hub.
	other := httptest.NewServer(Handler(Config{Log: logger}))
	defer other.Close()

	resp, err := http.Post(other.URL+PathPrefix+"h2", "text/plain", nil)
	assert.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, first, globalHub)
}
