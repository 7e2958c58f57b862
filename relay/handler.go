// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"net/http"
	"strings"
	"sync"
)

// PathPrefix is the upgrade endpoint; the single path segment after it is
// the session id.
const PathPrefix = "/ws/waitingroom/"

// sessionFromPath extracts the session id from /ws/waitingroom/{sessionId}.
// The id must be exactly one non-empty path segment; it is used verbatim as
// the cache and registry key.
func sessionFromPath(path string) (string, bool) {
	if !strings.HasPrefix(path, PathPrefix) {
		return "", false
	}
	sessionID := strings.TrimSuffix(strings.TrimPrefix(path, PathPrefix), "/")
	if sessionID == "" || strings.Contains(sessionID, "/") {
		return "", false
	}
	return sessionID, true
}

// ServeSocket upgrades a waiting-room request and registers the connection
// with the hub. The connection is not trusted until its init message
// validates; the upgrade itself always succeeds.
func (h *Hub) ServeSocket(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "upgrade required", http.StatusUpgradeRequired)
		return
	}

	sessionID, ok := sessionFromPath(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn().Err(err).Msg("upgrade error")
		return
	}

	h.Register(NewSocketClient(conn, sessionID))
}

var (
	globalHub     *Hub
	globalHubOnce sync.Once
)

// Handler is the request-handler entry point, for embedding the relay in a
// host that invokes an http.Handler per request. The first invocation
// lazily constructs a single process-wide hub; every later invocation
// reuses it, so the connection registry survives across requests. The
// standalone server in main is the preferred deployment; this adapter
// exists for hosts that only hand out request callbacks.
func Handler(cfg Config) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		globalHubOnce.Do(func() {
			globalHub = NewHub(cfg)
			go globalHub.Run()
		})
		globalHub.ServeSocket(w, r)
	}
}
