// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package relay implements the waiting-room presence relay: a WebSocket
// gateway that validates sessions against an identity service, keeps a
// TTL-bound presence record per participant in a shared cache, and fans
// roster, join/leave and chat events out to every connected socket.
package relay

import (
	"context"
	"net/http"
	"sync/atomic"

	"github.com/rs/zerolog"

	"waitroom/identity"
	"waitroom/presence"
)

// Config carries the hub's collaborators.
type Config struct {
	Presence *presence.Store
	Identity *identity.Client
	Log      zerolog.Logger
}

// Hub maintains the set of active clients and broadcasts messages to the clients.
// The client list is owned by the hub goroutine alone; everything else reaches
// it through the channels.
type Hub struct {
	clients ClientList // implemented as double-linked list

	presence *presence.Store
	identity *identity.Client
	log      zerolog.Logger

	// Served atomically by HTTP
	statusJSON atomic.Value

	register   chan Client
	unregister chan Client
	broadcast  chan broadcastEvent
}

type broadcastEvent struct {
	message    outbound
	skip       Client
	activeOnly bool
}

func NewHub(cfg Config) *Hub {
	h := &Hub{
		presence:   cfg.Presence,
		identity:   cfg.Identity,
		log:        cfg.Log.With().Str("component", "hub").Logger(),
		register:   make(chan Client, 8),
		unregister: make(chan Client, 16),
		broadcast:  make(chan broadcastEvent, 32),
	}
	h.updateStatus()
	return h
}

// Run processes registry and broadcast events until the process exits.
// Call it on its own goroutine.
func (h *Hub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients.Add(client)
			client.Data().Hub = h
			client.Init()
			h.updateStatus()
			h.log.Debug().Str("session", client.Data().Session).Str("conn", client.Data().ConnID).Msg("socket accepted")
		case client := <-h.unregister:
			data := client.Data()
			if data.Hub != h {
				// Not a client of this hub.
				continue
			}
			// CAS both ways: init's Pending->Active transition may be racing
			// on the read goroutine, and whichever side wins decides. If init
			// loses, it deregisters its own record and announces nothing.
			wasActive := data.advanceStatus(statusActive, statusClosed)
			if !wasActive {
				data.advanceStatus(statusPending, statusClosed)
			}
			client.Close()
			h.clients.Remove(client)
			h.updateStatus()
			if wasActive {
				// Deregister off the hub goroutine; the cache is I/O.
				sessionID := data.Session
				go h.presence.Deregister(context.Background(), sessionID)
				h.send(NewUserLeft(sessionID), nil, false)
				h.log.Info().Str("session", sessionID).Str("conn", data.ConnID).Msg("left")
			}
		case event := <-h.broadcast:
			h.send(event.message, event.skip, event.activeOnly)
		}
	}
}

// Register hands a freshly-upgraded connection to the hub.
func (h *Hub) Register(client Client) {
	h.register <- client
}

// Broadcast queues a message for every connected socket except skip.
func (h *Hub) Broadcast(message outbound, skip Client) {
	h.broadcast <- broadcastEvent{message: message, skip: skip}
}

// BroadcastActive is Broadcast restricted to connections that completed the
// handshake.
func (h *Hub) BroadcastActive(message outbound, skip Client) {
	h.broadcast <- broadcastEvent{message: message, skip: skip, activeOnly: true}
}

// send delivers to each client independently; a dead socket drops its own
// messages and eventually unregisters itself, it never aborts the loop.
func (h *Hub) send(message outbound, skip Client, activeOnly bool) {
	for client := h.clients.First; client != nil; client = client.Data().Next {
		if client == skip {
			continue
		}
		if activeOnly && client.Data().Status() != statusActive {
			continue
		}
		client.Send(message)
	}
}

func (h *Hub) updateStatus() {
	statusJSON, err := json.Marshal(struct {
		Online int `json:"online"`
	}{
		Online: h.clients.Len,
	})
	if err == nil {
		h.statusJSON.Store(statusJSON)
	} else {
		h.log.Error().Err(err).Msg("marshal status")
	}
}

// ServeStatus reports how many sockets are connected to this instance.
func (h *Hub) ServeStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Content-Type", "application/json")
	buf, ok := h.statusJSON.Load().([]byte)
	if ok {
		_, _ = w.Write(buf)
	}
}
