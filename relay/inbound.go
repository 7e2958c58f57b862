// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import (
	"context"
	"errors"

	"waitroom/identity"
	"waitroom/presence"
)

// Close code sent when session validation fails.
const CloseUserNotFound = 4001

const maxChatLength = 128

// Make sure to register in init function
type (
	// Init completes the two-phase handshake. The session id comes from the
	// connection's URL, not from the message.
	Init struct{}

	// Chat broadcasts free text to the whole room.
	Chat struct {
		Message string `json:"message"`
	}

	// Ping renews the sender's presence TTL and asks for a pong.
	Ping struct{}

	// InvalidInbound means invalid message type from client (possibly out of date).
	// NOTE: Do not register, otherwise client could send type "invalidInbound"
	InvalidInbound struct {
		messageType messageType
	}
)

func init() {
	registerInbound(
		Init{},
		Chat{},
		Ping{},
	)
	// Older clients send "chat_message" for the same payload.
	registerInboundAlias("chat_message", Chat{})
}

// Process validates the session against the identity service and, on
// success, registers presence and announces the join. It runs on the
// connection's read goroutine, so the identity call blocks only this
// connection.
func (data Init) Process(h *Hub, client Client) {
	d := client.Data()
	if d.Status() != statusPending {
		return
	}

	ctx := context.Background()
	user, err := h.identity.Lookup(ctx, d.Session)
	if err != nil {
		event := h.log.Info()
		if !errors.Is(err, identity.ErrNotFound) {
			event = h.log.Warn()
		}
		event.Err(err).Str("session", d.Session).Str("conn", d.ConnID).Msg("session rejected")
		client.CloseWithCode(CloseUserNotFound, "User not found")
		return
	}

	rec := presence.NewRecord(d.Session, user)
	h.presence.Register(ctx, d.Session, rec)
	others := h.presence.List(ctx, d.Session)

	if !d.advanceStatus(statusPending, statusActive) {
		// The socket died while we were validating. Nobody was told about
		// this connection, so just take the record back out.
		h.presence.Deregister(ctx, d.Session)
		return
	}

	client.Send(NewMe(rec))
	client.Send(NewUserList(others))
	h.BroadcastActive(NewUserJoined(rec), client)

	h.log.Info().Str("session", d.Session).Str("user", rec.UserID).Str("conn", d.ConnID).Msg("joined")
}

// Process resolves the sender's presence record and fans the message out to
// every connected socket, the sender included. A sender whose record already
// expired is relayed as "Unknown" rather than dropped.
func (data Chat) Process(h *Hub, client Client) {
	d := client.Data()
	if d.Status() != statusActive {
		return
	}

	msg, ok := d.ChatHistory.Update(data.Message)
	if !ok {
		h.log.Debug().Str("session", d.Session).Msg("chat blocked")
		return
	}
	msg, ok = sanitize(msg, 1, maxChatLength)
	if !ok {
		return
	}

	sender := ChatUser{ID: d.Session, Name: "Unknown"}
	if rec, ok := h.presence.Get(context.Background(), d.Session); ok {
		sender = ChatUser{ID: rec.UserID, Name: rec.Name}
	}

	h.Broadcast(NewChatBroadcast(sender, msg), nil)
}

// Process renews the presence TTL if the record still exists and always
// answers with a pong, registered or not.
func (data Ping) Process(h *Hub, client Client) {
	d := client.Data()
	if d.Status() == statusClosed {
		return
	}
	h.presence.Refresh(context.Background(), d.Session)
	client.Send(NewPong())
}

func (data InvalidInbound) Process(h *Hub, client Client) {
	h.log.Debug().Str("type", string(data.messageType)).Str("session", client.Data().Session).Msg("unrecognized message type")
}
