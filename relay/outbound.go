// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package relay

import "waitroom/presence"

type (
	// outbound is a server-to-client frame. kind is the wire discriminator;
	// constructors stamp it into the Type field.
	outbound interface {
		kind() string
	}

	// Me tells a freshly-validated connection who it is.
	Me struct {
		Type string          `json:"type"`
		User presence.Record `json:"user"`
	}

	// UserList is the full roster sent to a joining connection. It does not
	// include the joiner itself, which learns its own record from Me.
	UserList struct {
		Type  string            `json:"type"`
		Users []presence.Record `json:"users"`
	}

	// UserJoined announces a newly-validated participant to everyone else.
	UserJoined struct {
		Type string          `json:"type"`
		User presence.Record `json:"user"`
	}

	// UserLeft announces a departed session to the remaining connections.
	UserLeft struct {
		Type      string `json:"type"`
		UserID    string `json:"user_id"`
		Timestamp string `json:"timestamp"`
	}

	// ChatBroadcast fans a chat message out to every connection, sender
	// included.
	ChatBroadcast struct {
		Type      string   `json:"type"`
		User      ChatUser `json:"user"`
		Message   string   `json:"message"`
		Timestamp string   `json:"timestamp"`
	}

	// ChatUser is the minimal sender shape attached to chat messages.
	ChatUser struct {
		ID   string `json:"id"`
		Name string `json:"name"`
	}

	// Pong answers an application-level keepalive.
	Pong struct {
		Type      string `json:"type"`
		Timestamp string `json:"timestamp"`
	}
)

const (
	kindMe            = "me"
	kindUserList      = "user_list"
	kindUserJoined    = "user_joined"
	kindUserLeft      = "user_left"
	kindChatBroadcast = "chat"
	kindPong          = "pong"
)

func (Me) kind() string            { return kindMe }
func (UserList) kind() string      { return kindUserList }
func (UserJoined) kind() string    { return kindUserJoined }
func (UserLeft) kind() string      { return kindUserLeft }
func (ChatBroadcast) kind() string { return kindChatBroadcast }
func (Pong) kind() string          { return kindPong }

func NewMe(rec presence.Record) Me {
	m := Me{User: rec}
	m.Type = m.kind()
	return m
}

func NewUserList(users []presence.Record) UserList {
	if users == nil {
		users = []presence.Record{}
	}
	m := UserList{Users: users}
	m.Type = m.kind()
	return m
}

func NewUserJoined(rec presence.Record) UserJoined {
	m := UserJoined{User: rec}
	m.Type = m.kind()
	return m
}

func NewUserLeft(sessionID string) UserLeft {
	m := UserLeft{UserID: sessionID, Timestamp: isoNow()}
	m.Type = m.kind()
	return m
}

func NewChatBroadcast(sender ChatUser, message string) ChatBroadcast {
	m := ChatBroadcast{User: sender, Message: message, Timestamp: isoNow()}
	m.Type = m.kind()
	return m
}

func NewPong() Pong {
	m := Pong{Timestamp: isoNow()}
	m.Type = m.kind()
	return m
}
