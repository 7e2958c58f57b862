// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"time"

	"waitroom/identity"
)

// Record is the cached representation of an online participant, keyed by
// session id. Its lifetime is governed by the cache TTL, not by the socket.
type Record struct {
	UserID           string `json:"user_id"`
	Name             string `json:"name"`
	Type             string `json:"type"`
	Avatar           string `json:"avatar"`
	Wins             int    `json:"wins"`
	Losses           int    `json:"losses"`
	RemainingMatches int    `json:"remaining_matches"`
	ConnectedAt      string `json:"connected_at"`
}

// NewRecord builds a Record from an identity lookup, applying the fallback
// defaults for fields the identity service omitted.
func NewRecord(sessionID string, user identity.User) Record {
	rec := Record{
		UserID:           user.UserID,
		Name:             user.Name,
		Type:             user.Type,
		Avatar:           user.Avatar,
		Wins:             user.Wins,
		Losses:           user.Losses,
		RemainingMatches: user.RemainingMatches,
		ConnectedAt:      time.Now().UTC().Format(time.RFC3339),
	}
	if rec.UserID == "" {
		rec.UserID = sessionID
	}
	if rec.Name == "" {
		rec.Name = "Unknown"
	}
	if rec.Type == "" {
		rec.Type = "unknown"
	}
	return rec
}
