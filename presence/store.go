// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"context"
	"strings"
	"time"

	jsoniter "github.com/json-iterator/go"
	"github.com/rs/zerolog"
)

const (
	// KeyPrefix namespaces presence records in the shared cache.
	KeyPrefix = "waitingroom:online:"

	// TTL is how long a record survives without a refresh. Clients must
	// ping strictly more often than this.
	TTL = 60 * time.Second
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Cache is the minimal capability the store needs from the shared key-value
// cache. Get returns nil bytes for a missing key. A nil error from every
// method is the happy path; the store treats any error as a cache outage.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, key string) error
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Store maintains the shared "who is online" set. Presence is best-effort:
// cache failures are logged and degrade to empty/no-op results so they never
// take a connection down with them.
type Store struct {
	cache Cache
	log   zerolog.Logger
}

func NewStore(cache Cache, log zerolog.Logger) *Store {
	return &Store{cache: cache, log: log.With().Str("component", "presence").Logger()}
}

// Register writes the record with a fresh TTL, overwriting any stale record
// for the same session.
func (s *Store) Register(ctx context.Context, sessionID string, rec Record) {
	buf, err := json.Marshal(rec)
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("marshal record")
		return
	}
	if err := s.cache.SetEx(ctx, KeyPrefix+sessionID, buf, TTL); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("register")
	}
}

// Refresh renews the TTL of an existing record. If the record already
// expired this is a no-op; a record is never fabricated from local state.
// Reports whether a record was renewed.
func (s *Store) Refresh(ctx context.Context, sessionID string) bool {
	key := KeyPrefix + sessionID
	buf, err := s.cache.Get(ctx, key)
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("refresh read")
		return false
	}
	if buf == nil {
		return false
	}
	if err := s.cache.SetEx(ctx, key, buf, TTL); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("refresh write")
		return false
	}
	return true
}

// Deregister deletes the record immediately, regardless of remaining TTL.
func (s *Store) Deregister(ctx context.Context, sessionID string) {
	if err := s.cache.Del(ctx, KeyPrefix+sessionID); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("deregister")
	}
}

// Get reads a single record. The second return is false if the record is
// missing, expired, or the cache is unreachable.
func (s *Store) Get(ctx context.Context, sessionID string) (Record, bool) {
	buf, err := s.cache.Get(ctx, KeyPrefix+sessionID)
	if err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("get")
		return Record{}, false
	}
	if buf == nil {
		return Record{}, false
	}
	var rec Record
	if err := json.Unmarshal(buf, &rec); err != nil {
		s.log.Error().Err(err).Str("session", sessionID).Msg("unmarshal record")
		return Record{}, false
	}
	return rec, true
}

// List enumerates every record currently in the cache, skipping any session
// named in exclude. A record that expires between the key scan and the read
// is also skipped.
func (s *Store) List(ctx context.Context, exclude ...string) []Record {
	keys, err := s.cache.Keys(ctx, KeyPrefix)
	if err != nil {
		s.log.Error().Err(err).Msg("list keys")
		return nil
	}
	records := make([]Record, 0, len(keys))
scan:
	for _, key := range keys {
		sessionID := strings.TrimPrefix(key, KeyPrefix)
		for _, excluded := range exclude {
			if sessionID == excluded {
				continue scan
			}
		}
		rec, ok := s.Get(ctx, sessionID)
		if !ok {
			continue
		}
		records = append(records, rec)
	}
	return records
}
