// SPDX-FileCopyrightText: 2024 Waitroom Contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package presence

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/tj/assert"

	"waitroom/identity"
)

var errCacheDown = errors.New("cache down")

// failingCache simulates a full cache outage.
type failingCache struct{}

func (failingCache) Get(context.Context, string) ([]byte, error) { return nil, errCacheDown }
func (failingCache) SetEx(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}
func (failingCache) Del(context.Context, string) error           { return errCacheDown }
func (failingCache) Keys(context.Context, string) ([]string, error) { return nil, errCacheDown }

// readOnlyCache serves reads from the wrapped cache but refuses writes.
type readOnlyCache struct{ Cache }

func (readOnlyCache) SetEx(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}

func testStore() (*Store, *MemoryCache, *time.Time) {
	cache := NewMemoryCache()
	current := time.Now()
	cache.now = func() time.Time { return current }
	return NewStore(cache, zerolog.Nop()), cache, &current
}

func testRecord(name string) Record {
	return NewRecord("session-"+name, identity.User{
		UserID: "user-" + name,
		Name:   name,
		Type:   "player",
		Wins:   3,
		Losses: 1,
	})
}

func TestRegisterGetList(t *testing.T) {
	store, _, _ := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))
	store.Register(ctx, "s2", testRecord("bob"))

	rec, ok := store.Get(ctx, "s1")
	assert.True(t, ok)
	assert.Equal(t, "user-alice", rec.UserID)
	assert.Equal(t, "alice", rec.Name)

	assert.Len(t, store.List(ctx), 2)
	assert.Len(t, store.List(ctx, "s1"), 1)
	assert.Len(t, store.List(ctx, "s1", "s2"), 0)
}

func TestRegisterOverwritesStaleRecord(t *testing.T) {
	store, _, _ := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))
	updated := testRecord("alice")
	updated.Wins = 9
	store.Register(ctx, "s1", updated)

	rec, ok := store.Get(ctx, "s1")
	assert.True(t, ok)
	assert.Equal(t, 9, rec.Wins)
	assert.Len(t, store.List(ctx), 1)
}

func TestDeregister(t *testing.T) {
	store, _, _ := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))
	store.Deregister(ctx, "s1")

	_, ok := store.Get(ctx, "s1")
	assert.False(t, ok)
	assert.Len(t, store.List(ctx), 0)
}

func TestExpiryWithoutDeregister(t *testing.T) {
	store, _, current := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))
	*current = current.Add(TTL + time.Second)

	_, ok := store.Get(ctx, "s1")
	assert.False(t, ok)
	assert.Len(t, store.List(ctx), 0)
}

func TestRefreshRenewsTTL(t *testing.T) {
	store, _, current := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))

	*current = current.Add(45 * time.Second)
	assert.True(t, store.Refresh(ctx, "s1"))

	// 75s after register but only 30s after refresh.
	*current = current.Add(30 * time.Second)
	_, ok := store.Get(ctx, "s1")
	assert.True(t, ok)

	*current = current.Add(TTL + time.Second)
	_, ok = store.Get(ctx, "s1")
	assert.False(t, ok)
}

func TestRefreshMissingIsNoop(t *testing.T) {
	store, cache, _ := testStore()
	ctx := context.Background()

	assert.False(t, store.Refresh(ctx, "nobody"))

	// Refresh must not fabricate a record.
	keys, err := cache.Keys(ctx, KeyPrefix)
	assert.NoError(t, err)
	assert.Len(t, keys, 0)
}

func TestListSkipsCorruptRecords(t *testing.T) {
	store, cache, _ := testStore()
	ctx := context.Background()

	store.Register(ctx, "s1", testRecord("alice"))
	assert.NoError(t, cache.SetEx(ctx, KeyPrefix+"junk", []byte("{"), TTL))

	records := store.List(ctx)
	assert.Len(t, records, 1)
	assert.Equal(t, "user-alice", records[0].UserID)
}

func TestCacheOutageDegrades(t *testing.T) {
	store := NewStore(failingCache{}, zerolog.Nop())
	ctx := context.Background()

	// Every operation degrades; none may panic or surface the error.
	store.Register(ctx, "s1", testRecord("alice"))
	store.Deregister(ctx, "s1")

	assert.False(t, store.Refresh(ctx, "s1"))

	_, ok := store.Get(ctx, "s1")
	assert.False(t, ok)

	assert.Len(t, store.List(ctx), 0)
}

func TestRefreshWriteFailureReportsFalse(t *testing.T) {
	inner := NewMemoryCache()
	store := NewStore(readOnlyCache{inner}, zerolog.Nop())
	ctx := context.Background()

	buf, err := json.Marshal(testRecord("alice"))
	assert.NoError(t, err)
	assert.NoError(t, inner.SetEx(ctx, KeyPrefix+"s1", buf, TTL))

	// The record is readable but its TTL could not be renewed.
	assert.False(t, store.Refresh(ctx, "s1"))
	_, ok := store.Get(ctx, "s1")
	assert.True(t, ok)
}

func TestNewRecordDefaults(t *testing.T) {
	rec := NewRecord("sess-9", identity.User{})

	assert.Equal(t, "sess-9", rec.UserID)
	assert.Equal(t, "Unknown", rec.Name)
	assert.Equal(t, "unknown", rec.Type)
	assert.Equal(t, 0, rec.Wins)
	assert.Equal(t, 0, rec.Losses)
	assert.Equal(t, 0, rec.RemainingMatches)

	_, err := time.Parse(time.RFC3339, rec.ConnectedAt)
	assert.NoError(t, err)
}

func TestNewRecordKeepsIdentityFields(t *testing.T) {
	rec := NewRecord("sess-9", identity.User{
		UserID:           "u1",
		Name:             "Alice",
		Type:             "admin",
		Avatar:           "https://cdn.example/a.png",
		Wins:             7,
		Losses:           2,
		RemainingMatches: 4,
	})

	assert.Equal(t, "u1", rec.UserID)
	assert.Equal(t, "Alice", rec.Name)
	assert.Equal(t, "admin", rec.Type)
	assert.Equal(t, "https://cdn.example/a.png", rec.Avatar)
	assert.Equal(t, 7, rec.Wins)
	assert.Equal(t, 4, rec.RemainingMatches)
}
