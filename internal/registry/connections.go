// Package registry holds the two shared maps the relay consults: the
// connection directory (identity -> socket handle) and the liveness registry
// (identity -> last heartbeat). Both are plain single-key upserts on the
// underlying store and are updated independently; they may transiently
// disagree and the relay tolerates that.
package registry

import (
	"context"
	"strconv"
	"time"

	"chat-relay-server/internal/kv"
)

const connectionKeyPrefix = "connection:"

// ConnectionDirectory maps a user id to its currently bound socket handle.
// A rebind overwrites silently (last write wins); records carry the store
// TTL so that a crash that skips the disconnect notification cannot leave a
// binding behind forever.
type ConnectionDirectory struct {
	store kv.Store
	ttl   time.Duration
}

func NewConnectionDirectory(store kv.Store, ttl time.Duration) *ConnectionDirectory {
	return &ConnectionDirectory{store: store, ttl: ttl}
}

func (d *ConnectionDirectory) Bind(ctx context.Context, userID int64, handle string) error {
	return d.store.Set(ctx, connectionKey(userID), handle, d.ttl)
}

func (d *ConnectionDirectory) Lookup(ctx context.Context, userID int64) (string, bool, error) {
	return d.store.Get(ctx, connectionKey(userID))
}

func (d *ConnectionDirectory) Unbind(ctx context.Context, userID int64) error {
	return d.store.Delete(ctx, connectionKey(userID))
}

func connectionKey(userID int64) string {
	return connectionKeyPrefix + strconv.FormatInt(userID, 10)
}
