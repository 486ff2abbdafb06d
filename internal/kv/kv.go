// Package kv is the thin key-value layer under the connection and liveness
// registries. Only single-key atomic operations are exposed; the relay is
// designed around exactly that, so nothing multi-key or transactional
// belongs here.
package kv

import (
	"context"
	"time"
)

type Store interface {
	// Get returns the value for key; the bool is false when absent.
	Get(ctx context.Context, key string) (string, bool, error)
	// Set upserts key unconditionally. A ttl of 0 means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error
	// Delete is idempotent; deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
}
