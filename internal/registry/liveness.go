package registry

import (
	"context"
	"strconv"
	"time"

	"chat-relay-server/internal/kv"
)

const livenessKeyPrefix = "liveness:"

type Liveness struct {
	Online   bool
	LastSeen int64 // epoch millis, 0 when never seen
}

// LivenessRegistry records the last heartbeat per user. Nothing expires
// records actively; staleness is computed at read time, and the store TTL
// reclaims abandoned entries.
type LivenessRegistry struct {
	store kv.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewLivenessRegistry(store kv.Store, ttl time.Duration) *LivenessRegistry {
	return NewLivenessRegistryWithClock(store, ttl, time.Now)
}

func NewLivenessRegistryWithClock(store kv.Store, ttl time.Duration, now func() time.Time) *LivenessRegistry {
	return &LivenessRegistry{store: store, ttl: ttl, now: now}
}

// Touch records a heartbeat. A non-positive user id is silently ignored:
// heartbeats arrive on a best-effort path with no caller to error to.
func (r *LivenessRegistry) Touch(ctx context.Context, userID int64, at time.Time) error {
	if userID <= 0 {
		return nil
	}
	return r.store.Set(ctx, livenessKey(userID), strconv.FormatInt(at.UnixMilli(), 10), r.ttl)
}

// Check classifies a user as online when a heartbeat exists and is younger
// than threshold. A missing or malformed record means offline, never an
// error.
func (r *LivenessRegistry) Check(ctx context.Context, userID int64, threshold time.Duration) (Liveness, error) {
	raw, ok, err := r.store.Get(ctx, livenessKey(userID))
	if err != nil {
		return Liveness{}, err
	}
	if !ok {
		return Liveness{}, nil
	}
	lastSeen, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return Liveness{}, nil
	}
	age := r.now().UnixMilli() - lastSeen
	return Liveness{
		Online:   age < threshold.Milliseconds(),
		LastSeen: lastSeen,
	}, nil
}

func livenessKey(userID int64) string {
	return livenessKeyPrefix + strconv.FormatInt(userID, 10)
}
