package relay

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-relay-server/internal/identity"
	"chat-relay-server/internal/kv"
	"chat-relay-server/internal/registry"
)

type emittedEvent struct {
	Handle  string
	Event   string
	Payload any
}

type recordingEmitter struct {
	events []emittedEvent
}

func (r *recordingEmitter) Emit(handle string, event string, payload any) {
	r.events = append(r.events, emittedEvent{Handle: handle, Event: event, Payload: payload})
}

type fixture struct {
	engine   *Engine
	emitter  *recordingEmitter
	resolver *identity.Static
	store    *kv.Memory
	now      *time.Time
}

const threshold = 10 * time.Second

func newFixture(t *testing.T) *fixture {
	t.Helper()
	now := time.UnixMilli(1_700_000_000_000)
	clock := func() time.Time { return now }

	store := kv.NewMemoryWithClock(clock)
	resolver := identity.NewStatic()
	emitter := &recordingEmitter{}

	engine := NewEngine(Deps{
		Connections: registry.NewConnectionDirectory(store, 0),
		Liveness:    registry.NewLivenessRegistryWithClock(store, 0, clock),
		Resolver:    resolver,
		Emitter:     emitter,
		Threshold:   threshold,
		Logger:      zerolog.Nop(),
	})
	engine.now = clock

	return &fixture{engine: engine, emitter: emitter, resolver: resolver, store: store, now: &now}
}

func (f *fixture) addOnlineUser(t *testing.T, id int64, name, handle string) identity.Identity {
	t.Helper()
	ctx := context.Background()
	user := identity.Identity{ID: id, TenantID: 1, Name: name}
	f.resolver.Add(user)
	require.NoError(t, f.engine.connections.Bind(ctx, id, handle))
	require.NoError(t, f.engine.liveness.Touch(ctx, id, *f.now))
	return user
}

func TestRelay_DeliversMessageToLiveTarget(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	*f.now = f.now.Add(time.Second)
	err := f.engine.Relay(context.Background(), sender, Request{
		Kind:       KindMessage,
		TargetName: "Alice",
		Message:    "hi",
	})
	require.NoError(t, err)

	require.Len(t, f.emitter.events, 1)
	got := f.emitter.events[0]
	assert.Equal(t, "sock-A", got.Handle)
	assert.Equal(t, "chat-message", got.Event)
	assert.Equal(t, map[string]any{"fromUserName": "bob", "message": "hi"}, got.Payload)
}

func TestRelay_MissingTarget(t *testing.T) {
	f := newFixture(t)
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindMessage, TargetName: "  ", Message: "hi"})
	assert.ErrorIs(t, err, ErrMissingTarget)
	assert.Empty(t, f.emitter.events)
}

func TestRelay_MissingMessageField(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindMessage, TargetName: "alice"})
	assert.ErrorIs(t, err, ErrMissingField)
	assert.Empty(t, f.emitter.events)
}

func TestRelay_SelfTargetRejectedRegardlessOfState(t *testing.T) {
	f := newFixture(t)
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	// Case and whitespace in the target must not defeat the check.
	for _, target := range []string{"bob", "BOB", " Bob "} {
		err := f.engine.Relay(context.Background(), sender, Request{Kind: KindRequest, TargetName: target})
		assert.ErrorIs(t, err, ErrSelfTarget, "target %q", target)
	}
	assert.Empty(t, f.emitter.events)
}

func TestRelay_TargetNotFound(t *testing.T) {
	f := newFixture(t)
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindRequest, TargetName: "nobody"})
	assert.ErrorIs(t, err, ErrTargetNotFound)
}

func TestRelay_TargetNotConnected(t *testing.T) {
	f := newFixture(t)
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")
	f.resolver.Add(identity.Identity{ID: 42, TenantID: 1, Name: "alice"})

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindRequest, TargetName: "alice"})
	assert.ErrorIs(t, err, ErrNotConnected)
}

func TestRelay_DisconnectBeforeSend(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	f.engine.HandleDisconnect(context.Background(), 42)

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindMessage, TargetName: "alice", Message: "hi"})
	assert.ErrorIs(t, err, ErrNotConnected)
	assert.Empty(t, f.emitter.events)
}

func TestRelay_StaleHeartbeatMeansNotOnline(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")

	// Binding still exists but the heartbeat is older than the threshold.
	*f.now = f.now.Add(15 * time.Second)
	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindMessage, TargetName: "alice", Message: "hi"})
	assert.ErrorIs(t, err, ErrNotOnline)
	assert.Empty(t, f.emitter.events)
}

func TestRelay_PayloadShapePerKind(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	sender := f.addOnlineUser(t, 7, "bob", "sock-B")
	ctx := context.Background()

	cases := []struct {
		req     Request
		event   string
		payload map[string]any
	}{
		{Request{Kind: KindRequest, TargetName: "alice"}, "chat-request",
			map[string]any{"fromUserName": "bob"}},
		{Request{Kind: KindRequestAck, TargetName: "alice"}, "chat-request-ack",
			map[string]any{"fromUserName": "bob"}},
		{Request{Kind: KindRequestAccept, TargetName: "alice", EncryptionData: "key-material"}, "chat-request-accept",
			map[string]any{"fromUserName": "bob", "encryptionData": "key-material"}},
		{Request{Kind: KindRequestReject, TargetName: "alice", Reason: "busy"}, "chat-request-reject",
			map[string]any{"fromUserName": "bob", "reason": "busy"}},
		{Request{Kind: KindRequestCancel, TargetName: "alice"}, "chat-request-cancel",
			map[string]any{"fromUserName": "bob"}},
		{Request{Kind: KindDelete, TargetName: "alice"}, "chat-delete",
			map[string]any{"fromUserName": "bob"}},
	}

	for _, tc := range cases {
		f.emitter.events = nil
		require.NoError(t, f.engine.Relay(ctx, sender, tc.req))
		require.Len(t, f.emitter.events, 1, tc.event)
		assert.Equal(t, tc.event, f.emitter.events[0].Event)
		assert.Equal(t, tc.payload, f.emitter.events[0].Payload)
	}
}

func TestRelay_StoreFailurePropagates(t *testing.T) {
	f := newFixture(t)
	sender := identity.Identity{ID: 7, TenantID: 1, Name: "bob"}
	f.resolver.Add(sender)
	f.resolver.Add(identity.Identity{ID: 42, TenantID: 1, Name: "alice"})

	failing := &failingStore{err: errors.New("connection refused")}
	f.engine.connections = registry.NewConnectionDirectory(failing, 0)

	err := f.engine.Relay(context.Background(), sender, Request{Kind: KindRequest, TargetName: "alice"})
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrNotConnected)
}

type failingStore struct{ err error }

func (f *failingStore) Get(context.Context, string) (string, bool, error) { return "", false, f.err }
func (f *failingStore) Set(context.Context, string, string, time.Duration) error {
	return f.err
}
func (f *failingStore) Delete(context.Context, string) error { return f.err }

func TestRespondToProbe(t *testing.T) {
	f := newFixture(t)

	f.engine.RespondToProbe("sock-B")
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, "sock-B", f.emitter.events[0].Handle)
	assert.Equal(t, "keepalive-ack", f.emitter.events[0].Event)

	// A probe with no handle is dropped, not an error.
	f.engine.RespondToProbe("")
	assert.Len(t, f.emitter.events, 1)
}

func TestPresenceOf(t *testing.T) {
	f := newFixture(t)
	f.addOnlineUser(t, 42, "alice", "sock-A")
	ctx := context.Background()

	p, err := f.engine.PresenceOf(ctx, 1, "ALICE")
	require.NoError(t, err)
	assert.True(t, p.Online)
	assert.Equal(t, f.now.UnixMilli(), p.LastHeartbeat)

	*f.now = f.now.Add(threshold + time.Millisecond)
	p, err = f.engine.PresenceOf(ctx, 1, "alice")
	require.NoError(t, err)
	assert.False(t, p.Online)

	_, err = f.engine.PresenceOf(ctx, 1, "nobody")
	assert.ErrorIs(t, err, ErrTargetNotFound)

	_, err = f.engine.PresenceOf(ctx, 1, "")
	assert.ErrorIs(t, err, ErrMissingTarget)
}

func TestConnectionOf(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	handle, err := f.engine.ConnectionOf(ctx, 42)
	require.NoError(t, err)
	assert.Empty(t, handle)

	f.engine.HandleConnect(ctx, 42, "sock-A")
	handle, err = f.engine.ConnectionOf(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "sock-A", handle)
}

func TestHandleConnect_SeedsLiveness(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	f.engine.HandleConnect(ctx, 42, "sock-A")
	live, err := f.engine.liveness.Check(ctx, 42, threshold)
	require.NoError(t, err)
	assert.True(t, live.Online)
}
