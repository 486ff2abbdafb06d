// Package relay implements the presence-aware directed event relay: it
// resolves a target name to an identity, finds the identity's bound socket
// handle, confirms liveness, and hands a named event to the transport.
//
// Delivery is best effort. Success means the event was handed to the
// transport for the currently bound, currently live connection, nothing
// more. There is deliberately no conversation state machine across event
// kinds: nothing prevents an accept without a prior request. Each call is
// independently authorized and relayed; sequencing is the clients' concern.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-relay-server/internal/identity"
	"chat-relay-server/internal/registry"
)

// Caller-visible conditions, one per failing step. Handlers map these to
// status codes; the relay never collapses two of them into one.
var (
	ErrMissingTarget  = errors.New("missing target user")
	ErrMissingField   = errors.New("missing required field")
	ErrSelfTarget     = errors.New("cannot target yourself")
	ErrTargetNotFound = errors.New("target user not found")
	ErrNotConnected   = errors.New("target user not connected")
	ErrNotOnline      = errors.New("target user not online")
)

// Emitter is the single outbound primitive: send a named event with a JSON
// payload to a connection handle. The transport reports no delivery outcome
// to the relay.
type Emitter interface {
	Emit(handle string, event string, payload any)
}

type Engine struct {
	connections *registry.ConnectionDirectory
	liveness    *registry.LivenessRegistry
	resolver    identity.Resolver
	emitter     Emitter
	threshold   time.Duration
	now         func() time.Time
	logger      zerolog.Logger
}

type Deps struct {
	Connections *registry.ConnectionDirectory
	Liveness    *registry.LivenessRegistry
	Resolver    identity.Resolver
	Emitter     Emitter
	// Threshold is the one liveness threshold for every online check.
	Threshold time.Duration
	Logger    zerolog.Logger
}

func NewEngine(deps Deps) *Engine {
	return &Engine{
		connections: deps.Connections,
		liveness:    deps.Liveness,
		resolver:    deps.Resolver,
		emitter:     deps.Emitter,
		threshold:   deps.Threshold,
		now:         time.Now,
		logger:      deps.Logger.With().Str("component", "relay").Logger(),
	}
}

// SetEmitter wires the outbound transport. The engine and the transport
// reference each other, so whichever is built second gets attached here.
func (e *Engine) SetEmitter(emitter Emitter) {
	e.emitter = emitter
}

// Request is one directed-send call. TargetName addresses the recipient;
// the remaining fields feed the payload builder for the request's kind.
type Request struct {
	Kind           Kind
	TargetName     string
	Message        string
	Reason         string
	EncryptionData string
}

// Relay validates, resolves and emits one directed event. Every error is
// one of the sentinel conditions above or a wrapped store failure.
func (e *Engine) Relay(ctx context.Context, sender identity.Identity, req Request) error {
	def, ok := definitions[req.Kind]
	if !ok {
		return fmt.Errorf("unknown event kind %q", req.Kind)
	}

	targetName := identity.NormalizeName(req.TargetName)
	senderName := identity.NormalizeName(sender.Name)
	if targetName == "" {
		return ErrMissingTarget
	}
	if targetName == senderName {
		return ErrSelfTarget
	}
	if err := def.validate(req); err != nil {
		return err
	}

	target, found, err := e.resolver.ResolveName(ctx, sender.TenantID, targetName)
	if err != nil {
		return fmt.Errorf("resolve target: %w", err)
	}
	if !found {
		return ErrTargetNotFound
	}

	handle, bound, err := e.connections.Lookup(ctx, target.ID)
	if err != nil {
		return fmt.Errorf("lookup connection: %w", err)
	}
	if !bound {
		return ErrNotConnected
	}

	live, err := e.liveness.Check(ctx, target.ID, e.threshold)
	if err != nil {
		return fmt.Errorf("check liveness: %w", err)
	}
	if !live.Online {
		return ErrNotOnline
	}

	e.emitter.Emit(handle, def.event, def.payload(senderName, req))
	e.logger.Debug().
		Str("event", def.event).
		Int64("target", target.ID).
		Msg("relayed directed event")
	return nil
}

// HandleConnect is the connection-open notification: bind the socket handle
// and seed liveness so a fresh connection counts as online before its first
// heartbeat. Best effort; failures are logged, never propagated.
func (e *Engine) HandleConnect(ctx context.Context, userID int64, handle string) {
	if err := e.connections.Bind(ctx, userID, handle); err != nil {
		e.logger.Warn().Err(err).Int64("user", userID).Msg("bind failed")
		return
	}
	if err := e.liveness.Touch(ctx, userID, e.now()); err != nil {
		e.logger.Warn().Err(err).Int64("user", userID).Msg("liveness seed failed")
	}
}

// HandleDisconnect is the connection-close notification.
func (e *Engine) HandleDisconnect(ctx context.Context, userID int64) {
	if err := e.connections.Unbind(ctx, userID); err != nil {
		e.logger.Warn().Err(err).Int64("user", userID).Msg("unbind failed")
	}
}

// Heartbeat records a liveness signal. Best effort.
func (e *Engine) Heartbeat(ctx context.Context, userID int64) {
	if err := e.liveness.Touch(ctx, userID, e.now()); err != nil {
		e.logger.Warn().Err(err).Int64("user", userID).Msg("liveness touch failed")
	}
}

// RespondToProbe answers a keepalive probe with a fixed acknowledgement to
// the probing connection. No identity or liveness lookup happens here.
func (e *Engine) RespondToProbe(originHandle string) {
	if originHandle == "" {
		e.logger.Warn().Msg("keepalive probe without connection handle")
		return
	}
	e.emitter.Emit(originHandle, "keepalive-ack", map[string]any{})
}

type Presence struct {
	Online        bool
	LastHeartbeat int64 // epoch millis, 0 when never seen
}

// PresenceOf reports whether the named user is online within the caller's
// tenant.
func (e *Engine) PresenceOf(ctx context.Context, tenantID int64, userName string) (Presence, error) {
	name := identity.NormalizeName(userName)
	if name == "" {
		return Presence{}, ErrMissingTarget
	}
	target, found, err := e.resolver.ResolveName(ctx, tenantID, name)
	if err != nil {
		return Presence{}, fmt.Errorf("resolve target: %w", err)
	}
	if !found {
		return Presence{}, ErrTargetNotFound
	}
	live, err := e.liveness.Check(ctx, target.ID, e.threshold)
	if err != nil {
		return Presence{}, fmt.Errorf("check liveness: %w", err)
	}
	return Presence{Online: live.Online, LastHeartbeat: live.LastSeen}, nil
}

// ConnectionOf returns the caller's own bound socket handle, empty when
// unbound.
func (e *Engine) ConnectionOf(ctx context.Context, userID int64) (string, error) {
	handle, bound, err := e.connections.Lookup(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("lookup connection: %w", err)
	}
	if !bound {
		return "", nil
	}
	return handle, nil
}
