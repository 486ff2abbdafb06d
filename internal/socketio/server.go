// Package socketio carries the relay's transport: a socket.io-compatible
// server over websocket. Connections authenticate on the socket.io connect
// packet; a successful connect binds the caller in the connection directory
// and the server then feeds heartbeats, keepalive probes and pairing
// sub-protocol events into the relay engine. The server is also the relay's
// outbound Emitter.
package socketio

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"chat-relay-server/internal/auth"
	"chat-relay-server/internal/relay"
)

const (
	maxPayload   int64         = 1000000
	writeTimeout time.Duration = 10 * time.Second
)

type Deps struct {
	Relay       *relay.Engine
	TokenConfig auth.TokenConfig
	Logger      zerolog.Logger
}

type Server struct {
	relay       *relay.Engine
	tokenConfig auth.TokenConfig
	logger      zerolog.Logger

	upgrader websocket.Upgrader

	blindEvents map[string]struct{}

	mu         sync.RWMutex
	connsBySID map[string]*conn
}

func NewServer(deps Deps) *Server {
	blind := make(map[string]struct{})
	for _, name := range relay.BlindEventNames() {
		blind[name] = struct{}{}
	}
	return &Server{
		relay:       deps.Relay,
		tokenConfig: deps.TokenConfig,
		logger:      deps.Logger.With().Str("component", "socketio").Logger(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		blindEvents: blind,
		connsBySID:  make(map[string]*conn),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	c := newConn(ws)
	s.registerConn(c)
	defer s.unregisterConn(c)

	open := map[string]any{
		"sid":          c.sid,
		"upgrades":     []string{},
		"pingInterval": 25000,
		"pingTimeout":  20000,
		"maxPayload":   maxPayload,
	}
	openBytes, _ := json.Marshal(open)
	_ = c.writeText(string(engineOpen) + string(openBytes))

	go c.pingLoop()
	c.readLoop(func(msg string) {
		s.handleMessage(c, msg)
	})
}

// Emit satisfies relay.Emitter: send one named event to the connection
// currently registered under the handle. An unknown handle is a logged
// drop; the relay observes no delivery outcome by design.
func (s *Server) Emit(handle string, event string, payload any) {
	s.mu.RLock()
	c := s.connsBySID[handle]
	s.mu.RUnlock()
	if c == nil {
		s.logger.Debug().Str("handle", handle).Str("event", event).Msg("emit to unknown handle dropped")
		return
	}

	packet, err := buildSocketEventPacket("/", event, payload)
	if err != nil {
		s.logger.Warn().Err(err).Str("event", event).Msg("emit encode failed")
		return
	}
	if err := c.writeText(string(engineMessage) + packet); err != nil {
		s.unregisterConn(c)
	}
}

func (s *Server) registerConn(c *conn) {
	s.mu.Lock()
	s.connsBySID[c.sid] = c
	s.mu.Unlock()
}

func (s *Server) unregisterConn(c *conn) {
	s.mu.Lock()
	_, present := s.connsBySID[c.sid]
	delete(s.connsBySID, c.sid)
	s.mu.Unlock()

	// The close notification is best effort: only unbind if this conn ever
	// authenticated, and only once.
	if present && c.connected.Load() {
		s.relay.HandleDisconnect(context.Background(), c.userID)
	}
	c.close()
}

func (s *Server) handleMessage(c *conn, msg string) {
	if msg == "" {
		return
	}

	switch enginePacketType(msg[0]) {
	case enginePong:
		c.markPong()
	case engineMessage:
		s.handleSocketPayload(c, msg[1:])
	case engineClose:
		c.close()
	}
}

type connectAuth struct {
	Token string `json:"token"`
}

func (s *Server) handleSocketPayload(c *conn, payload string) {
	if payload == "" {
		return
	}

	switch socketPacketType(payload[0]) {
	case socketConnect:
		s.handleConnect(c, payload)
	case socketEvent:
		s.handleEvent(c, payload)
	}
}

func (s *Server) handleConnect(c *conn, payload string) {
	if c.connected.Load() {
		return
	}

	_, rest := parseOptionalNamespace(payload[1:])
	if rest == "" {
		_ = c.writeSocketError("Missing auth")
		c.close()
		return
	}

	var authObj connectAuth
	if err := json.Unmarshal([]byte(rest), &authObj); err != nil {
		_ = c.writeSocketError("Invalid auth")
		c.close()
		return
	}
	if authObj.Token == "" {
		_ = c.writeSocketError("Missing token")
		c.close()
		return
	}
	claims, err := auth.VerifyToken(authObj.Token, s.tokenConfig)
	if err != nil || claims == nil {
		_ = c.writeSocketError("Invalid authentication token")
		c.close()
		return
	}

	c.userID = claims.UserID
	c.tenantID = claims.TenantID
	c.userName = claims.UserName
	c.connected.Store(true)

	// The open notification: bind this socket as the identity's one live
	// handle. A racing reconnect simply wins with the newer sid.
	s.relay.HandleConnect(context.Background(), c.userID, c.sid)
	s.logger.Debug().
		Int64("user", c.userID).
		Int64("tenant", c.tenantID).
		Str("name", c.userName).
		Str("sid", c.sid).
		Msg("socket connected")

	connectPacket, err := buildSocketConnectPacket("/", c.sid)
	if err != nil {
		c.close()
		return
	}
	_ = c.writeText(string(engineMessage) + connectPacket)
}

func (s *Server) handleEvent(c *conn, payload string) {
	if !c.connected.Load() {
		return
	}

	pkt, err := parseSocketEventPacket(payload)
	if err != nil {
		return
	}

	if _, blind := s.blindEvents[pkt.Event]; blind {
		if len(pkt.Args) < 1 {
			s.logger.Warn().Str("event", pkt.Event).Msg("opaque event without payload dropped")
			return
		}
		s.relay.RelayOpaque(context.Background(), c.userID, pkt.Event, pkt.Args[0])
		return
	}

	switch pkt.Event {
	case "heartbeat":
		s.relay.Heartbeat(context.Background(), c.userID)

	case "keepalive":
		s.relay.RespondToProbe(c.sid)
	}
}

type conn struct {
	ws *websocket.Conn

	sid string

	connected atomic.Bool

	userID   int64
	tenantID int64
	userName string

	sendMu sync.Mutex

	pingMu       sync.Mutex
	awaitingPong bool
	pingSentAt   time.Time
	nextPingAt   time.Time

	closed atomic.Bool
}

func newConn(ws *websocket.Conn) *conn {
	return &conn{
		ws:         ws,
		sid:        uuid.NewString(),
		nextPingAt: time.Now().Add(25 * time.Second),
	}
}

func (c *conn) close() {
	if c.closed.Swap(true) {
		return
	}
	_ = c.ws.Close()
}

func (c *conn) writeText(msg string) error {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if err := c.ws.SetWriteDeadline(time.Now().Add(writeTimeout)); err != nil {
		return err
	}
	return c.ws.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (c *conn) readLoop(onMessage func(string)) {
	defer c.close()
	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		onMessage(string(data))
	}
}

func (c *conn) pingLoop() {
	ticker := time.NewTicker(1 * time.Second)
	defer ticker.Stop()
	for range ticker.C {
		if c.closed.Load() {
			return
		}
		now := time.Now()
		c.pingMu.Lock()
		awaiting := c.awaitingPong
		pingSentAt := c.pingSentAt
		nextPingAt := c.nextPingAt
		if awaiting && now.Sub(pingSentAt) > 20*time.Second {
			c.pingMu.Unlock()
			c.close()
			return
		}
		if !awaiting && !now.Before(nextPingAt) {
			c.awaitingPong = true
			c.pingSentAt = now
			c.nextPingAt = now.Add(25 * time.Second)
			c.pingMu.Unlock()
			_ = c.writeText(string(enginePing))
			continue
		}
		c.pingMu.Unlock()
	}
}

func (c *conn) markPong() {
	c.pingMu.Lock()
	c.awaitingPong = false
	c.pingMu.Unlock()
}

func (c *conn) writeSocketError(msg string) error {
	packet, err := buildSocketEventPacket("/", "error", map[string]any{"message": msg})
	if err != nil {
		return err
	}
	return c.writeText(string(engineMessage) + packet)
}
