package server

import (
	"bytes"
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"chat-relay-server/internal/auth"
	"chat-relay-server/internal/identity"
)

func waitForPrefix(t *testing.T, c *websocket.Conn, prefix string, timeout time.Duration) string {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		_ = c.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		_, data, err := c.ReadMessage()
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			t.Fatalf("ReadMessage: %v", err)
		}
		msg := string(data)
		if msg == "2" {
			_ = c.WriteMessage(websocket.TextMessage, []byte("3"))
			continue
		}
		if strings.HasPrefix(msg, prefix) {
			_ = c.SetReadDeadline(time.Time{})
			return msg
		}
	}
	t.Fatalf("timeout waiting for %q", prefix)
	return ""
}

type socketEnv struct {
	deps    Deps
	srv     *httptest.Server
	tokenBy map[string]string
}

func newSocketEnv(t *testing.T) *socketEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	resolver := identity.NewStatic()
	deps := testDeps(resolver)
	r := NewRouter(deps)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	env := &socketEnv{deps: deps, srv: srv, tokenBy: make(map[string]string)}
	for _, user := range []identity.Identity{
		{ID: 42, TenantID: 1, Name: "alice"},
		{ID: 7, TenantID: 1, Name: "bob"},
	} {
		resolver.Add(user)
		token, err := auth.CreateToken(user, deps.TokenConfig)
		if err != nil {
			t.Fatalf("CreateToken: %v", err)
		}
		env.tokenBy[user.Name] = token
	}
	return env
}

// connect dials the socket.io endpoint and completes the handshake plus the
// authenticated connect exchange.
func (e *socketEnv) connect(t *testing.T, userName string) *websocket.Conn {
	t.Helper()
	wsURL := "ws" + strings.TrimPrefix(e.srv.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })

	open := waitForPrefix(t, conn, "0{", 2*time.Second)
	if !strings.Contains(open, "\"pingInterval\"") {
		t.Fatalf("unexpected open packet: %s", open)
	}

	authBytes, _ := json.Marshal(map[string]any{"token": e.tokenBy[userName]})
	if err := conn.WriteMessage(websocket.TextMessage, []byte("40"+string(authBytes))); err != nil {
		t.Fatalf("WriteMessage(connect): %v", err)
	}
	_ = waitForPrefix(t, conn, "40", 2*time.Second)
	return conn
}

func (e *socketEnv) post(t *testing.T, path, userName string, body any) *http.Response {
	t.Helper()
	payload, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	req, err := http.NewRequest(http.MethodPost, e.srv.URL+path, bytes.NewReader(payload))
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.Header.Set("Authorization", "Bearer "+e.tokenBy[userName])
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("Do: %v", err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestSocket_KeepaliveProbe(t *testing.T) {
	e := newSocketEnv(t)
	conn := e.connect(t, "alice")

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`42["keepalive"]`)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	ack := waitForPrefix(t, conn, `42["keepalive-ack"`, 2*time.Second)
	if ack == "" {
		t.Fatalf("missing keepalive ack")
	}
}

func TestSocket_DirectedMessageDelivery(t *testing.T) {
	e := newSocketEnv(t)
	aliceConn := e.connect(t, "alice")

	resp := e.post(t, "/v1/chat/message", "bob", map[string]any{"toUserName": "Alice", "message": "hi"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	msg := waitForPrefix(t, aliceConn, `42["chat-message"`, 2*time.Second)
	if !strings.Contains(msg, `"fromUserName":"bob"`) || !strings.Contains(msg, `"message":"hi"`) {
		t.Fatalf("unexpected payload: %s", msg)
	}
}

func TestSocket_BlindRelayForwardsOpaquePayload(t *testing.T) {
	e := newSocketEnv(t)
	aliceConn := e.connect(t, "alice")
	bobConn := e.connect(t, "bob")

	// Alice initiates toward bob (id 7); the payload body is opaque to the
	// server and must arrive unchanged.
	opaque := `42["pair-request",{"target_user_id":7,"blob":"AAEC","round":1}]`
	if err := aliceConn.WriteMessage(websocket.TextMessage, []byte(opaque)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got := waitForPrefix(t, bobConn, `42["pair-request"`, 2*time.Second)
	if !strings.Contains(got, `"blob":"AAEC"`) || !strings.Contains(got, `"round":1`) {
		t.Fatalf("payload was transformed: %s", got)
	}

	// Bob responds toward the initiator (id 42) under the reversed field.
	response := `42["pair-response",{"initiator_id":42,"blob":"AwQF"}]`
	if err := bobConn.WriteMessage(websocket.TextMessage, []byte(response)); err != nil {
		t.Fatalf("WriteMessage: %v", err)
	}
	got = waitForPrefix(t, aliceConn, `42["pair-response"`, 2*time.Second)
	if !strings.Contains(got, `"blob":"AwQF"`) {
		t.Fatalf("payload was transformed: %s", got)
	}
}

func TestSocket_DisconnectUnbinds(t *testing.T) {
	e := newSocketEnv(t)
	conn := e.connect(t, "alice")

	handle, err := e.deps.Relay.ConnectionOf(context.Background(), 42)
	if err != nil || handle == "" {
		t.Fatalf("expected alice bound, got %q err %v", handle, err)
	}

	_ = conn.Close()
	deadline := time.Now().Add(2 * time.Second)
	for {
		handle, err = e.deps.Relay.ConnectionOf(context.Background(), 42)
		if err == nil && handle == "" {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("alice still bound after disconnect: %q", handle)
		}
		time.Sleep(10 * time.Millisecond)
	}

	resp := e.post(t, "/v1/chat/message", "bob", map[string]any{"toUserName": "alice", "message": "hi"})
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after disconnect, got %d", resp.StatusCode)
	}
}
