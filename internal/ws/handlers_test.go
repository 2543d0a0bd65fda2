package ws

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/limits"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

type testServer struct {
	hub *Hub
	jwt *auth.JWTService
	url string
}

func newTestServer(t *testing.T, maxPerIP int, origins ...string) *testServer {
	t.Helper()
	hub := newTestHub(t, Config{HeartbeatInterval: 5 * time.Second})
	jwtSvc := auth.NewJWTService("ws-test-secret")
	validator := auth.NewValidator(jwtSvc, auth.AllowAllAccounts{}, time.Minute)

	r := mux.NewRouter()
	NewWSHandler(hub, validator, limits.NewConnectionCap(maxPerIP), NewOriginChecker(origins)).RegisterRoutes(r)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		hub.Close()
		srv.Close()
	})

	return &testServer{
		hub: hub,
		jwt: jwtSvc,
		url: "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws",
	}
}

func (s *testServer) token(t *testing.T, userID string, role auth.Role) string {
	t.Helper()
	tok, err := s.jwt.GenerateToken(userID, role)
	if err != nil {
		t.Fatalf("GenerateToken: %v", err)
	}
	return tok
}

func (s *testServer) dial(t *testing.T, token string) (*websocket.Conn, *http.Response, error) {
	t.Helper()
	conn, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+token, nil)
	if err == nil {
		conn.SetReadDeadline(time.Now().Add(5 * time.Second))
		t.Cleanup(func() { conn.Close() })
	}
	return conn, resp, err
}

func readEnvelope(t *testing.T, conn *websocket.Conn) received {
	t.Helper()
	_, data, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var r received
	if err := json.Unmarshal(data, &r); err != nil {
		t.Fatalf("decode: %v", err)
	}
	return r
}

func expectClose(t *testing.T, conn *websocket.Conn, code int) {
	t.Helper()
	for {
		_, _, err := conn.ReadMessage()
		if err == nil {
			continue
		}
		var ce *websocket.CloseError
		if !errors.As(err, &ce) {
			t.Fatalf("expected close frame %d, got %v", code, err)
		}
		if ce.Code != code {
			t.Errorf("expected close code %d, got %d (%s)", code, ce.Code, ce.Text)
		}
		return
	}
}

// waitFor polls cond; server-side bookkeeping runs on other goroutines.
func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

// Scenario: a courier is auto-joined to its delivery channel and receives a
// broadcast sent there.
func TestServeWSCourierReceivesBroadcast(t *testing.T) {
	s := newTestServer(t, 5)
	conn, _, err := s.dial(t, s.token(t, "C1", auth.RoleDelivery))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}

	first := readEnvelope(t, conn)
	if first.Kind != protocol.KindConnectionConfirmed {
		t.Fatalf("expected connection-confirmed, got %s", first.Kind)
	}

	env := protocol.New(protocol.KindOrderUpdate, map[string]string{"order_id": "o-7", "status": "ready"})
	if n := s.hub.Publish("deliveries.C1", env); n != 1 {
		t.Fatalf("expected 1 delivery, got %d", n)
	}

	got := readEnvelope(t, conn)
	if got.Kind != protocol.KindOrderUpdate {
		t.Fatalf("expected order-update, got %s", got.Kind)
	}
	var data map[string]string
	if err := json.Unmarshal(got.Data, &data); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if data["order_id"] != "o-7" || data["status"] != "ready" {
		t.Errorf("payload changed in transit: %v", data)
	}
}

func TestServeWSDeniedSubscriptionKeepsConnection(t *testing.T) {
	s := newTestServer(t, 5)
	conn, _, err := s.dial(t, s.token(t, "U1", auth.RoleCustomer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEnvelope(t, conn)

	conn.WriteJSON(map[string]any{"kind": "subscribe", "data": map[string]string{"channel": "notifications.customer.U2"}})
	if got := readEnvelope(t, conn); got.Kind != protocol.KindError {
		t.Fatalf("expected error envelope, got %s", got.Kind)
	}

	conn.WriteJSON(map[string]any{"kind": "ping"})
	if got := readEnvelope(t, conn); got.Kind != protocol.KindPong {
		t.Errorf("expected the connection to stay usable, got %s", got.Kind)
	}
}

func TestServeWSRejectsBadCredential(t *testing.T) {
	s := newTestServer(t, 5)
	tests := []struct {
		name  string
		token string
	}{
		{"missing", ""},
		{"garbage", "not-a-jwt"},
		{"wrong secret", func() string {
			tok, _ := auth.NewJWTService("other-secret").GenerateToken("U1", auth.RoleCustomer)
			return tok
		}()},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conn, _, err := s.dial(t, tt.token)
			if err != nil {
				t.Fatalf("dial: %v", err)
			}
			expectClose(t, conn, CloseUnauthorized)
		})
	}

	if n := s.hub.ClientCount(); n != 0 {
		t.Errorf("SECURITY: unauthenticated connections were registered: %d", n)
	}
	if n := s.hub.Stats().Snapshot().AuthFailures; n != int64(len(tests)) {
		t.Errorf("expected %d auth failures, got %d", len(tests), n)
	}
}

func TestServeWSBinaryFrameClosesConnection(t *testing.T) {
	s := newTestServer(t, 5)
	conn, _, err := s.dial(t, s.token(t, "U1", auth.RoleCustomer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEnvelope(t, conn)

	if err := conn.WriteMessage(websocket.BinaryMessage, []byte{0x01, 0x02}); err != nil {
		t.Fatalf("write: %v", err)
	}
	expectClose(t, conn, CloseProtocolViolation)
	waitFor(t, "client removal", func() bool { return s.hub.ClientCount() == 0 })
}

func TestServeWSConnectionCap(t *testing.T) {
	s := newTestServer(t, 1)
	conn, _, err := s.dial(t, s.token(t, "U1", auth.RoleCustomer))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	readEnvelope(t, conn)

	_, resp, err := s.dial(t, s.token(t, "U1", auth.RoleCustomer))
	if err == nil {
		t.Fatal("expected second connection from the same address to be refused")
	}
	if resp == nil || resp.StatusCode != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %v", resp)
	}

	conn.Close()
	waitFor(t, "slot release", func() bool { return s.hub.ClientCount() == 0 })
	// The cap is released after the read pump exits.
	waitFor(t, "reconnect", func() bool {
		c, _, err := s.dial(t, s.token(t, "U1", auth.RoleCustomer))
		if err != nil {
			return false
		}
		c.Close()
		return true
	})
}

func TestServeWSOriginCheck(t *testing.T) {
	s := newTestServer(t, 5, "https://shop.example.com")
	tok := s.token(t, "U1", auth.RoleCustomer)

	header := http.Header{"Origin": []string{"https://evil.example.com"}}
	_, resp, err := websocket.DefaultDialer.Dial(s.url+"?token="+tok, header)
	if err == nil {
		t.Fatal("SECURITY: foreign origin was accepted")
	}
	if resp == nil || resp.StatusCode != http.StatusForbidden {
		t.Errorf("expected 403, got %v", resp)
	}

	header.Set("Origin", "https://shop.example.com")
	conn, _, err := websocket.DefaultDialer.Dial(s.url+"?token="+tok, header)
	if err != nil {
		t.Fatalf("allowed origin rejected: %v", err)
	}
	conn.Close()
}

func TestOriginChecker(t *testing.T) {
	tests := []struct {
		name    string
		allowed []string
		origin  string
		want    bool
	}{
		{"no origin header", []string{"https://a.example"}, "", true},
		{"exact match", []string{"https://a.example"}, "https://a.example", true},
		{"case insensitive", []string{"https://a.example"}, "HTTPS://A.EXAMPLE", true},
		{"trailing slash", []string{"https://a.example/"}, "https://a.example", true},
		{"not listed", []string{"https://a.example"}, "https://b.example", false},
		{"empty list", nil, "https://a.example", false},
		{"wildcard", []string{"*"}, "https://anything.example", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/ws", nil)
			if tt.origin != "" {
				req.Header.Set("Origin", tt.origin)
			}
			if got := NewOriginChecker(tt.allowed).Check(req); got != tt.want {
				t.Errorf("Check(%q) = %v, want %v", tt.origin, got, tt.want)
			}
		})
	}
}
