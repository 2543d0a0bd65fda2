package ws

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

// received is an outbound envelope as a client sees it.
type received struct {
	Kind protocol.Kind   `json:"kind"`
	Data json.RawMessage `json:"data"`
}

func newTestHub(t *testing.T, cfg Config) *Hub {
	t.Helper()
	if cfg.HeartbeatInterval == 0 {
		cfg.HeartbeatInterval = time.Second
	}
	return NewHub(cfg, Deps{Logger: zerolog.Nop()})
}

// newTestClient builds a client without a socket; tests read its queue
// directly.
func newTestClient(h *Hub, userID string, role auth.Role) *Client {
	return NewClient(h, nil, auth.Identity{UserID: userID, Role: role}, "127.0.0.1")
}

func admit(t *testing.T, h *Hub, userID string, role auth.Role) *Client {
	t.Helper()
	c := newTestClient(h, userID, role)
	h.Admit(c)
	drain(t, c)
	return c
}

// drain returns everything queued for c.
func drain(t *testing.T, c *Client) []received {
	t.Helper()
	var out []received
	for {
		select {
		case data := <-c.send:
			var r received
			if err := json.Unmarshal(data, &r); err != nil {
				t.Fatalf("queued frame is not JSON: %v", err)
			}
			out = append(out, r)
		default:
			return out
		}
	}
}

func kinds(rs []received) []protocol.Kind {
	out := make([]protocol.Kind, len(rs))
	for i, r := range rs {
		out[i] = r.Kind
	}
	return out
}

func send(t *testing.T, h *Hub, c *Client, kind string, data any) {
	t.Helper()
	frame := map[string]any{"kind": kind}
	if data != nil {
		frame["data"] = data
	}
	raw, err := json.Marshal(frame)
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}
	h.dispatch(c, raw)
}

func onlyError(t *testing.T, rs []received, code string) {
	t.Helper()
	if len(rs) != 1 || rs[0].Kind != protocol.KindError {
		t.Fatalf("expected a single error envelope, got %v", kinds(rs))
	}
	var e protocol.ErrorData
	if err := json.Unmarshal(rs[0].Data, &e); err != nil {
		t.Fatalf("decode error data: %v", err)
	}
	if e.Code != code {
		t.Errorf("expected error code %q, got %q (%s)", code, e.Code, e.Message)
	}
}
