package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

const testToken = "gateway-test-token"

type published struct {
	channel string
	env     protocol.Envelope
}

type fakePublisher struct {
	mu        sync.Mutex
	calls     []published
	delivered int
}

func (f *fakePublisher) Publish(channel string, env protocol.Envelope) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, published{channel: channel, env: env})
	return f.delivered
}

func (f *fakePublisher) published() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.calls...)
}

func newTestGateway(delivered int) (*Gateway, *fakePublisher) {
	pub := &fakePublisher{delivered: delivered}
	return New(pub, testToken, zerolog.Nop()), pub
}

func TestAuthorize(t *testing.T) {
	gw, _ := newTestGateway(0)

	tests := []struct {
		token string
		want  bool
	}{
		{testToken, true},
		{"", false},
		{"gateway-test-toke", false},
		{testToken + "x", false},
		{"GATEWAY-TEST-TOKEN", false},
	}
	for _, tt := range tests {
		if got := gw.Authorize(tt.token); got != tt.want {
			t.Errorf("SECURITY: Authorize(%q) = %v, want %v", tt.token, got, tt.want)
		}
	}
}

func TestBroadcast(t *testing.T) {
	gw, pub := newTestGateway(3)

	n, err := gw.Broadcast(context.Background(), "deliveries.C1", protocol.New(protocol.KindOrderUpdate, map[string]string{"order_id": "o1"}))
	if err != nil {
		t.Fatalf("Broadcast: %v", err)
	}
	if n != 3 {
		t.Errorf("expected delivered count 3, got %d", n)
	}
	calls := pub.published()
	if len(calls) != 1 || calls[0].channel != "deliveries.C1" || calls[0].env.Kind != protocol.KindOrderUpdate {
		t.Errorf("unexpected publish %+v", calls)
	}
}

func TestBroadcastZeroSubscribersIsNotAnError(t *testing.T) {
	gw, _ := newTestGateway(0)
	n, err := gw.Broadcast(context.Background(), "orders.o1", protocol.New(protocol.KindOrderUpdate, nil))
	if err != nil || n != 0 {
		t.Errorf("expected (0, nil), got (%d, %v)", n, err)
	}
}

func TestBroadcastRejects(t *testing.T) {
	tests := []struct {
		name    string
		channel string
		kind    protocol.Kind
		want    error
	}{
		{"empty channel", "", protocol.KindOrderUpdate, ErrInvalidChannel},
		{"wildcard channel", "orders.*", protocol.KindOrderUpdate, ErrInvalidChannel},
		{"empty segment", "orders..x", protocol.KindOrderUpdate, ErrInvalidChannel},
		{"unknown kind", "orders.o1", "teleport", ErrInvalidEnvelope},
		{"empty kind", "orders.o1", "", ErrInvalidEnvelope},
		{"reply-only kind", "orders.o1", protocol.KindConnectionConfirmed, ErrInvalidEnvelope},
		{"error kind", "orders.o1", protocol.KindError, ErrInvalidEnvelope},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, pub := newTestGateway(1)
			_, err := gw.Broadcast(context.Background(), tt.channel, protocol.New(tt.kind, nil))
			if !errors.Is(err, tt.want) {
				t.Fatalf("expected %v, got %v", tt.want, err)
			}
			if len(pub.published()) != 0 {
				t.Error("rejected broadcast must not publish")
			}
		})
	}
}

func TestBroadcastCancelledContext(t *testing.T) {
	gw, pub := newTestGateway(1)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := gw.Broadcast(ctx, "orders.o1", protocol.New(protocol.KindOrderUpdate, nil)); !errors.Is(err, context.Canceled) {
		t.Errorf("expected context.Canceled, got %v", err)
	}
	if len(pub.published()) != 0 {
		t.Error("cancelled broadcast must not publish")
	}
}

func TestHandleKeepsPayload(t *testing.T) {
	gw, pub := newTestGateway(1)

	resp, err := gw.Handle(context.Background(), Request{
		Channel:  "inventory.p1",
		Envelope: Message{Kind: protocol.KindInventoryUpdate, Data: json.RawMessage(`{"product_id":"p1","quantity":4}`)},
	})
	if err != nil {
		t.Fatalf("Handle: %v", err)
	}
	if resp.DeliveredCount != 1 {
		t.Errorf("expected 1, got %d", resp.DeliveredCount)
	}

	calls := pub.published()
	if len(calls) != 1 {
		t.Fatalf("expected one publish, got %d", len(calls))
	}
	encoded, err := calls[0].env.Encode()
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	var out struct {
		Kind string         `json:"kind"`
		Data map[string]any `json:"data"`
	}
	if err := json.Unmarshal(encoded, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Kind != "inventory-update" || out.Data["product_id"] != "p1" || out.Data["quantity"] != float64(4) {
		t.Errorf("payload changed: %+v", out)
	}
	if calls[0].env.Timestamp.IsZero() {
		t.Error("expected arrival timestamp")
	}
}
