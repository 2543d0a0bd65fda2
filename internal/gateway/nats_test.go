package gateway

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNATSHandle(t *testing.T) {
	tests := []struct {
		name      string
		body      string
		delivered int
		errMsg    bool
		publishes int
	}{
		{"ok", `{"token":"` + testToken + `","channel":"analytics","envelope":{"kind":"analytics-update","data":{"gmv":10}}}`, 4, false, 1},
		{"bad token", `{"token":"x","channel":"analytics","envelope":{"kind":"analytics-update"}}`, 0, true, 0},
		{"missing token", `{"channel":"analytics","envelope":{"kind":"analytics-update"}}`, 0, true, 0},
		{"not json", `hello`, 0, true, 0},
		{"bad kind", `{"token":"` + testToken + `","channel":"analytics","envelope":{"kind":"pong"}}`, 0, true, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gw, pub := newTestGateway(4)
			r := &NATSResponder{gw: gw, timeout: time.Second, logger: zerolog.Nop()}

			var reply natsReply
			if err := json.Unmarshal(r.handle([]byte(tt.body)), &reply); err != nil {
				t.Fatalf("reply is not JSON: %v", err)
			}
			if (reply.Error != "") != tt.errMsg {
				t.Errorf("unexpected error field %q", reply.Error)
			}
			if reply.DeliveredCount != tt.delivered {
				t.Errorf("expected delivered_count %d, got %d", tt.delivered, reply.DeliveredCount)
			}
			if n := len(pub.published()); n != tt.publishes {
				t.Errorf("expected %d publishes, got %d", tt.publishes, n)
			}
		})
	}
}

func TestNATSResponderCloseWithoutConnection(t *testing.T) {
	r := &NATSResponder{}
	if err := r.Close(); err != nil {
		t.Errorf("expected nil, got %v", err)
	}
}
