package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
)

// brokerRouter mirrors the server's public surface behind the limiter.
func brokerRouter(rps float64, burst int) *mux.Router {
	ok := func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) }

	r := mux.NewRouter()
	r.Use(RateLimitMiddleware(rps, burst))
	r.HandleFunc("/healthz", ok).Methods(http.MethodGet)
	r.HandleFunc("/ws", ok).Methods(http.MethodGet)
	r.HandleFunc("/api/gateway/broadcast", ok).Methods(http.MethodPost)
	return r
}

type call struct {
	method string
	path   string
	addr   string
	xff    string
	want   int
}

func (c call) do(t *testing.T, r http.Handler) *httptest.ResponseRecorder {
	t.Helper()
	var body *strings.Reader
	if c.method == http.MethodPost {
		body = strings.NewReader(`{"channel":"promotions","envelope":{"kind":"promotion"}}`)
	} else {
		body = strings.NewReader("")
	}
	req := httptest.NewRequest(c.method, c.path, body)
	req.RemoteAddr = c.addr
	if c.xff != "" {
		req.Header.Set("X-Forwarded-For", c.xff)
	}
	rr := httptest.NewRecorder()
	r.ServeHTTP(rr, req)
	if rr.Code != c.want {
		t.Errorf("%s %s from %s (xff %q): expected %d, got %d", c.method, c.path, c.addr, c.xff, c.want, rr.Code)
	}
	return rr
}

func TestRateLimitMiddleware(t *testing.T) {
	const (
		courier = "10.0.0.1:40000"
		seller  = "10.0.0.2:40000"
	)

	tests := []struct {
		name  string
		rps   float64
		burst int
		calls []call
	}{
		{
			name: "burst of websocket upgrades passes",
			rps:  10, burst: 3,
			calls: []call{
				{http.MethodGet, "/ws", courier, "", http.StatusOK},
				{http.MethodGet, "/ws", courier, "", http.StatusOK},
				{http.MethodGet, "/ws", courier, "", http.StatusOK},
			},
		},
		{
			name: "budget is shared across routes",
			rps:  1, burst: 2,
			calls: []call{
				{http.MethodGet, "/ws", courier, "", http.StatusOK},
				{http.MethodPost, "/api/gateway/broadcast", courier, "", http.StatusOK},
				{http.MethodGet, "/healthz", courier, "", http.StatusTooManyRequests},
			},
		},
		{
			name: "addresses are limited independently",
			rps:  1, burst: 1,
			calls: []call{
				{http.MethodPost, "/api/gateway/broadcast", courier, "", http.StatusOK},
				{http.MethodPost, "/api/gateway/broadcast", courier, "", http.StatusTooManyRequests},
				{http.MethodPost, "/api/gateway/broadcast", seller, "", http.StatusOK},
			},
		},
		{
			name: "forwarded header does not pick the bucket",
			rps:  1, burst: 1,
			calls: []call{
				{http.MethodGet, "/ws", courier, "203.0.113.50", http.StatusOK},
				{http.MethodGet, "/ws", courier, "198.51.100.99", http.StatusTooManyRequests},
				{http.MethodGet, "/ws", seller, "203.0.113.50", http.StatusOK},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := brokerRouter(tt.rps, tt.burst)
			for _, c := range tt.calls {
				c.do(t, r)
			}
		})
	}
}

func TestRateLimitMiddleware_ErrorBody(t *testing.T) {
	r := brokerRouter(1, 1)
	call{http.MethodGet, "/ws", "10.0.0.9:1", "", http.StatusOK}.do(t, r)
	rr := call{http.MethodGet, "/ws", "10.0.0.9:1", "", http.StatusTooManyRequests}.do(t, r)

	var body map[string]string
	if err := json.NewDecoder(rr.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body["error"] != "rate limit exceeded" {
		t.Errorf("expected 'rate limit exceeded', got %q", body["error"])
	}
}

func TestRateLimiterStore_EvictsStaleEntries(t *testing.T) {
	s := &rateLimiterStore{rps: 1, burst: 1, ttl: time.Minute}
	s.getLimiter("10.0.0.1")
	s.getLimiter("10.0.0.2")

	if n := s.evict(time.Now()); n != 0 {
		t.Fatalf("expected fresh entries to survive, evicted %d", n)
	}
	if n := s.evict(time.Now().Add(2 * time.Minute)); n != 2 {
		t.Errorf("expected 2 stale entries evicted, got %d", n)
	}
	if _, ok := s.limiters.Load("10.0.0.1"); ok {
		t.Error("stale limiter should have been removed")
	}
}
