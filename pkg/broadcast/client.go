// Package broadcast is the client side of the realtime gateway, for platform
// services that push events to connected users.
package broadcast

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every gateway call unless overridden.
const DefaultTimeout = 2 * time.Second

// Envelope is what gets delivered to subscribers; the gateway stamps the
// timestamp.
type Envelope struct {
	Kind string `json:"kind"`
	Data any    `json:"data,omitempty"`
}

// Broadcaster is implemented by Client and GRPCClient.
type Broadcaster interface {
	Broadcast(ctx context.Context, channel string, env Envelope) (int, error)
	Notify(ctx context.Context, channel string, env Envelope)
}

// GatewayError is returned when the gateway answers with a non-2xx status.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	return fmt.Sprintf("gateway returned status %d: %s", e.StatusCode, e.Message)
}

// Client calls the gateway's HTTP face.
type Client struct {
	url     string
	token   string
	timeout time.Duration
	http    *http.Client
	logger  zerolog.Logger
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// NewClient creates a client for the gateway at baseURL, e.g.
// "http://realtime:8080".
func NewClient(baseURL, token string, opts ...Option) *Client {
	c := &Client{
		url:     strings.TrimRight(baseURL, "/") + "/api/gateway/broadcast",
		token:   token,
		timeout: DefaultTimeout,
		http:    &http.Client{},
		logger:  zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Broadcast sends env to channel and returns the delivered count. It makes
// exactly one attempt.
func (c *Client) Broadcast(ctx context.Context, channel string, env Envelope) (int, error) {
	body, err := json.Marshal(map[string]any{"channel": channel, "envelope": env})
	if err != nil {
		return 0, fmt.Errorf("marshal broadcast: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return 0, fmt.Errorf("gateway request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var e struct {
			Error string `json:"error"`
		}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		if json.Unmarshal(raw, &e) != nil || e.Error == "" {
			e.Error = strings.TrimSpace(string(raw))
		}
		return 0, &GatewayError{StatusCode: resp.StatusCode, Message: e.Error}
	}

	var out struct {
		DeliveredCount int `json:"delivered_count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return 0, fmt.Errorf("decode gateway response: %w", err)
	}
	return out.DeliveredCount, nil
}

// Notify is Broadcast for callers that must not be slowed down or failed by
// the realtime layer. Failures are logged and dropped.
func (c *Client) Notify(ctx context.Context, channel string, env Envelope) {
	notify(ctx, c, c.logger, channel, env)
}

func notify(ctx context.Context, b Broadcaster, logger zerolog.Logger, channel string, env Envelope) {
	n, err := b.Broadcast(ctx, channel, env)
	if err != nil {
		logger.Warn().Err(err).Str("channel", channel).Str("kind", env.Kind).Msg("realtime broadcast failed")
		return
	}
	logger.Debug().Str("channel", channel).Str("kind", env.Kind).Int("delivered", n).Msg("realtime broadcast")
}
