// Package gateway is the command surface other platform subsystems use to
// push events to connected clients. Every face (HTTP, gRPC, NATS) decodes
// its request and calls Gateway.Broadcast.
package gateway

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/darkden-lab/bazaar-realtime/internal/policy"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

var (
	ErrInvalidChannel  = errors.New("invalid channel")
	ErrInvalidEnvelope = errors.New("invalid envelope")
	ErrUnauthorized    = errors.New("invalid service token")
)

// Publisher fans an envelope out to a channel. *ws.Hub satisfies it.
type Publisher interface {
	Publish(channel string, env protocol.Envelope) int
}

// Message is the envelope as callers submit it; the timestamp is stamped on
// arrival.
type Message struct {
	Kind protocol.Kind   `json:"kind"`
	Data json.RawMessage `json:"data,omitempty"`
}

type Request struct {
	Channel  string  `json:"channel"`
	Envelope Message `json:"envelope"`
}

type Response struct {
	DeliveredCount int `json:"delivered_count"`
}

type Gateway struct {
	pub    Publisher
	token  [sha256.Size]byte
	logger zerolog.Logger
	now    func() time.Time
}

func New(pub Publisher, serviceToken string, logger zerolog.Logger) *Gateway {
	return &Gateway{
		pub:    pub,
		token:  sha256.Sum256([]byte(serviceToken)),
		logger: logger.With().Str("component", "gateway").Logger(),
		now:    time.Now,
	}
}

// Authorize compares token with the configured service token. Both sides are
// hashed first so the comparison is constant-time regardless of length.
func (g *Gateway) Authorize(token string) bool {
	if token == "" {
		return false
	}
	got := sha256.Sum256([]byte(token))
	return subtle.ConstantTimeCompare(got[:], g.token[:]) == 1
}

// Broadcast delivers env to the current subscribers of channel and returns
// how many accepted it. Zero subscribers is not an error.
func (g *Gateway) Broadcast(ctx context.Context, channel string, env protocol.Envelope) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if !policy.ValidChannel(channel) {
		return 0, fmt.Errorf("%w: %q", ErrInvalidChannel, channel)
	}
	if !env.Kind.Broadcastable() {
		return 0, fmt.Errorf("%w: kind %q cannot be broadcast", ErrInvalidEnvelope, env.Kind)
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = g.now().UTC()
	}

	n := g.pub.Publish(channel, env)
	g.logger.Debug().
		Str("channel", channel).
		Str("kind", string(env.Kind)).
		Int("delivered", n).
		Msg("broadcast")
	return n, nil
}

// Handle broadcasts a decoded request.
func (g *Gateway) Handle(ctx context.Context, req Request) (Response, error) {
	data := req.Envelope.Data
	if len(data) > 0 && !json.Valid(data) {
		return Response{}, fmt.Errorf("%w: data is not valid JSON", ErrInvalidEnvelope)
	}
	env := protocol.Envelope{Kind: req.Envelope.Kind, Timestamp: g.now().UTC()}
	if len(data) > 0 && string(data) != "null" {
		env.Data = data
	}
	n, err := g.Broadcast(ctx, req.Channel, env)
	if err != nil {
		return Response{}, err
	}
	return Response{DeliveredCount: n}, nil
}

// badRequest reports whether err is the caller's fault.
func badRequest(err error) bool {
	return errors.Is(err, ErrInvalidChannel) || errors.Is(err, ErrInvalidEnvelope)
}
