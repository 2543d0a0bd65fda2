package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog"
)

// NATSConfig configures the optional NATS request/reply face.
type NATSConfig struct {
	URL           string
	Subject       string
	MaxReconnects int
	ReconnectWait time.Duration
	Timeout       time.Duration
}

// natsRequest carries the service token in the body since plain NATS
// messages have no transport auth.
type natsRequest struct {
	Token string `json:"token"`
	Request
}

type natsReply struct {
	DeliveredCount int    `json:"delivered_count"`
	Error          string `json:"error,omitempty"`
}

// NATSResponder answers broadcast requests published on a subject.
type NATSResponder struct {
	conn    *nats.Conn
	sub     *nats.Subscription
	gw      *Gateway
	timeout time.Duration
	logger  zerolog.Logger
}

// ConnectNATS dials config.URL and starts answering requests on
// config.Subject.
func ConnectNATS(config NATSConfig, gw *Gateway, logger zerolog.Logger) (*NATSResponder, error) {
	if config.MaxReconnects == 0 {
		config.MaxReconnects = -1
	}
	if config.ReconnectWait <= 0 {
		config.ReconnectWait = 2 * time.Second
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}

	r := &NATSResponder{
		gw:      gw,
		timeout: config.Timeout,
		logger:  logger.With().Str("component", "gateway-nats").Logger(),
	}

	conn, err := nats.Connect(config.URL,
		nats.Name("bazaar-realtime-gateway"),
		nats.MaxReconnects(config.MaxReconnects),
		nats.ReconnectWait(config.ReconnectWait),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			r.logger.Warn().Err(err).Msg("disconnected from NATS")
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			r.logger.Info().Str("url", c.ConnectedUrl()).Msg("reconnected to NATS")
		}),
		nats.ErrorHandler(func(_ *nats.Conn, _ *nats.Subscription, err error) {
			r.logger.Error().Err(err).Msg("NATS error")
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	sub, err := conn.Subscribe(config.Subject, r.onMessage)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to subscribe to %s: %w", config.Subject, err)
	}

	r.conn = conn
	r.sub = sub
	r.logger.Info().Str("subject", config.Subject).Msg("NATS gateway listening")
	return r, nil
}

func (r *NATSResponder) onMessage(msg *nats.Msg) {
	if msg.Reply == "" {
		r.handle(msg.Data)
		return
	}
	if err := msg.Respond(r.handle(msg.Data)); err != nil {
		r.logger.Warn().Err(err).Msg("failed to respond")
	}
}

// handle processes one request body and returns the encoded reply.
func (r *NATSResponder) handle(data []byte) []byte {
	var reply natsReply

	var req natsRequest
	switch err := json.Unmarshal(data, &req); {
	case err != nil:
		reply.Error = "invalid request body"
	case !r.gw.Authorize(req.Token):
		reply.Error = ErrUnauthorized.Error()
	default:
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		resp, err := r.gw.Handle(ctx, req.Request)
		cancel()
		if err != nil {
			reply.Error = err.Error()
		} else {
			reply.DeliveredCount = resp.DeliveredCount
		}
	}

	out, _ := json.Marshal(reply)
	return out
}

// Close drains the subscription and closes the connection.
func (r *NATSResponder) Close() error {
	if r.conn == nil {
		return nil
	}
	if err := r.conn.Drain(); err != nil {
		r.conn.Close()
		return err
	}
	return nil
}
