package protocol

import (
	"encoding/json"
	"time"
)

// Kind discriminates outbound envelopes.
type Kind string

const (
	KindConnectionConfirmed     Kind = "connection-confirmed"
	KindSubscribed              Kind = "subscribed"
	KindUnsubscribed            Kind = "unsubscribed"
	KindError                   Kind = "error"
	KindPong                    Kind = "pong"
	KindOrderUpdate             Kind = "order-update"
	KindLocationUpdate          Kind = "location-update"
	KindChatMessage             Kind = "chat-message"
	KindDeliveryUpdate          Kind = "delivery-update"
	KindInventoryUpdate         Kind = "inventory-update"
	KindEmergencyAlert          Kind = "emergency-alert"
	KindRouteOptimizationQueued Kind = "route-optimization-queued"
	KindUserStatusUpdate        Kind = "user-status-update"
	KindSystemNotification      Kind = "system-notification"
	KindPromotionUpdate         Kind = "promotion-update"
	KindAnalyticsUpdate         Kind = "analytics-update"
	KindRouteOptimizationDone   Kind = "route-optimization-complete"
)

var outboundKinds = map[Kind]bool{
	KindConnectionConfirmed:     true,
	KindSubscribed:              true,
	KindUnsubscribed:            true,
	KindError:                   true,
	KindPong:                    true,
	KindOrderUpdate:             true,
	KindLocationUpdate:          true,
	KindChatMessage:             true,
	KindDeliveryUpdate:          true,
	KindInventoryUpdate:         true,
	KindEmergencyAlert:          true,
	KindRouteOptimizationQueued: true,
	KindUserStatusUpdate:        true,
	KindSystemNotification:      true,
	KindPromotionUpdate:         true,
	KindAnalyticsUpdate:         true,
	KindRouteOptimizationDone:   true,
}

// Broadcastable reports whether k may be injected through the gateway.
// Session-scoped kinds (confirmations, errors, pong) are reply-only.
func (k Kind) Broadcastable() bool {
	switch k {
	case KindConnectionConfirmed, KindSubscribed, KindUnsubscribed, KindError, KindPong, KindRouteOptimizationQueued:
		return false
	}
	return outboundKinds[k]
}

func (k Kind) Valid() bool { return outboundKinds[k] }

// Envelope is the outbound wire message.
type Envelope struct {
	Kind      Kind      `json:"kind"`
	Timestamp time.Time `json:"timestamp"`
	Data      any       `json:"data,omitempty"`
}

func New(kind Kind, data any) Envelope {
	return Envelope{Kind: kind, Timestamp: time.Now().UTC(), Data: data}
}

func (e Envelope) Encode() ([]byte, error) {
	return json.Marshal(e)
}

// Error builds an error envelope for the sender.
func Error(code, message string) Envelope {
	return New(KindError, ErrorData{Code: code, Message: message})
}

// Error codes carried in error envelopes.
const (
	CodeMalformed   = "malformed"
	CodeMissingKind = "missing_kind"
	CodeUnknownKind = "unknown_kind"
	CodeInvalid     = "invalid_payload"
	CodeForbidden   = "forbidden"
	CodeRateLimited = "rate_limited"
	CodeUnavailable = "unavailable"
)

type ErrorData struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type ConnectionConfirmed struct {
	ConnectionID      string   `json:"connection_id"`
	UserID            string   `json:"user_id"`
	Role              string   `json:"role"`
	Channels          []string `json:"channels"`
	HeartbeatInterval int64    `json:"heartbeat_interval_ms"`
}

type ChannelAck struct {
	Channel string `json:"channel"`
}

type Pong struct {
	ServerTime time.Time `json:"server_time"`
}

type UserStatus struct {
	UserID   string    `json:"user_id"`
	Role     string    `json:"role"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type RouteQueued struct {
	JobID            string `json:"job_id"`
	EstimatedSeconds int    `json:"estimated_seconds"`
}
