package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/darkden-lab/bazaar-realtime/internal/policy"
)

var (
	ErrMalformed   = errors.New("malformed frame")
	ErrMissingKind = errors.New("missing kind")
)

type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return fmt.Sprintf("unknown message kind %q", e.Kind)
}

type InvalidPayloadError struct {
	Kind   string
	Reason string
}

func (e *InvalidPayloadError) Error() string {
	return fmt.Sprintf("invalid %s payload: %s", e.Kind, e.Reason)
}

// Inbound is the sealed set of client-to-server messages.
type Inbound interface {
	Kind() string
	validate() error
}

type Ping struct{}

type Subscribe struct {
	Channel string `json:"channel"`
}

type Unsubscribe struct {
	Channel string `json:"channel"`
}

type OrderStatusUpdate struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	Note           string `json:"note,omitempty"`
}

type DeliveryStatusUpdate struct {
	OrderID string `json:"order_id"`
	Status  string `json:"status"`
	ETA     string `json:"eta,omitempty"`
	Note    string `json:"note,omitempty"`
}

type InventoryUpdate struct {
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity *int   `json:"previous_quantity,omitempty"`
}

type ChatMessage struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type LocationUpdate struct {
	OrderID string   `json:"order_id,omitempty"`
	Lat     float64  `json:"lat"`
	Lng     float64  `json:"lng"`
	Heading *float64 `json:"heading,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
}

type EmergencyAlert struct {
	AlertType   string  `json:"alert_type"`
	Lat         float64 `json:"lat"`
	Lng         float64 `json:"lng"`
	Description string  `json:"description"`
	Severity    string  `json:"severity"`
}

type Stop struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type RouteOptimizationRequest struct {
	Origin *Stop  `json:"origin,omitempty"`
	Stops  []Stop `json:"stops"`
}

func (Ping) Kind() string                     { return "ping" }
func (Subscribe) Kind() string                { return "subscribe" }
func (Unsubscribe) Kind() string              { return "unsubscribe" }
func (OrderStatusUpdate) Kind() string        { return "order-status-update" }
func (DeliveryStatusUpdate) Kind() string     { return "delivery-status-update" }
func (InventoryUpdate) Kind() string          { return "inventory-update" }
func (ChatMessage) Kind() string              { return "chat-message" }
func (LocationUpdate) Kind() string           { return "location-update" }
func (EmergencyAlert) Kind() string           { return "emergency-alert" }
func (RouteOptimizationRequest) Kind() string { return "route-optimization-request" }

const (
	maxChatText    = 2000
	maxDescription = 1000
	maxStops       = 50
)

var severities = map[string]bool{"low": true, "medium": true, "high": true, "critical": true}

func (Ping) validate() error { return nil }

func (m Subscribe) validate() error {
	return require(m.Kind(), "channel", m.Channel)
}

func (m Unsubscribe) validate() error {
	return require(m.Kind(), "channel", m.Channel)
}

func (m OrderStatusUpdate) validate() error {
	if err := requireID(m.Kind(), "order_id", m.OrderID); err != nil {
		return err
	}
	if m.CustomerID != "" {
		if err := requireID(m.Kind(), "customer_id", m.CustomerID); err != nil {
			return err
		}
	}
	return require(m.Kind(), "status", m.Status)
}

func (m DeliveryStatusUpdate) validate() error {
	if err := requireID(m.Kind(), "order_id", m.OrderID); err != nil {
		return err
	}
	return require(m.Kind(), "status", m.Status)
}

func (m InventoryUpdate) validate() error {
	if err := requireID(m.Kind(), "product_id", m.ProductID); err != nil {
		return err
	}
	if m.Quantity < 0 {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "quantity must not be negative"}
	}
	return nil
}

func (m ChatMessage) validate() error {
	if err := requireID(m.Kind(), "chat_id", m.ChatID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Text) == "" {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "text is required"}
	}
	if len(m.Text) > maxChatText {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "text too long"}
	}
	return nil
}

func (m LocationUpdate) validate() error {
	if m.OrderID != "" {
		if err := requireID(m.Kind(), "order_id", m.OrderID); err != nil {
			return err
		}
	}
	return validCoords(m.Kind(), m.Lat, m.Lng)
}

func (m EmergencyAlert) validate() error {
	if err := require(m.Kind(), "alert_type", m.AlertType); err != nil {
		return err
	}
	if !severities[m.Severity] {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "severity must be one of low, medium, high, critical"}
	}
	if len(m.Description) > maxDescription {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "description too long"}
	}
	return validCoords(m.Kind(), m.Lat, m.Lng)
}

func (m RouteOptimizationRequest) validate() error {
	if len(m.Stops) == 0 {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: "at least one stop is required"}
	}
	if len(m.Stops) > maxStops {
		return &InvalidPayloadError{Kind: m.Kind(), Reason: fmt.Sprintf("at most %d stops", maxStops)}
	}
	for _, s := range m.Stops {
		if err := validCoords(m.Kind(), s.Lat, s.Lng); err != nil {
			return err
		}
	}
	if m.Origin != nil {
		return validCoords(m.Kind(), m.Origin.Lat, m.Origin.Lng)
	}
	return nil
}

func require(kind, field, v string) error {
	if strings.TrimSpace(v) == "" {
		return &InvalidPayloadError{Kind: kind, Reason: field + " is required"}
	}
	return nil
}

// requireID checks a field that becomes a channel segment.
func requireID(kind, field, v string) error {
	if err := require(kind, field, v); err != nil {
		return err
	}
	if !policy.ValidToken(v) {
		return &InvalidPayloadError{Kind: kind, Reason: field + " may only contain letters, digits, '_' and '-'"}
	}
	return nil
}

func validCoords(kind string, lat, lng float64) error {
	if lat < -90 || lat > 90 || lng < -180 || lng > 180 {
		return &InvalidPayloadError{Kind: kind, Reason: "coordinates out of range"}
	}
	return nil
}

type frame struct {
	Kind *string         `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// Decode parses one inbound frame into its variant. Errors are ErrMalformed,
// ErrMissingKind, *UnknownKindError or *InvalidPayloadError.
func Decode(raw []byte) (Inbound, error) {
	var f frame
	if err := json.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if f.Kind == nil || *f.Kind == "" {
		return nil, ErrMissingKind
	}

	var msg Inbound
	switch *f.Kind {
	case "ping":
		msg = &Ping{}
	case "subscribe":
		msg = &Subscribe{}
	case "unsubscribe":
		msg = &Unsubscribe{}
	case "order-status-update":
		msg = &OrderStatusUpdate{}
	case "delivery-status-update":
		msg = &DeliveryStatusUpdate{}
	case "inventory-update":
		msg = &InventoryUpdate{}
	case "chat-message":
		msg = &ChatMessage{}
	case "location-update":
		msg = &LocationUpdate{}
	case "emergency-alert":
		msg = &EmergencyAlert{}
	case "route-optimization-request":
		msg = &RouteOptimizationRequest{}
	default:
		return nil, &UnknownKindError{Kind: *f.Kind}
	}

	if len(f.Data) > 0 && string(f.Data) != "null" {
		if err := json.Unmarshal(f.Data, msg); err != nil {
			return nil, &InvalidPayloadError{Kind: *f.Kind, Reason: err.Error()}
		}
	}
	if err := msg.validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// ErrorEnvelope maps a Decode error to the error envelope sent back.
func ErrorEnvelope(err error) Envelope {
	var unknown *UnknownKindError
	var invalid *InvalidPayloadError
	switch {
	case errors.Is(err, ErrMissingKind):
		return Error(CodeMissingKind, "message kind is required")
	case errors.As(err, &unknown):
		return Error(CodeUnknownKind, unknown.Error())
	case errors.As(err, &invalid):
		return Error(CodeInvalid, invalid.Error())
	default:
		return Error(CodeMalformed, "malformed message")
	}
}
