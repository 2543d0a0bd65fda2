package ws

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/darkden-lab/bazaar-realtime/internal/alerts"
	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/jobs"
	"github.com/darkden-lab/bazaar-realtime/internal/policy"
	"github.com/darkden-lab/bazaar-realtime/internal/protocol"
)

// ErrForbidden marks a role attempting a channel or action it may not use.
var ErrForbidden = errors.New("forbidden")

const enqueueTimeout = 2 * time.Second

// dispatch handles one inbound frame from c. Protocol and authorization
// errors are answered with an error envelope; the connection stays open.
func (h *Hub) dispatch(c *Client, raw []byte) {
	h.stats.MessageReceived()
	h.touch(c)

	msg, err := protocol.Decode(raw)
	if err != nil {
		h.stats.Error()
		h.logger.Debug().Err(err).Str("client_id", c.ID).Msg("rejected frame")
		h.reply(c, protocol.ErrorEnvelope(err))
		return
	}

	switch m := msg.(type) {
	case *protocol.Ping:
		h.reply(c, protocol.New(protocol.KindPong, protocol.Pong{ServerTime: h.now().UTC()}))

	case *protocol.Subscribe:
		h.handleSubscribe(c, m.Channel)

	case *protocol.Unsubscribe:
		h.Unsubscribe(c, m.Channel)
		h.reply(c, protocol.New(protocol.KindUnsubscribed, protocol.ChannelAck{Channel: m.Channel}))

	case *protocol.OrderStatusUpdate:
		if !h.permit(c, m.Kind(), auth.RoleSeller, auth.RoleDelivery, auth.RoleAdmin) {
			return
		}
		h.handleOrderStatus(c, m)

	case *protocol.DeliveryStatusUpdate:
		if !h.permit(c, m.Kind(), auth.RoleDelivery) {
			return
		}
		env := protocol.New(protocol.KindDeliveryUpdate, protocol.DeliveryUpdate{
			OrderID:   m.OrderID,
			CourierID: c.UserID,
			Status:    m.Status,
			ETA:       m.ETA,
			Note:      m.Note,
		})
		h.publishAll(env, "deliveries."+c.UserID, "tracking."+m.OrderID, "orders."+m.OrderID)

	case *protocol.InventoryUpdate:
		if !h.permit(c, m.Kind(), auth.RoleSeller) {
			return
		}
		env := protocol.New(protocol.KindInventoryUpdate, protocol.InventoryChange{
			ProductID:        m.ProductID,
			Quantity:         m.Quantity,
			PreviousQuantity: m.PreviousQuantity,
			SellerID:         c.UserID,
		})
		h.publishAll(env, "inventory."+m.ProductID)

	case *protocol.ChatMessage:
		if !h.requireChannel(c, "chat."+m.ChatID) {
			return
		}
		env := protocol.New(protocol.KindChatMessage, protocol.Chat{
			ChatID:     m.ChatID,
			SenderID:   c.UserID,
			SenderRole: string(c.Role),
			Text:       m.Text,
		})
		h.publishAll(env, "chat."+m.ChatID)

	case *protocol.LocationUpdate:
		if !h.permit(c, m.Kind(), auth.RoleDelivery) {
			return
		}
		env := protocol.New(protocol.KindLocationUpdate, protocol.Location{
			CourierID: c.UserID,
			OrderID:   m.OrderID,
			Lat:       m.Lat,
			Lng:       m.Lng,
			Heading:   m.Heading,
			Speed:     m.Speed,
		})
		channels := []string{"deliveries." + c.UserID}
		if m.OrderID != "" {
			channels = append(channels, "tracking."+m.OrderID)
		}
		h.publishAll(env, channels...)

	case *protocol.EmergencyAlert:
		if !h.permit(c, m.Kind(), auth.RoleDelivery) {
			return
		}
		h.handleEmergency(c, m)

	case *protocol.RouteOptimizationRequest:
		if !h.permit(c, m.Kind(), auth.RoleDelivery) {
			return
		}
		h.handleRouteRequest(c, m)

	default:
		h.stats.Error()
		h.reply(c, protocol.Error(protocol.CodeUnknownKind, fmt.Sprintf("unknown message kind %q", msg.Kind())))
	}
}

// permit replies forbidden unless c holds one of roles.
func (h *Hub) permit(c *Client, kind string, roles ...auth.Role) bool {
	for _, r := range roles {
		if c.Role == r {
			return true
		}
	}
	h.forbid(c, fmt.Sprintf("role %s may not send %s", c.Role, kind))
	return false
}

// requireChannel replies forbidden unless c may read channel. Used for
// peer messages where the sender must be a participant.
func (h *Hub) requireChannel(c *Client, channel string) bool {
	if h.policy.CanSubscribe(c.Role, c.UserID, channel) {
		return true
	}
	h.forbid(c, "not allowed on channel "+channel)
	return false
}

func (h *Hub) forbid(c *Client, message string) {
	h.stats.Error()
	h.logger.Info().
		Str("client_id", c.ID).
		Str("user_id", c.UserID).
		Str("role", string(c.Role)).
		Msg(message)
	h.reply(c, protocol.Error(protocol.CodeForbidden, message))
}

func (h *Hub) publishAll(env protocol.Envelope, channels ...string) int {
	total := 0
	for _, ch := range channels {
		if !policy.ValidChannel(ch) {
			continue
		}
		total += h.Publish(ch, env)
	}
	return total
}

func (h *Hub) handleSubscribe(c *Client, channel string) {
	if !h.policy.CanSubscribe(c.Role, c.UserID, channel) {
		h.forbid(c, fmt.Sprintf("%v: subscription to %s denied", ErrForbidden, channel))
		return
	}
	if _, err := h.Subscribe(c, channel); err != nil {
		return
	}
	h.reply(c, protocol.New(protocol.KindSubscribed, protocol.ChannelAck{Channel: channel}))
}

func (h *Hub) handleOrderStatus(c *Client, m *protocol.OrderStatusUpdate) {
	update := protocol.OrderUpdate{
		OrderID:        m.OrderID,
		Status:         m.Status,
		PreviousStatus: m.PreviousStatus,
		CustomerID:     m.CustomerID,
		Note:           m.Note,
		UpdatedBy:      c.UserID,
		UpdatedByRole:  string(c.Role),
	}
	switch c.Role {
	case auth.RoleSeller:
		update.SellerID = c.UserID
	case auth.RoleDelivery:
		update.CourierID = c.UserID
	}

	env := protocol.New(protocol.KindOrderUpdate, update)
	channels := []string{"orders." + m.OrderID}
	if m.CustomerID != "" {
		channels = append(channels, "notifications.customer."+m.CustomerID)
	}
	h.publishAll(env, channels...)
}

// handleEmergency is the one path with a persistence side effect: the alert
// is logged before it is broadcast so operators can read it later.
func (h *Hub) handleEmergency(c *Client, m *protocol.EmergencyAlert) {
	a := h.alerts.Append(alerts.Alert{
		AlertType:   m.AlertType,
		ReporterID:  c.UserID,
		Lat:         m.Lat,
		Lng:         m.Lng,
		Description: m.Description,
		Severity:    m.Severity,
		Timestamp:   h.now().UTC(),
	})

	n := h.Publish(AdminChannel, protocol.New(protocol.KindEmergencyAlert, protocol.Alert{
		ID:          a.ID,
		AlertType:   a.AlertType,
		ReporterID:  a.ReporterID,
		Lat:         a.Lat,
		Lng:         a.Lng,
		Description: a.Description,
		Severity:    a.Severity,
		RaisedAt:    a.Timestamp,
	}))

	h.logger.Warn().
		Str("alert_id", a.ID).
		Str("courier_id", c.UserID).
		Str("alert_type", a.AlertType).
		Str("severity", a.Severity).
		Int("delivered", n).
		Msg("emergency alert raised")
}

func (h *Hub) handleRouteRequest(c *Client, m *protocol.RouteOptimizationRequest) {
	q := h.routeQueue()
	if q == nil {
		h.stats.Error()
		h.reply(c, protocol.Error(protocol.CodeUnavailable, "route optimization is not available"))
		return
	}

	req := jobs.Request{
		JobID:       uuid.New().String(),
		CourierID:   c.UserID,
		Origin:      m.Origin,
		Stops:       m.Stops,
		RequestedAt: h.now().UTC(),
	}

	ctx, cancel := context.WithTimeout(context.Background(), enqueueTimeout)
	defer cancel()

	est, err := q.Enqueue(ctx, req)
	if err != nil {
		h.stats.Error()
		h.logger.Warn().Err(err).Str("courier_id", c.UserID).Msg("failed to enqueue route optimization")
		h.reply(c, protocol.Error(protocol.CodeUnavailable, "route optimization could not be queued"))
		return
	}

	h.reply(c, protocol.New(protocol.KindRouteOptimizationQueued, protocol.RouteQueued{
		JobID:            req.JobID,
		EstimatedSeconds: int((est + time.Second - 1) / time.Second),
	}))
}
