package broadcast

import (
	"context"
	"time"
)

// Envelope kinds that business services emit.
const (
	KindOrderUpdate        = "order-update"
	KindInventoryUpdate    = "inventory-update"
	KindEmergencyAlert     = "emergency-alert"
	KindRouteOptimized     = "route-optimization-complete"
	KindPromotionUpdate    = "promotion-update"
	KindSystemNotification = "system-notification"
	KindAnalyticsUpdate    = "analytics-update"
)

const adminChannel = "system.admin"

type Order struct {
	ID         string  `json:"order_id"`
	CustomerID string  `json:"customer_id"`
	SellerID   string  `json:"seller_id"`
	CourierID  string  `json:"courier_id,omitempty"`
	Status     string  `json:"status"`
	Total      float64 `json:"total,omitempty"`
	Currency   string  `json:"currency,omitempty"`
}

type OrderStatusChange struct {
	Order
	PreviousStatus string `json:"previous_status,omitempty"`
	Note           string `json:"note,omitempty"`
}

type InventoryChange struct {
	ProductID        string `json:"product_id"`
	SellerID         string `json:"seller_id"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity *int   `json:"previous_quantity,omitempty"`
}

type Alert struct {
	ID          string    `json:"id"`
	AlertType   string    `json:"alert_type"`
	ReporterID  string    `json:"reporter_id"`
	Lat         float64   `json:"lat"`
	Lng         float64   `json:"lng"`
	Description string    `json:"description"`
	Severity    string    `json:"severity"`
	RaisedAt    time.Time `json:"raised_at"`
}

type Stop struct {
	OrderID string  `json:"order_id"`
	Lat     float64 `json:"lat"`
	Lng     float64 `json:"lng"`
}

type RouteResult struct {
	JobID      string  `json:"job_id"`
	CourierID  string  `json:"courier_id"`
	Stops      []Stop  `json:"stops"`
	DistanceKm float64 `json:"distance_km"`
}

type Promotion struct {
	ID          string    `json:"promotion_id"`
	Title       string    `json:"title"`
	Description string    `json:"description,omitempty"`
	Discount    float64   `json:"discount,omitempty"`
	ProductIDs  []string  `json:"product_ids,omitempty"`
	ValidUntil  time.Time `json:"valid_until,omitempty"`
}

type Notice struct {
	Title    string `json:"title"`
	Message  string `json:"message"`
	Severity string `json:"severity,omitempty"`
}

// Notifier turns business events into broadcasts on the channels whose
// subscribers care about them. Every call is fire-and-forget.
type Notifier struct {
	b Broadcaster
}

func NewNotifier(b Broadcaster) *Notifier {
	return &Notifier{b: b}
}

func (n *Notifier) send(ctx context.Context, env Envelope, channels ...string) {
	for _, ch := range channels {
		n.b.Notify(ctx, ch, env)
	}
}

func orderChannels(o Order) []string {
	var out []string
	if o.CustomerID != "" {
		out = append(out, "notifications.customer."+o.CustomerID)
	}
	if o.SellerID != "" {
		out = append(out, "seller."+o.SellerID+".orders")
	}
	if o.CourierID != "" {
		out = append(out, "deliveries."+o.CourierID)
	}
	if o.ID != "" {
		out = append(out, "orders."+o.ID)
	}
	return append(out, adminChannel)
}

func (n *Notifier) OrderCreated(ctx context.Context, o Order) {
	n.send(ctx, Envelope{Kind: KindOrderUpdate, Data: o}, orderChannels(o)...)
}

func (n *Notifier) OrderStatusChanged(ctx context.Context, c OrderStatusChange) {
	n.send(ctx, Envelope{Kind: KindOrderUpdate, Data: c}, orderChannels(c.Order)...)
}

func (n *Notifier) InventoryChanged(ctx context.Context, c InventoryChange) {
	channels := []string{"inventory." + c.ProductID}
	if c.SellerID != "" {
		channels = append(channels, "notifications.seller."+c.SellerID)
	}
	n.send(ctx, Envelope{Kind: KindInventoryUpdate, Data: c}, channels...)
}

func (n *Notifier) EmergencyAlertRaised(ctx context.Context, a Alert) {
	n.send(ctx, Envelope{Kind: KindEmergencyAlert, Data: a}, adminChannel)
}

func (n *Notifier) RouteOptimized(ctx context.Context, r RouteResult) {
	n.send(ctx, Envelope{Kind: KindRouteOptimized, Data: r}, "routes."+r.CourierID)
}

func (n *Notifier) Promotion(ctx context.Context, p Promotion) {
	n.send(ctx, Envelope{Kind: KindPromotionUpdate, Data: p}, "promotions")
}

// SystemNotification targets one identity's notification channel, e.g.
// role "seller" and userID "S1" sends to notifications.seller.S1. An empty
// userID sends to the admin channel.
func (n *Notifier) SystemNotification(ctx context.Context, role, userID string, notice Notice) {
	ch := adminChannel
	if userID != "" {
		ch = "notifications." + role + "." + userID
	}
	n.send(ctx, Envelope{Kind: KindSystemNotification, Data: notice}, ch)
}
