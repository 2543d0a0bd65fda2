package protocol

import "time"

// Payloads carried by business envelopes fanned out to channels.

type OrderUpdate struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	PreviousStatus string `json:"previous_status,omitempty"`
	CustomerID     string `json:"customer_id,omitempty"`
	SellerID       string `json:"seller_id,omitempty"`
	CourierID      string `json:"courier_id,omitempty"`
	Note           string `json:"note,omitempty"`
	UpdatedBy      string `json:"updated_by"`
	UpdatedByRole  string `json:"updated_by_role"`
}

type DeliveryUpdate struct {
	OrderID   string `json:"order_id"`
	CourierID string `json:"courier_id"`
	Status    string `json:"status"`
	ETA       string `json:"eta,omitempty"`
	Note      string `json:"note,omitempty"`
}

type InventoryChange struct {
	ProductID        string `json:"product_id"`
	Quantity         int    `json:"quantity"`
	PreviousQuantity *int   `json:"previous_quantity,omitempty"`
	SellerID         string `json:"seller_id"`
}

type Chat struct {
	ChatID     string `json:"chat_id"`
	SenderID   string `json:"sender_id"`
	SenderRole string `json:"sender_role"`
	Text       string `json:"text"`
}

type Location struct {
	CourierID string   `json:"courier_id"`
	OrderID   string   `json:"order_id,omitempty"`
	Lat       float64  `json:"lat"`
	Lng       float64  `json:"lng"`
	Heading   *float64 `json:"heading,omitempty"`
	Speed     *float64 `json:"speed,omitempty"`
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
