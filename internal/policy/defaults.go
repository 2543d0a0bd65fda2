package policy

import "github.com/darkden-lab/bazaar-realtime/internal/auth"

// DefaultRules is the marketplace channel policy used when no policy file is
// configured.
var DefaultRules = map[auth.Role][]Rule{
	auth.RoleCustomer: {
		{Template: "notifications.customer.{id}", Auto: true},
		{Template: "orders.{order_id}"},
		{Template: "tracking.{order_id}"},
		{Template: "chat.{chat_id}"},
		{Template: "inventory.{product_id}"},
		{Template: "promotions"},
		{Template: "presence.delivery"},
	},
	auth.RoleSeller: {
		{Template: "notifications.seller.{id}", Auto: true},
		{Template: "seller.{id}.orders", Auto: true},
		{Template: "orders.{order_id}"},
		{Template: "chat.{chat_id}"},
		{Template: "inventory.{product_id}"},
		{Template: "promotions"},
		{Template: "presence.delivery"},
	},
	auth.RoleDelivery: {
		{Template: "notifications.delivery.{id}", Auto: true},
		{Template: "deliveries.{id}", Auto: true},
		{Template: "routes.{id}", Auto: true},
		{Template: "orders.{order_id}"},
		{Template: "tracking.{order_id}"},
		{Template: "chat.{chat_id}"},
	},
	auth.RoleAdmin: {
		{Template: "system.admin", Auto: true},
		{Template: "notifications.admin.{id}", Auto: true},
		{Template: "analytics"},
		{Template: "orders.{order_id}"},
		{Template: "deliveries.{courier_id}"},
		{Template: "tracking.{order_id}"},
		{Template: "routes.{courier_id}"},
		{Template: "seller.{seller_id}.orders"},
		{Template: "chat.{chat_id}"},
		{Template: "inventory.{product_id}"},
		{Template: "promotions"},
		{Template: "presence.{role_name}"},
	},
}

// Default compiles DefaultRules. It panics only if the built-in table is
// malformed.
func Default() *Policy {
	p, err := New(DefaultRules)
	if err != nil {
		panic(err)
	}
	return p
}
