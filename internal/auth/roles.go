package auth

import "fmt"

// Role is the closed set of marketplace roles allowed to hold a connection.
type Role string

const (
	RoleCustomer Role = "customer"
	RoleSeller   Role = "seller"
	RoleDelivery Role = "delivery"
	RoleAdmin    Role = "admin"
)

var Roles = []Role{RoleCustomer, RoleSeller, RoleDelivery, RoleAdmin}

func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleCustomer, RoleSeller, RoleDelivery, RoleAdmin:
		return Role(s), nil
	case "vendor":
		return RoleSeller, nil
	case "courier":
		return RoleDelivery, nil
	}
	return "", fmt.Errorf("unknown role %q", s)
}

func (r Role) String() string { return string(r) }
