package ws

import (
	"net/http"
	"strings"
)

// OriginChecker validates the Origin header of upgrade requests against an
// allow-list. A "*" entry allows any origin.
type OriginChecker struct {
	allowed []string
	any     bool
}

func NewOriginChecker(origins []string) *OriginChecker {
	oc := &OriginChecker{}
	for _, o := range origins {
		o = strings.TrimSpace(o)
		switch o {
		case "":
		case "*":
			oc.any = true
		default:
			oc.allowed = append(oc.allowed, strings.TrimRight(o, "/"))
		}
	}
	return oc
}

// Check is intended to be used as the CheckOrigin field of a
// gorilla/websocket.Upgrader.
func (oc *OriginChecker) Check(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// No Origin header: same-origin request or non-browser client.
		return true
	}
	if oc.any {
		return true
	}
	origin = strings.TrimRight(origin, "/")
	for _, allowed := range oc.allowed {
		if strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}
