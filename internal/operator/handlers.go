package operator

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/bazaar-realtime/internal/alerts"
	"github.com/darkden-lab/bazaar-realtime/internal/httputil"
	"github.com/darkden-lab/bazaar-realtime/internal/presence"
	"github.com/darkden-lab/bazaar-realtime/internal/stats"
)

const (
	defaultAlertLimit = 50
	maxAlertLimit     = 500
	maxPresenceIDs    = 200
)

// Handlers provides the operator views over broker state.
type Handlers struct {
	stats    *stats.Collector
	alerts   *alerts.Log
	presence *presence.Tracker
	guard    []mux.MiddlewareFunc
}

// NewHandlers creates a new Handlers. guard runs in order before every
// route, typically authentication followed by an admin role check.
func NewHandlers(st *stats.Collector, log *alerts.Log, tracker *presence.Tracker, guard ...mux.MiddlewareFunc) *Handlers {
	return &Handlers{stats: st, alerts: log, presence: tracker, guard: guard}
}

// RegisterRoutes wires the operator endpoints onto the provided router.
func (h *Handlers) RegisterRoutes(r *mux.Router) {
	routes := r.PathPrefix("/api/realtime").Subrouter()
	for _, mw := range h.guard {
		routes.Use(mw)
	}
	routes.HandleFunc("/stats", h.Stats).Methods(http.MethodGet)
	routes.HandleFunc("/alerts", h.Alerts).Methods(http.MethodGet)
	routes.HandleFunc("/presence", h.Presence).Methods(http.MethodGet, http.MethodPost)

	// /metrics exposes the same counters as /stats and sits behind the same guard.
	metrics := h.stats.Handler()
	for i := len(h.guard) - 1; i >= 0; i-- {
		metrics = h.guard[i](metrics)
	}
	r.Handle("/metrics", metrics).Methods(http.MethodGet)
}

// Stats handles GET /api/realtime/stats.
func (h *Handlers) Stats(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, h.stats.Snapshot())
}

// Alerts handles GET /api/realtime/alerts, newest first.
func (h *Handlers) Alerts(w http.ResponseWriter, r *http.Request) {
	limit := defaultAlertLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			httputil.WriteError(w, http.StatusBadRequest, "limit must be a positive integer")
			return
		}
		limit = min(n, maxAlertLimit)
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"alerts": h.alerts.Recent(limit),
		"total":  h.alerts.Total(),
		"limit":  limit,
	})
}

// Presence handles GET /api/realtime/presence?ids=a,b and POST with
// {"user_ids": [...]}.
func (h *Handlers) Presence(w http.ResponseWriter, r *http.Request) {
	var ids []string
	if r.Method == http.MethodPost {
		var body struct {
			UserIDs []string `json:"user_ids"`
		}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 64<<10)).Decode(&body); err != nil {
			httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		ids = body.UserIDs
	} else {
		for _, id := range strings.Split(r.URL.Query().Get("ids"), ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	if len(ids) == 0 {
		httputil.WriteError(w, http.StatusBadRequest, "at least one user id is required")
		return
	}
	if len(ids) > maxPresenceIDs {
		httputil.WriteError(w, http.StatusBadRequest, "too many user ids")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"users": h.presence.Lookup(ids),
	})
}
