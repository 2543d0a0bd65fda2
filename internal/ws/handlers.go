package ws

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/darkden-lab/bazaar-realtime/internal/auth"
	"github.com/darkden-lab/bazaar-realtime/internal/httputil"
	"github.com/darkden-lab/bazaar-realtime/internal/limits"
)

// WSHandler upgrades HTTP connections to WebSocket and spawns the read/write
// pumps for the new client.
type WSHandler struct {
	hub       *Hub
	validator *auth.Validator
	conns     *limits.ConnectionCap
	upgrader  websocket.Upgrader
}

func NewWSHandler(hub *Hub, validator *auth.Validator, conns *limits.ConnectionCap, origins *OriginChecker) *WSHandler {
	if origins == nil {
		origins = NewOriginChecker(nil)
	}
	return &WSHandler{
		hub:       hub,
		validator: validator,
		conns:     conns,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     origins.Check,
		},
	}
}

// RegisterRoutes wires the WebSocket endpoint.
func (h *WSHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/ws", h.ServeWS).Methods(http.MethodGet)
}

// ServeWS upgrades an HTTP GET /ws request to a WebSocket connection.
// The credential is read from:
//  1. The `token` query parameter, or
//  2. The `Authorization: Bearer <token>` header.
//
// A bad credential still completes the upgrade so the client receives close
// code 4401; nothing is registered for it.
func (h *WSHandler) ServeWS(w http.ResponseWriter, r *http.Request) {
	addr := httputil.ClientIP(r)
	if h.conns != nil && !h.conns.Acquire(addr) {
		h.hub.stats.RateLimited()
		httputil.WriteError(w, http.StatusTooManyRequests, "too many connections")
		return
	}
	release := func() {
		if h.conns != nil {
			h.conns.Release(addr)
		}
	}

	token := r.URL.Query().Get("token")
	if token == "" {
		token = httputil.BearerToken(r)
	}
	id, authErr := h.validator.Validate(r.Context(), token)

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// upgrader already wrote the error response.
		release()
		return
	}

	if authErr != nil {
		release()
		h.hub.stats.AuthFailure()
		h.hub.logger.Info().Err(authErr).Str("remote_addr", addr).Msg("rejected connection")
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(CloseUnauthorized, "unauthorized"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	client := NewClient(h.hub, conn, id, addr)
	h.hub.Admit(client)

	go client.WritePump()
	go func() {
		defer release()
		client.ReadPump()
	}()
}
