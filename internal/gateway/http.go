package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/darkden-lab/bazaar-realtime/internal/httputil"
)

const maxBodyBytes = 1 << 20

type HTTPHandler struct {
	gw *Gateway
}

func NewHTTPHandler(gw *Gateway) *HTTPHandler {
	return &HTTPHandler{gw: gw}
}

func (h *HTTPHandler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/api/gateway/broadcast", h.Broadcast).Methods(http.MethodPost)
}

// Broadcast handles POST /api/gateway/broadcast.
func (h *HTTPHandler) Broadcast(w http.ResponseWriter, r *http.Request) {
	if !h.gw.Authorize(httputil.BearerToken(r)) {
		httputil.WriteError(w, http.StatusUnauthorized, ErrUnauthorized.Error())
		return
	}

	var req Request
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(&req); err != nil {
		httputil.WriteError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	resp, err := h.gw.Handle(r.Context(), req)
	if err != nil {
		if badRequest(err) {
			httputil.WriteError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.gw.logger.Error().Err(err).Str("channel", req.Channel).Msg("broadcast failed")
		httputil.WriteError(w, http.StatusServiceUnavailable, "broadcast failed")
		return
	}

	httputil.WriteJSON(w, http.StatusOK, resp)
}
