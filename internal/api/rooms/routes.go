package rooms

import (
	"net/http"

	"github.com/gorilla/mux"
)

// RegisterRoutes wires the broker's HTTP surface onto the router.
func RegisterRoutes(r *mux.Router, h *Handler) {
	r.HandleFunc("/ws", h.ServeWS)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)
	r.HandleFunc("/api/v1/rooms/create", h.CreateRoom).Methods(http.MethodPost)
	r.HandleFunc("/api/v1/rooms/list", h.ListRooms).Methods(http.MethodGet)
}
