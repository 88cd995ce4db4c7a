package rooms

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/ws"
)

// sendBuffer sizes each connection's outbound channel; a room member that
// falls this far behind gets dropped by the hub.
const sendBuffer = 256

// Handler owns the HTTP surface of the broker: the WebSocket upgrade, the
// room listing and the health probe.
type Handler struct {
	Hub *ws.Hub
	Log zerolog.Logger
}

var upgrader = websocket.Upgrader{
	// room identity is validated upstream; the broker takes any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeWS upgrades the connection and starts the read/write pump pair. The
// read pump feeds the hub's dispatch loop; the write pump drains the send
// channel until the hub closes it.
func (h *Handler) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.Log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &ws.Client{
		ID:   uuid.NewString(),
		Send: make(chan []byte, sendBuffer),
		Conn: conn,
	}
	h.Hub.Register <- client

	// read pump
	go func() {
		defer func() {
			h.Hub.Unregister <- client
			conn.Close()
		}()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			h.Hub.Inbound <- ws.Frame{Client: client, Data: msg}
		}
	}()

	// write pump
	go func() {
		for message := range client.Send {
			if err := conn.WriteMessage(websocket.TextMessage, message); err != nil {
				conn.Close()
				// drain so the hub never blocks on us
				for range client.Send {
				}
				return
			}
		}
		conn.Close()
	}()
}

// CreateRoom mints a room id. Creation is advisory: joining an unknown id
// also works, this endpoint just gives surfaces something to share.
func (h *Handler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	h.Log.Info().Str("room", id).Msg("room created")

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(map[string]string{"id": id})
}

// ListRooms returns the live rooms with member and renderer counts.
func (h *Handler) ListRooms(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(h.Hub.RoomInfos())
}

// Health is the liveness probe.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"status":    "ok",
		"timestamp": time.Now().UnixMilli(),
	})
}
