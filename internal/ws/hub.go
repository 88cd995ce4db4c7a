package ws

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/models"
	"github.com/padgrid/padgrid-backend/internal/protocol"
	"github.com/padgrid/padgrid-backend/internal/storage"
)

// DefaultHeartbeatTimeout is the broker liveness window: a room member with no
// inbound frame for longer than this is closed by the sweep.
const DefaultHeartbeatTimeout = 30 * time.Second

const sweepInterval = 10 * time.Second

// Client is one broker-side connection. Room membership and role start empty
// and are populated by the first valid join. All mutation happens on the
// hub's dispatch goroutine.
type Client struct {
	ID           string
	RoomID       string
	Role         string
	ConnectedAt  time.Time
	LastActivity time.Time
	Send         chan []byte
	Conn         Conn

	// closed guards Send against a double close; the close path can be hit
	// by the read pump, the sweep and a full-buffer drop. Hub-mutex guarded.
	closed bool
}

// Conn is the slice of *websocket.Conn the hub needs, split out so tests can
// run the dispatch loop without a network.
type Conn interface {
	Close() error
}

// Frame is one inbound wire frame handed from a read pump to the hub.
type Frame struct {
	Client *Client
	Data   []byte
}

// Hub owns the room registry and fans frames out by room. One goroutine runs
// the dispatch loop; the mutex only exists so the HTTP listing can read
// membership counts while the loop is writing.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]bool

	Register   chan *Client
	Unregister chan *Client
	Inbound    chan Frame

	store   storage.RoomStore
	log     zerolog.Logger
	timeout time.Duration
	now     func() time.Time
}

func NewHub(store storage.RoomStore, timeout time.Duration, logger zerolog.Logger) *Hub {
	if timeout <= 0 {
		timeout = DefaultHeartbeatTimeout
	}
	return &Hub{
		rooms:      make(map[string]map[*Client]bool),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		Inbound:    make(chan Frame, 64),
		store:      store,
		log:        logger.With().Str("module", "ws.hub").Logger(),
		timeout:    timeout,
		now:        time.Now,
	}
}

// Run is the dispatch loop. Handlers run to completion before the next event;
// fan-out is synchronous with respect to a loop turn, so per-room ordering is
// publish order.
func (h *Hub) Run(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case client := <-h.Register:
			h.handleOpen(client)
		case client := <-h.Unregister:
			h.handleClose(client)
		case frame := <-h.Inbound:
			h.HandleFrame(frame.Client, frame.Data)
		case <-ticker.C:
			h.sweepStale()
		case <-ctx.Done():
			h.closeAll()
			return
		}
	}
}

func (h *Hub) handleOpen(c *Client) {
	c.ConnectedAt = h.now()
	c.LastActivity = c.ConnectedAt
	h.log.Info().Str("conn", c.ID).Msg("connection open")
}

func (h *Hub) handleClose(c *Client) {
	h.mu.Lock()
	removed := h.removeLocked(c)
	h.mu.Unlock()
	if removed {
		h.log.Info().Str("conn", c.ID).Str("room", c.RoomID).Msg("connection closed")
	}
}

// removeLocked takes c out of its room set, prunes an emptied room and closes
// the send channel. Idempotent.
func (h *Hub) removeLocked(c *Client) bool {
	if c.closed {
		return false
	}
	c.closed = true
	if set, ok := h.rooms[c.RoomID]; ok {
		delete(set, c)
		if len(set) == 0 {
			delete(h.rooms, c.RoomID)
		}
	}
	close(c.Send)
	return true
}

// HandleFrame is the per-frame dispatch. Exported for white-box tests; the
// loop is the only production caller.
func (h *Hub) HandleFrame(c *Client, data []byte) {
	c.LastActivity = h.now()

	env, ok := protocol.Parse(data)
	if !ok {
		h.sendError(c, "Invalid message format")
		return
	}

	switch env.Type {
	case models.TypeJoin:
		h.handleJoin(c, env)

	case models.TypePadHit:
		if c.RoomID == "" {
			h.sendError(c, "Not joined")
			return
		}
		h.publish(c.RoomID, data)

	case models.TypeSyncState:
		if c.RoomID == "" {
			h.sendError(c, "Not joined")
			return
		}
		if c.Role != models.RoleRenderer {
			h.sendError(c, "Only renderer can sync state")
			return
		}
		if err := h.store.SetState(context.Background(), c.RoomID, &models.RoomState{
			Tempo:    env.Tempo,
			Mappings: env.Mappings,
		}); err != nil {
			h.log.Warn().Err(err).Str("room", c.RoomID).Msg("snapshot store failed")
		}
		h.publish(c.RoomID, data)

	case models.TypeTempoChange:
		if c.RoomID == "" {
			h.sendError(c, "Not joined")
			return
		}
		h.bumpCachedTempo(c.RoomID, env.Tempo)
		h.publish(c.RoomID, data)

	case models.TypeRequestSync:
		// a controller may explicitly re-request state; relay to the room
		if c.RoomID != "" {
			h.publish(c.RoomID, data)
		}

	case models.TypeHeartbeat:
		h.sendTo(c, &models.Envelope{Type: models.TypePong})

	case models.TypePong, models.TypeError:
		// activity already recorded; nothing to answer
	}
}

func (h *Hub) handleJoin(c *Client, env *models.Envelope) {
	h.mu.Lock()
	if c.RoomID != "" {
		// a connection holds at most one membership; switching rooms leaves
		// the old one first
		if set, ok := h.rooms[c.RoomID]; ok {
			delete(set, c)
			if len(set) == 0 {
				delete(h.rooms, c.RoomID)
			}
		}
	}
	c.RoomID = env.RoomID
	c.Role = env.Role
	if h.rooms[c.RoomID] == nil {
		h.rooms[c.RoomID] = make(map[*Client]bool)
	}
	h.rooms[c.RoomID][c] = true
	h.mu.Unlock()

	h.log.Info().Str("conn", c.ID).Str("room", c.RoomID).Str("role", c.Role).Msg("joined room")

	if c.Role == models.RoleController {
		// late joiners converge two ways: the cached snapshot lands at once,
		// and any live renderer answers the request-sync with fresh state
		if st, err := h.store.GetState(context.Background(), c.RoomID); err == nil && st != nil {
			h.sendTo(c, &models.Envelope{
				Type:     models.TypeSyncState,
				Tempo:    st.Tempo,
				Mappings: st.Mappings,
			})
		}
		h.publish(c.RoomID, protocol.Serialize(&models.Envelope{Type: models.TypeRequestSync}))
	}
}

// publish fans data out to every member of the room, the sender included.
// A member whose send buffer is full is dropped rather than letting one slow
// socket stall the room.
func (h *Hub) publish(roomID string, data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	set := h.rooms[roomID]
	sent := 0
	for c := range set {
		select {
		case c.Send <- data:
			sent++
		default:
			h.removeLocked(c)
			if c.Conn != nil {
				c.Conn.Close()
			}
			h.log.Warn().Str("conn", c.ID).Str("room", roomID).Msg("send buffer full, dropping client")
		}
	}
	h.log.Debug().Str("room", roomID).Int("sentTo", sent).Msg("fan-out")
}

func (h *Hub) sendTo(c *Client, env *models.Envelope) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c.closed {
		return
	}
	select {
	case c.Send <- protocol.Serialize(env):
	default:
	}
}

func (h *Hub) sendError(c *Client, msg string) {
	h.sendTo(c, &models.Envelope{Type: models.TypeError, Message: msg})
}

func (h *Hub) bumpCachedTempo(roomID string, tempo int) {
	ctx := context.Background()
	st, err := h.store.GetState(ctx, roomID)
	if err != nil || st == nil {
		return
	}
	st.Tempo = tempo
	if err := h.store.SetState(ctx, roomID, st); err != nil {
		h.log.Warn().Err(err).Str("room", roomID).Msg("snapshot tempo update failed")
	}
}

// sweepStale closes room members that have been silent past the liveness
// window. Only connections in a room set are checked; a connection that has
// not joined a room is never swept. Closing the socket makes its read pump
// fail, which runs the normal unregister path.
func (h *Hub) sweepStale() {
	cutoff := h.now().Add(-h.timeout)

	h.mu.RLock()
	var stale []*Client
	for _, set := range h.rooms {
		for c := range set {
			if c.LastActivity.Before(cutoff) {
				stale = append(stale, c)
			}
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		h.log.Info().Str("conn", c.ID).Str("room", c.RoomID).Msg("closing stale connection")
		if c.Conn != nil {
			c.Conn.Close()
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, set := range h.rooms {
		for c := range set {
			if c.Conn != nil {
				c.Conn.Close()
			}
			h.removeLocked(c)
		}
	}
}

// RoomInfos summarizes the live registry for the listing API.
func (h *Hub) RoomInfos() []models.RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()

	infos := make([]models.RoomInfo, 0, len(h.rooms))
	for id, set := range h.rooms {
		info := models.RoomInfo{ID: id, Members: len(set)}
		for c := range set {
			if c.Role == models.RoleRenderer {
				info.Renderers++
			}
		}
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].ID < infos[j].ID })
	return infos
}

// MemberCount reports how many connections are in roomID.
func (h *Hub) MemberCount(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}
