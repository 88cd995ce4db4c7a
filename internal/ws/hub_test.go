package ws

import (
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/models"
	"github.com/padgrid/padgrid-backend/internal/protocol"
	"github.com/padgrid/padgrid-backend/internal/storage/memory"
)

type fakeConn struct{ closed bool }

func (f *fakeConn) Close() error {
	f.closed = true
	return nil
}

func newTestHub() *Hub {
	return NewHub(memory.NewRoomStore(), DefaultHeartbeatTimeout, zerolog.Nop())
}

func newTestClient(id string) *Client {
	return &Client{ID: id, Send: make(chan []byte, 16), Conn: &fakeConn{}}
}

func join(t *testing.T, h *Hub, c *Client, room, role string) {
	t.Helper()
	h.HandleFrame(c, protocol.Serialize(&models.Envelope{Type: models.TypeJoin, RoomID: room, Role: role}))
}

func recv(t *testing.T, c *Client) *models.Envelope {
	t.Helper()
	select {
	case data := <-c.Send:
		env, ok := protocol.Parse(data)
		if !ok {
			t.Fatalf("client %s received unparseable frame %s", c.ID, data)
		}
		return env
	default:
		t.Fatalf("client %s has no pending frame", c.ID)
		return nil
	}
}

func assertSilent(t *testing.T, c *Client) {
	t.Helper()
	select {
	case data := <-c.Send:
		t.Fatalf("client %s unexpectedly received %s", c.ID, data)
	default:
	}
}

func TestJoinRecordsRoomAndRole(t *testing.T) {
	h := newTestHub()
	c := newTestClient("r1")
	join(t, h, c, "room-x", models.RoleRenderer)

	if c.RoomID != "room-x" || c.Role != models.RoleRenderer {
		t.Fatalf("connection record = %s/%s", c.RoomID, c.Role)
	}
	if h.MemberCount("room-x") != 1 {
		t.Fatalf("member count %d, want 1", h.MemberCount("room-x"))
	}

	infos := h.RoomInfos()
	if len(infos) != 1 || infos[0].ID != "room-x" || infos[0].Renderers != 1 {
		t.Fatalf("room infos = %+v", infos)
	}
}

func TestJoinSwitchingRoomsLeavesTheOld(t *testing.T) {
	h := newTestHub()
	c := newTestClient("c1")
	join(t, h, c, "room-a", models.RoleController)
	drain(c)
	join(t, h, c, "room-b", models.RoleController)

	if h.MemberCount("room-a") != 0 {
		t.Fatal("connection left behind in the old room")
	}
	if h.MemberCount("room-b") != 1 {
		t.Fatal("connection missing from the new room")
	}
}

func TestUnjoinedOperationsAreRejected(t *testing.T) {
	h := newTestHub()
	c := newTestClient("c1")

	h.HandleFrame(c, protocol.Serialize(&models.Envelope{Type: models.TypePadHit, PadIndex: intp(3)}))
	if env := recv(t, c); env.Type != models.TypeError || env.Message != "Not joined" {
		t.Fatalf("got %+v, want Not joined error", env)
	}

	h.HandleFrame(c, protocol.Serialize(&models.Envelope{Type: models.TypeTempoChange, Tempo: 120}))
	if env := recv(t, c); env.Type != models.TypeError {
		t.Fatalf("got %+v, want error", env)
	}
}

func TestMalformedFrameGetsErrorAndKeepsSocket(t *testing.T) {
	h := newTestHub()
	c := newTestClient("c1")
	join(t, h, c, "room-x", models.RoleController)
	drain(c)

	h.HandleFrame(c, []byte("{{nope"))
	if env := recv(t, c); env.Type != models.TypeError || env.Message != "Invalid message format" {
		t.Fatalf("got %+v", env)
	}
	if c.Conn.(*fakeConn).closed {
		t.Fatal("protocol violation must not close the socket")
	}
}

func TestPadHitFansOutIncludingSender(t *testing.T) {
	h := newTestHub()
	sender := newTestClient("sender")
	peer := newTestClient("peer")
	outsider := newTestClient("outsider")
	join(t, h, sender, "room-x", models.RoleController)
	join(t, h, peer, "room-x", models.RoleRenderer)
	join(t, h, outsider, "room-y", models.RoleRenderer)
	drain(sender)
	drain(peer)
	drain(outsider)

	h.HandleFrame(sender, protocol.Serialize(&models.Envelope{Type: models.TypePadHit, PadIndex: intp(7)}))

	for _, c := range []*Client{sender, peer} {
		env := recv(t, c)
		if env.Type != models.TypePadHit || *env.PadIndex != 7 {
			t.Fatalf("client %s got %+v", c.ID, env)
		}
	}
	assertSilent(t, outsider)
}

func TestSyncStateRoleEnforcement(t *testing.T) {
	h := newTestHub()
	controller := newTestClient("ctl")
	renderer := newTestClient("rnd")
	join(t, h, controller, "room-x", models.RoleController)
	join(t, h, renderer, "room-x", models.RoleRenderer)
	drain(controller)
	drain(renderer)

	h.HandleFrame(controller, protocol.Serialize(&models.Envelope{Type: models.TypeSyncState, Tempo: 120}))

	if env := recv(t, controller); env.Type != models.TypeError || env.Message != "Only renderer can sync state" {
		t.Fatalf("controller got %+v", env)
	}
	assertSilent(t, renderer)
}

func TestRendererSyncStateFansOutAndCaches(t *testing.T) {
	h := newTestHub()
	renderer := newTestClient("rnd")
	join(t, h, renderer, "room-x", models.RoleRenderer)

	h.HandleFrame(renderer, protocol.Serialize(&models.Envelope{
		Type:     models.TypeSyncState,
		Tempo:    140,
		Mappings: map[int]string{0: "a"},
	}))
	if env := recv(t, renderer); env.Type != models.TypeSyncState || env.Tempo != 140 {
		t.Fatalf("renderer got %+v", env)
	}

	// a late controller receives the cached snapshot right at join
	late := newTestClient("late")
	join(t, h, late, "room-x", models.RoleController)
	env := recv(t, late)
	if env.Type != models.TypeSyncState || env.Tempo != 140 || env.Mappings[0] != "a" {
		t.Fatalf("late joiner got %+v, want cached sync-state", env)
	}
}

func TestControllerJoinTriggersRequestSync(t *testing.T) {
	h := newTestHub()
	renderer := newTestClient("rnd")
	join(t, h, renderer, "room-x", models.RoleRenderer)

	controller := newTestClient("ctl")
	join(t, h, controller, "room-x", models.RoleController)

	if env := recv(t, renderer); env.Type != models.TypeRequestSync {
		t.Fatalf("renderer got %+v, want request-sync", env)
	}
}

func TestHeartbeatAnswersPongToSenderOnly(t *testing.T) {
	h := newTestHub()
	a := newTestClient("a")
	b := newTestClient("b")
	join(t, h, a, "room-x", models.RoleController)
	join(t, h, b, "room-x", models.RoleRenderer)
	drain(a)
	drain(b)

	before := a.LastActivity
	h.now = func() time.Time { return time.Now().Add(time.Second) }
	h.HandleFrame(a, protocol.Serialize(&models.Envelope{Type: models.TypeHeartbeat}))

	if env := recv(t, a); env.Type != models.TypePong {
		t.Fatalf("got %+v, want pong", env)
	}
	assertSilent(t, b)
	if !a.LastActivity.After(before) {
		t.Fatal("heartbeat did not refresh activity")
	}
}

func TestTempoChangeUpdatesCachedSnapshot(t *testing.T) {
	h := newTestHub()
	renderer := newTestClient("rnd")
	join(t, h, renderer, "room-x", models.RoleRenderer)
	h.HandleFrame(renderer, protocol.Serialize(&models.Envelope{Type: models.TypeSyncState, Tempo: 100}))
	drain(renderer)

	h.HandleFrame(renderer, protocol.Serialize(&models.Envelope{Type: models.TypeTempoChange, Tempo: 180}))
	drain(renderer)

	late := newTestClient("late")
	join(t, h, late, "room-x", models.RoleController)
	if env := recv(t, late); env.Tempo != 180 {
		t.Fatalf("cached tempo %d, want 180", env.Tempo)
	}
}

func TestClosePrunesEmptyRoom(t *testing.T) {
	h := newTestHub()
	c := newTestClient("c1")
	join(t, h, c, "room-x", models.RoleController)
	drain(c)

	h.handleClose(c)
	if len(h.RoomInfos()) != 0 {
		t.Fatal("empty room not pruned")
	}
	if _, open := <-c.Send; open {
		t.Fatal("send channel left open")
	}
	// a second close must be a no-op
	h.handleClose(c)
}

func TestSweepClosesStaleConnections(t *testing.T) {
	h := newTestHub()
	fresh := newTestClient("fresh")
	stale := newTestClient("stale")
	join(t, h, fresh, "room-x", models.RoleController)
	join(t, h, stale, "room-x", models.RoleController)

	base := time.Now()
	fresh.LastActivity = base
	stale.LastActivity = base.Add(-31 * time.Second)
	h.now = func() time.Time { return base }

	h.sweepStale()

	if stale.Conn.(*fakeConn).closed == false {
		t.Fatal("stale connection not closed")
	}
	if fresh.Conn.(*fakeConn).closed {
		t.Fatal("fresh connection closed by sweep")
	}
}

func drain(c *Client) {
	for {
		select {
		case <-c.Send:
		default:
			return
		}
	}
}

func intp(v int) *int { return &v }
