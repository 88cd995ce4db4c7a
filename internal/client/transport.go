package client

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/models"
	"github.com/padgrid/padgrid-backend/internal/protocol"
)

// Transport defaults; the heartbeat cadence sits under the broker's 30 s
// liveness window, so a steady stream of heartbeats keeps an idle connection
// open. A single lost heartbeat leaves a 50 s gap, which exceeds that window.
const (
	DefaultHeartbeatInterval = 25 * time.Second
	DefaultReconnectInitial  = 1 * time.Second
	DefaultReconnectMax      = 30 * time.Second
)

// State is the connection lifecycle of the transport.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateConnected
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	}
	return "disconnected"
}

// Handler receives one inbound frame of the registered type.
type Handler func(*models.Envelope)

// Conn is the slice of *websocket.Conn the transport uses; injectable so the
// reconnect machinery is testable without a broker.
type Conn interface {
	ReadMessage() (int, []byte, error)
	WriteMessage(messageType int, data []byte) error
	Close() error
}

// DialFunc opens one socket attempt.
type DialFunc func(ctx context.Context, url string) (Conn, error)

// Options configures a transport for one node.
type Options struct {
	URL    string
	RoomID string
	Role   string

	HeartbeatInterval time.Duration
	ReconnectInitial  time.Duration
	ReconnectMax      time.Duration

	// Dial overrides the websocket dialer; tests use it.
	Dial DialFunc
}

// Transport owns the socket lifecycle for a node: reconnect with doubling
// backoff, an outbound FIFO queue while disconnected, the heartbeat timer and
// handler dispatch. It never gives up reconnecting until Close.
type Transport struct {
	opts Options
	log  zerolog.Logger
	dial DialFunc

	state atomic.Int32

	mu       sync.Mutex
	conn     Conn
	queue    [][]byte
	delay    time.Duration
	handlers map[string]Handler

	cancel context.CancelFunc
	done   chan struct{}
}

func New(opts Options, logger zerolog.Logger) *Transport {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.ReconnectInitial <= 0 {
		opts.ReconnectInitial = DefaultReconnectInitial
	}
	if opts.ReconnectMax <= 0 {
		opts.ReconnectMax = DefaultReconnectMax
	}
	dial := opts.Dial
	if dial == nil {
		dial = func(ctx context.Context, url string) (Conn, error) {
			c, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
			if err != nil {
				return nil, err
			}
			return c, nil
		}
	}
	return &Transport{
		opts:     opts,
		log:      logger.With().Str("module", "client.transport").Str("role", opts.Role).Logger(),
		dial:     dial,
		delay:    opts.ReconnectInitial,
		handlers: make(map[string]Handler),
		done:     make(chan struct{}),
	}
}

// State reports the connection state.
func (t *Transport) State() State {
	return State(t.state.Load())
}

// OnMessage registers the handler for one message type. Register everything
// before Start; dispatch calls handlers from the read goroutine one frame at
// a time.
func (t *Transport) OnMessage(msgType string, fn Handler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.handlers[msgType] = fn
}

// Start launches the connect/reconnect loop.
func (t *Transport) Start() {
	ctx, cancel := context.WithCancel(context.Background())
	t.cancel = cancel
	go t.run(ctx)
}

// Close tears the transport down: timers cancelled, socket closed, queued
// frames discarded.
func (t *Transport) Close() {
	if t.cancel == nil {
		return
	}
	t.cancel()
	t.mu.Lock()
	if t.conn != nil {
		t.conn.Close()
	}
	t.queue = nil
	t.mu.Unlock()
	<-t.done
}

// Send queues or transmits one frame. While disconnected frames are appended
// to the outbound queue and flushed in order on the next connect, after the
// join frame.
func (t *Transport) Send(env *models.Envelope) {
	data := protocol.Serialize(env)

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.State() == StateConnected && t.conn != nil {
		if err := t.conn.WriteMessage(websocket.TextMessage, data); err == nil {
			return
		}
		// the write failed; the read loop will notice and reconnect, the
		// frame rides the queue instead of being lost
	}
	t.queue = append(t.queue, data)
}

func (t *Transport) run(ctx context.Context) {
	defer close(t.done)

	for {
		t.state.Store(int32(StateConnecting))
		conn, err := t.dial(ctx, t.opts.URL)
		if err != nil {
			if ctx.Err() != nil {
				t.state.Store(int32(StateDisconnected))
				return
			}
			d := t.nextDelay()
			t.log.Warn().Err(err).Dur("retryIn", d).Msg("connect failed")
			if !sleepCtx(ctx, d) {
				t.state.Store(int32(StateDisconnected))
				return
			}
			t.state.Store(int32(StateReconnecting))
			continue
		}

		t.onConnected(conn)

		hbCtx, hbCancel := context.WithCancel(ctx)
		go t.heartbeatLoop(hbCtx)

		t.readLoop(ctx, conn)
		hbCancel()

		t.mu.Lock()
		t.conn = nil
		t.mu.Unlock()
		t.state.Store(int32(StateDisconnected))

		if ctx.Err() != nil {
			return
		}
		d := t.nextDelay()
		t.log.Info().Dur("retryIn", d).Msg("disconnected, scheduling reconnect")
		if !sleepCtx(ctx, d) {
			return
		}
		t.state.Store(int32(StateReconnecting))
	}
}

// onConnected installs the socket, resets the backoff, sends the join frame
// and flushes the queue FIFO behind it.
func (t *Transport) onConnected(conn Conn) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.conn = conn
	t.delay = t.opts.ReconnectInitial
	t.state.Store(int32(StateConnected))

	join := protocol.Serialize(&models.Envelope{
		Type:   models.TypeJoin,
		RoomID: t.opts.RoomID,
		Role:   t.opts.Role,
	})
	if err := conn.WriteMessage(websocket.TextMessage, join); err != nil {
		t.log.Warn().Err(err).Msg("join send failed")
		return
	}
	t.log.Info().Str("room", t.opts.RoomID).Int("queued", len(t.queue)).Msg("connected")

	for i, data := range t.queue {
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			// keep what did not make it; it flushes on the next connect
			t.queue = t.queue[i:]
			return
		}
	}
	t.queue = nil
}

func (t *Transport) readLoop(ctx context.Context, conn Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				t.log.Warn().Err(err).Msg("socket read failed")
			}
			conn.Close()
			return
		}
		env, ok := protocol.Parse(data)
		if !ok {
			t.log.Warn().Str("frame", string(data)).Msg("dropping unparseable frame")
			continue
		}
		t.dispatch(env)
	}
}

func (t *Transport) dispatch(env *models.Envelope) {
	t.mu.Lock()
	fn := t.handlers[env.Type]
	t.mu.Unlock()
	if fn != nil {
		fn(env)
	}
}

// heartbeatLoop fires until the connection drops. Pong receipt is not
// required; the broker's own timeout governs liveness.
func (t *Transport) heartbeatLoop(ctx context.Context) {
	ticker := time.NewTicker(t.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.Send(&models.Envelope{Type: models.TypeHeartbeat})
		case <-ctx.Done():
			return
		}
	}
}

// nextDelay returns the current backoff and doubles it up to the cap.
func (t *Transport) nextDelay() time.Duration {
	t.mu.Lock()
	defer t.mu.Unlock()
	d := t.delay
	t.delay *= 2
	if t.delay > t.opts.ReconnectMax {
		t.delay = t.opts.ReconnectMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
