package audio

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/ebitengine/oto/v3"
	"github.com/rs/zerolog"
)

// Defaults for the audio domain.
const (
	DefaultSampleRate   = 48000
	DefaultMaxPolyphony = 32
	DefaultAttackMS     = 2
	DefaultReleaseMS    = 3

	// BlockFrames is the fixed mixing block; one block is the worst-case
	// latency for an envelope transition.
	BlockFrames = 128

	outputChannels = 2
	bytesPerSample = 4
)

// EngineState is the bridge lifecycle.
type EngineState int32

const (
	StateUninitialized EngineState = iota
	StateInitializing
	StateReady
	StateError
)

func (s EngineState) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	}
	return "uninitialized"
}

// Options configures the engine. Zero values fall back to the defaults above.
type Options struct {
	SampleRate   int
	MaxPolyphony int
	AttackMS     float64
	ReleaseMS    float64
	Stealing     StealPolicy
}

type ctrlKind uint8

const (
	ctrlLoad ctrlKind = iota
	ctrlUnload
	ctrlTrigger
	ctrlStopAll
)

// ctrlMsg crosses from the control side to the audio callback. For loads the
// sample buffers travel with it; the sender gives up its reference and the
// callback becomes sole owner.
type ctrlMsg struct {
	kind    ctrlKind
	soundID string
	sample  *Sample
}

// Engine owns the audio device and the thread boundary in front of the mixer.
// Control operations are posted onto a buffered channel that the callback
// drains between blocks; nothing is ever awaited across the boundary.
type Engine struct {
	opts Options
	log  zerolog.Logger

	state atomic.Int32

	mu     sync.Mutex
	otoCtx *oto.Context
	player *oto.Player

	ctrl chan ctrlMsg

	// audio-callback-owned state
	store  *sampleStore
	pool   *voicePool
	mixer  *mixer
	blockL []float32
	blockR []float32
	carry  []byte
	carryOff int
	carryLen int
}

// NewEngine builds an engine but does not touch the device; call Start for
// that. All pool and block buffers are allocated here so the callback never
// has to.
func NewEngine(opts Options, logger zerolog.Logger) *Engine {
	if opts.SampleRate <= 0 {
		opts.SampleRate = DefaultSampleRate
	}
	if opts.MaxPolyphony <= 0 {
		opts.MaxPolyphony = DefaultMaxPolyphony
	}
	if opts.AttackMS <= 0 {
		opts.AttackMS = DefaultAttackMS
	}
	if opts.ReleaseMS <= 0 {
		opts.ReleaseMS = DefaultReleaseMS
	}

	store := newSampleStore()
	pool := newVoicePool(opts.MaxPolyphony, opts.Stealing)

	return &Engine{
		opts:   opts,
		log:    logger.With().Str("module", "audio.engine").Logger(),
		ctrl:   make(chan ctrlMsg, 256),
		store:  store,
		pool:   pool,
		mixer:  newMixer(store, pool, opts.SampleRate, opts.AttackMS, opts.ReleaseMS),
		blockL: make([]float32, BlockFrames),
		blockR: make([]float32, BlockFrames),
		carry:  make([]byte, BlockFrames*outputChannels*bytesPerSample),
	}
}

// State reports the current bridge lifecycle state.
func (e *Engine) State() EngineState {
	return EngineState(e.state.Load())
}

// Start opens the audio device and begins pulling blocks. Valid from
// uninitialized or error; starting again after an error is how a host
// re-initializes.
func (e *Engine) Start() error {
	st := e.State()
	if st != StateUninitialized && st != StateError {
		return fmt.Errorf("engine start in state %s", st)
	}
	e.state.Store(int32(StateInitializing))

	ctx, ready, err := oto.NewContext(&oto.NewContextOptions{
		SampleRate:   e.opts.SampleRate,
		ChannelCount: outputChannels,
		Format:       oto.FormatFloat32LE,
	})
	if err != nil {
		e.state.Store(int32(StateError))
		return fmt.Errorf("open audio context: %w", err)
	}
	<-ready

	e.mu.Lock()
	e.otoCtx = ctx
	e.player = ctx.NewPlayer(e)
	e.player.Play()
	e.mu.Unlock()

	e.state.Store(int32(StateReady))
	e.log.Info().Int("sampleRate", e.opts.SampleRate).Int("polyphony", e.opts.MaxPolyphony).Msg("audio engine ready")
	return nil
}

// Suspend pauses the device without tearing the engine down.
func (e *Engine) Suspend() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.otoCtx == nil {
		return errors.New("engine not started")
	}
	return e.otoCtx.Suspend()
}

// Resume continues a suspended device.
func (e *Engine) Resume() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.otoCtx == nil {
		return errors.New("engine not started")
	}
	return e.otoCtx.Resume()
}

// Close stops playback and releases the player. The engine returns to
// uninitialized and may be started again.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.player != nil {
		if err := e.player.Close(); err != nil {
			e.state.Store(int32(StateError))
			return fmt.Errorf("close player: %w", err)
		}
		e.player = nil
	}
	e.state.Store(int32(StateUninitialized))
	return nil
}

// LoadSample installs PCM under id, replacing any previous entry. Ownership
// of the slices transfers to the audio side; the caller must not touch them
// afterwards. A nil right aliases left for center-panned mono.
func (e *Engine) LoadSample(id string, left, right []float32) error {
	if right == nil {
		right = left
	}
	if len(left) != len(right) {
		return fmt.Errorf("sample %q: channel length mismatch %d != %d", id, len(left), len(right))
	}
	smp := &Sample{Left: left, Right: right, Length: len(left)}
	e.post(ctrlMsg{kind: ctrlLoad, soundID: id, sample: smp})
	return nil
}

// UnloadSample removes the PCM for id; bound voices enter release.
func (e *Engine) UnloadSample(id string) {
	e.post(ctrlMsg{kind: ctrlUnload, soundID: id})
}

// Trigger starts one playback of id. Voice selection and stealing happen on
// the audio side; a trigger only goes silent when the sample is not loaded.
func (e *Engine) Trigger(id string) {
	e.post(ctrlMsg{kind: ctrlTrigger, soundID: id})
}

// StopAll pushes every active voice into release.
func (e *Engine) StopAll() {
	e.post(ctrlMsg{kind: ctrlStopAll})
}

func (e *Engine) post(msg ctrlMsg) {
	if e.State() != StateReady {
		e.log.Warn().Str("soundId", msg.soundID).Msg("audio engine not ready, dropping operation")
		return
	}
	select {
	case e.ctrl <- msg:
	default:
		e.log.Warn().Str("soundId", msg.soundID).Msg("control queue full, dropping operation")
	}
}

// Read is the device pull path: oto's player drains PCM through it from its
// playback goroutine, which makes it the audio callback of this process.
// It renders fixed-size blocks and never returns an error.
func (e *Engine) Read(p []byte) (int, error) {
	n := 0
	for n < len(p) {
		if e.carryOff == e.carryLen {
			e.renderBlock()
		}
		c := copy(p[n:], e.carry[e.carryOff:e.carryLen])
		e.carryOff += c
		n += c
	}
	return n, nil
}

// renderBlock drains pending control messages, mixes one block and interleaves
// it into the carry buffer as little-endian float32 frames.
func (e *Engine) renderBlock() {
	e.drainControl()
	e.mixer.process(e.blockL, e.blockR)

	for i := 0; i < BlockFrames; i++ {
		off := i * outputChannels * bytesPerSample
		binary.LittleEndian.PutUint32(e.carry[off:], math.Float32bits(e.blockL[i]))
		binary.LittleEndian.PutUint32(e.carry[off+bytesPerSample:], math.Float32bits(e.blockR[i]))
	}
	e.carryOff = 0
	e.carryLen = len(e.carry)
}

func (e *Engine) drainControl() {
	for {
		select {
		case msg := <-e.ctrl:
			switch msg.kind {
			case ctrlLoad:
				e.store.load(msg.soundID, msg.sample)
			case ctrlUnload:
				e.pool.releaseSound(msg.soundID)
				e.store.unload(msg.soundID)
			case ctrlTrigger:
				e.pool.trigger(msg.soundID)
			case ctrlStopAll:
				e.pool.releaseAll()
			}
		default:
			return
		}
	}
}
