package renderer

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/padgrid/padgrid-backend/internal/audio"
	"github.com/padgrid/padgrid-backend/internal/client"
	"github.com/padgrid/padgrid-backend/internal/models"
)

const defaultTempo = 120

// Engine is what the renderer needs from the audio side.
type Engine interface {
	LoadSample(id string, left, right []float32) error
	Trigger(id string)
	StopAll()
}

// Sender posts frames to the room; satisfied by *client.Transport.
type Sender interface {
	Send(env *models.Envelope)
}

// Renderer is the control layer of the audio-owning node. It holds the pad
// mappings and tempo, turns inbound pad hits into engine triggers and answers
// sync requests with the current room state. The mixer itself never sees pads
// or rooms.
type Renderer struct {
	engine Engine
	sender Sender
	log    zerolog.Logger

	mu       sync.Mutex
	tempo    int
	mappings map[int]string
}

func New(engine Engine, sender Sender, logger zerolog.Logger) *Renderer {
	return &Renderer{
		engine:   engine,
		sender:   sender,
		log:      logger.With().Str("module", "renderer").Logger(),
		tempo:    defaultTempo,
		mappings: make(map[int]string),
	}
}

// Bind registers the renderer's handlers on the transport. Call before
// Transport.Start.
func (r *Renderer) Bind(t *client.Transport) {
	t.OnMessage(models.TypePadHit, r.HandlePadHit)
	t.OnMessage(models.TypeRequestSync, r.HandleRequestSync)
	t.OnMessage(models.TypeTempoChange, r.HandleTempoChange)
	t.OnMessage(models.TypeSyncState, r.HandleSyncState)
}

// HandlePadHit resolves the pad to a sound id and triggers it. Unmapped pads
// are silent, not errors.
func (r *Renderer) HandlePadHit(env *models.Envelope) {
	if env.PadIndex == nil {
		return
	}
	r.mu.Lock()
	soundID, ok := r.mappings[*env.PadIndex]
	r.mu.Unlock()
	if !ok {
		r.log.Debug().Int("pad", *env.PadIndex).Msg("pad not mapped")
		return
	}
	r.engine.Trigger(soundID)
}

// HandleRequestSync publishes the current state so late joiners converge.
func (r *Renderer) HandleRequestSync(*models.Envelope) {
	r.sender.Send(r.stateEnvelope())
}

// HandleTempoChange adopts a tempo set by any node in the room.
func (r *Renderer) HandleTempoChange(env *models.Envelope) {
	r.mu.Lock()
	r.tempo = env.Tempo
	r.mu.Unlock()
}

// HandleSyncState adopts state from another renderer in the room, keeping a
// second renderer consistent even though one renderer per room is the
// convention.
func (r *Renderer) HandleSyncState(env *models.Envelope) {
	r.mu.Lock()
	r.tempo = env.Tempo
	if env.Mappings != nil {
		r.mappings = make(map[int]string, len(env.Mappings))
		for k, v := range env.Mappings {
			r.mappings[k] = v
		}
	}
	r.mu.Unlock()
}

// PublishState proactively announces the current state to the room.
func (r *Renderer) PublishState() {
	r.sender.Send(r.stateEnvelope())
}

// SetMapping binds a pad to a sound id.
func (r *Renderer) SetMapping(pad int, soundID string) {
	r.mu.Lock()
	r.mappings[pad] = soundID
	r.mu.Unlock()
}

// StopAll silences the engine, e.g. on shutdown.
func (r *Renderer) StopAll() {
	r.engine.StopAll()
}

func (r *Renderer) stateEnvelope() *models.Envelope {
	r.mu.Lock()
	defer r.mu.Unlock()
	mappings := make(map[int]string, len(r.mappings))
	for k, v := range r.mappings {
		mappings[k] = v
	}
	return &models.Envelope{
		Type:     models.TypeSyncState,
		Tempo:    r.tempo,
		Mappings: mappings,
	}
}

// LoadDirectory decodes every .wav under dir at the device rate, loads each
// into the engine under its base name and assigns them to pads in name order
// until the grid is full.
func (r *Renderer) LoadDirectory(dir string, sampleRate int) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read sample dir: %w", err)
	}

	var names []string
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), ".wav") {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)

	pad := 0
	for _, name := range names {
		if pad >= models.PadCount {
			break
		}
		left, right, err := audio.LoadWAV(filepath.Join(dir, name), sampleRate)
		if err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("skipping sample")
			continue
		}
		soundID := strings.TrimSuffix(name, filepath.Ext(name))
		if err := r.engine.LoadSample(soundID, left, right); err != nil {
			r.log.Warn().Err(err).Str("file", name).Msg("skipping sample")
			continue
		}
		r.SetMapping(pad, soundID)
		r.log.Info().Int("pad", pad).Str("sound", soundID).Msg("sample mapped")
		pad++
	}
	if pad == 0 {
		return fmt.Errorf("no usable samples in %s", dir)
	}
	return nil
}
