package audio

import "math"

// mixer owns the per-block mixing loop. Everything it touches (store, pool,
// scratch buffer) lives on the audio callback side; the hot path performs no
// allocation, takes no locks and never returns an error. Anything
// inconsistent inside a voice deactivates that voice and the block carries
// on.
type mixer struct {
	store *sampleStore
	pool  *voicePool

	attackInc  float32
	releaseInc float32

	// scratch right channel for hosts that hand us a single output channel;
	// mixing stays stereo internally either way.
	scratchR []float32
}

func newMixer(store *sampleStore, pool *voicePool, sampleRate int, attackMS, releaseMS float64) *mixer {
	if attackMS <= 0 {
		attackMS = DefaultAttackMS
	}
	if releaseMS <= 0 {
		releaseMS = DefaultReleaseMS
	}
	return &mixer{
		store:      store,
		pool:       pool,
		attackInc:  float32(1 / (attackMS * float64(sampleRate) / 1000)),
		releaseInc: float32(1 / (releaseMS * float64(sampleRate) / 1000)),
		scratchR:   make([]float32, BlockFrames),
	}
}

// process mixes one block into left and right, which must be equal length.
// Pass right == nil when the host output has a single channel; the right mix
// then lands in scratch and only left is written out. The return value is the
// processor keep-alive and is always true.
func (m *mixer) process(left, right []float32) bool {
	if right == nil {
		if len(m.scratchR) < len(left) {
			// only reachable before the device starts pulling; block sizes
			// are fixed afterwards
			m.scratchR = make([]float32, len(left))
		}
		right = m.scratchR[:len(left)]
	}

	for i := range left {
		left[i] = 0
	}
	for i := range right {
		right[i] = 0
	}

	for i := range m.pool.voices {
		v := &m.pool.voices[i]
		if !v.active {
			continue
		}
		m.mixVoice(v, left, right)
	}

	for i := range left {
		left[i] = softClip(left[i])
	}
	for i := range right {
		right[i] = softClip(right[i])
	}
	return true
}

func (m *mixer) mixVoice(v *voice, left, right []float32) {
	smp := m.store.lookup(v.soundID)
	if smp == nil || smp.Length == 0 || v.cursor < 0 {
		v.reset()
		return
	}

	for i := range left {
		switch v.state {
		case voiceAttack:
			v.envLevel += m.attackInc
			if v.envLevel >= 1 {
				v.envLevel = 1
				v.state = voiceSustain
			}
		case voiceRelease:
			v.envLevel -= m.releaseInc
			if v.envLevel <= 0 {
				v.reset()
				return
			}
		}

		if v.cursor < smp.Length {
			left[i] += smp.Left[v.cursor] * v.envLevel
			right[i] += smp.Right[v.cursor] * v.envLevel
			v.cursor++
			if v.cursor >= smp.Length {
				v.enterRelease()
			}
		} else {
			// past the end: the tail of the release rides on silence
			v.enterRelease()
		}
	}
}

// clipCeil is the largest float32 below 1; rounding tanh into float32 can
// otherwise land exactly on ±1 for large inputs.
var clipCeil = math.Nextafter32(1, 0)

// softClip bounds the mix to (-1, 1) with a tanh curve, avoiding the edge of
// a hard clamp when polyphony stacks up.
func softClip(x float32) float32 {
	y := float32(math.Tanh(float64(x)))
	if y >= 1 {
		return clipCeil
	}
	if y <= -1 {
		return -clipCeil
	}
	return y
}
