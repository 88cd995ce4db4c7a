package audio

// Sample holds decoded stereo PCM at the device sample rate. Buffers are
// immutable once installed; a mono source aliases Right to Left so it plays
// center-panned. Length is in frames and equals len(Left) and len(Right).
type Sample struct {
	Left   []float32
	Right  []float32
	Length int
}

// sampleStore maps sound ids to PCM. After the engine starts, only the audio
// callback touches it: load/unload arrive as control messages drained between
// blocks, so no reader can observe a half-installed entry.
type sampleStore struct {
	samples map[string]*Sample
}

func newSampleStore() *sampleStore {
	return &sampleStore{samples: make(map[string]*Sample)}
}

// load installs or replaces the entry for id. The previous buffer, if any, is
// dropped and reclaimed once no voice references it.
func (s *sampleStore) load(id string, smp *Sample) {
	s.samples[id] = smp
}

// unload removes the entry. Voices still bound to id go silent on their next
// block; the caller is responsible for pushing them into release first.
func (s *sampleStore) unload(id string) {
	delete(s.samples, id)
}

// lookup returns the sample for id, or nil. A missing sample is a valid
// runtime condition, not an error.
func (s *sampleStore) lookup(id string) *Sample {
	return s.samples[id]
}
