package memory

import (
	"context"
	"sync"

	"github.com/padgrid/padgrid-backend/internal/models"
)

// RoomStore is the in-memory snapshot store. State is copied on the way in
// and out so callers can keep mutating their own maps.
type RoomStore struct {
	mu     sync.RWMutex
	states map[string]*models.RoomState
}

func NewRoomStore() *RoomStore {
	return &RoomStore{states: make(map[string]*models.RoomState)}
}

func (s *RoomStore) SetState(_ context.Context, roomID string, state *models.RoomState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.states[roomID] = copyState(state)
	return nil
}

func (s *RoomStore) GetState(_ context.Context, roomID string) (*models.RoomState, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.states[roomID]
	if !ok {
		return nil, nil
	}
	return copyState(st), nil
}

func (s *RoomStore) DeleteState(_ context.Context, roomID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.states, roomID)
	return nil
}

func copyState(st *models.RoomState) *models.RoomState {
	out := &models.RoomState{Tempo: st.Tempo}
	if st.Mappings != nil {
		out.Mappings = make(map[int]string, len(st.Mappings))
		for k, v := range st.Mappings {
			out.Mappings[k] = v
		}
	}
	return out
}
