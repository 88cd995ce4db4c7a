package valkey

import (
	"context"
	"encoding/json"
	"fmt"

	valkeygo "github.com/valkey-io/valkey-go"

	"github.com/padgrid/padgrid-backend/internal/models"
)

// RoomStore keeps room snapshots in valkey so a broker restart does not lose
// the last renderer state. Keys: padgrid:room:<id>:state, JSON bodies.
type RoomStore struct {
	client valkeygo.Client
}

func NewRoomStore(addr string) (*RoomStore, error) {
	client, err := valkeygo.NewClient(valkeygo.ClientOption{InitAddress: []string{addr}})
	if err != nil {
		return nil, fmt.Errorf("connect valkey at %s: %w", addr, err)
	}
	return &RoomStore{client: client}, nil
}

func (s *RoomStore) SetState(ctx context.Context, roomID string, state *models.RoomState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode room state: %w", err)
	}
	cmd := s.client.B().Set().Key(stateKey(roomID)).Value(string(data)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("store room state: %w", err)
	}
	return nil
}

func (s *RoomStore) GetState(ctx context.Context, roomID string) (*models.RoomState, error) {
	cmd := s.client.B().Get().Key(stateKey(roomID)).Build()
	raw, err := s.client.Do(ctx, cmd).ToString()
	if err != nil {
		if valkeygo.IsValkeyNil(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch room state: %w", err)
	}
	var st models.RoomState
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode room state: %w", err)
	}
	return &st, nil
}

func (s *RoomStore) DeleteState(ctx context.Context, roomID string) error {
	cmd := s.client.B().Del().Key(stateKey(roomID)).Build()
	if err := s.client.Do(ctx, cmd).Error(); err != nil {
		return fmt.Errorf("delete room state: %w", err)
	}
	return nil
}

// Close releases the underlying client.
func (s *RoomStore) Close() {
	s.client.Close()
}

func stateKey(roomID string) string {
	return "padgrid:room:" + roomID + ":state"
}
