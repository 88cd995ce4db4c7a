package storage

import (
	"context"

	"github.com/padgrid/padgrid-backend/internal/models"
)

// RoomStore keeps the most recent renderer snapshot per room so late joiners
// can be served immediately. Implementations: memory (default) and valkey
// (survives a broker restart).
type RoomStore interface {
	// SetState replaces the cached snapshot for roomID.
	SetState(ctx context.Context, roomID string, state *models.RoomState) error
	// GetState returns the cached snapshot, or (nil, nil) when none exists.
	GetState(ctx context.Context, roomID string) (*models.RoomState, error)
	// DeleteState drops the snapshot for roomID. The hub does not call it;
	// a snapshot outlives its room emptying out.
	DeleteState(ctx context.Context, roomID string) error
}
