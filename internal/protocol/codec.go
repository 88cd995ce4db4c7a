package protocol

import (
	"encoding/json"

	"github.com/padgrid/padgrid-backend/internal/models"
)

// Parse decodes and validates one wire frame. It returns false for anything
// that is not a well-formed member of the message set: bad JSON, an unknown
// type, or a field out of range. It never panics; the broker answers a false
// result with an error frame and moves on.
func Parse(data []byte) (*models.Envelope, bool) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, false
	}
	if !validate(&env) {
		return nil, false
	}
	return &env, true
}

// Serialize encodes a frame as canonical JSON. Marshal on an Envelope cannot
// fail, so no error is surfaced.
func Serialize(env *models.Envelope) []byte {
	data, _ := json.Marshal(env)
	return data
}

func validate(env *models.Envelope) bool {
	switch env.Type {
	case models.TypeJoin:
		if env.RoomID == "" {
			return false
		}
		return env.Role == models.RoleRenderer || env.Role == models.RoleController

	case models.TypePadHit:
		if env.PadIndex == nil || *env.PadIndex < 0 || *env.PadIndex >= models.PadCount {
			return false
		}
		if env.Velocity != nil && (*env.Velocity < 0 || *env.Velocity > 127) {
			return false
		}
		return true

	case models.TypeSyncState, models.TypeTempoChange:
		return env.Tempo >= models.MinTempo && env.Tempo <= models.MaxTempo

	case models.TypeRequestSync, models.TypeHeartbeat, models.TypePong, models.TypeError:
		return true
	}
	return false
}
