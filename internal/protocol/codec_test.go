package protocol

import (
	"bytes"
	"reflect"
	"testing"

	"github.com/padgrid/padgrid-backend/internal/models"
)

func intp(v int) *int { return &v }

func TestParseSerializeRoundTrip(t *testing.T) {
	cases := []*models.Envelope{
		{Type: models.TypeJoin, RoomID: "studio-a", Role: models.RoleRenderer},
		{Type: models.TypeJoin, RoomID: "studio-a", Role: models.RoleController},
		{Type: models.TypePadHit, PadIndex: intp(0)},
		{Type: models.TypePadHit, PadIndex: intp(15), Velocity: intp(127)},
		{Type: models.TypePadHit, PadIndex: intp(3), Velocity: intp(0)},
		{Type: models.TypeSyncState, Tempo: 140, Mappings: map[int]string{0: "a", 7: "b"}},
		{Type: models.TypeTempoChange, Tempo: 20},
		{Type: models.TypeTempoChange, Tempo: 300},
		{Type: models.TypeRequestSync},
		{Type: models.TypeHeartbeat},
		{Type: models.TypePong},
		{Type: models.TypeError, Message: "Not joined"},
	}

	for _, want := range cases {
		data := Serialize(want)
		got, ok := Parse(data)
		if !ok {
			t.Errorf("%s: round trip rejected %s", want.Type, data)
			continue
		}
		if !reflect.DeepEqual(got, want) {
			t.Errorf("%s: parse(serialize(m)) = %+v, want %+v", want.Type, got, want)
		}
		// canonical JSON survives a second pass untouched
		if again := Serialize(got); !bytes.Equal(again, data) {
			t.Errorf("%s: serialize(parse(j)) = %s, want %s", want.Type, again, data)
		}
	}
}

func TestParseRejectsInvalidFrames(t *testing.T) {
	cases := []struct {
		name string
		data string
	}{
		{"garbage", "not json"},
		{"empty object", "{}"},
		{"unknown type", `{"type":"dance"}`},
		{"join without room", `{"type":"join","role":"renderer"}`},
		{"join with bad role", `{"type":"join","roomId":"x","role":"spectator"}`},
		{"pad-hit without index", `{"type":"pad-hit"}`},
		{"pad-hit below range", `{"type":"pad-hit","padIndex":-1}`},
		{"pad-hit above range", `{"type":"pad-hit","padIndex":16}`},
		{"pad-hit bad velocity", `{"type":"pad-hit","padIndex":3,"velocity":128}`},
		{"tempo below range", `{"type":"tempo-change","tempo":19}`},
		{"tempo above range", `{"type":"tempo-change","tempo":301}`},
		{"sync-state bad tempo", `{"type":"sync-state","tempo":301}`},
		{"sync-state no tempo", `{"type":"sync-state"}`},
	}
	for _, tc := range cases {
		if env, ok := Parse([]byte(tc.data)); ok {
			t.Errorf("%s: accepted %s as %+v", tc.name, tc.data, env)
		}
	}
}

func TestParseAcceptsBoundaryValues(t *testing.T) {
	cases := []string{
		`{"type":"pad-hit","padIndex":0}`,
		`{"type":"pad-hit","padIndex":15}`,
		`{"type":"pad-hit","padIndex":5,"velocity":0}`,
		`{"type":"pad-hit","padIndex":5,"velocity":127}`,
		`{"type":"tempo-change","tempo":20}`,
		`{"type":"tempo-change","tempo":300}`,
	}
	for _, data := range cases {
		if _, ok := Parse([]byte(data)); !ok {
			t.Errorf("rejected boundary frame %s", data)
		}
	}
}
