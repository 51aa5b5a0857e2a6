package clientstate

import (
	"encoding/json"
	"testing"

	"github.com/qianlnk/werewolf-channels/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func encode(t *testing.T, typ string, payload any) []byte {
	t.Helper()
	data, err := json.Marshal(models.Envelope{Type: typ, Payload: payload})
	require.NoError(t, err)
	return data
}

func TestStoreHandlesServerMessages(t *testing.T) {
	s := NewStore()

	snap := models.Snapshot{
		SessionID:    "s1",
		Self:         "a",
		Phase:        models.GamePhase{Day: 1, Phase: models.PhaseDay},
		Participants: []models.Participant{{ID: "a", Status: models.Alive}, {ID: "b", Status: models.Alive}},
	}
	require.NoError(t, s.Handle(encode(t, string(models.DeltaJoinSession), snap)))
	require.NoError(t, s.Handle(encode(t, string(models.DeltaUserJoined), id("c"))))
	require.NoError(t, s.Handle(encode(t, string(models.DeltaSettingsChanged), map[string]string{"k": "v"})))

	night := models.GamePhase{Day: 1, Phase: models.PhaseNight}
	require.NoError(t, s.Handle(encode(t, string(models.DeltaStateUpdate), models.StateUpdate{
		Phase:        &night,
		Participants: []models.Participant{{ID: "b", Status: models.Dead}},
	})))
	require.NoError(t, s.Handle(encode(t, models.EventPhaseResult, models.PhaseResult{
		SessionID: "s1",
		Phase:     models.PhaseDay,
		Record:    models.DayRecord{Day: 1, Executed: "b"},
	})))
	require.NoError(t, s.Handle(encode(t, models.EventPrivateResult, models.PrivateResult{
		SessionID:  "s1",
		Revelation: models.Revelation{Day: 1, Kind: models.ActionFortune, PlayerID: "b", Team: models.TeamVillagers},
	})))
	require.NoError(t, s.Handle(encode(t, models.EventAck, models.Ack{OK: true})))

	state := s.State()
	assert.Equal(t, "s1", state.SessionID)
	assert.Equal(t, models.PhaseNight, state.Phase.Phase)
	assert.Equal(t, models.Dead, state.Participants[1].Status)
	assert.Equal(t, []models.Identity{id("c")}, state.Users)
	assert.Equal(t, "v", state.Settings["k"])
	require.Len(t, state.History, 1)
	assert.Equal(t, "b", state.History[0].Executed)
	assert.Len(t, state.Private, 1)
}

func TestDecodeDelta(t *testing.T) {
	_, ok, err := DecodeDelta(models.RawEnvelope{Type: models.EventEntryUpdate})
	require.NoError(t, err)
	assert.False(t, ok)

	_, _, err = DecodeDelta(models.RawEnvelope{Type: string(models.DeltaUserJoined), Payload: json.RawMessage(`[1,2]`)})
	assert.Error(t, err)

	d, ok, err := DecodeDelta(models.RawEnvelope{Type: string(models.DeltaUnblock), Payload: json.RawMessage(`{"user_id":"x"}`)})
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "x", d.User.UserID)
}

func TestHandleMalformed(t *testing.T) {
	s := NewStore()
	assert.Error(t, s.Handle([]byte("{")))
}
