// internal/events/events_test.go
package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeSplicesTypeDiscriminator(t *testing.T) {
	payload, err := Encode(MemberJoined{UserID: "u1", DisplayName: "Alice"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"member_joined","userId":"u1","displayName":"Alice"}`, string(payload))
}

func TestEncodeEmptyEvent(t *testing.T) {
	payload, err := Encode(LobbyStarted{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"lobby_started"}`, string(payload))

	payload, err = Encode(LobbyEmpty{})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"lobby_empty"}`, string(payload))
}

func TestEncodeOmitsAbsentNewOwner(t *testing.T) {
	payload, err := Encode(MemberLeft{UserID: "u1"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"member_left","userId":"u1"}`, string(payload))

	payload, err = Encode(MemberLeft{UserID: "u1", NewOwnerUserID: "u2"})
	require.NoError(t, err)
	assert.Equal(t, `{"type":"member_left","userId":"u1","newOwnerUserId":"u2"}`, string(payload))
}

func TestEncodeProducesValidJSONForAllTypes(t *testing.T) {
	all := []Event{
		LobbyCreated{LobbyID: "l", OwnerUserID: "u", OwnerDisplayName: "n", MaxPlayers: 4},
		MemberJoined{UserID: "u", DisplayName: "n"},
		MemberLeft{UserID: "u"},
		MemberReady{UserID: "u", IsReady: true},
		EveryoneReady{AffectedMembers: []string{"a", "b"}},
		LobbyData{Key: "Map", Value: "de_dust2"},
		LobbyStarted{},
		LobbyEmpty{},
		LobbyDeleted{LobbyID: "l", GameID: "g"},
		Ping{Ts: 1234},
	}
	for _, ev := range all {
		payload, err := Encode(ev)
		require.NoError(t, err, ev.EventType())

		var decoded map[string]interface{}
		require.NoError(t, json.Unmarshal(payload, &decoded), ev.EventType())
		assert.Equal(t, ev.EventType(), decoded["type"])
	}
}
