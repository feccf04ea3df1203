package game

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/cardtable/cardtable-server-go/internal/game/counters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestComputeChecksum(t *testing.T) {
	e := newTestEngine(t)
	s := startGame(t, e, matchingDefinition(), 3)

	sum, err := ComputeChecksum(s)
	require.NoError(t, err)
	assert.Len(t, sum.Hash, 64)
	assert.Equal(t, snapshotVersion, sum.Version)
	assert.NotEmpty(t, sum.Timestamp)
}

func TestDeterministicChecksum(t *testing.T) {
	a := startGame(t, newTestEngine(t), eliminationDefinition(), 3)
	b := startGame(t, newTestEngine(t), eliminationDefinition(), 3)

	// State ids, log ids and timestamps differ between the two rooms.
	require.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, checksum(t, a), checksum(t, b))
}

func TestChecksumIgnoresLog(t *testing.T) {
	s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
	before := checksum(t, s)

	s.AddLog(LogChat, "p1", "", "good luck")
	assert.Equal(t, before, checksum(t, s))
}

func TestChecksumDetectsChanges(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *GameState)
	}{
		{"score", func(s *GameState) { s.Players[1].Score++ }},
		{"hand order", func(s *GameState) {
			h := s.Players[0].Hand.Cards
			h[0], h[1] = h[1], h[0]
		}},
		{"draw pile order", func(s *GameState) {
			d := s.DrawPile().Cards
			d[0], d[1] = d[1], d[0]
		}},
		{"direction", func(s *GameState) { s.Direction = -1 }},
		{"active color", func(s *GameState) { s.ActiveColor = "blue" }},
		{"player counter", func(s *GameState) { s.Players[0].Counters.Add(counters.Key("matching", "wins"), 1) }},
		{"room counter", func(s *GameState) { s.Counters.Add("round", 1) }},
		{"pending", func(s *GameState) {
			s.Pending = &PendingAction{Type: PendingChooseColor, PlayerID: "p1"}
		}},
		{"removed cards", func(s *GameState) { s.RemovedCardIDs = append(s.RemovedCardIDs, "ghost") }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
			before := checksum(t, s)
			tt.mutate(s)
			assert.NotEqual(t, before, checksum(t, s))
		})
	}
}

// midDefuse returns an elimination game waiting for p2 to put a defused bomb
// back into the draw pile.
func midDefuse(t *testing.T, e *Engine) *GameState {
	t.Helper()
	s := startGame(t, e, eliminationDefinition(), 2)
	putOnDrawPile(t, s, "cat_12", "exploding_kitten_injected_0")
	act(t, e, s, Action{Type: ActionDrawCard, PlayerID: "p1"})
	act(t, e, s, Action{Type: ActionDrawCard, PlayerID: "p2"})
	require.Equal(t, PendingInsertCard, s.Pending.Type)
	return s
}

func TestSnapshotRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	s := midDefuse(t, e)
	s.Players[0].Counters.Add(counters.Key("elimination", "draws"), 2)
	initial := cardInventory(s)

	data, err := EncodeSnapshot(s)
	require.NoError(t, err)

	restored, err := DecodeSnapshot(data)
	require.NoError(t, err)
	assert.Equal(t, checksum(t, s), checksum(t, restored))
	assert.Equal(t, s.ID, restored.ID)
	assert.Equal(t, len(s.Log), len(restored.Log))
	require.NotNil(t, restored.Pending.Card)
	assert.Equal(t, "exploding_kitten_injected_0", restored.Pending.Card.ID)
	assert.Equal(t, 2, restored.Players[0].Counters.Get(counters.Key("elimination", "draws")))

	// Play continues on the restored room exactly as it would have.
	act(t, e, restored, Action{Type: ActionInsertCard, PlayerID: "p2", Metadata: map[string]any{"position": 1}})
	act(t, e, s, Action{Type: ActionInsertCard, PlayerID: "p2", Metadata: map[string]any{"position": 1}})
	assert.Equal(t, checksum(t, s), checksum(t, restored))
	requireConserved(t, restored, initial)
}

func TestDecodeSnapshotRejectsTampering(t *testing.T) {
	s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
	data, err := EncodeSnapshot(s)
	require.NoError(t, err)

	t.Run("edited state", func(t *testing.T) {
		tampered := bytes.Replace(data, []byte(`"score":0`), []byte(`"score":9`), 1)
		require.NotEqual(t, data, tampered)
		_, err := DecodeSnapshot(tampered)
		require.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("unknown version", func(t *testing.T) {
		var env map[string]json.RawMessage
		require.NoError(t, json.Unmarshal(data, &env))
		env["version"] = json.RawMessage("99")
		bumped, err := json.Marshal(env)
		require.NoError(t, err)
		_, err = DecodeSnapshot(bumped)
		require.ErrorIs(t, err, ErrCorruptState)
	})

	t.Run("garbage", func(t *testing.T) {
		_, err := DecodeSnapshot([]byte("not a snapshot"))
		require.ErrorIs(t, err, ErrCorruptState)
	})
}

func TestStructRoundTrip(t *testing.T) {
	e := newTestEngine(t)
	s := midDefuse(t, e)

	st, err := ToStruct(s)
	require.NoError(t, err)
	assert.Equal(t, "ROOM42", st.Fields["roomCode"].GetStringValue())
	assert.Equal(t, "insert_card", st.Fields["pendingAction"].GetStructValue().Fields["type"].GetStringValue())

	restored, err := FromStruct(st)
	require.NoError(t, err)
	assert.Equal(t, checksum(t, s), checksum(t, restored))

	_, err = FromStruct(nil)
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestDeserializeRejectsInconsistentState(t *testing.T) {
	s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
	m, err := Serialize(s)
	require.NoError(t, err)

	m["direction"] = float64(5)
	_, err = Deserialize(m)
	require.ErrorIs(t, err, ErrCorruptState)
}

func TestValidate(t *testing.T) {
	lobby := NewGameState(matchingDefinition(), "ROOM42", "p1", "Alice")
	require.NoError(t, lobby.Validate())

	tests := []struct {
		name   string
		mutate func(s *GameState)
	}{
		{"unknown phase", func(s *GameState) { s.Phase = "paused" }},
		{"missing room code", func(s *GameState) { s.RoomCode = "" }},
		{"bad direction", func(s *GameState) { s.Direction = 0 }},
		{"pending while playing", func(s *GameState) {
			s.Pending = &PendingAction{Type: PendingChooseColor, PlayerID: "p1"}
		}},
		{"awaiting without pending", func(s *GameState) { s.Phase = PhaseAwaitingResponse }},
		{"two current players", func(s *GameState) { s.Players[1].IsCurrentTurn = true }},
		{"eliminated current player", func(s *GameState) { s.Players[0].Status = PlayerEliminated }},
		{"current id mismatch", func(s *GameState) { s.CurrentPlayerID = "p2" }},
		{"duplicate card", func(s *GameState) {
			s.DrawPile().PushTop(s.Players[0].Hand.Cards[0])
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
			require.NoError(t, s.Validate())
			tt.mutate(s)
			require.ErrorIs(t, s.Validate(), ErrCorruptState)
		})
	}
}

func TestClone(t *testing.T) {
	s := startGame(t, newTestEngine(t), matchingDefinition(), 2)
	c, err := Clone(s)
	require.NoError(t, err)
	assert.Equal(t, checksum(t, s), checksum(t, c))

	c.Players[0].Hand.Cards = nil
	c.DrawPile().Cards = c.DrawPile().Cards[:1]
	assert.Len(t, s.Players[0].Hand.Cards, 3)
	assert.Greater(t, len(s.DrawPile().Cards), 1)
}
