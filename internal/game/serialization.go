package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"google.golang.org/protobuf/types/known/structpb"
)

// snapshotVersion is bumped whenever the persisted layout changes.
const snapshotVersion = 1

// SerializationChecksum is a fingerprint of the mechanical game state. It
// ignores log text and timestamps so two replicas that applied the same
// actions agree on it.
type SerializationChecksum struct {
	Hash      string
	Timestamp string
	Version   int
}

// ComputeChecksum fingerprints the state.
func ComputeChecksum(s *GameState) (*SerializationChecksum, error) {
	hash := sha256.New()
	if _, err := hash.Write([]byte(canonicalRepresentation(s))); err != nil {
		return nil, fmt.Errorf("failed to compute hash: %w", err)
	}
	return &SerializationChecksum{
		Hash:      hex.EncodeToString(hash.Sum(nil)),
		Timestamp: time.Now().UTC().Format("2006-01-02T15:04:05.000Z"),
		Version:   snapshotVersion,
	}, nil
}

func cardIDs(cards []Card) string {
	ids := make([]string, len(cards))
	for i, c := range cards {
		ids[i] = c.ID
	}
	return strings.Join(ids, ",")
}

// canonicalRepresentation renders the state in a fixed order. Pile and hand
// order matters and is kept; players and counters are sorted.
func canonicalRepresentation(s *GameState) string {
	var buf bytes.Buffer

	fmt.Fprintf(&buf, "GAME:%s|%s|%s|%s|%d|%d|%s|%d|%s\n",
		s.RoomCode, s.GameID, s.Phase, s.CurrentPlayerID,
		s.TurnNumber, s.Direction, s.ActiveColor, s.PendingDraw, s.WinnerID,
	)

	players := append([]*Player(nil), s.Players...)
	sort.Slice(players, func(i, j int) bool { return players[i].ID < players[j].ID })
	for _, p := range players {
		fmt.Fprintf(&buf, "PLAYER:%s|%s|%t|%d|%t\n", p.ID, p.Status, p.IsCurrentTurn, p.Score, p.CalledLast)
		fmt.Fprintf(&buf, "  HAND:%s\n", cardIDs(p.Hand.Cards))
		for _, c := range p.Counters.ToView() {
			fmt.Fprintf(&buf, "  COUNTER:%s=%d\n", c.Name, c.Count)
		}
	}

	for _, z := range s.Zones {
		fmt.Fprintf(&buf, "ZONE:%s|%s\n", z.ID, cardIDs(z.Cards))
	}

	if p := s.Pending; p != nil {
		held := ""
		if p.Card != nil {
			held = p.Card.ID
		}
		fmt.Fprintf(&buf, "PENDING:%s|%s|%s|%d|%s\n", p.Type, p.PlayerID, strings.Join(p.ResponderIDs, ","), p.ReactionCount, held)
	}

	for _, c := range s.Counters.ToView() {
		fmt.Fprintf(&buf, "COUNTER:%s=%d\n", c.Name, c.Count)
	}

	removed := append([]string(nil), s.RemovedCardIDs...)
	sort.Strings(removed)
	fmt.Fprintf(&buf, "REMOVED:%s\n", strings.Join(removed, ","))
	return buf.String()
}

// Serialize converts the state into a transport-neutral map.
func Serialize(s *GameState) (map[string]any, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode state map: %w", err)
	}
	return out, nil
}

// Deserialize rebuilds a state from Serialize output. A map that does not
// describe a consistent state is rejected with ErrCorruptState.
func Deserialize(m map[string]any) (*GameState, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return nil, corrupt("encode map: %v", err)
	}
	return decodeState(data)
}

func decodeState(data []byte) (*GameState, error) {
	var s GameState
	if err := json.Unmarshal(data, &s); err != nil {
		return nil, corrupt("decode state: %v", err)
	}
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return &s, nil
}

// ToStruct converts the state into a protobuf Struct.
func ToStruct(s *GameState) (*structpb.Struct, error) {
	m, err := Serialize(s)
	if err != nil {
		return nil, err
	}
	st, err := structpb.NewStruct(m)
	if err != nil {
		return nil, fmt.Errorf("failed to build struct: %w", err)
	}
	return st, nil
}

// FromStruct is the inverse of ToStruct.
func FromStruct(st *structpb.Struct) (*GameState, error) {
	if st == nil {
		return nil, corrupt("empty struct")
	}
	return Deserialize(st.AsMap())
}

// ViewToStruct converts a per-viewer projection into a protobuf Struct.
func ViewToStruct(v *StateView) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to encode view: %w", err)
	}
	var m map[string]any
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to decode view map: %w", err)
	}
	return structpb.NewStruct(m)
}

// Validate checks the structural invariants a resumed room relies on.
func (s *GameState) Validate() error {
	switch s.Phase {
	case PhaseLobby, PhasePlaying, PhaseAwaitingResponse, PhaseEnded:
	default:
		return corrupt("unknown phase %q", s.Phase)
	}
	if s.RoomCode == "" || s.GameID == "" {
		return corrupt("missing room code or game id")
	}
	if s.Phase == PhaseLobby {
		return nil
	}
	if len(s.Players) == 0 {
		return corrupt("no players")
	}
	if s.Direction != 1 && s.Direction != -1 {
		return corrupt("direction %d", s.Direction)
	}
	if (s.Phase == PhaseAwaitingResponse) != (s.Pending != nil) {
		return corrupt("pending action does not match phase %s", s.Phase)
	}

	if s.Phase == PhasePlaying {
		flagged := 0
		for _, p := range s.Players {
			if p == nil {
				return corrupt("nil player")
			}
			if p.IsCurrentTurn {
				flagged++
				if p.ID != s.CurrentPlayerID || p.Status != PlayerActive {
					return corrupt("player %s flagged as current", p.ID)
				}
			}
		}
		if flagged != 1 {
			return corrupt("%d players flagged as current", flagged)
		}
	}

	seen := make(map[string]bool)
	for _, c := range s.AllCards() {
		if seen[c.ID] {
			return corrupt("card %s appears twice", c.ID)
		}
		seen[c.ID] = true
	}
	return nil
}

type snapshotEnvelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	State    json.RawMessage `json:"state"`
}

// EncodeSnapshot serializes the state for persistence, sealed with a SHA-256
// of the encoded state.
func EncodeSnapshot(s *GameState) ([]byte, error) {
	state, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	sum := sha256.Sum256(state)
	return json.Marshal(snapshotEnvelope{
		Version:  snapshotVersion,
		Checksum: hex.EncodeToString(sum[:]),
		State:    state,
	})
}

// DecodeSnapshot restores a persisted state. Any mismatch is ErrCorruptState;
// the caller must not try to repair the room.
func DecodeSnapshot(data []byte) (*GameState, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, corrupt("decode envelope: %v", err)
	}
	if env.Version != snapshotVersion {
		return nil, corrupt("unsupported snapshot version %d", env.Version)
	}
	sum := sha256.Sum256(env.State)
	if hex.EncodeToString(sum[:]) != env.Checksum {
		return nil, corrupt("checksum mismatch")
	}
	return decodeState(env.State)
}

// Clone deep-copies a state through its serialized form.
func Clone(s *GameState) (*GameState, error) {
	data, err := json.Marshal(s)
	if err != nil {
		return nil, fmt.Errorf("failed to encode state: %w", err)
	}
	var out GameState
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("failed to decode state: %w", err)
	}
	return &out, nil
}
