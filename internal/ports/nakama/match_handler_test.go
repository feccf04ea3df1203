package nakama

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/plugin"
	"github.com/heroiclabs/nakama-common/runtime"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// noopLogger implements runtime.Logger for tests that only need to satisfy the interface.
type noopLogger struct{}

func (noopLogger) Debug(string, ...interface{}) {}
func (noopLogger) Info(string, ...interface{})  {}
func (noopLogger) Warn(string, ...interface{})  {}
func (noopLogger) Error(string, ...interface{}) {}
func (noopLogger) WithField(string, interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) WithFields(map[string]interface{}) runtime.Logger {
	return noopLogger{}
}
func (noopLogger) Fields() map[string]interface{} {
	return nil
}

type sentMessage struct {
	opCode     int64
	data       []byte
	recipients []string
}

// mockDispatcher records match dispatcher calls for assertions.
type mockDispatcher struct {
	sent   []sentMessage
	labels []string
	kicked []string
}

func (md *mockDispatcher) BroadcastMessage(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	msg := sentMessage{opCode: opCode, data: append([]byte(nil), data...)}
	for _, p := range presences {
		msg.recipients = append(msg.recipients, p.GetUserId())
	}
	md.sent = append(md.sent, msg)
	return nil
}

func (md *mockDispatcher) BroadcastMessageDeferred(opCode int64, data []byte, presences []runtime.Presence, sender runtime.Presence, reliable bool) error {
	return nil
}

func (md *mockDispatcher) MatchKick(presences []runtime.Presence) error {
	for _, p := range presences {
		md.kicked = append(md.kicked, p.GetUserId())
	}
	return nil
}

func (md *mockDispatcher) MatchLabelUpdate(label string) error {
	md.labels = append(md.labels, label)
	return nil
}

// lastTo returns the latest message with opCode addressed to userID.
func (md *mockDispatcher) lastTo(t *testing.T, opCode int64, userID string) []byte {
	t.Helper()
	for i := len(md.sent) - 1; i >= 0; i-- {
		msg := md.sent[i]
		if msg.opCode != opCode {
			continue
		}
		for _, r := range msg.recipients {
			if r == userID {
				return msg.data
			}
		}
	}
	t.Fatalf("no message %d for %s", opCode, userID)
	return nil
}

func (md *mockDispatcher) reset() { md.sent = nil }

type testPresence struct {
	runtime.Presence
	userID   string
	username string
}

func (p testPresence) GetUserId() string   { return p.userID }
func (p testPresence) GetUsername() string { return p.username }

type testData struct {
	runtime.MatchData
	userID string
	opCode int64
	data   []byte
}

func (d testData) GetUserId() string { return d.userID }
func (d testData) GetOpCode() int64  { return d.opCode }
func (d testData) GetData() []byte   { return d.data }

type fixedRand struct{}

func (fixedRand) Shuffle(int, func(i, j int)) {}
func (fixedRand) IntN(int) int                { return 0 }

var (
	alice = testPresence{userID: "alice-id", username: "Alice"}
	bob   = testPresence{userID: "bob-id", username: "Bob"}
	carol = testPresence{userID: "carol-id", username: "Carol"}
)

type matchHarness struct {
	t     *testing.T
	mh    *matchHandler
	ctx   context.Context
	disp  *mockDispatcher
	state *MatchState
	tick  int64
}

func newMatch(t *testing.T, gameID string) *matchHarness {
	t.Helper()
	logger := zaptest.NewLogger(t)
	catalog := game.NewCatalog(logger)
	_, err := catalog.LoadDir(filepath.Join("..", "..", "..", "games"))
	require.NoError(t, err)

	registry := game.NewPluginRegistry(logger)
	require.NoError(t, registry.Register(plugin.NewExplodingKittens(logger)))
	engine := game.NewEngine(logger, registry, nil)
	engine.SetRandomizer(fixedRand{})

	mh := newMatchHandler(engine, catalog)
	ctx := context.WithValue(context.Background(), runtime.RUNTIME_CTX_MATCH_ID, "match-1")
	state, tickRate, label := mh.MatchInit(ctx, noopLogger{}, nil, nil, map[string]interface{}{"game_id": gameID})
	require.NotNil(t, state)
	assert.Equal(t, defaultTickRate, tickRate)
	assert.Contains(t, label, `"phase":"lobby"`)

	return &matchHarness{t: t, mh: mh, ctx: ctx, disp: &mockDispatcher{}, state: state.(*MatchState)}
}

func (h *matchHarness) join(presences ...runtime.Presence) {
	h.t.Helper()
	for _, p := range presences {
		_, ok, reason := h.mh.MatchJoinAttempt(h.ctx, noopLogger{}, nil, nil, h.disp, h.tick, h.state, p, nil)
		require.True(h.t, ok, reason)
	}
	out := h.mh.MatchJoin(h.ctx, noopLogger{}, nil, nil, h.disp, h.tick, h.state, presences)
	require.NotNil(h.t, out)
}

func (h *matchHarness) leave(presences ...runtime.Presence) interface{} {
	return h.mh.MatchLeave(h.ctx, noopLogger{}, nil, nil, h.disp, h.tick, h.state, presences)
}

func (h *matchHarness) loop(messages ...runtime.MatchData) {
	h.t.Helper()
	h.tick++
	out := h.mh.MatchLoop(h.ctx, noopLogger{}, nil, nil, h.disp, h.tick, h.state, messages)
	require.NotNil(h.t, out)
}

func (h *matchHarness) view(userID string) game.StateView {
	h.t.Helper()
	var v game.StateView
	require.NoError(h.t, json.Unmarshal(h.disp.lastTo(h.t, OpGameState, userID), &v))
	return v
}

func (h *matchHarness) lastError(userID string) errorEvent {
	h.t.Helper()
	var ev errorEvent
	require.NoError(h.t, json.Unmarshal(h.disp.lastTo(h.t, OpError, userID), &ev))
	return ev
}

func action(p testPresence, a map[string]any) testData {
	data, _ := json.Marshal(a)
	return testData{userID: p.userID, opCode: OpAction, data: data}
}

func TestMatchInitUnknownGame(t *testing.T) {
	logger := zaptest.NewLogger(t)
	mh := newMatchHandler(game.NewEngine(logger, game.NewPluginRegistry(logger), nil), game.NewCatalog(logger))
	state, _, _ := mh.MatchInit(context.Background(), noopLogger{}, nil, nil, map[string]interface{}{"game_id": "chess"})
	assert.Nil(t, state)
}

func TestMatchJoinAndStart(t *testing.T) {
	h := newMatch(t, "uno")

	h.join(alice)
	require.NotNil(t, h.state.Game)
	assert.Equal(t, alice.userID, h.state.Game.HostID)
	assert.Equal(t, "match-1", h.state.Game.RoomCode)
	assert.Equal(t, alice.userID, h.view(alice.userID).ViewerID)

	h.join(bob)
	var joined presenceEvent
	require.NoError(t, json.Unmarshal(h.disp.lastTo(t, OpPlayerConnected, alice.userID), &joined))
	assert.Equal(t, bob.userID, joined.PlayerID)
	assert.Len(t, h.view(bob.userID).Players, 2)
	assert.Contains(t, h.disp.labels[len(h.disp.labels)-1], `"open":8`)

	h.loop(testData{userID: bob.userID, opCode: OpStartGame})
	assert.Equal(t, "Only the host can start the game", h.lastError(bob.userID).Error)
	assert.Equal(t, game.PhaseLobby, h.state.Game.Phase)

	h.loop(testData{userID: alice.userID, opCode: OpStartGame})
	assert.Equal(t, game.PhasePlaying, h.state.Game.Phase)
	for _, viewer := range []string{alice.userID, bob.userID} {
		v := h.view(viewer)
		assert.Equal(t, viewer, v.ViewerID)
		for _, p := range v.Players {
			if p.ID != viewer {
				require.NotEmpty(t, p.Hand)
				assert.Equal(t, "hidden", p.Hand[0].Type, "%s sees only its own hand", viewer)
			}
		}
	}
	assert.Contains(t, h.disp.labels[len(h.disp.labels)-1], `"open":0`)

	_, ok, reason := h.mh.MatchJoinAttempt(h.ctx, noopLogger{}, nil, nil, h.disp, h.tick, h.state, carol, nil)
	assert.False(t, ok)
	assert.Equal(t, "Game already started", reason)
}

func TestMatchActions(t *testing.T) {
	h := newMatch(t, "uno")
	h.join(alice, bob)
	h.loop(testData{userID: alice.userID, opCode: OpStartGame})

	h.disp.reset()
	h.loop(action(bob, map[string]any{"type": game.ActionDrawCard}))
	rejected := h.lastError(bob.userID)
	assert.Equal(t, "Not your turn", rejected.Error)
	require.NotNil(t, rejected.Result)
	assert.False(t, rejected.Result.Success)
	for _, msg := range h.disp.sent {
		assert.NotEqual(t, OpGameState, msg.opCode, "a rejected action is not broadcast")
	}

	h.loop(action(alice, map[string]any{"type": game.ActionDrawCard, "playerId": bob.userID}))
	assert.Equal(t, bob.userID, h.view(alice.userID).CurrentPlayerID, "the action runs as the sender")
	assert.Len(t, h.state.Game.FindPlayer(alice.userID).Hand.Cards, 8)

	h.loop(testData{userID: bob.userID, opCode: OpAction, data: []byte("{")})
	assert.Equal(t, "Malformed action", h.lastError(bob.userID).Error)

	h.loop(testData{userID: bob.userID, opCode: 42})
	assert.Equal(t, "Unsupported event type.", h.lastError(bob.userID).Error)

	h.disp.reset()
	h.loop(testData{userID: bob.userID, opCode: OpRequestState})
	require.Len(t, h.disp.sent, 1)
	assert.Equal(t, []string{bob.userID}, h.disp.sent[0].recipients)
}

func TestMatchLeaveLobby(t *testing.T) {
	h := newMatch(t, "uno")
	h.join(alice, bob)

	require.NotNil(t, h.leave(alice))
	assert.Equal(t, bob.userID, h.state.Game.HostID, "host passes to the next seat")
	assert.Len(t, h.state.Game.Players, 1)

	assert.Nil(t, h.leave(bob), "an empty match terminates")
}

func TestMatchLeaveAndRejoin(t *testing.T) {
	h := newMatch(t, "uno")
	h.join(alice, bob)
	h.loop(testData{userID: alice.userID, opCode: OpStartGame})

	require.NotNil(t, h.leave(bob))
	assert.False(t, h.state.Game.FindPlayer(bob.userID).IsConnected)
	assert.Len(t, h.state.Game.Players, 2, "a running game keeps the seat")
	var left presenceEvent
	require.NoError(t, json.Unmarshal(h.disp.lastTo(t, OpPlayerDisconnected, alice.userID), &left))
	assert.Equal(t, bob.userID, left.PlayerID)

	h.join(bob)
	assert.True(t, h.state.Game.FindPlayer(bob.userID).IsConnected)
	assert.Equal(t, bob.userID, h.view(bob.userID).ViewerID)
}

func TestMatchReactionWindowExpires(t *testing.T) {
	h := newMatch(t, "exploding_kittens")
	h.mh.reactionTicks = 2
	h.join(alice, bob)
	h.loop(testData{userID: alice.userID, opCode: OpStartGame})

	moveCard(t, h.state.Game, alice.userID, "see_the_future_0")
	moveCard(t, h.state.Game, bob.userID, "nope_0")

	h.loop(action(alice, map[string]any{"type": game.ActionPlayCard, "cardId": "see_the_future_0"}))
	require.NotNil(t, h.state.Game.Pending)
	assert.Equal(t, game.PendingReaction, h.state.Game.Pending.Type)
	assert.Equal(t, h.tick+2, h.state.ReactionDeadline)

	h.loop()
	require.NotNil(t, h.state.Game.Pending, "the window is still open")
	h.loop()
	assert.Nil(t, h.state.Game.Pending)
	assert.Zero(t, h.state.ReactionDeadline)
	assert.Len(t, h.state.Game.FindPlayer(alice.userID).Peeked, 3, "an unanswered window lets the card resolve")
	assert.Equal(t, game.PhasePlaying, h.view(bob.userID).Phase)
}

func TestMatchReactionRestartsClock(t *testing.T) {
	h := newMatch(t, "exploding_kittens")
	h.mh.reactionTicks = 2
	h.join(alice, bob)
	h.loop(testData{userID: alice.userID, opCode: OpStartGame})
	moveCard(t, h.state.Game, alice.userID, "see_the_future_0")
	moveCard(t, h.state.Game, bob.userID, "nope_0")

	h.loop(action(alice, map[string]any{"type": game.ActionPlayCard, "cardId": "see_the_future_0"}))
	h.loop(action(bob, map[string]any{"type": game.ActionPlayReaction, "cardId": "nope_0"}))
	require.NotNil(t, h.state.Game.Pending)
	assert.Equal(t, 1, h.state.Game.Pending.ReactionCount)
	assert.Equal(t, h.tick+2, h.state.ReactionDeadline, "a reaction restarts the clock")

	h.loop()
	h.loop()
	assert.Nil(t, h.state.Game.Pending)
	assert.Empty(t, h.state.Game.FindPlayer(alice.userID).Peeked, "a noped card does not resolve")
}

func TestMatchSignalReturnsLabel(t *testing.T) {
	h := newMatch(t, "uno")
	_, label := h.mh.MatchSignal(h.ctx, noopLogger{}, nil, nil, h.disp, 0, h.state, "")
	var l matchLabel
	require.NoError(t, json.Unmarshal([]byte(label), &l))
	assert.Equal(t, matchLabel{GameID: "uno", Phase: "lobby", Open: 10}, l)
}

func TestListGamesRPC(t *testing.T) {
	catalog := game.NewCatalog(zaptest.NewLogger(t))
	_, err := catalog.LoadDir(filepath.Join("..", "..", "..", "games"))
	require.NoError(t, err)

	out, err := listGamesRPC(catalog)(context.Background(), noopLogger{}, nil, nil, "")
	require.NoError(t, err)
	var games []game.GameSummary
	require.NoError(t, json.Unmarshal([]byte(out), &games))
	assert.Len(t, games, len(catalog.List()))

	_, err = createMatchRPC(catalog)(context.Background(), noopLogger{}, nil, nil, `{"gameId":"chess"}`)
	assert.Error(t, err)
	_, err = createMatchRPC(catalog)(context.Background(), noopLogger{}, nil, nil, `{}`)
	assert.Error(t, err)
}

// moveCard takes a card from any zone or hand into a player's hand.
func moveCard(t *testing.T, s *game.GameState, playerID, cardID string) {
	t.Helper()
	to := s.FindPlayer(playerID)
	require.NotNil(t, to)
	if to.Hand.IndexOf(cardID) >= 0 {
		return
	}
	for _, z := range s.Zones {
		for i, c := range z.Cards {
			if c.ID == cardID {
				z.Cards = append(z.Cards[:i], z.Cards[i+1:]...)
				to.Hand.Cards = append(to.Hand.Cards, c)
				return
			}
		}
	}
	for _, p := range s.Players {
		if i := p.Hand.IndexOf(cardID); i >= 0 {
			to.Hand.Cards = append(to.Hand.Cards, p.Hand.Take(i))
			return
		}
	}
	t.Fatalf("card %s not found", cardID)
}
