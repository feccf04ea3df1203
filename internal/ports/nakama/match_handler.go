package nakama

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/heroiclabs/nakama-common/runtime"
)

// MatchState holds the authoritative runtime state for one match. Nakama
// calls the handler from a single goroutine per match, so it needs no lock.
type MatchState struct {
	GameID    string                      `json:"game_id"`
	Tick      int64                       `json:"tick"`
	Presences map[string]runtime.Presence `json:"-"` // Map UserId -> Presence for targeted messaging
	Game      *game.GameState             `json:"-"` // nil until the first player joins

	// ReactionDeadline is the tick an open reaction window resolves at, 0 when none is open.
	ReactionDeadline int64 `json:"reaction_deadline"`

	def           *game.GameDefinition
	reaction      *game.PendingAction
	reactionCount int
}

func (ms *MatchState) openSeats() int {
	if ms.Game == nil {
		return ms.def.Rules.MaxPlayers
	}
	if ms.Game.Phase != game.PhaseLobby {
		return 0
	}
	return max(ms.def.Rules.MaxPlayers-len(ms.Game.Players), 0)
}

type matchLabel struct {
	GameID string `json:"game_id"`
	Phase  string `json:"phase"`
	Open   int    `json:"open"`
}

func (ms *MatchState) label() string {
	phase := string(game.PhaseLobby)
	if ms.Game != nil {
		phase = string(ms.Game.Phase)
	}
	data, _ := json.Marshal(matchLabel{GameID: ms.GameID, Phase: phase, Open: ms.openSeats()})
	return string(data)
}

type errorEvent struct {
	Error  string       `json:"error"`
	Result *game.Result `json:"result,omitempty"`
}

type presenceEvent struct {
	PlayerID string `json:"playerId"`
}

type matchHandler struct {
	engine        *game.Engine
	catalog       *game.Catalog
	tickRate      int
	reactionTicks int64
}

func newMatchHandler(engine *game.Engine, catalog *game.Catalog) *matchHandler {
	return &matchHandler{
		engine:        engine,
		catalog:       catalog,
		tickRate:      defaultTickRate,
		reactionTicks: int64(defaultTickRate * reactionSeconds),
	}
}

// MatchInit expects a game_id param naming a catalog entry.
func (mh *matchHandler) MatchInit(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, params map[string]interface{}) (interface{}, int, string) {
	gameID, _ := params["game_id"].(string)
	def, ok := mh.catalog.Get(gameID)
	if !ok {
		logger.Error("MatchInit: unknown game %q", gameID)
		return nil, 0, ""
	}

	state := &MatchState{
		GameID:    def.ID,
		Presences: make(map[string]runtime.Presence),
		def:       def,
	}
	logger.Debug("MatchInit: %s match created", def.ID)
	return state, mh.tickRate, state.label()
}

// MatchJoinAttempt admits new players while the match is a lobby with a free
// seat. A seated player may always come back.
func (mh *matchHandler) MatchJoinAttempt(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presence runtime.Presence, metadata map[string]string) (interface{}, bool, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoinAttempt: state not found")
		return state, false, "Match not found"
	}

	if matchState.Game != nil && matchState.Game.FindPlayer(presence.GetUserId()) != nil {
		return matchState, true, ""
	}
	if matchState.Game != nil && matchState.Game.Phase != game.PhaseLobby {
		return matchState, false, "Game already started"
	}
	if matchState.openSeats() <= 0 {
		return matchState, false, "Room is full"
	}
	return matchState, true, ""
}

// MatchJoin seats new players. The first player to join hosts the lobby.
func (mh *matchHandler) MatchJoin(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchJoin: state not found")
		return state
	}

	for _, p := range presences {
		userID := p.GetUserId()
		matchState.Presences[userID] = p

		switch {
		case matchState.Game == nil:
			matchID, _ := ctx.Value(runtime.RUNTIME_CTX_MATCH_ID).(string)
			matchState.Game = game.NewGameState(matchState.def, matchID, userID, p.GetUsername())
			logger.Info("MatchJoin: %s hosts match %s", userID, matchID)
		case matchState.Game.FindPlayer(userID) != nil:
			matchState.Game.SetConnected(userID, true)
			logger.Debug("MatchJoin: %s reconnected", userID)
		default:
			if _, err := mh.engine.AddPlayer(matchState.Game, userID, p.GetUsername()); err != nil {
				logger.Warn("MatchJoin: could not seat %s: %v", userID, err)
				delete(matchState.Presences, userID)
				_ = dispatcher.MatchKick([]runtime.Presence{p})
				continue
			}
		}
		mh.broadcastPresence(matchState, dispatcher, logger, OpPlayerConnected, userID)
	}

	mh.broadcastState(matchState, dispatcher, logger)
	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

// MatchLeave frees lobby seats and marks players in a running game as
// disconnected. The match ends once nobody is connected.
func (mh *matchHandler) MatchLeave(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, presences []runtime.Presence) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		logger.Error("MatchLeave: state not found")
		return state
	}

	for _, p := range presences {
		userID := p.GetUserId()
		delete(matchState.Presences, userID)
		if matchState.Game == nil {
			continue
		}

		if matchState.Game.Phase == game.PhaseLobby {
			if _, err := mh.engine.RemovePlayer(matchState.Game, userID); err != nil {
				logger.Warn("MatchLeave: %v", err)
			}
			if len(matchState.Game.Players) == 0 {
				matchState.Game = nil
			}
		} else {
			matchState.Game.SetConnected(userID, false)
		}
		logger.Debug("MatchLeave: %s left", userID)
		mh.broadcastPresence(matchState, dispatcher, logger, OpPlayerDisconnected, userID)
	}

	if len(matchState.Presences) == 0 {
		logger.Info("MatchLeave: Terminating match with no players.")
		return nil
	}

	mh.broadcastState(matchState, dispatcher, logger)
	mh.updateLabel(matchState, dispatcher, logger)
	return matchState
}

func (mh *matchHandler) MatchLoop(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, messages []runtime.MatchData) interface{} {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state
	}
	matchState.Tick = tick

	changed := false
	for _, msg := range messages {
		switch msg.GetOpCode() {
		case OpStartGame:
			changed = mh.handleStartGame(matchState, dispatcher, logger, msg) || changed
		case OpAction:
			changed = mh.handleAction(matchState, dispatcher, logger, msg) || changed
		case OpRequestState:
			mh.sendState(matchState, dispatcher, logger, msg.GetUserId())
		default:
			mh.sendError(matchState, dispatcher, logger, msg.GetUserId(), errorEvent{Error: "Unsupported event type."})
		}
	}

	if mh.expireReaction(matchState, logger) {
		changed = true
	}
	if changed {
		mh.broadcastState(matchState, dispatcher, logger)
		mh.updateLabel(matchState, dispatcher, logger)
	}
	return matchState
}

func (mh *matchHandler) handleStartGame(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) bool {
	senderID := msg.GetUserId()
	if state.Game == nil {
		return false
	}
	if err := mh.engine.StartGame(state.Game, senderID); err != nil {
		logger.Warn("handleStartGame: %s could not start: %v", senderID, err)
		mh.sendError(state, dispatcher, logger, senderID, errorEvent{Error: err.Error()})
		return false
	}
	logger.Info("handleStartGame: %s started with %d players", state.GameID, len(state.Game.Players))
	return true
}

// handleAction applies one action as the sending presence. A rejected
// action reaches only its sender.
func (mh *matchHandler) handleAction(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, msg runtime.MatchData) bool {
	senderID := msg.GetUserId()
	var a game.Action
	if err := json.Unmarshal(msg.GetData(), &a); err != nil || a.Type == "" {
		mh.sendError(state, dispatcher, logger, senderID, errorEvent{Error: "Malformed action"})
		return false
	}
	if state.Game == nil {
		return false
	}
	a.PlayerID = senderID

	before := checksum(state.Game)
	res, err := mh.engine.ApplyAction(state.Game, a)
	if err != nil && checksum(state.Game) == before {
		logger.Debug("handleAction: %s %s rejected: %v", senderID, a.Type, err)
		mh.sendError(state, dispatcher, logger, senderID, errorEvent{Error: err.Error(), Result: &res})
		return false
	}
	if err != nil {
		logger.Error("handleAction: %s %s failed but changed the game: %v", senderID, a.Type, err)
	}
	mh.trackReaction(state)
	return true
}

// trackReaction restarts the reaction clock whenever a window opens or a new
// reaction lands.
func (mh *matchHandler) trackReaction(state *MatchState) {
	p := state.Game.Pending
	if p == nil || p.Type != game.PendingReaction {
		state.reaction, state.reactionCount, state.ReactionDeadline = nil, 0, 0
		return
	}
	if state.reaction == p && state.reactionCount == p.ReactionCount {
		return
	}
	state.reaction, state.reactionCount = p, p.ReactionCount
	state.ReactionDeadline = state.Tick + mh.reactionTicks
}

// expireReaction resolves a reaction window whose clock ran out.
func (mh *matchHandler) expireReaction(state *MatchState, logger runtime.Logger) bool {
	if state.Game == nil || state.ReactionDeadline == 0 || state.Tick < state.ReactionDeadline {
		return false
	}
	p := state.Game.Pending
	state.reaction, state.reactionCount, state.ReactionDeadline = nil, 0, 0
	if p == nil || p.Type != game.PendingReaction {
		return false
	}

	before := checksum(state.Game)
	res, err := mh.engine.ApplyAction(state.Game, game.Action{Type: game.ActionResolveReaction, PlayerID: p.PlayerID})
	if err != nil && checksum(state.Game) == before {
		logger.Warn("expireReaction: could not resolve: %v", err)
		return false
	}
	logger.Debug("expireReaction: reaction window closed: %v", res.Triggered)
	mh.trackReaction(state)
	return true
}

func checksum(s *game.GameState) string {
	sum, err := game.ComputeChecksum(s)
	if err != nil {
		return ""
	}
	return sum.Hash
}

// broadcastState sends each connected player the state as they may see it.
func (mh *matchHandler) broadcastState(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	for userID := range state.Presences {
		mh.sendState(state, dispatcher, logger, userID)
	}
}

func (mh *matchHandler) sendState(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, userID string) {
	presence, ok := state.Presences[userID]
	if !ok || state.Game == nil {
		return
	}
	data, err := json.Marshal(mh.engine.View(state.Game, userID))
	if err != nil {
		logger.Error("sendState: failed to marshal view for %s: %v", userID, err)
		return
	}
	if err := dispatcher.BroadcastMessage(OpGameState, data, []runtime.Presence{presence}, nil, true); err != nil {
		logger.Warn("sendState: %v", err)
	}
}

func (mh *matchHandler) broadcastPresence(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, opCode int64, userID string) {
	var recipients []runtime.Presence
	for id, p := range state.Presences {
		if id != userID {
			recipients = append(recipients, p)
		}
	}
	if len(recipients) == 0 {
		return
	}
	data, _ := json.Marshal(presenceEvent{PlayerID: userID})
	if err := dispatcher.BroadcastMessage(opCode, data, recipients, nil, true); err != nil {
		logger.Warn("broadcastPresence: %v", err)
	}
}

// sendError sends an error event to a specific user.
func (mh *matchHandler) sendError(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger, userID string, ev errorEvent) {
	presence, ok := state.Presences[userID]
	if !ok {
		logger.Warn("Cannot send error to %s: Presence not found", userID)
		return
	}
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to marshal error event: %v", err)
		return
	}
	_ = dispatcher.BroadcastMessage(OpError, data, []runtime.Presence{presence}, nil, true)
}

func (mh *matchHandler) updateLabel(state *MatchState, dispatcher runtime.MatchDispatcher, logger runtime.Logger) {
	if err := dispatcher.MatchLabelUpdate(state.label()); err != nil {
		logger.Error("UpdateLabel: Failed to update: %v", err)
	}
}

func (mh *matchHandler) MatchTerminate(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, graceSeconds int) interface{} {
	logger.Debug("MatchTerminate: Match terminated with %d seconds grace", graceSeconds)
	return state
}

// MatchSignal answers any signal with the current match label.
func (mh *matchHandler) MatchSignal(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, dispatcher runtime.MatchDispatcher, tick int64, state interface{}, data string) (interface{}, string) {
	matchState, ok := state.(*MatchState)
	if !ok {
		return state, ""
	}
	return matchState, matchState.label()
}
