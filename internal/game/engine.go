package game

import (
	"errors"
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
	"go.uber.org/zap"
)

// Built-in action types.
const (
	ActionPlayCard        = "play_card"
	ActionDrawCard        = "draw_card"
	ActionChooseColor     = "choose_color"
	ActionSelectTarget    = "select_target"
	ActionInsertCard      = "insert_card"
	ActionGiveCard        = "give_card"
	ActionPlayReaction    = "play_reaction"
	ActionResolveReaction = "resolve_reaction"
	ActionChallenge       = "challenge"
	ActionAccept          = "accept"
	ActionCallLastCard    = "call_uno"
	ActionCatchLastCard   = "catch_uno"
	ActionPassTurn        = "pass_turn"
)

// Action is an inbound request from a player.
type Action struct {
	Type           string         `json:"type"`
	PlayerID       string         `json:"playerId"`
	CardID         string         `json:"cardId,omitempty"`
	TargetPlayerID string         `json:"targetPlayerId,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
}

// MetaString reads a string from the action metadata.
func (a Action) MetaString(key string) string {
	return rules.StringValue(a.Metadata[key])
}

// MetaInt reads a number from the action metadata.
func (a Action) MetaInt(key string) (int, bool) {
	raw, ok := a.Metadata[key]
	if !ok {
		return 0, false
	}
	return rules.IntValue(raw)
}

// Result is the outcome reported to transports.
type Result struct {
	Success   bool     `json:"success"`
	Error     string   `json:"error,omitempty"`
	Triggered []string `json:"triggered,omitempty"`
}

// Engine interprets game definitions. It holds no per-room state; callers
// serialize access to each GameState.
type Engine struct {
	logger  *zap.Logger
	plugins *PluginRegistry
	bus     *rules.EventBus
	rng     Randomizer
	effects map[string]EffectHandler
	actions map[string]ActionHandler
}

// NewEngine creates an engine. plugins and bus may be nil.
func NewEngine(logger *zap.Logger, plugins *PluginRegistry, bus *rules.EventBus) *Engine {
	e := &Engine{
		logger:  logger,
		plugins: plugins,
		bus:     bus,
		rng:     newDefaultRandomizer(),
	}
	e.effects = builtinEffects()
	e.actions = map[string]ActionHandler{
		ActionPlayCard:        (*Engine).playCard,
		ActionDrawCard:        (*Engine).drawCard,
		ActionChooseColor:     (*Engine).chooseColor,
		ActionSelectTarget:    (*Engine).selectTarget,
		ActionInsertCard:      (*Engine).insertCard,
		ActionGiveCard:        (*Engine).giveCard,
		ActionPlayReaction:    (*Engine).playReaction,
		ActionResolveReaction: (*Engine).resolveReaction,
		ActionChallenge:       (*Engine).challenge,
		ActionAccept:          (*Engine).acceptDraw,
		ActionCallLastCard:    (*Engine).callLastCard,
		ActionCatchLastCard:   (*Engine).catchLastCard,
		ActionPassTurn:        (*Engine).passTurn,
	}
	return e
}

// SetRandomizer replaces the random source, mainly for deterministic tests.
func (e *Engine) SetRandomizer(r Randomizer) {
	if r != nil {
		e.rng = r
	}
}

// Rand exposes the engine's random source to plugins.
func (e *Engine) Rand() Randomizer { return e.rng }

// Events returns the engine's event bus (may be nil).
func (e *Engine) Events() *rules.EventBus { return e.bus }

// Plugins returns the plugin registry (may be nil).
func (e *Engine) Plugins() *PluginRegistry { return e.plugins }

func (e *Engine) publish(evt rules.Event) {
	e.bus.Publish(evt)
}

func (e *Engine) accessor(s *GameState) stateAccessor {
	return stateAccessor{e: e, s: s}
}

// Conditions returns an evaluator bound to the state.
func (e *Engine) Conditions(s *GameState) *rules.ConditionEvaluator {
	return rules.NewConditionEvaluator(e.accessor(s))
}

// Targets returns a selector resolver bound to the state.
func (e *Engine) Targets(s *GameState) *targeting.TargetValidator {
	return targeting.NewTargetValidator(e.accessor(s))
}

// ApplyAction validates and applies one action. When it returns an error the
// state is exactly as it was before the call, even if resolution failed after
// cards had moved. The caller must hold the room's lock.
func (e *Engine) ApplyAction(s *GameState, a Action) (Result, error) {
	backup, err := Clone(s)
	if err != nil {
		return Result{Success: false, Error: err.Error()}, err
	}
	held := heldPointers(s)

	triggered, err := e.apply(s, a)
	if err != nil {
		held.rollback(s, backup)
		if e.logger != nil {
			e.logger.Debug("action rejected",
				zap.String("room_code", s.RoomCode),
				zap.String("player_id", a.PlayerID),
				zap.String("action_type", a.Type),
				zap.Error(err),
			)
		}
		return Result{Success: false, Error: err.Error()}, err
	}
	return Result{Success: true, Triggered: triggered}, nil
}

// pointers remembers the objects callers may hold into a state, so a rollback
// can restore them in place instead of swapping in copies.
type pointers struct {
	players map[string]*Player
	zones   map[string]*Zone
	pending *PendingAction
}

func heldPointers(s *GameState) pointers {
	ptrs := pointers{
		players: make(map[string]*Player, len(s.Players)),
		zones:   make(map[string]*Zone, len(s.Zones)),
		pending: s.Pending,
	}
	for _, p := range s.Players {
		ptrs.players[p.ID] = p
	}
	for _, z := range s.Zones {
		ptrs.zones[z.ID] = z
	}
	return ptrs
}

// rollback restores s from backup.
func (ptrs pointers) rollback(s, backup *GameState) {
	*s = *backup
	for i, p := range s.Players {
		if orig, ok := ptrs.players[p.ID]; ok {
			*orig = *p
			s.Players[i] = orig
		}
	}
	for i, z := range s.Zones {
		if orig, ok := ptrs.zones[z.ID]; ok {
			*orig = *z
			s.Zones[i] = orig
		}
	}
	if ptrs.pending != nil && s.Pending != nil {
		*ptrs.pending = *s.Pending
		s.Pending = ptrs.pending
	}
}

func (e *Engine) apply(s *GameState, a Action) ([]string, error) {
	switch s.Phase {
	case PhaseEnded:
		return nil, actionErr(ErrGameEnded, "Game is over")
	case PhaseLobby:
		return nil, actionErr(ErrGameNotStarted, "Game has not started")
	}
	if s.FindPlayer(a.PlayerID) == nil {
		return nil, actionErr(ErrUnknownPlayer, "Player %s is not in this room", a.PlayerID)
	}

	if v := e.validateAction(s, a); v.Decision == Deny {
		return nil, actionErr(ErrActionRejected, "%s", denyReason(v, "Action not allowed"))
	}

	handler, custom := e.customAction(s, a.Type)
	if !custom {
		var ok bool
		if handler, ok = e.actions[a.Type]; !ok {
			return nil, actionErr(ErrUnknownAction, "Unknown action: %s", a.Type)
		}
	}

	triggered, err := handler(e, s, a)
	if err != nil {
		return triggered, err
	}
	if s.Phase != PhaseEnded {
		if winner := e.checkWin(s); winner != "" {
			triggered = append(triggered, e.endGame(s, winner)...)
		}
	}

	if e.logger != nil {
		e.logger.Debug("action applied",
			zap.String("room_code", s.RoomCode),
			zap.String("player_id", a.PlayerID),
			zap.String("action_type", a.Type),
			zap.Bool("custom", custom),
			zap.Strings("triggered", triggered),
		)
	}
	return triggered, nil
}

func (e *Engine) customAction(s *GameState, actionType string) (ActionHandler, bool) {
	p := e.pluginFor(s)
	if p == nil {
		return nil, false
	}
	h, ok := p.CustomActions()[actionType]
	return h, ok && h != nil
}

func denyReason(v Verdict, fallback string) string {
	if v.Reason != "" {
		return v.Reason
	}
	return fallback
}

// IsActionError reports whether err is a validation failure rather than an
// engine fault.
func IsActionError(err error) bool {
	var ae *ActionError
	return errors.As(err, &ae)
}

// requireTurn checks that the actor is the current player in a playing phase.
func requireTurn(s *GameState, a Action) (*Player, error) {
	if s.Phase == PhaseAwaitingResponse {
		return nil, actionErr(ErrAwaitingResponse, "Waiting for %s", describePending(s))
	}
	player := s.FindPlayer(a.PlayerID)
	if player == nil || player.Status != PlayerActive {
		return nil, actionErr(ErrNotEligible, "You are not in the game")
	}
	if s.CurrentPlayerID != a.PlayerID {
		return nil, actionErr(ErrNotYourTurn, "Not your turn")
	}
	return player, nil
}

func describePending(s *GameState) string {
	if s.Pending == nil {
		return "a response"
	}
	return fmt.Sprintf("%s (%s)", s.Pending.Type, s.PlayerName(s.Pending.PlayerID))
}
