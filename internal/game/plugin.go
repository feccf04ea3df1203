package game

import (
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// ActionHandler resolves one action type. It returns the triggered event tags.
type ActionHandler func(e *Engine, s *GameState, a Action) ([]string, error)

// Decision is a plugin validation outcome.
type Decision int

const (
	// Abstain defers to the built-in checks
	Abstain Decision = iota
	// Allow accepts without the built-in matching checks
	Allow
	// Deny rejects with Verdict.Reason
	Deny
)

func (d Decision) String() string {
	switch d {
	case Allow:
		return "allow"
	case Deny:
		return "deny"
	default:
		return "abstain"
	}
}

// Verdict is returned by the plugin validation hooks.
type Verdict struct {
	Decision Decision
	Reason   string
}

// HookResult is returned by hooks that can influence the turn flow.
type HookResult struct {
	Veto            bool
	Reason          string
	HaltTurnAdvance bool
}

// Plugin layers game-specific behavior over the engine. Embed BasePlugin to
// implement only what a game needs.
type Plugin interface {
	GameID() string
	CustomActions() map[string]ActionHandler
	CustomEffects() map[string]EffectHandler
	DefaultActions() []DefaultAction

	OnGameStart(e *Engine, s *GameState)
	OnTurnStart(e *Engine, s *GameState, playerID string)
	// OnCardPlayed runs before a card leaves the hand. Veto rejects the play;
	// HaltTurnAdvance keeps the turn with the player afterwards.
	OnCardPlayed(e *Engine, s *GameState, playerID string, card *Card) HookResult
	// OnTurnEnd runs before the turn passes. HaltTurnAdvance gives the same
	// player another turn instead.
	OnTurnEnd(e *Engine, s *GameState, playerID string) HookResult
	OnGameEnd(e *Engine, s *GameState, winnerID string)

	ValidateCardPlay(e *Engine, s *GameState, playerID string, card *Card) Verdict
	ValidateAction(e *Engine, s *GameState, a Action) Verdict
}

// BasePlugin provides no-op hooks.
type BasePlugin struct{}

func (BasePlugin) CustomActions() map[string]ActionHandler { return nil }
func (BasePlugin) CustomEffects() map[string]EffectHandler { return nil }
func (BasePlugin) DefaultActions() []DefaultAction { return nil }
func (BasePlugin) OnGameStart(*Engine, *GameState) {}
func (BasePlugin) OnTurnStart(*Engine, *GameState, string) {}
func (BasePlugin) OnCardPlayed(*Engine, *GameState, string, *Card) HookResult { return HookResult{} }
func (BasePlugin) OnTurnEnd(*Engine, *GameState, string) HookResult { return HookResult{} }
func (BasePlugin) OnGameEnd(*Engine, *GameState, string) {}
func (BasePlugin) ValidateCardPlay(*Engine, *GameState, string, *Card) Verdict {
	return Verdict{}
}
func (BasePlugin) ValidateAction(*Engine, *GameState, Action) Verdict { return Verdict{} }

// PluginRegistry maps game ids to plugins.
type PluginRegistry struct {
	logger  *zap.Logger
	mu      sync.RWMutex
	plugins map[string]Plugin
}

// NewPluginRegistry creates an empty registry.
func NewPluginRegistry(logger *zap.Logger) *PluginRegistry {
	return &PluginRegistry{
		logger:  logger,
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin. A game id can only be claimed once.
func (r *PluginRegistry) Register(p Plugin) error {
	if p == nil || p.GameID() == "" {
		return fmt.Errorf("plugin must declare a game id")
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.plugins[p.GameID()]; exists {
		return fmt.Errorf("plugin for game %s already registered", p.GameID())
	}
	r.plugins[p.GameID()] = p

	if r.logger != nil {
		r.logger.Info("registered game plugin",
			zap.String("game_id", p.GameID()),
			zap.Int("custom_actions", len(p.CustomActions())),
			zap.Int("custom_effects", len(p.CustomEffects())),
		)
	}
	return nil
}

// Get returns the plugin for a game, if any.
func (r *PluginRegistry) Get(gameID string) (Plugin, bool) {
	if r == nil {
		return nil, false
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.plugins[gameID]
	return p, ok
}

// GameIDs lists the games with a plugin.
func (r *PluginRegistry) GameIDs() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	ids := make([]string, 0, len(r.plugins))
	for id := range r.plugins {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// guard runs a plugin hook, converting a panic into a logged no-op.
func (e *Engine) guard(s *GameState, hook string, fn func()) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			ok = false
			if e.logger != nil {
				e.logger.Error("plugin hook panicked",
					zap.String("game_id", s.GameID),
					zap.String("room_code", s.RoomCode),
					zap.String("hook", hook),
					zap.Any("panic", r),
				)
			}
		}
	}()
	fn()
	return true
}

func (e *Engine) pluginFor(s *GameState) Plugin {
	p, _ := e.plugins.Get(s.GameID)
	return p
}

func (e *Engine) hookGameStart(s *GameState) {
	if p := e.pluginFor(s); p != nil {
		e.guard(s, "OnGameStart", func() { p.OnGameStart(e, s) })
	}
}

func (e *Engine) hookTurnStart(s *GameState, playerID string) {
	if p := e.pluginFor(s); p != nil {
		e.guard(s, "OnTurnStart", func() { p.OnTurnStart(e, s, playerID) })
	}
}

func (e *Engine) hookCardPlayed(s *GameState, playerID string, card *Card) HookResult {
	var res HookResult
	if p := e.pluginFor(s); p != nil {
		if !e.guard(s, "OnCardPlayed", func() { res = p.OnCardPlayed(e, s, playerID, card) }) {
			return HookResult{}
		}
	}
	return res
}

func (e *Engine) hookTurnEnd(s *GameState, playerID string) HookResult {
	var res HookResult
	if p := e.pluginFor(s); p != nil {
		if !e.guard(s, "OnTurnEnd", func() { res = p.OnTurnEnd(e, s, playerID) }) {
			return HookResult{}
		}
	}
	return res
}

func (e *Engine) hookGameEnd(s *GameState, winnerID string) {
	if p := e.pluginFor(s); p != nil {
		e.guard(s, "OnGameEnd", func() { p.OnGameEnd(e, s, winnerID) })
	}
}

func (e *Engine) validateCardPlay(s *GameState, playerID string, card *Card) Verdict {
	var v Verdict
	if p := e.pluginFor(s); p != nil {
		if !e.guard(s, "ValidateCardPlay", func() { v = p.ValidateCardPlay(e, s, playerID, card) }) {
			return Verdict{}
		}
	}
	return v
}

func (e *Engine) validateAction(s *GameState, a Action) Verdict {
	var v Verdict
	if p := e.pluginFor(s); p != nil {
		if !e.guard(s, "ValidateAction", func() { v = p.ValidateAction(e, s, a) }) {
			return Verdict{}
		}
	}
	return v
}
