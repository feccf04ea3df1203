// Package plugin holds the game plugins shipped with the server: compiled Go
// plugins for games whose rules the declarative engine cannot express on its
// own, and a loader for Lua scripted plugins.
package plugin

import (
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/game/counters"
	"go.uber.org/zap"
)

// ExplodingKittensID is the game id the plugin attaches to.
const ExplodingKittensID = "exploding_kittens"

// TurnsOwedKey counts the turns a player still has to take after being
// attacked, including the one in progress.
var TurnsOwedKey = counters.Key(ExplodingKittensID, "turns_owed")

// ExplodingKittens adds attack stacking and skip to the generic engine.
// Playing a card never ends the turn; drawing, skip and attack do.
type ExplodingKittens struct {
	game.BasePlugin
	logger *zap.Logger
}

// NewExplodingKittens creates the plugin.
func NewExplodingKittens(logger *zap.Logger) *ExplodingKittens {
	return &ExplodingKittens{logger: logger}
}

func (p *ExplodingKittens) GameID() string { return ExplodingKittensID }

func (p *ExplodingKittens) CustomEffects() map[string]game.EffectHandler {
	return map[string]game.EffectHandler{
		"attack": p.attack,
		"skip":   p.skip,
	}
}

func (p *ExplodingKittens) OnGameStart(_ *game.Engine, s *game.GameState) {
	for _, pl := range s.Players {
		pl.Counters.ClearNamespace(ExplodingKittensID)
	}
}

func (p *ExplodingKittens) OnCardPlayed(_ *game.Engine, _ *game.GameState, _ string, card *game.Card) game.HookResult {
	if card.HasEffect("skip") || card.HasEffect("attack") {
		return game.HookResult{}
	}
	return game.HookResult{HaltTurnAdvance: true}
}

// ValidateAction rejects a cat played without its pair.
func (p *ExplodingKittens) ValidateAction(_ *game.Engine, s *game.GameState, a game.Action) game.Verdict {
	if a.Type != game.ActionPlayCard || s.Phase != game.PhasePlaying || a.MetaString("comboPairId") != "" {
		return game.Verdict{}
	}
	pl := s.FindPlayer(a.PlayerID)
	if pl == nil {
		return game.Verdict{}
	}
	i := pl.Hand.IndexOf(a.CardID)
	if i < 0 {
		return game.Verdict{}
	}
	if comboable, _ := pl.Hand.Cards[i].Metadata["comboable"].(bool); comboable {
		return game.Verdict{Decision: game.Deny, Reason: "Cat cards are played in pairs"}
	}
	return game.Verdict{}
}

// OnTurnEnd keeps an attacked player in their seat until every owed turn is
// taken.
func (p *ExplodingKittens) OnTurnEnd(_ *game.Engine, s *game.GameState, playerID string) game.HookResult {
	pl := s.FindPlayer(playerID)
	if pl == nil || !pl.Counters.Has(TurnsOwedKey) {
		return game.HookResult{}
	}
	left := pl.Counters.Remove(TurnsOwedKey, 1)
	if left == 0 {
		return game.HookResult{}
	}
	s.AddLog(game.LogSystem, playerID, "", fmt.Sprintf("%s has %d more turn(s) to take", pl.Name, left))
	return game.HookResult{HaltTurnAdvance: true}
}

// attack ends the turn without drawing and hands the next player every turn
// the attacker still owed plus two.
func (p *ExplodingKittens) attack(e *game.Engine, ctx *game.EffectContext) (*game.Control, error) {
	s := ctx.State
	owed := ctx.Player.Counters.Get(TurnsOwedKey)
	ctx.Player.Counters.Remove(TurnsOwedKey, owed)

	e.AdvanceTurn(s, 0)
	victim := s.CurrentPlayer()
	if victim == nil || victim.ID == ctx.Player.ID {
		return &game.Control{HaltTurnAdvance: true}, nil
	}
	n := owed + 2
	victim.Counters.Set(TurnsOwedKey, n)

	s.AddLog(game.LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s attacked %s, who must take %d turns", ctx.Player.Name, victim.Name, n))
	ctx.Trigger("attacked")
	if p.logger != nil {
		p.logger.Debug("attack played",
			zap.String("room_code", s.RoomCode),
			zap.String("player_id", ctx.Player.ID),
			zap.String("target_player_id", victim.ID),
			zap.Int("turns_owed", n),
		)
	}
	return &game.Control{HaltTurnAdvance: true}, nil
}

// skip ends one turn without drawing.
func (p *ExplodingKittens) skip(e *game.Engine, ctx *game.EffectContext) (*game.Control, error) {
	ctx.State.AddLog(game.LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s skipped a draw", ctx.Player.Name))
	ctx.Trigger("skipped")
	return &game.Control{EndTurn: true}, nil
}
