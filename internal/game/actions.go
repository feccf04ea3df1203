package game

import (
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
)

// CanPlay applies the definition's matching rules to a card against the
// current discard and any outstanding draw penalty.
func (e *Engine) CanPlay(s *GameState, card *Card) (bool, string) {
	cfg := s.Config
	top := s.TopDiscard()

	if s.PendingDraw > 0 {
		if !cfg.StackableDraw {
			return false, fmt.Sprintf("You must draw %d first", s.PendingDraw)
		}
		if top != nil && stacksOn(card, top) {
			return true, ""
		}
		return false, fmt.Sprintf("Stack a matching draw card or draw %d", s.PendingDraw)
	}

	if cfg.WildPlayable() && card.IsWild() {
		return true, ""
	}
	if !cfg.MatchColor && !cfg.MatchNumber && !cfg.MatchType {
		return true, ""
	}
	if top == nil {
		return true, ""
	}

	if cfg.MatchColor {
		active := s.ActiveColor
		if active == "" {
			active = top.Color()
		}
		if c := card.Color(); c != "" && c == active {
			return true, ""
		}
	}
	if cfg.MatchNumber {
		if n, ok := card.Number(); ok {
			if m, ok := top.Number(); ok && n == m {
				return true, ""
			}
		}
	}
	if cfg.MatchType && card.Subtype != "" && card.Subtype != "number" && card.Subtype == top.Subtype {
		return true, ""
	}
	return false, fmt.Sprintf("%s does not match %s", card.Name, top.Name)
}

// drawValue returns the size of a card's first draw effect.
func drawValue(c *Card) (int, bool) {
	for _, eff := range c.Effects {
		switch eff.Type {
		case "draw":
			if eff.Value > 0 {
				return eff.Value, true
			}
			return 1, true
		case "wild_draw":
			if eff.Value > 0 {
				return eff.Value, true
			}
			return 4, true
		}
	}
	return 0, false
}

func stacksOn(card, top *Card) bool {
	n, ok := drawValue(card)
	if !ok {
		return false
	}
	m, ok := drawValue(top)
	return ok && n == m
}

// comboPartner validates the second card of a pair play.
func comboPartner(player *Player, card *Card, partnerID string) (int, error) {
	if partnerID == card.ID {
		return -1, actionErr(ErrIllegalPlay, "A pair needs two different cards")
	}
	idx := player.Hand.IndexOf(partnerID)
	if idx < 0 {
		return -1, actionErr(ErrCardNotInHand, "Card not in hand")
	}
	partner := &player.Hand.Cards[idx]
	comboable, _ := card.Metadata["comboable"].(bool)
	if !comboable || partner.DefinitionID != card.DefinitionID {
		return -1, actionErr(ErrIllegalPlay, "%s and %s do not form a pair", card.Name, partner.Name)
	}
	return idx, nil
}

func comboEffects() []Effect {
	return []Effect{{
		Type:        "steal",
		Target:      targeting.SelectorChoose,
		Description: "Take a random card from another player",
	}}
}

func (e *Engine) playCard(s *GameState, a Action) ([]string, error) {
	if s.Pending != nil && s.Pending.Type == PendingReaction {
		return e.playReaction(s, a)
	}
	player, err := requireTurn(s, a)
	if err != nil {
		return nil, err
	}
	idx := player.Hand.IndexOf(a.CardID)
	if idx < 0 {
		return nil, actionErr(ErrCardNotInHand, "Card not in hand")
	}
	candidate := player.Hand.Cards[idx]
	if !candidate.IsPlayable {
		return nil, actionErr(ErrIllegalPlay, "%s cannot be played", candidate.Name)
	}
	if candidate.IsReaction {
		return nil, actionErr(ErrIllegalPlay, "%s can only be played in response", candidate.Name)
	}

	partnerID := a.MetaString("comboPairId")
	if partnerID != "" {
		if _, err := comboPartner(player, &candidate, partnerID); err != nil {
			return nil, err
		}
	}

	planned := candidate.Effects
	if partnerID != "" {
		planned = comboEffects()
	}
	if err := e.checkChosenTarget(s, player.ID, a.TargetPlayerID, planned); err != nil {
		return nil, err
	}

	verdict := e.validateCardPlay(s, player.ID, &candidate)
	switch verdict.Decision {
	case Deny:
		return nil, actionErr(ErrIllegalPlay, "%s", denyReason(verdict, "You cannot play that card"))
	case Abstain:
		if ok, reason := e.CanPlay(s, &candidate); !ok {
			return nil, actionErr(ErrIllegalPlay, "%s", reason)
		}
	}
	hook := e.hookCardPlayed(s, player.ID, &candidate)
	if hook.Veto {
		return nil, actionErr(ErrIllegalPlay, "%s", denyReason(Verdict{Reason: hook.Reason}, "Play vetoed"))
	}

	played := player.Hand.Take(idx)
	moveToDiscard(s, played)
	effects := played.Effects
	if partnerID != "" {
		partner := player.Hand.Take(player.Hand.IndexOf(partnerID))
		moveToDiscard(s, partner)
		effects = comboEffects()
	}
	if len(player.Hand.Cards) != 1 {
		player.CalledLast = false
	}
	if c := played.Color(); c != "" && c != "wild" {
		s.ActiveColor = c
	}

	s.AddLog(LogAction, player.ID, played.ID, fmt.Sprintf("%s played %s", player.Name, played.Name))
	evt := rules.NewEvent(rules.EventCardPlayed, s.RoomCode, player.ID)
	evt.CardID = played.ID
	e.publish(evt)
	triggered := []string{"card_played"}

	if e.maybeOpenReaction(s, player, &played, effects, a, hook.HaltTurnAdvance) {
		return append(triggered, "reaction_window"), nil
	}

	r := &resolution{player: player, card: &played, action: a, origin: OriginPlay, halt: hook.HaltTurnAdvance}
	ctl, err := e.run(s, r, effects)
	triggered = append(triggered, r.triggered...)
	if err != nil {
		return triggered, err
	}
	return append(triggered, e.settle(s, ctl, OriginPlay)...), nil
}

func (e *Engine) drawCard(s *GameState, a Action) ([]string, error) {
	player, err := requireTurn(s, a)
	if err != nil {
		return nil, err
	}

	if s.PendingDraw > 0 {
		triggered := []string{"forced_draw"}
		if _, err := e.DrawCards(s, player.ID, 1); err != nil {
			s.AddLog(LogSystem, player.ID, "", "Draw pile exhausted, penalty cleared")
			s.PendingDraw = 0
			return append(triggered, e.AdvanceTurn(s, 0)...), nil
		}
		s.PendingDraw--
		s.AddLog(LogAction, player.ID, "", fmt.Sprintf("%s draws a penalty card (%d left)", player.Name, s.PendingDraw))
		if s.PendingDraw == 0 {
			triggered = append(triggered, e.AdvanceTurn(s, 0)...)
		}
		return triggered, nil
	}

	var ctl Control
	var drawn []Card
	if s.Config.DrawUntilPlayable {
		for {
			got, err := e.DrawCards(s, player.ID, 1)
			if err != nil {
				if len(drawn) == 0 {
					return nil, err
				}
				break
			}
			drawn = append(drawn, got...)
			if ok, _ := e.CanPlay(s, &got[0]); ok {
				ctl.HaltTurnAdvance = true
				break
			}
		}
	} else {
		n := s.Rules.TurnStructure.DrawCount
		if n <= 0 {
			n = 1
		}
		drawn, err = e.DrawCards(s, player.ID, n)
		if err != nil {
			return nil, err
		}
	}
	s.AddLog(LogAction, player.ID, "", fmt.Sprintf("%s drew %d card(s)", player.Name, len(drawn)))
	triggered := []string{"card_drawn"}

	origin := OriginDraw
	for i := range drawn {
		if !drawn[i].ResolveOnDraw {
			continue
		}
		origin = OriginHazard
		more, err := e.resolveOnDraw(s, player, drawn[i], a, &ctl)
		triggered = append(triggered, more...)
		if err != nil {
			return triggered, err
		}
		if s.Pending != nil || s.Phase == PhaseEnded || player.Status != PlayerActive {
			break
		}
	}
	return append(triggered, e.settle(s, ctl, origin)...), nil
}

// resolveOnDraw lifts a just-drawn card out of the hand and runs its effects.
// A card no effect placed goes back to the hand.
func (e *Engine) resolveOnDraw(s *GameState, player *Player, card Card, a Action, ctl *Control) ([]string, error) {
	idx := player.Hand.IndexOf(card.ID)
	if idx < 0 {
		return nil, nil
	}
	player.Hand.Take(idx)
	s.AddLog(LogEffect, player.ID, card.ID, fmt.Sprintf("%s drew %s!", player.Name, card.Name))

	r := &resolution{player: player, card: &card, action: a, held: true, origin: OriginHazard}
	got, err := e.run(s, r, card.Effects)
	if r.held {
		player.Hand.Cards = append(player.Hand.Cards, card)
	}
	if err != nil {
		return r.triggered, err
	}
	ctl.merge(&got)
	return append([]string{"resolved_on_draw"}, r.triggered...), nil
}

func (e *Engine) passTurn(s *GameState, a Action) ([]string, error) {
	player, err := requireTurn(s, a)
	if err != nil {
		return nil, err
	}
	if !s.Rules.TurnStructure.CanPassTurn {
		return nil, actionErr(ErrIllegalPlay, "Passing is not allowed")
	}
	if s.PendingDraw > 0 {
		return nil, actionErr(ErrIllegalPlay, "You must draw %d first", s.PendingDraw)
	}
	s.AddLog(LogAction, player.ID, "", fmt.Sprintf("%s passed", player.Name))
	return append([]string{"passed"}, e.AdvanceTurn(s, 0)...), nil
}

func (e *Engine) callLastCard(s *GameState, a Action) ([]string, error) {
	player := s.FindPlayer(a.PlayerID)
	if player.Status != PlayerActive {
		return nil, actionErr(ErrNotEligible, "You are not in the game")
	}
	if len(player.Hand.Cards) != 1 {
		return nil, actionErr(ErrIllegalPlay, "You can only call with exactly one card left")
	}
	player.CalledLast = true
	s.AddLog(LogAction, player.ID, "", fmt.Sprintf("%s calls last card!", player.Name))
	return []string{"called_last_card"}, nil
}

func (e *Engine) catchLastCard(s *GameState, a Action) ([]string, error) {
	catcher := s.FindPlayer(a.PlayerID)
	if catcher.Status != PlayerActive {
		return nil, actionErr(ErrNotEligible, "You are not in the game")
	}
	target := s.FindPlayer(a.TargetPlayerID)
	if target == nil || target.ID == catcher.ID || target.Status != PlayerActive {
		return nil, actionErr(ErrInvalidTarget, "Invalid target")
	}
	if len(target.Hand.Cards) != 1 || target.CalledLast {
		return nil, actionErr(ErrIllegalPlay, "%s cannot be caught", target.Name)
	}
	got := e.forceDraw(s, target.ID, 2)
	s.AddLog(LogAction, catcher.ID, "", fmt.Sprintf("%s caught %s, who draws %d", catcher.Name, target.Name, got))
	return []string{"caught_last_card"}, nil
}
