package game

import (
	"errors"
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
	"go.uber.org/zap"
)

// EffectHandler applies one effect primitive.
type EffectHandler func(e *Engine, ctx *EffectContext) (*Control, error)

// Control carries the flow signals a handler hands back to the engine.
type Control struct {
	Skip             int
	HaltTurnAdvance  bool
	EndTurn          bool
	ExtraTurn        bool
	NeedsTarget      bool
	PendingType      PendingType
	NeedsColorChoice bool
	DrawCount        int
	WildDraw         bool
	ChallengeWindow  bool
}

func (c *Control) merge(o *Control) {
	if o == nil {
		return
	}
	c.Skip += o.Skip
	c.HaltTurnAdvance = c.HaltTurnAdvance || o.HaltTurnAdvance
	c.EndTurn = c.EndTurn || o.EndTurn
	c.ExtraTurn = c.ExtraTurn || o.ExtraTurn
}

func (c *Control) suspends() bool {
	return c != nil && (c.NeedsTarget || c.NeedsColorChoice || c.ChallengeWindow)
}

// EffectContext is what a handler sees of the resolution in progress.
type EffectContext struct {
	State  *GameState
	Player *Player
	Card   *Card
	Effect Effect
	Action Action
	// Held is true while Card sits outside every zone and hand, as a card
	// resolving on draw does. A handler that places the card clears it.
	Held bool

	triggered *[]string
}

// Trigger records an event tag for the action result.
func (c *EffectContext) Trigger(tag string) {
	if c.triggered != nil {
		*c.triggered = append(*c.triggered, tag)
	}
}

// Value returns the effect value or def when unset.
func (c *EffectContext) Value(def int) int {
	if c.Effect.Value > 0 {
		return c.Effect.Value
	}
	return def
}

// Selector returns the effect target or def when unset.
func (c *EffectContext) Selector(def targeting.Selector) targeting.Selector {
	return targeting.ParseSelector(string(c.Effect.Target), def)
}

func builtinEffects() map[string]EffectHandler {
	m := map[string]EffectHandler{
		"number":     effectNumber,
		"skip":       effectSkip,
		"reverse":    effectReverse,
		"draw":       effectDraw,
		"self_draw":  effectSelfDraw,
		"wild":       effectWild,
		"wild_draw":  effectWildDraw,
		"eliminate":  effectEliminate,
		"defuse":     effectDefuse,
		"peek":       effectPeek,
		"shuffle":    effectShuffle,
		"steal":      effectSteal,
		"give":       effectGive,
		"insert":     effectInsert,
		"extra_turn": effectExtraTurn,
		"swap_hands": effectSwapHands,
		"score":      effectScore,
		"any":        effectNoop,
	}
	m["combo_steal"] = m["steal"]
	m["cancel"] = m["any"]
	return m
}

// resolution is one pass over a card's effects.
type resolution struct {
	player    *Player
	card      *Card
	action    Action
	held      bool
	origin    Origin
	halt      bool
	triggered []string
}

func (e *Engine) effectHandler(s *GameState, effectType string) (EffectHandler, bool) {
	if p := e.pluginFor(s); p != nil {
		if h, ok := p.CustomEffects()[effectType]; ok && h != nil {
			return h, true
		}
	}
	h, ok := e.effects[effectType]
	return h, ok
}

// run applies effects in order. Mutations land effect by effect; a handler
// error stops the chain, and ApplyAction rolls the whole action back. When an
// effect needs player input the remaining effects are parked on a pending
// action and resumed once it resolves.
func (e *Engine) run(s *GameState, r *resolution, effects []Effect) (Control, error) {
	ctl := Control{HaltTurnAdvance: r.halt}
	eval := e.Conditions(s)

	for i := 0; i < len(effects); i++ {
		eff := effects[i]
		if len(eff.Conditions) > 0 {
			res := eval.Evaluate(r.player.ID, eff.Conditions)
			if !res.Legal {
				r.triggered = append(r.triggered, "condition_failed:"+eff.Type)
				alt := eff.MetaString("otherwise")
				if alt == "" {
					s.AddLog(LogEffect, r.player.ID, r.card.ID, fmt.Sprintf("%s: %s", eff.Type, res.Reason))
					continue
				}
				eff = Effect{Type: alt, Target: eff.Target, Value: eff.Value, Metadata: eff.Metadata}
			}
		}

		handler, ok := e.effectHandler(s, eff.Type)
		if !ok {
			if e.logger != nil {
				e.logger.Warn("unknown effect type skipped",
					zap.String("room_code", s.RoomCode),
					zap.String("effect_type", eff.Type),
					zap.String("card_id", r.card.ID),
				)
			}
			s.AddLog(LogSystem, r.player.ID, r.card.ID, fmt.Sprintf("Unknown effect %q skipped", eff.Type))
			r.triggered = append(r.triggered, "unknown_effect:"+eff.Type)
			skipped := rules.NewEvent(rules.EventEffectSkipped, s.RoomCode, r.player.ID)
			skipped.Data = eff.Type
			e.publish(skipped)
			continue
		}

		ctx := &EffectContext{
			State:     s,
			Player:    r.player,
			Card:      r.card,
			Effect:    eff,
			Action:    r.action,
			Held:      r.held,
			triggered: &r.triggered,
		}
		out, err := handler(e, ctx)
		r.held = ctx.Held
		if err != nil {
			return ctl, fmt.Errorf("effect %s: %w", eff.Type, err)
		}
		ctl.merge(out)

		if out.suspends() {
			rest := effects[i+1:]
			if out.NeedsTarget {
				rest = effects[i:]
			}
			e.suspend(s, r, out, ctl, rest)
			return ctl, nil
		}
		if p := s.Pending; p != nil {
			if p.Effects == nil {
				p.Effects = append([]Effect{}, effects[i+1:]...)
			}
			if p.SourceCard == nil {
				source := *r.card
				p.SourceCard = &source
			}
			if p.Action == nil {
				p.Action = cloneAction(r.action)
			}
			if p.Origin == "" {
				p.Origin = r.origin
			}
			p.Skip += ctl.Skip
			p.HaltTurnAdvance = p.HaltTurnAdvance || ctl.HaltTurnAdvance
			return ctl, nil
		}
		if s.Phase == PhaseEnded {
			return ctl, nil
		}
	}
	return ctl, nil
}

// suspend opens the pending action an effect asked for.
func (e *Engine) suspend(s *GameState, r *resolution, out *Control, ctl Control, rest []Effect) {
	source := *r.card
	p := &PendingAction{
		PlayerID:   r.player.ID,
		SourceCard: &source,
		Effects:    append([]Effect{}, rest...),
		Skip:       ctl.Skip,
		Origin:     r.origin,
		Action:     cloneAction(r.action),

		HaltTurnAdvance: ctl.HaltTurnAdvance,
	}
	switch {
	case out.NeedsColorChoice:
		p.Type = PendingChooseColor
		p.Choices = append([]string(nil), s.Config.ColorList()...)
		p.DrawCount = out.DrawCount
		if out.WildDraw {
			p.Metadata = map[string]any{"wildDraw": true}
		}
	case out.ChallengeWindow:
		p.Type = PendingChallenge
		p.DrawCount = out.DrawCount
		if next := e.NextPlayerID(s, 0); next != "" {
			p.ResponderIDs = []string{next}
			p.TargetPlayerID = next
		}
	default:
		p.Type = out.PendingType
		if p.Type == "" {
			p.Type = PendingChooseTarget
		}
		for _, id := range e.accessor(s).ActivePlayerIDs() {
			if id != r.player.ID {
				p.Choices = append(p.Choices, id)
			}
		}
	}
	if r.held {
		held := *r.card
		p.Card = &held
		r.held = false
	}
	e.OpenPending(s, p)
}

func effectNumber(e *Engine, ctx *EffectContext) (*Control, error) {
	if color := ctx.Card.Color(); color != "" && color != "wild" {
		ctx.State.ActiveColor = color
	}
	return nil, nil
}

func effectSkip(e *Engine, ctx *EffectContext) (*Control, error) {
	n := ctx.Value(1)
	ctx.Trigger("skip")
	return &Control{Skip: n}, nil
}

func effectReverse(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	if len(s.ActivePlayers()) == 2 && s.Config.ReverseEqualsSkipTwoPlayers {
		ctx.Trigger("skip")
		return &Control{Skip: 1}, nil
	}
	if s.Direction == 0 {
		s.Direction = 1
	}
	s.Direction = -s.Direction
	s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, "Direction reversed")
	e.publish(rules.NewEventWithAmount(rules.EventReversed, s.RoomCode, ctx.Player.ID, s.Direction))
	ctx.Trigger("reverse")
	return nil, nil
}

func effectDraw(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	n := ctx.Value(1)
	sel := ctx.Selector(targeting.SelectorNextPlayer)

	if s.Config.StackableDraw && sel == targeting.SelectorNextPlayer {
		s.PendingDraw += n
		s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("Draw penalty is now %d", s.PendingDraw))
		ctx.Trigger("draw_stacked")
		return nil, nil
	}

	targets, err := e.Targets(s).Resolve(sel, ctx.Player.ID, ctx.Action.TargetPlayerID)
	if errors.Is(err, targeting.ErrTargetRequired) {
		return &Control{NeedsTarget: true, PendingType: PendingChooseTarget}, nil
	}
	if err != nil {
		return nil, actionErr(ErrInvalidTarget, "%s", err.Error())
	}
	for _, id := range targets {
		got := e.forceDraw(s, id, n)
		s.AddLog(LogEffect, id, ctx.Card.ID, fmt.Sprintf("%s draws %d", s.PlayerName(id), got))
	}
	ctx.Trigger("draw")
	if sel == targeting.SelectorNextPlayer {
		return &Control{Skip: 1}, nil
	}
	return nil, nil
}

func effectSelfDraw(e *Engine, ctx *EffectContext) (*Control, error) {
	got := e.forceDraw(ctx.State, ctx.Player.ID, ctx.Value(1))
	ctx.State.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s draws %d", ctx.Player.Name, got))
	ctx.Trigger("self_draw")
	return nil, nil
}

func chosenColor(a Action) string {
	if c := a.MetaString("chosenColor"); c != "" {
		return c
	}
	return a.MetaString("color")
}

func (e *Engine) applyColor(s *GameState, card *Card, color string) {
	s.ActiveColor = color
	if top := s.TopDiscard(); top != nil && card != nil && top.ID == card.ID {
		top.SetColor(color)
	}
	if card != nil {
		card.SetColor(color)
	}
	s.AddLog(LogEffect, "", "", fmt.Sprintf("Color is now %s", color))
}

func effectWild(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	color, ok := s.Config.CanonicalColor(chosenColor(ctx.Action))
	if !ok {
		ctx.Trigger("needs_color_choice")
		return &Control{NeedsColorChoice: true}, nil
	}
	e.applyColor(s, ctx.Card, color)
	ctx.Trigger("color_chosen")
	return nil, nil
}

func effectWildDraw(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	n := ctx.Value(4)

	s.LastWildIllegal = false
	if s.ActiveColor != "" {
		for _, c := range ctx.Player.Hand.Cards {
			if c.ID != ctx.Card.ID && c.Color() == s.ActiveColor {
				s.LastWildIllegal = true
				break
			}
		}
	}
	s.PendingDraw += n

	color, ok := s.Config.CanonicalColor(chosenColor(ctx.Action))
	if !ok {
		ctx.Trigger("needs_color_choice")
		return &Control{NeedsColorChoice: true, WildDraw: true, DrawCount: n}, nil
	}
	e.applyColor(s, ctx.Card, color)
	if s.Config.AllowWildDrawChallenge && len(s.ActivePlayers()) >= 3 {
		ctx.Trigger("challenge_window")
		return &Control{ChallengeWindow: true, DrawCount: n}, nil
	}
	return nil, nil
}

func effectEliminate(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	targets, err := e.Targets(s).Resolve(ctx.Selector(targeting.SelectorSelf), ctx.Player.ID, ctx.Action.TargetPlayerID)
	if err != nil {
		return nil, actionErr(ErrInvalidTarget, "%s", err.Error())
	}
	if ctx.Held {
		moveToDiscard(s, *ctx.Card)
		ctx.Held = false
	}
	for _, id := range targets {
		if e.EliminatePlayer(s, id, ctx.Card.Name) {
			ctx.Trigger("eliminated:" + id)
		}
	}
	return nil, nil
}

func effectDefuse(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	consumes := ctx.Effect.MetaString("consumes")
	if consumes == "" {
		consumes = "defuse"
	}
	idx := ctx.Player.Hand.IndexOfSubtype(consumes)
	if idx < 0 {
		return nil, actionErr(ErrCardNotInHand, "No %s card in hand", consumes)
	}
	spent := ctx.Player.Hand.Take(idx)
	moveToDiscard(s, spent)
	s.AddLog(LogEffect, ctx.Player.ID, spent.ID, fmt.Sprintf("%s used %s on %s", ctx.Player.Name, spent.Name, ctx.Card.Name))
	ctx.Trigger("defused")

	if ctx.Held {
		held := *ctx.Card
		e.OpenPending(s, &PendingAction{
			Type:     PendingInsertCard,
			PlayerID: ctx.Player.ID,
			Card:     &held,
			Choices:  []string{fmt.Sprintf("0-%d", len(s.DrawPile().Cards))},
		})
		ctx.Held = false
	}
	return &Control{HaltTurnAdvance: true}, nil
}

func effectPeek(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	n := ctx.Value(3)
	draw := s.DrawPile()
	if draw == nil {
		return nil, nil
	}
	if n > len(draw.Cards) {
		n = len(draw.Cards)
	}
	ctx.Player.Peeked = append([]Card(nil), draw.Cards[:n]...)
	s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s looked at the top %d cards", ctx.Player.Name, n))
	ctx.Trigger("peeked")
	return nil, nil
}

func effectShuffle(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	if draw := s.DrawPile(); draw != nil {
		e.Shuffle(draw.Cards)
	}
	s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, "Draw pile shuffled")
	e.publish(rules.NewEvent(rules.EventPileShuffled, s.RoomCode, ctx.Player.ID))
	ctx.Trigger("shuffled")
	return nil, nil
}

// effectSelectors are the selectors built-in effects use when the definition
// leaves the target empty.
var effectSelectors = map[string]targeting.Selector{
	"draw":        targeting.SelectorNextPlayer,
	"steal":       targeting.SelectorChoose,
	"combo_steal": targeting.SelectorChoose,
	"give":        targeting.SelectorChoose,
	"swap_hands":  targeting.SelectorChoose,
}

// checkChosenTarget rejects a named target that one of the effects would
// refuse once it resolved, so nothing is spent on an impossible play.
func (e *Engine) checkChosenTarget(s *GameState, actorID, targetID string, effects []Effect) error {
	if targetID == "" {
		return nil
	}
	for _, eff := range effects {
		def, ok := effectSelectors[eff.Type]
		if !ok {
			def = targeting.SelectorSelf
		}
		if targeting.ParseSelector(string(eff.Target), def) != targeting.SelectorChoose {
			continue
		}
		if err := e.Targets(s).ValidateTarget(actorID, targetID); err != nil {
			return actionErr(ErrInvalidTarget, "%s", err.Error())
		}
		return nil
	}
	return nil
}

func (e *Engine) chosenTarget(ctx *EffectContext) (*Player, *Control, error) {
	sel := ctx.Selector(targeting.SelectorChoose)
	targets, err := e.Targets(ctx.State).Resolve(sel, ctx.Player.ID, ctx.Action.TargetPlayerID)
	if errors.Is(err, targeting.ErrTargetRequired) {
		return nil, &Control{NeedsTarget: true, PendingType: PendingChooseTarget}, nil
	}
	if err != nil {
		return nil, nil, actionErr(ErrInvalidTarget, "%s", err.Error())
	}
	for _, id := range targets {
		if id != ctx.Player.ID {
			return ctx.State.FindPlayer(id), nil, nil
		}
	}
	return nil, nil, actionErr(ErrInvalidTarget, "No valid target")
}

func effectSteal(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	victim, ctl, err := e.chosenTarget(ctx)
	if victim == nil {
		return ctl, err
	}
	cardID := ""
	if ctx.Effect.MetaString("mode") == "chosen" {
		cardID = ctx.Action.MetaString("cardChoice")
	}
	card, moved, err := e.transferCard(victim, ctx.Player, cardID)
	if err != nil {
		return nil, err
	}
	if !moved {
		s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s has no cards to take", victim.Name))
		return nil, nil
	}
	s.AddLog(LogEffect, ctx.Player.ID, card.ID, fmt.Sprintf("%s took a card from %s", ctx.Player.Name, victim.Name))
	evt := rules.NewEventWithTarget(rules.EventCardStolen, s.RoomCode, ctx.Player.ID, victim.ID)
	evt.CardID = card.ID
	e.publish(evt)
	ctx.Trigger("stole")
	return nil, nil
}

func effectGive(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	giver, ctl, err := e.chosenTarget(ctx)
	if giver == nil {
		if ctl != nil {
			ctl.PendingType = PendingChooseTarget
		}
		return ctl, err
	}
	if len(giver.Hand.Cards) == 0 {
		s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s has no cards to give", giver.Name))
		return nil, nil
	}
	e.OpenPending(s, &PendingAction{
		Type:           PendingGiveCard,
		PlayerID:       ctx.Player.ID,
		ResponderIDs:   []string{giver.ID},
		TargetPlayerID: giver.ID,
	})
	s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s must give %s a card", giver.Name, ctx.Player.Name))
	ctx.Trigger("give_requested")
	return &Control{HaltTurnAdvance: true}, nil
}

func effectInsert(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	if !ctx.Held {
		return nil, nil
	}
	if pos, ok := ctx.Action.MetaInt("position"); ok {
		at := s.DrawPile().Insert(pos, *ctx.Card)
		ctx.Held = false
		s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s returned a card to the draw pile", ctx.Player.Name))
		e.publishInserted(s, ctx.Player.ID, ctx.Card.ID, at)
		return nil, nil
	}
	held := *ctx.Card
	e.OpenPending(s, &PendingAction{
		Type:     PendingInsertCard,
		PlayerID: ctx.Player.ID,
		Card:     &held,
	})
	ctx.Held = false
	return &Control{HaltTurnAdvance: true}, nil
}

func effectExtraTurn(e *Engine, ctx *EffectContext) (*Control, error) {
	ctx.Trigger("extra_turn")
	return &Control{ExtraTurn: true}, nil
}

func effectSwapHands(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	other, ctl, err := e.chosenTarget(ctx)
	if other == nil {
		return ctl, err
	}
	ctx.Player.Hand.Cards, other.Hand.Cards = other.Hand.Cards, ctx.Player.Hand.Cards
	ctx.Player.CalledLast, other.CalledLast = false, false
	s.AddLog(LogEffect, ctx.Player.ID, ctx.Card.ID, fmt.Sprintf("%s swapped hands with %s", ctx.Player.Name, other.Name))
	e.publish(rules.NewEventWithTarget(rules.EventHandsSwapped, s.RoomCode, ctx.Player.ID, other.ID))
	ctx.Trigger("hands_swapped")
	return nil, nil
}

func effectScore(e *Engine, ctx *EffectContext) (*Control, error) {
	s := ctx.State
	n := ctx.Effect.Value
	targetID := ctx.Player.ID
	if ctx.Selector(targeting.SelectorSelf) == targeting.SelectorNextPlayer {
		targetID = e.NextPlayerID(s, 0)
	}
	p := s.FindPlayer(targetID)
	if p == nil {
		return nil, nil
	}
	p.Score += n
	s.AddLog(LogEffect, p.ID, ctx.Card.ID, fmt.Sprintf("%s scores %d (total %d)", p.Name, n, p.Score))
	e.publish(rules.NewEventWithAmount(rules.EventScoreChanged, s.RoomCode, p.ID, p.Score))
	ctx.Trigger("score")
	return nil, nil
}

func effectNoop(e *Engine, ctx *EffectContext) (*Control, error) {
	return nil, nil
}
