package game

import (
	"fmt"
	"maps"
	"slices"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
)

// PendingType tags what a pending action is waiting for.
type PendingType string

const (
	PendingChooseColor  PendingType = "choose_color"
	PendingChooseTarget PendingType = "choose_target"
	PendingReaction     PendingType = "reaction"
	PendingInsertCard   PendingType = "insert_card"
	PendingGiveCard     PendingType = "give_card"
	PendingChallenge    PendingType = "challenge"
)

// PendingAction suspends the turn until the named players respond.
type PendingAction struct {
	Type           PendingType `json:"type"`
	PlayerID       string      `json:"playerId"`
	ResponderIDs   []string    `json:"responderIds,omitempty"`
	TargetPlayerID string      `json:"targetPlayerId,omitempty"`
	// Card is held outside every zone until the pending action resolves.
	Card *Card `json:"card,omitempty"`
	// SourceCard is a reference copy of the card whose effects are parked.
	SourceCard    *Card          `json:"sourceCard,omitempty"`
	Choices       []string       `json:"choices,omitempty"`
	DrawCount     int            `json:"drawCount,omitempty"`
	ReactionCount int            `json:"reactionCount"`
	Skip          int            `json:"skip,omitempty"`
	Origin        Origin         `json:"origin,omitempty"`
	Effects       []Effect       `json:"effects,omitempty"`
	Action        *Action        `json:"action,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	// HaltTurnAdvance carries a plugin's request to keep the turn through
	// the wait.
	HaltTurnAdvance bool `json:"haltTurnAdvance,omitempty"`
}

// CanRespond reports whether a player may resolve the pending action.
func (p *PendingAction) CanRespond(playerID string) bool {
	if len(p.ResponderIDs) == 0 {
		return p.PlayerID == playerID
	}
	return slices.Contains(p.ResponderIDs, playerID)
}

// Voided reports whether an odd number of reactions cancelled the action.
func (p *PendingAction) Voided() bool {
	return p.ReactionCount%2 == 1
}

func (p *PendingAction) wildDraw() bool {
	v, _ := p.Metadata["wildDraw"].(bool)
	return v
}

func cloneAction(a Action) *Action {
	c := a
	if a.Metadata != nil {
		c.Metadata = maps.Clone(a.Metadata)
	}
	return &c
}

// OpenPending suspends normal play until p resolves.
func (e *Engine) OpenPending(s *GameState, p *PendingAction) {
	s.Pending = p
	s.Phase = PhaseAwaitingResponse
	evt := rules.NewEventWithTarget(rules.EventPendingOpened, s.RoomCode, p.PlayerID, p.TargetPlayerID)
	evt.Data = string(p.Type)
	e.publish(evt)
}

// closePending returns the room to play and hands back the resolved action.
func (e *Engine) closePending(s *GameState) *PendingAction {
	p := s.Pending
	s.Pending = nil
	if s.Phase == PhaseAwaitingResponse {
		s.Phase = PhasePlaying
	}
	if p != nil {
		evt := rules.NewEvent(rules.EventPendingResolved, s.RoomCode, p.PlayerID)
		evt.Data = string(p.Type)
		e.publish(evt)
	}
	return p
}

// requirePending checks the pending type and that the actor may answer it.
func requirePending(s *GameState, a Action, types ...PendingType) (*PendingAction, error) {
	p := s.Pending
	if p == nil || s.Phase != PhaseAwaitingResponse {
		return nil, actionErr(ErrNoPendingAction, "Nothing to respond to")
	}
	if !slices.Contains(types, p.Type) {
		return nil, actionErr(ErrNoPendingAction, "Waiting for %s, not %s", p.Type, a.Type)
	}
	if !p.CanRespond(a.PlayerID) {
		return nil, actionErr(ErrNotEligible, "You cannot respond to this")
	}
	return p, nil
}

// resume runs the effects parked on a resolved pending action and settles the
// turn. action replaces the parked action when the resolution supplied new
// input such as a target.
func (e *Engine) resume(s *GameState, p *PendingAction, action *Action) ([]string, error) {
	player := s.FindPlayer(p.PlayerID)
	if player == nil {
		return nil, nil
	}
	if action == nil {
		action = p.Action
	}
	if action == nil {
		action = &Action{PlayerID: p.PlayerID}
	}
	card := p.SourceCard
	if card == nil {
		card = &Card{ID: "", Name: string(p.Type)}
	}

	r := &resolution{player: player, card: card, action: *action, origin: p.Origin, halt: p.HaltTurnAdvance}
	ctl, err := e.run(s, r, p.Effects)
	if err != nil {
		return r.triggered, err
	}
	ctl.Skip += p.Skip
	origin := p.Origin
	if origin == "" {
		origin = OriginPlay
	}
	return append(r.triggered, e.settle(s, ctl, origin)...), nil
}

func (e *Engine) chooseColor(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingChooseColor)
	if err != nil {
		return nil, err
	}
	color := chosenColor(a)
	if color == "" {
		color = a.MetaString("value")
	}
	canonical, ok := s.Config.CanonicalColor(color)
	if !ok {
		return nil, actionErr(ErrInvalidColor, "Invalid color: %s", color)
	}
	color = canonical

	e.closePending(s)
	e.applyColor(s, p.SourceCard, color)
	triggered := []string{"color_chosen"}

	if p.wildDraw() && s.Config.AllowWildDrawChallenge && len(s.ActivePlayers()) >= 3 {
		next := e.NextPlayerID(s, 0)
		e.OpenPending(s, &PendingAction{
			Type:           PendingChallenge,
			PlayerID:       p.PlayerID,
			ResponderIDs:   []string{next},
			TargetPlayerID: next,
			SourceCard:     p.SourceCard,
			DrawCount:      p.DrawCount,
			Effects:        p.Effects,
			Skip:           p.Skip,
			Origin:         p.Origin,
			Action:         p.Action,

			HaltTurnAdvance: p.HaltTurnAdvance,
		})
		return append(triggered, "challenge_window"), nil
	}

	more, err := e.resume(s, p, nil)
	return append(triggered, more...), err
}

func (e *Engine) selectTarget(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingChooseTarget)
	if err != nil {
		return nil, err
	}
	if err := e.Targets(s).ValidateTarget(p.PlayerID, a.TargetPlayerID); err != nil {
		return nil, actionErr(ErrInvalidTarget, "%s", err.Error())
	}

	e.closePending(s)
	action := cloneAction(Action{PlayerID: p.PlayerID})
	if p.Action != nil {
		action = cloneAction(*p.Action)
	}
	action.TargetPlayerID = a.TargetPlayerID
	for k, v := range a.Metadata {
		if action.Metadata == nil {
			action.Metadata = make(map[string]any)
		}
		action.Metadata[k] = v
	}
	more, err := e.resume(s, p, action)
	return append([]string{"target_selected"}, more...), err
}

func (e *Engine) publishInserted(s *GameState, playerID, cardID string, at int) {
	evt := rules.NewEventWithAmount(rules.EventCardInserted, s.RoomCode, playerID, at)
	evt.CardID = cardID
	e.publish(evt)
}

func (e *Engine) insertCard(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingInsertCard)
	if err != nil {
		return nil, err
	}
	if p.Card == nil {
		return nil, fmt.Errorf("%w: insert pending without a card", ErrCorruptState)
	}
	draw := s.DrawPile()
	pos, ok := a.MetaInt("position")
	if !ok {
		pos = e.rng.IntN(len(draw.Cards) + 1)
	}

	card := *p.Card
	e.closePending(s)
	at := draw.Insert(pos, card)
	s.AddLog(LogAction, a.PlayerID, "", fmt.Sprintf("%s put a card back into the draw pile", s.PlayerName(a.PlayerID)))
	e.publishInserted(s, a.PlayerID, card.ID, at)

	more, err := e.resume(s, p, nil)
	return append([]string{"card_inserted"}, more...), err
}

// TransferPendingGive moves the card a give_card pending asks for and closes
// the pending action.
func (e *Engine) TransferPendingGive(s *GameState, a Action) (*PendingAction, error) {
	p, err := requirePending(s, a, PendingGiveCard)
	if err != nil {
		return nil, err
	}
	giver := s.FindPlayer(a.PlayerID)
	receiver := s.FindPlayer(p.PlayerID)
	if giver == nil || receiver == nil {
		return nil, actionErr(ErrUnknownPlayer, "Player not found")
	}
	card, moved, err := e.transferCard(giver, receiver, a.CardID)
	if err != nil {
		return nil, err
	}
	e.closePending(s)
	if moved {
		s.AddLog(LogAction, giver.ID, "", fmt.Sprintf("%s gave a card to %s", giver.Name, receiver.Name))
		evt := rules.NewEventWithTarget(rules.EventCardGiven, s.RoomCode, giver.ID, receiver.ID)
		evt.CardID = card.ID
		e.publish(evt)
	}
	return p, nil
}

func (e *Engine) giveCard(s *GameState, a Action) ([]string, error) {
	p, err := e.TransferPendingGive(s, a)
	if err != nil {
		return nil, err
	}
	more, err := e.resume(s, p, nil)
	return append([]string{"card_given"}, more...), err
}

// maybeOpenReaction parks a just-played card behind a reaction window when
// the game has a reaction card and someone else could answer with one.
func (e *Engine) maybeOpenReaction(s *GameState, player *Player, card *Card, effects []Effect, a Action, halt bool) bool {
	subtype := s.Config.ReactionSubtype
	if subtype == "" || card.IsReaction || card.Subtype == subtype || len(effects) == 0 {
		return false
	}
	acc := e.accessor(s)
	var responders []string
	someoneCanAnswer := false
	for _, p := range s.ActivePlayers() {
		responders = append(responders, p.ID)
		if p.ID != player.ID && acc.HasCardSubtype(p.ID, subtype) {
			someoneCanAnswer = true
		}
	}
	if !someoneCanAnswer {
		return false
	}
	source := *card
	e.OpenPending(s, &PendingAction{
		Type:         PendingReaction,
		PlayerID:     player.ID,
		ResponderIDs: responders,
		SourceCard:   &source,
		Effects:      append([]Effect{}, effects...),
		Origin:       OriginPlay,
		Action:       cloneAction(a),

		HaltTurnAdvance: halt,
	})
	return true
}

func (e *Engine) playReaction(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingReaction)
	if err != nil {
		return nil, err
	}
	player := s.FindPlayer(a.PlayerID)
	if player == nil || player.Status != PlayerActive {
		return nil, actionErr(ErrNotEligible, "You are not in the game")
	}
	idx := player.Hand.IndexOf(a.CardID)
	if a.CardID == "" {
		idx = player.Hand.IndexOfSubtype(s.Config.ReactionSubtype)
	}
	if idx < 0 {
		return nil, actionErr(ErrCardNotInHand, "Card not in hand")
	}
	if player.Hand.Cards[idx].Subtype != s.Config.ReactionSubtype {
		return nil, actionErr(ErrIllegalPlay, "%s cannot be played now", player.Hand.Cards[idx].Name)
	}

	card := player.Hand.Take(idx)
	moveToDiscard(s, card)
	p.ReactionCount++
	s.AddLog(LogAction, player.ID, card.ID, fmt.Sprintf("%s played %s (%d)", player.Name, card.Name, p.ReactionCount))
	evt := rules.NewEventWithAmount(rules.EventReactionPlayed, s.RoomCode, player.ID, p.ReactionCount)
	evt.CardID = card.ID
	e.publish(evt)
	return []string{"reaction_played"}, nil
}

func (e *Engine) resolveReaction(s *GameState, a Action) ([]string, error) {
	p := s.Pending
	if p == nil || p.Type != PendingReaction {
		return nil, actionErr(ErrNoPendingAction, "No reaction window is open")
	}
	e.closePending(s)

	name := "card"
	if p.SourceCard != nil {
		name = p.SourceCard.Name
	}
	if p.Voided() {
		s.AddLog(LogEffect, p.PlayerID, "", fmt.Sprintf("%s was cancelled", name))
		return append([]string{"reaction_voided"}, e.settle(s, Control{Skip: p.Skip, HaltTurnAdvance: p.HaltTurnAdvance}, OriginPlay)...), nil
	}
	more, err := e.resume(s, p, nil)
	if IsActionError(err) {
		// The chosen target left while the window was open.
		s.AddLog(LogEffect, p.PlayerID, "", fmt.Sprintf("%s fizzled: %s", name, err))
		more = append(more, "reaction_fizzled")
		return append([]string{"reaction_resolved"}, append(more, e.settle(s, Control{Skip: p.Skip, HaltTurnAdvance: p.HaltTurnAdvance}, OriginPlay)...)...), nil
	}
	return append([]string{"reaction_resolved"}, more...), err
}

func (e *Engine) challenge(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingChallenge)
	if err != nil {
		return nil, err
	}
	e.closePending(s)
	s.PendingDraw = 0

	challenged := s.FindPlayer(p.PlayerID)
	challenger := s.FindPlayer(a.PlayerID)
	if s.LastWildIllegal {
		got := e.forceDraw(s, challenged.ID, 4)
		s.AddLog(LogAction, challenger.ID, "", fmt.Sprintf("Challenge succeeded: %s draws %d", challenged.Name, got))
		s.LastWildIllegal = false
		more, err := e.resume(s, p, nil)
		return append([]string{"challenge_succeeded"}, more...), err
	}

	got := e.forceDraw(s, challenger.ID, p.DrawCount+2)
	s.AddLog(LogAction, challenger.ID, "", fmt.Sprintf("Challenge failed: %s draws %d", challenger.Name, got))
	p.Skip++
	more, err := e.resume(s, p, nil)
	return append([]string{"challenge_failed"}, more...), err
}

func (e *Engine) acceptDraw(s *GameState, a Action) ([]string, error) {
	p, err := requirePending(s, a, PendingChallenge)
	if err != nil {
		return nil, err
	}
	e.closePending(s)
	s.PendingDraw = 0
	s.LastWildIllegal = false

	got := e.forceDraw(s, a.PlayerID, p.DrawCount)
	s.AddLog(LogAction, a.PlayerID, "", fmt.Sprintf("%s draws %d", s.PlayerName(a.PlayerID), got))
	p.Skip++
	more, err := e.resume(s, p, nil)
	return append([]string{"draw_accepted"}, more...), err
}
