package game

import (
	"fmt"
	"maps"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
)

// NewCard instantiates a definition under the given instance id.
func NewCard(def CardDefinition, id string) Card {
	card := Card{
		ID:            id,
		DefinitionID:  def.ID,
		Name:          def.Name,
		Type:          def.Type,
		Subtype:       def.Subtype,
		Emoji:         def.Emoji,
		Description:   def.Description,
		Effects:       append([]Effect(nil), def.Effects...),
		IsPlayable:    def.IsPlayable(),
		IsReaction:    def.IsReaction,
		ResolveOnDraw: def.ResolveOnDraw(),
	}
	if len(def.Metadata) > 0 {
		card.Metadata = maps.Clone(def.Metadata)
	}
	return card
}

// BuildDeck emits count copies of every definition that belongs in the
// starting deck. Instance ids are "{definition}_{n}".
func BuildDeck(defs []CardDefinition) []Card {
	var deck []Card
	for _, def := range defs {
		if def.NotInStartDeck() {
			continue
		}
		for i := 0; i < def.Count; i++ {
			deck = append(deck, NewCard(def, fmt.Sprintf("%s_%d", def.ID, i)))
		}
	}
	return deck
}

// Shuffle randomizes the order of cards in place.
func (e *Engine) Shuffle(cards []Card) {
	e.rng.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
}

// recycle refills the draw pile from every discard but the top one.
func (e *Engine) recycle(s *GameState, need int) bool {
	draw, discard := s.DrawPile(), s.DiscardPile()
	if draw == nil || discard == nil || len(draw.Cards) >= need || len(discard.Cards) <= 1 {
		return false
	}
	top := discard.Cards[0]
	rest := append([]Card(nil), discard.Cards[1:]...)
	e.Shuffle(rest)
	draw.Cards = append(draw.Cards, rest...)
	discard.Cards = []Card{top}

	s.AddLog(LogSystem, "", "", "Draw pile reshuffled")
	e.publish(rules.NewEventWithAmount(rules.EventPileRecycled, s.RoomCode, "", len(rest)))
	return true
}

// DrawCards moves up to n cards from the draw pile into the player's hand,
// recycling the discard pile when needed. Drawing from an exhausted pile is
// an ErrPileEmpty failure; a partial draw returns what was drawn.
func (e *Engine) DrawCards(s *GameState, playerID string, n int) ([]Card, error) {
	player := s.FindPlayer(playerID)
	if player == nil {
		return nil, actionErr(ErrUnknownPlayer, "Player %s not found", playerID)
	}
	draw := s.DrawPile()
	if draw == nil {
		return nil, actionErr(ErrPileEmpty, "Draw pile is empty")
	}
	if n <= 0 {
		return nil, nil
	}
	e.recycle(s, n)
	if len(draw.Cards) == 0 {
		return nil, actionErr(ErrPileEmpty, "Draw pile is empty")
	}
	if n > len(draw.Cards) {
		n = len(draw.Cards)
	}
	drawn := append([]Card(nil), draw.Cards[:n]...)
	draw.Cards = draw.Cards[n:]
	player.Hand.Cards = append(player.Hand.Cards, drawn...)
	if len(player.Hand.Cards) > 1 {
		player.CalledLast = false
	}

	e.publish(rules.NewEventWithAmount(rules.EventCardDrawn, s.RoomCode, playerID, len(drawn)))
	return drawn, nil
}

// forceDraw draws for an effect or penalty. An exhausted pile is logged, not
// raised, so the rest of the resolution still runs.
func (e *Engine) forceDraw(s *GameState, playerID string, n int) int {
	drawn, err := e.DrawCards(s, playerID, n)
	if err != nil {
		s.AddLog(LogSystem, playerID, "", "Draw pile exhausted")
		return 0
	}
	return len(drawn)
}

// moveToDiscard places a card on top of the discard pile.
func moveToDiscard(s *GameState, card Card) {
	if discard := s.DiscardPile(); discard != nil {
		discard.PushTop(card)
		return
	}
	s.RemovedCardIDs = append(s.RemovedCardIDs, card.ID)
}

// transferCard moves one card between hands. cardID picks the card; an empty
// id takes a random one. It returns false when the source hand is empty.
func (e *Engine) transferCard(from, to *Player, cardID string) (Card, bool, error) {
	if len(from.Hand.Cards) == 0 {
		return Card{}, false, nil
	}
	idx := e.rng.IntN(len(from.Hand.Cards))
	if cardID != "" {
		idx = from.Hand.IndexOf(cardID)
		if idx < 0 {
			return Card{}, false, actionErr(ErrCardNotInHand, "%s does not hold that card", from.Name)
		}
	}
	card := from.Hand.Take(idx)
	to.Hand.Cards = append(to.Hand.Cards, card)
	if len(to.Hand.Cards) > 1 {
		to.CalledLast = false
	}
	return card, true, nil
}
