package game

import (
	"fmt"
	"slices"
	"strings"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"go.uber.org/zap"
)

func defaultZones() []ZoneSpec {
	return []ZoneSpec{
		{ID: "draw_pile", Name: "Draw Pile", Kind: ZoneDeck},
		{ID: "discard_pile", Name: "Discard Pile", Kind: ZoneDiscard, Public: true},
	}
}

// SetupGame builds zones and hands from the stored definitions and puts the
// room into play. It fails only on malformed definitions.
func (e *Engine) SetupGame(s *GameState) error {
	if err := validateCardDefinitions(s.CardDefinitions, s.Rules.HandSize); err != nil {
		return err
	}
	if len(s.Players) == 0 {
		return &DefinitionError{Field: "players", Reason: "no players seated"}
	}

	deck := BuildDeck(s.CardDefinitions)
	e.Shuffle(deck)

	for _, p := range s.Players {
		p.Hand = Hand{}
		p.Score = 0
		p.TurnCount = 0
		p.CalledLast = false
		p.Peeked = nil
		p.Counters = nil
	}

	for _, def := range s.CardDefinitions {
		if !def.GuaranteedInStartHand() {
			continue
		}
		for _, p := range s.Players {
			for i := range deck {
				if deck[i].DefinitionID == def.ID {
					p.Hand.Cards = append(p.Hand.Cards, deck[i])
					deck = append(deck[:i], deck[i+1:]...)
					break
				}
			}
		}
	}
	for _, p := range s.Players {
		need := s.Rules.HandSize - len(p.Hand.Cards)
		if need > len(deck) {
			return &DefinitionError{Field: "rules.handSize", Reason: fmt.Sprintf("deck of %d cannot deal %d more to %s", len(deck), need, p.Name)}
		}
		if need > 0 {
			p.Hand.Cards = append(p.Hand.Cards, deck[:need]...)
			deck = deck[need:]
		}
		p.Status = PlayerActive
	}

	injected := 0
	for _, def := range s.CardDefinitions {
		for j := 0; j < def.InjectCount(len(s.Players)); j++ {
			deck = append(deck, NewCard(def, fmt.Sprintf("%s_injected_%d", def.ID, j)))
			injected++
		}
	}
	if injected > 0 {
		e.Shuffle(deck)
	}

	specs := s.Config.Zones
	if len(specs) == 0 {
		specs = defaultZones()
	}
	s.Zones = nil
	for _, spec := range specs {
		s.Zones = append(s.Zones, &Zone{ID: spec.ID, Name: spec.Name, Kind: spec.Kind, Public: spec.Public, MaxCards: spec.MaxCards})
	}
	if s.DrawPile() == nil {
		s.Zones = append(s.Zones, &Zone{ID: "draw_pile", Name: "Draw Pile", Kind: ZoneDeck})
	}
	s.DrawPile().Cards = deck

	s.ActiveColor = ""
	if s.Config.StartWithDiscard && s.DiscardPile() != nil {
		draw := s.DrawPile()
		for i, c := range draw.Cards {
			if c.IsWild() || s.Config.excludedFromStart(c.Subtype) {
				continue
			}
			draw.Cards = append(draw.Cards[:i], draw.Cards[i+1:]...)
			s.DiscardPile().PushTop(c)
			s.ActiveColor = c.Color()
			break
		}
	}

	s.Phase = PhasePlaying
	s.TurnNumber = 1
	s.Direction = 1
	s.PendingDraw = 0
	s.LastWildIllegal = false
	s.Pending = nil
	s.WinnerID = ""
	s.RemovedCardIDs = nil
	s.Counters = nil
	e.setCurrent(s, s.Players[0].ID)
	s.Players[0].TurnCount = 1

	s.AddLog(LogSystem, "", "", fmt.Sprintf("%s started with %d players", s.GameName, len(s.Players)))
	if e.logger != nil {
		e.logger.Info("game set up",
			zap.String("room_code", s.RoomCode),
			zap.String("game_id", s.GameID),
			zap.Int("players", len(s.Players)),
			zap.Int("draw_pile", len(deck)),
			zap.Int("injected", injected),
		)
	}
	return nil
}

// StartGame moves a lobby into play. Only the host may start it.
func (e *Engine) StartGame(s *GameState, playerID string) error {
	if s.Phase != PhaseLobby {
		return actionErr(ErrLobby, "Game already started")
	}
	if playerID != s.HostID {
		return actionErr(ErrNotEligible, "Only the host can start the game")
	}
	if len(s.Players) < s.Rules.MinPlayers {
		return actionErr(ErrLobby, "Need at least %d players", s.Rules.MinPlayers)
	}
	if err := e.SetupGame(s); err != nil {
		return err
	}
	e.publish(rules.NewEvent(rules.EventGameStarted, s.RoomCode, playerID))
	e.hookGameStart(s)
	e.publish(rules.NewEvent(rules.EventTurnStarted, s.RoomCode, s.CurrentPlayerID))
	e.hookTurnStart(s, s.CurrentPlayerID)
	return nil
}

// AddPlayer seats a player in the lobby.
func (e *Engine) AddPlayer(s *GameState, playerID, name string) (*Player, error) {
	if s.Phase != PhaseLobby {
		return nil, actionErr(ErrLobby, "Game already started")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, actionErr(ErrLobby, "Name is required")
	}
	if s.Rules.MaxPlayers > 0 && len(s.Players) >= s.Rules.MaxPlayers {
		return nil, actionErr(ErrLobby, "Room is full")
	}
	for _, p := range s.Players {
		if p.ID == playerID {
			return nil, actionErr(ErrLobby, "Already in the room")
		}
		if strings.EqualFold(p.Name, name) {
			return nil, actionErr(ErrLobby, "Name %s is taken", name)
		}
	}
	p := &Player{ID: playerID, Name: name, Status: PlayerWaiting, IsConnected: true}
	s.Players = append(s.Players, p)
	s.AddLog(LogSystem, playerID, "", fmt.Sprintf("%s joined", name))
	return p, nil
}

// RemovePlayer unseats a lobby player, or forfeits one in play. It returns
// the triggered tags for a forfeit.
func (e *Engine) RemovePlayer(s *GameState, playerID string) ([]string, error) {
	idx := seatIndex(s.Players, playerID)
	if idx < 0 {
		return nil, actionErr(ErrUnknownPlayer, "Player %s is not in this room", playerID)
	}
	p := s.Players[idx]

	switch s.Phase {
	case PhaseLobby:
		s.Players = append(s.Players[:idx], s.Players[idx+1:]...)
		s.AddLog(LogSystem, playerID, "", fmt.Sprintf("%s left", p.Name))
		if s.HostID == playerID && len(s.Players) > 0 {
			s.HostID = s.Players[0].ID
		}
		return nil, nil
	case PhaseEnded:
		return nil, nil
	}

	if !e.EliminatePlayer(s, playerID, "left the game") {
		return nil, nil
	}
	triggered := []string{"forfeit"}
	if s.Pending != nil && (s.Pending.PlayerID == playerID || s.Pending.CanRespond(playerID)) {
		triggered = append(triggered, e.abandonPending(s, playerID)...)
	}
	return append(triggered, e.settle(s, Control{HaltTurnAdvance: true}, OriginPlay)...), nil
}

// abandonPending unblocks the room when a player a pending action waits on
// leaves. A held card returns to the draw pile. A reaction window stays open
// for everyone else.
func (e *Engine) abandonPending(s *GameState, playerID string) []string {
	p := s.Pending
	if p.Type == PendingReaction && p.PlayerID != playerID {
		p.ResponderIDs = slices.DeleteFunc(p.ResponderIDs, func(id string) bool { return id == playerID })
		return []string{"responder_removed"}
	}
	if p.Card != nil {
		s.DrawPile().Insert(e.rng.IntN(len(s.DrawPile().Cards)+1), *p.Card)
	}
	e.closePending(s)
	return []string{"pending_abandoned"}
}

// SetConnected records a player's transport presence.
func (s *GameState) SetConnected(playerID string, connected bool) bool {
	p := s.FindPlayer(playerID)
	if p == nil {
		return false
	}
	p.IsConnected = connected
	return true
}
