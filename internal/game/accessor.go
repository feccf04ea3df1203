package game

import (
	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
)

// stateAccessor adapts a GameState to the rules and targeting accessors.
type stateAccessor struct {
	e *Engine
	s *GameState
}

var (
	_ rules.GameStateAccessor           = stateAccessor{}
	_ targeting.TargetGameStateAccessor = stateAccessor{}
)

func (a stateAccessor) DrawPileSize() int {
	if draw := a.s.DrawPile(); draw != nil {
		return len(draw.Cards)
	}
	return 0
}

func (a stateAccessor) CurrentColor() string { return a.s.ActiveColor }

func (a stateAccessor) CurrentTurn() int { return a.s.TurnNumber }

func (a stateAccessor) ActivePlayerCount() int { return len(a.s.ActivePlayers()) }

func (a stateAccessor) HandSize(playerID string) int {
	if p := a.s.FindPlayer(playerID); p != nil {
		return len(p.Hand.Cards)
	}
	return 0
}

func (a stateAccessor) HasCardSubtype(playerID, subtype string) bool {
	p := a.s.FindPlayer(playerID)
	return p != nil && p.Hand.IndexOfSubtype(subtype) >= 0
}

func (a stateAccessor) ActivePlayerIDs() []string {
	active := a.s.ActivePlayers()
	ids := make([]string, len(active))
	for i, p := range active {
		ids[i] = p.ID
	}
	return ids
}

func (a stateAccessor) NextPlayerID(skip int) string {
	return a.e.NextPlayerID(a.s, skip)
}

func (a stateAccessor) FindPlayerForTarget(playerID string) (targeting.TargetPlayerInfo, bool) {
	p := a.s.FindPlayer(playerID)
	if p == nil {
		return targeting.TargetPlayerInfo{}, false
	}
	return targeting.TargetPlayerInfo{
		PlayerID:   p.ID,
		Name:       p.Name,
		Eliminated: p.Status == PlayerEliminated,
		HandSize:   len(p.Hand.Cards),
	}, true
}
