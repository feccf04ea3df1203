package game

import (
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"go.uber.org/zap"
)

// Origin records what started a resolution, which decides whether the turn
// passes once it completes.
type Origin string

const (
	OriginPlay   Origin = "play"
	OriginDraw   Origin = "draw"
	OriginHazard Origin = "hazard"
)

func mod(a, n int) int {
	return ((a % n) + n) % n
}

func seatIndex(players []*Player, id string) int {
	for i, p := range players {
		if p.ID == id {
			return i
		}
	}
	return -1
}

// NextPlayerID walks the active players from the current one in the current
// direction, passing over skip players. When the current player has just left
// the game the walk resumes from the seat they occupied.
func (e *Engine) NextPlayerID(s *GameState, skip int) string {
	active := s.ActivePlayers()
	if len(active) == 0 {
		return ""
	}
	dir := s.Direction
	if dir == 0 {
		dir = 1
	}

	idx := seatIndex(active, s.CurrentPlayerID)
	if idx >= 0 {
		return active[mod(idx+dir*(1+skip), len(active))].ID
	}

	seat := seatIndex(s.Players, s.CurrentPlayerID)
	if seat < 0 {
		return active[mod(dir*skip, len(active))].ID
	}
	n := len(s.Players)
	for step := 1; step <= n; step++ {
		candidate := s.Players[mod(seat+dir*step, n)]
		if candidate.Status == PlayerActive {
			j := seatIndex(active, candidate.ID)
			return active[mod(j+dir*skip, len(active))].ID
		}
	}
	return active[0].ID
}

func (e *Engine) setCurrent(s *GameState, playerID string) {
	s.CurrentPlayerID = playerID
	for _, p := range s.Players {
		p.IsCurrentTurn = p.ID == playerID
	}
}

// AdvanceTurn ends the current turn and passes it on, skipping skip players.
// A plugin may keep the turn with the same player from OnTurnEnd.
func (e *Engine) AdvanceTurn(s *GameState, skip int) []string {
	if s.Phase == PhaseEnded {
		return nil
	}
	prev := s.CurrentPlayerID
	e.publish(rules.NewEvent(rules.EventTurnEnded, s.RoomCode, prev))

	if cur := s.FindPlayer(prev); cur != nil {
		cur.Peeked = nil
		if cur.Status == PlayerActive && e.hookTurnEnd(s, prev).HaltTurnAdvance {
			return e.RepeatTurn(s)
		}
	}

	next := e.NextPlayerID(s, skip)
	if next == "" {
		return nil
	}
	e.setCurrent(s, next)
	s.TurnNumber++
	if p := s.FindPlayer(next); p != nil {
		p.TurnCount++
	}

	if e.logger != nil {
		e.logger.Debug("turn advanced",
			zap.String("room_code", s.RoomCode),
			zap.String("from_player", prev),
			zap.String("player_id", next),
			zap.Int("turn", s.TurnNumber),
			zap.Int("skip", skip),
		)
	}
	e.publish(rules.NewEvent(rules.EventTurnStarted, s.RoomCode, next))
	e.hookTurnStart(s, next)
	return []string{"turn_advanced"}
}

// RepeatTurn starts a new turn for the current player.
func (e *Engine) RepeatTurn(s *GameState) []string {
	s.TurnNumber++
	if p := s.CurrentPlayer(); p != nil {
		p.TurnCount++
		s.AddLog(LogSystem, p.ID, "", fmt.Sprintf("%s takes another turn", p.Name))
	}
	e.publish(rules.NewEvent(rules.EventExtraTurn, s.RoomCode, s.CurrentPlayerID))
	e.hookTurnStart(s, s.CurrentPlayerID)
	return []string{"extra_turn"}
}

// EliminatePlayer takes a player out of the game. It does not move the turn;
// settle does that once the current resolution completes.
func (e *Engine) EliminatePlayer(s *GameState, playerID, reason string) bool {
	p := s.FindPlayer(playerID)
	if p == nil || p.Status == PlayerEliminated {
		return false
	}
	p.Status = PlayerEliminated
	p.IsCurrentTurn = false
	p.CalledLast = false
	p.Peeked = nil
	if s.Config.EliminatedHandRemoved {
		for _, c := range p.Hand.Cards {
			s.RemovedCardIDs = append(s.RemovedCardIDs, c.ID)
		}
		p.Hand.Cards = nil
	}

	msg := fmt.Sprintf("%s is eliminated", p.Name)
	if reason != "" {
		msg = fmt.Sprintf("%s is eliminated (%s)", p.Name, reason)
	}
	s.AddLog(LogEffect, p.ID, "", msg)
	e.publish(rules.NewEvent(rules.EventPlayerEliminated, s.RoomCode, p.ID))
	return true
}

// checkWin returns the winner's id when the win condition is met.
func (e *Engine) checkWin(s *GameState) string {
	if !s.Phase.IsLive() {
		return ""
	}
	active := s.ActivePlayers()
	if len(active) == 0 {
		return ""
	}
	if len(active) == 1 && len(s.Players) > 1 {
		return active[0].ID
	}

	switch s.Rules.WinCondition.Type {
	case WinEmptyHand:
		for _, p := range active {
			if len(p.Hand.Cards) == 0 {
				return p.ID
			}
		}
	case WinMostPoints:
		draw, discard := s.DrawPile(), s.DiscardPile()
		exhausted := draw == nil || len(draw.Cards) == 0
		recyclable := discard != nil && len(discard.Cards) > 1
		if exhausted && !recyclable {
			return highestScore(active, 0)
		}
	case WinTargetScore:
		return highestScore(active, s.Rules.WinCondition.TargetScore())
	}
	return ""
}

func highestScore(players []*Player, threshold int) string {
	var best *Player
	for _, p := range players {
		if p.Score < threshold {
			continue
		}
		if best == nil || p.Score > best.Score {
			best = p
		}
	}
	if best == nil {
		return ""
	}
	return best.ID
}

func (e *Engine) endGame(s *GameState, winnerID string) []string {
	winner := s.FindPlayer(winnerID)
	if winner == nil {
		return nil
	}
	s.Phase = PhaseEnded
	s.WinnerID = winnerID
	s.Pending = nil
	winner.Status = PlayerWinner
	for _, p := range s.Players {
		p.IsCurrentTurn = false
	}

	s.AddLog(LogSystem, winnerID, "", fmt.Sprintf("%s wins!", winner.Name))
	if e.logger != nil {
		e.logger.Info("game ended",
			zap.String("room_code", s.RoomCode),
			zap.String("game_id", s.GameID),
			zap.String("winner_id", winnerID),
			zap.Int("turns", s.TurnNumber),
		)
	}
	e.publish(rules.NewEventWithTarget(rules.EventGameEnded, s.RoomCode, "", winnerID))
	e.hookGameEnd(s, winnerID)
	return []string{"game_ended"}
}

// settle finishes a resolution: it checks the win condition, moves the turn
// off an eliminated player and otherwise passes the turn when the origin and
// control signals call for it.
func (e *Engine) settle(s *GameState, ctl Control, origin Origin) []string {
	if s.Phase == PhaseEnded {
		return nil
	}
	if winner := e.checkWin(s); winner != "" {
		return e.endGame(s, winner)
	}
	if s.Pending != nil {
		return nil
	}
	if cur := s.CurrentPlayer(); cur == nil || cur.Status != PlayerActive {
		return e.AdvanceTurn(s, 0)
	}
	if ctl.HaltTurnAdvance {
		return nil
	}
	if ctl.ExtraTurn {
		return e.RepeatTurn(s)
	}

	var ends bool
	switch origin {
	case OriginPlay:
		ends = s.Config.PlayEndsTurn()
	case OriginDraw:
		ends = s.Config.DrawEndsTurn()
	case OriginHazard:
		ends = s.Config.HazardDrawEndsTurn()
	}
	if ends || ctl.EndTurn {
		return e.AdvanceTurn(s, ctl.Skip)
	}
	return nil
}
