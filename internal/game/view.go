package game

import (
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game/counters"
)

// viewLogEntries is how much history a view carries.
const viewLogEntries = 50

// PlayerView is a seat as one viewer may see it.
type PlayerView struct {
	ID            string             `json:"id"`
	Name          string             `json:"name"`
	Status        PlayerStatus       `json:"status"`
	Hand          []Card             `json:"hand"`
	HandCount     int                `json:"handCount"`
	IsCurrentTurn bool               `json:"isCurrentTurn"`
	IsConnected   bool               `json:"isConnected"`
	Score         int                `json:"score"`
	CalledLast    bool               `json:"calledLastCard,omitempty"`
	Peeked        []Card             `json:"peeked,omitempty"`
	Counters      []counters.Counter `json:"counters,omitempty"`
}

// ZoneView is a zone with hidden contents reduced to a count.
type ZoneView struct {
	ID        string   `json:"id"`
	Name      string   `json:"name"`
	Kind      ZoneKind `json:"type"`
	Public    bool     `json:"isPublic"`
	CardCount int      `json:"cardCount"`
	Cards     []Card   `json:"cards"`
}

// StateView is the per-viewer projection broadcast to clients.
type StateView struct {
	RoomCode         string         `json:"roomCode"`
	GameID           string         `json:"gameId"`
	GameName         string         `json:"gameName"`
	HostID           string         `json:"hostId"`
	ViewerID         string         `json:"viewerId"`
	Phase            Phase          `json:"phase"`
	Players          []PlayerView   `json:"players"`
	Zones            []ZoneView     `json:"zones"`
	CurrentPlayerID  string         `json:"currentTurnPlayerId"`
	TurnNumber       int            `json:"turnNumber"`
	Direction        int            `json:"direction"`
	ActiveColor      string         `json:"activeColor,omitempty"`
	PendingDraw      int            `json:"pendingDraw"`
	Pending          *PendingAction `json:"pendingAction,omitempty"`
	WinnerID         string         `json:"winnerId,omitempty"`
	Rules            Rules          `json:"rules"`
	Log              []LogEntry     `json:"log"`
	AvailableActions []string       `json:"availableActions"`
	UI               map[string]any `json:"ui,omitempty"`
}

// HiddenCard is the placeholder shown for a card the viewer may not see.
func HiddenCard(index int) Card {
	return Card{ID: fmt.Sprintf("hidden_%d", index), Name: "Hidden", Type: "hidden"}
}

func hiddenCards(n int) []Card {
	cards := make([]Card, n)
	for i := range cards {
		cards[i] = HiddenCard(i)
	}
	return cards
}

// View projects the state for one viewer: other hands become placeholders,
// hidden zones show only a count, and the viewer's available actions are
// computed. An empty viewer id yields a spectator view.
func (e *Engine) View(s *GameState, viewerID string) *StateView {
	v := &StateView{
		RoomCode:        s.RoomCode,
		GameID:          s.GameID,
		GameName:        s.GameName,
		HostID:          s.HostID,
		ViewerID:        viewerID,
		Phase:           s.Phase,
		CurrentPlayerID: s.CurrentPlayerID,
		TurnNumber:      s.TurnNumber,
		Direction:       s.Direction,
		ActiveColor:     s.ActiveColor,
		PendingDraw:     s.PendingDraw,
		WinnerID:        s.WinnerID,
		Rules:           s.Rules,
		UI:              s.UI,
	}

	for _, p := range s.Players {
		pv := PlayerView{
			ID:            p.ID,
			Name:          p.Name,
			Status:        p.Status,
			HandCount:     len(p.Hand.Cards),
			IsCurrentTurn: p.IsCurrentTurn,
			IsConnected:   p.IsConnected,
			Score:         p.Score,
			CalledLast:    p.CalledLast,
			Counters:      p.Counters.ToView(),
		}
		if p.ID == viewerID || p.Hand.Visible || s.Phase == PhaseEnded {
			pv.Hand = append([]Card{}, p.Hand.Cards...)
		} else {
			pv.Hand = hiddenCards(len(p.Hand.Cards))
		}
		if p.ID == viewerID {
			pv.Peeked = append([]Card(nil), p.Peeked...)
		}
		v.Players = append(v.Players, pv)
	}

	for _, z := range s.Zones {
		zv := ZoneView{ID: z.ID, Name: z.Name, Kind: z.Kind, Public: z.Public, CardCount: len(z.Cards)}
		if z.Public {
			zv.Cards = append([]Card{}, z.Cards...)
		} else {
			zv.Cards = []Card{}
		}
		v.Zones = append(v.Zones, zv)
	}

	if p := s.Pending; p != nil {
		masked := *p
		if p.Card != nil && p.PlayerID != viewerID {
			hidden := HiddenCard(0)
			masked.Card = &hidden
		}
		masked.Action = nil
		v.Pending = &masked
	}

	start := 0
	if len(s.Log) > viewLogEntries {
		start = len(s.Log) - viewLogEntries
	}
	v.Log = append([]LogEntry{}, s.Log[start:]...)
	v.AvailableActions = e.AvailableActions(s, viewerID)
	return v
}

// AvailableActions lists the action types the viewer can send right now.
func (e *Engine) AvailableActions(s *GameState, viewerID string) []string {
	actions := []string{}
	viewer := s.FindPlayer(viewerID)
	if viewer == nil || viewer.Status != PlayerActive || !s.Phase.IsLive() {
		return actions
	}

	if p := s.Pending; p != nil {
		switch p.Type {
		case PendingReaction:
			if p.CanRespond(viewerID) && viewer.Hand.IndexOfSubtype(s.Config.ReactionSubtype) >= 0 {
				actions = append(actions, ActionPlayReaction)
			}
			actions = append(actions, ActionResolveReaction)
		case PendingChooseColor:
			if p.CanRespond(viewerID) {
				actions = append(actions, ActionChooseColor)
			}
		case PendingChooseTarget:
			if p.CanRespond(viewerID) {
				actions = append(actions, ActionSelectTarget)
			}
		case PendingInsertCard:
			if p.CanRespond(viewerID) {
				actions = append(actions, ActionInsertCard)
			}
		case PendingGiveCard:
			if p.CanRespond(viewerID) {
				actions = append(actions, ActionGiveCard)
			}
		case PendingChallenge:
			if p.CanRespond(viewerID) {
				actions = append(actions, ActionChallenge, ActionAccept)
			}
		}
	} else if s.CurrentPlayerID == viewerID {
		for i := range viewer.Hand.Cards {
			c := &viewer.Hand.Cards[i]
			if !c.IsPlayable || c.IsReaction {
				continue
			}
			if ok, _ := e.CanPlay(s, c); ok {
				actions = append(actions, ActionPlayCard)
				break
			}
		}
		actions = append(actions, ActionDrawCard)
		if s.Rules.TurnStructure.CanPassTurn && s.PendingDraw == 0 {
			actions = append(actions, ActionPassTurn)
		}
	}

	defaults := s.DefaultActions
	if p := e.pluginFor(s); p != nil {
		defaults = append(append([]DefaultAction(nil), defaults...), p.DefaultActions()...)
	}
	for _, da := range defaults {
		if e.showDefaultAction(s, viewer, da.ShowCondition) {
			actions = append(actions, da.ActionType)
		}
	}
	return actions
}

func (e *Engine) showDefaultAction(s *GameState, viewer *Player, condition string) bool {
	switch condition {
	case "", "always":
		return true
	case "self_has_one_card":
		return len(viewer.Hand.Cards) == 1 && !viewer.CalledLast
	case "opponent_has_one_card_no_call":
		for _, p := range s.ActivePlayers() {
			if p.ID != viewer.ID && len(p.Hand.Cards) == 1 && !p.CalledLast {
				return true
			}
		}
		return false
	case "my_turn":
		return s.CurrentPlayerID == viewer.ID
	default:
		return false
	}
}
