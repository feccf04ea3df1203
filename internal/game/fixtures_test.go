package game

import (
	"sort"
	"testing"

	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fixedRand keeps deck order as built and always picks index 0, so tests can
// reason about which card lands where.
type fixedRand struct{}

func (fixedRand) Shuffle(int, func(i, j int)) {}
func (fixedRand) IntN(int) int                { return 0 }

func boolPtr(v bool) *bool { return &v }

func newTestEngine(t *testing.T, plugins ...Plugin) *Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := NewPluginRegistry(logger)
	for _, p := range plugins {
		require.NoError(t, registry.Register(p))
	}
	e := NewEngine(logger, registry, rules.NewEventBus())
	e.SetRandomizer(fixedRand{})
	return e
}

func numberCard(id, color string, value, count int) CardDefinition {
	return CardDefinition{
		ID:       id,
		Name:     color + " " + id,
		Type:     "number",
		Subtype:  "number",
		Count:    count,
		Effects:  []Effect{{Type: "number"}},
		Metadata: map[string]any{"color": color, "value": value},
	}
}

// matchingDefinition is a small color-matching game in the style of UNO.
func matchingDefinition() *GameDefinition {
	return &GameDefinition{
		ID:   "matching",
		Name: "Matching",
		Rules: Rules{
			MinPlayers:    2,
			MaxPlayers:    6,
			HandSize:      3,
			TurnStructure: TurnStructure{DrawCount: 1},
			WinCondition:  WinCondition{Type: WinEmptyHand},
		},
		Config: EngineConfig{
			MatchColor:                  true,
			MatchNumber:                 true,
			MatchType:                   true,
			StackableDraw:               true,
			ReverseEqualsSkipTwoPlayers: true,
			StartWithDiscard:            true,
			AllowWildDrawChallenge:      true,
		},
		CardDefinitions: []CardDefinition{
			numberCard("red_1", "red", 1, 10),
			numberCard("blue_1", "blue", 1, 10),
			{
				ID: "draw_two", Name: "Draw Two", Type: "action", Subtype: "draw_two", Count: 4,
				Effects:  []Effect{{Type: "draw", Value: 2, Target: targeting.SelectorNextPlayer}},
				Metadata: map[string]any{"color": "red"},
			},
			{
				ID: "skip", Name: "Skip", Type: "action", Subtype: "skip", Count: 2,
				Effects:  []Effect{{Type: "skip"}},
				Metadata: map[string]any{"color": "red"},
			},
			{
				ID: "reverse", Name: "Reverse", Type: "action", Subtype: "reverse", Count: 2,
				Effects:  []Effect{{Type: "reverse"}},
				Metadata: map[string]any{"color": "red"},
			},
			{
				ID: "wild", Name: "Wild", Type: "wild", Subtype: "wild", Count: 2,
				Effects:  []Effect{{Type: "wild"}},
				Metadata: map[string]any{"color": "wild"},
			},
			{
				ID: "wild_draw4", Name: "Wild Draw Four", Type: "wild", Subtype: "wild_draw4", Count: 2,
				Effects:  []Effect{{Type: "wild_draw", Value: 4}},
				Metadata: map[string]any{"color": "wild"},
			},
			{
				ID: "bogus", Name: "Mystery", Type: "action", Subtype: "bogus", Count: 1,
				Effects:  []Effect{{Type: "teleport"}, {Type: "score", Value: 3}},
				Metadata: map[string]any{"color": "red"},
			},
		},
		DefaultActions: []DefaultAction{
			{ID: "uno", Label: "UNO!", ActionType: ActionCallLastCard, ShowCondition: "self_has_one_card"},
			{ID: "catch", Label: "Catch!", ActionType: ActionCatchLastCard, ShowCondition: "opponent_has_one_card_no_call"},
		},
	}
}

// eliminationDefinition is a push-your-luck elimination game in the style
// of Exploding Kittens.
func eliminationDefinition() *GameDefinition {
	return &GameDefinition{
		ID:   "elimination",
		Name: "Elimination",
		Rules: Rules{
			MinPlayers:   2,
			MaxPlayers:   5,
			HandSize:     7,
			WinCondition: WinCondition{Type: WinLastStanding},
		},
		Config: EngineConfig{
			PlayEndsTurnFlag: boolPtr(false),
			ReactionSubtype:  "nope",
		},
		CardDefinitions: []CardDefinition{
			{
				ID: "cat", Name: "Tacocat", Type: "cat", Subtype: "tacocat", Count: 20,
				Metadata: map[string]any{"comboable": true},
			},
			{
				ID: "defuse", Name: "Defuse", Type: "defuse", Subtype: "defuse", Count: 4,
				Playable: boolPtr(false),
				Metadata: map[string]any{"guaranteedInStartHand": true},
			},
			{
				ID: "nope", Name: "Nope", Type: "action", Subtype: "nope", Count: 8,
				IsReaction: true,
				Effects:    []Effect{{Type: "cancel"}},
			},
			{
				ID: "treasure", Name: "Treasure", Type: "action", Subtype: "treasure", Count: 2,
				Effects: []Effect{{Type: "score", Value: 1, Target: targeting.SelectorSelf}},
			},
			{
				ID: "favor", Name: "Favor", Type: "action", Subtype: "favor", Count: 2,
				Effects: []Effect{{Type: "give", Target: targeting.SelectorChoose}},
			},
			{
				ID: "exploding_kitten", Name: "Exploding Kitten", Type: "bomb", Subtype: "exploding_kitten",
				Playable: boolPtr(false),
				Effects: []Effect{{
					Type:       "eliminate",
					Target:     targeting.SelectorSelf,
					Conditions: []rules.Condition{{Type: rules.ConditionHasCardType, Value: "defuse", Negate: true}},
					Metadata:   map[string]any{"otherwise": "defuse"},
				}},
				Metadata: map[string]any{
					"notInStartDeck": true,
					"resolveOnDraw":  true,
					"injectCount":    "players_minus_one",
				},
			},
		},
	}
}

var playerNames = []string{"Alice", "Bob", "Carol", "Dave", "Erin"}

func playerID(i int) string { return "p" + string(rune('1'+i)) }

// startGame seats n players and starts the game as the host.
func startGame(t *testing.T, e *Engine, def *GameDefinition, n int) *GameState {
	t.Helper()
	s := NewGameState(def, "ROOM42", playerID(0), playerNames[0])
	for i := 1; i < n; i++ {
		_, err := e.AddPlayer(s, playerID(i), playerNames[i])
		require.NoError(t, err)
	}
	require.NoError(t, e.StartGame(s, playerID(0)))
	return s
}

// pluck removes a card from whichever zone or hand holds it.
func pluck(t *testing.T, s *GameState, cardID string) Card {
	t.Helper()
	for _, z := range s.Zones {
		for i, c := range z.Cards {
			if c.ID == cardID {
				z.Cards = append(z.Cards[:i], z.Cards[i+1:]...)
				return c
			}
		}
	}
	for _, p := range s.Players {
		if i := p.Hand.IndexOf(cardID); i >= 0 {
			return p.Hand.Take(i)
		}
	}
	t.Fatalf("card %s not found", cardID)
	return Card{}
}

func putInHand(t *testing.T, s *GameState, playerID string, cardIDs ...string) {
	t.Helper()
	p := s.FindPlayer(playerID)
	require.NotNil(t, p)
	for _, id := range cardIDs {
		p.Hand.Cards = append(p.Hand.Cards, pluck(t, s, id))
	}
}

// putOnDrawPile moves cards to the top of the draw pile; the first id ends up
// on top.
func putOnDrawPile(t *testing.T, s *GameState, cardIDs ...string) {
	t.Helper()
	for i := len(cardIDs) - 1; i >= 0; i-- {
		c := pluck(t, s, cardIDs[i])
		s.DrawPile().PushTop(c)
	}
}

// buryInDiscard moves cards under the discard pile, leaving its top alone.
func buryInDiscard(t *testing.T, s *GameState, cardIDs ...string) {
	t.Helper()
	for _, id := range cardIDs {
		c := pluck(t, s, id)
		s.DiscardPile().Cards = append(s.DiscardPile().Cards, c)
	}
}

func emptyHand(t *testing.T, s *GameState, playerID string) {
	t.Helper()
	p := s.FindPlayer(playerID)
	ids := make([]string, 0, len(p.Hand.Cards))
	for _, c := range p.Hand.Cards {
		ids = append(ids, c.ID)
	}
	buryInDiscard(t, s, ids...)
}

func act(t *testing.T, e *Engine, s *GameState, a Action) Result {
	t.Helper()
	res, err := e.ApplyAction(s, a)
	require.NoError(t, err, "action %s by %s", a.Type, a.PlayerID)
	require.True(t, res.Success)
	return res
}

func cardInventory(s *GameState) []string {
	var ids []string
	for _, c := range s.AllCards() {
		ids = append(ids, c.ID)
	}
	ids = append(ids, s.RemovedCardIDs...)
	sort.Strings(ids)
	return ids
}

func requireConserved(t *testing.T, s *GameState, initial []string) {
	t.Helper()
	require.Equal(t, initial, cardInventory(s), "cards were created or lost")
}

func requireSingleCurrent(t *testing.T, s *GameState) {
	t.Helper()
	if s.Phase != PhasePlaying {
		return
	}
	var flagged []string
	for _, p := range s.Players {
		if p.IsCurrentTurn {
			require.Equal(t, PlayerActive, p.Status)
			flagged = append(flagged, p.ID)
		}
	}
	require.Equal(t, []string{s.CurrentPlayerID}, flagged)
}

func checksum(t *testing.T, s *GameState) string {
	t.Helper()
	sum, err := ComputeChecksum(s)
	require.NoError(t, err)
	return sum.Hash
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}
