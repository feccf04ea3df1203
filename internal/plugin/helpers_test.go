package plugin

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// fixedRand keeps decks in definition order and picks index 0.
type fixedRand struct{}

func (fixedRand) Shuffle(int, func(i, j int)) {}
func (fixedRand) IntN(int) int                { return 0 }

func newEngine(t *testing.T, plugins ...game.Plugin) *game.Engine {
	t.Helper()
	logger := zaptest.NewLogger(t)
	registry := game.NewPluginRegistry(logger)
	for _, p := range plugins {
		require.NoError(t, registry.Register(p))
	}
	e := game.NewEngine(logger, registry, nil)
	e.SetRandomizer(fixedRand{})
	return e
}

func shippedDefinition(t *testing.T, gameID string) *game.GameDefinition {
	t.Helper()
	catalog := game.NewCatalog(zaptest.NewLogger(t))
	_, err := catalog.LoadDir(filepath.Join("..", "..", "games"))
	require.NoError(t, err)
	def, ok := catalog.Get(gameID)
	require.True(t, ok, "no shipped definition for %s", gameID)
	return def
}

func start(t *testing.T, e *game.Engine, def *game.GameDefinition, n int) *game.GameState {
	t.Helper()
	names := []string{"Alice", "Bob", "Carol", "Dave"}
	s := game.NewGameState(def, "ROOM42", "p1", names[0])
	for i := 1; i < n; i++ {
		_, err := e.AddPlayer(s, "p"+string(rune('1'+i)), names[i])
		require.NoError(t, err)
	}
	require.NoError(t, e.StartGame(s, "p1"))
	return s
}

// give moves a card from any zone or hand into the player's hand.
func give(t *testing.T, s *game.GameState, playerID string, cardIDs ...string) {
	t.Helper()
	to := s.FindPlayer(playerID)
	require.NotNil(t, to)
	for _, id := range cardIDs {
		to.Hand.Cards = append(to.Hand.Cards, take(t, s, id))
	}
}

func take(t *testing.T, s *game.GameState, cardID string) game.Card {
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
	return game.Card{}
}

func apply(t *testing.T, e *game.Engine, s *game.GameState, a game.Action) game.Result {
	t.Helper()
	res, err := e.ApplyAction(s, a)
	require.NoError(t, err, "%s by %s", a.Type, a.PlayerID)
	return res
}

func writeScript(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func hasTag(tags []string, tag string) bool {
	for _, t := range tags {
		if t == tag {
			return true
		}
	}
	return false
}

func logged(s *game.GameState, message string) bool {
	for _, entry := range s.Log {
		if entry.Message == message {
			return true
		}
	}
	return false
}
