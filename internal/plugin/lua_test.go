package plugin

import (
	"path/filepath"
	"testing"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/game/counters"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const matchingScript = `
game_id = "matching"

effects = {}

function effects.everyone_draws(player_id, card, value)
  for _, id in ipairs(game.players()) do
    if id ~= player_id then
      game.draw(id, value)
    end
  end
  game.log(card.name .. " hits the table")
end

function effects.leap(player_id, card, value)
  game.skip(value)
end

actions = {}

function actions.shout(player_id, action)
  if action.metadata.word == nil then
    error("say something", 0)
  end
  game.set_counter(player_id, "shouts", game.counter(player_id, "shouts") + 1)
  return "shouted"
end

default_actions = {
  { id = "shout", label = "Shout", action_type = "shout", show_condition = "my_turn" },
}

function validate_card_play(player_id, card)
  if card.color == "blue" then
    return false, "No blue today"
  end
  return nil
end

function on_card_played(player_id, card)
  if card.id == "red_1_9" then
    return { veto = true, reason = "Not that one" }
  end
end

function on_turn_end(player_id)
  game.set_counter(player_id, "turns", game.counter(player_id, "turns") + 1)
  return false
end
`

func numberDef(id, color string) game.CardDefinition {
	return game.CardDefinition{
		ID: id, Name: color + " one", Type: "number", Subtype: "number", Count: 10,
		Effects:  []game.Effect{{Type: "number"}},
		Metadata: map[string]any{"color": color, "value": 1},
	}
}

// luaDefinition deals p1 red_1_0..2, p2 red_1_3..5 and p3 red_1_6..8 with
// red_1_9 face up; blue cards follow on the draw pile.
func luaDefinition() *game.GameDefinition {
	return &game.GameDefinition{
		ID:   "matching",
		Name: "Matching",
		Rules: game.Rules{
			MinPlayers:   2,
			MaxPlayers:   4,
			HandSize:     3,
			WinCondition: game.WinCondition{Type: game.WinEmptyHand},
		},
		Config: game.EngineConfig{MatchColor: true, StartWithDiscard: true},
		CardDefinitions: []game.CardDefinition{
			numberDef("red_1", "red"),
			numberDef("blue_1", "blue"),
			{
				ID: "blast", Name: "Blast", Type: "action", Subtype: "blast", Count: 2,
				Effects:  []game.Effect{{Type: "everyone_draws", Value: 2}},
				Metadata: map[string]any{"color": "red"},
			},
			{
				ID: "leap", Name: "Leap", Type: "action", Subtype: "leap", Count: 2,
				Effects:  []game.Effect{{Type: "leap", Value: 1}},
				Metadata: map[string]any{"color": "red"},
			},
		},
	}
}

func loadMatchingScript(t *testing.T) *LuaPlugin {
	t.Helper()
	path := writeScript(t, t.TempDir(), "matching.lua", matchingScript)
	p, err := LoadLuaPlugin(zaptest.NewLogger(t), path)
	require.NoError(t, err)
	t.Cleanup(p.Close)
	return p
}

func newLuaGame(t *testing.T) (*game.Engine, *game.GameState) {
	t.Helper()
	e := newEngine(t, loadMatchingScript(t))
	return e, start(t, e, luaDefinition(), 3)
}

func TestLoadLuaPlugin(t *testing.T) {
	p := loadMatchingScript(t)

	assert.Equal(t, "matching", p.GameID())
	assert.Contains(t, p.CustomEffects(), "everyone_draws")
	assert.Contains(t, p.CustomEffects(), "leap")
	assert.Contains(t, p.CustomActions(), "shout")
	require.Len(t, p.DefaultActions(), 1)
	assert.Equal(t, game.DefaultAction{ID: "shout", Label: "Shout", ActionType: "shout", ShowCondition: "my_turn"}, p.DefaultActions()[0])
}

func TestLoadLuaPluginErrors(t *testing.T) {
	dir := t.TempDir()
	logger := zaptest.NewLogger(t)

	tests := []struct {
		name string
		body string
	}{
		{"no game id", `effects = {}`},
		{"syntax error", `game_id = "x" function (`},
		{"api outside a hook", "game_id = \"x\"\nlocal n = game.deck_size()"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadLuaPlugin(logger, writeScript(t, dir, "broken.lua", tt.body))
			require.Error(t, err)
		})
	}
}

func TestLuaSandbox(t *testing.T) {
	body := `
game_id = "sandboxed"
assert(os == nil, "os is open")
assert(io == nil, "io is open")
assert(require == nil, "require is open")
assert(dofile == nil, "dofile is open")
assert(string.upper("ok") == "OK")
assert(math.max(1, 2) == 2)
`
	p, err := LoadLuaPlugin(zaptest.NewLogger(t), writeScript(t, t.TempDir(), "sandbox.lua", body))
	require.NoError(t, err)
	p.Close()
}

func TestLuaEffectUsesGameAPI(t *testing.T) {
	e, s := newLuaGame(t)
	give(t, s, "p1", "blast_0")

	res := apply(t, e, s, play("blast_0", "p1"))
	assert.True(t, hasTag(res.Triggered, "everyone_draws"))
	assert.Len(t, s.FindPlayer("p1").Hand.Cards, 3)
	assert.Len(t, s.FindPlayer("p2").Hand.Cards, 5)
	assert.Len(t, s.FindPlayer("p3").Hand.Cards, 5)
	assert.True(t, logged(s, "Blast hits the table"))
	assert.Equal(t, "p2", s.CurrentPlayerID)
}

func TestLuaEffectSkips(t *testing.T) {
	e, s := newLuaGame(t)
	give(t, s, "p1", "leap_0")

	apply(t, e, s, play("leap_0", "p1"))
	assert.Equal(t, "p3", s.CurrentPlayerID)
}

func TestLuaHooks(t *testing.T) {
	e, s := newLuaGame(t)

	t.Run("validate card play", func(t *testing.T) {
		give(t, s, "p1", "blue_1_0")
		_, err := e.ApplyAction(s, play("blue_1_0", "p1"))
		require.ErrorIs(t, err, game.ErrIllegalPlay)
		assert.Equal(t, "No blue today", err.Error())
	})

	t.Run("veto", func(t *testing.T) {
		give(t, s, "p1", "red_1_9")
		_, err := e.ApplyAction(s, play("red_1_9", "p1"))
		require.ErrorIs(t, err, game.ErrIllegalPlay)
		assert.Equal(t, "Not that one", err.Error())
	})

	t.Run("turn end counter", func(t *testing.T) {
		apply(t, e, s, play("red_1_0", "p1"))
		assert.Equal(t, 1, s.FindPlayer("p1").Counters.Get(counters.Key("matching", "turns")))
		assert.Equal(t, "p2", s.CurrentPlayerID)
	})
}

func TestLuaCustomAction(t *testing.T) {
	e, s := newLuaGame(t)

	_, err := e.ApplyAction(s, game.Action{Type: "shout", PlayerID: "p2"})
	require.ErrorIs(t, err, game.ErrActionRejected)
	assert.Equal(t, "say something", err.Error())

	res := apply(t, e, s, game.Action{Type: "shout", PlayerID: "p2", Metadata: map[string]any{"word": "hi"}})
	assert.Equal(t, []string{"shouted"}, res.Triggered)
	assert.Equal(t, 1, s.FindPlayer("p2").Counters.Get(counters.Key("matching", "shouts")))
}

func TestLuaHookErrorIsIgnored(t *testing.T) {
	body := `
game_id = "matching"

function on_turn_start(player_id)
  game.skip(1)
end
`
	p, err := LoadLuaPlugin(zaptest.NewLogger(t), writeScript(t, t.TempDir(), "faulty.lua", body))
	require.NoError(t, err)
	t.Cleanup(p.Close)

	e := newEngine(t, p)
	s := start(t, e, luaDefinition(), 2)
	apply(t, e, s, play("red_1_0", "p1"))
	assert.Equal(t, "p2", s.CurrentPlayerID)
}

func TestLoadLuaPlugins(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "b.lua", `game_id = "beta"`)
	writeScript(t, dir, "a.lua", `game_id = "alpha"`)
	writeScript(t, dir, "notes.txt", `not a script`)

	plugins, err := LoadLuaPlugins(zaptest.NewLogger(t), dir)
	require.NoError(t, err)
	require.Len(t, plugins, 2)
	assert.Equal(t, "alpha", plugins[0].GameID())
	assert.Equal(t, "beta", plugins[1].GameID())
	for _, p := range plugins {
		p.Close()
	}

	plugins, err = LoadLuaPlugins(zaptest.NewLogger(t), filepath.Join(dir, "missing"))
	require.NoError(t, err)
	assert.Empty(t, plugins)

	writeScript(t, dir, "c.lua", `broken(`)
	_, err = LoadLuaPlugins(zaptest.NewLogger(t), dir)
	require.Error(t, err)
}

func TestRegister(t *testing.T) {
	logger := zaptest.NewLogger(t)
	registry := game.NewPluginRegistry(logger)

	scripts, err := Register(registry, logger, filepath.Join("..", "..", "plugins"))
	require.NoError(t, err)
	t.Cleanup(func() {
		for _, p := range scripts {
			p.Close()
		}
	})

	assert.Equal(t, []string{ExplodingKittensID, "uno_draw_three"}, registry.GameIDs())
	p, ok := registry.Get("uno_draw_three")
	require.True(t, ok)
	assert.Contains(t, p.CustomEffects(), "everyone_draws")
	shippedDefinition(t, "uno_draw_three")
}
