package plugin

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/game/counters"
	lua "github.com/yuin/gopher-lua"
	"go.uber.org/zap"
)

// Lua hook and table names a script may define.
const (
	luaGameID          = "game_id"
	luaOnGameStart     = "on_game_start"
	luaOnTurnStart     = "on_turn_start"
	luaOnCardPlayed    = "on_card_played"
	luaOnTurnEnd       = "on_turn_end"
	luaOnGameEnd       = "on_game_end"
	luaValidateCard    = "validate_card_play"
	luaValidateAction  = "validate_action"
	luaEffectsTable    = "effects"
	luaActionsTable    = "actions"
	luaAPITable        = "game"
	luaDefaultsTable   = "default_actions"
	luaMaxStackEntries = 256
)

// luaCall is the engine context the game API table operates on while a
// script function runs.
type luaCall struct {
	e        *game.Engine
	s        *game.GameState
	playerID string
	cardID   string
	ctl      *game.Control
}

// LuaPlugin adapts a Lua script to the plugin interface. One interpreter
// serves every room playing the game, so calls into it are serialized.
type LuaPlugin struct {
	logger *zap.Logger
	path   string
	id     string

	mu    sync.Mutex
	state *lua.LState
	call  *luaCall

	effects  map[string]game.EffectHandler
	actions  map[string]game.ActionHandler
	defaults []game.DefaultAction
}

// LoadLuaPlugin runs the script at path and wraps the functions it defines.
func LoadLuaPlugin(logger *zap.Logger, path string) (*LuaPlugin, error) {
	p := &LuaPlugin{logger: logger, path: path}
	p.state = newSandbox()
	p.state.SetGlobal(luaAPITable, p.apiTable())

	if err := p.state.DoFile(path); err != nil {
		p.state.Close()
		return nil, fmt.Errorf("failed to load lua plugin %s: %w", path, err)
	}
	p.id = lua.LVAsString(p.state.GetGlobal(luaGameID))
	if p.id == "" {
		p.state.Close()
		return nil, fmt.Errorf("lua plugin %s does not set %s", path, luaGameID)
	}

	p.effects = make(map[string]game.EffectHandler)
	if tbl, ok := p.state.GetGlobal(luaEffectsTable).(*lua.LTable); ok {
		tbl.ForEach(func(k, v lua.LValue) {
			if fn, ok := v.(*lua.LFunction); ok {
				p.effects[k.String()] = p.effectHandler(k.String(), fn)
			}
		})
	}
	p.actions = make(map[string]game.ActionHandler)
	if tbl, ok := p.state.GetGlobal(luaActionsTable).(*lua.LTable); ok {
		tbl.ForEach(func(k, v lua.LValue) {
			if fn, ok := v.(*lua.LFunction); ok {
				p.actions[k.String()] = p.actionHandler(k.String(), fn)
			}
		})
	}
	if tbl, ok := p.state.GetGlobal(luaDefaultsTable).(*lua.LTable); ok {
		tbl.ForEach(func(_, v lua.LValue) {
			row, ok := v.(*lua.LTable)
			if !ok {
				return
			}
			p.defaults = append(p.defaults, game.DefaultAction{
				ID:            lua.LVAsString(row.RawGetString("id")),
				Label:         lua.LVAsString(row.RawGetString("label")),
				ActionType:    lua.LVAsString(row.RawGetString("action_type")),
				ShowCondition: lua.LVAsString(row.RawGetString("show_condition")),
			})
		})
	}

	if logger != nil {
		logger.Info("lua plugin loaded",
			zap.String("game_id", p.id),
			zap.String("path", path),
			zap.Int("effects", len(p.effects)),
			zap.Int("actions", len(p.actions)),
		)
	}
	return p, nil
}

// LoadLuaPlugins loads every *.lua file in dir, in name order. A missing
// directory yields no plugins.
func LoadLuaPlugins(logger *zap.Logger, dir string) ([]*LuaPlugin, error) {
	if dir == "" {
		return nil, nil
	}
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	paths, err := filepath.Glob(filepath.Join(dir, "*.lua"))
	if err != nil {
		return nil, fmt.Errorf("failed to list lua plugins: %w", err)
	}
	sort.Strings(paths)

	plugins := make([]*LuaPlugin, 0, len(paths))
	for _, path := range paths {
		p, err := LoadLuaPlugin(logger, path)
		if err != nil {
			for _, loaded := range plugins {
				loaded.Close()
			}
			return nil, err
		}
		plugins = append(plugins, p)
	}
	return plugins, nil
}

// newSandbox opens an interpreter with only the pure libraries. Scripts get
// no io, os, package or debug access.
func newSandbox() *lua.LState {
	L := lua.NewState(lua.Options{SkipOpenLibs: true, CallStackSize: luaMaxStackEntries})
	for _, lib := range []struct {
		name string
		open lua.LGFunction
	}{
		{lua.BaseLibName, lua.OpenBase},
		{lua.TabLibName, lua.OpenTable},
		{lua.StringLibName, lua.OpenString},
		{lua.MathLibName, lua.OpenMath},
	} {
		L.Push(L.NewFunction(lib.open))
		L.Push(lua.LString(lib.name))
		L.Call(1, 0)
	}
	for _, name := range []string{"dofile", "loadfile", "load", "loadstring", "require", "collectgarbage"} {
		L.SetGlobal(name, lua.LNil)
	}
	return L
}

// Close releases the interpreter.
func (p *LuaPlugin) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.Close()
}

// Path returns the script the plugin was loaded from.
func (p *LuaPlugin) Path() string { return p.path }

func (p *LuaPlugin) GameID() string { return p.id }

func (p *LuaPlugin) CustomActions() map[string]game.ActionHandler { return p.actions }

func (p *LuaPlugin) CustomEffects() map[string]game.EffectHandler { return p.effects }

func (p *LuaPlugin) DefaultActions() []game.DefaultAction { return p.defaults }

// invoke calls a global or table function with the engine bound for the
// duration of the call. Missing functions return no values and no error.
func (p *LuaPlugin) invoke(call *luaCall, fn lua.LValue, nret int, args ...lua.LValue) ([]lua.LValue, error) {
	if _, ok := fn.(*lua.LFunction); !ok {
		return nil, nil
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	p.call = call
	defer func() { p.call = nil }()

	L := p.state
	top := L.GetTop()
	if err := L.CallByParam(lua.P{Fn: fn, NRet: nret, Protect: true}, args...); err != nil {
		L.SetTop(top)
		return nil, err
	}
	out := make([]lua.LValue, nret)
	for i := 0; i < nret; i++ {
		out[i] = L.Get(top + 1 + i)
	}
	L.SetTop(top)
	return out, nil
}

// hook runs a lifecycle function. Script errors are logged and ignored.
func (p *LuaPlugin) hook(name string, call *luaCall, nret int, args ...lua.LValue) []lua.LValue {
	p.mu.Lock()
	fn := p.state.GetGlobal(name)
	p.mu.Unlock()

	out, err := p.invoke(call, fn, nret, args...)
	if err != nil {
		if p.logger != nil {
			p.logger.Warn("lua hook failed",
				zap.String("game_id", p.id),
				zap.String("room_code", call.s.RoomCode),
				zap.String("hook", name),
				zap.Error(err),
			)
		}
		return nil
	}
	return out
}

func (p *LuaPlugin) OnGameStart(e *game.Engine, s *game.GameState) {
	p.hook(luaOnGameStart, &luaCall{e: e, s: s}, 0)
}

func (p *LuaPlugin) OnTurnStart(e *game.Engine, s *game.GameState, playerID string) {
	p.hook(luaOnTurnStart, &luaCall{e: e, s: s, playerID: playerID}, 0, lua.LString(playerID))
}

func (p *LuaPlugin) OnCardPlayed(e *game.Engine, s *game.GameState, playerID string, card *game.Card) game.HookResult {
	call := &luaCall{e: e, s: s, playerID: playerID, cardID: card.ID}
	out := p.hook(luaOnCardPlayed, call, 1, lua.LString(playerID), p.cardTable(card))
	if len(out) == 0 {
		return game.HookResult{}
	}
	tbl, ok := out[0].(*lua.LTable)
	if !ok {
		return game.HookResult{}
	}
	return game.HookResult{
		Veto:            lua.LVAsBool(tbl.RawGetString("veto")),
		Reason:          lua.LVAsString(tbl.RawGetString("reason")),
		HaltTurnAdvance: lua.LVAsBool(tbl.RawGetString("halt")),
	}
}

func (p *LuaPlugin) OnTurnEnd(e *game.Engine, s *game.GameState, playerID string) game.HookResult {
	out := p.hook(luaOnTurnEnd, &luaCall{e: e, s: s, playerID: playerID}, 1, lua.LString(playerID))
	if len(out) == 0 {
		return game.HookResult{}
	}
	return game.HookResult{HaltTurnAdvance: lua.LVAsBool(out[0])}
}

func (p *LuaPlugin) OnGameEnd(e *game.Engine, s *game.GameState, winnerID string) {
	p.hook(luaOnGameEnd, &luaCall{e: e, s: s, playerID: winnerID}, 0, lua.LString(winnerID))
}

// verdict maps a script answer onto a decision: nil abstains, true allows
// and false denies with the optional second value as the reason.
func verdict(out []lua.LValue) game.Verdict {
	if len(out) == 0 || out[0] == lua.LNil {
		return game.Verdict{}
	}
	if lua.LVAsBool(out[0]) {
		return game.Verdict{Decision: game.Allow}
	}
	v := game.Verdict{Decision: game.Deny}
	if len(out) > 1 && out[1] != lua.LNil {
		v.Reason = lua.LVAsString(out[1])
	}
	return v
}

func (p *LuaPlugin) ValidateCardPlay(e *game.Engine, s *game.GameState, playerID string, card *game.Card) game.Verdict {
	call := &luaCall{e: e, s: s, playerID: playerID, cardID: card.ID}
	return verdict(p.hook(luaValidateCard, call, 2, lua.LString(playerID), p.cardTable(card)))
}

func (p *LuaPlugin) ValidateAction(e *game.Engine, s *game.GameState, a game.Action) game.Verdict {
	call := &luaCall{e: e, s: s, playerID: a.PlayerID, cardID: a.CardID}
	return verdict(p.hook(luaValidateAction, call, 2, p.actionTable(a)))
}

// effectHandler wraps effects[name]. The script receives the acting player,
// the card and the effect value; flow changes go through the game API.
func (p *LuaPlugin) effectHandler(name string, fn *lua.LFunction) game.EffectHandler {
	return func(e *game.Engine, ctx *game.EffectContext) (*game.Control, error) {
		ctl := &game.Control{}
		call := &luaCall{e: e, s: ctx.State, playerID: ctx.Player.ID, cardID: ctx.Card.ID, ctl: ctl}
		_, err := p.invoke(call, fn, 0,
			lua.LString(ctx.Player.ID),
			p.cardTable(ctx.Card),
			lua.LNumber(ctx.Effect.Value),
		)
		if err != nil {
			return nil, fmt.Errorf("lua effect %s: %w", name, err)
		}
		ctx.Trigger(name)
		return ctl, nil
	}
}

// actionHandler wraps actions[type]. Raising an error rejects the action;
// a returned string is reported as a triggered tag.
func (p *LuaPlugin) actionHandler(actionType string, fn *lua.LFunction) game.ActionHandler {
	return func(e *game.Engine, s *game.GameState, a game.Action) ([]string, error) {
		call := &luaCall{e: e, s: s, playerID: a.PlayerID, cardID: a.CardID}
		out, err := p.invoke(call, fn, 1, lua.LString(a.PlayerID), p.actionTable(a))
		if err != nil {
			return nil, &game.ActionError{Code: game.ErrActionRejected, Message: luaMessage(err)}
		}
		if len(out) > 0 && out[0] != lua.LNil {
			return []string{lua.LVAsString(out[0])}, nil
		}
		return []string{actionType}, nil
	}
}

// luaMessage extracts the value passed to error() from a script failure.
func luaMessage(err error) string {
	var apiErr *lua.ApiError
	if errors.As(err, &apiErr) && apiErr.Object != nil {
		return apiErr.Object.String()
	}
	return err.Error()
}

func (p *LuaPlugin) cardTable(card *game.Card) *lua.LTable {
	tbl := p.state.NewTable()
	tbl.RawSetString("id", lua.LString(card.ID))
	tbl.RawSetString("name", lua.LString(card.Name))
	tbl.RawSetString("type", lua.LString(card.Type))
	tbl.RawSetString("subtype", lua.LString(card.Subtype))
	tbl.RawSetString("color", lua.LString(card.Color()))
	if n, ok := card.Number(); ok {
		tbl.RawSetString("value", lua.LNumber(n))
	}
	return tbl
}

func (p *LuaPlugin) actionTable(a game.Action) *lua.LTable {
	tbl := p.state.NewTable()
	tbl.RawSetString("type", lua.LString(a.Type))
	tbl.RawSetString("player_id", lua.LString(a.PlayerID))
	tbl.RawSetString("card_id", lua.LString(a.CardID))
	tbl.RawSetString("target_player_id", lua.LString(a.TargetPlayerID))
	meta := p.state.NewTable()
	for k, v := range a.Metadata {
		switch val := v.(type) {
		case string:
			meta.RawSetString(k, lua.LString(val))
		case bool:
			meta.RawSetString(k, lua.LBool(val))
		case int:
			meta.RawSetString(k, lua.LNumber(val))
		case float64:
			meta.RawSetString(k, lua.LNumber(val))
		}
	}
	tbl.RawSetString("metadata", meta)
	return tbl
}

// apiTable builds the "game" table scripts use to read and change state.
func (p *LuaPlugin) apiTable() *lua.LTable {
	L := p.state
	api := L.NewTable()
	for name, fn := range map[string]lua.LGFunction{
		"draw":           p.apiDraw,
		"log":            p.apiLog,
		"set_counter":    p.apiSetCounter,
		"counter":        p.apiCounter,
		"hand_size":      p.apiHandSize,
		"deck_size":      p.apiDeckSize,
		"current_player": p.apiCurrentPlayer,
		"players":        p.apiPlayers,
		"skip":           p.apiSkip,
		"end_turn":       p.apiEndTurn,
		"extra_turn":     p.apiExtraTurn,
	} {
		api.RawSetString(name, L.NewFunction(fn))
	}
	return api
}

func (p *LuaPlugin) bound(L *lua.LState) *luaCall {
	if p.call == nil {
		L.RaiseError("game API is only available inside hooks and effects")
	}
	return p.call
}

func (p *LuaPlugin) player(L *lua.LState, call *luaCall, arg int) *game.Player {
	id := L.OptString(arg, call.playerID)
	pl := call.s.FindPlayer(id)
	if pl == nil {
		L.ArgError(arg, "unknown player "+id)
	}
	return pl
}

// game.draw(player_id, n) draws n cards and returns how many were drawn.
func (p *LuaPlugin) apiDraw(L *lua.LState) int {
	call := p.bound(L)
	pl := p.player(L, call, 1)
	drawn, err := call.e.DrawCards(call.s, pl.ID, L.OptInt(2, 1))
	if err != nil {
		call.s.AddLog(game.LogSystem, pl.ID, "", "Draw pile exhausted")
	}
	L.Push(lua.LNumber(len(drawn)))
	return 1
}

// game.log(message) appends to the room history.
func (p *LuaPlugin) apiLog(L *lua.LState) int {
	call := p.bound(L)
	call.s.AddLog(game.LogEffect, call.playerID, call.cardID, L.CheckString(1))
	return 0
}

// game.set_counter(player_id, name, value)
func (p *LuaPlugin) apiSetCounter(L *lua.LState) int {
	call := p.bound(L)
	pl := p.player(L, call, 1)
	pl.Counters.Set(counters.Key(p.id, L.CheckString(2)), L.CheckInt(3))
	return 0
}

// game.counter(player_id, name) returns the counter, 0 when unset.
func (p *LuaPlugin) apiCounter(L *lua.LState) int {
	call := p.bound(L)
	pl := p.player(L, call, 1)
	L.Push(lua.LNumber(pl.Counters.Get(counters.Key(p.id, L.CheckString(2)))))
	return 1
}

func (p *LuaPlugin) apiHandSize(L *lua.LState) int {
	call := p.bound(L)
	pl := p.player(L, call, 1)
	L.Push(lua.LNumber(len(pl.Hand.Cards)))
	return 1
}

func (p *LuaPlugin) apiDeckSize(L *lua.LState) int {
	call := p.bound(L)
	n := 0
	if draw := call.s.DrawPile(); draw != nil {
		n = len(draw.Cards)
	}
	L.Push(lua.LNumber(n))
	return 1
}

func (p *LuaPlugin) apiCurrentPlayer(L *lua.LState) int {
	call := p.bound(L)
	L.Push(lua.LString(call.s.CurrentPlayerID))
	return 1
}

// game.players() lists the players still in the game in seat order.
func (p *LuaPlugin) apiPlayers(L *lua.LState) int {
	call := p.bound(L)
	ids := L.NewTable()
	for _, pl := range call.s.ActivePlayers() {
		ids.Append(lua.LString(pl.ID))
	}
	L.Push(ids)
	return 1
}

// effectControl returns the control of the running effect; flow calls are
// rejected from plain hooks.
func (p *LuaPlugin) effectControl(L *lua.LState) *game.Control {
	call := p.bound(L)
	if call.ctl == nil {
		L.RaiseError("turn flow can only be changed from an effect")
	}
	return call.ctl
}

// game.skip(n) skips n further players when the turn passes.
func (p *LuaPlugin) apiSkip(L *lua.LState) int {
	ctl := p.effectControl(L)
	ctl.Skip += L.OptInt(1, 1)
	return 0
}

func (p *LuaPlugin) apiEndTurn(L *lua.LState) int {
	p.effectControl(L).EndTurn = true
	return 0
}

func (p *LuaPlugin) apiExtraTurn(L *lua.LState) int {
	p.effectControl(L).ExtraTurn = true
	return 0
}
