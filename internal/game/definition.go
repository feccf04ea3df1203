package game

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// DefaultColors are used when a definition does not list its own.
var DefaultColors = []string{"red", "yellow", "green", "blue"}

// ZoneSpec declares a zone a game needs at setup.
type ZoneSpec struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     ZoneKind `json:"type"`
	Public   bool     `json:"isPublic"`
	MaxCards int      `json:"maxCards,omitempty"`
}

// EngineConfig holds the per-game switches the generic engine honors.
type EngineConfig struct {
	MatchColor                  bool       `json:"matchColor"`
	MatchNumber                 bool       `json:"matchNumber"`
	MatchType                   bool       `json:"matchType"`
	StackableDraw               bool       `json:"stackableDraw"`
	WildAlwaysPlayable          *bool      `json:"wildAlwaysPlayable,omitempty"`
	ReverseEqualsSkipTwoPlayers bool       `json:"reverseEqualsSkipTwoPlayers"`
	Colors                      []string   `json:"colors,omitempty"`
	DrawUntilPlayable           bool       `json:"drawUntilPlayable"`
	StartWithDiscard            bool       `json:"startWithDiscard"`
	ExcludeFromStartDiscard     []string   `json:"excludeFromStartDiscard,omitempty"`
	AllowWildDrawChallenge      bool       `json:"allowWildDrawChallenge"`
	PlayEndsTurnFlag            *bool      `json:"playEndsTurn,omitempty"`
	DrawEndsTurnFlag            *bool      `json:"drawEndsTurn,omitempty"`
	EndTurnOnEliminationDraw    *bool      `json:"endTurnOnEliminationDraw,omitempty"`
	EliminatedHandRemoved       bool       `json:"eliminatedHandRemoved"`
	ReactionSubtype             string     `json:"reactionSubtype,omitempty"`
	Zones                       []ZoneSpec `json:"zones,omitempty"`
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

// WildPlayable reports whether wild cards bypass matching.
func (c EngineConfig) WildPlayable() bool { return boolOr(c.WildAlwaysPlayable, true) }

// PlayEndsTurn reports whether a resolved play passes the turn.
func (c EngineConfig) PlayEndsTurn() bool { return boolOr(c.PlayEndsTurnFlag, true) }

// DrawEndsTurn reports whether a voluntary draw passes the turn.
func (c EngineConfig) DrawEndsTurn() bool { return boolOr(c.DrawEndsTurnFlag, true) }

// HazardDrawEndsTurn reports whether surviving a resolve-on-draw card ends
// the drawer's turn once its follow-up is resolved.
func (c EngineConfig) HazardDrawEndsTurn() bool { return boolOr(c.EndTurnOnEliminationDraw, true) }

// ColorList returns the legal colors.
func (c EngineConfig) ColorList() []string {
	if len(c.Colors) > 0 {
		return c.Colors
	}
	return DefaultColors
}

// ValidColor reports whether color is one of the legal colors.
func (c EngineConfig) ValidColor(color string) bool {
	_, ok := c.CanonicalColor(color)
	return ok
}

// CanonicalColor matches color case-insensitively against the legal colors.
func (c EngineConfig) CanonicalColor(color string) (string, bool) {
	color = strings.TrimSpace(color)
	for _, legal := range c.ColorList() {
		if strings.EqualFold(legal, color) {
			return legal, true
		}
	}
	return "", false
}

func (c EngineConfig) excludedFromStart(subtype string) bool {
	for _, s := range c.ExcludeFromStartDiscard {
		if s == subtype {
			return true
		}
	}
	return false
}

// DefaultAction is a UI button a game exposes outside the card flow.
type DefaultAction struct {
	ID            string `json:"id"`
	Label         string `json:"label"`
	ActionType    string `json:"actionType"`
	ShowCondition string `json:"showCondition,omitempty"`
}

// GameDefinition is the declarative description of one game.
type GameDefinition struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Description     string           `json:"description,omitempty"`
	Rules           Rules            `json:"rules"`
	Config          EngineConfig     `json:"config"`
	CardDefinitions []CardDefinition `json:"cardDefinitions"`
	DefaultActions  []DefaultAction  `json:"defaultActions,omitempty"`
	UI              map[string]any   `json:"ui,omitempty"`
}

// GameSummary is the catalog listing shape.
type GameSummary struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	MinPlayers  int    `json:"minPlayers"`
	MaxPlayers  int    `json:"maxPlayers"`
}

// Validate checks the fields setup relies on.
func (d *GameDefinition) Validate() error {
	if strings.TrimSpace(d.ID) == "" {
		return &DefinitionError{Field: "id", Reason: "required"}
	}
	if strings.TrimSpace(d.Name) == "" {
		return &DefinitionError{Field: "name", Reason: "required"}
	}
	if d.Rules.MinPlayers < 1 {
		return &DefinitionError{Field: "rules.minPlayers", Reason: "must be at least 1"}
	}
	if d.Rules.MaxPlayers < d.Rules.MinPlayers {
		return &DefinitionError{Field: "rules.maxPlayers", Reason: "must not be below minPlayers"}
	}
	return validateCardDefinitions(d.CardDefinitions, d.Rules.HandSize)
}

func validateCardDefinitions(defs []CardDefinition, handSize int) error {
	if handSize < 0 {
		return &DefinitionError{Field: "rules.handSize", Reason: "must not be negative"}
	}
	if len(defs) == 0 {
		return &DefinitionError{Field: "cardDefinitions", Reason: "at least one card definition is required"}
	}
	seen := make(map[string]bool, len(defs))
	for i, def := range defs {
		field := fmt.Sprintf("cardDefinitions[%d]", i)
		if strings.TrimSpace(def.ID) == "" {
			return &DefinitionError{Field: field + ".id", Reason: "required"}
		}
		if seen[def.ID] {
			return &DefinitionError{Field: field + ".id", Reason: fmt.Sprintf("duplicate id %q", def.ID)}
		}
		seen[def.ID] = true
		if strings.TrimSpace(def.Name) == "" {
			return &DefinitionError{Field: field + ".name", Reason: "required"}
		}
		if def.Count < 0 {
			return &DefinitionError{Field: field + ".count", Reason: "must not be negative"}
		}
		for j, eff := range def.Effects {
			if strings.TrimSpace(eff.Type) == "" {
				return &DefinitionError{Field: fmt.Sprintf("%s.effects[%d].type", field, j), Reason: "required"}
			}
		}
	}
	return nil
}

// NewGameState creates a lobby for the definition with the host seated.
func NewGameState(def *GameDefinition, roomCode, hostID, hostName string) *GameState {
	s := &GameState{
		ID:              uuid.NewString(),
		RoomCode:        roomCode,
		GameID:          def.ID,
		GameName:        def.Name,
		HostID:          hostID,
		Phase:           PhaseLobby,
		Direction:       1,
		Rules:           def.Rules,
		Config:          def.Config,
		CardDefinitions: append([]CardDefinition(nil), def.CardDefinitions...),
		DefaultActions:  append([]DefaultAction(nil), def.DefaultActions...),
		UI:              def.UI,
		CreatedAt:       time.Now().UTC(),
	}
	s.Players = append(s.Players, &Player{ID: hostID, Name: hostName, Status: PlayerWaiting, IsConnected: true})
	s.AddLog(LogSystem, hostID, "", fmt.Sprintf("%s created the room", hostName))
	return s
}

// Catalog holds the game definitions a server can host.
type Catalog struct {
	logger *zap.Logger
	mu     sync.RWMutex
	defs   map[string]*GameDefinition
}

// NewCatalog creates an empty catalog.
func NewCatalog(logger *zap.Logger) *Catalog {
	return &Catalog{
		logger: logger,
		defs:   make(map[string]*GameDefinition),
	}
}

// Register validates and adds a definition, replacing any previous one.
func (c *Catalog) Register(def *GameDefinition) error {
	if err := def.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	c.defs[def.ID] = def
	c.mu.Unlock()

	if c.logger != nil {
		c.logger.Debug("registered game definition",
			zap.String("game_id", def.ID),
			zap.Int("card_definitions", len(def.CardDefinitions)),
		)
	}
	return nil
}

// Get returns a definition by id.
func (c *Catalog) Get(gameID string) (*GameDefinition, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	def, ok := c.defs[gameID]
	return def, ok
}

// List returns summaries sorted by id.
func (c *Catalog) List() []GameSummary {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]GameSummary, 0, len(c.defs))
	for _, def := range c.defs {
		out = append(out, GameSummary{
			ID:          def.ID,
			Name:        def.Name,
			Description: def.Description,
			MinPlayers:  def.Rules.MinPlayers,
			MaxPlayers:  def.Rules.MaxPlayers,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ParseDefinition decodes one JSON definition.
func ParseDefinition(data []byte) (*GameDefinition, error) {
	var def GameDefinition
	if err := json.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to decode game definition: %w", err)
	}
	return &def, nil
}

// LoadDir registers every *.json definition in dir.
func (c *Catalog) LoadDir(dir string) (int, error) {
	paths, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return 0, fmt.Errorf("failed to list definitions: %w", err)
	}
	sort.Strings(paths)

	loaded := 0
	for _, path := range paths {
		data, err := os.ReadFile(path)
		if err != nil {
			return loaded, fmt.Errorf("failed to read %s: %w", path, err)
		}
		def, err := ParseDefinition(data)
		if err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		if err := c.Register(def); err != nil {
			return loaded, fmt.Errorf("%s: %w", path, err)
		}
		loaded++
	}

	if c.logger != nil {
		c.logger.Info("loaded game definitions",
			zap.String("dir", dir),
			zap.Int("count", loaded),
		)
	}
	return loaded, nil
}
