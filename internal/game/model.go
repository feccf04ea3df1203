package game

import (
	"strings"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/game/counters"
	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/game/targeting"
	"github.com/google/uuid"
)

// Phase is the room-level state machine position.
type Phase string

const (
	PhaseLobby            Phase = "lobby"
	PhasePlaying          Phase = "playing"
	PhaseAwaitingResponse Phase = "awaiting_response"
	PhaseEnded            Phase = "ended"
)

// IsLive reports whether cards are in play.
func (p Phase) IsLive() bool {
	return p == PhasePlaying || p == PhaseAwaitingResponse
}

// PlayerStatus tracks a seat through the game.
type PlayerStatus string

const (
	PlayerWaiting    PlayerStatus = "waiting"
	PlayerActive     PlayerStatus = "active"
	PlayerEliminated PlayerStatus = "eliminated"
	PlayerWinner     PlayerStatus = "winner"
)

// ZoneKind classifies a zone.
type ZoneKind string

const (
	ZoneDeck    ZoneKind = "deck"
	ZoneDiscard ZoneKind = "discard"
	ZoneCommon  ZoneKind = "common"
	ZoneHand    ZoneKind = "hand"
)

// LogCategory classifies a log entry.
type LogCategory string

const (
	LogSystem LogCategory = "system"
	LogAction LogCategory = "action"
	LogEffect LogCategory = "effect"
	LogChat   LogCategory = "chat"
)

// maxLogEntries caps the in-game history kept on the state.
const maxLogEntries = 1000

// Effect is one mechanical step of a card.
type Effect struct {
	Type        string             `json:"type"`
	Value       int                `json:"value,omitempty"`
	Target      targeting.Selector `json:"target,omitempty"`
	Description string             `json:"description,omitempty"`
	Conditions  []rules.Condition  `json:"conditions,omitempty"`
	Metadata    map[string]any     `json:"metadata,omitempty"`
}

// MetaString reads a string from the effect metadata.
func (e Effect) MetaString(key string) string {
	return rules.StringValue(e.Metadata[key])
}

// CardDefinition is the immutable template cards are built from.
type CardDefinition struct {
	ID          string         `json:"id"`
	Name        string         `json:"name"`
	Type        string         `json:"type"`
	Subtype     string         `json:"subtype,omitempty"`
	Emoji       string         `json:"emoji,omitempty"`
	Description string         `json:"description,omitempty"`
	Effects     []Effect       `json:"effects"`
	Playable    *bool          `json:"isPlayable,omitempty"`
	IsReaction  bool           `json:"isReaction,omitempty"`
	Count       int            `json:"count"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// IsPlayable defaults to true when the definition does not say otherwise.
func (d CardDefinition) IsPlayable() bool {
	return d.Playable == nil || *d.Playable
}

// SubtypeOrID returns the subtype, falling back to the definition id.
func (d CardDefinition) SubtypeOrID() string {
	if d.Subtype != "" {
		return d.Subtype
	}
	return d.ID
}

func (d CardDefinition) metaBool(key string) bool {
	v, _ := d.Metadata[key].(bool)
	return v
}

// NotInStartDeck reports whether the card is left out of the initial deck.
func (d CardDefinition) NotInStartDeck() bool { return d.metaBool("notInStartDeck") }

// GuaranteedInStartHand reports whether every player is dealt one copy first.
func (d CardDefinition) GuaranteedInStartHand() bool { return d.metaBool("guaranteedInStartHand") }

// ResolveOnDraw reports whether the card's effects fire as soon as it is drawn.
func (d CardDefinition) ResolveOnDraw() bool { return d.metaBool("resolveOnDraw") }

// InjectCount returns how many copies are shuffled in after dealing.
func (d CardDefinition) InjectCount(playerCount int) int {
	raw, ok := d.Metadata["injectCount"]
	if !ok {
		return 0
	}
	if s, isString := raw.(string); isString && s == "players_minus_one" {
		return playerCount - 1
	}
	n, _ := rules.IntValue(raw)
	if n < 0 {
		return 0
	}
	return n
}

// Card is a concrete instance of a definition.
type Card struct {
	ID            string         `json:"id"`
	DefinitionID  string         `json:"definitionId"`
	Name          string         `json:"name"`
	Type          string         `json:"type"`
	Subtype       string         `json:"subtype,omitempty"`
	Emoji         string         `json:"emoji,omitempty"`
	Description   string         `json:"description,omitempty"`
	Effects       []Effect       `json:"effects"`
	IsPlayable    bool           `json:"isPlayable"`
	IsReaction    bool           `json:"isReaction"`
	ResolveOnDraw bool           `json:"resolveOnDraw,omitempty"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// Color returns the card's color metadata.
func (c *Card) Color() string {
	return rules.StringValue(c.Metadata["color"])
}

// SetColor annotates the instance with a color (used when a wild is resolved).
func (c *Card) SetColor(color string) {
	if c.Metadata == nil {
		c.Metadata = make(map[string]any)
	}
	c.Metadata["color"] = color
}

// Number returns the numeric face value, if the card has one.
func (c *Card) Number() (int, bool) {
	raw, ok := c.Metadata["value"]
	if !ok {
		raw, ok = c.Metadata["number"]
	}
	if !ok || raw == nil {
		return 0, false
	}
	return rules.IntValue(raw)
}

// HasEffect reports whether the card carries an effect of the type.
func (c *Card) HasEffect(effectType string) bool {
	return c.FindEffect(effectType) != nil
}

// FindEffect returns the first effect of the given type.
func (c *Card) FindEffect(effectType string) *Effect {
	for i := range c.Effects {
		if c.Effects[i].Type == effectType {
			return &c.Effects[i]
		}
	}
	return nil
}

// IsWild reports whether the card matches any color.
func (c *Card) IsWild() bool {
	if c.Color() == "wild" {
		return true
	}
	switch c.Subtype {
	case "wild", "wild_draw", "wild_draw4":
		return true
	}
	return false
}

// Hand is an ordered set of cards owned by a player.
type Hand struct {
	Cards   []Card `json:"cards"`
	Visible bool   `json:"isVisible"`
}

// IndexOf returns the position of a card id, or -1.
func (h *Hand) IndexOf(cardID string) int {
	for i := range h.Cards {
		if h.Cards[i].ID == cardID {
			return i
		}
	}
	return -1
}

// IndexOfSubtype returns the position of the first card with the subtype, or -1.
func (h *Hand) IndexOfSubtype(subtype string) int {
	for i := range h.Cards {
		if h.Cards[i].Subtype == subtype {
			return i
		}
	}
	return -1
}

// Take removes and returns the card at position i.
func (h *Hand) Take(i int) Card {
	card := h.Cards[i]
	h.Cards = append(h.Cards[:i], h.Cards[i+1:]...)
	return card
}

// Player is a seat at the table.
type Player struct {
	ID            string            `json:"id"`
	Name          string            `json:"name"`
	Status        PlayerStatus      `json:"status"`
	Hand          Hand              `json:"hand"`
	IsCurrentTurn bool              `json:"isCurrentTurn"`
	IsConnected   bool              `json:"isConnected"`
	TurnCount     int               `json:"turnCount"`
	Score         int               `json:"score"`
	CalledLast    bool              `json:"calledLastCard,omitempty"`
	Peeked        []Card            `json:"peeked,omitempty"`
	Counters      counters.Counters `json:"counters,omitempty"`
}

// InGame reports whether the player still takes turns.
func (p *Player) InGame() bool {
	return p.Status == PlayerActive || p.Status == PlayerWinner
}

// Zone is a named ordered pile owned by the room. Index 0 is the top.
type Zone struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Kind     ZoneKind `json:"type"`
	Cards    []Card   `json:"cards"`
	Public   bool     `json:"isPublic"`
	MaxCards int      `json:"maxCards,omitempty"`
}

// Top returns the top card, or nil for an empty zone.
func (z *Zone) Top() *Card {
	if z == nil || len(z.Cards) == 0 {
		return nil
	}
	return &z.Cards[0]
}

// PushTop places a card on top of the zone.
func (z *Zone) PushTop(card Card) {
	z.Cards = append([]Card{card}, z.Cards...)
}

// Insert places a card at a clamped position (0 is the top).
func (z *Zone) Insert(pos int, card Card) int {
	if pos < 0 {
		pos = 0
	}
	if pos > len(z.Cards) {
		pos = len(z.Cards)
	}
	z.Cards = append(z.Cards, Card{})
	copy(z.Cards[pos+1:], z.Cards[pos:])
	z.Cards[pos] = card
	return pos
}

// TurnPhase describes one step of a turn for display.
type TurnPhase struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Optional    bool   `json:"isOptional,omitempty"`
}

// TurnStructure describes what a turn consists of.
type TurnStructure struct {
	Phases       []TurnPhase `json:"phases,omitempty"`
	CanPassTurn  bool        `json:"canPassTurn"`
	MustPlayCard bool        `json:"mustPlayCard"`
	DrawCount    int         `json:"drawCount"`
}

// WinConditionType selects a win policy.
type WinConditionType string

const (
	WinEmptyHand    WinConditionType = "empty_hand"
	WinLastStanding WinConditionType = "last_standing"
	WinMostPoints   WinConditionType = "most_points"
	WinTargetScore  WinConditionType = "target_score"
)

// defaultTargetScore applies when a target_score game does not set one.
const defaultTargetScore = 500

// WinCondition describes how the game is won.
type WinCondition struct {
	Type        WinConditionType `json:"type"`
	Description string           `json:"description,omitempty"`
	Metadata    map[string]any   `json:"metadata,omitempty"`
}

// TargetScore returns the configured threshold for target_score games.
func (w WinCondition) TargetScore() int {
	if n, ok := rules.IntValue(w.Metadata["targetScore"]); ok && n > 0 {
		return n
	}
	return defaultTargetScore
}

// Rules are the table rules of a game.
type Rules struct {
	MinPlayers    int           `json:"minPlayers"`
	MaxPlayers    int           `json:"maxPlayers"`
	HandSize      int           `json:"handSize"`
	TurnStructure TurnStructure `json:"turnStructure"`
	WinCondition  WinCondition  `json:"winCondition"`
	SpecialRules  []string      `json:"specialRules,omitempty"`
}

// LogEntry is an immutable line of game history.
type LogEntry struct {
	ID        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Message   string      `json:"message"`
	Category  LogCategory `json:"type"`
	PlayerID  string      `json:"playerId,omitempty"`
	CardID    string      `json:"cardId,omitempty"`
}

// GameState is the aggregate root of one room.
type GameState struct {
	ID              string            `json:"id"`
	RoomCode        string            `json:"roomCode"`
	GameID          string            `json:"gameId"`
	GameName        string            `json:"gameName"`
	HostID          string            `json:"hostId"`
	Phase           Phase             `json:"phase"`
	Players         []*Player         `json:"players"`
	Zones           []*Zone           `json:"zones"`
	CurrentPlayerID string            `json:"currentTurnPlayerId"`
	TurnNumber      int               `json:"turnNumber"`
	Direction       int               `json:"direction"`
	Rules           Rules             `json:"rules"`
	Config          EngineConfig      `json:"config"`
	CardDefinitions []CardDefinition  `json:"cardDefinitions"`
	DefaultActions  []DefaultAction   `json:"defaultActions,omitempty"`
	Log             []LogEntry        `json:"log"`
	WinnerID        string            `json:"winnerId,omitempty"`
	Pending         *PendingAction    `json:"pendingAction,omitempty"`
	ActiveColor     string            `json:"activeColor,omitempty"`
	PendingDraw     int               `json:"pendingDraw"`
	LastWildIllegal bool              `json:"lastWildDrawIllegal,omitempty"`
	RemovedCardIDs  []string          `json:"removedCardIds,omitempty"`
	Counters        counters.Counters `json:"counters,omitempty"`
	UI              map[string]any    `json:"ui,omitempty"`
	CreatedAt       time.Time         `json:"createdAt"`
}

// FindPlayer returns the player with the id, or nil.
func (s *GameState) FindPlayer(playerID string) *Player {
	for _, p := range s.Players {
		if p.ID == playerID {
			return p
		}
	}
	return nil
}

// ActivePlayers returns players still in the game, in seat order.
func (s *GameState) ActivePlayers() []*Player {
	active := make([]*Player, 0, len(s.Players))
	for _, p := range s.Players {
		if p.Status == PlayerActive {
			active = append(active, p)
		}
	}
	return active
}

// CurrentPlayer returns the player whose turn it is.
func (s *GameState) CurrentPlayer() *Player {
	return s.FindPlayer(s.CurrentPlayerID)
}

// ZoneByKind returns the first zone of the kind.
func (s *GameState) ZoneByKind(kind ZoneKind) *Zone {
	for _, z := range s.Zones {
		if z.Kind == kind {
			return z
		}
	}
	return nil
}

// ZoneByID returns the zone with the id.
func (s *GameState) ZoneByID(id string) *Zone {
	for _, z := range s.Zones {
		if z.ID == id {
			return z
		}
	}
	return nil
}

// DrawPile returns the first deck zone.
func (s *GameState) DrawPile() *Zone { return s.ZoneByKind(ZoneDeck) }

// DiscardPile returns the first discard zone.
func (s *GameState) DiscardPile() *Zone { return s.ZoneByKind(ZoneDiscard) }

// TopDiscard returns the top discard card, or nil.
func (s *GameState) TopDiscard() *Card {
	return s.DiscardPile().Top()
}

// AddLog appends a history entry, trimming the oldest past the cap.
func (s *GameState) AddLog(category LogCategory, playerID, cardID, message string) {
	s.Log = append(s.Log, LogEntry{
		ID:        uuid.NewString(),
		Timestamp: time.Now().UnixMilli(),
		Message:   strings.TrimSpace(message),
		Category:  category,
		PlayerID:  playerID,
		CardID:    cardID,
	})
	if len(s.Log) > maxLogEntries {
		s.Log = s.Log[len(s.Log)-maxLogEntries:]
	}
}

// PlayerName returns a display name for logs.
func (s *GameState) PlayerName(playerID string) string {
	if p := s.FindPlayer(playerID); p != nil {
		return p.Name
	}
	return "?"
}

// AllCards lists every card the room currently holds: zones, hands, and a
// card parked on a pending action.
func (s *GameState) AllCards() []Card {
	var cards []Card
	for _, z := range s.Zones {
		cards = append(cards, z.Cards...)
	}
	for _, p := range s.Players {
		cards = append(cards, p.Hand.Cards...)
	}
	if s.Pending != nil && s.Pending.Card != nil {
		cards = append(cards, *s.Pending.Card)
	}
	return cards
}
