package rules

import (
	"fmt"
	"strconv"
	"strings"
)

// ConditionType names a predicate that can gate an effect.
type ConditionType string

const (
	ConditionHasCardType    ConditionType = "has_card_type"
	ConditionDeckSizeGTE    ConditionType = "deck_size_gte"
	ConditionHandSizeLTE    ConditionType = "hand_size_lte"
	ConditionActiveColor    ConditionType = "active_color"
	ConditionTurnNumberGTE  ConditionType = "turn_number_gte"
	ConditionPlayerCountEq  ConditionType = "player_count_eq"
	ConditionPlayerCountLTE ConditionType = "player_count_lte"
)

var knownConditions = map[ConditionType]bool{
	ConditionHasCardType:    true,
	ConditionDeckSizeGTE:    true,
	ConditionHandSizeLTE:    true,
	ConditionActiveColor:    true,
	ConditionTurnNumberGTE:  true,
	ConditionPlayerCountEq:  true,
	ConditionPlayerCountLTE: true,
}

// IsKnown reports whether the evaluator understands the condition type.
func (ct ConditionType) IsKnown() bool {
	return knownConditions[ct]
}

// Condition is one entry of an effect's condition list.
// Negate inverts the predicate, e.g. "does not hold a defuse card".
type Condition struct {
	Type   ConditionType `json:"type"`
	Value  any           `json:"value,omitempty"`
	Negate bool          `json:"negate,omitempty"`
}

// GameStateAccessor provides the room state read by condition checks.
type GameStateAccessor interface {
	// DrawPileSize returns the number of cards left in the draw pile
	DrawPileSize() int
	// CurrentColor returns the active color, empty when none is set
	CurrentColor() string
	// CurrentTurn returns the turn number
	CurrentTurn() int
	// ActivePlayerCount returns the number of non-eliminated players
	ActivePlayerCount() int
	// HandSize returns the number of cards in a player's hand
	HandSize(playerID string) int
	// HasCardSubtype reports whether the player holds a card of the subtype
	HasCardSubtype(playerID, subtype string) bool
}

// LegalityResult represents the outcome of a condition check.
type LegalityResult struct {
	Legal   bool
	Reason  string
	Details map[string]string
}

// ConditionEvaluator checks ordered condition lists against a game state.
type ConditionEvaluator struct {
	gameState GameStateAccessor
}

// NewConditionEvaluator creates a new evaluator bound to a game state.
func NewConditionEvaluator(gameState GameStateAccessor) *ConditionEvaluator {
	return &ConditionEvaluator{
		gameState: gameState,
	}
}

// Evaluate checks every condition in order for the given player and stops at
// the first failure.
func (ce *ConditionEvaluator) Evaluate(playerID string, conditions []Condition) LegalityResult {
	if len(conditions) == 0 {
		return LegalityResult{Legal: true}
	}
	if ce == nil || ce.gameState == nil {
		return LegalityResult{
			Legal:  false,
			Reason: "Condition evaluator not initialized",
		}
	}

	for i, cond := range conditions {
		held, reason, err := ce.check(playerID, cond)
		if err != nil {
			return LegalityResult{
				Legal:  false,
				Reason: err.Error(),
				Details: map[string]string{
					"condition": string(cond.Type),
					"index":     strconv.Itoa(i),
				},
			}
		}
		if cond.Negate {
			if held {
				return LegalityResult{
					Legal:  false,
					Reason: negatedReason(cond),
					Details: map[string]string{
						"condition": string(cond.Type),
						"index":     strconv.Itoa(i),
					},
				}
			}
			continue
		}
		if !held {
			return LegalityResult{
				Legal:  false,
				Reason: reason,
				Details: map[string]string{
					"condition": string(cond.Type),
					"index":     strconv.Itoa(i),
				},
			}
		}
	}

	return LegalityResult{Legal: true}
}

// check returns whether the predicate holds and, if not, why.
func (ce *ConditionEvaluator) check(playerID string, cond Condition) (bool, string, error) {
	gs := ce.gameState

	switch cond.Type {
	case ConditionHasCardType:
		subtype := StringValue(cond.Value)
		if gs.HasCardSubtype(playerID, subtype) {
			return true, "", nil
		}
		return false, fmt.Sprintf("No %s card in hand", subtype), nil

	case ConditionDeckSizeGTE:
		n, err := requireInt(cond)
		if err != nil {
			return false, "", err
		}
		size := gs.DrawPileSize()
		if size >= n {
			return true, "", nil
		}
		return false, fmt.Sprintf("Draw pile has only %d cards", size), nil

	case ConditionHandSizeLTE:
		n, err := requireInt(cond)
		if err != nil {
			return false, "", err
		}
		if gs.HandSize(playerID) <= n {
			return true, "", nil
		}
		return false, "Too many cards in hand", nil

	case ConditionActiveColor:
		color := StringValue(cond.Value)
		if gs.CurrentColor() == color {
			return true, "", nil
		}
		return false, fmt.Sprintf("Active color is not %s", color), nil

	case ConditionTurnNumberGTE:
		n, err := requireInt(cond)
		if err != nil {
			return false, "", err
		}
		if gs.CurrentTurn() >= n {
			return true, "", nil
		}
		return false, "Too early in the game", nil

	case ConditionPlayerCountEq:
		n, err := requireInt(cond)
		if err != nil {
			return false, "", err
		}
		if gs.ActivePlayerCount() == n {
			return true, "", nil
		}
		return false, fmt.Sprintf("Need exactly %d players remaining", n), nil

	case ConditionPlayerCountLTE:
		n, err := requireInt(cond)
		if err != nil {
			return false, "", err
		}
		if gs.ActivePlayerCount() <= n {
			return true, "", nil
		}
		return false, "Too many players remaining", nil

	default:
		return false, "", fmt.Errorf("Unknown condition: %s", cond.Type)
	}
}

func negatedReason(cond Condition) string {
	switch cond.Type {
	case ConditionHasCardType:
		return fmt.Sprintf("Has a %s card in hand", StringValue(cond.Value))
	case ConditionActiveColor:
		return fmt.Sprintf("Active color is %s", StringValue(cond.Value))
	default:
		return fmt.Sprintf("Condition %s holds", cond.Type)
	}
}

func requireInt(cond Condition) (int, error) {
	n, ok := IntValue(cond.Value)
	if !ok {
		return 0, fmt.Errorf("Condition %s needs a numeric value", cond.Type)
	}
	return n, nil
}

// IntValue coerces a decoded JSON value into an int.
func IntValue(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int32:
		return int(n), true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	case float32:
		return int(n), true
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(n))
		if err != nil {
			return 0, false
		}
		return parsed, true
	default:
		return 0, false
	}
}

// StringValue renders a decoded JSON value as a string.
func StringValue(v any) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	default:
		return fmt.Sprint(s)
	}
}
