package targeting

import (
	"errors"
	"fmt"
)

// ErrTargetRequired is returned when a choose selector has no target yet.
var ErrTargetRequired = errors.New("target player required")

// TargetValidator resolves selectors into player IDs and validates choices.
type TargetValidator struct {
	gameState TargetGameStateAccessor
}

// TargetGameStateAccessor provides access to seating needed for target resolution.
type TargetGameStateAccessor interface {
	// ActivePlayerIDs returns non-eliminated players in seat order
	ActivePlayerIDs() []string
	// NextPlayerID returns the player after the current one, honoring direction and skips
	NextPlayerID(skip int) string
	// FindPlayerForTarget finds player info by ID
	FindPlayerForTarget(playerID string) (TargetPlayerInfo, bool)
}

// TargetPlayerInfo provides information about a player for target validation.
type TargetPlayerInfo struct {
	PlayerID   string
	Name       string
	Eliminated bool
	HandSize   int
}

// NewTargetValidator creates a new target validator.
func NewTargetValidator(gameState TargetGameStateAccessor) *TargetValidator {
	return &TargetValidator{
		gameState: gameState,
	}
}

// Resolve expands a selector into the affected player IDs. chosenID is only
// consulted for SelectorChoose.
func (tv *TargetValidator) Resolve(selector Selector, actorID, chosenID string) ([]string, error) {
	if tv == nil || tv.gameState == nil {
		return nil, fmt.Errorf("target validator not initialized")
	}

	switch selector {
	case SelectorSelf:
		return []string{actorID}, nil
	case SelectorNextPlayer:
		next := tv.gameState.NextPlayerID(0)
		if next == "" {
			return nil, nil
		}
		return []string{next}, nil
	case SelectorAllOthers:
		active := tv.gameState.ActivePlayerIDs()
		targets := make([]string, 0, len(active))
		for _, id := range active {
			if id != actorID {
				targets = append(targets, id)
			}
		}
		return targets, nil
	case SelectorAll:
		return append([]string(nil), tv.gameState.ActivePlayerIDs()...), nil
	case SelectorChoose:
		if chosenID == "" {
			return nil, ErrTargetRequired
		}
		if err := tv.ValidateTarget(actorID, chosenID); err != nil {
			return nil, err
		}
		return []string{chosenID}, nil
	default:
		return nil, fmt.Errorf("unknown target selector: %s", selector)
	}
}

// ValidateTarget checks that targetID names another player still in the game.
func (tv *TargetValidator) ValidateTarget(actorID, targetID string) error {
	if tv == nil || tv.gameState == nil {
		return fmt.Errorf("target validator not initialized")
	}
	if targetID == actorID {
		return fmt.Errorf("cannot target yourself")
	}
	player, ok := tv.gameState.FindPlayerForTarget(targetID)
	if !ok {
		return fmt.Errorf("target player %s not found", targetID)
	}
	if player.Eliminated {
		return fmt.Errorf("target player %s has been eliminated", player.Name)
	}
	return nil
}
