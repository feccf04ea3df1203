package game

import (
	"errors"
	"fmt"
)

// Sentinel codes carried by ActionError. Match them with errors.Is.
var (
	ErrGameNotStarted   = errors.New("game_not_started")
	ErrGameEnded        = errors.New("game_ended")
	ErrUnknownPlayer    = errors.New("unknown_player")
	ErrNotYourTurn      = errors.New("not_your_turn")
	ErrCardNotInHand    = errors.New("card_not_in_hand")
	ErrIllegalPlay      = errors.New("illegal_play")
	ErrPileEmpty        = errors.New("pile_empty")
	ErrUnknownAction    = errors.New("unknown_action")
	ErrInvalidColor     = errors.New("invalid_color")
	ErrInvalidTarget    = errors.New("invalid_target")
	ErrNoPendingAction  = errors.New("no_pending_action")
	ErrAwaitingResponse = errors.New("awaiting_response")
	ErrNotEligible      = errors.New("not_eligible")
	ErrActionRejected   = errors.New("action_rejected")
	ErrLobby            = errors.New("lobby")

	// ErrCorruptState is returned when a persisted state cannot be trusted.
	ErrCorruptState = errors.New("corrupt game state")
)

// ActionError is a validation failure reported back to the acting player.
type ActionError struct {
	Code    error
	Message string
}

func (e *ActionError) Error() string {
	return e.Message
}

func (e *ActionError) Unwrap() error {
	return e.Code
}

func actionErr(code error, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// DefinitionError reports a malformed game definition.
type DefinitionError struct {
	Field  string
	Reason string
}

func (e *DefinitionError) Error() string {
	return fmt.Sprintf("invalid game definition: %s: %s", e.Field, e.Reason)
}

func corrupt(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrCorruptState, fmt.Sprintf(format, args...))
}
