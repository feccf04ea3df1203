package server

import (
	"errors"
	"net/http"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// errorCode classifies a domain error for both transports
func errorCode(err error) codes.Code {
	var actionErr *game.ActionError
	switch {
	case err == nil:
		return codes.OK
	case errors.Is(err, room.ErrRoomNotFound), errors.Is(err, room.ErrUnknownGame):
		return codes.NotFound
	case errors.Is(err, room.ErrInvalidToken):
		return codes.Unauthenticated
	case errors.Is(err, room.ErrWrongPassword), errors.Is(err, room.ErrNotHost),
		errors.Is(err, room.ErrNotSeated), errors.Is(err, game.ErrNotEligible):
		return codes.PermissionDenied
	case errors.Is(err, game.ErrCorruptState):
		return codes.FailedPrecondition
	case errors.Is(err, room.ErrNoReplay), errors.Is(err, room.ErrNoFrame):
		return codes.NotFound
	case errors.Is(err, room.ErrNameRequired), errors.As(err, &actionErr):
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func httpStatus(err error) int {
	switch errorCode(err) {
	case codes.OK:
		return http.StatusOK
	case codes.NotFound:
		return http.StatusNotFound
	case codes.Unauthenticated:
		return http.StatusUnauthorized
	case codes.PermissionDenied:
		return http.StatusForbidden
	case codes.FailedPrecondition:
		return http.StatusConflict
	case codes.InvalidArgument:
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage is the client facing text. Internal failures are not echoed.
func errorMessage(err error) string {
	if errorCode(err) == codes.Internal {
		return "internal error"
	}
	return err.Error()
}

func grpcError(err error) error {
	if err == nil {
		return nil
	}
	return status.Error(errorCode(err), errorMessage(err))
}
