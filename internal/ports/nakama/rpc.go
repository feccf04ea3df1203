package nakama

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/heroiclabs/nakama-common/runtime"
)

type rpcFunc func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error)

// RegisterRPCs exposes the catalog and match creation to clients.
func RegisterRPCs(initializer runtime.Initializer, catalog *game.Catalog) error {
	if err := initializer.RegisterRpc(RpcListGames, listGamesRPC(catalog)); err != nil {
		return err
	}
	return initializer.RegisterRpc(RpcCreateMatch, createMatchRPC(catalog))
}

// listGamesRPC returns the catalog as a JSON array.
func listGamesRPC(catalog *game.Catalog) rpcFunc {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		data, err := json.Marshal(catalog.List())
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

type createMatchRequest struct {
	GameID string `json:"gameId"`
}

type createMatchResponse struct {
	MatchID string `json:"matchId"`
}

// createMatchRPC opens a match for a catalog game.
//
// Payload: {"gameId": "uno"}
// Returns: {"matchId": "..."}
func createMatchRPC(catalog *game.Catalog) rpcFunc {
	return func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, payload string) (string, error) {
		userID, _ := ctx.Value(runtime.RUNTIME_CTX_USER_ID).(string)

		var req createMatchRequest
		if err := json.Unmarshal([]byte(payload), &req); err != nil || req.GameID == "" {
			return "", runtime.NewError("gameId is required", 3)
		}
		if _, ok := catalog.Get(req.GameID); !ok {
			return "", runtime.NewError(fmt.Sprintf("unknown game %s", req.GameID), 5)
		}

		matchID, err := nk.MatchCreate(ctx, MatchName, map[string]interface{}{"game_id": req.GameID})
		if err != nil {
			logger.Error("RpcCreateMatch [User:%s]: Failed to create match: %v", userID, err)
			return "", err
		}
		logger.Info("RpcCreateMatch [User:%s]: Created %s match %s", userID, req.GameID, matchID)

		data, err := json.Marshal(createMatchResponse{MatchID: matchID})
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}
