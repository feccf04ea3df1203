package nakama

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/plugin"
	"github.com/heroiclabs/nakama-common/runtime"
	"go.uber.org/zap"
)

// InitModule wires RPCs and match handlers for Nakama runtime. The game
// definitions and Lua plugins come from the directories named in the
// runtime environment.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	env, _ := ctx.Value(runtime.RUNTIME_CTX_ENV).(map[string]string)
	gamesDir := env[envGamesDir]
	if gamesDir == "" {
		gamesDir = "games"
	}

	zl, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("failed to create engine logger: %w", err)
	}

	catalog := game.NewCatalog(zl)
	n, err := catalog.LoadDir(gamesDir)
	if err != nil {
		return err
	}
	registry := game.NewPluginRegistry(zl)
	if _, err := plugin.Register(registry, zl, env[envLuaDir]); err != nil {
		return err
	}
	engine := game.NewEngine(zl, registry, nil)

	if err := RegisterRPCs(initializer, catalog); err != nil {
		return err
	}

	if err := initializer.RegisterMatch(MatchName, func(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule) (runtime.Match, error) {
		return newMatchHandler(engine, catalog), nil
	}); err != nil {
		return err
	}

	logger.Info("Cardtable Go module loaded with %d games.", n)
	return nil
}
