package plugin

import (
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"go.uber.org/zap"
)

// Register adds the compiled plugins and every Lua plugin found in luaDir to
// the registry. The loaded Lua plugins are returned so the caller can close
// them on shutdown.
func Register(registry *game.PluginRegistry, logger *zap.Logger, luaDir string) ([]*LuaPlugin, error) {
	if err := registry.Register(NewExplodingKittens(logger)); err != nil {
		return nil, err
	}

	scripts, err := LoadLuaPlugins(logger, luaDir)
	if err != nil {
		return nil, err
	}
	for i, p := range scripts {
		if err := registry.Register(p); err != nil {
			for _, s := range scripts[i:] {
				s.Close()
			}
			return scripts[:i], fmt.Errorf("failed to register %s: %w", p.Path(), err)
		}
	}
	return scripts, nil
}
