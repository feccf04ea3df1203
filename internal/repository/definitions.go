package repository

import (
	"context"
	"fmt"

	"github.com/cardtable/cardtable-server-go/internal/game"
	"go.uber.org/zap"
)

// LoadDefinitions registers every stored definition in the catalog
func LoadDefinitions(ctx context.Context, store DefinitionStore, catalog *game.Catalog, logger *zap.Logger) (int, error) {
	recs, err := store.ListDefinitions(ctx)
	if err != nil {
		return 0, err
	}

	loaded := 0
	for _, rec := range recs {
		def, err := game.ParseDefinition(rec.Definition)
		if err != nil {
			return loaded, fmt.Errorf("definition %s: %w", rec.ID, err)
		}
		if def.ID != rec.ID {
			return loaded, fmt.Errorf("definition %s: stored under id %q", def.ID, rec.ID)
		}
		if err := catalog.Register(def); err != nil {
			return loaded, fmt.Errorf("definition %s: %w", rec.ID, err)
		}
		loaded++
	}

	if logger != nil {
		logger.Info("loaded game definitions from database", zap.Int("count", loaded))
	}
	return loaded, nil
}
