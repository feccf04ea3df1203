package main

import (
	"context"
	"database/sql"

	"github.com/cardtable/cardtable-server-go/internal/ports/nakama"

	"github.com/heroiclabs/nakama-common/runtime"
)

// InitModule proxies Nakama initialization to the nakama adapter package.
func InitModule(ctx context.Context, logger runtime.Logger, db *sql.DB, nk runtime.NakamaModule, initializer runtime.Initializer) error {
	return nakama.InitModule(ctx, logger, db, nk, initializer)
}

// main is unused: this package is built with -buildmode=plugin and loaded by
// Nakama, which calls InitModule. It exists so `go build ./...` links.
func main() {}
