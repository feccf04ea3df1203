package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardtable/cardtable-server-go/internal/config"
	"github.com/cardtable/cardtable-server-go/internal/game"
	"github.com/cardtable/cardtable-server-go/internal/game/rules"
	"github.com/cardtable/cardtable-server-go/internal/plugin"
	"github.com/cardtable/cardtable-server-go/internal/repository"
	"github.com/cardtable/cardtable-server-go/internal/room"
	"github.com/cardtable/cardtable-server-go/internal/server"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"
)

var (
	configPath = flag.String("config", "config/config.yaml", "path to configuration file")
	version    = "dev" // set via ldflags during build
)

const janitorInterval = time.Minute

func main() {
	flag.Parse()

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Logging)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("starting cardtable server",
		zap.String("version", version),
		zap.String("config", *configPath),
	)

	if cfg.Auth.SeatTokenSecret == "" {
		logger.Warn("seat token secret not configured; tokens will not survive a restart")
	}

	// Create context that listens for termination signals
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	// Initialize storage
	var store interface {
		repository.RoomStore
		repository.DefinitionStore
	} = repository.NewMemoryStore()
	if cfg.Database.Enabled {
		db, err := repository.NewDB(ctx, cfg.Database, logger)
		if err != nil {
			logger.Fatal("failed to connect to database", zap.Error(err))
		}
		defer db.Close()

		// Log database stats
		stats := db.Stats()
		logger.Info("database connection pool initialized",
			zap.Int32("total_conns", stats.TotalConns()),
			zap.Int32("idle_conns", stats.IdleConns()),
		)
		store = repository.NewPostgresStore(db)
	} else {
		logger.Info("database disabled; rooms are kept in memory")
	}

	// Load game definitions
	catalog := game.NewCatalog(logger)
	var loaded int
	if cfg.Games.Source == config.SourceDatabase {
		loaded, err = repository.LoadDefinitions(ctx, store, catalog, logger)
	} else {
		loaded, err = catalog.LoadDir(cfg.Games.DefinitionsDir)
	}
	if err != nil {
		logger.Fatal("failed to load game definitions", zap.Error(err))
	}
	logger.Info("game catalog initialized",
		zap.String("source", cfg.Games.Source),
		zap.Int("games", loaded),
	)

	// Initialize plugins
	registry := game.NewPluginRegistry(logger)
	scripts, err := plugin.Register(registry, logger, cfg.Games.LuaPluginsDir)
	if err != nil {
		logger.Fatal("failed to load plugins", zap.Error(err))
	}
	defer func() {
		for _, s := range scripts {
			s.Close()
		}
	}()
	logger.Info("plugins initialized", zap.Strings("games", registry.GameIDs()))

	// Initialize rules engine
	bus := rules.NewEventBus()
	bus.SubscribeTyped(rules.EventGameEnded, func(evt rules.Event) {
		logger.Info("game ended",
			zap.String("room_code", evt.RoomCode),
			zap.String("winner_id", evt.TargetID),
		)
	})
	engine := game.NewEngine(logger, registry, bus)
	logger.Info("rules engine initialized")

	// Initialize room manager
	tokens, err := room.NewTokenIssuer(cfg.Auth.SeatTokenSecret, cfg.Auth.SeatTokenTTL)
	if err != nil {
		logger.Fatal("failed to initialize seat tokens", zap.Error(err))
	}
	roomMgr := room.NewManager(logger, engine, catalog, store, tokens, room.Options{
		CodeLength:     cfg.Rooms.CodeLength,
		ReactionWindow: cfg.Rooms.ReactionWindow,
		IdleTimeout:    cfg.Rooms.IdleTimeout,
		Persist:        cfg.Rooms.Persist,
		ReplayDir:      cfg.Rooms.ReplayDir,
	})
	restored, err := roomMgr.Restore(ctx)
	if err != nil {
		logger.Error("failed to restore rooms", zap.Error(err))
	}
	logger.Info("room manager initialized", zap.Int("restored_rooms", restored))

	// Start idle room cleanup goroutine
	go roomMgr.RunJanitor(ctx, janitorInterval)

	// Initialize realtime hub and REST API
	hub := server.NewHub(roomMgr, cfg.Server.WebSocket, logger)
	gin.SetMode(cfg.Server.HTTP.Mode)
	httpServer := server.NewHTTPServer(cfg.Server.HTTP, server.NewRouter(roomMgr, hub, logger))

	grpcServer := grpc.NewServer(
		grpc.UnaryInterceptor(server.ChainUnaryInterceptors(
			server.RecoveryInterceptor(logger),
			server.LoggingInterceptor(logger),
		)),
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    30 * time.Second,
			Timeout: 10 * time.Second,
		}),
		grpc.MaxConcurrentStreams(uint32(cfg.Server.GRPC.MaxConcurrentStreams)),
	)

	server.RegisterRoomService(grpcServer, server.NewRoomService(roomMgr, logger))
	healthServer := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthServer)
	healthServer.SetServingStatus(server.RoomServiceName, healthpb.HealthCheckResponse_SERVING)
	if cfg.Server.GRPC.Reflection {
		reflection.Register(grpcServer)
	}

	lis, err := net.Listen("tcp", cfg.Server.GRPC.Address)
	if err != nil {
		logger.Fatal("failed to listen", zap.Error(err))
	}

	// Start gRPC server
	go func() {
		logger.Info("starting gRPC server", zap.String("address", cfg.Server.GRPC.Address))
		if serveErr := grpcServer.Serve(lis); serveErr != nil {
			logger.Error("gRPC server error", zap.Error(serveErr))
		}
	}()

	// Start HTTP and WebSocket server
	go func() {
		logger.Info("starting HTTP server", zap.String("address", cfg.Server.HTTP.Address))
		if httpErr := httpServer.ListenAndServe(); httpErr != nil && !errors.Is(httpErr, http.ErrServerClosed) {
			logger.Error("HTTP server error", zap.Error(httpErr))
		}
	}()

	logger.Info("cardtable server initialized",
		zap.String("version", version),
		zap.String("grpc_address", cfg.Server.GRPC.Address),
		zap.String("http_address", cfg.Server.HTTP.Address),
		zap.Int("games", loaded),
	)

	// Wait for termination signal
	sig := <-sigChan
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	// Graceful shutdown
	logger.Info("shutting down gracefully...")
	healthServer.Shutdown()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", zap.Error(err))
	}

	grpcServer.GracefulStop()

	// Stop reaction timers after the listeners drain
	roomMgr.Close()

	logger.Info("cardtable server stopped")
}

// initLogger initializes the zap logger based on configuration
func initLogger(cfg config.LoggingConfig) (*zap.Logger, error) {
	var level zapcore.Level
	switch cfg.Level {
	case "debug":
		level = zapcore.DebugLevel
	case "info":
		level = zapcore.InfoLevel
	case "warn":
		level = zapcore.WarnLevel
	case "error":
		level = zapcore.ErrorLevel
	default:
		level = zapcore.InfoLevel
	}

	var zapCfg zap.Config
	if cfg.Format == "json" {
		zapCfg = zap.NewProductionConfig()
	} else {
		zapCfg = zap.NewDevelopmentConfig()
		zapCfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	}

	zapCfg.Level = zap.NewAtomicLevelAt(level)

	return zapCfg.Build()
}
