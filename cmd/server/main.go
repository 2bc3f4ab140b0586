package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/mbflow-labs/storygraph/internal/infrastructure/api/rest"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/config"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/logger"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/monitoring"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/storage"
	"github.com/mbflow-labs/storygraph/internal/infrastructure/websocket"
	"github.com/mbflow-labs/storygraph/internal/vm"
)

func main() {
	var (
		port          = flag.String("port", "", "Server port (overrides config)")
		enableCORS    = flag.Bool("cors", true, "Enable CORS")
		enableMetrics = flag.Bool("metrics", true, "Enable metrics collection")
		apiKeys       = flag.String("api-keys", "", "Comma-separated API keys for authentication")
	)
	flag.Parse()

	cfg := config.Load()
	if *port != "" {
		cfg.Port = *port
	}

	log := logger.Setup(cfg.LogLevel)
	log.Info().
		Str("version", "1.0.0").
		Str("port", cfg.Port).
		Bool("cors", *enableCORS).
		Bool("metrics", *enableMetrics).
		Msg("starting storygraph driver server")

	store, err := openStore(cfg)
	if err != nil {
		log.Error().Err(err).Msg("failed to initialize storage")
		os.Exit(1)
	}
	defer store.Close()

	engineConfig := vm.EngineConfig{
		MaxWaveWidth:       cfg.MaxWaveWidth,
		AutoTraversalBound: cfg.AutoTraversalBound,
		MaxEffectsPerTick:  cfg.MaxEffectsPerTick,
		SnapshotEvery:      cfg.SnapshotEvery,
		PhaseTimeout:       cfg.PhaseTimeout,
	}
	factory := rest.NewStoryLoader(store, engineConfig, nil)

	hub := websocket.NewHub(log)
	go hub.Run()

	var apiKeysList []string
	for _, key := range strings.Split(*apiKeys, ",") {
		key = strings.TrimSpace(key)
		if key != "" {
			apiKeysList = append(apiKeysList, key)
		}
	}
	if len(apiKeysList) > 0 {
		log.Info().Int("count", len(apiKeysList)).Msg("api key authentication enabled")
	}

	serverConfig := rest.ServerConfig{
		EnableCORS:      *enableCORS,
		EnableRateLimit: false,
		RateLimitMax:    100,
		RateLimitWindow: time.Minute,
		APIKeys:         apiKeysList,
	}
	srv := rest.NewServer(store, factory, log, serverConfig).WithBroadcaster(hub)
	if *enableMetrics {
		srv = srv.WithMetrics(monitoring.NewMetricsCollector())
	}

	var wsAuth websocket.SessionAuthenticator = srv.Authenticator()
	if cfg.JWTSecret != "" {
		wsAuth = websocket.NewJWTAuth(cfg.JWTSecret)
	}
	wsHandler := websocket.NewHandler(hub, wsAuth, log)

	mux := http.NewServeMux()
	mux.Handle("/", srv)
	mux.Handle("/ws", wsHandler)

	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Info().Str("address", httpServer.Addr).Msg("server listening")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("server failed")
			os.Exit(1)
		}
	}()

	log.Info().
		Str("graph", "GET /api/v1/stories/{id}/graph").
		Str("cursor", "GET /api/v1/stories/{id}/cursor").
		Str("step", "POST /api/v1/stories/{id}/step").
		Str("run", "POST /api/v1/stories/{id}/run").
		Str("patches", "GET /api/v1/stories/{id}/patches").
		Str("ws", "GET /ws").
		Msg("available endpoints")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
		os.Exit(1)
	}

	log.Info().Msg("server exited gracefully")
}

// openStore picks MemStore or PgStore based on whether a database DSN is
// configured, initializing the schema for Postgres before returning.
func openStore(cfg *config.Config) (storage.PatchStore, error) {
	if cfg.DatabaseDSN == "" {
		return storage.NewMemStore(), nil
	}

	store := storage.NewPgStore(cfg.DatabaseDSN)
	if err := store.InitSchema(context.Background()); err != nil {
		return nil, err
	}
	return store, nil
}
