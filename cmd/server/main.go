package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"chatrelay-backend/internal/config"
	"chatrelay-backend/internal/database"
	"chatrelay-backend/internal/handlers"
	"chatrelay-backend/internal/repository"
	"chatrelay-backend/internal/router"
	"chatrelay-backend/internal/services"
	"chatrelay-backend/internal/telemetry"
	"chatrelay-backend/internal/websocket"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
	log.Info().Msg("🚀 Starting Chatrelay Backend...")

	// ──── Step 1: Load Environment Variables ────
	cfg := config.Load()
	log.Info().Msg("✓ Environment variables loaded")

	// ──── Step 2: Initialize Telemetry ────
	ctx := context.Background()
	shutdownTracing, err := telemetry.Setup(ctx, cfg.OTelServiceName, cfg.OTelOTLPEndpoint, cfg.Env)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ Telemetry initialization failed")
	}
	if cfg.OTelOTLPEndpoint != "" {
		log.Info().Str("endpoint", cfg.OTelOTLPEndpoint).Msg("✓ Tracing enabled")
	}

	// ──── Step 3: Initialize PostgreSQL Connection Pool ────
	pool, err := database.NewPostgresPool(cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("✗ PostgreSQL connection failed")
	}
	defer pool.Close()
	log.Info().Msg("✓ PostgreSQL connected")

	// ──── Step 4: Run Database Migrations ────
	if err := database.RunMigrations(pool, "migrations"); err != nil {
		log.Fatal().Err(err).Msg("✗ Database migration failed")
	}
	log.Info().Msg("✓ Database migrations applied")

	// ──── Step 5: Initialize Redis (optional) ────
	var redisClients *database.RedisClients
	if cfg.RedisURL != "" {
		redisClients, err = database.NewRedisClients(cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("✗ Redis connection failed")
		}
		defer redisClients.Close()
		log.Info().Msg("✓ Redis connected")
	} else {
		log.Info().Msg("• Redis not configured, using in-process session locks")
	}

	// ──── Initialize Repositories ────
	sessionRepo := repository.NewSessionRepo(pool)

	// ──── Initialize Services ────
	openRouterService := services.NewOpenRouterService(
		cfg.OpenRouterAPIKey,
		cfg.OpenRouterBaseURL,
		cfg.OpenRouterDefaultModel,
		time.Duration(cfg.OpenRouterTimeoutSecs)*time.Second,
		cfg.OpenRouterConcurrentReqs,
	)
	log.Info().Str("model", cfg.OpenRouterDefaultModel).Msg("✓ OpenRouter client initialized")

	var locker services.SessionLocker
	var wsHub *websocket.Hub
	if redisClients != nil {
		locker = services.NewRedisLocker(redisClients.Locks)
		wsHub = websocket.NewHub(redisClients.PubSub)
	} else {
		locker = services.NewMemoryLocker()
		wsHub = websocket.NewHub(nil)
	}

	hubCtx, stopHub := context.WithCancel(ctx)
	wsHub.Start(hubCtx)
	log.Info().Msg("✓ WebSocket hub started")

	chatService := services.NewChatService(sessionRepo, openRouterService, locker, wsHub)

	// ──── Initialize Handlers ────
	chatHandler := handlers.NewChatHandler(sessionRepo, chatService)

	// ──── Start HTTP Server ────
	r := router.New(chatHandler, wsHub, cfg.FrontendURL)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%s", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 90 * time.Second, // upstream completions can take tens of seconds
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("Shutting down...")
		stopHub()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
		shutdownTracing(shutdownCtx)
	}()

	log.Info().Msgf("✓ Chatrelay Backend ready on http://localhost:%s", cfg.Port)
	log.Info().Msgf("  API: http://localhost:%s/api/v1/chat", cfg.Port)
	log.Info().Msgf("  WS:  ws://localhost:%s/api/v1/ws", cfg.Port)

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("Server error")
	}
}
