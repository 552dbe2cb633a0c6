// Studia - interview study assistant server
package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ashureev/studia/internal/agent"
	"github.com/ashureev/studia/internal/api"
	"github.com/ashureev/studia/internal/config"
	"github.com/ashureev/studia/internal/grpchealth"
	"github.com/ashureev/studia/internal/identity"
	"github.com/ashureev/studia/internal/llm"
	"github.com/ashureev/studia/internal/middleware"
	"github.com/ashureev/studia/internal/profile"
	"github.com/ashureev/studia/internal/research"
	"github.com/ashureev/studia/internal/session"
	"github.com/ashureev/studia/internal/store"
	"github.com/ashureev/studia/internal/telemetry"
	"github.com/ashureev/studia/internal/tools"
	"github.com/ashureev/studia/internal/tracker"
	"github.com/go-chi/chi/v5"
	chiMiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
)

const sessionEvictionInterval = 5 * time.Minute

func main() {
	configPath := pflag.String("config", os.Getenv("STUDIA_CONFIG"), "path to a TOML configuration file")
	envFile := pflag.String("env-file", ".env", "dotenv file loaded before the configuration")
	port := pflag.String("port", "", "HTTP port, overrides the configuration")
	pflag.Parse()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := godotenv.Load(*envFile); err != nil {
		slog.Info("No .env file found, using environment variables", "path", *envFile)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *port != "" {
		cfg.Port = *port
	}

	slog.Info("Starting server", "port", cfg.Port, "dev", cfg.IsDevelopment(), "model", cfg.Model.Name, "provider", cfg.Model.Provider)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		slog.Error("Failed to initialize telemetry", "error", err)
		os.Exit(1)
	}

	// Initialize dependencies.
	repo, err := store.NewSQLite(cfg.DBPath)
	if err != nil {
		slog.Error("Failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer func() {
		if closeErr := repo.Close(); closeErr != nil {
			slog.Error("Failed to close repository", "error", closeErr)
		}
	}()

	if err := repo.Ping(ctx); err != nil {
		slog.Error("Database health check failed", "error", err)
		os.Exit(1)
	}
	slog.Info("Database connected", "path", cfg.DBPath)

	backend, err := llm.NewBackend(cfg.Model)
	if err != nil {
		slog.Error("Failed to initialize model backend", "error", err)
		os.Exit(1)
	}
	gateway := llm.NewGateway(backend, llm.GatewayConfig{
		ChatTimeout:   cfg.Model.ChatTimeout,
		StreamTimeout: cfg.Model.StreamTimeout,
	}, logger)
	if err := gateway.Ping(ctx); err != nil {
		slog.Warn("Model backend unreachable, chat will fail until it recovers", "backend", gateway.Backend(), "error", err)
	}

	profiles := profile.NewSource(cfg.ProfilePath)
	if !profiles.Exists() {
		slog.Warn("Learner profile not found, chat is unavailable until it is created", "path", profiles.Path())
	}

	curriculum, err := tracker.LoadCurriculum(cfg.CurriculumPath)
	if err != nil {
		slog.Error("Failed to load curriculum", "path", cfg.CurriculumPath, "error", err)
		os.Exit(1)
	}
	slog.Info("Curriculum loaded", "topics", len(curriculum))

	progress := tracker.New(repo, curriculum, profiles, logger)
	researcher := research.NewService(
		research.NewDuckDuckGo(cfg.Research.SearchURL, cfg.Research.Timeout),
		gateway,
		repo,
		profiles,
		curriculum,
		research.Config{
			MaxSources: cfg.Research.MaxSources,
			CacheTTL:   time.Duration(cfg.Research.CacheDays) * 24 * time.Hour,
		},
		logger,
	)

	// Initialize services.
	sessions := session.NewStore()
	window := session.NewWindow(sessions, session.WindowConfig{
		Threshold: cfg.Agent.MaxHistoryExchanges,
		Tail:      cfg.Agent.HistoryTail,
		Mode:      cfg.Agent.SummaryMode,
	}, logger)

	registry := tools.NewRegistry()
	if err := tools.RegisterBuiltins(registry, tools.Builtins{
		Research: researcher,
		Tracker:  progress,
		Sessions: sessions,
	}); err != nil {
		slog.Error("Failed to register tools", "error", err)
		os.Exit(1)
	}
	slog.Info("Tools registered", "tools", registry.Names())

	chatService := agent.NewService(agent.Dependencies{
		Sessions:  sessions,
		Window:    window,
		Model:     gateway,
		Tools:     tools.NewDispatcher(registry, logger),
		Profile:   profiles,
		Snapshots: repo,
	}, agent.ServiceConfig{
		AgentMode: cfg.Agent.Enabled,
		Loop: agent.LoopConfig{
			MaxTurns:  cfg.Agent.MaxTurns,
			ChunkSize: cfg.Agent.TokenChunkSize,
		},
		PersistSessions: cfg.Agent.LogSessions,
	}, logger)

	conversationLogger, err := agent.NewConversationLogger(agent.ConversationLogConfig{
		Enabled:       cfg.ConversationLog.Enabled,
		Dir:           cfg.ConversationLog.Dir,
		GlobalEnabled: cfg.ConversationLog.GlobalEnabled,
		GlobalPath:    cfg.ConversationLog.GlobalPath,
		QueueSize:     cfg.ConversationLog.QueueSize,
	}, logger)
	if err != nil {
		slog.Error("Failed to initialize conversation logger", "error", err)
		os.Exit(1)
	}

	// Initialize handlers.
	agentHandler := agent.NewHandler(chatService, conversationLogger, agent.HandlerConfig{
		RateLimitRequests:  cfg.RateLimit.RequestsPerWindow,
		RateLimitWindow:    cfg.RateLimit.WindowDuration,
		MaxRequestBodySize: cfg.SSE.MaxRequestBodySize,
		AllowedOrigins:     cfg.AllowedOrigins(),
	})
	defer agentHandler.Close()

	studyHandler := api.NewHandler(profiles, progress, researcher)
	healthHandler := api.NewHealthHandler(repo, gateway, 5*time.Second)

	// Setup router.
	r := chi.NewRouter()

	// Global middleware.
	r.Use(chiMiddleware.RequestID)
	r.Use(chiMiddleware.RealIP)
	r.Use(chiMiddleware.Logger)
	r.Use(chiMiddleware.Recoverer)
	r.Use(chiMiddleware.Heartbeat("/health"))
	r.Use(middleware.Telemetry)
	r.Use(middleware.CORS(cfg.AllowedOrigins()))
	r.Use(identity.Middleware(cfg.IsDevelopment()))

	// Public routes.
	healthHandler.RegisterHealth(r)
	studyHandler.RegisterRoutes(r)
	agentHandler.RegisterRoutes(r)

	// Create server.
	// Note: SSE and WebSocket streams require long-lived responses (no WriteTimeout).
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,                 // 0 = no timeout for streaming
		IdleTimeout:  120 * time.Second, // 2 minutes for idle connections
	}

	// Start background workers.
	sessions.StartEvictionWorker(ctx, sessionEvictionInterval, cfg.SessionTTL, logger)
	store.StartSnapshotCleanupWorker(ctx, repo, cfg.SessionTTL)
	slog.Info("Session workers started", "session_ttl", cfg.SessionTTL)

	if cfg.GRPCHealthAddr != "" {
		healthServer := grpchealth.New(gateway, grpchealth.DefaultConfig(), logger)
		go func() {
			if err := healthServer.ListenAndServe(ctx, cfg.GRPCHealthAddr); err != nil {
				slog.Error("gRPC health server failed", "addr", cfg.GRPCHealthAddr, "error", err)
			}
		}()
	}

	// Start server.
	go func() {
		slog.Info("Server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server failed", "error", err)
			os.Exit(1)
		}
	}()

	// Wait for shutdown signal.
	<-ctx.Done()
	stop()

	slog.Info("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}
	if err := shutdownTelemetry(shutdownCtx); err != nil {
		slog.Error("Telemetry shutdown failed", "error", err)
	}

	slog.Info("Server stopped successfully")
}
