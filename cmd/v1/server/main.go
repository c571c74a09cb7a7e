package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"

	"github.com/turingden/find-the-ai/internal/v1/agent"
	"github.com/turingden/find-the-ai/internal/v1/auth"
	"github.com/turingden/find-the-ai/internal/v1/bus"
	"github.com/turingden/find-the-ai/internal/v1/config"
	"github.com/turingden/find-the-ai/internal/v1/game"
	"github.com/turingden/find-the-ai/internal/v1/health"
	"github.com/turingden/find-the-ai/internal/v1/llm"
	"github.com/turingden/find-the-ai/internal/v1/logging"
	"github.com/turingden/find-the-ai/internal/v1/middleware"
	"github.com/turingden/find-the-ai/internal/v1/ratelimit"
	"github.com/turingden/find-the-ai/internal/v1/stats"
	"github.com/turingden/find-the-ai/internal/v1/tracing"
	"github.com/turingden/find-the-ai/internal/v1/transport"
	"github.com/turingden/find-the-ai/internal/v1/types"
)

func main() {
	// Load .env for local development. Try multiple paths to handle different
	// ways of running the app.
	envPaths := []string{".env", "../../../.env", "../../.env"}
	var envLoaded bool
	for _, path := range envPaths {
		if err := godotenv.Load(path); err == nil {
			slog.Info("Loaded environment from", "path", path)
			envLoaded = true
			break
		}
	}
	if !envLoaded {
		slog.Warn("No .env file found in any expected location, relying on environment variables")
	}

	cfg, err := config.ValidateEnv()
	if err != nil {
		slog.Error("Environment validation failed", "error", err)
		os.Exit(1)
	}

	if err := logging.Initialize(cfg.DevelopmentMode); err != nil {
		slog.Error("Failed to initialize logger", "error", err)
		os.Exit(1)
	}
	if cfg.DevelopmentMode {
		slog.Info("Running in DEVELOPMENT MODE")
	}

	// --- Tracing (optional) ---
	if cfg.OTLPEndpoint != "" {
		tp, err := tracing.InitTracer(context.Background(), "find-the-ai", cfg.OTLPEndpoint)
		if err != nil {
			slog.Error("Failed to initialize tracing", "error", err)
			os.Exit(1)
		}
		defer func() {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = tp.Shutdown(ctx)
		}()
		slog.Info("Tracing initialized", "endpoint", cfg.OTLPEndpoint)
	}

	// --- Redis event mirror (optional) ---
	var mirror *bus.Mirror
	if cfg.RedisEnabled {
		mirror, err = bus.NewMirror(cfg.RedisAddr, cfg.RedisPassword)
		if err != nil {
			slog.Error("Failed to connect to Redis, running in single-instance mode", "error", err)
			mirror = nil
		} else {
			slog.Info("Redis event mirror initialized", "addr", cfg.RedisAddr)
		}
	} else {
		slog.Info("Running in single-instance mode (Redis disabled)")
	}

	// --- LLM completer ---
	var completer types.Completer
	if cfg.LLMAPIKey != "" {
		completer = llm.NewClient(llm.Config{
			BaseURL: cfg.LLMBaseURL,
			APIKey:  cfg.LLMAPIKey,
			Model:   cfg.LLMModel,
		})
		slog.Info("LLM client initialized", "provider", cfg.LLMProvider, "model", cfg.LLMModel)
	} else {
		completer = llm.Silent{}
		slog.Warn("No LLM API key configured - agents will stay silent")
	}

	// --- Stats writer ---
	statsWriter, err := stats.NewWriter(cfg.StatsDir)
	if err != nil {
		slog.Error("Failed to create stats writer", "error", err)
		os.Exit(1)
	}

	// --- Engine ---
	engine := game.NewEngine(game.EngineConfig{
		Rooms: game.Options{
			DiscussionTimeout: time.Duration(cfg.DiscussionSeconds) * time.Second,
			VotingTimeout:     time.Duration(cfg.VotingSeconds) * time.Second,
			RoundsToWin:       cfg.RoundsToWin,
			StrictSurvival:    cfg.StrictSurvival,
			MinAgentSpacing:   cfg.MinAgentSpacing,
			IdleTrigger:       cfg.AgentIdleTrigger,
			ProbeTimeout:      cfg.ProbeTimeout,
			GenerateTimeout:   cfg.GenerateTimeout,
			SnapshotWindow:    cfg.SnapshotMessageWindow,
			BusBuffer:         cfg.BusBufferSize,
			MaxUtteranceChars: cfg.MaxUtteranceChars,
		},
		MaxRooms:        cfg.MaxRooms,
		MaxHumansCap:    cfg.MaxHumansCap,
		TotalPlayersCap: cfg.TotalPlayersCap,
		Workers:         cfg.WorkerPoolSize,
		Completer:       completer,
		Agent: agent.Options{
			MinSpacing:        cfg.MinAgentSpacing,
			MaxUtteranceChars: cfg.MaxUtteranceChars,
			ProbeMaxTokens:    8,
			SpeakMaxTokens:    120,
		},
		Stats:  statsWriter,
		Mirror: sinkOrNil(mirror),
	})

	// --- Sessions and rate limits ---
	sessions := auth.NewSessions(cfg.JWTSecret, 2*time.Hour)
	limiter, err := ratelimit.NewRateLimiter(cfg, redisOrNil(mirror))
	if err != nil {
		slog.Error("Failed to create rate limiter", "error", err)
		os.Exit(1)
	}

	// --- Router ---
	if !cfg.DevelopmentMode {
		gin.SetMode(gin.ReleaseMode)
	}
	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(otelgin.Middleware("find-the-ai"))

	corsConfig := cors.DefaultConfig()
	if cfg.AllowedOrigins != "" {
		corsConfig.AllowOrigins = splitOrigins(cfg.AllowedOrigins)
	} else {
		corsConfig.AllowOrigins = []string{"http://localhost:3000"}
	}
	corsConfig.AllowHeaders = append(corsConfig.AllowHeaders, "Authorization", middleware.HeaderXCorrelationID)
	router.Use(cors.New(corsConfig))
	router.Use(limiter.GlobalMiddleware())

	server := transport.NewServer(engine, sessions, limiter, cfg)
	server.Register(router)

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	healthHandler := health.NewHandler(mirror, cfg.StatsDir)
	router.GET("/health/live", healthHandler.Liveness)
	router.GET("/health/ready", healthHandler.Readiness)

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: router,
	}

	// --- Graceful shutdown ---
	go func() {
		slog.Info("API server starting", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("Failed to run server", "error", err)
			syscall.Kill(os.Getpid(), syscall.SIGTERM)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	slog.Info("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Terminate rooms first so every subscriber sees the terminal event before
	// the listener goes away.
	engine.Shutdown(ctx)

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "error", err)
	}

	if mirror != nil {
		if err := mirror.Close(); err != nil {
			slog.Error("Failed to close Redis connection", "error", err)
		} else {
			slog.Info("Redis connection closed")
		}
	}

	slog.Info("Server exiting")
}

// sinkOrNil avoids handing the engine a typed nil interface.
func sinkOrNil(m *bus.Mirror) bus.Sink {
	if m == nil {
		return nil
	}
	return m
}

func redisOrNil(m *bus.Mirror) *redis.Client {
	if m == nil {
		return nil
	}
	return m.Client()
}

func splitOrigins(raw string) []string {
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
