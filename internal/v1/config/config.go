package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds validated environment configuration
type Config struct {
	// Required variables
	Port      string
	JWTSecret string

	// Game options
	MaxRooms              int
	DiscussionSeconds     int
	VotingSeconds         int
	RoundsToWin           int
	StrictSurvival        bool
	MaxHumansCap          int
	TotalPlayersCap       int
	MinAgentSpacing       time.Duration
	AgentIdleTrigger      time.Duration
	ProbeTimeout          time.Duration
	GenerateTimeout       time.Duration
	WorkerPoolSize        int
	SnapshotMessageWindow int
	BusBufferSize         int
	MaxUtteranceChars     int
	StatsDir              string

	// LLM provider selection
	LLMProvider string
	LLMBaseURL  string
	LLMModel    string
	LLMAPIKey   string

	// Optional variables with defaults
	GoEnv           string
	LogLevel        string
	DevelopmentMode bool
	AllowedOrigins  string
	RedisEnabled    bool
	RedisAddr       string
	RedisPassword   string
	OTLPEndpoint    string

	// Rate Limits
	RateLimitAPIGlobal   string
	RateLimitAPIPublic   string
	RateLimitAPIRooms    string
	RateLimitAPIMessages string
	RateLimitWsIP        string
}

// ValidateEnv validates all required environment variables and returns a Config object.
// Returns an error listing every violation if any required variable is missing or invalid.
func ValidateEnv() (*Config, error) {
	cfg := &Config{}
	var errs []string

	cfg.Port = os.Getenv("PORT")
	if cfg.Port == "" {
		errs = append(errs, "PORT is required")
	} else {
		port, err := strconv.Atoi(cfg.Port)
		if err != nil || port < 1 || port > 65535 {
			errs = append(errs, fmt.Sprintf("PORT must be a valid port number between 1 and 65535 (got '%s')", cfg.Port))
		}
	}

	cfg.JWTSecret = os.Getenv("JWT_SECRET")
	if cfg.JWTSecret == "" {
		errs = append(errs, "JWT_SECRET is required")
	} else if len(cfg.JWTSecret) < 32 {
		errs = append(errs, fmt.Sprintf("JWT_SECRET must be at least 32 characters (got %d)", len(cfg.JWTSecret)))
	}

	cfg.MaxRooms = intEnv(&errs, "MAX_ROOMS", 1024, 1, 1<<20)
	cfg.DiscussionSeconds = intEnv(&errs, "DISCUSSION_SECONDS", 180, 5, 3600)
	cfg.VotingSeconds = intEnv(&errs, "VOTING_SECONDS", 60, 5, 3600)
	cfg.RoundsToWin = intEnv(&errs, "ROUNDS_TO_WIN", 1, 1, 100)
	cfg.StrictSurvival = os.Getenv("STRICT_SURVIVAL") == "true"
	cfg.MaxHumansCap = intEnv(&errs, "MAX_HUMANS_CAP", 4, 1, 4)
	cfg.TotalPlayersCap = intEnv(&errs, "TOTAL_PLAYERS_CAP", 12, 2, 12)
	cfg.MinAgentSpacing = time.Duration(intEnv(&errs, "MIN_AGENT_SPACING_SECONDS", 4, 0, 600)) * time.Second
	cfg.AgentIdleTrigger = time.Duration(intEnv(&errs, "AGENT_IDLE_TRIGGER_SECONDS", 25, 5, 600)) * time.Second
	cfg.ProbeTimeout = time.Duration(intEnv(&errs, "PROBE_TIMEOUT_MS", 5000, 100, 120000)) * time.Millisecond
	cfg.GenerateTimeout = time.Duration(intEnv(&errs, "GENERATE_TIMEOUT_MS", 15000, 100, 300000)) * time.Millisecond
	cfg.WorkerPoolSize = intEnv(&errs, "WORKER_POOL_SIZE", 10, 1, 256)
	cfg.SnapshotMessageWindow = intEnv(&errs, "SNAPSHOT_MESSAGE_WINDOW", 50, 1, 1000)
	cfg.BusBufferSize = intEnv(&errs, "BUS_BUFFER_SIZE", 256, 16, 65536)
	cfg.MaxUtteranceChars = intEnv(&errs, "MAX_UTTERANCE_CHARS", 280, 40, 2000)

	cfg.StatsDir = os.Getenv("STATS_DIR")
	if cfg.StatsDir == "" {
		cfg.StatsDir = "./stats"
	}

	// LLM provider selection. The engine degrades to silent agents without a key,
	// so the key is optional in development mode only.
	cfg.LLMProvider = getEnvOrDefault("LLM_PROVIDER", "openai")
	cfg.LLMBaseURL = getEnvOrDefault("LLM_BASE_URL", "https://api.openai.com/v1")
	cfg.LLMModel = getEnvOrDefault("LLM_MODEL", "gpt-4o-mini")
	cfg.LLMAPIKey = os.Getenv("LLM_API_KEY")
	cfg.DevelopmentMode = os.Getenv("DEVELOPMENT_MODE") == "true"
	if cfg.LLMAPIKey == "" && !cfg.DevelopmentMode {
		errs = append(errs, "LLM_API_KEY is required unless DEVELOPMENT_MODE=true")
	}

	cfg.GoEnv = getEnvOrDefault("GO_ENV", "production")
	cfg.LogLevel = getEnvOrDefault("LOG_LEVEL", "info")
	cfg.AllowedOrigins = os.Getenv("ALLOWED_ORIGINS")
	cfg.OTLPEndpoint = os.Getenv("OTLP_ENDPOINT")

	cfg.RedisEnabled = os.Getenv("REDIS_ENABLED") == "true"
	if cfg.RedisEnabled {
		cfg.RedisAddr = os.Getenv("REDIS_ADDR")
		if cfg.RedisAddr == "" {
			cfg.RedisAddr = "localhost:6379"
			slog.Warn("REDIS_ADDR not set, using default", "addr", cfg.RedisAddr)
		} else if !isValidHostPort(cfg.RedisAddr) {
			errs = append(errs, fmt.Sprintf("REDIS_ADDR must be in format 'host:port' (got '%s')", cfg.RedisAddr))
		}
		cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	}

	// Rate Limits (Defaults: M = Minute, H = Hour)
	cfg.RateLimitAPIGlobal = getEnvOrDefault("RATE_LIMIT_API_GLOBAL", "1000-M")
	cfg.RateLimitAPIPublic = getEnvOrDefault("RATE_LIMIT_API_PUBLIC", "100-M")
	cfg.RateLimitAPIRooms = getEnvOrDefault("RATE_LIMIT_API_ROOMS", "60-M")
	cfg.RateLimitAPIMessages = getEnvOrDefault("RATE_LIMIT_API_MESSAGES", "500-M")
	cfg.RateLimitWsIP = getEnvOrDefault("RATE_LIMIT_WS_IP", "100-M")

	if len(errs) > 0 {
		return nil, fmt.Errorf("environment validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	logValidatedConfig(cfg)

	return cfg, nil
}

// intEnv parses an integer environment variable, recording a validation error when
// the value is present but not an integer within [min, max].
func intEnv(errs *[]string, key string, def, min, max int) int {
	raw, exists := os.LookupEnv(key)
	if !exists || raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < min || v > max {
		*errs = append(*errs, fmt.Sprintf("%s must be an integer in [%d, %d] (got '%s')", key, min, max, raw))
		return def
	}
	return v
}

// isValidHostPort checks if a string is in the format "host:port"
func isValidHostPort(addr string) bool {
	parts := strings.Split(addr, ":")
	if len(parts) != 2 {
		return false
	}

	port, err := strconv.Atoi(parts[1])
	if err != nil || port < 1 || port > 65535 {
		return false
	}

	return parts[0] != ""
}

// logValidatedConfig logs the validated configuration with secrets redacted
func logValidatedConfig(cfg *Config) {
	slog.Info("Environment configuration validated")
	slog.Info("Configuration",
		"port", cfg.Port,
		"max_rooms", cfg.MaxRooms,
		"discussion_seconds", cfg.DiscussionSeconds,
		"voting_seconds", cfg.VotingSeconds,
		"rounds_to_win", cfg.RoundsToWin,
		"worker_pool_size", cfg.WorkerPoolSize,
		"llm_provider", cfg.LLMProvider,
		"llm_model", cfg.LLMModel,
		"llm_api_key", redactSecret(cfg.LLMAPIKey),
		"redis_enabled", cfg.RedisEnabled,
		"go_env", cfg.GoEnv,
		"development_mode", cfg.DevelopmentMode,
	)
}

// getEnvOrDefault returns the value of the environment variable or a default value if not set
func getEnvOrDefault(key, defaultValue string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return defaultValue
}

// redactSecret redacts a secret by showing only the first 8 characters
func redactSecret(secret string) string {
	if len(secret) <= 8 {
		return "***"
	}
	return secret[:8] + "***"
}
