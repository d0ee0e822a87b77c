package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all environment-driven settings for the server.
type Config struct {
	Port    string
	GinMode string

	// Storage
	DatabaseURL   string
	RedisAddr     string
	RedisPassword string
	RedisDB       int

	// Database connection pool
	DBMaxOpenConns    int
	DBMaxIdleConns    int
	DBConnMaxIdleTime int // minutes
	DBConnMaxLifetime int // minutes

	// Model backends
	LocalLLMURL      string
	LocalLLMAPIKey   string
	LocalLLMModel    string
	VolcanoLLMURL    string
	VolcanoLLMAPIKey string
	VolcanoLLMModel  string

	// Embedding service
	EmbeddingAPIURL string
	EmbeddingAPIKey string
	EmbeddingModel  string

	// Streaming
	SSEHeartbeatInterval time.Duration

	// Tool loop
	MaxToolRounds   int
	ToolLoopBudget  time.Duration
	ToolExecTimeout time.Duration
	SearchAPIKey    string
	SearchAPIURL    string

	// Admission
	ChatConcurrencyPerUser int

	// Request cache
	RequestCacheMaxPerUser          int
	RequestCacheSimilarityThreshold float64
	RequestCacheTTL                 time.Duration

	// Multi-agent sessions
	MaxAgentRounds     int
	SessionBaseTTL     time.Duration
	SessionPerRoundTTL time.Duration
	AgentsConfigPath   string

	// Server
	ServerShutdownTimeout time.Duration

	// CORS
	CORSAllowedOrigins string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from the environment, consulting a .env file
// when present. Missing optional values fall back to defaults; missing
// required values return an error.
func Load() (*Config, error) {
	// Load .env file if it exists. Ignore errors: production relies on
	// real environment variables.
	_ = godotenv.Load(".env")

	cfg := &Config{
		Port:    getEnvOrDefault("PORT", "8080"),
		GinMode: getEnvOrDefault("GIN_MODE", "release"),

		DatabaseURL:   os.Getenv("DATABASE_URL"),
		RedisAddr:     getEnvOrDefault("REDIS_ADDR", "127.0.0.1:6379"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisDB:       getEnvAsInt("REDIS_DB", 0),

		DBMaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 25),
		DBMaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 10),
		DBConnMaxIdleTime: getEnvAsInt("DB_CONN_MAX_IDLE_TIME_MINUTES", 5),
		DBConnMaxLifetime: getEnvAsInt("DB_CONN_MAX_LIFETIME_MINUTES", 60),

		LocalLLMURL:      getEnvOrDefault("LOCAL_LLM_URL", "http://127.0.0.1:11434/v1"),
		LocalLLMAPIKey:   os.Getenv("LOCAL_LLM_API_KEY"),
		LocalLLMModel:    getEnvOrDefault("LOCAL_LLM_MODEL", "qwen3:14b"),
		VolcanoLLMURL:    os.Getenv("VOLCANO_LLM_URL"),
		VolcanoLLMAPIKey: os.Getenv("VOLCANO_LLM_API_KEY"),
		VolcanoLLMModel:  os.Getenv("VOLCANO_LLM_MODEL"),

		EmbeddingAPIURL: os.Getenv("EMBEDDING_API_URL"),
		EmbeddingAPIKey: os.Getenv("EMBEDDING_API_KEY"),
		EmbeddingModel:  getEnvOrDefault("EMBEDDING_MODEL", "text-embedding-v3"),

		SSEHeartbeatInterval: time.Duration(getEnvAsInt("SSE_HEARTBEAT_MS", 15000)) * time.Millisecond,

		MaxToolRounds:   getEnvAsInt("MAX_TOOL_ROUNDS", 5),
		ToolLoopBudget:  time.Duration(getEnvAsInt("TOOL_LOOP_BUDGET_SECONDS", 120)) * time.Second,
		ToolExecTimeout: time.Duration(getEnvAsInt("TOOL_EXEC_TIMEOUT_SECONDS", 30)) * time.Second,
		SearchAPIKey:    os.Getenv("SEARCH_API_KEY"),
		SearchAPIURL:    getEnvOrDefault("SEARCH_API_URL", "https://api.exa.ai/search"),

		ChatConcurrencyPerUser: getEnvAsInt("CHAT_CONCURRENCY_PER_USER", 2),

		RequestCacheMaxPerUser:          getEnvAsInt("REQUEST_CACHE_MAX_PER_USER", 30),
		RequestCacheSimilarityThreshold: getEnvAsFloat("REQUEST_CACHE_SIMILARITY_THRESHOLD", 0.95),
		RequestCacheTTL:                 time.Duration(getEnvAsInt("REQUEST_CACHE_TTL_DAYS", 30)) * 24 * time.Hour,

		MaxAgentRounds:     getEnvAsInt("MAX_AGENT_ROUNDS", 5),
		SessionBaseTTL:     time.Duration(getEnvAsInt("SESSION_BASE_TTL_SECONDS", 180)) * time.Second,
		SessionPerRoundTTL: time.Duration(getEnvAsInt("SESSION_PER_ROUND_TTL_SECONDS", 60)) * time.Second,
		AgentsConfigPath:   getEnvOrDefault("AGENTS_CONFIG_PATH", "agents.yaml"),

		ServerShutdownTimeout: time.Duration(getEnvAsInt("SERVER_SHUTDOWN_TIMEOUT_SECONDS", 30)) * time.Second,

		CORSAllowedOrigins: getEnvOrDefault("CORS_ALLOWED_ORIGINS", "*"),

		LogLevel:  getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat: os.Getenv("LOG_FORMAT"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}

	return cfg, nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}
