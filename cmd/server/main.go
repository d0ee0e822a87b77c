package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/mindwell-ai/conductor/internal/admission"
	"github.com/mindwell-ai/conductor/internal/chat"
	"github.com/mindwell-ai/conductor/internal/config"
	"github.com/mindwell-ai/conductor/internal/embedding"
	"github.com/mindwell-ai/conductor/internal/kv"
	"github.com/mindwell-ai/conductor/internal/llm"
	"github.com/mindwell-ai/conductor/internal/logger"
	"github.com/mindwell-ai/conductor/internal/memory"
	"github.com/mindwell-ai/conductor/internal/metrics"
	"github.com/mindwell-ai/conductor/internal/multiagent"
	"github.com/mindwell-ai/conductor/internal/progress"
	"github.com/mindwell-ai/conductor/internal/reqcache"
	"github.com/mindwell-ai/conductor/internal/session"
	"github.com/mindwell-ai/conductor/internal/store"
	"github.com/mindwell-ai/conductor/internal/tools"
	"github.com/mindwell-ai/conductor/internal/upload"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		return
	}

	log := logger.New(logger.FromConfig(cfg.LogLevel, cfg.LogFormat))
	gin.SetMode(cfg.GinMode)

	repo, err := store.Open(cfg.DatabaseURL, store.PoolConfig{
		MaxOpenConns:    cfg.DBMaxOpenConns,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		ConnMaxIdleTime: time.Duration(cfg.DBConnMaxIdleTime) * time.Minute,
		ConnMaxLifetime: time.Duration(cfg.DBConnMaxLifetime) * time.Minute,
	})
	if err != nil {
		log.Error("failed to initialize database", slog.String("error", err.Error()))
		return
	}
	defer repo.Close()

	rdb := kv.NewClient(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
	defer rdb.Close()

	embedder := embedding.NewHTTPService(cfg.EmbeddingAPIURL, cfg.EmbeddingAPIKey, cfg.EmbeddingModel, log)

	router := llm.NewRouter(
		llm.NewOpenAIClient(llm.ModelTypeLocal, cfg.LocalLLMURL, cfg.LocalLLMAPIKey, cfg.LocalLLMModel, log),
		llm.NewOpenAIClient(llm.ModelTypeVolcano, cfg.VolcanoLLMURL, cfg.VolcanoLLMAPIKey, cfg.VolcanoLLMModel, log),
	)

	m := metrics.New()

	registry := tools.NewRegistry()
	if err := registry.Register(tools.NewWebSearchTool(cfg.SearchAPIURL, cfg.SearchAPIKey, log)); err != nil {
		log.Warn("failed to register search tool", slog.String("error", err.Error()))
	}
	toolDispatcher := tools.NewDispatcher(registry, tools.Options{
		ExecTimeout: cfg.ToolExecTimeout,
		MaxRounds:   cfg.MaxToolRounds,
		WallBudget:  cfg.ToolLoopBudget,
	}, log)
	toolDispatcher.SetExecutionCallback(func(tool, outcome string) {
		m.ToolExecutions.WithLabelValues(tool, outcome).Inc()
	})

	sessions := session.NewStore(rdb, cfg.SessionBaseTTL, cfg.SessionPerRoundTTL, log)
	sessions.SetSavedCallback(m.CheckpointSaves.Inc)
	sessions.SetDroppedCallback(m.CheckpointDrops.Inc)
	defer sessions.Close()

	cache := reqcache.New(rdb, embedder, cfg.RequestCacheTTL, cfg.RequestCacheMaxPerUser, cfg.RequestCacheSimilarityThreshold, log)
	progressStore := progress.NewStore(rdb, 10*time.Minute, log)

	agentsCfg, err := config.LoadAgentsConfig(cfg.AgentsConfigPath)
	if err != nil {
		log.Error("failed to load agents config", slog.String("error", err.Error()))
		return
	}
	orchestrator := multiagent.New(agentsCfg, router, sessions, repo, embedder, cfg.MaxAgentRounds, log)

	adm := admission.NewController(cfg.ChatConcurrencyPerUser, log)
	adm.SetQueueDepthCallback(func(identity string, depth int) {
		m.QueueDepth.WithLabelValues(identity).Set(float64(depth))
	})
	stops := chat.NewStopController()
	uploads := upload.NewManager(5*time.Minute, log)

	mem := memory.NewBuilder(chat.NewHistorySource(repo), memory.DefaultConfig(), log)
	single := chat.NewRunner(router, toolDispatcher, registry, mem, repo, cache, progressStore, stops, cfg.SSEHeartbeatInterval, log)
	chunker := chat.NewChunker(router, repo, stops, cfg.SSEHeartbeatInterval, log)
	resumer := chat.NewResumer(progressStore, repo, cfg.SSEHeartbeatInterval, log)

	dispatcher := chat.NewDispatcher(adm, repo, cache, single, chunker, resumer, orchestrator, uploads, stops, m, cfg.SSEHeartbeatInterval, log)

	engine := gin.New()
	engine.Use(gin.Recovery())
	engine.Use(corsMiddleware(cfg.CORSAllowedOrigins))
	engine.Use(requestIDMiddleware())

	engine.POST("/chat", dispatcher.Handler())
	engine.OPTIONS("/chat", chat.PreflightHandler())
	engine.POST("/chat/stop", stops.Handler())
	engine.POST("/upload/chunk", uploads.Handler())
	engine.GET("/metrics", gin.WrapH(m.Handler()))
	engine.GET("/health", func(c *gin.Context) {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
		defer cancel()

		status := http.StatusOK
		health := gin.H{"status": "ok"}
		if err := repo.DB().PingContext(ctx); err != nil {
			status = http.StatusServiceUnavailable
			health["database"] = err.Error()
		}
		if err := rdb.Ping(ctx).Err(); err != nil {
			status = http.StatusServiceUnavailable
			health["redis"] = err.Error()
		}
		c.JSON(status, health)
	})

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: engine,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("server listening", slog.String("port", cfg.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server failed", slog.String("error", err.Error()))
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}
}

func corsMiddleware(allowedOrigins string) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", allowedOrigins)
		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Content-Length, Accept-Encoding, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-Id")
		if requestID == "" {
			requestID = uuid.New().String()
		}
		c.Header("X-Request-Id", requestID)
		c.Request = c.Request.WithContext(logger.WithRequestID(c.Request.Context(), requestID))
		c.Next()
	}
}
