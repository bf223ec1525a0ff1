package main

import (
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/websocket/v2"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/voicearena/backend/internal/agents"
	"github.com/voicearena/backend/internal/api/handlers"
	rediscache "github.com/voicearena/backend/internal/cache/redis"
	"github.com/voicearena/backend/internal/comparison"
	"github.com/voicearena/backend/internal/llm"
	"github.com/voicearena/backend/internal/metrics"
	"github.com/voicearena/backend/internal/middleware/ratelimit"
	"github.com/voicearena/backend/internal/middleware/security"
	"github.com/voicearena/backend/internal/middleware/validation"
	"github.com/voicearena/backend/internal/simulation"
	"github.com/voicearena/backend/internal/storage/sqlite"
	"github.com/voicearena/backend/pkg/config"
	appLogger "github.com/voicearena/backend/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath)
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting VoiceArena API Server")

	sqliteClient, err := sqlite.NewClient(cfg.SQLite.Path)
	if err != nil {
		appLogger.Fatal("Failed to create SQLite client", zap.Error(err))
	}
	defer sqliteClient.Close()

	err = sqliteClient.InitSchema()
	if err != nil {
		appLogger.Fatal("Failed to initialize schema", zap.Error(err))
	}

	var configCache agents.ConfigCache
	if cfg.Redis.Enabled {
		redisClient, err := rediscache.NewClient(cfg.Redis)
		if err != nil {
			appLogger.Fatal("Failed to create Redis client", zap.Error(err))
		}
		defer redisClient.Close()
		configCache = redisClient
	} else {
		appLogger.Info("Redis disabled, agent configs fetched on every comparison")
	}

	fetcher := agents.NewFetcher(
		cfg.Platform.BaseURL,
		cfg.Platform.APIKey,
		cfg.Platform.TimeoutSec,
		configCache,
	)

	llmClient := llm.NewClient(cfg.LLM.APIKey, cfg.LLM.TimeoutSec)
	conversations := llm.NewConversationService(llmClient, cfg.LLM)

	simulator := simulation.NewSimulator(
		conversations,
		conversations,
		simulation.NewEvaluator(conversations),
		conversations,
		conversations,
		cfg.Comparison.MaxConversationTurns,
		cfg.Comparison.ConversationTimeoutSec,
	)

	orchestrator := comparison.NewOrchestrator(cfg.Comparison, fetcher, simulator, sqliteClient)

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "Origin, Content-Type, Accept, Authorization, X-Client-ID",
		AllowMethods: "GET, POST, PUT, DELETE, OPTIONS",
	}))
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		IsDevelopment: cfg.Logging.Level == "debug",
	}))
	app.Use(httpMetrics())

	limiter := ratelimit.New(ratelimit.Config{MaxRequestsPerMinute: 120})
	defer limiter.Stop()
	app.Use(limiter.Middleware())

	app.Use(validation.Middleware(validation.Config{
		MaxSimulations: cfg.Comparison.NumSimulations * 4,
	}))

	comparisonHandler := handlers.NewComparisonHandler(orchestrator, sqliteClient)
	agentsHandler := handlers.NewAgentsHandler(fetcher)
	wsHandler := handlers.NewWebSocketHandler(orchestrator)

	api := app.Group("/api/v1")

	api.Post("/comparisons", comparisonHandler.CreateComparison)
	api.Get("/comparisons", comparisonHandler.ListComparisons)
	api.Get("/comparisons/:id", comparisonHandler.GetComparison)
	api.Post("/comparisons/:id/execute", comparisonHandler.ExecuteComparison)
	api.Post("/comparisons/:id/rerun", comparisonHandler.RerunComparison)
	api.Post("/comparisons/:id/cancel", comparisonHandler.CancelComparison)
	api.Get("/comparisons/:id/status", comparisonHandler.GetStatus)
	api.Get("/comparisons/:id/results", comparisonHandler.GetResults)
	api.Get("/comparisons/:id/runs", comparisonHandler.ListRuns)
	api.Get("/comparisons/:id/runs/:runId", comparisonHandler.GetRun)
	api.Get("/comparisons/:id/transcripts", comparisonHandler.DownloadTranscripts)

	api.Get("/agents/:id", agentsHandler.GetAgentConfig)
	api.Get("/agents/:id/variables", agentsHandler.GetAgentVariables)
	api.Post("/variables/detect", agentsHandler.DetectVariables)
	api.Post("/scenario/validate", agentsHandler.ValidateScenario)
	api.Get("/scenario/languages", agentsHandler.ListLanguages)

	api.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "healthy",
			"time":   time.Now().Unix(),
		})
	})

	api.Get("/ready", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ready",
		})
	})

	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/comparisons/:id", websocket.New(wsHandler.HandleStatusStream))

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := app.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	app.Shutdown()
	appLogger.Info("Server stopped")
}

// httpMetrics labels by route pattern rather than raw path so IDs do not
// explode label cardinality.
func httpMetrics() fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		path := c.Route().Path
		if path == "" {
			path = c.Path()
		}
		method := c.Method()

		metrics.HTTPRequestsTotal.WithLabelValues(method, path, strconv.Itoa(c.Response().StatusCode())).Inc()
		metrics.HTTPRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())

		return err
	}
}
