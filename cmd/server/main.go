package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/deckforge/api/internal/archive"
	"github.com/deckforge/api/internal/client"
	"github.com/deckforge/api/internal/config"
	"github.com/deckforge/api/internal/events"
	"github.com/deckforge/api/internal/handler"
	"github.com/deckforge/api/internal/middleware"
	"github.com/deckforge/api/internal/model"
	"github.com/deckforge/api/internal/pipeline"
	"github.com/deckforge/api/internal/ratelimit"
	"github.com/deckforge/api/internal/reaper"
	"github.com/deckforge/api/internal/service"
	ws "github.com/deckforge/api/internal/websocket"
	"github.com/deckforge/api/internal/worker"
	"github.com/deckforge/api/pkg/logger"
)

// @title          DeckForge API
// @version        1.0
// @description    Asynchronous presentation deck generation.
// @BasePath       /
// @securityDefinitions.apikey BearerAuth
// @in             header
// @name           Authorization
func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	log, err := logger.Init(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		FilePath:   cfg.Log.FilePath,
		MaxSize:    cfg.Log.MaxSizeMB,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAgeDays,
		Compress:   true,
	})
	if err != nil {
		slog.Error("failed to init logger", "error", err)
		os.Exit(1)
	}

	ctx := context.Background()

	// Redis holds live jobs, rate limits and the task queue
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Warn("redis not available", "error", err)
	}

	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	reasoner, reasonerName, closeReasoner := newReasoner(ctx, cfg, log)
	defer closeReasoner()

	var images pipeline.ImageGenerator = client.MockImageGenerator{}
	imageClient := client.NewImageClient(&cfg.Image)
	if imageClient.IsConfigured() {
		images = imageClient
	} else {
		log.Info("image service not configured, using mock images")
	}

	var videos pipeline.VideoAnimator = client.MockVideoAnimator{}
	videoClient := client.NewVideoClient(&cfg.Video)
	if videoClient.IsConfigured() {
		videos = videoClient
	} else {
		log.Info("video service not configured, using mock clips")
	}

	// R2 is optional; without it images are returned as data URLs
	var assets pipeline.AssetStore = pipeline.InlineAssetStore{}
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err := client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("r2 client not initialized", "error", err)
		} else {
			assets = client.NewStorageAssetStore(r2Client)
		}
	}

	var (
		archiver pipeline.Archiver
		finder   service.JobFinder
		db       *archive.Store
	)
	if cfg.Database.DSN != "" {
		db, err = archive.Open(cfg.Database.DSN)
		if err != nil {
			log.Warn("archive database not available", "error", err)
		} else {
			archiver, finder = db, db
		}
	}

	hub := ws.NewHub()
	go hub.Run()
	notifiers := pipeline.Notifiers{hub}

	var nc *nats.Conn
	if cfg.NATS.URL != "" {
		nc, err = events.Connect(cfg.NATS.URL)
		if err != nil {
			log.Warn("nats not available, job events disabled", "error", err)
		} else {
			notifiers = append(notifiers, events.NewPublisher(nc, cfg.NATS.SubjectPrefix))
		}
	}

	store := service.NewRedisJobStore(redisClient)
	deckService := service.NewDeckService(store, asynqClient, finder, cfg.Pipeline)

	orchestrator := pipeline.NewOrchestrator(pipeline.Deps{
		Store:    store,
		Reasoner: reasoner,
		Images:   images,
		Videos:   videos,
		Assets:   assets,
		Notifier: notifiers,
		Archiver: archiver,
	}, pipeline.ConfigFrom(cfg.Pipeline))

	var staleReaper *reaper.Reaper
	if cfg.Reaper.Enabled {
		staleReaper = reaper.New(store, notifiers, archiver, cfg.Reaper.Interval, cfg.Reaper.StaleAfter)
		if err := staleReaper.Start(); err != nil {
			log.Warn("reaper not started", "error", err)
			staleReaper = nil
		}
	}

	workerServer := startWorkerServer(cfg, redisOpt, worker.NewDeckWorker(orchestrator), log)

	validate := validator.New()
	deckHandler := handler.NewDeckHandler(deckService, hub, validate)
	authHandler := handler.NewAuthHandler(cfg.JWT.Secret)
	healthHandler := handler.NewHealthHandler(
		map[string]handler.Pinger{
			"redis": func(ctx context.Context) error { return redisClient.Ping(ctx).Err() },
		},
		fiber.Map{
			"reasoning": reasonerName,
			"images":    imageClient.IsConfigured(),
			"video":     videoClient.IsConfigured(),
			"storage":   cfg.R2.AccessKeyID != "",
			"archive":   db != nil,
			"events":    nc != nil,
		},
	)

	var apiAuth fiber.Handler
	if cfg.Gateway.Enabled {
		log.Info("gateway mode enabled, using header-based auth")
		apiAuth = middleware.GatewayAuthMiddleware()
	} else {
		apiAuth = middleware.NewAuthMiddleware(cfg.JWT.Secret).Authenticate()
	}
	rateLimiter := middleware.NewRateLimiter(ratelimit.New(redisClient))

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    10 * 1024 * 1024,
	})

	app.Use(recover.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	app.Get("/health", healthHandler.Health)
	app.Get("/auth/verify", authHandler.Verify)

	api := app.Group("/api", apiAuth)
	decks := api.Group("/decks")
	decks.Post("/", rateLimiter.DeckLimit(cfg.RateLimit.DecksPerHour), deckHandler.Submit)
	decks.Get("/:jobId", deckHandler.Status)
	decks.Post("/:jobId/revise", rateLimiter.RevisionLimit(cfg.RateLimit.RevisionsPerHour), deckHandler.Revise)
	decks.Post("/:jobId/cancel", deckHandler.Cancel)

	app.Get("/ws/decks/:jobId", apiAuth, deckHandler.Watch, deckHandler.Stream())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", "error", err)
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", "addr", addr, "env", cfg.Server.Env, "reasoning", reasonerName)
	if err := app.Listen(addr); err != nil {
		log.Error("server error", "error", err)
	}

	// Running jobs see their context canceled and are recorded as failed.
	workerServer.Shutdown()
	if staleReaper != nil {
		staleReaper.Stop()
	}
	if nc != nil {
		_ = nc.Drain()
	}
	_ = redisClient.Close()
}

// newReasoner picks the configured provider and falls back to the mock
// when no credentials are present.
func newReasoner(ctx context.Context, cfg *config.Config, log *slog.Logger) (pipeline.Reasoner, string, func()) {
	noop := func() {}

	switch cfg.Reasoning.Provider {
	case "gemini":
		gemini, err := client.NewGeminiClient(ctx, &cfg.Gemini)
		if err == nil {
			return gemini, "gemini", func() { _ = gemini.Close() }
		}
		log.Warn("gemini not available", "error", err)
	case "mock":
		return client.MockReasoner{}, "mock", noop
	default:
		groq := client.NewGroqClient(&cfg.Groq)
		if groq.IsConfigured() {
			return groq, "groq", noop
		}
		log.Warn("groq api key not configured")
	}

	log.Info("using mock reasoner")
	return client.MockReasoner{}, "mock", noop
}

func startWorkerServer(cfg *config.Config, redisOpt asynq.RedisClientOpt, deckWorker *worker.DeckWorker, log *slog.Logger) *asynq.Server {
	asynqLogLevel := asynq.InfoLevel
	switch strings.ToLower(cfg.Log.Level) {
	case "debug":
		asynqLogLevel = asynq.DebugLevel
	case "warn":
		asynqLogLevel = asynq.WarnLevel
	case "error":
		asynqLogLevel = asynq.ErrorLevel
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 4,
		Queues: map[string]int{
			"decks": 1,
		},
		LogLevel:        asynqLogLevel,
		ShutdownTimeout: 30 * time.Second,
	})

	mux := asynq.NewServeMux()
	mux.HandleFunc(model.TaskTypeDeckGenerate, deckWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Error("asynq worker error", "error", err)
	}
	return srv
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return c.Status(code).JSON(fiber.Map{
		"error": fiber.Map{
			"code":    "SERVICE_ERROR",
			"message": message,
		},
	})
}
