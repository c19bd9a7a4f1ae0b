package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/hibiken/asynq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/setlistvote/api/internal/client"
	"github.com/setlistvote/api/internal/config"
	"github.com/setlistvote/api/internal/handler"
	"github.com/setlistvote/api/internal/importer"
	"github.com/setlistvote/api/internal/middleware"
	"github.com/setlistvote/api/internal/service"
	"github.com/setlistvote/api/internal/status"
	"github.com/setlistvote/api/internal/store"
	"github.com/setlistvote/api/internal/worker"
	ws "github.com/setlistvote/api/internal/websocket"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize Redis client
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})

	// Test Redis connection
	ctx := context.Background()
	if err := redisClient.Ping(ctx).Err(); err != nil {
		log.Printf("Warning: Redis not available: %v", err)
	}

	// Initialize Postgres
	st, err := store.New(ctx, cfg.Postgres.URL)
	if err != nil {
		log.Fatalf("Failed to connect to Postgres: %v", err)
	}
	defer st.Close()
	if err := st.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to init schema: %v", err)
	}
	jobStore := store.NewJobStore(st.Pool())
	if err := jobStore.InitSchema(ctx); err != nil {
		log.Fatalf("Failed to init job schema: %v", err)
	}

	// Initialize Asynq client
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer asynqClient.Close()

	// Initialize validator
	validate := validator.New()

	// Initialize status tracker and WebSocket hub
	tracker := status.NewTracker(status.NewRedisCache(redisClient), jobStore)
	defer tracker.Close()
	hub := ws.NewHub(tracker)

	// Provider adapters, each with its own rate/breaker budget
	discoveryClient := client.NewDiscoveryClient(&cfg.Discovery, cfg.Client)
	ticketingClient := client.NewTicketingClient(&cfg.Ticketing, cfg.Client)
	catalogClient := client.NewCatalogClient(&cfg.Catalog, cfg.Client)

	// Import pipeline
	orchestrator := importer.NewOrchestrator(
		discoveryClient, ticketingClient, catalogClient, st, tracker,
		importer.Budgets{
			Phase1: cfg.Import.Phase1Budget,
			Phase2: cfg.Import.Phase2Budget,
			Phase3: cfg.Import.Phase3Budget,
		},
	)
	importService := service.NewImportService(asynqClient, orchestrator, tracker)

	// Initialize handlers
	importHandler := handler.NewImportHandler(importService, validate)

	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(cfg.JWT.Secret)
	rateLimiter := middleware.NewRateLimiter(redisClient)

	// Initialize Fiber app
	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,PUT,DELETE,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	// Health check with provider breaker/latency snapshots
	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status": "ok",
			"providers": []client.Stats{
				discoveryClient.Stats(),
				ticketingClient.Stats(),
				catalogClient.Stats(),
			},
		})
	})
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// API routes
	api := app.Group("/api", authMiddleware.Authenticate())

	imports := api.Group("/imports")
	imports.Post("/", authMiddleware.RequireAdmin(), rateLimiter.ImportLimit(cfg.RateLimit.ImportsPerHour), importHandler.Start)
	imports.Post("/cleanup", authMiddleware.RequireAdmin(), importHandler.Cleanup)
	imports.Get("/active", importHandler.Active)
	imports.Get("/status/:jobId", importHandler.Status)
	imports.Get("/artist/:artistId", importHandler.StatusByArtist)

	// WebSocket routes
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})

	app.Get("/ws/imports/:jobId", websocket.New(func(c *websocket.Conn) {
		hub.HandleJobConnection(c, c.Params("jobId"))
	}))
	app.Get("/ws/artists/:artistId", websocket.New(func(c *websocket.Conn) {
		hub.HandleArtistConnection(c, c.Params("artistId"))
	}))

	// Start Asynq worker server
	go startWorkerServer(cfg, importService)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-quit
		log.Println("Shutting down server...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Printf("Server shutdown error: %v", err)
		}
	}()

	// Start server
	addr := ":" + cfg.Server.Port
	log.Printf("Server starting on %s", addr)
	if err := app.Listen(addr); err != nil {
		log.Fatalf("Server error: %v", err)
	}
}

func startWorkerServer(cfg *config.Config, importService *service.ImportService) {
	srv := asynq.NewServer(
		asynq.RedisClientOpt{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		},
		asynq.Config{
			Concurrency: 4,
			Queues: map[string]int{
				"import": 10,
			},
		},
	)

	importWorker := worker.NewImportWorker(importService)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeImportArtist, importWorker.ProcessTask)

	if err := srv.Run(mux); err != nil {
		log.Printf("Asynq worker error: %v", err)
	}
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
