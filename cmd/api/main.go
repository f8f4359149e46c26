package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/estate-predictor/backend/internal/api/handlers"
	"github.com/estate-predictor/backend/internal/cache/redis"
	"github.com/estate-predictor/backend/internal/metrics"
	"github.com/estate-predictor/backend/internal/middleware/ratelimit"
	"github.com/estate-predictor/backend/internal/middleware/security"
	"github.com/estate-predictor/backend/internal/middleware/validation"
	"github.com/estate-predictor/backend/internal/prediction"
	"github.com/estate-predictor/backend/internal/session"
	"github.com/estate-predictor/backend/internal/storage"
	"github.com/estate-predictor/backend/internal/upload"
	"github.com/estate-predictor/backend/pkg/circuitbreaker"
	"github.com/estate-predictor/backend/pkg/config"
	appLogger "github.com/estate-predictor/backend/pkg/logger"
	"github.com/estate-predictor/backend/pkg/retry"
)

func main() {
	configFile := flag.String("config", "", "path to config file")
	flag.Parse()

	// A missing .env is normal outside development.
	_ = godotenv.Load()

	cfg, err := config.Load(*configFile)
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}

	err = appLogger.Init(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.OutputPath,
		appLogger.WithRotation(cfg.Logging.MaxSizeMB, cfg.Logging.MaxBackups),
		appLogger.WithService("price-predictor-api"))
	if err != nil {
		fmt.Printf("Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer appLogger.Sync()

	appLogger.Info("Starting price predictor API server")
	metrics.Init()

	ctx := context.Background()
	rc := retry.DefaultConfig()
	rc.Logger = appLogger.Log

	runs, err := storage.Open(ctx, cfg.Storage, rc)
	if err != nil {
		appLogger.Fatal("Failed to open run history store", zap.Error(err))
	}
	defer runs.Close()

	ttl := time.Duration(cfg.Session.TTLMinutes) * time.Minute
	deps := map[string]handlers.Pinger{"runs": runs}

	memory := session.NewMemoryStore(ttl)
	defer memory.Stop()

	var results session.Store = memory
	if cfg.Session.Backend == "redis" {
		client, err := retry.DoWithResult(ctx, rc, func() (*redis.Client, error) {
			return redis.NewClient(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB)
		})
		if err != nil {
			appLogger.Fatal("Failed to connect to Redis", zap.Error(err))
		}
		defer client.Close()

		results = session.NewFallbackStore(
			session.NewRedisStore(client, ttl),
			memory,
			circuitbreaker.Config{Logger: appLogger.Log},
		)
		deps["redis"] = client
	}

	svc, err := prediction.NewService(prediction.ConfigFrom(cfg))
	if err != nil {
		appLogger.Fatal("Failed to create prediction service", zap.Error(err))
	}

	sessions := handlers.Sessions{
		CookieName: cfg.Session.CookieName,
		TTL:        ttl,
		Secure:     !cfg.Server.Development,
	}
	registry := session.NewRegistry(ttl)
	defer registry.Stop()

	limiter := ratelimit.New(ratelimit.Config{
		PerMinute: cfg.RateLimit.UploadsPerMinute,
		KeyFunc: func(c *fiber.Ctx) string {
			if id := c.Cookies(cfg.Session.CookieName); id != "" {
				return utils.CopyString(id)
			}
			return c.IP()
		},
		Logger: appLogger.Log,
	})
	defer limiter.Stop()

	app := fiber.New(fiber.Config{
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: time.Duration(cfg.Server.WriteTimeout) * time.Second,
		BodyLimit:    cfg.Server.BodyLimit,
		ErrorHandler: errorHandler,
	})

	app.Use(recover.New())
	app.Use(logger.New())
	app.Use(security.HeadersMiddleware(security.HeadersConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		IsDevelopment:  cfg.Server.Development,
	}))
	if len(cfg.Server.AllowedOrigins) > 0 {
		app.Use(cors.New(cors.Config{
			AllowOrigins:     strings.Join(cfg.Server.AllowedOrigins, ", "),
			AllowHeaders:     "Origin, Content-Type, Accept",
			AllowMethods:     "GET, POST, OPTIONS",
			AllowCredentials: true,
		}))
	}

	app.Static("/static", cfg.Charts.Dir)
	app.Get("/metrics", metrics.MetricsHandler())

	api := app.Group("/api/v1", validation.Middleware(validation.Config{Logger: appLogger.Log}))
	handlers.Routes{
		Upload: handlers.NewUploadHandler(
			upload.NewStore(cfg.Upload.Dir, cfg.Upload.KeepFiles, cfg.Upload.AllowedExtensions),
			svc, results, registry, runs, sessions),
		Results:     handlers.NewResultHandler(results, sessions, "/static"),
		Predict:     handlers.NewPredictHandler(registry, sessions, svc.ReferenceYear()),
		Runs:        handlers.NewRunsHandler(runs),
		Health:      handlers.NewHealthHandler(deps),
		UploadLimit: limiter.Middleware(),
	}.Register(api)

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
	if err := app.ShutdownWithTimeout(30 * time.Second); err != nil {
		appLogger.Warn("Shutdown did not complete cleanly", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}

func errorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	msg := "Internal server error"

	var fe *fiber.Error
	if errors.As(err, &fe) {
		code = fe.Code
		msg = fe.Message
	}
	if code == fiber.StatusRequestEntityTooLarge {
		msg = "File is too large"
	}
	if code >= fiber.StatusInternalServerError {
		appLogger.Error("Unhandled request error", zap.String("path", c.Path()), zap.Error(err))
	}

	return c.Status(code).JSON(fiber.Map{"error": msg})
}
