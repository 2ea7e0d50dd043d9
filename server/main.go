package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"classbook/api/routes"
	"classbook/internal/attendance"
	"classbook/internal/fees"
	"classbook/internal/notifications"
	"classbook/internal/shared/config"
	"classbook/internal/shared/database"
	"classbook/internal/waitlist"
	"classbook/pkg/cache"
	"classbook/pkg/logger"
	"classbook/pkg/ratelimit"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"
)

var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

func main() {
	appLogger := logger.GetDefault()

	// Smart environment loading
	if err := godotenv.Load(); err != nil {
		if os.Getenv("GIN_MODE") == "release" || os.Getenv("DOCKER_CONTAINER") == "true" {
			appLogger.Info("Production environment: using container environment variables")
		} else {
			appLogger.Info("No .env file found, using system environment variables")
		}
	} else {
		appLogger.Info("Development environment: loaded .env file")
	}

	// Load config
	cfg := config.Load()

	// Set Gin mode (debug/release)
	gin.SetMode(cfg.GinMode)

	// Initialize DB
	db, err := database.InitDB(cfg)
	if err != nil {
		appLogger.Error("failed to connect:", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	// Redis backs read caches and rate limiting only; the booking engine
	// coordinates through Postgres
	var cacheService cache.Service
	if db.Redis != nil {
		cacheService = cache.NewService(db.GetRedisClient())
		appLogger.Info("Redis cache service initialized")
	} else {
		appLogger.Info("Redis unavailable, running without read caches")
	}

	// Initialize Rate Limiter
	var rateLimiter *ratelimit.RateLimiter
	if cfg.RateLimit.Enabled && db.Redis != nil {
		rateLimiterConfig := &ratelimit.Config{
			Enabled:                 cfg.RateLimit.Enabled,
			WindowDuration:          cfg.RateLimit.WindowDuration,
			DefaultRequests:         cfg.RateLimit.DefaultRequests,
			PublicRequests:          cfg.RateLimit.PublicRequests,
			BookingRequests:         cfg.RateLimit.BookingRequests,
			BookingCriticalRequests: cfg.RateLimit.BookingCriticalRequests,
			StaffRequests:           cfg.RateLimit.StaffRequests,
			HealthRequests:          cfg.RateLimit.HealthRequests,
			WhitelistedIPs:          cfg.RateLimit.WhitelistedIPs,
		}

		rateLimiter = ratelimit.NewRateLimiter(db.GetRedisClient(), rateLimiterConfig)
		appLogger.Info("Rate limiter initialized",
			slog.Bool("enabled", cfg.RateLimit.Enabled),
			slog.Duration("window", cfg.RateLimit.WindowDuration),
			slog.Int("default_requests", cfg.RateLimit.DefaultRequests),
		)
	} else {
		appLogger.Info("Rate limiting disabled")
	}

	// Outbound notification publisher
	var publisher notifications.Publisher
	if cfg.Kafka.Enabled {
		publisher, err = notifications.NewKafkaPublisher(notifications.ProducerConfigFrom(cfg.Kafka))
		if err != nil {
			appLogger.Error("Failed to initialize Kafka publisher", slog.Any("error", err))
			appLogger.Info("Continuing without notifications")
			publisher = notifications.NewNopPublisher()
		} else {
			appLogger.Info("Kafka publisher initialized",
				slog.String("topic", cfg.Kafka.Topic),
				slog.Any("brokers", cfg.Kafka.Brokers),
			)
		}
	} else {
		publisher = notifications.NewNopPublisher()
		appLogger.Info("Notifications disabled, using no-op publisher")
	}
	defer func() {
		if err := publisher.Close(); err != nil {
			appLogger.Error("Error closing publisher", slog.Any("error", err))
		}
	}()

	// Setup router with rate limiter
	appRouter := routes.NewRouter(cfg, db, cacheService, publisher)
	router := setupRouter(cfg, appRouter, rateLimiter)

	// Background sweeps: promotion deadlines, class completion, fee charges
	sweepCtx, sweepCancel := context.WithCancel(context.Background())
	defer sweepCancel()

	promotionSweep := waitlist.NewJobProcessor(appRouter.WaitlistEngine(), &waitlist.JobConfig{
		SweepInterval: cfg.Sweep.PromotionInterval,
		BatchSize:     cfg.Sweep.BatchSize,
	})
	completionSweep := attendance.NewJobProcessor(appRouter.AttendanceService(), &attendance.JobConfig{
		SweepInterval: cfg.Sweep.CompletionInterval,
		BatchSize:     cfg.Sweep.BatchSize,
	})
	feeSweep := fees.NewJobProcessor(appRouter.FeeService(), &fees.JobConfig{
		ChargeInterval: cfg.Sweep.FeeChargeInterval,
		BatchSize:      cfg.Sweep.BatchSize,
	})

	sweeps, sweepGroupCtx := errgroup.WithContext(sweepCtx)
	sweeps.Go(func() error { return promotionSweep.Run(sweepGroupCtx) })
	sweeps.Go(func() error { return completionSweep.Run(sweepGroupCtx) })
	sweeps.Go(func() error { return feeSweep.Run(sweepGroupCtx) })
	appLogger.Info("Background sweeps started",
		slog.Duration("promotion_interval", cfg.Sweep.PromotionInterval),
		slog.Duration("completion_interval", cfg.Sweep.CompletionInterval),
		slog.Duration("fee_charge_interval", cfg.Sweep.FeeChargeInterval),
	)

	// HTTP server
	srv := &http.Server{
		Addr:           cfg.GetServerAddress(),
		Handler:        router,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
		IdleTimeout:    cfg.IdleTimeout,
		MaxHeaderBytes: cfg.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		appLogger.Info("🚀 Server running",
			slog.String("address", cfg.GetServerAddress()),
			slog.String("health_check", fmt.Sprintf("http://localhost:%s/health", cfg.Port)),
			slog.String("api_status", fmt.Sprintf("http://localhost:%s%s/status", cfg.Port, cfg.GetAPIBasePath())),
			slog.String("version", cfg.APIVersion),
			slog.Bool("redis_cache", (db.Redis != nil)),
			slog.Bool("rate_limiting", rateLimiter != nil),
		)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.Error("Server failed", slog.Any("error", err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLogger.Info("Shutting down server...")

	sweepCancel()
	if err := sweeps.Wait(); err != nil {
		appLogger.Error("Background sweep exited with error", slog.Any("error", err))
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		appLogger.Error("Forced shutdown", slog.Any("error", err))
	}

	appLogger.Info("Server exited gracefully")
}

func setupRouter(cfg *config.Config, appRouter *routes.Router, rateLimiter *ratelimit.RateLimiter) *gin.Engine {
	engine := gin.New()
	appLogger := logger.GetDefault()

	// Built-in middleware: logs requests + recovers from panics
	engine.Use(RequestLoggerMiddleware(appLogger), gin.Recovery())

	// CORS configuration
	engine.Use(cors.New(cors.Config{
		AllowOriginFunc: func(origin string) bool {
			return true // allow every origin dynamically
		},
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Length", "Content-Type", "Authorization", "X-Idempotency-Key", "X-RateLimit-*"},
		ExposeHeaders:    []string{"Content-Length", "X-RateLimit-Limit", "X-RateLimit-Remaining", "X-RateLimit-Reset"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}))

	// Global rate limiting middleware (applied to all routes)
	if rateLimiter != nil {
		engine.Use(ratelimit.Middleware(rateLimiter))
		appLogger.Info("Rate limiting middleware applied to all routes")
	}

	appRouter.SetupRoutes(engine)

	return engine
}

func RequestLoggerMiddleware(l *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		duration := time.Since(start)
		l.LogHTTPRequest(c, duration)
	}
}
