package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"marketplace-chat-api/internal/config"
	"marketplace-chat-api/internal/database"
	"marketplace-chat-api/internal/job"
	"marketplace-chat-api/internal/metrics"
	"marketplace-chat-api/internal/router"
)

func main() {
	// Load configuration
	cfg, err := config.Load("configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Initialize logger
	logger, err := initLogger(cfg.Server.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	logger.Info("Starting Chat Service",
		zap.Int("port", cfg.Server.Port),
		zap.String("env", cfg.Server.Env),
		zap.String("base_path", cfg.Server.BasePath),
	)

	// Connect database; the pod stays alive and retries in background when
	// the database is not reachable yet.
	db, err := database.New(cfg)
	if err != nil {
		logger.Warn("Failed to connect to database on startup, will retry in background",
			zap.Error(err))
		database.NewAsync(cfg, 5*time.Second)
	} else {
		logger.Info("Database connected successfully")
	}

	// Redis presence mirror, best effort
	if redisClient := database.InitRedis(cfg.Redis.URL); redisClient != nil {
		logger.Info("Redis connected", zap.String("url", cfg.Redis.URL))
	} else {
		logger.Warn("Redis unavailable, presence mirroring disabled")
	}

	// Initialize metrics
	m := metrics.New()

	// Setup router with all dependencies
	r, hub := router.Setup(cfg, db, m, logger)

	// Schedule the idle sweeper
	sweeper := job.NewIdleSweeper(hub, cfg.Chat.IdleThreshold, m, logger)
	scheduler := cron.New()
	spec := fmt.Sprintf("@every %s", cfg.Chat.SweepInterval)
	if _, err := scheduler.AddJob(spec, sweeper); err != nil {
		logger.Error("Failed to schedule idle sweeper", zap.Error(err))
	} else {
		scheduler.Start()
		logger.Info("Idle sweeper scheduled",
			zap.Duration("interval", cfg.Chat.SweepInterval),
			zap.Duration("threshold", cfg.Chat.IdleThreshold))
	}

	// Create HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Chat Service started successfully", zap.String("address", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	scheduler.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server forced to shutdown", zap.Error(err))
	}

	logger.Info("Server exited gracefully")
}

// initLogger initializes the zap logger with the specified level
func initLogger(level string) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	config := zap.Config{
		Level:            zap.NewAtomicLevelAt(zapLevel),
		Development:      zapLevel == zapcore.DebugLevel,
		Encoding:         "json",
		EncoderConfig:    zap.NewProductionEncoderConfig(),
		OutputPaths:      []string{"stdout"},
		ErrorOutputPaths: []string{"stderr"},
	}

	return config.Build()
}
