package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/chatrag/backend/internal/api"
	"github.com/chatrag/backend/internal/app"
	"github.com/chatrag/backend/internal/metrics"
	"github.com/chatrag/backend/pkg/config"
	appLogger "github.com/chatrag/backend/pkg/logger"
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

	appLogger.Info("Starting chat transcript RAG API server")
	metrics.Init()

	startCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	pipelines, err := app.New(startCtx, cfg)
	cancel()
	if err != nil {
		appLogger.Fatal("Failed to build pipelines", zap.Error(err))
	}
	defer func() {
		if err := pipelines.Close(); err != nil {
			appLogger.Warn("Failed to release resources", zap.Error(err))
		}
	}()

	server, stop := api.NewServer(cfg, api.Services{
		Ingester: pipelines.Processor,
		Querier:  pipelines.Engine,
		Runs:     pipelines.DB,
	})
	defer stop()

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	appLogger.Info("Server starting", zap.String("address", addr))

	go func() {
		if err := server.Listen(addr); err != nil {
			appLogger.Fatal("Server failed to start", zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	appLogger.Info("Server shutting down gracefully...")
	if err := server.ShutdownWithTimeout(time.Duration(cfg.Server.WriteTimeout) * time.Second); err != nil {
		appLogger.Error("Server shutdown failed", zap.Error(err))
	}
	appLogger.Info("Server stopped")
}
