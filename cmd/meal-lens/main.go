// cmd/meal-lens/main.go
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"mcp-meal-lens/internal/config"
	"mcp-meal-lens/internal/logger"
	"mcp-meal-lens/internal/server"
)

var (
	configPath = flag.String("config", "", "Path to YAML config file")
	envFile    = flag.String("env-file", ".env", "Dotenv file to load before reading the environment")
	port       = flag.Int("port", 0, "Port for HTTP transport (overrides config)")
	host       = flag.String("host", "", "Host address (overrides config)")
	address    = flag.String("address", "", "Address (alias for host)")
	dbPath     = flag.String("db-path", "", "Database path (overrides config)")
	version    = flag.Bool("version", false, "Show version")
)

func main() {
	flag.Parse()

	if *version {
		fmt.Println("mcp-meal-lens version 1.0.0")
		os.Exit(0)
	}

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Use address if provided, otherwise use host
	if *host != "" {
		cfg.Host = *host
	}
	if *address != "" {
		cfg.Host = *address
	}
	if *port != 0 {
		cfg.Port = *port
	}
	if *dbPath != "" {
		cfg.DBPath = *dbPath
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	if err := logger.Init(cfg.LogEnv); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	srv, err := server.NewMealLensServer(cfg)
	if err != nil {
		logger.Error("failed to create server", zap.Error(err))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- err
		}
	}()

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-errCh:
		logger.Error("server error", zap.Error(err))
	}

	logger.Info("shutting down",
		zap.String("provider", cfg.Model.Provider),
		zap.String("model", cfg.Model.Name))
	cancel()
	if err := srv.Stop(); err != nil {
		logger.Error("error during shutdown", zap.Error(err))
	}
}
