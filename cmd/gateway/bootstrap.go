package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"kis-quote-gateway/internal/kis"
	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/quote"
	"kis-quote-gateway/internal/server"
	"kis-quote-gateway/internal/store"
	"kis-quote-gateway/internal/trace"
)

// gateway bundles the wired components main needs to run and stop.
type gateway struct {
	client *kis.Client
	server *server.Server
}

// initializeSystem initializes environment, logger and tracer.
func initializeSystem() error {
	// Load environment variables
	_ = godotenv.Load()

	// Initialize logger
	if err := logger.Init(); err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}

	// Initialize tracer
	if err := trace.Init(); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize tracer: %v\n", err)
	}

	return nil
}

// loadConfig loads and returns the configuration
func loadConfig(ctx context.Context) (*store.Config, error) {
	cfg, err := store.LoadConfig("config.yaml")
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load config", err)
		return nil, err
	}
	return cfg, nil
}

// buildGateway wires the KIS client, streaming client, quote service
// and HTTP server.
func buildGateway(ctx context.Context, cfg *store.Config) (*gateway, error) {
	secrets, err := store.LoadSecrets()
	if err != nil {
		logger.ErrorWithErr(ctx, "Failed to load secrets", err)
		return nil, err
	}
	if secrets.AppKey == "" || secrets.AppSecret == "" {
		logger.Warn(ctx, "KIS_APP_KEY/KIS_APP_SECRET not set - upstream calls will fail")
	}

	client := kis.NewClient(kis.ClientConfig{
		BaseURL:              cfg.KIS.BaseURL,
		AppKey:               secrets.AppKey,
		AppSecret:            secrets.AppSecret,
		Timeout:              time.Duration(cfg.KIS.TimeoutSeconds * float64(time.Second)),
		MaxRequestsPerSecond: cfg.KIS.MaxRequestsPerSecond,
		Retries:              cfg.KIS.RequestRetries,
	})

	stream := kis.NewStreamClient(client, cfg.KIS.WSBaseURL, cfg.KIS.WSPath)
	reconstructor := kis.NewReconstructor(client, cfg.Intraday.MaxCalls)
	quotes := quote.NewService(client, reconstructor, cfg)

	logger.Info(ctx, "Gateway wired",
		"base_url", cfg.KIS.BaseURL,
		"ws_url", cfg.KIS.WSBaseURL,
		"max_rps", cfg.KIS.MaxRequestsPerSecond)

	return &gateway{
		client: client,
		server: server.New(cfg, quotes, stream),
	}, nil
}
