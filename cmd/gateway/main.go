package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"kis-quote-gateway/internal/logger"
	"kis-quote-gateway/internal/trace"
)

func main() {
	ctx := context.Background()

	if err := initializeSystem(); err != nil {
		fmt.Fprintf(os.Stderr, "startup failed: %v\n", err)
		os.Exit(1)
	}

	cfg, err := loadConfig(ctx)
	if err != nil {
		os.Exit(1)
	}

	gw, err := buildGateway(ctx, cfg)
	if err != nil {
		os.Exit(1)
	}

	errc := make(chan error, 1)
	go func() {
		errc <- gw.server.Start(ctx)
	}()

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigc:
		logger.Info(ctx, "Shutting down", "signal", sig.String())
	case err := <-errc:
		if err != nil {
			logger.ErrorWithErr(ctx, "HTTP server failed", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	if err := gw.server.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "HTTP shutdown incomplete", "error", err)
	}
	gw.client.Close()
	if err := trace.Shutdown(shutdownCtx); err != nil {
		logger.Warn(ctx, "Tracer shutdown failed", "error", err)
	}
	logger.Info(ctx, "Gateway stopped")
}
