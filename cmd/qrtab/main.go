package main

import (
	"context"
	"log/slog"
	"os"

	_ "github.com/evroni/qrtab/docs"
	"github.com/evroni/qrtab/internal/app"
	"github.com/evroni/qrtab/internal/config"
)

// @title QRTab API
// @version 1.0
// @description Table-session and order-lifecycle service for QR dine-in ordering.
// @host localhost:8080
// @BasePath /
func main() {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	cfg, err := config.New()
	if err != nil {
		logger.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	application, err := app.New(cfg, logger)
	if err != nil {
		logger.Error("failed to create application", "error", err)
		os.Exit(1)
	}

	if err := application.Run(context.Background()); err != nil {
		logger.Error("application finished with error", "error", err)
		os.Exit(1)
	}
}
