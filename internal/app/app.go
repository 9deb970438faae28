package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/evroni/qrtab/internal/config"
	"github.com/evroni/qrtab/internal/postgres"
	redisx "github.com/evroni/qrtab/internal/redis"
	postgresrepo "github.com/evroni/qrtab/internal/repository/postgres"
	redisrepo "github.com/evroni/qrtab/internal/repository/redis"
	"github.com/evroni/qrtab/internal/service"
	"github.com/evroni/qrtab/internal/service/admission"
	"github.com/evroni/qrtab/internal/service/reconcile"
	"github.com/evroni/qrtab/internal/service/session"
	httpgin "github.com/evroni/qrtab/internal/transport/http/gin"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	// Initialize dependencies
	dsn := fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		cfg.Postgres.User,
		cfg.Postgres.Password,
		cfg.Postgres.Host,
		cfg.Postgres.Port,
		cfg.Postgres.Name,
		cfg.Postgres.SSLMode,
	)

	pgxPool, err := postgres.New(context.Background(), postgres.Config{DSN: dsn})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redisx.New(context.Background(), redisx.Config{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	// Initialize repositories
	store := postgresrepo.NewStore(pgxPool)
	cache := redisrepo.New(rdb)
	pubsub := redisx.NewOrdersPubSub(rdb)
	limiter := redisrepo.NewSlidingWindowLimiter(rdb, "rl", 10, 1*time.Minute)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, 2*time.Hour)

	checkout := reconcile.NewStripeCheckout(
		cfg.Stripe.APIKey,
		cfg.App.BaseURL+"/payment/success",
		cfg.App.BaseURL+"/payment/cancel",
	)

	// Initialize services
	services := service.NewServices(store, cache, pubsub, limiter, checkout, logger, service.Config{
		Session: session.Config{
			BaseURL:    cfg.App.BaseURL,
			DevSecret:  cfg.App.DevQRSecret,
			Production: cfg.App.Production(),
		},
		Admission: admission.Config{
			TaxRate: cfg.App.TaxRate,
		},
		Reconcile: reconcile.Config{
			WebhookSecret: cfg.Stripe.WebhookSecret,
			AutoClosePaid: cfg.Stripe.AutoClosePaid,
		},
	})

	// Initialize Gin router
	router := httpgin.NewRouter(services, idempotencyStore, logger)

	return &App{
		cfg:    cfg,
		logger: logger,
		httpServer: &http.Server{
			Addr:    fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
			Handler: router,
		},
	}, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	// Graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		a.logger.Info("shutting down HTTP server")
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return a.httpServer.Shutdown(ctx)
	})

	return g.Wait()
}
