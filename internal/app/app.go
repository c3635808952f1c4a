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

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kirinyoku/tix-checkout/internal/config"
	"github.com/kirinyoku/tix-checkout/internal/kafka"
	"github.com/kirinyoku/tix-checkout/internal/postgres"
	"github.com/kirinyoku/tix-checkout/internal/redis"
	"github.com/kirinyoku/tix-checkout/internal/render"
	postgresrepo "github.com/kirinyoku/tix-checkout/internal/repository/postgres"
	redisrepo "github.com/kirinyoku/tix-checkout/internal/repository/redis"
	"github.com/kirinyoku/tix-checkout/internal/service"
	"github.com/kirinyoku/tix-checkout/internal/service/inventory"
	"github.com/kirinyoku/tix-checkout/internal/service/notify"
	"github.com/kirinyoku/tix-checkout/internal/service/orders"
	"github.com/kirinyoku/tix-checkout/internal/service/outbox"
	"github.com/kirinyoku/tix-checkout/internal/service/payment"
	"github.com/kirinyoku/tix-checkout/internal/service/sweeper"
	httpgin "github.com/kirinyoku/tix-checkout/internal/transport/http/gin"
	"github.com/kirinyoku/tix-checkout/internal/uow"
	"golang.org/x/sync/errgroup"
)

type App struct {
	cfg        *config.Config
	logger     *slog.Logger
	httpServer *http.Server
	services   *service.Services
	relay      *outbox.Relay
	closers    []func() error
}

func New(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx := context.Background()

	// Initialize dependencies
	pgxPool, err := postgres.New(ctx, postgres.Config{
		DSN:         cfg.Postgres.DSN(),
		MaxConns:    cfg.Postgres.MaxConns,
		AutoMigrate: cfg.Postgres.AutoMigrate,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize postgres: %w", err)
	}

	rdb, err := redis.New(ctx, redis.Config{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
		PoolSize: cfg.Redis.PoolSize,
	})
	if err != nil {
		pgxPool.Close()
		return nil, fmt.Errorf("failed to initialize redis: %w", err)
	}

	a := &App{
		cfg:     cfg,
		logger:  logger,
		closers: []func() error{rdb.Close, closePool(pgxPool)},
	}

	gateway, err := payment.New(payment.Config{
		Mode:                payment.Mode(cfg.Payment.Mode),
		AppURL:              cfg.Server.PublicURL,
		Currency:            cfg.Payment.Currency,
		AdminFee:            cfg.Payment.AdminFee,
		InvoiceDuration:     cfg.Payment.InvoiceDuration,
		SuccessURL:          cfg.Payment.SuccessURL,
		CancelURL:           cfg.Payment.CancelURL,
		StripeSecretKey:     cfg.Payment.StripeSecretKey,
		StripeWebhookSecret: cfg.Payment.StripeWebhookSecret,
		BreakerFailures:     cfg.Payment.BreakerFailures,
		BreakerCooldown:     cfg.Payment.BreakerCooldown,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize payment gateway: %w", err)
	}

	renderer, err := render.New(render.Config{
		Dir:       cfg.Artifacts.Dir,
		PublicURL: cfg.Server.PublicURL + "/artifacts",
		FontPath:  cfg.Artifacts.FontPath,
	})
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize renderer: %w", err)
	}

	var mailer notify.Mailer = notify.NewLogMailer(logger.With("component", "mailer"))
	if cfg.SMTP.Host != "" {
		mailer = notify.NewSMTPMailer(notify.SMTPConfig{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
			FromName: cfg.SMTP.FromName,
		})
	}

	// Initialize repositories
	store := uow.NewUoW(postgresrepo.NewStore(pgxPool))
	pubsub := redisrepo.NewPubSub(rdb)
	idempotencyStore := redisrepo.NewIdempotencyStore(rdb, cfg.Order.IdempotencyTTL)

	// Initialize services
	a.services = service.NewServices(service.Deps{
		Store:    store,
		Cache:    redisrepo.New(rdb),
		PubSub:   pubsub,
		Limiter:  redisrepo.NewSlidingWindowLimiter(rdb, "orders", cfg.Order.RateLimit, cfg.Order.RateWindow),
		Locker:   redisrepo.NewLocker(rdb),
		Gateway:  gateway,
		Renderer: renderer,
		Mailer:   mailer,
		Logger:   logger,
	}, service.Config{
		Inventory: inventory.Config{AvailabilityTTL: cfg.Order.AvailabilityTTL},
		Orders:    orders.Config{OrderTTL: cfg.Order.TTL, MaxQuantity: cfg.Order.MaxQuantity},
		Sweeper:   sweeper.Config{Interval: cfg.Sweeper.Interval, BatchSize: cfg.Sweeper.BatchSize},
	})

	if len(cfg.Kafka.Brokers) > 0 {
		producer := kafka.NewProducer(kafka.Config{Brokers: cfg.Kafka.Brokers, Topic: cfg.Kafka.Topic})
		a.closers = append(a.closers, producer.Close)
		a.relay = outbox.New(store, producer, logger.With("component", "outbox"), outbox.Config{
			Interval:    cfg.Outbox.Interval,
			BatchSize:   cfg.Outbox.BatchSize,
			MaxAttempts: cfg.Outbox.MaxAttempts,
		})
	}

	// Initialize Gin router
	router := httpgin.NewRouter(a.services, pubsub, idempotencyStore, httpgin.RouterConfig{
		JWTSecret:    cfg.Auth.JWTSecret,
		ArtifactsDir: renderer.Dir(),
	}, logger)

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	return a, nil
}

func (a *App) Run(ctx context.Context) error {
	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()
	defer a.close()

	g, gCtx := errgroup.WithContext(ctx)

	// Start HTTP server
	g.Go(func() error {
		a.logger.Info("HTTP server listening", "host", a.cfg.Server.Host, "port", a.cfg.Server.Port)
		if err := a.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("failed to start HTTP server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		return a.services.Sweeper.Run(gCtx)
	})

	if a.relay != nil {
		g.Go(func() error {
			return a.relay.Run(gCtx)
		})
	} else {
		a.logger.Info("no kafka brokers configured, outbox relay disabled")
	}

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

func (a *App) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close failed", "error", err)
		}
	}
	a.closers = nil
}

func closePool(p *pgxpool.Pool) func() error {
	return func() error {
		p.Close()
		return nil
	}
}
