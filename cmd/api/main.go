package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/example/phk-shop/internal/api"
	"github.com/example/phk-shop/internal/auth"
	"github.com/example/phk-shop/internal/catalog"
	"github.com/example/phk-shop/internal/config"
	"github.com/example/phk-shop/internal/domain/cart"
	"github.com/example/phk-shop/internal/domain/order"
	"github.com/example/phk-shop/internal/email"
	"github.com/example/phk-shop/internal/gateway/mpesa"
	"github.com/example/phk-shop/internal/infrastructure/cache"
	"github.com/example/phk-shop/internal/infrastructure/kafka"
	"github.com/example/phk-shop/internal/infrastructure/store"
	"github.com/example/phk-shop/internal/logger"
	"github.com/example/phk-shop/internal/notification"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}
	if err := logger.Init(cfg.IsDevelopment()); err != nil {
		panic(err)
	}
	log := logger.L().Named("api")

	if err := run(cfg, log); err != nil {
		log.Error("api stopped", zap.Error(err))
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}

// run wires the service and serves until a signal arrives or the listener
// fails. Everything opened here is closed before it returns.
func run(cfg config.Config, log *zap.Logger) error {
	if err := cfg.ValidateAPI(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var closers []func() error
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}()

	// Storage
	var st store.Store
	if cfg.UseMemoryStore() {
		log.Warn("using in-memory store; state is lost on restart")
		st = store.NewMemoryStore()
	} else {
		db, err := store.ConnectPostgres(cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("connect to PostgreSQL: %w", err)
		}
		closers = append(closers, db.Close)
		pg := store.NewPostgresStore(db)
		if err := pg.Migrate(ctx); err != nil {
			return fmt.Errorf("apply schema: %w", err)
		}
		st = pg
		log.Info("connected to PostgreSQL")
	}

	// Daraja access tokens are shared across replicas through Redis.
	var tokens mpesa.TokenCache = mpesa.NewMemoryTokenCache()
	if cfg.RedisAddr != "" {
		rdb, err := cache.NewRedisClient(cfg.RedisAddr, cfg.RedisPassword, 0, log)
		if err != nil {
			return fmt.Errorf("connect to Redis: %w", err)
		}
		closers = append(closers, rdb.Close)
		tokens = rdb
	}

	gateway := mpesa.NewClient(mpesa.Config{
		BaseURL:        cfg.MPesa.BaseURL,
		ConsumerKey:    cfg.MPesa.ConsumerKey,
		ConsumerSecret: cfg.MPesa.ConsumerSecret,
		ShortCode:      cfg.MPesa.ShortCode,
		PassKey:        cfg.MPesa.PassKey,
		CallbackURL:    cfg.MPesa.CallbackURL,
		CountryCode:    cfg.MPesa.CountryCode,
		Timeout:        cfg.MPesa.Timeout,
	}, tokens, log)

	// Email goes through Kafka to the notifier when brokers are configured,
	// otherwise straight to SMTP from the request path.
	var mailer email.Sender
	if len(cfg.KafkaBrokers) > 0 {
		producer := kafka.NewProducer(cfg.KafkaBrokers, cfg.KafkaEmailTopic)
		closers = append(closers, producer.Close)
		mailer = email.NewQueuedSender(producer)
		log.Info("email queued via Kafka", zap.Strings("brokers", cfg.KafkaBrokers), zap.String("topic", cfg.KafkaEmailTopic))
	} else {
		mailer = email.NewService(email.Config{
			Host:     cfg.SMTP.Host,
			Port:     cfg.SMTP.Port,
			Username: cfg.SMTP.Username,
			Password: cfg.SMTP.Password,
			From:     cfg.SMTP.From,
		}, log)
		log.Info("email sent directly", zap.String("smtp_host", cfg.SMTP.Host))
	}

	sink := notification.NewSink(st, log)
	handlers := api.NewHandlers(
		cart.NewService(st, log),
		order.NewService(st, gateway, mailer, sink, log, order.WithReferencePrefix(cfg.ReferencePrefix)),
		catalog.NewService(st, log),
		sink,
		log,
	)
	router := api.NewRouter(handlers, api.RouterConfig{
		JWTService:  auth.NewJWTService(cfg.JWTSecret, 15*time.Minute),
		Logger:      log,
		CORSOrigins: cfg.CORSOrigins,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		log.Info("server started", zap.String("addr", cfg.HTTPAddr), zap.String("env", cfg.Env))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
	case err := <-serveErr:
		return fmt.Errorf("server error: %w", err)
	}

	log.Info("shutting down")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", zap.Error(err))
	}
	return nil
}
