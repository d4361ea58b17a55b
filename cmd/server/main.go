package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/example/ride-booking/internal/config"
	"github.com/example/ride-booking/internal/dispatch"
	"github.com/example/ride-booking/internal/events"
	httpapi "github.com/example/ride-booking/internal/http"
	"github.com/example/ride-booking/internal/logging"
	"github.com/example/ride-booking/internal/payments"
	"github.com/example/ride-booking/internal/storage"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx)
	stop()
	os.Exit(code)
}

// run serves the API until ctx is done and returns the process exit code.
func run(ctx context.Context) int {
	cfg, err := config.LoadServerConfig()
	if err != nil {
		slog.Error("invalid configuration", "error", err)
		return 1
	}
	logger := logging.NewLogger("ride-booking-api", cfg.LogLevel)

	if cfg.StripeAPIKey == "" {
		logger.Warn("STRIPE_API_KEY is empty; payment endpoints will fail")
	}

	var checks []func(context.Context) error

	var store storage.RideStore = storage.NewMemoryStore()
	if cfg.PGDSN != "" {
		pg, err := storage.NewPostgresStore(ctx, cfg.PGDSN)
		if err != nil {
			logger.Error("postgres connect failed", "error", err)
			return 1
		}
		defer pg.Close()
		if cfg.RunMigrations {
			if err := pg.Migrate(ctx, filepath.Join("migrations", "001_create_rides.sql")); err != nil {
				logger.Error("migration failed", "error", err)
				return 1
			}
			logger.Info("migration applied", "file", "001_create_rides.sql")
		}
		store = pg
		checks = append(checks, pg.Ping)
	} else {
		logger.Warn("PG_DSN not set; rides are kept in memory")
	}

	var idem storage.IdempotencyStore = storage.NewMemoryIdempotency(cfg.IdempotencyTTL, cfg.IdempotencyLease)
	if cfg.RedisAddr != "" {
		ri := storage.NewRedisIdempotency(cfg.RedisAddr, cfg.RedisPassword, cfg.IdempotencyTTL, cfg.IdempotencyLease)
		defer ri.Close()
		idem = ri
		checks = append(checks, ri.Ping)
	}

	var pub events.Publisher = events.Nop{}
	if len(cfg.KafkaBrokers) > 0 {
		kp := events.NewKafkaProducer(cfg.KafkaBrokers, cfg.KafkaTopic)
		defer kp.Close()
		pub = kp
	}

	srv := httpapi.NewServer(httpapi.Deps{
		Gateway:  payments.NewStripeClient(cfg.StripeAPIKey),
		Store:    store,
		Idem:     idem,
		Events:   pub,
		WSReg:    dispatch.NewWSRegistry(logger),
		Currency: cfg.Currency,
		Logger:   logger,
		Ready: func(ctx context.Context) error {
			for _, c := range checks {
				if err := c(ctx); err != nil {
					return err
				}
			}
			return nil
		},
	})

	httpSrv := &http.Server{
		Addr:         cfg.HTTPAddr,
		Handler:      srv,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		if err := httpSrv.Shutdown(shutdownCtx); err != nil {
			logger.Error("graceful shutdown failed", "error", err)
		}
	}()

	logger.Info("ride-booking api listening", "addr", cfg.HTTPAddr, "kafka", len(cfg.KafkaBrokers) > 0, "postgres", cfg.PGDSN != "")
	if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("server stopped", "error", err)
		return 1
	}
	logger.Info("server stopped")
	return 0
}
