package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/hotel-loyalty/loyalty/internal/config"
	"github.com/hotel-loyalty/loyalty/internal/infra"
	"github.com/hotel-loyalty/loyalty/internal/logging"
	"github.com/hotel-loyalty/loyalty/internal/server"
	"github.com/hotel-loyalty/loyalty/internal/telemetry"
	"github.com/hotel-loyalty/loyalty/internal/tier"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.LogLevel, cfg.AppName, cfg.AppEnv)

	shutdownTracing, err := telemetry.Setup(context.Background(), cfg.AppName, cfg.AppEnv, cfg.OTLPEndpoint, logger)
	if err != nil {
		logger.Error("setup tracing", "error", err)
		os.Exit(1)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("flush traces", "error", err)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	db, cache, err := connect(ctx, cfg, logger)
	cancel()
	if err != nil {
		logger.Error("startup", "error", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	if cache != nil {
		defer func() {
			if err := cache.Close(); err != nil {
				logger.Warn("close redis", "error", err)
			}
		}()
	}

	srv, err := server.New(cfg, db, cache, logger)
	if err != nil {
		logger.Error("build server", "error", err)
		os.Exit(1)
	}

	srvErrCh := make(chan error, 1)
	go func() {
		srvErrCh <- srv.Listen()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("shutdown signal received", "signal", sig.String())
	case err := <-srvErrCh:
		if err != nil {
			logger.Error("server error", "error", err)
			os.Exit(1)
		}
		return
	}

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), cfg.ShutdownPeriod)
	defer cancelShutdown()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
		os.Exit(1)
	}

	logger.Info("server exited cleanly")
}

// connect opens the configured backends. In development either URL may be
// empty and the server falls back to in-memory storage and no cache.
func connect(ctx context.Context, cfg config.Config, logger *slog.Logger) (*pgxpool.Pool, *redis.Client, error) {
	var (
		db    *pgxpool.Pool
		cache *redis.Client
		err   error
	)

	if cfg.DatabaseURL != "" {
		if db, err = infra.NewPostgresPool(ctx, cfg.DatabaseURL, cfg.AppName); err != nil {
			return nil, nil, err
		}
		if cfg.MigrateOnStart {
			if err := migrate(ctx, db, logger); err != nil {
				db.Close()
				return nil, nil, err
			}
		}
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory ledger")
	}

	if cfg.RedisURL != "" {
		if cache, err = infra.NewRedisClient(ctx, cfg.RedisURL, cfg.AppName); err != nil {
			if db != nil {
				db.Close()
			}
			return nil, nil, err
		}
	} else {
		logger.Warn("REDIS_URL not set, status cache and idempotency disabled")
	}

	return db, cache, nil
}

func migrate(ctx context.Context, db *pgxpool.Pool, logger *slog.Logger) error {
	if err := infra.Migrate(ctx, db); err != nil {
		return err
	}
	seeded, err := tier.NewPostgresRepository(db).Seed(ctx, tier.DefaultCatalog())
	if err != nil {
		return fmt.Errorf("seed tiers: %w", err)
	}
	if seeded > 0 {
		logger.Info("seeded default tier catalog", "tiers", seeded)
	}
	return nil
}
