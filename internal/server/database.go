package server

import (
	"context"
	"log/slog"
	"time"

	"github.com/joseph-ayodele/receipts-pipeline/internal/common"
	"github.com/joseph-ayodele/receipts-pipeline/internal/repository"
)

// ConnectDB opens the configured database. With AutoMigrate set it also
// creates the tables and seeds the default catalog.
func ConnectDB(ctx context.Context, cfg common.DatabaseConfig, logger *slog.Logger) (*repository.DB, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("db.connecting", "driver", cfg.Driver)
	db, err := repository.Open(ctx, cfg, logger)
	if err != nil {
		logger.Error("db.connect.failed", "driver", cfg.Driver, "err", err)
		return nil, err
	}
	if cfg.AutoMigrate {
		if err := MigrateDB(ctx, db, logger); err != nil {
			db.Close()
			return nil, err
		}
	}
	logger.Info("db.connected", "dialect", db.Dialect())
	return db, nil
}

// MigrateDB creates or updates the tables and seeds the default catalog.
func MigrateDB(ctx context.Context, db *repository.DB, logger *slog.Logger) error {
	start := time.Now()
	if err := db.Migrate(ctx); err != nil {
		logger.Error("db.migrate.failed", "err", err)
		return err
	}
	if err := repository.NewCatalogRepository(db, logger).Seed(ctx); err != nil {
		logger.Error("db.seed.failed", "err", err)
		return err
	}
	logger.Info("db.migrated", "elapsed_ms", time.Since(start).Milliseconds())
	return nil
}

// PingDB pings the database to ensure it's responsive
func PingDB(ctx context.Context, db *repository.DB, logger *slog.Logger, timeout time.Duration) error {
	logger.Debug("db.ping")
	if err := db.HealthCheck(ctx, timeout); err != nil {
		logger.Error("db.ping.failed", "err", err)
		return err
	}
	logger.Debug("db.ping.ok")
	return nil
}

// CloseDB closes the database connections gracefully
func CloseDB(db *repository.DB, logger *slog.Logger) {
	if db == nil {
		return
	}
	logger.Info("db.closing")
	db.Close()
}
