package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/Dan9191/microcredit-service/internal/config"
	_ "github.com/lib/pq"
	"github.com/sirupsen/logrus"
)

// Open returns the store selected by cfg.Storage and a function releasing it
func Open(ctx context.Context, cfg *config.Config, log *logrus.Logger) (Store, func(), error) {
	if cfg.Storage == config.StorageMemory {
		log.Warn("Using in-memory storage, data is lost on restart")
		return NewMemoryStore(), func() {}, nil
	}

	db, err := sql.Open("postgres", cfg.DBConn)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}
	if cfg.RunMigrations {
		if err := RunMigrations(ctx, db); err != nil {
			db.Close()
			return nil, nil, fmt.Errorf("failed to run migrations: %w", err)
		}
		log.Info("Database migrations applied")
	}
	return NewRepository(db), func() { db.Close() }, nil
}
