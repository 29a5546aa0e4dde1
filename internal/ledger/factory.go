package ledger

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"foodglow-backend/internal/config"
	"foodglow-backend/internal/database"
)

const defaultSQLitePath = "file:foodglow.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"

// Open connects to the configured ledger backend and brings its schema up to
// date.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger) (Store, error) {
	switch cfg.DatabaseDriver {
	case "postgres":
		store, err := NewPostgresStore(cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		if err := migrate(ctx, store.DB(), database.DialectPostgres, logger); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("credit ledger ready", "driver", "postgres")
		return store, nil

	case "sqlite":
		dsn := cfg.DatabaseURL
		if dsn == "" {
			dsn = defaultSQLitePath
		}
		store, err := NewSQLiteStore(dsn)
		if err != nil {
			return nil, err
		}
		if err := migrate(ctx, store.DB(), database.DialectSQLite, logger); err != nil {
			store.Close()
			return nil, err
		}
		logger.Info("credit ledger ready", "driver", "sqlite")
		return store, nil
	}

	return nil, fmt.Errorf("unsupported database driver %q", cfg.DatabaseDriver)
}

func migrate(ctx context.Context, db *sql.DB, dialect string, logger *slog.Logger) error {
	m, err := database.NewMigrator(db, dialect, logger)
	if err != nil {
		return err
	}
	return m.Run(ctx)
}
