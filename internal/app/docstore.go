package app

import (
	"context"
	"fmt"

	"github.com/Gobusters/ectologger"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
	"github.com/Ramsey-B/fern/pkg/docstore"
)

// OpenDocstore opens the configured document store. For postgres the schema is migrated before
// the store is returned. The returned close func releases the connection pool.
func OpenDocstore(ctx context.Context, cfg config.Config, logger ectologger.Logger) (docstore.Store, func() error, error) {
	switch cfg.DocstoreDriver {
	case "memory":
		return docstore.NewMemoryStore(), func() error { return nil }, nil
	case "postgres":
	default:
		return nil, nil, fmt.Errorf("unsupported docstore driver: %s (use 'memory' or 'postgres')", cfg.DocstoreDriver)
	}

	db, err := database.Open(ctx, database.Config{
		Host:            cfg.DatabaseHost,
		Port:            cfg.DatabasePort,
		User:            cfg.DatabaseUserName,
		Password:        cfg.DatabasePassword,
		Name:            cfg.DatabaseName,
		SSLMode:         cfg.DatabaseSSLMode,
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, logger)
	if err != nil {
		return nil, nil, err
	}

	if instance, ok := db.(*database.DatabaseInstance); ok {
		migrations := database.NewMigrationService(logger, database.MigrationConfig{
			MigrationFolderPath: cfg.DatabaseMigrationFolderPath,
			Version:             uint(cfg.DatabaseMigrationVersion),
		})
		if err := migrations.Migrate(instance, cfg.DatabaseName); err != nil {
			_ = db.Close()
			return nil, nil, fmt.Errorf("failed to migrate database: %w", err)
		}
	}

	return docstore.NewPostgresStore(db, logger), db.Close, nil
}
