package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"driveguard/internal/config"
)

// Open returns the backend selected by cfg.Driver. SQL backends run migrations
// first when cfg.Migrate is set.
func Open(ctx context.Context, cfg config.Storage, logger *zap.Logger) (Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	switch cfg.Driver {
	case "", config.StorageMemory:
		return NewMemory(), nil
	case config.StorageJSON:
		return OpenJSONFile(cfg.JSONPath)
	case config.StoragePostgres, config.StorageSQLite:
		s, err := OpenSQL(ctx, cfg.Driver, cfg.DSN, logger)
		if err != nil {
			return nil, err
		}
		if cfg.Migrate {
			applied, err := s.Migrate(ctx)
			if err != nil {
				_ = s.Close()
				return nil, fmt.Errorf("migrate: %w", err)
			}
			for _, v := range applied {
				logger.Info("migration applied", zap.String("version", v))
			}
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
}
