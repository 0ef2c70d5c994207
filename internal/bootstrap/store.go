// Package bootstrap opens the configured store for the service binaries.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"lv-walletledger/internal/config"
	"lv-walletledger/internal/store"
	"lv-walletledger/internal/store/memory"
	"lv-walletledger/internal/store/pebblestore"
	"lv-walletledger/internal/store/postgres"
)

// OpenStore returns the store selected by cfg.Driver. For postgres it applies
// pending migrations first when cfg.Migrate is set.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	switch cfg.Driver {
	case config.DriverMemory:
		logger.Warn("using in-memory store; balances are lost on restart")
		return memory.New(), nil
	case config.DriverPebble:
		st, err := pebblestore.Open(cfg.PebbleDir)
		if err != nil {
			return nil, err
		}
		logger.Info("pebble store opened", "dir", cfg.PebbleDir)
		return st, nil
	case config.DriverPostgres:
		pool, err := postgres.NewPool(ctx, cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("connect postgres: %w", err)
		}
		if cfg.Migrate {
			applied, err := postgres.Migrate(ctx, pool)
			if err != nil {
				pool.Close()
				return nil, err
			}
			logger.Info("migrations applied", "count", len(applied), "names", applied)
		}
		return postgres.New(pool), nil
	default:
		return nil, fmt.Errorf("invalid store.driver %q", cfg.Driver)
	}
}
