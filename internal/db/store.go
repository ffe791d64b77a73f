package db

import (
	"context"
	"fmt"

	"rentchain-ledger/internal/config"
	"rentchain-ledger/pkg/ledger"
)

// OpenStore opens the ledger store selected by cfg.StoreDriver and ensures
// its schema. The returned func releases the underlying handle.
func OpenStore(ctx context.Context, cfg config.Config) (ledger.Store, func(), error) {
	var store ledger.Store
	closeFn := func() {}

	switch cfg.StoreDriver {
	case config.DriverPostgres:
		pool, err := Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = ledger.NewPgStore(pool), pool.Close
	case config.DriverSQLite:
		sqlDB, err := OpenSQLite(ctx, cfg.SQLitePath)
		if err != nil {
			return nil, nil, err
		}
		store, closeFn = ledger.NewSQLiteStore(sqlDB), func() { _ = sqlDB.Close() }
	case config.DriverMemory:
		store = ledger.NewMemStore()
	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}

	if err := store.EnsureTable(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ensure ledger table: %w", err)
	}
	return store, closeFn, nil
}
