package app

import (
	"context"
	"fmt"
	"log"

	"procurement-recon/internal/config"
	"procurement-recon/internal/core"
	"procurement-recon/internal/db"
	"procurement-recon/internal/store/memory"
	"procurement-recon/internal/store/postgres"
	"procurement-recon/internal/store/sqlite"
)

// OpenStore opens the configured persistence backend. The returned close function
// releases its connections.
func OpenStore(ctx context.Context, cfg config.StoreConfig) (core.Store, func(), error) {
	switch cfg.Driver {
	case config.DriverMemory:
		log.Println("Warning: using in-memory store; data is lost on exit")
		return memory.New(), func() {}, nil

	case config.DriverPostgres:
		pool, err := db.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		if err := db.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return postgres.New(pool, cfg.LockTimeout), pool.Close, nil

	case config.DriverSQLite:
		st, err := sqlite.Open(cfg.SQLitePath, cfg.LockTimeout, cfg.Debug)
		if err != nil {
			return nil, nil, err
		}
		return st, func() {
			if err := st.Close(); err != nil {
				log.Printf("sqlite close: %v", err)
			}
		}, nil

	default:
		return nil, nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}

// New wires the core components over store and returns the service.
func New(store core.Store, cfg config.AppConfig) ApplicationService {
	lifecycle := core.NewLifecycle(store, core.NewEngine(), core.NewLockTable(cfg.LockTimeout))
	return NewAppService(lifecycle, core.NewQuery(store), cfg.DefaultActor)
}
