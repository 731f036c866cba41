package server

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/getmockd/chatd/pkg/config"
	"github.com/getmockd/chatd/pkg/pubsub"
	"github.com/getmockd/chatd/pkg/store"
	"github.com/getmockd/chatd/pkg/store/sqlstore"
)

// OpenStore opens the configured data store. SQL stores are migrated first
// when AutoMigrate is set. The result records store latency metrics.
func OpenStore(ctx context.Context, cfg config.StoreConfig, logger *slog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return store.WithMetrics(store.NewMemoryStore()), nil

	case config.DriverSQLite, config.DriverPostgres:
		st, err := sqlstore.Open(ctx, cfg.Driver, cfg.DSN, sqlstore.WithLogger(logger))
		if err != nil {
			return nil, err
		}
		if cfg.AutoMigrate {
			if err := st.Migrate(ctx); err != nil {
				_ = st.Close()
				return nil, err
			}
		}
		return store.WithMetrics(st), nil
	}
	return nil, fmt.Errorf("server: unknown store driver %q", cfg.Driver)
}

// OpenBus opens the configured topic bus.
func OpenBus(ctx context.Context, cfg config.BusConfig, logger *slog.Logger) (pubsub.Bus, error) {
	switch cfg.Backend {
	case config.BusMemory:
		return pubsub.NewMemoryBus(cfg.Buffer), nil
	case config.BusRedis:
		return pubsub.NewRedisBus(ctx, cfg.URL, cfg.Prefix, cfg.Buffer, logger)
	case config.BusNATS:
		return pubsub.NewNATSBus(cfg.URL, cfg.Prefix, cfg.Buffer, logger)
	}
	return nil, fmt.Errorf("server: unknown bus backend %q", cfg.Backend)
}
