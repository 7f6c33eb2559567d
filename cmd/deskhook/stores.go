package main

import (
	"context"
	"fmt"

	"github.com/mattjoyce/deskhook/internal/audit"
	"github.com/mattjoyce/deskhook/internal/config"
	"github.com/mattjoyce/deskhook/internal/storage"
	"github.com/mattjoyce/deskhook/internal/user"
)

// stores bundles the driver-specific user and audit stores.
type stores struct {
	users user.Store
	audit audit.Store
	ping  func(ctx context.Context) error
	close func()
}

func openStores(ctx context.Context, cfg *config.Config) (*stores, error) {
	switch cfg.State.Driver {
	case config.DriverPostgres:
		pool, err := storage.OpenPostgres(ctx, cfg.State.DSN)
		if err != nil {
			return nil, err
		}
		return &stores{
			users: user.NewPostgresStore(pool),
			audit: audit.NewPostgresStore(pool),
			ping:  pool.Ping,
			close: pool.Close,
		}, nil
	case config.DriverSQLite, "":
		db, err := storage.OpenSQLite(ctx, cfg.State.Path)
		if err != nil {
			return nil, err
		}
		return &stores{
			users: user.NewSQLiteStore(db),
			audit: audit.NewSQLiteStore(db),
			ping:  db.PingContext,
			close: func() { _ = db.Close() },
		}, nil
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.State.Driver)
	}
}

// stateLocation names the store for log lines without leaking a DSN.
func stateLocation(cfg *config.Config) string {
	if cfg.State.Driver == config.DriverPostgres {
		return "postgres"
	}
	return cfg.State.Path
}
