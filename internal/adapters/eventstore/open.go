// Package eventstore picks the ports.EventStore implementation named by configuration.
package eventstore

import (
	"context"
	"fmt"

	"positionLedger/internal/adapters/postgres"
	"positionLedger/internal/adapters/sqlite"
	"positionLedger/internal/ports"
)

// Config names the driver and its connection settings.
type Config struct {
	Driver string // "sqlite" or "postgres"
	DBPath string
	DSN    string
}

// Open connects the configured store.
func Open(ctx context.Context, cfg Config, logger ports.Logger) (ports.EventStore, error) {
	switch cfg.Driver {
	case "", "sqlite":
		repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: logger})
		if err != nil {
			return nil, err
		}
		return repo, nil
	case "postgres":
		repo, err := postgres.NewRepository(ctx, postgres.Config{DSN: cfg.DSN, Logger: logger})
		if err != nil {
			return nil, err
		}
		return repo, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
}
