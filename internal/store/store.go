// Package store opens the history.Store selected by configuration.
package store

import (
	"context"
	"fmt"

	"github.com/comigor/calmchat/internal/config"
	"github.com/comigor/calmchat/internal/history"
	"github.com/comigor/calmchat/internal/store/postgres"
	"github.com/comigor/calmchat/internal/store/sqlite"
)

func Open(ctx context.Context, cfg config.HistoryConfig) (history.Store, error) {
	switch cfg.Driver {
	case config.DriverMemory:
		return history.NewMemoryStore(), nil
	case config.DriverSQLite:
		return sqlite.Open(ctx, cfg.DSN)
	case config.DriverPostgres:
		return postgres.Open(ctx, cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown history driver %q", cfg.Driver)
	}
}
