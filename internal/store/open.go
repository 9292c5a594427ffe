package store

import (
	"context"
	"fmt"

	"github.com/staffgate/staffgate-api/internal/config"
)

// Open returns the Store selected by cfg.Driver.
func Open(ctx context.Context, cfg config.StorageConfig) (Store, error) {
	var (
		s   Store
		err error
	)
	switch cfg.Driver {
	case config.DriverFile, "":
		s, err = NewFileStore(cfg.Dir)
	case config.DriverSQLite:
		s, err = NewSQLiteStore(cfg.SQLitePath)
	case config.DriverPostgres:
		s, err = NewPostgresStore(ctx, cfg.PostgresDSN)
	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, err
	}
	return s, nil
}
