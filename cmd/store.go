package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/miljoportal/tilstand/internal/store"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "tilstand.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		var poolCfg *store.PoolConfig
		if cfg.Store.Pool != nil {
			poolCfg = &store.PoolConfig{
				MaxConns: cfg.Store.Pool.MaxConns,
				MinConns: cfg.Store.Pool.MinConns,
			}
		}
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, poolCfg)
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}
