package main

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/ridgepoint-lending/docresolve/internal/oracle"
	"github.com/ridgepoint-lending/docresolve/internal/store"
	anthropicpkg "github.com/ridgepoint-lending/docresolve/pkg/anthropic"
)

func initStore(ctx context.Context) (store.Store, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "docresolve.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: cfg.Store.MaxConns,
			MinConns: cfg.Store.MinConns,
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

func initOracle() (oracle.Oracle, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (DOCRESOLVE_ANTHROPIC_KEY)")
	}
	client := anthropicpkg.NewClient(cfg.Anthropic.Key)
	return oracle.NewAnthropicOracle(client, cfg.Anthropic), nil
}
