package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/stemsi/psytest-backend/internal/config"
	"github.com/stemsi/psytest-backend/internal/database"
	"github.com/stemsi/psytest-backend/internal/repository"
)

type backend struct {
	store      repository.SessionStore
	violations repository.ViolationRepository
	close      func()
}

func (b *backend) Close() {
	if b.close != nil {
		b.close()
	}
}

func openBackend(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*backend, error) {
	switch cfg.StoreDriver {
	case "sqlite":
		db, err := database.NewSQLiteDB(cfg, log)
		if err != nil {
			return nil, err
		}
		store, err := repository.NewSQLiteStore(db)
		if err != nil {
			db.Close()
			return nil, err
		}
		return &backend{store: store, violations: store, close: func() { db.Close() }}, nil
	case "postgres", "":
		pool, err := database.NewPostgresPool(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		return &backend{
			store:      repository.NewSessionRepository(pool),
			violations: repository.NewPgViolationRepository(pool),
			close:      pool.Close,
		}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}
