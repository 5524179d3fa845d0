package db

import (
	"context"

	"github.com/escrowdesk/backend/internal/config"
	"github.com/escrowdesk/backend/internal/repositories"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Stores bundles the persistence the API runs on for the configured driver.
type Stores struct {
	Deals repositories.DealStore
	Audit repositories.AuditStore
	Pool  *pgxpool.Pool // nil for the memory driver
}

func (s *Stores) Close() {
	if s.Pool != nil {
		s.Pool.Close()
	}
}

// OpenStores connects to Postgres and applies migrations, or builds in-memory stores.
func OpenStores(ctx context.Context, cfg *config.Config, log *zap.Logger) (*Stores, error) {
	if cfg.StoreDriver == config.StoreMemory {
		log.Info("using in-memory deal store")
		return &Stores{
			Deals: repositories.NewMemoryDealStore(),
			Audit: repositories.NewMemoryAuditStore(),
		}, nil
	}

	pool, err := NewPostgresPool(ctx, cfg.PostgresDSN, log)
	if err != nil {
		return nil, err
	}
	if err := RunMigrations(ctx, pool, cfg.MigrationsDir, log); err != nil {
		pool.Close()
		return nil, err
	}
	return &Stores{
		Deals: repositories.NewDealRepo(pool),
		Audit: repositories.NewAuditRepo(pool),
		Pool:  pool,
	}, nil
}
