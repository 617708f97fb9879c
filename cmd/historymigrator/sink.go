package main

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/clickhouse"
	chpending "github.com/walletkit/history-migrator/pkg/data/clickhouse/pendinghistory"
	chmarker "github.com/walletkit/history-migrator/pkg/data/clickhouse/runmarker"
	pgpending "github.com/walletkit/history-migrator/pkg/data/postgres/pendinghistory"
	pgmarker "github.com/walletkit/history-migrator/pkg/data/postgres/runmarker"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/postgres"
	"github.com/walletkit/history-migrator/pkg/runmarker"
	"github.com/walletkit/history-migrator/pkg/types/history"
)

// pendingLister reads migrated records back from the current store.
type pendingLister interface {
	ListByAccount(ctx context.Context, accountID string) ([]history.AccountHistoryTx, error)
}

// sink is the opened current store: where migrated records go and where the
// run marker lives.
type sink struct {
	persister migration.Persister
	lister    pendingLister
	marker    runmarker.Marker
	close     func()
}

func openSink(ctx context.Context, cfg SinkConfig, log *zap.SugaredLogger) (*sink, error) {
	switch cfg.Kind {
	case sinkPostgres:
		return openPostgresSink(ctx, cfg, log)
	case sinkClickHouse:
		return openClickHouseSink(ctx, cfg, log)
	default:
		return nil, fmt.Errorf("invalid sink %q", cfg.Kind)
	}
}

func openPostgresSink(ctx context.Context, cfg SinkConfig, log *zap.SugaredLogger) (*sink, error) {
	pool, err := postgres.NewPool(ctx, cfg.Postgres, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	repo := pgpending.New(pool, log, cfg.PendingTable, cfg.PersistTimeout)
	if err := repo.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	marker := pgmarker.NewMarker(pool, cfg.MarkerTable)
	if err := marker.Initialize(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	log.Infow("postgres sink ready", "pendingTable", cfg.PendingTable, "markerTable", cfg.MarkerTable)
	return &sink{persister: repo, lister: repo, marker: marker, close: pool.Close}, nil
}

func openClickHouseSink(ctx context.Context, cfg SinkConfig, log *zap.SugaredLogger) (*sink, error) {
	client, err := clickhouse.New(ctx, cfg.ClickHouse, log)
	if err != nil {
		return nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
	}
	closeClient := func() {
		if err := client.Close(); err != nil {
			log.Warnw("failed to close ClickHouse client", "error", err)
		}
	}

	repo, err := chpending.NewRepository(ctx, client, log, cfg.ClickHouse.Database, cfg.PendingTable)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("failed to create pending history repository: %w", err)
	}

	marker, err := chmarker.NewMarker(ctx, client, cfg.ClickHouse.Database, cfg.MarkerTable)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("failed to create run marker: %w", err)
	}

	log.Infow("clickhouse sink ready",
		"database", cfg.ClickHouse.Database,
		"pendingTable", cfg.PendingTable,
		"markerTable", cfg.MarkerTable)
	return &sink{persister: repo, lister: repo, marker: marker, close: closeClient}, nil
}
