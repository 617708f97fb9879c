// Package runmarker stores run markers in PostgreSQL.
package runmarker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/walletkit/history-migrator/pkg/postgres"
	"github.com/walletkit/history-migrator/pkg/runmarker"
)

const DefaultTable = "history_migration_runs"

var _ runmarker.Marker = (*Marker)(nil)

type Marker struct {
	db    postgres.DB
	table string
	now   func() time.Time
}

func NewMarker(db postgres.DB, table string) *Marker {
	if table == "" {
		table = DefaultTable
	}
	return &Marker{
		db:    db,
		table: pgx.Identifier{table}.Sanitize(),
		now:   time.Now,
	}
}

func (m *Marker) Initialize(ctx context.Context) error {
	ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
  generation   TEXT PRIMARY KEY,
  migrated     BIGINT NOT NULL,
  completed_at BIGINT NOT NULL
)`, m.table)
	if _, err := m.db.Exec(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create run marker table: %w", err)
	}
	return nil
}

func (m *Marker) IsCompleted(ctx context.Context, generation string) (bool, error) {
	rec, err := m.Read(ctx, generation)
	if err != nil {
		return false, err
	}
	return rec != nil, nil
}

// Read returns the stored marker of generation, or nil if there is none.
func (m *Marker) Read(ctx context.Context, generation string) (*runmarker.Record, error) {
	var (
		rec      runmarker.Record
		migrated int64
	)
	err := m.db.QueryRow(ctx,
		fmt.Sprintf(`SELECT generation, migrated, completed_at FROM %s WHERE generation = $1`, m.table),
		generation,
	).Scan(&rec.Generation, &migrated, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run marker: %w", err)
	}
	rec.Migrated = uint64(migrated)
	return &rec, nil
}

func (m *Marker) MarkCompleted(ctx context.Context, generation string, migrated int) error {
	if generation == "" {
		return runmarker.ErrEmptyGeneration
	}
	_, err := m.db.Exec(ctx, fmt.Sprintf(`
INSERT INTO %s (generation, migrated, completed_at) VALUES ($1, $2, $3)
ON CONFLICT (generation) DO UPDATE SET
  migrated = EXCLUDED.migrated,
  completed_at = EXCLUDED.completed_at`, m.table),
		generation, int64(migrated), m.now().Unix(),
	)
	if err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}

func (m *Marker) Clear(ctx context.Context, generation string) error {
	if _, err := m.db.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE generation = $1`, m.table), generation); err != nil {
		return fmt.Errorf("failed to clear run marker: %w", err)
	}
	return nil
}
