// Package runmarker stores run markers in ClickHouse.
package runmarker

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/walletkit/history-migrator/pkg/clickhouse"
	"github.com/walletkit/history-migrator/pkg/runmarker"
)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/mark-completed.sql
var markCompletedQuery string

//go:embed queries/read-marker.sql
var readMarkerQuery string

//go:embed queries/clear-marker.sql
var clearMarkerQuery string

var _ runmarker.Marker = (*Marker)(nil)

// Marker is a ClickHouse-backed runmarker.Marker. Rows are deduplicated per
// generation by ReplacingMergeTree(completed_at) and read with FINAL.
type Marker struct {
	client    clickhouse.Client
	database  string
	tableName string
	now       func() time.Time
}

// NewMarker creates the marker table if needed.
func NewMarker(ctx context.Context, client clickhouse.Client, database, tableName string) (*Marker, error) {
	m := &Marker{
		client:    client,
		database:  database,
		tableName: tableName,
		now:       time.Now,
	}
	if err := m.Initialize(ctx); err != nil {
		return nil, err
	}
	return m, nil
}

// Initialize ensures the marker table exists.
// Schema:
//   - generation: String (sorting key)
//   - migrated: UInt64
//   - completed_at: Int64 (ReplacingMergeTree version)
func (m *Marker) Initialize(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, m.database, m.tableName)
	if err := m.client.Conn().Exec(ctx, query); err != nil {
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
	var rec runmarker.Record
	query := fmt.Sprintf(readMarkerQuery, m.database, m.tableName)
	err := m.client.Conn().
		QueryRow(ctx, query, generation).
		Scan(&rec.Generation, &rec.Migrated, &rec.CompletedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read run marker: %w", err)
	}
	return &rec, nil
}

func (m *Marker) MarkCompleted(ctx context.Context, generation string, migrated int) error {
	if generation == "" {
		return runmarker.ErrEmptyGeneration
	}
	query := fmt.Sprintf(markCompletedQuery, m.database, m.tableName)
	if err := m.client.Conn().Exec(ctx, query, generation, uint64(migrated), m.now().Unix()); err != nil {
		return fmt.Errorf("failed to write run marker: %w", err)
	}
	return nil
}

func (m *Marker) Clear(ctx context.Context, generation string) error {
	query := fmt.Sprintf(clearMarkerQuery, m.database, m.tableName)
	if err := m.client.Conn().Exec(ctx, query, generation); err != nil {
		return fmt.Errorf("failed to clear run marker: %w", err)
	}
	return nil
}
