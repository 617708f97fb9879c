// Package pendinghistory persists migrated pending history into ClickHouse.
package pendinghistory

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/clickhouse"
	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

//go:embed queries/create-table.sql
var createTableQuery string

//go:embed queries/insert.sql
var insertQuery string

//go:embed queries/list-by-account.sql
var listByAccountQuery string

var _ migration.Persister = (*Repository)(nil)

// Repository writes pending-history rows in one batch per call. Rows are
// keyed by id; a re-run inserts newer versions that ReplacingMergeTree
// collapses.
type Repository struct {
	client    clickhouse.Client
	log       *zap.SugaredLogger
	database  string
	tableName string
	now       func() time.Time
}

// NewRepository creates the pending-history table if needed.
func NewRepository(
	ctx context.Context,
	client clickhouse.Client,
	log *zap.SugaredLogger,
	database, tableName string,
) (*Repository, error) {
	r := &Repository{
		client:    client,
		log:       log,
		database:  database,
		tableName: tableName,
		now:       time.Now,
	}
	if err := r.CreateTableIfNotExists(ctx); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *Repository) CreateTableIfNotExists(ctx context.Context) error {
	query := fmt.Sprintf(createTableQuery, r.database, r.tableName)
	if err := r.client.Conn().Exec(ctx, query); err != nil {
		return fmt.Errorf("failed to create pending history table: %w", err)
	}
	return nil
}

// SavePendingHistory inserts txs in a single batch. Nothing is sent if any
// row fails to encode or append.
func (r *Repository) SavePendingHistory(ctx context.Context, txs []history.AccountHistoryTx) error {
	if len(txs) == 0 {
		return nil
	}

	rows := make([]Row, 0, len(txs))
	updatedAt := r.now().UTC()
	for _, tx := range txs {
		row, err := RowFromTx(tx, updatedAt)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}

	batch, err := r.client.Conn().PrepareBatch(ctx, fmt.Sprintf(insertQuery, r.database, r.tableName))
	if err != nil {
		return fmt.Errorf("failed to prepare pending history batch: %w", err)
	}

	for _, row := range rows {
		if err := batch.Append(row.values()...); err != nil {
			_ = batch.Abort()
			return fmt.Errorf("failed to append pending history row %s: %w", row.ID, err)
		}
	}

	if err := batch.Send(); err != nil {
		return fmt.Errorf("failed to send pending history batch: %w", err)
	}

	r.log.Debugw("pending history batch sent",
		"table", r.database+"."+r.tableName,
		"rows", len(rows),
	)
	return nil
}

// ListByAccount returns the latest version of each stored record of one
// account, ordered by id.
func (r *Repository) ListByAccount(ctx context.Context, accountID string) ([]history.AccountHistoryTx, error) {
	rows, err := r.client.Conn().Query(ctx, fmt.Sprintf(listByAccountQuery, r.database, r.tableName), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending history: %w", err)
	}
	defer rows.Close()

	var out []history.AccountHistoryTx
	for rows.Next() {
		var (
			tx           history.AccountHistoryTx
			replacedType string
			decoded      string
		)
		if err := rows.Scan(&tx.ID, &tx.IsLocalCreated, &tx.ReplacedNextID, &tx.ReplacedPrevID, &replacedType, &decoded); err != nil {
			return nil, fmt.Errorf("failed to scan pending history row: %w", err)
		}
		if err := json.Unmarshal([]byte(decoded), &tx.DecodedTx); err != nil {
			return nil, fmt.Errorf("failed to decode pending history row %s: %w", tx.ID, err)
		}
		tx.ReplacedType = legacy.ReplacedType(replacedType)
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending history rows: %w", err)
	}
	return out, nil
}
