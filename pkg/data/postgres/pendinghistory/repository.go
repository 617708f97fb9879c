// Package pendinghistory persists migrated pending history into PostgreSQL.
package pendinghistory

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/postgres"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

const DefaultTable = "pending_history"

const schemaDDL = `
CREATE TABLE IF NOT EXISTS %[1]s (
  id               TEXT PRIMARY KEY,
  account_id       TEXT NOT NULL,
  network_id       TEXT NOT NULL,
  txid             TEXT NOT NULL,
  is_local_created BOOLEAN NOT NULL DEFAULT FALSE,
  replaced_next_id TEXT NULL,
  replaced_prev_id TEXT NULL,
  replaced_type    TEXT NULL,
  decoded_tx       JSONB NOT NULL,
  created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
  updated_at       TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS %[2]s ON %[1]s(account_id);
`

// One statement for the whole batch, so a failure leaves the table as it was.
const upsertSQL = `
INSERT INTO %[1]s (
  id, account_id, network_id, txid, is_local_created,
  replaced_next_id, replaced_prev_id, replaced_type, decoded_tx
)
SELECT id, account_id, network_id, txid, is_local_created,
       replaced_next_id, replaced_prev_id, replaced_type, decoded_tx::jsonb
FROM unnest(
  $1::text[], $2::text[], $3::text[], $4::text[], $5::bool[],
  $6::text[], $7::text[], $8::text[], $9::text[]
) AS t(id, account_id, network_id, txid, is_local_created,
       replaced_next_id, replaced_prev_id, replaced_type, decoded_tx)
ON CONFLICT (id) DO UPDATE SET
  account_id       = EXCLUDED.account_id,
  network_id       = EXCLUDED.network_id,
  txid             = EXCLUDED.txid,
  is_local_created = EXCLUDED.is_local_created,
  replaced_next_id = EXCLUDED.replaced_next_id,
  replaced_prev_id = EXCLUDED.replaced_prev_id,
  replaced_type    = EXCLUDED.replaced_type,
  decoded_tx       = EXCLUDED.decoded_tx,
  updated_at       = now()
`

const listByAccountSQL = `
SELECT id, is_local_created, replaced_next_id, replaced_prev_id, replaced_type, decoded_tx
FROM %[1]s
WHERE account_id = $1
ORDER BY created_at, id
`

var _ migration.Persister = (*Repository)(nil)

type Repository struct {
	db      postgres.DB
	log     *zap.SugaredLogger
	name    string
	table   string // quoted
	timeout time.Duration
}

func New(db postgres.DB, log *zap.SugaredLogger, table string, timeout time.Duration) *Repository {
	if table == "" {
		table = DefaultTable
	}
	return &Repository{
		db:      db,
		log:     log,
		name:    table,
		table:   pgx.Identifier{table}.Sanitize(),
		timeout: timeout,
	}
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
	index := pgx.Identifier{r.name + "_account_idx"}.Sanitize()
	if _, err := r.db.Exec(ctx, fmt.Sprintf(schemaDDL, r.table, index)); err != nil {
		return fmt.Errorf("failed to create pending history table: %w", err)
	}
	return nil
}

// SavePendingHistory upserts txs keyed by id.
func (r *Repository) SavePendingHistory(ctx context.Context, txs []history.AccountHistoryTx) error {
	if len(txs) == 0 {
		return nil
	}

	cols, err := columnsOf(txs)
	if err != nil {
		return err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	tag, err := r.db.Exec(ctx, fmt.Sprintf(upsertSQL, r.table),
		cols.ids, cols.accountIDs, cols.networkIDs, cols.txIDs, cols.isLocalCreated,
		cols.replacedNextIDs, cols.replacedPrevIDs, cols.replacedTypes, cols.decodedTxs,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert pending history: %w", err)
	}

	r.log.Debugw("pending history upserted", "table", r.table, "rows", tag.RowsAffected())
	return nil
}

// ListByAccount returns the stored pending history of one account.
func (r *Repository) ListByAccount(ctx context.Context, accountID string) ([]history.AccountHistoryTx, error) {
	rows, err := r.db.Query(ctx, fmt.Sprintf(listByAccountSQL, r.table), accountID)
	if err != nil {
		return nil, fmt.Errorf("failed to query pending history: %w", err)
	}
	defer rows.Close()

	var out []history.AccountHistoryTx
	for rows.Next() {
		var (
			tx           history.AccountHistoryTx
			nextID       *string
			prevID       *string
			replacedType *string
			decoded      []byte
		)
		if err := rows.Scan(&tx.ID, &tx.IsLocalCreated, &nextID, &prevID, &replacedType, &decoded); err != nil {
			return nil, fmt.Errorf("failed to scan pending history row: %w", err)
		}
		if err := json.Unmarshal(decoded, &tx.DecodedTx); err != nil {
			return nil, fmt.Errorf("failed to decode pending history row %s: %w", tx.ID, err)
		}
		tx.ReplacedNextID = deref(nextID)
		tx.ReplacedPrevID = deref(prevID)
		tx.ReplacedType = legacy.ReplacedType(deref(replacedType))
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read pending history rows: %w", err)
	}
	return out, nil
}

type columns struct {
	ids             []string
	accountIDs      []string
	networkIDs      []string
	txIDs           []string
	isLocalCreated  []bool
	replacedNextIDs []*string
	replacedPrevIDs []*string
	replacedTypes   []*string
	decodedTxs      []string
}

func columnsOf(txs []history.AccountHistoryTx) (columns, error) {
	n := len(txs)
	c := columns{
		ids:             make([]string, 0, n),
		accountIDs:      make([]string, 0, n),
		networkIDs:      make([]string, 0, n),
		txIDs:           make([]string, 0, n),
		isLocalCreated:  make([]bool, 0, n),
		replacedNextIDs: make([]*string, 0, n),
		replacedPrevIDs: make([]*string, 0, n),
		replacedTypes:   make([]*string, 0, n),
		decodedTxs:      make([]string, 0, n),
	}
	seen := make(map[string]struct{}, n)
	for _, tx := range txs {
		// ON CONFLICT cannot touch the same row twice in one statement.
		if _, ok := seen[tx.ID]; ok {
			return columns{}, fmt.Errorf("%w: %s", migration.ErrDuplicateID, tx.ID)
		}
		seen[tx.ID] = struct{}{}

		decoded, err := json.Marshal(tx.DecodedTx)
		if err != nil {
			return columns{}, fmt.Errorf("failed to marshal decoded tx %s: %w", tx.ID, err)
		}
		c.ids = append(c.ids, tx.ID)
		c.accountIDs = append(c.accountIDs, tx.DecodedTx.AccountID)
		c.networkIDs = append(c.networkIDs, tx.DecodedTx.NetworkID)
		c.txIDs = append(c.txIDs, tx.DecodedTx.TxID)
		c.isLocalCreated = append(c.isLocalCreated, tx.IsLocalCreated)
		c.replacedNextIDs = append(c.replacedNextIDs, nullable(tx.ReplacedNextID))
		c.replacedPrevIDs = append(c.replacedPrevIDs, nullable(tx.ReplacedPrevID))
		c.replacedTypes = append(c.replacedTypes, nullable(string(tx.ReplacedType)))
		c.decodedTxs = append(c.decodedTxs, string(decoded))
	}
	return c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
