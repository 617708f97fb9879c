// Package legacyhistory reads V4 pending transaction history from the legacy
// SQLite store.
package legacyhistory

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

const setupSQL = `
CREATE TABLE IF NOT EXISTS history (
	id TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	is_pending INTEGER NOT NULL,
	payload TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS history_account_pending_idx ON history(account_id, is_pending);

CREATE TABLE IF NOT EXISTS meta (
	key TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

const generationKey = "generation"

// ErrDecodePayload is returned when a stored record is not valid JSON for a
// legacy.HistoryTx.
var ErrDecodePayload = errors.New("failed to decode legacy history payload")

var _ migration.LegacyReader = (*Store)(nil)

// Store is a migration.LegacyReader over a SQLite file. Records are returned
// in insertion order.
type Store struct {
	db       *sql.DB
	log      *zap.SugaredLogger
	readOnly bool
}

// Open opens the store at path. A read-only store never creates or alters
// tables; a writable one creates them if needed.
func Open(path string, readOnly bool, log *zap.SugaredLogger) (*Store, error) {
	dsn := "file:" + path
	if readOnly {
		dsn += "?" + url.Values{"mode": {"ro"}}.Encode()
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open legacy store %s: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open legacy store %s: %w", path, err)
	}

	if !readOnly {
		if _, err := db.Exec(setupSQL); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create legacy history tables: %w", err)
		}
	}

	return &Store{db: db, log: log, readOnly: readOnly}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// GetPendingHistory returns the pending records of one account.
func (s *Store) GetPendingHistory(ctx context.Context, accountID string) ([]legacy.HistoryTx, error) {
	return s.query(ctx,
		`SELECT id, payload FROM history WHERE is_pending = 1 AND account_id = ? ORDER BY rowid`,
		accountID,
	)
}

// GetAllPendingHistory returns every pending record.
func (s *Store) GetAllPendingHistory(ctx context.Context) ([]legacy.HistoryTx, error) {
	return s.query(ctx, `SELECT id, payload FROM history WHERE is_pending = 1 ORDER BY rowid`)
}

func (s *Store) query(ctx context.Context, query string, args ...any) ([]legacy.HistoryTx, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query legacy history: %w", err)
	}
	defer rows.Close()

	var out []legacy.HistoryTx
	for rows.Next() {
		var (
			id      string
			payload string
		)
		if err := rows.Scan(&id, &payload); err != nil {
			return nil, fmt.Errorf("failed to scan legacy history row: %w", err)
		}

		var tx legacy.HistoryTx
		if err := json.Unmarshal([]byte(payload), &tx); err != nil {
			return nil, fmt.Errorf("%w: record %s: %w", ErrDecodePayload, id, err)
		}
		if tx.ID == "" {
			tx.ID = id
		}
		out = append(out, tx)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read legacy history rows: %w", err)
	}
	s.log.Debugw("read legacy pending history", "records", len(out))
	return out, nil
}

// Generation returns the store's generation tag, or "" if it has none.
func (s *Store) Generation(ctx context.Context) (string, error) {
	var tables int
	err := s.db.QueryRowContext(ctx,
		`SELECT count(*) FROM sqlite_master WHERE type = 'table' AND name = 'meta'`,
	).Scan(&tables)
	if err != nil {
		return "", fmt.Errorf("failed to inspect legacy store: %w", err)
	}
	if tables == 0 {
		return "", nil
	}

	var gen string
	err = s.db.QueryRowContext(ctx, `SELECT value FROM meta WHERE key = ?`, generationKey).Scan(&gen)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to read legacy store generation: %w", err)
	}
	return gen, nil
}

// SetGeneration tags the store with gen.
func (s *Store) SetGeneration(ctx context.Context, gen string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO meta(key, value) VALUES(?, ?) ON CONFLICT(key) DO UPDATE SET value = excluded.value`,
		generationKey, gen,
	)
	if err != nil {
		return fmt.Errorf("failed to write legacy store generation: %w", err)
	}
	return nil
}

// Put stores tx under tx.ID, replacing any previous record with that id.
func (s *Store) Put(ctx context.Context, accountID string, isPending bool, tx legacy.HistoryTx) error {
	payload, err := json.Marshal(tx)
	if err != nil {
		return fmt.Errorf("failed to encode legacy history %s: %w", tx.ID, err)
	}
	pending := 0
	if isPending {
		pending = 1
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO history(id, account_id, is_pending, payload) VALUES(?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET account_id = excluded.account_id, is_pending = excluded.is_pending, payload = excluded.payload`,
		tx.ID, accountID, pending, string(payload),
	)
	if err != nil {
		return fmt.Errorf("failed to write legacy history %s: %w", tx.ID, err)
	}
	return nil
}

// PutRaw stores an already encoded payload. It exists for fixtures that
// need payloads Put cannot produce.
func (s *Store) PutRaw(ctx context.Context, id, accountID string, isPending bool, payload string) error {
	pending := 0
	if isPending {
		pending = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO history(id, account_id, is_pending, payload) VALUES(?, ?, ?, ?)`,
		id, accountID, pending, payload,
	)
	if err != nil {
		return fmt.Errorf("failed to write legacy history %s: %w", id, err)
	}
	return nil
}
