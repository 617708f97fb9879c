package pendinghistory

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/walletkit/history-migrator/pkg/types/history"
)

// Row is a pending-history row in ClickHouse. Absent lineage fields are
// stored as empty strings.
type Row struct {
	ID             string
	AccountID      string
	NetworkID      string
	TxID           string
	IsLocalCreated bool
	ReplacedNextID string
	ReplacedPrevID string
	ReplacedType   string
	DecodedTx      string // JSON of history.DecodedTx
	UpdatedAt      time.Time
}

// RowFromTx flattens tx into a Row.
func RowFromTx(tx history.AccountHistoryTx, updatedAt time.Time) (Row, error) {
	decoded, err := json.Marshal(tx.DecodedTx)
	if err != nil {
		return Row{}, fmt.Errorf("failed to marshal decoded tx %s: %w", tx.ID, err)
	}
	return Row{
		ID:             tx.ID,
		AccountID:      tx.DecodedTx.AccountID,
		NetworkID:      tx.DecodedTx.NetworkID,
		TxID:           tx.DecodedTx.TxID,
		IsLocalCreated: tx.IsLocalCreated,
		ReplacedNextID: tx.ReplacedNextID,
		ReplacedPrevID: tx.ReplacedPrevID,
		ReplacedType:   string(tx.ReplacedType),
		DecodedTx:      string(decoded),
		UpdatedAt:      updatedAt,
	}, nil
}

func (r Row) values() []any {
	return []any{
		r.ID,
		r.AccountID,
		r.NetworkID,
		r.TxID,
		r.IsLocalCreated,
		r.ReplacedNextID,
		r.ReplacedPrevID,
		r.ReplacedType,
		r.DecodedTx,
		r.UpdatedAt,
	}
}
