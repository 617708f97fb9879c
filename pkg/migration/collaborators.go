package migration

import (
	"context"

	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

// LegacyReader reads pending-history records from the V4 store. The store is
// never written through this interface.
type LegacyReader interface {
	// GetPendingHistory returns the pending records of one account.
	GetPendingHistory(ctx context.Context, accountID string) ([]legacy.HistoryTx, error)
	// GetAllPendingHistory returns every pending record in the store.
	GetAllPendingHistory(ctx context.Context) ([]legacy.HistoryTx, error)
}

// Builder rebuilds a decoded transaction from an encoded one. Implementations
// may perform network I/O and may fail for a single transaction.
type Builder interface {
	BuildDecodedTx(ctx context.Context, params history.BuildParams) (*history.DecodedTx, error)
}

// Persister commits migrated records into the current pending-history store.
// It is called at most once per Run and never with an empty batch.
type Persister interface {
	SavePendingHistory(ctx context.Context, txs []history.AccountHistoryTx) error
}

// Reporter receives per-record failures for diagnostics. Report must not
// block and must not panic.
type Reporter interface {
	Report(err error, ec ErrorContext)
}

// Stage names where in the migration an error was observed.
type Stage string

const (
	StageBuild      Stage = "build"
	StageDuplicate  Stage = "duplicate"
	StageReadLegacy Stage = "read_legacy"
	StagePersist    Stage = "persist"
	StageMarker     Stage = "marker"
	StageSetup      Stage = "setup"
)

// ErrorContext identifies the record (if any) an error belongs to.
type ErrorContext struct {
	Stage     Stage  `json:"stage"`
	RecordID  string `json:"recordId,omitempty"`
	TxID      string `json:"txid,omitempty"`
	NetworkID string `json:"networkId,omitempty"`
	AccountID string `json:"accountId,omitempty"`
}

type nopReporter struct{}

func (nopReporter) Report(error, ErrorContext) {}
