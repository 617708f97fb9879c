package pendinghistory

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/networks"
	"github.com/walletkit/history-migrator/pkg/postgres/mocks"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

func sqlContains(parts ...string) any {
	return mock.MatchedBy(func(q string) bool {
		for _, p := range parts {
			if !strings.Contains(q, p) {
				return false
			}
		}
		return true
	})
}

func newTestRepository(db *mocks.MockDB) *Repository {
	return New(db, zap.NewNop().Sugar(), "", time.Second)
}

func sampleTxs() []history.AccountHistoryTx {
	return []history.AccountHistoryTx{
		{
			ID:             "r1",
			IsLocalCreated: true,
			ReplacedNextID: "r2",
			ReplacedType:   legacy.ReplacedTypeCancel,
			DecodedTx: history.DecodedTx{
				TxID:      "T1",
				NetworkID: networks.BTC,
				AccountID: "acc-1",
				EncodedTx: history.EncodedTx(`{"fee":"1500"}`),
			},
		},
		{
			ID: "r2",
			DecodedTx: history.DecodedTx{
				TxID:      "0x2",
				NetworkID: networks.ETH,
				AccountID: "acc-1",
			},
		},
	}
}

func TestEnsureSchema(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	db.On("Exec", mock.Anything, sqlContains(`CREATE TABLE IF NOT EXISTS "pending_history"`, `"pending_history_account_idx"`)).
		Return(pgconn.NewCommandTag("CREATE TABLE"), nil).
		Once()

	require.NoError(t, newTestRepository(db).EnsureSchema(t.Context()))
	db.AssertExpectations(t)
}

func TestEnsureSchema_Error(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	execErr := errors.New("permission denied for schema public")
	db.On("Exec", mock.Anything, mock.Anything).Return(nil, execErr)

	err := newTestRepository(db).EnsureSchema(t.Context())
	require.ErrorIs(t, err, execErr)
}

func TestSavePendingHistory_SingleUpsert(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	db.On("Exec", mock.Anything, sqlContains("unnest(", "ON CONFLICT (id) DO UPDATE"),
		[]string{"r1", "r2"},
		[]string{"acc-1", "acc-1"},
		[]string{networks.BTC, networks.ETH},
		[]string{"T1", "0x2"},
		[]bool{true, false},
		mock.MatchedBy(func(next []*string) bool {
			return len(next) == 2 && next[0] != nil && *next[0] == "r2" && next[1] == nil
		}),
		[]*string{nil, nil},
		mock.MatchedBy(func(types []*string) bool {
			return len(types) == 2 && types[0] != nil && *types[0] == "cancel" && types[1] == nil
		}),
		mock.MatchedBy(func(decoded []string) bool {
			return len(decoded) == 2 && strings.Contains(decoded[0], `"fee":"1500"`)
		}),
	).Return(pgconn.NewCommandTag("INSERT 0 2"), nil).Once()

	require.NoError(t, newTestRepository(db).SavePendingHistory(t.Context(), sampleTxs()))
	db.AssertExpectations(t)
}

func TestSavePendingHistory_Empty(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}

	require.NoError(t, newTestRepository(db).SavePendingHistory(t.Context(), nil))
	db.AssertNumberOfCalls(t, "Exec", 0)
}

func TestSavePendingHistory_DuplicateID(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	txs := sampleTxs()
	txs[1].ID = txs[0].ID

	err := newTestRepository(db).SavePendingHistory(t.Context(), txs)

	require.ErrorIs(t, err, migration.ErrDuplicateID)
	db.AssertNumberOfCalls(t, "Exec", 0)
}

func TestSavePendingHistory_ExecError(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	execErr := errors.New("deadlock detected")
	db.On("Exec", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, execErr)

	err := newTestRepository(db).SavePendingHistory(t.Context(), sampleTxs())
	require.ErrorIs(t, err, execErr)
}

func TestListByAccount(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	next := "r2"
	kind := "speedUp"
	rows := &mocks.Rows{Data: [][]any{
		{"r1", true, &next, (*string)(nil), &kind, []byte(`{"txid":"T1","networkId":"btc--0","accountId":"acc-1","nonce":0,"encodedTx":{"fee":"1500"}}`)},
	}}
	db.On("Query", mock.Anything, sqlContains("WHERE account_id = $1"), "acc-1").Return(rows, nil)

	got, err := newTestRepository(db).ListByAccount(t.Context(), "acc-1")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.True(t, got[0].IsLocalCreated)
	assert.Equal(t, "r2", got[0].ReplacedNextID)
	assert.Empty(t, got[0].ReplacedPrevID)
	assert.Equal(t, legacy.ReplacedTypeSpeedUp, got[0].ReplacedType)
	assert.Equal(t, "T1", got[0].DecodedTx.TxID)
	assert.JSONEq(t, `{"fee":"1500"}`, string(got[0].DecodedTx.EncodedTx))
	assert.JSONEq(t, `0`, string(got[0].DecodedTx.Extra["nonce"]))
	assert.True(t, rows.Closed())
}

func TestListByAccount_QueryError(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	queryErr := errors.New("relation does not exist")
	db.On("Query", mock.Anything, mock.Anything, "acc-1").Return(nil, queryErr)

	_, err := newTestRepository(db).ListByAccount(t.Context(), "acc-1")
	require.ErrorIs(t, err, queryErr)
}

func TestListByAccount_IterError(t *testing.T) {
	t.Parallel()
	db := &mocks.MockDB{}
	iterErr := errors.New("conn closed")
	db.On("Query", mock.Anything, mock.Anything, "acc-1").Return(&mocks.Rows{IterErr: iterErr}, nil)

	_, err := newTestRepository(db).ListByAccount(t.Context(), "acc-1")
	require.ErrorIs(t, err, iterErr)
}
