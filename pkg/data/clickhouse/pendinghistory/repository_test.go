package pendinghistory

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/walletkit/history-migrator/pkg/clickhouse/mocks"
	"github.com/walletkit/history-migrator/pkg/clickhouse/testutils"
	"github.com/walletkit/history-migrator/pkg/networks"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRepository(t *testing.T, conn *mocks.MockConn) *Repository {
	t.Helper()
	conn.
		On("Exec", mock.Anything, mocks.QueryContains("CREATE TABLE IF NOT EXISTS", "wallet.pending_history", "ORDER BY id")).
		Return(nil).
		Once()
	r, err := NewRepository(t.Context(), testutils.NewTestClient(conn), zap.NewNop().Sugar(), "wallet", "pending_history")
	require.NoError(t, err)
	r.now = func() time.Time { return fixedNow }
	return r
}

func sampleTxs() []history.AccountHistoryTx {
	return []history.AccountHistoryTx{
		{
			ID:             "r1",
			IsLocalCreated: true,
			ReplacedPrevID: "r0",
			ReplacedType:   legacy.ReplacedTypeSpeedUp,
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
				AccountID: "acc-2",
			},
		},
	}
}

func TestNewRepository_CreateTableError(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	execErr := errors.New("access denied")
	conn.On("Exec", mock.Anything, mock.Anything).Return(execErr)

	r, err := NewRepository(t.Context(), testutils.NewTestClient(conn), zap.NewNop().Sugar(), "wallet", "pending_history")

	require.ErrorIs(t, err, execErr)
	assert.Nil(t, r)
}

func TestSavePendingHistory_SendsOneBatch(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)

	batch := &mocks.MockBatch{}
	batch.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil).Twice()
	batch.On("Send").Return(nil).Once()
	conn.On("PrepareBatch", mock.Anything, mocks.QueryContains("INSERT INTO wallet.pending_history")).Return(batch, nil).Once()

	require.NoError(t, r.SavePendingHistory(t.Context(), sampleTxs()))

	require.Len(t, batch.Appended, 2)
	first := batch.Appended[0]
	assert.Equal(t, "r1", first[0])
	assert.Equal(t, "acc-1", first[1])
	assert.Equal(t, networks.BTC, first[2])
	assert.Equal(t, "T1", first[3])
	assert.Equal(t, true, first[4])
	assert.Equal(t, "", first[5])
	assert.Equal(t, "r0", first[6])
	assert.Equal(t, "speedUp", first[7])
	assert.JSONEq(t, `{"txid":"T1","networkId":"btc--0","accountId":"acc-1","encodedTx":{"fee":"1500"}}`, first[8].(string))
	assert.Equal(t, fixedNow, first[9])

	assert.Equal(t, "r2", batch.Appended[1][0])
	batch.AssertExpectations(t)
	conn.AssertExpectations(t)
}

func TestSavePendingHistory_EmptyIsNoop(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)

	require.NoError(t, r.SavePendingHistory(t.Context(), nil))
	conn.AssertNotCalled(t, "PrepareBatch", mock.Anything, mock.Anything)
}

func TestSavePendingHistory_PrepareError(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)
	prepErr := errors.New("table missing")
	conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(nil, prepErr)

	err := r.SavePendingHistory(t.Context(), sampleTxs())
	require.ErrorIs(t, err, prepErr)
}

func TestSavePendingHistory_AppendErrorAborts(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)

	appendErr := errors.New("type mismatch")
	batch := &mocks.MockBatch{}
	batch.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(appendErr).Once()
	batch.On("Abort").Return(nil).Once()
	conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(batch, nil)

	err := r.SavePendingHistory(t.Context(), sampleTxs())

	require.ErrorIs(t, err, appendErr)
	batch.AssertNotCalled(t, "Send")
	batch.AssertExpectations(t)
}

func TestSavePendingHistory_SendError(t *testing.T) {
	t.Parallel()
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)

	sendErr := errors.New("connection reset")
	batch := &mocks.MockBatch{}
	batch.On("Append", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything,
		mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil)
	batch.On("Send").Return(sendErr)
	conn.On("PrepareBatch", mock.Anything, mock.Anything).Return(batch, nil)

	err := r.SavePendingHistory(t.Context(), sampleTxs())
	require.ErrorIs(t, err, sendErr)
}

func TestRowFromTx(t *testing.T) {
	tx := sampleTxs()[1]

	row, err := RowFromTx(tx, fixedNow)
	require.NoError(t, err)

	assert.Equal(t, "r2", row.ID)
	assert.False(t, row.IsLocalCreated)
	assert.Empty(t, row.ReplacedNextID)
	assert.Empty(t, row.ReplacedPrevID)
	assert.Empty(t, row.ReplacedType)
	assert.Equal(t, "0x2", row.TxID)
}

func TestRowFromTx_KeepsBuilderFields(t *testing.T) {
	tx := sampleTxs()[0]
	tx.DecodedTx.Extra = map[string]json.RawMessage{"feeInfo": json.RawMessage(`{"feeRate":"12"}`)}

	row, err := RowFromTx(tx, fixedNow)
	require.NoError(t, err)

	assert.JSONEq(t, `{"txid":"T1","networkId":"btc--0","accountId":"acc-1",`+
		`"feeInfo":{"feeRate":"12"},"encodedTx":{"fee":"1500"}}`, row.DecodedTx)
}

func TestListByAccount(t *testing.T) {
	conn := &mocks.MockConn{}
	r := newTestRepository(t, conn)
	rows := &mocks.Rows{Data: [][]any{
		{"r1", true, "r2", "", "speedUp", `{"txid":"T1","networkId":"btc--0","accountId":"acc-1","feeInfo":{"feeRate":"12"},"encodedTx":{"fee":"1500"}}`},
	}}
	conn.On("Query", mock.Anything, mocks.QueryContains("FROM wallet.pending_history FINAL", "account_id = ?"), "acc-1").
		Return(rows, nil)

	got, err := r.ListByAccount(t.Context(), "acc-1")

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "r1", got[0].ID)
	assert.True(t, got[0].IsLocalCreated)
	assert.Equal(t, "r2", got[0].ReplacedNextID)
	assert.Empty(t, got[0].ReplacedPrevID)
	assert.Equal(t, legacy.ReplacedTypeSpeedUp, got[0].ReplacedType)
	assert.Equal(t, "T1", got[0].DecodedTx.TxID)
	assert.JSONEq(t, `{"fee":"1500"}`, string(got[0].DecodedTx.EncodedTx))
	assert.JSONEq(t, `{"feeRate":"12"}`, string(got[0].DecodedTx.Extra["feeInfo"]))
	assert.True(t, rows.Closed())
}

func TestListByAccount_Errors(t *testing.T) {
	t.Run("query", func(t *testing.T) {
		conn := &mocks.MockConn{}
		r := newTestRepository(t, conn)
		queryErr := errors.New("timeout")
		conn.On("Query", mock.Anything, mock.Anything, "acc-1").Return(nil, queryErr)

		_, err := r.ListByAccount(t.Context(), "acc-1")
		require.ErrorIs(t, err, queryErr)
	})

	t.Run("undecodable row", func(t *testing.T) {
		conn := &mocks.MockConn{}
		r := newTestRepository(t, conn)
		conn.On("Query", mock.Anything, mock.Anything, "acc-1").
			Return(&mocks.Rows{Data: [][]any{{"r1", false, "", "", "", `{"txid":`}}}, nil)

		_, err := r.ListByAccount(t.Context(), "acc-1")
		require.ErrorContains(t, err, "failed to decode pending history row r1")
	})

	t.Run("iteration", func(t *testing.T) {
		conn := &mocks.MockConn{}
		r := newTestRepository(t, conn)
		iterErr := errors.New("connection reset")
		conn.On("Query", mock.Anything, mock.Anything, "acc-1").Return(&mocks.Rows{IterErr: iterErr}, nil)

		_, err := r.ListByAccount(t.Context(), "acc-1")
		require.ErrorIs(t, err, iterErr)
	})
}
