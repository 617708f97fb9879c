package testutils

import (
	"context"
	"sync"

	"github.com/stretchr/testify/mock"

	"github.com/walletkit/history-migrator/pkg/migration"
	"github.com/walletkit/history-migrator/pkg/types/history"
	"github.com/walletkit/history-migrator/pkg/types/legacy"
)

var (
	_ migration.LegacyReader = (*MockLegacyReader)(nil)
	_ migration.Builder      = (*MockBuilder)(nil)
	_ migration.Persister    = (*MockPersister)(nil)
	_ migration.Reporter     = (*RecordingReporter)(nil)
)

// MockLegacyReader is a mock implementation of migration.LegacyReader
type MockLegacyReader struct {
	mock.Mock
}

func (m *MockLegacyReader) GetPendingHistory(ctx context.Context, accountID string) ([]legacy.HistoryTx, error) {
	args := m.Called(ctx, accountID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]legacy.HistoryTx), args.Error(1)
}

func (m *MockLegacyReader) GetAllPendingHistory(ctx context.Context) ([]legacy.HistoryTx, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]legacy.HistoryTx), args.Error(1)
}

// BuildFunc computes a MockBuilder response from the request.
type BuildFunc func(ctx context.Context, params history.BuildParams) (*history.DecodedTx, error)

// MockBuilder is a mock implementation of migration.Builder. A BuildFunc
// passed as the first return value is invoked with the call arguments.
type MockBuilder struct {
	mock.Mock
}

func (m *MockBuilder) BuildDecodedTx(ctx context.Context, params history.BuildParams) (*history.DecodedTx, error) {
	args := m.Called(ctx, params)
	if fn, ok := args.Get(0).(BuildFunc); ok {
		return fn(ctx, params)
	}
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*history.DecodedTx), args.Error(1)
}

// MockPersister is a mock implementation of migration.Persister
type MockPersister struct {
	mock.Mock
}

func (m *MockPersister) SavePendingHistory(ctx context.Context, txs []history.AccountHistoryTx) error {
	args := m.Called(ctx, txs)
	return args.Error(0)
}

// Report is a single call captured by RecordingReporter.
type Report struct {
	Err     error
	Context migration.ErrorContext
}

// RecordingReporter keeps every reported failure in call order.
type RecordingReporter struct {
	mu      sync.Mutex
	reports []Report
}

func (r *RecordingReporter) Report(err error, ec migration.ErrorContext) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, Report{Err: err, Context: ec})
}

// Reports returns a copy of the captured reports.
func (r *RecordingReporter) Reports() []Report {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Report, len(r.reports))
	copy(out, r.reports)
	return out
}
