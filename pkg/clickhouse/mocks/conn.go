package mocks

import (
	"context"
	"strings"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

var _ driver.Conn = (*MockConn)(nil)

// MockConn is a mock implementation of driver.Conn. Calls are recorded as
// (ctx, query, extra..., args...) with variadic arguments flattened, so
// expectations read like the statement they match:
//
//	conn.On("QueryRow", mock.Anything, mocks.QueryContains("FROM wallet.run_markers"), "gen-1")
type MockConn struct {
	mock.Mock
}

// QueryContains matches a query argument containing every part.
func QueryContains(parts ...string) any {
	return mock.MatchedBy(func(q string) bool {
		for _, p := range parts {
			if !strings.Contains(q, p) {
				return false
			}
		}
		return true
	})
}

func (m *MockConn) call(method string, ctx context.Context, query string, extra []any, args []any) mock.Arguments {
	callArgs := make([]any, 0, 2+len(extra)+len(args))
	callArgs = append(callArgs, ctx, query)
	callArgs = append(callArgs, extra...)
	callArgs = append(callArgs, args...)
	return m.MethodCalled(method, callArgs...)
}

func (m *MockConn) Select(ctx context.Context, _ any, query string, args ...any) error {
	return m.call("Select", ctx, query, nil, args).Error(0)
}

func (m *MockConn) Query(ctx context.Context, query string, args ...any) (driver.Rows, error) {
	res := m.call("Query", ctx, query, nil, args)
	rows, _ := res.Get(0).(driver.Rows)
	return rows, res.Error(1)
}

// QueryRow returns the configured driver.Row, or nil when none was given.
func (m *MockConn) QueryRow(ctx context.Context, query string, args ...any) driver.Row {
	row, _ := m.call("QueryRow", ctx, query, nil, args).Get(0).(driver.Row)
	return row
}

func (m *MockConn) Exec(ctx context.Context, query string, args ...any) error {
	return m.call("Exec", ctx, query, nil, args).Error(0)
}

func (m *MockConn) AsyncInsert(ctx context.Context, query string, wait bool, args ...any) error {
	return m.call("AsyncInsert", ctx, query, []any{wait}, args).Error(0)
}

func (m *MockConn) PrepareBatch(ctx context.Context, query string, opts ...driver.PrepareBatchOption) (driver.Batch, error) {
	extra := make([]any, len(opts))
	for i, opt := range opts {
		extra[i] = opt
	}
	res := m.call("PrepareBatch", ctx, query, extra, nil)
	batch, _ := res.Get(0).(driver.Batch)
	return batch, res.Error(1)
}

func (m *MockConn) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockConn) Close() error {
	return m.Called().Error(0)
}

// Contributors, ServerVersion and Stats are not used by the repositories and
// return zero values without recording a call.

func (m *MockConn) Contributors() []string {
	return nil
}

func (m *MockConn) ServerVersion() (*driver.ServerVersion, error) {
	return &driver.ServerVersion{}, nil
}

func (m *MockConn) Stats() driver.Stats {
	return driver.Stats{}
}
