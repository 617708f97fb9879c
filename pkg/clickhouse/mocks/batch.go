package mocks

import (
	"github.com/ClickHouse/clickhouse-go/v2/lib/column"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/stretchr/testify/mock"
)

var _ driver.Batch = (*MockBatch)(nil)

// MockBatch is a mock implementation of driver.Batch. Append records each
// row so tests can assert on the inserted values.
type MockBatch struct {
	mock.Mock
	Appended [][]any
}

func (m *MockBatch) Abort() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBatch) Append(v ...any) error {
	m.Appended = append(m.Appended, v)
	args := m.Called(v...)
	return args.Error(0)
}

func (m *MockBatch) AppendStruct(v any) error {
	args := m.Called(v)
	return args.Error(0)
}

func (m *MockBatch) Column(i int) driver.BatchColumn {
	args := m.Called(i)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(driver.BatchColumn)
}

func (m *MockBatch) Flush() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBatch) Send() error {
	args := m.Called()
	return args.Error(0)
}

func (m *MockBatch) IsSent() bool {
	args := m.Called()
	return args.Bool(0)
}

func (m *MockBatch) Rows() int {
	return len(m.Appended)
}

func (m *MockBatch) Columns() []column.Interface {
	return nil
}

func (m *MockBatch) Close() error {
	args := m.Called()
	return args.Error(0)
}
