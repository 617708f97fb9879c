package mocks

import (
	"context"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/mock"
)

// MockDB is a mock implementation of postgres.DB. Query arguments are
// flattened into the recorded call after the SQL text.
type MockDB struct {
	mock.Mock
}

func (m *MockDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	callArgs := append([]any{ctx, sql}, args...)
	res := m.Called(callArgs...)
	if res.Get(0) == nil {
		return pgconn.CommandTag{}, res.Error(1)
	}
	return res.Get(0).(pgconn.CommandTag), res.Error(1)
}

func (m *MockDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	callArgs := append([]any{ctx, sql}, args...)
	res := m.Called(callArgs...)
	if res.Get(0) == nil {
		return nil, res.Error(1)
	}
	return res.Get(0).(pgx.Rows), res.Error(1)
}

func (m *MockDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	callArgs := append([]any{ctx, sql}, args...)
	res := m.Called(callArgs...)
	return res.Get(0).(pgx.Row)
}

// Row is a pgx.Row that copies Values into the scan destinations in order,
// or returns Err.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return fmt.Errorf("scan: expected %d destinations, got %d", len(r.Values), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Pointer || dv.IsNil() {
			return fmt.Errorf("scan: destination %d is not a non-nil pointer", i)
		}
		v := reflect.ValueOf(r.Values[i])
		if !v.IsValid() {
			dv.Elem().SetZero()
			continue
		}
		if !v.Type().AssignableTo(dv.Elem().Type()) {
			return fmt.Errorf("scan: cannot assign %s to %s", v.Type(), dv.Elem().Type())
		}
		dv.Elem().Set(v)
	}
	return nil
}

var _ pgx.Rows = (*Rows)(nil)

// Rows is a pgx.Rows over fixed values. Each element of Data is one row.
type Rows struct {
	Data    [][]any
	ScanErr error
	IterErr error

	pos    int
	closed bool
}

func (r *Rows) Close() {
	r.closed = true
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool {
	return r.closed
}

func (r *Rows) Err() error {
	return r.IterErr
}

func (r *Rows) CommandTag() pgconn.CommandTag {
	return pgconn.NewCommandTag(fmt.Sprintf("SELECT %d", len(r.Data)))
}

func (r *Rows) FieldDescriptions() []pgconn.FieldDescription {
	return nil
}

func (r *Rows) Next() bool {
	if r.closed || r.pos >= len(r.Data) {
		return false
	}
	r.pos++
	return true
}

func (r *Rows) Scan(dest ...any) error {
	if r.pos == 0 {
		return fmt.Errorf("scan called before next")
	}
	return Row{Values: r.Data[r.pos-1], Err: r.ScanErr}.Scan(dest...)
}

func (r *Rows) Values() ([]any, error) {
	if r.pos == 0 {
		return nil, fmt.Errorf("values called before next")
	}
	return r.Data[r.pos-1], nil
}

func (r *Rows) RawValues() [][]byte {
	return nil
}

func (r *Rows) Conn() *pgx.Conn {
	return nil
}
