package mocks

import (
	"fmt"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var _ driver.Rows = (*Rows)(nil)

// Rows is a driver.Rows over Data. Each row scans like Row.
type Rows struct {
	Data    [][]any
	IterErr error

	pos    int
	closed bool
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
	return Row{Values: r.Data[r.pos-1]}.Scan(dest...)
}

func (r *Rows) ScanStruct(dest any) error {
	return r.Scan(dest)
}

func (r *Rows) ColumnTypes() []driver.ColumnType {
	return nil
}

func (r *Rows) Totals(...any) error {
	return nil
}

func (r *Rows) Columns() []string {
	return nil
}

func (r *Rows) Close() error {
	r.closed = true
	return nil
}

// Closed reports whether Close was called.
func (r *Rows) Closed() bool {
	return r.closed
}

func (r *Rows) Err() error {
	return r.IterErr
}
