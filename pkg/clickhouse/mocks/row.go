package mocks

import (
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

var _ driver.Row = Row{}

// Row is a driver.Row that copies Values into the scan destinations in order,
// or returns ScanErr.
type Row struct {
	Values  []any
	ScanErr error
}

func (r Row) Scan(dest ...any) error {
	if r.ScanErr != nil {
		return r.ScanErr
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

func (r Row) ScanStruct(dest any) error {
	return r.Scan(dest)
}

func (r Row) Err() error {
	return r.ScanErr
}
