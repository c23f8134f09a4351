package clickhouse

import (
	"fmt"
	"reflect"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"hermannm.dev/wrap"
)

// scanRows reads all rows into values of the Go types that the driver reports for each column.
// Closes the rows.
func scanRows(rows driver.Rows) ([][]any, error) {
	defer rows.Close()

	columnTypes := rows.ColumnTypes()

	var scanned [][]any
	for rows.Next() {
		pointers := make([]any, len(columnTypes))
		for i, columnType := range columnTypes {
			pointers[i] = reflect.New(columnType.ScanType()).Interface()
		}

		if err := rows.Scan(pointers...); err != nil {
			return nil, wrap.Errorf(err, "failed to scan result row %d", len(scanned)+1)
		}

		row := make([]any, len(pointers))
		for i, pointer := range pointers {
			row[i] = normalizeValue(reflect.ValueOf(pointer).Elem())
		}
		scanned = append(scanned, row)
	}

	if err := rows.Err(); err != nil {
		return nil, wrap.Error(err, "failed to read result rows")
	}

	return scanned, nil
}

// normalizeValue dereferences Nullable columns, and converts byte strings so values encode
// sensibly to JSON.
func normalizeValue(value reflect.Value) any {
	for value.Kind() == reflect.Pointer {
		if value.IsNil() {
			return nil
		}
		value = value.Elem()
	}

	if value.Kind() == reflect.Slice && value.Type().Elem().Kind() == reflect.Uint8 {
		return string(value.Bytes())
	}

	return value.Interface()
}

func toInt(value any) (int, error) {
	reflected := reflect.ValueOf(value)
	switch reflected.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return int(reflected.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return int(reflected.Uint()), nil
	default:
		return 0, fmt.Errorf("expected integer, got %T", value)
	}
}

func toLabel(value any) string {
	if value == nil {
		return ""
	}
	return fmt.Sprint(value)
}
