// Package columnar implements C10's conversion half: turning a batch of
// decoded records into a columnar schema + rows ready for a Parquet
// writer.
package columnar

import (
	"encoding/json"
	"sort"
)

// ColumnType is the widened type a column settles on after observing an
// entire batch.
type ColumnType int

const (
	ColumnNull ColumnType = iota
	ColumnBool
	ColumnInt64
	ColumnFloat64
	ColumnString
	ColumnStruct
	ColumnList
)

// Column describes one output column's widened type.
type Column struct {
	Name     string
	Type     ColumnType
	Nullable bool
	// Element is set when Type == ColumnList: the merged element type.
	Element *Column
}

// Batch is a converted set of records sharing one column layout.
type Batch struct {
	Columns []Column
	Rows    []map[string]interface{}
}

// Convert widens a batch of decoded records into columns: nulls pass
// through as nullable markers, integers widen to int64, mixed
// integer/float widen to float64, anything else mixed collapses to
// string; nested objects become struct columns, arrays become list
// columns whose element type is the merged element type.
func Convert(records []map[string]interface{}) Batch {
	var cols = map[string]*Column{}
	var order []string

	for _, rec := range records {
		var names = make([]string, 0, len(rec))
		for name := range rec {
			names = append(names, name)
		}
		sort.Strings(names)

		for _, name := range names {
			var value = rec[name]
			var existing, ok = cols[name]
			if !ok {
				existing = &Column{Name: name}
				cols[name] = existing
				order = append(order, name)
			}
			widen(existing, value)
		}
	}

	sort.Strings(order)
	var columns = make([]Column, 0, len(order))
	for _, name := range order {
		columns = append(columns, *cols[name])
	}

	var rows = make([]map[string]interface{}, 0, len(records))
	for _, rec := range records {
		rows = append(rows, normalizeRow(rec, columns))
	}

	return Batch{Columns: columns, Rows: rows}
}

func widen(col *Column, value interface{}) {
	switch v := value.(type) {
	case nil:
		col.Nullable = true
	case bool:
		mergeScalar(col, ColumnBool)
	case float64:
		if v == float64(int64(v)) {
			mergeScalar(col, ColumnInt64)
		} else {
			mergeScalar(col, ColumnFloat64)
		}
	case string:
		mergeScalar(col, ColumnString)
	case map[string]interface{}:
		mergeScalar(col, ColumnStruct)
	case []interface{}:
		var elem = col.Element
		if elem == nil {
			elem = &Column{Name: col.Name + ".element"}
		}
		for _, e := range v {
			widen(elem, e)
		}
		col.Element = elem
		mergeScalar(col, ColumnList)
	default:
		mergeScalar(col, ColumnString)
	}
}

func mergeScalar(col *Column, observed ColumnType) {
	if col.Type == ColumnNull {
		col.Type = observed
		return
	}
	if col.Type == observed {
		return
	}
	if isNumericColumn(col.Type) && isNumericColumn(observed) {
		col.Type = ColumnFloat64
		return
	}
	if col.Type == ColumnStruct || col.Type == ColumnList || observed == ColumnStruct || observed == ColumnList {
		// A composite clashing with anything else has no sensible scalar
		// fallback in a columnar layout; keep the composite's shape and
		// let row normalization coerce the odd value out to a string.
		if col.Type != ColumnStruct && col.Type != ColumnList {
			col.Type = observed
		}
		return
	}
	col.Type = ColumnString
}

func isNumericColumn(t ColumnType) bool { return t == ColumnInt64 || t == ColumnFloat64 }

func normalizeRow(rec map[string]interface{}, columns []Column) map[string]interface{} {
	var out = make(map[string]interface{}, len(columns))
	for _, col := range columns {
		out[col.Name] = coerceValue(rec[col.Name], col)
	}
	return out
}

func coerceValue(v interface{}, col Column) interface{} {
	if v == nil {
		return nil
	}
	switch col.Type {
	case ColumnInt64:
		if f, ok := v.(float64); ok {
			return int64(f)
		}
		return v
	case ColumnFloat64:
		if f, ok := v.(float64); ok {
			return f
		}
		return v
	case ColumnString:
		if s, ok := v.(string); ok {
			return s
		}
		return toDisplayString(v)
	case ColumnStruct:
		if b, err := json.Marshal(v); err == nil {
			return string(b)
		}
		return toDisplayString(v)
	case ColumnList:
		return normalizeList(v, col.Element)
	default:
		return v
	}
}

func normalizeList(v interface{}, elem *Column) []interface{} {
	var items, ok = v.([]interface{})
	if !ok || elem == nil {
		return nil
	}
	var out = make([]interface{}, len(items))
	for i, item := range items {
		out[i] = coerceValue(item, *elem)
	}
	return out
}

func toDisplayString(v interface{}) string {
	switch t := v.(type) {
	case string:
		return t
	case bool:
		if t {
			return "true"
		}
		return "false"
	default:
		if b, err := json.Marshal(t); err == nil {
			return string(b)
		}
		return ""
	}
}
