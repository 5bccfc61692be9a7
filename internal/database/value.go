package database

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"time"
)

// ValueType tags the variant held by a Value.
type ValueType uint8

const (
	NullValue ValueType = iota
	IntegerValue
	FloatValue
	TextValue
	BlobValue
)

func (t ValueType) String() string {
	switch t {
	case IntegerValue:
		return "integer"
	case FloatValue:
		return "float"
	case TextValue:
		return "text"
	case BlobValue:
		return "blob"
	default:
		return "null"
	}
}

// Value is one result cell. Exactly one of the payload fields is
// meaningful, selected by Type.
type Value struct {
	Type  ValueType
	Int   int64
	Float float64
	Text  string
	Blob  []byte
}

func Null() Value { return Value{} }
func Integer(v int64) Value { return Value{Type: IntegerValue, Int: v} }
func Float(v float64) Value { return Value{Type: FloatValue, Float: v} }
func Text(v string) Value { return Value{Type: TextValue, Text: v} }
func Blob(v []byte) Value { return Value{Type: BlobValue, Blob: v} }
func (v Value) IsNull() bool { return v.Type == NullValue }

// valueOf converts what the sqlite3 driver scans into a Value.
func valueOf(src any) Value {
	switch x := src.(type) {
	case nil:
		return Null()
	case int64:
		return Integer(x)
	case float64:
		return Float(x)
	case string:
		return Text(x)
	case []byte:
		b := make([]byte, len(x))
		copy(b, x)
		return Blob(b)
	case bool:
		if x {
			return Integer(1)
		}
		return Integer(0)
	case time.Time:
		return Text(x.Format(time.RFC3339Nano))
	default:
		return Text(fmt.Sprint(x))
	}
}

// Any returns the Go value carried by v (nil, int64, float64, string or []byte).
func (v Value) Any() any {
	switch v.Type {
	case IntegerValue:
		return v.Int
	case FloatValue:
		return v.Float
	case TextValue:
		return v.Text
	case BlobValue:
		return v.Blob
	default:
		return nil
	}
}

// AsFloat returns the numeric value of integers and floats.
func (v Value) AsFloat() (float64, bool) {
	switch v.Type {
	case IntegerValue:
		return float64(v.Int), true
	case FloatValue:
		return v.Float, true
	case TextValue:
		f, err := strconv.ParseFloat(v.Text, 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// String renders v for terminal output.
func (v Value) String() string {
	switch v.Type {
	case IntegerValue:
		return strconv.FormatInt(v.Int, 10)
	case FloatValue:
		return strconv.FormatFloat(v.Float, 'g', -1, 64)
	case TextValue:
		return v.Text
	case BlobValue:
		return fmt.Sprintf("<blob %d bytes>", len(v.Blob))
	default:
		return "NULL"
	}
}

// MarshalJSON encodes the payload as a plain JSON value. Blobs become
// base64 strings and non-finite floats become null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Type {
	case IntegerValue:
		return json.Marshal(v.Int)
	case FloatValue:
		if math.IsNaN(v.Float) || math.IsInf(v.Float, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.Float)
	case TextValue:
		return json.Marshal(v.Text)
	case BlobValue:
		return json.Marshal(v.Blob)
	default:
		return []byte("null"), nil
	}
}

// ResultSet is the outcome of a read statement.
type ResultSet struct {
	Columns  []string  `json:"columns"`
	Rows     [][]Value `json:"rows"`
	RowCount int       `json:"row_count"`
}

// Records returns each row as a column name to value map.
// Later duplicate column names overwrite earlier ones.
func (rs *ResultSet) Records() []map[string]Value {
	out := make([]map[string]Value, len(rs.Rows))
	for i, row := range rs.Rows {
		rec := make(map[string]Value, len(rs.Columns))
		for j, col := range rs.Columns {
			if j < len(row) {
				rec[col] = row[j]
			}
		}
		out[i] = rec
	}
	return out
}

// Column returns the values of the named column, or nil when absent.
func (rs *ResultSet) Column(name string) []Value {
	idx := -1
	for i, c := range rs.Columns {
		if c == name {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil
	}
	out := make([]Value, len(rs.Rows))
	for i, row := range rs.Rows {
		out[i] = row[idx]
	}
	return out
}
