package engine

import (
	"fmt"
)

// Value is a single bound parameter value crossing the host/engine boundary.
// It mirrors the small closed set of types the engine's C-style API accepts:
// null, integer, float, text and blob. Booleans are carried as integers, the
// same convention the engine itself uses.
type Value struct {
	Null bool
	Int  int64
	Real float64
	Text string
	Blob []byte
	Kind ValueKind
}

// ValueKind discriminates which field of a Value is meaningful.
type ValueKind int

const (
	KindNull ValueKind = iota
	KindInt
	KindReal
	KindText
	KindBlob
)

func NullValue() Value             { return Value{Kind: KindNull, Null: true} }
func IntValue(v int64) Value       { return Value{Kind: KindInt, Int: v} }
func RealValue(v float64) Value    { return Value{Kind: KindReal, Real: v} }
func TextValue(v string) Value     { return Value{Kind: KindText, Text: v} }
func BlobValue(v []byte) Value     { return Value{Kind: KindBlob, Blob: v} }
func BoolValue(v bool) Value {
	if v {
		return IntValue(1)
	}
	return IntValue(0)
}

// AsDriverArg converts a Value into the form database/sql expects for a bound
// parameter.
func (v Value) AsDriverArg() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindInt:
		return v.Int
	case KindReal:
		return v.Real
	case KindText:
		return v.Text
	case KindBlob:
		return v.Blob
	default:
		return nil
	}
}

// ColumnMetadata describes one result column, mirroring §6's result shape.
type ColumnMetadata struct {
	ColumnName        string `json:"columnName"`
	ColumnDeclaredType string `json:"columnDeclaredType"`
	ColumnIndex        int    `json:"columnIndex"`
}

// Row is one result row keyed by column name. Cell values follow §6: integer
// columns are carried as float64 ("double") so a host numeric type with a
// narrower integer range can still represent them; text preserves embedded
// NUL bytes because it is built directly from the byte slice the engine
// returns (never a C-string truncated at the first NUL); blobs are plain
// byte slices, always freshly allocated and copied — never aliased against
// driver-owned buffers, which is the fix for the uninitialized-pointer
// memcpy defect noted in spec.md §9.
type Row map[string]any

// Result is the outcome of executing one statement, matching §6's shape.
type Result struct {
	RowsAffected int64            `json:"rowsAffected"`
	InsertID     *float64         `json:"insertId,omitempty"`
	Rows         *RowSet          `json:"rows,omitempty"`
	Metadata     []ColumnMetadata `json:"metadata,omitempty"`
}

// RowSet wraps a slice of rows with an explicit length, matching the
// "_array"/"length" envelope §6 specifies for host consumption.
type RowSet struct {
	Array  []Row `json:"_array"`
	Length int   `json:"length"`
}

// cloneBlob returns a freshly allocated copy of b. The engine's column
// accessor returns a buffer whose backing memory is only valid until the
// next step/finalize call; every blob cell must be copied out immediately.
func cloneBlob(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

func (r ColumnMetadata) String() string {
	return fmt.Sprintf("%s(%s)#%d", r.ColumnName, r.ColumnDeclaredType, r.ColumnIndex)
}
