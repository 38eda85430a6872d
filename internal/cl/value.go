package cl

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// ValueKind tags the shape held by a Value.
type ValueKind uint8

const (
	ValueInvalid ValueKind = iota
	ValueString
	ValueUint
	ValueSize3
	ValueHandle
)

func (k ValueKind) String() string {
	switch k {
	case ValueString:
		return "string"
	case ValueUint:
		return "uint"
	case ValueSize3:
		return "size3"
	case ValueHandle:
		return "handle"
	default:
		return "invalid"
	}
}

// Value is the result of an info query. The query kind fixes its shape;
// callers read it through the accessor matching that shape.
type Value struct {
	kind   ValueKind
	str    string
	num    uint64
	dims   [3]uint64
	handle Handle
}

func stringValue(s string) Value     { return Value{kind: ValueString, str: s} }
func uintValue(n uint64) Value       { return Value{kind: ValueUint, num: n} }
func size3Value(d [3]uint64) Value   { return Value{kind: ValueSize3, dims: d} }
func handleValue(h Handle) Value     { return Value{kind: ValueHandle, handle: h} }
func (v Value) Kind() ValueKind      { return v.kind }
func (v Value) IsValid() bool        { return v.kind != ValueInvalid }
func (v Value) Str() (string, bool)  { return v.str, v.kind == ValueString }
func (v Value) Uint() (uint64, bool) { return v.num, v.kind == ValueUint }

func (v Value) Size3() ([3]uint64, bool) {
	return v.dims, v.kind == ValueSize3
}

func (v Value) Handle() (Handle, bool) {
	return v.handle, v.kind == ValueHandle
}

func (v Value) String() string {
	switch v.kind {
	case ValueString:
		return v.str
	case ValueUint:
		return strconv.FormatUint(v.num, 10)
	case ValueSize3:
		return fmt.Sprintf("(%d, %d, %d)", v.dims[0], v.dims[1], v.dims[2])
	case ValueHandle:
		return v.handle.String()
	default:
		return "<invalid>"
	}
}

// MarshalJSON encodes strings and numbers naturally, triples as arrays and
// handles as their numeric identifier.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case ValueString:
		return json.Marshal(v.str)
	case ValueUint:
		return json.Marshal(v.num)
	case ValueSize3:
		return json.Marshal(v.dims)
	case ValueHandle:
		return json.Marshal(uint64(v.handle))
	default:
		return []byte("null"), nil
	}
}
