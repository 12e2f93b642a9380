package metadata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// Kind identifies which variant a Value holds
type Kind int

const (
	// KindAbsent is a missing value (unknown key, JSON null, or a non-scalar)
	KindAbsent Kind = iota
	// KindString holds a string
	KindString
	// KindNumber holds a float64
	KindNumber
	// KindBool holds a boolean
	KindBool
)

// String returns the name of the kind
func (k Kind) String() string {
	switch k {
	case KindAbsent:
		return "absent"
	case KindString:
		return "string"
	case KindNumber:
		return "number"
	case KindBool:
		return "boolean"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Value is a JSON-typed scalar: string, number, boolean or absent.
// The zero Value is Absent.
type Value struct {
	kind Kind
	str  string
	num  float64
	b    bool
}

// Absent returns the absent value
func Absent() Value { return Value{} }

// String returns a string value
func String(s string) Value { return Value{kind: KindString, str: s} }

// Number returns a number value
func Number(n float64) Value { return Value{kind: KindNumber, num: n} }

// Bool returns a boolean value
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Kind returns the variant held by v
func (v Value) Kind() Kind { return v.kind }

// IsAbsent reports whether v is absent
func (v Value) IsAbsent() bool { return v.kind == KindAbsent }

// Str returns the string payload; only meaningful for KindString
func (v Value) Str() string { return v.str }

// Num returns the number payload; only meaningful for KindNumber
func (v Value) Num() float64 { return v.num }

// Boolean returns the boolean payload; only meaningful for KindBool
func (v Value) Boolean() bool { return v.b }

// Equal reports whether a and b hold the same variant and payload.
// Two absent values are equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindString:
		return v.str == o.str
	case KindNumber:
		return v.num == o.num
	case KindBool:
		return v.b == o.b
	default:
		return true
	}
}

// GoString renders the value for debugging and query text
func (v Value) GoString() string {
	switch v.kind {
	case KindString:
		return strconv.Quote(v.str)
	case KindNumber:
		return strconv.FormatFloat(v.num, 'g', -1, 64)
	case KindBool:
		return strconv.FormatBool(v.b)
	default:
		return "<absent>"
	}
}

// Interface returns the value as a plain Go value (nil when absent)
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindString:
		return v.str
	case KindNumber:
		return v.num
	case KindBool:
		return v.b
	default:
		return nil
	}
}

// MarshalJSON implements json.Marshaler; absent encodes as null
func (v Value) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Interface())
}

// UnmarshalJSON implements json.Unmarshaler. Objects, arrays and null decode as absent.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		*v = Absent()
		return nil
	}

	switch data[0] {
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = String(s)
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = Bool(b)
	case 'n', '{', '[':
		*v = Absent()
	default:
		var n float64
		if err := json.Unmarshal(data, &n); err != nil {
			return fmt.Errorf("invalid parameter value %s: %w", data, err)
		}
		*v = Number(n)
	}
	return nil
}

// FromInterface converts a decoded JSON value (or a plain Go scalar) to a Value
func FromInterface(x interface{}) Value {
	switch t := x.(type) {
	case string:
		return String(t)
	case bool:
		return Bool(t)
	case float64:
		return Number(t)
	case float32:
		return Number(float64(t))
	case int:
		return Number(float64(t))
	case int64:
		return Number(float64(t))
	case json.Number:
		n, err := t.Float64()
		if err != nil {
			return Absent()
		}
		return Number(n)
	default:
		return Absent()
	}
}
