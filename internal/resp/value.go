package resp

import "strings"

// Type is the RESP type tag of a decoded message.
type Type byte

const (
	TypeSimpleString Type = RESPString
	TypeBulkString   Type = RESPBulkString
	TypeArray        Type = RESPArray
)

func (t Type) String() string {
	switch t {
	case TypeSimpleString:
		return "simple string"
	case TypeBulkString:
		return "bulk string"
	case TypeArray:
		return "array"
	}
	return "unknown"
}

// Value is one decoded RESP message. Str holds the text of simple and bulk
// strings; Array holds the elements of an array in wire order.
type Value struct {
	Type  Type
	Str   string
	Array []Value
}

// Text coerces the value to plain text. Arrays are flattened with single
// spaces between their elements.
func (v Value) Text() string {
	if v.Type != TypeArray {
		return v.Str
	}
	parts := make([]string, len(v.Array))
	for i, e := range v.Array {
		parts[i] = e.Text()
	}
	return strings.Join(parts, " ")
}

// Strings returns the elements of an array as text. A scalar value yields a
// single-element slice.
func (v Value) Strings() []string {
	if v.Type != TypeArray {
		return []string{v.Str}
	}
	out := make([]string, len(v.Array))
	for i, e := range v.Array {
		out[i] = e.Text()
	}
	return out
}
