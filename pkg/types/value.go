package types

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"

	"github.com/shopspring/decimal"
)

// Kind identifies which variant a Value holds
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindMap
	KindList
)

// String returns the kind name
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindMap:
		return "map"
	case KindList:
		return "list"
	default:
		return "unknown"
	}
}

// Value is a structured log value. It holds exactly one of null, bool,
// decimal number, string, ordered map or sequence. The zero Value is null.
type Value struct {
	kind Kind
	b    bool
	n    decimal.Decimal
	s    string
	m    *OrderedMap
	l    []Value
}

// Null returns the null value
func Null() Value {
	return Value{}
}

// Bool wraps a boolean
func Bool(b bool) Value {
	return Value{kind: KindBool, b: b}
}

// Number wraps an arbitrary-precision decimal
func Number(d decimal.Decimal) Value {
	return Value{kind: KindNumber, n: d}
}

// String wraps a string
func String(s string) Value {
	return Value{kind: KindString, s: s}
}

// Map wraps an ordered map. A nil map becomes an empty one.
func Map(m *OrderedMap) Value {
	if m == nil {
		m = NewOrderedMap()
	}
	return Value{kind: KindMap, m: m}
}

// List wraps a sequence of values
func List(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindList, l: items}
}

// Strings builds a sequence of string values
func Strings(items []string) Value {
	values := make([]Value, len(items))
	for i, item := range items {
		values[i] = String(item)
	}
	return List(values...)
}

// Kind returns the variant held by v
func (v Value) Kind() Kind {
	return v.kind
}

// IsNull reports whether v is null
func (v Value) IsNull() bool {
	return v.kind == KindNull
}

// AsBool returns the boolean held by v
func (v Value) AsBool() (bool, bool) {
	return v.b, v.kind == KindBool
}

// AsDecimal returns the number held by v
func (v Value) AsDecimal() (decimal.Decimal, bool) {
	return v.n, v.kind == KindNumber
}

// AsString returns the string held by v
func (v Value) AsString() (string, bool) {
	return v.s, v.kind == KindString
}

// AsMap returns the map held by v
func (v Value) AsMap() (*OrderedMap, bool) {
	return v.m, v.kind == KindMap
}

// AsList returns the sequence held by v
func (v Value) AsList() ([]Value, bool) {
	return v.l, v.kind == KindList
}

// Native converts v into plain Go values. Numbers are narrowed to the
// smallest exact representation: int, then int64, then float64. Maps lose
// their key order.
func (v Value) Native() any {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return nativeNumber(v.n)
	case KindString:
		return v.s
	case KindMap:
		out := make(map[string]any, v.m.Len())
		v.m.Range(func(key string, value Value) bool {
			out[key] = value.Native()
			return true
		})
		return out
	case KindList:
		out := make([]any, len(v.l))
		for i, item := range v.l {
			out[i] = item.Native()
		}
		return out
	default:
		return nil
	}
}

func nativeNumber(d decimal.Decimal) any {
	exp := d.Exponent()
	if exp >= -maxPlainExponent && exp <= 18 && d.IsInteger() {
		if bi := d.BigInt(); bi.IsInt64() {
			i := bi.Int64()
			if i >= math.MinInt32 && i <= math.MaxInt32 {
				return int(i)
			}
			return i
		}
	}
	f, _ := strconv.ParseFloat(formatDecimal(d), 64)
	return f
}

// maxPlainExponent bounds the exponents written in plain notation. Beyond
// it a number like 1e100000000 would expand to millions of digits.
const maxPlainExponent = 20

func formatDecimal(d decimal.Decimal) string {
	exp := d.Exponent()
	if exp >= -maxPlainExponent && exp <= maxPlainExponent {
		return d.String()
	}
	return d.Coefficient().String() + "e" + strconv.FormatInt(int64(exp), 10)
}

// Equal reports whether a and b hold the same structure. Map key order is
// significant.
func Equal(a, b Value) bool {
	if a.kind != b.kind {
		return false
	}

	switch a.kind {
	case KindNull:
		return true
	case KindBool:
		return a.b == b.b
	case KindNumber:
		return a.n.Equal(b.n)
	case KindString:
		return a.s == b.s
	case KindMap:
		if a.m.Len() != b.m.Len() {
			return false
		}
		for i, key := range a.m.keys {
			if b.m.keys[i] != key || !Equal(a.m.values[key], b.m.values[key]) {
				return false
			}
		}
		return true
	case KindList:
		if len(a.l) != len(b.l) {
			return false
		}
		for i := range a.l {
			if !Equal(a.l[i], b.l[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalJSON writes v as JSON, keeping map key order and exact decimals
func (v Value) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := v.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (v Value) writeJSON(buf *bytes.Buffer) error {
	switch v.kind {
	case KindNull:
		buf.WriteString("null")
	case KindBool:
		buf.WriteString(strconv.FormatBool(v.b))
	case KindNumber:
		buf.WriteString(formatDecimal(v.n))
	case KindString:
		return writeJSONString(buf, v.s)
	case KindMap:
		return v.m.writeJSON(buf)
	case KindList:
		buf.WriteByte('[')
		for i, item := range v.l {
			if i > 0 {
				buf.WriteByte(',')
			}
			if err := item.writeJSON(buf); err != nil {
				return err
			}
		}
		buf.WriteByte(']')
	}
	return nil
}

// writeJSONString quotes s without HTML escaping; log text routinely
// carries <, > and & and should stay readable
func writeJSONString(buf *bytes.Buffer, s string) error {
	enc := json.NewEncoder(buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(s); err != nil {
		return err
	}
	// Encode terminates with a newline
	buf.Truncate(buf.Len() - 1)
	return nil
}

// OrderedMap is a string-keyed map that remembers insertion order.
// Setting an existing key replaces its value in place.
type OrderedMap struct {
	keys   []string
	values map[string]Value
}

// NewOrderedMap creates an empty map
func NewOrderedMap() *OrderedMap {
	return &OrderedMap{values: make(map[string]Value)}
}

// Set stores value under key
func (m *OrderedMap) Set(key string, value Value) {
	if m.values == nil {
		m.values = make(map[string]Value)
	}
	if _, ok := m.values[key]; !ok {
		m.keys = append(m.keys, key)
	}
	m.values[key] = value
}

// Get returns the value stored under key
func (m *OrderedMap) Get(key string) (Value, bool) {
	if m == nil {
		return Value{}, false
	}
	v, ok := m.values[key]
	return v, ok
}

// Len returns the number of entries
func (m *OrderedMap) Len() int {
	if m == nil {
		return 0
	}
	return len(m.keys)
}

// Keys returns the keys in insertion order
func (m *OrderedMap) Keys() []string {
	if m == nil {
		return nil
	}
	keys := make([]string, len(m.keys))
	copy(keys, m.keys)
	return keys
}

// Range calls fn for each entry in order until fn returns false
func (m *OrderedMap) Range(fn func(key string, value Value) bool) {
	if m == nil {
		return
	}
	for _, key := range m.keys {
		if !fn(key, m.values[key]) {
			return
		}
	}
}

// MarshalJSON writes the map as a JSON object in insertion order
func (m *OrderedMap) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	if err := m.writeJSON(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (m *OrderedMap) writeJSON(buf *bytes.Buffer) error {
	buf.WriteByte('{')
	for i, key := range m.Keys() {
		if i > 0 {
			buf.WriteByte(',')
		}
		if err := writeJSONString(buf, key); err != nil {
			return err
		}
		buf.WriteByte(':')
		if err := m.values[key].writeJSON(buf); err != nil {
			return err
		}
	}
	buf.WriteByte('}')
	return nil
}
