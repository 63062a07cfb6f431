// Package value implements RUNE's dynamically-typed term payload: an
// immutable, structurally-comparable sum type over null, bool, int64,
// string, array, and ordered-object.
package value

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	Null Kind = iota
	Bool
	Int
	String
	Array
	Object
)

func (k Kind) String() string {
	switch k {
	case Null:
		return "null"
	case Bool:
		return "bool"
	case Int:
		return "int"
	case String:
		return "string"
	case Array:
		return "array"
	case Object:
		return "object"
	default:
		return "unknown"
	}
}

// Value is an immutable, tagged datum. The zero Value is Null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	s    string
	arr  []Value
	obj  *object
}

// object is an ordered string -> Value map. Keys preserve insertion order;
// lookups are O(1) via the index map. Immutable after construction.
type object struct {
	keys []string
	vals map[string]Value
}

var internMu sync.Mutex
var internTable = make(map[string]string)

// intern returns a canonical copy of s so that repeated equal strings share
// backing storage. This is purely an optimization: equality and hashing of
// Values never depend on whether a string was interned.
func intern(s string) string {
	internMu.Lock()
	defer internMu.Unlock()
	if v, ok := internTable[s]; ok {
		return v
	}
	internTable[s] = s
	return s
}

// NullValue returns the null Value.
func NullValue() Value { return Value{kind: Null} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{kind: Bool, b: b} }

// IntValue returns a signed 64-bit integer Value.
func IntValue(i int64) Value { return Value{kind: Int, i: i} }

// StringValue returns an interned string Value.
func StringValue(s string) Value { return Value{kind: String, s: intern(s)} }

// ArrayValue returns an array Value over a copy of items.
func ArrayValue(items ...Value) Value {
	cp := make([]Value, len(items))
	copy(cp, items)
	return Value{kind: Array, arr: cp}
}

// Pair is a single key/value entry used to build an Object Value.
type Pair struct {
	Key   string
	Value Value
}

// ObjectValue returns an ordered-map Value built from pairs, in the order
// given. A later duplicate key overwrites the earlier value but the key's
// original position is kept.
func ObjectValue(pairs ...Pair) Value {
	o := &object{vals: make(map[string]Value, len(pairs))}
	for _, p := range pairs {
		if _, exists := o.vals[p.Key]; !exists {
			o.keys = append(o.keys, p.Key)
		}
		o.vals[p.Key] = p.Value
	}
	return Value{kind: Object, obj: o}
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// Bool returns the boolean payload; only meaningful when Kind() == Bool.
func (v Value) Bool() bool { return v.b }

// Int returns the integer payload; only meaningful when Kind() == Int.
func (v Value) Int() int64 { return v.i }

// Str returns the string payload; only meaningful when Kind() == String.
func (v Value) Str() string { return v.s }

// Array returns the element slice; only meaningful when Kind() == Array.
// The returned slice must not be mutated.
func (v Value) Array() []Value { return v.arr }

// ObjectKeys returns the object's keys in insertion order; only meaningful
// when Kind() == Object.
func (v Value) ObjectKeys() []string {
	if v.obj == nil {
		return nil
	}
	return v.obj.keys
}

// ObjectGet looks up a key; only meaningful when Kind() == Object.
func (v Value) ObjectGet(key string) (Value, bool) {
	if v.obj == nil {
		return Value{}, false
	}
	val, ok := v.obj.vals[key]
	return val, ok
}

// Equal reports structural equality. Kind must match; payloads are compared
// recursively for Array and Object.
func (v Value) Equal(other Value) bool {
	if v.kind != other.kind {
		return false
	}
	switch v.kind {
	case Null:
		return true
	case Bool:
		return v.b == other.b
	case Int:
		return v.i == other.i
	case String:
		return v.s == other.s
	case Array:
		if len(v.arr) != len(other.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(other.arr[i]) {
				return false
			}
		}
		return true
	case Object:
		ak, bk := v.ObjectKeys(), other.ObjectKeys()
		if len(ak) != len(bk) {
			return false
		}
		for _, k := range ak {
			av, _ := v.ObjectGet(k)
			bv, ok := other.ObjectGet(k)
			if !ok || !av.Equal(bv) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// Key returns a canonical string encoding suitable for use as a map key or
// for content hashing. Two Values are Equal iff their Key()s are identical.
// Object keys are sorted so that Key() does not depend on construction
// order.
func (v Value) Key() string {
	var sb strings.Builder
	v.writeKey(&sb)
	return sb.String()
}

func (v Value) writeKey(sb *strings.Builder) {
	switch v.kind {
	case Null:
		sb.WriteString("n:")
	case Bool:
		sb.WriteString("b:")
		sb.WriteString(strconv.FormatBool(v.b))
	case Int:
		sb.WriteString("i:")
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case String:
		sb.WriteString("s:")
		sb.WriteString(strconv.Itoa(len(v.s)))
		sb.WriteByte(':')
		sb.WriteString(v.s)
	case Array:
		sb.WriteString("a:[")
		for i, e := range v.arr {
			if i > 0 {
				sb.WriteByte(',')
			}
			e.writeKey(sb)
		}
		sb.WriteByte(']')
	case Object:
		keys := append([]string(nil), v.ObjectKeys()...)
		sort.Strings(keys)
		sb.WriteString("o:{")
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(strconv.Itoa(len(k)))
			sb.WriteByte(':')
			sb.WriteString(k)
			sb.WriteByte('=')
			val, _ := v.ObjectGet(k)
			val.writeKey(sb)
		}
		sb.WriteByte('}')
	}
}

// String renders a human-readable form, used in diagnostics and rule text.
func (v Value) String() string {
	switch v.kind {
	case Null:
		return "null"
	case Bool:
		return strconv.FormatBool(v.b)
	case Int:
		return strconv.FormatInt(v.i, 10)
	case String:
		return strconv.Quote(v.s)
	case Array:
		parts := make([]string, len(v.arr))
		for i, e := range v.arr {
			parts[i] = e.String()
		}
		return "[" + strings.Join(parts, ", ") + "]"
	case Object:
		parts := make([]string, 0, len(v.ObjectKeys()))
		for _, k := range v.ObjectKeys() {
			val, _ := v.ObjectGet(k)
			parts = append(parts, fmt.Sprintf("%q: %s", k, val.String()))
		}
		return "{" + strings.Join(parts, ", ") + "}"
	default:
		return "?"
	}
}
