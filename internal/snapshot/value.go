// Package snapshot models the "tools data" tree exchanged between devices and
// the sync server.
//
// A snapshot maps a tool identifier to that tool's exported payload
// (conventionally {"version": N, "data": {...}}). Payloads are arbitrary JSON
// trees, so they are kept as a closed tagged Value instead of interface{}:
// the classifier, the timestamp extractor and the diff engine all switch on
// Kind and never need reflection.
package snapshot

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Kind is the JSON type of a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name.
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
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Value is an immutable JSON value. The zero Value is null.
//
// Numbers keep their original literal; Canonical normalises fractional
// literals when encoding.
type Value struct {
	obj  map[string]Value
	num  json.Number
	str  string
	arr  []Value
	kind Kind
	b    bool
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value {
	return Value{kind: KindNumber, num: json.Number(strconv.FormatInt(i, 10))}
}

// Number wraps a JSON number literal. The literal is not validated here;
// values decoded from JSON are always valid.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, arr: items}
}

// Object wraps a mapping. A nil map produces an empty object.
func Object(fields map[string]Value) Value {
	if fields == nil {
		fields = map[string]Value{}
	}
	return Value{kind: KindObject, obj: fields}
}

// Kind reports the JSON type of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// BoolValue returns the boolean payload (false for non-bool values).
func (v Value) BoolValue() bool { return v.b }

// NumberLiteral returns the number literal (empty for non-number values).
func (v Value) NumberLiteral() json.Number { return v.num }

// IsInteger reports whether v is a number written without a fraction or
// exponent.
func (v Value) IsInteger() bool {
	return v.kind == KindNumber && !strings.ContainsAny(string(v.num), ".eE")
}

// Str returns the string payload (empty for non-string values).
func (v Value) Str() string { return v.str }

// Items returns the elements of an array. The slice must not be modified.
func (v Value) Items() []Value { return v.arr }

// Fields returns the members of an object. The map must not be modified.
func (v Value) Fields() map[string]Value { return v.obj }

// Len returns the number of elements of an array or members of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Get returns the member stored under key when v is an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	field, ok := v.obj[key]
	return field, ok
}

// TypeName returns the short type name used in diff records:
// null, bool, int, float, str, list or dict.
func (v Value) TypeName() string {
	switch v.kind {
	case KindBool:
		return "bool"
	case KindNumber:
		if v.IsInteger() {
			return "int"
		}
		return "float"
	case KindString:
		return "str"
	case KindArray:
		return "list"
	case KindObject:
		return "dict"
	default:
		return "null"
	}
}

// MarshalJSON encodes v in canonical form.
func (v Value) MarshalJSON() ([]byte, error) {
	return Canonical(v), nil
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}

	decoded, err := fromAny(raw)
	if err != nil {
		return err
	}
	*v = decoded
	return nil
}

// Parse decodes a single JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := v.UnmarshalJSON(data); err != nil {
		return Value{}, err
	}
	return v, nil
}

func fromAny(raw any) (Value, error) {
	switch t := raw.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case string:
		return String(t), nil
	case []any:
		items := make([]Value, 0, len(t))
		for _, item := range t {
			converted, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			items = append(items, converted)
		}
		return Array(items...), nil
	case map[string]any:
		fields := make(map[string]Value, len(t))
		for key, item := range t {
			converted, err := fromAny(item)
			if err != nil {
				return Value{}, err
			}
			fields[key] = converted
		}
		return Object(fields), nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", raw)
	}
}

// Snapshot is the full exported state of one user: tool id -> tool payload.
type Snapshot map[string]Value

// ErrNotObject is returned when a document expected to be an object is not.
var ErrNotObject = errors.New("snapshot must be a JSON object")

// ParseSnapshot decodes a tools_data document. Every tool payload must be a
// JSON object.
func ParseSnapshot(data []byte) (Snapshot, error) {
	root, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("failed to decode snapshot: %w", err)
	}
	if root.Kind() != KindObject {
		return nil, ErrNotObject
	}

	s := make(Snapshot, root.Len())
	for toolID, payload := range root.Fields() {
		if payload.Kind() != KindObject {
			return nil, fmt.Errorf("tool %q: %w", toolID, ErrNotObject)
		}
		s[toolID] = payload
	}
	return s, nil
}

// Value returns the snapshot as an object value.
func (s Snapshot) Value() Value {
	fields := make(map[string]Value, len(s))
	for k, v := range s {
		fields[k] = v
	}
	return Object(fields)
}

// MarshalJSON encodes the snapshot in canonical form.
func (s Snapshot) MarshalJSON() ([]byte, error) {
	return Canonical(s.Value()), nil
}
