package task

import (
	"bytes"
	"encoding/json"
	"fmt"
	"maps"
	"math"
	"slices"
	"strconv"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
	KindMap
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	}
	return "kind(" + strconv.Itoa(int(k)) + ")"
}

// TypeError reports an accessor called on a Value of a different kind.
type TypeError struct {
	Want Kind
	Got  Kind
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("value is %s, not %s", e.Got, e.Want)
}

// Value is a dynamically typed parameter or output value. The zero Value is null.
type Value struct {
	kind Kind
	s    string
	i    int64
	f    float64
	b    bool
	list []Value
	m    map[string]Value
}

func Null() Value { return Value{} }

func String(s string) Value { return Value{kind: KindString, s: s} }

func Int(i int64) Value { return Value{kind: KindInt, i: i} }

func Float(f float64) Value { return Value{kind: KindFloat, f: f} }

func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

func List(vs ...Value) Value { return Value{kind: KindList, list: slices.Clone(vs)} }

func Map(m map[string]Value) Value { return Value{kind: KindMap, m: maps.Clone(m)} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsString() (string, error) {
	if v.kind != KindString {
		return "", &TypeError{Want: KindString, Got: v.kind}
	}
	return v.s, nil
}

func (v Value) AsInt() (int64, error) {
	if v.kind != KindInt {
		return 0, &TypeError{Want: KindInt, Got: v.kind}
	}
	return v.i, nil
}

// AsFloat returns the float value; ints widen to float.
func (v Value) AsFloat() (float64, error) {
	switch v.kind {
	case KindFloat:
		return v.f, nil
	case KindInt:
		return float64(v.i), nil
	}
	return 0, &TypeError{Want: KindFloat, Got: v.kind}
}

func (v Value) AsBool() (bool, error) {
	if v.kind != KindBool {
		return false, &TypeError{Want: KindBool, Got: v.kind}
	}
	return v.b, nil
}

func (v Value) AsList() ([]Value, error) {
	if v.kind != KindList {
		return nil, &TypeError{Want: KindList, Got: v.kind}
	}
	return slices.Clone(v.list), nil
}

func (v Value) AsMap() (map[string]Value, error) {
	if v.kind != KindMap {
		return nil, &TypeError{Want: KindMap, Got: v.kind}
	}
	return maps.Clone(v.m), nil
}

// Interface converts v to plain Go values (string, int64, float64, bool,
// []any, map[string]any, nil).
func (v Value) Interface() any {
	switch v.kind {
	case KindString:
		return v.s
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindBool:
		return v.b
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.Interface()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.Interface()
		}
		return out
	}
	return nil
}

func (v Value) String() string {
	switch v.kind {
	case KindString:
		return v.s
	case KindNull:
		return "null"
	}
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v.Interface())
	}
	return string(b)
}

// Equal reports deep equality. An int and a float are never equal.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.s == o.s
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindBool:
		return v.b == o.b
	case KindList:
		return slices.EqualFunc(v.list, o.list, Value.Equal)
	case KindMap:
		return maps.EqualFunc(v.m, o.m, Value.Equal)
	}
	return false
}

func (v Value) clone() Value {
	switch v.kind {
	case KindList:
		out := make([]Value, len(v.list))
		for i, e := range v.list {
			out[i] = e.clone()
		}
		return Value{kind: KindList, list: out}
	case KindMap:
		out := make(map[string]Value, len(v.m))
		for k, e := range v.m {
			out[k] = e.clone()
		}
		return Value{kind: KindMap, m: out}
	}
	return v
}

// FromAny converts a plain Go value into a Value. Supported inputs are nil,
// Value, strings, booleans, all integer and float kinds, json.Number,
// []any, []string, map[string]any and map[string]string.
func FromAny(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case Value:
		return t.clone(), nil
	case string:
		return String(t), nil
	case bool:
		return Bool(t), nil
	case int:
		return Int(int64(t)), nil
	case int8:
		return Int(int64(t)), nil
	case int16:
		return Int(int64(t)), nil
	case int32:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case uint:
		return Int(int64(t)), nil
	case uint8:
		return Int(int64(t)), nil
	case uint16:
		return Int(int64(t)), nil
	case uint32:
		return Int(int64(t)), nil
	case uint64:
		if t > math.MaxInt64 {
			return Value{}, fmt.Errorf("uint64 %d overflows int64", t)
		}
		return Int(int64(t)), nil
	case float32:
		return Float(float64(t)), nil
	case float64:
		return Float(t), nil
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i), nil
		}
		f, err := t.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q: %w", t, err)
		}
		return Float(f), nil
	case []string:
		out := make([]Value, len(t))
		for i, s := range t {
			out[i] = String(s)
		}
		return Value{kind: KindList, list: out}, nil
	case []any:
		out := make([]Value, len(t))
		for i, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = v
		}
		return Value{kind: KindList, list: out}, nil
	case map[string]string:
		out := make(map[string]Value, len(t))
		for k, s := range t {
			out[k] = String(s)
		}
		return Value{kind: KindMap, m: out}, nil
	case map[string]any:
		out := make(map[string]Value, len(t))
		for k, e := range t {
			v, err := FromAny(e)
			if err != nil {
				return Value{}, fmt.Errorf("key %s: %w", k, err)
			}
			out[k] = v
		}
		return Value{kind: KindMap, m: out}, nil
	}
	return Value{}, fmt.Errorf("unsupported value type %T", x)
}

func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindString:
		return json.Marshal(v.s)
	case KindInt:
		return json.Marshal(v.i)
	case KindFloat:
		if math.IsNaN(v.f) || math.IsInf(v.f, 0) {
			return nil, fmt.Errorf("cannot encode float %v", v.f)
		}
		b, err := json.Marshal(v.f)
		if err != nil {
			return nil, err
		}
		// Keep floats distinguishable from ints on the wire.
		if !bytes.ContainsAny(b, ".eE") {
			b = append(b, ".0"...)
		}
		return b, nil
	case KindBool:
		return json.Marshal(v.b)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	case KindMap:
		if v.m == nil {
			return []byte("{}"), nil
		}
		return json.Marshal(v.m)
	}
	return []byte("null"), nil
}

// UnmarshalJSON decodes any JSON value. Numbers without a fraction or
// exponent decode as ints, everything else numeric as floats.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	out, err := FromAny(raw)
	if err != nil {
		return err
	}
	*v = out
	return nil
}
