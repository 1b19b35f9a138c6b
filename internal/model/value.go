// Package model defines the data types that flow through the pipeline:
// typed field values, ordered events, chunks, and batches.
package model

import (
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"
)

// Kind discriminates the closed set of value types an event field can hold.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindInt
	KindFloat
	KindString
	KindTime
	KindDuration
	KindList
	KindMap
)

// String implements fmt.Stringer.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindString:
		return "string"
	case KindTime:
		return "time"
	case KindDuration:
		return "duration"
	case KindList:
		return "list"
	case KindMap:
		return "map"
	default:
		return "unknown"
	}
}

// Value is a tagged union over the closed set of field types. The zero
// Value is null.
type Value struct {
	kind Kind
	b    bool
	i    int64
	f    float64
	s    string
	t    time.Time
	d    time.Duration
	list []Value
	m    map[string]Value
}

// --- Constructors ---

func Null() Value                   { return Value{} }
func Bool(b bool) Value             { return Value{kind: KindBool, b: b} }
func Int(i int64) Value             { return Value{kind: KindInt, i: i} }
func Float(f float64) Value         { return Value{kind: KindFloat, f: f} }
func String(s string) Value         { return Value{kind: KindString, s: s} }
func Time(t time.Time) Value        { return Value{kind: KindTime, t: t} }
func Duration(d time.Duration) Value { return Value{kind: KindDuration, d: d} }
func List(vs []Value) Value         { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value  { return Value{kind: KindMap, m: m} }

// --- Accessors ---

func (v Value) Kind() Kind   { return v.kind }
func (v Value) IsNull() bool { return v.kind == KindNull }

func (v Value) AsBool() (bool, bool)              { return v.b, v.kind == KindBool }
func (v Value) AsInt() (int64, bool)              { return v.i, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)          { return v.f, v.kind == KindFloat }
func (v Value) AsString() (string, bool)          { return v.s, v.kind == KindString }
func (v Value) AsTime() (time.Time, bool)         { return v.t, v.kind == KindTime }
func (v Value) AsDuration() (time.Duration, bool) { return v.d, v.kind == KindDuration }
func (v Value) AsList() ([]Value, bool)           { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool)   { return v.m, v.kind == KindMap }

// FromAny converts a dynamically-typed value (script results, decoded
// JSON) into a Value. Unknown types fall back to their fmt rendering.
func FromAny(x interface{}) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case int:
		return Int(int64(t))
	case int32:
		return Int(int64(t))
	case int64:
		return Int(t)
	case uint:
		return Int(int64(t))
	case uint32:
		return Int(int64(t))
	case uint64:
		return Int(int64(t))
	case float32:
		return Float(float64(t))
	case float64:
		return Float(t)
	case string:
		return String(t)
	case []byte:
		return String(string(t))
	case time.Time:
		return Time(t)
	case time.Duration:
		return Duration(t)
	case json.Number:
		if i, err := t.Int64(); err == nil {
			return Int(i)
		}
		if f, err := t.Float64(); err == nil {
			return Float(f)
		}
		return String(t.String())
	case []interface{}:
		vs := make([]Value, len(t))
		for i, el := range t {
			vs[i] = FromAny(el)
		}
		return List(vs)
	case map[string]interface{}:
		m := make(map[string]Value, len(t))
		for k, el := range t {
			m[k] = FromAny(el)
		}
		return Map(m)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny converts the Value into the natural Go representation used when
// binding event fields into script evaluations.
func (v Value) ToAny() interface{} {
	switch v.kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt:
		return v.i
	case KindFloat:
		return v.f
	case KindString:
		return v.s
	case KindTime:
		return v.t
	case KindDuration:
		return v.d
	case KindList:
		out := make([]interface{}, len(v.list))
		for i, el := range v.list {
			out[i] = el.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]interface{}, len(v.m))
		for k, el := range v.m {
			out[k] = el.ToAny()
		}
		return out
	default:
		return nil
	}
}

// Render formats the value for human-readable output. Nested maps render
// with sorted keys so equal values always produce equal text.
func (v Value) Render() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindInt:
		return strconv.FormatInt(v.i, 10)
	case KindFloat:
		return strconv.FormatFloat(v.f, 'g', -1, 64)
	case KindString:
		return v.s
	case KindTime:
		return v.t.Format(time.RFC3339)
	case KindDuration:
		return v.d.String()
	case KindList, KindMap:
		var sb strings.Builder
		v.appendJSON(&sb)
		return sb.String()
	default:
		return ""
	}
}

// AppendJSON writes the JSON encoding of v to sb. Map keys are sorted.
func (v Value) AppendJSON(sb *strings.Builder) {
	v.appendJSON(sb)
}

func (v Value) appendJSON(sb *strings.Builder) {
	switch v.kind {
	case KindNull:
		sb.WriteString("null")
	case KindBool:
		sb.WriteString(strconv.FormatBool(v.b))
	case KindInt:
		sb.WriteString(strconv.FormatInt(v.i, 10))
	case KindFloat:
		sb.WriteString(strconv.FormatFloat(v.f, 'g', -1, 64))
	case KindString:
		writeJSONString(sb, v.s)
	case KindTime:
		writeJSONString(sb, v.t.Format(time.RFC3339Nano))
	case KindDuration:
		writeJSONString(sb, v.d.String())
	case KindList:
		sb.WriteByte('[')
		for i, el := range v.list {
			if i > 0 {
				sb.WriteByte(',')
			}
			el.appendJSON(sb)
		}
		sb.WriteByte(']')
	case KindMap:
		keys := make([]string, 0, len(v.m))
		for k := range v.m {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sb.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				sb.WriteByte(',')
			}
			writeJSONString(sb, k)
			sb.WriteByte(':')
			v.m[k].appendJSON(sb)
		}
		sb.WriteByte('}')
	}
}

func writeJSONString(sb *strings.Builder, s string) {
	b, _ := json.Marshal(s)
	sb.Write(b)
}

// Equal reports deep equality. Lists compare element-wise, maps key-wise.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindInt:
		return v.i == o.i
	case KindFloat:
		return v.f == o.f
	case KindString:
		return v.s == o.s
	case KindTime:
		return v.t.Equal(o.t)
	case KindDuration:
		return v.d == o.d
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	case KindMap:
		if len(v.m) != len(o.m) {
			return false
		}
		for k, el := range v.m {
			oe, ok := o.m[k]
			if !ok || !el.Equal(oe) {
				return false
			}
		}
		return true
	default:
		return false
	}
}

// ToNumber coerces the value to a number. Strings parse as int first,
// then float. The second return is false when no coercion exists.
func (v Value) ToNumber() (Value, bool) {
	switch v.kind {
	case KindInt, KindFloat:
		return v, true
	case KindBool:
		if v.b {
			return Int(1), true
		}
		return Int(0), true
	case KindString:
		s := strings.TrimSpace(v.s)
		if i, err := strconv.ParseInt(s, 10, 64); err == nil {
			return Int(i), true
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return Float(f), true
		}
		return Null(), false
	default:
		return Null(), false
	}
}

// ToBool coerces the value to a boolean. Recognized strings: true/false,
// yes/no, on/off, 1/0 (case-insensitive). The second return is false when
// no coercion exists.
func (v Value) ToBool() (Value, bool) {
	switch v.kind {
	case KindBool:
		return v, true
	case KindInt:
		return Bool(v.i != 0), true
	case KindFloat:
		return Bool(v.f != 0), true
	case KindString:
		switch strings.ToLower(strings.TrimSpace(v.s)) {
		case "true", "yes", "on", "1":
			return Bool(true), true
		case "false", "no", "off", "0", "":
			return Bool(false), true
		default:
			return Null(), false
		}
	default:
		return Null(), false
	}
}
