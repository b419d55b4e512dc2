// Package ether defines the self-describing application payload ("Ether
// envelope") exchanged over XCP connections, plus the Value type used to
// represent its heterogeneous payload/metadata maps.
package ether

import (
	"encoding/base64"
	"encoding/json"
	"fmt"
)

// Kind discriminates the shape of a Value's underlying data.
type Kind byte

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindBytes
	KindList
	KindMap
)

// Value is a tagged-variant holding one of the JSON-representable shapes
// an Ether payload or metadata entry may carry: string, integer, float,
// bool, raw bytes, an ordered list of Values, or a string-keyed map of
// Values. It exists because Go has no native "any JSON value" type that
// also supports a deterministic binary encoding (see codec.BinaryCodec).
type Value struct {
	kind Kind
	str  string
	i64  int64
	f64  float64
	b    bool
	bs   []byte
	list []Value
	m    map[string]Value
}

func String(s string) Value            { return Value{kind: KindString, str: s} }
func Int(i int64) Value                { return Value{kind: KindInt, i64: i} }
func Float(f float64) Value            { return Value{kind: KindFloat, f64: f} }
func Bool(b bool) Value                { return Value{kind: KindBool, b: b} }
func Bytes(b []byte) Value             { return Value{kind: KindBytes, bs: b} }
func List(vs []Value) Value            { return Value{kind: KindList, list: vs} }
func Map(m map[string]Value) Value     { return Value{kind: KindMap, m: m} }
func Null() Value                      { return Value{kind: KindNull} }

func (v Value) Kind() Kind { return v.kind }

func (v Value) AsString() (string, bool)        { return v.str, v.kind == KindString }
func (v Value) AsInt() (int64, bool)             { return v.i64, v.kind == KindInt }
func (v Value) AsFloat() (float64, bool)         { return v.f64, v.kind == KindFloat }
func (v Value) AsBool() (bool, bool)             { return v.b, v.kind == KindBool }
func (v Value) AsBytes() ([]byte, bool)          { return v.bs, v.kind == KindBytes }
func (v Value) AsList() ([]Value, bool)          { return v.list, v.kind == KindList }
func (v Value) AsMap() (map[string]Value, bool)  { return v.m, v.kind == KindMap }

// StringValue returns a best-effort string conversion: the value's JSON
// encoding, or "" if it cannot be encoded.
func (v Value) StringValue() string {
	b, _ := json.Marshal(v)
	return string(b)
}

// FromAny converts a generically-decoded JSON value (as produced by
// encoding/json into interface{}) into a Value. Used by the JSON codec
// when reconstructing Ether.Payload/Metadata/ExtraFields maps.
func FromAny(a any) Value {
	switch t := a.(type) {
	case nil:
		return Null()
	case string:
		return String(t)
	case float64:
		if t == float64(int64(t)) {
			return Int(int64(t))
		}
		return Float(t)
	case bool:
		return Bool(t)
	case []byte:
		return Bytes(t)
	case []any:
		vs := make([]Value, len(t))
		for i, e := range t {
			vs[i] = FromAny(e)
		}
		return List(vs)
	case map[string]any:
		m := make(map[string]Value, len(t))
		for k, e := range t {
			m[k] = FromAny(e)
		}
		return Map(m)
	default:
		return String(fmt.Sprintf("%v", t))
	}
}

// ToAny converts a Value back into a plain Go value suitable for
// encoding/json, the inverse of FromAny.
func (v Value) ToAny() any {
	switch v.kind {
	case KindNull:
		return nil
	case KindString:
		return v.str
	case KindInt:
		return v.i64
	case KindFloat:
		return v.f64
	case KindBool:
		return v.b
	case KindBytes:
		return v.bs
	case KindList:
		out := make([]any, len(v.list))
		for i, e := range v.list {
			out[i] = e.ToAny()
		}
		return out
	case KindMap:
		out := make(map[string]any, len(v.m))
		for k, e := range v.m {
			out[k] = e.ToAny()
		}
		return out
	default:
		return nil
	}
}

// MarshalJSON encodes bytes as a standard-base64 JSON string and
// otherwise emits the plain underlying value.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return json.Marshal(v.i64)
	case KindFloat:
		return json.Marshal(v.f64)
	case KindBool:
		return json.Marshal(v.b)
	case KindBytes:
		return json.Marshal(base64.StdEncoding.EncodeToString(v.bs))
	case KindList:
		return json.Marshal(v.list)
	case KindMap:
		return json.Marshal(v.m)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes into the generic shapes of encoding/json and
// classifies via FromAny; byte-string disambiguation from plain strings
// is not attempted here (raw JSON has no "this is bytes" marker), so
// attachments carry inline bytes outside of Value (see Attachment).
func (v *Value) UnmarshalJSON(data []byte) error {
	var a any
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*v = FromAny(a)
	return nil
}
