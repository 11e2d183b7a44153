// Package value implements the dynamic typed-value tagged union used for
// WriterMessage metadata and other loosely-typed wire payloads (spec §9).
//
// The wire substrate is protobuf's structpb, whose own oneof
// (Null|Number|String|Bool|Struct|List) already matches the shape YDB needs;
// Optional and Tuple are layered on top since structpb has no native concept
// of either.
package value

import (
	"fmt"

	"google.golang.org/protobuf/types/known/structpb"
)

// Kind tags a Value variant.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindInt32
	KindInt64
	KindUint32
	KindUint64
	KindFloat
	KindDouble
	KindBytes
	KindText
	KindOptional
	KindList
	KindDict
	KindTuple
	KindStruct
)

// Value is the tagged union. Only the field matching Kind is populated.
type Value struct {
	Kind Kind

	b    bool
	i32  int32
	i64  int64
	u32  uint32
	u64  uint64
	f32  float32
	f64  float64
	bs   []byte
	text string

	// Optional wraps Inner; Inner == nil means an absent optional.
	Inner *Value

	// List/Tuple elements.
	Items []Value

	// Dict pairs, order-preserving.
	Pairs []DictPair

	// Struct fields, order-preserving.
	Fields []StructField
}

// DictPair is one key/value entry of a Dict value.
type DictPair struct {
	Key   Value
	Value Value
}

// StructField is one named field of a Struct value.
type StructField struct {
	Name  string
	Value Value
}

func Null() Value                  { return Value{Kind: KindNull} }
func Bool(v bool) Value            { return Value{Kind: KindBool, b: v} }
func Int32(v int32) Value          { return Value{Kind: KindInt32, i32: v} }
func Int64(v int64) Value          { return Value{Kind: KindInt64, i64: v} }
func Uint32(v uint32) Value        { return Value{Kind: KindUint32, u32: v} }
func Uint64(v uint64) Value        { return Value{Kind: KindUint64, u64: v} }
func Float(v float32) Value        { return Value{Kind: KindFloat, f32: v} }
func Double(v float64) Value       { return Value{Kind: KindDouble, f64: v} }
func Bytes(v []byte) Value         { return Value{Kind: KindBytes, bs: v} }
func Text(v string) Value          { return Value{Kind: KindText, text: v} }
func List(items ...Value) Value    { return Value{Kind: KindList, Items: items} }
func Tuple(items ...Value) Value   { return Value{Kind: KindTuple, Items: items} }
func Dict(pairs ...DictPair) Value { return Value{Kind: KindDict, Pairs: pairs} }
func Struct(fields ...StructField) Value {
	return Value{Kind: KindStruct, Fields: fields}
}

// Optional wraps v as a present optional; OptionalNone returns an absent one.
func Optional(v Value) Value { return Value{Kind: KindOptional, Inner: &v} }
func OptionalNone() Value    { return Value{Kind: KindOptional, Inner: nil} }

func (v Value) Bool() bool       { return v.b }
func (v Value) Int32() int32     { return v.i32 }
func (v Value) Int64() int64     { return v.i64 }
func (v Value) Uint32() uint32   { return v.u32 }
func (v Value) Uint64() uint64   { return v.u64 }
func (v Value) Float32() float32 { return v.f32 }
func (v Value) Float64() float64 { return v.f64 }
func (v Value) Bytes() []byte    { return v.bs }
func (v Value) Text() string     { return v.text }

// Encode renders v as a structpb.Value for wire transmission.
//
// Int64/Uint64/Bytes have no lossless structpb primitive, so they are
// carried as StringValue (decimal / base64-free raw string for bytes is not
// safe, so Bytes encodes as a list of numbers instead). Optional either
// erases to the inner encoding (present) or NullValue (absent). Tuple
// encodes as a List; structpb itself cannot distinguish the two, so
// round-tripping a bare structpb.Value back through DecodeValue always
// yields a List, never a Tuple — callers that need Tuple fidelity keep the
// original Value rather than decoding from wire.
func (v Value) Encode() (*structpb.Value, error) {
	switch v.Kind {
	case KindNull:
		return structpb.NewNullValue(), nil
	case KindBool:
		return structpb.NewBoolValue(v.b), nil
	case KindInt32:
		return structpb.NewNumberValue(float64(v.i32)), nil
	case KindUint32:
		return structpb.NewNumberValue(float64(v.u32)), nil
	case KindInt64:
		return structpb.NewStringValue(fmt.Sprintf("%d", v.i64)), nil
	case KindUint64:
		return structpb.NewStringValue(fmt.Sprintf("%d", v.u64)), nil
	case KindFloat:
		return structpb.NewNumberValue(float64(v.f32)), nil
	case KindDouble:
		return structpb.NewNumberValue(v.f64), nil
	case KindText:
		return structpb.NewStringValue(v.text), nil
	case KindBytes:
		nums := make([]any, len(v.bs))
		for i, b := range v.bs {
			nums[i] = float64(b)
		}
		lv, err := structpb.NewList(nums)
		if err != nil {
			return nil, err
		}
		return structpb.NewListValue(lv), nil
	case KindOptional:
		if v.Inner == nil {
			return structpb.NewNullValue(), nil
		}
		return v.Inner.Encode()
	case KindList, KindTuple:
		items := make([]any, len(v.Items))
		for i, it := range v.Items {
			pv, err := it.Encode()
			if err != nil {
				return nil, err
			}
			items[i] = pv.AsInterface()
		}
		lv, err := structpb.NewList(items)
		if err != nil {
			return nil, err
		}
		return structpb.NewListValue(lv), nil
	case KindDict:
		fields := make(map[string]any, len(v.Pairs))
		for _, p := range v.Pairs {
			pv, err := p.Value.Encode()
			if err != nil {
				return nil, err
			}
			fields[dictKeyString(p.Key)] = pv.AsInterface()
		}
		sv, err := structpb.NewStruct(fields)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(sv), nil
	case KindStruct:
		fields := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			pv, err := f.Value.Encode()
			if err != nil {
				return nil, err
			}
			fields[f.Name] = pv.AsInterface()
		}
		sv, err := structpb.NewStruct(fields)
		if err != nil {
			return nil, err
		}
		return structpb.NewStructValue(sv), nil
	default:
		return nil, fmt.Errorf("value: unknown kind %d", v.Kind)
	}
}

func dictKeyString(k Value) string {
	switch k.Kind {
	case KindText:
		return k.text
	case KindInt32:
		return fmt.Sprintf("%d", k.i32)
	case KindInt64:
		return fmt.Sprintf("%d", k.i64)
	default:
		return fmt.Sprintf("%v", k)
	}
}

// DecodeValue reconstructs a Value from a structpb.Value. The result always
// classifies numbers as Double, lists as List, and structs as Struct —
// narrower types (Int32, Tuple, Dict) only arise from values constructed
// directly in Go, never from a wire round-trip; see Encode's doc comment.
func DecodeValue(pv *structpb.Value) (Value, error) {
	switch k := pv.GetKind().(type) {
	case *structpb.Value_NullValue:
		return Null(), nil
	case *structpb.Value_BoolValue:
		return Bool(k.BoolValue), nil
	case *structpb.Value_NumberValue:
		return Double(k.NumberValue), nil
	case *structpb.Value_StringValue:
		return Text(k.StringValue), nil
	case *structpb.Value_ListValue:
		items := make([]Value, 0, len(k.ListValue.GetValues()))
		for _, e := range k.ListValue.GetValues() {
			dv, err := DecodeValue(e)
			if err != nil {
				return Value{}, err
			}
			items = append(items, dv)
		}
		return List(items...), nil
	case *structpb.Value_StructValue:
		names := make([]string, 0, len(k.StructValue.GetFields()))
		for name := range k.StructValue.GetFields() {
			names = append(names, name)
		}
		fields := make([]StructField, 0, len(names))
		for _, name := range names {
			dv, err := DecodeValue(k.StructValue.GetFields()[name])
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, StructField{Name: name, Value: dv})
		}
		return Struct(fields...), nil
	default:
		return Value{}, fmt.Errorf("value: unrecognized structpb kind %T", k)
	}
}

// FromGo converts a native Go value into a Value, the way a caller builds
// WriterMessage metadata without hand-constructing variants. Heterogeneous
// []any of map[string]any produce Struct elements with optional-lifted
// fields when keys are missing across elements, per spec §8's round-trip
// property.
func FromGo(x any) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case int32:
		return Int32(t), nil
	case int64:
		return Int64(t), nil
	case int:
		return Int64(int64(t)), nil
	case uint32:
		return Uint32(t), nil
	case uint64:
		return Uint64(t), nil
	case float32:
		return Float(t), nil
	case float64:
		return Double(t), nil
	case string:
		return Text(t), nil
	case []byte:
		return Bytes(t), nil
	case []any:
		return fromGoSlice(t)
	case map[string]any:
		return fromGoMap(t)
	case *Value:
		return *t, nil
	case Value:
		return t, nil
	default:
		return Value{}, fmt.Errorf("value: unsupported go type %T", x)
	}
}

func fromGoSlice(items []any) (Value, error) {
	allMaps := len(items) > 0
	for _, it := range items {
		if _, ok := it.(map[string]any); !ok {
			allMaps = false
			break
		}
	}
	if allMaps {
		return fromGoHeterogeneousStructs(items)
	}
	vs := make([]Value, len(items))
	for i, it := range items {
		v, err := FromGo(it)
		if err != nil {
			return Value{}, err
		}
		vs[i] = v
	}
	return List(vs...), nil
}

// fromGoHeterogeneousStructs unions the keys across all elements; fields
// absent on a given element become an absent Optional, and fields present
// become a present Optional, so every element's Struct has the same field
// set (the "optional-lifted fields" behavior spec §8 requires).
func fromGoHeterogeneousStructs(items []any) (Value, error) {
	order := []string{}
	seen := map[string]bool{}
	for _, it := range items {
		m := it.(map[string]any)
		for k := range m {
			if !seen[k] {
				seen[k] = true
				order = append(order, k)
			}
		}
	}

	out := make([]Value, len(items))
	for i, it := range items {
		m := it.(map[string]any)
		fields := make([]StructField, 0, len(order))
		for _, k := range order {
			raw, present := m[k]
			if !present {
				fields = append(fields, StructField{Name: k, Value: OptionalNone()})
				continue
			}
			v, err := FromGo(raw)
			if err != nil {
				return Value{}, err
			}
			fields = append(fields, StructField{Name: k, Value: Optional(v)})
		}
		out[i] = Struct(fields...)
	}
	return List(out...), nil
}

func fromGoMap(m map[string]any) (Value, error) {
	fields := make([]StructField, 0, len(m))
	for k, raw := range m {
		v, err := FromGo(raw)
		if err != nil {
			return Value{}, err
		}
		fields = append(fields, StructField{Name: k, Value: v})
	}
	return Struct(fields...), nil
}

// ToGo converts v back to a native Go representation, the inverse of FromGo
// for the primitive/list/struct/optional subset spec §8 requires to
// round-trip.
func (v Value) ToGo() any {
	switch v.Kind {
	case KindNull:
		return nil
	case KindBool:
		return v.b
	case KindInt32:
		return v.i32
	case KindInt64:
		return v.i64
	case KindUint32:
		return v.u32
	case KindUint64:
		return v.u64
	case KindFloat:
		return v.f32
	case KindDouble:
		return v.f64
	case KindText:
		return v.text
	case KindBytes:
		return v.bs
	case KindOptional:
		if v.Inner == nil {
			return nil
		}
		return v.Inner.ToGo()
	case KindList, KindTuple:
		out := make([]any, len(v.Items))
		for i, it := range v.Items {
			out[i] = it.ToGo()
		}
		return out
	case KindStruct:
		out := make(map[string]any, len(v.Fields))
		for _, f := range v.Fields {
			out[f.Name] = f.Value.ToGo()
		}
		return out
	case KindDict:
		out := make(map[string]any, len(v.Pairs))
		for _, p := range v.Pairs {
			out[dictKeyString(p.Key)] = p.Value.ToGo()
		}
		return out
	default:
		return nil
	}
}

