package model

import (
	"fmt"
	"math"

	"go.mongodb.org/mongo-driver/v2/bson"
)

// ValueKind tags the variant held by a PropValue.
type ValueKind uint8

const (
	KindNull ValueKind = iota
	KindBool
	KindI64
	KindF64
	KindString
	KindBytes
	KindVectorF32
)

// PropValue is the tagged-variant property value described in spec.md §3:
// null, bool, i64, f64, string, bytes or a fixed-dimension f32 vector.
// Only one of the typed fields is meaningful, selected by Kind.
type PropValue struct {
	Kind   ValueKind
	Bool   bool
	I64    int64
	F64    float64
	Str    string
	Bytes  []byte
	Vector []float32
}

func NullValue() PropValue            { return PropValue{Kind: KindNull} }
func BoolValue(b bool) PropValue      { return PropValue{Kind: KindBool, Bool: b} }
func I64Value(v int64) PropValue      { return PropValue{Kind: KindI64, I64: v} }
func F64Value(v float64) PropValue    { return PropValue{Kind: KindF64, F64: v} }
func StringValue(s string) PropValue  { return PropValue{Kind: KindString, Str: s} }
func BytesValue(b []byte) PropValue   { return PropValue{Kind: KindBytes, Bytes: b} }
func VectorValue(v []float32) PropValue {
	return PropValue{Kind: KindVectorF32, Vector: v}
}

// Equal reports whether two values carry the same kind and payload.
func (v PropValue) Equal(o PropValue) bool {
	if v.Kind != o.Kind {
		return false
	}
	switch v.Kind {
	case KindNull:
		return true
	case KindBool:
		return v.Bool == o.Bool
	case KindI64:
		return v.I64 == o.I64
	case KindF64:
		return v.F64 == o.F64
	case KindString:
		return v.Str == o.Str
	case KindBytes:
		return string(v.Bytes) == string(o.Bytes)
	case KindVectorF32:
		if len(v.Vector) != len(o.Vector) {
			return false
		}
		for i := range v.Vector {
			if v.Vector[i] != o.Vector[i] {
				return false
			}
		}
		return true
	}
	return false
}

// MarshalBSONValue lets a PropValue sit directly inside a bson.D document,
// the same round trip the teacher used for whole documents but applied
// here to a single tagged field so node/edge property maps serialize
// without a bespoke wire format.
func (v PropValue) MarshalBSONValue() (bson.Type, []byte, error) {
	switch v.Kind {
	case KindNull:
		return bson.MarshalValue(nil)
	case KindBool:
		return bson.MarshalValue(v.Bool)
	case KindI64:
		return bson.MarshalValue(v.I64)
	case KindF64:
		return bson.MarshalValue(v.F64)
	case KindString:
		return bson.MarshalValue(v.Str)
	case KindBytes:
		return bson.MarshalValue(v.Bytes)
	case KindVectorF32:
		floats := make([]float64, len(v.Vector))
		for i, f := range v.Vector {
			floats[i] = float64(f)
		}
		return bson.MarshalValue(floats)
	default:
		return 0, nil, fmt.Errorf("model: unknown PropValue kind %d", v.Kind)
	}
}

// UnmarshalBSONValue is the mirror of MarshalBSONValue. Vectors come back
// as a BSON array of doubles and are narrowed to float32.
func (v *PropValue) UnmarshalBSONValue(t bson.Type, data []byte) error {
	raw := bson.RawValue{Type: t, Value: data}
	switch t {
	case bson.TypeNull:
		*v = NullValue()
	case bson.TypeBoolean:
		*v = BoolValue(raw.Boolean())
	case bson.TypeInt64, bson.TypeInt32:
		*v = I64Value(raw.AsInt64())
	case bson.TypeDouble:
		*v = F64Value(raw.Double())
	case bson.TypeString:
		*v = StringValue(raw.StringValue())
	case bson.TypeBinary:
		_, b := raw.Binary()
		*v = BytesValue(append([]byte(nil), b...))
	case bson.TypeArray:
		arr, err := raw.Array().Values()
		if err != nil {
			return err
		}
		vec := make([]float32, len(arr))
		for i, el := range arr {
			vec[i] = float32(el.Double())
		}
		*v = VectorValue(vec)
	default:
		return fmt.Errorf("model: unsupported BSON type %v for PropValue", t)
	}
	return nil
}

// ValidVector rejects all-zero and NaN/±Inf components per spec.md §4.7.
func ValidVector(v []float32) bool {
	if len(v) == 0 {
		return false
	}
	allZero := true
	for _, f := range v {
		if math.IsNaN(float64(f)) || math.IsInf(float64(f), 0) {
			return false
		}
		if f != 0 {
			allZero = false
		}
	}
	return !allZero
}
