package scene

import (
	"encoding/json"
	"fmt"

	"github.com/binzume/scenesync/geom"
)

// Attribute values are dynamically typed. Supported types:
//
//	bool, int, float64, string, Path,
//	*geom.Vector2, *geom.Vector3, *geom.Quaternion, *geom.Matrix4,
//	and slices of int, float64, string, *Vector2, *Vector3, *Quaternion, *Matrix4.
//
// Values are serialized as a (type, value) pair so they survive JSON.
const (
	TypeBool    = "bool"
	TypeInt     = "int"
	TypeFloat   = "float"
	TypeString  = "string"
	TypePath    = "path"
	TypeFloat2  = "float2"
	TypeFloat3  = "float3"
	TypeQuat    = "quat"
	TypeMatrix4 = "matrix4"
)

func ValueTypeName(v any) (string, error) {
	switch v.(type) {
	case bool:
		return TypeBool, nil
	case int:
		return TypeInt, nil
	case float64:
		return TypeFloat, nil
	case string:
		return TypeString, nil
	case Path:
		return TypePath, nil
	case *geom.Vector2:
		return TypeFloat2, nil
	case *geom.Vector3:
		return TypeFloat3, nil
	case *geom.Quaternion:
		return TypeQuat, nil
	case *geom.Matrix4:
		return TypeMatrix4, nil
	case []int:
		return TypeInt + "[]", nil
	case []float64:
		return TypeFloat + "[]", nil
	case []string:
		return TypeString + "[]", nil
	case []*geom.Vector2:
		return TypeFloat2 + "[]", nil
	case []*geom.Vector3:
		return TypeFloat3 + "[]", nil
	case []*geom.Quaternion:
		return TypeQuat + "[]", nil
	case []*geom.Matrix4:
		return TypeMatrix4 + "[]", nil
	}
	return "", fmt.Errorf("unsupported value type %T", v)
}

func vec2Array(v *geom.Vector2) [2]geom.Element { return [2]geom.Element{v.X, v.Y} }

func vec3Array(v *geom.Vector3) [3]geom.Element { return [3]geom.Element{v.X, v.Y, v.Z} }

func quatArray(v *geom.Quaternion) [4]geom.Element {
	return [4]geom.Element{v.X, v.Y, v.Z, v.W}
}

// EncodeValue converts a value into plain JSON-marshalable data.
func EncodeValue(v any) (any, error) {
	switch t := v.(type) {
	case bool, int, float64, string, Path, []int, []float64, []string:
		return t, nil
	case *geom.Vector2:
		return vec2Array(t), nil
	case *geom.Vector3:
		return vec3Array(t), nil
	case *geom.Quaternion:
		return quatArray(t), nil
	case *geom.Matrix4:
		return *t, nil
	case []*geom.Vector2:
		a := make([][2]geom.Element, len(t))
		for i, v := range t {
			a[i] = vec2Array(v)
		}
		return a, nil
	case []*geom.Vector3:
		a := make([][3]geom.Element, len(t))
		for i, v := range t {
			a[i] = vec3Array(v)
		}
		return a, nil
	case []*geom.Quaternion:
		a := make([][4]geom.Element, len(t))
		for i, v := range t {
			a[i] = quatArray(v)
		}
		return a, nil
	case []*geom.Matrix4:
		a := make([][16]geom.Element, len(t))
		for i, v := range t {
			a[i] = *v
		}
		return a, nil
	}
	return nil, fmt.Errorf("unsupported value type %T", v)
}

// DecodeValue parses raw JSON of the named type back into a value.
func DecodeValue(typ string, raw json.RawMessage) (any, error) {
	switch typ {
	case TypeBool:
		var v bool
		return v, unmarshalValue(raw, &v)
	case TypeInt:
		var v int
		return v, unmarshalValue(raw, &v)
	case TypeFloat:
		var v float64
		return v, unmarshalValue(raw, &v)
	case TypeString:
		var v string
		return v, unmarshalValue(raw, &v)
	case TypePath:
		var v Path
		return v, unmarshalValue(raw, &v)
	case TypeFloat2:
		var a [2]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		return &geom.Vector2{X: a[0], Y: a[1]}, nil
	case TypeFloat3:
		var a [3]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		return geom.NewVector3FromArray(a), nil
	case TypeQuat:
		var a [4]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		return geom.NewQuaternionFromArray(a), nil
	case TypeMatrix4:
		var m geom.Matrix4
		if err := unmarshalValue(raw, &m); err != nil {
			return nil, err
		}
		return &m, nil
	case TypeInt + "[]":
		var v []int
		return v, unmarshalValue(raw, &v)
	case TypeFloat + "[]":
		var v []float64
		return v, unmarshalValue(raw, &v)
	case TypeString + "[]":
		var v []string
		return v, unmarshalValue(raw, &v)
	case TypeFloat2 + "[]":
		var a [][2]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		v := make([]*geom.Vector2, len(a))
		for i, e := range a {
			v[i] = &geom.Vector2{X: e[0], Y: e[1]}
		}
		return v, nil
	case TypeFloat3 + "[]":
		var a [][3]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		v := make([]*geom.Vector3, len(a))
		for i, e := range a {
			v[i] = geom.NewVector3FromArray(e)
		}
		return v, nil
	case TypeQuat + "[]":
		var a [][4]geom.Element
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		v := make([]*geom.Quaternion, len(a))
		for i, e := range a {
			v[i] = geom.NewQuaternionFromArray(e)
		}
		return v, nil
	case TypeMatrix4 + "[]":
		var a []geom.Matrix4
		if err := unmarshalValue(raw, &a); err != nil {
			return nil, err
		}
		v := make([]*geom.Matrix4, len(a))
		for i := range a {
			v[i] = &a[i]
		}
		return v, nil
	}
	return nil, fmt.Errorf("unsupported value type %q", typ)
}

func unmarshalValue(raw json.RawMessage, dst any) error {
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("bad value: %w", err)
	}
	return nil
}

// MarshalValue writes a value as raw JSON (the value part of the envelope).
func MarshalValue(v any) (json.RawMessage, error) {
	enc, err := EncodeValue(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(enc)
}
