package scene

import (
	"reflect"
	"testing"

	"github.com/binzume/scenesync/geom"
)

func TestValueTypeName(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{true, "bool"},
		{1, "int"},
		{0.5, "float"},
		{"a", "string"},
		{Path("/a"), "path"},
		{&geom.Vector2{}, "float2"},
		{&geom.Vector3{}, "float3"},
		{geom.NewQuaternion(0, 0, 0, 1), "quat"},
		{geom.NewMatrix4(), "matrix4"},
		{[]int{1}, "int[]"},
		{[]float64{1}, "float[]"},
		{[]string{"a"}, "string[]"},
		{[]*geom.Vector3{{}}, "float3[]"},
		{[]*geom.Matrix4{geom.NewMatrix4()}, "matrix4[]"},
	}
	for _, tt := range tests {
		got, err := ValueTypeName(tt.value)
		if err != nil || got != tt.want {
			t.Errorf("ValueTypeName(%T): %q, %v", tt.value, got, err)
		}
	}
	if _, err := ValueTypeName(struct{}{}); err == nil {
		t.Errorf("unsupported type accepted")
	}
	if _, err := ValueTypeName(float32(1)); err == nil {
		t.Errorf("float32 accepted")
	}
}

func TestValueRoundTrip(t *testing.T) {
	values := []any{
		true, 42, 0.5, "text", Path("/World/box"),
		&geom.Vector2{X: 1, Y: 2},
		&geom.Vector3{X: 1, Y: 2, Z: 3},
		geom.NewQuaternion(0, 0.7071, 0, 0.7071),
		geom.NewTranslateMatrix4(1, 2, 3),
		[]int{1, 2, 3},
		[]float64{0.5, 1.5},
		[]string{"a", "b"},
		[]*geom.Vector2{{X: 1}, {Y: 2}},
		[]*geom.Vector3{{X: 1}, {Z: 3}},
		[]*geom.Quaternion{geom.NewQuaternion(0, 0, 0, 1)},
		[]*geom.Matrix4{geom.NewMatrix4(), geom.NewScaleMatrix4(2, 2, 2)},
	}
	for _, v := range values {
		typ, err := ValueTypeName(v)
		if err != nil {
			t.Fatalf("%T: %v", v, err)
		}
		raw, err := MarshalValue(v)
		if err != nil {
			t.Fatalf("%T: %v", v, err)
		}
		got, err := DecodeValue(typ, raw)
		if err != nil {
			t.Fatalf("%T: %v (%s)", v, err, raw)
		}
		if !reflect.DeepEqual(got, v) {
			t.Errorf("round trip %T: %#v != %#v", v, got, v)
		}
	}
}

func TestDecodeValueErrors(t *testing.T) {
	if _, err := DecodeValue("nope", []byte(`1`)); err == nil {
		t.Errorf("unknown type accepted")
	}
	if _, err := DecodeValue(TypeFloat3, []byte(`"text"`)); err == nil {
		t.Errorf("mismatched value accepted")
	}
}
