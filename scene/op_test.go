package scene

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/binzume/scenesync/geom"
)

func TestOpJSON(t *testing.T) {
	sampleTime := 10.0
	ops := []Op{
		{Kind: OpDefine, Path: "/World/box", Type: "Mesh"},
		{Kind: OpOver, Path: "/World"},
		{Kind: OpDelete, Path: "/World/old"},
		{Kind: OpRename, Path: "/World/box", Name: "crate"},
		{Kind: OpSetAttr, Path: "/World/box", Type: TypeFloat3, Name: AttrTranslate, Value: &geom.Vector3{X: 1, Y: 2, Z: 3}},
		{Kind: OpSetAttr, Path: "/World/box", Type: TypeInt + "[]", Name: AttrFaceVertexCounts, Value: []int{4, 4}},
		{Kind: OpSetAttr, Path: "/World/box", Type: TypePath, Name: AttrMaterialBinding, Value: Path("/World/Looks/mat")},
		{Kind: OpSetTimeSample, Path: "/World/box", Type: TypeFloat, Name: "size", Time: &sampleTime, Value: 200.0},
		{Kind: OpRemoveAttr, Path: "/World/box", Name: "size"},
		{Kind: OpSetActive, Path: "/World/box", Value: true},
		{Kind: OpSetKind, Path: "/World/box", Value: KindComponent},
		{Kind: OpAddReference, Path: "/World/box", Ref: &Reference{Asset: "box.scn", Payload: true}},
	}
	for _, op := range ops {
		data, err := json.Marshal(op)
		if err != nil {
			t.Fatalf("%s: %v", op.Kind, err)
		}
		var got Op
		if err := json.Unmarshal(data, &got); err != nil {
			t.Fatalf("%s: %v (%s)", op.Kind, err, data)
		}
		if !reflect.DeepEqual(op, got) {
			t.Errorf("round trip %s: %#v != %#v (%s)", op.Kind, got, op, data)
		}
	}
}

func TestOpJSONInferType(t *testing.T) {
	op := Op{Kind: OpSetAttr, Path: "/World/box", Name: "size", Value: 100.0}
	data, err := json.Marshal(op)
	if err != nil {
		t.Fatal(err)
	}
	var got Op
	if err := json.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	if got.Type != TypeFloat {
		t.Errorf("type not inferred: %q", got.Type)
	}
	if got.Value != 100.0 {
		t.Errorf("value: %v", got.Value)
	}
}

func TestOpJSONBadValue(t *testing.T) {
	var op Op
	err := json.Unmarshal([]byte(`{"op":"setAttr","path":"/a","name":"x","type":"float3","value":"oops"}`), &op)
	if err == nil {
		t.Errorf("mismatched value should fail")
	}
}
