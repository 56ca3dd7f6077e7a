package scene

import (
	"bytes"
	"testing"

	"github.com/binzume/scenesync/geom"
)

func TestLayerApplyOp(t *testing.T) {
	l := NewLayer()
	sampleTime := 10.0
	ops := []Op{
		{Kind: OpDefine, Path: "/World", Type: "Xform"},
		{Kind: OpDefine, Path: "/World/box", Type: "Mesh"},
		{Kind: OpSetAttr, Path: "/World/box", Name: "size", Value: 100.0},
		{Kind: OpSetTimeSample, Path: "/World/box", Name: "size", Time: &sampleTime, Value: 200.0},
		{Kind: OpSetKind, Path: "/World", Value: "group"},
		{Kind: OpSetActive, Path: "/World/box", Value: false},
	}
	for _, op := range ops {
		if err := l.ApplyOp(op); err != nil {
			t.Fatal(err)
		}
	}
	if l.Spec("/World").Kind != "group" {
		t.Errorf("kind: %v", l.Spec("/World").Kind)
	}
	spec := l.Spec("/World/box")
	if spec == nil {
		t.Fatal("no spec for /World/box")
	}
	if spec.Type != "Mesh" {
		t.Errorf("type: %v", spec.Type)
	}
	if spec.Active == nil || *spec.Active {
		t.Errorf("active: %v", spec.Active)
	}
	a := spec.Attr("size")
	if a == nil || a.Value != 100.0 {
		t.Fatalf("attr size: %v", a)
	}
	if v := a.ValueAt(10); v != 200.0 {
		t.Errorf("size at 10: %v", v)
	}
	if v := a.ValueAt(99); v != 200.0 {
		t.Errorf("size at 99: %v", v)
	}
	// samples start at 10; queries before the first sample hold it
	if v := a.ValueAt(5); v != 200.0 {
		t.Errorf("size at 5: %v", v)
	}

	if err := l.ApplyOp(Op{Kind: OpRename, Path: "/World/box", Name: "crate"}); err != nil {
		t.Fatal(err)
	}
	if l.Spec("/World/box") != nil || l.Spec("/World/crate") == nil {
		t.Errorf("rename failed")
	}
	if err := l.ApplyOp(Op{Kind: OpRename, Path: "/World/box", Name: "crate2"}); err == nil {
		t.Errorf("rename of missing node should fail")
	}

	if err := l.ApplyOp(Op{Kind: OpDelete, Path: "/World/crate"}); err != nil {
		t.Fatal(err)
	}
	if l.Spec("/World/crate") != nil {
		t.Errorf("delete failed")
	}
	if !l.deletedContains("/World/crate") || !l.deletedContains("/World/crate/lid") {
		t.Errorf("tombstone missing: %v", l.Deleted)
	}
	// re-defining clears the tombstone
	if err := l.ApplyOp(Op{Kind: OpDefine, Path: "/World/crate", Type: "Mesh"}); err != nil {
		t.Fatal(err)
	}
	if l.deletedContains("/World/crate") {
		t.Errorf("tombstone not cleared: %v", l.Deleted)
	}
}

func TestLayerTimeSampleOrder(t *testing.T) {
	l := NewLayer()
	for _, tc := range []float64{23, 0, 47, 23} {
		tc := tc
		err := l.ApplyOp(Op{Kind: OpSetTimeSample, Path: "/World/box", Name: "size", Time: &tc, Value: tc * 2})
		if err != nil {
			t.Fatal(err)
		}
	}
	samples := l.Spec("/World/box").Attr("size").Samples
	if len(samples) != 3 {
		t.Fatalf("samples: %v", samples)
	}
	for i, want := range []float64{0, 23, 47} {
		if samples[i].Time != want {
			t.Errorf("samples[%d].Time = %v, want %v", i, samples[i].Time, want)
		}
	}
}

// Replaying the ops emitted by stage edits must reproduce the layer.
func TestLayerOpsReplay(t *testing.T) {
	l := NewLayer()
	var ops []Op
	l.OnChange = func(op Op) { ops = append(ops, op) }
	st, err := NewStage(l, nil)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineXform("/World"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineNode("/World/box", "Mesh"); err != nil {
		t.Fatal(err)
	}
	st.SetAttr("/World/box", AttrTranslate, &geom.Vector3{X: 65, Y: 300, Z: 65})
	st.SetAttr("/World/box", AttrPoints, []*geom.Vector3{{X: -50, Y: -50, Z: -50}, {X: 50, Y: 50, Z: 50}})
	st.SetAttr("/World/box", AttrFaceVertexCounts, []int{4, 4})
	st.SetAttrAt("/World/box", "size", 0, 100.0)
	st.SetAttrAt("/World/box", "size", 24, 200.0)
	st.SetActive("/World/box", false)
	st.SetKind("/World", KindGroup)
	st.AddReference("/World/box", Reference{Asset: "box.scn", Payload: true})
	st.OverrideNode("/World/env")
	st.SetAttr("/World/env", "name", "test")
	st.RemoveAttr("/World/env", "name")
	st.DefineNode("/World/old", "Xform")
	st.RemoveNode("/World/old")
	if _, err := st.RenameNode("/World/box", "crate"); err != nil {
		t.Fatal(err)
	}

	replayed := NewLayer()
	for _, op := range ops {
		if err := replayed.ApplyOp(op); err != nil {
			t.Fatal(err)
		}
	}
	var b1, b2 bytes.Buffer
	if err := l.WriteLayer(&b1); err != nil {
		t.Fatal(err)
	}
	if err := replayed.WriteLayer(&b2); err != nil {
		t.Fatal(err)
	}
	if b1.String() != b2.String() {
		t.Errorf("replayed layer differs:\n%s\n----\n%s", b1.String(), b2.String())
	}
}

func TestLayerMergeInto(t *testing.T) {
	src := NewLayer()
	src.ApplyOp(Op{Kind: OpDefine, Path: "/World/box", Type: "Mesh"})
	src.ApplyOp(Op{Kind: OpSetAttr, Path: "/World/box", Name: "color", Value: &geom.Vector3{X: 1}})
	src.ApplyOp(Op{Kind: OpSetAttr, Path: "/World/box", Name: "size", Value: 200.0})
	src.ApplyOp(Op{Kind: OpDelete, Path: "/World/old"})

	dst := NewLayer()
	dst.ApplyOp(Op{Kind: OpDefine, Path: "/World", Type: "Xform"})
	dst.ApplyOp(Op{Kind: OpDefine, Path: "/World/old", Type: "Xform"})
	dst.ApplyOp(Op{Kind: OpOver, Path: "/World/box"})
	dst.ApplyOp(Op{Kind: OpSetAttr, Path: "/World/box", Name: "size", Value: 100.0})

	src.MergeInto(dst)

	if dst.Spec("/World/old") != nil {
		t.Errorf("deleted node survived the merge")
	}
	if !dst.deletedContains("/World/old") {
		t.Errorf("tombstone not merged")
	}
	box := dst.Spec("/World/box")
	if box.Specifier != SpecifierDef {
		t.Errorf("specifier not promoted")
	}
	if box.Type != "Mesh" {
		t.Errorf("type: %v", box.Type)
	}
	if box.Attr("size").Value != 200.0 {
		t.Errorf("size: %v", box.Attr("size").Value)
	}
	if box.Attr("color") == nil {
		t.Errorf("color not merged")
	}
	if dst.Spec("/World").Type != "Xform" {
		t.Errorf("unrelated node touched")
	}
}

func TestLayerSpecPaths(t *testing.T) {
	l := NewLayer()
	l.ApplyOp(Op{Kind: OpDefine, Path: "/World/box", Type: "Mesh"})
	l.ApplyOp(Op{Kind: OpDefine, Path: "/Env", Type: "Xform"})
	want := []Path{"/World", "/World/box", "/Env"}
	got := l.SpecPaths()
	if len(got) != len(want) {
		t.Fatalf("SpecPaths: %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("SpecPaths[%d]: %v != %v", i, got[i], want[i])
		}
	}
	if !l.HasSpecs() {
		t.Errorf("HasSpecs")
	}
	l.Clear()
	if l.HasSpecs() || len(l.SpecPaths()) != 0 {
		t.Errorf("Clear")
	}
}
