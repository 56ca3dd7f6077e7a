package converter

import (
	"bytes"
	"strings"
	"testing"

	"github.com/binzume/scenesync/geom"
	"github.com/binzume/scenesync/scene"
)

func TestStageToSnapshot(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineXform("/World"); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineCube("/World/box", 50); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAttr("/World/box", scene.AttrDisplayColor, []*geom.Vector3{{X: 1}}); err != nil {
		t.Fatal(err)
	}
	if err := st.SetAttrAt("/World/box", scene.AttrSize, 10, 60.0); err != nil {
		t.Fatal(err)
	}
	if _, err := st.DefineXform("/World/hidden"); err != nil {
		t.Fatal(err)
	}
	if err := st.SetActive("/World/hidden", false); err != nil {
		t.Fatal(err)
	}
	st.SetDefaultNode("World")

	snap := StageToSnapshot(st)
	if snap.UpAxis != "Y" || snap.MetersPerUnit != 0.01 || snap.DefaultNode != "World" {
		t.Error("metadata: ", snap.UpAxis, snap.MetersPerUnit, snap.DefaultNode)
	}
	if len(snap.Nodes) != 3 {
		t.Fatalf("nodes: %d", len(snap.Nodes))
	}
	if snap.Nodes[0].Path != "/World" || snap.Nodes[1].Path != "/World/box" || snap.Nodes[2].Path != "/World/hidden" {
		t.Error("paths: ", snap.Nodes[0].Path, snap.Nodes[1].Path, snap.Nodes[2].Path)
	}
	box := snap.Nodes[1]
	if box.Type != scene.TypeCube || !box.Active {
		t.Error("box: ", box.Type, box.Active)
	}
	var size, color *SnapshotAttr
	for _, a := range box.Attrs {
		switch a.Name {
		case scene.AttrSize:
			size = a
		case scene.AttrDisplayColor:
			color = a
		}
	}
	if size == nil {
		t.Fatal("size attr missing")
	}
	if size.Value != 50.0 || size.Samples != 1 || size.Type != scene.TypeFloat {
		t.Error("size attr: ", size.Value, size.Samples, size.Type)
	}
	if color == nil || color.Type != scene.TypeFloat3+"[]" {
		t.Error("displayColor attr: ", color)
	}
	if snap.Nodes[2].Active {
		t.Error("hidden should be inactive")
	}
}

func TestWriteSnapshot(t *testing.T) {
	st := testStage(t)
	if _, err := st.DefineCube("/World/box", 50); err != nil {
		t.Fatal(err)
	}
	var buf bytes.Buffer
	if err := WriteSnapshot(&buf, st); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{`upAxis: "Y"`, "path: /World/box", "type: Cube", "name: size", "value: 50"} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in:\n%s", want, out)
		}
	}
}
