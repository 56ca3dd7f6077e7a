package scene

import (
	"testing"

	"github.com/binzume/scenesync/geom"
)

const xformEps = 0.0001

func vec3Near(a, b *geom.Vector3) bool {
	return geom.Abs(a.X-b.X) < xformEps && geom.Abs(a.Y-b.Y) < xformEps && geom.Abs(a.Z-b.Z) < xformEps
}

func TestTransformMatrix(t *testing.T) {
	tr := NewTransform()
	tr.Translate = geom.Vector3{X: 1, Y: 2, Z: 3}
	p := tr.Matrix().ApplyTo(&geom.Vector3{})
	if !vec3Near(p, &geom.Vector3{X: 1, Y: 2, Z: 3}) {
		t.Errorf("translate: %v", p)
	}

	tr = NewTransform()
	tr.Rotate = geom.Vector3{Y: 90}
	p = tr.Matrix().ApplyTo(&geom.Vector3{X: 1})
	if !vec3Near(p, &geom.Vector3{Z: -1}) {
		t.Errorf("rotate: %v", p)
	}

	// scale applies before rotation
	tr.Scale = geom.Vector3{X: 2, Y: 2, Z: 2}
	p = tr.Matrix().ApplyTo(&geom.Vector3{X: 1})
	if !vec3Near(p, &geom.Vector3{Z: -2}) {
		t.Errorf("rotate and scale: %v", p)
	}

	// rotation happens around the pivot
	tr = NewTransform()
	tr.Pivot = geom.Vector3{X: 1}
	tr.Rotate = geom.Vector3{Y: 180}
	p = tr.Matrix().ApplyTo(&geom.Vector3{X: 2})
	if !vec3Near(p, &geom.Vector3{}) {
		t.Errorf("pivot: %v", p)
	}
}

func TestTransformRotateOrder(t *testing.T) {
	tr := NewTransform()
	tr.Rotate = geom.Vector3{X: 90, Y: 90}
	p := tr.Matrix().ApplyTo(&geom.Vector3{Z: 1})
	if !vec3Near(p, &geom.Vector3{X: 1}) {
		t.Errorf("xyz: %v", p)
	}
	tr.Order = geom.RotationOrderZYX
	p = tr.Matrix().ApplyTo(&geom.Vector3{Z: 1})
	if !vec3Near(p, &geom.Vector3{Y: -1}) {
		t.Errorf("zyx: %v", p)
	}
}

func TestSetTransform(t *testing.T) {
	st, _ := NewStage(NewLayer(), nil)
	if _, err := st.DefineXform("/World/box"); err != nil {
		t.Fatal(err)
	}
	want := NewTransform()
	want.Translate = geom.Vector3{X: 65, Y: 300, Z: 65}
	want.Pivot = geom.Vector3{Y: 1}
	want.Rotate = geom.Vector3{Y: 45}
	want.Order = geom.RotationOrderZYX
	want.Scale = geom.Vector3{X: 2, Y: 2, Z: 2}
	if err := st.SetTransform("/World/box", want); err != nil {
		t.Fatal(err)
	}

	n, ok := st.GetNodeAtPath("/World/box")
	if !ok {
		t.Fatal("node missing")
	}
	got := n.LocalTransform()
	if !vec3Near(&got.Translate, &want.Translate) || !vec3Near(&got.Pivot, &want.Pivot) ||
		!vec3Near(&got.Rotate, &want.Rotate) || !vec3Near(&got.Scale, &want.Scale) {
		t.Errorf("round trip: %#v", got)
	}
	if got.Order != geom.RotationOrderZYX {
		t.Errorf("order: %v", got.Order)
	}
	m1, m2 := n.LocalMatrix(), want.Matrix()
	for i := range m1 {
		if geom.Abs(m1[i]-m2[i]) > xformEps {
			t.Fatalf("matrix[%d]: %v != %v", i, m1[i], m2[i])
		}
	}
}

func TestLocalTransformAt(t *testing.T) {
	st, _ := NewStage(NewLayer(), nil)
	st.DefineXform("/World/box")
	st.SetAttrAt("/World/box", AttrRotate, 0, &geom.Vector3{})
	st.SetAttrAt("/World/box", AttrRotate, 24, &geom.Vector3{Y: 90})

	n, _ := st.GetNodeAtPath("/World/box")
	if r := n.LocalTransformAt(0).Rotate; !vec3Near(&r, &geom.Vector3{}) {
		t.Errorf("rotate at 0: %v", r)
	}
	if r := n.LocalTransformAt(24).Rotate; !vec3Near(&r, &geom.Vector3{Y: 90}) {
		t.Errorf("rotate at 24: %v", r)
	}
	if r := n.LocalTransformAt(12).Rotate; !vec3Near(&r, &geom.Vector3{}) {
		t.Errorf("rotate at 12: %v", r)
	}
}
