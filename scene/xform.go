package scene

import (
	"math"

	"github.com/binzume/scenesync/geom"
)

const (
	AttrTranslate   = "xform:translate"
	AttrPivot       = "xform:pivot"
	AttrRotate      = "xform:rotate" // euler angles in degrees
	AttrRotateOrder = "xform:rotateOrder"
	AttrScale       = "xform:scale"
)

const degToRad = math.Pi / 180

// Transform is the decomposed local transform of a node.
type Transform struct {
	Translate geom.Vector3
	Pivot     geom.Vector3
	Rotate    geom.Vector3 // degrees
	Order     geom.RotationOrder
	Scale     geom.Vector3
}

func NewTransform() *Transform {
	return &Transform{Scale: geom.Vector3{X: 1, Y: 1, Z: 1}}
}

// Matrix composes translate * pivot * rotate * scale * inverse(pivot).
func (t *Transform) Matrix() *geom.Matrix4 {
	m := geom.NewTranslateMatrix4(
		t.Translate.X+t.Pivot.X, t.Translate.Y+t.Pivot.Y, t.Translate.Z+t.Pivot.Z)
	r := geom.NewEuler(t.Rotate.X*degToRad, t.Rotate.Y*degToRad, t.Rotate.Z*degToRad, t.Order).ToMatrix4()
	m = m.Mul(r).Mul(geom.NewScaleMatrix4(t.Scale.X, t.Scale.Y, t.Scale.Z))
	if t.Pivot.LenSqr() > 0 {
		m = m.Mul(geom.NewTranslateMatrix4(-t.Pivot.X, -t.Pivot.Y, -t.Pivot.Z))
	}
	return m
}

// SetTransform authors the transform attributes of a node. Pivot and
// rotate order are only written when they carry information.
func (st *Stage) SetTransform(path Path, t *Transform) error {
	translate := t.Translate
	if err := st.SetAttr(path, AttrTranslate, &translate); err != nil {
		return err
	}
	if t.Pivot.LenSqr() > 0 {
		pivot := t.Pivot
		if err := st.SetAttr(path, AttrPivot, &pivot); err != nil {
			return err
		}
	}
	rotate := t.Rotate
	if err := st.SetAttr(path, AttrRotate, &rotate); err != nil {
		return err
	}
	if t.Order != geom.RotationOrderXYZ {
		if err := st.SetAttr(path, AttrRotateOrder, t.Order.String()); err != nil {
			return err
		}
	}
	scale := t.Scale
	return st.SetAttr(path, AttrScale, &scale)
}

// LocalTransform reads the composed transform attributes at default time.
func (n *Node) LocalTransform() *Transform {
	return n.localTransform(func(name string) (any, bool) { return n.Attr(name) })
}

// LocalTransformAt reads the composed transform attributes at time t.
func (n *Node) LocalTransformAt(t float64) *Transform {
	return n.localTransform(func(name string) (any, bool) { return n.AttrAt(name, t) })
}

func (n *Node) localTransform(attr func(string) (any, bool)) *Transform {
	t := NewTransform()
	if v, ok := attr(AttrTranslate); ok {
		if p, ok := v.(*geom.Vector3); ok {
			t.Translate = *p
		}
	}
	if v, ok := attr(AttrPivot); ok {
		if p, ok := v.(*geom.Vector3); ok {
			t.Pivot = *p
		}
	}
	if v, ok := attr(AttrRotate); ok {
		if p, ok := v.(*geom.Vector3); ok {
			t.Rotate = *p
		}
	}
	if v, ok := attr(AttrRotateOrder); ok {
		if s, ok := v.(string); ok {
			if o, ok := geom.ParseRotationOrder(s); ok {
				t.Order = o
			}
		}
	}
	if v, ok := attr(AttrScale); ok {
		if p, ok := v.(*geom.Vector3); ok {
			t.Scale = *p
		}
	}
	return t
}

func (n *Node) LocalMatrix() *geom.Matrix4 {
	return n.LocalTransform().Matrix()
}

func (n *Node) LocalMatrixAt(t float64) *geom.Matrix4 {
	return n.LocalTransformAt(t).Matrix()
}
