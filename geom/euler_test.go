package geom

import (
	"math"
	"testing"
)

func TestEuler(t *testing.T) {
	const eps = 0.000001

	for i, c := range []struct {
		order   RotationOrder
		x, y, z Element
	}{
		{RotationOrderXYZ, 10, 20, 30},
		{RotationOrderXYZ, 10, 90, 0},
		{RotationOrderXZY, 10, 20, 30},
		{RotationOrderXZY, 10, 0, 90},
		{RotationOrderYXZ, 10, 20, 30},
		{RotationOrderYXZ, 90, 10, 0},
		{RotationOrderYZX, 10, 20, 30},
		{RotationOrderYZX, 0, 10, 90},
		{RotationOrderZXY, 10, 20, 30},
		{RotationOrderZXY, 90, 0, 10},
		{RotationOrderZYX, 10, 20, 30},
		{RotationOrderZYX, 0, 90, 10},
	} {
		e1 := NewEuler(c.x*math.Pi/180, c.y*math.Pi/180, c.z*math.Pi/180, c.order)
		q := e1.ToQuaternion()
		e2 := NewEulerFromQuaternion(q, c.order)

		if e1.Vector3.Sub(&e2.Vector3).Len() > eps {
			t.Error("euler: ", i, e1, e2)
		}
		if Abs(q.Len()-1) > eps {
			t.Error("Quaternion.Len() != 1", e1)
		}
	}
}

func TestRotationOrderString(t *testing.T) {
	for _, o := range []RotationOrder{
		RotationOrderXYZ, RotationOrderXZY, RotationOrderYXZ,
		RotationOrderYZX, RotationOrderZXY, RotationOrderZYX,
	} {
		o2, ok := ParseRotationOrder(o.String())
		if !ok || o2 != o {
			t.Error("round trip: ", o, o2)
		}
	}
	if _, ok := ParseRotationOrder("XXX"); ok {
		t.Error("XXX should not parse")
	}
	if o, _ := ParseRotationOrder(""); o != RotationOrderXYZ {
		t.Error("empty should default to XYZ")
	}
}
