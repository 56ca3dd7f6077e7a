package geom

import (
	"math"
	"testing"
)

func TestQuaternion(t *testing.T) {
	const eps = 0.000001

	{
		q := NewEuler(0, 0, 0, RotationOrderXYZ).ToQuaternion()
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewEuler(2*math.Pi, 0, 0, RotationOrderXYZ).ToQuaternion()
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewEuler(math.Pi, 0, 0, RotationOrderXYZ).ToQuaternion()
		q = q.Mul(q)
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		q := NewEuler(1, 2, 3, RotationOrderXYZ).ToQuaternion()
		q = q.Mul(q.Inverse())
		v1 := NewVector3(1, 2, 3)
		v2 := q.ApplyTo(v1)
		if v2.Sub(v1).Len() > eps {
			t.Error("v1 != v2: ", v1, v2)
		}
	}

	{
		// +90 degrees around Z: X axis becomes Y axis.
		q := NewQuaternionFromAxisAngle(NewVector3(0, 0, 1), math.Pi/2)
		v := q.ApplyTo(NewVector3(1, 0, 0))
		if v.Sub(NewVector3(0, 1, 0)).Len() > eps {
			t.Error("rotate: ", v)
		}
	}
}

func TestQuaternionMatrix(t *testing.T) {
	const eps = 0.000001

	q1 := NewEuler(10*math.Pi/180, 20*math.Pi/180, 30*math.Pi/180, RotationOrderXYZ).ToQuaternion()
	mat := NewRotationMatrix4FromQuaternion(q1)

	// matrix and quaternion must rotate vectors the same way
	for _, v := range []*Vector3{{1, 0, 0}, {0, 1, 0}, {0, 0, 1}, {1, 2, 3}} {
		v1 := q1.ApplyTo(v)
		v2 := mat.ApplyTo(v)
		if v1.Sub(v2).Len() > eps {
			t.Error("apply: ", v, v1, v2)
		}
	}

	q2 := NewQuaternionFromMatrix4(mat)
	if q1.Sub(q2).Len() > eps && q1.Add(q2).Len() > eps {
		t.Error("quat: ", q1, q2)
	}
}
