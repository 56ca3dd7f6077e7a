package geom

import (
	"math"
	"testing"
)

func TestDecomposeMatrix(t *testing.T) {
	const eps = 0.000001

	pos := NewVector3(1, 2, 3)
	rot := NewEuler(10*math.Pi/180, 20*math.Pi/180, 30*math.Pi/180, RotationOrderZXY).ToQuaternion()
	scale := NewVector3(1.5, 1.6, 1.7)

	mat := NewTRSMatrix4(pos, rot, scale)
	pos1, rot1, scale1 := mat.Decompose()

	if pos.Sub(pos1).Len() > eps {
		t.Error("pos: ", pos, pos1)
	}
	if rot.Sub(rot1).Len() > eps && rot.Add(rot1).Len() > eps {
		t.Error("rot: ", rot, rot1)
	}
	if scale.Sub(scale1).Len() > eps {
		t.Error("scale: ", scale, scale1)
	}

	mat2 := NewRotationMatrix4FromQuaternion(rot)
	pos1, rot1, scale1 = mat2.Decompose()
	if rot.Sub(rot1).Len() > eps && rot.Add(rot1).Len() > eps {
		t.Error("rot: ", rot, rot1)
	}
	if pos1.Len() > eps {
		t.Error("pos: ", pos1)
	}
	if scale1.Sub(NewVector3(1, 1, 1)).Len() > eps {
		t.Error("scale: ", scale1)
	}
}

func TestMatrixInverse(t *testing.T) {
	const eps = 0.00001

	mat := NewTRSMatrix4(
		NewVector3(1, 2, 3),
		NewEuler(0.1, 0.2, 0.3, RotationOrderXYZ).ToQuaternion(),
		NewVector3(2, 2, 2))
	ident := mat.Mul(mat.Inverse())

	for i, v := range NewMatrix4() {
		if Abs(ident[i]-v) > eps {
			t.Error("not identity: ", ident)
			break
		}
	}
}

func TestMatrixMul(t *testing.T) {
	const eps = 0.000001

	tr := NewTranslateMatrix4(1, 2, 3)
	sc := NewScaleMatrix4(2, 2, 2)

	// translate * scale: scale first, then translate.
	v := tr.Mul(sc).ApplyTo(NewVector3(1, 1, 1))
	if v.Sub(NewVector3(3, 4, 5)).Len() > eps {
		t.Error("T*S: ", v)
	}

	v = sc.Mul(tr).ApplyTo(NewVector3(1, 1, 1))
	if v.Sub(NewVector3(4, 6, 8)).Len() > eps {
		t.Error("S*T: ", v)
	}
}
