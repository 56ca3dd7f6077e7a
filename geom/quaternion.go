package geom

import "math"

type Quaternion = Vector4

func NewQuaternion(x, y, z, w Element) *Quaternion {
	return &Quaternion{X: x, Y: y, Z: z, W: w}
}

func NewQuaternionFromArray(arr [4]Element) *Quaternion {
	return &Quaternion{X: arr[0], Y: arr[1], Z: arr[2], W: arr[3]}
}

// axis must be a unit vector. angle is in radians.
func NewQuaternionFromAxisAngle(axis *Vector3, angle Element) *Quaternion {
	s := Element(math.Sin(float64(angle / 2)))
	return &Quaternion{
		X: axis.X * s,
		Y: axis.Y * s,
		Z: axis.Z * s,
		W: Element(math.Cos(float64(angle / 2))),
	}
}

func (q *Quaternion) Inverse() *Quaternion {
	return &Quaternion{X: -q.X, Y: -q.Y, Z: -q.Z, W: q.W}
}

// Returns Hamilton product
func (a *Quaternion) Mul(b *Quaternion) *Quaternion {
	return &Quaternion{
		W: a.W*b.W - a.X*b.X - a.Y*b.Y - a.Z*b.Z, // 1
		X: a.W*b.X + a.X*b.W + a.Y*b.Z - a.Z*b.Y, // i
		Y: a.W*b.Y - a.X*b.Z + a.Y*b.W + a.Z*b.X, // j
		Z: a.W*b.Z + a.X*b.Y - a.Y*b.X + a.Z*b.W, // k
	}
}

func (q *Quaternion) ApplyTo(v *Vector3) *Vector3 {
	u := &Vector3{X: q.X, Y: q.Y, Z: q.Z}
	t := u.Cross(v).Scale(2)
	return v.Add(t.Scale(q.W)).Add(u.Cross(t))
}

func NewQuaternionFromMatrix4(mat *Matrix4) *Quaternion {
	m11, m21, m31 := mat[0], mat[1], mat[2]
	m12, m22, m32 := mat[4], mat[5], mat[6]
	m13, m23, m33 := mat[8], mat[9], mat[10]
	tr := m11 + m22 + m33

	if tr > 0 {
		s := Element(math.Sqrt(float64(tr+1)) * 2)
		return (&Quaternion{
			X: (m32 - m23) / s,
			Y: (m13 - m31) / s,
			Z: (m21 - m12) / s,
			W: s / 4,
		}).Normalize()
	} else if m11 > m22 && m11 > m33 {
		s := Element(math.Sqrt(float64(1+m11-m22-m33)) * 2)
		return (&Quaternion{
			X: s / 4,
			Y: (m12 + m21) / s,
			Z: (m13 + m31) / s,
			W: (m32 - m23) / s,
		}).Normalize()
	} else if m22 > m33 {
		s := Element(math.Sqrt(float64(1+m22-m11-m33)) * 2)
		return (&Quaternion{
			X: (m12 + m21) / s,
			Y: s / 4,
			Z: (m23 + m32) / s,
			W: (m13 - m31) / s,
		}).Normalize()
	}
	s := Element(math.Sqrt(float64(1+m33-m11-m22)) * 2)
	return (&Quaternion{
		X: (m13 + m31) / s,
		Y: (m23 + m32) / s,
		Z: s / 4,
		W: (m21 - m12) / s,
	}).Normalize()
}
