package geom

import "math"

type Element = float32

func Abs(v Element) Element {
	return Element(math.Abs(float64(v)))
}

func Clamp(v, min, max Element) Element {
	if v < min {
		return min
	}
	if v > max {
		return max
	}
	return v
}

type Vector2 struct {
	X Element
	Y Element
}

func NewVector2(x, y Element) *Vector2 {
	return &Vector2{X: x, Y: y}
}

func (v *Vector2) Add(v2 *Vector2) *Vector2 {
	return &Vector2{X: v.X + v2.X, Y: v.Y + v2.Y}
}

func (v *Vector2) Sub(v2 *Vector2) *Vector2 {
	return &Vector2{X: v.X - v2.X, Y: v.Y - v2.Y}
}

func (v *Vector2) Scale(s Element) *Vector2 {
	return &Vector2{X: v.X * s, Y: v.Y * s}
}

func (v *Vector2) Dot(v2 *Vector2) Element {
	return v.X*v2.X + v.Y*v2.Y
}

func (v *Vector2) Cross(v2 *Vector2) Element {
	return v.X*v2.Y - v.Y*v2.X
}

func (v *Vector2) Len() Element {
	return Element(math.Sqrt(float64(v.X*v.X + v.Y*v.Y)))
}

func (v *Vector2) LenSqr() Element {
	return v.X*v.X + v.Y*v.Y
}

func (v *Vector2) Normalize() *Vector2 {
	l := v.Len()
	if l > 0 {
		v.X /= l
		v.Y /= l
	} else {
		v.X = 1
	}
	return v
}

type Vector3 struct {
	X Element
	Y Element
	Z Element
}

func NewVector3(x, y, z Element) *Vector3 {
	return &Vector3{X: x, Y: y, Z: z}
}

func NewVector3FromArray(arr [3]Element) *Vector3 {
	return &Vector3{X: arr[0], Y: arr[1], Z: arr[2]}
}

func NewVector3FromSlice(arr []Element) *Vector3 {
	return &Vector3{X: arr[0], Y: arr[1], Z: arr[2]}
}

func (v *Vector3) Add(v2 *Vector3) *Vector3 {
	return &Vector3{X: v.X + v2.X, Y: v.Y + v2.Y, Z: v.Z + v2.Z}
}

func (v *Vector3) Sub(v2 *Vector3) *Vector3 {
	return &Vector3{X: v.X - v2.X, Y: v.Y - v2.Y, Z: v.Z - v2.Z}
}

func (v *Vector3) Dot(v2 *Vector3) Element {
	return v.X*v2.X + v.Y*v2.Y + v.Z*v2.Z
}

func (v *Vector3) Cross(v2 *Vector3) *Vector3 {
	return &Vector3{
		X: v.Y*v2.Z - v.Z*v2.Y,
		Y: v.Z*v2.X - v.X*v2.Z,
		Z: v.X*v2.Y - v.Y*v2.X,
	}
}

func (v *Vector3) Scale(s Element) *Vector3 {
	return &Vector3{X: v.X * s, Y: v.Y * s, Z: v.Z * s}
}

func (v *Vector3) Len() Element {
	return Element(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z)))
}

func (v *Vector3) LenSqr() Element {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z
}

func (v *Vector3) Normalize() *Vector3 {
	l := v.Len()
	if l > 0 {
		v.X /= l
		v.Y /= l
		v.Z /= l
	} else {
		v.X = 1
	}
	return v
}

func (v *Vector3) Min(v2 *Vector3) *Vector3 {
	return &Vector3{
		X: Element(math.Min(float64(v.X), float64(v2.X))),
		Y: Element(math.Min(float64(v.Y), float64(v2.Y))),
		Z: Element(math.Min(float64(v.Z), float64(v2.Z))),
	}
}

func (v *Vector3) Max(v2 *Vector3) *Vector3 {
	return &Vector3{
		X: Element(math.Max(float64(v.X), float64(v2.X))),
		Y: Element(math.Max(float64(v.Y), float64(v2.Y))),
		Z: Element(math.Max(float64(v.Z), float64(v2.Z))),
	}
}

func (v *Vector3) ToArray(array []Element) {
	array[0] = v.X
	array[1] = v.Y
	array[2] = v.Z
}

type Vector4 struct {
	X Element
	Y Element
	Z Element
	W Element
}

func NewVector4(x, y, z, w Element) *Vector4 {
	return &Vector4{X: x, Y: y, Z: z, W: w}
}

func (v *Vector4) Add(v2 *Vector4) *Vector4 {
	return &Vector4{X: v.X + v2.X, Y: v.Y + v2.Y, Z: v.Z + v2.Z, W: v.W + v2.W}
}

func (v *Vector4) Sub(v2 *Vector4) *Vector4 {
	return &Vector4{X: v.X - v2.X, Y: v.Y - v2.Y, Z: v.Z - v2.Z, W: v.W - v2.W}
}

func (v *Vector4) Dot(v2 *Vector4) Element {
	return v.X*v2.X + v.Y*v2.Y + v.Z*v2.Z + v.W*v2.W
}

func (v *Vector4) Len() Element {
	return Element(math.Sqrt(float64(v.X*v.X + v.Y*v.Y + v.Z*v.Z + v.W*v.W)))
}

func (v *Vector4) LenSqr() Element {
	return v.X*v.X + v.Y*v.Y + v.Z*v.Z + v.W*v.W
}

func (v *Vector4) Normalize() *Vector4 {
	l := v.Len()
	if l > 0 {
		v.X /= l
		v.Y /= l
		v.Z /= l
		v.W /= l
	} else {
		v.W = 1
	}
	return v
}
