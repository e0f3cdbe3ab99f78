// Package geom holds the vector and box primitives shared by the placement engine.
// All lengths are millimetres; Y is up and the floor is a plane of constant Y.
package geom

import "math"

// TemplateUnit converts catalog template lengths into scene lengths. Templates and
// scene are both authored in millimetres.
const TemplateUnit = 1.0

type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) ToArray() [3]float64 { return [3]float64{v.X, v.Y, v.Z} }

func (v Vec3) Add(o Vec3) Vec3 {
	return Vec3{X: v.X + o.X, Y: v.Y + o.Y, Z: v.Z + o.Z}
}

func (v Vec3) Sub(o Vec3) Vec3 {
	return Vec3{X: v.X - o.X, Y: v.Y - o.Y, Z: v.Z - o.Z}
}

func (v Vec3) Mul(f float64) Vec3 {
	return Vec3{X: v.X * f, Y: v.Y * f, Z: v.Z * f}
}

func (v Vec3) Dot(o Vec3) float64 {
	return v.X*o.X + v.Y*o.Y + v.Z*o.Z
}

func (v Vec3) Len() float64 {
	return math.Sqrt(v.Dot(v))
}

func (v Vec3) Cross(o Vec3) Vec3 {
	return Vec3{
		X: v.Y*o.Z - v.Z*o.Y,
		Y: v.Z*o.X - v.X*o.Z,
		Z: v.X*o.Y - v.Y*o.X,
	}
}

func (v Vec3) Norm() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Mul(1 / l)
}

type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

func (s Size) Vec() Vec3 { return Vec3{X: s.Width, Y: s.Height, Z: s.Depth} }

func (s Size) Scaled(scale Vec3) Size {
	return Size{Width: s.Width * scale.X, Height: s.Height * scale.Y, Depth: s.Depth * scale.Z}
}

func (s Size) Positive() bool { return s.Width > 0 && s.Height > 0 && s.Depth > 0 }

var Unit = Vec3{X: 1, Y: 1, Z: 1}
