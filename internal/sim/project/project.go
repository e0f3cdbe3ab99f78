// Package project turns pointer positions into scene points.
package project

import (
	"math"

	"slotplan.ai/internal/sim/geom"
)

// Pointer is a pointer position in normalised device coordinates: x and y in [-1, 1],
// +y up.
type Pointer struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// FromPixels converts a viewport pixel position (origin top-left) to a Pointer.
func FromPixels(px, py, width, height float64) (Pointer, bool) {
	if width <= 0 || height <= 0 {
		return Pointer{}, false
	}
	return Pointer{X: px/width*2 - 1, Y: -(py/height*2 - 1)}, true
}

type SceneSurface interface {
	ProjectPointer(x, y float64) (geom.Vec3, bool)
}

type Camera struct {
	Position geom.Vec3 `yaml:"position" json:"position"`
	Target   geom.Vec3 `yaml:"target" json:"target"`
	Up       geom.Vec3 `yaml:"up" json:"up"`
	FovY     float64   `yaml:"fov_y" json:"fov_y"`
	Aspect   float64   `yaml:"aspect" json:"aspect"`
}

func (c Camera) Ray(p Pointer) geom.Ray {
	up := c.Up
	if up == (geom.Vec3{}) {
		up = geom.Vec3{Y: 1}
	}
	aspect := c.Aspect
	if aspect <= 0 {
		aspect = 1
	}
	fwd := c.Target.Sub(c.Position).Norm()
	right := fwd.Cross(up).Norm()
	camUp := right.Cross(fwd)
	tanHalf := math.Tan(c.FovY * math.Pi / 360)
	dir := fwd.
		Add(right.Mul(p.X * tanHalf * aspect)).
		Add(camUp.Mul(p.Y * tanHalf))
	return geom.Ray{Origin: c.Position, Dir: dir.Norm()}
}

// ObstacleSurface is a SceneSurface that can also land on the given volumes.
type ObstacleSurface interface {
	SceneSurface
	ProjectPointerOnto(x, y float64, obstacles []geom.Box) (geom.Vec3, bool)
}

type RaySurface struct {
	Camera Camera
	FloorY float64
}

func (s *RaySurface) ProjectPointer(x, y float64) (geom.Vec3, bool) {
	return s.ProjectPointerOnto(x, y, nil)
}

// ProjectPointerOnto returns the nearest hit. A hit on a box lands on its top face at
// the ray's X/Z so the dragged module sits on top of it.
func (s *RaySurface) ProjectPointerOnto(x, y float64, obstacles []geom.Box) (geom.Vec3, bool) {
	ray := s.Camera.Ray(Pointer{X: x, Y: y})
	best := math.Inf(1)
	var hit geom.Vec3
	if t, ok := ray.IntersectPlaneY(s.FloorY); ok {
		best = t
		hit = ray.At(t)
		hit.Y = s.FloorY
	}
	for _, b := range obstacles {
		t, ok := ray.IntersectBox(b)
		if !ok || t >= best {
			continue
		}
		best = t
		p := ray.At(t)
		hit = geom.Vec3{X: p.X, Y: b.Max.Y, Z: p.Z}
	}
	if math.IsInf(best, 1) {
		return geom.Vec3{}, false
	}
	return hit, true
}

type Projector struct {
	surface SceneSurface
}

func New(surface SceneSurface) *Projector { return &Projector{surface: surface} }

func (p *Projector) Project(ptr Pointer) (geom.Vec3, bool) {
	if p.surface == nil {
		return geom.Vec3{}, false
	}
	if !inRange(ptr) {
		return geom.Vec3{}, false
	}
	return p.surface.ProjectPointer(ptr.X, ptr.Y)
}

func (p *Projector) ProjectOnto(ptr Pointer, obstacles []geom.Box) (geom.Vec3, bool) {
	os, ok := p.surface.(ObstacleSurface)
	if !ok || len(obstacles) == 0 {
		return p.Project(ptr)
	}
	if !inRange(ptr) {
		return geom.Vec3{}, false
	}
	return os.ProjectPointerOnto(ptr.X, ptr.Y, obstacles)
}

func inRange(ptr Pointer) bool {
	if math.IsNaN(ptr.X) || math.IsNaN(ptr.Y) {
		return false
	}
	return math.Abs(ptr.X) <= 1 && math.Abs(ptr.Y) <= 1
}
