// Package validate decides whether a module fits a slot and whether a free-form
// placement is allowed.
package validate

import (
	"math"

	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/slots"
)

const DefaultFloorTolerance = 0.01

func TemplateSize(t catalogs.ModuleTemplate, scale geom.Vec3) geom.Size {
	return t.Size.Scaled(scale.Mul(geom.TemplateUnit))
}

// Fits reports whether the template at nominal scale fits the slot interior on every
// axis. Degenerate slots fit nothing.
func Fits(t catalogs.ModuleTemplate, s layout.Slot) bool {
	return FitsSize(TemplateSize(t, geom.Unit), s)
}

func FitsSize(size geom.Size, s layout.Slot) bool {
	in := s.Interior()
	if !in.Positive() {
		return false
	}
	return size.Width <= in.Width && size.Height <= in.Height && size.Depth <= in.Depth
}

func Collides(candidate geom.Box, occupants []geom.Box) bool {
	for _, o := range occupants {
		if candidate.Intersects(o) {
			return true
		}
	}
	return false
}

// CommitScale matches the template width to the slot interior. It can exceed 1: a
// committed module always fills its slot.
func CommitScale(t catalogs.ModuleTemplate, s layout.Slot) float64 {
	w := t.Size.Width * geom.TemplateUnit
	if w <= 0 {
		return 1
	}
	return s.Interior().Width / w
}

// FitScale is the uniform factor that shrinks size into limit. It never enlarges.
func FitScale(size, limit geom.Size) float64 {
	f := 1.0
	ratio := func(v, max float64) {
		if v > 0 && max > 0 && max < v {
			f = math.Min(f, max/v)
		}
	}
	ratio(size.Width, limit.Width)
	ratio(size.Height, limit.Height)
	ratio(size.Depth, limit.Depth)
	return f
}

type Candidate struct {
	Template   catalogs.ModuleTemplate
	Position   geom.Vec3
	Scale      geom.Vec3
	SourceSlot string
}

func (c Candidate) Bounds() geom.Box {
	return geom.BoxAt(c.Position, TemplateSize(c.Template, c.Scale))
}

type Validator struct {
	FloorY         float64
	FloorTolerance float64
}

func New(floorY, tolerance float64) Validator {
	if tolerance <= 0 {
		tolerance = DefaultFloorTolerance
	}
	return Validator{FloorY: floorY, FloorTolerance: tolerance}
}

func (v Validator) OnFloor(y float64) bool {
	return math.Abs(y-v.FloorY) <= v.FloorTolerance
}

// IsValidPlacement is true when a slot is active (the slot search already checked fit)
// or, without a slot, when the free-form volume hits no placed module and respects the
// template's floor-contact rule. The re-drag source does not count as an obstacle.
func (v Validator) IsValidPlacement(c Candidate, reg *slots.Registry, active *layout.Slot) bool {
	if active != nil {
		return true
	}
	if c.Template.Rules.RequiresFloorContact && !v.OnFloor(c.Position.Y) {
		return false
	}
	return !Collides(c.Bounds(), reg.OccupantBoxes(c.SourceSlot))
}
