package geom

type Box struct {
	Min Vec3 `json:"min"`
	Max Vec3 `json:"max"`
}

// BoxAt builds the box of an object whose anchor is the centre of its bottom face.
// Modules and slots share this anchor so a ghost snapped to a slot centre fills it.
func BoxAt(anchor Vec3, size Size) Box {
	hw, hd := size.Width/2, size.Depth/2
	return Box{
		Min: Vec3{X: anchor.X - hw, Y: anchor.Y, Z: anchor.Z - hd},
		Max: Vec3{X: anchor.X + hw, Y: anchor.Y + size.Height, Z: anchor.Z + hd},
	}
}

// Intersects reports strict overlap. Boxes sharing only a face do not intersect,
// so neighbours in adjacent slots never collide.
func (b Box) Intersects(o Box) bool {
	return b.Min.X < o.Max.X && b.Max.X > o.Min.X &&
		b.Min.Y < o.Max.Y && b.Max.Y > o.Min.Y &&
		b.Min.Z < o.Max.Z && b.Max.Z > o.Min.Z
}
