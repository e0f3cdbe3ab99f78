package geom

import "math"

const rayEpsilon = 1e-9

type Ray struct {
	Origin Vec3
	Dir    Vec3
}

func (r Ray) At(t float64) Vec3 { return r.Origin.Add(r.Dir.Mul(t)) }

func (r Ray) IntersectPlaneY(y float64) (float64, bool) {
	if math.Abs(r.Dir.Y) < rayEpsilon {
		return 0, false
	}
	t := (y - r.Origin.Y) / r.Dir.Y
	if t < 0 {
		return 0, false
	}
	return t, true
}

// IntersectBox is the slab test. It returns the entry distance, or the exit
// distance when the origin is inside the box.
func (r Ray) IntersectBox(b Box) (float64, bool) {
	tmin, tmax := math.Inf(-1), math.Inf(1)
	o := r.Origin.ToArray()
	d := r.Dir.ToArray()
	lo := b.Min.ToArray()
	hi := b.Max.ToArray()
	for i := 0; i < 3; i++ {
		if math.Abs(d[i]) < rayEpsilon {
			if o[i] < lo[i] || o[i] > hi[i] {
				return 0, false
			}
			continue
		}
		t1 := (lo[i] - o[i]) / d[i]
		t2 := (hi[i] - o[i]) / d[i]
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		if t1 > tmin {
			tmin = t1
		}
		if t2 < tmax {
			tmax = t2
		}
		if tmin > tmax {
			return 0, false
		}
	}
	if tmax < 0 {
		return 0, false
	}
	if tmin < 0 {
		return tmax, true
	}
	return tmin, true
}
