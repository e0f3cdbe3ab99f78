// Package layout partitions a wall span into placement slots.
//
// ComputeSlots is a pure function of its Params: it never consults scene state and
// is safe to call from tests without a registry.
package layout

import (
	"fmt"
	"math"

	"slotplan.ai/internal/sim/geom"
)

type Offsets struct {
	Left  float64 `yaml:"left" json:"left"`
	Right float64 `yaml:"right" json:"right"`
}

// Region is a reserved sub-interval of the span (a soffit). Start and End are in
// span-local coordinates measured from the left edge. Drop is the vertical clearance
// the region takes away from slots below it.
type Region struct {
	Start float64 `yaml:"start" json:"start"`
	End   float64 `yaml:"end" json:"end"`
	Drop  float64 `yaml:"drop" json:"drop,omitempty"`
}

type Params struct {
	TotalWidth     float64
	SlotCount      int
	Offsets        Offsets
	Reserved       *Region
	SlotHeight     float64
	SlotDepth      float64
	PanelThickness float64
	BaseY          float64

	// WallZ is the Z of the wall face; slot centres sit half a depth in front of it.
	WallZ float64
}

// Slot is one immutable slot geometry. Center is the centre of the slot's bottom face.
type Slot struct {
	ID                  string    `json:"id"`
	Index               int       `json:"index"`
	Center              geom.Vec3 `json:"center"`
	Size                geom.Size `json:"size"`
	Start               float64   `json:"start"`
	End                 float64   `json:"end"`
	BelowReservedRegion bool      `json:"below_reserved_region"`
	PanelThickness      float64   `json:"panel_thickness,omitempty"`
}

func SlotID(index int) string { return fmt.Sprintf("slot-%d", index) }

func (s Slot) Bounds() geom.Box { return geom.BoxAt(s.Center, s.Size) }

func (s Slot) Interior() geom.Size {
	in := s.Size
	in.Width -= 2 * s.PanelThickness
	return in
}

// SegmentWidth is the truncated per-slot width. The remainder of the usable span is
// not redistributed, so the last slot may end short of the right offset.
func SegmentWidth(p Params) float64 {
	if p.SlotCount <= 0 {
		return 0
	}
	usable := p.TotalWidth - p.Offsets.Left - p.Offsets.Right
	return math.Floor(usable / float64(p.SlotCount))
}

// ComputeSlots returns the slots left to right. Degenerate inputs (span narrower than
// the offsets) yield slots with non-positive width; callers reject them through fit
// checks rather than here.
func ComputeSlots(p Params) []Slot {
	if p.SlotCount <= 0 {
		return nil
	}
	w := SegmentWidth(p)
	out := make([]Slot, 0, p.SlotCount)
	for i := 0; i < p.SlotCount; i++ {
		start := p.Offsets.Left + float64(i)*w
		end := start + w
		below := p.Reserved != nil && overlaps(start, end, *p.Reserved)

		h := p.SlotHeight
		if below {
			h -= p.Reserved.Drop
		}
		out = append(out, Slot{
			ID:    SlotID(i),
			Index: i,
			Center: geom.Vec3{
				X: start + w/2 - p.TotalWidth/2,
				Y: p.BaseY,
				Z: p.WallZ + p.SlotDepth/2,
			},
			Size:                geom.Size{Width: w, Height: h, Depth: p.SlotDepth},
			Start:               start,
			End:                 end,
			BelowReservedRegion: below,
			PanelThickness:      p.PanelThickness,
		})
	}
	return out
}

func overlaps(start, end float64, r Region) bool {
	return start < r.End && end > r.Start
}
