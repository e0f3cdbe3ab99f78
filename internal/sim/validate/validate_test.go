package validate

import (
	"testing"
	"time"

	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/slots"
)

func slotOf(w, h, d, panel float64) layout.Slot {
	return layout.Slot{ID: "slot-0", Size: geom.Size{Width: w, Height: h, Depth: d}, PanelThickness: panel}
}

func tpl(w, h, d float64) catalogs.ModuleTemplate {
	return catalogs.ModuleTemplate{ID: "T", Size: geom.Size{Width: w, Height: h, Depth: d}}
}

func TestFits(t *testing.T) {
	cases := []struct {
		name string
		t    catalogs.ModuleTemplate
		s    layout.Slot
		want bool
	}{
		{"exact", tpl(600, 720, 550), slotOf(600, 720, 550, 0), true},
		{"slot narrower", tpl(600, 720, 550), slotOf(590, 720, 550, 0), false},
		{"too wide", tpl(650, 400, 580), slotOf(600, 720, 580, 0), false},
		{"too tall", tpl(600, 721, 550), slotOf(600, 720, 550, 0), false},
		{"too deep", tpl(600, 720, 551), slotOf(600, 720, 550, 0), false},
		{"smaller", tpl(500, 400, 300), slotOf(600, 720, 550, 0), true},
		{"panels eat width", tpl(600, 720, 550), slotOf(600, 720, 550, 18), false},
		{"degenerate slot", tpl(1, 1, 1), slotOf(-10, 720, 550, 0), false},
	}
	for _, tc := range cases {
		if got := Fits(tc.t, tc.s); got != tc.want {
			t.Fatalf("%s: Fits=%v want=%v", tc.name, got, tc.want)
		}
	}
}

func TestCollides(t *testing.T) {
	size := geom.Size{Width: 600, Height: 720, Depth: 550}
	occ := []geom.Box{geom.BoxAt(geom.Vec3{X: 0}, size), geom.BoxAt(geom.Vec3{X: 1200}, size)}
	if Collides(geom.BoxAt(geom.Vec3{X: 600}, size), occ) {
		t.Fatalf("face contact is not a collision")
	}
	if !Collides(geom.BoxAt(geom.Vec3{X: 1000}, size), occ) {
		t.Fatalf("expected collision with second occupant")
	}
	if Collides(geom.BoxAt(geom.Vec3{X: 0}, size), nil) {
		t.Fatalf("no occupants, no collision")
	}
}

func TestScales(t *testing.T) {
	if got := CommitScale(tpl(500, 720, 550), slotOf(600, 720, 550, 0)); got != 1.2 {
		t.Fatalf("commit scale=%v want=1.2", got)
	}
	if got := CommitScale(tpl(600, 720, 550), slotOf(600, 720, 550, 0)); got != 1 {
		t.Fatalf("commit scale=%v want=1", got)
	}
	if got := FitScale(geom.Size{Width: 1200, Height: 500, Depth: 500}, geom.Size{Width: 600, Height: 1000, Depth: 1000}); got != 0.5 {
		t.Fatalf("fit scale=%v want=0.5", got)
	}
	if got := FitScale(geom.Size{Width: 100, Height: 100, Depth: 100}, geom.Size{Width: 600, Height: 600, Depth: 600}); got != 1 {
		t.Fatalf("fit scale must not enlarge, got %v", got)
	}
}

func TestIsValidPlacement(t *testing.T) {
	reg := slots.NewRegistry()
	reg.SetSlots(layout.ComputeSlots(layout.Params{TotalWidth: 2400, SlotCount: 4, SlotHeight: 720, SlotDepth: 580}))
	s1, _ := reg.Slot("slot-1")
	base := catalogs.ModuleTemplate{
		ID:    "BASE",
		Size:  geom.Size{Width: 600, Height: 720, Depth: 550},
		Rules: catalogs.Rules{RequiresFloorContact: true},
	}
	if err := reg.Occupy("slot-1", slots.NewPlacedModule("M1", base, "slot-1", s1.Center, 1, time.Unix(0, 0))); err != nil {
		t.Fatal(err)
	}
	v := New(0, 0)

	active := s1.Slot
	if !v.IsValidPlacement(Candidate{Template: base, Position: geom.Vec3{Y: 500}, Scale: geom.Unit}, reg, &active) {
		t.Fatalf("active slot placement must be valid")
	}

	free := Candidate{Template: base, Position: geom.Vec3{X: -2000, Z: 290}, Scale: geom.Unit}
	if !v.IsValidPlacement(free, reg, nil) {
		t.Fatalf("clear floor placement must be valid")
	}
	free.Position.Y = 0.009
	if !v.IsValidPlacement(free, reg, nil) {
		t.Fatalf("within floor tolerance must be valid")
	}
	free.Position.Y = 0.5
	if v.IsValidPlacement(free, reg, nil) {
		t.Fatalf("floor-contact module above floor must be invalid")
	}

	hit := Candidate{Template: base, Position: geom.Vec3{X: s1.Center.X + 100, Z: 290}, Scale: geom.Unit}
	if v.IsValidPlacement(hit, reg, nil) {
		t.Fatalf("colliding placement must be invalid")
	}
	hit.SourceSlot = "slot-1"
	if !v.IsValidPlacement(hit, reg, nil) {
		t.Fatalf("re-dragged module must not collide with itself")
	}

	wall := catalogs.ModuleTemplate{ID: "WALL", Size: geom.Size{Width: 400, Height: 400, Depth: 300}}
	if !v.IsValidPlacement(Candidate{Template: wall, Position: geom.Vec3{X: -2000, Y: 1500}, Scale: geom.Unit}, reg, nil) {
		t.Fatalf("floating wall module must be valid")
	}
}
