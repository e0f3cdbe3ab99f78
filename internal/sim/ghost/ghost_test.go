package ghost

import (
	"context"
	"io"
	"log"
	"testing"
	"time"

	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
)

type recordingView struct {
	frames []Frame
	hides  int
}

func (v *recordingView) Show(f Frame) { v.frames = append(v.frames, f) }
func (v *recordingView) Hide()        { v.hides++ }

func (v *recordingView) last() Frame { return v.frames[len(v.frames)-1] }

var base500 = catalogs.ModuleTemplate{ID: "BASE_500", Size: geom.Size{Width: 500, Height: 720, Depth: 550}}

func TestUpdate_SnapsToActiveSlot(t *testing.T) {
	v := &recordingView{}
	c := New(v, geom.Size{})
	c.Begin(State{TemplateID: base500.ID, Template: base500}, nil)

	slot := layout.Slot{ID: "slot-3", Center: geom.Vec3{X: 300, Z: 290}, Size: geom.Size{Width: 600, Height: 720, Depth: 580}}
	c.Update(geom.Vec3{X: 420, Y: 30, Z: 100}, &slot, true)
	st, _ := c.State()
	if st.Position != slot.Center || st.SlotID != "slot-3" {
		t.Fatalf("ghost not snapped: %+v", st.Position)
	}
	if st.Scale.X != 1.2 || st.Scale.Y != 1 || st.Scale.Z != 1 {
		t.Fatalf("scale=%+v want width-only 1.2", st.Scale)
	}
	if st.Validity != Fit || v.last().Tint != TintAccept {
		t.Fatalf("validity=%s tint=%s", st.Validity, v.last().Tint)
	}

	p := geom.Vec3{X: -1000, Z: 200}
	c.Update(p, nil, false)
	st, _ = c.State()
	if st.Position != p || st.SlotID != "" || st.Scale != geom.Unit {
		t.Fatalf("free ghost = %+v", st)
	}
	if st.Validity != NoFit || v.last().Tint != TintReject {
		t.Fatalf("validity=%s tint=%s", st.Validity, v.last().Tint)
	}
	if v.last().Visual.Kind != catalogs.VisualBox {
		t.Fatalf("placeholder visual expected, got %s", v.last().Visual.Kind)
	}
}

func TestFreeScale_OnlyShrinks(t *testing.T) {
	c := New(nil, geom.Size{Width: 250, Height: 3000, Depth: 3000})
	if got := c.FreeScale(base500); got.X != 0.5 || got.Y != 0.5 {
		t.Fatalf("scale=%+v want 0.5", got)
	}
	c = New(nil, geom.Size{Width: 5000, Height: 3000, Depth: 3000})
	if got := c.FreeScale(base500); got != geom.Unit {
		t.Fatalf("scale=%+v want unit", got)
	}
}

func TestDispose_Idempotent(t *testing.T) {
	v := &recordingView{}
	c := New(v, geom.Size{})
	c.Dispose()
	if v.hides != 0 {
		t.Fatalf("hide without ghost")
	}
	c.Begin(State{TemplateID: base500.ID, Template: base500}, nil)
	c.Update(geom.Vec3{}, nil, true)
	c.Dispose()
	c.Dispose()
	if v.hides != 1 || c.Active() {
		t.Fatalf("hides=%d active=%v", v.hides, c.Active())
	}
	c.Update(geom.Vec3{}, nil, true)
	if len(v.frames) != 1 {
		t.Fatalf("update after dispose must not draw")
	}
}

func TestRefresh_PicksUpLoadedVisual(t *testing.T) {
	release := make(chan struct{})
	cache := catalogs.NewVisualCache(func(id string) (*catalogs.Visual, error) {
		<-release
		return catalogs.NewModelVisual(id, []byte("glb")), nil
	}, log.New(io.Discard, "", 0))
	pending := cache.Checkout(base500.ID)

	v := &recordingView{}
	c := New(v, geom.Size{})
	c.Begin(State{TemplateID: base500.ID, Template: base500}, pending)
	if c.Refresh() {
		t.Fatalf("refresh before first frame must not draw")
	}
	c.Update(geom.Vec3{}, nil, true)
	if c.Refresh() {
		t.Fatalf("nothing loaded yet")
	}

	close(release)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := pending.Wait(ctx); err != nil {
		t.Fatalf("wait: %v", err)
	}
	if !c.Refresh() {
		t.Fatalf("loaded visual not picked up")
	}
	if got := v.last().Visual.Kind; got != catalogs.VisualModel {
		t.Fatalf("kind=%s", got)
	}
	if c.Refresh() {
		t.Fatalf("second refresh should be quiet")
	}
	c.Dispose()
	if cache.Refs(base500.ID) != 0 {
		t.Fatalf("dispose kept a reference")
	}
}
