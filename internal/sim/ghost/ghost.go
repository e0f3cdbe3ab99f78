// Package ghost owns the transient drag preview.
package ghost

import (
	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/validate"
)

type Validity string

const (
	Fit   Validity = "fit"
	NoFit Validity = "no-fit"
)

type Tint string

const (
	TintAccept Tint = "accept"
	TintReject Tint = "reject"
)

func TintFor(valid bool) Tint {
	if valid {
		return TintAccept
	}
	return TintReject
}

// State is the preview of one drag gesture. SourceSlot is set only when a placed
// module is being re-dragged.
type State struct {
	TemplateID string
	Template   catalogs.ModuleTemplate
	Position   geom.Vec3
	Scale      geom.Vec3
	Validity   Validity
	SourceSlot string
	SlotID     string
}

func (s State) Candidate() validate.Candidate {
	return validate.Candidate{
		Template:   s.Template,
		Position:   s.Position,
		Scale:      s.Scale,
		SourceSlot: s.SourceSlot,
	}
}

type VisualRef struct {
	Kind   catalogs.VisualKind `json:"kind"`
	Digest string              `json:"digest,omitempty"`
}

type Frame struct {
	TemplateID string    `json:"template_id"`
	Position   geom.Vec3 `json:"position"`
	Scale      geom.Vec3 `json:"scale"`
	Size       geom.Size `json:"size"`
	Tint       Tint      `json:"tint"`
	SlotID     string    `json:"slot_id,omitempty"`
	Visual     VisualRef `json:"visual"`
}

// View draws the ghost. Show is called every tick while a ghost exists.
type View interface {
	Show(Frame)
	Hide()
}

type nopView struct{}

func (nopView) Show(Frame) {}
func (nopView) Hide()      {}

type Controller struct {
	view     View
	envelope geom.Size

	state   *State
	pending *catalogs.Pending
	visual  VisualRef
	shown   bool
}

// New creates a controller. envelope bounds the free-form preview: outside a slot the
// ghost is scaled down, never up, to fit inside it. A zero envelope disables this.
func New(view View, envelope geom.Size) *Controller {
	if view == nil {
		view = nopView{}
	}
	return &Controller{view: view, envelope: envelope}
}

func (c *Controller) Begin(st State, pending *catalogs.Pending) {
	c.Dispose()
	if st.Scale == (geom.Vec3{}) {
		st.Scale = c.FreeScale(st.Template)
	}
	if st.Validity == "" {
		st.Validity = NoFit
	}
	c.state = &st
	c.pending = pending
	c.visual = VisualRef{Kind: catalogs.VisualBox}
}

func (c *Controller) Active() bool { return c.state != nil }

func (c *Controller) State() (State, bool) {
	if c.state == nil {
		return State{}, false
	}
	return *c.state, true
}

func (c *Controller) FreeScale(t catalogs.ModuleTemplate) geom.Vec3 {
	if !c.envelope.Positive() {
		return geom.Unit
	}
	f := validate.FitScale(validate.TemplateSize(t, geom.Unit), c.envelope)
	return geom.Vec3{X: f, Y: f, Z: f}
}

// SlotScale previews the committed scale: width matches the slot, height and depth stay.
func SlotScale(t catalogs.ModuleTemplate, s layout.Slot) geom.Vec3 {
	return geom.Vec3{X: validate.CommitScale(t, s), Y: 1, Z: 1}
}

// Update repositions the ghost. An active slot always wins over the pointer.
func (c *Controller) Update(point geom.Vec3, active *layout.Slot, valid bool) {
	if c.state == nil {
		return
	}
	st := c.state
	if active != nil {
		st.Position = active.Center
		st.Scale = SlotScale(st.Template, *active)
		st.SlotID = active.ID
	} else {
		st.Position = point
		st.Scale = c.FreeScale(st.Template)
		st.SlotID = ""
	}
	st.Validity = NoFit
	if valid {
		st.Validity = Fit
	}
	c.pollVisual()
	c.view.Show(c.frame(valid))
	c.shown = true
}

func (c *Controller) Refresh() bool {
	if c.state == nil || !c.shown {
		return false
	}
	before := c.visual
	c.pollVisual()
	if c.visual == before {
		return false
	}
	c.view.Show(c.frame(c.state.Validity == Fit))
	return true
}

func (c *Controller) pollVisual() {
	h, ok := c.pending.Ready()
	if !ok || h == nil || h.Visual == nil {
		return
	}
	c.visual = VisualRef{Kind: h.Visual.Kind, Digest: h.Visual.Digest}
}

func (c *Controller) frame(valid bool) Frame {
	st := c.state
	return Frame{
		TemplateID: st.TemplateID,
		Position:   st.Position,
		Scale:      st.Scale,
		Size:       validate.TemplateSize(st.Template, st.Scale),
		Tint:       TintFor(valid),
		SlotID:     st.SlotID,
		Visual:     c.visual,
	}
}

// Dispose hides the ghost and releases its visual. Safe with no ghost.
func (c *Controller) Dispose() {
	if c.pending != nil {
		c.pending.Release()
		c.pending = nil
	}
	if c.shown {
		c.view.Hide()
		c.shown = false
	}
	c.state = nil
}
