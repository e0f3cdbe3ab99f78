// Package slots tracks the current slot layout and which module occupies each slot.
//
// Only the placement manager mutates occupancy. Every mutation updates the slot and
// the occupant together, so a slot never references a module that is not placed in
// it and a placed module never names a slot that does not hold it.
package slots

import (
	"errors"
	"fmt"
	"time"

	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
)

var ErrUnknownSlot = errors.New("unknown slot")

type OccupiedSlotError struct {
	SlotID   string
	Occupant string
}

func (e *OccupiedSlotError) Error() string {
	return fmt.Sprintf("slot %s already occupied by %s", e.SlotID, e.Occupant)
}

// PlacedModule is a committed module. ScaleX stretches width only; height and depth
// keep the template's so panel thickness reads correctly.
type PlacedModule struct {
	ID         string    `json:"id"`
	TemplateID string    `json:"template_id"`
	SlotID     string    `json:"slot_id"`
	Position   geom.Vec3 `json:"position"`
	ScaleX     float64   `json:"scale_x"`
	Size       geom.Size `json:"size"`
	CreatedAt  time.Time `json:"created_at"`
}

func NewPlacedModule(id string, t catalogs.ModuleTemplate, slotID string, pos geom.Vec3, scaleX float64, now time.Time) PlacedModule {
	size := t.Size.Scaled(geom.Unit.Mul(geom.TemplateUnit))
	size.Width *= scaleX
	return PlacedModule{
		ID:         id,
		TemplateID: t.ID,
		SlotID:     slotID,
		Position:   pos,
		ScaleX:     scaleX,
		Size:       size,
		CreatedAt:  now,
	}
}

func (m PlacedModule) Bounds() geom.Box { return geom.BoxAt(m.Position, m.Size) }

type Slot struct {
	layout.Slot
	Occupant    *PlacedModule `json:"occupant,omitempty"`
	Highlighted bool          `json:"highlighted"`
}

func (s Slot) Occupied() bool { return s.Occupant != nil }

// HighlightChange is one highlight transition. Exits are always reported before the
// enter that replaced them.
type HighlightChange struct {
	SlotID    string
	SlotIndex int
	Hovered   bool
}

type Registry struct {
	slots      []*Slot
	byID       map[string]*Slot
	active     string
	generation uint64
}

func NewRegistry() *Registry {
	return &Registry{byID: map[string]*Slot{}}
}

// SetSlots replaces the whole layout. Occupancy and highlight start empty.
func (r *Registry) SetSlots(ls []layout.Slot) {
	slots := make([]*Slot, 0, len(ls))
	byID := make(map[string]*Slot, len(ls))
	for _, s := range ls {
		sl := &Slot{Slot: s}
		slots = append(slots, sl)
		byID[s.ID] = sl
	}
	r.slots = slots
	r.byID = byID
	r.active = ""
	r.generation++
}

func (r *Registry) Generation() uint64 { return r.generation }

func (r *Registry) Len() int { return len(r.slots) }

func (r *Registry) Slots() []Slot {
	out := make([]Slot, 0, len(r.slots))
	for _, s := range r.slots {
		out = append(out, copySlot(s))
	}
	return out
}

func (r *Registry) Slot(id string) (Slot, bool) {
	s, ok := r.byID[id]
	if !ok {
		return Slot{}, false
	}
	return copySlot(s), true
}

// FindContaining returns the first slot, in index order, whose volume intersects box
// and which compatible accepts. First match wins even if a later slot overlaps more.
func (r *Registry) FindContaining(box geom.Box, compatible func(layout.Slot) bool) (Slot, bool) {
	for _, s := range r.slots {
		if !s.Bounds().Intersects(box) {
			continue
		}
		if compatible != nil && !compatible(s.Slot) {
			continue
		}
		return copySlot(s), true
	}
	return Slot{}, false
}

func (r *Registry) Occupy(slotID string, m PlacedModule) error {
	s, ok := r.byID[slotID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, slotID)
	}
	if s.Occupant != nil {
		return &OccupiedSlotError{SlotID: slotID, Occupant: s.Occupant.ID}
	}
	m.SlotID = slotID
	s.Occupant = &m
	return nil
}

func (r *Registry) Vacate(slotID string) (PlacedModule, bool) {
	s, ok := r.byID[slotID]
	if !ok || s.Occupant == nil {
		return PlacedModule{}, false
	}
	m := *s.Occupant
	s.Occupant = nil
	return m, true
}

// Move vacates from and occupies to with m in one step. On error nothing changes.
func (r *Registry) Move(from, to string, m PlacedModule) error {
	src, ok := r.byID[from]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, from)
	}
	dst, ok := r.byID[to]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownSlot, to)
	}
	if src.Occupant == nil {
		return fmt.Errorf("move from empty slot %s", from)
	}
	if dst.Occupant != nil && dst != src {
		return &OccupiedSlotError{SlotID: to, Occupant: dst.Occupant.ID}
	}
	src.Occupant = nil
	m.SlotID = to
	dst.Occupant = &m
	return nil
}

func (r *Registry) Occupants() []PlacedModule {
	var out []PlacedModule
	for _, s := range r.slots {
		if s.Occupant != nil {
			out = append(out, *s.Occupant)
		}
	}
	return out
}

func (r *Registry) OccupantBoxes(except string) []geom.Box {
	var out []geom.Box
	for _, s := range r.slots {
		if s.Occupant == nil || s.ID == except {
			continue
		}
		out = append(out, s.Occupant.Bounds())
	}
	return out
}

func (r *Registry) OccupiedCount() int {
	n := 0
	for _, s := range r.slots {
		if s.Occupant != nil {
			n++
		}
	}
	return n
}

func (r *Registry) Active() string { return r.active }

// SetActive moves the highlight. An empty id clears it. Setting the same slot again
// reports nothing.
func (r *Registry) SetActive(slotID string) []HighlightChange {
	if slotID == r.active {
		return nil
	}
	var changes []HighlightChange
	if prev, ok := r.byID[r.active]; ok {
		prev.Highlighted = false
		changes = append(changes, HighlightChange{SlotID: prev.ID, SlotIndex: prev.Index, Hovered: false})
	}
	r.active = ""
	if next, ok := r.byID[slotID]; ok {
		next.Highlighted = true
		r.active = next.ID
		changes = append(changes, HighlightChange{SlotID: next.ID, SlotIndex: next.Index, Hovered: true})
	}
	return changes
}

func copySlot(s *Slot) Slot {
	out := *s
	if s.Occupant != nil {
		m := *s.Occupant
		out.Occupant = &m
	}
	return out
}
