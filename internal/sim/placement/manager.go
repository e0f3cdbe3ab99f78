// Package placement drives the drag lifecycle: selection, re-drag, per-pointer
// recomputation, commit and cancel. It is the only writer of slot occupancy.
package placement

import (
	"errors"
	"fmt"
	"io"
	"log"
	"time"

	"github.com/google/uuid"

	"slotplan.ai/internal/bus"
	"slotplan.ai/internal/protocol"
	"slotplan.ai/internal/sim/catalogs"
	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/ghost"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/project"
	"slotplan.ai/internal/sim/slots"
	"slotplan.ai/internal/sim/validate"
)

type State int

const (
	Idle State = iota
	Selecting
	Dragging
	Hovering
	Committing
	Moving
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Selecting:
		return "selecting"
	case Dragging:
		return "dragging"
	case Hovering:
		return "hovering"
	case Committing:
		return "committing"
	case Moving:
		return "moving"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrNoModule      = errors.New("no module selected")
	ErrUnknownModule = errors.New("unknown module")
	ErrBusy          = errors.New("gesture in progress")
	ErrEmptySlot     = errors.New("slot is empty")
	ErrNoFit         = errors.New("module does not fit slot")
)

type Catalog interface {
	Template(id string) (catalogs.ModuleTemplate, bool)
	LoadVisual(id string) *catalogs.Pending
}

type Registrar interface {
	Register(t catalogs.ModuleTemplate) error
}

type Projector interface {
	Project(ptr project.Pointer) (geom.Vec3, bool)
	ProjectOnto(ptr project.Pointer, obstacles []geom.Box) (geom.Vec3, bool)
}

type Config struct {
	Bus       bus.Bus
	Catalog   Catalog
	Registry  *slots.Registry
	Projector Projector
	Ghost     *ghost.Controller
	Validator validate.Validator
	Logger    *log.Logger

	// OnReject is told about input events the manager refused.
	OnReject func(ev protocol.Event, err error)

	// Now and NewID default to time.Now and random UUIDs.
	Now   func() time.Time
	NewID func() string
}

type Manager struct {
	bus       bus.Bus
	catalog   Catalog
	reg       *slots.Registry
	projector Projector
	ghost     *ghost.Controller
	validator validate.Validator
	log       *log.Logger
	onReject  func(protocol.Event, error)
	now       func() time.Time
	newID     func() string

	state  State
	active *layout.Slot

	// Visual handles of placed modules, keyed by placed module id.
	placed map[string]*catalogs.Pending
	unsubs []func()
}

func New(cfg Config) *Manager {
	if cfg.Logger == nil {
		cfg.Logger = log.New(io.Discard, "", 0)
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = uuid.NewString
	}
	if cfg.Registry == nil {
		cfg.Registry = slots.NewRegistry()
	}
	if cfg.Ghost == nil {
		cfg.Ghost = ghost.New(nil, geom.Size{})
	}
	if cfg.Validator.FloorTolerance <= 0 {
		cfg.Validator = validate.New(cfg.Validator.FloorY, 0)
	}
	return &Manager{
		bus:       cfg.Bus,
		catalog:   cfg.Catalog,
		reg:       cfg.Registry,
		projector: cfg.Projector,
		ghost:     cfg.Ghost,
		validator: cfg.Validator,
		log:       cfg.Logger,
		onReject:  cfg.OnReject,
		now:       cfg.Now,
		newID:     cfg.NewID,
		placed:    map[string]*catalogs.Pending{},
	}
}

func (m *Manager) State() State { return m.state }

func (m *Manager) Registry() *slots.Registry { return m.reg }

// Attach subscribes the manager to its input events. Detach undoes it.
func (m *Manager) Attach() {
	if m.bus == nil || len(m.unsubs) > 0 {
		return
	}
	for _, name := range []string{
		protocol.EventModuleSelected,
		protocol.EventSlotClicked,
		protocol.EventPointerMoved,
		protocol.EventPointerReleased,
		protocol.EventDragCancelled,
		protocol.EventRemoveRequested,
		protocol.EventCatalogRegistered,
	} {
		m.unsubs = append(m.unsubs, m.bus.Subscribe(name, m.Handle))
	}
}

func (m *Manager) Detach() {
	for _, u := range m.unsubs {
		u()
	}
	m.unsubs = nil
}

func (m *Manager) Handle(msg bus.Message) {
	switch ev := msg.Event.(type) {
	case protocol.ModuleSelected:
		m.reject(ev, m.SelectModule(ev.ModuleID))
	case protocol.SlotClicked:
		m.reject(ev, m.clickSlot(ev.SlotID))
	case protocol.PointerMoved:
		m.PointerMove(project.Pointer{X: ev.X, Y: ev.Y})
	case protocol.PointerReleased:
		m.reject(ev, m.PointerUp())
	case protocol.DragCancelled:
		m.Cancel()
	case protocol.RemoveRequested:
		m.reject(ev, m.Remove(ev.SlotID))
	case protocol.CatalogRegistered:
		m.reject(ev, m.register(ev.Template))
	}
}

func (m *Manager) reject(ev protocol.Event, err error) {
	if err == nil {
		return
	}
	m.log.Printf("placement: %s: %v", ev.EventName(), err)
	if m.onReject != nil {
		m.onReject(ev, err)
	}
}

// SelectModule starts a new-module gesture. Unknown or empty ids change nothing.
func (m *Manager) SelectModule(id string) error {
	if m.state != Idle && m.state != Selecting {
		return fmt.Errorf("%w: select %q while %s", ErrBusy, id, m.state)
	}
	t, ok := m.template(id)
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownModule, id)
	}
	m.ghost.Begin(ghost.State{TemplateID: t.ID, Template: t}, m.catalog.LoadVisual(t.ID))
	m.state = Selecting
	return nil
}

// PointerDown on an occupied slot while idle picks up its module. While selecting it
// starts dragging the selected module; slotID is ignored then.
func (m *Manager) PointerDown(slotID string) bool {
	switch m.state {
	case Selecting:
		m.state = Dragging
		return true
	case Idle:
	default:
		return false
	}
	s, ok := m.reg.Slot(slotID)
	if !ok || !s.Occupied() {
		return false
	}
	t, ok := m.template(s.Occupant.TemplateID)
	if !ok {
		m.log.Printf("placement: slot %s holds unknown module %q", slotID, s.Occupant.TemplateID)
		return false
	}
	m.ghost.Begin(ghost.State{
		TemplateID: t.ID,
		Template:   t,
		Position:   s.Center,
		SourceSlot: s.ID,
	}, m.catalog.LoadVisual(t.ID))
	m.state = Dragging
	return true
}

func (m *Manager) PointerMove(ptr project.Pointer) {
	st, ok := m.ghost.State()
	if !ok {
		return
	}
	point, ok := m.project(ptr, st)
	if !ok {
		return
	}
	scale := m.ghost.FreeScale(st.Template)
	box := geom.BoxAt(point, validate.TemplateSize(st.Template, scale))
	var active *layout.Slot
	if s, ok := m.reg.FindContaining(box, m.accepts(st)); ok {
		ls := s.Slot
		active = &ls
	}
	cand := st.Candidate()
	cand.Position = point
	cand.Scale = scale
	valid := m.validator.IsValidPlacement(cand, m.reg, active)

	m.ghost.Update(point, active, valid)
	m.setActive(active)
	if active != nil {
		m.state = Hovering
	} else {
		m.state = Dragging
	}
}

// PointerUp ends the gesture: commit over a slot, cancel otherwise. Dropping a
// re-dragged module back on its own slot changes nothing.
func (m *Manager) PointerUp() error {
	st, ok := m.ghost.State()
	if !ok {
		return nil
	}
	if m.active == nil {
		m.Cancel()
		return nil
	}
	if m.active.ID == st.SourceSlot {
		m.Cancel()
		return nil
	}
	return m.commit(st, *m.active)
}

// Cancel abandons any gesture. Occupancy is never touched.
func (m *Manager) Cancel() {
	m.ghost.Dispose()
	m.setActive(nil)
	m.state = Idle
}

// Remove deletes the module placed in slotID. A drag of that module is cancelled first.
func (m *Manager) Remove(slotID string) error {
	s, ok := m.reg.Slot(slotID)
	if !ok {
		return fmt.Errorf("%w: %s", slots.ErrUnknownSlot, slotID)
	}
	if st, ok := m.ghost.State(); ok && st.SourceSlot == slotID {
		m.Cancel()
	}
	pm, ok := m.reg.Vacate(slotID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrEmptySlot, slotID)
	}
	m.releasePlaced(pm.ID)
	m.publish(protocol.ModuleRemoved{SlotID: s.ID, SlotIndex: s.Index})
	m.publish(protocol.UpdateSlotStatus{SlotIndex: s.Index, Status: protocol.SlotEmpty})
	return nil
}

// ApplyLayout regenerates the slots. Placed modules are dropped with the old layout.
func (m *Manager) ApplyLayout(p layout.Params) []layout.Slot {
	m.Cancel()
	for id := range m.placed {
		m.releasePlaced(id)
	}
	ls := layout.ComputeSlots(p)
	m.reg.SetSlots(ls)
	m.publish(protocol.LayoutApplied{Generation: m.reg.Generation(), SlotCount: len(ls)})
	for _, s := range ls {
		m.publish(protocol.UpdateSlotStatus{SlotIndex: s.Index, Status: protocol.SlotEmpty})
	}
	m.log.Printf("placement: layout applied: %d slots (generation %d)", len(ls), m.reg.Generation())
	return ls
}

// Restore re-occupies slots from saved placements without publishing events. Entries
// that name an unknown module or a missing or taken slot are skipped and returned.
func (m *Manager) Restore(pms []slots.PlacedModule) []slots.PlacedModule {
	var skipped []slots.PlacedModule
	for _, pm := range pms {
		if _, ok := m.template(pm.TemplateID); !ok {
			skipped = append(skipped, pm)
			continue
		}
		if err := m.reg.Occupy(pm.SlotID, pm); err != nil {
			skipped = append(skipped, pm)
			continue
		}
		m.placed[pm.ID] = m.catalog.LoadVisual(pm.TemplateID)
	}
	return skipped
}

func (m *Manager) PlacedVisual(moduleID string) (*catalogs.Handle, bool) {
	p, ok := m.placed[moduleID]
	if !ok {
		return nil, false
	}
	return p.Ready()
}

func (m *Manager) Close() {
	m.Cancel()
	m.Detach()
	for id := range m.placed {
		m.releasePlaced(id)
	}
}

func (m *Manager) commit(st ghost.State, dst layout.Slot) error {
	moving := st.SourceSlot != ""
	if moving {
		m.state = Moving
	} else {
		m.state = Committing
	}
	scale := validate.CommitScale(st.Template, dst)
	pm := slots.NewPlacedModule(m.newID(), st.Template, dst.ID, dst.Center, scale, m.now())

	var (
		src  slots.Slot
		prev *slots.PlacedModule
		err  error
	)
	if moving {
		src, _ = m.reg.Slot(st.SourceSlot)
		prev = src.Occupant
		err = m.reg.Move(st.SourceSlot, dst.ID, pm)
	} else {
		err = m.reg.Occupy(dst.ID, pm)
	}
	if err != nil {
		m.Cancel()
		return err
	}

	if prev != nil {
		m.releasePlaced(prev.ID)
	}
	m.placed[pm.ID] = m.catalog.LoadVisual(st.TemplateID)

	if moving {
		m.publish(protocol.ModuleMoved{
			ModuleID:      st.TemplateID,
			FromSlotIndex: src.Index,
			ToSlotID:      dst.ID,
			ToSlotIndex:   dst.Index,
		})
		m.publish(protocol.UpdateSlotStatus{SlotIndex: src.Index, Status: protocol.SlotEmpty})
	} else {
		m.publish(protocol.ModulePlaced{
			ModuleID:  st.TemplateID,
			SlotID:    dst.ID,
			SlotIndex: dst.Index,
			Position:  dst.Center.ToArray(),
		})
	}
	m.publish(protocol.UpdateSlotStatus{SlotIndex: dst.Index, Status: protocol.SlotOccupied})
	m.Cancel()
	return nil
}

func (m *Manager) clickSlot(slotID string) error {
	switch m.state {
	case Idle:
		if !m.PointerDown(slotID) {
			return fmt.Errorf("%w: nothing to pick up in %s", ErrEmptySlot, slotID)
		}
	case Selecting, Dragging, Hovering:
		return m.PlaceAt(slotID)
	}
	return nil
}

// PlaceAt commits the current ghost straight into slotID. The slot must accept the
// module; otherwise the gesture stays as it is.
func (m *Manager) PlaceAt(slotID string) error {
	st, ok := m.ghost.State()
	if !ok {
		return ErrNoModule
	}
	s, ok := m.reg.Slot(slotID)
	if !ok {
		return fmt.Errorf("%w: %s", slots.ErrUnknownSlot, slotID)
	}
	if s.ID == st.SourceSlot {
		m.Cancel()
		return nil
	}
	if s.Occupied() {
		return &slots.OccupiedSlotError{SlotID: s.ID, Occupant: s.Occupant.ID}
	}
	if !validate.Fits(st.Template, s.Slot) {
		return fmt.Errorf("%w: %s in %s", ErrNoFit, st.TemplateID, slotID)
	}
	return m.commit(st, s.Slot)
}

// accepts is the slot compatibility test for the dragged template: it must fit, and
// the slot must be free unless it is the re-drag source.
func (m *Manager) accepts(st ghost.State) func(layout.Slot) bool {
	return func(ls layout.Slot) bool {
		if !validate.Fits(st.Template, ls) {
			return false
		}
		if ls.ID == st.SourceSlot {
			return true
		}
		s, ok := m.reg.Slot(ls.ID)
		return ok && !s.Occupied()
	}
}

func (m *Manager) project(ptr project.Pointer, st ghost.State) (geom.Vec3, bool) {
	if m.projector == nil {
		return geom.Vec3{}, false
	}
	if st.Template.Rules.Stackable {
		return m.projector.ProjectOnto(ptr, m.reg.OccupantBoxes(st.SourceSlot))
	}
	return m.projector.Project(ptr)
}

func (m *Manager) setActive(s *layout.Slot) {
	id := ""
	if s != nil {
		id = s.ID
	}
	m.active = s
	for _, c := range m.reg.SetActive(id) {
		m.publish(protocol.SlotHovered{SlotID: c.SlotID, SlotIndex: c.SlotIndex, IsHovered: c.Hovered})
	}
}

func (m *Manager) template(id string) (catalogs.ModuleTemplate, bool) {
	if id == "" || m.catalog == nil {
		return catalogs.ModuleTemplate{}, false
	}
	return m.catalog.Template(id)
}

func (m *Manager) register(def protocol.TemplateDef) error {
	r, ok := m.catalog.(Registrar)
	if !ok {
		return fmt.Errorf("catalog does not accept registrations, dropped %q", def.ID)
	}
	t := catalogs.ModuleTemplate{
		ID:   def.ID,
		Name: def.Name,
		Size: geom.Size{Width: def.Size[0], Height: def.Size[1], Depth: def.Size[2]},
		Rules: catalogs.Rules{
			RequiresFloorContact: def.Rules.RequiresFloorContact,
			Stackable:            def.Rules.Stackable,
		},
	}
	return r.Register(t)
}

func (m *Manager) releasePlaced(id string) {
	if p, ok := m.placed[id]; ok {
		p.Release()
		delete(m.placed, id)
	}
}

func (m *Manager) publish(ev protocol.Event) {
	if m.bus != nil {
		m.bus.Publish(ev)
	}
}
