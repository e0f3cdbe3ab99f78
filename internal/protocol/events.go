package protocol

import (
	"encoding/json"
	"fmt"
)

// Event names carried on the bus and on the wire.
const (
	EventModuleSelected   = "module-selected"
	EventSlotHovered      = "slot-hovered"
	EventSlotClicked      = "slot-clicked"
	EventModulePlaced     = "module-placed"
	EventModuleMoved      = "module-moved"
	EventUpdateSlotStatus = "update-slot-status"
	EventModuleRemoved    = "module-removed"
	EventLayoutApplied    = "layout-applied"

	// Input layer.
	EventPointerMoved      = "pointer-moved"
	EventPointerReleased   = "pointer-released"
	EventDragCancelled     = "drag-cancelled"
	EventRemoveRequested   = "module-remove-requested"
	EventCatalogRegistered = "catalog-registered"
)

type Event interface {
	EventName() string
}

type SlotStatus string

const (
	SlotEmpty    SlotStatus = "empty"
	SlotOccupied SlotStatus = "occupied"
)

type ModuleSelected struct {
	ModuleID string `json:"moduleId"`
}

type SlotHovered struct {
	SlotID    string `json:"slotId"`
	SlotIndex int    `json:"slotIndex"`
	IsHovered bool   `json:"isHovered"`
}

type SlotClicked struct {
	SlotID    string `json:"slotId"`
	SlotIndex int    `json:"slotIndex"`
}

type ModulePlaced struct {
	ModuleID  string     `json:"moduleId"`
	SlotID    string     `json:"slotId"`
	SlotIndex int        `json:"slotIndex"`
	Position  [3]float64 `json:"position"`
}

type ModuleMoved struct {
	ModuleID      string `json:"moduleId"`
	FromSlotIndex int    `json:"fromSlotIndex"`
	ToSlotID      string `json:"toSlotId"`
	ToSlotIndex   int    `json:"toSlotIndex"`
}

type UpdateSlotStatus struct {
	SlotIndex int        `json:"slotIndex"`
	Status    SlotStatus `json:"status"`
}

type ModuleRemoved struct {
	SlotID    string `json:"slotId"`
	SlotIndex int    `json:"slotIndex"`
}

// LayoutApplied precedes the slot statuses of a regenerated layout. Every slot of the
// previous generation is gone.
type LayoutApplied struct {
	Generation uint64 `json:"generation"`
	SlotCount  int    `json:"slotCount"`
}

type PointerMoved struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

type PointerReleased struct{}

type DragCancelled struct{}

type RemoveRequested struct {
	SlotID string `json:"slotId"`
}

type TemplateDef struct {
	ID    string        `json:"id"`
	Name  string        `json:"name,omitempty"`
	Size  [3]float64    `json:"size"`
	Rules TemplateRules `json:"rules"`
}

type TemplateRules struct {
	RequiresFloorContact bool `json:"requiresFloorContact"`
	Stackable            bool `json:"stackable"`
}

type CatalogRegistered struct {
	Template TemplateDef `json:"template"`
}

func (ModuleSelected) EventName() string    { return EventModuleSelected }
func (SlotHovered) EventName() string       { return EventSlotHovered }
func (SlotClicked) EventName() string       { return EventSlotClicked }
func (ModulePlaced) EventName() string      { return EventModulePlaced }
func (ModuleMoved) EventName() string       { return EventModuleMoved }
func (UpdateSlotStatus) EventName() string  { return EventUpdateSlotStatus }
func (ModuleRemoved) EventName() string     { return EventModuleRemoved }
func (LayoutApplied) EventName() string     { return EventLayoutApplied }
func (PointerMoved) EventName() string      { return EventPointerMoved }
func (PointerReleased) EventName() string   { return EventPointerReleased }
func (DragCancelled) EventName() string     { return EventDragCancelled }
func (RemoveRequested) EventName() string   { return EventRemoveRequested }
func (CatalogRegistered) EventName() string { return EventCatalogRegistered }

func DecodeEvent(name string, payload json.RawMessage) (Event, error) {
	var ev Event
	switch name {
	case EventModuleSelected:
		ev = &ModuleSelected{}
	case EventSlotHovered:
		ev = &SlotHovered{}
	case EventSlotClicked:
		ev = &SlotClicked{}
	case EventModulePlaced:
		ev = &ModulePlaced{}
	case EventModuleMoved:
		ev = &ModuleMoved{}
	case EventUpdateSlotStatus:
		ev = &UpdateSlotStatus{}
	case EventModuleRemoved:
		ev = &ModuleRemoved{}
	case EventLayoutApplied:
		ev = &LayoutApplied{}
	case EventPointerMoved:
		ev = &PointerMoved{}
	case EventPointerReleased:
		ev = &PointerReleased{}
	case EventDragCancelled:
		ev = &DragCancelled{}
	case EventRemoveRequested:
		ev = &RemoveRequested{}
	case EventCatalogRegistered:
		ev = &CatalogRegistered{}
	default:
		return nil, fmt.Errorf("unknown event %q", name)
	}
	if len(payload) > 0 && string(payload) != "null" {
		if err := json.Unmarshal(payload, ev); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return deref(ev), nil
}

func deref(ev Event) Event {
	switch e := ev.(type) {
	case *ModuleSelected:
		return *e
	case *SlotHovered:
		return *e
	case *SlotClicked:
		return *e
	case *ModulePlaced:
		return *e
	case *ModuleMoved:
		return *e
	case *UpdateSlotStatus:
		return *e
	case *ModuleRemoved:
		return *e
	case *LayoutApplied:
		return *e
	case *PointerMoved:
		return *e
	case *PointerReleased:
		return *e
	case *DragCancelled:
		return *e
	case *RemoveRequested:
		return *e
	case *CatalogRegistered:
		return *e
	}
	return ev
}
