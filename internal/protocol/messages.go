package protocol

import "encoding/json"

// HELLO (client -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ClientName      string `json:"client_name"`
	// Role is "renderer" (receives ghost frames) or "input" (events only).
	Role string `json:"role,omitempty"`
}

// WELCOME (server -> client)
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	SessionID       string          `json:"session_id"`
	Generation      uint64          `json:"generation"`
	Slots           []SlotView      `json:"slots"`
	Frame           json.RawMessage `json:"frame,omitempty"`
	CatalogDigest   string          `json:"catalog_digest"`
	Modules         []TemplateDef   `json:"modules"`
}

type SlotView struct {
	ID            string     `json:"id"`
	Index         int        `json:"index"`
	Center        [3]float64 `json:"center"`
	Size          [3]float64 `json:"size"`
	BelowReserved bool       `json:"below_reserved,omitempty"`
	Status        SlotStatus `json:"status"`
	ModuleID      string     `json:"module_id,omitempty"`
}

// INPUT (client -> server)
type InputMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	Event           string          `json:"event"`
	Payload         json.RawMessage `json:"payload,omitempty"`
}

// EVENT (server -> client)
type EventMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Seq             uint64 `json:"seq"`
	Event           string `json:"event"`
	Payload         Event  `json:"payload"`
}

func NewEventMsg(seq uint64, ev Event) EventMsg {
	return EventMsg{
		Type:            TypeEvent,
		ProtocolVersion: Version,
		Seq:             seq,
		Event:           ev.EventName(),
		Payload:         ev,
	}
}

// GHOST (server -> renderer clients)
type GhostMsg struct {
	Type            string      `json:"type"`
	ProtocolVersion string      `json:"protocol_version"`
	Visible         bool        `json:"visible"`
	Frame           *GhostFrame `json:"frame,omitempty"`
}

type GhostFrame struct {
	TemplateID   string     `json:"template_id"`
	Position     [3]float64 `json:"position"`
	Scale        [3]float64 `json:"scale"`
	Size         [3]float64 `json:"size"`
	Tint         string     `json:"tint"`
	SlotID       string     `json:"slot_id,omitempty"`
	VisualKind   string     `json:"visual_kind"`
	VisualDigest string     `json:"visual_digest,omitempty"`
}

// ERROR (server -> client)
type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message"`
}

func NewErrorMsg(code, message string) ErrorMsg {
	return ErrorMsg{Type: TypeError, ProtocolVersion: Version, Code: code, Message: message}
}
