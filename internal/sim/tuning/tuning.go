package tuning

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"slotplan.ai/internal/sim/geom"
	"slotplan.ai/internal/sim/layout"
	"slotplan.ai/internal/sim/project"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	Frame   layout.FrameParams `yaml:"frame"`
	Layout  Layout             `yaml:"layout"`
	Rules   Rules              `yaml:"rules"`
	Ghost   Ghost              `yaml:"ghost"`
	Camera  Camera             `yaml:"camera"`
	Session Session            `yaml:"session"`
}

// MaxSlotCount bounds a layout, including one applied at runtime.
const MaxSlotCount = 256

var ErrInvalidLayout = errors.New("invalid layout")

type Layout struct {
	SlotCount int            `yaml:"slot_count"`
	Reserved  *layout.Region `yaml:"reserved"`
	WallZ     float64        `yaml:"wall_z"`

	// Side panel thickness of each slot. Zero means modules bring their own carcass.
	SlotPanelThickness float64 `yaml:"slot_panel_thickness"`
}

type Rules struct {
	FloorY         float64 `yaml:"floor_y"`
	FloorTolerance float64 `yaml:"floor_tolerance"`
}

type Ghost struct {
	// Envelope caps the free-form preview size (width, height, depth).
	Envelope [3]float64 `yaml:"envelope"`
}

type Camera struct {
	Position [3]float64 `yaml:"position"`
	Target   [3]float64 `yaml:"target"`
	FovY     float64    `yaml:"fov_y"`
	Aspect   float64    `yaml:"aspect"`
}

type Session struct {
	InboxSize    int `yaml:"inbox_size"`
	ClientBuffer int `yaml:"client_buffer"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: "1.0",
		Frame: layout.FrameParams{
			TotalWidth:     4836,
			TotalHeight:    2400,
			Depth:          600,
			PanelThickness: 18,
			TopFrameHeight: 80,
			BaseHeight:     100,
			BaseSetback:    50,
		},
		Layout: Layout{SlotCount: 8},
		Rules:  Rules{FloorTolerance: 0.01},
		Ghost:  Ghost{Envelope: [3]float64{1200, 2400, 800}},
		Camera: Camera{
			Position: [3]float64{0, 1600, 4000},
			Target:   [3]float64{0, 800, 0},
			FovY:     50,
			Aspect:   16.0 / 9.0,
		},
		Session: Session{InboxSize: 1024, ClientBuffer: 256},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.Frame.TotalWidth <= 0 || t.Frame.TotalHeight <= 0 || t.Frame.Depth <= 0 {
		errs = append(errs, errors.New("frame: width, height and depth must be positive"))
	}
	if err := t.Layout.Validate(); err != nil {
		errs = append(errs, err)
	}
	if t.Rules.FloorTolerance < 0 {
		errs = append(errs, errors.New("rules: floor_tolerance must not be negative"))
	}
	if t.Session.InboxSize <= 0 || t.Session.ClientBuffer <= 0 {
		errs = append(errs, errors.New("session: buffers must be positive"))
	}
	return errors.Join(errs...)
}

func (l Layout) Validate() error {
	switch r := l.Reserved; {
	case l.SlotCount < 0 || l.SlotCount > MaxSlotCount:
		return fmt.Errorf("%w: slot_count %d outside [0, %d]", ErrInvalidLayout, l.SlotCount, MaxSlotCount)
	case r != nil && r.End < r.Start:
		return fmt.Errorf("%w: reserved region ends before it starts (%v < %v)", ErrInvalidLayout, r.End, r.Start)
	case r != nil && r.Drop < 0:
		return fmt.Errorf("%w: reserved drop %v is negative", ErrInvalidLayout, r.Drop)
	}
	return nil
}

func (t Tuning) FrameGeometry() layout.FrameGeometry { return layout.Frame(t.Frame) }

func (t Tuning) LayoutParams() layout.Params {
	p := t.FrameGeometry().SlotParams(t.Frame, t.Layout.SlotCount, t.Layout.Reserved)
	p.PanelThickness = t.Layout.SlotPanelThickness
	p.WallZ = t.Layout.WallZ
	return p
}

func (t Tuning) GhostEnvelope() geom.Size {
	e := t.Ghost.Envelope
	return geom.Size{Width: e[0], Height: e[1], Depth: e[2]}
}

func (c Camera) Project() project.Camera {
	return project.Camera{
		Position: vec(c.Position),
		Target:   vec(c.Target),
		Up:       geom.Vec3{Y: 1},
		FovY:     c.FovY,
		Aspect:   c.Aspect,
	}
}

func vec(a [3]float64) geom.Vec3 { return geom.Vec3{X: a[0], Y: a[1], Z: a[2]} }
