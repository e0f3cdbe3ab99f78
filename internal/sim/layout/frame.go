package layout

type FrameParams struct {
	TotalWidth      float64 `yaml:"total_width" json:"total_width"`
	TotalHeight     float64 `yaml:"total_height" json:"total_height"`
	Depth           float64 `yaml:"depth" json:"depth"`
	PanelThickness  float64 `yaml:"panel_thickness" json:"panel_thickness"`
	TopFrameHeight  float64 `yaml:"top_frame_height" json:"top_frame_height"`
	BaseHeight      float64 `yaml:"base_height" json:"base_height"`
	BaseSetback     float64 `yaml:"base_setback" json:"base_setback"`
	EndPanelOverlay float64 `yaml:"end_panel_overlay" json:"end_panel_overlay"`
}

type Panel struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Depth  float64 `json:"depth"`
}

type FrameGeometry struct {
	Top      Panel   `json:"top"`
	Base     Panel   `json:"base"`
	EndLeft  Panel   `json:"end_left"`
	EndRight Panel   `json:"end_right"`
	Offsets  Offsets `json:"offsets"`

	// SlotHeight is the clear height between base and top frame.
	SlotHeight float64 `json:"slot_height"`
}

// Frame computes carcass panels. Top frame and base share the inner span width, which
// is also the span the slot layout divides; changing one changes the other.
func Frame(p FrameParams) FrameGeometry {
	end := p.PanelThickness + p.EndPanelOverlay
	inner := p.TotalWidth - 2*end
	if inner < 0 {
		inner = 0
	}
	slotH := p.TotalHeight - p.TopFrameHeight - p.BaseHeight
	if slotH < 0 {
		slotH = 0
	}
	endPanel := Panel{Width: p.PanelThickness, Height: p.TotalHeight, Depth: p.Depth}
	return FrameGeometry{
		Top:        Panel{Width: inner, Height: p.TopFrameHeight, Depth: p.Depth},
		Base:       Panel{Width: inner, Height: p.BaseHeight, Depth: p.Depth - p.BaseSetback},
		EndLeft:    endPanel,
		EndRight:   endPanel,
		Offsets:    Offsets{Left: end, Right: end},
		SlotHeight: slotH,
	}
}

func (g FrameGeometry) SlotParams(p FrameParams, slotCount int, reserved *Region) Params {
	return Params{
		TotalWidth:     p.TotalWidth,
		SlotCount:      slotCount,
		Offsets:        g.Offsets,
		Reserved:       reserved,
		SlotHeight:     g.SlotHeight,
		SlotDepth:      p.Depth,
		PanelThickness: p.PanelThickness,
		BaseY:          g.Base.Height,
	}
}
