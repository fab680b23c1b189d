// Package positioner decides whether an activated marker and the popup about
// to open above it would end up inside the edge padding of the viewport, and
// if so computes the single viewport move that brings both into the clear.
package positioner

import (
	"math"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/popup"
	"github.com/1F47E/geo-overlay/pkg/projection"
)

// Edge names a viewport side.
type Edge string

const (
	EdgeTop    Edge = "top"
	EdgeRight  Edge = "right"
	EdgeBottom Edge = "bottom"
	EdgeLeft   Edge = "left"
)

type Config struct {
	Padding     models.EdgePadding
	MarkerSize  models.Size
	PopupSize   models.Size
	PopupOffset float64
}

// Plan is the outcome of checking one marker against the viewport.
type Plan struct {
	// Marker is the marker position under the current viewport.
	Marker models.ScreenPoint `json:"marker"`
	// Footprint is the union of the marker and its popup before any move.
	Footprint models.Rect `json:"footprint"`
	// Violations lists every edge whose padding the footprint intrudes on.
	Violations []Edge `json:"violations,omitempty"`
	// ShiftX/ShiftY is how far the marker moves on screen.
	ShiftX float64 `json:"shift_x"`
	ShiftY float64 `json:"shift_y"`
	// Target is the viewport after the move; equal to the input when no
	// move is needed.
	Target projection.Viewport `json:"target"`
	// BestEffort is set when an axis could not satisfy both of its paddings
	// and the marker was centred on that axis instead.
	BestEffort bool `json:"best_effort"`
}

// NeedsMove reports whether the viewport has to change.
func (p Plan) NeedsMove() bool {
	return p.ShiftX != 0 || p.ShiftY != 0
}

type Positioner struct {
	cfg Config
}

// New creates a positioner; paddings are clamped to the minimum floor.
func New(cfg Config) *Positioner {
	cfg.Padding = cfg.Padding.Clamped()
	return &Positioner{cfg: cfg}
}

// Config returns the effective configuration.
func (p *Positioner) Config() Config { return p.cfg }

// Footprint returns the union of the marker rect and the popup rect for a
// marker centred at m.
func (p *Positioner) Footprint(m models.ScreenPoint) models.Rect {
	markerRect := models.CenteredRect(m, p.cfg.MarkerSize)
	popupRect := popup.Footprint(m, p.cfg.MarkerSize, p.cfg.PopupSize, p.cfg.PopupOffset)
	return markerRect.Union(popupRect)
}

// Plan checks loc against vp. Horizontal violations only move the centre's
// longitude and vertical ones only its latitude; both are applied in one
// target viewport.
func (p *Positioner) Plan(vp projection.Viewport, loc models.Location) (Plan, error) {
	m, err := vp.Project(loc)
	if err != nil {
		return Plan{}, err
	}

	fp := p.Footprint(m)
	plan := Plan{Marker: m, Footprint: fp, Target: vp}
	pad := p.cfg.Padding

	var bestX, bestY bool
	plan.ShiftX, bestX = axisShift(fp.Left(), fp.Right(), vp.Width, pad.Left, pad.Right, m.X)
	plan.ShiftY, bestY = axisShift(fp.Top(), fp.Bottom(), vp.Height, pad.Top, pad.Bottom, m.Y)
	plan.ShiftX, plan.ShiftY = round(plan.ShiftX), round(plan.ShiftY)
	plan.BestEffort = bestX || bestY

	if fp.Top() < pad.Top {
		plan.Violations = append(plan.Violations, EdgeTop)
	}
	if fp.Right() > vp.Width-pad.Right {
		plan.Violations = append(plan.Violations, EdgeRight)
	}
	if fp.Bottom() > vp.Height-pad.Bottom {
		plan.Violations = append(plan.Violations, EdgeBottom)
	}
	if fp.Left() < pad.Left {
		plan.Violations = append(plan.Violations, EdgeLeft)
	}

	if plan.NeedsMove() {
		plan.Target = vp.Shift(plan.ShiftX, plan.ShiftY)
	}
	return plan, nil
}

// Satisfied reports whether a marker at m clears every padding.
func (p *Positioner) Satisfied(vp projection.Viewport, m models.ScreenPoint) bool {
	fp := p.Footprint(m)
	pad := p.cfg.Padding
	const eps = 1e-6
	return fp.Left() >= pad.Left-eps &&
		fp.Top() >= pad.Top-eps &&
		fp.Right() <= vp.Width-pad.Right+eps &&
		fp.Bottom() <= vp.Height-pad.Bottom+eps
}

// axisShift returns how far a span [lo, hi] must move so that it sits inside
// [padLo, size-padHi]. When the span cannot fit, the anchor is centred.
func axisShift(lo, hi, size, padLo, padHi, anchor float64) (float64, bool) {
	minLo := padLo
	maxHi := size - padHi

	if hi-lo > maxHi-minLo {
		return size/2 - anchor, true
	}
	switch {
	case lo < minLo:
		return minLo - lo, false
	case hi > maxHi:
		return maxHi - hi, false
	}
	return 0, false
}

// Distances returns the clearance between m and each viewport edge.
func Distances(vp projection.Viewport, m models.ScreenPoint) map[Edge]float64 {
	return map[Edge]float64{
		EdgeTop:    m.Y,
		EdgeRight:  vp.Width - m.X,
		EdgeBottom: vp.Height - m.Y,
		EdgeLeft:   m.X,
	}
}

// round drops float residue below 1e-9.
func round(v float64) float64 {
	if math.Abs(v) < 1e-9 {
		return 0
	}
	return v
}
