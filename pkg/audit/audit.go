// Package audit inspects rendered markers for presentation drift: markers
// hidden by style, collapsed to zero size, stranded off-screen or unable to
// receive clicks. It can repair what it finds without recreating elements.
package audit

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

// Category classifies an issue.
type Category string

const (
	CategoryVisibility Category = "visibility"
	CategoryDisplay    Category = "display"
	CategoryOpacity    Category = "opacity"
	CategoryDimensions Category = "dimensions"
	CategoryPosition   Category = "position"
	CategoryPointer    Category = "pointer"
)

const (
	// DefaultMargin is how far outside the viewport a marker may sit before
	// it counts as stranded.
	DefaultMargin = 1000.0
	// MinOpacity is the lowest opacity still considered visible.
	MinOpacity = 0.1
)

// Issue is one finding for one element.
type Issue struct {
	ElementID   string   `json:"element_id"`
	LocationID  string   `json:"location_id,omitempty"`
	Category    Category `json:"category"`
	Description string   `json:"description"`
	Fix         string   `json:"fix"`
	Fixed       bool     `json:"fixed"`
}

// Report summarises one audit pass. Counts reflect the state found, before
// any repair.
type Report struct {
	Total   int     `json:"total"`
	Visible int     `json:"visible"`
	Hidden  int     `json:"hidden"`
	Issues  []Issue `json:"issues"`
}

// Fixed returns how many issues were repaired.
func (r Report) Fixed() int {
	n := 0
	for _, is := range r.Issues {
		if is.Fixed {
			n++
		}
	}
	return n
}

// ExpectFunc returns where a marker should be drawn under the viewport. ok
// is false when the expected position is unknown.
type ExpectFunc func(el surface.Element, vp projection.Viewport) (rect models.Rect, ok bool)

type Options struct {
	// Margin widens the viewport for the off-screen check. Zero means DefaultMargin.
	Margin float64
	// Size restores collapsed markers.
	Size   models.Size
	Expect ExpectFunc
	Logger zerolog.Logger
}

// Auditor checks every marker element on a surface.
type Auditor struct {
	surf *surface.Surface
	opts Options
}

// New creates an auditor over s.
func New(s *surface.Surface, opts Options) *Auditor {
	if opts.Margin <= 0 {
		opts.Margin = DefaultMargin
	}
	return &Auditor{surf: s, opts: opts}
}

// Audit inspects every marker. When autoFix is false the surface is not
// touched.
func (a *Auditor) Audit(vp projection.Viewport, autoFix bool) Report {
	markers := a.surf.Elements(surface.KindMarker)
	report := Report{Total: len(markers), Issues: []Issue{}}

	for _, el := range markers {
		issues, fix := a.inspect(el, vp)
		if rendered(issues) {
			report.Visible++
		} else {
			report.Hidden++
		}
		if len(issues) == 0 {
			continue
		}

		if autoFix {
			applied := a.surf.Update(el.ID, fix)
			for i := range issues {
				issues[i].Fixed = applied && issues[i].Fix != ""
			}
		}
		for _, is := range issues {
			a.opts.Logger.Debug().
				Str("element_id", is.ElementID).
				Str("category", string(is.Category)).
				Bool("fixed", is.Fixed).
				Msg(is.Description)
		}
		report.Issues = append(report.Issues, issues...)
	}

	if len(report.Issues) > 0 {
		a.opts.Logger.Info().
			Int("total", report.Total).
			Int("hidden", report.Hidden).
			Int("issues", len(report.Issues)).
			Int("fixed", report.Fixed()).
			Msg("marker audit found issues")
	}
	return report
}

// inspect returns the issues of one element and the style mutation that
// repairs all of them.
func (a *Auditor) inspect(el surface.Element, vp projection.Viewport) ([]Issue, func(*surface.Element)) {
	var (
		issues []Issue
		fixes  []func(*surface.Style)
	)
	locID, _ := el.Attr("data-location-id")
	add := func(c Category, desc, fix string, fn func(*surface.Style)) {
		issues = append(issues, Issue{
			ElementID:   el.ID,
			LocationID:  locID,
			Category:    c,
			Description: desc,
			Fix:         fix,
		})
		if fn != nil {
			fixes = append(fixes, fn)
		}
	}

	s := el.Style
	if s.Display == surface.DisplayNone {
		add(CategoryDisplay, "marker has display: none", "set display: block",
			func(st *surface.Style) { st.Display = surface.DisplayBlock })
	}
	if s.Visibility == surface.VisibilityHidden {
		add(CategoryVisibility, "marker has visibility: hidden", "set visibility: visible",
			func(st *surface.Style) { st.Visibility = surface.VisibilityVisible })
	}
	if s.Opacity < MinOpacity || math.IsNaN(s.Opacity) {
		add(CategoryOpacity, fmt.Sprintf("marker opacity is %.2f", s.Opacity), "set opacity: 1",
			func(st *surface.Style) { st.Opacity = 1 })
	}
	sized := !unsized(s.Width) && !unsized(s.Height) && !unsized(s.Scale)
	if !sized {
		size := a.opts.Size
		add(CategoryDimensions,
			fmt.Sprintf("marker is %.0fx%.0f at scale %.2f", s.Width, s.Height, s.Scale),
			fmt.Sprintf("set size %.0fx%.0f", size.Width, size.Height),
			func(st *surface.Style) {
				if unsized(st.Width) {
					st.Width = size.Width
				}
				if unsized(st.Height) {
					st.Height = size.Height
				}
				if unsized(st.Scale) {
					st.Scale = 1
				}
			})
	}
	if s.PointerEvents == surface.PointerNone {
		add(CategoryPointer, "marker has pointer-events: none", "set pointer-events: auto",
			func(st *surface.Style) { st.PointerEvents = surface.PointerAuto })
	}

	// An unsized marker has no meaningful rect to place.
	if vp.Ready() && sized {
		if is, fn, ok := a.checkPosition(el, vp); ok {
			add(is.Category, is.Description, is.Fix, fn)
		}
	}

	return issues, func(e *surface.Element) {
		for _, fn := range fixes {
			fn(&e.Style)
		}
	}
}

// checkPosition flags a marker drawn far outside the viewport while its
// coordinate projects inside it.
func (a *Auditor) checkPosition(el surface.Element, vp projection.Viewport) (Issue, func(*surface.Style), bool) {
	view := vp.Rect()
	bounds := models.Rect{
		X:      view.X - a.opts.Margin,
		Y:      view.Y - a.opts.Margin,
		Width:  view.Width + 2*a.opts.Margin,
		Height: view.Height + 2*a.opts.Margin,
	}
	rect := el.BoundingRect()
	if rect.Intersects(bounds) {
		return Issue{}, nil, false
	}

	desc := fmt.Sprintf("marker at (%.0f, %.0f) is far outside the viewport", rect.X, rect.Y)
	if a.opts.Expect == nil {
		return Issue{Category: CategoryPosition, Description: desc}, nil, true
	}
	want, ok := a.opts.Expect(el, vp)
	if !ok {
		return Issue{Category: CategoryPosition, Description: desc}, nil, true
	}
	if !want.Intersects(view) {
		// Its location is off-screen too.
		return Issue{}, nil, false
	}
	fix := fmt.Sprintf("move to (%.0f, %.0f)", want.X, want.Y)
	return Issue{Category: CategoryPosition, Description: desc, Fix: fix}, func(st *surface.Style) {
		st.Left = want.X
		st.Top = want.Y
	}, true
}

// unsized is true for zero, negative and NaN extents.
func unsized(v float64) bool {
	return !(v > 0)
}

// rendered reports whether an element with these issues is drawn at all.
func rendered(issues []Issue) bool {
	for _, is := range issues {
		switch is.Category {
		case CategoryDisplay, CategoryVisibility, CategoryOpacity, CategoryDimensions:
			return false
		}
	}
	return true
}
