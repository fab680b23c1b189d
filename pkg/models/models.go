package models

import "math"

// MinEdgePadding is the smallest clearance, in pixels, kept between an
// interactive element and any viewport edge.
const MinEdgePadding = 20.0

// Location represents a geographic location with latitude and longitude
type Location struct {
	Lat float64 `json:"lat" yaml:"lat"`
	Lon float64 `json:"lon" yaml:"lon"`
}

// LocationRecord is one entry of the location list supplied by the host.
// Display fields are rendered verbatim into the popup.
type LocationRecord struct {
	ID         string          `json:"id" yaml:"id"`
	Location   *Location       `json:"location" yaml:"location"`
	Name       string          `json:"name,omitempty" yaml:"name"`
	Address    string          `json:"address,omitempty" yaml:"address"`
	PriceRange string          `json:"price_range,omitempty" yaml:"price_range"`
	Features   map[string]bool `json:"features,omitempty" yaml:"features"`
}

// BoundingBox represents a rectangular area defined by two corners
type BoundingBox struct {
	BottomLeft Location `json:"bottom_left"`
	TopRight   Location `json:"top_right"`
}

// Contains reports whether loc lies inside the box (edges inclusive).
func (b BoundingBox) Contains(loc Location) bool {
	return loc.Lat >= b.BottomLeft.Lat && loc.Lat <= b.TopRight.Lat &&
		loc.Lon >= b.BottomLeft.Lon && loc.Lon <= b.TopRight.Lon
}

// ScreenPoint is a pixel position relative to the viewport's top-left corner.
type ScreenPoint struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Finite reports whether both components are finite numbers.
func (p ScreenPoint) Finite() bool {
	return !math.IsNaN(p.X) && !math.IsInf(p.X, 0) && !math.IsNaN(p.Y) && !math.IsInf(p.Y, 0)
}

// Size is a width/height pair in pixels.
type Size struct {
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Rect is an axis-aligned pixel rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// CenteredRect returns a rect of the given size centred on p.
func CenteredRect(p ScreenPoint, s Size) Rect {
	return Rect{X: p.X - s.Width/2, Y: p.Y - s.Height/2, Width: s.Width, Height: s.Height}
}

func (r Rect) Left() float64   { return r.X }
func (r Rect) Top() float64    { return r.Y }
func (r Rect) Right() float64  { return r.X + r.Width }
func (r Rect) Bottom() float64 { return r.Y + r.Height }

// Contains reports whether p is inside r.
func (r Rect) Contains(p ScreenPoint) bool {
	return p.X >= r.Left() && p.X <= r.Right() && p.Y >= r.Top() && p.Y <= r.Bottom()
}

// Intersects reports whether the two rects overlap.
func (r Rect) Intersects(o Rect) bool {
	return r.Left() < o.Right() && o.Left() < r.Right() &&
		r.Top() < o.Bottom() && o.Top() < r.Bottom()
}

// Union returns the smallest rect covering both r and o.
func (r Rect) Union(o Rect) Rect {
	left := math.Min(r.Left(), o.Left())
	top := math.Min(r.Top(), o.Top())
	right := math.Max(r.Right(), o.Right())
	bottom := math.Max(r.Bottom(), o.Bottom())
	return Rect{X: left, Y: top, Width: right - left, Height: bottom - top}
}

// EdgePadding holds the minimum clearance for each viewport edge.
type EdgePadding struct {
	Top    float64 `json:"top" koanf:"top"`
	Right  float64 `json:"right" koanf:"right"`
	Bottom float64 `json:"bottom" koanf:"bottom"`
	Left   float64 `json:"left" koanf:"left"`
}

// UniformPadding returns a padding with the same value on every edge.
func UniformPadding(v float64) EdgePadding {
	return EdgePadding{Top: v, Right: v, Bottom: v, Left: v}.Clamped()
}

// Clamped raises every edge to at least MinEdgePadding.
func (p EdgePadding) Clamped() EdgePadding {
	return EdgePadding{
		Top:    clampEdge(p.Top),
		Right:  clampEdge(p.Right),
		Bottom: clampEdge(p.Bottom),
		Left:   clampEdge(p.Left),
	}
}

func clampEdge(v float64) float64 {
	if math.IsNaN(v) || v < MinEdgePadding {
		return MinEdgePadding
	}
	return v
}
