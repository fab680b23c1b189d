// Package projection converts geographic coordinates to viewport pixels using
// spherical Web Mercator, the projection slippy-map engines render tiles in.
package projection

import (
	"errors"
	"math"

	"github.com/1F47E/geo-overlay/pkg/geo"
	"github.com/1F47E/geo-overlay/pkg/models"
)

const (
	// TileSize is the pixel width of the whole world at zoom 0.
	TileSize = 256.0

	MinZoom = 0.0
	MaxZoom = 22.0
)

// ErrNotReady is returned while the viewport has no usable size.
var ErrNotReady = errors.New("viewport not ready")

// Viewport is the visible region of the map: a centre, a zoom level and the
// pixel size of the surface it is drawn on.
type Viewport struct {
	Center models.Location `json:"center"`
	Zoom   float64         `json:"zoom"`
	Width  float64         `json:"width"`
	Height float64         `json:"height"`
}

// Ready reports whether the viewport has been sized and can project.
func (v Viewport) Ready() bool {
	return v.Width > 0 && v.Height > 0 && !math.IsNaN(v.Zoom) && geo.Valid(&v.Center)
}

// Size returns the viewport dimensions.
func (v Viewport) Size() models.Size {
	return models.Size{Width: v.Width, Height: v.Height}
}

// Project converts loc to pixel coordinates relative to the viewport's
// top-left corner. Invalid coordinates are rejected with a geo error.
func (v Viewport) Project(loc models.Location) (models.ScreenPoint, error) {
	if err := geo.Validate(&loc); err != nil {
		return models.ScreenPoint{}, err
	}
	if !v.Ready() {
		return models.ScreenPoint{}, ErrNotReady
	}

	scale := worldSize(v.Zoom)
	px, py := worldPixel(loc, scale)
	cx, cy := worldPixel(v.Center, scale)

	return models.ScreenPoint{
		X: px - cx + v.Width/2,
		Y: py - cy + v.Height/2,
	}, nil
}

// Unproject converts a pixel position back to a geographic coordinate.
// Latitude is clamped to the Mercator band and longitude wrapped.
func (v Viewport) Unproject(p models.ScreenPoint) models.Location {
	scale := worldSize(v.Zoom)
	cx, cy := worldPixel(v.Center, scale)

	wx := cx + p.X - v.Width/2
	wy := cy + p.Y - v.Height/2

	lon := wx/scale*360 - 180
	n := math.Pi - 2*math.Pi*wy/scale
	lat := 180 / math.Pi * math.Atan(math.Sinh(n))

	return models.Location{Lat: geo.ClampMercatorLat(lat), Lon: geo.WrapLon(lon)}
}

// WithCenter returns a copy of v centred on c.
func (v Viewport) WithCenter(c models.Location) Viewport {
	v.Center = c
	return v
}

// WithZoom returns a copy of v at zoom z, clamped to the supported range.
func (v Viewport) WithZoom(z float64) Viewport {
	v.Zoom = math.Max(MinZoom, math.Min(MaxZoom, z))
	return v
}

// Shift returns the viewport whose content appears moved by (dx, dy) pixels:
// a positive dx moves every projected point to the right.
func (v Viewport) Shift(dx, dy float64) Viewport {
	center := v.Unproject(models.ScreenPoint{X: v.Width/2 - dx, Y: v.Height/2 - dy})
	return v.WithCenter(center)
}

// Bounds returns the geographic box currently covered by the viewport.
func (v Viewport) Bounds() models.BoundingBox {
	tl := v.Unproject(models.ScreenPoint{X: 0, Y: 0})
	br := v.Unproject(models.ScreenPoint{X: v.Width, Y: v.Height})

	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: br.Lat, Lon: tl.Lon},
		TopRight:   models.Location{Lat: tl.Lat, Lon: br.Lon},
	}
	// A viewport wider than the world, or one straddling the antimeridian,
	// covers every longitude.
	if worldSize(v.Zoom) <= v.Width || box.BottomLeft.Lon > box.TopRight.Lon {
		box.BottomLeft.Lon = -180
		box.TopRight.Lon = 180
	}
	return box
}

// Rect returns the viewport as a pixel rect anchored at the origin.
func (v Viewport) Rect() models.Rect {
	return models.Rect{Width: v.Width, Height: v.Height}
}

func worldSize(zoom float64) float64 {
	return TileSize * math.Pow(2, zoom)
}

func worldPixel(loc models.Location, scale float64) (float64, float64) {
	lat := geo.ClampMercatorLat(loc.Lat) * math.Pi / 180
	x := (loc.Lon + 180) / 360 * scale
	y := (1 - math.Log(math.Tan(lat)+1/math.Cos(lat))/math.Pi) / 2 * scale
	return x, y
}
