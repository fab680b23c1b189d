package snapshot

import (
	"bytes"
	"image/color"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

var vp = projection.Viewport{Zoom: 3, Width: 320, Height: 240}

func markerAt(id string, x, y float64, hex string) surface.Element {
	st := surface.DefaultStyle(models.Size{Width: 30, Height: 30})
	st.Left, st.Top = x-15, y-15
	st.Color = hex
	return surface.Element{ID: id, Kind: surface.KindMarker, Style: st}
}

func rgb(c color.Color) [3]uint32 {
	r, g, b, _ := c.RGBA()
	return [3]uint32{r >> 8, g >> 8, b >> 8}
}

func TestRenderDrawsDisplayedMarkers(t *testing.T) {
	s := surface.New(surface.Options{})
	require.NoError(t, s.Append(markerAt("a", 100, 100, "#2E86DE")))
	hidden := markerAt("b", 200, 100, "#2E86DE")
	hidden.Style.Display = surface.DisplayNone
	require.NoError(t, s.Append(hidden))

	r, err := NewRenderer(vp, Options{})
	require.NoError(t, err)
	img := r.Render(s)

	assert.Equal(t, 320, img.Bounds().Dx())
	assert.Equal(t, 240, img.Bounds().Dy())
	assert.Equal(t, [3]uint32{0x2E, 0x86, 0xDE}, rgb(img.At(100, 100)))
	assert.Equal(t, [3]uint32{0xF4, 0xF1, 0xEA}, rgb(img.At(200, 100)))
}

func TestRenderPopupAboveMarker(t *testing.T) {
	s := surface.New(surface.Options{})
	require.NoError(t, s.Append(markerAt("a", 160, 200, "#E74C3C")))
	st := surface.DefaultStyle(models.Size{Width: 120, Height: 80})
	st.Left, st.Top = 100, 20
	st.ZIndex = 2000
	require.NoError(t, s.Append(surface.Element{ID: "popup-a", Kind: surface.KindPopup, Style: st, Text: []string{"Corner Cafe"}}))

	r, err := NewRenderer(vp, Options{})
	require.NoError(t, err)
	img := r.Render(s)

	// Inside the popup, away from the text baseline
	assert.Equal(t, [3]uint32{0xFF, 0xFF, 0xFF}, rgb(img.At(200, 90)))
	assert.Equal(t, [3]uint32{0xE7, 0x4C, 0x3C}, rgb(img.At(160, 200)))
}

func TestWritePNG(t *testing.T) {
	s := surface.New(surface.Options{})
	require.NoError(t, s.Append(markerAt("a", 50, 50, "")))

	pad := models.UniformPadding(20)
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, s, vp, Options{Padding: &pad}))

	img, err := png.Decode(&buf)
	require.NoError(t, err)
	assert.Equal(t, 320, img.Bounds().Dx())
}

func TestNotReady(t *testing.T) {
	_, err := NewRenderer(projection.Viewport{}, Options{})
	assert.ErrorIs(t, err, projection.ErrNotReady)
}
