package audit

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

var (
	markerSize = models.Size{Width: 30, Height: 30}
	viewport   = projection.Viewport{Zoom: 3, Width: 800, Height: 600}
)

func addMarker(t *testing.T, s *surface.Surface, id string, x, y float64) {
	t.Helper()
	st := surface.DefaultStyle(markerSize)
	st.Left, st.Top = x, y
	require.NoError(t, s.Append(surface.Element{
		ID:    "marker-" + id,
		Kind:  surface.KindMarker,
		Attrs: map[string]string{"data-location-id": id},
		Style: st,
	}))
}

func TestAuditEmpty(t *testing.T) {
	a := New(surface.New(surface.Options{}), Options{Size: markerSize})
	report := a.Audit(viewport, false)
	assert.Equal(t, 0, report.Total)
	assert.NotNil(t, report.Issues)
	assert.Empty(t, report.Issues)
}

func TestAuditHealthyMarkers(t *testing.T) {
	s := surface.New(surface.Options{})
	addMarker(t, s, "a", 100, 100)
	addMarker(t, s, "b", 400, 300)
	// Popups are not audited
	require.NoError(t, s.Append(surface.Element{ID: "popup-a", Kind: surface.KindPopup}))

	report := New(s, Options{Size: markerSize}).Audit(viewport, false)
	assert.Equal(t, 2, report.Total)
	assert.Equal(t, 2, report.Visible)
	assert.Equal(t, 0, report.Hidden)
	assert.Empty(t, report.Issues)
}

func TestAuditDisplayNone(t *testing.T) {
	s := surface.New(surface.Options{})
	addMarker(t, s, "a", 100, 100)
	addMarker(t, s, "b", 200, 100)
	s.Update("marker-a", func(e *surface.Element) { e.Style.Display = surface.DisplayNone })

	a := New(s, Options{Size: markerSize})
	rev := s.Revision()
	report := a.Audit(viewport, false)
	assert.Equal(t, rev, s.Revision(), "read-only audit mutated the surface")
	require.Len(t, report.Issues, 1)
	assert.Equal(t, CategoryDisplay, report.Issues[0].Category)
	assert.Equal(t, "marker-a", report.Issues[0].ElementID)
	assert.Equal(t, "a", report.Issues[0].LocationID)
	assert.False(t, report.Issues[0].Fixed)
	assert.Equal(t, 1, report.Visible)
	assert.Equal(t, 1, report.Hidden)

	fixed := a.Audit(viewport, true)
	require.Len(t, fixed.Issues, 1)
	assert.True(t, fixed.Issues[0].Fixed)
	assert.Equal(t, 1, fixed.Fixed())

	el, _ := s.Get("marker-a")
	assert.Equal(t, surface.DisplayBlock, el.Style.Display)
	assert.Empty(t, a.Audit(viewport, false).Issues)
}

func TestAuditCategories(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*surface.Style)
		want   []Category
	}{
		{"visibility", func(s *surface.Style) { s.Visibility = surface.VisibilityHidden }, []Category{CategoryVisibility}},
		{"opacity", func(s *surface.Style) { s.Opacity = 0 }, []Category{CategoryOpacity}},
		{"nan opacity", func(s *surface.Style) { s.Opacity = math.NaN() }, []Category{CategoryOpacity}},
		{"zero width", func(s *surface.Style) { s.Width = 0 }, []Category{CategoryDimensions}},
		{"nan height", func(s *surface.Style) { s.Height = math.NaN() }, []Category{CategoryDimensions}},
		{"zero scale", func(s *surface.Style) { s.Scale = 0 }, []Category{CategoryDimensions}},
		{"pointer", func(s *surface.Style) { s.PointerEvents = surface.PointerNone }, []Category{CategoryPointer}},
		{"several", func(s *surface.Style) {
			s.Display = surface.DisplayNone
			s.Opacity = 0.05
			s.PointerEvents = surface.PointerNone
		}, []Category{CategoryDisplay, CategoryOpacity, CategoryPointer}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := surface.New(surface.Options{})
			addMarker(t, s, "a", 100, 100)
			s.Update("marker-a", func(e *surface.Element) { tt.mutate(&e.Style) })

			a := New(s, Options{Size: markerSize})
			report := a.Audit(viewport, false)
			var got []Category
			for _, is := range report.Issues {
				got = append(got, is.Category)
			}
			assert.Equal(t, tt.want, got)

			a.Audit(viewport, true)
			second := a.Audit(viewport, true)
			assert.Empty(t, second.Issues)
			assert.Equal(t, 1, second.Visible)
		})
	}
}

func TestAuditPointerOnlyStillVisible(t *testing.T) {
	s := surface.New(surface.Options{})
	addMarker(t, s, "a", 100, 100)
	s.Update("marker-a", func(e *surface.Element) { e.Style.PointerEvents = surface.PointerNone })

	report := New(s, Options{Size: markerSize}).Audit(viewport, false)
	assert.Equal(t, 1, report.Visible)
	assert.Equal(t, 0, report.Hidden)
}

func TestAuditPosition(t *testing.T) {
	expect := func(el surface.Element, vp projection.Viewport) (models.Rect, bool) {
		switch el.ID {
		case "marker-drift":
			return models.Rect{X: 300, Y: 200, Width: 30, Height: 30}, true
		case "marker-away":
			return models.Rect{X: 9000, Y: 200, Width: 30, Height: 30}, true
		}
		return models.Rect{}, false
	}

	s := surface.New(surface.Options{})
	addMarker(t, s, "drift", -5000, 200)
	addMarker(t, s, "away", 9000, 200)
	addMarker(t, s, "near", 900, 200)

	a := New(s, Options{Size: markerSize, Expect: expect})
	report := a.Audit(viewport, false)
	require.Len(t, report.Issues, 1)
	assert.Equal(t, CategoryPosition, report.Issues[0].Category)
	assert.Equal(t, "marker-drift", report.Issues[0].ElementID)

	a.Audit(viewport, true)
	el, _ := s.Get("marker-drift")
	assert.Equal(t, 300.0, el.Style.Left)
	assert.Equal(t, 200.0, el.Style.Top)
	assert.Empty(t, a.Audit(viewport, true).Issues)
}

func TestAuditSkipsPositionWhenNotReady(t *testing.T) {
	s := surface.New(surface.Options{})
	addMarker(t, s, "a", -5000, -5000)

	report := New(s, Options{Size: markerSize}).Audit(projection.Viewport{}, false)
	assert.Empty(t, report.Issues)
}
