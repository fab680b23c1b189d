package popup

import (
	"fmt"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

type fakeHost struct {
	records   map[string]models.LocationRecord
	positions map[string]models.ScreenPoint
}

func (h *fakeHost) Record(id string) (models.LocationRecord, bool) {
	r, ok := h.records[id]
	return r, ok
}

func (h *fakeHost) MarkerElement(id string) (string, bool) {
	_, ok := h.records[id]
	return "marker-" + id, ok
}

func (h *fakeHost) MarkerPosition(id string) (models.ScreenPoint, bool) {
	p, ok := h.positions[id]
	return p, ok
}

func setup(t *testing.T, ids ...string) (*Controller, *surface.Surface, *fakeHost) {
	t.Helper()
	s := surface.New(surface.Options{})
	h := &fakeHost{
		records:   make(map[string]models.LocationRecord),
		positions: make(map[string]models.ScreenPoint),
	}
	for i, id := range ids {
		h.records[id] = models.LocationRecord{ID: id, Name: "Place " + id}
		h.positions[id] = models.ScreenPoint{X: 200 + float64(i)*50, Y: 400}
		style := surface.DefaultStyle(models.Size{Width: 30, Height: 30})
		style.ZIndex = NormalAppearance.ZIndex
		require.NoError(t, s.Append(surface.Element{ID: "marker-" + id, Kind: surface.KindMarker, Style: style}))
	}
	c := New(s, h, Options{
		Size:       models.Size{Width: 280, Height: 200},
		Offset:     10,
		MarkerSize: models.Size{Width: 30, Height: 30},
	})
	return c, s, h
}

func openPopups(s *surface.Surface) []string {
	var open []string
	for _, el := range s.Elements(surface.KindPopup) {
		if el.Style.Display != surface.DisplayNone {
			open = append(open, el.Attrs["data-location-id"])
		}
	}
	return open
}

func TestOpenCreatesLazilyAndHighlights(t *testing.T) {
	c, s, _ := setup(t, "a", "b")
	assert.Zero(t, s.Len(surface.KindPopup))

	require.NoError(t, c.Open("a"))

	assert.Equal(t, 1, s.Len(surface.KindPopup))
	assert.Equal(t, []string{"a"}, openPopups(s))

	marker, _ := s.Get("marker-a")
	assert.Equal(t, HighlightedAppearance.ZIndex, marker.Style.ZIndex)
	assert.Equal(t, HighlightedAppearance.Scale, marker.Style.Scale)

	popupEl, _ := s.Get(ElementID("a"))
	assert.Equal(t, []string{"Place a"}, popupEl.Text)
	assert.Equal(t, models.Rect{X: 60, Y: 175, Width: 280, Height: 200}, popupEl.BoundingRect())

	id, ok := c.Current()
	assert.True(t, ok)
	assert.Equal(t, "a", id)
}

func TestOpenSwitchesExclusively(t *testing.T) {
	c, s, _ := setup(t, "a", "b")

	require.NoError(t, c.Open("a"))
	require.NoError(t, c.Open("b"))

	assert.Equal(t, []string{"b"}, openPopups(s))
	a, _ := s.Get(ElementID("a"))
	assert.Equal(t, surface.DisplayNone, a.Style.Display)
	markerA, _ := s.Get("marker-a")
	assert.Equal(t, NormalAppearance.ZIndex, markerA.Style.ZIndex)
	assert.Equal(t, 1.0, markerA.Style.Scale)
}

func TestToggle(t *testing.T) {
	c, s, _ := setup(t, "a", "b")

	opened, err := c.Toggle("a")
	require.NoError(t, err)
	assert.True(t, opened)

	opened, err = c.Toggle("a")
	require.NoError(t, err)
	assert.False(t, opened)
	assert.Empty(t, openPopups(s))

	_, ok := c.Current()
	assert.False(t, ok)
}

func TestOpenUnknown(t *testing.T) {
	c, _, _ := setup(t, "a")
	require.NoError(t, c.Open("a"))

	err := c.Open("zzz")
	assert.ErrorIs(t, err, ErrUnknownLocation)

	id, _ := c.Current()
	assert.Equal(t, "a", id, "failed open leaves the current popup alone")
}

func TestCloseAndCloseAll(t *testing.T) {
	c, s, _ := setup(t, "a", "b")
	require.NoError(t, c.Open("a"))

	assert.False(t, c.Close("b"))
	assert.True(t, c.Close("a"))
	assert.False(t, c.CloseAll())

	require.NoError(t, c.Open("b"))
	assert.True(t, c.CloseAll())
	assert.Empty(t, openPopups(s))
}

func TestSubscribe(t *testing.T) {
	c, _, _ := setup(t, "a", "b")
	var changes []Change
	cancel := c.Subscribe(func(ch Change) { changes = append(changes, ch) })

	require.NoError(t, c.Open("a"))
	require.NoError(t, c.Open("a"))
	require.NoError(t, c.Open("b"))
	c.CloseAll()
	cancel()
	require.NoError(t, c.Open("a"))

	assert.Equal(t, []Change{
		{Current: "a"},
		{Previous: "a", Current: "b"},
		{Previous: "b"},
	}, changes)
}

func TestRepositionFollowsMarker(t *testing.T) {
	c, s, h := setup(t, "a")
	require.NoError(t, c.Open("a"))

	h.positions["a"] = models.ScreenPoint{X: 500, Y: 600}
	c.Reposition()

	r, ok := c.Rect("a")
	require.True(t, ok)
	assert.Equal(t, models.Rect{X: 360, Y: 375, Width: 280, Height: 200}, r)

	btn, _ := s.Get(CloseButtonID("a"))
	assert.Equal(t, r.Right()-16, btn.Style.Left)
}

func TestReset(t *testing.T) {
	c, s, _ := setup(t, "a", "b")
	require.NoError(t, c.Open("a"))
	require.NoError(t, c.Open("b"))

	c.Reset()
	assert.Zero(t, s.Len(surface.KindPopup))
	assert.Zero(t, s.Len(surface.KindCloseButton))
	_, ok := c.Current()
	assert.False(t, ok)
}

func TestAtMostOneOpenUnderRandomActivations(t *testing.T) {
	ids := make([]string, 8)
	for i := range ids {
		ids[i] = fmt.Sprintf("loc-%d", i)
	}
	c, s, _ := setup(t, ids...)
	r := rand.New(rand.NewSource(42))

	for step := 0; step < 500; step++ {
		switch r.Intn(4) {
		case 0:
			c.CloseAll()
		case 1:
			c.Close(ids[r.Intn(len(ids))])
		default:
			_, err := c.Toggle(ids[r.Intn(len(ids))])
			require.NoError(t, err)
		}

		open := openPopups(s)
		require.LessOrEqual(t, len(open), 1, "step %d", step)
		cur, ok := c.Current()
		if ok {
			require.Equal(t, []string{cur}, open)
		} else {
			require.Empty(t, open)
		}
	}
}

func TestContent(t *testing.T) {
	rec := models.LocationRecord{
		ID:         "x",
		Name:       "Blue Bottle",
		Address:    "66 Mint St",
		PriceRange: "$$",
		Features:   map[string]bool{"wifi": true, "outdoor": true, "parking": false},
	}
	assert.Equal(t, []string{
		"Blue Bottle",
		"66 Mint St",
		"Price: $$",
		"Features: outdoor, wifi",
	}, Content(rec))
}
