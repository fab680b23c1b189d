package positioner

import (
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/geo"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
)

func testViewport() projection.Viewport {
	return projection.Viewport{
		Center: models.Location{Lat: 37.7749, Lon: -122.4194},
		Zoom:   12,
		Width:  1024,
		Height: 768,
	}
}

func testConfig() Config {
	return Config{
		Padding:     models.UniformPadding(20),
		MarkerSize:  models.Size{Width: 30, Height: 30},
		PopupSize:   models.Size{Width: 280, Height: 200},
		PopupOffset: 10,
	}
}

func TestPlanNoMoveAtCenter(t *testing.T) {
	p := New(testConfig())
	vp := testViewport()

	plan, err := p.Plan(vp, vp.Center)
	require.NoError(t, err)

	assert.False(t, plan.NeedsMove())
	assert.Empty(t, plan.Violations)
	assert.Equal(t, vp, plan.Target)
}

func TestPlanLeftEdgeWithWidePadding(t *testing.T) {
	cfg := testConfig()
	cfg.Padding.Left = 150
	p := New(cfg)
	vp := testViewport()
	loc := vp.Unproject(models.ScreenPoint{X: 5, Y: 500})

	plan, err := p.Plan(vp, loc)
	require.NoError(t, err)

	assert.Equal(t, []Edge{EdgeLeft}, plan.Violations)
	assert.True(t, plan.NeedsMove())
	assert.Zero(t, plan.ShiftY)
	assert.InDelta(t, vp.Center.Lat, plan.Target.Center.Lat, 1e-9, "horizontal fix leaves latitude alone")

	after, err := plan.Target.Project(loc)
	require.NoError(t, err)
	assert.GreaterOrEqual(t, after.X, 150.0-0.5)
	assert.InDelta(t, 500, after.Y, 1e-6)
	assert.True(t, p.Satisfied(plan.Target, after))
}

func TestPlanCornerMovesBothAxesAtOnce(t *testing.T) {
	p := New(testConfig())
	vp := testViewport()
	loc := vp.Unproject(models.ScreenPoint{X: 1020, Y: 10})

	plan, err := p.Plan(vp, loc)
	require.NoError(t, err)

	assert.ElementsMatch(t, []Edge{EdgeTop, EdgeRight}, plan.Violations)
	assert.Less(t, plan.ShiftX, 0.0)
	assert.Greater(t, plan.ShiftY, 0.0)
	assert.False(t, plan.BestEffort)

	after, err := plan.Target.Project(loc)
	require.NoError(t, err)
	assert.True(t, p.Satisfied(plan.Target, after))
	assert.InDelta(t, 1024-20-140, after.X, 1e-6)
	assert.InDelta(t, 20+200+10+15, after.Y, 1e-6)
}

func TestPlanBottomEdge(t *testing.T) {
	p := New(testConfig())
	vp := testViewport()
	loc := vp.Unproject(models.ScreenPoint{X: 512, Y: 760})

	plan, err := p.Plan(vp, loc)
	require.NoError(t, err)

	assert.Equal(t, []Edge{EdgeBottom}, plan.Violations)
	assert.Zero(t, plan.ShiftX)
	assert.InDelta(t, vp.Center.Lon, plan.Target.Center.Lon, 1e-9)

	after, err := plan.Target.Project(loc)
	require.NoError(t, err)
	assert.InDelta(t, 768-20-15, after.Y, 1e-6)
}

func TestPlanViewportTooSmallCentersMarker(t *testing.T) {
	p := New(testConfig())
	vp := testViewport()
	vp.Width, vp.Height = 200, 150
	loc := vp.Unproject(models.ScreenPoint{X: 10, Y: 10})

	plan, err := p.Plan(vp, loc)
	require.NoError(t, err)
	assert.True(t, plan.BestEffort)

	after, err := plan.Target.Project(loc)
	require.NoError(t, err)
	assert.InDelta(t, 100, after.X, 1e-6)
	assert.InDelta(t, 75, after.Y, 1e-6)

	// a second pass converges instead of oscillating
	again, err := p.Plan(plan.Target, loc)
	require.NoError(t, err)
	assert.False(t, again.NeedsMove())
}

func TestPlanRejectsInvalidCoordinate(t *testing.T) {
	p := New(testConfig())
	_, err := p.Plan(testViewport(), models.Location{Lat: 999, Lon: 0})
	assert.ErrorIs(t, err, geo.ErrLatitudeRange)
}

func TestPaddingFloor(t *testing.T) {
	cfg := testConfig()
	cfg.Padding = models.EdgePadding{Top: 0, Right: 5, Bottom: 50, Left: -3}
	p := New(cfg)

	assert.Equal(t, models.EdgePadding{Top: 20, Right: 20, Bottom: 50, Left: 20}, p.Config().Padding)
}

func TestPlanAlwaysClearsPadding(t *testing.T) {
	cfg := testConfig()
	cfg.Padding = models.EdgePadding{Top: 40, Right: 60, Bottom: 30, Left: 150}
	p := New(cfg)
	vp := testViewport()
	r := rand.New(rand.NewSource(7))

	for i := 0; i < 200; i++ {
		m := models.ScreenPoint{X: r.Float64() * vp.Width, Y: r.Float64() * vp.Height}
		loc := vp.Unproject(m)

		plan, err := p.Plan(vp, loc)
		require.NoError(t, err)
		require.False(t, plan.BestEffort)

		after, err := plan.Target.Project(loc)
		require.NoError(t, err)
		require.True(t, p.Satisfied(plan.Target, after), "marker %v moved to %v", m, after)

		d := Distances(plan.Target, after)
		require.GreaterOrEqual(t, d[EdgeLeft], cfg.Padding.Left-1e-6)
		require.GreaterOrEqual(t, d[EdgeTop], cfg.Padding.Top-1e-6)
		require.GreaterOrEqual(t, d[EdgeRight], cfg.Padding.Right-1e-6)
		require.GreaterOrEqual(t, d[EdgeBottom], cfg.Padding.Bottom-1e-6)
	}
}
