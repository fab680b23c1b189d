package rtree

import (
	"fmt"
	"math"
	"math/rand"
	"testing"

	"github.com/dhconnelly/rtreego"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/1F47E/geo-overlay/pkg/models"
)

var _ rtreego.Spatial = (*spatialMarker)(nil)

func TestSpatialMarkerBounds(t *testing.T) {
	index := NewMarkerIndex()
	require.True(t, index.Insert("NYC", models.Location{Lat: 40.7128, Lon: -74.0060}))

	item := index.byID["NYC"]
	require.NotNil(t, item.Bounds())
	assert.InDelta(t, 40.7128-tolerance, item.Bounds().PointCoord(0), 1e-12)
	assert.InDelta(t, -74.0060-tolerance, item.Bounds().PointCoord(1), 1e-12)
	assert.InDelta(t, 2*tolerance, item.Bounds().LengthsCoord(0), 1e-12)
}

func TestNewMarkerIndex(t *testing.T) {
	index := NewMarkerIndex()
	assert.NotNil(t, index)
	assert.NotNil(t, index.tree)
	assert.Equal(t, 0, index.Count())
}

func TestInsert(t *testing.T) {
	index := NewMarkerIndex()

	assert.True(t, index.Insert("SF", models.Location{Lat: 37.7749, Lon: -122.4194}))
	assert.True(t, index.Insert("LA", models.Location{Lat: 34.0522, Lon: -118.2437}))
	assert.False(t, index.Insert("bad", models.Location{Lat: 91, Lon: 0}))
	assert.False(t, index.Insert("nan", models.Location{Lat: math.NaN(), Lon: 0}))
	assert.Equal(t, 2, index.Count())

	// Re-inserting moves the marker instead of duplicating it
	assert.True(t, index.Insert("SF", models.Location{Lat: 40.7128, Lon: -74.0060}))
	assert.Equal(t, 2, index.Count())

	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: 32.0, Lon: -125.0},
		TopRight:   models.Location{Lat: 42.0, Lon: -114.0},
	}
	assert.Equal(t, []string{"LA"}, index.QueryBox(box))
}

func TestQueryBox(t *testing.T) {
	index := NewMarkerIndex()

	markers := map[string]models.Location{
		"SF":  {Lat: 37.7749, Lon: -122.4194},
		"LA":  {Lat: 34.0522, Lon: -118.2437},
		"SD":  {Lat: 32.7157, Lon: -117.1611},
		"NYC": {Lat: 40.7128, Lon: -74.0060},
		"CHI": {Lat: 41.8781, Lon: -87.6298},
	}
	for id, loc := range markers {
		require.True(t, index.Insert(id, loc))
	}

	// Query box covering California
	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: 32.0, Lon: -125.0},
		TopRight:   models.Location{Lat: 42.0, Lon: -114.0},
	}

	results := index.QueryBox(box)
	assert.ElementsMatch(t, []string{"SF", "LA", "SD"}, results)
}

func TestQueryBoxEmpty(t *testing.T) {
	index := NewMarkerIndex()
	index.Insert("a", models.Location{Lat: 10, Lon: 10})

	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: -10, Lon: -10},
		TopRight:   models.Location{Lat: 0, Lon: 0},
	}
	assert.Empty(t, index.QueryBox(box))
}

func TestRemove(t *testing.T) {
	index := NewMarkerIndex()
	index.Insert("a", models.Location{Lat: 1, Lon: 1})
	index.Insert("b", models.Location{Lat: 2, Lon: 2})

	assert.True(t, index.Remove("a"))
	assert.False(t, index.Remove("a"))
	assert.Equal(t, 1, index.Count())

	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: 0, Lon: 0},
		TopRight:   models.Location{Lat: 3, Lon: 3},
	}
	assert.Equal(t, []string{"b"}, index.QueryBox(box))
}

func TestNearest(t *testing.T) {
	index := NewMarkerIndex()
	index.Insert("near", models.Location{Lat: 37.77, Lon: -122.41})
	index.Insert("mid", models.Location{Lat: 37.80, Lon: -122.27})
	index.Insert("far", models.Location{Lat: 34.05, Lon: -118.24})

	results := index.Nearest(models.Location{Lat: 37.7749, Lon: -122.4194}, 2)
	require.Len(t, results, 2)
	assert.Equal(t, "near", results[0])
	assert.Equal(t, "mid", results[1])

	assert.Nil(t, index.Nearest(models.Location{}, 0))
}

func TestClear(t *testing.T) {
	index := NewMarkerIndex()
	for i := 0; i < 100; i++ {
		index.Insert(fmt.Sprintf("m%d", i), models.Location{Lat: float64(i % 80), Lon: float64(i)})
	}
	assert.Equal(t, 100, index.Count())

	index.Clear()
	assert.Equal(t, 0, index.Count())
	assert.Empty(t, index.Nearest(models.Location{}, 5))
}

func TestQueryBoxMatchesScan(t *testing.T) {
	rng := rand.New(rand.NewSource(3))
	index := NewMarkerIndex()
	markers := make(map[string]models.Location, 1000)
	for i := 0; i < 1000; i++ {
		loc := models.Location{Lat: rng.Float64()*160 - 80, Lon: rng.Float64()*360 - 180}
		id := fmt.Sprintf("m%d", i)
		markers[id] = loc
		require.True(t, index.Insert(id, loc))
	}

	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: -20, Lon: -40},
		TopRight:   models.Location{Lat: 30, Lon: 60},
	}
	var expected []string
	for id, loc := range markers {
		if box.Contains(loc) {
			expected = append(expected, id)
		}
	}
	assert.ElementsMatch(t, expected, index.QueryBox(box))
}

func BenchmarkQueryBox(b *testing.B) {
	rng := rand.New(rand.NewSource(1))
	index := NewMarkerIndex()
	for i := 0; i < 10000; i++ {
		index.Insert(fmt.Sprintf("m%d", i), models.Location{Lat: rng.Float64()*160 - 80, Lon: rng.Float64()*360 - 180})
	}
	box := models.BoundingBox{
		BottomLeft: models.Location{Lat: 30, Lon: -10},
		TopRight:   models.Location{Lat: 50, Lon: 20},
	}

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		index.QueryBox(box)
	}
}
