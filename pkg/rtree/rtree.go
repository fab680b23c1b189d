// Package rtree indexes rendered markers by their geographic coordinate so
// the overlay can cull markers outside the viewport and resolve clicks to the
// nearest marker without scanning the whole set.
package rtree

import (
	"sync"

	"github.com/dhconnelly/rtreego"

	"github.com/1F47E/geo-overlay/pkg/geo"
	"github.com/1F47E/geo-overlay/pkg/models"
)

const (
	tolerance   = 1e-7
	minChildren = 25
	maxChildren = 50
	dimensions  = 2
)

// spatialMarker wraps a marker id to implement rtreego.Spatial
type spatialMarker struct {
	id   string
	loc  models.Location
	rect *rtreego.Rect
}

func (sm *spatialMarker) Bounds() *rtreego.Rect {
	return sm.rect
}

// MarkerIndex is a thread-safe R-Tree of marker coordinates
type MarkerIndex struct {
	tree *rtreego.Rtree
	mu   sync.RWMutex
	byID map[string]*spatialMarker
}

// NewMarkerIndex creates an empty index
func NewMarkerIndex() *MarkerIndex {
	return &MarkerIndex{
		tree: rtreego.NewTree(dimensions, minChildren, maxChildren),
		byID: make(map[string]*spatialMarker),
	}
}

// Insert adds or moves the marker with the given id. Invalid coordinates are
// ignored and reported as false.
func (g *MarkerIndex) Insert(id string, loc models.Location) bool {
	if !geo.Valid(&loc) {
		return false
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if prev, ok := g.byID[id]; ok {
		g.tree.Delete(prev)
	}
	item := &spatialMarker{
		id:   id,
		loc:  loc,
		rect: rtreego.Point{loc.Lat, loc.Lon}.ToRect(tolerance),
	}
	g.tree.Insert(item)
	g.byID[id] = item
	return true
}

// Remove deletes the marker with the given id.
func (g *MarkerIndex) Remove(id string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	item, ok := g.byID[id]
	if !ok {
		return false
	}
	g.tree.Delete(item)
	delete(g.byID, id)
	return true
}

// QueryBox returns the ids of all markers within the bounding box
func (g *MarkerIndex) QueryBox(box models.BoundingBox) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	bottomLeft := rtreego.Point{box.BottomLeft.Lat, box.BottomLeft.Lon}
	rectSize := []float64{
		box.TopRight.Lat - box.BottomLeft.Lat,
		box.TopRight.Lon - box.BottomLeft.Lon,
	}
	bounds, err := rtreego.NewRect(bottomLeft, rectSize)
	if err != nil {
		return nil
	}

	results := g.tree.SearchIntersect(bounds)
	ids := make([]string, 0, len(results))
	for _, result := range results {
		item, ok := result.(*spatialMarker)
		if !ok {
			continue
		}
		// Strict boundary check
		if box.Contains(item.loc) {
			ids = append(ids, item.id)
		}
	}
	return ids
}

// Nearest returns up to n marker ids ordered by distance from loc
func (g *MarkerIndex) Nearest(loc models.Location, n int) []string {
	if n <= 0 {
		return nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	results := g.tree.NearestNeighbors(n, rtreego.Point{loc.Lat, loc.Lon})
	ids := make([]string, 0, len(results))
	for _, result := range results {
		if item, ok := result.(*spatialMarker); ok {
			ids = append(ids, item.id)
		}
	}
	return ids
}

// Count returns the number of indexed markers
func (g *MarkerIndex) Count() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.byID)
}

// Clear removes all markers from the index
func (g *MarkerIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tree = rtreego.NewTree(dimensions, minChildren, maxChildren)
	g.byID = make(map[string]*spatialMarker)
}
