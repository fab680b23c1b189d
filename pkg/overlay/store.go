package overlay

import (
	"sync"

	"github.com/1F47E/geo-overlay/pkg/models"
)

type marker struct {
	rec       models.LocationRecord
	loc       models.Location
	elementID string
	pos       models.ScreenPoint
	placed    bool
}

// markerStore holds the current marker set. It doubles as the popup
// controller's host, so it must never call into the overlay.
type markerStore struct {
	mu    sync.RWMutex
	byID  map[string]*marker
	order []*marker
}

func newMarkerStore() *markerStore {
	return &markerStore{byID: make(map[string]*marker)}
}

func (s *markerStore) replace(order []*marker) {
	byID := make(map[string]*marker, len(order))
	for _, m := range order {
		byID[m.rec.ID] = m
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.byID = byID
	s.order = order
}

func (s *markerStore) get(id string) (marker, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.byID[id]
	if !ok {
		return marker{}, false
	}
	return *m, true
}

func (s *markerStore) len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.order)
}

func (s *markerStore) snapshot() []marker {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]marker, len(s.order))
	for i, m := range s.order {
		out[i] = *m
	}
	return out
}

func (s *markerStore) Record(id string) (models.LocationRecord, bool) {
	m, ok := s.get(id)
	return m.rec, ok
}

func (s *markerStore) MarkerElement(id string) (string, bool) {
	m, ok := s.get(id)
	return m.elementID, ok
}

func (s *markerStore) MarkerPosition(id string) (models.ScreenPoint, bool) {
	m, ok := s.get(id)
	if !ok || !m.placed {
		return models.ScreenPoint{}, false
	}
	return m.pos, true
}
