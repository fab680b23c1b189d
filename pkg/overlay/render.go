package overlay

import (
	"fmt"
	"strconv"
	"time"

	"github.com/1F47E/geo-overlay/pkg/geo"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/popup"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

// Skip reasons reported in a Summary.
const (
	ReasonMissingID         = "missing_id"
	ReasonDuplicateID       = "duplicate_id"
	ReasonInvalidCoordinate = "invalid_coordinate"
	ReasonInsertFailed      = "insert_failed"
)

// Skipped describes a record that produced no marker.
type Skipped struct {
	Index      int    `json:"index"`
	LocationID string `json:"location_id,omitempty"`
	Reason     string `json:"reason"`
	Error      string `json:"error"`
}

// Summary is the outcome of rendering a location list.
type Summary struct {
	Rendered int       `json:"rendered"`
	Skipped  []Skipped `json:"skipped"`
}

// Marker describes one rendered marker.
type Marker struct {
	LocationID string             `json:"location_id"`
	ElementID  string             `json:"element_id"`
	Name       string             `json:"name,omitempty"`
	Location   models.Location    `json:"location"`
	Position   models.ScreenPoint `json:"position"`
	Placed     bool               `json:"placed"`
	Open       bool               `json:"open"`
}

// MarkerElementID returns the element id of the marker for a location.
func MarkerElementID(locationID string) string { return "marker-" + locationID }

// SetLocations replaces the marker set. Every previous marker, handler and
// popup is torn down and pending timers are invalidated. Records with a
// missing or duplicate id or an invalid coordinate are skipped and logged;
// they never abort the batch.
func (o *Overlay) SetLocations(records []models.LocationRecord) Summary {
	o.mu.Lock()
	defer o.mu.Unlock()

	summary := Summary{Skipped: []Skipped{}}
	if o.closed {
		o.log.Warn().Int("records", len(records)).Msg("set locations on torn down overlay")
		return summary
	}

	o.gen++
	o.cancelPendingLocked()
	o.clearLocked()

	gen := o.gen
	vp := o.engine.Viewport()
	ready := vp.Ready()
	seen := make(map[string]bool, len(records))
	order := make([]*marker, 0, len(records))

	skip := func(i int, id, reason string, err error) {
		summary.Skipped = append(summary.Skipped, Skipped{Index: i, LocationID: id, Reason: reason, Error: err.Error()})
		o.metrics.IncSkipped(reason)
		o.log.Warn().Err(err).Int("index", i).Str("location_id", id).Str("reason", reason).Msg("location skipped")
	}

	for i, rec := range records {
		switch {
		case rec.ID == "":
			skip(i, "", ReasonMissingID, fmt.Errorf("record %d has no id", i))
			continue
		case seen[rec.ID]:
			skip(i, rec.ID, ReasonDuplicateID, fmt.Errorf("id %q already rendered", rec.ID))
			continue
		}
		if err := geo.Validate(rec.Location); err != nil {
			skip(i, rec.ID, ReasonInvalidCoordinate, err)
			continue
		}

		m := &marker{
			rec:       rec,
			loc:       *rec.Location,
			elementID: MarkerElementID(rec.ID),
		}
		if ready {
			if p, err := o.project(vp, m.loc); err == nil {
				m.pos, m.placed = p, true
			}
		}

		if err := o.surface.Append(o.markerElement(m)); err != nil {
			skip(i, rec.ID, ReasonInsertFailed, err)
			continue
		}

		id := rec.ID
		o.registry.Bind(m.elementID, id, func() { o.handleClick(gen, id) })
		o.index.Insert(id, m.loc)
		seen[id] = true
		order = append(order, m)
	}

	o.store.replace(order)
	summary.Rendered = len(order)
	o.metrics.SetMarkers(len(order))

	o.log.Info().
		Int("rendered", summary.Rendered).
		Int("skipped", len(summary.Skipped)).
		Bool("viewport_ready", ready).
		Msg("markers rendered")
	return summary
}

func (o *Overlay) markerElement(m *marker) surface.Element {
	size := o.opts.MarkerSize
	style := surface.DefaultStyle(size)
	style.ZIndex = popup.NormalAppearance.ZIndex
	style.Scale = popup.NormalAppearance.Scale
	style.Color = popup.NormalAppearance.Color
	if m.placed {
		style.Left = m.pos.X - size.Width/2
		style.Top = m.pos.Y - size.Height/2
	}

	return surface.Element{
		ID:   m.elementID,
		Kind: surface.KindMarker,
		Attrs: map[string]string{
			"data-location-id": m.rec.ID,
			"data-lat":         strconv.FormatFloat(m.loc.Lat, 'f', -1, 64),
			"data-lon":         strconv.FormatFloat(m.loc.Lon, 'f', -1, 64),
			"title":            m.rec.Name,
		},
		Style: style,
	}
}

// clearLocked removes the current marker set.
func (o *Overlay) clearLocked() {
	unbound := o.registry.UnbindAll()
	o.popups.Reset()
	removed := o.surface.RemoveKind(surface.KindMarker)
	o.index.Clear()
	o.store.replace(nil)
	o.metrics.SetMarkers(0)

	if unbound > 0 || removed > 0 {
		o.log.Debug().Int("handlers", unbound).Int("elements", removed).Msg("markers torn down")
	}
}

// RepositionAll re-projects every marker under the engine's current viewport
// and returns how many were placed. Elements are moved, never recreated.
// While the viewport is not ready markers keep their last position.
func (o *Overlay) RepositionAll() int {
	return o.reposition(o.engine.Viewport())
}

func (o *Overlay) reposition(vp projection.Viewport) int {
	if !vp.Ready() {
		o.metrics.IncRepositionSkipped()
		return 0
	}
	start := time.Now()
	w, h := o.opts.MarkerSize.Width/2, o.opts.MarkerSize.Height/2

	n := 0
	o.store.mu.Lock()
	for _, m := range o.store.order {
		p, err := o.project(vp, m.loc)
		if err != nil {
			continue
		}
		m.pos, m.placed = p, true
		o.surface.Update(m.elementID, func(el *surface.Element) {
			el.Style.Left = p.X - w
			el.Style.Top = p.Y - h
		})
		n++
	}
	o.store.mu.Unlock()

	o.popups.Reposition()
	o.metrics.ObserveReposition(time.Since(start))
	return n
}

// Markers lists the rendered markers in render order.
func (o *Overlay) Markers() []Marker {
	open, _ := o.popups.Current()
	ms := o.store.snapshot()
	out := make([]Marker, len(ms))
	for i, m := range ms {
		out[i] = m.describe(open)
	}
	return out
}

// Marker returns one rendered marker.
func (o *Overlay) Marker(id string) (Marker, bool) {
	m, ok := o.store.get(id)
	if !ok {
		return Marker{}, false
	}
	open, _ := o.popups.Current()
	return m.describe(open), true
}

func (m marker) describe(open string) Marker {
	return Marker{
		LocationID: m.rec.ID,
		ElementID:  m.elementID,
		Name:       m.rec.Name,
		Location:   m.loc,
		Position:   m.pos,
		Placed:     m.placed,
		Open:       m.rec.ID == open,
	}
}

// Len returns the number of rendered markers.
func (o *Overlay) Len() int {
	return o.store.len()
}
