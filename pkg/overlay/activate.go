package overlay

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/1F47E/geo-overlay/pkg/audit"
	"github.com/1F47E/geo-overlay/pkg/events"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/positioner"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

// Activate handles a marker click: it closes the marker's popup if it is the
// open one; otherwise it recenters the viewport when the marker or its popup
// would intrude on the edge padding and opens the popup once the move has
// settled.
func (o *Overlay) Activate(id string) error {
	return o.activate(id, 0, false)
}

func (o *Overlay) handleClick(gen uint64, id string) {
	err := o.activate(id, gen, true)
	if err != nil && !errors.Is(err, ErrStale) {
		o.log.Warn().Err(err).Str("location_id", id).Msg("marker activation failed")
	}
}

func (o *Overlay) activate(id string, gen uint64, guarded bool) error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return ErrClosed
	}
	if guarded && gen != o.gen {
		o.mu.Unlock()
		o.metrics.IncStale()
		o.log.Debug().Str("location_id", id).Msg("ignoring click on replaced marker")
		return ErrStale
	}
	m, ok := o.store.get(id)
	if !ok {
		o.mu.Unlock()
		o.metrics.IncActivation("failed")
		return fmt.Errorf("%w: %s", ErrUnknownMarker, id)
	}

	o.cancelPendingLocked()
	o.bus.Publish(events.LocationSelected, id)
	if open, ok := o.popups.Current(); ok && open == id {
		o.popups.Close(id)
		o.mu.Unlock()
		o.metrics.IncActivation("closed")
		return nil
	}

	plan, err := o.positioner.Plan(o.engine.Viewport(), m.loc)
	if err != nil || !plan.NeedsMove() || o.flyer == nil {
		switch {
		case err != nil:
			o.log.Debug().Err(err).Str("location_id", id).Msg("viewport not ready, opening without correction")
		case plan.NeedsMove():
			o.log.Debug().Str("location_id", id).Msg("engine cannot recenter, opening in place")
		}
		err := o.openLocked(id)
		o.mu.Unlock()
		return err
	}

	curGen, seq := o.gen, o.seq
	o.pending = o.opts.Clock.AfterFunc(o.opts.AnimationDuration+o.opts.SettleDelay, func() {
		o.openDeferred(curGen, seq, id, 0)
	})
	o.pendingID = id
	o.mu.Unlock()

	o.metrics.IncActivation("recentered")
	o.log.Debug().
		Str("location_id", id).
		Interface("violations", plan.Violations).
		Float64("shift_x", plan.ShiftX).
		Float64("shift_y", plan.ShiftY).
		Bool("best_effort", plan.BestEffort).
		Msg("recentering before opening popup")

	o.flyer.FlyTo(plan.Target.Center, o.opts.AnimationDuration)
	return nil
}

// A deferred open re-arms in settleRetry steps while the engine still
// reports a move in flight, at most maxSettleRetries times.
const (
	settleRetry      = 16 * time.Millisecond
	maxSettleRetries = 30
)

func (o *Overlay) openDeferred(gen, seq uint64, id string, tries int) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed || gen != o.gen || seq != o.seq {
		o.metrics.IncStale()
		o.log.Debug().Str("location_id", id).Msg("dropping superseded popup open")
		return
	}
	if o.animator != nil && tries < maxSettleRetries && o.animator.Animating() {
		o.pending = o.opts.Clock.AfterFunc(settleRetry, func() {
			o.openDeferred(gen, seq, id, tries+1)
		})
		return
	}
	o.pending = nil
	o.pendingID = ""
	if err := o.openLocked(id); err != nil {
		o.log.Warn().Err(err).Str("location_id", id).Msg("deferred popup open failed")
	}
}

func (o *Overlay) openLocked(id string) error {
	if err := o.popups.Open(id); err != nil {
		o.metrics.IncActivation("failed")
		return err
	}
	o.metrics.IncActivation("opened")

	// The popup footprint is an estimate; report when the real rect misses.
	rect, ok := o.popups.Rect(id)
	vp := o.engine.Viewport()
	if ok && vp.Ready() && !clears(rect, vp, o.opts.Padding) {
		o.log.Debug().
			Str("location_id", id).
			Interface("rect", rect).
			Msg("opened popup intrudes on edge padding")
	}
	return nil
}

func clears(r models.Rect, vp projection.Viewport, pad models.EdgePadding) bool {
	const eps = 0.5
	return r.Left() >= pad.Left-eps &&
		r.Top() >= pad.Top-eps &&
		r.Right() <= vp.Width-pad.Right+eps &&
		r.Bottom() <= vp.Height-pad.Bottom+eps
}

// Pending returns the location whose popup is waiting for a recenter to settle.
func (o *Overlay) Pending() (string, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pendingID, o.pendingID != ""
}

// Open returns the location whose popup is open.
func (o *Overlay) Open() (string, bool) {
	return o.popups.Current()
}

// Plan reports what activating id would do under the current viewport.
func (o *Overlay) Plan(id string) (positioner.Plan, error) {
	m, ok := o.store.get(id)
	if !ok {
		return positioner.Plan{}, fmt.Errorf("%w: %s", ErrUnknownMarker, id)
	}
	return o.positioner.Plan(o.engine.Viewport(), m.loc)
}

// Click routes a click on an element: markers activate through their bound
// handler and close buttons close their popup. It reports whether the click
// was handled.
func (o *Overlay) Click(elementID string) bool {
	el, ok := o.surface.Get(elementID)
	if !ok {
		return false
	}
	switch el.Kind {
	case surface.KindCloseButton:
		loc, _ := el.Attr("data-location-id")
		return o.Close(loc)
	case surface.KindPopup:
		return true
	}
	return o.registry.Dispatch(elementID)
}

// ClickOutside closes any open popup and drops a pending one.
func (o *Overlay) ClickOutside() bool {
	return o.CloseAll()
}

// Close closes the popup for id if it is open or pending.
func (o *Overlay) Close(id string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	dropped := false
	if o.pendingID == id && id != "" {
		o.cancelPendingLocked()
		dropped = true
	}
	return o.popups.Close(id) || dropped
}

// CloseAll closes any open popup and drops a pending one.
func (o *Overlay) CloseAll() bool {
	o.mu.Lock()
	defer o.mu.Unlock()

	dropped := o.pending != nil
	o.cancelPendingLocked()
	return o.popups.CloseAll() || dropped
}

// Visible returns the ids of markers whose coordinate lies inside the
// viewport, sorted.
func (o *Overlay) Visible() []string {
	vp := o.engine.Viewport()
	if !vp.Ready() {
		return nil
	}
	ids := o.index.QueryBox(vp.Bounds())
	sort.Strings(ids)
	return ids
}

// Nearest returns up to n marker ids ordered by coordinate distance from loc.
func (o *Overlay) Nearest(loc models.Location, n int) []string {
	return o.index.Nearest(loc, n)
}

// HitTest returns the topmost interactive marker drawn under the screen
// point (x, y).
func (o *Overlay) HitTest(x, y float64) (string, bool) {
	vp := o.engine.Viewport()
	pt := models.ScreenPoint{X: x, Y: y}
	if !vp.Ready() || !pt.Finite() {
		return "", false
	}

	best, bestZ := "", math.MinInt
	for _, id := range o.hitCandidates(vp, pt) {
		m, ok := o.store.get(id)
		if !ok {
			continue
		}
		el, ok := o.surface.Get(m.elementID)
		if !ok || el.Style.Display == surface.DisplayNone || el.Style.PointerEvents == surface.PointerNone {
			continue
		}
		if el.BoundingRect().Contains(pt) && el.Style.ZIndex > bestZ {
			best, bestZ = id, el.Style.ZIndex
		}
	}
	return best, best != ""
}

// hitCandidates lists markers whose coordinate lies within one marker size of
// pt on screen, which covers any scaled marker footprint containing pt.
func (o *Overlay) hitCandidates(vp projection.Viewport, pt models.ScreenPoint) []string {
	half := math.Max(o.opts.MarkerSize.Width, o.opts.MarkerSize.Height)
	box := models.BoundingBox{
		BottomLeft: vp.Unproject(models.ScreenPoint{X: pt.X - half, Y: pt.Y + half}),
		TopRight:   vp.Unproject(models.ScreenPoint{X: pt.X + half, Y: pt.Y - half}),
	}
	if box.TopRight.Lon >= box.BottomLeft.Lon {
		return o.index.QueryBox(box)
	}

	// The box straddles the antimeridian.
	east, west := box, box
	east.TopRight.Lon = 180
	west.BottomLeft.Lon = -180
	return append(o.index.QueryBox(east), o.index.QueryBox(west)...)
}

// Audit inspects every marker's presentation, repairing it when autoFix is set.
func (o *Overlay) Audit(autoFix bool) audit.Report {
	report := o.auditor.Audit(o.engine.Viewport(), autoFix)
	for _, is := range report.Issues {
		o.metrics.ObserveAuditIssue(string(is.Category), is.Fixed)
	}
	return report
}

// expectedRect is where a marker element should sit under vp.
func (o *Overlay) expectedRect(el surface.Element, vp projection.Viewport) (models.Rect, bool) {
	id, ok := el.Attr("data-location-id")
	if !ok {
		return models.Rect{}, false
	}
	m, ok := o.store.get(id)
	if !ok {
		return models.Rect{}, false
	}
	p, err := o.project(vp, m.loc)
	if err != nil {
		return models.Rect{}, false
	}
	return models.CenteredRect(p, o.opts.MarkerSize), true
}
