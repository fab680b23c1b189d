// Package overlay renders location markers over a map engine and wires the
// projector, popup controller, edge-aware positioner, listener registry and
// visibility auditor into one object the hosting application drives.
package overlay

import (
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/1F47E/geo-overlay/pkg/audit"
	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/events"
	"github.com/1F47E/geo-overlay/pkg/mapview"
	"github.com/1F47E/geo-overlay/pkg/metrics"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/popup"
	"github.com/1F47E/geo-overlay/pkg/positioner"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/registry"
	"github.com/1F47E/geo-overlay/pkg/rtree"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

var (
	ErrUnknownMarker = errors.New("unknown marker")
	ErrStale         = errors.New("marker set was replaced")
	ErrClosed        = errors.New("overlay torn down")
)

const (
	DefaultAnimationDuration = 300 * time.Millisecond
	DefaultSettleDelay       = 50 * time.Millisecond
	DefaultPopupOffset       = 10.0
)

var (
	DefaultMarkerSize = models.Size{Width: 30, Height: 30}
	DefaultPopupSize  = models.Size{Width: 280, Height: 200}
)

// Engine is the map the overlay draws over.
type Engine interface {
	Viewport() projection.Viewport
	OnMove(fn mapview.MoveFunc) func()
}

// Projector is implemented by engines that project coordinates themselves.
type Projector interface {
	Project(loc models.Location) (models.ScreenPoint, error)
}

// Flyer is implemented by engines that can animate to a new centre.
type Flyer interface {
	FlyTo(target models.Location, d time.Duration)
}

// Animator is implemented by engines that report whether a move is still in
// flight. A deferred popup open waits for it to finish.
type Animator interface {
	Animating() bool
}

type Options struct {
	Padding     models.EdgePadding
	MarkerSize  models.Size
	PopupSize   models.Size
	PopupOffset float64
	// AnimationDuration is the length of a corrective recenter.
	AnimationDuration time.Duration
	// SettleDelay is added to AnimationDuration before the popup opens.
	// Zero selects DefaultSettleDelay; a negative value means no delay.
	SettleDelay time.Duration
	// MaxElements caps the surface; zero means no cap.
	MaxElements int
	Clock       clock.Clock
	Bus         *events.Bus
	Metrics     *metrics.Metrics
	Logger      zerolog.Logger
}

func (o *Options) setDefaults() {
	if o.MarkerSize.Width <= 0 || o.MarkerSize.Height <= 0 {
		o.MarkerSize = DefaultMarkerSize
	}
	if o.PopupSize.Width <= 0 || o.PopupSize.Height <= 0 {
		o.PopupSize = DefaultPopupSize
	}
	if o.PopupOffset <= 0 {
		o.PopupOffset = DefaultPopupOffset
	}
	if o.AnimationDuration <= 0 {
		o.AnimationDuration = DefaultAnimationDuration
	}
	switch {
	case o.SettleDelay == 0:
		o.SettleDelay = DefaultSettleDelay
	case o.SettleDelay < 0:
		o.SettleDelay = 0
	}
	if o.Clock == nil {
		o.Clock = clock.Real()
	}
	if o.Bus == nil {
		o.Bus = events.NewBus(o.Clock.Now)
	}
	o.Padding = o.Padding.Clamped()
}

type projectFunc func(vp projection.Viewport, loc models.Location) (models.ScreenPoint, error)

// Overlay is safe for concurrent use. mu serialises operations that change
// the marker set or the pending popup; re-projection and popup state have
// their own locks so engine callbacks never wait on mu.
type Overlay struct {
	mu         sync.Mutex
	engine     Engine
	flyer      Flyer
	animator   Animator
	project    projectFunc
	opts       Options
	log        zerolog.Logger
	surface    *surface.Surface
	registry   *registry.Registry
	index      *rtree.MarkerIndex
	store      *markerStore
	popups     *popup.Controller
	positioner *positioner.Positioner
	auditor    *audit.Auditor
	bus        *events.Bus
	metrics    *metrics.Metrics

	gen        uint64
	seq        uint64
	pending    clock.Timer
	pendingID  string
	closed     bool
	stopMove   func()
	stopPopups func()
}

// New attaches an overlay to engine. The engine's projection is used when it
// provides one; otherwise markers are projected from its viewport.
func New(engine Engine, opts Options) *Overlay {
	opts.setDefaults()

	o := &Overlay{
		engine:   engine,
		opts:     opts,
		log:      opts.Logger.With().Str("component", "overlay").Logger(),
		surface:  surface.New(surface.Options{MaxElements: opts.MaxElements}),
		registry: registry.New(),
		index:    rtree.NewMarkerIndex(),
		store:    newMarkerStore(),
		bus:      opts.Bus,
		metrics:  opts.Metrics,
	}

	if p, ok := engine.(Projector); ok {
		o.project = func(_ projection.Viewport, loc models.Location) (models.ScreenPoint, error) {
			return p.Project(loc)
		}
		o.log.Debug().Msg("using engine projection")
	} else {
		o.project = func(vp projection.Viewport, loc models.Location) (models.ScreenPoint, error) {
			return vp.Project(loc)
		}
		o.log.Debug().Msg("using viewport projection")
	}
	if f, ok := engine.(Flyer); ok {
		o.flyer = f
	} else {
		o.log.Warn().Msg("engine cannot animate, edge correction disabled")
	}
	if a, ok := engine.(Animator); ok {
		o.animator = a
	}

	o.popups = popup.New(o.surface, o.store, popup.Options{
		Size:       opts.PopupSize,
		Offset:     opts.PopupOffset,
		MarkerSize: opts.MarkerSize,
		Logger:     opts.Logger,
	})
	o.positioner = positioner.New(positioner.Config{
		Padding:     opts.Padding,
		MarkerSize:  opts.MarkerSize,
		PopupSize:   opts.PopupSize,
		PopupOffset: opts.PopupOffset,
	})
	o.auditor = audit.New(o.surface, audit.Options{
		Size:   opts.MarkerSize,
		Expect: o.expectedRect,
		Logger: opts.Logger,
	})

	o.stopPopups = o.popups.Subscribe(o.onPopupChange)
	o.stopMove = engine.OnMove(func(vp projection.Viewport) { o.reposition(vp) })
	return o
}

// Viewport returns the engine's current viewport.
func (o *Overlay) Viewport() projection.Viewport {
	return o.engine.Viewport()
}

// Surface exposes the element tree for rendering and inspection.
func (o *Overlay) Surface() *surface.Surface {
	return o.surface
}

// Events returns the bus carrying selection notifications.
func (o *Overlay) Events() *events.Bus {
	return o.bus
}

// Padding returns the effective edge padding.
func (o *Overlay) Padding() models.EdgePadding {
	return o.opts.Padding
}

// Teardown unbinds every handler, removes every element, invalidates pending
// timers and detaches from the engine. It is safe to call more than once.
func (o *Overlay) Teardown() {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.closed {
		return
	}
	o.closed = true
	o.gen++
	o.cancelPendingLocked()
	o.stopMove()
	o.clearLocked()
	o.stopPopups()
	o.log.Debug().Msg("overlay torn down")
}

func (o *Overlay) onPopupChange(ch popup.Change) {
	if ch.Previous != "" && ch.Previous != ch.Current {
		o.bus.Publish(events.PopupClosed, ch.Previous)
	}
	if ch.Current != "" {
		o.bus.Publish(events.PopupOpened, ch.Current)
	}
}

func (o *Overlay) cancelPendingLocked() {
	o.seq++
	if o.pending != nil {
		o.pending.Stop()
		o.pending = nil
		o.pendingID = ""
	}
}
