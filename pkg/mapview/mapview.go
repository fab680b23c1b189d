// Package mapview is a headless map engine: it owns the viewport, moves it on
// request (instantly or with an eased flight) and notifies listeners after
// every change.
package mapview

import (
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/1F47E/geo-overlay/pkg/clock"
	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
)

// DefaultFrameInterval approximates one display frame at 60Hz.
const DefaultFrameInterval = 16 * time.Millisecond

// MoveFunc is called with the new viewport after every move or zoom.
type MoveFunc func(projection.Viewport)

type Options struct {
	Clock         clock.Clock
	FrameInterval time.Duration
	Logger        zerolog.Logger
}

type listener struct {
	id uint64
	fn MoveFunc
}

type flight struct {
	start    projection.Viewport
	target   models.Location
	shiftX   float64
	shiftY   float64
	began    time.Time
	duration time.Duration
}

// View is safe for concurrent use. Listeners run outside the view's lock and
// may call back into it.
type View struct {
	mu        sync.Mutex
	vp        projection.Viewport
	clk       clock.Clock
	frame     time.Duration
	log       zerolog.Logger
	listeners []listener
	nextID    uint64
	flight    *flight
}

// New creates a view showing vp.
func New(vp projection.Viewport, opts Options) *View {
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.FrameInterval <= 0 {
		opts.FrameInterval = DefaultFrameInterval
	}
	return &View{
		vp:    vp.WithZoom(vp.Zoom),
		clk:   opts.Clock,
		frame: opts.FrameInterval,
		log:   opts.Logger,
	}
}

// Viewport returns the current viewport.
func (v *View) Viewport() projection.Viewport {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.vp
}

// Project converts loc using the current viewport.
func (v *View) Project(loc models.Location) (models.ScreenPoint, error) {
	return v.Viewport().Project(loc)
}

// OnMove registers fn and returns a func that removes it.
func (v *View) OnMove(fn MoveFunc) func() {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.nextID++
	id := v.nextID
	v.listeners = append(v.listeners, listener{id: id, fn: fn})

	return func() {
		v.mu.Lock()
		defer v.mu.Unlock()
		for i, l := range v.listeners {
			if l.id == id {
				v.listeners = append(v.listeners[:i], v.listeners[i+1:]...)
				return
			}
		}
	}
}

// SetViewport jumps to vp, cancelling any flight in progress.
func (v *View) SetViewport(vp projection.Viewport) {
	v.mu.Lock()
	v.flight = nil
	v.vp = vp.WithZoom(vp.Zoom)
	v.mu.Unlock()
	v.emit()
}

// SetCenter jumps to a new centre.
func (v *View) SetCenter(c models.Location) {
	v.SetViewport(v.Viewport().WithCenter(c))
}

// Pan moves the map content by (dx, dy) pixels.
func (v *View) Pan(dx, dy float64) {
	v.SetViewport(v.Viewport().Shift(dx, dy))
}

// ZoomTo changes the zoom level, keeping the centre.
func (v *View) ZoomTo(z float64) {
	v.SetViewport(v.Viewport().WithZoom(z))
}

// ZoomBy adds delta to the zoom level.
func (v *View) ZoomBy(delta float64) {
	vp := v.Viewport()
	v.SetViewport(vp.WithZoom(vp.Zoom + delta))
}

// Resize changes the surface size.
func (v *View) Resize(width, height float64) {
	vp := v.Viewport()
	vp.Width, vp.Height = width, height
	v.SetViewport(vp)
}

// FlyTo animates the centre to target over d using an ease-out cubic curve.
// The first frame is emitted one frame interval after the call.
func (v *View) FlyTo(target models.Location, d time.Duration) {
	v.mu.Lock()
	start := v.vp
	tp, err := start.Project(target)
	if err != nil || d <= 0 {
		v.mu.Unlock()
		if err != nil {
			v.log.Debug().Err(err).Msg("flight target not projectable, jumping")
		}
		v.SetCenter(target)
		return
	}

	f := &flight{
		start:    start,
		target:   target,
		shiftX:   start.Width/2 - tp.X,
		shiftY:   start.Height/2 - tp.Y,
		began:    v.clk.Now(),
		duration: d,
	}
	v.flight = f
	v.mu.Unlock()

	v.log.Debug().
		Float64("lat", target.Lat).
		Float64("lon", target.Lon).
		Dur("duration", d).
		Msg("flight started")

	v.clk.AfterFunc(v.frame, func() { v.step(f) })
}

// Animating reports whether a flight is in progress.
func (v *View) Animating() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	return v.flight != nil
}

func (v *View) step(f *flight) {
	v.mu.Lock()
	if v.flight != f {
		v.mu.Unlock()
		return
	}

	t := float64(v.clk.Now().Sub(f.began)) / float64(f.duration)
	done := t >= 1
	if done {
		v.vp = f.start.WithCenter(f.target)
		v.flight = nil
	} else {
		e := EaseOutCubic(t)
		v.vp = f.start.Shift(f.shiftX*e, f.shiftY*e)
	}
	v.mu.Unlock()

	v.emit()
	if !done {
		v.clk.AfterFunc(v.frame, func() { v.step(f) })
	}
}

func (v *View) emit() {
	v.mu.Lock()
	vp := v.vp
	ls := make([]listener, len(v.listeners))
	copy(ls, v.listeners)
	v.mu.Unlock()

	for _, l := range ls {
		l.fn(vp)
	}
}

// EaseOutCubic maps t in [0, 1] onto a decelerating curve.
func EaseOutCubic(t float64) float64 {
	t = math.Max(0, math.Min(1, t))
	return 1 - math.Pow(1-t, 3)
}
