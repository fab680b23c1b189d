// Package popup owns the open/closed state of location detail popups. The
// controller holds the id of the single open popup itself; it never infers
// exclusivity by scanning the surface.
package popup

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

var ErrUnknownLocation = errors.New("unknown location")

// Host gives the controller read access to markers it decorates.
type Host interface {
	Record(id string) (models.LocationRecord, bool)
	MarkerElement(id string) (string, bool)
	MarkerPosition(id string) (models.ScreenPoint, bool)
}

// Appearance is the subset of marker style the controller toggles.
type Appearance struct {
	ZIndex int
	Scale  float64
	Color  string
}

var (
	NormalAppearance      = Appearance{ZIndex: 1, Scale: 1, Color: "#E74C3C"}
	HighlightedAppearance = Appearance{ZIndex: 1000, Scale: 1.25, Color: "#2E86DE"}
)

type Options struct {
	Size        models.Size
	Offset      float64
	MarkerSize  models.Size
	Normal      Appearance
	Highlighted Appearance
	Logger      zerolog.Logger
}

// Change describes a transition of the open popup. An empty id means none.
type Change struct {
	Previous string `json:"previous"`
	Current  string `json:"current"`
}

// Controller is safe for concurrent use. Subscribers are notified after the
// controller's lock is released.
type Controller struct {
	mu      sync.Mutex
	surface *surface.Surface
	host    Host
	opts    Options
	log     zerolog.Logger
	open    string
	popups  map[string]string
	subs    map[uint64]func(Change)
	nextSub uint64
}

func New(s *surface.Surface, host Host, opts Options) *Controller {
	if opts.Normal == (Appearance{}) {
		opts.Normal = NormalAppearance
	}
	if opts.Highlighted == (Appearance{}) {
		opts.Highlighted = HighlightedAppearance
	}
	return &Controller{
		surface: s,
		host:    host,
		opts:    opts,
		log:     opts.Logger,
		popups:  make(map[string]string),
		subs:    make(map[uint64]func(Change)),
	}
}

// ElementID returns the popup element id for a location.
func ElementID(locationID string) string { return "popup-" + locationID }

// CloseButtonID returns the close button element id for a location.
func CloseButtonID(locationID string) string { return "popup-close-" + locationID }

// Current returns the open popup's location id.
func (c *Controller) Current() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.open, c.open != ""
}

// Subscribe registers fn for every change of the open popup.
func (c *Controller) Subscribe(fn func(Change)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextSub++
	id := c.nextSub
	c.subs[id] = fn
	return func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.subs, id)
	}
}

// Open shows the popup for id, closing any other open popup first.
func (c *Controller) Open(id string) error {
	c.mu.Lock()
	change, err := c.openLocked(id)
	c.mu.Unlock()

	if err == nil && change != nil {
		c.notify(*change)
	}
	return err
}

// Toggle closes the popup for id if it is open, otherwise opens it.
func (c *Controller) Toggle(id string) (bool, error) {
	c.mu.Lock()
	var (
		change *Change
		err    error
		opened bool
	)
	if c.open == id {
		change = c.closeLocked()
	} else {
		change, err = c.openLocked(id)
		opened = err == nil
	}
	c.mu.Unlock()

	if change != nil {
		c.notify(*change)
	}
	return opened, err
}

// Close hides the popup for id if it is the open one.
func (c *Controller) Close(id string) bool {
	c.mu.Lock()
	if c.open == "" || c.open != id {
		c.mu.Unlock()
		return false
	}
	change := c.closeLocked()
	c.mu.Unlock()

	c.notify(*change)
	return true
}

// CloseAll hides whatever popup is open.
func (c *Controller) CloseAll() bool {
	c.mu.Lock()
	change := c.closeLocked()
	c.mu.Unlock()

	if change == nil {
		return false
	}
	c.notify(*change)
	return true
}

// Reposition re-anchors the open popup to its marker.
func (c *Controller) Reposition() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.open == "" {
		return
	}
	c.place(c.open)
}

// Rect returns the rendered rect of the popup for id.
func (c *Controller) Rect(id string) (models.Rect, bool) {
	c.mu.Lock()
	elID, ok := c.popups[id]
	c.mu.Unlock()
	if !ok {
		return models.Rect{}, false
	}
	el, ok := c.surface.Get(elID)
	if !ok {
		return models.Rect{}, false
	}
	return el.BoundingRect(), true
}

// Reset removes every popup element and clears the open state without
// touching marker styling. Used when the marker set is rebuilt.
func (c *Controller) Reset() {
	c.mu.Lock()
	var change *Change
	if c.open != "" {
		change = &Change{Previous: c.open}
	}
	c.open = ""
	for loc, elID := range c.popups {
		c.surface.Remove(elID)
		c.surface.Remove(CloseButtonID(loc))
	}
	c.popups = make(map[string]string)
	c.mu.Unlock()

	if change != nil {
		c.notify(*change)
	}
}

// Footprint returns the rect a popup for a marker at p would occupy.
func (c *Controller) Footprint(p models.ScreenPoint) models.Rect {
	return Footprint(p, c.opts.MarkerSize, c.opts.Size, c.opts.Offset)
}

// Footprint places a popup of size popupSize above a marker centred at p.
func Footprint(p models.ScreenPoint, markerSize, popupSize models.Size, offset float64) models.Rect {
	return models.Rect{
		X:      p.X - popupSize.Width/2,
		Y:      p.Y - markerSize.Height/2 - offset - popupSize.Height,
		Width:  popupSize.Width,
		Height: popupSize.Height,
	}
}

func (c *Controller) openLocked(id string) (*Change, error) {
	if c.open == id {
		return nil, nil
	}
	rec, ok := c.host.Record(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownLocation, id)
	}
	elID, err := c.ensure(rec)
	if err != nil {
		return nil, err
	}

	prev := c.open
	if prev != "" {
		c.hide(prev)
	}

	c.surface.Update(elID, func(el *surface.Element) {
		el.Style.Display = surface.DisplayBlock
		el.Style.Visibility = surface.VisibilityVisible
		el.Style.Opacity = 1
	})
	c.surface.Update(CloseButtonID(id), func(el *surface.Element) {
		el.Style.Display = surface.DisplayBlock
	})
	c.place(id)
	c.style(id, c.opts.Highlighted)
	c.open = id

	c.log.Debug().Str("location_id", id).Str("previous", prev).Msg("popup opened")
	return &Change{Previous: prev, Current: id}, nil
}

func (c *Controller) closeLocked() *Change {
	if c.open == "" {
		return nil
	}
	prev := c.open
	c.hide(prev)
	c.open = ""

	c.log.Debug().Str("location_id", prev).Msg("popup closed")
	return &Change{Previous: prev}
}

func (c *Controller) hide(id string) {
	if elID, ok := c.popups[id]; ok {
		c.surface.Update(elID, func(el *surface.Element) {
			el.Style.Display = surface.DisplayNone
		})
		c.surface.Update(CloseButtonID(id), func(el *surface.Element) {
			el.Style.Display = surface.DisplayNone
		})
	}
	c.style(id, c.opts.Normal)
}

func (c *Controller) style(id string, a Appearance) {
	elID, ok := c.host.MarkerElement(id)
	if !ok {
		return
	}
	c.surface.Update(elID, func(el *surface.Element) {
		el.Style.ZIndex = a.ZIndex
		el.Style.Scale = a.Scale
		el.Style.Color = a.Color
	})
}

func (c *Controller) place(id string) {
	elID, ok := c.popups[id]
	if !ok {
		return
	}
	p, ok := c.host.MarkerPosition(id)
	if !ok {
		return
	}
	r := c.Footprint(p)
	c.surface.Update(elID, func(el *surface.Element) {
		el.Style.Left, el.Style.Top = r.X, r.Y
	})
	c.surface.Update(CloseButtonID(id), func(el *surface.Element) {
		el.Style.Left, el.Style.Top = r.Right()-closeButtonSize, r.Y
	})
}

const closeButtonSize = 16.0

// ensure lazily creates the popup and its close button.
func (c *Controller) ensure(rec models.LocationRecord) (string, error) {
	if elID, ok := c.popups[rec.ID]; ok {
		return elID, nil
	}

	style := surface.DefaultStyle(c.opts.Size)
	style.Display = surface.DisplayNone
	style.ZIndex = 2000

	el := surface.Element{
		ID:    ElementID(rec.ID),
		Kind:  surface.KindPopup,
		Attrs: map[string]string{"data-location-id": rec.ID},
		Text:  Content(rec),
		Style: style,
	}
	if err := c.surface.Append(el); err != nil {
		return "", fmt.Errorf("attach popup for %s: %w", rec.ID, err)
	}

	btnStyle := surface.DefaultStyle(models.Size{Width: closeButtonSize, Height: closeButtonSize})
	btnStyle.Display = surface.DisplayNone
	btnStyle.ZIndex = 2001
	btn := surface.Element{
		ID:     CloseButtonID(rec.ID),
		Kind:   surface.KindCloseButton,
		Parent: el.ID,
		Attrs:  map[string]string{"data-location-id": rec.ID},
		Text:   []string{"×"},
		Style:  btnStyle,
	}
	if err := c.surface.Append(btn); err != nil {
		c.surface.Remove(el.ID)
		return "", fmt.Errorf("attach close button for %s: %w", rec.ID, err)
	}

	c.popups[rec.ID] = el.ID
	return el.ID, nil
}

func (c *Controller) notify(ch Change) {
	c.mu.Lock()
	subs := make([]func(Change), 0, len(c.subs))
	ids := make([]uint64, 0, len(c.subs))
	for id := range c.subs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	for _, id := range ids {
		subs = append(subs, c.subs[id])
	}
	c.mu.Unlock()

	for _, fn := range subs {
		fn(ch)
	}
}

// Content renders the record's display fields as popup lines.
func Content(rec models.LocationRecord) []string {
	lines := make([]string, 0, 4)
	if rec.Name != "" {
		lines = append(lines, rec.Name)
	}
	if rec.Address != "" {
		lines = append(lines, rec.Address)
	}
	if rec.PriceRange != "" {
		lines = append(lines, "Price: "+rec.PriceRange)
	}

	var features []string
	for name, on := range rec.Features {
		if on {
			features = append(features, name)
		}
	}
	if len(features) > 0 {
		sort.Strings(features)
		lines = append(lines, "Features: "+strings.Join(features, ", "))
	}
	return lines
}
