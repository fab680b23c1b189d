// Package surface is the element tree markers and popups are drawn into. It
// plays the part of the DOM: elements carry an id, attributes, text and a
// computed style, and every mutation bumps a revision counter.
package surface

import (
	"errors"
	"fmt"
	"sync"

	"github.com/1F47E/geo-overlay/pkg/models"
)

var (
	ErrInvalidElement   = errors.New("element has no id")
	ErrDuplicateElement = errors.New("element already attached")
	ErrSurfaceFull      = errors.New("surface element limit reached")
)

// Kind classifies elements.
type Kind string

const (
	KindMarker      Kind = "marker"
	KindPopup       Kind = "popup"
	KindCloseButton Kind = "popup-close"
)

const (
	DisplayBlock = "block"
	DisplayNone  = "none"

	VisibilityVisible = "visible"
	VisibilityHidden  = "hidden"

	PointerAuto = "auto"
	PointerNone = "none"
)

// Style is the computed presentation of an element. Left/Top place the
// element's top-left corner in viewport pixels; Scale grows it around its
// centre.
type Style struct {
	Display       string  `json:"display"`
	Visibility    string  `json:"visibility"`
	Opacity       float64 `json:"opacity"`
	PointerEvents string  `json:"pointer_events"`
	ZIndex        int     `json:"z_index"`
	Scale         float64 `json:"scale"`
	Color         string  `json:"color"`
	Left          float64 `json:"left"`
	Top           float64 `json:"top"`
	Width         float64 `json:"width"`
	Height        float64 `json:"height"`
}

// DefaultStyle returns a displayed, opaque, interactive style of the given size.
func DefaultStyle(size models.Size) Style {
	return Style{
		Display:       DisplayBlock,
		Visibility:    VisibilityVisible,
		Opacity:       1,
		PointerEvents: PointerAuto,
		Scale:         1,
		Width:         size.Width,
		Height:        size.Height,
	}
}

// Element is one node of the surface.
type Element struct {
	ID     string            `json:"id"`
	Kind   Kind              `json:"kind"`
	Parent string            `json:"parent,omitempty"`
	Attrs  map[string]string `json:"attrs,omitempty"`
	Text   []string          `json:"text,omitempty"`
	Style  Style             `json:"style"`
}

// Attr returns an attribute value.
func (e Element) Attr(name string) (string, bool) {
	if e.Attrs == nil {
		return "", false
	}
	v, ok := e.Attrs[name]
	return v, ok
}

// BoundingRect returns the element's rendered rectangle.
func (e Element) BoundingRect() models.Rect {
	s := e.Style
	scale := s.Scale
	if scale <= 0 {
		scale = 1
	}
	w, h := s.Width*scale, s.Height*scale
	return models.Rect{
		X:      s.Left - (w-s.Width)/2,
		Y:      s.Top - (h-s.Height)/2,
		Width:  w,
		Height: h,
	}
}

func (e Element) clone() Element {
	if e.Attrs != nil {
		attrs := make(map[string]string, len(e.Attrs))
		for k, v := range e.Attrs {
			attrs[k] = v
		}
		e.Attrs = attrs
	}
	if e.Text != nil {
		e.Text = append([]string(nil), e.Text...)
	}
	return e
}

type Options struct {
	// MaxElements caps how many elements may be attached; zero means no cap.
	MaxElements int
}

// Surface is safe for concurrent use.
type Surface struct {
	mu       sync.RWMutex
	opts     Options
	elements map[string]*Element
	order    []string
	revision uint64
}

// New creates an empty surface.
func New(opts Options) *Surface {
	return &Surface{
		opts:     opts,
		elements: make(map[string]*Element),
	}
}

// Append attaches el.
func (s *Surface) Append(el Element) error {
	if el.ID == "" {
		return ErrInvalidElement
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elements[el.ID]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateElement, el.ID)
	}
	if s.opts.MaxElements > 0 && len(s.elements) >= s.opts.MaxElements {
		return fmt.Errorf("%w (%d)", ErrSurfaceFull, s.opts.MaxElements)
	}

	c := el.clone()
	s.elements[el.ID] = &c
	s.order = append(s.order, el.ID)
	s.revision++
	return nil
}

// Remove detaches the element with the given id, reporting whether it existed.
func (s *Surface) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.elements[id]; !ok {
		return false
	}
	delete(s.elements, id)
	for i, o := range s.order {
		if o == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	s.revision++
	return true
}

// RemoveKind detaches every element of kind and returns how many were removed.
func (s *Surface) RemoveKind(kind Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.order[:0]
	removed := 0
	for _, id := range s.order {
		if s.elements[id].Kind == kind {
			delete(s.elements, id)
			removed++
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
	if removed > 0 {
		s.revision++
	}
	return removed
}

// Get returns a copy of the element.
func (s *Surface) Get(id string) (Element, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	el, ok := s.elements[id]
	if !ok {
		return Element{}, false
	}
	return el.clone(), true
}

// Update applies fn to the element in place.
func (s *Surface) Update(id string, fn func(*Element)) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	el, ok := s.elements[id]
	if !ok {
		return false
	}
	fn(el)
	s.revision++
	return true
}

// Elements returns copies of every element of kind in attach order. An empty
// kind matches all elements.
func (s *Surface) Elements(kind Kind) []Element {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Element, 0, len(s.order))
	for _, id := range s.order {
		el := s.elements[id]
		if kind == "" || el.Kind == kind {
			out = append(out, el.clone())
		}
	}
	return out
}

// Len counts elements of kind; an empty kind counts all.
func (s *Surface) Len(kind Kind) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if kind == "" {
		return len(s.elements)
	}
	n := 0
	for _, el := range s.elements {
		if el.Kind == kind {
			n++
		}
	}
	return n
}

// Revision increases on every mutation.
func (s *Surface) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.revision
}
