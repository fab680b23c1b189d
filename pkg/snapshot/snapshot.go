// Package snapshot draws the overlay's element tree to a PNG so marker and
// popup placement can be inspected without a browser.
package snapshot

import (
	"fmt"
	"image"
	"io"
	"sort"

	"github.com/fogleman/gg"

	"github.com/1F47E/geo-overlay/pkg/models"
	"github.com/1F47E/geo-overlay/pkg/projection"
	"github.com/1F47E/geo-overlay/pkg/surface"
)

const (
	background  = "#F4F1EA"
	paddingLine = "#B0B0B0"
	popupFill   = "#FFFFFF"
	popupBorder = "#333333"
	textColor   = "#222222"
	lineHeight  = 16.0
)

type Options struct {
	// Padding, when set, is drawn as a dashed guide.
	Padding *models.EdgePadding
}

// Renderer draws a surface under a viewport.
type Renderer struct {
	context *gg.Context
	vp      projection.Viewport
	opts    Options
}

// NewRenderer creates a canvas the size of vp.
func NewRenderer(vp projection.Viewport, opts Options) (*Renderer, error) {
	if !vp.Ready() {
		return nil, fmt.Errorf("snapshot: %w", projection.ErrNotReady)
	}
	return &Renderer{
		context: gg.NewContext(int(vp.Width), int(vp.Height)),
		vp:      vp,
		opts:    opts,
	}, nil
}

// Render paints every displayed element in z-index order.
func (r *Renderer) Render(s *surface.Surface) image.Image {
	r.context.SetHexColor(background)
	r.context.Clear()

	if r.opts.Padding != nil {
		r.drawPadding(*r.opts.Padding)
	}

	els := s.Elements("")
	sort.SliceStable(els, func(i, j int) bool {
		return els[i].Style.ZIndex < els[j].Style.ZIndex
	})
	for _, el := range els {
		if !displayed(el.Style) {
			continue
		}
		switch el.Kind {
		case surface.KindMarker:
			r.drawMarker(el)
		case surface.KindPopup:
			r.drawPopup(el)
		case surface.KindCloseButton:
			r.drawCloseButton(el)
		}
	}
	return r.context.Image()
}

// EncodePNG writes the last rendered frame.
func (r *Renderer) EncodePNG(w io.Writer) error {
	return r.context.EncodePNG(w)
}

// WritePNG renders s under vp and writes it as PNG.
func WritePNG(w io.Writer, s *surface.Surface, vp projection.Viewport, opts Options) error {
	r, err := NewRenderer(vp, opts)
	if err != nil {
		return err
	}
	r.Render(s)
	return r.EncodePNG(w)
}

func displayed(st surface.Style) bool {
	return st.Display != surface.DisplayNone &&
		st.Visibility != surface.VisibilityHidden &&
		st.Opacity > 0
}

func (r *Renderer) drawPadding(p models.EdgePadding) {
	r.context.Push()
	defer r.context.Pop()

	r.context.SetHexColor(paddingLine)
	r.context.SetLineWidth(1)
	r.context.SetDash(4, 4)
	r.context.DrawRectangle(p.Left, p.Top, r.vp.Width-p.Left-p.Right, r.vp.Height-p.Top-p.Bottom)
	r.context.Stroke()
}

func (r *Renderer) drawMarker(el surface.Element) {
	rect := el.BoundingRect()
	color := el.Style.Color
	if color == "" {
		color = "#E74C3C"
	}

	r.context.Push()
	defer r.context.Pop()

	cx, cy := rect.X+rect.Width/2, rect.Y+rect.Height/2
	radius := min(rect.Width, rect.Height) / 2
	r.context.SetHexColor(color)
	r.context.DrawCircle(cx, cy, radius)
	r.context.Fill()
	r.context.SetRGBA(1, 1, 1, 0.9)
	r.context.SetLineWidth(2)
	r.context.DrawCircle(cx, cy, radius-1)
	r.context.Stroke()
}

func (r *Renderer) drawPopup(el surface.Element) {
	rect := el.BoundingRect()

	r.context.Push()
	defer r.context.Pop()

	r.context.SetHexColor(popupFill)
	r.context.DrawRoundedRectangle(rect.X, rect.Y, rect.Width, rect.Height, 6)
	r.context.FillPreserve()
	r.context.SetHexColor(popupBorder)
	r.context.SetLineWidth(1)
	r.context.Stroke()

	r.context.SetHexColor(textColor)
	y := rect.Y + lineHeight
	for _, line := range el.Text {
		if y > rect.Bottom()-4 {
			break
		}
		r.context.DrawString(line, rect.X+10, y)
		y += lineHeight
	}
}

func (r *Renderer) drawCloseButton(el surface.Element) {
	rect := el.BoundingRect()

	r.context.Push()
	defer r.context.Pop()

	r.context.SetHexColor(popupBorder)
	r.context.SetLineWidth(1.5)
	r.context.DrawLine(rect.X+4, rect.Y+4, rect.Right()-4, rect.Bottom()-4)
	r.context.DrawLine(rect.Right()-4, rect.Y+4, rect.X+4, rect.Bottom()-4)
	r.context.Stroke()
}
