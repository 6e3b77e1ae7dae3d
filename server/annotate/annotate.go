// Package annotate draws detections and running counts onto video frames.
package annotate

import (
	"fmt"
	"image"
	"image/color"
	"strconv"
	"strings"
	"sync"

	"github.com/bmharper/cimg/v2"
	"github.com/cyclopcam/tally/pkg/nn"
	"github.com/cyclopcam/tally/pkg/palette"
	"github.com/cyclopcam/tally/server/tally"
	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font"
	"golang.org/x/image/font/gofont/gobold"
)

// Label is one detection to draw, with its live weight index
type Label struct {
	Detection   nn.Detection
	WeightIndex float64
	HasWeight   bool // False for classes that don't carry a weight index
}

// Text returns the caption drawn above the box, eg "bird ID:3 W:1.25"
func (l *Label) Text() string {
	s := fmt.Sprintf("%v ID:%v", l.Detection.Class, l.Detection.TrackID)
	if l.HasWeight {
		s += " W:" + FormatIndex(l.WeightIndex)
	}
	return s
}

// FormatIndex formats a weight index with at least one decimal, eg 1.0, 0.5, 1.67
func FormatIndex(v float64) string {
	s := strconv.FormatFloat(v, 'f', -1, 64)
	if !strings.ContainsAny(s, ".eEnN") {
		s += ".0"
	}
	return s
}

// Layout controls the placement of overlays, in pixels
type Layout struct {
	FontSize       float64
	BoxLineWidth   float64
	LabelOffsetY   int // Caption baseline is this far above the top of the box
	PanelStartY    int // Baseline of the first line of the count panel
	PanelLineGap   int
	PanelLeft      int
	PanelRight     int
	PanelAscent    int // Panel background extends this far above each baseline
	PanelDescent   int // ... and this far below
	PanelTextX     int
	TextColor      color.RGBA
	PanelFillColor color.RGBA
}

var DefaultLayout = Layout{
	FontSize:       18,
	BoxLineWidth:   2,
	LabelOffsetY:   10,
	PanelStartY:    40,
	PanelLineGap:   28,
	PanelLeft:      5,
	PanelRight:     300,
	PanelAscent:    22,
	PanelDescent:   6,
	PanelTextX:     10,
	TextColor:      color.RGBA{R: 255, A: 255},
	PanelFillColor: color.RGBA{A: 255},
}

var parseFont = sync.OnceValues(func() (*truetype.Font, error) {
	return truetype.Parse(gobold.TTF)
})

// Annotator renders overlays. It holds no aggregation state, and never modifies the frames
// that it is given. An Annotator is not safe for concurrent use, because the font face
// caches glyphs, but it is cheap to create one per session.
type Annotator struct {
	Layout  Layout
	palette *palette.Registry
	face    font.Face
}

func New(reg *palette.Registry) (*Annotator, error) {
	return NewWithLayout(reg, DefaultLayout)
}

func NewWithLayout(reg *palette.Registry, layout Layout) (*Annotator, error) {
	f, err := parseFont()
	if err != nil {
		return nil, fmt.Errorf("Failed to parse annotation font: %w", err)
	}
	return &Annotator{
		Layout:  layout,
		palette: reg,
		face:    truetype.NewFace(f, &truetype.Options{Size: layout.FontSize}),
	}, nil
}

// Annotate returns a copy of 'frame' with a box and caption for every label, and the count
// panel in the top left corner. Calling it twice with the same inputs produces the same pixels.
func (a *Annotator) Annotate(frame *cimg.Image, labels []Label, counts tally.Counts) (*cimg.Image, error) {
	canvas, err := toRGBA(frame)
	if err != nil {
		return nil, err
	}
	dc := gg.NewContextForRGBA(canvas)
	dc.SetFontFace(a.face)
	lay := &a.Layout

	for i := range labels {
		l := &labels[i]
		box := l.Detection.Box
		dc.SetColor(a.palette.ColorFor(l.Detection.Class))
		dc.SetLineWidth(lay.BoxLineWidth)
		dc.DrawRectangle(float64(box.X), float64(box.Y), float64(box.Width), float64(box.Height))
		dc.Stroke()

		dc.SetColor(lay.TextColor)
		dc.DrawString(l.Text(), float64(box.X), float64(box.Y-lay.LabelOffsetY))
	}

	for i, cc := range counts {
		y := lay.PanelStartY + i*lay.PanelLineGap
		dc.SetColor(lay.PanelFillColor)
		dc.DrawRectangle(float64(lay.PanelLeft), float64(y-lay.PanelAscent), float64(lay.PanelRight-lay.PanelLeft), float64(lay.PanelAscent+lay.PanelDescent))
		dc.Fill()
		dc.SetColor(lay.TextColor)
		dc.DrawString(PanelLine(i, cc), float64(lay.PanelTextX), float64(y))
	}

	return fromRGBA(canvas, frame.Format), nil
}

// PanelLine is the text of line 'i' (zero based) of the count panel, eg "1. bird : 4"
func PanelLine(i int, cc tally.ClassCount) string {
	return fmt.Sprintf("%v. %v : %v", i+1, cc.Class, cc.Count)
}

func toRGBA(src *cimg.Image) (*image.RGBA, error) {
	if src.Format != cimg.PixelFormatRGB && src.Format != cimg.PixelFormatRGBA {
		return nil, fmt.Errorf("Cannot annotate image of format %v, only RGB and RGBA are supported", src.Format)
	}
	nchan := src.NChan()
	dst := image.NewRGBA(image.Rect(0, 0, src.Width, src.Height))
	for y := 0; y < src.Height; y++ {
		s := src.Pixels[y*src.Stride : y*src.Stride+src.Width*nchan]
		d := dst.Pix[y*dst.Stride : y*dst.Stride+src.Width*4]
		for x := 0; x < src.Width; x++ {
			d[x*4] = s[x*nchan]
			d[x*4+1] = s[x*nchan+1]
			d[x*4+2] = s[x*nchan+2]
			d[x*4+3] = 255
		}
	}
	return dst, nil
}

func fromRGBA(src *image.RGBA, format cimg.PixelFormat) *cimg.Image {
	w, h := src.Rect.Dx(), src.Rect.Dy()
	dst := cimg.NewImage(w, h, format)
	nchan := dst.NChan()
	for y := 0; y < h; y++ {
		s := src.Pix[y*src.Stride : y*src.Stride+w*4]
		d := dst.Pixels[y*dst.Stride : y*dst.Stride+w*nchan]
		for x := 0; x < w; x++ {
			d[x*nchan] = s[x*4]
			d[x*nchan+1] = s[x*4+1]
			d[x*nchan+2] = s[x*4+2]
			if nchan == 4 {
				d[x*nchan+3] = 255
			}
		}
	}
	return dst
}
