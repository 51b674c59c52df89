// Package render rasterises the annotation canvas: the current image, every
// box with its tag label, and the rectangle being drawn.
package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"io"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"

	"ui-annotator/internal/geometry"
	"ui-annotator/internal/models"
)

const (
	lineWidth     = 2
	emphasisWidth = 3
	dashOn        = 8
	dashOff       = 4
	labelHeight   = 16
)

var (
	predictionColor = color.RGBA{0x8b, 0x5c, 0xf6, 0xff}
	background      = color.RGBA{0xff, 0xff, 0xff, 0xff}

	tagColors = map[models.Tag]color.RGBA{
		models.TagButton:   {0x3b, 0x82, 0xf6, 0xff},
		models.TagInput:    {0x10, 0xb9, 0x81, 0xff},
		models.TagRadio:    {0xf5, 0x9e, 0x0b, 0xff},
		models.TagDropdown: {0x8b, 0x5c, 0xf6, 0xff},
		models.TagText:     {0x06, 0xb6, 0xd4, 0xff},
		models.TagImage:    {0xec, 0x48, 0x99, 0xff},
		models.TagLink:     {0x63, 0x66, 0xf1, 0xff},
		models.TagCheckbox: {0x84, 0xcc, 0x16, 0xff},
		models.TagLabel:    {0x64, 0x74, 0x8b, 0xff},
		models.TagIcon:     {0xf9, 0x73, 0x16, 0xff},
		models.TagCard:     {0x14, 0xb8, 0xa6, 0xff},
		models.TagNavbar:   {0xef, 0x44, 0x44, 0xff},
		models.TagFooter:   {0x78, 0x71, 0x6c, 0xff},
		models.TagSidebar:  {0xa8, 0x55, 0xf7, 0xff},
	}
)

// TagColor returns the stroke colour for tag.
func TagColor(tag models.Tag) color.RGBA {
	if c, ok := tagColors[tag]; ok {
		return c
	}
	return tagColors[models.TagButton]
}

// Scene is everything one frame depends on.
type Scene struct {
	// Image is drawn at its natural size. Without one a blank Width x Height
	// canvas is used.
	Image         image.Image
	Width, Height int

	Boxes       []models.BoundingBox
	Highlighted string
	Hovered     string
	Dragging    string

	Provisional    *geometry.Rect
	ProvisionalTag models.Tag
}

func Render(s Scene) *image.RGBA {
	bounds := image.Rect(0, 0, s.Width, s.Height)
	if s.Image != nil {
		b := s.Image.Bounds()
		bounds = image.Rect(0, 0, b.Dx(), b.Dy())
	}
	dst := image.NewRGBA(bounds)
	draw.Draw(dst, bounds, image.NewUniform(background), image.Point{}, draw.Src)
	if s.Image != nil {
		draw.Draw(dst, bounds, s.Image, s.Image.Bounds().Min, draw.Over)
	}

	for _, box := range s.Boxes {
		emphasised := box.ID == s.Highlighted || box.ID == s.Hovered || box.ID == s.Dragging
		drawBox(dst, box, emphasised)
	}

	if s.Provisional != nil {
		c := TagColor(s.ProvisionalTag)
		r := toRect(s.Provisional.X, s.Provisional.Y, s.Provisional.Width, s.Provisional.Height)
		fill(dst, r, withAlpha(c, 0x20))
		drawDashedRect(dst, r, 5, 5, lineWidth, c)
	}
	return dst
}

func drawBox(dst *image.RGBA, box models.BoundingBox, emphasised bool) {
	base := TagColor(box.Tag)
	prediction := box.Source == models.SourcePrediction
	r := toRect(box.X, box.Y, box.Width, box.Height)

	thick := lineWidth
	if emphasised {
		thick = emphasisWidth
	}

	switch {
	case prediction:
		fill(dst, r, withAlpha(base, 0x15))
		drawDashedRect(dst, r, dashOn, dashOff, thick, predictionColor)
	case emphasised:
		fill(dst, r, withAlpha(base, 0x40))
		drawRect(dst, r, base, thick)
	default:
		fill(dst, r, withAlpha(base, 0x20))
		drawRect(dst, r, base, thick)
	}

	labelBg := base
	if prediction {
		labelBg = predictionColor
	}
	drawLabel(dst, r, string(box.Tag), labelBg)
	if prediction {
		drawText(dst, r.Max.X-20, labelBaseline(r), "AI", predictionColor)
	}
}

func labelBaseline(r image.Rectangle) int {
	if r.Min.Y-labelHeight-4 < 0 {
		return r.Min.Y + labelHeight - 4
	}
	return r.Min.Y - 8
}

// drawLabel paints the tag name on a filled tab above the box, or just
// inside its top edge when there is no room above.
func drawLabel(dst *image.RGBA, r image.Rectangle, text string, bg color.RGBA) {
	width := font.MeasureString(basicfont.Face7x13, text).Ceil() + 8
	top := r.Min.Y - labelHeight - 4
	if top < 0 {
		top = r.Min.Y
	}
	fill(dst, image.Rect(r.Min.X, top, r.Min.X+width, top+labelHeight), bg)
	drawText(dst, r.Min.X+4, labelBaseline(r), text, color.White)
}

func drawText(dst *image.RGBA, x, y int, text string, c color.Color) {
	d := &font.Drawer{Dst: dst, Src: image.NewUniform(c), Face: basicfont.Face7x13,
		Dot: fixed.P(x, y)}
	d.DrawString(text)
}

func toRect(x, y, w, h float64) image.Rectangle {
	x0, y0 := int(math.Round(x)), int(math.Round(y))
	return image.Rect(x0, y0, x0+int(math.Round(w)), y0+int(math.Round(h)))
}

func withAlpha(c color.RGBA, a uint8) color.NRGBA {
	return color.NRGBA{R: c.R, G: c.G, B: c.B, A: a}
}

func fill(dst *image.RGBA, r image.Rectangle, c color.Color) {
	draw.Draw(dst, r.Intersect(dst.Bounds()), image.NewUniform(c), image.Point{}, draw.Over)
}

func drawRect(img *image.RGBA, r image.Rectangle, col color.Color, thick int) {
	drawDashedRect(img, r, 1, 0, thick, col)
}

// drawDashedRect strokes the inside edge of r. With off == 0 the line is solid.
func drawDashedRect(img *image.RGBA, r image.Rectangle, on, off, thick int, col color.Color) {
	if r.Empty() {
		return
	}
	period := on + off
	visible := func(i int) bool { return i%period < on }

	for i := 0; i < r.Dx(); i++ {
		if !visible(i) {
			continue
		}
		for t := 0; t < thick; t++ {
			img.Set(r.Min.X+i, r.Min.Y+t, col)
			img.Set(r.Max.X-1-i, r.Max.Y-1-t, col)
		}
	}
	for i := 0; i < r.Dy(); i++ {
		if !visible(i) {
			continue
		}
		for t := 0; t < thick; t++ {
			img.Set(r.Max.X-1-t, r.Min.Y+i, col)
			img.Set(r.Min.X+t, r.Max.Y-1-i, col)
		}
	}
}

// EncodePNG writes img as a PNG.
func EncodePNG(w io.Writer, img image.Image) error {
	if err := png.Encode(w, img); err != nil {
		return fmt.Errorf("failed to encode frame: %w", err)
	}
	return nil
}
