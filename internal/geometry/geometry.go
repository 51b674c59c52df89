// Package geometry holds the stateless hit-testing and coordinate helpers used
// by the canvas. All inputs are in canvas (image pixel) coordinates unless a
// function says otherwise.
package geometry

import "ui-annotator/internal/models"

// PointInBox reports whether (px, py) lies inside box, edges included.
func PointInBox(px, py float64, box models.BoundingBox) bool {
	return px >= box.X && px <= box.X+box.Width &&
		py >= box.Y && py <= box.Y+box.Height
}

// TopmostBoxAt returns the last box in paint order containing the point.
func TopmostBoxAt(px, py float64, boxes []models.BoundingBox) (models.BoundingBox, bool) {
	for i := len(boxes) - 1; i >= 0; i-- {
		if PointInBox(px, py, boxes[i]) {
			return boxes[i], true
		}
	}
	return models.BoundingBox{}, false
}

// ClampToCanvas moves a w×h box's top-left so the box stays within
// [0,canvasW]×[0,canvasH]. A box larger than the canvas is pinned at 0.
func ClampToCanvas(x, y, w, h, canvasW, canvasH float64) (float64, float64) {
	return clamp(x, 0, canvasW-w), clamp(y, 0, canvasH-h)
}

func clamp(v, lo, hi float64) float64 {
	if v > hi {
		v = hi
	}
	if v < lo {
		v = lo
	}
	return v
}

// Viewport relates the canvas surface, sized to the image's natural
// resolution, to the size it is displayed at.
type Viewport struct {
	CanvasWidth   float64 `json:"canvasWidth"`
	CanvasHeight  float64 `json:"canvasHeight"`
	DisplayWidth  float64 `json:"displayWidth"`
	DisplayHeight float64 `json:"displayHeight"`
}

// ToCanvas converts display pixels to canvas pixels. A zero display extent is
// treated as an unscaled axis.
func (v Viewport) ToCanvas(x, y float64) (float64, float64) {
	return x * ratio(v.CanvasWidth, v.DisplayWidth), y * ratio(v.CanvasHeight, v.DisplayHeight)
}

func ratio(canvas, display float64) float64 {
	if display <= 0 || canvas <= 0 {
		return 1
	}
	return canvas / display
}

// Rect is an axis-aligned rectangle normalised from two corners.
type Rect struct {
	X, Y, Width, Height float64
}

// RectFromCorners returns the rectangle spanned by two arbitrary corners.
func RectFromCorners(x0, y0, x1, y1 float64) Rect {
	r := Rect{X: x0, Y: y0, Width: x1 - x0, Height: y1 - y0}
	if r.Width < 0 {
		r.X, r.Width = x1, -r.Width
	}
	if r.Height < 0 {
		r.Y, r.Height = y1, -r.Height
	}
	return r
}

// Denormalize maps a coordinate on the 0..NormalizedScale axis onto extent pixels.
func Denormalize(v float64, extent int) float64 {
	return v / models.NormalizedScale * float64(extent)
}
