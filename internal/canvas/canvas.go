// Package canvas turns raw pointer events into box create and reposition
// gestures. A Machine is not safe for concurrent use; its owner serialises
// events the way a UI thread would.
package canvas

import (
	"fmt"
	"math"

	"ui-annotator/internal/geometry"
	"ui-annotator/internal/models"
)

// DefaultMinSize is the smallest width or height a drawn box may have.
const DefaultMinSize = 10.0

type State int

const (
	Idle State = iota
	Drawing
	Dragging
)

func (s State) String() string {
	switch s {
	case Drawing:
		return "drawing"
	case Dragging:
		return "dragging"
	default:
		return "idle"
	}
}

type EventType string

const (
	PointerDown  EventType = "down"
	PointerMove  EventType = "move"
	PointerUp    EventType = "up"
	PointerLeave EventType = "leave"
)

// Event is a pointer event in display pixels. Buttons is non-zero while a
// button is held.
type Event struct {
	Type    EventType `json:"type"`
	X       float64   `json:"x"`
	Y       float64   `json:"y"`
	Buttons int       `json:"buttons"`
}

type NoticeKind string

const (
	NoticeBoxAdded NoticeKind = "box_added"
	NoticeTooSmall NoticeKind = "box_too_small"
	NoticePromoted NoticeKind = "prediction_promoted"
)

type Notice struct {
	Kind    NoticeKind `json:"kind"`
	Message string     `json:"message"`
	BoxID   string     `json:"boxId,omitempty"`
}

type Notifier interface {
	Notify(Notice)
}

// BoxStore is the part of the annotation store the machine mutates.
type BoxStore interface {
	Boxes() []models.BoundingBox
	Box(id string) (models.BoundingBox, bool)
	Add(box models.BoundingBox) string
	Move(id string, x, y float64) bool
}

type drawState struct {
	startX, startY     float64
	currentX, currentY float64
}

type dragState struct {
	boxID            string
	offsetX, offsetY float64
	wasPrediction    bool
}

type Machine struct {
	store    BoxStore
	notifier Notifier

	// MinSize rejects drawn boxes narrower or shorter than this.
	MinSize float64
	// CanReposition enables dragging existing boxes.
	CanReposition bool

	tag     models.Tag
	state   State
	draw    drawState
	drag    dragState
	hovered string
}

func New(store BoxStore, notifier Notifier) *Machine {
	return &Machine{
		store:         store,
		notifier:      notifier,
		MinSize:       DefaultMinSize,
		CanReposition: true,
		tag:           models.TagButton,
	}
}

func (m *Machine) SetTag(tag models.Tag) error {
	if !tag.Valid() {
		return fmt.Errorf("unknown tag %q", tag)
	}
	m.tag = tag
	return nil
}

func (m *Machine) Tag() models.Tag { return m.tag }

func (m *Machine) State() State { return m.state }

// Hovered is the topmost box under an idle pointer, for visual feedback only.
func (m *Machine) Hovered() string { return m.hovered }

// DraggingID returns the id of the box being dragged, or "".
func (m *Machine) DraggingID() string {
	if m.state != Dragging {
		return ""
	}
	return m.drag.boxID
}

// Provisional returns the in-progress rectangle while drawing.
func (m *Machine) Provisional() (geometry.Rect, bool) {
	if m.state != Drawing {
		return geometry.Rect{}, false
	}
	return geometry.RectFromCorners(m.draw.startX, m.draw.startY, m.draw.currentX, m.draw.currentY), true
}

// Handle applies one pointer event. vp maps the event from display to canvas
// pixels and bounds drags.
func (m *Machine) Handle(ev Event, vp geometry.Viewport) {
	x, y := vp.ToCanvas(ev.X, ev.Y)

	switch ev.Type {
	case PointerDown:
		m.pointerDown(x, y)
	case PointerMove:
		m.pointerMove(x, y, ev.Buttons, vp)
	case PointerUp:
		m.release()
	case PointerLeave:
		m.release()
		m.hovered = ""
	}
}

// Cancel drops any open gesture without committing it.
func (m *Machine) Cancel() {
	m.state = Idle
	m.draw = drawState{}
	m.drag = dragState{}
	m.hovered = ""
}

func (m *Machine) pointerDown(x, y float64) {
	if m.state != Idle {
		// A down without the matching up; close the old gesture first.
		m.release()
	}
	if hit, ok := geometry.TopmostBoxAt(x, y, m.store.Boxes()); ok && m.CanReposition {
		m.state = Dragging
		m.drag = dragState{
			boxID:         hit.ID,
			offsetX:       x - hit.X,
			offsetY:       y - hit.Y,
			wasPrediction: hit.Source == models.SourcePrediction,
		}
		return
	}
	m.state = Drawing
	m.draw = drawState{startX: x, startY: y, currentX: x, currentY: y}
}

func (m *Machine) pointerMove(x, y float64, buttons int, vp geometry.Viewport) {
	switch m.state {
	case Drawing:
		m.draw.currentX, m.draw.currentY = x, y
	case Dragging:
		box, ok := m.store.Box(m.drag.boxID)
		if !ok {
			m.state = Idle
			m.drag = dragState{}
			return
		}
		nx, ny := x-m.drag.offsetX, y-m.drag.offsetY
		if vp.CanvasWidth > 0 && vp.CanvasHeight > 0 {
			nx, ny = geometry.ClampToCanvas(nx, ny, box.Width, box.Height, vp.CanvasWidth, vp.CanvasHeight)
		} else {
			nx, ny = math.Max(nx, 0), math.Max(ny, 0)
		}
		m.store.Move(m.drag.boxID, nx, ny)
	default:
		if buttons != 0 {
			return
		}
		if hit, ok := geometry.TopmostBoxAt(x, y, m.store.Boxes()); ok {
			m.hovered = hit.ID
		} else {
			m.hovered = ""
		}
	}
}

func (m *Machine) release() {
	switch m.state {
	case Dragging:
		drag := m.drag
		m.state = Idle
		m.drag = dragState{}
		if drag.wasPrediction {
			m.notify(Notice{Kind: NoticePromoted, Message: "AI prediction converted to user annotation", BoxID: drag.boxID})
		}
	case Drawing:
		d := m.draw
		m.state = Idle
		m.draw = drawState{}

		r := geometry.RectFromCorners(d.startX, d.startY, d.currentX, d.currentY)
		if r.Width < m.MinSize || r.Height < m.MinSize {
			m.notify(Notice{Kind: NoticeTooSmall, Message: "Bounding box too small. Please draw a larger area."})
			return
		}
		id := m.store.Add(models.BoundingBox{
			X:      r.X,
			Y:      r.Y,
			Width:  r.Width,
			Height: r.Height,
			Tag:    m.tag,
			Source: models.SourceUser,
		})
		m.notify(Notice{Kind: NoticeBoxAdded, Message: fmt.Sprintf("%s annotation added!", m.tag), BoxID: id})
	}
}

func (m *Machine) notify(n Notice) {
	if m.notifier != nil {
		m.notifier.Notify(n)
	}
}
