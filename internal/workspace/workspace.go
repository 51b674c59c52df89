// Package workspace is the annotation session: it ties the image and
// annotation stores, the canvas machine, the job orchestrator and the
// renderer together and applies every user operation in order.
package workspace

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log"
	"sort"
	"sync"
	"time"

	"ui-annotator/internal/annotation"
	"ui-annotator/internal/backend"
	"ui-annotator/internal/canvas"
	"ui-annotator/internal/export"
	"ui-annotator/internal/geometry"
	"ui-annotator/internal/images"
	"ui-annotator/internal/jobs"
	"ui-annotator/internal/models"
	"ui-annotator/internal/render"
	"ui-annotator/pkg/imaging"
)

var (
	ErrBoxNotFound = errors.New("bounding box not found")
	ErrInvalidEdit = errors.New("edit would leave the box without a positive extent")
	ErrNoImages    = errors.New("no images loaded")
)

type Workspace struct {
	mu sync.Mutex

	images  *images.Store
	boxes   *annotation.Store
	machine *canvas.Machine
	jobs    *jobs.Orchestrator
	notices *Notices

	// Guard filters files given to LoadImages.
	Guard images.Guard

	// DefaultModel is used when a prediction names no model.
	DefaultModel string

	current image.Image
	now     func() time.Time
}

func New(imgs *images.Store, boxes *annotation.Store, orch *jobs.Orchestrator, notices *Notices) *Workspace {
	return &Workspace{
		images:  imgs,
		boxes:   boxes,
		machine: canvas.New(boxes, notices),
		jobs:    orch,
		notices: notices,
		Guard:   images.DefaultGuard(),
		now:     time.Now,
	}
}

// LoadImages replaces the session with files. Annotations and any running
// batch of the previous set are discarded. It returns how many files the
// guard rejected.
func (w *Workspace) LoadImages(ctx context.Context, files []images.File) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	accepted, skipped := w.Guard.Filter(files)
	if skipped > 0 {
		w.notices.Notify(canvas.Notice{Kind: NoticeFilesSkipped, Message: fmt.Sprintf("%d files skipped", skipped)})
	}
	if len(accepted) == 0 {
		return skipped, ErrNoImages
	}

	w.jobs.Reset()
	w.machine.Cancel()
	w.boxes.Reset()
	if err := w.images.Load(ctx, accepted); err != nil {
		return skipped, err
	}
	for _, f := range accepted {
		w.readDimensions(f)
	}
	w.boxes.SwitchImage("", accepted[0].Name)
	w.decodeCurrent()
	log.Printf("[WORKSPACE] loaded %d images", len(accepted))
	return skipped, nil
}

// Navigate snapshots the current image's boxes and restores those of the
// image at index.
func (w *Workspace) Navigate(ctx context.Context, index int) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	from, _ := w.images.CurrentFile()
	if err := w.images.Navigate(ctx, index); err != nil {
		return err
	}
	to, _ := w.images.CurrentFile()

	w.machine.Cancel()
	w.boxes.SwitchImage(from.Name, to.Name)
	if _, ok := w.boxes.Dimensions(to.Name); !ok {
		w.readDimensions(to)
	}
	w.decodeCurrent()
	return nil
}

func (w *Workspace) readDimensions(f images.File) {
	width, height, err := imaging.DecodeDimensions(f.Data)
	if err != nil {
		log.Printf("[WORKSPACE] %s: %v", f.Name, err)
		return
	}
	w.boxes.SetDimensions(f.Name, models.Dimensions{Width: width, Height: height})
}

func (w *Workspace) decodeCurrent() {
	w.current = nil
	f, ok := w.images.CurrentFile()
	if !ok {
		return
	}
	img, err := imaging.Decode(f.Data)
	if err != nil {
		log.Printf("[WORKSPACE] %s: %v", f.Name, err)
		return
	}
	w.current = img
}

// Pointer feeds one pointer event through the canvas machine. display is the
// size the client shows the canvas at; zero means unscaled.
func (w *Workspace) Pointer(ev canvas.Event, displayWidth, displayHeight float64) State {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.machine.Handle(ev, w.viewport(displayWidth, displayHeight))
	return w.stateLocked()
}

func (w *Workspace) viewport(displayWidth, displayHeight float64) geometry.Viewport {
	vp := geometry.Viewport{DisplayWidth: displayWidth, DisplayHeight: displayHeight}
	if f, ok := w.images.CurrentFile(); ok {
		if d, ok := w.boxes.Dimensions(f.Name); ok {
			vp.CanvasWidth, vp.CanvasHeight = float64(d.Width), float64(d.Height)
		}
	}
	return vp
}

func (w *Workspace) SetTag(tag models.Tag) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.machine.SetTag(tag)
}

func (w *Workspace) UpdateBox(id string, p annotation.Patch) (models.BoundingBox, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if p.Tag != nil && !p.Tag.Valid() {
		return models.BoundingBox{}, fmt.Errorf("unknown tag %q", *p.Tag)
	}
	if _, ok := w.boxes.Box(id); !ok {
		return models.BoundingBox{}, ErrBoxNotFound
	}
	if !w.boxes.Update(id, p) {
		return models.BoundingBox{}, ErrInvalidEdit
	}
	b, _ := w.boxes.Box(id)
	return b, nil
}

func (w *Workspace) RemoveBox(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.machine.DraggingID() == id {
		w.machine.Cancel()
	}
	if !w.boxes.Remove(id) {
		return ErrBoxNotFound
	}
	return nil
}

// Highlight marks a box; an empty id clears the highlight.
func (w *Workspace) Highlight(id string) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if id != "" {
		if _, ok := w.boxes.Box(id); !ok {
			return ErrBoxNotFound
		}
	}
	w.boxes.SetHighlighted(id)
	return nil
}

// Predict requests predictions for the current image. The session lock is
// not held while the backend works, so the canvas stays usable.
func (w *Workspace) Predict(ctx context.Context, model string) ([]models.BoundingBox, error) {
	if model == "" {
		model = w.DefaultModel
	}
	boxes, err := w.jobs.Predict(ctx, model)
	switch {
	case errors.Is(err, backend.ErrTimeout):
		w.notices.Notify(canvas.Notice{Kind: NoticePredictionTimeout, Message: "Prediction timed out"})
		return nil, err
	case err != nil:
		w.notices.Notify(canvas.Notice{Kind: NoticePredictionFailed, Message: fmt.Sprintf("Prediction failed: %v", err)})
		return nil, err
	}
	w.notices.Notify(canvas.Notice{Kind: NoticePredictionAdded, Message: fmt.Sprintf("Added %d AI predictions", len(boxes))})
	return boxes, nil
}

// SubmitBatch sends files, or every loaded image when files is empty, as
// asynchronous jobs.
func (w *Workspace) SubmitBatch(ctx context.Context, files []images.File, model string) (jobs.BatchStatus, error) {
	if len(files) == 0 {
		files = w.images.Files()
	}
	if len(files) == 0 {
		return jobs.BatchStatus{}, ErrNoImages
	}
	if model == "" {
		model = w.DefaultModel
	}
	for _, f := range files {
		if _, ok := w.boxes.Dimensions(f.Name); !ok {
			w.readDimensions(f)
		}
	}

	st, err := w.jobs.SubmitBatch(ctx, files, model, func(out jobs.Outcome) {
		w.notices.Notify(canvas.Notice{
			Kind:    NoticeBatchCompleted,
			Message: fmt.Sprintf("Batch finished: %d succeeded, %d failed", len(out.Succeeded), len(out.Failed)),
		})
	})
	if st.Skipped > 0 {
		w.notices.Notify(canvas.Notice{Kind: NoticeFilesSkipped, Message: fmt.Sprintf("%d files skipped", st.Skipped)})
	}
	return st, err
}

func (w *Workspace) BatchStatus() (jobs.BatchStatus, bool) {
	return w.jobs.Batch()
}

// Frame renders the current canvas as a PNG.
func (w *Workspace) Frame(out io.Writer) error {
	w.mu.Lock()
	scene := render.Scene{
		Image:          w.current,
		Boxes:          w.boxes.Boxes(),
		Highlighted:    w.boxes.Highlighted(),
		Hovered:        w.machine.Hovered(),
		Dragging:       w.machine.DraggingID(),
		ProvisionalTag: w.machine.Tag(),
	}
	if r, ok := w.machine.Provisional(); ok {
		scene.Provisional = &r
	}
	if w.current == nil {
		vp := w.viewport(0, 0)
		scene.Width, scene.Height = int(vp.CanvasWidth), int(vp.CanvasHeight)
	}
	w.mu.Unlock()

	if scene.Image == nil && (scene.Width <= 0 || scene.Height <= 0) {
		return ErrNoImages
	}
	return render.EncodePNG(out, render.Render(scene))
}

// ExportCurrent builds the export document of the current image.
func (w *Workspace) ExportCurrent() (export.Document, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	f, ok := w.images.CurrentFile()
	if !ok {
		return export.Document{}, ErrNoImages
	}
	return w.documentLocked(f.Name), nil
}

// ExportAll builds one document per image that is loaded or has boxes.
func (w *Workspace) ExportAll() []export.Document {
	w.mu.Lock()
	defer w.mu.Unlock()

	seen := make(map[string]bool)
	var names []string
	for _, f := range w.images.Files() {
		if !seen[f.Name] {
			seen[f.Name] = true
			names = append(names, f.Name)
		}
	}
	var extra []string
	for name := range w.boxes.Counts() {
		if !seen[name] {
			seen[name] = true
			extra = append(extra, name)
		}
	}
	sort.Strings(extra)
	names = append(names, extra...)

	docs := make([]export.Document, 0, len(names))
	for _, name := range names {
		docs = append(docs, w.documentLocked(name))
	}
	return docs
}

func (w *Workspace) documentLocked(name string) export.Document {
	var dims *models.Dimensions
	if d, ok := w.boxes.Dimensions(name); ok {
		dims = &d
	}
	return export.Build(name, dims, w.boxes.BoxesFor(name), w.now())
}

// Notifications drains pending user-facing notices.
func (w *Workspace) Notifications() []Notice {
	return w.notices.Drain()
}

// Reset stops any batch and clears images, boxes and archive.
func (w *Workspace) Reset(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.jobs.Reset()
	w.machine.Cancel()
	w.boxes.Reset()
	w.current = nil
	return w.images.Reset(ctx)
}

// Close releases the orchestrator's poller or subscription.
func (w *Workspace) Close() {
	w.jobs.Close()
}

// ImageSummary is one row of the navigation list.
type ImageSummary struct {
	Index       int    `json:"index"`
	Name        string `json:"name"`
	Annotations int    `json:"annotations"`
	Annotated   bool   `json:"annotated"`
}

type State struct {
	Images      []ImageSummary       `json:"images"`
	Index       int                  `json:"index"`
	ImageURL    string               `json:"imageUrl,omitempty"`
	Dimensions  *models.Dimensions   `json:"dimensions,omitempty"`
	Completed   int                  `json:"completed"`
	Tag         models.Tag           `json:"tag"`
	Gesture     string               `json:"gesture"`
	Hovered     string               `json:"hovered,omitempty"`
	Highlighted string               `json:"highlighted,omitempty"`
	Boxes       []models.BoundingBox `json:"boxes"`
}

func (w *Workspace) State() State {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stateLocked()
}

func (w *Workspace) stateLocked() State {
	counts := w.boxes.Counts()
	files := w.images.Files()
	summaries := make([]ImageSummary, len(files))
	for i, f := range files {
		summaries[i] = ImageSummary{Index: i, Name: f.Name, Annotations: counts[f.Name], Annotated: counts[f.Name] > 0}
	}

	st := State{
		Images:      summaries,
		Index:       w.images.Index(),
		ImageURL:    w.images.CurrentURL(),
		Completed:   w.images.Completed(),
		Tag:         w.machine.Tag(),
		Gesture:     w.machine.State().String(),
		Hovered:     w.machine.Hovered(),
		Highlighted: w.boxes.Highlighted(),
		Boxes:       w.boxes.Boxes(),
	}
	if f, ok := w.images.CurrentFile(); ok {
		if d, ok := w.boxes.Dimensions(f.Name); ok {
			st.Dimensions = &d
		}
	}
	return st
}
