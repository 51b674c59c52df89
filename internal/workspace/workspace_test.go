package workspace

import (
	"bytes"
	"context"
	"image"
	"image/color"
	"image/png"
	"sync/atomic"
	"testing"
	"time"

	"ui-annotator/internal/annotation"
	"ui-annotator/internal/backend"
	"ui-annotator/internal/canvas"
	"ui-annotator/internal/images"
	"ui-annotator/internal/jobs"
	"ui-annotator/internal/models"
)

type stubBackend struct {
	predict *models.PredictionResponse
	err     error
}

func (s *stubBackend) Predict(ctx context.Context, filename string, data []byte, model string) (*models.PredictionResponse, error) {
	return s.predict, s.err
}

func (s *stubBackend) Upload(ctx context.Context, filename string, data []byte, model string) (*models.JobSubmission, error) {
	return nil, backend.ErrTimeout
}

func (s *stubBackend) Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	return nil, backend.ErrTimeout
}

func (s *stubBackend) Result(ctx context.Context, jobID string) (*models.JobResult, error) {
	return nil, backend.ErrTimeout
}

// batchBackend accepts every upload as job-1 and reports it completed once
// ready is set.
type batchBackend struct {
	stubBackend
	ready atomic.Bool
}

func (b *batchBackend) Upload(ctx context.Context, filename string, data []byte, model string) (*models.JobSubmission, error) {
	return &models.JobSubmission{TaskID: "job-1", Status: models.JobPending}, nil
}

func (b *batchBackend) Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error) {
	if b.ready.Load() {
		return &models.JobStatusResponse{TaskID: jobID, Status: models.JobCompleted}, nil
	}
	return &models.JobStatusResponse{TaskID: jobID, Status: models.JobProcessing}, nil
}

func (b *batchBackend) Result(ctx context.Context, jobID string) (*models.JobResult, error) {
	return &models.JobResult{TaskID: jobID, Analysis: models.JobAnalysis{
		Annotations: []models.Annotation{{X: 1, Y: 1, Width: 10, Height: 10, Tag: models.TagButton}},
	}}, nil
}

func pngFile(t *testing.T, name string, w, h int) images.File {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, color.RGBA{R: 200, G: 200, B: 200, A: 255})
		}
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return images.File{Name: name, Data: buf.Bytes(), ContentType: "image/png"}
}

func newWorkspace(b *stubBackend) (*Workspace, *images.BlobRegistry) {
	blobs := images.NewBlobRegistry("/api/blobs")
	imgs := images.NewStore(blobs)
	boxes := annotation.NewStore()
	orch := jobs.New(b, imgs, boxes, nil)
	return New(imgs, boxes, orch, NewNotices()), blobs
}

func draw(w *Workspace, x0, y0, x1, y1 float64) State {
	w.Pointer(canvas.Event{Type: canvas.PointerDown, X: x0, Y: y0, Buttons: 1}, 0, 0)
	w.Pointer(canvas.Event{Type: canvas.PointerMove, X: x1, Y: y1, Buttons: 1}, 0, 0)
	return w.Pointer(canvas.Event{Type: canvas.PointerUp, X: x1, Y: y1}, 0, 0)
}

func TestLoadImagesReadsDimensions(t *testing.T) {
	ws, _ := newWorkspace(&stubBackend{})
	ctx := context.Background()

	files := []images.File{pngFile(t, "a.png", 40, 30), pngFile(t, "b.png", 20, 10)}
	skipped, err := ws.LoadImages(ctx, files)
	if err != nil {
		t.Fatal(err)
	}
	if skipped != 0 {
		t.Errorf("Expected nothing skipped, got %d", skipped)
	}

	st := ws.State()
	if len(st.Images) != 2 || st.Index != 0 {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.Dimensions == nil || st.Dimensions.Width != 40 || st.Dimensions.Height != 30 {
		t.Errorf("Expected 40x30, got %+v", st.Dimensions)
	}
	if st.ImageURL == "" {
		t.Error("Expected a display URL for the current image")
	}
}

func TestLoadImagesRejectsNonImages(t *testing.T) {
	ws, _ := newWorkspace(&stubBackend{})
	files := []images.File{{Name: "notes.txt", Data: []byte("hello"), ContentType: "text/plain"}}

	skipped, err := ws.LoadImages(context.Background(), files)
	if err != ErrNoImages {
		t.Errorf("Expected ErrNoImages, got %v", err)
	}
	if skipped != 1 {
		t.Errorf("Expected 1 skipped, got %d", skipped)
	}
	notices := ws.Notifications()
	if len(notices) != 1 || notices[0].Kind != NoticeFilesSkipped {
		t.Errorf("Expected a skipped notice, got %+v", notices)
	}
}

func TestBoxesFollowTheirImage(t *testing.T) {
	ws, blobs := newWorkspace(&stubBackend{})
	ctx := context.Background()
	if _, err := ws.LoadImages(ctx, []images.File{pngFile(t, "a.png", 100, 100), pngFile(t, "b.png", 100, 100)}); err != nil {
		t.Fatal(err)
	}

	st := draw(ws, 10, 10, 40, 40)
	if len(st.Boxes) != 1 {
		t.Fatalf("Expected 1 box on a.png, got %d", len(st.Boxes))
	}

	if err := ws.Navigate(ctx, 1); err != nil {
		t.Fatal(err)
	}
	if n := len(ws.State().Boxes); n != 0 {
		t.Errorf("Expected no boxes on b.png, got %d", n)
	}
	if blobs.Outstanding() != 1 {
		t.Errorf("Expected 1 live URL, got %d", blobs.Outstanding())
	}

	if err := ws.Navigate(ctx, 0); err != nil {
		t.Fatal(err)
	}
	st = ws.State()
	if len(st.Boxes) != 1 || st.Boxes[0].Width != 30 {
		t.Errorf("Expected the a.png box back, got %+v", st.Boxes)
	}
	if !st.Images[0].Annotated || st.Images[1].Annotated {
		t.Errorf("unexpected annotated flags %+v", st.Images)
	}

	if err := ws.Navigate(ctx, 5); err != images.ErrIndexOutOfRange {
		t.Errorf("Expected ErrIndexOutOfRange, got %v", err)
	}
}

func TestBoxEdits(t *testing.T) {
	ws, _ := newWorkspace(&stubBackend{})
	if _, err := ws.LoadImages(context.Background(), []images.File{pngFile(t, "a.png", 100, 100)}); err != nil {
		t.Fatal(err)
	}
	if err := ws.SetTag(models.TagInput); err != nil {
		t.Fatal(err)
	}
	id := draw(ws, 10, 10, 50, 30).Boxes[0].ID

	tag := models.TagLink
	b, err := ws.UpdateBox(id, annotation.Patch{Tag: &tag})
	if err != nil {
		t.Fatal(err)
	}
	if b.Tag != models.TagLink {
		t.Errorf("Expected link, got %s", b.Tag)
	}

	bad := models.Tag("spaceship")
	if _, err := ws.UpdateBox(id, annotation.Patch{Tag: &bad}); err == nil {
		t.Error("Expected an error for an unknown tag")
	}
	if _, err := ws.UpdateBox("missing", annotation.Patch{Tag: &tag}); err != ErrBoxNotFound {
		t.Errorf("Expected ErrBoxNotFound, got %v", err)
	}

	if err := ws.Highlight(id); err != nil {
		t.Fatal(err)
	}
	if ws.State().Highlighted != id {
		t.Error("Expected the box to be highlighted")
	}
	if err := ws.RemoveBox(id); err != nil {
		t.Fatal(err)
	}
	if err := ws.RemoveBox(id); err != ErrBoxNotFound {
		t.Errorf("Expected ErrBoxNotFound, got %v", err)
	}
}

func TestPredictAddsNotice(t *testing.T) {
	b := &stubBackend{predict: &models.PredictionResponse{Annotations: []models.Annotation{
		{X: 100, Y: 100, Width: 500, Height: 500, Tag: models.TagCard},
		{X: 0, Y: 0, Width: 100, Height: 100, Label: "mystery"},
	}}}
	ws, _ := newWorkspace(b)
	if _, err := ws.LoadImages(context.Background(), []images.File{pngFile(t, "a.png", 200, 100)}); err != nil {
		t.Fatal(err)
	}

	boxes, err := ws.Predict(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(boxes) != 2 {
		t.Fatalf("Expected 2 predictions, got %d", len(boxes))
	}
	if boxes[0].X != 20 || boxes[0].Width != 100 || boxes[0].Height != 50 {
		t.Errorf("unexpected denormalized box %+v", boxes[0])
	}
	if boxes[1].Tag != models.TagButton {
		t.Errorf("Expected button fallback, got %s", boxes[1].Tag)
	}

	notices := ws.Notifications()
	if len(notices) != 1 || notices[0].Kind != NoticePredictionAdded {
		t.Errorf("Expected a prediction notice, got %+v", notices)
	}
}

func TestPredictTimeoutNotice(t *testing.T) {
	ws, _ := newWorkspace(&stubBackend{err: backend.ErrTimeout})
	if _, err := ws.LoadImages(context.Background(), []images.File{pngFile(t, "a.png", 20, 20)}); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.Predict(context.Background(), "m"); err == nil {
		t.Fatal("Expected an error")
	}
	notices := ws.Notifications()
	if len(notices) != 1 || notices[0].Kind != NoticePredictionTimeout {
		t.Errorf("Expected a timeout notice, got %+v", notices)
	}
	if n := len(ws.State().Boxes); n != 0 {
		t.Errorf("Expected no boxes, got %d", n)
	}
}

func TestExportAndFrame(t *testing.T) {
	ws, _ := newWorkspace(&stubBackend{})
	ctx := context.Background()
	if _, err := ws.LoadImages(ctx, []images.File{pngFile(t, "a.png", 60, 60), pngFile(t, "b.png", 60, 60)}); err != nil {
		t.Fatal(err)
	}
	draw(ws, 5, 5, 30, 30)

	doc, err := ws.ExportCurrent()
	if err != nil {
		t.Fatal(err)
	}
	if doc.ImageName != "a.png" || doc.Metadata.TotalAnnotations != 1 {
		t.Errorf("unexpected document %+v", doc)
	}
	if doc.ImageDimensions == nil || doc.ImageDimensions.Width != 60 {
		t.Errorf("Expected dimensions in export, got %+v", doc.ImageDimensions)
	}

	docs := ws.ExportAll()
	if len(docs) != 2 || docs[1].ImageName != "b.png" || len(docs[1].Annotations) != 0 {
		t.Errorf("unexpected export set %+v", docs)
	}

	var buf bytes.Buffer
	if err := ws.Frame(&buf); err != nil {
		t.Fatal(err)
	}
	img, err := png.Decode(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if img.Bounds().Dx() != 60 || img.Bounds().Dy() != 60 {
		t.Errorf("Expected a 60x60 frame, got %v", img.Bounds())
	}
}

func TestResetClearsSession(t *testing.T) {
	ws, blobs := newWorkspace(&stubBackend{})
	ctx := context.Background()
	if _, err := ws.LoadImages(ctx, []images.File{pngFile(t, "a.png", 50, 50)}); err != nil {
		t.Fatal(err)
	}
	draw(ws, 1, 1, 40, 40)

	if err := ws.Reset(ctx); err != nil {
		t.Fatal(err)
	}
	st := ws.State()
	if len(st.Images) != 0 || len(st.Boxes) != 0 {
		t.Errorf("Expected an empty session, got %+v", st)
	}
	if blobs.Outstanding() != 0 {
		t.Errorf("Expected no live URLs, got %d", blobs.Outstanding())
	}
	if err := ws.Frame(&bytes.Buffer{}); err != ErrNoImages {
		t.Errorf("Expected ErrNoImages, got %v", err)
	}
}

func TestLoadImagesDropsRunningBatch(t *testing.T) {
	b := &batchBackend{}
	blobs := images.NewBlobRegistry("/api/blobs")
	imgs := images.NewStore(blobs)
	boxes := annotation.NewStore()
	orch := jobs.New(b, imgs, boxes, nil)
	orch.PollInterval = 2 * time.Millisecond
	ws := New(imgs, boxes, orch, NewNotices())
	defer ws.Close()

	ctx := context.Background()
	if _, err := ws.LoadImages(ctx, []images.File{pngFile(t, "old.png", 20, 20)}); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.SubmitBatch(ctx, nil, "m"); err != nil {
		t.Fatal(err)
	}
	if _, err := ws.LoadImages(ctx, []images.File{pngFile(t, "new.png", 20, 20)}); err != nil {
		t.Fatal(err)
	}
	if _, ok := ws.BatchStatus(); ok {
		t.Error("Expected the previous batch to be dropped")
	}

	b.ready.Store(true)
	time.Sleep(30 * time.Millisecond)

	docs := ws.ExportAll()
	if len(docs) != 1 || docs[0].ImageName != "new.png" {
		var names []string
		for _, d := range docs {
			names = append(names, d.ImageName)
		}
		t.Errorf("Expected only new.png, got %v", names)
	}
}
