package jobs

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"ui-annotator/internal/backend"
	"ui-annotator/internal/geometry"
	"ui-annotator/internal/images"
	"ui-annotator/internal/models"
)

var (
	ErrNoImage            = errors.New("no image loaded")
	ErrDimensionsUnknown  = errors.New("image dimensions not known yet")
	ErrPredictionInFlight = errors.New("a prediction is already running")
	ErrNothingToSubmit    = errors.New("no files left to submit")
)

// DefaultSubmitConcurrency bounds parallel uploads of one batch.
const DefaultSubmitConcurrency = 8

const eventBuffer = 64

// Backend is the part of the prediction backend the orchestrator calls.
type Backend interface {
	Predict(ctx context.Context, filename string, data []byte, model string) (*models.PredictionResponse, error)
	Upload(ctx context.Context, filename string, data []byte, model string) (*models.JobSubmission, error)
	Status(ctx context.Context, jobID string) (*models.JobStatusResponse, error)
	Result(ctx context.Context, jobID string) (*models.JobResult, error)
}

// Subscriber delivers push events for job ids. Implementations restore
// their subscriptions after a reconnect.
type Subscriber interface {
	Subscribe(jobIDs []string, handler func(models.JobEvent)) error
	Unsubscribe(jobIDs []string) error
}

type ImageSource interface {
	CurrentFile() (images.File, bool)
	MarkCompleted()
}

// AnnotationSink is the annotation store's ingestion API.
type AnnotationSink interface {
	Dimensions(name string) (models.Dimensions, bool)
	SetDimensions(name string, d models.Dimensions)
	IngestForImage(name string, boxes []models.BoundingBox)
}

type Orchestrator struct {
	backend     Backend
	images      ImageSource
	annotations AnnotationSink
	subscriber  Subscriber

	PollInterval      time.Duration
	SubmitConcurrency int
	Guard             images.Guard

	newID func() string

	mu         sync.Mutex
	predicting bool
	current    *batch
}

// New builds an orchestrator. A nil subscriber selects status polling.
func New(b Backend, img ImageSource, ann AnnotationSink, sub Subscriber) *Orchestrator {
	return &Orchestrator{
		backend:           b,
		images:            img,
		annotations:       ann,
		subscriber:        sub,
		PollInterval:      DefaultPollInterval,
		SubmitConcurrency: DefaultSubmitConcurrency,
		Guard:             images.DefaultGuard(),
		newID:             func() string { return uuid.New().String() },
	}
}

// Predict sends the current image to the backend and ingests the returned
// boxes under that image's name. Nothing is ingested on failure.
func (o *Orchestrator) Predict(ctx context.Context, model string) ([]models.BoundingBox, error) {
	file, ok := o.images.CurrentFile()
	if !ok {
		return nil, ErrNoImage
	}
	dims, ok := o.annotations.Dimensions(file.Name)
	if !ok || dims.Width <= 0 || dims.Height <= 0 {
		return nil, ErrDimensionsUnknown
	}

	o.mu.Lock()
	if o.predicting {
		o.mu.Unlock()
		return nil, ErrPredictionInFlight
	}
	o.predicting = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		o.predicting = false
		o.mu.Unlock()
	}()

	resp, err := o.backend.Predict(ctx, file.Name, file.Data, model)
	if err != nil {
		return nil, err
	}

	boxes := make([]models.BoundingBox, 0, len(resp.Annotations))
	for _, a := range resp.Annotations {
		b := o.toBox(a)
		b.X = geometry.Denormalize(a.X, dims.Width)
		b.Y = geometry.Denormalize(a.Y, dims.Height)
		b.Width = geometry.Denormalize(a.Width, dims.Width)
		b.Height = geometry.Denormalize(a.Height, dims.Height)
		boxes = append(boxes, b)
	}
	o.annotations.IngestForImage(file.Name, boxes)
	log.Printf("[JOBS] %d predictions for %s in %.2fs", len(boxes), file.Name, resp.ProcessingTime)
	return boxes, nil
}

// toBox copies everything but geometry; the tag falls back to the label and
// then to button when neither names a known tag.
func (o *Orchestrator) toBox(a models.Annotation) models.BoundingBox {
	return models.BoundingBox{
		ID:     o.newID(),
		Tag:    NormalizeTag(a.Tag, a.Label),
		Source: models.SourcePrediction,
	}
}

func NormalizeTag(tag models.Tag, label string) models.Tag {
	for _, candidate := range []string{string(tag), label} {
		t := models.Tag(strings.ToLower(strings.TrimSpace(candidate)))
		if t.Valid() {
			return t
		}
	}
	return models.TagButton
}

// BatchStatus is a point-in-time view of the running batch.
type BatchStatus struct {
	Entries  []Entry `json:"entries"`
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Skipped  int     `json:"skipped"`
	Finished bool    `json:"finished"`
}

// Progress is done over total, 0 for an empty batch.
func (s BatchStatus) Progress() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Done) / float64(s.Total)
}

type batch struct {
	tracker *Tracker
	skipped int

	ctx    context.Context
	cancel context.CancelFunc
	poller *Poller

	mu         sync.Mutex
	closed     bool
	subscribed []string
	wg         sync.WaitGroup
}

// spawn runs fn unless the batch is closed. Close waits for every spawned fn.
func (b *batch) spawn(fn func()) {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	b.wg.Add(1)
	b.mu.Unlock()
	go func() {
		defer b.wg.Done()
		fn()
	}()
}

// SubmitBatch filters files through the guard, uploads the rest in parallel
// and then observes every job until all are terminal. onComplete runs exactly
// once; when no upload succeeded it runs before SubmitBatch returns. Starting a
// batch closes the previous one.
func (o *Orchestrator) SubmitBatch(ctx context.Context, files []images.File, model string, onComplete func(Outcome)) (BatchStatus, error) {
	accepted, skipped := o.Guard.Filter(files)
	if len(accepted) == 0 {
		return BatchStatus{Skipped: skipped}, ErrNothingToSubmit
	}

	o.Close()

	b := &batch{skipped: skipped}
	b.ctx, b.cancel = context.WithCancel(context.Background())
	b.tracker = NewTracker(func(out Outcome) {
		log.Printf("[JOBS] batch finished: %d succeeded, %d failed", len(out.Succeeded), len(out.Failed))
		b.spawn(func() { o.stopTransport(b) })
		if onComplete != nil {
			onComplete(out)
		}
	})

	o.mu.Lock()
	o.current = b
	o.mu.Unlock()

	type submission struct {
		jobID string
		err   error
	}
	results := make([]submission, len(accepted))

	var g errgroup.Group
	g.SetLimit(max(o.SubmitConcurrency, 1))
	for i, f := range accepted {
		g.Go(func() error {
			sub, err := o.backend.Upload(ctx, f.Name, f.Data, model)
			if err != nil {
				log.Printf("[JOBS] upload of %s failed: %v", f.Name, err)
				results[i].err = err
				return nil
			}
			results[i].jobID = sub.TaskID
			return nil
		})
	}
	_ = g.Wait()

	var ids []string
	for i, r := range results {
		if r.err != nil {
			b.tracker.FailSubmission(accepted[i].Name, r.err)
			continue
		}
		b.tracker.Track(r.jobID, accepted[i].Name)
		ids = append(ids, r.jobID)
	}
	log.Printf("[JOBS] submitted %d jobs, %d upload failures, %d skipped", len(ids), len(accepted)-len(ids), skipped)

	if len(ids) > 0 {
		o.startTransport(b, ids)
	}
	b.tracker.Seal()
	return o.status(b), nil
}

func (o *Orchestrator) startTransport(b *batch, ids []string) {
	if o.subscriber != nil {
		events := make(chan models.JobEvent, eventBuffer)
		err := o.subscriber.Subscribe(ids, func(ev models.JobEvent) {
			select {
			case events <- ev:
			case <-b.ctx.Done():
			}
		})
		if err == nil {
			b.mu.Lock()
			b.subscribed = ids
			b.mu.Unlock()
			b.spawn(func() { o.drainEvents(b, events) })
			// Catch up on transitions published before the subscription.
			b.spawn(func() { o.checkPending(b.ctx, b) })
			return
		}
		log.Printf("[JOBS] push subscription failed, falling back to polling: %v", err)
	}

	p := NewPoller(o.PollInterval, func(ctx context.Context) bool {
		return o.checkPending(ctx, b)
	})
	b.mu.Lock()
	b.poller = p
	b.mu.Unlock()
	p.Start(b.ctx)
}

func (o *Orchestrator) stopTransport(b *batch) {
	b.mu.Lock()
	ids := b.subscribed
	b.subscribed = nil
	b.mu.Unlock()

	if len(ids) > 0 && o.subscriber != nil {
		if err := o.subscriber.Unsubscribe(ids); err != nil {
			log.Printf("[JOBS] unsubscribe failed: %v", err)
		}
	}
}

// drainEvents applies push events one at a time, in the order the
// subscriber delivered them, until the batch is closed.
func (o *Orchestrator) drainEvents(b *batch, events <-chan models.JobEvent) {
	for {
		select {
		case ev := <-events:
			o.handleEvent(b, ev)
		case <-b.ctx.Done():
			return
		}
	}
}

func (o *Orchestrator) handleEvent(b *batch, ev models.JobEvent) {
	progress, _ := ev.Data["progress"].(string)
	errMsg, _ := ev.Data["error"].(string)
	if b.tracker.Observe(ev.JobID, ev.Status, progress, errMsg) == ActionFetch {
		o.fetch(b.ctx, b, ev.JobID)
	}
}

// checkPending polls the status of every job not yet terminal. It reports
// whether the batch is finished.
func (o *Orchestrator) checkPending(ctx context.Context, b *batch) bool {
	for _, id := range b.tracker.Pending() {
		if ctx.Err() != nil {
			return true
		}
		st, err := o.backend.Status(ctx, id)
		if err != nil {
			if permanent(err) {
				b.tracker.Resolve(id, nil, 0, fmt.Errorf("status check failed: %w", err))
			} else {
				log.Printf("[JOBS] status check for %s failed, retrying: %v", id, err)
			}
			continue
		}
		if b.tracker.Observe(id, st.Status, st.Progress, st.Error) == ActionFetch {
			o.fetch(ctx, b, id)
		}
	}
	return b.tracker.Done()
}

func permanent(err error) bool {
	var apiErr *backend.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
		return true
	}
	return errors.Is(err, backend.ErrMalformedResponse)
}

// fetch pulls a completed job's result and ingests it under its file name.
func (o *Orchestrator) fetch(ctx context.Context, b *batch, jobID string) {
	name, _ := b.tracker.FileName(jobID)
	res, err := o.backend.Result(ctx, jobID)
	if err != nil {
		log.Printf("[JOBS] result for %s failed: %v", jobID, err)
		b.tracker.Resolve(jobID, nil, 0, fmt.Errorf("failed to fetch result: %w", err))
		return
	}

	boxes := make([]models.BoundingBox, 0, len(res.Analysis.Annotations))
	for _, a := range res.Analysis.Annotations {
		if a.Width <= 0 || a.Height <= 0 {
			continue
		}
		bx := o.toBox(a)
		bx.X, bx.Y, bx.Width, bx.Height = max(a.X, 0), max(a.Y, 0), a.Width, a.Height
		boxes = append(boxes, bx)
	}
	if d := res.Analysis.ImageDimensions; d != nil {
		if _, known := o.annotations.Dimensions(name); !known {
			o.annotations.SetDimensions(name, *d)
		}
	}
	o.annotations.IngestForImage(name, boxes)
	o.images.MarkCompleted()
	b.tracker.Resolve(jobID, res, len(boxes), nil)
}

func (o *Orchestrator) status(b *batch) BatchStatus {
	done, total := b.tracker.Progress()
	return BatchStatus{
		Entries:  b.tracker.Entries(),
		Done:     done,
		Total:    total,
		Skipped:  b.skipped,
		Finished: b.tracker.Done(),
	}
}

// Batch reports the running or most recent batch.
func (o *Orchestrator) Batch() (BatchStatus, bool) {
	o.mu.Lock()
	b := o.current
	o.mu.Unlock()
	if b == nil {
		return BatchStatus{}, false
	}
	return o.status(b), true
}

// Close stops the current batch's poller or subscription and waits for its
// goroutines. Jobs still outstanding are abandoned.
func (o *Orchestrator) Close() {
	o.mu.Lock()
	b := o.current
	o.mu.Unlock()
	if b == nil {
		return
	}

	b.mu.Lock()
	b.closed = true
	p := b.poller
	b.mu.Unlock()

	b.cancel()
	if p != nil {
		p.Stop()
	}
	b.wg.Wait()
	o.stopTransport(b)
}

// Reset closes the current batch and forgets it.
func (o *Orchestrator) Reset() {
	o.Close()
	o.mu.Lock()
	o.current = nil
	o.mu.Unlock()
}
