// Package worker runs queued detection jobs for the job server and removes
// expired ones.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"ui-annotator/internal/detector"
	"ui-annotator/internal/models"
)

var (
	ErrQueueFull = errors.New("job queue is full")
	ErrStopped   = errors.New("worker pool stopped")
)

type JobStore interface {
	Get(ctx context.Context, id string) (*models.Job, error)
	MarkProcessing(ctx context.Context, id string, at time.Time) error
	MarkCompleted(ctx context.Context, id string, resultJSON string, processingTime float64, at time.Time) error
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error
}

type ObjectReader interface {
	GetBytes(ctx context.Context, objectName string) ([]byte, string, error)
}

type Detector interface {
	Detect(ctx context.Context, model string, data []byte) (*detector.Detection, error)
}

// Publisher announces job transitions. Failures are logged, never fatal.
type Publisher interface {
	PublishJobEvent(ev models.JobEvent) error
}

// Pool processes job ids from a bounded queue with a fixed number of
// goroutines.
type Pool struct {
	jobs      JobStore
	objects   ObjectReader
	detector  Detector
	publisher Publisher

	// ModelCode maps a catalogue id to the name the detector knows.
	ModelCode func(id string) string

	workers int
	queue   chan string
	now     func() time.Time

	mu      sync.Mutex
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPool(jobs JobStore, objects ObjectReader, det Detector, pub Publisher, workers, queueSize int) *Pool {
	return &Pool{
		jobs:      jobs,
		objects:   objects,
		detector:  det,
		publisher: pub,
		ModelCode: func(id string) string { return id },
		workers:   workers,
		queue:     make(chan string, queueSize),
		now:       time.Now,
	}
}

func (p *Pool) Start(ctx context.Context) {
	ctx, p.cancel = context.WithCancel(ctx)
	log.Printf("[WORKER] starting %d workers", p.workers)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-p.queue:
					p.process(ctx, id)
				}
			}
		}()
	}
}

// Stop cancels in-flight detections and waits for the workers. Queued ids
// stay pending in the database.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	if p.cancel != nil {
		p.cancel()
	}
	p.wg.Wait()
	log.Println("[WORKER] stopped")
}

// Enqueue never blocks; a full queue is reported to the caller.
func (p *Pool) Enqueue(id string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrStopped
	}
	select {
	case p.queue <- id:
		return nil
	default:
		return ErrQueueFull
	}
}

// QueueLength is the number of jobs waiting for a worker.
func (p *Pool) QueueLength() int {
	return len(p.queue)
}

func (p *Pool) process(ctx context.Context, id string) {
	start := p.now()

	job, err := p.jobs.Get(ctx, id)
	if err != nil {
		log.Printf("[WORKER] job %s: %v", id, err)
		return
	}
	if job.Status.Terminal() {
		return
	}

	if err := p.jobs.MarkProcessing(ctx, id, start); err != nil {
		log.Printf("[WORKER] job %s: %v", id, err)
		return
	}
	p.publish(models.JobEvent{JobID: id, Status: models.JobProcessing, Data: map[string]any{
		"progress":   "AI analyzing image...",
		"started_at": start.UTC(),
	}})

	result, err := p.run(ctx, job, start)
	if err != nil {
		p.fail(id, err)
		return
	}

	payload, err := json.Marshal(result)
	if err != nil {
		p.fail(id, fmt.Errorf("failed to encode result: %w", err))
		return
	}
	if err := p.jobs.MarkCompleted(context.WithoutCancel(ctx), id, string(payload), result.ProcessingTime, result.CompletedAt); err != nil {
		log.Printf("[WORKER] job %s: %v", id, err)
		return
	}
	log.Printf("[WORKER] job %s completed with %d elements in %.2fs", id, result.Analysis.TotalElements, result.ProcessingTime)
	p.publish(models.JobEvent{JobID: id, Status: models.JobCompleted, Data: map[string]any{
		"message":         "Analysis complete",
		"processing_time": result.ProcessingTime,
	}})
}

func (p *Pool) run(ctx context.Context, job *models.Job, start time.Time) (*models.JobResult, error) {
	data, _, err := p.objects.GetBytes(ctx, job.ObjectKey)
	if err != nil {
		return nil, fmt.Errorf("failed to download image: %w", err)
	}
	det, err := p.detector.Detect(ctx, p.ModelCode(job.ModelName), data)
	if err != nil {
		return nil, fmt.Errorf("detection failed: %w", err)
	}

	done := p.now()
	dims := det.Dimensions
	annotations := det.Pixels()
	return &models.JobResult{
		TaskID: job.ID,
		Image:  job.ObjectKey,
		Analysis: models.JobAnalysis{
			Annotations:     annotations,
			ImageDimensions: &dims,
			TotalElements:   len(annotations),
		},
		ModelUsed:      job.ModelName,
		ProcessingTime: done.Sub(start).Seconds(),
		CompletedAt:    done.UTC(),
	}, nil
}

func (p *Pool) fail(id string, cause error) {
	log.Printf("[WORKER] job %s failed: %v", id, cause)
	// The job context may already be cancelled; the row must still settle.
	if err := p.jobs.MarkFailed(context.Background(), id, cause.Error(), p.now()); err != nil {
		log.Printf("[WORKER] job %s: %v", id, err)
		return
	}
	p.publish(models.JobEvent{JobID: id, Status: models.JobFailed, Data: map[string]any{
		"message": "Processing failed",
		"error":   cause.Error(),
	}})
}

func (p *Pool) publish(ev models.JobEvent) {
	if p.publisher == nil {
		return
	}
	if err := p.publisher.PublishJobEvent(ev); err != nil {
		log.Printf("[WORKER] publish %s for %s: %v", ev.Status, ev.JobID, err)
	}
}
