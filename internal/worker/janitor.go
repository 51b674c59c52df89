package worker

import (
	"context"
	"log"
	"time"

	"ui-annotator/internal/models"
)

const (
	DefaultRetention = 7 * 24 * time.Hour
	janitorBatch     = 100
)

type ExpiredJobs interface {
	Expired(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error)
	Delete(ctx context.Context, id string) error
}

type ObjectDeleter interface {
	DeleteFile(ctx context.Context, objectName string) error
}

// RetainedClearer drops the retained push message of a removed job.
type RetainedClearer interface {
	ClearJob(jobID string) error
}

// Janitor deletes terminal jobs older than Retention together with their
// stored images.
type Janitor struct {
	jobs      ExpiredJobs
	objects   ObjectDeleter
	retained  RetainedClearer
	Retention time.Duration
	now       func() time.Time
}

func NewJanitor(jobs ExpiredJobs, objects ObjectDeleter, retained RetainedClearer) *Janitor {
	return &Janitor{
		jobs:      jobs,
		objects:   objects,
		retained:  retained,
		Retention: DefaultRetention,
		now:       time.Now,
	}
}

// Sweep removes expired jobs and returns how many rows went.
func (j *Janitor) Sweep(ctx context.Context) (int, error) {
	cutoff := j.now().Add(-j.Retention)
	removed := 0
	for {
		expired, err := j.jobs.Expired(ctx, cutoff, janitorBatch)
		if err != nil {
			return removed, err
		}
		for _, job := range expired {
			if job.ObjectKey != "" {
				if err := j.objects.DeleteFile(ctx, job.ObjectKey); err != nil {
					log.Printf("[JANITOR] job %s: %v", job.ID, err)
				}
			}
			if err := j.jobs.Delete(ctx, job.ID); err != nil {
				return removed, err
			}
			if j.retained != nil {
				if err := j.retained.ClearJob(job.ID); err != nil {
					log.Printf("[JANITOR] clear %s: %v", job.ID, err)
				}
			}
			removed++
		}
		if len(expired) < janitorBatch {
			return removed, nil
		}
	}
}

// Run sweeps every interval until ctx ends.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		if n, err := j.Sweep(ctx); err != nil {
			log.Printf("[JANITOR] sweep failed: %v", err)
		} else if n > 0 {
			log.Printf("[JANITOR] removed %d expired jobs", n)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
