package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"ui-annotator/internal/models"
)

var ErrJobNotFound = errors.New("job not found")

// JobStore persists job rows.
type JobStore struct {
	db *gorm.DB
}

func NewJobStore(db *gorm.DB) *JobStore {
	return &JobStore{db: db}
}

// Create assigns an id when the job has none.
func (s *JobStore) Create(ctx context.Context, job *models.Job) error {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}
	if job.Status == "" {
		job.Status = models.JobPending
	}
	if err := s.db.WithContext(ctx).Create(job).Error; err != nil {
		return fmt.Errorf("failed to create job: %w", err)
	}
	return nil
}

func (s *JobStore) Get(ctx context.Context, id string) (*models.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, ErrJobNotFound
	}
	var job models.Job
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&job).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load job %s: %w", id, err)
	}
	return &job, nil
}

func (s *JobStore) MarkProcessing(ctx context.Context, id string, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"status":     models.JobProcessing,
		"started_at": at,
	})
}

func (s *JobStore) MarkCompleted(ctx context.Context, id string, resultJSON string, processingTime float64, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"status":          models.JobCompleted,
		"result_data":     resultJSON,
		"processing_time": processingTime,
		"completed_at":    at,
	})
}

func (s *JobStore) MarkFailed(ctx context.Context, id string, message string, at time.Time) error {
	return s.update(ctx, id, map[string]any{
		"status":        models.JobFailed,
		"error_message": message,
		"completed_at":  at,
	})
}

func (s *JobStore) update(ctx context.Context, id string, fields map[string]any) error {
	res := s.db.WithContext(ctx).Model(&models.Job{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		return fmt.Errorf("failed to update job %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrJobNotFound
	}
	return nil
}

// Expired lists terminal jobs completed before cutoff.
func (s *JobStore) Expired(ctx context.Context, cutoff time.Time, limit int) ([]models.Job, error) {
	var jobs []models.Job
	err := s.db.WithContext(ctx).
		Where("status IN ? AND completed_at < ?", []models.JobStatus{models.JobCompleted, models.JobFailed}, cutoff).
		Order("completed_at").
		Limit(limit).
		Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("failed to list expired jobs: %w", err)
	}
	return jobs, nil
}

// Delete removes the row for good.
func (s *JobStore) Delete(ctx context.Context, id string) error {
	if err := s.db.WithContext(ctx).Unscoped().Where("id = ?", id).Delete(&models.Job{}).Error; err != nil {
		return fmt.Errorf("failed to delete job %s: %w", id, err)
	}
	return nil
}

// CountByStatus returns how many jobs are stored with status.
func (s *JobStore) CountByStatus(ctx context.Context, status models.JobStatus) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&models.Job{}).Where("status = ?", status).Count(&n).Error
	return n, err
}
