package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"ui-annotator/internal/config"
	"ui-annotator/internal/database"
	"ui-annotator/internal/detector"
	"ui-annotator/internal/models"
	"ui-annotator/internal/storage"
	"ui-annotator/pkg/imaging"
)

// JobRepository is what the job endpoints need from the job table.
type JobRepository interface {
	Create(ctx context.Context, job *models.Job) error
	Get(ctx context.Context, id string) (*models.Job, error)
	MarkFailed(ctx context.Context, id string, message string, at time.Time) error
}

type ObjectWriter interface {
	UploadBytes(ctx context.Context, objectName string, data []byte, contentType string) error
}

type JobQueue interface {
	Enqueue(id string) error
}

type Detector interface {
	Detect(ctx context.Context, model string, data []byte) (*detector.Detection, error)
}

type ModelCatalog interface {
	Models() []models.ModelInfo
	Resolve(id string) (string, config.ModelEntry, error)
}

type upload struct {
	Filename    string
	ContentType string
	Data        []byte
}

// readImage reads the "file" form field, enforcing the size limit and
// sniffing the content type from the bytes. On failure it returns the
// status and message to reply with.
func readImage(c *gin.Context) (*upload, int, string) {
	fh, err := c.FormFile("file")
	if err != nil {
		return nil, http.StatusBadRequest, "No image file provided"
	}
	if fh.Size > imaging.MaxUploadSize {
		return nil, http.StatusBadRequest, "File size exceeds 10MB limit"
	}
	data, err := readFormFile(fh)
	if err != nil {
		return nil, http.StatusBadRequest, "Failed to read file"
	}
	if len(data) > imaging.MaxUploadSize {
		return nil, http.StatusBadRequest, "File size exceeds 10MB limit"
	}
	if err := imaging.ValidateImage(data); err != nil {
		return nil, http.StatusBadRequest, "File must be an image"
	}
	return &upload{Filename: fh.Filename, ContentType: imaging.DetectContentType(data), Data: data}, 0, ""
}

func readFormFile(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(io.LimitReader(f, imaging.MaxUploadSize+1))
}

func modelParam(c *gin.Context) string {
	if m := c.PostForm("model_name"); m != "" {
		return m
	}
	return c.Query("model_name")
}

// PredictImage runs detection synchronously. Coordinates in the response are
// on the 0..1000 scale of each axis.
func PredictImage(det Detector, catalog ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()

		img, status, msg := readImage(c)
		if img == nil {
			c.JSON(status, gin.H{"error": msg})
			return
		}
		_, entry, err := catalog.Resolve(modelParam(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		result, err := det.Detect(c.Request.Context(), entry.ModelCode, img.Data)
		switch {
		case errors.Is(err, detector.ErrMalformedOutput), errors.Is(err, detector.ErrEmptyResponse):
			c.JSON(http.StatusUnprocessableEntity, gin.H{"error": err.Error()})
			return
		case err != nil:
			c.JSON(http.StatusInternalServerError, gin.H{"error": fmt.Sprintf("Prediction failed: %s", err.Error())})
			return
		}

		annotations := result.Annotations
		if annotations == nil {
			annotations = []models.Annotation{}
		}
		dims := result.Dimensions
		c.JSON(http.StatusOK, models.PredictionResponse{
			Annotations:     annotations,
			ImageDimensions: &dims,
			ProcessingTime:  time.Since(start).Seconds(),
		})
	}
}

// UploadImage stores the image and queues an asynchronous detection job.
func UploadImage(jobs JobRepository, objects ObjectWriter, queue JobQueue, catalog ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		img, status, msg := readImage(c)
		if img == nil {
			c.JSON(status, gin.H{"error": msg})
			return
		}
		modelID, _, err := catalog.Resolve(modelParam(c))
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
			return
		}

		ctx := c.Request.Context()
		objectName := storage.GenerateObjectName("uploads", img.Filename)
		if err := objects.UploadBytes(ctx, objectName, img.Data, img.ContentType); err != nil {
			log.Printf("[JOBS] upload of %s failed: %v", img.Filename, err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to upload to storage"})
			return
		}

		job := &models.Job{
			ID:               uuid.New().String(),
			Status:           models.JobPending,
			ModelName:        modelID,
			ObjectKey:        objectName,
			OriginalFilename: img.Filename,
			ContentType:      img.ContentType,
			FileSize:         int64(len(img.Data)),
		}
		if err := jobs.Create(ctx, job); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to create processing job"})
			return
		}

		if err := queue.Enqueue(job.ID); err != nil {
			if markErr := jobs.MarkFailed(context.WithoutCancel(ctx), job.ID, err.Error(), time.Now()); markErr != nil {
				log.Printf("[JOBS] job %s: %v", job.ID, markErr)
			}
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Job queue is full, try again later"})
			return
		}

		c.JSON(http.StatusOK, models.JobSubmission{
			TaskID:    job.ID,
			Status:    job.Status,
			Message:   "Image uploaded successfully",
			CreatedAt: job.CreatedAt,
		})
	}
}

func loadJob(c *gin.Context, jobs JobRepository) (*models.Job, bool) {
	job, err := jobs.Get(c.Request.Context(), c.Param("id"))
	if errors.Is(err, database.ErrJobNotFound) {
		c.JSON(http.StatusNotFound, gin.H{"error": "Job not found"})
		return nil, false
	}
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to load job"})
		return nil, false
	}
	return job, true
}

func GetStatus(jobs JobRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := loadJob(c, jobs)
		if !ok {
			return
		}

		resp := models.JobStatusResponse{
			TaskID:    job.ID,
			Status:    job.Status,
			CreatedAt: job.CreatedAt,
		}
		switch job.Status {
		case models.JobProcessing:
			resp.Progress = "AI analyzing image..."
			resp.StartedAt = job.StartedAt
		case models.JobCompleted:
			resp.Message = "Analysis complete"
			resp.CompletedAt = job.CompletedAt
			resp.ProcessingTime = job.ProcessingTime
		case models.JobFailed:
			resp.Error = job.ErrorMessage
			resp.CompletedAt = job.CompletedAt
		}
		c.JSON(http.StatusOK, resp)
	}
}

func GetResult(jobs JobRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, ok := loadJob(c, jobs)
		if !ok {
			return
		}
		if job.Status != models.JobCompleted {
			c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("Job is not completed. Current status: %s", job.Status)})
			return
		}
		if job.ResultData == "" {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "No results found for this job"})
			return
		}
		if !json.Valid([]byte(job.ResultData)) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to parse results"})
			return
		}
		c.Data(http.StatusOK, "application/json; charset=utf-8", []byte(job.ResultData))
	}
}

func ListModels(catalog ModelCatalog) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, models.ModelsResponse{Models: catalog.Models()})
	}
}

// QueueStats is implemented by the worker pool.
type QueueStats interface {
	QueueLength() int
}

// JobCounter is implemented by the job store.
type JobCounter interface {
	CountByStatus(ctx context.Context, status models.JobStatus) (int64, error)
}

var healthStatuses = []models.JobStatus{models.JobPending, models.JobProcessing, models.JobCompleted, models.JobFailed}

// JobServerHealth reports the queue length and the number of stored jobs per
// status. Counts are left out when the store cannot be read.
func JobServerHealth(queue QueueStats, counter JobCounter) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthResponse{Status: "healthy", Queued: queue.QueueLength()}
		counts := make(map[models.JobStatus]int64, len(healthStatuses))
		for _, st := range healthStatuses {
			n, err := counter.CountByStatus(c.Request.Context(), st)
			if err != nil {
				log.Printf("[JOBS] Failed to count %s jobs: %v", st, err)
				counts = nil
				break
			}
			counts[st] = n
		}
		resp.Jobs = counts
		c.JSON(http.StatusOK, resp)
	}
}
