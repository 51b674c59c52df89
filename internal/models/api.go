package models

import "time"

// Annotation is a detection as it travels over the wire. Predict responses
// carry coordinates normalized to NormalizedScale; job results carry pixels.
type Annotation struct {
	X          float64  `json:"x"`
	Y          float64  `json:"y"`
	Width      float64  `json:"width"`
	Height     float64  `json:"height"`
	Tag        Tag      `json:"tag,omitempty"`
	Label      string   `json:"label,omitempty"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// NormalizedScale is the extent of each axis in normalized predictions.
const NormalizedScale = 1000.0

type PredictionResponse struct {
	Annotations     []Annotation `json:"annotations"`
	ImageDimensions *Dimensions  `json:"image_dimensions,omitempty"`
	ProcessingTime  float64      `json:"processing_time"`
}

type JobSubmission struct {
	TaskID    string    `json:"task_id"`
	Status    JobStatus `json:"status"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

type JobStatusResponse struct {
	TaskID         string     `json:"task_id"`
	Status         JobStatus  `json:"status"`
	Progress       string     `json:"progress,omitempty"`
	Message        string     `json:"message,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ProcessingTime float64    `json:"processing_time,omitempty"`
}

type JobAnalysis struct {
	Annotations     []Annotation `json:"annotations"`
	ImageDimensions *Dimensions  `json:"image_dimensions,omitempty"`
	TotalElements   int          `json:"total_elements"`
}

type JobResult struct {
	TaskID         string      `json:"task_id"`
	Image          string      `json:"image"`
	Analysis       JobAnalysis `json:"analysis"`
	ModelUsed      string      `json:"model_used"`
	ProcessingTime float64     `json:"processing_time"`
	CompletedAt    time.Time   `json:"completed_at"`
}

type ModelInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type ModelsResponse struct {
	Models []ModelInfo `json:"models"`
}

type HealthResponse struct {
	Status string              `json:"status"`
	Queued int                 `json:"queued,omitempty"`
	Jobs   map[JobStatus]int64 `json:"jobs,omitempty"`
}

// JobEvent is the push-channel message published for every job transition.
type JobEvent struct {
	JobID  string         `json:"job_id"`
	Status JobStatus      `json:"status"`
	Data   map[string]any `json:"data,omitempty"`
}
