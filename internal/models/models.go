// internal/models/models.go
package models

import (
	"time"

	"gorm.io/gorm"
)

type Tag string

const (
	TagButton   Tag = "button"
	TagInput    Tag = "input"
	TagRadio    Tag = "radio"
	TagDropdown Tag = "dropdown"
	TagText     Tag = "text"
	TagImage    Tag = "image"
	TagLink     Tag = "link"
	TagCheckbox Tag = "checkbox"
	TagLabel    Tag = "label"
	TagIcon     Tag = "icon"
	TagCard     Tag = "card"
	TagNavbar   Tag = "navbar"
	TagFooter   Tag = "footer"
	TagSidebar  Tag = "sidebar"
)

// Tags lists every UI element category in display order. The export schema
// shares this enumeration.
var Tags = []Tag{
	TagButton, TagInput, TagRadio, TagDropdown, TagText, TagImage, TagLink,
	TagCheckbox, TagLabel, TagIcon, TagCard, TagNavbar, TagFooter, TagSidebar,
}

func (t Tag) Valid() bool {
	for _, known := range Tags {
		if t == known {
			return true
		}
	}
	return false
}

type Source string

const (
	SourceUser       Source = "user"
	SourcePrediction Source = "prediction"
)

// BoundingBox is stored in image pixel coordinates.
type BoundingBox struct {
	ID     string  `json:"id"`
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Tag    Tag     `json:"tag"`
	Source Source  `json:"source"`
}

type Dimensions struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobCompleted  JobStatus = "completed"
	JobFailed     JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job is the job server's row for one asynchronous detection.
type Job struct {
	ID               string         `gorm:"type:uuid;primarykey" json:"id"`
	Status           JobStatus      `gorm:"default:'pending';index" json:"status"`
	ModelName        string         `gorm:"not null" json:"model_name"`
	ObjectKey        string         `gorm:"not null" json:"object_key"`
	OriginalFilename string         `json:"original_filename"`
	ContentType      string         `json:"content_type"`
	FileSize         int64          `json:"file_size"`
	StartedAt        *time.Time     `json:"started_at,omitempty"`
	CompletedAt      *time.Time     `gorm:"index" json:"completed_at,omitempty"`
	ProcessingTime   float64        `json:"processing_time"`
	ResultData       string         `gorm:"type:text" json:"-"`
	ErrorMessage     string         `json:"error_message,omitempty"`
	CreatedAt        time.Time      `gorm:"index" json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
	DeletedAt        gorm.DeletedAt `gorm:"index" json:"-"`
}
