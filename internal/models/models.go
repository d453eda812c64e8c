package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/pgvector/pgvector-go"
)

// Video represents an uploaded video file in the database
type Video struct {
	ID              uint        `json:"id" gorm:"primaryKey"`
	UUID            string      `json:"uuid" gorm:"type:uuid;unique;not null"`
	Filename        string      `json:"filename" gorm:"size:512;not null"`
	Filepath        string      `json:"filepath" gorm:"size:1024;not null"`
	Duration        float64     `json:"duration" gorm:"default:0;not null"`
	CreatedAt       time.Time   `json:"created_at"`
	UpdatedAt       time.Time   `json:"updated_at"`
	LastProcessedAt *time.Time  `json:"last_processed_at"`
	Status          VideoStatus `json:"status" gorm:"default:'pending'"`
	ErrorMessage    *string     `json:"error_message"`

	// Relationships
	Analysis       *Analysis       `json:"analysis,omitempty" gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
	ProcessingJobs []ProcessingJob `json:"processing_jobs,omitempty" gorm:"foreignKey:VideoID;constraint:OnDelete:CASCADE"`
}

// VideoStatus represents the processing status of a video
type VideoStatus string

const (
	VideoStatusPending    VideoStatus = "pending"
	VideoStatusProcessing VideoStatus = "processing"
	VideoStatusCompleted  VideoStatus = "completed"
	VideoStatusFailed     VideoStatus = "failed"
)

// Analysis is the persisted outcome of analyzing one video. Its JSON form is
// also the analysis.json snapshot written next to the published frames.
type Analysis struct {
	ID        uint    `json:"-" gorm:"primaryKey"`
	VideoID   uint    `json:"-" gorm:"uniqueIndex;not null"`
	VideoUUID string  `json:"video_id" gorm:"type:uuid;uniqueIndex;not null"`
	Filename  string  `json:"filename" gorm:"size:512"`
	Ease      string  `json:"ease" gorm:"size:16;index"`
	Duration  float64 `json:"duration"`

	FPS            float64 `json:"fps"`
	MinThreshold   float64 `json:"min_threshold"`
	PhotoThreshold float64 `json:"photo_threshold"`
	LeadInFrames   int     `json:"lead_in_frames"`

	// nil when the statistic was undefined for the run
	DynamicThreshold     *float64 `json:"dynamic_threshold"`
	SmallChangeThreshold *float64 `json:"small_change_threshold"`

	PhotoCount int `json:"photo_count"`
	VideoCount int `json:"video_count"`

	Timestamps          JSONFloatArray  `json:"timestamps" gorm:"type:jsonb;default:'[]'"`
	FormattedTimestamps JSONStringArray `json:"formatted_timestamps" gorm:"type:jsonb;default:'[]'"`
	SegmentLabels       JSONStringArray `json:"segment_labels" gorm:"type:jsonb;default:'[]'"`
	Categories          JSONStringArray `json:"categories" gorm:"type:jsonb;default:'[]'"`
	SignificantFrames   JSONFrames      `json:"significant_frames" gorm:"type:jsonb;default:'[]'"`
	Metadata            JSONObject      `json:"metadata" gorm:"type:jsonb;default:'{}'"`

	Profile  *pgvector.Vector `json:"-" gorm:"type:vector(64)"`
	VideoURL string           `json:"video_url" gorm:"size:1024"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// SignificantFrame is one signature frame of an analysis
type SignificantFrame struct {
	ID          int     `json:"id"`
	Timestamp   float64 `json:"timestamp"`
	SegmentType string  `json:"segment_type"`
	FrameURL    string  `json:"frame_url"`
	Label       string  `json:"label"`
}

// SimilarAnalysis is an analysis ranked by profile distance
type SimilarAnalysis struct {
	Analysis
	Distance float64 `json:"distance"`
}

func scanJSON(value interface{}, dest interface{}) error {
	switch v := value.(type) {
	case []byte:
		return json.Unmarshal(v, dest)
	case string:
		return json.Unmarshal([]byte(v), dest)
	default:
		return fmt.Errorf("unsupported JSON column type %T", value)
	}
}

// JSONStringArray is a custom type for handling JSON arrays of strings
type JSONStringArray []string

// Scan implements the sql.Scanner interface for JSONStringArray
func (j *JSONStringArray) Scan(value interface{}) error {
	if value == nil {
		*j = []string{}
		return nil
	}
	return scanJSON(value, j)
}

// Value implements the driver.Valuer interface for JSONStringArray
func (j JSONStringArray) Value() (driver.Value, error) {
	if j == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(j)
}

// JSONFloatArray is a JSON array of numbers
type JSONFloatArray []float64

func (j *JSONFloatArray) Scan(value interface{}) error {
	if value == nil {
		*j = []float64{}
		return nil
	}
	return scanJSON(value, j)
}

func (j JSONFloatArray) Value() (driver.Value, error) {
	if j == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(j)
}

// JSONFrames is a JSON array of significant frames
type JSONFrames []SignificantFrame

func (j *JSONFrames) Scan(value interface{}) error {
	if value == nil {
		*j = []SignificantFrame{}
		return nil
	}
	return scanJSON(value, j)
}

func (j JSONFrames) Value() (driver.Value, error) {
	if j == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(j)
}

// JSONObject is a custom type for handling JSON objects
type JSONObject map[string]interface{}

// Scan implements the sql.Scanner interface for JSONObject
func (j *JSONObject) Scan(value interface{}) error {
	if value == nil {
		*j = make(map[string]interface{})
		return nil
	}
	return scanJSON(value, j)
}

// Value implements the driver.Valuer interface for JSONObject
func (j JSONObject) Value() (driver.Value, error) {
	if j == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(j)
}

// ProcessingJob represents background processing tasks
type ProcessingJob struct {
	ID           uint       `json:"id" gorm:"primaryKey"`
	UUID         string     `json:"uuid" gorm:"type:uuid;unique;not null"`
	VideoID      *uint      `json:"video_id" gorm:"index"`
	JobType      JobType    `json:"job_type" gorm:"not null"`
	Status       JobStatus  `json:"status" gorm:"default:'pending'"`
	Progress     int        `json:"progress" gorm:"default:0;check:progress >= 0 AND progress <= 100"`
	StartedAt    *time.Time `json:"started_at"`
	CompletedAt  *time.Time `json:"completed_at"`
	ErrorMessage *string    `json:"error_message"`
	Metadata     JSONObject `json:"metadata" gorm:"type:jsonb;default:'{}'"`
	CreatedAt    time.Time  `json:"created_at"`

	// Relationships
	Video *Video `json:"video,omitempty" gorm:"foreignKey:VideoID"`
}

// JobType represents the type of processing job
type JobType string

const (
	JobTypeVideoAnalysis JobType = "video_analysis"
)

// JobStatus represents the processing status of a job
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
	JobStatusCancelled JobStatus = "cancelled"
)

// DatabaseStats represents statistics about the database
type DatabaseStats struct {
	TotalVideos          int     `json:"total_videos"`
	CompletedVideos      int     `json:"completed_videos"`
	FailedVideos         int     `json:"failed_videos"`
	TotalAnalyses        int     `json:"total_analyses"`
	EasyAnalyses         int     `json:"easy_analyses"`
	MediumAnalyses       int     `json:"medium_analyses"`
	HardAnalyses         int     `json:"hard_analyses"`
	TotalDurationSeconds float64 `json:"total_duration_seconds"`
	ActiveJobs           int     `json:"active_jobs"`
}

// UpdateTimestampsRequest replaces the signature frames of an analysis
type UpdateTimestampsRequest struct {
	VideoID           string             `json:"video_id" binding:"required"`
	SignificantFrames []SignificantFrame `json:"significant_frames" binding:"required"`
}

// SaveLabelsRequest assigns user labels to signature frames by position
type SaveLabelsRequest struct {
	VideoID    string   `json:"video_id" binding:"required"`
	Labels     []string `json:"labels" binding:"required"`
	Categories []string `json:"categories"`
}

// ReanalyzeRequest re-runs detection with new thresholds; nil keeps the stored value
type ReanalyzeRequest struct {
	MinThreshold   *float64 `json:"min_threshold" binding:"omitempty,min=0"`
	PhotoThreshold *float64 `json:"photo_threshold" binding:"omitempty,min=0"`
}

// TableName methods for custom table names if needed
func (Video) TableName() string {
	return "videos"
}

func (Analysis) TableName() string {
	return "analyses"
}

func (ProcessingJob) TableName() string {
	return "processing_jobs"
}
