package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

// GenerationStatus captures the generation job lifecycle.
type GenerationStatus string

const (
	GenerationStatusQueued     GenerationStatus = "QUEUED"
	GenerationStatusProcessing GenerationStatus = "PROCESSING"
	GenerationStatusFinished   GenerationStatus = "FINISHED"
	GenerationStatusFailed     GenerationStatus = "FAILED"
)

// Terminal reports whether the job will not change status again.
func (s GenerationStatus) Terminal() bool {
	return s == GenerationStatusFinished || s == GenerationStatusFailed
}

// GenerationJob is a persisted timetable generation request.
type GenerationJob struct {
	ID           string              `db:"id" json:"id"`
	SchoolID     string              `db:"school_id" json:"school_id"`
	Scope        timetable.ScopeKind `db:"scope" json:"scope"`
	ScopeID      *string             `db:"scope_id" json:"scope_id,omitempty"`
	Status       GenerationStatus    `db:"status" json:"status"`
	Placed       int                 `db:"placed" json:"placed"`
	Total        int                 `db:"total" json:"total"`
	Result       GenerationResult    `db:"result" json:"-"`
	ErrorMessage *string             `db:"error_message" json:"error_message,omitempty"`
	CreatedBy    string              `db:"created_by" json:"created_by"`
	CreatedAt    time.Time           `db:"created_at" json:"created_at"`
	StartedAt    *time.Time          `db:"started_at" json:"started_at,omitempty"`
	FinishedAt   *time.Time          `db:"finished_at" json:"finished_at,omitempty"`
	AppliedAt    *time.Time          `db:"applied_at" json:"applied_at,omitempty"`
}

// Percent returns placed/total as an integer percentage.
func (j GenerationJob) Percent() int {
	return Percent(j.Placed, j.Total)
}

// Percent computes an integer percentage, 0 when total is zero.
func Percent(placed, total int) int {
	if total <= 0 {
		return 0
	}
	return placed * 100 / total
}

// GenerationStats summarises a finished run.
type GenerationStats struct {
	TotalLessons int                  `json:"total_lessons"`
	Placed       int                  `json:"placed"`
	Iterations   int                  `json:"iterations"`
	ElapsedMs    int64                `json:"elapsed_ms"`
	StopReason   timetable.StopReason `json:"stop_reason"`
}

// GenerationResult is the scheduler output persisted as JSONB.
type GenerationResult struct {
	Schedule []timetable.Entry   `json:"schedule"`
	Failures []timetable.Failure `json:"failures"`
	Unplaced []timetable.Lesson  `json:"unplaced,omitempty"`
	Stats    GenerationStats     `json:"stats"`
}

// IsZero reports whether the result has not been produced yet.
func (r GenerationResult) IsZero() bool {
	return r.Schedule == nil && r.Failures == nil && r.Stats.TotalLessons == 0
}

// NewGenerationResult converts a scheduler result for persistence.
func NewGenerationResult(res timetable.Result) GenerationResult {
	return GenerationResult{
		Schedule: res.Schedule,
		Failures: res.Failures,
		Unplaced: res.Unplaced,
		Stats: GenerationStats{
			TotalLessons: res.TotalLessons,
			Placed:       res.Placed(),
			Iterations:   res.Iterations,
			ElapsedMs:    res.Elapsed.Milliseconds(),
			StopReason:   res.StopReason,
		},
	}
}

// Value marshals the result to JSON, storing NULL until a run has finished.
func (r GenerationResult) Value() (driver.Value, error) {
	if r.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal generation result: %w", err)
	}
	return data, nil
}

// Scan unmarshals the JSONB column.
func (r *GenerationResult) Scan(value interface{}) error {
	if value == nil {
		*r = GenerationResult{}
		return nil
	}
	var data []byte
	switch v := value.(type) {
	case []byte:
		data = v
	case string:
		data = []byte(v)
	default:
		return fmt.Errorf("unsupported type %T for GenerationResult", value)
	}
	if len(data) == 0 {
		*r = GenerationResult{}
		return nil
	}
	if err := json.Unmarshal(data, r); err != nil {
		return fmt.Errorf("unmarshal generation result: %w", err)
	}
	return nil
}

// GenerationJobFilter narrows job listings.
type GenerationJobFilter struct {
	SchoolID string
	Status   *GenerationStatus
	Page     int
	PageSize int
}

// GenerationProgress is the live snapshot kept in the cache while a job runs.
type GenerationProgress struct {
	JobID     string           `json:"job_id"`
	Status    GenerationStatus `json:"status"`
	Placed    int              `json:"placed"`
	Total     int              `json:"total"`
	UpdatedAt time.Time        `json:"updated_at"`
}
