package dto

import (
	"time"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

// GenerateTimetableRequest starts an asynchronous generation run.
type GenerateTimetableRequest struct {
	SchoolID string              `json:"schoolId" validate:"required"`
	Scope    timetable.ScopeKind `json:"scope" validate:"required,oneof=global major group division"`
	ScopeID  string              `json:"scopeId" validate:"required_unless=Scope global"`
	// Seed makes a run reproducible. Zero seeds from the clock.
	Seed int64 `json:"seed,omitempty"`
	// TimeBudgetSeconds shortens the configured budget; it never extends it.
	TimeBudgetSeconds int `json:"timeBudgetSeconds,omitempty" validate:"omitempty,min=1"`
}

// GenerationJobResponse describes a job and its live progress.
type GenerationJobResponse struct {
	ID         string                  `json:"id"`
	SchoolID   string                  `json:"schoolId"`
	Scope      timetable.ScopeKind     `json:"scope"`
	ScopeID    *string                 `json:"scopeId,omitempty"`
	Status     models.GenerationStatus `json:"status"`
	Placed     int                     `json:"placed"`
	Total      int                     `json:"total"`
	Progress   int                     `json:"progress"`
	Error      *string                 `json:"error,omitempty"`
	CreatedBy  string                  `json:"createdBy"`
	CreatedAt  time.Time               `json:"createdAt"`
	StartedAt  *time.Time              `json:"startedAt,omitempty"`
	FinishedAt *time.Time              `json:"finishedAt,omitempty"`
	AppliedAt  *time.Time              `json:"appliedAt,omitempty"`
}

// NewGenerationJobResponse maps a persisted job.
func NewGenerationJobResponse(job *models.GenerationJob) GenerationJobResponse {
	resp := GenerationJobResponse{
		ID:         job.ID,
		SchoolID:   job.SchoolID,
		Scope:      job.Scope,
		ScopeID:    job.ScopeID,
		Status:     job.Status,
		Placed:     job.Placed,
		Total:      job.Total,
		Progress:   job.Percent(),
		CreatedBy:  job.CreatedBy,
		CreatedAt:  job.CreatedAt,
		StartedAt:  job.StartedAt,
		FinishedAt: job.FinishedAt,
		AppliedAt:  job.AppliedAt,
	}
	if job.ErrorMessage != nil && *job.ErrorMessage != "" {
		resp.Error = job.ErrorMessage
	}
	return resp
}

// GenerationResultResponse returns the best schedule of a finished job.
type GenerationResultResponse struct {
	JobID    string                 `json:"jobId"`
	Complete bool                   `json:"complete"`
	Schedule []timetable.Entry      `json:"schedule"`
	Failures []timetable.Failure    `json:"failures"`
	Unplaced []timetable.Lesson     `json:"unplaced,omitempty"`
	Stats    models.GenerationStats `json:"stats"`
}

// ListGenerationJobsQuery filters the job listing.
type ListGenerationJobsQuery struct {
	SchoolID string `form:"schoolId"`
	Status   string `form:"status" validate:"omitempty,oneof=QUEUED PROCESSING FINISHED FAILED"`
	Page     int    `form:"page" validate:"omitempty,min=1"`
	PageSize int    `form:"pageSize" validate:"omitempty,min=1,max=100"`
}

// ApplyTimetableResponse reports how many entries were written.
type ApplyTimetableResponse struct {
	JobID     string    `json:"jobId"`
	Applied   int       `json:"applied"`
	AppliedAt time.Time `json:"appliedAt"`
}

// TimetableEntryRequest is a candidate entry submitted for validation.
type TimetableEntryRequest struct {
	TeacherID  string `json:"teacherId" validate:"required"`
	SubjectID  string `json:"subjectId"`
	Grade      string `json:"grade" validate:"required"`
	Section    string `json:"section" validate:"required"`
	Day        string `json:"day" validate:"required"`
	TimeSlotID string `json:"timeSlotId" validate:"required"`
	DivisionID string `json:"divisionId,omitempty"`
}

// ToTimetable converts the request entry.
func (r TimetableEntryRequest) ToTimetable(schoolID string) timetable.Entry {
	return timetable.Entry{
		TeacherID:  r.TeacherID,
		SubjectID:  r.SubjectID,
		Grade:      r.Grade,
		Section:    r.Section,
		Day:        r.Day,
		TimeSlotID: r.TimeSlotID,
		DivisionID: r.DivisionID,
		SchoolID:   schoolID,
	}
}

// ValidateTimetableRequest checks entries against the stored timetable.
type ValidateTimetableRequest struct {
	SchoolID string                  `json:"schoolId" validate:"required"`
	Entries  []TimetableEntryRequest `json:"entries" validate:"required,min=1,dive"`
}

// ValidateEntryRequest checks a single entry against the stored timetable.
type ValidateEntryRequest struct {
	SchoolID string                `json:"schoolId" validate:"required"`
	Entry    TimetableEntryRequest `json:"entry"`
}
