package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/response"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

type timetableService interface {
	CreateJob(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.GenerationJobResponse, error)
	GetStatus(ctx context.Context, id, schoolID string) (*dto.GenerationJobResponse, error)
	GetResult(ctx context.Context, id, schoolID string) (*dto.GenerationResultResponse, error)
	ListJobs(ctx context.Context, query dto.ListGenerationJobsQuery) ([]dto.GenerationJobResponse, *models.Pagination, error)
	Validate(ctx context.Context, req dto.ValidateTimetableRequest) (*timetable.ScheduleValidation, error)
	ValidateEntry(ctx context.Context, req dto.ValidateEntryRequest) (*timetable.ValidationResult, error)
	Apply(ctx context.Context, id, schoolID string) (*dto.ApplyTimetableResponse, error)
}

// TimetableHandler exposes timetable generation endpoints.
type TimetableHandler struct {
	service timetableService
}

// NewTimetableHandler constructs the handler.
func NewTimetableHandler(svc timetableService) *TimetableHandler {
	return &TimetableHandler{service: svc}
}

// Generate godoc
// @Summary Queue a timetable generation run
// @Description Starts an asynchronous run for a school and scope. Poll the job for progress.
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.GenerateTimetableRequest true "Generation request"
// @Success 202 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /timetables/generate [post]
func (h *TimetableHandler) Generate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.GenerateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid generate payload"))
		return
	}
	if err := ensureSchoolAccess(claims, req.SchoolID); err != nil {
		response.Error(c, err)
		return
	}
	job, err := h.service.CreateJob(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Accepted(c, job)
}

// JobStatus godoc
// @Summary Get generation job status
// @Tags Timetables
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /timetables/jobs/{id} [get]
func (h *TimetableHandler) JobStatus(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	job, err := h.service.GetStatus(c.Request.Context(), c.Param("id"), schoolScope(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, job, nil)
}

// JobResult godoc
// @Summary Get the schedule produced by a finished job
// @Tags Timetables
// @Produce json
// @Param id path string true "Job ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/jobs/{id}/result [get]
func (h *TimetableHandler) JobResult(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.GetResult(c.Request.Context(), c.Param("id"), schoolScope(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ListJobs godoc
// @Summary List generation jobs
// @Tags Timetables
// @Produce json
// @Param schoolId query string false "School ID"
// @Param status query string false "QUEUED, PROCESSING, FINISHED or FAILED"
// @Param page query int false "Page"
// @Param pageSize query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /timetables/jobs [get]
func (h *TimetableHandler) ListJobs(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var query dto.ListGenerationJobsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid query"))
		return
	}
	if query.SchoolID == "" && claims.Role != models.RoleSuperAdmin {
		query.SchoolID = claims.SchoolID
	}
	if err := ensureSchoolAccess(claims, query.SchoolID); err != nil {
		response.Error(c, err)
		return
	}
	jobs, pagination, err := h.service.ListJobs(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, jobs, pagination)
}

// Apply godoc
// @Summary Write a finished job's schedule to the timetable
// @Description Re-validates the schedule against current entries before persisting it. A job applies at most once.
// @Tags Timetables
// @Produce json
// @Param id path string true "Job ID"
// @Success 201 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /timetables/jobs/{id}/apply [post]
func (h *TimetableHandler) Apply(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	result, err := h.service.Apply(c.Request.Context(), c.Param("id"), schoolScope(claims))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, result)
}

// Validate godoc
// @Summary Check entries for teacher and class clashes
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.ValidateTimetableRequest true "Entries to check"
// @Success 200 {object} response.Envelope
// @Router /timetables/validate [post]
func (h *TimetableHandler) Validate(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ValidateTimetableRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validate payload"))
		return
	}
	if err := ensureSchoolAccess(claims, req.SchoolID); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.Validate(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ValidateEntry godoc
// @Summary Check a single entry against the stored timetable
// @Tags Timetables
// @Accept json
// @Produce json
// @Param payload body dto.ValidateEntryRequest true "Entry to check"
// @Success 200 {object} response.Envelope
// @Router /timetables/validate/entry [post]
func (h *TimetableHandler) ValidateEntry(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req dto.ValidateEntryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid validate payload"))
		return
	}
	if err := ensureSchoolAccess(claims, req.SchoolID); err != nil {
		response.Error(c, err)
		return
	}
	result, err := h.service.ValidateEntry(c.Request.Context(), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, result, nil)
}

// ensureSchoolAccess keeps school-bound admins inside their own school.
func ensureSchoolAccess(claims *models.JWTClaims, schoolID string) error {
	if claims.Role == models.RoleSuperAdmin || claims.SchoolID == "" || schoolID == "" {
		return nil
	}
	if claims.SchoolID != schoolID {
		return appErrors.Clone(appErrors.ErrForbidden, "school is outside your scope")
	}
	return nil
}

// schoolScope is the school a caller's job lookups are limited to; empty means any.
func schoolScope(claims *models.JWTClaims) string {
	if claims.Role == models.RoleSuperAdmin {
		return ""
	}
	return claims.SchoolID
}
