package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

// GenerationJobType tags queue jobs produced by this service.
const GenerationJobType = "timetable_generation"

type generationJobStore interface {
	Create(ctx context.Context, job *models.GenerationJob) error
	GetByID(ctx context.Context, id string) (*models.GenerationJob, error)
	Update(ctx context.Context, id string, params repository.UpdateGenerationJobParams) error
	ListPending(ctx context.Context, limit int) ([]models.GenerationJob, error)
	List(ctx context.Context, filter models.GenerationJobFilter) ([]models.GenerationJob, int, error)
	MarkAppliedWithTx(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error
}

type jobDispatcher interface {
	Enqueue(job jobs.Job) error
}

// GenerationPayload carries per-request tuning through the queue. Jobs
// recovered after a restart run with the configured defaults.
type GenerationPayload struct {
	Seed       int64
	TimeBudget time.Duration
}

// TimetableConfig governs generation runs.
type TimetableConfig struct {
	TimeBudget       time.Duration
	DailyCap         int
	WorkingDays      []string
	ProgressInterval time.Duration
	ProgressTTL      time.Duration
	StrictScope      bool
}

func (c TimetableConfig) withDefaults() TimetableConfig {
	if c.TimeBudget <= 0 {
		c.TimeBudget = timetable.DefaultTimeBudget
	}
	if c.DailyCap <= 0 {
		c.DailyCap = timetable.DefaultDailyCap
	}
	if len(c.WorkingDays) == 0 {
		c.WorkingDays = timetable.DefaultWorkingDays
	}
	if c.ProgressInterval <= 0 {
		c.ProgressInterval = timetable.DefaultProgressInterval
	}
	if c.ProgressTTL <= 0 {
		c.ProgressTTL = time.Hour
	}
	return c
}

func progressKey(jobID string) string {
	return "timetable:progress:" + jobID
}

// TimetableService manages generation jobs and the stored school timetable.
type TimetableService struct {
	jobs      generationJobStore
	sources   TimetableSources
	queue     jobDispatcher
	cache     *CacheService
	tx        txProvider
	validator *validator.Validate
	logger    *zap.Logger
	cfg       TimetableConfig
	now       func() time.Time
}

// NewTimetableService wires the service dependencies.
func NewTimetableService(
	jobStore generationJobStore,
	sources TimetableSources,
	queue jobDispatcher,
	cache *CacheService,
	tx txProvider,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg TimetableConfig,
) *TimetableService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &TimetableService{
		jobs:      jobStore,
		sources:   sources,
		queue:     queue,
		cache:     cache,
		tx:        tx,
		validator: validate,
		logger:    logger,
		cfg:       cfg.withDefaults(),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// CreateJob validates the request, persists a QUEUED job and enqueues it.
func (s *TimetableService) CreateJob(ctx context.Context, req dto.GenerateTimetableRequest, actorID string) (*dto.GenerationJobResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid generation request")
	}

	job := &models.GenerationJob{
		SchoolID:  req.SchoolID,
		Scope:     req.Scope,
		Status:    models.GenerationStatusQueued,
		CreatedBy: actorID,
	}
	if req.Scope != timetable.ScopeGlobal && req.ScopeID != "" {
		scopeID := req.ScopeID
		job.ScopeID = &scopeID
	}
	if err := s.jobs.Create(ctx, job); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create generation job")
	}

	payload := GenerationPayload{Seed: req.Seed}
	if req.TimeBudgetSeconds > 0 {
		payload.TimeBudget = time.Duration(req.TimeBudgetSeconds) * time.Second
	}
	if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: GenerationJobType, Payload: payload}); err != nil {
		failed := models.GenerationStatusFailed
		msg := "failed to enqueue job"
		now := s.now()
		if updateErr := s.jobs.Update(ctx, job.ID, repository.UpdateGenerationJobParams{
			Status:       &failed,
			ErrorMessage: &msg,
			FinishedAt:   &now,
		}); updateErr != nil {
			s.logger.Sugar().Warnw("failed to mark generation job failed", "job_id", job.ID, "error", updateErr)
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to enqueue generation job")
	}

	s.logger.Sugar().Infow("generation job queued", "job_id", job.ID, "school_id", job.SchoolID, "scope", job.Scope)
	resp := dto.NewGenerationJobResponse(job)
	return &resp, nil
}

// loadJob fetches a job. A non-empty schoolID hides jobs of other schools.
func (s *TimetableService) loadJob(ctx context.Context, id, schoolID string) (*models.GenerationJob, error) {
	job, err := s.jobs.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load generation job")
	}
	if schoolID != "" && job.SchoolID != schoolID {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "generation job not found")
	}
	return job, nil
}

// GetStatus returns the job with live progress from the cache while it runs.
// schoolID restricts the lookup to one school; empty means any school.
func (s *TimetableService) GetStatus(ctx context.Context, id, schoolID string) (*dto.GenerationJobResponse, error) {
	job, err := s.loadJob(ctx, id, schoolID)
	if err != nil {
		return nil, err
	}
	if job.Status == models.GenerationStatusProcessing {
		var progress models.GenerationProgress
		if hit, _ := s.cache.Get(ctx, progressKey(job.ID), &progress); hit && progress.Placed >= job.Placed {
			job.Placed = progress.Placed
			job.Total = progress.Total
		}
	}
	resp := dto.NewGenerationJobResponse(job)
	return &resp, nil
}

// GetResult returns the schedule of a finished job.
func (s *TimetableService) GetResult(ctx context.Context, id, schoolID string) (*dto.GenerationResultResponse, error) {
	job, err := s.loadJob(ctx, id, schoolID)
	if err != nil {
		return nil, err
	}
	switch job.Status {
	case models.GenerationStatusFinished:
	case models.GenerationStatusFailed:
		msg := "generation job failed"
		if job.ErrorMessage != nil && *job.ErrorMessage != "" {
			msg = fmt.Sprintf("generation job failed: %s", *job.ErrorMessage)
		}
		return nil, appErrors.Clone(appErrors.ErrJobNotReady, msg)
	default:
		return nil, appErrors.ErrJobNotReady
	}

	result := job.Result
	if result.Schedule == nil {
		result.Schedule = []timetable.Entry{}
	}
	if result.Failures == nil {
		result.Failures = []timetable.Failure{}
	}
	return &dto.GenerationResultResponse{
		JobID:    job.ID,
		Complete: len(result.Failures) == 0,
		Schedule: result.Schedule,
		Failures: result.Failures,
		Unplaced: result.Unplaced,
		Stats:    result.Stats,
	}, nil
}

// ListJobs returns a page of jobs, newest first.
func (s *TimetableService) ListJobs(ctx context.Context, query dto.ListGenerationJobsQuery) ([]dto.GenerationJobResponse, *models.Pagination, error) {
	if err := s.validator.Struct(query); err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid job filter")
	}
	if query.Page <= 0 {
		query.Page = 1
	}
	if query.PageSize <= 0 {
		query.PageSize = 20
	}
	filter := models.GenerationJobFilter{SchoolID: query.SchoolID, Page: query.Page, PageSize: query.PageSize}
	if query.Status != "" {
		status := models.GenerationStatus(query.Status)
		filter.Status = &status
	}

	rows, total, err := s.jobs.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list generation jobs")
	}
	items := make([]dto.GenerationJobResponse, 0, len(rows))
	for i := range rows {
		items = append(items, dto.NewGenerationJobResponse(&rows[i]))
	}
	return items, &models.Pagination{Page: query.Page, PageSize: query.PageSize, TotalCount: total}, nil
}

func (s *TimetableService) newValidator(ctx context.Context, schoolID string) (*timetable.Validator, error) {
	slots, err := s.sources.loadSlots(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slots")
	}
	existing, err := s.sources.loadEntries(ctx, schoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
	}
	return timetable.NewValidator(slots, existing), nil
}

// Validate checks a batch of entries against the stored timetable and each other.
func (s *TimetableService) Validate(ctx context.Context, req dto.ValidateTimetableRequest) (*timetable.ScheduleValidation, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation request")
	}
	v, err := s.newValidator(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}
	entries := make([]timetable.Entry, 0, len(req.Entries))
	for _, e := range req.Entries {
		entries = append(entries, e.ToTimetable(req.SchoolID))
	}
	result := v.ValidateSchedule(entries)
	return &result, nil
}

// ValidateEntry checks one entry against the stored timetable.
func (s *TimetableService) ValidateEntry(ctx context.Context, req dto.ValidateEntryRequest) (*timetable.ValidationResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid validation request")
	}
	if err := s.validator.Struct(req.Entry); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid entry")
	}
	v, err := s.newValidator(ctx, req.SchoolID)
	if err != nil {
		return nil, err
	}
	result := v.ValidateEntry(req.Entry.ToTimetable(req.SchoolID))
	return &result, nil
}

// Apply writes a finished job's schedule to the school timetable. The
// schedule is re-validated under a per-school lock so concurrent edits or a
// second apply cannot double-book anyone.
func (s *TimetableService) Apply(ctx context.Context, id, schoolID string) (resp *dto.ApplyTimetableResponse, err error) {
	job, err := s.loadJob(ctx, id, schoolID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.GenerationStatusFinished {
		return nil, appErrors.ErrJobNotReady
	}
	if job.AppliedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrConflict, "generation job already applied")
	}
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}

	slots, err := s.sources.loadSlots(ctx, job.SchoolID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load time slots")
	}

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to begin transaction")
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.sources.Entries.LockSchool(ctx, tx, job.SchoolID); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to lock timetable")
		return nil, err
	}
	current, err := s.sources.Entries.ListBySchoolWithTx(ctx, tx, job.SchoolID)
	if err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load timetable")
		return nil, err
	}

	check := timetable.NewValidator(slots, toTimetableEntries(current)).ValidateSchedule(job.Result.Schedule)
	if !check.Valid {
		err = appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("schedule conflicts with the current timetable (%d conflicts)", len(check.Conflicts)))
		return nil, err
	}

	rows := make([]models.TimetableEntry, 0, len(job.Result.Schedule))
	for _, entry := range job.Result.Schedule {
		rows = append(rows, models.NewTimetableEntry(job.SchoolID, entry, job.ID))
	}
	if err = s.sources.Entries.BulkCreateWithTx(ctx, tx, rows); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to write timetable")
		return nil, err
	}

	appliedAt := s.now()
	if err = s.jobs.MarkAppliedWithTx(ctx, tx, job.ID, appliedAt); err != nil {
		if errors.Is(err, repository.ErrAlreadyApplied) {
			err = appErrors.Clone(appErrors.ErrConflict, "generation job already applied")
			return nil, err
		}
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to mark job applied")
		return nil, err
	}

	if err = tx.Commit(); err != nil {
		err = appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to commit timetable")
		return nil, err
	}

	s.logger.Sugar().Infow("generated timetable applied", "job_id", job.ID, "school_id", job.SchoolID, "entries", len(rows))
	return &dto.ApplyTimetableResponse{JobID: job.ID, Applied: len(rows), AppliedAt: appliedAt}, nil
}

// RecoverPendingJobs replays queued jobs and jobs interrupted mid-run after a
// process restart.
func (s *TimetableService) RecoverPendingJobs(ctx context.Context) {
	pending, err := s.jobs.ListPending(ctx, 50)
	if err != nil {
		s.logger.Sugar().Warnw("failed to recover queued generation jobs", "error", err)
		return
	}
	for _, job := range pending {
		if err := s.queue.Enqueue(jobs.Job{ID: job.ID, Type: GenerationJobType}); err != nil {
			s.logger.Sugar().Warnw("failed to requeue pending job", "job_id", job.ID, "error", err)
		}
	}
	if len(pending) > 0 {
		s.logger.Sugar().Infow("requeued pending generation jobs", "count", len(pending))
	}
}
