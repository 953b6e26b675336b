package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

// GenerationWorker bridges queue jobs to the timetable scheduler.
type GenerationWorker struct {
	jobs    generationJobStore
	sources TimetableSources
	cache   *CacheService
	metrics *MetricsService
	logger  *zap.Logger
	cfg     TimetableConfig
	now     func() time.Time
}

// NewGenerationWorker constructs a worker.
func NewGenerationWorker(jobStore generationJobStore, sources TimetableSources, cache *CacheService, metrics *MetricsService, logger *zap.Logger, cfg TimetableConfig) *GenerationWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &GenerationWorker{
		jobs:    jobStore,
		sources: sources,
		cache:   cache,
		metrics: metrics,
		logger:  logger,
		cfg:     cfg.withDefaults(),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// Handle processes a queue job. Returned errors are retried by the queue;
// scope errors fail the job immediately.
func (w *GenerationWorker) Handle(ctx context.Context, job jobs.Job) error {
	record, err := w.jobs.GetByID(ctx, job.ID)
	if err != nil {
		return err
	}
	if record.Status.Terminal() {
		w.logger.Sugar().Infow("skipping finished generation job", "job_id", record.ID, "status", record.Status)
		return nil
	}

	processing := models.GenerationStatusProcessing
	startedAt := w.now()
	reset := 0
	if err := w.jobs.Update(ctx, record.ID, repository.UpdateGenerationJobParams{
		Status:    &processing,
		Placed:    &reset,
		StartedAt: &startedAt,
	}); err != nil {
		return err
	}

	loadStart := time.Now()
	inputs, err := w.sources.load(ctx, record.SchoolID, w.cfg.WorkingDays)
	w.metrics.ObserveDBQuery("timetable_inputs", time.Since(loadStart))
	if err != nil {
		return err
	}

	allocations, err := w.resolveScope(record, inputs)
	if err != nil {
		w.fail(ctx, record.ID, err)
		return nil
	}
	inputs.Input.Allocations = allocations

	sink := &jobProgressSink{ctx: ctx, jobID: record.ID, jobs: w.jobs, cache: w.cache, ttl: w.cfg.ProgressTTL, logger: w.logger, now: w.now}
	progress := timetable.NewThrottledProgress(ctx, sink, w.cfg.ProgressInterval)
	opts := w.options(record, job)
	opts.Progress = progress
	scheduler := timetable.NewScheduler(inputs.Input, opts)

	total := scheduler.TotalLessons()
	if err := w.jobs.Update(ctx, record.ID, repository.UpdateGenerationJobParams{Total: &total}); err != nil {
		w.logger.Sugar().Warnw("failed to store lesson total", "job_id", record.ID, "error", err)
	}

	result := scheduler.Run(ctx)
	progress.Close()

	// The run may end because ctx was cancelled; the best schedule is still stored.
	persistCtx := context.WithoutCancel(ctx)
	finished := models.GenerationStatusFinished
	finishedAt := w.now()
	placed := result.Placed()
	stored := models.NewGenerationResult(result)
	noError := ""
	if err := w.jobs.Update(persistCtx, record.ID, repository.UpdateGenerationJobParams{
		Status:       &finished,
		Placed:       &placed,
		Total:        &result.TotalLessons,
		Result:       &stored,
		ErrorMessage: &noError,
		FinishedAt:   &finishedAt,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to store generation result", "job_id", record.ID, "error", err)
		return err
	}
	_ = w.cache.Invalidate(persistCtx, progressKey(record.ID))

	w.metrics.ObserveGeneration(string(record.Scope), string(result.StopReason), result.Elapsed, placed, result.TotalLessons-placed, result.Iterations)
	w.logger.Sugar().Infow("generation job finished",
		"job_id", record.ID,
		"school_id", record.SchoolID,
		"placed", placed,
		"total", result.TotalLessons,
		"stop_reason", result.StopReason,
	)
	return nil
}

// HandleFailure marks a job FAILED once the queue gives up on it.
func (w *GenerationWorker) HandleFailure(ctx context.Context, job jobs.Job, err error) {
	w.fail(ctx, job.ID, err)
}

func (w *GenerationWorker) fail(ctx context.Context, jobID string, cause error) {
	failed := models.GenerationStatusFailed
	msg := cause.Error()
	now := w.now()
	if err := w.jobs.Update(ctx, jobID, repository.UpdateGenerationJobParams{
		Status:       &failed,
		ErrorMessage: &msg,
		FinishedAt:   &now,
	}); err != nil {
		w.logger.Sugar().Warnw("failed to mark generation job failed", "job_id", jobID, "error", err)
	}
	_ = w.cache.Invalidate(ctx, progressKey(jobID))
	w.metrics.RecordGenerationFailure()
	w.logger.Sugar().Warnw("generation job failed", "job_id", jobID, "error", cause)
}

func (w *GenerationWorker) resolveScope(record *models.GenerationJob, inputs *generationInputs) ([]timetable.Allocation, error) {
	scope := timetable.Scope{
		Kind:      record.Scope,
		Divisions: inputs.Divisions,
		FailOpen:  !w.cfg.StrictScope,
	}
	if record.ScopeID != nil {
		scope.ID = *record.ScopeID
	}
	if inputs.DivisionErr != nil {
		w.logger.Sugar().Warnw("division records unavailable", "job_id", record.ID, "error", inputs.DivisionErr)
	}
	allocations, err := timetable.FilterByScope(inputs.Input.Allocations, scope)
	if err != nil {
		if errors.Is(err, timetable.ErrDivisionsRequired) && inputs.DivisionErr != nil {
			err = errors.Join(err, inputs.DivisionErr)
		}
		return nil, err
	}
	return allocations, nil
}

func (w *GenerationWorker) options(record *models.GenerationJob, job jobs.Job) timetable.Options {
	opts := timetable.Options{
		TimeBudget: w.cfg.TimeBudget,
		DailyCap:   w.cfg.DailyCap,
		Logger:     w.logger.With(zap.String("job_id", record.ID)),
	}
	if payload, ok := job.Payload.(GenerationPayload); ok {
		opts.Seed = payload.Seed
		if payload.TimeBudget > 0 && payload.TimeBudget < opts.TimeBudget {
			opts.TimeBudget = payload.TimeBudget
		}
	}
	return opts
}

// jobProgressSink publishes progress to the cache, or to the job row when no
// cache is configured.
type jobProgressSink struct {
	ctx    context.Context
	jobID  string
	jobs   generationJobStore
	cache  *CacheService
	ttl    time.Duration
	logger *zap.Logger
	now    func() time.Time
}

func (p *jobProgressSink) Report(placed, total int) {
	if p.cache.Enabled() {
		snapshot := models.GenerationProgress{
			JobID:     p.jobID,
			Status:    models.GenerationStatusProcessing,
			Placed:    placed,
			Total:     total,
			UpdatedAt: p.now(),
		}
		if err := p.cache.Set(p.ctx, progressKey(p.jobID), snapshot, p.ttl); err == nil {
			return
		}
	}
	if err := p.jobs.Update(p.ctx, p.jobID, repository.UpdateGenerationJobParams{Placed: &placed, Total: &total}); err != nil {
		p.logger.Sugar().Debugw("failed to store generation progress", "job_id", p.jobID, "error", err)
	}
}
