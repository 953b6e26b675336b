package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// ErrAlreadyApplied is returned when a job's schedule has been written before.
var ErrAlreadyApplied = errors.New("generation job already applied")

const generationJobColumns = `id, school_id, scope, scope_id, status, placed, total, result, error_message, created_by, created_at, started_at, finished_at, applied_at`

// GenerationJobRepository persists timetable generation jobs.
type GenerationJobRepository struct {
	db *sqlx.DB
}

// NewGenerationJobRepository constructs the repository.
func NewGenerationJobRepository(db *sqlx.DB) *GenerationJobRepository {
	return &GenerationJobRepository{db: db}
}

// Create inserts a new job row with generated defaults.
func (r *GenerationJobRepository) Create(ctx context.Context, job *models.GenerationJob) error {
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if job.Status == "" {
		job.Status = models.GenerationStatusQueued
	}
	if job.CreatedAt.IsZero() {
		job.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO generation_jobs (id, school_id, scope, scope_id, status, placed, total, result, error_message, created_by, created_at)
VALUES (:id, :school_id, :scope, :scope_id, :status, :placed, :total, :result, :error_message, :created_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, job); err != nil {
		return fmt.Errorf("create generation job: %w", err)
	}
	return nil
}

// GetByID returns a job row by its identifier.
func (r *GenerationJobRepository) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE id = $1`
	var job models.GenerationJob
	if err := r.db.GetContext(ctx, &job, query, id); err != nil {
		return nil, fmt.Errorf("get generation job: %w", err)
	}
	return &job, nil
}

// UpdateGenerationJobParams defines the mutable fields.
type UpdateGenerationJobParams struct {
	Status       *models.GenerationStatus
	Placed       *int
	Total        *int
	Result       *models.GenerationResult
	ErrorMessage *string
	StartedAt    *time.Time
	FinishedAt   *time.Time
}

// Update persists the provided changes for a job row.
func (r *GenerationJobRepository) Update(ctx context.Context, id string, params UpdateGenerationJobParams) error {
	set := make([]string, 0, 7)
	args := make([]interface{}, 0, 8)
	add := func(column string, value interface{}) {
		args = append(args, value)
		set = append(set, fmt.Sprintf("%s = $%d", column, len(args)))
	}

	if params.Status != nil {
		add("status", *params.Status)
	}
	if params.Placed != nil {
		add("placed", *params.Placed)
	}
	if params.Total != nil {
		add("total", *params.Total)
	}
	if params.Result != nil {
		add("result", *params.Result)
	}
	if params.ErrorMessage != nil {
		add("error_message", *params.ErrorMessage)
	}
	if params.StartedAt != nil {
		add("started_at", *params.StartedAt)
	}
	if params.FinishedAt != nil {
		add("finished_at", *params.FinishedAt)
	}

	if len(set) == 0 {
		return nil
	}

	args = append(args, id)
	query := fmt.Sprintf("UPDATE generation_jobs SET %s WHERE id = $%d", strings.Join(set, ", "), len(args))

	if _, err := r.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("update generation job: %w", err)
	}
	return nil
}

// MarkAppliedWithTx stamps applied_at once. A second call returns ErrAlreadyApplied.
func (r *GenerationJobRepository) MarkAppliedWithTx(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	res, err := tx.ExecContext(ctx, `UPDATE generation_jobs SET applied_at = $1 WHERE id = $2 AND applied_at IS NULL`, at, id)
	if err != nil {
		return fmt.Errorf("mark generation job applied: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark generation job applied: %w", err)
	}
	if affected == 0 {
		return ErrAlreadyApplied
	}
	return nil
}

// ListPending fetches jobs that are queued or were interrupted while
// processing (used for cold start recovery).
func (r *GenerationJobRepository) ListPending(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `SELECT ` + generationJobColumns + ` FROM generation_jobs WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1`
	var jobs []models.GenerationJob
	if err := r.db.SelectContext(ctx, &jobs, query, limit); err != nil {
		return nil, fmt.Errorf("list pending generation jobs: %w", err)
	}
	return jobs, nil
}

// List returns a page of jobs, newest first, and the total number of matches.
func (r *GenerationJobRepository) List(ctx context.Context, filter models.GenerationJobFilter) ([]models.GenerationJob, int, error) {
	conditions := make([]string, 0, 2)
	args := make([]interface{}, 0, 4)
	if filter.SchoolID != "" {
		args = append(args, filter.SchoolID)
		conditions = append(conditions, fmt.Sprintf("school_id = $%d", len(args)))
	}
	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM generation_jobs"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count generation jobs: %w", err)
	}

	page, size := filter.Page, filter.PageSize
	if page <= 0 {
		page = 1
	}
	if size <= 0 {
		size = 20
	}
	args = append(args, size, (page-1)*size)
	query := fmt.Sprintf("SELECT %s FROM generation_jobs%s ORDER BY created_at DESC LIMIT $%d OFFSET $%d", generationJobColumns, where, len(args)-1, len(args))

	var jobs []models.GenerationJob
	if err := r.db.SelectContext(ctx, &jobs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list generation jobs: %w", err)
	}
	return jobs, total, nil
}
