package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

func newRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

var jobRowColumns = []string{"id", "school_id", "scope", "scope_id", "status", "placed", "total", "result", "error_message", "created_by", "created_at", "started_at", "finished_at", "applied_at"}

func TestGenerationJobRepositoryCreateAndGet(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationJobRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO generation_jobs")).
		WithArgs(sqlmock.AnyArg(), "school-1", "division", "div-1", "QUEUED", 0, 0, nil, nil, "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	scopeID := "div-1"
	job := &models.GenerationJob{
		SchoolID:  "school-1",
		Scope:     timetable.ScopeDivision,
		ScopeID:   &scopeID,
		CreatedBy: "admin-1",
	}
	require.NoError(t, repo.Create(context.Background(), job))
	require.NotEmpty(t, job.ID)
	assert.Equal(t, models.GenerationStatusQueued, job.Status)

	result := `{"schedule":[{"teacherId":"t1","subjectId":"math","grade":"10","section":"A","day":"Monday","timeSlotId":"p1"}],"failures":[],"stats":{"total_lessons":1,"placed":1,"iterations":1,"elapsed_ms":3,"stop_reason":"complete"}}`
	rows := sqlmock.NewRows(jobRowColumns).
		AddRow(job.ID, "school-1", "division", "div-1", "FINISHED", 1, 1, []byte(result), nil, "admin-1", time.Now(), time.Now(), time.Now(), nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE id = $1")).
		WithArgs(job.ID).
		WillReturnRows(rows)

	fetched, err := repo.GetByID(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusFinished, fetched.Status)
	require.Len(t, fetched.Result.Schedule, 1)
	assert.Equal(t, "p1", fetched.Result.Schedule[0].TimeSlotID)
	assert.Equal(t, timetable.StopComplete, fetched.Result.Stats.StopReason)
	assert.Nil(t, fetched.AppliedAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationJobRepositoryUpdate(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationJobRepository(db)

	now := time.Now()
	status := models.GenerationStatusProcessing
	placed, total := 12, 40
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs SET status = $1, placed = $2, total = $3, started_at = $4 WHERE id = $5")).
		WithArgs(status, placed, total, now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := repo.Update(context.Background(), "job-1", UpdateGenerationJobParams{
		Status:    &status,
		Placed:    &placed,
		Total:     &total,
		StartedAt: &now,
	})
	require.NoError(t, err)

	require.NoError(t, repo.Update(context.Background(), "job-1", UpdateGenerationJobParams{}), "empty update is a no-op")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationJobRepositoryMarkApplied(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationJobRepository(db)

	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs SET applied_at = $1 WHERE id = $2 AND applied_at IS NULL")).
		WithArgs(now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE generation_jobs SET applied_at = $1 WHERE id = $2 AND applied_at IS NULL")).
		WithArgs(now, "job-1").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.MarkAppliedWithTx(context.Background(), tx, "job-1", now))
	require.ErrorIs(t, repo.MarkAppliedWithTx(context.Background(), tx, "job-1", now), ErrAlreadyApplied)
	require.NoError(t, tx.Rollback())

	require.Error(t, repo.MarkAppliedWithTx(context.Background(), nil, "job-1", now))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationJobRepositoryListPending(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationJobRepository(db)

	rows := sqlmock.NewRows(jobRowColumns).
		AddRow("job-1", "school-1", "global", nil, "QUEUED", 0, 0, nil, nil, "admin-1", time.Now(), nil, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE status IN ('QUEUED', 'PROCESSING') ORDER BY created_at ASC LIMIT $1")).
		WithArgs(20).
		WillReturnRows(rows)

	jobs, err := repo.ListPending(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Nil(t, jobs[0].ScopeID)
	assert.True(t, jobs[0].Result.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGenerationJobRepositoryList(t *testing.T) {
	db, mock, cleanup := newRepoMock(t)
	defer cleanup()
	repo := NewGenerationJobRepository(db)

	status := models.GenerationStatusFinished
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM generation_jobs WHERE school_id = $1 AND status = $2")).
		WithArgs("school-1", status).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("FROM generation_jobs WHERE school_id = $1 AND status = $2 ORDER BY created_at DESC LIMIT $3 OFFSET $4")).
		WithArgs("school-1", status, 5, 5).
		WillReturnRows(sqlmock.NewRows(jobRowColumns).
			AddRow("job-6", "school-1", "global", nil, "FINISHED", 3, 3, nil, nil, "admin-1", time.Now(), nil, nil, nil))

	jobs, total, err := repo.List(context.Background(), models.GenerationJobFilter{SchoolID: "school-1", Status: &status, Page: 2, PageSize: 5})
	require.NoError(t, err)
	assert.Equal(t, 7, total)
	require.Len(t, jobs, 1)
	assert.Equal(t, "job-6", jobs[0].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}
