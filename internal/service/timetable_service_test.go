package service

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/dto"
	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

type timetableServiceFixture struct {
	svc     *TimetableService
	jobs    *generationJobStoreStub
	queue   *dispatcherStub
	entries *entryStoreStub
	cache   *memoryCacheRepo
}

func newTimetableServiceFixture(t *testing.T, tx txProvider, seeded ...models.GenerationJob) timetableServiceFixture {
	t.Helper()
	sources := schoolFixture()
	store := newGenerationJobStoreStub(seeded...)
	queue := &dispatcherStub{}
	cacheRepo := newMemoryCacheRepo()
	cache := NewCacheService(cacheRepo, nil, time.Minute, nil, true)
	svc := NewTimetableService(store, sources, queue, cache, tx, nil, nil, TimetableConfig{})
	return timetableServiceFixture{
		svc:     svc,
		jobs:    store,
		queue:   queue,
		entries: sources.Entries.(*entryStoreStub),
		cache:   cacheRepo,
	}
}

func finishedJob(id string, schedule ...timetable.Entry) models.GenerationJob {
	return models.GenerationJob{
		ID:       id,
		SchoolID: "school-1",
		Scope:    timetable.ScopeGlobal,
		Status:   models.GenerationStatusFinished,
		Placed:   len(schedule),
		Total:    len(schedule),
		Result: models.GenerationResult{
			Schedule: schedule,
			Failures: []timetable.Failure{},
			Stats:    models.GenerationStats{TotalLessons: len(schedule), Placed: len(schedule), Iterations: 1, StopReason: timetable.StopComplete},
		},
	}
}

func entry(teacher, grade, section, day, slot string) timetable.Entry {
	return timetable.Entry{TeacherID: teacher, SubjectID: "subj-" + teacher, Grade: grade, Section: section, Day: day, TimeSlotID: slot}
}

func TestTimetableServiceCreateJob(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)

	resp, err := fx.svc.CreateJob(context.Background(), dto.GenerateTimetableRequest{
		SchoolID:          "school-1",
		Scope:             timetable.ScopeDivision,
		ScopeID:           "science",
		Seed:              42,
		TimeBudgetSeconds: 30,
	}, "admin-1")
	require.NoError(t, err)
	assert.Equal(t, models.GenerationStatusQueued, resp.Status)
	require.NotNil(t, resp.ScopeID)
	assert.Equal(t, "science", *resp.ScopeID)

	require.Len(t, fx.queue.jobs, 1)
	queued := fx.queue.jobs[0]
	assert.Equal(t, resp.ID, queued.ID)
	assert.Equal(t, GenerationJobType, queued.Type)
	assert.Equal(t, GenerationPayload{Seed: 42, TimeBudget: 30 * time.Second}, queued.Payload)

	stored := fx.jobs.get(resp.ID)
	assert.Equal(t, "admin-1", stored.CreatedBy)
}

func TestTimetableServiceCreateJobValidation(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)

	cases := map[string]dto.GenerateTimetableRequest{
		"missing school":   {Scope: timetable.ScopeGlobal},
		"unknown scope":    {SchoolID: "school-1", Scope: "campus"},
		"missing scope id": {SchoolID: "school-1", Scope: timetable.ScopeMajor},
	}
	for name, req := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := fx.svc.CreateJob(context.Background(), req, "admin-1")
			require.Error(t, err)
			assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
		})
	}
	assert.Empty(t, fx.queue.jobs)
}

func TestTimetableServiceCreateJobEnqueueFailure(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)
	fx.queue.err = errBoom

	_, err := fx.svc.CreateJob(context.Background(), dto.GenerateTimetableRequest{SchoolID: "school-1", Scope: timetable.ScopeGlobal}, "admin-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErrors.FromError(err).Code)

	stored := fx.jobs.get("job-1")
	assert.Equal(t, models.GenerationStatusFailed, stored.Status)
	require.NotNil(t, stored.ErrorMessage)
	assert.Equal(t, "failed to enqueue job", *stored.ErrorMessage)
	assert.NotNil(t, stored.FinishedAt)
}

func TestTimetableServiceGetStatus(t *testing.T) {
	processing := models.GenerationJob{ID: "job-p", SchoolID: "school-1", Scope: timetable.ScopeGlobal, Status: models.GenerationStatusProcessing, Placed: 1, Total: 6}
	fx := newTimetableServiceFixture(t, nil, processing)

	_, err := fx.svc.GetStatus(context.Background(), "missing", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	resp, err := fx.svc.GetStatus(context.Background(), "job-p", "")
	require.NoError(t, err)
	assert.Equal(t, 1, resp.Placed)

	require.NoError(t, fx.cache.Set(context.Background(), progressKey("job-p"), models.GenerationProgress{JobID: "job-p", Placed: 4, Total: 6}, time.Minute))
	resp, err = fx.svc.GetStatus(context.Background(), "job-p", "")
	require.NoError(t, err)
	assert.Equal(t, 4, resp.Placed)
	assert.Equal(t, 6, resp.Total)
	assert.Equal(t, 66, resp.Progress)
}

func TestTimetableServiceGetResult(t *testing.T) {
	queued := models.GenerationJob{ID: "job-q", SchoolID: "school-1", Status: models.GenerationStatusQueued}
	failed := models.GenerationJob{ID: "job-f", SchoolID: "school-1", Status: models.GenerationStatusFailed, ErrorMessage: strPtr("division records are required")}
	done := finishedJob("job-d", entry("t1", "10", "A", "Monday", "p1"))
	fx := newTimetableServiceFixture(t, nil, queued, failed, done)

	_, err := fx.svc.GetResult(context.Background(), "job-q", "")
	assert.True(t, appErrors.Is(err, appErrors.ErrJobNotReady))

	_, err = fx.svc.GetResult(context.Background(), "job-f", "")
	require.True(t, appErrors.Is(err, appErrors.ErrJobNotReady))
	assert.Contains(t, err.Error(), "division records are required")

	resp, err := fx.svc.GetResult(context.Background(), "job-d", "")
	require.NoError(t, err)
	assert.True(t, resp.Complete)
	require.Len(t, resp.Schedule, 1)
	assert.Equal(t, timetable.StopComplete, resp.Stats.StopReason)
}

func TestTimetableServiceListJobs(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := fx.svc.CreateJob(ctx, dto.GenerateTimetableRequest{SchoolID: "school-1", Scope: timetable.ScopeGlobal}, "admin-1")
		require.NoError(t, err)
	}
	_, err := fx.svc.CreateJob(ctx, dto.GenerateTimetableRequest{SchoolID: "school-2", Scope: timetable.ScopeGlobal}, "admin-1")
	require.NoError(t, err)

	items, pagination, err := fx.svc.ListJobs(ctx, dto.ListGenerationJobsQuery{SchoolID: "school-1", Page: 1, PageSize: 2})
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "job-3", items[0].ID, "newest first")
	assert.Equal(t, models.Pagination{Page: 1, PageSize: 2, TotalCount: 3}, *pagination)

	items, _, err = fx.svc.ListJobs(ctx, dto.ListGenerationJobsQuery{Status: string(models.GenerationStatusFinished)})
	require.NoError(t, err)
	assert.Empty(t, items)

	_, _, err = fx.svc.ListJobs(ctx, dto.ListGenerationJobsQuery{Status: "DONE"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceValidate(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)
	fx.entries.entries = []models.TimetableEntry{
		models.NewTimetableEntry("school-1", entry("t1", "10", "A", "Monday", "p1"), ""),
	}

	result, err := fx.svc.Validate(context.Background(), dto.ValidateTimetableRequest{
		SchoolID: "school-1",
		Entries: []dto.TimetableEntryRequest{
			{TeacherID: "t1", Grade: "11", Section: "B", Day: "Monday", TimeSlotID: "p1"},
			{TeacherID: "t2", Grade: "11", Section: "B", Day: "Monday", TimeSlotID: "p2"},
			{TeacherID: "t2", Grade: "11", Section: "C", Day: "Monday", TimeSlotID: "p2"},
		},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	require.Len(t, result.Conflicts, 2)
	assert.Equal(t, timetable.ConflictTeacher, result.Conflicts[0].Type)
	assert.Equal(t, timetable.ConflictTeacher, result.Conflicts[1].Type)

	_, err = fx.svc.Validate(context.Background(), dto.ValidateTimetableRequest{SchoolID: "school-1"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceValidateEntry(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil)
	fx.entries.entries = []models.TimetableEntry{
		models.NewTimetableEntry("school-1", entry("t1", "10", "A", "Monday", "p1"), ""),
	}

	result, err := fx.svc.ValidateEntry(context.Background(), dto.ValidateEntryRequest{
		SchoolID: "school-1",
		Entry:    dto.TimetableEntryRequest{TeacherID: "t9", Grade: "10", Section: "A", Day: "Monday", TimeSlotID: "p1"},
	})
	require.NoError(t, err)
	assert.False(t, result.Valid)
	assert.Equal(t, "class 10-A already has a lesson on Monday in slot p1", result.Error)

	result, err = fx.svc.ValidateEntry(context.Background(), dto.ValidateEntryRequest{
		SchoolID: "school-1",
		Entry:    dto.TimetableEntryRequest{TeacherID: "t1", Grade: "10", Section: "A", Day: "Monday", TimeSlotID: "p2"},
	})
	require.NoError(t, err)
	assert.True(t, result.Valid)

	_, err = fx.svc.ValidateEntry(context.Background(), dto.ValidateEntryRequest{SchoolID: "school-1"})
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestTimetableServiceApply(t *testing.T) {
	tx, mock := newSQLMockTxProvider(t)
	job := finishedJob("job-1",
		entry("t1", "10", "A", "Monday", "p1"),
		entry("t2", "10", "B", "Monday", "p1"),
	)
	fx := newTimetableServiceFixture(t, tx, job)

	mock.ExpectBegin()
	mock.ExpectCommit()

	resp, err := fx.svc.Apply(context.Background(), "job-1", "")
	require.NoError(t, err)
	assert.Equal(t, 2, resp.Applied)
	assert.Equal(t, []string{"school-1"}, fx.entries.locked)
	require.Len(t, fx.entries.created, 2)
	require.NotNil(t, fx.entries.created[0].GenerationJobID)
	assert.Equal(t, "job-1", *fx.entries.created[0].GenerationJobID)
	assert.NotNil(t, fx.jobs.get("job-1").AppliedAt)
	require.NoError(t, mock.ExpectationsWereMet())

	_, err = fx.svc.Apply(context.Background(), "job-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code, "second apply is rejected")
}

func TestTimetableServiceApplyConflict(t *testing.T) {
	tx, mock := newSQLMockTxProvider(t)
	fx := newTimetableServiceFixture(t, tx, finishedJob("job-1", entry("t1", "10", "A", "Monday", "p1")))
	fx.entries.entries = []models.TimetableEntry{
		models.NewTimetableEntry("school-1", entry("t1", "11", "C", "Monday", "p1"), ""),
	}

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fx.svc.Apply(context.Background(), "job-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	assert.Empty(t, fx.entries.created)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceApplyRaceLost(t *testing.T) {
	tx, mock := newSQLMockTxProvider(t)
	fx := newTimetableServiceFixture(t, tx, finishedJob("job-1", entry("t1", "10", "A", "Monday", "p1")))
	fx.jobs.markErr = repository.ErrAlreadyApplied

	mock.ExpectBegin()
	mock.ExpectRollback()

	_, err := fx.svc.Apply(context.Background(), "job-1", "")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTimetableServiceApplyRequiresFinishedJob(t *testing.T) {
	tx, _ := newSQLMockTxProvider(t)
	fx := newTimetableServiceFixture(t, tx, models.GenerationJob{ID: "job-1", SchoolID: "school-1", Status: models.GenerationStatusProcessing})

	_, err := fx.svc.Apply(context.Background(), "job-1", "")
	assert.True(t, appErrors.Is(err, appErrors.ErrJobNotReady))
}

func TestTimetableServiceHidesOtherSchoolsJobs(t *testing.T) {
	tx, mock := newSQLMockTxProvider(t)
	fx := newTimetableServiceFixture(t, tx, finishedJob("job-1", entry("t1", "10", "A", "Monday", "p1")))

	_, err := fx.svc.GetStatus(context.Background(), "job-1", "school-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, err = fx.svc.GetResult(context.Background(), "job-1", "school-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))
	_, err = fx.svc.Apply(context.Background(), "job-1", "school-2")
	assert.True(t, appErrors.Is(err, appErrors.ErrNotFound))

	assert.Empty(t, fx.entries.locked)
	assert.Empty(t, fx.entries.created)
	assert.Nil(t, fx.jobs.get("job-1").AppliedAt)
	require.NoError(t, mock.ExpectationsWereMet())

	resp, err := fx.svc.GetStatus(context.Background(), "job-1", "school-1")
	require.NoError(t, err)
	assert.Equal(t, "school-1", resp.SchoolID)
}

func TestTimetableServiceRecoverPendingJobs(t *testing.T) {
	fx := newTimetableServiceFixture(t, nil,
		models.GenerationJob{ID: "job-a", Status: models.GenerationStatusQueued},
		models.GenerationJob{ID: "job-b", Status: models.GenerationStatusProcessing},
		finishedJob("job-c"),
	)

	fx.svc.RecoverPendingJobs(context.Background())
	require.Len(t, fx.queue.jobs, 2)
	assert.Equal(t, "job-a", fx.queue.jobs[0].ID)
	assert.Equal(t, "job-b", fx.queue.jobs[1].ID)

	fx.jobs.pendingErr = errBoom
	fx.svc.RecoverPendingJobs(context.Background())
	assert.Len(t, fx.queue.jobs, 2)
}
