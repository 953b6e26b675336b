package service

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/internal/repository"
	appErrors "github.com/noah-isme/sma-timetable-api/pkg/errors"
	"github.com/noah-isme/sma-timetable-api/pkg/jobs"
)

type generationJobStoreStub struct {
	mu         sync.Mutex
	jobs       map[string]*models.GenerationJob
	updates    []repository.UpdateGenerationJobParams
	createErr  error
	markErr    error
	pendingErr error
	seq        int
}

func newGenerationJobStoreStub(jobs ...models.GenerationJob) *generationJobStoreStub {
	stub := &generationJobStoreStub{jobs: make(map[string]*models.GenerationJob)}
	for i := range jobs {
		job := jobs[i]
		stub.jobs[job.ID] = &job
	}
	return stub
}

func (s *generationJobStoreStub) Create(ctx context.Context, job *models.GenerationJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.createErr != nil {
		return s.createErr
	}
	s.seq++
	if job.ID == "" {
		job.ID = fmt.Sprintf("job-%d", s.seq)
	}
	job.CreatedAt = time.Now().Add(time.Duration(s.seq) * time.Millisecond)
	copied := *job
	s.jobs[job.ID] = &copied
	return nil
}

func (s *generationJobStoreStub) GetByID(ctx context.Context, id string) (*models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *job
	return &copied, nil
}

func (s *generationJobStoreStub) Update(ctx context.Context, id string, params repository.UpdateGenerationJobParams) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return sql.ErrNoRows
	}
	s.updates = append(s.updates, params)
	if params.Status != nil {
		job.Status = *params.Status
	}
	if params.Placed != nil {
		job.Placed = *params.Placed
	}
	if params.Total != nil {
		job.Total = *params.Total
	}
	if params.Result != nil {
		job.Result = *params.Result
	}
	if params.ErrorMessage != nil {
		msg := *params.ErrorMessage
		job.ErrorMessage = &msg
	}
	if params.StartedAt != nil {
		job.StartedAt = params.StartedAt
	}
	if params.FinishedAt != nil {
		job.FinishedAt = params.FinishedAt
	}
	return nil
}

func (s *generationJobStoreStub) ListPending(ctx context.Context, limit int) ([]models.GenerationJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pendingErr != nil {
		return nil, s.pendingErr
	}
	var result []models.GenerationJob
	for _, job := range s.jobs {
		if job.Status == models.GenerationStatusQueued || job.Status == models.GenerationStatusProcessing {
			result = append(result, *job)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })
	return result, nil
}

func (s *generationJobStoreStub) List(ctx context.Context, filter models.GenerationJobFilter) ([]models.GenerationJob, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var matched []models.GenerationJob
	for _, job := range s.jobs {
		if filter.SchoolID != "" && job.SchoolID != filter.SchoolID {
			continue
		}
		if filter.Status != nil && job.Status != *filter.Status {
			continue
		}
		matched = append(matched, *job)
	}
	sort.Slice(matched, func(i, j int) bool { return matched[i].CreatedAt.After(matched[j].CreatedAt) })
	start := (filter.Page - 1) * filter.PageSize
	if start > len(matched) {
		start = len(matched)
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], len(matched), nil
}

func (s *generationJobStoreStub) MarkAppliedWithTx(ctx context.Context, tx *sqlx.Tx, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markErr != nil {
		return s.markErr
	}
	job := s.jobs[id]
	if job.AppliedAt != nil {
		return repository.ErrAlreadyApplied
	}
	job.AppliedAt = &at
	return nil
}

func (s *generationJobStoreStub) get(id string) models.GenerationJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type slotReaderStub struct {
	slots []models.TimeSlot
	err   error
}

func (s slotReaderStub) ListBySchool(ctx context.Context, schoolID string) ([]models.TimeSlot, error) {
	return s.slots, s.err
}

type allocationReaderStub struct {
	allocations []models.Allocation
	err         error
}

func (s allocationReaderStub) ListBySchool(ctx context.Context, schoolID string) ([]models.Allocation, error) {
	return s.allocations, s.err
}

type divisionReaderStub struct {
	divisions []models.Division
	err       error
}

func (s divisionReaderStub) ListBySchool(ctx context.Context, schoolID string) ([]models.Division, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.divisions == nil {
		return []models.Division{}, nil
	}
	return s.divisions, nil
}

type constraintReaderStub struct {
	constraints []models.TeacherConstraint
}

func (s constraintReaderStub) ListBySchool(ctx context.Context, schoolID string) ([]models.TeacherConstraint, error) {
	return s.constraints, nil
}

type entryStoreStub struct {
	mu      sync.Mutex
	entries []models.TimetableEntry
	created []models.TimetableEntry
	locked  []string
}

func (s *entryStoreStub) ListBySchool(ctx context.Context, schoolID string) ([]models.TimetableEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]models.TimetableEntry(nil), s.entries...), nil
}

func (s *entryStoreStub) ListBySchoolWithTx(ctx context.Context, tx *sqlx.Tx, schoolID string) ([]models.TimetableEntry, error) {
	return s.ListBySchool(ctx, schoolID)
}

func (s *entryStoreStub) LockSchool(ctx context.Context, tx *sqlx.Tx, schoolID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = append(s.locked, schoolID)
	return nil
}

func (s *entryStoreStub) BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, entries []models.TimetableEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.created = append(s.created, entries...)
	return nil
}

type dispatcherStub struct {
	mu   sync.Mutex
	jobs []jobs.Job
	err  error
}

func (d *dispatcherStub) Enqueue(job jobs.Job) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.err != nil {
		return d.err
	}
	d.jobs = append(d.jobs, job)
	return nil
}

// memoryCacheRepo round-trips values through JSON like the Redis repository.
type memoryCacheRepo struct {
	mu     sync.Mutex
	values map[string][]byte
	setErr error
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{values: make(map[string][]byte)}
}

func (r *memoryCacheRepo) Get(ctx context.Context, key string, dest interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	raw, ok := r.values[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (r *memoryCacheRepo) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.setErr != nil {
		return r.setErr
	}
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	r.values[key] = raw
	return nil
}

func (r *memoryCacheRepo) Delete(ctx context.Context, keys ...string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, key := range keys {
		delete(r.values, key)
	}
	return nil
}

func (r *memoryCacheRepo) has(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	_, ok := r.values[key]
	return ok
}

type sqlmockTxProvider struct {
	db *sqlx.DB
}

func (p sqlmockTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

func newSQLMockTxProvider(t *testing.T) (txProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return sqlmockTxProvider{db: sqlx.NewDb(db, "sqlmock")}, mock
}

func strPtr(v string) *string { return &v }

var errBoom = errors.New("boom")

// schoolFixture is a small school: two periods a day, two classes, three teachers.
func schoolFixture() TimetableSources {
	return TimetableSources{
		Slots: slotReaderStub{slots: []models.TimeSlot{
			{ID: "p1", SchoolID: "school-1", Name: "Period 1", SlotType: "class", StartTime: "07:00", EndTime: "07:45"},
			{ID: "p2", SchoolID: "school-1", Name: "Period 2", SlotType: "class", StartTime: "07:45", EndTime: "08:30"},
			{ID: "rest", SchoolID: "school-1", Name: "Break", SlotType: "break", StartTime: "08:30", EndTime: "08:45"},
		}},
		Allocations: allocationReaderStub{allocations: []models.Allocation{
			{ID: "a1", TeacherID: "t1", SubjectID: "math", GradeID: "10", SectionID: "A", PeriodsPerWeek: 3, DivisionID: strPtr("science")},
			{ID: "a2", TeacherID: "t2", SubjectID: "history", GradeID: "10", SectionID: "B", PeriodsPerWeek: 2, DivisionID: strPtr("social")},
			{ID: "a3", TeacherID: "t3", SubjectID: "art", GradeID: "10", SectionID: "A", PeriodsPerWeek: 1},
		}},
		Divisions: divisionReaderStub{divisions: []models.Division{
			{ID: "science", MajorID: "ipa", GroupIDs: []string{"g1"}},
			{ID: "social", MajorID: "ips", GroupIDs: []string{"g2"}},
		}},
		Constraints: constraintReaderStub{constraints: []models.TeacherConstraint{
			{TeacherID: "t1", UnavailableSlots: []byte(`["Sunday-p1"]`)},
		}},
		Entries: &entryStoreStub{},
	}
}
