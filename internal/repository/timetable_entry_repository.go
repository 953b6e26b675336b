package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TimetableEntryRepository persists lessons placed on the school timetable.
type TimetableEntryRepository struct {
	db *sqlx.DB
}

// NewTimetableEntryRepository constructs the repository.
func NewTimetableEntryRepository(db *sqlx.DB) *TimetableEntryRepository {
	return &TimetableEntryRepository{db: db}
}

func (r *TimetableEntryRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

const listEntriesQuery = `SELECT id, school_id, teacher_id, subject_id, grade_id, section_id, day, time_slot_id, division_id, generation_job_id, created_at
FROM timetable_entries WHERE school_id = $1 ORDER BY day ASC, time_slot_id ASC`

// ListBySchool returns the current timetable of the school.
func (r *TimetableEntryRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.TimetableEntry, error) {
	return r.list(ctx, nil, schoolID)
}

// ListBySchoolWithTx reads the timetable inside an existing transaction.
func (r *TimetableEntryRepository) ListBySchoolWithTx(ctx context.Context, tx *sqlx.Tx, schoolID string) ([]models.TimetableEntry, error) {
	if tx == nil {
		return nil, fmt.Errorf("nil transaction provided")
	}
	return r.list(ctx, tx, schoolID)
}

func (r *TimetableEntryRepository) list(ctx context.Context, exec sqlx.ExtContext, schoolID string) ([]models.TimetableEntry, error) {
	var entries []models.TimetableEntry
	if err := sqlx.SelectContext(ctx, r.exec(exec), &entries, listEntriesQuery, schoolID); err != nil {
		return nil, fmt.Errorf("list timetable entries: %w", err)
	}
	return entries, nil
}

// LockSchool serialises timetable writes for a school until tx ends.
func (r *TimetableEntryRepository) LockSchool(ctx context.Context, tx *sqlx.Tx, schoolID string) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, schoolID); err != nil {
		return fmt.Errorf("lock school timetable: %w", err)
	}
	return nil
}

// BulkCreateWithTx inserts entries using an existing transaction.
func (r *TimetableEntryRepository) BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, entries []models.TimetableEntry) error {
	if tx == nil {
		return fmt.Errorf("nil transaction provided")
	}
	now := time.Now().UTC()
	const query = `INSERT INTO timetable_entries (id, school_id, teacher_id, subject_id, grade_id, section_id, day, time_slot_id, division_id, generation_job_id, created_at)
VALUES (:id, :school_id, :teacher_id, :subject_id, :grade_id, :section_id, :day, :time_slot_id, :division_id, :generation_job_id, :created_at)`
	for i := range entries {
		entry := &entries[i]
		if entry.ID == "" {
			entry.ID = uuid.NewString()
		}
		if entry.CreatedAt.IsZero() {
			entry.CreatedAt = now
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, query, entry); err != nil {
			return fmt.Errorf("insert timetable entry: %w", err)
		}
	}
	return nil
}
