package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
	"github.com/noah-isme/sma-timetable-api/pkg/timetable"
)

type timeSlotReader interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.TimeSlot, error)
}

type allocationReader interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.Allocation, error)
}

type divisionReader interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.Division, error)
}

type teacherConstraintReader interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.TeacherConstraint, error)
}

type timetableEntryStore interface {
	ListBySchool(ctx context.Context, schoolID string) ([]models.TimetableEntry, error)
	ListBySchoolWithTx(ctx context.Context, tx *sqlx.Tx, schoolID string) ([]models.TimetableEntry, error)
	LockSchool(ctx context.Context, tx *sqlx.Tx, schoolID string) error
	BulkCreateWithTx(ctx context.Context, tx *sqlx.Tx, entries []models.TimetableEntry) error
}

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

// TimetableSources groups the readers a generation run needs.
type TimetableSources struct {
	Slots       timeSlotReader
	Allocations allocationReader
	Divisions   divisionReader
	Constraints teacherConstraintReader
	Entries     timetableEntryStore
}

// generationInputs is everything loaded for one school before scope filtering.
type generationInputs struct {
	Input timetable.Input
	// Divisions is nil when the division records could not be loaded.
	Divisions   []timetable.Division
	DivisionErr error
}

func (s TimetableSources) loadSlots(ctx context.Context, schoolID string) ([]timetable.TimeSlot, error) {
	rows, err := s.Slots.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	slots := make([]timetable.TimeSlot, 0, len(rows))
	for _, row := range rows {
		slot, err := row.ToTimetable()
		if err != nil {
			return nil, err
		}
		slots = append(slots, slot)
	}
	return slots, nil
}

func toTimetableEntries(rows []models.TimetableEntry) []timetable.Entry {
	entries := make([]timetable.Entry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, row.ToTimetable())
	}
	return entries
}

func (s TimetableSources) loadEntries(ctx context.Context, schoolID string) ([]timetable.Entry, error) {
	rows, err := s.Entries.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, err
	}
	return toTimetableEntries(rows), nil
}

// load reads every input of a school. A division read failure is reported
// separately so the caller can decide how strictly to resolve the scope.
func (s TimetableSources) load(ctx context.Context, schoolID string, workingDays []string) (*generationInputs, error) {
	slots, err := s.loadSlots(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("load time slots: %w", err)
	}
	existing, err := s.loadEntries(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("load timetable entries: %w", err)
	}

	allocRows, err := s.Allocations.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("load allocations: %w", err)
	}
	allocations := make([]timetable.Allocation, 0, len(allocRows))
	for _, row := range allocRows {
		alloc := row.ToTimetable()
		if err := alloc.Validate(); err != nil {
			return nil, err
		}
		allocations = append(allocations, alloc)
	}

	constraintRows, err := s.Constraints.ListBySchool(ctx, schoolID)
	if err != nil {
		return nil, fmt.Errorf("load teacher constraints: %w", err)
	}
	constraints := make(map[string]timetable.TeacherConstraint, len(constraintRows))
	for _, row := range constraintRows {
		unavailable, err := row.Slots()
		if err != nil {
			return nil, err
		}
		constraints[row.TeacherID] = timetable.TeacherConstraint{UnavailableSlots: unavailable}
	}

	inputs := &generationInputs{
		Input: timetable.Input{
			TimeSlots:   slots,
			Existing:    existing,
			WorkingDays: workingDays,
			Constraints: constraints,
			Allocations: allocations,
			SchoolID:    schoolID,
		},
	}

	divisionRows, err := s.Divisions.ListBySchool(ctx, schoolID)
	if err != nil {
		inputs.DivisionErr = err
		return inputs, nil
	}
	inputs.Divisions = make([]timetable.Division, 0, len(divisionRows))
	for _, row := range divisionRows {
		inputs.Divisions = append(inputs.Divisions, row.ToTimetable())
	}
	return inputs, nil
}
