package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TimeSlotRepository reads the weekly slot grid of a school.
type TimeSlotRepository struct {
	db *sqlx.DB
}

// NewTimeSlotRepository constructs the repository.
func NewTimeSlotRepository(db *sqlx.DB) *TimeSlotRepository {
	return &TimeSlotRepository{db: db}
}

// ListBySchool returns every slot of the school ordered by start time.
func (r *TimeSlotRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.TimeSlot, error) {
	const query = `SELECT id, school_id, day, name, slot_type, to_char(start_time, 'HH24:MI') AS start_time, to_char(end_time, 'HH24:MI') AS end_time, division_id, created_at
FROM time_slots WHERE school_id = $1 ORDER BY start_time ASC, id ASC`
	var slots []models.TimeSlot
	if err := r.db.SelectContext(ctx, &slots, query, schoolID); err != nil {
		return nil, fmt.Errorf("list time slots: %w", err)
	}
	return slots, nil
}
