package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// AllocationRepository reads weekly teaching requirements.
type AllocationRepository struct {
	db *sqlx.DB
}

// NewAllocationRepository constructs the repository.
func NewAllocationRepository(db *sqlx.DB) *AllocationRepository {
	return &AllocationRepository{db: db}
}

// ListBySchool returns allocations with a positive period count.
func (r *AllocationRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.Allocation, error) {
	const query = `SELECT id, school_id, teacher_id, subject_id, grade_id, section_id, periods_per_week, division_id, major_name, group_name
FROM teacher_allocations WHERE school_id = $1 AND periods_per_week > 0 ORDER BY teacher_id ASC, subject_id ASC, grade_id ASC, section_id ASC`
	var allocations []models.Allocation
	if err := r.db.SelectContext(ctx, &allocations, query, schoolID); err != nil {
		return nil, fmt.Errorf("list allocations: %w", err)
	}
	return allocations, nil
}
