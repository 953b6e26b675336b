package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// TeacherConstraintRepository reads teacher unavailability.
type TeacherConstraintRepository struct {
	db *sqlx.DB
}

// NewTeacherConstraintRepository constructs the repository.
func NewTeacherConstraintRepository(db *sqlx.DB) *TeacherConstraintRepository {
	return &TeacherConstraintRepository{db: db}
}

// ListBySchool returns one row per constrained teacher.
func (r *TeacherConstraintRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.TeacherConstraint, error) {
	const query = `SELECT teacher_id, school_id, unavailable_slots, updated_at FROM teacher_constraints WHERE school_id = $1`
	var constraints []models.TeacherConstraint
	if err := r.db.SelectContext(ctx, &constraints, query, schoolID); err != nil {
		return nil, fmt.Errorf("list teacher constraints: %w", err)
	}
	return constraints, nil
}
