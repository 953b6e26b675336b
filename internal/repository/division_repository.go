package repository

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/sma-timetable-api/internal/models"
)

// DivisionRepository reads the major/group structure of a school.
type DivisionRepository struct {
	db *sqlx.DB
}

// NewDivisionRepository constructs the repository.
func NewDivisionRepository(db *sqlx.DB) *DivisionRepository {
	return &DivisionRepository{db: db}
}

// ListBySchool returns all divisions of the school. The result is never nil.
func (r *DivisionRepository) ListBySchool(ctx context.Context, schoolID string) ([]models.Division, error) {
	const query = `SELECT id, school_id, name, major_id, group_ids FROM divisions WHERE school_id = $1 ORDER BY name ASC`
	divisions := make([]models.Division, 0)
	if err := r.db.SelectContext(ctx, &divisions, query, schoolID); err != nil {
		return nil, fmt.Errorf("list divisions: %w", err)
	}
	return divisions, nil
}
