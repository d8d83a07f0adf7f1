package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
)

type BranchRepository struct {
	*base.Repository
}

func NewBranchRepository(db base.DBTX) *BranchRepository {
	return &BranchRepository{Repository: base.NewRepository(db)}
}

func (r *BranchRepository) GetBranch(ctx context.Context, id string) (*model.Branch, error) {
	query := `
		SELECT id, name, city_id, schedule_id, created_at
		FROM branches
		WHERE id = $1
	`

	var branch model.Branch
	err := r.QueryRow(ctx, query, id).Scan(
		&branch.ID,
		&branch.Name,
		&branch.CityID,
		&branch.ScheduleID,
		&branch.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get branch: %w", err)
	}

	return &branch, nil
}

func (r *BranchRepository) SaveBranch(ctx context.Context, branch *model.Branch) error {
	query := `
		INSERT INTO branches (id, name, city_id, schedule_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			city_id = EXCLUDED.city_id,
			schedule_id = EXCLUDED.schedule_id
	`

	err := r.Exec(ctx, query, branch.ID, branch.Name, branch.CityID, branch.ScheduleID, branch.CreatedAt)
	if err != nil {
		return fmt.Errorf("save branch: %w", err)
	}
	return nil
}

func (r *BranchRepository) DeleteBranch(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM branches WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete branch: %w", err)
	}
	return nil
}
