package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type ScheduleRepository struct {
	*base.Repository
}

func NewScheduleRepository(db base.DBTX) *ScheduleRepository {
	return &ScheduleRepository{Repository: base.NewRepository(db)}
}

const scheduleColumns = `id, owner_kind, owner_id, granularity_seconds, created_at`

func scanSchedule(row pgx.Row) (*model.Schedule, error) {
	var (
		schedule    model.Schedule
		granularity int64
	)
	err := row.Scan(
		&schedule.ID,
		&schedule.Owner.Kind,
		&schedule.Owner.ID,
		&granularity,
		&schedule.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	schedule.Granularity = time.Duration(granularity) * time.Second
	return &schedule, nil
}

// GetSchedule получает расписание по ID
func (r *ScheduleRepository) GetSchedule(ctx context.Context, id string) (*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE id = $1`

	schedule, err := scanSchedule(r.QueryRow(ctx, query, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get schedule: %w", err)
	}

	return schedule, nil
}

func (r *ScheduleRepository) SaveSchedule(ctx context.Context, schedule *model.Schedule) error {
	query := `
		INSERT INTO schedules (id, owner_kind, owner_id, granularity_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			owner_kind = EXCLUDED.owner_kind,
			owner_id = EXCLUDED.owner_id,
			granularity_seconds = EXCLUDED.granularity_seconds
	`

	err := r.Exec(ctx, query,
		schedule.ID,
		schedule.Owner.Kind,
		schedule.Owner.ID,
		int64(schedule.Granularity/time.Second),
		schedule.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) DeleteSchedule(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete schedule: %w", err)
	}
	return nil
}

func (r *ScheduleRepository) ListSchedules(ctx context.Context) ([]*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules ORDER BY created_at, id`
	return r.list(ctx, query)
}

// ListSchedulesByOwner получает все расписания владельца
func (r *ScheduleRepository) ListSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.Schedule, error) {
	query := `SELECT ` + scheduleColumns + ` FROM schedules WHERE owner_id = $1 ORDER BY created_at, id`
	return r.list(ctx, query, ownerID)
}

func (r *ScheduleRepository) list(ctx context.Context, query string, args ...any) ([]*model.Schedule, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list schedules: %w", err)
	}
	defer rows.Close()

	var schedules []*model.Schedule
	for rows.Next() {
		schedule, err := scanSchedule(rows)
		if err != nil {
			return nil, fmt.Errorf("scan schedule: %w", err)
		}
		schedules = append(schedules, schedule)
	}

	return schedules, rows.Err()
}
