package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
)

type InstructorRepository struct {
	*base.Repository
}

func NewInstructorRepository(db base.DBTX) *InstructorRepository {
	return &InstructorRepository{Repository: base.NewRepository(db)}
}

// GetInstructor получает преподавателя вместе со списком локаций
func (r *InstructorRepository) GetInstructor(ctx context.Context, id string) (*model.Instructor, error) {
	query := `
		SELECT i.id, i.name, i.specialization, i.schedule_id, i.created_at,
		       COALESCE(
		           (SELECT array_agg(l.location_id ORDER BY l.location_id)
		            FROM instructor_locations l
		            WHERE l.instructor_id = i.id),
		           '{}'::text[]
		       )
		FROM instructors i
		WHERE i.id = $1
	`

	var instructor model.Instructor
	err := r.QueryRow(ctx, query, id).Scan(
		&instructor.ID,
		&instructor.Name,
		&instructor.Specialization,
		&instructor.ScheduleID,
		&instructor.CreatedAt,
		&instructor.AvailableLocations,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get instructor: %w", err)
	}

	return &instructor, nil
}

// SaveInstructor создаёт или обновляет преподавателя и заменяет его локации
func (r *InstructorRepository) SaveInstructor(ctx context.Context, instructor *model.Instructor) error {
	query := `
		INSERT INTO instructors (id, name, specialization, schedule_id, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			specialization = EXCLUDED.specialization,
			schedule_id = EXCLUDED.schedule_id
	`

	err := r.Exec(ctx, query,
		instructor.ID,
		instructor.Name,
		instructor.Specialization,
		instructor.ScheduleID,
		instructor.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save instructor: %w", err)
	}

	if err := r.Exec(ctx, `DELETE FROM instructor_locations WHERE instructor_id = $1`, instructor.ID); err != nil {
		return fmt.Errorf("clear instructor locations: %w", err)
	}

	if len(instructor.AvailableLocations) > 0 {
		err = r.Exec(ctx, `
			INSERT INTO instructor_locations (instructor_id, location_id)
			SELECT $1, unnest($2::text[])
			ON CONFLICT DO NOTHING
		`, instructor.ID, instructor.AvailableLocations)
		if err != nil {
			return fmt.Errorf("save instructor locations: %w", err)
		}
	}

	return nil
}

func (r *InstructorRepository) DeleteInstructor(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM instructor_locations WHERE instructor_id = $1`, id); err != nil {
		return fmt.Errorf("delete instructor locations: %w", err)
	}
	if err := r.Exec(ctx, `DELETE FROM instructors WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete instructor: %w", err)
	}
	return nil
}
