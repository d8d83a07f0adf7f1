package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/jackc/pgx/v5"
)

type OfferingRepository struct {
	*base.Repository
}

func NewOfferingRepository(db base.DBTX) *OfferingRepository {
	return &OfferingRepository{Repository: base.NewRepository(db)}
}

// GetOffering получает шаблон занятия по ID
func (r *OfferingRepository) GetOffering(ctx context.Context, id string) (*model.Offering, error) {
	query := `
		SELECT id, lesson_type, mode, capacity, duration_seconds, created_at
		FROM offerings
		WHERE id = $1
	`

	var (
		offering model.Offering
		duration int64
	)
	err := r.QueryRow(ctx, query, id).Scan(
		&offering.ID,
		&offering.LessonType,
		&offering.Mode,
		&offering.Capacity,
		&duration,
		&offering.CreatedAt,
	)

	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get offering: %w", err)
	}

	offering.Duration = time.Duration(duration) * time.Second
	return &offering, nil
}

func (r *OfferingRepository) SaveOffering(ctx context.Context, offering *model.Offering) error {
	query := `
		INSERT INTO offerings (id, lesson_type, mode, capacity, duration_seconds, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (id) DO UPDATE SET
			lesson_type = EXCLUDED.lesson_type,
			mode = EXCLUDED.mode,
			capacity = EXCLUDED.capacity,
			duration_seconds = EXCLUDED.duration_seconds
	`

	err := r.Exec(ctx, query,
		offering.ID,
		offering.LessonType,
		offering.Mode,
		offering.Capacity,
		int64(offering.Duration/time.Second),
		offering.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save offering: %w", err)
	}
	return nil
}

func (r *OfferingRepository) DeleteOffering(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM offerings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete offering: %w", err)
	}
	return nil
}

// Booking ids are derived from the bookings table, reserved slots from
// public_offering_slots.
const publicOfferingSelect = `
	SELECT po.id, po.offering_id, po.instructor_id, po.location_id, po.schedule_id,
	       po.max_clients, po.starts_at, po.ends_at, po.created_at,
	       COALESCE(
	           (SELECT array_agg(s.start_time ORDER BY s.start_time)
	            FROM public_offering_slots s
	            WHERE s.public_offering_id = po.id),
	           '{}'::timestamptz[]
	       ),
	       COALESCE(
	           (SELECT array_agg(b.id ORDER BY b.created_at, b.id)
	            FROM bookings b
	            WHERE b.public_offering_id = po.id),
	           '{}'::text[]
	       )
	FROM public_offerings po
`

func scanPublicOffering(row pgx.Row) (*model.PublicOffering, error) {
	var po model.PublicOffering
	err := row.Scan(
		&po.ID,
		&po.OfferingID,
		&po.InstructorID,
		&po.LocationID,
		&po.ScheduleID,
		&po.MaxClients,
		&po.Window.Start,
		&po.Window.End,
		&po.CreatedAt,
		&po.ReservedSlots,
		&po.BookingIDs,
	)
	if err != nil {
		return nil, err
	}
	return &po, nil
}

// GetPublicOffering получает опубликованное предложение по ID
func (r *OfferingRepository) GetPublicOffering(ctx context.Context, id string) (*model.PublicOffering, error) {
	po, err := scanPublicOffering(r.QueryRow(ctx, publicOfferingSelect+` WHERE po.id = $1`, id))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get public offering: %w", err)
	}
	return po, nil
}

// SavePublicOffering создаёт или обновляет предложение и заменяет набор его слотов
func (r *OfferingRepository) SavePublicOffering(ctx context.Context, po *model.PublicOffering) error {
	query := `
		INSERT INTO public_offerings (id, offering_id, instructor_id, location_id, schedule_id,
		                              max_clients, starts_at, ends_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			max_clients = EXCLUDED.max_clients
	`

	err := r.Exec(ctx, query,
		po.ID,
		po.OfferingID,
		po.InstructorID,
		po.LocationID,
		po.ScheduleID,
		po.MaxClients,
		po.Window.Start,
		po.Window.End,
		po.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("save public offering: %w", err)
	}

	if err := r.Exec(ctx, `DELETE FROM public_offering_slots WHERE public_offering_id = $1`, po.ID); err != nil {
		return fmt.Errorf("clear public offering slots: %w", err)
	}
	if len(po.ReservedSlots) > 0 {
		err = r.Exec(ctx, `
			INSERT INTO public_offering_slots (public_offering_id, start_time)
			SELECT $1, unnest($2::timestamptz[])
			ON CONFLICT DO NOTHING
		`, po.ID, po.ReservedSlots)
		if err != nil {
			return fmt.Errorf("save public offering slots: %w", err)
		}
	}

	return nil
}

func (r *OfferingRepository) DeletePublicOffering(ctx context.Context, id string) error {
	if err := r.Exec(ctx, `DELETE FROM public_offering_slots WHERE public_offering_id = $1`, id); err != nil {
		return fmt.Errorf("delete public offering slots: %w", err)
	}
	if err := r.Exec(ctx, `DELETE FROM public_offerings WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete public offering: %w", err)
	}
	return nil
}

// ListPublicOfferings returns offerings matching the filter ordered by start time
func (r *OfferingRepository) ListPublicOfferings(ctx context.Context, filter service.PublicOfferingFilter) ([]*model.PublicOffering, error) {
	query := publicOfferingSelect + `
		WHERE ($1 = '' OR po.location_id = $1)
		  AND ($2 = '' OR po.instructor_id = $2)
		  AND ($3 = '' OR po.offering_id = $3)
		ORDER BY po.starts_at, po.id
	`

	rows, err := r.Query(ctx, query, filter.LocationID, filter.InstructorID, filter.OfferingID)
	if err != nil {
		return nil, fmt.Errorf("list public offerings: %w", err)
	}
	defer rows.Close()

	var offerings []*model.PublicOffering
	for rows.Next() {
		po, err := scanPublicOffering(rows)
		if err != nil {
			return nil, fmt.Errorf("scan public offering: %w", err)
		}
		offerings = append(offerings, po)
	}

	return offerings, rows.Err()
}
