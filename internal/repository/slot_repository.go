package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type SlotRepository struct {
	*base.Repository
}

func NewSlotRepository(db base.DBTX) *SlotRepository {
	return &SlotRepository{Repository: base.NewRepository(db)}
}

const slotColumns = `schedule_id, start_time, end_time, reserved_by_kind, reserved_by_id`

func scanSlot(row pgx.Row) (*model.TimeSlot, error) {
	var (
		slot model.TimeSlot
		kind *string
		id   *string
	)
	err := row.Scan(&slot.ScheduleID, &slot.StartTime, &slot.EndTime, &kind, &id)
	if err != nil {
		return nil, err
	}
	if kind != nil && id != nil {
		slot.ReservedBy = &model.ReservationRef{Kind: model.ReservationKind(*kind), ID: *id}
	}
	return &slot, nil
}

func collectSlots(rows pgx.Rows) ([]*model.TimeSlot, error) {
	defer rows.Close()

	var slots []*model.TimeSlot
	for rows.Next() {
		slot, err := scanSlot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan slot: %w", err)
		}
		slots = append(slots, slot)
	}
	return slots, rows.Err()
}

// GetSlot получает слот по ключу (расписание, время начала)
func (r *SlotRepository) GetSlot(ctx context.Context, scheduleID string, start time.Time) (*model.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE schedule_id = $1 AND start_time = $2`

	slot, err := scanSlot(r.QueryRow(ctx, query, scheduleID, start))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get slot: %w", err)
	}

	return slot, nil
}

// ListSlots получает все слоты расписания по возрастанию времени
func (r *SlotRepository) ListSlots(ctx context.Context, scheduleID string) ([]*model.TimeSlot, error) {
	query := `SELECT ` + slotColumns + ` FROM time_slots WHERE schedule_id = $1 ORDER BY start_time`

	rows, err := r.Query(ctx, query, scheduleID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	return collectSlots(rows)
}

// InsertSlots добавляет слоты, уже существующие ключи пропускаются
func (r *SlotRepository) InsertSlots(ctx context.Context, slots []*model.TimeSlot) error {
	if len(slots) == 0 {
		return nil
	}

	scheduleIDs := make([]string, len(slots))
	starts := make([]time.Time, len(slots))
	ends := make([]time.Time, len(slots))
	for i, slot := range slots {
		scheduleIDs[i] = slot.ScheduleID
		starts[i] = slot.StartTime
		ends[i] = slot.EndTime
	}

	query := `
		INSERT INTO time_slots (schedule_id, start_time, end_time)
		SELECT * FROM unnest($1::text[], $2::timestamptz[], $3::timestamptz[])
		ON CONFLICT (schedule_id, start_time) DO NOTHING
	`

	if err := r.Exec(ctx, query, scheduleIDs, starts, ends); err != nil {
		return fmt.Errorf("insert slots: %w", err)
	}
	return nil
}

// UpdateSlot сохраняет состояние бронирования слота
func (r *SlotRepository) UpdateSlot(ctx context.Context, slot *model.TimeSlot) error {
	var kind, id *string
	if slot.ReservedBy != nil {
		k := string(slot.ReservedBy.Kind)
		kind, id = &k, &slot.ReservedBy.ID
	}

	query := `
		UPDATE time_slots
		SET reserved_by_kind = $3, reserved_by_id = $4
		WHERE schedule_id = $1 AND start_time = $2
	`

	if err := r.Exec(ctx, query, slot.ScheduleID, slot.StartTime, kind, id); err != nil {
		return fmt.Errorf("update slot: %w", err)
	}
	return nil
}

// DeleteSlotsBefore удаляет прошедшие слоты и возвращает их
func (r *SlotRepository) DeleteSlotsBefore(ctx context.Context, scheduleID string, before time.Time) ([]*model.TimeSlot, error) {
	query := `
		WITH deleted AS (
			DELETE FROM time_slots
			WHERE schedule_id = $1 AND start_time < $2
			RETURNING ` + slotColumns + `
		)
		SELECT ` + slotColumns + ` FROM deleted ORDER BY start_time
	`

	rows, err := r.Query(ctx, query, scheduleID, before)
	if err != nil {
		return nil, fmt.Errorf("delete slots before: %w", err)
	}
	return collectSlots(rows)
}

func (r *SlotRepository) DeleteSlots(ctx context.Context, scheduleID string) error {
	if err := r.Exec(ctx, `DELETE FROM time_slots WHERE schedule_id = $1`, scheduleID); err != nil {
		return fmt.Errorf("delete slots: %w", err)
	}
	return nil
}
