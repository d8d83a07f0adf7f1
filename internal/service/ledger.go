package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// Ledger владеет состоянием бронирования слотов.
// Слот переходит Free -> Reserved только в Reserve и Reserved -> Free только в Cancel.
type Ledger struct {
	store  Store
	locks  *lock.Acquirer
	logger *zap.Logger
}

func NewLedger(store Store, locks *lock.Acquirer, logger *zap.Logger) *Ledger {
	return &Ledger{
		store:  store,
		locks:  locks,
		logger: logger,
	}
}

// Reserve бронирует свободный слот за ref
func (l *Ledger) Reserve(ctx context.Context, scheduleID string, start time.Time, ref model.ReservationRef) error {
	release, err := l.locks.AcquireAll(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return infra("ledger reserve", err)
	}
	defer release()

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		return l.reserve(ctx, tx, scheduleID, start, ref)
	})
	if err != nil {
		return infra("ledger reserve", err)
	}

	l.logger.Debug("Slot reserved",
		zap.String("schedule_id", scheduleID),
		zap.Time("start_time", start),
		zap.String("reserved_by", ref.ID),
	)

	return nil
}

// Cancel освобождает забронированный слот
func (l *Ledger) Cancel(ctx context.Context, scheduleID string, start time.Time) error {
	release, err := l.locks.AcquireAll(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return infra("ledger cancel", err)
	}
	defer release()

	err = l.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		return l.cancel(ctx, tx, scheduleID, start)
	})
	if err != nil {
		return infra("ledger cancel", err)
	}

	l.logger.Debug("Slot released",
		zap.String("schedule_id", scheduleID),
		zap.Time("start_time", start),
	)

	return nil
}

// ListFree возвращает свободные слоты по времени начала
func (l *Ledger) ListFree(ctx context.Context, scheduleID string) ([]*model.TimeSlot, error) {
	return l.list(ctx, scheduleID, false)
}

// ListReserved возвращает забронированные слоты по времени начала
func (l *Ledger) ListReserved(ctx context.Context, scheduleID string) ([]*model.TimeSlot, error) {
	return l.list(ctx, scheduleID, true)
}

func (l *Ledger) list(ctx context.Context, scheduleID string, reserved bool) ([]*model.TimeSlot, error) {
	schedule, err := l.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, infra("get schedule", err)
	}
	if schedule == nil {
		return nil, reject(ReasonNotFound, "schedule %s not found", scheduleID)
	}

	slots, err := l.store.ListSlots(ctx, scheduleID)
	if err != nil {
		return nil, infra("list slots", err)
	}

	result := make([]*model.TimeSlot, 0, len(slots))
	for _, slot := range slots {
		if slot.Reserved() == reserved {
			result = append(result, slot)
		}
	}

	return result, nil
}

// reserve и cancel ожидают, что замок расписания уже взят вызывающим.

func (l *Ledger) reserve(ctx context.Context, tx Store, scheduleID string, start time.Time, ref model.ReservationRef) error {
	slot, err := tx.GetSlot(ctx, scheduleID, start)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	if slot == nil {
		return reject(ReasonNotFound, "slot %s@%s not found", scheduleID, start.Format(time.RFC3339))
	}
	if slot.Reserved() {
		return reject(ReasonAlreadyReserved, "slot %s@%s is held by %s %s",
			scheduleID, start.Format(time.RFC3339), slot.ReservedBy.Kind, slot.ReservedBy.ID)
	}

	slot.ReservedBy = &ref
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return fmt.Errorf("update slot: %w", err)
	}

	return nil
}

func (l *Ledger) cancel(ctx context.Context, tx Store, scheduleID string, start time.Time) error {
	slot, err := tx.GetSlot(ctx, scheduleID, start)
	if err != nil {
		return fmt.Errorf("get slot: %w", err)
	}
	if slot == nil {
		return reject(ReasonNotFound, "slot %s@%s not found", scheduleID, start.Format(time.RFC3339))
	}
	if !slot.Reserved() {
		return reject(ReasonNotReserved, "slot %s@%s is free", scheduleID, start.Format(time.RFC3339))
	}

	slot.ReservedBy = nil
	if err := tx.UpdateSlot(ctx, slot); err != nil {
		return fmt.Errorf("update slot: %w", err)
	}

	return nil
}
