package service

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/clock"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// SchedulePolicy задаёт нарезку слотов: слоты длиной Granularity на сетке
// от полуночи дня создания расписания, до Horizon от начала текущего дня.
type SchedulePolicy struct {
	Granularity time.Duration
	Horizon     time.Duration
}

func DefaultSchedulePolicy() SchedulePolicy {
	return SchedulePolicy{
		Granularity: 30 * time.Minute,
		Horizon:     7 * 24 * time.Hour,
	}
}

func (p SchedulePolicy) Validate() error {
	if p.Granularity <= 0 {
		return invalid("slot granularity must be positive, got %s", p.Granularity)
	}
	if p.Horizon < p.Granularity {
		return invalid("horizon %s is shorter than granularity %s", p.Horizon, p.Granularity)
	}
	return nil
}

// RefreshResult итог обновления. Pruned уже удалены; забронированные среди
// них можно сохранить для аудита.
type RefreshResult struct {
	ScheduleID string
	Pruned     []*model.TimeSlot
	Created    int
}

func (r *RefreshResult) PrunedReserved() []*model.TimeSlot {
	var out []*model.TimeSlot
	for _, slot := range r.Pruned {
		if slot.Reserved() {
			out = append(out, slot)
		}
	}
	return out
}

type ScheduleService struct {
	store  Store
	locks  *lock.Acquirer
	clock  clock.Clock
	ids    IDGenerator
	policy SchedulePolicy
	logger *zap.Logger
}

func NewScheduleService(
	store Store,
	locks *lock.Acquirer,
	clk clock.Clock,
	ids IDGenerator,
	policy SchedulePolicy,
	logger *zap.Logger,
) (*ScheduleService, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}

	return &ScheduleService{
		store:  store,
		locks:  locks,
		clock:  clk,
		ids:    ids,
		policy: policy,
		logger: logger,
	}, nil
}

type ScheduleOption func(*model.Schedule)

// WithGranularity задаёт длину слота для одного расписания
func WithGranularity(d time.Duration) ScheduleOption {
	return func(s *model.Schedule) {
		s.Granularity = d
	}
}

// CreateSchedule создаёт расписание владельца и сразу заполняет горизонт слотами
func (s *ScheduleService) CreateSchedule(ctx context.Context, owner model.OwnerRef, opts ...ScheduleOption) (*model.Schedule, error) {
	if !owner.Kind.Valid() {
		return nil, invalid("unknown owner kind %q", owner.Kind)
	}
	if owner.ID == "" {
		return nil, invalid("owner id is required")
	}

	schedule := &model.Schedule{
		ID:          s.ids.NewID(),
		Owner:       owner,
		Granularity: s.policy.Granularity,
		CreatedAt:   s.clock.Now(),
	}
	for _, opt := range opts {
		opt(schedule)
	}
	if schedule.Granularity <= 0 || schedule.Granularity > s.policy.Horizon {
		return nil, invalid("slot granularity %s out of range", schedule.Granularity)
	}

	release, err := s.locks.AcquireAll(ctx, lock.ScheduleKey(schedule.ID))
	if err != nil {
		return nil, infra("create schedule", err)
	}
	defer release()

	var created int
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		if err := tx.SaveSchedule(ctx, schedule); err != nil {
			return fmt.Errorf("save schedule: %w", err)
		}
		result, err := s.refresh(ctx, tx, schedule)
		if err != nil {
			return err
		}
		created = result.Created
		return nil
	})
	if err != nil {
		return nil, infra("create schedule", err)
	}

	s.logger.Info("Schedule created",
		zap.String("schedule_id", schedule.ID),
		zap.String("owner", owner.String()),
		zap.Duration("granularity", schedule.Granularity),
		zap.Int("slots", created),
	)

	return schedule, nil
}

// RefreshHorizon удаляет прошедшие слоты и достраивает окно до горизонта
func (s *ScheduleService) RefreshHorizon(ctx context.Context, scheduleID string) (*RefreshResult, error) {
	release, err := s.locks.AcquireAll(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return nil, infra("refresh horizon", err)
	}
	defer release()

	var result *RefreshResult
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		schedule, err := tx.GetSchedule(ctx, scheduleID)
		if err != nil {
			return fmt.Errorf("get schedule: %w", err)
		}
		if schedule == nil {
			return reject(ReasonNotFound, "schedule %s not found", scheduleID)
		}
		result, err = s.refresh(ctx, tx, schedule)
		return err
	})
	if err != nil {
		return nil, infra("refresh horizon", err)
	}

	if reserved := result.PrunedReserved(); len(reserved) > 0 {
		s.logger.Warn("Pruned reserved slots",
			zap.String("schedule_id", scheduleID),
			zap.Int("count", len(reserved)),
		)
	}
	s.logger.Debug("Horizon refreshed",
		zap.String("schedule_id", scheduleID),
		zap.Int("pruned", len(result.Pruned)),
		zap.Int("created", result.Created),
	)

	return result, nil
}

// refresh ожидает, что замок расписания уже взят.
// Живое окно: [now, midnight(now)+Horizon).
func (s *ScheduleService) refresh(ctx context.Context, tx Store, schedule *model.Schedule) (*RefreshResult, error) {
	now := s.clock.Now()

	pruned, err := tx.DeleteSlotsBefore(ctx, schedule.ID, now)
	if err != nil {
		return nil, fmt.Errorf("prune slots: %w", err)
	}
	if err := s.forgetPrunedOfferingSlots(ctx, tx, pruned); err != nil {
		return nil, err
	}

	existing, err := tx.ListSlots(ctx, schedule.ID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}
	have := make(map[int64]struct{}, len(existing))
	for _, slot := range existing {
		have[slot.StartTime.UnixNano()] = struct{}{}
	}

	horizonEnd := clock.StartOfDay(now).Add(s.policy.Horizon)

	var fresh []*model.TimeSlot
	for start := firstGridStart(schedule, now); !start.Add(schedule.Granularity).After(horizonEnd); start = start.Add(schedule.Granularity) {
		if _, ok := have[start.UnixNano()]; ok {
			continue
		}
		fresh = append(fresh, &model.TimeSlot{
			ScheduleID: schedule.ID,
			StartTime:  start,
			EndTime:    start.Add(schedule.Granularity),
		})
	}

	if len(fresh) > 0 {
		if err := tx.InsertSlots(ctx, fresh); err != nil {
			return nil, fmt.Errorf("insert slots: %w", err)
		}
	}

	return &RefreshResult{
		ScheduleID: schedule.ID,
		Pruned:     pruned,
		Created:    len(fresh),
	}, nil
}

// firstGridStart возвращает первое начало слота не раньше now. Сетка
// отсчитывается от полуночи дня создания расписания, поэтому каждое
// обновление продолжает ту же сетку при любой длине слота.
func firstGridStart(schedule *model.Schedule, now time.Time) time.Time {
	anchor := schedule.CreatedAt
	if anchor.IsZero() {
		anchor = now
	}
	origin := clock.StartOfDay(anchor.In(now.Location()))
	if !now.After(origin) {
		return origin
	}

	steps := now.Sub(origin) / schedule.Granularity
	start := origin.Add(steps * schedule.Granularity)
	if start.Before(now) {
		start = start.Add(schedule.Granularity)
	}
	return start
}

// forgetPrunedOfferingSlots убирает ключи удалённых слотов из ReservedSlots
// предложений, которые их держали.
func (s *ScheduleService) forgetPrunedOfferingSlots(ctx context.Context, tx Store, pruned []*model.TimeSlot) error {
	gone := make(map[string][]time.Time)
	var order []string
	for _, slot := range pruned {
		if !slot.Reserved() || slot.ReservedBy.Kind != model.ReservationKindPublicOffering {
			continue
		}
		id := slot.ReservedBy.ID
		if _, ok := gone[id]; !ok {
			order = append(order, id)
		}
		gone[id] = append(gone[id], slot.StartTime)
	}

	for _, id := range order {
		po, err := tx.GetPublicOffering(ctx, id)
		if err != nil {
			return fmt.Errorf("get public offering: %w", err)
		}
		if po == nil {
			continue
		}
		po.ReservedSlots = slices.DeleteFunc(po.ReservedSlots, func(key time.Time) bool {
			return slices.ContainsFunc(gone[id], key.Equal)
		})
		if err := tx.SavePublicOffering(ctx, po); err != nil {
			return fmt.Errorf("save public offering: %w", err)
		}
	}
	return nil
}

// ListScheduleIDs возвращает id всех расписаний для фонового обновления
func (s *ScheduleService) ListScheduleIDs(ctx context.Context) ([]string, error) {
	schedules, err := s.store.ListSchedules(ctx)
	if err != nil {
		return nil, infra("list schedules", err)
	}

	ids := make([]string, 0, len(schedules))
	for _, schedule := range schedules {
		ids = append(ids, schedule.ID)
	}
	return ids, nil
}

// GetSchedule получает расписание по ID
func (s *ScheduleService) GetSchedule(ctx context.Context, scheduleID string) (*model.Schedule, error) {
	schedule, err := s.store.GetSchedule(ctx, scheduleID)
	if err != nil {
		return nil, infra("get schedule", err)
	}
	if schedule == nil {
		return nil, reject(ReasonNotFound, "schedule %s not found", scheduleID)
	}
	return schedule, nil
}

// GetSchedulesByOwner получает все расписания владельца
func (s *ScheduleService) GetSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.Schedule, error) {
	schedules, err := s.store.ListSchedulesByOwner(ctx, ownerID)
	if err != nil {
		return nil, infra("get schedules by owner", err)
	}
	return schedules, nil
}

// DeleteSchedule удаляет слоты, затем само расписание
func (s *ScheduleService) DeleteSchedule(ctx context.Context, scheduleID string) error {
	release, err := s.locks.AcquireAll(ctx, lock.ScheduleKey(scheduleID))
	if err != nil {
		return infra("delete schedule", err)
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		schedule, err := tx.GetSchedule(ctx, scheduleID)
		if err != nil {
			return fmt.Errorf("get schedule: %w", err)
		}
		if schedule == nil {
			return reject(ReasonNotFound, "schedule %s not found", scheduleID)
		}
		if err := tx.DeleteSlots(ctx, scheduleID); err != nil {
			return fmt.Errorf("delete slots: %w", err)
		}
		return tx.DeleteSchedule(ctx, scheduleID)
	})
	if err != nil {
		return infra("delete schedule", err)
	}

	s.logger.Info("Schedule deleted", zap.String("schedule_id", scheduleID))
	return nil
}
