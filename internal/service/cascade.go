package service

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// maxLockAttempts ограничивает перезахват замков, если между сбором ключей
// и захватом появились новые брони.
const maxLockAttempts = 3

var errLockSetChanged = errors.New("lock set changed")

// DeletePublicOffering снимает предложение с публикации: отменяет все брони,
// освобождает слоты расписания и удаляет само предложение.
func (s *BookingService) DeletePublicOffering(ctx context.Context, publicOfferingID string) error {
	logFields := []zap.Field{zap.String("public_offering_id", publicOfferingID)}

	var (
		notices []model.CancellationNotice
		err     error
	)
	for attempt := 1; attempt <= maxLockAttempts; attempt++ {
		notices, err = s.deletePublicOfferingOnce(ctx, publicOfferingID)
		if !errors.Is(err, errLockSetChanged) {
			break
		}
		s.logger.Debug("Lock set changed, retrying", append(logFields, zap.Int("attempt", attempt))...)
	}
	if errors.Is(err, errLockSetChanged) {
		err = fmt.Errorf("%w: %w", lock.ErrLockTimeout, err)
	}
	if err != nil {
		return s.fail("Delete public offering failed", infra("delete public offering", err), logFields...)
	}

	s.notifier.NotifyCancellation(ctx, notices)

	s.logger.Info("Public offering deleted", append(logFields, zap.Int("notified", len(notices)))...)
	return nil
}

func (s *BookingService) deletePublicOfferingOnce(ctx context.Context, publicOfferingID string) ([]model.CancellationNotice, error) {
	keys, err := s.offeringLockKeys(ctx, s.store, publicOfferingID)
	if err != nil {
		return nil, err
	}

	release, err := s.locks.AcquireAll(ctx, keys...)
	if err != nil {
		return nil, err
	}
	defer release()

	var notices []model.CancellationNotice
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		needed, err := s.offeringLockKeys(ctx, tx, publicOfferingID)
		if err != nil {
			return err
		}
		for _, key := range needed {
			if !slices.Contains(keys, key) {
				return errLockSetChanged
			}
		}

		bookings, err := tx.ListBookingsByPublicOffering(ctx, publicOfferingID)
		if err != nil {
			return fmt.Errorf("list bookings: %w", err)
		}
		for _, booking := range bookings {
			sent, err := s.cancelBooking(ctx, tx, booking.ID)
			if err != nil {
				return err
			}
			notices = mergeNotices(notices, sent)
		}

		// остатки, которые не принадлежали ни одной брони
		po, err := tx.GetPublicOffering(ctx, publicOfferingID)
		if err != nil {
			return fmt.Errorf("get public offering: %w", err)
		}
		ref := model.ReservationRef{Kind: model.ReservationKindPublicOffering, ID: po.ID}
		slots, err := tx.ListSlots(ctx, po.ScheduleID)
		if err != nil {
			return fmt.Errorf("list slots: %w", err)
		}
		for _, slot := range slots {
			if slot.Reserved() && *slot.ReservedBy == ref {
				if err := s.ledger.cancel(ctx, tx, po.ScheduleID, slot.StartTime); err != nil {
					return err
				}
			}
		}

		return tx.DeletePublicOffering(ctx, publicOfferingID)
	})
	if err != nil {
		return nil, err
	}

	return notices, nil
}

// offeringLockKeys возвращает расписание предложения и расписания участников
// его броней. NotFound, если предложения уже нет.
func (s *BookingService) offeringLockKeys(ctx context.Context, store Store, publicOfferingID string) ([]string, error) {
	po, err := store.GetPublicOffering(ctx, publicOfferingID)
	if err != nil {
		return nil, fmt.Errorf("get public offering: %w", err)
	}
	if po == nil {
		return nil, reject(ReasonNotFound, "public offering %s not found", publicOfferingID)
	}

	keys := []string{lock.ScheduleKey(po.ScheduleID)}
	bookings, err := store.ListBookingsByPublicOffering(ctx, publicOfferingID)
	if err != nil {
		return nil, fmt.Errorf("list bookings: %w", err)
	}
	for _, booking := range bookings {
		bookingKeys, err := s.bookingLockKeys(ctx, store, booking)
		if err != nil {
			return nil, err
		}
		keys = append(keys, bookingKeys...)
	}

	slices.Sort(keys)
	return slices.Compact(keys), nil
}

// mergeNotices добавляет уведомления, пропуская клиентов, уже уведомлённых
// по той же брони.
func mergeNotices(dst, src []model.CancellationNotice) []model.CancellationNotice {
	for _, n := range src {
		dup := slices.ContainsFunc(dst, func(d model.CancellationNotice) bool {
			return d.ClientID == n.ClientID && d.BookingID == n.BookingID
		})
		if !dup {
			dst = append(dst, n)
		}
	}
	return dst
}

// RemoveOwner удаляет клиента, преподавателя или филиал вместе со всем,
// что на него ссылается: бронями, публичными предложениями и расписаниями.
// Шаги выполняются последовательно; при ошибке уже сделанные шаги не откатываются.
func (s *BookingService) RemoveOwner(ctx context.Context, owner model.OwnerRef) error {
	logFields := []zap.Field{zap.String("owner", owner.String())}

	var err error
	switch owner.Kind {
	case model.OwnerKindClient:
		err = s.removeClient(ctx, owner.ID)
	case model.OwnerKindInstructor:
		err = s.removeInstructor(ctx, owner.ID)
	case model.OwnerKindBranch:
		err = s.removeBranch(ctx, owner.ID)
	default:
		err = invalid("unknown owner kind %q", owner.Kind)
	}
	if err != nil {
		return s.fail("Remove owner failed", infra("remove owner", err), logFields...)
	}

	s.logger.Info("Owner removed", logFields...)
	return nil
}

func (s *BookingService) removeClient(ctx context.Context, clientID string) error {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("get client: %w", err)
	}
	if client == nil {
		return reject(ReasonNotFound, "client %s not found", clientID)
	}

	bookings, err := s.store.ListBookingsByClient(ctx, clientID)
	if err != nil {
		return fmt.Errorf("list bookings: %w", err)
	}
	for _, booking := range bookings {
		if err := s.CancelBooking(ctx, booking.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}

	if err := s.removeSchedules(ctx, clientID); err != nil {
		return err
	}
	return s.store.DeleteClient(ctx, clientID)
}

func (s *BookingService) removeInstructor(ctx context.Context, instructorID string) error {
	instructor, err := s.store.GetInstructor(ctx, instructorID)
	if err != nil {
		return fmt.Errorf("get instructor: %w", err)
	}
	if instructor == nil {
		return reject(ReasonNotFound, "instructor %s not found", instructorID)
	}

	if err := s.removePublicOfferings(ctx, PublicOfferingFilter{InstructorID: instructorID}); err != nil {
		return err
	}
	if err := s.removeSchedules(ctx, instructorID); err != nil {
		return err
	}
	return s.store.DeleteInstructor(ctx, instructorID)
}

func (s *BookingService) removeBranch(ctx context.Context, branchID string) error {
	branch, err := s.store.GetBranch(ctx, branchID)
	if err != nil {
		return fmt.Errorf("get branch: %w", err)
	}
	if branch == nil {
		return reject(ReasonNotFound, "branch %s not found", branchID)
	}

	if err := s.removePublicOfferings(ctx, PublicOfferingFilter{LocationID: branchID}); err != nil {
		return err
	}
	if err := s.removeSchedules(ctx, branchID); err != nil {
		return err
	}
	return s.store.DeleteBranch(ctx, branchID)
}

func (s *BookingService) removePublicOfferings(ctx context.Context, filter PublicOfferingFilter) error {
	offerings, err := s.store.ListPublicOfferings(ctx, filter)
	if err != nil {
		return fmt.Errorf("list public offerings: %w", err)
	}
	for _, po := range offerings {
		if err := s.DeletePublicOffering(ctx, po.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}

// removeSchedules удаляет расписания владельца вместе с опубликованными
// на них предложениями.
func (s *BookingService) removeSchedules(ctx context.Context, ownerID string) error {
	schedules, err := s.store.ListSchedulesByOwner(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("list schedules: %w", err)
	}

	if len(schedules) > 0 {
		all, err := s.store.ListPublicOfferings(ctx, PublicOfferingFilter{})
		if err != nil {
			return fmt.Errorf("list public offerings: %w", err)
		}
		for _, po := range all {
			owned := slices.ContainsFunc(schedules, func(sc *model.Schedule) bool { return sc.ID == po.ScheduleID })
			if !owned {
				continue
			}
			if err := s.DeletePublicOffering(ctx, po.ID); err != nil && !errors.Is(err, ErrNotFound) {
				return err
			}
		}
	}

	for _, schedule := range schedules {
		if err := s.schedules.DeleteSchedule(ctx, schedule.ID); err != nil && !errors.Is(err, ErrNotFound) {
			return err
		}
	}
	return nil
}
