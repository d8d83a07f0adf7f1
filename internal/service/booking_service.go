package service

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/clock"
	"github.com/Freeeeeet/lesson_booking/internal/constraint"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// BookingService согласует публичные предложения и брони между расписанием
// предложения и личными расписаниями всех участников.
type BookingService struct {
	store     Store
	ledger    *Ledger
	schedules *ScheduleService
	locks     *lock.Acquirer
	clock     clock.Clock
	ids       IDGenerator
	notifier  Notifier
	logger    *zap.Logger
}

func NewBookingService(
	store Store,
	ledger *Ledger,
	schedules *ScheduleService,
	locks *lock.Acquirer,
	clk clock.Clock,
	ids IDGenerator,
	notifier Notifier,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		store:     store,
		ledger:    ledger,
		schedules: schedules,
		locks:     locks,
		clock:     clk,
		ids:       ids,
		notifier:  notifier,
		logger:    logger,
	}
}

// bookingPlan всё, что RequestBooking проверил до первой записи
type bookingPlan struct {
	po            *model.PublicOffering
	attendees     []*model.Client
	offeringSlots []*model.TimeSlot
	// attendee id -> slots of the personal schedule to reserve
	attendeeSlots map[string][]*model.TimeSlot
}

// RequestBooking бронирует публичное предложение для списка клиентов.
// Все проверки выполняются до первой записи: при отказе состояние не меняется.
func (s *BookingService) RequestBooking(ctx context.Context, req model.BookingRequest) (*model.Booking, error) {
	if req.PublicOfferingID == "" {
		return nil, invalid("public offering id is required")
	}
	if req.BookedByClientID == "" {
		return nil, invalid("booking client id is required")
	}
	attendeeIDs := compactIDs(req.BookedForClientIDs)
	if len(attendeeIDs) == 0 {
		return nil, invalid("at least one attendee is required")
	}

	logFields := []zap.Field{
		zap.String("public_offering_id", req.PublicOfferingID),
		zap.String("booked_by", req.BookedByClientID),
		zap.Strings("booked_for", attendeeIDs),
	}

	po, err := s.store.GetPublicOffering(ctx, req.PublicOfferingID)
	if err != nil {
		return nil, s.fail("Booking failed", infra("get public offering", err), logFields...)
	}
	if po == nil {
		return nil, s.fail("Booking rejected",
			reject(ReasonNotFound, "public offering %s not found", req.PublicOfferingID), logFields...)
	}

	// Client attributes are read-only for the core, so they are loaded once
	// and only schedules get locked.
	clients := make(map[string]*model.Client, len(attendeeIDs)+1)
	keys := []string{lock.ScheduleKey(po.ScheduleID)}
	for _, id := range append([]string{req.BookedByClientID}, attendeeIDs...) {
		if _, ok := clients[id]; ok {
			continue
		}
		client, err := s.store.GetClient(ctx, id)
		if err != nil {
			return nil, s.fail("Booking failed", infra("get client", err), logFields...)
		}
		clients[id] = client
		if client != nil && slices.Contains(attendeeIDs, id) {
			keys = append(keys, lock.ScheduleKey(client.ScheduleID))
		}
	}

	release, err := s.locks.AcquireAll(ctx, keys...)
	if err != nil {
		return nil, s.fail("Booking failed", infra("lock schedules", err), logFields...)
	}
	defer release()

	var booking *model.Booking
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		plan, err := s.planBooking(ctx, tx, req, attendeeIDs, clients)
		if err != nil {
			return err
		}
		booking, err = s.commitBooking(ctx, tx, req, plan)
		return err
	})
	if err != nil {
		return nil, s.fail("Booking rejected", infra("request booking", err), logFields...)
	}

	s.logger.Info("Booking created",
		append(logFields,
			zap.String("booking_id", booking.ID),
			zap.Int("slots", len(booking.SlotKeys)),
		)...,
	)

	return booking, nil
}

// planBooking выполняет все проверки под замками расписаний
func (s *BookingService) planBooking(
	ctx context.Context,
	tx Store,
	req model.BookingRequest,
	attendeeIDs []string,
	clients map[string]*model.Client,
) (*bookingPlan, error) {
	// 1. NotFound
	po, err := tx.GetPublicOffering(ctx, req.PublicOfferingID)
	if err != nil {
		return nil, fmt.Errorf("get public offering: %w", err)
	}
	if po == nil {
		return nil, reject(ReasonNotFound, "public offering %s not found", req.PublicOfferingID)
	}
	if clients[req.BookedByClientID] == nil {
		return nil, reject(ReasonNotFound, "client %s not found", req.BookedByClientID)
	}
	attendees := make([]*model.Client, 0, len(attendeeIDs))
	for _, id := range attendeeIDs {
		if clients[id] == nil {
			return nil, reject(ReasonNotFound, "client %s not found", id)
		}
		attendees = append(attendees, clients[id])
	}

	// 2. Full
	if po.IsFull() {
		return nil, reject(ReasonFull, "public offering %s has %d of %d bookings",
			po.ID, po.ActiveBookings(), po.MaxClients)
	}

	// 3. GuardianRequired
	for _, client := range attendees {
		var guardian *model.Client
		if client.IsMinor() && client.GuardianID != nil {
			guardian, err = tx.GetClient(ctx, *client.GuardianID)
			if err != nil {
				return nil, fmt.Errorf("get guardian: %w", err)
			}
		}
		if !constraint.HasValidGuardian(client, guardian) {
			return nil, reject(ReasonGuardianRequired, "client %s is a minor without a valid adult guardian", client.ID)
		}
	}

	// 4. ScheduleConflict
	offeringSlots, err := s.resolveOfferingSlots(ctx, tx, po, req.SlotKeys)
	if err != nil {
		return nil, err
	}
	requested := make([]model.Window, 0, len(offeringSlots))
	for _, slot := range offeringSlots {
		requested = append(requested, slot.Window())
	}

	attendeeSlots := make(map[string][]*model.TimeSlot, len(attendees))
	for _, client := range attendees {
		slots, err := s.resolveAttendeeSlots(ctx, tx, client, requested)
		if err != nil {
			return nil, err
		}
		attendeeSlots[client.ID] = slots
	}

	return &bookingPlan{
		po:            po,
		attendees:     attendees,
		offeringSlots: offeringSlots,
		attendeeSlots: attendeeSlots,
	}, nil
}

// resolveOfferingSlots сопоставляет запрошенные ключи слотам расписания
// предложения. Без ключей берётся всё окно занятия.
func (s *BookingService) resolveOfferingSlots(
	ctx context.Context,
	tx Store,
	po *model.PublicOffering,
	keys []time.Time,
) ([]*model.TimeSlot, error) {
	var slots []*model.TimeSlot

	if len(keys) == 0 {
		all, err := tx.ListSlots(ctx, po.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		for _, slot := range all {
			if po.Window.Contains(slot.Window()) {
				slots = append(slots, slot)
			}
		}
		if len(slots) == 0 {
			return nil, reject(ReasonNotFound, "no slots of schedule %s inside the lesson window", po.ScheduleID)
		}
	} else {
		seen := make(map[int64]struct{}, len(keys))
		for _, key := range keys {
			if _, ok := seen[key.UnixNano()]; ok {
				continue
			}
			seen[key.UnixNano()] = struct{}{}

			slot, err := tx.GetSlot(ctx, po.ScheduleID, key)
			if err != nil {
				return nil, fmt.Errorf("get slot: %w", err)
			}
			if slot == nil {
				return nil, reject(ReasonNotFound, "slot %s@%s not found", po.ScheduleID, key.Format(time.RFC3339))
			}
			if !po.Window.Contains(slot.Window()) {
				return nil, invalid("slot %s is outside the lesson window", key.Format(time.RFC3339))
			}
			slots = append(slots, slot)
		}
	}

	own := model.ReservationRef{Kind: model.ReservationKindPublicOffering, ID: po.ID}
	for _, slot := range slots {
		if slot.Reserved() && *slot.ReservedBy != own {
			return nil, reject(ReasonScheduleConflict, "slot %s of schedule %s is held by %s %s",
				slot.StartTime.Format(time.RFC3339), po.ScheduleID, slot.ReservedBy.Kind, slot.ReservedBy.ID)
		}
	}

	slices.SortFunc(slots, func(a, b *model.TimeSlot) int {
		return a.StartTime.Compare(b.StartTime)
	})
	return slots, nil
}

// resolveAttendeeSlots возвращает свободные личные слоты, покрывающие окна,
// или ScheduleConflict, если клиент уже занят хотя бы в одном из них.
func (s *BookingService) resolveAttendeeSlots(
	ctx context.Context,
	tx Store,
	client *model.Client,
	requested []model.Window,
) ([]*model.TimeSlot, error) {
	all, err := tx.ListSlots(ctx, client.ScheduleID)
	if err != nil {
		return nil, fmt.Errorf("list slots: %w", err)
	}

	var busy []model.Window
	for _, slot := range all {
		if slot.Reserved() {
			busy = append(busy, slot.Window())
		}
	}
	if constraint.BookingsOverlap(busy, requested) {
		return nil, reject(ReasonScheduleConflict, "client %s already has a reservation overlapping the requested time", client.ID)
	}

	var result []*model.TimeSlot
	for _, w := range requested {
		var covering []*model.TimeSlot
		for _, slot := range all {
			if slot.Window().Overlaps(w) {
				covering = append(covering, slot)
			}
		}
		if !covers(covering, w) {
			return nil, reject(ReasonNotFound, "schedule %s of client %s has no slots for %s",
				client.ScheduleID, client.ID, w.Start.Format(time.RFC3339))
		}
		for _, slot := range covering {
			if !slices.ContainsFunc(result, func(r *model.TimeSlot) bool { return r.StartTime.Equal(slot.StartTime) }) {
				result = append(result, slot)
			}
		}
	}

	return result, nil
}

// covers проверяет, что упорядоченные слоты покрывают w без дыр
func covers(slots []*model.TimeSlot, w model.Window) bool {
	cursor := w.Start
	for _, slot := range slots {
		if slot.StartTime.After(cursor) {
			return false
		}
		if slot.EndTime.After(cursor) {
			cursor = slot.EndTime
		}
	}
	return !cursor.Before(w.End)
}

func (s *BookingService) commitBooking(
	ctx context.Context,
	tx Store,
	req model.BookingRequest,
	plan *bookingPlan,
) (*model.Booking, error) {
	po := plan.po
	booking := &model.Booking{
		ID:               s.ids.NewID(),
		BookedByClientID: req.BookedByClientID,
		PublicOfferingID: po.ID,
		CreatedAt:        s.clock.Now(),
	}

	offeringRef := model.ReservationRef{Kind: model.ReservationKindPublicOffering, ID: po.ID}
	for _, slot := range plan.offeringSlots {
		// слот предложения общий для всех броней группы
		if !slot.Reserved() {
			if err := s.ledger.reserve(ctx, tx, po.ScheduleID, slot.StartTime, offeringRef); err != nil {
				return nil, err
			}
		}
		if !po.HasReservedSlot(slot.StartTime) {
			po.ReservedSlots = append(po.ReservedSlots, slot.StartTime)
		}
		booking.SlotKeys = append(booking.SlotKeys, slot.StartTime)
	}

	bookingRef := model.ReservationRef{Kind: model.ReservationKindBooking, ID: booking.ID}
	for _, client := range plan.attendees {
		for _, slot := range plan.attendeeSlots[client.ID] {
			if err := s.ledger.reserve(ctx, tx, client.ScheduleID, slot.StartTime, bookingRef); err != nil {
				return nil, err
			}
		}
		booking.BookedForClientIDs = append(booking.BookedForClientIDs, client.ID)
	}

	if err := tx.SaveBooking(ctx, booking); err != nil {
		return nil, fmt.Errorf("save booking: %w", err)
	}

	po.BookingIDs = append(po.BookingIDs, booking.ID)
	slices.SortFunc(po.ReservedSlots, time.Time.Compare)
	if err := tx.SavePublicOffering(ctx, po); err != nil {
		return nil, fmt.Errorf("save public offering: %w", err)
	}

	return booking, nil
}

// CancelBooking отменяет бронь, освобождает слоты и уведомляет клиентов
func (s *BookingService) CancelBooking(ctx context.Context, bookingID string) error {
	logFields := []zap.Field{zap.String("booking_id", bookingID)}

	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return s.fail("Cancel failed", infra("get booking", err), logFields...)
	}
	if booking == nil {
		return s.fail("Cancel rejected", reject(ReasonNotFound, "booking %s not found", bookingID), logFields...)
	}

	keys, err := s.bookingLockKeys(ctx, s.store, booking)
	if err != nil {
		return s.fail("Cancel failed", infra("collect lock keys", err), logFields...)
	}

	release, err := s.locks.AcquireAll(ctx, keys...)
	if err != nil {
		return s.fail("Cancel failed", infra("lock schedules", err), logFields...)
	}
	defer release()

	var notices []model.CancellationNotice
	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		notices, err = s.cancelBooking(ctx, tx, bookingID)
		return err
	})
	if err != nil {
		return s.fail("Cancel rejected", infra("cancel booking", err), logFields...)
	}

	s.notifier.NotifyCancellation(ctx, notices)

	s.logger.Info("Booking cancelled",
		append(logFields,
			zap.String("public_offering_id", booking.PublicOfferingID),
			zap.Int("notified", len(notices)),
		)...,
	)

	return nil
}

// bookingLockKeys возвращает расписания, которые затрагивает отмена брони
func (s *BookingService) bookingLockKeys(ctx context.Context, store Store, booking *model.Booking) ([]string, error) {
	var keys []string

	po, err := store.GetPublicOffering(ctx, booking.PublicOfferingID)
	if err != nil {
		return nil, fmt.Errorf("get public offering: %w", err)
	}
	if po != nil {
		keys = append(keys, lock.ScheduleKey(po.ScheduleID))
	}

	for _, id := range booking.BookedForClientIDs {
		client, err := store.GetClient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get client: %w", err)
		}
		if client != nil {
			keys = append(keys, lock.ScheduleKey(client.ScheduleID))
		}
	}

	return keys, nil
}

// cancelBooking ожидает, что замки из bookingLockKeys уже взяты.
// Уведомления отправляются после коммита.
func (s *BookingService) cancelBooking(ctx context.Context, tx Store, bookingID string) ([]model.CancellationNotice, error) {
	booking, err := tx.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, fmt.Errorf("get booking: %w", err)
	}
	if booking == nil {
		return nil, reject(ReasonNotFound, "booking %s not found", bookingID)
	}

	// личные слоты участников
	bookingRef := model.ReservationRef{Kind: model.ReservationKindBooking, ID: booking.ID}
	for _, id := range booking.BookedForClientIDs {
		client, err := tx.GetClient(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("get client: %w", err)
		}
		if client == nil {
			continue
		}
		slots, err := tx.ListSlots(ctx, client.ScheduleID)
		if err != nil {
			return nil, fmt.Errorf("list slots: %w", err)
		}
		for _, slot := range slots {
			if slot.Reserved() && *slot.ReservedBy == bookingRef {
				if err := s.ledger.cancel(ctx, tx, client.ScheduleID, slot.StartTime); err != nil {
					return nil, err
				}
			}
		}
	}

	po, err := tx.GetPublicOffering(ctx, booking.PublicOfferingID)
	if err != nil {
		return nil, fmt.Errorf("get public offering: %w", err)
	}

	var others []*model.Booking
	if po != nil {
		all, err := tx.ListBookingsByPublicOffering(ctx, po.ID)
		if err != nil {
			return nil, fmt.Errorf("list bookings: %w", err)
		}
		stillUsed := make(map[int64]struct{})
		for _, other := range all {
			if other.ID == booking.ID {
				continue
			}
			others = append(others, other)
			for _, key := range other.SlotKeys {
				stillUsed[key.UnixNano()] = struct{}{}
			}
		}

		// слот предложения освобождается, только если он больше никому не нужен
		offeringRef := model.ReservationRef{Kind: model.ReservationKindPublicOffering, ID: po.ID}
		for _, key := range booking.SlotKeys {
			if _, ok := stillUsed[key.UnixNano()]; ok {
				continue
			}
			slot, err := tx.GetSlot(ctx, po.ScheduleID, key)
			if err != nil {
				return nil, fmt.Errorf("get slot: %w", err)
			}
			if slot != nil && slot.Reserved() && *slot.ReservedBy == offeringRef {
				if err := s.ledger.cancel(ctx, tx, po.ScheduleID, key); err != nil {
					return nil, err
				}
			}
			po.ReservedSlots = slices.DeleteFunc(po.ReservedSlots, key.Equal)
		}

		po.BookingIDs = slices.DeleteFunc(po.BookingIDs, func(id string) bool { return id == booking.ID })
		if err := tx.SavePublicOffering(ctx, po); err != nil {
			return nil, fmt.Errorf("save public offering: %w", err)
		}
	}

	if err := tx.DeleteBooking(ctx, booking.ID); err != nil {
		return nil, fmt.Errorf("delete booking: %w", err)
	}

	return s.cancellationNotices(ctx, tx, booking, po, others)
}

// cancellationNotices адресует уведомления автору и участникам отменённой брони
// и всем, кто ещё записан на то же предложение, каждому по одному разу.
func (s *BookingService) cancellationNotices(
	ctx context.Context,
	tx Store,
	booking *model.Booking,
	po *model.PublicOffering,
	others []*model.Booking,
) ([]model.CancellationNotice, error) {
	recipients := append([]string{booking.BookedByClientID}, booking.BookedForClientIDs...)
	for _, other := range others {
		recipients = append(recipients, other.BookedByClientID)
		recipients = append(recipients, other.BookedForClientIDs...)
	}
	recipients = compactIDs(recipients)

	template := model.CancellationNotice{
		BookingID:        booking.ID,
		PublicOfferingID: booking.PublicOfferingID,
	}
	if po != nil {
		template.Window = po.Window
		offering, err := tx.GetOffering(ctx, po.OfferingID)
		if err != nil {
			return nil, fmt.Errorf("get offering: %w", err)
		}
		if offering != nil {
			template.LessonType = offering.LessonType
		}
	}

	notices := make([]model.CancellationNotice, 0, len(recipients))
	for _, id := range recipients {
		notice := template
		notice.ClientID = id
		notices = append(notices, notice)
	}
	return notices, nil
}

// GetBooking получает бронь по ID
func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*model.Booking, error) {
	booking, err := s.store.GetBooking(ctx, bookingID)
	if err != nil {
		return nil, infra("get booking", err)
	}
	if booking == nil {
		return nil, reject(ReasonNotFound, "booking %s not found", bookingID)
	}
	return booking, nil
}

// ListClientBookings возвращает брони, где клиент автор или участник, от старых к новым
func (s *BookingService) ListClientBookings(ctx context.Context, clientID string) ([]*model.Booking, error) {
	client, err := s.store.GetClient(ctx, clientID)
	if err != nil {
		return nil, infra("get client", err)
	}
	if client == nil {
		return nil, reject(ReasonNotFound, "client %s not found", clientID)
	}

	bookings, err := s.store.ListBookingsByClient(ctx, clientID)
	if err != nil {
		return nil, infra("list bookings", err)
	}
	slices.SortFunc(bookings, func(a, b *model.Booking) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})
	return bookings, nil
}

// fail логирует err с уровнем по его категории и возвращает без изменений
func (s *BookingService) fail(msg string, err error, fields ...zap.Field) error {
	if reason, ok := ReasonOf(err); ok {
		s.logger.Info(msg, append(fields, zap.String("reason", string(reason)), zap.Error(err))...)
		return err
	}
	if errors.Is(err, ErrInvalidInput) {
		s.logger.Warn(msg, append(fields, zap.Error(err))...)
		return err
	}
	s.logger.Error(msg, append(fields, zap.Error(err), zap.Bool("retryable", IsRetryable(err)))...)
	return err
}

// compactIDs убирает пустые и повторные id, оставляя первое вхождение
func compactIDs(ids []string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id != "" && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return out
}
