package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/Freeeeeet/lesson_booking/internal/constraint"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
)

// PublishOffering публикует шаблон занятия: преподаватель, локация, время.
// На одной локации не может быть двух пересекающихся по времени предложений.
func (s *BookingService) PublishOffering(ctx context.Context, req model.PublishRequest) (*model.PublicOffering, error) {
	logFields := []zap.Field{
		zap.String("offering_id", req.OfferingID),
		zap.String("instructor_id", req.InstructorID),
		zap.String("location_id", req.LocationID),
		zap.Time("start", req.Start),
	}

	if req.OfferingID == "" || req.InstructorID == "" || req.LocationID == "" || req.ScheduleID == "" {
		return nil, s.fail("Publish rejected", invalid("offering, instructor, location and schedule ids are required"), logFields...)
	}
	if req.MaxClients <= 0 {
		return nil, s.fail("Publish rejected", invalid("max clients must be positive, got %d", req.MaxClients), logFields...)
	}
	if req.Start.IsZero() {
		return nil, s.fail("Publish rejected", invalid("start time is required"), logFields...)
	}

	offering, err := s.store.GetOffering(ctx, req.OfferingID)
	if err != nil {
		return nil, s.fail("Publish failed", infra("get offering", err), logFields...)
	}
	if offering == nil {
		return nil, s.fail("Publish rejected", reject(ReasonNotFound, "offering %s not found", req.OfferingID), logFields...)
	}
	if err := checkCapacity(offering, req.MaxClients); err != nil {
		return nil, s.fail("Publish rejected", err, logFields...)
	}

	instructor, err := s.store.GetInstructor(ctx, req.InstructorID)
	if err != nil {
		return nil, s.fail("Publish failed", infra("get instructor", err), logFields...)
	}
	if instructor == nil {
		return nil, s.fail("Publish rejected", reject(ReasonNotFound, "instructor %s not found", req.InstructorID), logFields...)
	}
	if !constraint.IsEligibleLocation(instructor, req.LocationID) {
		return nil, s.fail("Publish rejected", reject(ReasonLocationIneligible,
			"instructor %s does not teach at %s", instructor.ID, req.LocationID), logFields...)
	}

	schedule, err := s.store.GetSchedule(ctx, req.ScheduleID)
	if err != nil {
		return nil, s.fail("Publish failed", infra("get schedule", err), logFields...)
	}
	if schedule == nil {
		return nil, s.fail("Publish rejected", reject(ReasonNotFound, "schedule %s not found", req.ScheduleID), logFields...)
	}

	po := &model.PublicOffering{
		ID:           s.ids.NewID(),
		OfferingID:   offering.ID,
		InstructorID: instructor.ID,
		LocationID:   req.LocationID,
		ScheduleID:   schedule.ID,
		MaxClients:   req.MaxClients,
		Window: model.Window{
			Start: req.Start,
			End:   req.Start.Add(offering.Duration),
		},
		CreatedAt: s.clock.Now(),
	}

	release, err := s.locks.AcquireAll(ctx,
		lock.LocationKey(req.LocationID),
		lock.OfferingKey(offering.ID),
		lock.ScheduleKey(schedule.ID),
	)
	if err != nil {
		return nil, s.fail("Publish failed", infra("lock location", err), logFields...)
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		published, err := tx.ListPublicOfferings(ctx, PublicOfferingFilter{OfferingID: offering.ID})
		if err != nil {
			return fmt.Errorf("list public offerings: %w", err)
		}
		if len(published) > 0 {
			return reject(ReasonDuplicateOffering, "offering %s is already published as %s", offering.ID, published[0].ID)
		}

		atLocation, err := tx.ListPublicOfferings(ctx, PublicOfferingFilter{LocationID: req.LocationID})
		if err != nil {
			return fmt.Errorf("list public offerings: %w", err)
		}
		if other := constraint.FirstOfferingConflict(po, atLocation); other != nil {
			return reject(ReasonDuplicateOffering, "location %s is taken by %s during %s - %s",
				req.LocationID, other.ID, other.Window.Start.Format("2006-01-02 15:04"), other.Window.End.Format("15:04"))
		}

		return tx.SavePublicOffering(ctx, po)
	})
	if err != nil {
		return nil, s.fail("Publish rejected", infra("publish offering", err), logFields...)
	}

	s.logger.Info("Offering published", append(logFields, zap.String("public_offering_id", po.ID))...)

	po.Offering = offering
	return po, nil
}

// checkCapacity сверяет лимит клиентов с шаблоном занятия
func checkCapacity(offering *model.Offering, maxClients int) error {
	if offering.Duration <= 0 {
		return invalid("offering %s has non-positive duration %s", offering.ID, offering.Duration)
	}
	if offering.Mode == model.LessonModeSolo && maxClients > 1 {
		return invalid("solo offering %s allows one client, got %d", offering.ID, maxClients)
	}
	if offering.Capacity > 0 && maxClients > offering.Capacity {
		return invalid("max clients %d exceeds offering capacity %d", maxClients, offering.Capacity)
	}
	return nil
}

// UpdatePublicOffering меняет изменяемые поля опубликованного предложения
func (s *BookingService) UpdatePublicOffering(
	ctx context.Context,
	publicOfferingID string,
	req model.UpdatePublicOfferingRequest,
) (*model.PublicOffering, error) {
	logFields := []zap.Field{zap.String("public_offering_id", publicOfferingID)}

	if req.MaxClients != nil && *req.MaxClients <= 0 {
		return nil, s.fail("Update rejected", invalid("max clients must be positive, got %d", *req.MaxClients), logFields...)
	}

	po, err := s.store.GetPublicOffering(ctx, publicOfferingID)
	if err != nil {
		return nil, s.fail("Update failed", infra("get public offering", err), logFields...)
	}
	if po == nil {
		return nil, s.fail("Update rejected", reject(ReasonNotFound, "public offering %s not found", publicOfferingID), logFields...)
	}

	release, err := s.locks.AcquireAll(ctx, lock.ScheduleKey(po.ScheduleID))
	if err != nil {
		return nil, s.fail("Update failed", infra("lock schedule", err), logFields...)
	}
	defer release()

	err = s.store.WithinTx(ctx, func(ctx context.Context, tx Store) error {
		po, err = tx.GetPublicOffering(ctx, publicOfferingID)
		if err != nil {
			return fmt.Errorf("get public offering: %w", err)
		}
		if po == nil {
			return reject(ReasonNotFound, "public offering %s not found", publicOfferingID)
		}

		if req.MaxClients != nil {
			offering, err := tx.GetOffering(ctx, po.OfferingID)
			if err != nil {
				return fmt.Errorf("get offering: %w", err)
			}
			if offering != nil {
				if err := checkCapacity(offering, *req.MaxClients); err != nil {
					return err
				}
			}
			if *req.MaxClients < po.ActiveBookings() {
				return reject(ReasonFull, "public offering %s already has %d bookings", po.ID, po.ActiveBookings())
			}
			po.MaxClients = *req.MaxClients
		}

		return tx.SavePublicOffering(ctx, po)
	})
	if err != nil {
		return nil, s.fail("Update rejected", infra("update public offering", err), logFields...)
	}

	s.logger.Info("Public offering updated", append(logFields, zap.Int("max_clients", po.MaxClients))...)
	return po, nil
}

// GetPublicOffering получает публичное предложение вместе с шаблоном
func (s *BookingService) GetPublicOffering(ctx context.Context, publicOfferingID string) (*model.PublicOffering, error) {
	po, err := s.store.GetPublicOffering(ctx, publicOfferingID)
	if err != nil {
		return nil, infra("get public offering", err)
	}
	if po == nil {
		return nil, reject(ReasonNotFound, "public offering %s not found", publicOfferingID)
	}

	po.Offering, err = s.store.GetOffering(ctx, po.OfferingID)
	if err != nil {
		return nil, infra("get offering", err)
	}
	return po, nil
}

// SearchPublicOfferings ищет предложения по типу занятия (без учёта регистра).
// Пустой запрос возвращает все предложения.
func (s *BookingService) SearchPublicOfferings(ctx context.Context, lessonType string) ([]*model.PublicOffering, error) {
	all, err := s.store.ListPublicOfferings(ctx, PublicOfferingFilter{})
	if err != nil {
		return nil, infra("list public offerings", err)
	}
	if err := s.attachOfferings(ctx, all); err != nil {
		return nil, err
	}

	query := strings.ToLower(strings.TrimSpace(lessonType))
	result := make([]*model.PublicOffering, 0, len(all))
	for _, po := range all {
		if po.Offering == nil {
			continue
		}
		if query != "" && !strings.Contains(strings.ToLower(po.Offering.LessonType), query) {
			continue
		}
		result = append(result, po)
	}

	return result, nil
}

// ListInstructorOfferings возвращает предложения преподавателя по времени начала
func (s *BookingService) ListInstructorOfferings(ctx context.Context, instructorID string) ([]*model.PublicOffering, error) {
	if err := s.requireInstructor(ctx, instructorID); err != nil {
		return nil, err
	}

	offerings, err := s.store.ListPublicOfferings(ctx, PublicOfferingFilter{InstructorID: instructorID})
	if err != nil {
		return nil, infra("list public offerings", err)
	}
	if err := s.attachOfferings(ctx, offerings); err != nil {
		return nil, err
	}
	return offerings, nil
}

// ListInstructorBookings возвращает брони на все занятия преподавателя,
// по занятиям в порядке их начала
func (s *BookingService) ListInstructorBookings(ctx context.Context, instructorID string) ([]*model.Booking, error) {
	if err := s.requireInstructor(ctx, instructorID); err != nil {
		return nil, err
	}

	offerings, err := s.store.ListPublicOfferings(ctx, PublicOfferingFilter{InstructorID: instructorID})
	if err != nil {
		return nil, infra("list public offerings", err)
	}

	var bookings []*model.Booking
	for _, po := range offerings {
		batch, err := s.store.ListBookingsByPublicOffering(ctx, po.ID)
		if err != nil {
			return nil, infra("list bookings", err)
		}
		bookings = append(bookings, batch...)
	}
	return bookings, nil
}

func (s *BookingService) requireInstructor(ctx context.Context, instructorID string) error {
	instructor, err := s.store.GetInstructor(ctx, instructorID)
	if err != nil {
		return infra("get instructor", err)
	}
	if instructor == nil {
		return reject(ReasonNotFound, "instructor %s not found", instructorID)
	}
	return nil
}

// attachOfferings подставляет шаблоны; у предложения без шаблона Offering остаётся nil
func (s *BookingService) attachOfferings(ctx context.Context, offerings []*model.PublicOffering) error {
	templates := make(map[string]*model.Offering)
	for _, po := range offerings {
		offering, ok := templates[po.OfferingID]
		if !ok {
			var err error
			offering, err = s.store.GetOffering(ctx, po.OfferingID)
			if err != nil {
				return infra("get offering", err)
			}
			templates[po.OfferingID] = offering
		}
		po.Offering = offering
	}
	return nil
}
