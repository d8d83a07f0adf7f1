package service_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPublishOffering(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a", "loc-b")

	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})

	assert.Equal(t, model.Window{Start: at(10, 0), End: at(11, 0)}, po.Window)
	assert.Equal(t, 5, po.MaxClients)
	assert.Zero(t, po.ActiveBookings())
	require.NotNil(t, po.Offering)
	assert.Equal(t, "Swimming", po.Offering.LessonType)

	stored := h.publicOffering(po.ID)
	assert.Equal(t, po.Window, stored.Window)
	assert.Equal(t, coach.ID, stored.InstructorID)
}

func TestPublishOfferingRejections(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")

	t.Run("ineligible location", func(t *testing.T) {
		_, err := h.publish(lesson{offeringID: "o1", location: "loc-z", instructor: coach, start: at(10, 0)})
		assert.ErrorIs(t, err, service.ErrLocationIneligible)
	})

	t.Run("overlapping window at the same location", func(t *testing.T) {
		h.mustPublish(lesson{offeringID: "o2", location: "loc-a", instructor: coach, start: at(10, 0)})

		_, err := h.publish(lesson{offeringID: "o3", location: "loc-a", instructor: coach, start: at(10, 30)})
		assert.ErrorIs(t, err, service.ErrDuplicateOffering)
	})

	t.Run("abutting windows both succeed", func(t *testing.T) {
		_, err := h.publish(lesson{offeringID: "o4", location: "loc-a", instructor: coach, start: at(11, 0)})
		assert.NoError(t, err)
	})

	t.Run("offering published twice", func(t *testing.T) {
		h.mustPublish(lesson{offeringID: "o5", location: "loc-a", instructor: coach, start: at(14, 0)})

		schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindBranch, ID: "loc-a"})
		_, err := h.bookings.PublishOffering(h.ctx, model.PublishRequest{
			OfferingID:   "o5",
			InstructorID: coach.ID,
			LocationID:   "loc-a",
			ScheduleID:   schedule.ID,
			MaxClients:   2,
			Start:        at(18, 0),
		})
		assert.ErrorIs(t, err, service.ErrDuplicateOffering)
	})

	t.Run("solo lesson for many clients", func(t *testing.T) {
		_, err := h.publish(lesson{offeringID: "o6", location: "loc-a", instructor: coach, start: at(20, 0),
			mode: model.LessonModeSolo, maxClients: 2})
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})

	t.Run("non-positive max clients", func(t *testing.T) {
		_, err := h.publish(lesson{offeringID: "o7", location: "loc-a", instructor: coach, start: at(20, 0),
			maxClients: -1})
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})

	t.Run("unknown entities", func(t *testing.T) {
		schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindBranch, ID: "loc-a"})
		req := model.PublishRequest{
			OfferingID:   "missing",
			InstructorID: coach.ID,
			LocationID:   "loc-a",
			ScheduleID:   schedule.ID,
			MaxClients:   1,
			Start:        at(21, 0),
		}
		_, err := h.bookings.PublishOffering(h.ctx, req)
		assert.ErrorIs(t, err, service.ErrNotFound)

		h.addOffering("o8", "Chess", model.LessonModeGroup, 0, time.Hour)
		req.OfferingID = "o8"
		req.InstructorID = "nobody"
		_, err = h.bookings.PublishOffering(h.ctx, req)
		assert.ErrorIs(t, err, service.ErrNotFound)

		req.InstructorID = coach.ID
		req.ScheduleID = "missing"
		_, err = h.bookings.PublishOffering(h.ctx, req)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestRequestBooking(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)

	booking, err := h.book(po, alice, alice)
	require.NoError(t, err)

	assert.Equal(t, po.ID, booking.PublicOfferingID)
	assert.Equal(t, []string{alice.ID}, booking.BookedForClientIDs)
	assert.Equal(t, []time.Time{at(10, 0), at(10, 30)}, booking.SlotKeys)

	offeringRef := model.ReservationRef{Kind: model.ReservationKindPublicOffering, ID: po.ID}
	assert.Equal(t, map[time.Time]model.ReservationRef{
		at(10, 0):  offeringRef,
		at(10, 30): offeringRef,
	}, h.reserved(po.ScheduleID))

	bookingRef := model.ReservationRef{Kind: model.ReservationKindBooking, ID: booking.ID}
	assert.Equal(t, map[time.Time]model.ReservationRef{
		at(10, 0):  bookingRef,
		at(10, 30): bookingRef,
	}, h.reserved(alice.ScheduleID))

	stored := h.publicOffering(po.ID)
	assert.Equal(t, []string{booking.ID}, stored.BookingIDs)
	assert.Equal(t, []time.Time{at(10, 0), at(10, 30)}, stored.ReservedSlots)

	got, err := h.bookings.GetBooking(h.ctx, booking.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.SlotKeys, got.SlotKeys)
}

func TestRequestBookingSelectedSlots(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)

	req := model.BookingRequest{
		PublicOfferingID:   po.ID,
		BookedByClientID:   alice.ID,
		BookedForClientIDs: []string{alice.ID},
	}

	t.Run("key outside the lesson window", func(t *testing.T) {
		req.SlotKeys = []time.Time{at(11, 0)}
		_, err := h.bookings.RequestBooking(h.ctx, req)
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})

	t.Run("key off the grid", func(t *testing.T) {
		req.SlotKeys = []time.Time{at(10, 10)}
		_, err := h.bookings.RequestBooking(h.ctx, req)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("second half only", func(t *testing.T) {
		req.SlotKeys = []time.Time{at(10, 30), at(10, 30)}
		booking, err := h.bookings.RequestBooking(h.ctx, req)
		require.NoError(t, err)
		assert.Equal(t, []time.Time{at(10, 30)}, booking.SlotKeys)
		assert.Len(t, h.reserved(po.ScheduleID), 1)
		assert.Len(t, h.reserved(alice.ScheduleID), 1)
	})
}

func TestRequestBookingGuardianRule(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})

	parent := h.addClient("parent", 40, nil)
	teen := h.addClient("teen", 17, nil)
	sibling := h.addClient("sibling", 16, teen)
	kid := h.addClient("kid", 9, parent)

	for _, minor := range []*model.Client{teen, sibling} {
		_, err := h.book(po, parent, minor)
		assert.ErrorIs(t, err, service.ErrGuardianRequired, minor.Name)
		assert.Empty(t, h.reserved(minor.ScheduleID))
	}

	// a single invalid attendee fails the whole group
	_, err := h.book(po, parent, kid, teen)
	assert.ErrorIs(t, err, service.ErrGuardianRequired)
	assert.Empty(t, h.reserved(kid.ScheduleID))
	assert.Empty(t, h.reserved(po.ScheduleID))
	assert.Zero(t, h.publicOffering(po.ID).ActiveBookings())

	_, err = h.book(po, parent, kid)
	assert.NoError(t, err)
}

func TestRequestBookingMissingGuardianRecord(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})

	ghost := &model.Client{ID: "client-ghost", Age: 35}
	kid := h.addClient("kid", 9, ghost)

	_, err := h.book(po, kid, kid)
	assert.ErrorIs(t, err, service.ErrGuardianRequired)
}

func TestRequestBookingFull(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0),
		mode: model.LessonModeSolo, maxClients: 1})
	alice := h.addClient("alice", 30, nil)
	bob := h.addClient("bob", 30, nil)

	_, err := h.book(po, alice, alice)
	require.NoError(t, err)

	_, err = h.book(po, bob, bob)
	assert.ErrorIs(t, err, service.ErrFull)
	assert.Empty(t, h.reserved(bob.ScheduleID))
}

func TestRequestBookingNotFound(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)

	_, err := h.bookings.RequestBooking(h.ctx, model.BookingRequest{
		PublicOfferingID:   "missing",
		BookedByClientID:   alice.ID,
		BookedForClientIDs: []string{alice.ID},
	})
	assert.ErrorIs(t, err, service.ErrNotFound)

	_, err = h.bookings.RequestBooking(h.ctx, model.BookingRequest{
		PublicOfferingID:   po.ID,
		BookedByClientID:   alice.ID,
		BookedForClientIDs: []string{alice.ID, "client-nobody"},
	})
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Empty(t, h.reserved(alice.ScheduleID))

	_, err = h.bookings.RequestBooking(h.ctx, model.BookingRequest{
		PublicOfferingID: po.ID,
		BookedByClientID: alice.ID,
	})
	assert.ErrorIs(t, err, service.ErrInvalidInput)
}

func TestRequestBookingScheduleConflict(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a", "loc-b")
	alice := h.addClient("alice", 30, nil)

	first := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach,
		start: at(10, 0), duration: 30 * time.Minute})
	_, err := h.book(first, alice, alice)
	require.NoError(t, err)

	overlapping := h.mustPublish(lesson{offeringID: "o2", location: "loc-b", instructor: coach,
		start: at(10, 15), duration: 30 * time.Minute, granularity: 15 * time.Minute})
	_, err = h.book(overlapping, alice, alice)
	assert.ErrorIs(t, err, service.ErrScheduleConflict)
	assert.Empty(t, h.reserved(overlapping.ScheduleID))
	assert.Len(t, h.reserved(alice.ScheduleID), 1)

	abutting := h.mustPublish(lesson{offeringID: "o3", location: "loc-a", instructor: coach,
		start: at(10, 30), duration: 30 * time.Minute, granularity: 15 * time.Minute})
	booking, err := h.book(abutting, alice, alice)
	require.NoError(t, err)
	assert.Equal(t, []time.Time{at(10, 30), at(10, 45)}, booking.SlotKeys)

	personal := h.reserved(alice.ScheduleID)
	assert.Len(t, personal, 2)
	assert.Equal(t, booking.ID, personal[at(10, 30)].ID)
}

func TestRequestBookingOfferingSlotHeldElsewhere(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)

	maintenance := model.ReservationRef{Kind: model.ReservationKindBooking, ID: "maintenance"}
	require.NoError(t, h.ledger.Reserve(h.ctx, po.ScheduleID, at(10, 30), maintenance))

	_, err := h.book(po, alice, alice)
	assert.ErrorIs(t, err, service.ErrScheduleConflict)
	assert.Empty(t, h.reserved(alice.ScheduleID))
}

func TestGroupBookingSharesOfferingSlots(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0), maxClients: 3})
	alice := h.addClient("alice", 30, nil)
	bob := h.addClient("bob", 30, nil)

	first, err := h.book(po, alice, alice)
	require.NoError(t, err)
	second, err := h.book(po, bob, bob)
	require.NoError(t, err)

	assert.Len(t, h.reserved(po.ScheduleID), 2)
	assert.Equal(t, 2, h.publicOffering(po.ID).ActiveBookings())

	require.NoError(t, h.bookings.CancelBooking(h.ctx, first.ID))

	// bob still needs the room
	assert.Len(t, h.reserved(po.ScheduleID), 2)
	assert.Empty(t, h.reserved(alice.ScheduleID))
	assert.Len(t, h.reserved(bob.ScheduleID), 2)
	assert.ElementsMatch(t, []string{alice.ID, bob.ID}, h.notifier.clientIDs())

	require.NoError(t, h.bookings.CancelBooking(h.ctx, second.ID))
	assert.Empty(t, h.reserved(po.ScheduleID))
	assert.Empty(t, h.publicOffering(po.ID).ReservedSlots)
}

func TestCancelBookingReleasesExactlyItsSlots(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0), maxClients: 4})
	later := h.mustPublish(lesson{offeringID: "o2", location: "loc-a", instructor: coach, start: at(15, 0)})

	parent := h.addClient("parent", 40, nil)
	kid := h.addClient("kid", 8, parent)
	other := h.addClient("other", 25, nil)

	kept, err := h.book(later, parent, kid)
	require.NoError(t, err)
	_, err = h.book(po, other, other)
	require.NoError(t, err)

	before := map[string]map[time.Time]model.ReservationRef{
		po.ScheduleID:     h.reserved(po.ScheduleID),
		later.ScheduleID:  h.reserved(later.ScheduleID),
		parent.ScheduleID: h.reserved(parent.ScheduleID),
		kid.ScheduleID:    h.reserved(kid.ScheduleID),
		other.ScheduleID:  h.reserved(other.ScheduleID),
	}
	countBefore := h.publicOffering(po.ID).ActiveBookings()

	booking, err := h.book(po, parent, parent, kid)
	require.NoError(t, err)
	assert.Len(t, h.reserved(kid.ScheduleID), 4)
	assert.Equal(t, countBefore+1, h.publicOffering(po.ID).ActiveBookings())

	require.NoError(t, h.bookings.CancelBooking(h.ctx, booking.ID))

	for scheduleID, reserved := range before {
		assert.Equal(t, reserved, h.reserved(scheduleID), scheduleID)
	}
	assert.Equal(t, countBefore, h.publicOffering(po.ID).ActiveBookings())
	assert.NotContains(t, h.publicOffering(po.ID).BookingIDs, booking.ID)

	_, err = h.bookings.GetBooking(h.ctx, booking.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	_, err = h.bookings.GetBooking(h.ctx, kept.ID)
	assert.NoError(t, err)

	// booker, attendees and the remaining group, once each
	assert.ElementsMatch(t, []string{parent.ID, kid.ID, other.ID}, h.notifier.clientIDs())
	for _, n := range h.notifier.notices {
		assert.Equal(t, booking.ID, n.BookingID)
		assert.Equal(t, "Swimming", n.LessonType)
		assert.Equal(t, po.Window, n.Window)
	}
}

func TestCancelBookingNotFound(t *testing.T) {
	h := newHarness(t)

	err := h.bookings.CancelBooking(h.ctx, "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
	assert.Empty(t, h.notifier.clientIDs())
}

func TestRequestBookingLockTimeoutIsRetryable(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)

	offeringToken, ok, err := h.locker.Lock(h.ctx, lock.ScheduleKey(po.ScheduleID), time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, err = h.book(po, alice, alice)
	require.Error(t, err)
	assert.True(t, service.IsRetryable(err))
	assert.ErrorIs(t, err, service.ErrInfrastructure)
	_, isRejection := service.ReasonOf(err)
	assert.False(t, isRejection)

	// the attendee lock taken before the timeout was given back
	aliceToken, ok, err := h.locker.Lock(h.ctx, lock.ScheduleKey(alice.ScheduleID), time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, h.locker.Unlock(h.ctx, lock.ScheduleKey(alice.ScheduleID), aliceToken))

	require.NoError(t, h.locker.Unlock(h.ctx, lock.ScheduleKey(po.ScheduleID), offeringToken))
	_, err = h.book(po, alice, alice)
	assert.NoError(t, err)
}

func TestConcurrentBookingsRespectCapacity(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0), maxClients: 3})

	clients := make([]*model.Client, 8)
	for i := range clients {
		clients[i] = h.addClient(string(rune('a'+i)), 30, nil)
	}

	var (
		mu      sync.Mutex
		booked  int
		full    int
		retries int
		wg      sync.WaitGroup
	)
	for _, c := range clients {
		wg.Add(1)
		go func(c *model.Client) {
			defer wg.Done()
			_, err := h.book(po, c, c)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				booked++
			case errors.Is(err, service.ErrFull):
				full++
			case service.IsRetryable(err):
				retries++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}(c)
	}
	wg.Wait()

	assert.LessOrEqual(t, booked, 3)
	assert.Equal(t, len(clients), booked+full+retries)
	assert.Equal(t, booked, h.publicOffering(po.ID).ActiveBookings())
	if retries == 0 {
		assert.Equal(t, 3, booked)
	}
}

func TestUpdatePublicOffering(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0), maxClients: 3})
	alice := h.addClient("alice", 30, nil)
	bob := h.addClient("bob", 30, nil)

	for _, c := range []*model.Client{alice, bob} {
		_, err := h.book(po, c, c)
		require.NoError(t, err)
	}

	one := 1
	_, err := h.bookings.UpdatePublicOffering(h.ctx, po.ID, model.UpdatePublicOfferingRequest{MaxClients: &one})
	assert.ErrorIs(t, err, service.ErrFull)

	zero := 0
	_, err = h.bookings.UpdatePublicOffering(h.ctx, po.ID, model.UpdatePublicOfferingRequest{MaxClients: &zero})
	assert.ErrorIs(t, err, service.ErrInvalidInput)

	two := 2
	updated, err := h.bookings.UpdatePublicOffering(h.ctx, po.ID, model.UpdatePublicOfferingRequest{MaxClients: &two})
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MaxClients)
	assert.True(t, updated.IsFull())

	unchanged, err := h.bookings.UpdatePublicOffering(h.ctx, po.ID, model.UpdatePublicOfferingRequest{})
	require.NoError(t, err)
	assert.Equal(t, 2, unchanged.MaxClients)

	_, err = h.bookings.UpdatePublicOffering(h.ctx, "missing", model.UpdatePublicOfferingRequest{})
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestSearchPublicOfferings(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(12, 0), lessonType: "Swimming"})
	h.mustPublish(lesson{offeringID: "o2", location: "loc-a", instructor: coach, start: at(10, 0), lessonType: "Synchronized swimming"})
	h.mustPublish(lesson{offeringID: "o3", location: "loc-a", instructor: coach, start: at(14, 0), lessonType: "Chess"})

	found, err := h.bookings.SearchPublicOfferings(h.ctx, "SWIM")
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, "o2", found[0].OfferingID, "ordered by start time")
	assert.Equal(t, "o1", found[1].OfferingID)
	assert.NotNil(t, found[0].Offering)

	all, err := h.bookings.SearchPublicOfferings(h.ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := h.bookings.SearchPublicOfferings(h.ctx, "tennis")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestListInstructorOfferingsAndBookings(t *testing.T) {
	h := newHarness(t)
	anna := h.addInstructor("anna", "loc-a")
	boris := h.addInstructor("boris", "loc-b")
	late := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: anna, start: at(12, 0)})
	early := h.mustPublish(lesson{offeringID: "o2", location: "loc-a", instructor: anna, start: at(10, 0), lessonType: "Chess"})
	other := h.mustPublish(lesson{offeringID: "o3", location: "loc-b", instructor: boris, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)
	bob := h.addClient("bob", 30, nil)

	onLate, err := h.book(late, alice, alice)
	require.NoError(t, err)
	onEarly, err := h.book(early, bob, bob)
	require.NoError(t, err)
	_, err = h.book(other, alice, alice)
	require.NoError(t, err)

	offerings, err := h.bookings.ListInstructorOfferings(h.ctx, anna.ID)
	require.NoError(t, err)
	require.Len(t, offerings, 2)
	assert.Equal(t, early.ID, offerings[0].ID, "ordered by start time")
	assert.Equal(t, late.ID, offerings[1].ID)
	require.NotNil(t, offerings[0].Offering)
	assert.Equal(t, "Chess", offerings[0].Offering.LessonType)

	bookings, err := h.bookings.ListInstructorBookings(h.ctx, anna.ID)
	require.NoError(t, err)
	require.Len(t, bookings, 2)
	assert.Equal(t, onEarly.ID, bookings[0].ID)
	assert.Equal(t, onLate.ID, bookings[1].ID)

	t.Run("instructor without lessons", func(t *testing.T) {
		idle := h.addInstructor("idle", "loc-c")

		offerings, err := h.bookings.ListInstructorOfferings(h.ctx, idle.ID)
		require.NoError(t, err)
		assert.Empty(t, offerings)

		bookings, err := h.bookings.ListInstructorBookings(h.ctx, idle.ID)
		require.NoError(t, err)
		assert.Empty(t, bookings)
	})

	t.Run("unknown instructor", func(t *testing.T) {
		_, err := h.bookings.ListInstructorOfferings(h.ctx, "missing")
		assert.ErrorIs(t, err, service.ErrNotFound)

		_, err = h.bookings.ListInstructorBookings(h.ctx, "missing")
		assert.ErrorIs(t, err, service.ErrNotFound)
	})
}

func TestListClientBookings(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	morning := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	evening := h.mustPublish(lesson{offeringID: "o2", location: "loc-a", instructor: coach, start: at(18, 0)})
	parent := h.addClient("parent", 40, nil)
	kid := h.addClient("kid", 10, parent)

	first, err := h.book(morning, parent, kid)
	require.NoError(t, err)
	h.clock.Advance(time.Minute)
	second, err := h.book(evening, parent, parent, kid)
	require.NoError(t, err)

	forKid, err := h.bookings.ListClientBookings(h.ctx, kid.ID)
	require.NoError(t, err)
	require.Len(t, forKid, 2)
	assert.Equal(t, first.ID, forKid[0].ID)
	assert.Equal(t, second.ID, forKid[1].ID)

	forParent, err := h.bookings.ListClientBookings(h.ctx, parent.ID)
	require.NoError(t, err)
	assert.Len(t, forParent, 2, "booker sees bookings made for others")

	_, err = h.bookings.ListClientBookings(h.ctx, "missing")
	assert.ErrorIs(t, err, service.ErrNotFound)
}

func TestDeletePublicOfferingCascades(t *testing.T) {
	h := newHarness(t)
	coach := h.addInstructor("anna", "loc-a")
	po := h.mustPublish(lesson{offeringID: "o1", location: "loc-a", instructor: coach, start: at(10, 0)})
	alice := h.addClient("alice", 30, nil)
	bob := h.addClient("bob", 30, nil)

	b1, err := h.book(po, alice, alice)
	require.NoError(t, err)
	b2, err := h.book(po, bob, bob)
	require.NoError(t, err)

	require.NoError(t, h.bookings.DeletePublicOffering(h.ctx, po.ID))

	_, err = h.bookings.GetPublicOffering(h.ctx, po.ID)
	assert.ErrorIs(t, err, service.ErrNotFound)
	for _, id := range []string{b1.ID, b2.ID} {
		_, err = h.bookings.GetBooking(h.ctx, id)
		assert.ErrorIs(t, err, service.ErrNotFound)
	}
	assert.Empty(t, h.reserved(po.ScheduleID))
	assert.Empty(t, h.reserved(alice.ScheduleID))
	assert.Empty(t, h.reserved(bob.ScheduleID))
	assert.Contains(t, h.notifier.clientIDs(), alice.ID)
	assert.Contains(t, h.notifier.clientIDs(), bob.ID)

	// the location is free again
	_, err = h.publish(lesson{offeringID: "o2", location: "loc-a", instructor: coach, start: at(10, 0)})
	assert.NoError(t, err)

	assert.ErrorIs(t, h.bookings.DeletePublicOffering(h.ctx, po.ID), service.ErrNotFound)
}

func TestRemoveOwner(t *testing.T) {
	h := newHarness(t)
	branch := h.addBranch("loc-a")
	coach := h.addInstructor("anna", branch.ID, "loc-b")
	other := h.addInstructor("boris", "loc-b")

	atBranch := h.mustPublish(lesson{offeringID: "o1", location: branch.ID, instructor: coach, start: at(10, 0)})
	elsewhere := h.mustPublish(lesson{offeringID: "o2", location: "loc-b", instructor: other, start: at(14, 0)})
	byCoach := h.mustPublish(lesson{offeringID: "o3", location: "loc-b", instructor: coach, start: at(12, 0)})

	alice := h.addClient("alice", 30, nil)
	_, err := h.book(atBranch, alice, alice)
	require.NoError(t, err)
	kept, err := h.book(elsewhere, alice, alice)
	require.NoError(t, err)

	t.Run("branch", func(t *testing.T) {
		require.NoError(t, h.bookings.RemoveOwner(h.ctx, model.OwnerRef{Kind: model.OwnerKindBranch, ID: branch.ID}))

		_, err := h.bookings.GetPublicOffering(h.ctx, atBranch.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
		b, err := h.store.GetBranch(h.ctx, branch.ID)
		require.NoError(t, err)
		assert.Nil(t, b)
		schedules, err := h.schedules.GetSchedulesByOwner(h.ctx, branch.ID)
		require.NoError(t, err)
		assert.Empty(t, schedules)

		assert.Len(t, h.reserved(alice.ScheduleID), 2, "only the booking at the branch is gone")
	})

	t.Run("instructor", func(t *testing.T) {
		require.NoError(t, h.bookings.RemoveOwner(h.ctx, model.OwnerRef{Kind: model.OwnerKindInstructor, ID: coach.ID}))

		_, err := h.bookings.GetPublicOffering(h.ctx, byCoach.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
		i, err := h.store.GetInstructor(h.ctx, coach.ID)
		require.NoError(t, err)
		assert.Nil(t, i)

		_, err = h.bookings.GetPublicOffering(h.ctx, elsewhere.ID)
		assert.NoError(t, err)
	})

	t.Run("client", func(t *testing.T) {
		require.NoError(t, h.bookings.RemoveOwner(h.ctx, model.OwnerRef{Kind: model.OwnerKindClient, ID: alice.ID}))

		_, err := h.bookings.GetBooking(h.ctx, kept.ID)
		assert.ErrorIs(t, err, service.ErrNotFound)
		assert.Empty(t, h.reserved(elsewhere.ScheduleID))
		assert.Zero(t, h.publicOffering(elsewhere.ID).ActiveBookings())

		_, err = h.schedules.GetSchedule(h.ctx, alice.ScheduleID)
		assert.ErrorIs(t, err, service.ErrNotFound)
	})

	t.Run("unknown", func(t *testing.T) {
		err := h.bookings.RemoveOwner(h.ctx, model.OwnerRef{Kind: model.OwnerKindClient, ID: "missing"})
		assert.ErrorIs(t, err, service.ErrNotFound)

		err = h.bookings.RemoveOwner(h.ctx, model.OwnerRef{Kind: "planet", ID: "x"})
		assert.ErrorIs(t, err, service.ErrInvalidInput)
	})
}

func TestRejectionsAreDistinguishable(t *testing.T) {
	err := error(&service.Rejection{Reason: service.ReasonFull, Message: "3 of 3"})

	assert.ErrorIs(t, err, service.ErrFull)
	assert.NotErrorIs(t, err, service.ErrNotFound)
	assert.NotErrorIs(t, err, service.ErrInfrastructure)
	assert.Equal(t, "Full: 3 of 3", err.Error())
	assert.False(t, service.IsRetryable(err))
}
