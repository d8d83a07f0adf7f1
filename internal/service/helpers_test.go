package service_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/clock"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/repository/memory"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// Monday morning, well inside the first generated day.
var baseNow = time.Date(2026, time.March, 2, 8, 0, 0, 0, time.UTC)

func at(hour, minute int) time.Time {
	return time.Date(2026, time.March, 2, hour, minute, 0, 0, time.UTC)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("id-%04d", g.n)
}

type recordingNotifier struct {
	mu      sync.Mutex
	notices []model.CancellationNotice
}

func (r *recordingNotifier) NotifyCancellation(_ context.Context, notices []model.CancellationNotice) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notices = append(r.notices, notices...)
}

func (r *recordingNotifier) clientIDs() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	ids := make([]string, 0, len(r.notices))
	for _, n := range r.notices {
		ids = append(ids, n.ClientID)
	}
	return ids
}

type harness struct {
	t         *testing.T
	ctx       context.Context
	store     *memory.Store
	locker    *lock.LocalLock
	clock     *clock.Fake
	ledger    *service.Ledger
	schedules *service.ScheduleService
	bookings  *service.BookingService
	notifier  *recordingNotifier
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	logger := zaptest.NewLogger(t)
	store := memory.New()
	locker := lock.NewLocalLock()
	clk := clock.NewFake(baseNow)
	ids := &seqIDs{}
	locks := lock.NewAcquirer(locker, 200*time.Millisecond, time.Minute, logger)

	ledger := service.NewLedger(store, locks, logger)
	schedules, err := service.NewScheduleService(store, locks, clk, ids, service.DefaultSchedulePolicy(), logger)
	require.NoError(t, err)

	notifier := &recordingNotifier{}
	bookings := service.NewBookingService(store, ledger, schedules, locks, clk, ids, notifier, logger)

	return &harness{
		t:         t,
		ctx:       context.Background(),
		store:     store,
		locker:    locker,
		clock:     clk,
		ledger:    ledger,
		schedules: schedules,
		bookings:  bookings,
		notifier:  notifier,
	}
}

func (h *harness) newSchedule(owner model.OwnerRef, opts ...service.ScheduleOption) *model.Schedule {
	h.t.Helper()
	schedule, err := h.schedules.CreateSchedule(h.ctx, owner, opts...)
	require.NoError(h.t, err)
	return schedule
}

func (h *harness) addClient(name string, age int, guardian *model.Client) *model.Client {
	h.t.Helper()
	id := "client-" + name
	schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindClient, ID: id})

	client := &model.Client{
		ID:         id,
		Name:       name,
		Age:        age,
		ScheduleID: schedule.ID,
		CreatedAt:  h.clock.Now(),
	}
	if guardian != nil {
		client.GuardianID = &guardian.ID
	}
	require.NoError(h.t, h.store.SaveClient(h.ctx, client))
	return client
}

func (h *harness) addInstructor(name string, locations ...string) *model.Instructor {
	h.t.Helper()
	id := "instructor-" + name
	schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindInstructor, ID: id})

	instructor := &model.Instructor{
		ID:                 id,
		Name:               name,
		Specialization:     "swimming",
		AvailableLocations: locations,
		ScheduleID:         schedule.ID,
		CreatedAt:          h.clock.Now(),
	}
	require.NoError(h.t, h.store.SaveInstructor(h.ctx, instructor))
	return instructor
}

func (h *harness) addBranch(id string) *model.Branch {
	h.t.Helper()
	schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindBranch, ID: id})

	branch := &model.Branch{
		ID:         id,
		Name:       "Branch " + id,
		CityID:     "city-1",
		ScheduleID: schedule.ID,
		CreatedAt:  h.clock.Now(),
	}
	require.NoError(h.t, h.store.SaveBranch(h.ctx, branch))
	return branch
}

func (h *harness) addOffering(id, lessonType string, mode model.LessonMode, capacity int, duration time.Duration) *model.Offering {
	h.t.Helper()
	offering := &model.Offering{
		ID:         id,
		LessonType: lessonType,
		Mode:       mode,
		Capacity:   capacity,
		Duration:   duration,
		CreatedAt:  h.clock.Now(),
	}
	require.NoError(h.t, h.store.SaveOffering(h.ctx, offering))
	return offering
}

// lesson is a shorthand for publishing a fresh group offering on its own schedule.
type lesson struct {
	offeringID string
	lessonType string
	mode       model.LessonMode
	location   string
	instructor *model.Instructor
	start      time.Time
	duration   time.Duration
	maxClients int
	// slot length of the offering schedule, 30m when zero
	granularity time.Duration
}

func (h *harness) publish(l lesson) (*model.PublicOffering, error) {
	h.t.Helper()
	if l.mode == "" {
		l.mode = model.LessonModeGroup
	}
	if l.lessonType == "" {
		l.lessonType = "Swimming"
	}
	if l.duration == 0 {
		l.duration = time.Hour
	}
	if l.maxClients == 0 {
		l.maxClients = 5
	}

	h.addOffering(l.offeringID, l.lessonType, l.mode, 10, l.duration)

	var opts []service.ScheduleOption
	if l.granularity > 0 {
		opts = append(opts, service.WithGranularity(l.granularity))
	}
	schedule := h.newSchedule(model.OwnerRef{Kind: model.OwnerKindBranch, ID: l.location}, opts...)

	return h.bookings.PublishOffering(h.ctx, model.PublishRequest{
		OfferingID:   l.offeringID,
		InstructorID: l.instructor.ID,
		LocationID:   l.location,
		ScheduleID:   schedule.ID,
		MaxClients:   l.maxClients,
		Start:        l.start,
	})
}

func (h *harness) mustPublish(l lesson) *model.PublicOffering {
	h.t.Helper()
	po, err := h.publish(l)
	require.NoError(h.t, err)
	return po
}

func (h *harness) book(po *model.PublicOffering, by *model.Client, attendees ...*model.Client) (*model.Booking, error) {
	req := model.BookingRequest{
		PublicOfferingID: po.ID,
		BookedByClientID: by.ID,
	}
	for _, c := range attendees {
		req.BookedForClientIDs = append(req.BookedForClientIDs, c.ID)
	}
	return h.bookings.RequestBooking(h.ctx, req)
}

// reserved returns the reserved slot starts of a schedule with their holders
func (h *harness) reserved(scheduleID string) map[time.Time]model.ReservationRef {
	h.t.Helper()
	slots, err := h.ledger.ListReserved(h.ctx, scheduleID)
	require.NoError(h.t, err)

	out := make(map[time.Time]model.ReservationRef, len(slots))
	for _, slot := range slots {
		out[slot.StartTime] = *slot.ReservedBy
	}
	return out
}

func (h *harness) publicOffering(id string) *model.PublicOffering {
	h.t.Helper()
	po, err := h.bookings.GetPublicOffering(h.ctx, id)
	require.NoError(h.t, err)
	return po
}
