// Package memory is an in-process implementation of service.Store.
// Every value is copied on the way in and on the way out, so callers never
// share state with the store.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"github.com/Freeeeeet/lesson_booking/internal/service"
)

type database struct {
	txMu sync.Mutex   // один пишущий за раз
	mu   sync.RWMutex // защищает таблицы

	clients     map[string]*model.Client
	instructors map[string]*model.Instructor
	branches    map[string]*model.Branch
	offerings   map[string]*model.Offering
	public      map[string]*model.PublicOffering
	schedules   map[string]*model.Schedule
	slots       map[string]map[int64]*model.TimeSlot
	bookings    map[string]*model.Booking
}

func newDatabase() *database {
	return &database{
		clients:     make(map[string]*model.Client),
		instructors: make(map[string]*model.Instructor),
		branches:    make(map[string]*model.Branch),
		offerings:   make(map[string]*model.Offering),
		public:      make(map[string]*model.PublicOffering),
		schedules:   make(map[string]*model.Schedule),
		slots:       make(map[string]map[int64]*model.TimeSlot),
		bookings:    make(map[string]*model.Booking),
	}
}

// snapshot copies the maps. Stored values are replaced, never mutated in
// place, so copying the maps is enough.
func (d *database) snapshot() *database {
	snap := &database{
		clients:     cloneMap(d.clients),
		instructors: cloneMap(d.instructors),
		branches:    cloneMap(d.branches),
		offerings:   cloneMap(d.offerings),
		public:      cloneMap(d.public),
		schedules:   cloneMap(d.schedules),
		slots:       make(map[string]map[int64]*model.TimeSlot, len(d.slots)),
		bookings:    cloneMap(d.bookings),
	}
	for id, slots := range d.slots {
		snap.slots[id] = cloneMap(slots)
	}
	return snap
}

func (d *database) restore(snap *database) {
	d.clients = snap.clients
	d.instructors = snap.instructors
	d.branches = snap.branches
	d.offerings = snap.offerings
	d.public = snap.public
	d.schedules = snap.schedules
	d.slots = snap.slots
	d.bookings = snap.bookings
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

// Store is safe for concurrent use. Transactions are serialized.
type Store struct {
	db   *database
	inTx bool
}

var _ service.Store = (*Store)(nil)

func New() *Store {
	return &Store{db: newDatabase()}
}

// WithinTx runs fn against a transactional view. If fn fails every write it
// made is rolled back. Nested calls join the outer transaction.
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	s.db.txMu.Lock()
	defer s.db.txMu.Unlock()

	s.db.mu.RLock()
	snap := s.db.snapshot()
	s.db.mu.RUnlock()

	if err := fn(ctx, &Store{db: s.db, inTx: true}); err != nil {
		s.db.mu.Lock()
		s.db.restore(snap)
		s.db.mu.Unlock()
		return err
	}
	return nil
}

func (s *Store) read(fn func(db *database)) {
	s.db.mu.RLock()
	defer s.db.mu.RUnlock()
	fn(s.db)
}

// write outside a transaction waits for running transactions so a rollback
// cannot swallow it.
func (s *Store) write(fn func(db *database)) {
	if !s.inTx {
		s.db.txMu.Lock()
		defer s.db.txMu.Unlock()
	}
	s.db.mu.Lock()
	defer s.db.mu.Unlock()
	fn(s.db)
}

// Clients

func (s *Store) GetClient(_ context.Context, id string) (*model.Client, error) {
	var out *model.Client
	s.read(func(db *database) {
		if c, ok := db.clients[id]; ok {
			out = cloneClient(c)
		}
	})
	return out, nil
}

func (s *Store) SaveClient(_ context.Context, client *model.Client) error {
	s.write(func(db *database) {
		db.clients[client.ID] = cloneClient(client)
	})
	return nil
}

func (s *Store) DeleteClient(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.clients, id)
	})
	return nil
}

// Instructors

func (s *Store) GetInstructor(_ context.Context, id string) (*model.Instructor, error) {
	var out *model.Instructor
	s.read(func(db *database) {
		if i, ok := db.instructors[id]; ok {
			out = cloneInstructor(i)
		}
	})
	return out, nil
}

func (s *Store) SaveInstructor(_ context.Context, instructor *model.Instructor) error {
	s.write(func(db *database) {
		db.instructors[instructor.ID] = cloneInstructor(instructor)
	})
	return nil
}

func (s *Store) DeleteInstructor(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.instructors, id)
	})
	return nil
}

// Branches

func (s *Store) GetBranch(_ context.Context, id string) (*model.Branch, error) {
	var out *model.Branch
	s.read(func(db *database) {
		if b, ok := db.branches[id]; ok {
			c := *b
			out = &c
		}
	})
	return out, nil
}

func (s *Store) SaveBranch(_ context.Context, branch *model.Branch) error {
	c := *branch
	s.write(func(db *database) {
		db.branches[branch.ID] = &c
	})
	return nil
}

func (s *Store) DeleteBranch(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.branches, id)
	})
	return nil
}

// Offerings

func (s *Store) GetOffering(_ context.Context, id string) (*model.Offering, error) {
	var out *model.Offering
	s.read(func(db *database) {
		if o, ok := db.offerings[id]; ok {
			c := *o
			out = &c
		}
	})
	return out, nil
}

func (s *Store) SaveOffering(_ context.Context, offering *model.Offering) error {
	c := *offering
	s.write(func(db *database) {
		db.offerings[offering.ID] = &c
	})
	return nil
}

func (s *Store) DeleteOffering(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.offerings, id)
	})
	return nil
}

func (s *Store) GetPublicOffering(_ context.Context, id string) (*model.PublicOffering, error) {
	var out *model.PublicOffering
	s.read(func(db *database) {
		if po, ok := db.public[id]; ok {
			out = po.Clone()
		}
	})
	return out, nil
}

func (s *Store) SavePublicOffering(_ context.Context, po *model.PublicOffering) error {
	c := po.Clone()
	c.Offering = nil
	s.write(func(db *database) {
		db.public[po.ID] = c
	})
	return nil
}

func (s *Store) DeletePublicOffering(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.public, id)
	})
	return nil
}

func (s *Store) ListPublicOfferings(_ context.Context, filter service.PublicOfferingFilter) ([]*model.PublicOffering, error) {
	var out []*model.PublicOffering
	s.read(func(db *database) {
		for _, po := range db.public {
			if filter.LocationID != "" && po.LocationID != filter.LocationID {
				continue
			}
			if filter.InstructorID != "" && po.InstructorID != filter.InstructorID {
				continue
			}
			if filter.OfferingID != "" && po.OfferingID != filter.OfferingID {
				continue
			}
			out = append(out, po.Clone())
		}
	})
	slices.SortFunc(out, func(a, b *model.PublicOffering) int {
		if c := a.Window.Start.Compare(b.Window.Start); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out, nil
}

// Schedules

func (s *Store) GetSchedule(_ context.Context, id string) (*model.Schedule, error) {
	var out *model.Schedule
	s.read(func(db *database) {
		if sc, ok := db.schedules[id]; ok {
			c := *sc
			out = &c
		}
	})
	return out, nil
}

func (s *Store) SaveSchedule(_ context.Context, schedule *model.Schedule) error {
	c := *schedule
	s.write(func(db *database) {
		db.schedules[schedule.ID] = &c
	})
	return nil
}

func (s *Store) DeleteSchedule(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.schedules, id)
	})
	return nil
}

func (s *Store) ListSchedules(_ context.Context) ([]*model.Schedule, error) {
	return s.listSchedules(func(*model.Schedule) bool { return true }), nil
}

func (s *Store) ListSchedulesByOwner(_ context.Context, ownerID string) ([]*model.Schedule, error) {
	return s.listSchedules(func(sc *model.Schedule) bool { return sc.Owner.ID == ownerID }), nil
}

func (s *Store) listSchedules(match func(*model.Schedule) bool) []*model.Schedule {
	var out []*model.Schedule
	s.read(func(db *database) {
		for _, sc := range db.schedules {
			if match(sc) {
				c := *sc
				out = append(out, &c)
			}
		}
	})
	slices.SortFunc(out, func(a, b *model.Schedule) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Slots

func (s *Store) GetSlot(_ context.Context, scheduleID string, start time.Time) (*model.TimeSlot, error) {
	var out *model.TimeSlot
	s.read(func(db *database) {
		if slot, ok := db.slots[scheduleID][start.UnixNano()]; ok {
			out = slot.Clone()
		}
	})
	return out, nil
}

func (s *Store) ListSlots(_ context.Context, scheduleID string) ([]*model.TimeSlot, error) {
	var out []*model.TimeSlot
	s.read(func(db *database) {
		out = make([]*model.TimeSlot, 0, len(db.slots[scheduleID]))
		for _, slot := range db.slots[scheduleID] {
			out = append(out, slot.Clone())
		}
	})
	sortSlots(out)
	return out, nil
}

func (s *Store) InsertSlots(_ context.Context, slots []*model.TimeSlot) error {
	s.write(func(db *database) {
		for _, slot := range slots {
			bySchedule, ok := db.slots[slot.ScheduleID]
			if !ok {
				bySchedule = make(map[int64]*model.TimeSlot)
				db.slots[slot.ScheduleID] = bySchedule
			} else if _, exists := bySchedule[slot.StartTime.UnixNano()]; exists {
				continue
			}
			bySchedule[slot.StartTime.UnixNano()] = slot.Clone()
		}
	})
	return nil
}

// UpdateSlot replaces an existing slot; unknown slots are ignored like an
// UPDATE matching no rows.
func (s *Store) UpdateSlot(_ context.Context, slot *model.TimeSlot) error {
	s.write(func(db *database) {
		bySchedule := db.slots[slot.ScheduleID]
		if _, ok := bySchedule[slot.StartTime.UnixNano()]; !ok {
			return
		}
		bySchedule[slot.StartTime.UnixNano()] = slot.Clone()
	})
	return nil
}

func (s *Store) DeleteSlotsBefore(_ context.Context, scheduleID string, before time.Time) ([]*model.TimeSlot, error) {
	var pruned []*model.TimeSlot
	s.write(func(db *database) {
		bySchedule := db.slots[scheduleID]
		fresh := make(map[int64]*model.TimeSlot, len(bySchedule))
		for key, slot := range bySchedule {
			if slot.StartTime.Before(before) {
				pruned = append(pruned, slot.Clone())
				continue
			}
			fresh[key] = slot
		}
		if bySchedule != nil {
			db.slots[scheduleID] = fresh
		}
	})
	sortSlots(pruned)
	return pruned, nil
}

func (s *Store) DeleteSlots(_ context.Context, scheduleID string) error {
	s.write(func(db *database) {
		delete(db.slots, scheduleID)
	})
	return nil
}

// Bookings

func (s *Store) GetBooking(_ context.Context, id string) (*model.Booking, error) {
	var out *model.Booking
	s.read(func(db *database) {
		if b, ok := db.bookings[id]; ok {
			out = b.Clone()
		}
	})
	return out, nil
}

func (s *Store) SaveBooking(_ context.Context, booking *model.Booking) error {
	c := booking.Clone()
	s.write(func(db *database) {
		db.bookings[booking.ID] = c
	})
	return nil
}

func (s *Store) DeleteBooking(_ context.Context, id string) error {
	s.write(func(db *database) {
		delete(db.bookings, id)
	})
	return nil
}

func (s *Store) ListBookingsByPublicOffering(_ context.Context, publicOfferingID string) ([]*model.Booking, error) {
	return s.listBookings(func(b *model.Booking) bool { return b.PublicOfferingID == publicOfferingID }), nil
}

func (s *Store) ListBookingsByClient(_ context.Context, clientID string) ([]*model.Booking, error) {
	return s.listBookings(func(b *model.Booking) bool { return b.Involves(clientID) }), nil
}

func (s *Store) listBookings(match func(*model.Booking) bool) []*model.Booking {
	var out []*model.Booking
	s.read(func(db *database) {
		for _, b := range db.bookings {
			if match(b) {
				out = append(out, b.Clone())
			}
		}
	})
	slices.SortFunc(out, func(a, b *model.Booking) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

func sortSlots(slots []*model.TimeSlot) {
	slices.SortFunc(slots, func(a, b *model.TimeSlot) int {
		return a.StartTime.Compare(b.StartTime)
	})
}

func cloneClient(c *model.Client) *model.Client {
	out := *c
	if c.GuardianID != nil {
		id := *c.GuardianID
		out.GuardianID = &id
	}
	if c.TelegramChatID != nil {
		chat := *c.TelegramChatID
		out.TelegramChatID = &chat
	}
	return &out
}

func cloneInstructor(i *model.Instructor) *model.Instructor {
	out := *i
	out.AvailableLocations = slices.Clone(i.AvailableLocations)
	return &out
}
