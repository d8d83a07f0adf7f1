package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
)

// Поиск возвращает (nil, nil), если сущности нет.

type ClientStore interface {
	GetClient(ctx context.Context, id string) (*model.Client, error)
	SaveClient(ctx context.Context, client *model.Client) error
	DeleteClient(ctx context.Context, id string) error
}

type InstructorStore interface {
	GetInstructor(ctx context.Context, id string) (*model.Instructor, error)
	SaveInstructor(ctx context.Context, instructor *model.Instructor) error
	DeleteInstructor(ctx context.Context, id string) error
}

type BranchStore interface {
	GetBranch(ctx context.Context, id string) (*model.Branch, error)
	SaveBranch(ctx context.Context, branch *model.Branch) error
	DeleteBranch(ctx context.Context, id string) error
}

// PublicOfferingFilter фильтр для ListPublicOfferings. Пустые поля не фильтруют.
type PublicOfferingFilter struct {
	LocationID   string
	InstructorID string
	OfferingID   string
}

type OfferingStore interface {
	GetOffering(ctx context.Context, id string) (*model.Offering, error)
	SaveOffering(ctx context.Context, offering *model.Offering) error
	DeleteOffering(ctx context.Context, id string) error

	GetPublicOffering(ctx context.Context, id string) (*model.PublicOffering, error)
	SavePublicOffering(ctx context.Context, po *model.PublicOffering) error
	DeletePublicOffering(ctx context.Context, id string) error
	ListPublicOfferings(ctx context.Context, filter PublicOfferingFilter) ([]*model.PublicOffering, error)
}

type ScheduleStore interface {
	GetSchedule(ctx context.Context, id string) (*model.Schedule, error)
	SaveSchedule(ctx context.Context, schedule *model.Schedule) error
	DeleteSchedule(ctx context.Context, id string) error
	ListSchedules(ctx context.Context) ([]*model.Schedule, error)
	ListSchedulesByOwner(ctx context.Context, ownerID string) ([]*model.Schedule, error)
}

type SlotStore interface {
	GetSlot(ctx context.Context, scheduleID string, start time.Time) (*model.TimeSlot, error)
	// ListSlots возвращает слоты расписания по времени начала
	ListSlots(ctx context.Context, scheduleID string) ([]*model.TimeSlot, error)
	InsertSlots(ctx context.Context, slots []*model.TimeSlot) error
	UpdateSlot(ctx context.Context, slot *model.TimeSlot) error
	// DeleteSlotsBefore удаляет слоты, начинающиеся раньше момента, и возвращает их
	DeleteSlotsBefore(ctx context.Context, scheduleID string, before time.Time) ([]*model.TimeSlot, error)
	DeleteSlots(ctx context.Context, scheduleID string) error
}

type BookingStore interface {
	GetBooking(ctx context.Context, id string) (*model.Booking, error)
	SaveBooking(ctx context.Context, booking *model.Booking) error
	DeleteBooking(ctx context.Context, id string) error
	ListBookingsByPublicOffering(ctx context.Context, publicOfferingID string) ([]*model.Booking, error)
	// ListBookingsByClient возвращает брони, где клиент автор или участник
	ListBookingsByClient(ctx context.Context, clientID string) ([]*model.Booking, error)
}

// Store хранилище сущностей, с которым работает ядро расписаний.
// WithinTx выполняет fn атомарно: при ошибке ничего из записанного не сохраняется.
type Store interface {
	ClientStore
	InstructorStore
	BranchStore
	OfferingStore
	ScheduleStore
	SlotStore
	BookingStore

	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Store) error) error
}

// Notifier доставляет уведомления об отмене. Реализации не должны блокировать
// вызывающего и сами обрабатывают свои ошибки.
type Notifier interface {
	NotifyCancellation(ctx context.Context, notices []model.CancellationNotice)
}
