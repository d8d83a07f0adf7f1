package app

import (
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/clock"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"go.uber.org/zap"
)

// Core собирает сервисы ядра бронирования над одним хранилищем
type Core struct {
	Ledger    *service.Ledger
	Schedules *service.ScheduleService
	Bookings  *service.BookingService
	Keeper    *HorizonKeeper
}

type CoreDeps struct {
	Store    service.Store
	Locks    *lock.Acquirer
	Clock    clock.Clock
	IDs      service.IDGenerator
	Notifier service.Notifier
	Policy   service.SchedulePolicy
	// период обновления горизонта
	RefreshInterval time.Duration
}

func NewCore(deps CoreDeps, logger *zap.Logger) (*Core, error) {
	ledger := service.NewLedger(deps.Store, deps.Locks, logger)

	schedules, err := service.NewScheduleService(deps.Store, deps.Locks, deps.Clock, deps.IDs, deps.Policy, logger)
	if err != nil {
		return nil, err
	}

	bookings := service.NewBookingService(deps.Store, ledger, schedules, deps.Locks, deps.Clock, deps.IDs, deps.Notifier, logger)

	return &Core{
		Ledger:    ledger,
		Schedules: schedules,
		Bookings:  bookings,
		Keeper:    NewHorizonKeeper(schedules, deps.RefreshInterval, logger),
	}, nil
}
