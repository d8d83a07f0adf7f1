package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/service"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// HorizonRefresher is the part of the schedule manager the keeper drives
type HorizonRefresher interface {
	ListScheduleIDs(ctx context.Context) ([]string, error)
	RefreshHorizon(ctx context.Context, scheduleID string) (*service.RefreshResult, error)
}

// HorizonKeeper periodically refreshes every schedule so the live window
// keeps its length without callers having to trigger it.
type HorizonKeeper struct {
	schedules HorizonRefresher
	interval  time.Duration
	parallel  int
	logger    *zap.Logger

	stopOnce sync.Once
	stopChan chan struct{}
	done     chan struct{}
}

func NewHorizonKeeper(schedules HorizonRefresher, interval time.Duration, logger *zap.Logger) *HorizonKeeper {
	return &HorizonKeeper{
		schedules: schedules,
		interval:  interval,
		parallel:  8,
		logger:    logger,
		stopChan:  make(chan struct{}),
		done:      make(chan struct{}),
	}
}

// Start запускает фоновое обновление
func (k *HorizonKeeper) Start(ctx context.Context) {
	k.logger.Info("Starting horizon keeper", zap.Duration("interval", k.interval))
	go k.run(ctx)
}

// Stop останавливает обновление и ждёт завершения текущего прохода
func (k *HorizonKeeper) Stop() {
	k.stopOnce.Do(func() {
		k.logger.Info("Stopping horizon keeper")
		close(k.stopChan)
	})
	<-k.done
}

func (k *HorizonKeeper) run(ctx context.Context) {
	defer close(k.done)

	// Первый запуск сразу при старте
	k.refresh(ctx)

	ticker := time.NewTicker(k.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			k.refresh(ctx)
		case <-k.stopChan:
			k.logger.Info("Horizon keeper stopped")
			return
		case <-ctx.Done():
			k.logger.Info("Horizon keeper cancelled")
			return
		}
	}
}

func (k *HorizonKeeper) refresh(ctx context.Context) {
	refreshed, err := k.RefreshAll(ctx)
	if err != nil {
		k.logger.Error("Horizon refresh incomplete", zap.Int("refreshed", refreshed), zap.Error(err))
		return
	}
	k.logger.Info("Horizon refresh completed", zap.Int("schedules", refreshed))
}

// RefreshAll refreshes every schedule once. A failing schedule does not stop
// the others; schedules deleted meanwhile are skipped.
func (k *HorizonKeeper) RefreshAll(ctx context.Context) (int, error) {
	ids, err := k.schedules.ListScheduleIDs(ctx)
	if err != nil {
		return 0, err
	}

	var refreshed, failed atomic.Int32

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(k.parallel)
	for _, id := range ids {
		g.Go(func() error {
			result, err := k.schedules.RefreshHorizon(ctx, id)
			switch {
			case err == nil:
				refreshed.Add(1)
				for _, slot := range result.PrunedReserved() {
					k.logger.Warn("Reserved slot expired",
						zap.String("schedule_id", id),
						zap.Time("start_time", slot.StartTime),
						zap.String("reserved_by", slot.ReservedBy.ID),
					)
				}
			case errors.Is(err, service.ErrNotFound):
			case errors.Is(err, context.Canceled):
				return err
			default:
				failed.Add(1)
				k.logger.Error("Failed to refresh schedule", zap.String("schedule_id", id), zap.Error(err))
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return int(refreshed.Load()), err
	}

	if n := failed.Load(); n > 0 {
		return int(refreshed.Load()), fmt.Errorf("%d of %d schedules failed to refresh", n, len(ids))
	}
	return int(refreshed.Load()), nil
}
