package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/Freeeeeet/lesson_booking/internal/app"
	"github.com/Freeeeeet/lesson_booking/internal/clock"
	"github.com/Freeeeeet/lesson_booking/internal/config"
	"github.com/Freeeeeet/lesson_booking/internal/lock"
	"github.com/Freeeeeet/lesson_booking/internal/notify"
	"github.com/Freeeeeet/lesson_booking/internal/repository"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/go-telegram/bot"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger, err := app.NewLogger(cfg.Environment)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Error("Service stopped with error", zap.Error(err))
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("Starting lesson booking",
		zap.String("environment", cfg.Environment),
		zap.Duration("slot_granularity", cfg.Schedule.SlotGranularity),
		zap.Duration("horizon", cfg.Schedule.Horizon),
	)

	// Подключение к БД
	pool, err := pgxpool.New(ctx, cfg.DBDSN)
	if err != nil {
		return err
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		return err
	}
	logger.Info("Connected to database")

	migrator, err := app.NewMigrator(pool, cfg.MigrationsPath, logger)
	if err != nil {
		return err
	}
	if err := migrator.Run(ctx); err != nil {
		_ = migrator.Close()
		return err
	}
	_ = migrator.Close()

	store := repository.NewStore(pool)

	// Блокировки: Redis если задан адрес, иначе в памяти процесса
	var locker lock.Locker
	if cfg.RedisAddr != "" {
		redisLock, err := lock.NewRedisLock(cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer redisLock.Close()
		locker = redisLock
		logger.Info("Using redis locks", zap.String("addr", cfg.RedisAddr))
	} else {
		locker = lock.NewLocalLock()
		logger.Warn("REDIS_ADDR is not set, locks are local to this process")
	}

	dispatcher, err := newDispatcher(cfg, store, logger)
	if err != nil {
		return err
	}
	defer dispatcher.Wait()

	core, err := app.NewCore(app.CoreDeps{
		Store:    store,
		Locks:    lock.NewAcquirer(locker, cfg.Lock.Wait, cfg.Lock.TTL, logger),
		Clock:    clock.Real{},
		IDs:      service.UUIDGenerator{},
		Notifier: dispatcher,
		Policy: service.SchedulePolicy{
			Granularity: cfg.Schedule.SlotGranularity,
			Horizon:     cfg.Schedule.Horizon,
		},
		RefreshInterval: cfg.Schedule.RefreshInterval,
	}, logger)
	if err != nil {
		return err
	}

	core.Keeper.Start(ctx)

	<-ctx.Done()
	logger.Info("Shutting down")
	core.Keeper.Stop()

	return nil
}

func newDispatcher(cfg *config.Config, store *repository.Store, logger *zap.Logger) (*notify.Dispatcher, error) {
	logNotifier := notify.NewLogNotifier(logger)
	if cfg.TelegramToken == "" {
		logger.Warn("TELEGRAM_TOKEN is not set, cancellation notices go to the log")
		return notify.NewDispatcher(logNotifier, logger), nil
	}

	b, err := bot.New(cfg.TelegramToken)
	if err != nil {
		return nil, err
	}

	return notify.NewDispatcher(
		notify.NewTelegramNotifier(b, store),
		logger,
		notify.WithFallback(logNotifier),
	), nil
}
