package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/repository/base"
	"github.com/Freeeeeet/lesson_booking/internal/service"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store implements service.Store on PostgreSQL
type Store struct {
	pool *pgxpool.Pool // nil внутри транзакции

	*ClientRepository
	*InstructorRepository
	*BranchRepository
	*OfferingRepository
	*ScheduleRepository
	*SlotRepository
	*BookingRepository
}

var _ service.Store = (*Store)(nil)

func NewStore(pool *pgxpool.Pool) *Store {
	s := newStore(pool)
	s.pool = pool
	return s
}

func newStore(db base.DBTX) *Store {
	return &Store{
		ClientRepository:     NewClientRepository(db),
		InstructorRepository: NewInstructorRepository(db),
		BranchRepository:     NewBranchRepository(db),
		OfferingRepository:   NewOfferingRepository(db),
		ScheduleRepository:   NewScheduleRepository(db),
		SlotRepository:       NewSlotRepository(db),
		BookingRepository:    NewBookingRepository(db),
	}
}

// WithinTx runs fn in a transaction; nested calls reuse the outer one
func (s *Store) WithinTx(ctx context.Context, fn func(ctx context.Context, tx service.Store) error) error {
	if s.pool == nil {
		return fn(ctx, s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	// после Commit откат ничего не делает
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(ctx, newStore(tx)); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
