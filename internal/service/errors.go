package service

import (
	"errors"
	"fmt"

	"github.com/Freeeeeet/lesson_booking/internal/lock"
)

type RejectReason string

const (
	ReasonNotFound           RejectReason = "NotFound"
	ReasonFull               RejectReason = "Full"
	ReasonGuardianRequired   RejectReason = "GuardianRequired"
	ReasonScheduleConflict   RejectReason = "ScheduleConflict"
	ReasonLocationIneligible RejectReason = "LocationIneligible"
	ReasonDuplicateOffering  RejectReason = "DuplicateOffering"
	ReasonAlreadyReserved    RejectReason = "AlreadyReserved"
	ReasonNotReserved        RejectReason = "NotReserved"
)

// Rejection ожидаемый отказ по бизнес-правилу. Состояние не изменено,
// вызывающий может повторить с другими данными.
type Rejection struct {
	Reason  RejectReason
	Message string
}

func (r *Rejection) Error() string {
	if r.Message == "" {
		return string(r.Reason)
	}
	return fmt.Sprintf("%s: %s", r.Reason, r.Message)
}

// Is сравнивает только причину, поэтому errors.Is(err, ErrFull) работает
// независимо от текста сообщения.
func (r *Rejection) Is(target error) bool {
	t, ok := target.(*Rejection)
	return ok && t.Reason == r.Reason
}

var (
	ErrNotFound           = &Rejection{Reason: ReasonNotFound}
	ErrFull               = &Rejection{Reason: ReasonFull}
	ErrGuardianRequired   = &Rejection{Reason: ReasonGuardianRequired}
	ErrScheduleConflict   = &Rejection{Reason: ReasonScheduleConflict}
	ErrLocationIneligible = &Rejection{Reason: ReasonLocationIneligible}
	ErrDuplicateOffering  = &Rejection{Reason: ReasonDuplicateOffering}
	ErrAlreadyReserved    = &Rejection{Reason: ReasonAlreadyReserved}
	ErrNotReserved        = &Rejection{Reason: ReasonNotReserved}
)

var (
	// ErrInfrastructure помечает неожиданные сбои: хранилище недоступно, таймаут замка.
	ErrInfrastructure = errors.New("infrastructure failure")
	// ErrInvalidInput помечает ошибки вызывающего, например отрицательную вместимость.
	ErrInvalidInput = errors.New("invalid input")
)

func reject(reason RejectReason, format string, args ...any) *Rejection {
	return &Rejection{Reason: reason, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}

// infra относит err к инфраструктурным сбоям, если это не отказ
// и не ошибка входных данных.
func infra(op string, err error) error {
	if err == nil {
		return nil
	}
	var r *Rejection
	if errors.As(err, &r) || errors.Is(err, ErrInvalidInput) || errors.Is(err, ErrInfrastructure) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrInfrastructure, err)
}

// ReasonOf достаёт причину отказа из err
func ReasonOf(err error) (RejectReason, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r.Reason, true
	}
	return "", false
}

// IsRetryable сообщает, можно ли повторить операцию без изменений
func IsRetryable(err error) bool {
	return errors.Is(err, lock.ErrLockTimeout)
}
