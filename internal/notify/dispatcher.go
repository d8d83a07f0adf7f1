// Package notify delivers cancellation notices to clients outside the
// request path.
package notify

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Freeeeeet/lesson_booking/internal/model"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ErrNoChannel means the notifier has no way to reach this client
var ErrNoChannel = errors.New("no delivery channel for client")

// Notifier sends one notice. Implementations may block.
type Notifier interface {
	Send(ctx context.Context, notice model.CancellationNotice) error
}

const (
	defaultTimeout  = 10 * time.Second
	defaultParallel = 4
)

// Dispatcher fans notices out to a Notifier in the background. Failures are
// logged and never reach the caller. A notice the primary notifier cannot
// route (ErrNoChannel) goes to the fallback.
type Dispatcher struct {
	primary  Notifier
	fallback Notifier
	timeout  time.Duration
	parallel int
	logger   *zap.Logger
	wg       sync.WaitGroup
}

type Option func(*Dispatcher)

func WithFallback(n Notifier) Option {
	return func(d *Dispatcher) { d.fallback = n }
}

// WithTimeout bounds delivery of a single notice
func WithTimeout(timeout time.Duration) Option {
	return func(d *Dispatcher) { d.timeout = timeout }
}

func WithParallel(n int) Option {
	return func(d *Dispatcher) { d.parallel = n }
}

func NewDispatcher(primary Notifier, logger *zap.Logger, opts ...Option) *Dispatcher {
	d := &Dispatcher{
		primary:  primary,
		timeout:  defaultTimeout,
		parallel: defaultParallel,
		logger:   logger,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// NotifyCancellation returns immediately; delivery outlives ctx cancellation.
func (d *Dispatcher) NotifyCancellation(ctx context.Context, notices []model.CancellationNotice) {
	if len(notices) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)

	d.wg.Add(1)
	go func() {
		defer d.wg.Done()

		var g errgroup.Group
		g.SetLimit(d.parallel)
		for _, notice := range notices {
			g.Go(func() error {
				d.deliver(ctx, notice)
				return nil
			})
		}
		_ = g.Wait()
	}()
}

func (d *Dispatcher) deliver(ctx context.Context, notice model.CancellationNotice) {
	ctx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	fields := []zap.Field{
		zap.String("client_id", notice.ClientID),
		zap.String("booking_id", notice.BookingID),
	}

	err := d.primary.Send(ctx, notice)
	if errors.Is(err, ErrNoChannel) && d.fallback != nil {
		err = d.fallback.Send(ctx, notice)
	}
	if err != nil {
		d.logger.Warn("Failed to deliver cancellation notice", append(fields, zap.Error(err))...)
		return
	}

	d.logger.Debug("Cancellation notice delivered", fields...)
}

// Wait blocks until every notice accepted so far was handled
func (d *Dispatcher) Wait() {
	d.wg.Wait()
}
