package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

const defaultDispatchTimeout = 5 * time.Second

// Sink hands an event over to durable delivery.
type Sink interface {
	Enqueue(ctx context.Context, event Event) error
}

// DispatchObserver receives the outcome of every enqueue attempt.
type DispatchObserver interface {
	ObserveDispatch(kind string, err error)
}

// Dispatcher sends events to a Sink in the background. Notify never blocks
// and never fails the caller.
type Dispatcher struct {
	sink     Sink
	logger   *slog.Logger
	observer DispatchObserver
	timeout  time.Duration
	wg       sync.WaitGroup
}

// NewDispatcher builds a Dispatcher. observer may be nil.
func NewDispatcher(sink Sink, logger *slog.Logger, observer DispatchObserver) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dispatcher{sink: sink, logger: logger, observer: observer, timeout: defaultDispatchTimeout}
}

// WithTimeout overrides the per event enqueue timeout.
func (d *Dispatcher) WithTimeout(timeout time.Duration) *Dispatcher {
	if timeout > 0 {
		d.timeout = timeout
	}
	return d
}

// Notify schedules delivery of event. The enqueue runs detached from ctx
// cancellation so a finished request does not abort it.
func (d *Dispatcher) Notify(ctx context.Context, event Event) {
	if d == nil || d.sink == nil {
		return
	}
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	base := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		ctx, cancel := context.WithTimeout(base, d.timeout)
		defer cancel()
		err := d.sink.Enqueue(ctx, event)
		if d.observer != nil {
			d.observer.ObserveDispatch(event.Kind, err)
		}
		if err != nil {
			d.logger.Warn("notification enqueue failed",
				slog.String("event_id", event.ID),
				slog.Int64("recipient_id", event.RecipientID),
				slog.String("kind", event.Kind),
				slog.Any("error", err),
			)
			return
		}
		d.logger.Debug("notification enqueued", slog.String("event_id", event.ID), slog.String("kind", event.Kind))
	}()
}

// Wait blocks until every scheduled enqueue has finished.
func (d *Dispatcher) Wait() {
	if d == nil {
		return
	}
	d.wg.Wait()
}
