package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"

	jobmetrics "github.com/fanfare-hq/fanfare/internal/jobs"
	"github.com/fanfare-hq/fanfare/jobs"
)

// Enqueuer is implemented by jobs.Client.
type Enqueuer interface {
	EnqueueNotification(ctx context.Context, payload jobs.NotificationPayload) (*asynq.TaskInfo, error)
}

// QueueSink enqueues events as asynq tasks.
type QueueSink struct {
	client Enqueuer
}

// NewQueueSink wraps a jobs client.
func NewQueueSink(client Enqueuer) *QueueSink {
	return &QueueSink{client: client}
}

// Enqueue implements Sink. A duplicate event id counts as delivered.
func (s *QueueSink) Enqueue(ctx context.Context, event Event) error {
	raw, err := json.Marshal(event.Payload)
	if err != nil {
		return fmt.Errorf("notify: encode payload: %w", err)
	}
	_, err = s.client.EnqueueNotification(ctx, jobs.NotificationPayload{
		EventID:     event.ID,
		RecipientID: event.RecipientID,
		Kind:        event.Kind,
		Payload:     raw,
	})
	if err != nil && !errors.Is(err, asynq.ErrTaskIDConflict) {
		return fmt.Errorf("notify: enqueue: %w", err)
	}
	return nil
}

// TaskHandler persists queued notifications on the worker side.
type TaskHandler struct {
	repo    Repository
	logger  *slog.Logger
	metrics *jobmetrics.Metrics
}

// NewTaskHandler builds the worker handler. metrics may be nil.
func NewTaskHandler(repo Repository, logger *slog.Logger, metrics *jobmetrics.Metrics) *TaskHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TaskHandler{repo: repo, logger: logger, metrics: metrics}
}

// Registration exposes the handler to jobs.NewWorker.
func (h *TaskHandler) Registration() jobs.TaskHandler {
	return jobs.TaskHandler{Type: jobs.TaskNotificationDeliver, Handler: h.Handle}
}

// Handle processes jobs.TaskNotificationDeliver tasks. Malformed payloads
// are not retried.
func (h *TaskHandler) Handle(ctx context.Context, t *asynq.Task) (resultErr error) {
	tracker := h.metrics.Track(jobs.TaskNotificationDeliver)
	defer func() {
		resultErr = tracker.End(resultErr)
	}()

	payload, err := jobs.DecodeNotificationTask(t)
	if err != nil {
		h.logger.Error("discarding notification task", slog.Any("error", err))
		return fmt.Errorf("%w: %v", asynq.SkipRetry, err)
	}
	inserted, err := h.repo.Insert(ctx, Notification{
		EventID:     payload.EventID,
		RecipientID: payload.RecipientID,
		Kind:        payload.Kind,
		Payload:     payload.Payload,
	})
	if err != nil {
		h.logger.Error("persist notification", slog.String("event_id", payload.EventID), slog.Any("error", err))
		return err
	}
	if inserted {
		h.metrics.AddDelivered(payload.Kind, 1)
	}
	return nil
}
