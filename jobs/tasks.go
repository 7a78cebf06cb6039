package jobs

import (
	"encoding/json"
	"errors"

	"github.com/hibiken/asynq"
)

const (
	// QueueDefault is the default queue name for background jobs.
	QueueDefault = "default"
	// QueueNotifications carries member notification deliveries.
	QueueNotifications = "notifications"
	// TaskNotificationDeliver persists one member notification.
	TaskNotificationDeliver = "notification:deliver"
	// DefaultNotificationMaxRetry bounds delivery retries.
	DefaultNotificationMaxRetry = 5
	// TaskSessionPurge removes expired session bindings.
	TaskSessionPurge = "session:purge"
)

// NewSessionPurgeTask constructs the periodic purge task. It carries no
// payload; the worker purges everything expired at run time.
func NewSessionPurgeTask() *asynq.Task {
	return asynq.NewTask(TaskSessionPurge, nil)
}

// NotificationPayload describes a notification to persist for a member.
// EventID deduplicates retries and repeated enqueues.
type NotificationPayload struct {
	EventID     string          `json:"event_id"`
	RecipientID int64           `json:"recipient_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
}

// Validate reports payloads that can never be delivered.
func (p NotificationPayload) Validate() error {
	if p.EventID == "" || p.RecipientID <= 0 || p.Kind == "" {
		return errors.New("jobs: incomplete notification payload")
	}
	return nil
}

// NewNotificationTask constructs an Asynq task.
func NewNotificationTask(payload NotificationPayload) (*asynq.Task, error) {
	if err := payload.Validate(); err != nil {
		return nil, err
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return asynq.NewTask(TaskNotificationDeliver, data), nil
}

// DecodeNotificationTask parses a TaskNotificationDeliver payload.
func DecodeNotificationTask(t *asynq.Task) (NotificationPayload, error) {
	var payload NotificationPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return NotificationPayload{}, err
	}
	if err := payload.Validate(); err != nil {
		return NotificationPayload{}, err
	}
	return payload, nil
}
