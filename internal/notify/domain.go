// Package notify records in-app notifications for members. Delivery is
// decoupled from the caller through the job queue.
package notify

import (
	"encoding/json"
	"errors"
	"time"
)

// KindLeadershipAssigned is emitted after a category leadership assignment.
const KindLeadershipAssigned = "leadership_assigned"

var (
	// ErrNotificationNotFound is returned when the notification does not exist.
	ErrNotificationNotFound = errors.New("notify: notification not found")
	// ErrNotRecipient is returned when someone other than the recipient
	// tries to change a notification.
	ErrNotRecipient = errors.New("notify: not the recipient")
)

// Event is a request to notify one member.
type Event struct {
	ID          string
	RecipientID int64
	Kind        string
	Payload     map[string]any
}

// Notification is a persisted notification row.
type Notification struct {
	ID          int64           `json:"id"`
	EventID     string          `json:"-"`
	RecipientID int64           `json:"recipient_id"`
	Kind        string          `json:"kind"`
	Payload     json.RawMessage `json:"payload"`
	IsRead      bool            `json:"is_read"`
	CreatedAt   time.Time       `json:"created_at"`
	ReadAt      *time.Time      `json:"read_at,omitempty"`
}

// ListFilter narrows ListForRecipient.
type ListFilter struct {
	UnreadOnly bool
	Limit      int
}
