package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fanfare-hq/fanfare/internal/identity"
)

// Service exposes a member's notifications.
type Service struct {
	repo Repository
	now  func() time.Time
}

// NewService builds a Service.
func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// ListForRecipient returns the principal's notifications. Only members
// receive notifications; other principals get an empty list.
func (s *Service) ListForRecipient(ctx context.Context, p identity.Principal, filter ListFilter) ([]Notification, error) {
	if !p.IsMember() {
		return []Notification{}, nil
	}
	items, err := s.repo.ListForRecipient(ctx, p.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("notify: list: %w", err)
	}
	if items == nil {
		items = []Notification{}
	}
	return items, nil
}

// MarkRead marks a notification read. Only its recipient may do so.
func (s *Service) MarkRead(ctx context.Context, p identity.Principal, id int64) (Notification, error) {
	n, err := s.repo.Find(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotificationNotFound) {
			return Notification{}, err
		}
		return Notification{}, fmt.Errorf("notify: find %d: %w", id, err)
	}
	if !p.IsMember() || n.RecipientID != p.ID {
		return Notification{}, ErrNotRecipient
	}
	if n.IsRead {
		return n, nil
	}
	updated, err := s.repo.MarkRead(ctx, id, s.now().UTC())
	if err != nil {
		return Notification{}, fmt.Errorf("notify: mark read %d: %w", id, err)
	}
	return updated, nil
}
