// Package ledger holds financial category balances, the transactions that
// move them and the payment events members are charged for. Every write is
// re-evaluated against the access rules inside its own transaction.
package ledger

import (
	"errors"
	"time"

	"github.com/google/uuid"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
)

var (
	// ErrCategoryNotFound aliases the evaluator's error.
	ErrCategoryNotFound = access.ErrCategoryNotFound
	// ErrEventNotFound is returned when a payment event does not exist.
	ErrEventNotFound = errors.New("ledger: payment event not found")
	// ErrDuplicateTransaction is returned when the idempotency key was
	// already used.
	ErrDuplicateTransaction = errors.New("ledger: duplicate transaction")
	// ErrInvalidInput covers amounts, titles and group selection.
	ErrInvalidInput = errors.New("ledger: invalid input")
)

// Category is a financial category with its balance in cents.
type Category struct {
	ID       int64  `json:"id"`
	GroupID  int64  `json:"group_id"`
	Name     string `json:"name"`
	IsLocked bool   `json:"is_locked"`
	Balance  int64  `json:"balance"`
}

// Lockable returns the view the evaluator works on.
func (c Category) Lockable() access.Category {
	return access.Category{ID: c.ID, GroupID: c.GroupID, Name: c.Name, IsLocked: c.IsLocked}
}

// CategorySummary is a category as seen by one principal. Balance is
// withheld when access is denied.
type CategorySummary struct {
	ID       int64           `json:"id"`
	GroupID  int64           `json:"group_id"`
	Name     string          `json:"name"`
	IsLocked bool            `json:"is_locked"`
	Balance  *int64          `json:"balance,omitempty"`
	Access   access.Decision `json:"access"`
}

func summarize(c Category, d access.Decision) CategorySummary {
	s := CategorySummary{ID: c.ID, GroupID: c.GroupID, Name: c.Name, IsLocked: c.IsLocked, Access: d}
	if d.Allowed {
		balance := c.Balance
		s.Balance = &balance
	}
	return s
}

// Transaction is an accepted balance movement. Negative amounts are
// expenses.
type Transaction struct {
	ID             int64        `json:"id"`
	CategoryID     int64        `json:"category_id"`
	Amount         int64        `json:"amount"`
	Description    string       `json:"description"`
	AuthoredBy     identity.Ref `json:"authored_by"`
	IdempotencyKey uuid.UUID    `json:"idempotency_key"`
	CreatedAt      time.Time    `json:"created_at"`
}

// TransactionInput carries a transaction request. A zero IdempotencyKey is
// replaced with a fresh one.
type TransactionInput struct {
	CategoryID     int64
	Amount         int64
	Description    string
	IdempotencyKey uuid.UUID
}

// PaymentEvent is a charge raised against group members, optionally tied
// to a category.
type PaymentEvent struct {
	ID         int64        `json:"id"`
	GroupID    int64        `json:"group_id"`
	CategoryID *int64       `json:"category_id,omitempty"`
	Title      string       `json:"title"`
	Amount     int64        `json:"amount"`
	DueAt      *time.Time   `json:"due_at,omitempty"`
	CreatedBy  identity.Ref `json:"created_by"`
	CreatedAt  time.Time    `json:"created_at"`
	UpdatedAt  time.Time    `json:"updated_at"`
}

// Access returns the view the evaluator works on.
func (e PaymentEvent) Access() access.PaymentEvent {
	return access.PaymentEvent{ID: e.ID, GroupID: e.GroupID, CategoryID: e.CategoryID}
}

// EventInput carries a create or update request. GroupID is only read for
// administrators creating uncategorised events; everyone else acts on their
// own group.
type EventInput struct {
	GroupID    int64
	CategoryID *int64
	Title      string
	Amount     int64
	DueAt      *time.Time
}

func sameCategory(a, b *int64) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}
