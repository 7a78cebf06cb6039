package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/shared"
)

const (
	recentTransactions = 50
	maxDescriptionLen  = 200
	leaderLoadLimit    = 4
)

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service implements ledger use cases.
type Service struct {
	repo    Repository
	leaders access.LeaderReader
	access  *access.Service
	audit   AuditRecorder
	logger  *slog.Logger
	now     func() time.Time
}

// NewService builds a Service. audit may be nil.
func NewService(repo Repository, leaders access.LeaderReader, accessSvc *access.Service, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		leaders: leaders,
		access:  accessSvc,
		audit:   audit,
		logger:  logger,
		now:     time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// ListCategories returns every category of the group with the principal's
// access decision. Administrators choose the group; everyone else sees
// their own.
func (s *Service) ListCategories(ctx context.Context, p identity.Principal, groupID int64) ([]CategorySummary, error) {
	groupID, err := scopeGroup(p, groupID)
	if err != nil {
		return nil, err
	}
	cats, err := s.repo.ListCategories(ctx, groupID)
	if err != nil {
		return nil, fmt.Errorf("ledger: list categories: %w", err)
	}

	out := make([]CategorySummary, len(cats))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(leaderLoadLimit)
	for i, c := range cats {
		i, c := i, c
		g.Go(func() error {
			leaders, err := s.leaders.ActiveLeaders(gctx, c.ID)
			if err != nil {
				return fmt.Errorf("ledger: load leaders %d: %w", c.ID, err)
			}
			d := s.access.Record(access.CheckAccessCategory, access.DecideAccessCategory(p, c.Lockable(), leaders))
			out[i] = summarize(c, d)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// CategoryAccess returns the principal's decision for one category.
func (s *Service) CategoryAccess(ctx context.Context, p identity.Principal, id int64) (access.Decision, error) {
	cat, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return access.Decision{}, err
	}
	if !access.WithinGroup(p, cat.GroupID) {
		return access.Decision{}, ErrCategoryNotFound
	}
	return s.access.AccessCategory(ctx, p, id)
}

// GetCategory returns a category and its most recent transactions.
func (s *Service) GetCategory(ctx context.Context, p identity.Principal, id int64) (Category, []Transaction, error) {
	cat, err := s.repo.GetCategory(ctx, id)
	if err != nil {
		return Category{}, nil, err
	}
	if !access.WithinGroup(p, cat.GroupID) {
		return Category{}, nil, ErrCategoryNotFound
	}
	if err := s.access.RequireAccessCategory(ctx, p, id); err != nil {
		return Category{}, nil, err
	}
	txs, err := s.repo.ListTransactions(ctx, id, recentTransactions)
	if err != nil {
		return Category{}, nil, fmt.Errorf("ledger: list transactions: %w", err)
	}
	if txs == nil {
		txs = []Transaction{}
	}
	return cat, txs, nil
}

// AuthorTransaction records a balance movement. The category row is locked
// and the leaders reloaded in the same transaction, so a concurrent
// revocation either commits first and denies this write or waits for it.
func (s *Service) AuthorTransaction(ctx context.Context, p identity.Principal, in TransactionInput) (Transaction, int64, error) {
	in.Description = strings.TrimSpace(in.Description)
	if in.Amount == 0 {
		return Transaction{}, 0, fmt.Errorf("%w: amount must not be zero", ErrInvalidInput)
	}
	if len(in.Description) > maxDescriptionLen {
		return Transaction{}, 0, fmt.Errorf("%w: description too long", ErrInvalidInput)
	}
	if in.IdempotencyKey == uuid.Nil {
		in.IdempotencyKey = uuid.New()
	}

	var (
		created Transaction
		balance int64
	)
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cat, err := s.lockForAuthoring(ctx, tx, p, in.CategoryID)
		if err != nil {
			return err
		}
		created, err = tx.InsertTransaction(ctx, Transaction{
			CategoryID:     cat.ID,
			Amount:         in.Amount,
			Description:    in.Description,
			AuthoredBy:     p.Ref(),
			IdempotencyKey: in.IdempotencyKey,
			CreatedAt:      s.now().UTC(),
		})
		if err != nil {
			return err
		}
		balance, err = tx.AdjustBalance(ctx, cat.ID, in.Amount)
		return err
	})
	if err != nil {
		return Transaction{}, 0, wrap("author transaction", err)
	}
	s.record(ctx, p, "ledger.transaction.create", "transaction", created.ID, map[string]any{
		"category_id": created.CategoryID,
		"amount":      created.Amount,
	})
	return created, balance, nil
}

// CreateEvent raises a payment event. Events on a category follow the
// transaction rule for that category; uncategorised events need group
// leadership or a finance permission.
func (s *Service) CreateEvent(ctx context.Context, p identity.Principal, in EventInput) (PaymentEvent, error) {
	if err := validateEvent(in); err != nil {
		return PaymentEvent{}, err
	}
	event := PaymentEvent{
		CategoryID: in.CategoryID,
		Title:      strings.TrimSpace(in.Title),
		Amount:     in.Amount,
		DueAt:      in.DueAt,
		CreatedBy:  p.Ref(),
		CreatedAt:  s.now().UTC(),
	}
	if in.CategoryID == nil {
		if err := access.Require(s.access.Record(access.CheckCreateEvent, access.DecideCreateUncategorisedEvent(p))); err != nil {
			return PaymentEvent{}, err
		}
		groupID, err := scopeGroup(p, in.GroupID)
		if err != nil {
			return PaymentEvent{}, err
		}
		event.GroupID = groupID
	}

	var created PaymentEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if event.CategoryID != nil {
			cat, err := s.lockForAuthoring(ctx, tx, p, *event.CategoryID)
			if err != nil {
				return err
			}
			event.GroupID = cat.GroupID
		}
		var err error
		created, err = tx.InsertEvent(ctx, event)
		return err
	})
	if err != nil {
		return PaymentEvent{}, wrap("create event", err)
	}
	s.record(ctx, p, "ledger.event.create", "payment_event", created.ID, nil)
	return created, nil
}

// UpdateEvent edits an event. Events tied to a category may only be edited
// by that category's current leaders. Moving an event to another category
// also requires authoring rights there.
func (s *Service) UpdateEvent(ctx context.Context, p identity.Principal, id int64, in EventInput) (PaymentEvent, error) {
	if err := validateEvent(in); err != nil {
		return PaymentEvent{}, err
	}
	var updated PaymentEvent
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := s.lockForManaging(ctx, tx, p, id)
		if err != nil {
			return err
		}
		if !sameCategory(current.CategoryID, in.CategoryID) {
			if in.CategoryID == nil {
				d := s.access.Record(access.CheckCreateEvent, access.DecideCreateUncategorisedEvent(p))
				if err := access.Require(d); err != nil {
					return err
				}
			} else {
				cat, err := s.lockForAuthoring(ctx, tx, p, *in.CategoryID)
				if err != nil {
					return err
				}
				if cat.GroupID != current.GroupID {
					return ErrCategoryNotFound
				}
			}
		}
		current.CategoryID = in.CategoryID
		current.Title = strings.TrimSpace(in.Title)
		current.Amount = in.Amount
		current.DueAt = in.DueAt
		current.UpdatedAt = s.now().UTC()
		updated, err = tx.UpdateEvent(ctx, current)
		return err
	})
	if err != nil {
		return PaymentEvent{}, wrap("update event", err)
	}
	s.record(ctx, p, "ledger.event.update", "payment_event", updated.ID, nil)
	return updated, nil
}

// DeleteEvent removes an event under the same rule as UpdateEvent.
func (s *Service) DeleteEvent(ctx context.Context, p identity.Principal, id int64) error {
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if _, err := s.lockForManaging(ctx, tx, p, id); err != nil {
			return err
		}
		return tx.DeleteEvent(ctx, id)
	})
	if err != nil {
		return wrap("delete event", err)
	}
	s.record(ctx, p, "ledger.event.delete", "payment_event", id, nil)
	return nil
}

// lockForAuthoring locks the category and evaluates the transaction rule
// against leaders read under that lock.
func (s *Service) lockForAuthoring(ctx context.Context, tx TxRepository, p identity.Principal, categoryID int64) (Category, error) {
	cat, err := tx.LockCategory(ctx, categoryID)
	if err != nil {
		return Category{}, err
	}
	if !access.WithinGroup(p, cat.GroupID) {
		return Category{}, ErrCategoryNotFound
	}
	leaders, err := tx.ActiveLeaders(ctx, cat.ID)
	if err != nil {
		return Category{}, err
	}
	d := s.access.Record(access.CheckAuthorTransaction, access.DecideAuthorTransaction(p, cat.Lockable(), leaders))
	if err := access.Require(d); err != nil {
		return Category{}, err
	}
	return cat, nil
}

func (s *Service) lockForManaging(ctx context.Context, tx TxRepository, p identity.Principal, eventID int64) (PaymentEvent, error) {
	event, err := tx.LockEvent(ctx, eventID)
	if err != nil {
		return PaymentEvent{}, err
	}
	if !access.WithinGroup(p, event.GroupID) {
		return PaymentEvent{}, ErrEventNotFound
	}
	var leaders access.LeaderSet
	if event.CategoryID != nil {
		if _, err := tx.LockCategory(ctx, *event.CategoryID); err != nil {
			return PaymentEvent{}, err
		}
		leaders, err = tx.ActiveLeaders(ctx, *event.CategoryID)
		if err != nil {
			return PaymentEvent{}, err
		}
	}
	d := s.access.Record(access.CheckManageEvent, access.DecideManageEvent(p, event.Access(), leaders))
	if err := access.Require(d); err != nil {
		return PaymentEvent{}, err
	}
	return event, nil
}

func validateEvent(in EventInput) error {
	title := strings.TrimSpace(in.Title)
	if title == "" || len(title) > maxDescriptionLen {
		return fmt.Errorf("%w: title is required and at most %d characters", ErrInvalidInput, maxDescriptionLen)
	}
	if in.Amount <= 0 {
		return fmt.Errorf("%w: amount must be positive", ErrInvalidInput)
	}
	return nil
}

// scopeGroup picks the group a principal acts on.
func scopeGroup(p identity.Principal, requested int64) (int64, error) {
	if p.Kind == identity.KindAdministrator {
		if requested <= 0 {
			return 0, fmt.Errorf("%w: group_id is required", ErrInvalidInput)
		}
		return requested, nil
	}
	if p.GroupID == 0 {
		return 0, access.ErrPermissionDenied
	}
	return p.GroupID, nil
}

func (s *Service) record(ctx context.Context, p identity.Principal, action, entity string, id int64, meta map[string]any) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorKind: string(p.Kind),
		ActorID:   p.ID,
		Action:    action,
		Entity:    entity,
		EntityID:  strconv.FormatInt(id, 10),
		Meta:      meta,
	})
	if err != nil {
		s.logger.Warn("audit ledger change", slog.String("action", action), slog.Any("error", err))
	}
}

func wrap(op string, err error) error {
	for _, sentinel := range []error{
		ErrCategoryNotFound, ErrEventNotFound, ErrDuplicateTransaction,
		ErrInvalidInput, access.ErrPermissionDenied,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("ledger: %s: %w", op, err)
}
