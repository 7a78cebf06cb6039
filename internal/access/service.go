package access

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/fanfare-hq/fanfare/internal/identity"
)

// Check names used for metrics and logs.
const (
	CheckAccessCategory    = "access_category"
	CheckManageCategory    = "manage_category"
	CheckAuthorTransaction = "author_transaction"
	CheckManageEvent       = "manage_event"
	CheckCreateEvent       = "create_event"
)

// CategoryReader loads a category. Missing rows yield ErrCategoryNotFound.
type CategoryReader interface {
	FindCategory(ctx context.Context, id int64) (Category, error)
}

// LeaderReader loads the active leaders of a category.
type LeaderReader interface {
	ActiveLeaders(ctx context.Context, categoryID int64) (LeaderSet, error)
}

// DecisionRecorder receives every decision taken by the Service.
type DecisionRecorder interface {
	ObserveDecision(check string, allowed bool, reason string)
}

// Service evaluates checks against state loaded fresh for every call.
// Nothing is cached between calls.
type Service struct {
	categories CategoryReader
	leaders    LeaderReader
	recorder   DecisionRecorder
	logger     *slog.Logger
}

// NewService builds a Service. recorder may be nil.
func NewService(categories CategoryReader, leaders LeaderReader, recorder DecisionRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{categories: categories, leaders: leaders, recorder: recorder, logger: logger}
}

// Snapshot loads the category and its leaders concurrently.
func (s *Service) Snapshot(ctx context.Context, categoryID int64) (Category, LeaderSet, error) {
	var (
		cat     Category
		leaders LeaderSet
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		cat, err = s.categories.FindCategory(gctx, categoryID)
		return err
	})
	g.Go(func() error {
		var err error
		leaders, err = s.leaders.ActiveLeaders(gctx, categoryID)
		return err
	})
	if err := g.Wait(); err != nil {
		return Category{}, LeaderSet{}, fmt.Errorf("access: load category %d: %w", categoryID, err)
	}
	return cat, leaders, nil
}

// AccessCategory decides read access to a category.
func (s *Service) AccessCategory(ctx context.Context, p identity.Principal, categoryID int64) (Decision, error) {
	cat, leaders, err := s.Snapshot(ctx, categoryID)
	if err != nil {
		return Decision{}, err
	}
	return s.Record(CheckAccessCategory, DecideAccessCategory(p, cat, leaders)), nil
}

// AuthorTransaction decides a balance affecting write outside a transaction.
// Writers re-evaluate inside their own transaction.
func (s *Service) AuthorTransaction(ctx context.Context, p identity.Principal, categoryID int64) (Decision, error) {
	cat, leaders, err := s.Snapshot(ctx, categoryID)
	if err != nil {
		return Decision{}, err
	}
	return s.Record(CheckAuthorTransaction, DecideAuthorTransaction(p, cat, leaders)), nil
}

// ManageCategory decides roster changes.
func (s *Service) ManageCategory(p identity.Principal) Decision {
	return s.Record(CheckManageCategory, DecideManageCategory(p))
}

// ManageEvent decides edit or delete of a payment event.
func (s *Service) ManageEvent(ctx context.Context, p identity.Principal, event PaymentEvent) (Decision, error) {
	var leaders LeaderSet
	if event.CategoryID != nil {
		var err error
		leaders, err = s.leaders.ActiveLeaders(ctx, *event.CategoryID)
		if err != nil {
			return Decision{}, fmt.Errorf("access: load leaders %d: %w", *event.CategoryID, err)
		}
	}
	return s.Record(CheckManageEvent, DecideManageEvent(p, event, leaders)), nil
}

// RequireAccessCategory returns ErrPermissionDenied unless access is allowed.
func (s *Service) RequireAccessCategory(ctx context.Context, p identity.Principal, categoryID int64) error {
	d, err := s.AccessCategory(ctx, p, categoryID)
	if err != nil {
		return err
	}
	return Require(d)
}

// RequireManageCategory returns ErrPermissionDenied unless p may manage
// leaders.
func (s *Service) RequireManageCategory(p identity.Principal) error {
	return Require(s.ManageCategory(p))
}

// Record reports d to the recorder and returns it unchanged.
func (s *Service) Record(check string, d Decision) Decision {
	if s == nil {
		return d
	}
	if s.recorder != nil {
		s.recorder.ObserveDecision(check, d.Allowed, string(d.Reason))
	}
	if !d.Allowed {
		s.logger.Debug("access denied", slog.String("check", check), slog.String("reason", string(d.Reason)))
	}
	return d
}

// Require converts a deny into ErrPermissionDenied.
func Require(d Decision) error {
	if d.Allowed {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrPermissionDenied, d.Reason)
}
