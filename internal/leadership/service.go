package leadership

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/notify"
	"github.com/fanfare-hq/fanfare/internal/shared"
)

// Notifier receives assignment events. Implementations must not block.
type Notifier interface {
	Notify(ctx context.Context, event notify.Event)
}

// AuditRecorder persists audit entries.
type AuditRecorder interface {
	Record(ctx context.Context, log shared.AuditLog) error
}

// Service manages the leadership roster.
type Service struct {
	repo     Repository
	access   *access.Service
	notifier Notifier
	audit    AuditRecorder
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds a Service. notifier and audit may be nil.
func NewService(repo Repository, accessSvc *access.Service, notifier Notifier, audit AuditRecorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		access:   accessSvc,
		notifier: notifier,
		audit:    audit,
		logger:   logger,
		now:      time.Now,
	}
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// Assign grants a leadership role to a member of the category's group.
func (s *Service) Assign(ctx context.Context, actor identity.Principal, in AssignInput) (Assignment, error) {
	if err := s.access.RequireManageCategory(actor); err != nil {
		return Assignment{}, err
	}
	role, err := ParseRole(in.Role)
	if err != nil {
		return Assignment{}, err
	}
	by := actor.Ref()
	var created Assignment
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cat, err := tx.LockCategory(ctx, in.CategoryID)
		if err != nil {
			return err
		}
		if err := requireSameGroup(actor, cat); err != nil {
			return err
		}
		member, err := tx.FindMember(ctx, in.MemberID)
		if err != nil {
			return err
		}
		if member.GroupID != cat.GroupID {
			return ErrMemberNotFound
		}
		if role.Exclusive() {
			held, err := tx.RoleHeld(ctx, cat.ID, role)
			if err != nil {
				return err
			}
			if held {
				return ErrRoleAlreadyAssigned
			}
		}
		leads, err := tx.MemberLeads(ctx, cat.ID, member.ID)
		if err != nil {
			return err
		}
		if leads {
			return ErrMemberAlreadyLeader
		}
		created, err = tx.Insert(ctx, Assignment{
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			MemberID:     member.ID,
			MemberName:   member.Name,
			Role:         role,
			AssignedBy:   &by,
			AssignedAt:   s.now().UTC(),
		})
		return err
	})
	if err != nil {
		return Assignment{}, wrap("assign", err)
	}

	s.record(ctx, actor, "leadership.assign", created)
	if s.notifier != nil {
		s.notifier.Notify(ctx, notify.Event{
			RecipientID: created.MemberID,
			Kind:        notify.KindLeadershipAssigned,
			Payload: map[string]any{
				"assignment_id": created.ID,
				"role":          string(created.Role),
				"category_id":   created.CategoryID,
				"category_name": created.CategoryName,
			},
		})
	}
	return created, nil
}

// Revoke deactivates an active assignment of the given category. An
// assignment that belongs to another category is reported as not found.
// Revoking the last leader is allowed and leaves the category without
// leaders.
func (s *Service) Revoke(ctx context.Context, actor identity.Principal, categoryID, assignmentID int64) (Assignment, error) {
	if err := s.access.RequireManageCategory(actor); err != nil {
		return Assignment{}, err
	}
	var revoked Assignment
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		current, err := tx.FindActive(ctx, assignmentID)
		if err != nil {
			return err
		}
		if current.CategoryID != categoryID {
			return ErrAssignmentNotFound
		}
		cat, err := tx.LockCategory(ctx, current.CategoryID)
		if err != nil {
			return err
		}
		if err := requireSameGroup(actor, cat); err != nil {
			return err
		}
		revoked, err = tx.Deactivate(ctx, assignmentID, actor.Ref(), s.now().UTC())
		return err
	})
	if err != nil {
		return Assignment{}, wrap("revoke", err)
	}
	s.record(ctx, actor, "leadership.revoke", revoked)
	return revoked, nil
}

// ListActive returns the active roster of a category the principal may
// read. Categories of another group are reported as not found.
func (s *Service) ListActive(ctx context.Context, p identity.Principal, categoryID int64) ([]Assignment, error) {
	cat, leaders, err := s.access.Snapshot(ctx, categoryID)
	if err != nil {
		return nil, wrap("list active", err)
	}
	if !access.WithinGroup(p, cat.GroupID) {
		return nil, ErrCategoryNotFound
	}
	if err := access.Require(s.access.Record(access.CheckAccessCategory, access.DecideAccessCategory(p, cat, leaders))); err != nil {
		return nil, err
	}
	items, err := s.repo.ListActive(ctx, categoryID)
	if err != nil {
		return nil, wrap("list active", err)
	}
	if items == nil {
		items = []Assignment{}
	}
	return items, nil
}

// ListForMember returns the categories a member currently leads.
func (s *Service) ListForMember(ctx context.Context, memberID int64) ([]Assignment, error) {
	items, err := s.repo.ListForMember(ctx, memberID)
	if err != nil {
		return nil, wrap("list for member", err)
	}
	if items == nil {
		items = []Assignment{}
	}
	return items, nil
}

// ActiveLeaders implements access.LeaderReader.
func (s *Service) ActiveLeaders(ctx context.Context, categoryID int64) (access.LeaderSet, error) {
	return s.repo.ActiveLeaders(ctx, categoryID)
}

// requireSameGroup keeps group accounts and officers inside their own group.
// Senior administrators manage every group.
func requireSameGroup(actor identity.Principal, cat access.Category) error {
	if !access.WithinGroup(actor, cat.GroupID) {
		return fmt.Errorf("%w: category belongs to another group", access.ErrPermissionDenied)
	}
	return nil
}

func (s *Service) record(ctx context.Context, actor identity.Principal, action string, a Assignment) {
	if s.audit == nil {
		return
	}
	err := s.audit.Record(ctx, shared.AuditLog{
		ActorKind: string(actor.Kind),
		ActorID:   actor.ID,
		Action:    action,
		Entity:    "category_leader",
		EntityID:  strconv.FormatInt(a.ID, 10),
		Meta: map[string]any{
			"category_id": a.CategoryID,
			"member_id":   a.MemberID,
			"role":        string(a.Role),
		},
	})
	if err != nil {
		s.logger.Warn("audit leadership change", slog.String("action", action), slog.Any("error", err))
	}
}

func wrap(op string, err error) error {
	for _, sentinel := range []error{
		ErrRoleAlreadyAssigned, ErrMemberAlreadyLeader, ErrMemberNotFound,
		ErrAssignmentNotFound, ErrCategoryNotFound, access.ErrPermissionDenied,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}
	return fmt.Errorf("leadership: %s: %w", op, err)
}
