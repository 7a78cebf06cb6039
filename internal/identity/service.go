package identity

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/fanfare-hq/fanfare/internal/roles"
)

// Service resolves access codes and binds sessions.
type Service struct {
	repo     Repository
	tokenKey []byte
	ttl      time.Duration
	logger   *slog.Logger
	now      func() time.Time
}

// NewService constructs a Service. tokenKey keys the session digest and must
// not exceed blake2b.Size bytes.
func NewService(repo Repository, tokenKey []byte, ttl time.Duration, logger *slog.Logger) (*Service, error) {
	if len(tokenKey) > blake2b.Size {
		return nil, fmt.Errorf("identity: session token key longer than %d bytes", blake2b.Size)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:     repo,
		tokenKey: tokenKey,
		ttl:      ttl,
		logger:   logger,
		now:      time.Now,
	}, nil
}

// WithNow overrides the clock, used by tests.
func (s *Service) WithNow(now func() time.Time) *Service {
	if now != nil {
		s.now = now
	}
	return s
}

// NormalizeCode trims and upper-cases an access code.
func NormalizeCode(code string) string {
	// Casers keep state, so one per call.
	return cases.Upper(language.Und).String(strings.TrimSpace(code))
}

// Resolve maps an access code of the given kind to a Principal.
func (s *Service) Resolve(ctx context.Context, code string, kind Kind) (Principal, error) {
	code = NormalizeCode(code)
	if code == "" {
		return Principal{}, ErrInvalidInput
	}
	switch kind {
	case KindAdministrator:
		return s.resolveAdministrator(ctx, code)
	case KindGroup:
		return s.resolveGroup(ctx, code)
	case KindMember:
		return s.resolveMember(ctx, code)
	default:
		return Principal{}, ErrInvalidInput
	}
}

func (s *Service) resolveAdministrator(ctx context.Context, code string) (Principal, error) {
	admin, err := s.repo.FindAdministratorByCode(ctx, code)
	if err != nil {
		return Principal{}, lookupError("administrator", err)
	}
	// Lockout fields are loaded for the record but not enforced here.
	return Principal{
		Kind:       KindAdministrator,
		ID:         admin.ID,
		Name:       admin.Name,
		AdminLevel: admin.Level,
	}, nil
}

func (s *Service) resolveGroup(ctx context.Context, code string) (Principal, error) {
	group, err := s.repo.FindGroupByCode(ctx, code)
	if err != nil {
		return Principal{}, lookupError("group", err)
	}
	return Principal{
		Kind:    KindGroup,
		ID:      group.ID,
		GroupID: group.ID,
		Name:    group.Name,
	}, nil
}

func (s *Service) resolveMember(ctx context.Context, code string) (Principal, error) {
	member, err := s.repo.FindMemberByCode(ctx, code)
	if err != nil {
		return Principal{}, lookupError("member", err)
	}
	return s.memberPrincipal(ctx, member)
}

// memberPrincipal checks the member's group and role and builds the
// principal.
func (s *Service) memberPrincipal(ctx context.Context, member Member) (Principal, error) {
	group, err := s.repo.FindGroup(ctx, member.GroupID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrParentInactive
		}
		return Principal{}, fmt.Errorf("identity: load group %d: %w", member.GroupID, err)
	}
	if !group.IsActive {
		return Principal{}, ErrParentInactive
	}
	if member.Role == nil || strings.TrimSpace(*member.Role) == "" {
		s.logger.Error("member without role", slog.Int64("member_id", member.ID), slog.Int64("group_id", member.GroupID))
		return Principal{}, ErrIncompleteRecord
	}
	role := roles.OrganizationalRole(strings.ToLower(strings.TrimSpace(*member.Role)))
	if !role.Known() {
		s.logger.Warn("member has unknown role", slog.Int64("member_id", member.ID), slog.String("role", string(role)))
	}
	return Principal{
		Kind:    KindMember,
		ID:      member.ID,
		GroupID: member.GroupID,
		Name:    member.Name,
		Role:    role,
	}, nil
}

func lookupError(kind string, err error) error {
	if errors.Is(err, ErrNotFound) {
		return ErrNotFoundOrInactive
	}
	return fmt.Errorf("identity: find %s: %w", kind, err)
}

// Login resolves the code and binds the session token to the principal.
// Binding an already bound token updates it in place.
func (s *Service) Login(ctx context.Context, sessionToken, code string, kind Kind) (Principal, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return Principal{}, ErrInvalidInput
	}
	principal, err := s.Resolve(ctx, code, kind)
	if err != nil {
		return Principal{}, err
	}
	digest, err := s.TokenDigest(sessionToken)
	if err != nil {
		return Principal{}, err
	}
	now := s.now().UTC()
	binding := SessionBinding{
		TokenDigest: digest,
		Principal:   principal.Ref(),
		GroupID:     principal.GroupID,
		BoundAt:     now,
		ExpiresAt:   now.Add(s.ttl),
	}
	if err := s.repo.UpsertSessionBinding(ctx, binding); err != nil {
		return Principal{}, fmt.Errorf("identity: bind session: %w", err)
	}
	s.logger.Info("principal logged in", slog.String("principal", principal.Ref().String()))
	return principal, nil
}

// Revalidate reloads the principal bound to the session token. It fails with
// ErrSessionInvalid when the binding is gone or expired, and with the
// resolution errors when the account, its group or its role no longer
// qualify. The returned principal reflects the current stored records.
func (s *Service) Revalidate(ctx context.Context, sessionToken string) (Principal, error) {
	if strings.TrimSpace(sessionToken) == "" {
		return Principal{}, ErrSessionInvalid
	}
	digest, err := s.TokenDigest(sessionToken)
	if err != nil {
		return Principal{}, err
	}
	binding, err := s.repo.FindSessionBinding(ctx, digest)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return Principal{}, ErrSessionInvalid
		}
		return Principal{}, fmt.Errorf("identity: find session binding: %w", err)
	}
	if !binding.ExpiresAt.After(s.now()) {
		return Principal{}, ErrSessionInvalid
	}
	switch binding.Principal.Kind {
	case KindAdministrator:
		admin, err := s.repo.FindAdministrator(ctx, binding.Principal.ID)
		if err != nil {
			return Principal{}, lookupError("administrator", err)
		}
		if !admin.IsActive {
			return Principal{}, ErrNotFoundOrInactive
		}
		return Principal{Kind: KindAdministrator, ID: admin.ID, Name: admin.Name, AdminLevel: admin.Level}, nil
	case KindGroup:
		group, err := s.repo.FindGroup(ctx, binding.Principal.ID)
		if err != nil {
			return Principal{}, lookupError("group", err)
		}
		if !group.IsActive {
			return Principal{}, ErrParentInactive
		}
		return Principal{Kind: KindGroup, ID: group.ID, GroupID: group.ID, Name: group.Name}, nil
	case KindMember:
		member, err := s.repo.FindMember(ctx, binding.Principal.ID)
		if err != nil {
			return Principal{}, lookupError("member", err)
		}
		if !member.IsActive {
			return Principal{}, ErrNotFoundOrInactive
		}
		return s.memberPrincipal(ctx, member)
	default:
		return Principal{}, ErrSessionInvalid
	}
}

// Logout removes the binding for the session token. Unknown tokens are not
// an error.
func (s *Service) Logout(ctx context.Context, sessionToken string) error {
	if strings.TrimSpace(sessionToken) == "" {
		return nil
	}
	digest, err := s.TokenDigest(sessionToken)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteSessionBinding(ctx, digest); err != nil {
		return fmt.Errorf("identity: unbind session: %w", err)
	}
	return nil
}

// TokenDigest returns the keyed blake2b-256 digest stored instead of the
// raw session token.
func (s *Service) TokenDigest(sessionToken string) ([]byte, error) {
	h, err := blake2b.New256(s.tokenKey)
	if err != nil {
		return nil, fmt.Errorf("identity: digest: %w", err)
	}
	_, _ = h.Write([]byte(sessionToken))
	return h.Sum(nil), nil
}
