// Package identity resolves access codes into authenticated principals.
package identity

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/fanfare-hq/fanfare/internal/roles"
)

var (
	// ErrInvalidInput is returned for blank codes or unknown principal kinds.
	ErrInvalidInput = errors.New("identity: invalid input")
	// ErrNotFoundOrInactive is returned when no active record matches the code.
	ErrNotFoundOrInactive = errors.New("identity: not found or inactive")
	// ErrParentInactive is returned when a member's group is missing or suspended.
	ErrParentInactive = errors.New("identity: parent group inactive")
	// ErrIncompleteRecord signals a stored member without a role.
	ErrIncompleteRecord = errors.New("identity: incomplete record")
	// ErrSessionInvalid is returned when a session token has no live binding.
	ErrSessionInvalid = errors.New("identity: session not bound")
	// ErrNotFound is returned by repositories when a lookup yields no row.
	ErrNotFound = errors.New("identity: not found")
)

// Kind distinguishes the three account families.
type Kind string

const (
	KindAdministrator Kind = "administrator"
	KindGroup         Kind = "group"
	KindMember        Kind = "member"
)

// ParseKind validates a raw kind value.
func ParseKind(raw string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(raw))); k {
	case KindAdministrator, KindGroup, KindMember:
		return k, nil
	default:
		return "", ErrInvalidInput
	}
}

// SeniorAdminLevels is the highest tier number still considered senior.
const SeniorAdminLevels = 2

// Principal is the authenticated actor of a session.
type Principal struct {
	Kind       Kind                     `json:"kind"`
	ID         int64                    `json:"id"`
	GroupID    int64                    `json:"group_id"`
	Name       string                   `json:"name"`
	Role       roles.OrganizationalRole `json:"role,omitempty"`
	AdminLevel int                      `json:"admin_level,omitempty"`
}

// IsMember reports whether the principal is a member account.
func (p Principal) IsMember() bool {
	return p.Kind == KindMember
}

// IsGroup reports whether the principal is a group account.
func (p Principal) IsGroup() bool {
	return p.Kind == KindGroup
}

// IsSeniorAdministrator reports whether the principal is an administrator
// of tier 1 or 2.
func (p Principal) IsSeniorAdministrator() bool {
	return p.Kind == KindAdministrator && p.AdminLevel >= 1 && p.AdminLevel <= SeniorAdminLevels
}

// Rank returns the role rank. Administrators and groups are always rank 0.
func (p Principal) Rank() roles.Rank {
	switch p.Kind {
	case KindAdministrator, KindGroup:
		return roles.RankTop
	case KindMember:
		return roles.RankOf(p.Role)
	default:
		return roles.LowestRank
	}
}

// Permissions returns the coarse permission set derived from the rank.
func (p Principal) Permissions() roles.PermissionSet {
	return roles.PermissionsOf(p.Rank())
}

// Ref returns the (kind, id) reference used in audit columns.
func (p Principal) Ref() Ref {
	return Ref{Kind: p.Kind, ID: p.ID}
}

// Ref identifies a principal without its derived attributes.
type Ref struct {
	Kind Kind  `json:"kind"`
	ID   int64 `json:"id"`
}

func (r Ref) String() string {
	return string(r.Kind) + ":" + strconv.FormatInt(r.ID, 10)
}

// Administrator is a platform operator account.
type Administrator struct {
	ID             int64
	Name           string
	Level          int
	AccessAttempts int
	LockedUntil    *time.Time
	IsActive       bool
}

// Group is a musical group account.
type Group struct {
	ID       int64
	Name     string
	IsActive bool
}

// Member belongs to exactly one group. Role is nil when the column is null.
type Member struct {
	ID       int64
	GroupID  int64
	Name     string
	Role     *string
	IsActive bool
}

// SessionBinding links an opaque session token digest to a principal.
type SessionBinding struct {
	TokenDigest []byte
	Principal   Ref
	GroupID     int64
	BoundAt     time.Time
	ExpiresAt   time.Time
}
