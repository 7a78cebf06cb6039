// Package leadership manages per category leadership assignments, the
// override that lets members act on locked financial categories.
package leadership

import (
	"errors"
	"strings"
	"time"

	"github.com/fanfare-hq/fanfare/internal/access"
	"github.com/fanfare-hq/fanfare/internal/identity"
)

var (
	// ErrInvalidRole is returned for roles outside president, secretary and
	// auxiliary.
	ErrInvalidRole = errors.New("leadership: invalid role")
	// ErrRoleAlreadyAssigned is returned when the exclusive role is taken.
	ErrRoleAlreadyAssigned = errors.New("leadership: role already assigned")
	// ErrMemberAlreadyLeader is returned when the member already holds an
	// active role in the category.
	ErrMemberAlreadyLeader = errors.New("leadership: member already leads this category")
	// ErrMemberNotFound is returned for members outside the category's group.
	ErrMemberNotFound = errors.New("leadership: member not found")
	// ErrAssignmentNotFound is returned when no active assignment matches.
	ErrAssignmentNotFound = errors.New("leadership: assignment not found")
	// ErrCategoryNotFound aliases the evaluator's error.
	ErrCategoryNotFound = access.ErrCategoryNotFound
)

// Role is a leadership position inside one category.
type Role string

const (
	RolePresident Role = "president"
	RoleSecretary Role = "secretary"
	RoleAuxiliary Role = "auxiliary"
)

// ParseRole validates a raw role value.
func ParseRole(raw string) (Role, error) {
	switch r := Role(strings.ToLower(strings.TrimSpace(raw))); r {
	case RolePresident, RoleSecretary, RoleAuxiliary:
		return r, nil
	default:
		return "", ErrInvalidRole
	}
}

// Exclusive reports whether at most one active holder per category is
// allowed.
func (r Role) Exclusive() bool {
	return r == RolePresident || r == RoleSecretary
}

// Assignment is one leadership row.
type Assignment struct {
	ID           int64         `json:"id"`
	CategoryID   int64         `json:"category_id"`
	CategoryName string        `json:"category_name,omitempty"`
	MemberID     int64         `json:"member_id"`
	MemberName   string        `json:"member_name,omitempty"`
	Role         Role          `json:"role"`
	IsActive     bool          `json:"is_active"`
	AssignedBy   *identity.Ref `json:"assigned_by,omitempty"`
	AssignedAt   time.Time     `json:"assigned_at"`
	RevokedBy    *identity.Ref `json:"revoked_by,omitempty"`
	RevokedAt    *time.Time    `json:"revoked_at,omitempty"`
}

// AssignInput carries an assignment request.
type AssignInput struct {
	CategoryID int64
	MemberID   int64
	Role       string
}

// MemberRef is the part of a member record the store needs.
type MemberRef struct {
	ID      int64
	GroupID int64
	Name    string
}
