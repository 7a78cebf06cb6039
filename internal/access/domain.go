// Package access decides whether a principal may read or write a
// lockable financial category and the payment events attached to it.
package access

import (
	"errors"
	"sort"

	"github.com/fanfare-hq/fanfare/internal/identity"
)

var (
	// ErrPermissionDenied is returned by Require helpers when a check denies.
	ErrPermissionDenied = errors.New("access: permission denied")
	// ErrCategoryNotFound is returned when the category does not exist.
	ErrCategoryNotFound = errors.New("access: category not found")
)

// Category is the lockable view of a financial category.
type Category struct {
	ID       int64
	GroupID  int64
	Name     string
	IsLocked bool
}

// PaymentEvent is the part of a payment event the evaluator needs.
// CategoryID is nil for events not attached to a category.
type PaymentEvent struct {
	ID         int64
	GroupID    int64
	CategoryID *int64
}

// LeaderSet holds the members with an active leadership assignment in one
// category. The zero value is an empty set.
type LeaderSet struct {
	members map[int64]struct{}
}

// NewLeaderSet builds a set from member ids.
func NewLeaderSet(memberIDs ...int64) LeaderSet {
	set := LeaderSet{members: make(map[int64]struct{}, len(memberIDs))}
	for _, id := range memberIDs {
		set.members[id] = struct{}{}
	}
	return set
}

// Contains reports whether p is a member principal leading the category.
func (s LeaderSet) Contains(p identity.Principal) bool {
	if !p.IsMember() {
		return false
	}
	return s.ContainsMember(p.ID)
}

// ContainsMember reports whether the member id is in the set.
func (s LeaderSet) ContainsMember(memberID int64) bool {
	_, ok := s.members[memberID]
	return ok
}

// Len returns the number of leaders.
func (s LeaderSet) Len() int {
	return len(s.members)
}

// MemberIDs returns the leaders sorted by id.
func (s LeaderSet) MemberIDs() []int64 {
	out := make([]int64, 0, len(s.members))
	for id := range s.members {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reason explains a decision.
type Reason string

const (
	ReasonTopAuthority     Reason = "top_authority"
	ReasonUnlocked         Reason = "unlocked"
	ReasonLeader           Reason = "leader"
	ReasonPermission       Reason = "permission"
	ReasonNotLeader        Reason = "not_leader"
	ReasonNoLeaders        Reason = "no_leaders"
	ReasonInsufficientRank Reason = "insufficient_rank"
)

// Decision is the outcome of one check.
type Decision struct {
	Allowed bool   `json:"allowed"`
	Reason  Reason `json:"reason"`
}

func allow(reason Reason) Decision { return Decision{Allowed: true, Reason: reason} }

func deny(reason Reason) Decision { return Decision{Allowed: false, Reason: reason} }
