package access

import (
	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/roles"
)

// HasTopAuthority reports whether p is group leadership: a senior
// administrator, a group account, or a member whose role ranks 0.
// Administrators below the senior tiers do not qualify.
func HasTopAuthority(p identity.Principal) bool {
	switch p.Kind {
	case identity.KindAdministrator:
		return p.IsSeniorAdministrator()
	case identity.KindGroup:
		return true
	case identity.KindMember:
		return roles.RankOf(p.Role) == roles.RankTop
	default:
		return false
	}
}

// DecideAccessCategory evaluates read access to a category.
func DecideAccessCategory(p identity.Principal, cat Category, leaders LeaderSet) Decision {
	if HasTopAuthority(p) {
		return allow(ReasonTopAuthority)
	}
	if !cat.IsLocked {
		return allow(ReasonUnlocked)
	}
	return lockedLeaderDecision(p, leaders)
}

// CanAccessCategory reports whether p may view the category.
func CanAccessCategory(p identity.Principal, cat Category, leaders LeaderSet) bool {
	return DecideAccessCategory(p, cat, leaders).Allowed
}

// DecideManageCategory evaluates changes to the leadership roster. Leaders
// cannot manage their own roster.
func DecideManageCategory(p identity.Principal) Decision {
	if HasTopAuthority(p) {
		return allow(ReasonTopAuthority)
	}
	return deny(ReasonInsufficientRank)
}

// CanManageCategory reports whether p may assign or revoke leaders.
func CanManageCategory(p identity.Principal) bool {
	return DecideManageCategory(p).Allowed
}

// DecideAuthorTransaction evaluates a balance affecting write.
func DecideAuthorTransaction(p identity.Principal, cat Category, leaders LeaderSet) Decision {
	if HasTopAuthority(p) {
		return allow(ReasonTopAuthority)
	}
	if cat.IsLocked {
		return lockedLeaderDecision(p, leaders)
	}
	if leaders.Contains(p) {
		return allow(ReasonLeader)
	}
	if hasFinanceTag(p) {
		return allow(ReasonPermission)
	}
	return deny(ReasonInsufficientRank)
}

// CanAuthorTransaction reports whether p may post transactions or create
// events against the category.
func CanAuthorTransaction(p identity.Principal, cat Category, leaders LeaderSet) bool {
	return DecideAuthorTransaction(p, cat, leaders).Allowed
}

// DecideManageEvent evaluates edit or delete of a payment event. For events
// attached to a category only that category's leaders qualify; rank is
// ignored. leaders must belong to the event's category.
func DecideManageEvent(p identity.Principal, event PaymentEvent, leaders LeaderSet) Decision {
	if event.CategoryID != nil {
		if leaders.Contains(p) {
			return allow(ReasonLeader)
		}
		if leaders.Len() == 0 {
			return deny(ReasonNoLeaders)
		}
		return deny(ReasonNotLeader)
	}
	if hasFinanceTag(p) {
		return allow(ReasonPermission)
	}
	return deny(ReasonInsufficientRank)
}

// CanManageEvent reports whether p may edit or delete the event.
func CanManageEvent(p identity.Principal, event PaymentEvent, leaders LeaderSet) bool {
	return DecideManageEvent(p, event, leaders).Allowed
}

// DecideCreateUncategorisedEvent gates events without a category.
func DecideCreateUncategorisedEvent(p identity.Principal) Decision {
	if HasTopAuthority(p) {
		return allow(ReasonTopAuthority)
	}
	if hasFinanceTag(p) {
		return allow(ReasonPermission)
	}
	return deny(ReasonInsufficientRank)
}

func lockedLeaderDecision(p identity.Principal, leaders LeaderSet) Decision {
	if leaders.Contains(p) {
		return allow(ReasonLeader)
	}
	if leaders.Len() == 0 {
		return deny(ReasonNoLeaders)
	}
	return deny(ReasonNotLeader)
}

func hasFinanceTag(p identity.Principal) bool {
	return p.Permissions().HasAny(roles.PermFinanceManage, roles.PermCategoryFinanceManage)
}

// WithinGroup reports whether p may act on resources owned by groupID.
// Administrators span every group.
func WithinGroup(p identity.Principal, groupID int64) bool {
	if p.Kind == identity.KindAdministrator {
		return true
	}
	return p.GroupID != 0 && p.GroupID == groupID
}
