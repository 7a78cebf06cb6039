package access

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fanfare-hq/fanfare/internal/identity"
	"github.com/fanfare-hq/fanfare/internal/roles"
)

var (
	seniorAdmin = identity.Principal{Kind: identity.KindAdministrator, ID: 1, AdminLevel: 1}
	juniorAdmin = identity.Principal{Kind: identity.KindAdministrator, ID: 2, AdminLevel: 3}
	groupAcct   = identity.Principal{Kind: identity.KindGroup, ID: 10, GroupID: 10}
	president   = identity.Principal{Kind: identity.KindMember, ID: 50, GroupID: 10, Role: roles.RolePresident}
	memberA     = identity.Principal{Kind: identity.KindMember, ID: 100, GroupID: 10, Role: roles.RoleMember}
	memberB     = identity.Principal{Kind: identity.KindMember, ID: 101, GroupID: 10, Role: roles.RoleMember}
	treasurer   = identity.Principal{Kind: identity.KindMember, ID: 102, GroupID: 10, Role: roles.RoleFinancialOfficer}
	delegate    = identity.Principal{Kind: identity.KindMember, ID: 103, GroupID: 10, Role: roles.RoleDelegate}
)

func int64Ptr(v int64) *int64 { return &v }

func everyMemberRole() []identity.Principal {
	out := make([]identity.Principal, 0, len(roles.Catalog())+1)
	for i, role := range roles.Catalog() {
		out = append(out, identity.Principal{Kind: identity.KindMember, ID: int64(1000 + i), GroupID: 10, Role: role})
	}
	out = append(out, identity.Principal{Kind: identity.KindMember, ID: 999, GroupID: 10, Role: "drum_major"})
	return out
}

func everyPrincipal() []identity.Principal {
	return append(everyMemberRole(), seniorAdmin, juniorAdmin, groupAcct,
		identity.Principal{Kind: identity.KindAdministrator, ID: 3, AdminLevel: 2},
		identity.Principal{Kind: identity.KindAdministrator, ID: 4, AdminLevel: 4},
	)
}

func TestHasTopAuthority(t *testing.T) {
	assert.True(t, HasTopAuthority(seniorAdmin))
	assert.True(t, HasTopAuthority(identity.Principal{Kind: identity.KindAdministrator, AdminLevel: 2}))
	assert.False(t, HasTopAuthority(juniorAdmin))
	assert.True(t, HasTopAuthority(groupAcct))
	assert.True(t, HasTopAuthority(president))
	assert.False(t, HasTopAuthority(delegate))
	assert.False(t, HasTopAuthority(memberA))
	assert.False(t, HasTopAuthority(identity.Principal{}))
}

func TestUnlockedCategoryAllowsEveryone(t *testing.T) {
	cat := Category{ID: 1, GroupID: 10, IsLocked: false}
	for _, p := range everyPrincipal() {
		assert.True(t, CanAccessCategory(p, cat, LeaderSet{}), "%+v", p)
	}
}

func TestLockedCategoryLeaderOnly(t *testing.T) {
	cat := Category{ID: 2, GroupID: 10, IsLocked: true}
	leaders := NewLeaderSet(memberA.ID)

	for _, p := range everyPrincipal() {
		want := HasTopAuthority(p) || leaders.ContainsMember(p.ID)
		assert.Equal(t, want, CanAccessCategory(p, cat, leaders), "%+v", p)
	}
}

func TestLeaderSetIgnoresNonMembers(t *testing.T) {
	leaders := NewLeaderSet(10)
	assert.False(t, leaders.Contains(identity.Principal{Kind: identity.KindGroup, ID: 10}))
	assert.True(t, leaders.Contains(identity.Principal{Kind: identity.KindMember, ID: 10}))
	assert.Equal(t, []int64{3, 7, 9}, NewLeaderSet(9, 3, 7).MemberIDs())
}

func TestLockedWithoutLeadersSurfacesNoLeaders(t *testing.T) {
	cat := Category{ID: 2, IsLocked: true}

	d := DecideAccessCategory(memberB, cat, LeaderSet{})
	assert.Equal(t, Decision{Allowed: false, Reason: ReasonNoLeaders}, d)

	d = DecideAccessCategory(memberB, cat, NewLeaderSet(memberA.ID))
	assert.Equal(t, ReasonNotLeader, d.Reason)

	d = DecideAccessCategory(groupAcct, cat, LeaderSet{})
	assert.Equal(t, Decision{Allowed: true, Reason: ReasonTopAuthority}, d)

	d = DecideAccessCategory(juniorAdmin, cat, LeaderSet{})
	assert.Equal(t, ReasonNoLeaders, d.Reason)
}

func TestManageCategoryExcludesLeaders(t *testing.T) {
	assert.True(t, CanManageCategory(groupAcct))
	assert.True(t, CanManageCategory(president))
	assert.True(t, CanManageCategory(seniorAdmin))
	assert.False(t, CanManageCategory(memberA))
	assert.False(t, CanManageCategory(delegate))
	assert.False(t, CanManageCategory(juniorAdmin))
	assert.Equal(t, ReasonInsufficientRank, DecideManageCategory(memberA).Reason)
}

func TestAuthorTransaction(t *testing.T) {
	unlocked := Category{ID: 1, IsLocked: false}
	locked := Category{ID: 2, IsLocked: true}
	leaders := NewLeaderSet(memberA.ID)

	cases := []struct {
		name string
		p    identity.Principal
		cat  Category
		want Decision
	}{
		{"top authority on locked", president, locked, allow(ReasonTopAuthority)},
		{"leader on locked", memberA, locked, allow(ReasonLeader)},
		{"treasurer on locked", treasurer, locked, deny(ReasonNotLeader)},
		{"delegate on locked", delegate, locked, deny(ReasonNotLeader)},
		{"leader on unlocked", memberA, unlocked, allow(ReasonLeader)},
		{"treasurer on unlocked", treasurer, unlocked, allow(ReasonPermission)},
		{"delegate on unlocked", delegate, unlocked, allow(ReasonPermission)},
		{"plain member on unlocked", memberB, unlocked, deny(ReasonInsufficientRank)},
		{"junior admin on unlocked", juniorAdmin, unlocked, allow(ReasonPermission)},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, DecideAuthorTransaction(tc.p, tc.cat, leaders))
		})
	}
}

func TestManageEventScopedToCategoryLeaders(t *testing.T) {
	// memberA leads category A only; the event belongs to category B.
	eventB := PaymentEvent{ID: 7, GroupID: 10, CategoryID: int64Ptr(2)}
	leadersOfB := NewLeaderSet(memberB.ID)

	for _, p := range everyPrincipal() {
		want := p.IsMember() && p.ID == memberB.ID
		assert.Equal(t, want, CanManageEvent(p, eventB, leadersOfB), "%+v", p)
	}
	assert.False(t, CanManageEvent(memberA, eventB, leadersOfB))
	assert.True(t, CanManageEvent(memberB, eventB, leadersOfB))
	assert.Equal(t, ReasonNoLeaders, DecideManageEvent(president, eventB, LeaderSet{}).Reason)
}

func TestManageUncategorisedEventUsesTags(t *testing.T) {
	event := PaymentEvent{ID: 8, GroupID: 10}
	assert.True(t, CanManageEvent(treasurer, event, LeaderSet{}))
	assert.True(t, CanManageEvent(delegate, event, LeaderSet{}))
	assert.True(t, CanManageEvent(president, event, LeaderSet{}))
	assert.True(t, CanManageEvent(groupAcct, event, LeaderSet{}))
	assert.False(t, CanManageEvent(memberA, event, LeaderSet{}))

	assert.Equal(t, allow(ReasonTopAuthority), DecideCreateUncategorisedEvent(president))
	assert.Equal(t, allow(ReasonPermission), DecideCreateUncategorisedEvent(treasurer))
	assert.Equal(t, deny(ReasonInsufficientRank), DecideCreateUncategorisedEvent(memberB))
}

func TestTopRankWildcardNeverDenies(t *testing.T) {
	for _, p := range everyPrincipal() {
		if p.Rank() != roles.RankTop {
			continue
		}
		for _, tag := range []roles.PermissionTag{roles.PermView, roles.PermFinanceManage, roles.PermCategoryFinanceManage, roles.PermTechnicalManage, roles.PermMembershipManage, roles.PermGroupInfoManage} {
			assert.True(t, p.Permissions().Has(tag), "%+v %s", p, tag)
		}
	}
}

func TestScenarios(t *testing.T) {
	c1 := Category{ID: 1, GroupID: 10, IsLocked: false}
	c2 := Category{ID: 2, GroupID: 10, IsLocked: true}

	// 1: unlocked category is open to any member.
	assert.True(t, CanAccessCategory(memberB, c1, LeaderSet{}))

	// 2: locked category with memberA as president.
	leaders := NewLeaderSet(memberA.ID)
	assert.True(t, CanAccessCategory(memberA, c2, leaders))
	assert.False(t, CanAccessCategory(memberB, c2, leaders))
	assert.True(t, CanAccessCategory(groupAcct, c2, leaders))

	// 5: after revoking memberA the category has no leaders.
	none := NewLeaderSet()
	assert.False(t, CanAccessCategory(memberB, c2, none))
	assert.True(t, CanAccessCategory(groupAcct, c2, none))

	// 6: memberA authored the event while leading; revoked leaders lose it.
	event := PaymentEvent{ID: 1, GroupID: 10, CategoryID: int64Ptr(c2.ID)}
	assert.True(t, CanManageEvent(memberA, event, leaders))
	assert.False(t, CanManageEvent(memberA, event, none))
}

func TestWithinGroup(t *testing.T) {
	assert.True(t, WithinGroup(seniorAdmin, 10))
	assert.True(t, WithinGroup(juniorAdmin, 77))
	assert.True(t, WithinGroup(groupAcct, 10))
	assert.False(t, WithinGroup(groupAcct, 11))
	assert.True(t, WithinGroup(memberA, 10))
	assert.False(t, WithinGroup(memberA, 11))
	assert.False(t, WithinGroup(identity.Principal{Kind: identity.KindMember}, 0))
}
