package roles

import "strings"

// OrganizationalRole is a member's position inside the group.
type OrganizationalRole string

// Officers. All of them rank 0.
const (
	RolePresident           OrganizationalRole = "president"
	RoleFirstVicePresident  OrganizationalRole = "first_vice_president"
	RoleSecondVicePresident OrganizationalRole = "second_vice_president"
	RoleSecretary           OrganizationalRole = "secretary"
	RoleAssistantSecretary  OrganizationalRole = "assistant_secretary"
)

// RoleDelegate holds delegated group management without officer status.
const RoleDelegate OrganizationalRole = "delegate"

// Supervision.
const (
	RoleInspector   OrganizationalRole = "inspector"
	RoleCoordinator OrganizationalRole = "coordinator"
)

// Technical leads.
const (
	RoleTechnicalDirector OrganizationalRole = "technical_director"
	RoleSectionalChief    OrganizationalRole = "sectional_chief"
	RolePlatoonChief      OrganizationalRole = "platoon_chief"
	RoleGroupChief        OrganizationalRole = "group_chief"
)

// Section and team chiefs.
const (
	RoleSectionChief    OrganizationalRole = "section_chief"
	RoleCategoryChief   OrganizationalRole = "category_chief"
	RoleTeamChief       OrganizationalRole = "team_chief"
	RoleMissionChief    OrganizationalRole = "mission_chief"
	RolePercussionChief OrganizationalRole = "percussion_chief"
)

// Special service roles.
const (
	RoleProtocol        OrganizationalRole = "protocol"
	RolePublicRelations OrganizationalRole = "public_relations"
	RoleEvangelist      OrganizationalRole = "evangelist"
	RoleCounselor       OrganizationalRole = "counselor"
	RoleDisciplinarian  OrganizationalRole = "disciplinarian"
)

const (
	RoleFinancialOfficer OrganizationalRole = "financial_officer"
	RoleMember           OrganizationalRole = "member"
)

// RoleUnknown is returned by ParseRole for values outside the catalog.
const RoleUnknown OrganizationalRole = ""

// Rank orders authority. 0 is the highest.
type Rank int

const (
	RankTop Rank = iota
	RankDelegate
	RankSupervision
	RankTechnical
	RankChief
	RankService
	RankFinance
	RankMember
)

// LowestRank is the fail-safe rank for unknown roles.
const LowestRank = RankMember

// Valid reports whether r is inside the table.
func (r Rank) Valid() bool {
	return r >= RankTop && r <= RankMember
}

// catalog lists every known role in decreasing authority.
var catalog = []OrganizationalRole{
	RolePresident,
	RoleFirstVicePresident,
	RoleSecondVicePresident,
	RoleSecretary,
	RoleAssistantSecretary,
	RoleDelegate,
	RoleInspector,
	RoleCoordinator,
	RoleTechnicalDirector,
	RoleSectionalChief,
	RolePlatoonChief,
	RoleGroupChief,
	RoleSectionChief,
	RoleCategoryChief,
	RoleTeamChief,
	RoleMissionChief,
	RolePercussionChief,
	RoleProtocol,
	RolePublicRelations,
	RoleEvangelist,
	RoleCounselor,
	RoleDisciplinarian,
	RoleFinancialOfficer,
	RoleMember,
}

// Catalog returns a copy of the role catalog ordered by authority.
func Catalog() []OrganizationalRole {
	out := make([]OrganizationalRole, len(catalog))
	copy(out, catalog)
	return out
}

// ParseRole normalises a stored role value. Values outside the catalog
// come back as RoleUnknown.
func ParseRole(raw string) OrganizationalRole {
	role := OrganizationalRole(strings.ToLower(strings.TrimSpace(raw)))
	for _, known := range catalog {
		if role == known {
			return role
		}
	}
	return RoleUnknown
}

// Known reports whether the role belongs to the catalog.
func (r OrganizationalRole) Known() bool {
	return r != RoleUnknown && ParseRole(string(r)) == r
}

func (r OrganizationalRole) String() string {
	if r == RoleUnknown {
		return "unknown"
	}
	return string(r)
}
