package roles

// RankOf maps a role to its rank. Roles outside the catalog get LowestRank.
func RankOf(role OrganizationalRole) Rank {
	switch role {
	case RolePresident, RoleFirstVicePresident, RoleSecondVicePresident, RoleSecretary, RoleAssistantSecretary:
		return RankTop
	case RoleDelegate:
		return RankDelegate
	case RoleInspector, RoleCoordinator:
		return RankSupervision
	case RoleTechnicalDirector, RoleSectionalChief, RolePlatoonChief, RoleGroupChief:
		return RankTechnical
	case RoleSectionChief, RoleCategoryChief, RoleTeamChief, RoleMissionChief, RolePercussionChief:
		return RankChief
	case RoleProtocol, RolePublicRelations, RoleEvangelist, RoleCounselor, RoleDisciplinarian:
		return RankService
	case RoleFinancialOfficer:
		return RankFinance
	case RoleMember:
		return RankMember
	default:
		return LowestRank
	}
}

// RankOfString parses and ranks a raw role value.
func RankOfString(raw string) Rank {
	return RankOf(ParseRole(raw))
}
