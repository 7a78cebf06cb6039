package roles

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRankOfIsStable(t *testing.T) {
	for _, role := range Catalog() {
		first := RankOf(role)
		for i := 0; i < 3; i++ {
			assert.Equal(t, first, RankOf(role), "role %s", role)
		}
		assert.Equal(t, first, RankOfString(" "+string(role)+" "))
	}
}

func TestEveryRankReachable(t *testing.T) {
	seen := make(map[Rank]bool)
	for _, role := range Catalog() {
		seen[RankOf(role)] = true
	}
	for r := RankTop; r <= RankMember; r++ {
		assert.True(t, seen[r], "rank %d has no catalog role", r)
	}
}

func TestCatalogIsOrderedByAuthority(t *testing.T) {
	cat := Catalog()
	for i := 1; i < len(cat); i++ {
		assert.LessOrEqual(t, RankOf(cat[i-1]), RankOf(cat[i]), "%s before %s", cat[i-1], cat[i])
	}
}

func TestUnknownRoleFailsSafe(t *testing.T) {
	assert.Equal(t, RoleUnknown, ParseRole("grand_marshal"))
	assert.Equal(t, LowestRank, RankOfString("grand_marshal"))
	assert.Equal(t, LowestRank, RankOfString(""))
	assert.Equal(t, LowestRank, RankOf(RoleUnknown))
	assert.False(t, RoleUnknown.Known())
}

func TestRepresentativeRanks(t *testing.T) {
	cases := map[OrganizationalRole]Rank{
		RolePresident:          RankTop,
		RoleAssistantSecretary: RankTop,
		RoleDelegate:           RankDelegate,
		RoleCoordinator:        RankSupervision,
		RolePlatoonChief:       RankTechnical,
		RolePercussionChief:    RankChief,
		RoleDisciplinarian:     RankService,
		RoleFinancialOfficer:   RankFinance,
		RoleMember:             RankMember,
	}
	for role, want := range cases {
		assert.Equal(t, want, RankOf(role), "role %s", role)
	}
}

func TestWildcardDominance(t *testing.T) {
	top := PermissionsOf(RankTop)
	require.True(t, top.IsWildcard())
	all := []PermissionTag{PermView, PermMembershipManage, PermGroupInfoManage, PermFinanceManage, PermTechnicalManage, PermCategoryFinanceManage, PermissionTag("not.in.table")}
	for _, tag := range all {
		assert.True(t, top.Has(tag), "tag %s", tag)
	}
}

func TestPermissionTable(t *testing.T) {
	assert.True(t, PermissionsOf(RankDelegate).Has(PermFinanceManage))
	assert.False(t, PermissionsOf(RankDelegate).IsWildcard())
	assert.True(t, PermissionsOf(RankSupervision).Has(PermTechnicalManage))
	assert.False(t, PermissionsOf(RankChief).Has(PermTechnicalManage))
	assert.Equal(t, []PermissionTag{PermCategoryFinanceManage, PermView}, PermissionsOf(RankFinance).Tags())
	assert.Equal(t, []PermissionTag{PermView}, PermissionsOf(RankMember).Tags())
	assert.False(t, PermissionsOf(RankMember).HasAny(PermFinanceManage, PermCategoryFinanceManage))
	assert.Equal(t, PermissionsOf(RankMember).Tags(), PermissionsOf(Rank(42)).Tags())
}

func TestHandlerListsCatalog(t *testing.T) {
	r := chi.NewRouter()
	r.Route("/roles", NewHandler(nil).MountRoutes)

	res := httptest.NewRecorder()
	r.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/roles/", nil))
	require.Equal(t, http.StatusOK, res.Code)

	var body struct {
		Roles []CatalogEntry `json:"roles"`
	}
	require.NoError(t, json.Unmarshal(res.Body.Bytes(), &body))
	require.Len(t, body.Roles, len(Catalog()))
	assert.Equal(t, RolePresident, body.Roles[0].Role)
	assert.Equal(t, RankTop, body.Roles[0].Rank)
	assert.Equal(t, []PermissionTag{PermAll}, body.Roles[0].Permissions)

	last := body.Roles[len(body.Roles)-1]
	assert.Equal(t, RoleMember, last.Role)
	assert.Equal(t, RankMember, last.Rank)
	assert.Equal(t, PermissionsOf(RankMember).Tags(), last.Permissions)
}
