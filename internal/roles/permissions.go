package roles

import "sort"

// PermissionTag names a coarse, system-wide capability.
type PermissionTag string

const (
	PermAll                   PermissionTag = "*"
	PermView                  PermissionTag = "view"
	PermMembershipManage      PermissionTag = "membership.manage"
	PermGroupInfoManage       PermissionTag = "group_info.manage"
	PermFinanceManage         PermissionTag = "finance.manage"
	PermTechnicalManage       PermissionTag = "technical.manage"
	PermCategoryFinanceManage PermissionTag = "category_finance.manage"
)

// PermissionSet is an immutable set of tags.
type PermissionSet struct {
	tags map[PermissionTag]struct{}
}

func newSet(tags ...PermissionTag) PermissionSet {
	set := PermissionSet{tags: make(map[PermissionTag]struct{}, len(tags))}
	for _, t := range tags {
		set.tags[t] = struct{}{}
	}
	return set
}

// Has reports whether the set grants tag. The wildcard grants everything.
func (s PermissionSet) Has(tag PermissionTag) bool {
	if _, ok := s.tags[PermAll]; ok {
		return true
	}
	_, ok := s.tags[tag]
	return ok
}

// HasAny reports whether at least one tag is granted.
func (s PermissionSet) HasAny(tags ...PermissionTag) bool {
	for _, t := range tags {
		if s.Has(t) {
			return true
		}
	}
	return false
}

// IsWildcard reports whether the set carries the universal tag.
func (s PermissionSet) IsWildcard() bool {
	_, ok := s.tags[PermAll]
	return ok
}

// Tags returns the tags sorted by name.
func (s PermissionSet) Tags() []PermissionTag {
	out := make([]PermissionTag, 0, len(s.tags))
	for t := range s.tags {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

var rankPermissions = [...]PermissionSet{
	RankTop:         newSet(PermAll),
	RankDelegate:    newSet(PermMembershipManage, PermGroupInfoManage, PermView, PermFinanceManage, PermTechnicalManage),
	RankSupervision: newSet(PermView, PermTechnicalManage),
	RankTechnical:   newSet(PermView, PermTechnicalManage),
	RankChief:       newSet(PermView),
	RankService:     newSet(PermView),
	RankFinance:     newSet(PermView, PermCategoryFinanceManage),
	RankMember:      newSet(PermView),
}

// PermissionsOf returns the fixed permission set for rank. Out of range
// ranks get the least privileged set.
func PermissionsOf(rank Rank) PermissionSet {
	if !rank.Valid() {
		return rankPermissions[LowestRank]
	}
	return rankPermissions[rank]
}
