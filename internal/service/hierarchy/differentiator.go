// Package hierarchy assigns hierarchy codes and resolves sibling
// conflicts. Planning is a pure function over node attributes;
// execution applies the resulting mutations inside the caller's
// transaction.
package hierarchy

import (
	"sort"
	"strings"
	"time"

	"curio-backend/internal/domain/node"
)

// Level is one differentiation axis used to split siblings that share
// a base path, tried in priority order.
type Level string

const (
	LevelCompany    Level = "company"
	LevelDomain     Level = "domain"
	LevelFirstTag   Level = "first_tag"
	LevelDateBucket Level = "date_bucket"
	// LevelInsertion is the terminal fallback: members are numbered in
	// insertion order, which can never be ambiguous.
	LevelInsertion Level = "insertion_order"
)

// semanticLevels are tried before falling back to insertion order.
var semanticLevels = []Level{LevelCompany, LevelDomain, LevelFirstTag, LevelDateBucket}

// Member is the slice of a node the planner needs. Code is the node's
// current code in the planning view, empty for a node not yet placed.
type Member struct {
	NodeID   string
	Code     string
	Company  string
	Domain   string
	FirstTag string
	AddedAt  time.Time
}

// MemberOf projects a stored node into planner form for one view.
func MemberOf(n *node.Node, view node.View) Member {
	m := Member{
		NodeID:  n.ID.String(),
		Code:    n.HierarchyCode(view),
		Company: n.Company,
		Domain:  n.SourceDomain,
		AddedAt: n.DateAdded,
	}
	if len(n.MetadataTags) > 0 {
		m.FirstTag = n.MetadataTags[0]
	}
	return m
}

// key returns the member's grouping key at the given level. Empty keys
// group together as the unattributed bucket.
func (m Member) key(level Level) string {
	switch level {
	case LevelCompany:
		return strings.ToLower(strings.TrimSpace(m.Company))
	case LevelDomain:
		return strings.ToLower(strings.TrimSpace(m.Domain))
	case LevelFirstTag:
		return strings.ToLower(strings.TrimSpace(m.FirstTag))
	case LevelDateBucket:
		return m.AddedAt.UTC().Format("2006-01")
	}
	return ""
}

// FindBestDifferentiator returns the highest-priority level that
// splits the members into at least two groups. With fewer than two
// members, or when every semantic level collapses to one group, the
// answer is insertion order.
func FindBestDifferentiator(members []Member) Level {
	if len(members) < 2 {
		return LevelInsertion
	}
	for _, level := range semanticLevels {
		keys := make(map[string]struct{}, len(members))
		for _, m := range members {
			keys[m.key(level)] = struct{}{}
		}
		if len(keys) >= 2 {
			return level
		}
	}
	return LevelInsertion
}

// group is an ordered partition cell. Members keep insertion order;
// groups are ordered by their earliest member so an established group
// keeps its index when newcomers arrive.
type group struct {
	key     string
	members []Member
}

// partition splits members by level. Members within each group and the
// groups themselves are ordered by insertion.
func partition(members []Member, level Level) []group {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sortByInsertion(sorted)

	index := make(map[string]int)
	var groups []group
	for _, m := range sorted {
		k := m.key(level)
		i, seen := index[k]
		if !seen {
			i = len(groups)
			index[k] = i
			groups = append(groups, group{key: k})
		}
		groups[i].members = append(groups[i].members, m)
	}
	return groups
}

// sortByInsertion orders members oldest first, breaking timestamp ties
// by node id so planning stays deterministic.
func sortByInsertion(members []Member) {
	sort.SliceStable(members, func(i, j int) bool {
		if !members[i].AddedAt.Equal(members[j].AddedAt) {
			return members[i].AddedAt.Before(members[j].AddedAt)
		}
		return members[i].NodeID < members[j].NodeID
	})
}
