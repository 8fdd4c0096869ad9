package recovery

import (
	"sort"

	"github.com/deskforge/tradeterm/internal/domain"
)

// BuildBracketGroups reconstructs one-cancels-other bracket membership from
// the linkage fields of an order snapshot. It is a pure recomputation over
// the snapshot alone, never merged with a previous view, so repeated runs on
// the same input always converge to the same result.
//
// Orders sharing an OCO group name belong to one group. An order whose
// parent appears in the snapshot joins the parent's group; the parent
// anchors a group named after its own order ID when it has no OCO group.
func BuildBracketGroups(orders []domain.Order) []domain.BracketGroup {
	byID := make(map[string]domain.Order, len(orders))
	for _, o := range orders {
		byID[o.ServerOrderID] = o
	}

	// groupOf resolves the group key for one order, following the parent
	// link when the order carries no explicit OCO group name.
	groupOf := func(o domain.Order) string {
		if o.OCOGroup != "" {
			return o.OCOGroup
		}
		if o.ParentID != "" {
			if parent, ok := byID[o.ParentID]; ok {
				if parent.OCOGroup != "" {
					return parent.OCOGroup
				}
				return "parent:" + parent.ServerOrderID
			}
		}
		return ""
	}

	members := make(map[string][]string)
	for _, o := range orders {
		key := groupOf(o)
		if key == "" {
			continue
		}
		members[key] = append(members[key], o.ServerOrderID)
		// A parent without its own linkage fields still anchors its group.
		if o.ParentID == "" && o.OCOGroup == "" {
			continue
		}
		if o.ParentID != "" {
			if parent, ok := byID[o.ParentID]; ok && parent.OCOGroup == "" && parent.ParentID == "" {
				members[key] = append(members[key], parent.ServerOrderID)
			}
		}
	}

	groups := make([]domain.BracketGroup, 0, len(members))
	for key, ids := range members {
		sort.Strings(ids)
		ids = dedupe(ids)
		if len(ids) < 2 {
			continue
		}
		groups = append(groups, domain.BracketGroup{GroupID: key, OrderIDs: ids})
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].GroupID < groups[j].GroupID })
	return groups
}

func dedupe(sorted []string) []string {
	out := sorted[:0]
	for i, s := range sorted {
		if i == 0 || s != sorted[i-1] {
			out = append(out, s)
		}
	}
	return out
}
