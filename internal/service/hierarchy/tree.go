package hierarchy

import (
	"sort"
	"strconv"
	"strings"

	"curio-backend/internal/domain/node"
	"curio-backend/internal/domain/taxonomy"
)

// TreeNode is one position in a hierarchy projection. Positions with a
// NodeID hold a stored node; the rest are structural, created by the
// code labels between the view root and the leaves.
type TreeNode struct {
	Code     string      `json:"code"`
	Label    string      `json:"label"`
	NodeID   string      `json:"nodeId,omitempty"`
	Title    string      `json:"title,omitempty"`
	Count    int         `json:"count"`
	Children []*TreeNode `json:"children,omitempty"`
}

// uniform tracks whether an attribute agrees across every stored node
// under a position.
type uniform struct {
	value string
	mixed bool
}

func (u *uniform) add(v string) {
	if u.mixed || v == "" {
		return
	}
	switch {
	case u.value == "":
		u.value = v
	case !strings.EqualFold(u.value, v):
		u.mixed = true
		u.value = ""
	}
}

// BuildTree folds flat nodes into the forest rooted at root for the
// view. root "" yields the view's top level. Counts are the number of
// stored nodes at or below each position; structural group positions
// are labelled by the attribute their members share, falling back to
// the raw index.
func BuildTree(view node.View, root string, nodes []*node.Node) []*TreeNode {
	index := make(map[string]*TreeNode)
	children := make(map[string][]string)
	companies := make(map[string]*uniform)
	domains := make(map[string]*uniform)

	var ensure func(code string) *TreeNode
	ensure = func(code string) *TreeNode {
		if tn, ok := index[code]; ok {
			return tn
		}
		tn := &TreeNode{Code: code}
		index[code] = tn
		companies[code] = &uniform{}
		domains[code] = &uniform{}

		parent := parentWithinRoot(code, root)
		children[parent] = append(children[parent], code)
		if parent != root && parent != "" {
			ensure(parent)
		}
		return tn
	}

	for _, n := range nodes {
		code := n.HierarchyCode(view)
		if code == "" || !node.CodeHasPrefix(code, root) {
			continue
		}
		tn := ensure(code)
		tn.NodeID = n.ID.String()
		tn.Title = n.Title
		for at := code; at != ""; at = parentWithinRoot(at, root) {
			if p, ok := index[at]; ok {
				p.Count++
				companies[at].add(n.Company)
				domains[at].add(n.SourceDomain)
			}
			if at == root {
				break
			}
		}
	}

	for code, tn := range index {
		tn.Label = positionLabel(view, code, companies[code], domains[code])
	}

	for parent, codes := range children {
		sortCodes(codes)
		if parent == root {
			continue
		}
		tn := index[parent]
		for _, c := range codes {
			tn.Children = append(tn.Children, index[c])
		}
	}
	roots := children[root]
	sortCodes(roots)
	out := make([]*TreeNode, 0, len(roots))
	for _, c := range roots {
		out = append(out, index[c])
	}
	return out
}

// parentWithinRoot walks one label up but never above the forest root.
func parentWithinRoot(code, root string) string {
	i := strings.LastIndexByte(code, '.')
	if i < 0 {
		return ""
	}
	parent := code[:i]
	if !node.CodeHasPrefix(parent, root) {
		return root
	}
	return parent
}

// positionLabel names a position. The top three levels come from the
// taxonomy; deeper structural positions take the shared company or
// domain of their members, else their raw index.
func positionLabel(view node.View, code string, company, domain *uniform) string {
	labels := strings.Split(code, ".")
	switch len(labels) {
	case 1:
		if view == node.ViewFunction {
			if name := taxonomy.SegmentName(labels[0]); name != "" {
				return name
			}
		}
		return labels[0]
	case 2:
		return labels[1]
	case 3:
		if name := taxonomy.ContentTypeName(labels[2]); name != "" {
			return name
		}
		return labels[2]
	}
	if company != nil && company.value != "" {
		return company.value
	}
	if domain != nil && domain.value != "" {
		return domain.value
	}
	return labels[len(labels)-1]
}

// sortCodes orders sibling codes numerically where the trailing labels
// are integers, so position 10 follows 9 rather than 1.
func sortCodes(codes []string) {
	sort.Slice(codes, func(i, j int) bool {
		return codeLess(codes[i], codes[j])
	})
}

func codeLess(a, b string) bool {
	as, bs := strings.Split(a, "."), strings.Split(b, ".")
	for i := 0; i < len(as) && i < len(bs); i++ {
		if as[i] == bs[i] {
			continue
		}
		ai, aerr := strconv.Atoi(as[i])
		bi, berr := strconv.Atoi(bs[i])
		if aerr == nil && berr == nil {
			return ai < bi
		}
		return as[i] < bs[i]
	}
	return len(as) < len(bs)
}
