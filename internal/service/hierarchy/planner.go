package hierarchy

import (
	"fmt"
	"strconv"

	"curio-backend/internal/domain/node"
	apperrors "curio-backend/internal/errors"
	"curio-backend/internal/repository"
)

// MaxRestructureDepth bounds recursive splitting. At the cap members
// are numbered in insertion order instead of being split further.
const MaxRestructureDepth = 10

// PlanInput describes one placement problem: the incoming node, the
// live cohort already under the base path, and the view being planned.
type PlanInput struct {
	View     node.View
	BasePath string
	NewNode  Member
	Siblings []Member
}

// Plan is the pure outcome of planning. Mutations lists only siblings
// whose codes actually change; the incoming node's placement is
// NewCode. Assignments carries the final code of every participant,
// the incoming node included.
type Plan struct {
	View            node.View
	BasePath        string
	NewNodeID       string
	NewCode         string
	Mutations       []node.CodeMutation
	Assignments     map[string]string
	SiblingsChanged bool
	Description     string
}

// PrefixPairs returns the vacated and occupied prefixes of each
// mutation plus the new placement, for cache invalidation after the
// plan commits.
func (p *Plan) PrefixPairs() []repository.PrefixPair {
	pairs := make([]repository.PrefixPair, 0, len(p.Mutations)+1)
	for _, m := range p.Mutations {
		pairs = append(pairs, repository.PrefixPair{Old: m.OldCode, New: m.NewCode})
	}
	pairs = append(pairs, repository.PrefixPair{Old: p.BasePath, New: p.NewCode})
	return pairs
}

// Planner turns a placement problem into a code plan. It holds no
// state beyond the recursion cap and is safe for concurrent use.
type Planner struct {
	maxDepth int
}

// NewPlanner creates a planner with the standard recursion cap.
func NewPlanner() *Planner {
	return &Planner{maxDepth: MaxRestructureDepth}
}

// PlanRestructure computes codes for the incoming node and its cohort.
//
// The cohort is combined with the new node and partitioned by the best
// differentiator; each group takes a 1-based index ordered by its
// earliest member, and groups recurse until they are singletons or no
// semantic level splits them. A singleton set places directly at
// prefix.1, so an uncontested base path yields basePath.1 with no
// sibling touched.
func (p *Planner) PlanRestructure(in PlanInput) (*Plan, error) {
	if !in.View.Valid() {
		return nil, apperrors.Internal(apperrors.CodeInternalError, "planning an unknown view").
			WithContext("view", string(in.View)).Build()
	}
	if in.BasePath == "" || in.NewNode.NodeID == "" {
		return nil, apperrors.Internal(apperrors.CodeInternalError, "incomplete plan input").
			WithOperation("hierarchy.plan").Build()
	}

	members := make([]Member, 0, len(in.Siblings)+1)
	members = append(members, in.Siblings...)
	members = append(members, in.NewNode)

	assignments := make(map[string]string, len(members))
	topLevel := p.assign(in.BasePath, members, 1, assignments)

	plan := &Plan{
		View:        in.View,
		BasePath:    in.BasePath,
		NewNodeID:   in.NewNode.NodeID,
		NewCode:     assignments[in.NewNode.NodeID],
		Assignments: assignments,
	}
	for _, s := range in.Siblings {
		final := assignments[s.NodeID]
		if final == s.Code {
			continue
		}
		plan.Mutations = append(plan.Mutations, node.CodeMutation{
			NodeID:  s.NodeID,
			View:    in.View,
			OldCode: s.Code,
			NewCode: final,
		})
	}
	plan.SiblingsChanged = len(plan.Mutations) > 0
	plan.Description = describe(in.BasePath, topLevel, len(in.Siblings), plan.SiblingsChanged)

	if err := ValidatePlan(plan); err != nil {
		return nil, err
	}
	return plan, nil
}

// assign recursively places members under prefix and returns the level
// used for the first split, for the plan description.
func (p *Planner) assign(prefix string, members []Member, depth int, out map[string]string) Level {
	if len(members) == 1 {
		out[members[0].NodeID] = prefix + ".1"
		return LevelInsertion
	}
	if depth >= p.maxDepth {
		rawIndices(prefix, members, out)
		return LevelInsertion
	}
	level := FindBestDifferentiator(members)
	if level == LevelInsertion {
		rawIndices(prefix, members, out)
		return level
	}
	for i, g := range partition(members, level) {
		p.assign(prefix+"."+strconv.Itoa(i+1), g.members, depth+1, out)
	}
	return level
}

func rawIndices(prefix string, members []Member, out map[string]string) {
	sorted := make([]Member, len(members))
	copy(sorted, members)
	sortByInsertion(sorted)
	for i, m := range sorted {
		out[m.NodeID] = prefix + "." + strconv.Itoa(i+1)
	}
}

func describe(basePath string, level Level, siblings int, changed bool) string {
	switch {
	case siblings == 0:
		return fmt.Sprintf("first entry under %s", basePath)
	case level == LevelInsertion:
		return fmt.Sprintf("appended under %s in insertion order", basePath)
	case changed:
		return fmt.Sprintf("split %s by %s, renumbering %d sibling group(s)", basePath, level, siblings)
	default:
		return fmt.Sprintf("joined existing %s split under %s", level, basePath)
	}
}

// ValidatePlan checks the structural invariants every plan must hold:
// a code for every participant, well-formed codes, no duplicates.
// A violation is a programming error and aborts the surrounding
// operation before anything is written.
func ValidatePlan(plan *Plan) error {
	if plan.NewCode == "" {
		return planInvalid(plan, "no code assigned to the new node").Build()
	}
	seen := make(map[string]string, len(plan.Assignments))
	for nodeID, code := range plan.Assignments {
		if code == "" {
			return planInvalid(plan, "empty code assignment").Build()
		}
		if !node.ValidHierarchyCode(code) {
			return planInvalid(plan, "malformed code assignment").
				WithContext("code", code).Build()
		}
		if other, dup := seen[code]; dup {
			return planInvalid(plan, "duplicate code assignment").
				WithContext("code", code).
				WithContext("nodes", other+","+nodeID).Build()
		}
		seen[code] = nodeID
	}
	return nil
}

func planInvalid(plan *Plan, msg string) *apperrors.ErrorBuilder {
	return apperrors.Internal(apperrors.CodeInternalError, "restructure plan rejected: "+msg).
		WithOperation("hierarchy.plan").
		WithContext("view", plan.View.String()).
		WithContext("basePath", plan.BasePath)
}
