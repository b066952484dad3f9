// Package lineage resolves the effective parent branch of a changeset from
// explicit branch metadata and dependency edges.
//
// The resolver runs before PR strategy gating and stack-integrity preflight.
// Ambiguity fails closed: a multi-dependency changeset whose candidates
// cannot be reduced to a single frontier is blocked, never guessed.
package lineage

import (
	"fmt"
	"sort"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// Blocker reasons produced by the resolver.
const (
	ReasonAmbiguous  = "dependency-lineage-ambiguous"
	ReasonUnresolved = "dependency-parent-unresolved"
)

// LookupFunc loads an issue by id. A nil issue with nil error means the
// issue does not exist.
type LookupFunc func(id string) (*beads.Issue, error)

// Resolution is the outcome of parent lineage resolution.
type Resolution struct {
	// RootBranch is the changeset's explicit root branch, if recorded.
	RootBranch string

	// ParentBranch is the effective parent branch for PR bases and stack
	// integrity checks. Empty when blocked.
	ParentBranch string

	// DependencyParentID and DependencyParentBranch identify the dependency
	// selected as parent, when lineage came from dependencies.
	DependencyParentID     string
	DependencyParentBranch string

	// ExplicitParent reports that ParentBranch came from changeset metadata
	// rather than dependency edges.
	ExplicitParent bool

	// Blocked is set when no parent can be determined safely.
	Blocked       bool
	BlockedReason string

	// Diagnostics capture missing issues, missing branches, and ambiguity
	// pairs for operator messages.
	Diagnostics []string
}

type candidate struct {
	id     string
	branch string
}

// ResolveParentLineage computes the parent lineage of a changeset.
// Deterministic given (issue, lookup).
func ResolveParentLineage(issue *beads.Issue, lookup LookupFunc) Resolution {
	res := Resolution{
		RootBranch: ticket.GetMeta(issue.Description, constants.MetaChangesetRootBranch),
	}
	explicitParent := ticket.GetMeta(issue.Description, constants.MetaChangesetParentBranch)

	depIDs := issue.DependencyIDs()

	candidates, diags := collectCandidates(depIDs, lookup)
	res.Diagnostics = append(res.Diagnostics, diags...)

	var depParent *candidate
	switch len(candidates) {
	case 0:
		// no dependency parent available
	case 1:
		depParent = &candidates[0]
	default:
		frontier := reduceToFrontier(candidates, lookup)
		if len(frontier) == 1 {
			depParent = &frontier[0]
		} else {
			res.Blocked = true
			res.BlockedReason = ReasonAmbiguous
			res.Diagnostics = append(res.Diagnostics, ambiguityDiagnostic(frontier))
			return res
		}
	}

	if depParent != nil {
		res.DependencyParentID = depParent.id
		res.DependencyParentBranch = depParent.branch
	}

	// An explicit parent that is present and distinct from root wins.
	if explicitParent != "" && explicitParent != res.RootBranch {
		res.ParentBranch = explicitParent
		res.ExplicitParent = true
		return res
	}

	// Explicit parent missing or collapsed to root: dependencies decide.
	if len(depIDs) > 0 {
		if depParent == nil {
			res.Blocked = true
			res.BlockedReason = ReasonUnresolved
			return res
		}
		res.ParentBranch = depParent.branch
		return res
	}

	// No dependencies: fall back to whatever explicit metadata gave us.
	res.ParentBranch = explicitParent
	res.ExplicitParent = explicitParent != ""
	return res
}

func collectCandidates(depIDs []string, lookup LookupFunc) ([]candidate, []string) {
	var candidates []candidate
	var diags []string

	for _, id := range depIDs {
		if lookup == nil {
			diags = append(diags, fmt.Sprintf("dependency %s: no lookup available", id))
			continue
		}
		dep, err := lookup(id)
		if err != nil {
			diags = append(diags, fmt.Sprintf("dependency %s: %v", id, err))
			continue
		}
		if dep == nil {
			diags = append(diags, fmt.Sprintf("dependency %s: issue missing", id))
			continue
		}
		branch := ticket.GetMeta(dep.Description, constants.MetaChangesetWorkBranch)
		if branch == "" {
			diags = append(diags, fmt.Sprintf("dependency %s: no work branch recorded", id))
			continue
		}
		candidates = append(candidates, candidate{id: id, branch: branch})
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].id < candidates[j].id })
	return candidates, diags
}

// reduceToFrontier drops every candidate that lies in the transitive
// dependency closure of another candidate. With a linear dependency stack
// this leaves exactly the newest changeset; independent candidates survive
// and the caller reports ambiguity.
func reduceToFrontier(candidates []candidate, lookup LookupFunc) []candidate {
	dominated := make(map[string]bool)

	for _, c := range candidates {
		closure := transitiveDeps(c.id, lookup)
		for _, other := range candidates {
			if other.id == c.id {
				continue
			}
			if closure[other.id] {
				dominated[other.id] = true
			}
		}
	}

	var frontier []candidate
	for _, c := range candidates {
		if !dominated[c.id] {
			frontier = append(frontier, c)
		}
	}
	return frontier
}

// transitiveDeps walks the dependency graph from id. The visit set
// tolerates cycles; a true cycle simply yields no reduction and falls
// through to the ambiguous outcome.
func transitiveDeps(id string, lookup LookupFunc) map[string]bool {
	closure := make(map[string]bool)
	if lookup == nil {
		return closure
	}

	stack := []string{id}
	visited := map[string]bool{id: true}

	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		issue, err := lookup(cur)
		if err != nil || issue == nil {
			continue
		}
		for _, depID := range issue.DependencyIDs() {
			if visited[depID] {
				continue
			}
			visited[depID] = true
			closure[depID] = true
			stack = append(stack, depID)
		}
	}
	return closure
}

func ambiguityDiagnostic(frontier []candidate) string {
	pairs := make([]string, len(frontier))
	for i, c := range frontier {
		pairs[i] = fmt.Sprintf("%s→%s", c.id, c.branch)
	}
	sort.Strings(pairs)
	return fmt.Sprintf("ambiguous dependency parents: %v", pairs)
}
