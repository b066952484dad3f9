package beads

import (
	"sort"

	"github.com/atelier-dev/atelier/internal/constants"
)

// ListEpics returns all issues carrying the epic identity label.
func (b *Beads) ListEpics(status string) ([]*Issue, error) {
	issues, err := b.List(ListOptions{Label: constants.LabelEpic, Status: status})
	if err != nil {
		return nil, err
	}
	sortByCreated(issues)
	return issues, nil
}

// ListDescendantChangesets returns all leaf work issues under an epic,
// walking the parent-child tree via show. Non-work beads are skipped.
func (b *Beads) ListDescendantChangesets(epicID string) ([]*Issue, error) {
	root, err := b.Show(epicID)
	if err != nil {
		return nil, err
	}

	var leaves []*Issue
	visited := map[string]bool{root.ID: true}
	queue := append([]string(nil), root.Children...)

	// The epic itself may be a top-level leaf.
	if len(root.Children) == 0 {
		return nil, nil
	}

	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if visited[id] {
			continue
		}
		visited[id] = true

		issue, err := b.Show(id)
		if err != nil {
			if err == ErrNotFound {
				continue
			}
			return nil, err
		}
		if IsAgentBead(issue) || issue.Type == "message" || issue.Type == "policy" {
			continue
		}
		if len(issue.Children) == 0 {
			leaves = append(leaves, issue)
			continue
		}
		queue = append(queue, issue.Children...)
	}

	sortByID(leaves)
	return leaves, nil
}

// ListAllChangesets returns every leaf work issue in the store, across all
// epics, optionally including closed ones.
func (b *Beads) ListAllChangesets(includeClosed bool) ([]*Issue, error) {
	status := "open"
	if includeClosed {
		status = "all"
	}
	issues, err := b.List(ListOptions{Status: status})
	if err != nil {
		return nil, err
	}

	hasWorkChildren := make(map[string]bool)
	byID := make(map[string]*Issue, len(issues))
	for _, issue := range issues {
		byID[issue.ID] = issue
	}
	for _, issue := range issues {
		if !isWorkIssue(issue) {
			continue
		}
		if issue.Parent != "" {
			hasWorkChildren[issue.Parent] = true
		}
	}

	var leaves []*Issue
	for _, issue := range issues {
		if !isWorkIssue(issue) {
			continue
		}
		if hasWorkChildren[issue.ID] {
			continue
		}
		leaves = append(leaves, issue)
	}
	sortByID(leaves)
	return leaves, nil
}

// ListTopLevelWorkMissingEpicIdentity returns work issues with no parent
// that lack the at:epic label, for operator diagnostics.
func (b *Beads) ListTopLevelWorkMissingEpicIdentity() ([]*Issue, error) {
	issues, err := b.List(ListOptions{Status: "open"})
	if err != nil {
		return nil, err
	}

	var missing []*Issue
	for _, issue := range issues {
		if !isWorkIssue(issue) {
			continue
		}
		if issue.Parent != "" {
			continue
		}
		if HasLabel(issue, constants.LabelEpic) {
			continue
		}
		missing = append(missing, issue)
	}
	sortByID(missing)
	return missing, nil
}

// EpicChangesetSummary counts an epic's descendant changesets by
// changeset-state label.
func (b *Beads) EpicChangesetSummary(epicID string) (map[string]int, error) {
	changesets, err := b.ListDescendantChangesets(epicID)
	if err != nil {
		return nil, err
	}

	summary := make(map[string]int)
	for _, cs := range changesets {
		state := "none"
		for _, l := range cs.Labels {
			switch l {
			case constants.LabelCSPlanned, constants.LabelCSReady, constants.LabelCSInProgress,
				constants.LabelCSBlocked, constants.LabelCSMerged, constants.LabelCSAbandoned:
				state = l
			}
		}
		summary[state]++
	}
	return summary, nil
}

func isWorkIssue(issue *Issue) bool {
	if issue == nil {
		return false
	}
	switch issue.Type {
	case "message", "agent", "policy":
		return false
	}
	if IsAgentBead(issue) || HasLabel(issue, constants.LabelMessage) || HasLabel(issue, constants.LabelPolicy) {
		return false
	}
	return true
}

func sortByID(issues []*Issue) {
	sort.Slice(issues, func(i, j int) bool { return issues[i].ID < issues[j].ID })
}

func sortByCreated(issues []*Issue) {
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].CreatedAt == issues[j].CreatedAt {
			return issues[i].ID < issues[j].ID
		}
		return issues[i].CreatedAt < issues[j].CreatedAt
	})
}
