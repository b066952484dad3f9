package startup

import (
	"errors"
	"sort"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// NextChangeset picks the next changeset to run under an epic: in-progress
// first, then by id; blocked changesets with published work count as
// recovery candidates; anything waiting on review is excluded.
func (c *Contract) NextChangeset(epic *beads.Issue) (string, bool) {
	if epic == nil {
		return "", false
	}

	// A top-level leaf runs as its own changeset.
	if ticket.IsChangeset(epic, ticket.Unknown) && beads.HasLabel(epic, constants.LabelChange) {
		if c.readyOrRecoverable(epic) && !c.waitingOnReview(epic) {
			return epic.ID, true
		}
		return "", false
	}

	leaves, err := c.store.ListDescendantChangesets(epic.ID)
	if err != nil {
		return "", false
	}

	var pool []*beads.Issue
	for _, cs := range leaves {
		if !c.readyOrRecoverable(cs) {
			continue
		}
		if c.waitingOnReview(cs) {
			continue
		}
		pool = append(pool, cs)
	}
	if len(pool) == 0 {
		return "", false
	}

	sort.SliceStable(pool, func(i, j int) bool {
		pi := beads.HasLabel(pool[i], constants.LabelCSInProgress)
		pj := beads.HasLabel(pool[j], constants.LabelCSInProgress)
		if pi != pj {
			return pi
		}
		return pool[i].ID < pool[j].ID
	})
	return pool[0].ID, true
}

func (c *Contract) readyOrRecoverable(cs *beads.Issue) bool {
	if ok, _ := ticket.RunnableLeaf(cs, ticket.False, c.depsSatisfied(cs)); ok {
		return true
	}
	return c.isRecoveryCandidate(cs)
}

// isRecoveryCandidate reports a blocked changeset whose work is already
// published, so a retry is meaningful.
func (c *Contract) isRecoveryCandidate(cs *beads.Issue) bool {
	if !beads.HasLabel(cs, constants.LabelCSBlocked) {
		return false
	}
	if ticket.HasTerminalState(cs) {
		return false
	}
	meta := ticket.ParseReviewMetadata(cs.Description)
	if meta.PRNumber != "" {
		return true
	}
	if ticket.ReviewLifecycle(meta.PRState) == ticket.LifecyclePushed {
		return true
	}
	branch := ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)
	return branch != "" && c.git.HasRemoteBranch(branch)
}

// waitingOnReview reports a changeset whose stored review state means
// running an agent on it now would accomplish nothing: an open PR, or a
// pushed branch whose PR creation is still strategy-gated.
func (c *Contract) waitingOnReview(cs *beads.Issue) bool {
	state := ticket.ReviewLifecycle(ticket.ParseReviewMetadata(cs.Description).PRState)
	if state.HasOpenPR() {
		return true
	}
	if state != ticket.LifecyclePushed {
		return false
	}
	if c.cfg.PRStrategy == config.StrategyParallel {
		return false
	}

	depIDs := cs.DependencyIDs()
	if len(depIDs) == 0 {
		return false
	}
	for _, depID := range depIDs {
		dep, err := c.store.Show(depID)
		if err != nil || dep == nil || !ticket.IsWork(dep) {
			continue
		}
		if beads.HasLabel(dep, constants.LabelCSMerged) {
			continue
		}
		if ticket.ReviewLifecycle(ticket.ParseReviewMetadata(dep.Description).PRState).IsIntegrated() {
			continue
		}
		if ticket.CanonicalizeStatus(dep.Status) == ticket.StatusClosed {
			continue
		}
		return true
	}
	return false
}

// depsSatisfied evaluates a changeset's dependencies against the store.
// Sequential PR stacks require integrated dependencies, not just closed
// ones.
func (c *Contract) depsSatisfied(cs *beads.Issue) ticket.Ternary {
	requireIntegrated := c.cfg.BranchPR && c.cfg.PRStrategy == config.StrategySequential

	for _, depID := range cs.DependencyIDs() {
		dep, err := c.store.Show(depID)
		if errors.Is(err, beads.ErrNotFound) {
			continue
		}
		if err != nil {
			return ticket.Unknown
		}
		if dep == nil || !ticket.IsWork(dep) {
			continue
		}
		reviewState := ticket.ReviewLifecycle(ticket.ParseReviewMetadata(dep.Description).PRState)
		hasKids := ticket.TernaryOf(len(dep.Children) > 0)
		if !ticket.DependencyIssueSatisfied(dep.Status, dep.Labels, requireIntegrated, reviewState, dep.Type, hasKids) {
			return ticket.False
		}
	}
	return ticket.True
}

// scanReviewFeedback finds the oldest changeset with unaddressed reviewer
// feedback: an open PR, feedback newer than the stored cursor, and at
// least one unresolved review thread.
func (c *Contract) scanReviewFeedback(candidates []*beads.Issue, hook, agentID string) (Result, bool) {
	var bestEpic, bestCS string
	var bestCreated string

	for _, epic := range orderForFeedbackScan(candidates, hook, agentID) {
		leaves, err := c.store.ListDescendantChangesets(epic.ID)
		if err != nil {
			continue
		}
		sortByCreatedAt(leaves)

		for _, cs := range leaves {
			if ticket.HasTerminalState(cs) {
				continue
			}
			branch := ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)
			if branch == "" {
				continue
			}

			pr, err := c.prs.LookupPRByHead(branch)
			if err != nil || pr == nil {
				continue
			}
			state := gh.LifecycleState(pr, true, gh.HasReviewRequests(pr))
			if !state.HasOpenPR() {
				continue
			}

			latest, err := c.prs.LatestFeedbackTimestampWithInlineComments(pr)
			if err != nil || latest.IsZero() {
				continue
			}
			cursor := parseCursor(ticket.GetMeta(cs.Description, constants.MetaFeedbackSeenAt))
			if !latest.After(cursor) {
				continue
			}

			unresolved, err := c.prs.UnresolvedReviewThreadCount(pr.Number)
			if err != nil || unresolved < 1 {
				continue
			}

			if bestCS == "" || cs.CreatedAt < bestCreated {
				bestEpic, bestCS, bestCreated = epic.ID, cs.ID, cs.CreatedAt
			}
		}
	}

	if bestCS == "" {
		return Result{}, false
	}
	return Result{EpicID: bestEpic, ChangesetID: bestCS, Reason: ReasonReviewFeedback}, true
}

func parseCursor(value string) time.Time {
	if value == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}
	}
	return t
}
