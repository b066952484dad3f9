// Package startup implements the worker's epic selection contract: an
// ordered walk over explicit requests, hooks, review feedback, assignment,
// stale-family reclaim, inbox and queue gates, and selection policy.
//
// Selection is a read-only decision over a store snapshot; claiming the
// selected epic is the runner's job.
package startup

import (
	"fmt"
	"sort"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/mail"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// Selection reasons. Stable strings reported in summaries and events.
const (
	ReasonExplicitEpic   = "explicit_epic"
	ReasonQueueOnly      = "queue_only"
	ReasonHookedEpic     = "hooked_epic"
	ReasonReviewFeedback = "review_feedback"
	ReasonAssignedEpic   = "assigned_epic"
	ReasonStaleAssignee  = "stale_assignee_epic"
	ReasonInboxBlocked   = "inbox_blocked"
	ReasonQueueBlocked   = "queue_blocked"
	ReasonSelectedEpic   = "selected_epic"
	ReasonReadyLift      = "ready_changeset_lift"
	ReasonNoEligible     = "no_eligible_epics"
)

// Result is the outcome of one selection run.
type Result struct {
	EpicID       string
	ChangesetID  string // priority changeset, set for review-feedback cycles
	ShouldExit   bool
	Reason       string
	ReassignFrom string // previous assignee on stale-family reclaim
}

// Store is the slice of the ticket store selection reads.
// *beads.Beads satisfies it.
type Store interface {
	Show(id string) (*beads.Issue, error)
	ListEpics(status string) ([]*beads.Issue, error)
	ListDescendantChangesets(epicID string) ([]*beads.Issue, error)
	ListAllChangesets(includeClosed bool) ([]*beads.Issue, error)
}

// Feedback is the slice of the GitHub adapter the review-feedback scan
// needs. *gh.Client satisfies it.
type Feedback interface {
	LookupPRByHead(headBranch string) (*gh.PullRequest, error)
	LatestFeedbackTimestampWithInlineComments(pr *gh.PullRequest) (time.Time, error)
	UnresolvedReviewThreadCount(prNumber int) (int, error)
}

// Inbox answers message-gate queries. *mail.Router satisfies it.
type Inbox interface {
	UnreadInbox(agentID string) ([]*beads.Issue, error)
	UnclaimedQueueMessages(queue string) ([]*beads.Issue, error)
	NotifyNeedsDecision(msg mail.NeedsDecision) (string, error)
}

// GitOps is the slice of the git helper selection needs.
type GitOps interface {
	HasRemoteBranch(branch string) bool
}

// Picker chooses an epic interactively under the prompt policy.
type Picker interface {
	Pick(epics []*beads.Issue) (string, error)
}

// Params are the per-run inputs to selection.
type Params struct {
	AgentID        string
	AgentBead      *beads.Issue
	ExplicitEpicID string
	QueueOnly      bool
}

// Contract evaluates the selection order.
type Contract struct {
	cfg    *config.Project
	store  Store
	prs    Feedback // nil without a configured repo
	mail   Inbox
	git    GitOps
	picker Picker // nil falls back to first candidate
}

// New creates a Contract.
func New(cfg *config.Project, store Store, prs Feedback, inbox Inbox, g GitOps, picker Picker) *Contract {
	return &Contract{cfg: cfg, store: store, prs: prs, mail: inbox, git: g, picker: picker}
}

// Select runs the ordered selection and returns the first match.
func (c *Contract) Select(params Params) (Result, error) {
	if params.ExplicitEpicID != "" {
		return Result{EpicID: params.ExplicitEpicID, Reason: ReasonExplicitEpic}, nil
	}
	if params.QueueOnly {
		return Result{ShouldExit: true, Reason: ReasonQueueOnly}, nil
	}

	epics, err := c.store.ListEpics("")
	if err != nil {
		return Result{}, fmt.Errorf("listing epics: %w", err)
	}
	candidates := filterCandidateEpics(epics)

	hook := hookOf(params.AgentBead)
	if hook != "" {
		if res, ok := c.tryHookedEpic(hook, params.AgentID); ok {
			return res, nil
		}
	}

	if c.cfg.BranchPR && c.prs != nil {
		if res, ok := c.scanReviewFeedback(candidates, hook, params.AgentID); ok {
			return res, nil
		}
	}

	for _, epic := range candidates {
		if epic.Assignee != params.AgentID {
			continue
		}
		if _, ok := c.NextChangeset(epic); ok {
			return Result{EpicID: epic.ID, Reason: ReasonAssignedEpic}, nil
		}
	}

	for _, epic := range candidates {
		if epic.Assignee == "" || epic.Assignee == params.AgentID {
			continue
		}
		if !session.SameFamily(epic.Assignee, params.AgentID) || !session.IsStale(epic.Assignee) {
			continue
		}
		if _, ok := c.NextChangeset(epic); !ok {
			continue
		}
		return Result{
			EpicID:       epic.ID,
			Reason:       ReasonStaleAssignee,
			ReassignFrom: epic.Assignee,
		}, nil
	}

	if msgs, merr := c.mail.UnreadInbox(params.AgentID); merr == nil && len(msgs) > 0 {
		return Result{ShouldExit: true, Reason: ReasonInboxBlocked}, nil
	}
	if c.cfg.WorkerQueue != "" {
		if msgs, merr := c.mail.UnclaimedQueueMessages(c.cfg.WorkerQueue); merr == nil && len(msgs) > 0 {
			return Result{ShouldExit: true, Reason: ReasonQueueBlocked}, nil
		}
	}

	var unassigned []*beads.Issue
	for _, epic := range candidates {
		if epic.Assignee != "" {
			continue
		}
		if _, ok := c.NextChangeset(epic); ok {
			unassigned = append(unassigned, epic)
		}
	}
	if len(unassigned) > 0 {
		if c.cfg.Selection == config.SelectPrompt && !c.cfg.AssumeYes && c.picker != nil {
			id, perr := c.picker.Pick(unassigned)
			if perr != nil {
				return Result{}, fmt.Errorf("epic selection: %w", perr)
			}
			if id != "" {
				return Result{EpicID: id, Reason: ReasonSelectedEpic}, nil
			}
		}
		return Result{EpicID: unassigned[0].ID, Reason: ReasonSelectedEpic}, nil
	}

	if res, ok := c.liftFromReadyChangesets(params.AgentID); ok {
		return res, nil
	}

	c.notifyNoEligible(params.AgentID)
	return Result{ShouldExit: true, Reason: ReasonNoEligible}, nil
}

// tryHookedEpic checks the agent's hooked epic.
func (c *Contract) tryHookedEpic(hook, agentID string) (Result, bool) {
	epic, err := c.store.Show(hook)
	if err != nil || epic == nil {
		return Result{}, false
	}
	if ok, _ := ticket.EpicClaimable(epic, agentID); !ok {
		return Result{}, false
	}
	if _, ok := c.NextChangeset(epic); !ok {
		return Result{}, false
	}
	return Result{EpicID: epic.ID, Reason: ReasonHookedEpic}, true
}

// liftFromReadyChangesets finds a ready leaf changeset and lifts it to an
// epic through the parent chain, falling back to dotted-id compatibility.
func (c *Contract) liftFromReadyChangesets(agentID string) (Result, bool) {
	leaves, err := c.store.ListAllChangesets(false)
	if err != nil {
		return Result{}, false
	}

	for _, cs := range leaves {
		ok, _ := ticket.RunnableLeaf(cs, ticket.False, c.depsSatisfied(cs))
		if !ok {
			continue
		}
		epicID := c.liftToEpic(cs)
		if epicID == "" || epicID == cs.ID {
			continue
		}
		epic, serr := c.store.Show(epicID)
		if serr != nil || epic == nil || epic.Assignee != "" {
			continue
		}
		if ok, _ := ticket.EpicClaimable(epic, agentID); !ok {
			continue
		}
		if _, ok := c.NextChangeset(epic); !ok {
			continue
		}
		return Result{EpicID: epic.ID, ChangesetID: cs.ID, Reason: ReasonReadyLift}, true
	}
	return Result{}, false
}

// liftToEpic resolves a changeset's epic via the parent chain, or the
// dotted-id convention when no parent is recorded.
func (c *Contract) liftToEpic(cs *beads.Issue) string {
	cur := cs
	for cur.Parent != "" {
		parent, err := c.store.Show(cur.Parent)
		if err != nil || parent == nil {
			return ""
		}
		cur = parent
	}
	if cur.ID != cs.ID {
		return cur.ID
	}
	for i := 0; i < len(cs.ID); i++ {
		if cs.ID[i] == '.' {
			return cs.ID[:i]
		}
	}
	return ""
}

func (c *Contract) notifyNoEligible(agentID string) {
	_, err := c.mail.NotifyNeedsDecision(mail.NeedsDecision{
		Subject: "no eligible epics",
		Body: fmt.Sprintf("worker %s found no epic with actionable changesets: "+
			"nothing hooked, assigned, reclaimable, or ready.", agentID),
		Action: "plan new changesets, unblock existing ones, or assign an epic to this worker",
	})
	if err != nil {
		style.PrintWarning("notifying planner: %v", err)
	}
}

// filterCandidateEpics keeps open, non-terminal epics, preserving the
// store's oldest-first order.
func filterCandidateEpics(epics []*beads.Issue) []*beads.Issue {
	var out []*beads.Issue
	for _, e := range epics {
		if !ticket.IsEpic(e) {
			continue
		}
		switch ticket.CanonicalizeStatus(e.Status) {
		case ticket.StatusOpen, ticket.StatusInProgress:
			out = append(out, e)
		}
	}
	return out
}

// hookOf reads the hooked epic off an agent bead: the slot field first,
// then the description fallback.
func hookOf(agentBead *beads.Issue) string {
	if agentBead == nil {
		return ""
	}
	if agentBead.HookBead != "" {
		return agentBead.HookBead
	}
	return beads.ParseAgentFields(agentBead.Description).HookBead
}

// orderForFeedbackScan puts the hooked epic first, then epics assigned to
// this agent, then unassigned ones. Epics owned by other agents are not
// scanned.
func orderForFeedbackScan(candidates []*beads.Issue, hook, agentID string) []*beads.Issue {
	var hooked, assigned, unassigned []*beads.Issue
	for _, e := range candidates {
		switch {
		case e.ID == hook:
			hooked = append(hooked, e)
		case e.Assignee == agentID:
			assigned = append(assigned, e)
		case e.Assignee == "":
			unassigned = append(unassigned, e)
		}
	}
	out := append(hooked, assigned...)
	return append(out, unassigned...)
}

func sortByCreatedAt(issues []*beads.Issue) {
	sort.SliceStable(issues, func(i, j int) bool {
		return issues[i].CreatedAt < issues[j].CreatedAt
	})
}
