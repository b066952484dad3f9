package finalize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/lineage"
	"github.com/atelier-dev/atelier/internal/mail"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// Store is the slice of the ticket store the pipeline needs.
// *beads.Beads satisfies it.
type Store interface {
	Show(id string) (*beads.Issue, error)
	Update(id string, opts beads.UpdateOptions) error
	ListDescendantChangesets(epicID string) ([]*beads.Issue, error)
}

// PRClient is the slice of the GitHub adapter the pipeline needs.
// *gh.Client satisfies it.
type PRClient interface {
	LookupPRByHead(headBranch string) (*gh.PullRequest, error)
	ViewPR(number int) (*gh.PullRequest, error)
	CreatePR(base, head, title, body string, draft bool) error
	EditPRBase(number int, base string) error
	InvalidateBranch(headBranch string)
}

// GitOps is the slice of the git helper the pipeline needs.
// *git.Git satisfies it.
type GitOps interface {
	BranchExists(name string) bool
	HasRemoteBranch(branch string) bool
	RemoteBranchSHA(branch string) (string, error)
	DefaultBranch() string
	IsAncestor(ancestor, descendant string) (bool, error)
	FetchBranch(remote, branch string) error
	Push(remote, branch string, setUpstream bool) error
	DirtyEntriesIn(path string) ([]string, error)
	Integrate(dir, root, parent, history, msg string) git.IntegrationResult
	Cleanup(worktrees, branches []string, keep map[string]bool) error
}

// Notifier delivers planner messages and answers blocking-message queries.
// *mail.Router satisfies it.
type Notifier interface {
	NotifyNeedsDecision(msg mail.NeedsDecision) (string, error)
	BlockingMessages(threads []string, since time.Time) ([]*beads.Issue, error)
}

// Context carries the per-cycle inputs into one finalize run.
type Context struct {
	ChangesetID string
	EpicID      string
	AgentID     string
	AgentBead   string
	StartedAt   time.Time
	ProjectRoot string
}

// Pipeline executes the post-agent decision tree.
type Pipeline struct {
	cfg   *config.Project
	store Store
	mut   *ticket.Mutator
	prs   PRClient
	git   GitOps
	mail  Notifier
}

// New creates a Pipeline. prs may be nil when no repository slug is
// configured; PR paths then degrade to their non-PR outcomes.
func New(cfg *config.Project, store Store, prs PRClient, g GitOps, notifier Notifier) *Pipeline {
	return &Pipeline{
		cfg:   cfg,
		store: store,
		mut:   ticket.NewMutator(store),
		prs:   prs,
		git:   g,
		mail:  notifier,
	}
}

// prFlow reports whether PR creation and lookup are in play.
func (p *Pipeline) prFlow() bool {
	return p.cfg.BranchPR && p.prs != nil
}

// Run executes the ordered decision tree for one changeset. The first
// matching branch terminates the run.
func (p *Pipeline) Run(ctx Context) Result {
	if ctx.ChangesetID == "" {
		return stopWith(ReasonChangesetMissing, "no changeset selected")
	}

	cs, err := p.store.Show(ctx.ChangesetID)
	if err != nil || cs == nil {
		return stopWith(ReasonChangesetNotFound, fmt.Sprintf("changeset %s: %v", ctx.ChangesetID, err))
	}

	if beads.HasLabel(cs, constants.LabelSubtask) {
		p.notify(ctx, fmt.Sprintf("invalid labels on %s", cs.ID),
			fmt.Sprintf("changeset %s carries the %s label, which the worker flow does not support.", cs.ID, constants.LabelSubtask),
			"remove the label or replan the ticket as a changeset",
			cs.ID, ctx.EpicID)
		return stopWith(ReasonLabelViolation, constants.LabelSubtask)
	}

	workBranch := ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)

	if ticket.HasTerminalState(cs) {
		return p.runTerminalLabel(ctx, cs, workBranch)
	}

	if p.cfg.BranchPR && p.cfg.PRStrategy == config.StrategySequential {
		if res, failed := p.stackIntegrityPreflight(ctx, cs); failed {
			return res
		}
	}

	if msgs, merr := p.mail.BlockingMessages([]string{cs.ID, ctx.EpicID}, ctx.StartedAt); merr == nil && len(msgs) > 0 {
		_ = p.mut.MarkBlocked(cs.ID, "planner message pending")
		return stopWith(ReasonBlockedMessage, describeMessages(msgs))
	}

	stored := ticket.ParseReviewMetadata(cs.Description)
	if ticket.CanonicalizeStatus(cs.Status) == ticket.StatusInProgress &&
		ticket.ReviewLifecycle(stored.PRState).HasOpenPR() {
		return stopWith(ReasonReviewPending, "pr_state="+stored.PRState)
	}

	if workBranch == "" {
		_ = p.mut.MarkBlocked(cs.ID, "changeset.work_branch not recorded")
		p.notify(ctx, fmt.Sprintf("missing work branch on %s", cs.ID),
			fmt.Sprintf("changeset %s has no %s metadata, so its branch state cannot be evaluated.", cs.ID, constants.MetaChangesetWorkBranch),
			"record the work branch on the ticket or abandon the changeset",
			cs.ID, ctx.EpicID)
		return stopWith(ReasonBlockedMissingMetadata, constants.MetaChangesetWorkBranch)
	}

	pushed := p.git.HasRemoteBranch(workBranch)

	var payload *gh.PullRequest
	if p.prFlow() {
		payload, err = p.prs.LookupPRByHead(workBranch)
		if err != nil && !errors.Is(err, gh.ErrNotInstalled) {
			_ = p.mut.MarkInProgress(cs.ID)
			p.notify(ctx, fmt.Sprintf("pr lookup failed for %s", cs.ID),
				fmt.Sprintf("looking up the pull request for branch %s failed:\n%v", workBranch, err),
				"check gh auth and connectivity, then rerun the worker",
				cs.ID, ctx.EpicID)
			return stopWith(ReasonPRStatusQueryFailed, err.Error())
		}
	}

	lifecycle := gh.LifecycleState(payload, pushed, gh.HasReviewRequests(payload))

	switch lifecycle {
	case ticket.LifecycleMerged:
		p.applyReviewMetadata(cs.ID, payload, lifecycle)
		return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleMerged, p.mergedSHA(workBranch, payload))
	case ticket.LifecycleClosed:
		p.applyReviewMetadata(cs.ID, payload, lifecycle)
		if sha, ok := p.integratedOnDefault(workBranch); ok {
			return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleMerged, sha)
		}
		return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleClosed, "")
	}

	if lifecycle == ticket.LifecyclePushed {
		if sha := p.integrationSignal(cs, workBranch); sha != "" {
			return p.finalizeTerminal(ctx, cs.ID, ticket.LifecycleMerged, sha)
		}
		return p.handlePushedWithoutPR(ctx, cs, workBranch)
	}

	if lifecycle == ticket.LifecycleNone || lifecycle == ticket.LifecycleLocalOnly {
		return p.handleLocalOnly(ctx, cs, workBranch)
	}

	if payload != nil && p.cfg.BranchPR {
		refreshed, detail, aerr := p.alignPRBase(ctx, cs, payload)
		if aerr != nil {
			return stopWith(ReasonPRBaseAlignmentFailed, detail)
		}
		state := gh.LifecycleState(refreshed, pushed, gh.HasReviewRequests(refreshed))
		p.setReviewPending(cs.ID, refreshed, state)
		return stopWith(ReasonReviewPending, fmt.Sprintf("pr #%d %s", refreshed.Number, state))
	}

	return continueWith(ReasonPublished, string(lifecycle))
}

// lookup adapts the store to the lineage resolver's missing-issue contract.
func (p *Pipeline) lookup(id string) (*beads.Issue, error) {
	issue, err := p.store.Show(id)
	if errors.Is(err, beads.ErrNotFound) {
		return nil, nil
	}
	return issue, err
}

// stackIntegrityPreflight verifies the dependency parent of a sequential
// stack before anything else runs. Only pathological parent states fail
// here; a gate-blocked parent is handled later by the pushed-without-PR
// path.
func (p *Pipeline) stackIntegrityPreflight(ctx Context, cs *beads.Issue) (Result, bool) {
	lin := lineage.ResolveParentLineage(cs, p.lookup)

	fail := func(reason, remediation, detail string) (Result, bool) {
		_ = p.mut.MarkBlocked(cs.ID, reason)
		body := fmt.Sprintf("stack integrity check failed for %s: %s", cs.ID, reason)
		if detail != "" {
			body += "\n\n" + detail
		}
		p.notify(ctx, fmt.Sprintf("stack integrity failed for %s", cs.ID), body, remediation, cs.ID, ctx.EpicID)
		return stopWith(ReasonStackIntegrityFailed, reason), true
	}

	if lin.Blocked {
		return fail(lin.BlockedReason,
			"fix the dependency edges or record an explicit parent branch on the changeset",
			strings.Join(lin.Diagnostics, "\n"))
	}
	if lin.DependencyParentID == "" || !p.prFlow() {
		return Result{}, false
	}

	parentBranch := lin.DependencyParentBranch
	claimsPR := false
	if parent, err := p.store.Show(lin.DependencyParentID); err == nil && parent != nil {
		claimsPR = ticket.ParseReviewMetadata(parent.Description).PRNumber != ""
	}

	pushed := p.git.HasRemoteBranch(parentBranch)
	payload, err := p.prs.LookupPRByHead(parentBranch)
	if err != nil && !errors.Is(err, gh.ErrNotInstalled) {
		return fail("dependency-parent-status-query-failed",
			"check gh auth and connectivity, then rerun the worker",
			err.Error())
	}

	state := gh.LifecycleState(payload, pushed, gh.HasReviewRequests(payload))
	switch {
	case state == ticket.LifecycleClosed:
		return fail("dependency-parent-pr-closed",
			"reopen or re-target the parent PR, or abandon the parent changeset",
			fmt.Sprintf("parent %s (branch %s) has a closed, unmerged PR", lin.DependencyParentID, parentBranch))
	case claimsPR && payload == nil:
		return fail("dependency-parent-pr-missing",
			"clear the parent's review metadata or restore its PR",
			fmt.Sprintf("parent %s records a PR that no longer exists for branch %s", lin.DependencyParentID, parentBranch))
	}
	return Result{}, false
}

// parentLifecycle computes the live review lifecycle of a resolved parent
// branch. Lookup failures degrade to pushed, which is the conservative
// answer for every gate.
func (p *Pipeline) parentLifecycle(lin lineage.Resolution) ticket.ReviewLifecycle {
	branch := lin.ParentBranch
	if branch == "" || branch == lin.RootBranch {
		return ticket.LifecycleNone
	}
	pushed := p.git.HasRemoteBranch(branch)
	var payload *gh.PullRequest
	if p.prFlow() {
		pr, err := p.prs.LookupPRByHead(branch)
		if err != nil {
			if pushed {
				return ticket.LifecyclePushed
			}
			return ticket.LifecycleNone
		}
		payload = pr
	}
	return gh.LifecycleState(payload, pushed, gh.HasReviewRequests(payload))
}

// applyReviewMetadata rewrites the review slots from a live payload,
// preserving the recorded review owner.
func (p *Pipeline) applyReviewMetadata(id string, pr *gh.PullRequest, state ticket.ReviewLifecycle) {
	issue, err := p.store.Show(id)
	if err != nil {
		return
	}
	meta := ticket.ParseReviewMetadata(issue.Description)
	meta.PRState = string(state)
	if pr != nil {
		meta.PRURL = pr.URL
		meta.PRNumber = strconv.Itoa(pr.Number)
	}
	if err := p.mut.UpdateReviewMetadata(id, meta); err != nil {
		style.PrintWarning("updating review metadata on %s: %v", id, err)
	}
}

// setReviewPending records an in-flight review: status back to in_progress
// and the review slots refreshed.
func (p *Pipeline) setReviewPending(id string, pr *gh.PullRequest, state ticket.ReviewLifecycle) {
	if err := p.mut.MarkInProgress(id); err != nil {
		style.PrintWarning("marking %s in progress: %v", id, err)
	}
	p.applyReviewMetadata(id, pr, state)
}

// mergedSHA resolves the integration sha for a merged branch: the remote
// branch tip, falling back to the PR merge commit.
func (p *Pipeline) mergedSHA(workBranch string, pr *gh.PullRequest) string {
	if sha, err := p.git.RemoteBranchSHA(workBranch); err == nil && sha != "" {
		return sha
	}
	if pr != nil && pr.MergeCommit != nil {
		return pr.MergeCommit.OID
	}
	return ""
}

// integratedOnDefault reports whether the remote tip of a branch is
// reachable from the remote default branch.
func (p *Pipeline) integratedOnDefault(workBranch string) (string, bool) {
	sha, err := p.git.RemoteBranchSHA(workBranch)
	if err != nil || sha == "" {
		return "", false
	}
	def := p.git.DefaultBranch()
	_ = p.git.FetchBranch("origin", def)
	ok, err := p.git.IsAncestor(sha, "origin/"+def)
	if err != nil || !ok {
		return "", false
	}
	return sha, true
}

// integrationSignal returns the integration sha for a changeset when one
// exists: the recorded metadata value, or the branch tip when it already
// landed on the default branch.
func (p *Pipeline) integrationSignal(cs *beads.Issue, workBranch string) string {
	if sha := ticket.GetMeta(cs.Description, constants.MetaChangesetIntegrated); sha != "" {
		return sha
	}
	if workBranch == "" {
		return ""
	}
	if sha, ok := p.integratedOnDefault(workBranch); ok {
		return sha
	}
	return ""
}

func (p *Pipeline) notify(ctx Context, subject, body, action string, threads ...string) {
	if p.mail == nil {
		return
	}
	_, err := p.mail.NotifyNeedsDecision(mail.NeedsDecision{
		Subject: subject,
		Body:    body,
		Action:  action,
		Threads: threads,
	})
	if err != nil {
		style.PrintWarning("notifying planner: %v", err)
	}
}

func describeMessages(msgs []*beads.Issue) string {
	parts := make([]string, len(msgs))
	for i, m := range msgs {
		parts[i] = fmt.Sprintf("%s %q", m.ID, m.Title)
	}
	return strings.Join(parts, ", ")
}
