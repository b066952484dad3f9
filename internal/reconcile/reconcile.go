// Package reconcile sweeps changesets back in line with observable PR and
// branch state.
//
// Workers only finalize what they just ran; merges that land while no
// worker is active, reviews reopened after a close, and integration proofs
// discovered late are all picked up here. The sweep runs in three phases:
// review drift, integration proofs in dependency order, then epic rollup.
package reconcile

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/finalize"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
)

// Store is the slice of the ticket store the sweep needs.
// *beads.Beads satisfies it.
type Store interface {
	Show(id string) (*beads.Issue, error)
	Update(id string, opts beads.UpdateOptions) error
	ListDescendantChangesets(epicID string) ([]*beads.Issue, error)
	ListAllChangesets(includeClosed bool) ([]*beads.Issue, error)
}

// Result is the sweep summary.
type Result struct {
	Scanned    int
	Actionable int
	Reconciled int
	Failed     int
}

// Options filter one sweep.
type Options struct {
	// EpicID restricts the sweep to descendants of one epic.
	EpicID string
}

// Service runs reconcile sweeps.
type Service struct {
	cfg      *config.Project
	store    Store
	prs      finalize.PRClient
	git      finalize.GitOps
	pipeline *finalize.Pipeline
	mut      *ticket.Mutator

	projectRoot string
	epicCache   map[string]string
}

// New creates a Service. prs may be nil when no repository is configured.
func New(cfg *config.Project, store Store, prs finalize.PRClient, g finalize.GitOps, notifier finalize.Notifier, projectRoot string) *Service {
	return &Service{
		cfg:         cfg,
		store:       store,
		prs:         prs,
		git:         g,
		pipeline:    finalize.New(cfg, store, prs, g, notifier),
		mut:         ticket.NewMutator(store),
		projectRoot: projectRoot,
		epicCache:   make(map[string]string),
	}
}

// Run executes one sweep.
func (s *Service) Run(opts Options) (Result, error) {
	var res Result

	all, err := s.store.ListAllChangesets(true)
	if err != nil {
		return res, fmt.Errorf("listing changesets: %w", err)
	}

	var in []*beads.Issue
	for _, cs := range all {
		if opts.EpicID != "" && s.epicOf(cs) != opts.EpicID {
			continue
		}
		in = append(in, cs)
		res.Scanned++
	}

	s.reviewDrift(in, &res)

	reconciledEpics := s.integrationProofs(in, &res)

	for _, epicID := range sortedKeys(reconciledEpics) {
		s.pipeline.RollupEpic(finalize.Context{
			EpicID:      epicID,
			AgentID:     s.syntheticAgent(epicID),
			StartedAt:   time.Now(),
			ProjectRoot: s.projectRoot,
		})
	}

	return res, nil
}

// reviewDrift reopens closed changesets whose review is still live.
func (s *Service) reviewDrift(changesets []*beads.Issue, res *Result) {
	for _, cs := range changesets {
		if ticket.CanonicalizeStatus(cs.Status) != ticket.StatusClosed {
			continue
		}
		// A terminal changeset with a recorded sha is settled.
		if ticket.HasTerminalState(cs) &&
			ticket.GetMeta(cs.Description, constants.MetaChangesetIntegrated) != "" {
			continue
		}

		stored := ticket.ReviewLifecycle(ticket.ParseReviewMetadata(cs.Description).PRState)
		state := stored
		if !stored.IsActive() {
			live, ok := s.liveLifecycle(cs)
			if !ok || !live.IsActive() {
				continue
			}
			state = live
		}

		res.Actionable++
		if err := s.mut.MarkInProgress(cs.ID); err != nil {
			res.Failed++
			style.PrintWarning("reopening %s: %v", cs.ID, err)
			continue
		}
		meta := ticket.ParseReviewMetadata(cs.Description)
		meta.PRState = string(state)
		if err := s.mut.UpdateReviewMetadata(cs.ID, meta); err != nil {
			style.PrintWarning("updating review state on %s: %v", cs.ID, err)
		}
		res.Reconciled++
	}
}

// integrationProofs finalizes non-closed changesets whose integration
// already happened, in dependency order. Returns the epics that had a
// changeset reconciled.
func (s *Service) integrationProofs(changesets []*beads.Issue, res *Result) map[string]bool {
	byID := make(map[string]*beads.Issue, len(changesets))
	var candidates []*beads.Issue
	for _, cs := range changesets {
		byID[cs.ID] = cs
		if ticket.CanonicalizeStatus(cs.Status) == ticket.StatusClosed {
			continue
		}
		if s.integrationSignal(cs) == "" {
			continue
		}
		candidates = append(candidates, cs)
	}
	if len(candidates) == 0 {
		return nil
	}

	order, blocked := topoOrder(candidates)
	for id, blockers := range blocked {
		res.Actionable++
		res.Failed++
		style.PrintWarning("cannot order %s for reconciliation; blocked by %s",
			id, strings.Join(blockers, ", "))
	}

	done := make(map[string]bool)
	epics := make(map[string]bool)

	for _, cs := range order {
		res.Actionable++
		if !s.depsSettled(cs, done, byID) {
			res.Failed++
			continue
		}

		epicID := s.epicOf(cs)
		out := s.pipeline.Run(finalize.Context{
			ChangesetID: cs.ID,
			EpicID:      epicID,
			AgentID:     s.syntheticAgent(epicID),
			StartedAt:   time.Now(),
			ProjectRoot: s.projectRoot,
		})
		if out.Reason == finalize.ReasonComplete {
			res.Reconciled++
			done[cs.ID] = true
			epics[epicID] = true
		} else {
			res.Failed++
			style.PrintWarning("reconciling %s: %s (%s)", cs.ID, out.Reason, out.Detail)
		}
	}
	return epics
}

// depsSettled reports whether every dependency of a candidate is reconciled
// in this sweep or already terminal in the store.
func (s *Service) depsSettled(cs *beads.Issue, done map[string]bool, byID map[string]*beads.Issue) bool {
	for _, depID := range cs.DependencyIDs() {
		if done[depID] {
			continue
		}
		dep, ok := byID[depID]
		if !ok {
			loaded, err := s.store.Show(depID)
			if errors.Is(err, beads.ErrNotFound) {
				continue
			}
			if err != nil {
				return false
			}
			dep = loaded
		}
		if !ticket.IsWork(dep) {
			continue
		}
		if ticket.CanonicalizeStatus(dep.Status) == ticket.StatusClosed || ticket.HasTerminalState(dep) {
			continue
		}
		return false
	}
	return true
}

// liveLifecycle queries the live review lifecycle for a changeset's work
// branch. ok is false when no branch is recorded or the lookup failed.
func (s *Service) liveLifecycle(cs *beads.Issue) (ticket.ReviewLifecycle, bool) {
	branch := ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)
	if branch == "" {
		return ticket.LifecycleNone, false
	}
	pushed := s.git.HasRemoteBranch(branch)
	var payload *gh.PullRequest
	if s.cfg.BranchPR && s.prs != nil {
		pr, err := s.prs.LookupPRByHead(branch)
		if err != nil {
			return ticket.LifecycleNone, false
		}
		payload = pr
	}
	return gh.LifecycleState(payload, pushed, gh.HasReviewRequests(payload)), true
}

// integrationSignal returns the integration sha for a changeset when one is
// observable: recorded metadata, a live merged PR, or a branch tip already
// on the default branch.
func (s *Service) integrationSignal(cs *beads.Issue) string {
	if sha := ticket.GetMeta(cs.Description, constants.MetaChangesetIntegrated); sha != "" {
		return sha
	}
	branch := ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)
	if branch == "" {
		return ""
	}

	if s.cfg.BranchPR && s.prs != nil {
		if pr, err := s.prs.LookupPRByHead(branch); err == nil && pr.IsMerged() {
			if pr.MergeCommit != nil && pr.MergeCommit.OID != "" {
				return pr.MergeCommit.OID
			}
			if sha, err := s.git.RemoteBranchSHA(branch); err == nil {
				return sha
			}
		}
	}

	sha, err := s.git.RemoteBranchSHA(branch)
	if err != nil || sha == "" {
		return ""
	}
	def := s.git.DefaultBranch()
	_ = s.git.FetchBranch("origin", def)
	if ok, err := s.git.IsAncestor(sha, "origin/"+def); err == nil && ok {
		return sha
	}
	return ""
}

// epicOf resolves the top-level ancestor of an issue, cached per sweep.
func (s *Service) epicOf(issue *beads.Issue) string {
	if epicID, ok := s.epicCache[issue.ID]; ok {
		return epicID
	}

	id := issue.ID
	cur := issue
	for cur.Parent != "" {
		parent, err := s.store.Show(cur.Parent)
		if err != nil || parent == nil {
			break
		}
		cur = parent
	}
	s.epicCache[id] = cur.ID
	return cur.ID
}

// syntheticAgent derives an actor id for reconcile-driven finalize runs
// from the epic's assignee.
func (s *Service) syntheticAgent(epicID string) string {
	if epic, err := s.store.Show(epicID); err == nil && epic != nil && epic.Assignee != "" {
		return epic.Assignee + "/reconcile"
	}
	return constants.AgentFamilyRoot + "/reconcile"
}

// topoOrder sorts candidates so dependencies come first, considering only
// edges inside the candidate set. Returns the ordered list plus, for any
// cycle, each unorderable id with its blockers.
func topoOrder(candidates []*beads.Issue) ([]*beads.Issue, map[string][]string) {
	inSet := make(map[string]*beads.Issue, len(candidates))
	for _, c := range candidates {
		inSet[c.ID] = c
	}

	indegree := make(map[string]int, len(candidates))
	dependents := make(map[string][]string)
	for _, c := range candidates {
		indegree[c.ID] = 0
	}
	for _, c := range candidates {
		for _, depID := range c.DependencyIDs() {
			if _, ok := inSet[depID]; ok {
				indegree[c.ID]++
				dependents[depID] = append(dependents[depID], c.ID)
			}
		}
	}

	var queue []string
	for id, deg := range indegree {
		if deg == 0 {
			queue = append(queue, id)
		}
	}
	sort.Strings(queue)

	var order []*beads.Issue
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		order = append(order, inSet[id])

		var released []string
		for _, dep := range dependents[id] {
			indegree[dep]--
			if indegree[dep] == 0 {
				released = append(released, dep)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	blocked := make(map[string][]string)
	if len(order) < len(candidates) {
		ordered := make(map[string]bool, len(order))
		for _, c := range order {
			ordered[c.ID] = true
		}
		for _, c := range candidates {
			if ordered[c.ID] {
				continue
			}
			var blockers []string
			for _, depID := range c.DependencyIDs() {
				if _, ok := inSet[depID]; ok && !ordered[depID] {
					blockers = append(blockers, depID)
				}
			}
			sort.Strings(blockers)
			blocked[c.ID] = blockers
		}
	}
	return order, blocked
}

func sortedKeys(m map[string]bool) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
