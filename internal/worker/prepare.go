package worker

import (
	"fmt"
	"os"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/events"
	"github.com/atelier-dev/atelier/internal/startup"
	"github.com/atelier-dev/atelier/internal/style"
	"github.com/atelier-dev/atelier/internal/ticket"
	"github.com/atelier-dev/atelier/internal/workspace"
	"github.com/atelier-dev/atelier/internal/worktree"
)

// claimEpic assigns the epic to this agent and hooks it. On a stale-family
// takeover the previous owner's hook is cleared first.
func (r *Runner) claimEpic(sel startup.Result, agentBead *beads.Issue) error {
	stepStart := time.Now()

	if sel.ReassignFrom != "" {
		if prev, err := r.bd.FindAgentBeadByHook(sel.EpicID); err == nil && prev != nil && prev.ID != agentBead.ID {
			if cerr := r.bd.ClearAgentHook(prev.ID); cerr != nil {
				style.PrintWarning("clearing stale hook on %s: %v", prev.ID, cerr)
			}
		}
	}

	assignee := r.agentID
	status := string(ticket.StatusInProgress)
	if err := r.bd.Update(sel.EpicID, beads.UpdateOptions{Assignee: &assignee, Status: &status}); err != nil {
		return err
	}
	if err := r.bd.SetAgentHook(agentBead.ID, sel.EpicID); err != nil {
		style.PrintWarning("hooking epic %s: %v", sel.EpicID, err)
	}

	_ = r.rec.Step(events.LabelClaim, stepStart, map[string]interface{}{
		"epic": sel.EpicID, "reason": sel.Reason, "reassign_from": sel.ReassignFrom,
	})
	return nil
}

// releaseEpic undoes a claim after a validation failure.
func (r *Runner) releaseEpic(epicID string, agentBead *beads.Issue) {
	empty := ""
	if err := r.bd.Update(epicID, beads.UpdateOptions{Assignee: &empty}); err != nil {
		style.PrintWarning("releasing epic %s: %v", epicID, err)
	}
	if err := r.bd.ClearAgentHook(agentBead.ID); err != nil {
		style.PrintWarning("clearing hook: %v", err)
	}
}

// resolveBranches resolves and persists the epic's root and parent
// branches, creating the root branch when needed.
func (r *Runner) resolveBranches(epic *beads.Issue) (root, parent string, err error) {
	mut := ticket.NewMutator(r.bd)

	parent = ticket.GetMeta(epic.Description, constants.MetaWorkspaceParentBranch)
	if parent == "" {
		parent = r.cfg.DefaultBranch
	}
	if parent == "" {
		parent = r.g.DefaultBranch()
	}

	root = ticket.GetMeta(epic.Description, constants.MetaWorkspaceRootBranch)
	if root == "" {
		root = "epic/" + epic.ID
		if err := mut.SetMetaValue(epic.ID, constants.MetaWorkspaceRootBranch, root); err != nil {
			return "", "", fmt.Errorf("recording root branch: %w", err)
		}
	}
	if err := mut.SetMetaValue(epic.ID, constants.MetaWorkspaceParentBranch, parent); err != nil {
		return "", "", fmt.Errorf("recording parent branch: %w", err)
	}

	exists, err := r.g.EnsureLocalBranch(root)
	if err != nil {
		return "", "", fmt.Errorf("ensuring root branch %s: %w", root, err)
	}
	if !exists {
		start := parent
		if r.g.HasRemoteBranch(parent) {
			start = "origin/" + parent
		}
		if err := r.g.CreateBranchFrom(root, start); err != nil {
			return "", "", fmt.Errorf("creating root branch %s: %w", root, err)
		}
	}
	return root, parent, nil
}

// findLabelViolation returns the first descendant changeset carrying a
// disallowed label, or empty.
func (r *Runner) findLabelViolation(epicID string) string {
	leaves, err := r.bd.ListDescendantChangesets(epicID)
	if err != nil {
		return ""
	}
	for _, cs := range leaves {
		if beads.HasLabel(cs, constants.LabelSubtask) {
			return cs.ID
		}
	}
	return ""
}

// prepareWorktrees ensures the work branch, the epic worktree, and the
// changeset worktree exist, and records them in the epic's mapping.
func (r *Runner) prepareWorktrees(epic *beads.Issue, root, parent, csID string) (workBranch, workDir string, err error) {
	mut := ticket.NewMutator(r.bd)

	cs, err := r.bd.Show(csID)
	if err != nil {
		return "", "", fmt.Errorf("loading changeset %s: %w", csID, err)
	}

	workBranch = ticket.GetMeta(cs.Description, constants.MetaChangesetWorkBranch)
	if workBranch == "" {
		workBranch = "cs/" + csID
		if err := mut.SetMetaValue(csID, constants.MetaChangesetWorkBranch, workBranch); err != nil {
			return "", "", fmt.Errorf("recording work branch: %w", err)
		}
	}
	if ticket.GetMeta(cs.Description, constants.MetaChangesetRootBranch) == "" {
		if err := mut.SetMetaValue(csID, constants.MetaChangesetRootBranch, root); err != nil {
			style.PrintWarning("recording changeset root branch: %v", err)
		}
	}

	if exists, berr := r.g.EnsureLocalBranch(workBranch); berr == nil && !exists {
		if err := r.g.CreateBranchFrom(workBranch, root); err != nil {
			return "", "", fmt.Errorf("creating work branch %s: %w", workBranch, err)
		}
	}

	epicDir := workspace.EpicWorktree(r.projectRoot, epic.ID)
	if _, serr := os.Stat(epicDir); os.IsNotExist(serr) {
		if err := r.g.WorktreeAdd(epicDir, root, ""); err != nil {
			style.PrintWarning("adding epic worktree: %v", err)
		}
	}

	workDir = workspace.ChangesetWorktree(r.projectRoot, epic.ID, csID)
	if _, serr := os.Stat(workDir); os.IsNotExist(serr) {
		if err := r.g.WorktreeAdd(workDir, workBranch, ""); err != nil {
			return "", "", fmt.Errorf("adding changeset worktree: %w", err)
		}
	}

	_, err = worktree.Update(r.projectRoot, epic.ID, func(m *worktree.Mapping) error {
		m.WorktreePath = epicDir
		m.RootBranch = root
		m.Changesets[csID] = workBranch
		m.ChangesetWorktrees[csID] = workDir
		return nil
	})
	if err != nil {
		return "", "", fmt.Errorf("updating worktree mapping: %w", err)
	}
	return workBranch, workDir, nil
}
