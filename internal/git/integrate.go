package git

import (
	"fmt"
	"os"

	"github.com/atelier-dev/atelier/internal/config"
)

// IntegrationResult reports the outcome of an epic root→parent integration.
type IntegrationResult struct {
	OK            bool
	IntegratedSHA string
	Err           string
}

// DeterministicSquashMessage builds the squash subject from ticket
// identity: changeset id + title + epic id.
func DeterministicSquashMessage(changesetID, title, epicID string) string {
	if title == "" {
		return fmt.Sprintf("%s (epic %s)", changesetID, epicID)
	}
	return fmt.Sprintf("%s: %s (epic %s)", changesetID, title, epicID)
}

// IntegrateEpicRootToParent brings parent up to date and integrates root
// into it according to the history mode:
//
//	manual: fast-forward parent to root; error when non-ff.
//	rebase: rebase root onto parent, then fast-forward.
//	squash: single squash commit on parent with msg as the subject.
//
// The receiver should already be positioned in the appropriate cwd; prefer
// the epic worktree when it has root checked out.
func (g *Git) IntegrateEpicRootToParent(root, parent, history, msg string) IntegrationResult {
	if ok, err := g.EnsureLocalBranch(parent); err != nil {
		return IntegrationResult{Err: fmt.Sprintf("ensuring parent branch %s: %v", parent, err)}
	} else if !ok {
		return IntegrationResult{Err: fmt.Sprintf("parent branch %s not found locally or on origin", parent)}
	}
	if g.HasRemoteBranch(parent) {
		if err := g.SyncLocalBranchFromRemote(parent); err != nil {
			// Parent may be checked out here; try pull-style update instead.
			cur, cerr := g.CurrentBranch()
			if cerr != nil || cur != parent {
				return IntegrationResult{Err: fmt.Sprintf("syncing parent %s: %v", parent, err)}
			}
			if _, perr := g.run("pull", "--ff-only", "origin", parent); perr != nil {
				return IntegrationResult{Err: fmt.Sprintf("updating parent %s: %v", parent, perr)}
			}
		}
	}

	switch history {
	case config.HistoryManual:
		return g.fastForwardParent(root, parent)

	case config.HistoryRebase:
		if _, err := g.run("rebase", parent, root); err != nil {
			_, _ = g.run("rebase", "--abort")
			return IntegrationResult{Err: fmt.Sprintf("rebasing %s onto %s: %v", root, parent, err)}
		}
		return g.fastForwardParent(root, parent)

	case config.HistorySquash:
		if msg == "" {
			msg = fmt.Sprintf("integrate %s into %s", root, parent)
		}
		if err := g.Checkout(parent); err != nil {
			return IntegrationResult{Err: fmt.Sprintf("checking out %s: %v", parent, err)}
		}
		if _, err := g.run("merge", "--squash", root); err != nil {
			_, _ = g.run("merge", "--abort")
			return IntegrationResult{Err: fmt.Sprintf("squash-merging %s: %v", root, err)}
		}
		if _, err := g.run("commit", "-m", msg); err != nil {
			return IntegrationResult{Err: fmt.Sprintf("committing squash of %s: %v", root, err)}
		}
		sha, err := g.Rev("HEAD")
		if err != nil {
			return IntegrationResult{Err: fmt.Sprintf("resolving squash commit: %v", err)}
		}
		return IntegrationResult{OK: true, IntegratedSHA: sha}

	default:
		return IntegrationResult{Err: fmt.Sprintf("unknown history mode %q", history)}
	}
}

func (g *Git) fastForwardParent(root, parent string) IntegrationResult {
	ff, err := g.IsAncestor(parent, root)
	if err != nil {
		return IntegrationResult{Err: fmt.Sprintf("checking ancestry of %s and %s: %v", parent, root, err)}
	}
	if !ff {
		return IntegrationResult{Err: fmt.Sprintf("%s is not a fast-forward of %s", root, parent)}
	}

	rootSHA, err := g.Rev("refs/heads/" + root)
	if err != nil {
		return IntegrationResult{Err: fmt.Sprintf("resolving %s: %v", root, err)}
	}

	cur, err := g.CurrentBranch()
	if err == nil && cur == parent {
		if _, err := g.run("merge", "--ff-only", root); err != nil {
			return IntegrationResult{Err: fmt.Sprintf("fast-forwarding %s to %s: %v", parent, root, err)}
		}
	} else {
		if _, err := g.run("update-ref", "refs/heads/"+parent, rootSHA); err != nil {
			return IntegrationResult{Err: fmt.Sprintf("fast-forwarding %s to %s: %v", parent, root, err)}
		}
	}
	return IntegrationResult{OK: true, IntegratedSHA: rootSHA}
}

// CleanupEpicBranchesAndWorktrees removes the given worktrees and then
// deletes the listed local branches, keeping any branch present in keep.
// Missing worktrees and branches are skipped; the first hard failure is
// returned after attempting the rest.
func (g *Git) CleanupEpicBranchesAndWorktrees(worktrees []string, branches []string, keep map[string]bool) error {
	var firstErr error

	for _, wt := range worktrees {
		if wt == "" {
			continue
		}
		if _, err := os.Stat(wt); os.IsNotExist(err) {
			continue
		}
		if err := g.WorktreeRemove(wt, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("removing worktree %s: %w", wt, err)
		}
	}
	_ = g.WorktreePrune()

	for _, br := range branches {
		if br == "" || keep[br] {
			continue
		}
		if !g.BranchExists(br) {
			continue
		}
		if err := g.DeleteBranch(br, true); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("deleting branch %s: %w", br, err)
		}
	}

	return firstErr
}
