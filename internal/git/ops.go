package git

// DirtyEntriesIn returns porcelain status lines for a worktree path.
func (g *Git) DirtyEntriesIn(path string) ([]string, error) {
	return g.InDir(path).StatusPorcelain()
}

// Integrate runs IntegrateEpicRootToParent from dir when given, otherwise
// from this instance's working directory.
func (g *Git) Integrate(dir, root, parent, history, msg string) IntegrationResult {
	runner := g
	if dir != "" {
		runner = g.InDir(dir)
	}
	return runner.IntegrateEpicRootToParent(root, parent, history, msg)
}

// Cleanup removes worktrees and branches, keeping those in keep.
func (g *Git) Cleanup(worktrees, branches []string, keep map[string]bool) error {
	return g.CleanupEpicBranchesAndWorktrees(worktrees, branches, keep)
}
