// Package git provides a wrapper for git operations via subprocess.
package git

import (
	"bytes"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// GitError contains raw output from a git command for caller observation.
// The error interface methods provide human-readable messages; callers that
// need to branch on outcomes should use Stdout/Stderr directly.
type GitError struct {
	Command string // The git subcommand that failed (e.g., "merge", "push")
	Args    []string
	Stdout  string // Raw stdout output
	Stderr  string // Raw stderr output
	Err     error  // Underlying error (e.g., exit code)
}

func (e *GitError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("git %s: %s", e.Command, e.Stderr)
	}
	return fmt.Sprintf("git %s: %v", e.Command, e.Err)
}

func (e *GitError) Unwrap() error {
	return e.Err
}

// Git wraps git operations for a working directory.
type Git struct {
	gitPath string
	workDir string
}

// NewGit creates a new Git wrapper for the given directory.
func NewGit(workDir string) *Git {
	return &Git{gitPath: "git", workDir: workDir}
}

// NewGitWithPath creates a Git wrapper using an explicit git binary.
func NewGitWithPath(gitPath, workDir string) *Git {
	if gitPath == "" {
		gitPath = "git"
	}
	return &Git{gitPath: gitPath, workDir: workDir}
}

// WorkDir returns the working directory for this Git instance.
func (g *Git) WorkDir() string {
	return g.workDir
}

// InDir returns a Git wrapper sharing this instance's binary but running in
// a different directory (typically a worktree).
func (g *Git) InDir(workDir string) *Git {
	return &Git{gitPath: g.gitPath, workDir: workDir}
}

// IsRepo returns true if the workDir is a git repository.
func (g *Git) IsRepo() bool {
	_, err := g.run("rev-parse", "--git-dir")
	return err == nil
}

// run executes a git command and returns stdout.
func (g *Git) run(args ...string) (string, error) {
	cmd := exec.Command(g.gitPath, args...) //nolint:gosec // G204: args built internally
	if g.workDir != "" {
		cmd.Dir = g.workDir
	}

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return "", g.wrapError(err, stdout.String(), stderr.String(), args)
	}

	return strings.TrimSpace(stdout.String()), nil
}

// wrapError wraps git errors with the raw output for observation.
func (g *Git) wrapError(err error, stdout, stderr string, args []string) error {
	command := ""
	for _, arg := range args {
		if !strings.HasPrefix(arg, "-") {
			command = arg
			break
		}
	}
	if command == "" && len(args) > 0 {
		command = args[0]
	}

	return &GitError{
		Command: command,
		Args:    args,
		Stdout:  strings.TrimSpace(stdout),
		Stderr:  strings.TrimSpace(stderr),
		Err:     err,
	}
}

// CurrentBranch returns the current branch name.
func (g *Git) CurrentBranch() (string, error) {
	return g.run("rev-parse", "--abbrev-ref", "HEAD")
}

// RefExists reports whether a ref resolves in this repository.
func (g *Git) RefExists(ref string) bool {
	_, err := g.run("rev-parse", "--verify", "--quiet", ref+"^{commit}")
	return err == nil
}

// Rev resolves a ref to its commit SHA.
func (g *Git) Rev(ref string) (string, error) {
	return g.run("rev-parse", ref)
}

// IsClean reports whether the working tree has no uncommitted changes.
func (g *Git) IsClean() (bool, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return false, err
	}
	return out == "", nil
}

// StatusPorcelain returns the porcelain status lines, one per dirty entry.
func (g *Git) StatusPorcelain() ([]string, error) {
	out, err := g.run("status", "--porcelain")
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// BranchExists reports whether a local branch exists.
func (g *Git) BranchExists(name string) bool {
	_, err := g.run("rev-parse", "--verify", "--quiet", "refs/heads/"+name)
	return err == nil
}

// HasRemoteBranch reports whether origin has the branch, consulting the
// local remote-tracking ref first and falling back to ls-remote.
func (g *Git) HasRemoteBranch(branch string) bool {
	if _, err := g.run("rev-parse", "--verify", "--quiet", "refs/remotes/origin/"+branch); err == nil {
		return true
	}
	out, err := g.run("ls-remote", "--heads", "origin", branch)
	return err == nil && out != ""
}

// RemoteBranchSHA returns the SHA of origin/<branch>, fetching first so the
// answer reflects the live remote rather than a stale tracking ref.
func (g *Git) RemoteBranchSHA(branch string) (string, error) {
	if err := g.FetchBranch("origin", branch); err != nil {
		return "", err
	}
	return g.run("rev-parse", "refs/remotes/origin/"+branch)
}

// DefaultBranch returns the default branch from the remote (origin).
// Checks origin/HEAD first, then falls back to master/main existence.
func (g *Git) DefaultBranch() string {
	out, err := g.run("symbolic-ref", "refs/remotes/origin/HEAD")
	if err == nil && out != "" {
		parts := strings.Split(out, "/")
		return parts[len(parts)-1]
	}

	if _, err := g.run("rev-parse", "--verify", "origin/master"); err == nil {
		return "master"
	}
	if _, err := g.run("rev-parse", "--verify", "origin/main"); err == nil {
		return "main"
	}
	return "main"
}

// Fetch fetches all refs from the remote.
func (g *Git) Fetch(remote string) error {
	_, err := g.run("fetch", remote)
	return err
}

// FetchBranch fetches a single branch from the remote.
func (g *Git) FetchBranch(remote, branch string) error {
	_, err := g.run("fetch", remote, branch)
	return err
}

// Push pushes a branch to the remote, optionally setting upstream.
func (g *Git) Push(remote, branch string, setUpstream bool) error {
	args := []string{"push"}
	if setUpstream {
		args = append(args, "-u")
	}
	args = append(args, remote, branch)
	_, err := g.run(args...)
	return err
}

// Checkout checks out a ref in the working tree.
func (g *Git) Checkout(ref string) error {
	_, err := g.run("checkout", ref)
	return err
}

// CommitsAhead returns the number of commits on branch that are not on base.
func (g *Git) CommitsAhead(base, branch string) (int, error) {
	out, err := g.run("rev-list", "--count", base+".."+branch)
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(out)
	if err != nil {
		return 0, fmt.Errorf("parsing rev-list count %q: %w", out, err)
	}
	return n, nil
}

// CommitMessages returns the subject lines of commits on branch not on base,
// oldest first.
func (g *Git) CommitMessages(base, branch string) ([]string, error) {
	out, err := g.run("log", "--reverse", "--format=%s", base+".."+branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// DiffNameStatus returns "status\tpath" lines for base..branch.
func (g *Git) DiffNameStatus(base, branch string) ([]string, error) {
	out, err := g.run("diff", "--name-status", base+"..."+branch)
	if err != nil {
		return nil, err
	}
	if out == "" {
		return nil, nil
	}
	return strings.Split(out, "\n"), nil
}

// IsAncestor reports whether ancestor is an ancestor of descendant.
func (g *Git) IsAncestor(ancestor, descendant string) (bool, error) {
	_, err := g.run("merge-base", "--is-ancestor", ancestor, descendant)
	if err == nil {
		return true, nil
	}
	var gitErr *GitError
	if errors.As(err, &gitErr) && gitErr.Stderr == "" {
		// exit code 1 with no stderr means "not an ancestor"
		return false, nil
	}
	return false, err
}

// EnsureLocalBranch makes sure a local branch exists. If only the remote
// branch exists, a tracking branch is created. Returns false when the branch
// exists nowhere.
func (g *Git) EnsureLocalBranch(name string) (bool, error) {
	if g.BranchExists(name) {
		return true, nil
	}
	if !g.HasRemoteBranch(name) {
		return false, nil
	}
	if err := g.FetchBranch("origin", name); err != nil {
		return false, err
	}
	if _, err := g.run("branch", "--track", name, "origin/"+name); err != nil {
		return false, err
	}
	return true, nil
}

// SyncLocalBranchFromRemote fast-forwards a local ref that is not checked
// out anywhere to origin/<name>. The update is refused when it would not be
// a fast-forward.
func (g *Git) SyncLocalBranchFromRemote(name string) error {
	if err := g.FetchBranch("origin", name); err != nil {
		return err
	}
	local, err := g.Rev("refs/heads/" + name)
	if err != nil {
		return err
	}
	remote, err := g.Rev("refs/remotes/origin/" + name)
	if err != nil {
		return err
	}
	if local == remote {
		return nil
	}
	ff, err := g.IsAncestor(local, remote)
	if err != nil {
		return err
	}
	if !ff {
		return fmt.Errorf("branch %s has diverged from origin/%s", name, name)
	}
	_, err = g.run("update-ref", "refs/heads/"+name, remote)
	return err
}

// CreateBranchFrom creates a branch at the given start point.
func (g *Git) CreateBranchFrom(name, ref string) error {
	_, err := g.run("branch", name, ref)
	return err
}

// DeleteBranch deletes a local branch.
func (g *Git) DeleteBranch(name string, force bool) error {
	flag := "-d"
	if force {
		flag = "-D"
	}
	_, err := g.run("branch", flag, name)
	return err
}

// WorktreeAdd creates a worktree at path with the named branch checked out.
// The branch is created from startPoint when it does not exist yet.
func (g *Git) WorktreeAdd(path, branch, startPoint string) error {
	if g.BranchExists(branch) {
		_, err := g.run("worktree", "add", path, branch)
		return err
	}
	_, err := g.run("worktree", "add", "-b", branch, path, startPoint)
	return err
}

// WorktreeRemove removes a worktree.
func (g *Git) WorktreeRemove(path string, force bool) error {
	args := []string{"worktree", "remove"}
	if force {
		args = append(args, "--force")
	}
	args = append(args, path)
	_, err := g.run(args...)
	return err
}

// WorktreePrune cleans up stale worktree administrative data.
func (g *Git) WorktreePrune() error {
	_, err := g.run("worktree", "prune")
	return err
}

// WorktreeForBranch returns the worktree path that has the branch checked
// out, or empty when none does.
func (g *Git) WorktreeForBranch(branch string) (string, error) {
	out, err := g.run("worktree", "list", "--porcelain")
	if err != nil {
		return "", err
	}
	var path string
	for _, line := range strings.Split(out, "\n") {
		switch {
		case strings.HasPrefix(line, "worktree "):
			path = strings.TrimPrefix(line, "worktree ")
		case line == "branch refs/heads/"+branch:
			return path, nil
		}
	}
	return "", nil
}
