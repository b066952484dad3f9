package doctor

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/util"
	"github.com/atelier-dev/atelier/internal/workspace"
)

// ToolCheck verifies an external CLI is on PATH. Optional tools warn
// instead of erroring, except gh when the PR flow is enabled.
type ToolCheck struct {
	Tool     string
	Required bool
}

func (c *ToolCheck) Name() string { return "tool-" + c.Tool }

func (c *ToolCheck) Run(ctx *Context) *Result {
	out, err := util.Output("", c.Tool, "--version")
	if err == nil {
		return &Result{Name: c.Name(), Status: StatusOK, Message: firstLine(out)}
	}

	required := c.Required
	if c.Tool == "gh" && ctx.Config != nil && ctx.Config.BranchPR {
		required = true
	}
	status := StatusWarn
	if required {
		status = StatusError
	}
	return &Result{
		Name:    c.Name(),
		Status:  status,
		Message: fmt.Sprintf("%s not available", c.Tool),
		FixHint: fmt.Sprintf("install %s and make sure it is on PATH", c.Tool),
	}
}

// ConfigCheck validates the project configuration.
type ConfigCheck struct{}

func (c *ConfigCheck) Name() string { return "project-config" }

func (c *ConfigCheck) Run(ctx *Context) *Result {
	if ctx.Config == nil {
		return &Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "project config failed to load",
			FixHint: "fix atelier/project.toml or re-run at init",
		}
	}
	if ctx.Config.BranchPR && ctx.Config.RepoSlug == "" {
		return &Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "branch_pr enabled without repo_slug",
			FixHint: "set repo_slug = \"owner/repo\" in atelier/project.toml",
		}
	}
	return &Result{Name: c.Name(), Status: StatusOK, Message: "config valid"}
}

// GitRepoCheck verifies the project root is inside a git repository.
type GitRepoCheck struct{}

func (c *GitRepoCheck) Name() string { return "git-repo" }

func (c *GitRepoCheck) Run(ctx *Context) *Result {
	gitPath := "git"
	if ctx.Config != nil && ctx.Config.GitPath != "" {
		gitPath = ctx.Config.GitPath
	}
	if _, err := util.Output(ctx.ProjectRoot, gitPath, "rev-parse", "--git-dir"); err != nil {
		return &Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: "project root is not a git repository",
			Details: []string{err.Error()},
		}
	}
	return &Result{Name: c.Name(), Status: StatusOK, Message: "git repository present"}
}

// DataDirCheck verifies the atelier data directory is writable.
type DataDirCheck struct{}

func (c *DataDirCheck) Name() string { return "data-dir" }

func (c *DataDirCheck) Run(ctx *Context) *Result {
	dir := workspace.DataDir(ctx.ProjectRoot)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return &Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("cannot create %s", dir),
			Details: []string{err.Error()},
		}
	}
	probe := filepath.Join(dir, ".doctor-probe")
	if err := os.WriteFile(probe, []byte("ok\n"), 0644); err != nil {
		return &Result{
			Name:    c.Name(),
			Status:  StatusError,
			Message: fmt.Sprintf("%s is not writable", dir),
			Details: []string{err.Error()},
		}
	}
	os.Remove(probe)
	return &Result{Name: c.Name(), Status: StatusOK, Message: "data directory writable"}
}

// EpicStore is the slice of the ticket store the stale-assignee check
// reads. *beads.Beads satisfies it.
type EpicStore interface {
	ListEpics(status string) ([]*beads.Issue, error)
}

// StaleAssigneeCheck reports open epics whose assignee's owning process
// is dead. The worker reclaims these within its own family; other
// families need a manual unassign.
type StaleAssigneeCheck struct {
	Store EpicStore
}

func (c *StaleAssigneeCheck) Name() string { return "stale-assignees" }

func (c *StaleAssigneeCheck) Run(ctx *Context) *Result {
	if c.Store == nil {
		return &Result{Name: c.Name(), Status: StatusWarn, Message: "ticket store unavailable"}
	}
	epics, err := c.Store.ListEpics("open")
	if err != nil {
		return &Result{
			Name:    c.Name(),
			Status:  StatusWarn,
			Message: "could not list epics",
			Details: []string{err.Error()},
		}
	}

	var details []string
	for _, e := range epics {
		if e.Assignee == "" {
			continue
		}
		if session.IsStale(e.Assignee) {
			details = append(details, fmt.Sprintf("%s assigned to dead agent %s", e.ID, e.Assignee))
		}
	}
	if len(details) > 0 {
		return &Result{
			Name:    c.Name(),
			Status:  StatusWarn,
			Message: fmt.Sprintf("%d epic(s) held by dead agents", len(details)),
			Details: details,
			FixHint: "a same-family worker reclaims these on its next run",
		}
	}
	return &Result{Name: c.Name(), Status: StatusOK, Message: "no stale assignees"}
}

func firstLine(s string) string {
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			return s[:i]
		}
	}
	return s
}
