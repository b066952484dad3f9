// Package doctor runs health checks over an atelier project: required
// tools, configuration, the data directory, and the ticket store.
package doctor

import (
	"github.com/atelier-dev/atelier/internal/config"
)

// Status classifies a check outcome.
type Status string

const (
	StatusOK    Status = "ok"
	StatusWarn  Status = "warn"
	StatusError Status = "error"
)

// Result is the outcome of a single check.
type Result struct {
	Name    string
	Status  Status
	Message string
	Details []string
	FixHint string
}

// Context carries shared state into checks.
type Context struct {
	ProjectRoot string
	Config      *config.Project // nil when the config failed to load
}

// Check is one health probe.
type Check interface {
	Name() string
	Run(ctx *Context) *Result
}

// RunAll runs every check in order and reports whether none errored.
func RunAll(ctx *Context, checks []Check) ([]*Result, bool) {
	results := make([]*Result, 0, len(checks))
	healthy := true
	for _, c := range checks {
		res := c.Run(ctx)
		if res.Status == StatusError {
			healthy = false
		}
		results = append(results, res)
	}
	return results, healthy
}

// DefaultChecks is the standard probe set for `at doctor`.
func DefaultChecks() []Check {
	return []Check{
		&ToolCheck{Tool: "git", Required: true},
		&ToolCheck{Tool: "bd", Required: true},
		&ToolCheck{Tool: "gh"},
		&ConfigCheck{},
		&GitRepoCheck{},
		&DataDirCheck{},
	}
}
