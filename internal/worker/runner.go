// Package worker runs supervisor cycles: select an epic, prepare branches
// and worktrees, run the coding agent, and finalize the changeset.
package worker

import (
	"os"
	"strconv"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/events"
	"github.com/atelier-dev/atelier/internal/finalize"
	"github.com/atelier-dev/atelier/internal/gh"
	"github.com/atelier-dev/atelier/internal/git"
	"github.com/atelier-dev/atelier/internal/mail"
	"github.com/atelier-dev/atelier/internal/session"
	"github.com/atelier-dev/atelier/internal/startup"
	"github.com/atelier-dev/atelier/internal/workspace"
)

// Loop modes.
const (
	LoopOnce    = "once"
	LoopDefault = "default"
	LoopWatch   = "watch"
)

// Options configure a Runner.
type Options struct {
	EpicID    string // explicit epic, bypasses selection
	QueueOnly bool
	Reconcile bool // run a reconcile sweep before selection
	AgentType string
	AgentArgs []string
	Prompt    string // extra prompt text appended to the built prompt
	Loop      string
}

// CycleResult summarizes one worker cycle.
type CycleResult struct {
	Started         bool // an agent session actually ran
	ContinueRunning bool
	Reason          string
	EpicID          string
	ChangesetID     string
}

// Runner executes worker cycles against one project.
type Runner struct {
	projectRoot string
	cfg         *config.Project
	opts        Options

	identity session.Identity
	agentID  string

	bd     *beads.Beads
	g      *git.Git
	ghc    *gh.Client // nil without a repo slug
	router *mail.Router
	rec    *events.Recorder
	picker startup.Picker
}

// New wires a Runner with live adapters for a project root.
func New(projectRoot string, cfg *config.Project, opts Options, picker startup.Picker) *Runner {
	identity := session.NewWorkerIdentity(opts.AgentType)
	agentID := identity.String()

	var ghc *gh.Client
	if cfg.RepoSlug != "" {
		ghc = gh.NewClient(cfg.RepoSlug)
	}

	bd := beads.NewWithActor(projectRoot, workspace.BeadsDir(projectRoot), agentID)

	return &Runner{
		projectRoot: projectRoot,
		cfg:         cfg,
		opts:        opts,
		identity:    identity,
		agentID:     agentID,
		bd:          bd,
		g:           git.NewGitWithPath(cfg.GitPath, projectRoot),
		ghc:         ghc,
		router:      mail.NewRouter(bd, agentID),
		rec:         events.NewRecorder(projectRoot, agentID),
		picker:      picker,
	}
}

// AgentID returns the minted identity for this runner.
func (r *Runner) AgentID() string {
	return r.agentID
}

// prClient returns the PR adapter as an interface, nil when unconfigured.
// A typed nil inside the interface would defeat downstream nil checks.
func (r *Runner) prClient() finalize.PRClient {
	if r.ghc == nil {
		return nil
	}
	return r.ghc
}

func (r *Runner) feedbackClient() startup.Feedback {
	if r.ghc == nil {
		return nil
	}
	return r.ghc
}

// Loop runs cycles according to the configured loop mode.
func (r *Runner) Loop() error {
	for {
		res, err := r.RunCycle()
		if err != nil {
			return err
		}

		switch r.opts.Loop {
		case LoopOnce:
			return nil
		case LoopWatch:
			if res.Started && res.ContinueRunning {
				continue
			}
			time.Sleep(r.watchInterval())
		default:
			if res.Started && res.ContinueRunning {
				continue
			}
			return nil
		}
	}
}

// watchInterval resolves the idle sleep: ATELIER_WATCH_INTERVAL seconds,
// then the project config, then the built-in default.
func (r *Runner) watchInterval() time.Duration {
	if v := os.Getenv(constants.EnvWatchInterval); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
		if d, err := time.ParseDuration(v); err == nil && d > 0 {
			return d
		}
	}
	if r.cfg.WatchInterval.Duration > 0 {
		return r.cfg.WatchInterval.Duration
	}
	return constants.DefaultWatchInterval
}
