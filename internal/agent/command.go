// Package agent builds and runs coding-agent processes.
//
// The supervisor treats agent CLIs as opaque: it builds an argv per agent
// type, materializes a home directory, sets the atelier/beads environment,
// and observes only the exit code.
package agent

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/atelier-dev/atelier/internal/constants"
)

// Known agent types.
const (
	TypeCodex   = "codex"
	TypeClaude  = "claude"
	TypeGemini  = "gemini"
	TypeCopilot = "copilot"
	TypeAider   = "aider"
)

// Command is a fully-resolved agent invocation.
type Command struct {
	Argv []string
	Dir  string   // agent home; the process cwd
	Env  []string // extra environment entries, KEY=VALUE
}

// Context carries the per-run identifiers handed to the agent.
type Context struct {
	AgentID     string
	EpicID      string
	ChangesetID string
	BeadsDir    string
	BeadsDB     string
	WorkDir     string // changeset worktree the agent should edit
	ExtraEnv    []string
}

// BuildCommand resolves the argv for an agent type, applying the prompt as
// the trailing argument. Codex invocations are rewritten to run
// non-interactively.
func BuildCommand(agentType string, baseArgs []string, prompt string, ctx Context) (*Command, error) {
	var argv []string

	switch agentType {
	case TypeCodex:
		argv = rewriteCodexArgs(baseArgs)
	case TypeClaude, TypeGemini, TypeCopilot, TypeAider:
		argv = append([]string{agentType}, baseArgs...)
	default:
		return nil, fmt.Errorf("unknown agent type %q", agentType)
	}

	if prompt != "" {
		argv = append(argv, prompt)
	}

	return &Command{
		Argv: argv,
		Dir:  ctx.WorkDir,
		Env:  buildEnv(ctx),
	}, nil
}

// rewriteCodexArgs forces codex into non-interactive exec mode and strips
// any --cd flags; the process cwd is authoritative.
func rewriteCodexArgs(baseArgs []string) []string {
	argv := []string{TypeCodex, "exec", "--skip-git-repo-check"}

	skip := false
	for _, arg := range baseArgs {
		if skip {
			skip = false
			continue
		}
		switch {
		case arg == "exec":
			continue // already injected
		case arg == "--skip-git-repo-check":
			continue
		case arg == "--cd":
			skip = true // drop the flag and its value
			continue
		case strings.HasPrefix(arg, "--cd="):
			continue
		}
		argv = append(argv, arg)
	}
	return argv
}

func buildEnv(ctx Context) []string {
	env := []string{
		constants.EnvAgentID + "=" + ctx.AgentID,
		constants.EnvBDActor + "=" + ctx.AgentID,
		constants.EnvBeadsAgent + "=" + ctx.AgentID,
		constants.EnvEpicID + "=" + ctx.EpicID,
		constants.EnvChangesetID + "=" + ctx.ChangesetID,
	}
	if ctx.BeadsDir != "" {
		env = append(env, constants.EnvBeadsDir+"="+ctx.BeadsDir)
	}
	if ctx.BeadsDB != "" {
		env = append(env, constants.EnvBeadsDB+"="+ctx.BeadsDB)
	}
	return append(env, ctx.ExtraEnv...)
}

// Run executes the agent process, streaming output to the supervisor's
// stdio, and returns the exit code.
func Run(cmd *Command) (int, error) {
	if len(cmd.Argv) == 0 {
		return -1, fmt.Errorf("empty agent argv")
	}

	c := exec.Command(cmd.Argv[0], cmd.Argv[1:]...) //nolint:gosec // G204: argv built internally
	c.Dir = cmd.Dir
	c.Stdout = os.Stdout
	c.Stderr = os.Stderr
	c.Env = append(os.Environ(), cmd.Env...)

	err := c.Run()
	if err == nil {
		return 0, nil
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		return exitErr.ExitCode(), nil
	}
	return -1, err
}

// MaterializeHome creates the agent home directory for a run and returns
// its path. The directory persists across cycles for the same agent id so
// agent-local caches survive.
func MaterializeHome(agentsDir, agentID string) (string, error) {
	// Agent ids contain slashes; flatten for the filesystem.
	name := strings.ReplaceAll(agentID, "/", "-")
	home := filepath.Join(agentsDir, name)
	if err := os.MkdirAll(home, 0755); err != nil {
		return "", fmt.Errorf("creating agent home: %w", err)
	}
	return home, nil
}
