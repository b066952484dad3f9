// Package beads provides a wrapper for the bd (beads) ticket-store CLI.
//
// All persisted supervisor state lives in beads issues. This package is the
// store boundary: it shells out to bd, parses JSON payloads into Issue
// records, and exposes only typed operations. Decision logic lives above it
// and operates on validated records only.
package beads

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/atelier-dev/atelier/internal/constants"
)

// Common errors.
var (
	ErrNotInstalled = errors.New("bd not installed: see https://github.com/steveyegge/beads")
	ErrNotFound     = errors.New("issue not found")
)

// Issue represents a beads issue as returned by bd JSON output.
type Issue struct {
	ID          string   `json:"id"`
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Status      string   `json:"status"`
	Priority    int      `json:"priority"`
	Type        string   `json:"issue_type"`
	CreatedAt   string   `json:"created_at"`
	UpdatedAt   string   `json:"updated_at"`
	ClosedAt    string   `json:"closed_at,omitempty"`
	Parent      string   `json:"parent,omitempty"`
	Assignee    string   `json:"assignee,omitempty"`
	Children    []string `json:"children,omitempty"`
	Labels      []string `json:"labels,omitempty"`

	// Agent bead slot (agent beads only)
	HookBead string `json:"hook_bead,omitempty"`

	// Detailed dependency info from show output
	Dependencies []IssueDep `json:"dependencies,omitempty"`
	Dependents   []IssueDep `json:"dependents,omitempty"`
}

// IssueDep represents a dependency or dependent issue with its relation.
type IssueDep struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	Status         string `json:"status"`
	Type           string `json:"issue_type"`
	DependencyType string `json:"dependency_type,omitempty"`
}

// HasLabel checks if an issue has a specific label.
func HasLabel(issue *Issue, label string) bool {
	if issue == nil {
		return false
	}
	for _, l := range issue.Labels {
		if l == label {
			return true
		}
	}
	return false
}

// IsAgentBead checks if an issue is an agent bead.
func IsAgentBead(issue *Issue) bool {
	if issue == nil {
		return false
	}
	if issue.Type == "agent" {
		return true
	}
	return HasLabel(issue, constants.LabelAgent)
}

// DependencyIDs returns the ids of ordinary dependencies, skipping
// parent-child relation markers and duplicates.
func (i *Issue) DependencyIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, dep := range i.Dependencies {
		if dep.DependencyType == "parent-child" {
			continue
		}
		if dep.ID == "" || seen[dep.ID] {
			continue
		}
		seen[dep.ID] = true
		ids = append(ids, dep.ID)
	}
	return ids
}

// ListOptions specifies filters for listing issues.
type ListOptions struct {
	Status     string // "open", "closed", "all"
	Label      string // label filter (e.g., "at:epic")
	Parent     string // filter by parent ID
	Assignee   string // filter by assignee
	NoAssignee bool   // filter for issues with no assignee
	Limit      int    // max results (0 = unlimited, overrides bd default of 50)
}

// CreateOptions specifies options for creating an issue.
type CreateOptions struct {
	Title       string
	Type        string // "task", "bug", "feature", "epic", "message", "agent"
	Priority    int    // 0-4
	Description string
	Parent      string
	Labels      []string
	Assignee    string
	Actor       string // who is creating this issue (populates created_by)
}

// UpdateOptions specifies options for updating an issue.
// Nil pointer fields are left untouched.
type UpdateOptions struct {
	Title        *string
	Status       *string
	Description  *string
	Assignee     *string
	AddLabels    []string
	RemoveLabels []string
}

// Beads wraps bd CLI operations for a beads directory.
type Beads struct {
	workDir  string
	beadsDir string // explicit BEADS_DIR; resolved from workDir when empty
	actor    string // BD_ACTOR for mutations
}

// New creates a new Beads wrapper rooted at the project directory.
func New(workDir string) *Beads {
	return &Beads{workDir: workDir}
}

// NewWithActor creates a Beads wrapper that stamps mutations with an actor.
func NewWithActor(workDir, beadsDir, actor string) *Beads {
	return &Beads{workDir: workDir, beadsDir: beadsDir, actor: actor}
}

// Prime refreshes the local store from its backing storage.
func (b *Beads) Prime() error {
	_, err := b.run("prime", "--quiet")
	return err
}

// run executes a bd command and returns stdout.
func (b *Beads) run(args ...string) ([]byte, error) {
	// --allow-stale prevents failures when the db is out of sync with JSONL.
	fullArgs := append([]string{"--allow-stale"}, args...)

	cmd := exec.Command("bd", fullArgs...) //nolint:gosec // G204: bd is a trusted internal tool
	cmd.Dir = b.workDir

	// Strip any inherited BEADS_DIR before setting ours: getenv() returns the
	// first occurrence, so an inherited value would shadow the explicit one.
	var env []string
	for _, e := range os.Environ() {
		if !strings.HasPrefix(e, "BEADS_DIR=") {
			env = append(env, e)
		}
	}
	if b.beadsDir != "" {
		env = append(env, "BEADS_DIR="+b.beadsDir)
	}
	if b.actor != "" {
		env = append(env, constants.EnvBDActor+"="+b.actor)
	}
	cmd.Env = env

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, b.wrapError(err, stderr.String(), args)
	}

	// bd may exit 0 with an error on stderr and empty stdout when an issue
	// is missing; treat that as an error to avoid JSON parse failures.
	if stdout.Len() == 0 && stderr.Len() > 0 {
		return nil, b.wrapError(fmt.Errorf("command produced no output"), stderr.String(), args)
	}

	return stdout.Bytes(), nil
}

// wrapError wraps bd errors with context. Only two classes are detected:
// bd missing entirely, and issue-not-found lookups. Everything else is
// transported raw.
func (b *Beads) wrapError(err error, stderr string, args []string) error {
	stderr = strings.TrimSpace(stderr)

	if execErr, ok := err.(*exec.Error); ok && errors.Is(execErr.Err, exec.ErrNotFound) {
		return ErrNotInstalled
	}

	if strings.Contains(stderr, "not found") || strings.Contains(stderr, "Issue not found") ||
		strings.Contains(stderr, "no issue found") {
		return ErrNotFound
	}

	if stderr != "" {
		return fmt.Errorf("bd %s: %s", strings.Join(args, " "), stderr)
	}
	return fmt.Errorf("bd %s: %w", strings.Join(args, " "), err)
}

// List returns issues matching the given options.
func (b *Beads) List(opts ListOptions) ([]*Issue, error) {
	args := []string{"list", "--json"}

	if opts.Status != "" {
		args = append(args, "--status="+opts.Status)
	}
	if opts.Label != "" {
		args = append(args, "--label="+opts.Label)
	}
	if opts.Parent != "" {
		args = append(args, "--parent="+opts.Parent)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee="+opts.Assignee)
	}
	if opts.NoAssignee {
		args = append(args, "--no-assignee")
	}
	if opts.Limit > 0 {
		args = append(args, fmt.Sprintf("--limit=%d", opts.Limit))
	} else {
		// Override bd's default limit of 50 to avoid silent truncation.
		args = append(args, "--limit=0")
	}

	out, err := b.run(args...)
	if err != nil {
		return nil, err
	}

	var issues []*Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parsing bd list output: %w", err)
	}
	return issues, nil
}

// Ready returns issues whose dependencies are satisfied, optionally scoped
// to a parent and label.
func (b *Beads) Ready(parent, label string) ([]*Issue, error) {
	args := []string{"ready", "--json", "--limit=0"}
	if parent != "" {
		args = append(args, "--parent="+parent)
	}
	if label != "" {
		args = append(args, "--label="+label)
	}

	out, err := b.run(args...)
	if err != nil {
		return nil, err
	}

	var issues []*Issue
	if err := json.Unmarshal(out, &issues); err != nil {
		return nil, fmt.Errorf("parsing bd ready output: %w", err)
	}
	return issues, nil
}

// Show returns a single issue with full dependency detail.
func (b *Beads) Show(id string) (*Issue, error) {
	out, err := b.run("show", id, "--json")
	if err != nil {
		return nil, err
	}

	// bd show returns a single-element array in some versions; handle both.
	trimmed := bytes.TrimSpace(out)
	if len(trimmed) > 0 && trimmed[0] == '[' {
		var issues []*Issue
		if err := json.Unmarshal(trimmed, &issues); err != nil {
			return nil, fmt.Errorf("parsing bd show output: %w", err)
		}
		if len(issues) == 0 {
			return nil, ErrNotFound
		}
		return issues[0], nil
	}

	var issue Issue
	if err := json.Unmarshal(trimmed, &issue); err != nil {
		return nil, fmt.Errorf("parsing bd show output: %w", err)
	}
	if issue.ID == "" {
		return nil, ErrNotFound
	}
	return &issue, nil
}

// Update applies the given changes to an issue.
func (b *Beads) Update(id string, opts UpdateOptions) error {
	args := []string{"update", id}

	if opts.Title != nil {
		args = append(args, "--title="+*opts.Title)
	}
	if opts.Status != nil {
		args = append(args, "--status="+*opts.Status)
	}
	if opts.Description != nil {
		args = append(args, "--description="+*opts.Description)
	}
	if opts.Assignee != nil {
		if *opts.Assignee == "" {
			args = append(args, "--no-assignee")
		} else {
			args = append(args, "--assignee="+*opts.Assignee)
		}
	}
	for _, l := range opts.AddLabels {
		args = append(args, "--add-label="+l)
	}
	for _, l := range opts.RemoveLabels {
		args = append(args, "--remove-label="+l)
	}

	if len(args) == 2 {
		return nil // nothing to do
	}

	_, err := b.run(args...)
	return err
}

// Create creates a new issue and returns its id.
func (b *Beads) Create(opts CreateOptions) (string, error) {
	args := []string{"create", "--json", "--title=" + opts.Title}
	if opts.Type != "" {
		args = append(args, "--type="+opts.Type)
	}
	if opts.Priority > 0 {
		args = append(args, fmt.Sprintf("--priority=%d", opts.Priority))
	}
	if opts.Description != "" {
		args = append(args, "--description="+opts.Description)
	}
	if opts.Parent != "" {
		args = append(args, "--parent="+opts.Parent)
	}
	for _, l := range opts.Labels {
		args = append(args, "--label="+l)
	}
	if opts.Assignee != "" {
		args = append(args, "--assignee="+opts.Assignee)
	}

	out, err := b.run(args...)
	if err != nil {
		return "", err
	}

	var created struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(bytes.TrimSpace(out), &created); err != nil {
		return "", fmt.Errorf("parsing bd create output: %w", err)
	}
	if created.ID == "" {
		return "", fmt.Errorf("bd create returned no id")
	}
	return created.ID, nil
}

// AddDependency records "id depends on dep".
func (b *Beads) AddDependency(id, dep string) error {
	_, err := b.run("dep", "add", id, dep)
	return err
}
