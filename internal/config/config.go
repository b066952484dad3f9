// Package config provides project configuration for the atelier supervisor.
//
// Configuration lives at <project>/atelier/project.toml and is loaded once
// per worker cycle. Missing files yield defaults so a bare checkout still
// runs in no-PR mode.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/atelier-dev/atelier/internal/constants"
)

// PR strategies for dependency-linked changesets.
const (
	StrategySequential       = "sequential"
	StrategyOnReady          = "on-ready"
	StrategyOnParentApproved = "on-parent-approved"
	StrategyParallel         = "parallel"
)

// Integration history modes for epic root→parent integration.
const (
	HistoryManual = "manual"
	HistoryRebase = "rebase"
	HistorySquash = "squash"
)

// PR modes for created pull requests.
const (
	PRModeReady = "ready"
	PRModeDraft = "draft"
)

// Selection policies for epic auto-selection.
const (
	SelectAuto   = "auto"
	SelectPrompt = "prompt"
)

// Project holds supervisor configuration for one project.
type Project struct {
	// RepoSlug is the GitHub owner/name for PR operations. Empty disables
	// PR creation and lookup that needs a repository.
	RepoSlug string `toml:"repo_slug,omitempty"`

	// GitPath is the git binary to invoke. Default "git".
	GitPath string `toml:"git_path,omitempty"`

	// BranchPR controls whether changeset branches get pull requests.
	BranchPR bool `toml:"branch_pr"`

	// BranchPRMode is "ready" or "draft" for created PRs.
	BranchPRMode string `toml:"branch_pr_mode,omitempty"`

	// PRStrategy gates child PR creation on parent PR state.
	PRStrategy string `toml:"pr_strategy,omitempty"`

	// History selects the epic integration mode: manual, rebase, squash.
	History string `toml:"history,omitempty"`

	// DefaultBranch overrides remote default-branch detection when set.
	DefaultBranch string `toml:"default_branch,omitempty"`

	// Selection is the epic selection policy: auto or prompt.
	Selection string `toml:"selection,omitempty"`

	// AssumeYes answers prompts with their first candidate.
	AssumeYes bool `toml:"assume_yes"`

	// WatchInterval is the sleep between idle watch cycles.
	WatchInterval Duration `toml:"watch_interval,omitempty"`

	// WorkerQueue names the message queue this worker drains, if any.
	WorkerQueue string `toml:"worker_queue,omitempty"`
}

// Duration is a wrapper for time.Duration that supports TOML marshaling.
type Duration struct {
	time.Duration
}

// UnmarshalText parses a duration string like "30s" or "5m".
func (d *Duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText renders the duration in time.Duration string form.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Default returns the default project configuration.
func Default() *Project {
	return &Project{
		GitPath:       "git",
		BranchPR:      false,
		BranchPRMode:  PRModeReady,
		PRStrategy:    StrategySequential,
		History:       HistorySquash,
		Selection:     SelectAuto,
		WatchInterval: Duration{constants.DefaultWatchInterval},
	}
}

// Path returns the config file path for a project root.
func Path(projectRoot string) string {
	return filepath.Join(projectRoot, constants.DirAtelier, constants.FileProjectTOML)
}

// Load reads project configuration from the project root.
// A missing file returns defaults; a malformed file is an error.
func Load(projectRoot string) (*Project, error) {
	cfg := Default()
	path := Path(projectRoot)

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", path, err)
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Save writes project configuration under the project root.
func Save(projectRoot string, cfg *Project) error {
	path := Path(projectRoot)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("creating %s: %w", path, err)
	}
	defer f.Close()

	if err := toml.NewEncoder(f).Encode(cfg); err != nil {
		return fmt.Errorf("encoding %s: %w", path, err)
	}
	return nil
}

func (c *Project) applyDefaults() {
	if c.GitPath == "" {
		c.GitPath = "git"
	}
	if c.BranchPRMode == "" {
		c.BranchPRMode = PRModeReady
	}
	if c.PRStrategy == "" {
		c.PRStrategy = StrategySequential
	}
	if c.History == "" {
		c.History = HistorySquash
	}
	if c.Selection == "" {
		c.Selection = SelectAuto
	}
	if c.WatchInterval.Duration <= 0 {
		c.WatchInterval = Duration{constants.DefaultWatchInterval}
	}
}

func (c *Project) validate() error {
	switch c.PRStrategy {
	case StrategySequential, StrategyOnReady, StrategyOnParentApproved, StrategyParallel:
	default:
		return fmt.Errorf("invalid pr_strategy %q", c.PRStrategy)
	}
	switch c.History {
	case HistoryManual, HistoryRebase, HistorySquash:
	default:
		return fmt.Errorf("invalid history %q", c.History)
	}
	switch c.BranchPRMode {
	case PRModeReady, PRModeDraft:
	default:
		return fmt.Errorf("invalid branch_pr_mode %q", c.BranchPRMode)
	}
	switch c.Selection {
	case SelectAuto, SelectPrompt:
	default:
		return fmt.Errorf("invalid selection %q", c.Selection)
	}
	return nil
}
