// Package worktree manages the per-epic worktree mapping files.
//
// One JSON file per epic under the project data directory records the epic
// worktree path, its root branch, and per-changeset branches and worktree
// paths. Writes go through a flock-guarded read-modify-write so concurrent
// workers on one host never clobber each other.
package worktree

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"

	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/workspace"
)

// Mapping records branch and worktree assignments for one epic.
type Mapping struct {
	EpicID             string            `json:"epic_id"`
	WorktreePath       string            `json:"worktree_path"`
	RootBranch         string            `json:"root_branch"`
	Changesets         map[string]string `json:"changesets"`          // changeset id → branch
	ChangesetWorktrees map[string]string `json:"changeset_worktrees"` // changeset id → path
}

// Load reads the mapping for an epic. A missing file yields an empty
// mapping for the epic.
func Load(projectRoot, epicID string) (*Mapping, error) {
	path := workspace.MappingPath(projectRoot, epicID)
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &Mapping{
			EpicID:             epicID,
			Changesets:         make(map[string]string),
			ChangesetWorktrees: make(map[string]string),
		}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading mapping %s: %w", path, err)
	}

	var m Mapping
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parsing mapping %s: %w", path, err)
	}
	if m.Changesets == nil {
		m.Changesets = make(map[string]string)
	}
	if m.ChangesetWorktrees == nil {
		m.ChangesetWorktrees = make(map[string]string)
	}
	return &m, nil
}

// Update applies fn to the mapping under the epic's file lock and persists
// the result atomically.
func Update(projectRoot, epicID string, fn func(*Mapping) error) (*Mapping, error) {
	path := workspace.MappingPath(projectRoot, epicID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("creating mapping directory: %w", err)
	}

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), constants.MappingLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 100*time.Millisecond)
	if err != nil {
		return nil, fmt.Errorf("acquiring mapping lock: %w", err)
	}
	if !locked {
		return nil, fmt.Errorf("timeout waiting for mapping lock on %s", epicID)
	}
	defer lock.Unlock()

	m, err := Load(projectRoot, epicID)
	if err != nil {
		return nil, err
	}
	if err := fn(m); err != nil {
		return nil, err
	}

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encoding mapping: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, append(data, '\n'), 0644); err != nil {
		return nil, fmt.Errorf("writing mapping: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return nil, fmt.Errorf("replacing mapping: %w", err)
	}
	return m, nil
}

// Remove deletes the mapping file for an epic.
func Remove(projectRoot, epicID string) error {
	path := workspace.MappingPath(projectRoot, epicID)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing mapping %s: %w", path, err)
	}
	_ = os.Remove(path + ".lock")
	return nil
}

// Branches returns every branch the mapping knows about: the root branch
// plus all changeset branches.
func (m *Mapping) Branches() []string {
	var branches []string
	if m.RootBranch != "" {
		branches = append(branches, m.RootBranch)
	}
	for _, b := range m.Changesets {
		branches = append(branches, b)
	}
	return branches
}

// Worktrees returns every worktree path the mapping knows about.
func (m *Mapping) Worktrees() []string {
	var paths []string
	for _, p := range m.ChangesetWorktrees {
		paths = append(paths, p)
	}
	if m.WorktreePath != "" {
		paths = append(paths, m.WorktreePath)
	}
	return paths
}
