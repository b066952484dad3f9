// Package workspace locates the atelier project root and its data paths.
//
// A project root is any directory containing atelier/project.toml. Discovery
// walks up from the starting directory until the filesystem root.
package workspace

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/atelier-dev/atelier/internal/constants"
)

// FindRoot walks up from startDir looking for the project marker.
// Returns empty string when no project root is found.
func FindRoot(startDir string) string {
	dir := startDir
	for {
		marker := filepath.Join(dir, constants.DirAtelier, constants.FileProjectTOML)
		if _, err := os.Stat(marker); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "" // reached filesystem root
		}
		dir = parent
	}
}

// FindFromCwd locates the project root from the current working directory.
func FindFromCwd() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("getting working directory: %w", err)
	}
	root := FindRoot(cwd)
	if root == "" {
		return "", fmt.Errorf("not inside an atelier project (no %s/%s found)",
			constants.DirAtelier, constants.FileProjectTOML)
	}
	return root, nil
}

// DataDir returns the project data directory.
func DataDir(projectRoot string) string {
	return filepath.Join(projectRoot, constants.DirAtelier)
}

// WorktreesDir returns the directory holding epic and changeset worktrees.
func WorktreesDir(projectRoot string) string {
	return filepath.Join(DataDir(projectRoot), constants.DirWorktrees)
}

// AgentsDir returns the directory holding materialized agent homes.
func AgentsDir(projectRoot string) string {
	return filepath.Join(DataDir(projectRoot), constants.DirAgents)
}

// BeadsDir returns the beads database directory for the project.
func BeadsDir(projectRoot string) string {
	return filepath.Join(projectRoot, constants.DirBeads)
}

// EpicWorktree returns the worktree path for an epic's root branch.
func EpicWorktree(projectRoot, epicID string) string {
	return filepath.Join(WorktreesDir(projectRoot), epicID)
}

// ChangesetWorktree returns the worktree path for a changeset branch.
func ChangesetWorktree(projectRoot, epicID, changesetID string) string {
	return filepath.Join(WorktreesDir(projectRoot), epicID, "cs", changesetID)
}

// MappingPath returns the worktree mapping file path for an epic.
func MappingPath(projectRoot, epicID string) string {
	return filepath.Join(DataDir(projectRoot), "mappings", epicID+".json")
}
