// Package constants defines shared constant values used throughout atelier.
// Centralizing these magic strings improves maintainability and consistency.
package constants

import "time"

// Timing constants for external process calls.
const (
	// GhCommandTimeout bounds a single gh invocation.
	GhCommandTimeout = 20 * time.Second

	// GhRetryAttempts is the retry budget for transient gh failures.
	GhRetryAttempts = 3

	// GhRetryBackoff is the linear backoff unit between gh retries.
	GhRetryBackoff = 2 * time.Second

	// DefaultWatchInterval is the sleep between watch-mode cycles when no
	// work is available. Overridable via ATELIER_WATCH_INTERVAL.
	DefaultWatchInterval = 60 * time.Second

	// MappingLockTimeout bounds waiting on the worktree mapping lock.
	MappingLockTimeout = 10 * time.Second
)

// Directory and file names within an atelier project.
const (
	// DirAtelier is the project data directory at the repo root.
	DirAtelier = "atelier"

	// DirWorktrees holds per-epic and per-changeset worktrees.
	DirWorktrees = "worktrees"

	// DirAgents holds materialized agent home directories.
	DirAgents = "agents"

	// DirBeads is the beads database directory.
	DirBeads = ".beads"

	// FileProjectTOML is the project configuration file under DirAtelier.
	FileProjectTOML = "project.toml"

	// FileEventsJSONL is the raw structured event log under DirAtelier.
	FileEventsJSONL = ".events.jsonl"
)

// Reserved labels on tickets. The at: namespace marks bead identity; the
// cs: namespace tracks changeset lifecycle state.
const (
	LabelEpic    = "at:epic"
	LabelChange  = "at:changeset"
	LabelAgent   = "at:agent"
	LabelMessage = "at:message"
	LabelPolicy  = "at:policy"
	LabelUnread  = "at:unread"
	LabelHooked  = "at:hooked"
	LabelDraft   = "at:draft"
	LabelReady   = "at:ready"
	LabelSubtask = "at:subtask"

	LabelCSPlanned    = "cs:planned"
	LabelCSReady      = "cs:ready"
	LabelCSInProgress = "cs:in_progress"
	LabelCSBlocked    = "cs:blocked"
	LabelCSMerged     = "cs:merged"
	LabelCSAbandoned  = "cs:abandoned"
)

// Description metadata keys. Issue descriptions carry a line-oriented
// "key: value" section; these are the keys the supervisor owns.
const (
	MetaWorkspaceRootBranch   = "workspace.root_branch"
	MetaWorkspaceParentBranch = "workspace.parent_branch"
	MetaWorkspacePRStrategy   = "workspace.pr_strategy"
	MetaChangesetRootBranch   = "changeset.root_branch"
	MetaChangesetParentBranch = "changeset.parent_branch"
	MetaChangesetWorkBranch   = "changeset.work_branch"
	MetaChangesetIntegrated   = "changeset.integrated_sha"
	MetaPRURL                 = "pr_url"
	MetaPRNumber              = "pr_number"
	MetaPRState               = "pr_state"
	MetaReviewOwner           = "review_owner"
	MetaFeedbackSeenAt        = "review.last_feedback_seen_at"
	MetaAgentID               = "agent_id"
	MetaHookBead              = "hook_bead"
	MetaHeartbeatAt           = "heartbeat_at"
	MetaRoleType              = "role_type"
)

// Environment variables passed to agent processes.
const (
	EnvAgentID       = "ATELIER_AGENT_ID"
	EnvEpicID        = "ATELIER_EPIC_ID"
	EnvChangesetID   = "ATELIER_CHANGESET_ID"
	EnvWatchInterval = "ATELIER_WATCH_INTERVAL"
	EnvBDActor       = "BD_ACTOR"
	EnvBeadsAgent    = "BEADS_AGENT_NAME"
	EnvBeadsDir      = "BEADS_DIR"
	EnvBeadsDB       = "BEADS_DB"
)

// AgentFamilyRoot is the first segment of every atelier agent identity
// (atelier/<role>/<agent-type>/<session>).
const AgentFamilyRoot = "atelier"
