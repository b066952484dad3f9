// Package finalize implements the post-agent decision tree for one worker
// cycle: label checks, stack integrity, review gating, push and PR
// creation, terminal closes, publish diagnostics, and epic rollup.
//
// Every non-continuing return carries a stable reason string from the
// taxonomy below so callers and tests match by string. The pipeline never
// closes a ticket while its PR is in an active review state, and every
// transition is idempotent: re-running against an unchanged world produces
// the same reason and no further mutations.
package finalize

// Reason taxonomy. These strings are part of the external contract.
const (
	ReasonChangesetMissing          = "changeset_missing"
	ReasonChangesetNotFound         = "changeset_not_found"
	ReasonLabelViolation            = "changeset_label_violation"
	ReasonChildrenPlanningBlocked   = "changeset_children_planning_blocked"
	ReasonChildrenPending           = "changeset_children_pending"
	ReasonBlockedMissingIntegration = "changeset_blocked_missing_integration"
	ReasonStackIntegrityFailed      = "changeset_stack_integrity_failed"
	ReasonBlockedMessage            = "changeset_blocked_message"
	ReasonReviewPending             = "changeset_review_pending"
	ReasonBlockedMissingMetadata    = "changeset_blocked_missing_metadata"
	ReasonPRStatusQueryFailed       = "changeset_pr_status_query_failed"
	ReasonPublishPending            = "changeset_publish_pending"
	ReasonBlockedPublishMissing     = "changeset_blocked_publish_missing"
	ReasonPRBaseAlignmentFailed     = "changeset_pr_base_alignment_failed"
	ReasonPRCreateFailed            = "changeset_pr_create_failed"
	ReasonPRMissingRepoSlug         = "changeset_pr_missing_repo_slug"
	ReasonComplete                  = "changeset_complete"
	ReasonPublished                 = "changeset_published"
	ReasonFeedbackNotAddressed      = "changeset_feedback_not_addressed"
	ReasonEpicBlockedFinalization   = "epic_blocked_finalization"
	ReasonEpicBlockedMetadata       = "epic_blocked_missing_metadata"
)

// Result is the outcome of one finalize run.
type Result struct {
	// ContinueRunning reports whether the worker may pick up more work.
	ContinueRunning bool

	// Reason is a stable taxonomy string.
	Reason string

	// Detail carries operator-facing context; never matched on.
	Detail string
}

func continueWith(reason, detail string) Result {
	return Result{ContinueRunning: true, Reason: reason, Detail: detail}
}

func stopWith(reason, detail string) Result {
	return Result{ContinueRunning: false, Reason: reason, Detail: detail}
}
