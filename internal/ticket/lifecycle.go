package ticket

// ReviewLifecycle is the finite review state of a work branch, derived from
// push state and live PR signals.
type ReviewLifecycle string

const (
	LifecycleNone      ReviewLifecycle = ""
	LifecycleLocalOnly ReviewLifecycle = "local-only"
	LifecyclePushed    ReviewLifecycle = "pushed"
	LifecycleDraftPR   ReviewLifecycle = "draft-pr"
	LifecyclePROpen    ReviewLifecycle = "pr-open"
	LifecycleInReview  ReviewLifecycle = "in-review"
	LifecycleApproved  ReviewLifecycle = "approved"
	LifecycleMerged    ReviewLifecycle = "merged"
	LifecycleClosed    ReviewLifecycle = "closed" // closed without merge
)

// IsActive reports membership in the active review set: the branch is
// published and the review conversation is still open.
func (l ReviewLifecycle) IsActive() bool {
	switch l {
	case LifecyclePushed, LifecycleDraftPR, LifecyclePROpen, LifecycleInReview, LifecycleApproved:
		return true
	}
	return false
}

// IsIntegrated reports whether the branch landed in its target.
func (l ReviewLifecycle) IsIntegrated() bool {
	return l == LifecycleMerged
}

// IsTerminal reports whether the lifecycle can no longer advance.
func (l ReviewLifecycle) IsTerminal() bool {
	return l == LifecycleMerged || l == LifecycleClosed
}

// HasOpenPR reports whether a PR exists and is open (draft or otherwise).
func (l ReviewLifecycle) HasOpenPR() bool {
	switch l {
	case LifecycleDraftPR, LifecyclePROpen, LifecycleInReview, LifecycleApproved:
		return true
	}
	return false
}
