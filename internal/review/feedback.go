package review

import "time"

// FeedbackSnapshot captures the observable review-feedback state of a
// changeset's PR at one moment.
type FeedbackSnapshot struct {
	// FeedbackAt is the newest reviewer feedback timestamp, zero when none.
	FeedbackAt time.Time

	// UnresolvedThreads is the unresolved review-thread count, -1 when
	// unknown.
	UnresolvedThreads int

	// BranchHead is the work branch tip sha, empty when unknown.
	BranchHead string
}

// Progressed reports whether an agent session made review progress between
// two snapshots: strictly fewer unresolved threads, newer feedback, or a
// different branch tip. Unknown fields never count as progress.
func Progressed(before, after FeedbackSnapshot) bool {
	if before.UnresolvedThreads >= 0 && after.UnresolvedThreads >= 0 &&
		after.UnresolvedThreads < before.UnresolvedThreads {
		return true
	}
	if !after.FeedbackAt.IsZero() && after.FeedbackAt.After(before.FeedbackAt) {
		return true
	}
	if before.BranchHead != "" && after.BranchHead != "" && before.BranchHead != after.BranchHead {
		return true
	}
	return false
}
