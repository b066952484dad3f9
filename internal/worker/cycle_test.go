package worker

import (
	"strings"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/internal/review"
)

func TestNoProgressBodyCarriesSnapshots(t *testing.T) {
	before := review.FeedbackSnapshot{
		FeedbackAt:        time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC),
		UnresolvedThreads: 3,
		BranchHead:        "abc1234",
	}
	after := before

	body := noProgressBody("tk-1.2", before, after)
	for _, want := range []string{
		"tk-1.2",
		"before: feedback_at=2026-03-04T09:00:00Z unresolved_threads=3 head=abc1234",
		"after:  feedback_at=2026-03-04T09:00:00Z unresolved_threads=3 head=abc1234",
	} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q:\n%s", want, body)
		}
	}
}

func TestDescribeSnapshot(t *testing.T) {
	tests := []struct {
		name string
		snap review.FeedbackSnapshot
		want string
	}{
		{
			"all unknown",
			review.FeedbackSnapshot{UnresolvedThreads: -1},
			"feedback_at=none unresolved_threads=unknown head=unpushed",
		},
		{
			"zero threads known",
			review.FeedbackSnapshot{UnresolvedThreads: 0, BranchHead: "deadbee"},
			"feedback_at=none unresolved_threads=0 head=deadbee",
		},
		{
			"full",
			review.FeedbackSnapshot{
				FeedbackAt:        time.Date(2026, 3, 5, 12, 30, 0, 0, time.UTC),
				UnresolvedThreads: 2,
				BranchHead:        "abc1234",
			},
			"feedback_at=2026-03-05T12:30:00Z unresolved_threads=2 head=abc1234",
		},
	}
	for _, tt := range tests {
		if got := describeSnapshot(tt.snap); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}
