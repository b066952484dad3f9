package gh

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/internal/ticket"
)

// newTestClient returns a client whose runner replays canned outputs in
// order. Calls are recorded for assertion.
func newTestClient(t *testing.T, outputs []string, errs []error) (*Client, *[][]string) {
	t.Helper()
	c := NewClient("acme/widgets")
	c.backoff = 0

	var calls [][]string
	i := 0
	c.runner = func(ctx context.Context, args ...string) (string, error) {
		calls = append(calls, args)
		if i >= len(outputs) {
			t.Fatalf("unexpected gh call #%d: %v", i+1, args)
		}
		out, err := outputs[i], error(nil)
		if i < len(errs) {
			err = errs[i]
		}
		i++
		return out, err
	}
	return c, &calls
}

func TestLookupPRByHeadNotFound(t *testing.T) {
	c, calls := newTestClient(t, []string{"[]"}, nil)

	pr, err := c.LookupPRByHead("cs/tk-1.1")
	if err != nil || pr != nil {
		t.Fatalf("got (%v, %v), want (nil, nil)", pr, err)
	}

	// Cached miss: no second invocation.
	if _, err := c.LookupPRByHead("cs/tk-1.1"); err != nil {
		t.Fatal(err)
	}
	if len(*calls) != 1 {
		t.Errorf("runner called %d times, want 1", len(*calls))
	}

	c.InvalidateBranch("cs/tk-1.1")
	c.runner = func(ctx context.Context, args ...string) (string, error) { return "[]", nil }
	if _, err := c.LookupPRByHead("cs/tk-1.1"); err != nil {
		t.Fatal(err)
	}
}

func TestLookupPRByHeadSingleOpen(t *testing.T) {
	listOut := `[{"number":7,"state":"OPEN","updatedAt":"2026-03-01T10:00:00Z"}]`
	viewOut := `{"number":7,"state":"OPEN","baseRefName":"main","headRefName":"cs/tk-1.1"}`
	c, _ := newTestClient(t, []string{listOut, viewOut}, nil)

	pr, err := c.LookupPRByHead("cs/tk-1.1")
	if err != nil {
		t.Fatal(err)
	}
	if pr == nil || pr.Number != 7 || pr.BaseRefName != "main" {
		t.Errorf("pr = %+v", pr)
	}
}

func TestLookupPRByHeadAmbiguous(t *testing.T) {
	listOut := `[{"number":7,"state":"OPEN"},{"number":9,"state":"OPEN"}]`
	c, _ := newTestClient(t, []string{listOut}, nil)

	pr, err := c.LookupPRByHead("cs/tk-1.1")
	if !errors.Is(err, ErrAmbiguousPR) {
		t.Fatalf("err = %v, want ErrAmbiguousPR", err)
	}
	if pr != nil {
		t.Errorf("pr = %+v, want nil", pr)
	}
}

func TestLookupPRByHeadClosedPicksNewest(t *testing.T) {
	listOut := `[
	  {"number":3,"state":"CLOSED","updatedAt":"2026-02-01T00:00:00Z"},
	  {"number":5,"state":"MERGED","updatedAt":"2026-03-01T00:00:00Z"}
	]`
	viewOut := `{"number":5,"state":"MERGED","mergedAt":"2026-03-01T00:00:00Z"}`
	c, calls := newTestClient(t, []string{listOut, viewOut}, nil)

	pr, err := c.LookupPRByHead("cs/tk-1.1")
	if err != nil {
		t.Fatal(err)
	}
	if pr.Number != 5 || !pr.IsMerged() {
		t.Errorf("pr = %+v", pr)
	}

	view := (*calls)[1]
	if view[0] != "pr" || view[1] != "view" || view[2] != "5" {
		t.Errorf("view args = %v", view)
	}
}

func TestRunRetriesTransientOnly(t *testing.T) {
	c, calls := newTestClient(t,
		[]string{"", "", "ok"},
		[]error{errors.New("gh list: 502 bad gateway"), errors.New("timed out"), nil})

	out, err := c.run("pr", "list")
	if err != nil || out != "ok" {
		t.Fatalf("got (%q, %v)", out, err)
	}
	if len(*calls) != 3 {
		t.Errorf("runner called %d times, want 3", len(*calls))
	}

	c2, calls2 := newTestClient(t, []string{""}, []error{errors.New("gh view: not found")})
	if _, err := c2.run("pr", "view"); err == nil {
		t.Fatal("want error")
	}
	if len(*calls2) != 1 {
		t.Errorf("non-transient failure retried: %d calls", len(*calls2))
	}
}

func TestRunStopsOnNotInstalled(t *testing.T) {
	c, calls := newTestClient(t, []string{""}, []error{ErrNotInstalled})
	_, err := c.run("pr", "list")
	if !errors.Is(err, ErrNotInstalled) {
		t.Fatalf("err = %v", err)
	}
	if len(*calls) != 1 {
		t.Errorf("ErrNotInstalled retried: %d calls", len(*calls))
	}
}

func TestLifecycleState(t *testing.T) {
	draft := &PullRequest{State: "OPEN", IsDraft: true}
	open := &PullRequest{State: "OPEN"}
	approved := &PullRequest{State: "OPEN", ReviewDecision: "APPROVED"}
	merged := &PullRequest{State: "MERGED", MergedAt: "2026-03-01T00:00:00Z"}
	closed := &PullRequest{State: "CLOSED", ClosedAt: "2026-03-01T00:00:00Z"}

	tests := []struct {
		name      string
		pr        *PullRequest
		pushed    bool
		requested bool
		want      ticket.ReviewLifecycle
	}{
		{"nil unpushed", nil, false, false, ticket.LifecycleNone},
		{"nil pushed", nil, true, false, ticket.LifecyclePushed},
		{"draft", draft, true, false, ticket.LifecycleDraftPR},
		{"open no reviewers", open, true, false, ticket.LifecyclePROpen},
		{"open with reviewers", open, true, true, ticket.LifecycleInReview},
		{"approved", approved, true, true, ticket.LifecycleApproved},
		{"merged", merged, true, false, ticket.LifecycleMerged},
		{"closed", closed, true, false, ticket.LifecycleClosed},
	}
	for _, tt := range tests {
		if got := LifecycleState(tt.pr, tt.pushed, tt.requested); got != tt.want {
			t.Errorf("%s: got %q, want %q", tt.name, got, tt.want)
		}
	}
}

func TestPullRequestStatePredicatesNilSafe(t *testing.T) {
	var pr *PullRequest
	if pr.IsMerged() || pr.IsClosed() || pr.IsOpen() {
		t.Error("nil PR must report no state")
	}
}

func TestLatestFeedbackTimestamp(t *testing.T) {
	pr := &PullRequest{
		Comments: []Comment{
			{Author: Author{Login: "alice"}, CreatedAt: "2026-03-01T10:00:00Z"},
			{Author: Author{Login: "dependabot[bot]"}, CreatedAt: "2026-03-02T10:00:00Z"},
			{Author: Author{Login: "github-actions"}, CreatedAt: "2026-03-03T10:00:00Z"},
		},
		Reviews: []Review{
			{Author: Author{Login: "bob"}, State: "APPROVED", SubmittedAt: "2026-03-04T10:00:00Z"},
			{Author: Author{Login: "bob"}, State: "CHANGES_REQUESTED", SubmittedAt: "2026-03-01T12:00:00Z"},
			{Author: Author{Login: "cindy", IsBot: true}, State: "COMMENTED", SubmittedAt: "2026-03-05T10:00:00Z"},
		},
	}

	got := LatestFeedbackTimestamp(pr)
	want := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	if !LatestFeedbackTimestamp(nil).IsZero() {
		t.Error("nil PR must yield zero time")
	}
}

func TestLatestFeedbackWithInlineCommentsMultiPage(t *testing.T) {
	// gh api --paginate emits one array per page, back to back.
	out := `[{"created_at":"2026-03-02T10:00:00Z","user":{"login":"alice","type":"User"}}]` +
		`[{"created_at":"2026-03-04T09:00:00Z","user":{"login":"bob","type":"User"}},` +
		`{"created_at":"2026-03-05T10:00:00Z","user":{"login":"robo[bot]","type":"Bot"}}]`
	c, calls := newTestClient(t, []string{out}, nil)

	pr := &PullRequest{Number: 7, Comments: []Comment{
		{Author: Author{Login: "alice"}, CreatedAt: "2026-03-01T10:00:00Z"},
	}}
	got, err := c.LatestFeedbackTimestampWithInlineComments(pr)
	if err != nil {
		t.Fatal(err)
	}
	want := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	if !got.Equal(want) {
		t.Errorf("got %v, want %v", got, want)
	}

	// Cached per PR: a second call issues no gh invocation.
	again, err := c.LatestFeedbackTimestampWithInlineComments(pr)
	if err != nil || !again.Equal(want) {
		t.Errorf("got (%v, %v)", again, err)
	}
	if len(*calls) != 1 {
		t.Errorf("runner called %d times, want 1", len(*calls))
	}
}

func TestUnresolvedReviewThreadCountPaginates(t *testing.T) {
	page1 := `{"data":{"repository":{"pullRequest":{"reviewThreads":{
	  "pageInfo":{"hasNextPage":true,"endCursor":"abc"},
	  "nodes":[{"isResolved":false},{"isResolved":true}]}}}}}`
	page2 := `{"data":{"repository":{"pullRequest":{"reviewThreads":{
	  "pageInfo":{"hasNextPage":false,"endCursor":""},
	  "nodes":[{"isResolved":false}]}}}}}`
	c, calls := newTestClient(t, []string{page1, page2}, nil)

	count, err := c.UnresolvedReviewThreadCount(7)
	if err != nil {
		t.Fatal(err)
	}
	if count != 2 {
		t.Errorf("count = %d, want 2", count)
	}

	second := strings.Join((*calls)[1], " ")
	if !strings.Contains(second, "cursor=abc") {
		t.Errorf("second page missing cursor: %s", second)
	}
}

func TestDefaultBranchMergeConflict(t *testing.T) {
	tests := []struct {
		name string
		pr   *PullRequest
		want MergeConflictAnswer
	}{
		{"nil", nil, ConflictUnknown},
		{"dirty", &PullRequest{MergeStateStatus: "DIRTY"}, ConflictYes},
		{"conflicting", &PullRequest{Mergeable: "CONFLICTING"}, ConflictYes},
		{"unknown mergeable", &PullRequest{Mergeable: "UNKNOWN", MergeStateStatus: "CLEAN"}, ConflictUnknown},
		{"no signals", &PullRequest{}, ConflictUnknown},
		{"clean", &PullRequest{Mergeable: "MERGEABLE", MergeStateStatus: "CLEAN"}, ConflictNo},
	}
	for _, tt := range tests {
		if got := DefaultBranchMergeConflict(tt.pr); got != tt.want {
			t.Errorf("%s: got %d, want %d", tt.name, got, tt.want)
		}
	}
}

func TestSplitRepo(t *testing.T) {
	owner, name, err := splitRepo("acme/widgets")
	if err != nil || owner != "acme" || name != "widgets" {
		t.Errorf("got (%q, %q, %v)", owner, name, err)
	}
	for _, bad := range []string{"", "acme", "/widgets", "acme/"} {
		if _, _, err := splitRepo(bad); err == nil {
			t.Errorf("splitRepo(%q) accepted", bad)
		}
	}
}
