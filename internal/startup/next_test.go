package startup

import (
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/gh"
)

func TestNextChangesetPrefersInProgress(t *testing.T) {
	f := newFixture()
	inProg := csIssue("tk-1.2", "tk-1", constants.LabelCSInProgress)
	inProg.Status = "in_progress"
	f.addEpic(epicIssue("tk-1", ""), csIssue("tk-1.1", "tk-1"), inProg)

	id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
	if !ok || id != "tk-1.2" {
		t.Errorf("got (%q, %v), want tk-1.2", id, ok)
	}
}

func TestNextChangesetOrdersByID(t *testing.T) {
	f := newFixture()
	f.addEpic(epicIssue("tk-1", ""), csIssue("tk-1.2", "tk-1"), csIssue("tk-1.1", "tk-1"))

	id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
	if !ok || id != "tk-1.1" {
		t.Errorf("got (%q, %v), want tk-1.1", id, ok)
	}
}

func TestNextChangesetSkipsTerminalAndClosed(t *testing.T) {
	f := newFixture()
	merged := csIssue("tk-1.1", "tk-1", constants.LabelCSMerged)
	merged.Status = "closed"
	closed := csIssue("tk-1.2", "tk-1")
	closed.Status = "closed"
	f.addEpic(epicIssue("tk-1", ""), merged, closed, csIssue("tk-1.3", "tk-1"))

	id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
	if !ok || id != "tk-1.3" {
		t.Errorf("got (%q, %v), want tk-1.3", id, ok)
	}
}

func TestNextChangesetBlockedRecovery(t *testing.T) {
	tests := []struct {
		name    string
		prep    func(f *fixture, cs *beads.Issue)
		wantSel bool
	}{
		{"pr number recorded", func(f *fixture, cs *beads.Issue) {
			withDesc(cs, constants.MetaPRNumber+": 7")
		}, true},
		{"pushed review state", func(f *fixture, cs *beads.Issue) {
			withDesc(cs, constants.MetaPRState+": pushed")
		}, true},
		{"remote work branch", func(f *fixture, cs *beads.Issue) {
			f.git.remote["cs/tk-1.1"] = true
		}, true},
		{"nothing published", func(f *fixture, cs *beads.Issue) {}, false},
	}
	for _, tt := range tests {
		f := newFixture()
		cs := csIssue("tk-1.1", "tk-1", constants.LabelCSBlocked)
		cs.Status = "blocked"
		tt.prep(f, cs)
		f.addEpic(epicIssue("tk-1", ""), cs)

		id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
		if ok != tt.wantSel {
			t.Errorf("%s: got (%q, %v), want selectable=%v", tt.name, id, ok, tt.wantSel)
		}
	}
}

func TestNextChangesetExcludesOpenPR(t *testing.T) {
	f := newFixture()
	cs := withDesc(csIssue("tk-1.1", "tk-1"), constants.MetaPRState+": pr-open")
	f.addEpic(epicIssue("tk-1", ""), cs)

	if id, ok := f.contract().NextChangeset(f.store.issues["tk-1"]); ok {
		t.Errorf("changeset with an open PR selected: %q", id)
	}
}

func TestNextChangesetPushedGatedByStrategy(t *testing.T) {
	tests := []struct {
		name      string
		strategy  string
		depStatus string
		wantSel   bool
	}{
		{"sequential waits on open parent", config.StrategySequential, "open", false},
		{"parallel ignores parents", config.StrategyParallel, "open", true},
		{"closed parent releases the gate", config.StrategySequential, "closed", true},
	}
	for _, tt := range tests {
		f := newFixture()
		f.cfg.PRStrategy = tt.strategy

		dep := csIssue("tk-1.1", "tk-1")
		dep.Status = tt.depStatus
		f.store.issues["tk-1.1"] = dep

		cs := csIssue("tk-1.2", "tk-1", constants.LabelCSBlocked)
		cs.Status = "blocked"
		withDesc(cs, constants.MetaPRState+": pushed")
		withDependency(cs, "tk-1.1")
		f.addEpic(epicIssue("tk-1", ""), cs)

		id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
		if ok != tt.wantSel {
			t.Errorf("%s: got (%q, %v), want selectable=%v", tt.name, id, ok, tt.wantSel)
		}
	}
}

func TestNextChangesetTopLevelLeaf(t *testing.T) {
	f := newFixture()
	leaf := &beads.Issue{
		ID:     "tk-5",
		Status: "open",
		Labels: []string{constants.LabelEpic, constants.LabelChange},
	}
	f.store.issues["tk-5"] = leaf

	id, ok := f.contract().NextChangeset(leaf)
	if !ok || id != "tk-5" {
		t.Errorf("got (%q, %v), want tk-5", id, ok)
	}

	withDesc(leaf, constants.MetaPRState+": pr-open")
	if id, ok := f.contract().NextChangeset(leaf); ok {
		t.Errorf("top-level leaf with open PR selected: %q", id)
	}
}

func TestNextChangesetRequiresIntegratedDepsUnderSequentialPRs(t *testing.T) {
	tests := []struct {
		name     string
		branchPR bool
		prep     func(dep *beads.Issue)
		wantSel  bool
	}{
		{"closed suffices without pr flow", false, func(dep *beads.Issue) {}, true},
		{"closed alone insufficient", true, func(dep *beads.Issue) {}, false},
		{"merged label satisfies", true, func(dep *beads.Issue) {
			dep.Labels = append(dep.Labels, constants.LabelCSMerged)
		}, true},
		{"merged review state satisfies", true, func(dep *beads.Issue) {
			withDesc(dep, constants.MetaPRState+": merged")
		}, true},
	}
	for _, tt := range tests {
		f := newFixture()
		f.cfg.BranchPR = tt.branchPR
		f.cfg.PRStrategy = config.StrategySequential

		dep := csIssue("tk-1.1", "tk-1")
		dep.Status = "closed"
		tt.prep(dep)
		f.store.issues["tk-1.1"] = dep

		cs := withDependency(csIssue("tk-1.2", "tk-1"), "tk-1.1")
		f.addEpic(epicIssue("tk-1", ""), cs)

		id, ok := f.contract().NextChangeset(f.store.issues["tk-1"])
		if ok != tt.wantSel {
			t.Errorf("%s: got (%q, %v), want selectable=%v", tt.name, id, ok, tt.wantSel)
		}
	}
}

func feedbackPR(number int) *gh.PullRequest {
	return &gh.PullRequest{Number: number, State: "OPEN"}
}

func TestSelectReviewFeedbackWinsOverAssigned(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	f.addEpic(epicIssue("tk-1", me), csIssue("tk-1.1", "tk-1"))
	f.prs.byHead["cs/tk-1.1"] = feedbackPR(7)
	f.prs.latest[7] = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.prs.unresolved[7] = 2

	res := f.selectFor(t, Params{AgentID: me})
	if res.Reason != ReasonReviewFeedback {
		t.Fatalf("result = %+v", res)
	}
	if res.EpicID != "tk-1" || res.ChangesetID != "tk-1.1" {
		t.Errorf("result = %+v", res)
	}
}

func TestSelectReviewFeedbackCursorUpToDate(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	cs := withDesc(csIssue("tk-1.1", "tk-1"),
		constants.MetaFeedbackSeenAt+": 2026-03-02T00:00:00Z")
	f.addEpic(epicIssue("tk-1", me), cs)
	f.prs.byHead["cs/tk-1.1"] = feedbackPR(7)
	f.prs.latest[7] = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.prs.unresolved[7] = 2

	res := f.selectFor(t, Params{AgentID: me})
	if res.Reason != ReasonAssignedEpic {
		t.Errorf("result = %+v", res)
	}
}

func TestSelectReviewFeedbackRequiresUnresolvedThreads(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	f.addEpic(epicIssue("tk-1", me), csIssue("tk-1.1", "tk-1"))
	f.prs.byHead["cs/tk-1.1"] = feedbackPR(7)
	f.prs.latest[7] = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	res := f.selectFor(t, Params{AgentID: me})
	if res.Reason != ReasonAssignedEpic {
		t.Errorf("result = %+v", res)
	}
}

func TestSelectReviewFeedbackOldestChangesetFirst(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	newer := csIssue("tk-1.1", "tk-1")
	newer.CreatedAt = "2026-01-03T00:00:00Z"
	older := csIssue("tk-1.2", "tk-1")
	older.CreatedAt = "2026-01-02T00:00:00Z"
	f.addEpic(epicIssue("tk-1", me), newer, older)

	when := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.prs.byHead["cs/tk-1.1"] = feedbackPR(7)
	f.prs.byHead["cs/tk-1.2"] = feedbackPR(8)
	f.prs.latest[7] = when
	f.prs.latest[8] = when
	f.prs.unresolved[7] = 1
	f.prs.unresolved[8] = 1

	res := f.selectFor(t, Params{AgentID: me})
	if res.Reason != ReasonReviewFeedback || res.ChangesetID != "tk-1.2" {
		t.Errorf("result = %+v", res)
	}
}

func TestSelectReviewFeedbackSkippedWithoutProvider(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	f.addEpic(epicIssue("tk-1", me), csIssue("tk-1.1", "tk-1"))

	c := New(f.cfg, f.store, nil, f.inbox, f.git, f.picker)
	res, err := c.Select(Params{AgentID: me})
	if err != nil {
		t.Fatal(err)
	}
	if res.Reason != ReasonAssignedEpic {
		t.Errorf("result = %+v", res)
	}
}

func TestSelectReviewFeedbackSkipsOtherAgentsEpics(t *testing.T) {
	f := newFixture()
	f.cfg.BranchPR = true
	other := fmt.Sprintf("atelier/worker/codex/p%d-tother", os.Getpid())
	f.addEpic(epicIssue("tk-1", other), csIssue("tk-1.1", "tk-1"))
	f.prs.byHead["cs/tk-1.1"] = feedbackPR(7)
	f.prs.latest[7] = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	f.prs.unresolved[7] = 1

	res := f.selectFor(t, Params{AgentID: me})
	if !res.ShouldExit || res.Reason != ReasonNoEligible {
		t.Errorf("result = %+v", res)
	}
}
