package ticket

import (
	"testing"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
)

func TestIsWork(t *testing.T) {
	tests := []struct {
		name  string
		issue *beads.Issue
		want  bool
	}{
		{"nil", nil, false},
		{"plain task", &beads.Issue{Type: "task"}, true},
		{"message type", &beads.Issue{Type: "message"}, false},
		{"agent type", &beads.Issue{Type: "agent"}, false},
		{"message label", &beads.Issue{Type: "task", Labels: []string{constants.LabelMessage}}, false},
		{"policy label", &beads.Issue{Type: "task", Labels: []string{constants.LabelPolicy}}, false},
		{"epic label wins", &beads.Issue{Type: "message", Labels: []string{constants.LabelEpic}}, true},
	}
	for _, tt := range tests {
		if got := IsWork(tt.issue); got != tt.want {
			t.Errorf("%s: IsWork = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestIsEpic(t *testing.T) {
	top := &beads.Issue{Type: "task"}
	child := &beads.Issue{Type: "task", Parent: "tk-1"}
	if !IsEpic(top) {
		t.Error("top-level work issue should be an epic")
	}
	if IsEpic(child) {
		t.Error("issue with parent is not an epic")
	}
}

func TestIsChangeset(t *testing.T) {
	leaf := &beads.Issue{Type: "task"}
	labeled := &beads.Issue{Type: "task", Labels: []string{constants.LabelChange}, Children: []string{"tk-2"}}
	withKids := &beads.Issue{Type: "task", Children: []string{"tk-2"}}

	tests := []struct {
		name     string
		issue    *beads.Issue
		children Ternary
		want     bool
	}{
		{"graph says leaf", withKids, False, true},
		{"graph says container", leaf, True, false},
		{"unknown, no children recorded", leaf, Unknown, true},
		{"unknown, children recorded", withKids, Unknown, false},
		{"unknown, label overrides children", labeled, Unknown, true},
	}
	for _, tt := range tests {
		if got := IsChangeset(tt.issue, tt.children); got != tt.want {
			t.Errorf("%s: IsChangeset = %t, want %t", tt.name, got, tt.want)
		}
	}
}

func TestChangesetState(t *testing.T) {
	issue := &beads.Issue{Labels: []string{"other", constants.LabelCSBlocked}}
	if got := ChangesetState(issue); got != constants.LabelCSBlocked {
		t.Errorf("got %q", got)
	}
	if got := ChangesetState(&beads.Issue{Labels: []string{"other"}}); got != "" {
		t.Errorf("got %q, want empty", got)
	}
}

func TestDependencyIssueSatisfied(t *testing.T) {
	tests := []struct {
		name             string
		status           string
		labels           []string
		requireIntegrate bool
		reviewState      ReviewLifecycle
		want             bool
	}{
		{"open never satisfies", "open", nil, false, LifecycleNone, false},
		{"closed without integration gate", "closed", nil, false, LifecycleNone, true},
		{"closed changeset, integration required, no signal", "closed", nil, true, LifecyclePushed, false},
		{"closed changeset with cs:merged", "closed", []string{constants.LabelCSMerged}, true, LifecycleNone, true},
		{"closed changeset with merged lifecycle", "closed", nil, true, LifecycleMerged, true},
	}
	for _, tt := range tests {
		got := DependencyIssueSatisfied(tt.status, tt.labels, tt.requireIntegrate,
			tt.reviewState, "task", False)
		if got != tt.want {
			t.Errorf("%s: got %t, want %t", tt.name, got, tt.want)
		}
	}

	// Non-changeset dependencies only need to be closed.
	if !DependencyIssueSatisfied("closed", nil, true, LifecycleNone, "task", True) {
		t.Error("closed container dependency should satisfy even under integration gate")
	}
}

func TestRunnableLeaf(t *testing.T) {
	tests := []struct {
		name    string
		issue   *beads.Issue
		deps    Ternary
		want    bool
		wantRsn string
	}{
		{"nil issue", nil, True, false, "status=missing"},
		{"ready leaf", &beads.Issue{Type: "task", Status: "open"}, True, true, ""},
		{"in-progress leaf", &beads.Issue{Type: "task", Status: "in_progress"}, True, true, ""},
		{"blocked", &beads.Issue{Type: "task", Status: "blocked"}, True, false, "status=blocked"},
		{"terminal label", &beads.Issue{Type: "task", Status: "open",
			Labels: []string{constants.LabelCSMerged}}, True, false, "terminal-state"},
		{"deps unknown", &beads.Issue{Type: "task", Status: "open"}, Unknown, false, "dependencies-unsatisfied"},
	}
	for _, tt := range tests {
		ok, reasons := RunnableLeaf(tt.issue, False, tt.deps)
		if ok != tt.want {
			t.Errorf("%s: runnable = %t, want %t (reasons %v)", tt.name, ok, tt.want, reasons)
			continue
		}
		if tt.wantRsn != "" && !containsString(reasons, tt.wantRsn) {
			t.Errorf("%s: reasons %v missing %q", tt.name, reasons, tt.wantRsn)
		}
	}
}

func TestEpicClaimable(t *testing.T) {
	agent := "atelier/worker/codex/p1-tabc"

	tests := []struct {
		name  string
		issue *beads.Issue
		want  bool
	}{
		{"unassigned open epic", &beads.Issue{Type: "task", Status: "open"}, true},
		{"assigned to me", &beads.Issue{Type: "task", Status: "in_progress", Assignee: agent}, true},
		{"assigned elsewhere", &beads.Issue{Type: "task", Status: "open", Assignee: "someone"}, false},
		{"closed", &beads.Issue{Type: "task", Status: "closed"}, false},
		{"not an epic", &beads.Issue{Type: "task", Status: "open", Parent: "tk-1"}, false},
	}
	for _, tt := range tests {
		ok, reasons := EpicClaimable(tt.issue, agent)
		if ok != tt.want {
			t.Errorf("%s: claimable = %t, want %t (reasons %v)", tt.name, ok, tt.want, reasons)
		}
	}
}

func containsString(ss []string, want string) bool {
	for _, s := range ss {
		if s == want {
			return true
		}
	}
	return false
}
