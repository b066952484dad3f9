package doctor

import (
	"errors"
	"testing"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/config"
	"github.com/atelier-dev/atelier/internal/session"
)

func TestConfigCheck(t *testing.T) {
	tests := []struct {
		name string
		cfg  *config.Project
		want Status
	}{
		{"missing config", nil, StatusError},
		{"defaults", config.Default(), StatusOK},
		{"pr flow without slug", func() *config.Project {
			c := config.Default()
			c.BranchPR = true
			return c
		}(), StatusError},
		{"pr flow with slug", func() *config.Project {
			c := config.Default()
			c.BranchPR = true
			c.RepoSlug = "acme/widgets"
			return c
		}(), StatusOK},
	}
	for _, tt := range tests {
		res := (&ConfigCheck{}).Run(&Context{Config: tt.cfg})
		if res.Status != tt.want {
			t.Errorf("%s: status = %s, want %s", tt.name, res.Status, tt.want)
		}
	}
}

func TestDataDirCheck(t *testing.T) {
	res := (&DataDirCheck{}).Run(&Context{ProjectRoot: t.TempDir()})
	if res.Status != StatusOK {
		t.Errorf("status = %s: %s", res.Status, res.Message)
	}
}

type fakeEpicStore struct {
	epics []*beads.Issue
	err   error
}

func (s *fakeEpicStore) ListEpics(status string) ([]*beads.Issue, error) {
	return s.epics, s.err
}

func TestStaleAssigneeCheck(t *testing.T) {
	stale := "atelier/worker/codex/p4194000-tdead"
	if !session.IsStale(stale) {
		t.Skip("probe pid is alive on this host")
	}

	check := &StaleAssigneeCheck{Store: &fakeEpicStore{epics: []*beads.Issue{
		{ID: "tk-1", Assignee: stale},
		{ID: "tk-2", Assignee: ""},
	}}}
	res := check.Run(&Context{})
	if res.Status != StatusWarn {
		t.Fatalf("status = %s", res.Status)
	}
	if len(res.Details) != 1 {
		t.Errorf("details = %v", res.Details)
	}
}

func TestStaleAssigneeCheckCleanStore(t *testing.T) {
	check := &StaleAssigneeCheck{Store: &fakeEpicStore{}}
	if res := check.Run(&Context{}); res.Status != StatusOK {
		t.Errorf("status = %s", res.Status)
	}
}

func TestStaleAssigneeCheckStoreError(t *testing.T) {
	check := &StaleAssigneeCheck{Store: &fakeEpicStore{err: errors.New("bd gone")}}
	if res := check.Run(&Context{}); res.Status != StatusWarn {
		t.Errorf("status = %s", res.Status)
	}
}

func TestFirstLine(t *testing.T) {
	if got := firstLine("git version 2.44\nmore"); got != "git version 2.44" {
		t.Errorf("got %q", got)
	}
	if got := firstLine("single"); got != "single" {
		t.Errorf("got %q", got)
	}
}
