package ticket

import (
	"strings"
	"testing"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
)

// memStore is an in-memory Store that applies updates so idempotence is
// observable across calls.
type memStore struct {
	issues  map[string]*beads.Issue
	updates int
}

func newMemStore(issues ...*beads.Issue) *memStore {
	m := &memStore{issues: make(map[string]*beads.Issue)}
	for _, is := range issues {
		m.issues[is.ID] = is
	}
	return m
}

func (m *memStore) Show(id string) (*beads.Issue, error) {
	is, ok := m.issues[id]
	if !ok {
		return nil, beads.ErrNotFound
	}
	cp := *is
	cp.Labels = append([]string(nil), is.Labels...)
	cp.Children = append([]string(nil), is.Children...)
	return &cp, nil
}

func (m *memStore) Update(id string, opts beads.UpdateOptions) error {
	is, ok := m.issues[id]
	if !ok {
		return beads.ErrNotFound
	}
	m.updates++
	if opts.Status != nil {
		is.Status = *opts.Status
	}
	if opts.Description != nil {
		is.Description = *opts.Description
	}
	if opts.Assignee != nil {
		is.Assignee = *opts.Assignee
	}
	for _, l := range opts.AddLabels {
		if !beads.HasLabel(is, l) {
			is.Labels = append(is.Labels, l)
		}
	}
	for _, l := range opts.RemoveLabels {
		var kept []string
		for _, have := range is.Labels {
			if have != l {
				kept = append(kept, have)
			}
		}
		is.Labels = kept
	}
	return nil
}

func (m *memStore) ListDescendantChangesets(epicID string) ([]*beads.Issue, error) {
	var out []*beads.Issue
	for _, is := range m.issues {
		if is.Parent == epicID {
			out = append(out, is)
		}
	}
	return out, nil
}

func TestMarkInProgressIdempotent(t *testing.T) {
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "open",
		Labels: []string{constants.LabelCSReady}})
	m := NewMutator(store)

	if err := m.MarkInProgress("tk-1"); err != nil {
		t.Fatal(err)
	}
	is := store.issues["tk-1"]
	if is.Status != "in_progress" {
		t.Errorf("status = %q", is.Status)
	}
	if !beads.HasLabel(is, constants.LabelCSInProgress) || beads.HasLabel(is, constants.LabelCSReady) {
		t.Errorf("labels = %v", is.Labels)
	}

	before := store.updates
	if err := m.MarkInProgress("tk-1"); err != nil {
		t.Fatal(err)
	}
	if store.updates != before {
		t.Error("second MarkInProgress issued an update")
	}
}

func TestMarkBlockedDeduplicatesReason(t *testing.T) {
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "in_progress"})
	m := NewMutator(store)

	if err := m.MarkBlocked("tk-1", "dependency-lineage-ambiguous"); err != nil {
		t.Fatal(err)
	}
	is := store.issues["tk-1"]
	if is.Status != "blocked" || !beads.HasLabel(is, constants.LabelCSBlocked) {
		t.Fatalf("status=%q labels=%v", is.Status, is.Labels)
	}
	if !strings.Contains(is.Description, "blocked: dependency-lineage-ambiguous") {
		t.Fatalf("reason note missing:\n%s", is.Description)
	}

	before := store.updates
	if err := m.MarkBlocked("tk-1", "dependency-lineage-ambiguous"); err != nil {
		t.Fatal(err)
	}
	if store.updates != before {
		t.Error("re-blocking with the same reason issued an update")
	}
	if strings.Count(store.issues["tk-1"].Description, "dependency-lineage-ambiguous") != 1 {
		t.Error("reason note duplicated")
	}
}

func TestSetIntegratedSHAWriteOnce(t *testing.T) {
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "closed"})
	m := NewMutator(store)

	got, err := m.SetIntegratedSHA("tk-1", "aaa111")
	if err != nil {
		t.Fatal(err)
	}
	if got != "aaa111" {
		t.Errorf("got %q", got)
	}

	// A conflicting later observation keeps the first value.
	got, err = m.SetIntegratedSHA("tk-1", "bbb222")
	if err != nil {
		t.Fatal(err)
	}
	if got != "aaa111" {
		t.Errorf("recorded sha changed to %q", got)
	}
	if v := GetMeta(store.issues["tk-1"].Description, constants.MetaChangesetIntegrated); v != "aaa111" {
		t.Errorf("persisted sha = %q", v)
	}

	if _, err := m.SetIntegratedSHA("tk-1", ""); err == nil {
		t.Error("empty sha should be rejected")
	}
}

func TestMarkAbandonedRefusesMergedWithSHA(t *testing.T) {
	desc := SetMeta("", MetaKV{Key: constants.MetaChangesetIntegrated, Value: "aaa111"})
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "closed",
		Labels: []string{constants.LabelCSMerged}, Description: desc})
	m := NewMutator(store)

	if err := m.MarkAbandoned("tk-1"); err != nil {
		t.Fatal(err)
	}
	is := store.issues["tk-1"]
	if !beads.HasLabel(is, constants.LabelCSMerged) || beads.HasLabel(is, constants.LabelCSAbandoned) {
		t.Errorf("merged changeset was demoted: labels = %v", is.Labels)
	}
}

func TestMarkMergedClearsOtherLabels(t *testing.T) {
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "in_progress",
		Labels: []string{constants.LabelCSInProgress, "other"}})
	m := NewMutator(store)

	if err := m.MarkMerged("tk-1"); err != nil {
		t.Fatal(err)
	}
	is := store.issues["tk-1"]
	if is.Status != "closed" {
		t.Errorf("status = %q", is.Status)
	}
	if !beads.HasLabel(is, constants.LabelCSMerged) {
		t.Error("cs:merged missing")
	}
	if beads.HasLabel(is, constants.LabelCSInProgress) {
		t.Error("stale lifecycle label kept")
	}
	if !beads.HasLabel(is, "other") {
		t.Error("unrelated label removed")
	}
}

func TestPromotePlannedDescendants(t *testing.T) {
	store := newMemStore(
		&beads.Issue{ID: "tk-1", Type: "task", Status: "open"},
		&beads.Issue{ID: "tk-1.1", Parent: "tk-1", Type: "task", Status: "open",
			Labels: []string{constants.LabelCSPlanned}},
		&beads.Issue{ID: "tk-1.2", Parent: "tk-1", Type: "task", Status: "closed",
			Labels: []string{constants.LabelCSPlanned}},
		&beads.Issue{ID: "tk-1.3", Parent: "tk-1", Type: "task", Status: "open",
			Labels: []string{constants.LabelCSReady}},
	)
	m := NewMutator(store)

	promoted, err := m.PromotePlannedDescendants("tk-1")
	if err != nil {
		t.Fatal(err)
	}
	if len(promoted) != 1 || promoted[0] != "tk-1.1" {
		t.Fatalf("promoted = %v", promoted)
	}
	is := store.issues["tk-1.1"]
	if !beads.HasLabel(is, constants.LabelCSReady) || beads.HasLabel(is, constants.LabelCSPlanned) {
		t.Errorf("labels = %v", is.Labels)
	}
	// Closed planned descendants stay untouched.
	if !beads.HasLabel(store.issues["tk-1.2"], constants.LabelCSPlanned) {
		t.Error("closed descendant promoted")
	}
}

func TestUpdateReviewMetadataNoChangeNoWrite(t *testing.T) {
	meta := ReviewMetadata{PRURL: "u", PRNumber: "1", PRState: "pr-open"}
	store := newMemStore(&beads.Issue{ID: "tk-1", Type: "task", Status: "in_progress",
		Description: meta.Apply("prose")})
	m := NewMutator(store)

	if err := m.UpdateReviewMetadata("tk-1", meta); err != nil {
		t.Fatal(err)
	}
	if store.updates != 0 {
		t.Error("identical metadata issued an update")
	}
}

func TestCloseCompletedContainerChangesets(t *testing.T) {
	store := newMemStore(
		&beads.Issue{ID: "tk-1", Type: "task", Status: "in_progress",
			Children: []string{"tk-1.1"}},
		&beads.Issue{ID: "tk-1.1", Parent: "tk-1", Type: "task", Status: "open",
			Children: []string{"tk-1.1.1", "tk-1.1.2"}},
		&beads.Issue{ID: "tk-1.1.1", Parent: "tk-1.1", Type: "task", Status: "closed",
			Labels: []string{constants.LabelCSMerged}},
		&beads.Issue{ID: "tk-1.1.2", Parent: "tk-1.1", Type: "task", Status: "closed",
			Labels: []string{constants.LabelCSAbandoned}},
	)
	m := NewMutator(store)

	if err := m.CloseCompletedContainerChangesets("tk-1"); err != nil {
		t.Fatal(err)
	}
	if store.issues["tk-1.1"].Status != "closed" {
		t.Errorf("container status = %q, want closed", store.issues["tk-1.1"].Status)
	}
}
