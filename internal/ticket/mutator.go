package ticket

import (
	"fmt"
	"time"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
	"github.com/atelier-dev/atelier/internal/style"
)

// Store is the slice of the ticket store the mutator needs.
// *beads.Beads satisfies it.
type Store interface {
	Show(id string) (*beads.Issue, error)
	Update(id string, opts beads.UpdateOptions) error
	ListDescendantChangesets(epicID string) ([]*beads.Issue, error)
}

// Mutator applies idempotent state transitions to changeset tickets.
// Every method reads current state first and only issues an update when
// something actually differs, so re-running a transition is a no-op.
type Mutator struct {
	store Store
}

// NewMutator creates a Mutator over a store.
func NewMutator(store Store) *Mutator {
	return &Mutator{store: store}
}

// csStateLabels is every changeset lifecycle label.
var csStateLabels = []string{
	constants.LabelCSPlanned,
	constants.LabelCSReady,
	constants.LabelCSInProgress,
	constants.LabelCSBlocked,
	constants.LabelCSMerged,
	constants.LabelCSAbandoned,
}

// transition computes and applies the label/status delta to reach the
// desired cs: state label and canonical status.
func (m *Mutator) transition(id string, wantLabel string, wantStatus CanonicalStatus, note string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}

	var opts beads.UpdateOptions
	dirty := false

	if wantLabel != "" && !beads.HasLabel(issue, wantLabel) {
		opts.AddLabels = append(opts.AddLabels, wantLabel)
		dirty = true
	}
	for _, l := range csStateLabels {
		if l == wantLabel {
			continue
		}
		if beads.HasLabel(issue, l) {
			opts.RemoveLabels = append(opts.RemoveLabels, l)
			dirty = true
		}
	}
	if CanonicalizeStatus(issue.Status) != wantStatus {
		s := string(wantStatus)
		opts.Status = &s
		dirty = true
	}
	if note != "" {
		desc := AppendNote(issue.Description, note)
		opts.Description = &desc
		dirty = true
	}

	if !dirty {
		return nil
	}
	return m.store.Update(id, opts)
}

// MarkInProgress moves a changeset to in_progress.
func (m *Mutator) MarkInProgress(id string) error {
	return m.transition(id, constants.LabelCSInProgress, StatusInProgress, "")
}

// MarkBlocked moves a changeset to blocked, recording the reason in notes.
// Re-blocking with the same reason does not duplicate the note.
func (m *Mutator) MarkBlocked(id, reason string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	note := ""
	if reason != "" {
		note = fmt.Sprintf("blocked: %s", reason)
		if GetMeta(issue.Description, "blocked") == reason {
			note = ""
		}
	}
	if beads.HasLabel(issue, constants.LabelCSBlocked) &&
		CanonicalizeStatus(issue.Status) == StatusBlocked && note == "" {
		return nil
	}
	return m.transition(id, constants.LabelCSBlocked, StatusBlocked, note)
}

// MarkClosed closes a changeset without touching its cs: state label.
func (m *Mutator) MarkClosed(id string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	if CanonicalizeStatus(issue.Status) == StatusClosed {
		return nil
	}
	s := string(StatusClosed)
	return m.store.Update(id, beads.UpdateOptions{Status: &s})
}

// MarkMerged records terminal integration: cs:merged, status closed, all
// other lifecycle labels cleared.
func (m *Mutator) MarkMerged(id string) error {
	return m.transition(id, constants.LabelCSMerged, StatusClosed, "")
}

// MarkAbandoned records terminal closure without integration. A changeset
// already merged with a recorded integration sha is never demoted; the
// attempt logs a warning and leaves the ticket untouched.
func (m *Mutator) MarkAbandoned(id string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	if beads.HasLabel(issue, constants.LabelCSMerged) &&
		GetMeta(issue.Description, constants.MetaChangesetIntegrated) != "" {
		style.PrintWarning("refusing to abandon %s: already merged with integrated sha", id)
		return nil
	}
	return m.transition(id, constants.LabelCSAbandoned, StatusClosed, "")
}

// SetIntegratedSHA persists the integration sha, write-once. A later
// observation that differs logs a warning and keeps the first value.
// Returns the stored sha.
func (m *Mutator) SetIntegratedSHA(id, sha string) (string, error) {
	if sha == "" {
		return "", fmt.Errorf("empty integration sha for %s", id)
	}
	issue, err := m.store.Show(id)
	if err != nil {
		return "", err
	}

	existing := GetMeta(issue.Description, constants.MetaChangesetIntegrated)
	if existing != "" {
		if existing != sha {
			style.PrintWarning("%s: integrated sha mismatch (recorded %s, observed %s); keeping first",
				id, shortSHA(existing), shortSHA(sha))
		}
		return existing, nil
	}

	desc := SetMeta(issue.Description, MetaKV{Key: constants.MetaChangesetIntegrated, Value: sha})
	if err := m.store.Update(id, beads.UpdateOptions{Description: &desc}); err != nil {
		return "", err
	}
	return sha, nil
}

// UpdateReviewMetadata rewrites the pr_url/pr_number/pr_state/review_owner
// lines in the description, preserving all other content.
func (m *Mutator) UpdateReviewMetadata(id string, meta ReviewMetadata) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	desc := meta.Apply(issue.Description)
	if desc == issue.Description {
		return nil
	}
	return m.store.Update(id, beads.UpdateOptions{Description: &desc})
}

// SetMetaValue rewrites a single metadata line on an issue.
func (m *Mutator) SetMetaValue(id, key, value string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	desc := SetMeta(issue.Description, MetaKV{Key: key, Value: value})
	if desc == issue.Description {
		return nil
	}
	return m.store.Update(id, beads.UpdateOptions{Description: &desc})
}

// AppendPublishPendingNote records a publish diagnostics note on the
// changeset, timestamped so repeated cycles stay distinguishable.
func (m *Mutator) AppendPublishPendingNote(id, detail string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	note := fmt.Sprintf("publish_pending (%s): %s", time.Now().UTC().Format(time.RFC3339), detail)
	desc := AppendNote(issue.Description, note)
	return m.store.Update(id, beads.UpdateOptions{Description: &desc})
}

// PromotePlannedDescendants moves cs:planned descendants of an epic to
// cs:ready. The planned set is snapshotted at entry; children added while
// the promotion runs wait for the next cycle. Returns promoted ids.
func (m *Mutator) PromotePlannedDescendants(epicID string) ([]string, error) {
	descendants, err := m.store.ListDescendantChangesets(epicID)
	if err != nil {
		return nil, err
	}

	var planned []string
	for _, cs := range descendants {
		if beads.HasLabel(cs, constants.LabelCSPlanned) &&
			CanonicalizeStatus(cs.Status) != StatusClosed {
			planned = append(planned, cs.ID)
		}
	}

	var promoted []string
	for _, id := range planned {
		err := m.store.Update(id, beads.UpdateOptions{
			AddLabels:    []string{constants.LabelCSReady},
			RemoveLabels: []string{constants.LabelCSPlanned},
		})
		if err != nil {
			return promoted, err
		}
		promoted = append(promoted, id)
	}
	return promoted, nil
}

// MarkChildrenInProgress moves the open direct work children of an issue to
// in_progress so the epic reflects active planning.
func (m *Mutator) MarkChildrenInProgress(id string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		return err
	}
	for _, childID := range issue.Children {
		child, err := m.store.Show(childID)
		if err != nil {
			if err == beads.ErrNotFound {
				continue
			}
			return err
		}
		if !IsWork(child) {
			continue
		}
		if CanonicalizeStatus(child.Status) != StatusOpen {
			continue
		}
		s := string(StatusInProgress)
		if err := m.store.Update(childID, beads.UpdateOptions{Status: &s}); err != nil {
			return err
		}
	}
	return nil
}

// CloseCompletedContainerChangesets closes non-leaf work descendants of an
// epic whose leaf descendants are all terminal.
func (m *Mutator) CloseCompletedContainerChangesets(epicID string) error {
	epic, err := m.store.Show(epicID)
	if err != nil {
		return err
	}
	for _, childID := range epic.Children {
		if err := m.closeCompletedContainers(childID); err != nil {
			return err
		}
	}
	return nil
}

// closeCompletedContainers returns the first error; completion of a subtree
// is judged by terminal cs: labels on its leaves.
func (m *Mutator) closeCompletedContainers(id string) error {
	issue, err := m.store.Show(id)
	if err != nil {
		if err == beads.ErrNotFound {
			return nil
		}
		return err
	}
	if !IsWork(issue) || len(issue.Children) == 0 {
		return nil
	}

	allTerminal := true
	for _, childID := range issue.Children {
		if err := m.closeCompletedContainers(childID); err != nil {
			return err
		}
		child, err := m.store.Show(childID)
		if err != nil {
			if err == beads.ErrNotFound {
				continue
			}
			return err
		}
		if !IsWork(child) {
			continue
		}
		if len(child.Children) == 0 {
			if !HasTerminalState(child) {
				allTerminal = false
			}
		} else if CanonicalizeStatus(child.Status) != StatusClosed {
			allTerminal = false
		}
	}

	if allTerminal && CanonicalizeStatus(issue.Status) != StatusClosed {
		s := string(StatusClosed)
		return m.store.Update(id, beads.UpdateOptions{Status: &s})
	}
	return nil
}

func shortSHA(sha string) string {
	if len(sha) > 12 {
		return sha[:12]
	}
	return sha
}
