package ticket

import (
	"fmt"

	"github.com/atelier-dev/atelier/internal/beads"
	"github.com/atelier-dev/atelier/internal/constants"
)

// Ternary carries graph facts that may be unknown. Unknown answers drive
// conservative decisions: role checks return false and readiness checks
// return not-ready.
type Ternary int

const (
	Unknown Ternary = iota
	False
	True
)

// TernaryOf converts a known bool into a Ternary.
func TernaryOf(b bool) Ternary {
	if b {
		return True
	}
	return False
}

// nonWorkTypes are issue types that never carry work identity.
var nonWorkTypes = map[string]bool{
	"message": true,
	"agent":   true,
	"policy":  true,
}

// IsWork reports whether an issue is a work bead: a work issue type, or
// the explicit epic identity label.
func IsWork(issue *beads.Issue) bool {
	if issue == nil {
		return false
	}
	if beads.HasLabel(issue, constants.LabelEpic) {
		return true
	}
	if nonWorkTypes[issue.Type] {
		return false
	}
	if beads.IsAgentBead(issue) || beads.HasLabel(issue, constants.LabelMessage) ||
		beads.HasLabel(issue, constants.LabelPolicy) {
		return false
	}
	return true
}

// IsEpic reports whether an issue is a top-level work bead.
func IsEpic(issue *beads.Issue) bool {
	return IsWork(issue) && issue.Parent == ""
}

// IsChangeset reports whether an issue is a leaf work bead. The graph is
// authoritative when hasWorkChildren is known; otherwise labels and type
// give a best-effort answer, and Unknown children means not-a-changeset.
func IsChangeset(issue *beads.Issue, hasWorkChildren Ternary) bool {
	if !IsWork(issue) {
		return false
	}
	switch hasWorkChildren {
	case True:
		return false
	case False:
		return true
	default:
		// Best effort without graph knowledge: trust the informational
		// label, otherwise infer from the recorded children list.
		if beads.HasLabel(issue, constants.LabelChange) {
			return true
		}
		return len(issue.Children) == 0
	}
}

// ChangesetState returns the cs: lifecycle label on an issue, or empty.
func ChangesetState(issue *beads.Issue) string {
	for _, l := range issue.Labels {
		switch l {
		case constants.LabelCSPlanned, constants.LabelCSReady, constants.LabelCSInProgress,
			constants.LabelCSBlocked, constants.LabelCSMerged, constants.LabelCSAbandoned:
			return l
		}
	}
	return ""
}

// HasTerminalState reports whether the changeset carries a terminal
// cs: label (merged or abandoned).
func HasTerminalState(issue *beads.Issue) bool {
	return beads.HasLabel(issue, constants.LabelCSMerged) ||
		beads.HasLabel(issue, constants.LabelCSAbandoned)
}

// DependencyIssueSatisfied decides whether a dependency no longer blocks its
// dependents. The dependency must be closed; under requireIntegrated a
// changeset dependency must additionally show an integration signal
// (cs:merged label or integrated review state).
func DependencyIssueSatisfied(status string, labels []string, requireIntegrated bool,
	reviewState ReviewLifecycle, issueType string, hasWorkChildren Ternary) bool {

	if CanonicalizeStatus(status) != StatusClosed {
		return false
	}
	if !requireIntegrated {
		return true
	}

	probe := &beads.Issue{Type: issueType, Labels: labels}
	if !IsChangeset(probe, hasWorkChildren) {
		return true
	}

	if beads.HasLabel(probe, constants.LabelCSMerged) {
		return true
	}
	return reviewState.IsIntegrated()
}

// RunnableLeaf evaluates whether an issue can be picked up as the next
// changeset to run. It returns rejection reason strings on failure; callers
// surface them but never synthesize success from them.
func RunnableLeaf(issue *beads.Issue, hasWorkChildren Ternary, depsSatisfied Ternary) (bool, []string) {
	var reasons []string

	if issue == nil {
		return false, []string{"status=missing"}
	}
	if !IsChangeset(issue, hasWorkChildren) {
		reasons = append(reasons, "not-leaf-work")
	}
	switch CanonicalizeStatus(issue.Status) {
	case StatusOpen, StatusInProgress:
	case StatusUnknown:
		reasons = append(reasons, "status=missing")
	default:
		reasons = append(reasons, fmt.Sprintf("status=%s", CanonicalizeStatus(issue.Status)))
	}
	if HasTerminalState(issue) {
		reasons = append(reasons, "terminal-state")
	}
	if depsSatisfied != True {
		reasons = append(reasons, "dependencies-unsatisfied")
	}

	return len(reasons) == 0, reasons
}

// EpicClaimable evaluates whether an epic can be claimed by an agent.
// An epic already assigned elsewhere is not claimable here; takeover goes
// through the stale-family reclaim path instead.
func EpicClaimable(issue *beads.Issue, agentID string) (bool, []string) {
	var reasons []string

	if issue == nil {
		return false, []string{"status=missing"}
	}
	if !IsEpic(issue) {
		reasons = append(reasons, "not-epic")
	}
	switch CanonicalizeStatus(issue.Status) {
	case StatusOpen, StatusInProgress:
	default:
		reasons = append(reasons, fmt.Sprintf("status=%s", CanonicalizeStatus(issue.Status)))
	}
	if issue.Assignee != "" && issue.Assignee != agentID {
		reasons = append(reasons, "assigned-elsewhere")
	}

	return len(reasons) == 0, reasons
}
